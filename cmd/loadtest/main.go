// Команда loadtest нагружает HTTP API сценариями жизненного цикла заказа
// и печатает сводку по задержкам и отказам.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"
)

type loadMode string

const (
	modeCreate         loadMode = "create"
	modeCreateComplete loadMode = "create-complete"
	modeCreateCancel   loadMode = "create-cancel"
	modeCreateTrack    loadMode = "create-track"
)

type config struct {
	baseURL     string
	total       int
	capped      bool // -total задан явно вместе с -duration
	duration    time.Duration
	concurrency int
	timeout     time.Duration
	mode        loadMode
	customers   []string
	shopID      string
	menuItemID  string
	quantity    int
	outputPath  string
}

func parseConfig(args []string) (config, error) {
	cfg := config{}
	var mode, customers string

	fs := flag.NewFlagSet("loadtest", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	fs.StringVar(&cfg.baseURL, "url", "http://localhost:8080", "API base URL")
	fs.IntVar(&cfg.total, "total", 400, "scenarios to run; with -duration acts as an upper bound")
	fs.DurationVar(&cfg.duration, "duration", 0, "run for this long instead of a fixed count")
	fs.IntVar(&cfg.concurrency, "concurrency", 40, "parallel workers")
	fs.DurationVar(&cfg.timeout, "timeout", 5*time.Second, "per-request timeout")
	fs.StringVar(&mode, "mode", string(modeCreate), "create | create-complete | create-cancel | create-track")
	fs.StringVar(&customers, "customers", "alice,bob", "customer ids, comma-separated")
	fs.StringVar(&cfg.shopID, "shop", "downtown", "coffee shop id")
	fs.StringVar(&cfg.menuItemID, "item", "latte", "menu item id")
	fs.IntVar(&cfg.quantity, "qty", 1, "quantity per order")
	fs.StringVar(&cfg.outputPath, "output", "", "write the report to this file (.json, .yaml or .yml)")
	if err := fs.Parse(args); err != nil {
		return config{}, err
	}
	fs.Visit(func(f *flag.Flag) { cfg.capped = cfg.capped || f.Name == "total" })

	m, err := parseMode(mode)
	if err != nil {
		return config{}, err
	}
	cfg.mode = m
	cfg.baseURL = strings.TrimRight(strings.TrimSpace(cfg.baseURL), "/")
	cfg.customers = splitList(customers)
	cfg.shopID = strings.TrimSpace(cfg.shopID)
	cfg.menuItemID = strings.TrimSpace(cfg.menuItemID)

	if err := cfg.validate(); err != nil {
		return config{}, err
	}
	return cfg, nil
}

func (c config) validate() error {
	var errs []error
	if c.baseURL == "" {
		errs = append(errs, errors.New("url is empty"))
	}
	if c.duration < 0 {
		errs = append(errs, errors.New("duration is negative"))
	}
	if (c.duration == 0 || c.capped) && c.total <= 0 {
		errs = append(errs, errors.New("total must be positive"))
	}
	if c.concurrency <= 0 || c.timeout <= 0 || c.quantity <= 0 {
		errs = append(errs, errors.New("concurrency, timeout and qty must be positive"))
	}
	if len(c.customers) == 0 || c.shopID == "" || c.menuItemID == "" {
		errs = append(errs, errors.New("customers, shop and item are required"))
	}
	return errors.Join(errs...)
}

func parseMode(value string) (loadMode, error) {
	m := loadMode(strings.TrimSpace(value))
	if _, ok := plans[m]; !ok {
		return "", fmt.Errorf("unsupported mode: %s", value)
	}
	return m, nil
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// target описывает границу прогона для сводки.
func (c config) target() string {
	switch {
	case c.duration <= 0:
		return fmt.Sprintf("count:%d", c.total)
	case c.capped:
		return fmt.Sprintf("duration:%s,max-total:%d", c.duration, c.total)
	default:
		return fmt.Sprintf("duration:%s", c.duration)
	}
}

func main() {
	cfg, err := parseConfig(os.Args[1:])
	if err != nil {
		exit("invalid config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	result, err := runLoad(ctx, cfg, &http.Client{Timeout: cfg.timeout})
	if err != nil && !errors.Is(err, context.Canceled) {
		exit("load test failed: %v", err)
	}

	printReport(os.Stdout, result, cfg)
	if cfg.outputPath != "" {
		if err := saveReport(cfg.outputPath, result); err != nil {
			exit("save report: %v", err)
		}
	}
	if result.Failed > 0 || result.DuplicatePositions > 0 {
		os.Exit(1)
	}
}

func exit(format string, args ...any) {
	_, _ = fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}
