package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type latency struct {
	Mean float64 `json:"mean" yaml:"mean"`
	P50  float64 `json:"p50" yaml:"p50"`
	P95  float64 `json:"p95" yaml:"p95"`
	P99  float64 `json:"p99" yaml:"p99"`
}

type callReport struct {
	Calls     int64            `json:"calls" yaml:"calls"`
	Succeeded int64            `json:"succeeded" yaml:"succeeded"`
	Failed    int64            `json:"failed" yaml:"failed"`
	ErrorRate float64          `json:"error_rate" yaml:"error_rate"`
	Outcomes  map[string]int64 `json:"outcomes" yaml:"outcomes"`
	LatencyMs latency          `json:"latency_ms" yaml:"latency_ms"`
}

type report struct {
	StartedAt          time.Time             `json:"started_at" yaml:"started_at"`
	Seconds            float64               `json:"duration_seconds" yaml:"duration_seconds"`
	Scenarios          int64                 `json:"scenarios" yaml:"scenarios"`
	Succeeded          int64                 `json:"succeeded" yaml:"succeeded"`
	Failed             int64                 `json:"failed" yaml:"failed"`
	QueueFull          int64                 `json:"queue_full" yaml:"queue_full"`
	ErrorRate          float64               `json:"error_rate" yaml:"error_rate"`
	RPS                float64               `json:"rps" yaml:"rps"`
	DuplicatePositions int                   `json:"duplicate_positions" yaml:"duplicate_positions"`
	LatencyMs          latency               `json:"scenario_latency_ms" yaml:"scenario_latency_ms"`
	Calls              map[string]callReport `json:"calls" yaml:"calls"`
}

// saveReport пишет отчёт в файл. Формат выбирается по расширению.
func saveReport(path string, r report) error {
	clean := filepath.Clean(path)
	switch {
	case clean == "." || clean == string(filepath.Separator):
		return errors.New("report path must name a file")
	case clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)):
		return fmt.Errorf("report path %s escapes the working directory", path)
	}

	var (
		data []byte
		err  error
	)
	switch strings.ToLower(filepath.Ext(clean)) {
	case ".yaml", ".yml":
		data, err = yaml.Marshal(r)
	default:
		data, err = json.MarshalIndent(r, "", "  ")
	}
	if err != nil {
		return fmt.Errorf("encode report: %w", err)
	}
	return os.WriteFile(clean, data, 0o600)
}

func printReport(w io.Writer, r report, cfg config) {
	_, _ = fmt.Fprintf(w, "loadtest mode=%s run=%s\n", cfg.mode, cfg.target())
	_, _ = fmt.Fprintf(w, "scenarios=%d succeeded=%d failed=%d queue_full=%d error_rate=%.4f\n",
		r.Scenarios, r.Succeeded, r.Failed, r.QueueFull, r.ErrorRate)
	_, _ = fmt.Fprintf(w, "elapsed=%.2fs rps=%.2f duplicate_positions=%d\n", r.Seconds, r.RPS, r.DuplicatePositions)
	_, _ = fmt.Fprintf(w, "scenario ms: mean=%.2f p50=%.2f p95=%.2f p99=%.2f\n",
		r.LatencyMs.Mean, r.LatencyMs.P50, r.LatencyMs.P95, r.LatencyMs.P99)

	names := make([]string, 0, len(r.Calls))
	for name := range r.Calls {
		names = append(names, name)
	}
	slices.Sort(names)
	for _, name := range names {
		c := r.Calls[name]
		_, _ = fmt.Fprintf(w, "  %-14s calls=%d failed=%d p95=%.2fms\n", name, c.Calls, c.Failed, c.LatencyMs.P95)
	}
}
