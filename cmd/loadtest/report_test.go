package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestSaveReport(t *testing.T) {
	dir := t.TempDir()
	in := report{Scenarios: 3, Calls: map[string]callReport{"CreateOrder": {Calls: 3}}}

	jsonPath := filepath.Join(dir, "report.json")
	require.NoError(t, saveReport(jsonPath, in))
	raw, err := os.ReadFile(jsonPath)
	require.NoError(t, err)
	var fromJSON report
	require.NoError(t, json.Unmarshal(raw, &fromJSON))
	require.EqualValues(t, 3, fromJSON.Scenarios)

	yamlPath := filepath.Join(dir, "report.yaml")
	require.NoError(t, saveReport(yamlPath, in))
	raw, err = os.ReadFile(yamlPath)
	require.NoError(t, err)
	require.Contains(t, string(raw), "scenarios: 3")
	var fromYAML report
	require.NoError(t, yaml.Unmarshal(raw, &fromYAML))
	require.EqualValues(t, 3, fromYAML.Calls["CreateOrder"].Calls)

	require.Error(t, saveReport("../outside.json", report{}))
	require.Error(t, saveReport(".", report{}))
}

func TestPrintReport(t *testing.T) {
	var buf bytes.Buffer
	printReport(&buf, report{
		Scenarios: 2,
		Succeeded: 1,
		QueueFull: 1,
		Calls: map[string]callReport{
			"UpdateStatus": {Calls: 1},
			"CreateOrder":  {Calls: 2, Succeeded: 1},
		},
	}, config{mode: modeCreate, total: 2})

	out := buf.String()
	require.Contains(t, out, "loadtest mode=create run=count:2")
	require.Contains(t, out, "queue_full=1")
	require.Less(t, bytes.Index(buf.Bytes(), []byte("CreateOrder")), bytes.Index(buf.Bytes(), []byte("UpdateStatus")))
}
