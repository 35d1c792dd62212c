package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"icalfeed/internal/model"
)

const sample = "BEGIN:VCALENDAR\r\n" +
	"BEGIN:VEVENT\r\n" +
	"UID:yoga\r\n" +
	"SUMMARY:Yoga\r\n" +
	"DTSTART:20240101T070000Z\r\n" +
	"DTEND:20240101T080000Z\r\n" +
	"RRULE:FREQ=WEEKLY;COUNT=4\r\n" +
	"END:VEVENT\r\n" +
	"garbage\r\n" +
	"END:VCALENDAR\r\n"

func writeSample(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "sample.ics")
	require.NoError(t, os.WriteFile(path, []byte(sample), 0o600))
	return path
}

func run(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	root := newRootCmd("test")
	root.SetOut(&out)
	root.SetErr(&bytes.Buffer{})
	root.SetIn(strings.NewReader(stdin))
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func TestParseCommand(t *testing.T) {
	path := writeSample(t)

	out, err := run(t, "", "parse", path)
	require.NoError(t, err)
	var cal map[string]map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &cal))
	assert.Equal(t, "Yoga", cal["yoga"]["summary"])

	out, err = run(t, "", "parse", "--stats", "-f", "yaml", path)
	require.NoError(t, err)
	assert.Contains(t, out, "skipped: 1")

	out, err = run(t, sample, "parse", "-", "--chunk-size", "1")
	require.NoError(t, err)
	assert.Contains(t, out, `"yoga"`)

	_, err = run(t, "", "parse", "-f", "xml", path)
	assert.Error(t, err)

	_, err = run(t, "", "parse", filepath.Join(t.TempDir(), "missing.ics"))
	assert.Error(t, err)
}

func TestGenerateCommand(t *testing.T) {
	path := writeSample(t)

	out, err := run(t, "", "generate", path)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out, "BEGIN:VCALENDAR\r\n"))
	assert.Contains(t, out, "RRULE:FREQ=WEEKLY;COUNT=4\r\n")
	assert.NotContains(t, out, "garbage")

	out, err = run(t, "", "generate", "--strict", path)
	require.NoError(t, err)
	assert.Contains(t, out, "PRODID:-//icalfeed//")
}

func TestExpandCommand(t *testing.T) {
	path := writeSample(t)

	out, err := run(t, "", "expand", "--tz", "UTC", "--from", "2024-01-01", "--days", "15", path)
	require.NoError(t, err)
	var occ []model.Occurrence
	require.NoError(t, json.Unmarshal([]byte(out), &occ))
	require.Len(t, occ, 3)
	assert.Equal(t, "sample.ics", occ[0].SourceID)
	assert.Equal(t, 15, occ[2].Start.Day())

	_, err = run(t, "", "expand", "--from", "January", path)
	assert.Error(t, err)
	_, err = run(t, "", "expand", "--tz", "Nowhere/Town", path)
	assert.Error(t, err)
}

func TestServeOnce(t *testing.T) {
	path := writeSample(t)
	cfgPath := filepath.Join(t.TempDir(), "config.yaml")
	cfg := "cache_dir: \"\"\nsources:\n  - id: sample\n    url: " + path + "\n"
	require.NoError(t, os.WriteFile(cfgPath, []byte(cfg), 0o600))

	_, err := run(t, "", "serve", "--once", "--config", cfgPath)
	assert.NoError(t, err)

	bad := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(bad, []byte("sources:\n  - id: x\n"), 0o600))
	_, err = run(t, "", "serve", "--once", "--config", bad)
	assert.Error(t, err)
}
