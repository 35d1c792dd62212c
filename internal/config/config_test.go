package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
	_ "time/tzdata"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadCreatesDefault(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	again, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, cfg, again)
}

func TestLoadNormalizesPartialFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
timezone: Europe/Berlin
chunk_size: 0
sources:
  - id: work
    url: https://example.com/work.ics
  - name: Holidays
    url: ./holidays.ics
`), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:8080", cfg.Listen)
	assert.Equal(t, "*/15 * * * *", cfg.RefreshCron)
	assert.Equal(t, 2000, cfg.ChunkSize)
	assert.Equal(t, 7, cfg.HorizonDays)
	assert.Equal(t, 5000, cfg.MaxOccurrences)
	require.Len(t, cfg.Sources, 2)
	assert.Equal(t, "work", cfg.Sources[0].Key())
	assert.Equal(t, "Holidays", cfg.Sources[1].Key())
	assert.NoError(t, cfg.Validate())
	assert.Equal(t, "Europe/Berlin", cfg.Location().String())
}

func TestLoadRejectsBadYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("sources: [unclosed"), 0o600))

	_, err := Load(path)
	assert.Error(t, err)

	_, err = Load("")
	assert.Error(t, err)
}

func TestSaveRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	cfg := DefaultConfig()
	cfg.Sources = append(cfg.Sources, SourceConfig{ID: "a", URL: "webcal://example.com/a.ics"})
	cfg.BasicAuth = &BasicAuthConfig{Username: "u", Password: "p"}
	require.NoError(t, cfg.Save(path))

	got, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, cfg, got)

	assert.Error(t, Save(path, nil))
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr string
	}{
		{"ok", Config{Sources: []SourceConfig{{ID: "a", URL: "x.ics"}}}, ""},
		{"bad zone", Config{Timezone: "Mars/Olympus"}, "timezone"},
		{"descriptor schedule", Config{RefreshCron: "@every 30m"}, ""},
		{"bad schedule", Config{RefreshCron: "every now and then"}, "refresh"},
		{"missing url", Config{Sources: []SourceConfig{{ID: "a"}}}, "url is empty"},
		{"duplicate", Config{Sources: []SourceConfig{{ID: "a", URL: "1"}, {ID: "a", URL: "2"}}}, "duplicate"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestLocationFallsBackToLocal(t *testing.T) {
	assert.Equal(t, time.Local, (&Config{}).Location())
	assert.Equal(t, time.Local, (&Config{Timezone: "Nowhere/Special"}).Location())
}
