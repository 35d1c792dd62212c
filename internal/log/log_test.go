package log

import (
	"bytes"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	SetOutput(&buf)
	SetLevel(LevelInfo)
	t.Cleanup(func() { SetLevel(LevelInfo) })

	Debug("hidden", "k", 1)
	assert.Empty(t, buf.String())

	Info("visible", "source", "home")
	assert.Contains(t, buf.String(), "msg=visible")
	assert.Contains(t, buf.String(), "source=home")

	buf.Reset()
	SetLevel(LevelDebug)
	Debug("now shown")
	assert.Contains(t, buf.String(), "now shown")
}

func TestErrorIncludesErr(t *testing.T) {
	var buf bytes.Buffer
	SetOutput(&buf)

	Error("fetch failed", errors.New("boom"), "id", "work")
	out := buf.String()
	assert.Contains(t, out, "level=ERROR")
	assert.Contains(t, out, "err=boom")
	assert.Contains(t, out, "id=work")
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, LevelDebug, ParseLevel("debug"))
	assert.Equal(t, LevelError, ParseLevel(" ERROR "))
	assert.Equal(t, LevelInfo, ParseLevel("verbose"))
	assert.Equal(t, LevelInfo, ParseLevel(""))
}
