package logging

import (
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLogFormatter_Format(t *testing.T) {
	entry := &log.Entry{
		Logger:  log.New(),
		Time:    time.Date(2026, 10, 15, 9, 30, 0, 0, time.UTC),
		Level:   log.WarnLevel,
		Message: "agent failed\n",
		Data: log.Fields{
			"request_id": "a1b2c3d4",
			"session_id": "s-1",
			"agent_id":   "faq",
		},
	}

	out, err := (&LogFormatter{}).Format(entry)
	require.NoError(t, err)
	assert.Equal(t, "[2026-10-15 09:30:00] [a1b2c3d4] [warn ] agent failed | agent_id=faq, session_id=s-1\n", string(out))
}

func TestLogFormatter_NoRequestID(t *testing.T) {
	entry := &log.Entry{
		Logger:  log.New(),
		Time:    time.Date(2026, 10, 15, 9, 30, 0, 0, time.UTC),
		Level:   log.InfoLevel,
		Message: "started",
		Data:    log.Fields{},
		Caller:  &runtime.Frame{File: "/src/internal/dispatch/dispatcher.go", Line: 42},
	}

	out, err := (&LogFormatter{}).Format(entry)
	require.NoError(t, err)
	assert.Equal(t, "[2026-10-15 09:30:00] [--------] [info ] [dispatcher.go:42] started\n", string(out))
}

func TestConfigureLogOutput_File(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "logs")
	require.NoError(t, ConfigureLogOutput(true, dir, 1))
	t.Cleanup(Close)

	log.Info("written to file")

	data, err := os.ReadFile(filepath.Join(dir, "main.log"))
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(data), "written to file"))

	require.NoError(t, ConfigureLogOutput(false, dir, 1))
}
