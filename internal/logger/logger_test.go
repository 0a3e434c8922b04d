package logger

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestNew_WritesDailyJSONFile(t *testing.T) {
	dir := t.TempDir()
	prev := zap.L()
	t.Cleanup(func() { zap.ReplaceGlobals(prev) })

	log, err := New(Options{Dir: dir, Level: "info"})
	require.NoError(t, err)
	log.Infow("tenant provisioned", "tenant", "acme")
	log.Debugw("hidden at info")
	require.NoError(t, log.Sync())

	b, err := os.ReadFile(filepath.Join(dir, time.Now().Format("2006-01-02")+".log"))
	require.NoError(t, err)
	out := string(b)
	assert.Contains(t, out, `"msg":"tenant provisioned"`)
	assert.Contains(t, out, `"tenant":"acme"`)
	assert.False(t, strings.Contains(out, "hidden at info"))
}

func TestNew_BadLevel(t *testing.T) {
	_, err := New(Options{Dir: t.TempDir(), Level: "chatty"})
	assert.Error(t, err)
}
