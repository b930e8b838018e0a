package main

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ObiAU/slotwatch/internal/dedup"
	"github.com/ObiAU/slotwatch/internal/models"
	"github.com/ObiAU/slotwatch/internal/monitor"
)

func writeTestConfig(t *testing.T, dataDir string) string {
	t.Helper()
	body := fmt.Sprintf(`
telegram:
  token: "123:abc"
  admin_chat_id: 4242
site:
  login_url: https://booking.example/login
  booking_url: https://booking.example/calendar
  email: operator@example.com
  password: hunter2
store:
  data_dir: %q
logger:
  level: warn
`, dataDir)
	path := filepath.Join(t.TempDir(), "slotwatch.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out, errOut bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestResetCommandClearsNotifiedSet(t *testing.T) {
	dataDir := t.TempDir()
	ctx := context.Background()

	store, err := dedup.Open(ctx, dedup.NewFileBackend(dataDir), zap.NewNop())
	require.NoError(t, err)
	slot := models.NewSlot(models.NewDate(2024, time.March, 15), models.NewTimeOfDay(9, 0), "")
	require.NoError(t, store.MarkNotified(ctx, []models.Slot{slot}))

	out, err := execute(t, "--config", writeTestConfig(t, dataDir), "reset")
	require.NoError(t, err)
	assert.Equal(t, "cleared 1 notified slots\n", out)

	reopened, err := dedup.Open(ctx, dedup.NewFileBackend(dataDir), zap.NewNop())
	require.NoError(t, err)
	assert.True(t, reopened.IsNew(slot))
}

func TestInvalidConfigIsReported(t *testing.T) {
	t.Setenv("SLOTWATCH_MONITOR_CHECK_INTERVAL", "5s")

	_, err := execute(t, "--config", writeTestConfig(t, t.TempDir()), "check")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "monitor.check_interval must be at least 30s")
}

func TestPrintNotifier(t *testing.T) {
	var buf bytes.Buffer
	p := printNotifier{w: &buf}
	slot := models.NewSlot(models.NewDate(2024, time.March, 15), models.NewTimeOfDay(9, 0), "")

	require.NoError(t, p.NotifySlots(context.Background(), 1, []models.Slot{slot}))
	require.NoError(t, p.Alert(context.Background(), 1, monitor.Alert{Level: monitor.AlertWarning, Text: "paused"}))
	assert.Equal(t, "new slot: 2024-03-15 09:00\n[warning] paused\n", buf.String())
}

func TestDescribe(t *testing.T) {
	assert.Equal(t, "credentials: credentials rejected", describe(models.ErrCredentials))
	assert.Contains(t, describe(&models.ChallengeError{URL: "https://booking.example/login"}), "challenge: ")
}
