package telegram

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"

	"github.com/ObiAU/slotwatch/internal/auth"
	"github.com/ObiAU/slotwatch/internal/models"
	"github.com/ObiAU/slotwatch/internal/monitor"
)

const adminChat = 77

type fakeSender struct {
	mu       sync.Mutex
	sent     []tgbotapi.Chattable
	requests []tgbotapi.Chattable
	updates  chan tgbotapi.Update
	stopped  bool
}

func newFakeSender() *fakeSender {
	return &fakeSender{updates: make(chan tgbotapi.Update, 16)}
}

func (s *fakeSender) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, c)
	return tgbotapi.Message{MessageID: len(s.sent)}, nil
}

func (s *fakeSender) Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requests = append(s.requests, c)
	return &tgbotapi.APIResponse{Ok: true}, nil
}

func (s *fakeSender) GetUpdatesChan(tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel {
	return s.updates
}

func (s *fakeSender) StopReceivingUpdates() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopped = true
}

func (s *fakeSender) messages() []tgbotapi.Chattable {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]tgbotapi.Chattable(nil), s.sent...)
}

func (s *fakeSender) texts() []string {
	var out []string
	for _, c := range s.messages() {
		switch m := c.(type) {
		case tgbotapi.MessageConfig:
			out = append(out, m.Text)
		case tgbotapi.EditMessageTextConfig:
			out = append(out, m.Text)
		case tgbotapi.PhotoConfig:
			out = append(out, m.Caption)
		}
	}
	return out
}

func (s *fakeSender) hasText(sub string) bool {
	for _, t := range s.texts() {
		if strings.Contains(t, sub) {
			return true
		}
	}
	return false
}

type fakeController struct {
	mu         sync.Mutex
	running    bool
	resets     int
	testLogins int
	loginErr   error
	resetGate  chan struct{}
}

func (c *fakeController) Start() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	was := c.running
	c.running = true
	return !was
}

func (c *fakeController) Stop() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	was := c.running
	c.running = false
	return was
}

func (c *fakeController) Status() monitor.Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	phase := monitor.Stopped
	if c.running {
		phase = monitor.Running
	}
	return monitor.Status{State: monitor.State{Phase: phase, ChecksCount: 3}, Now: time.Now()}
}

func (c *fakeController) Reset(ctx context.Context) error {
	if c.resetGate != nil {
		select {
		case <-c.resetGate:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.resets++
	return nil
}

func (c *fakeController) TestLogin(context.Context) (auth.Report, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.testLogins++
	return auth.Report{Screenshot: []byte("png"), Elapsed: 4 * time.Second}, c.loginErr
}

func command(chatID int64, text string) tgbotapi.Update {
	cmd := strings.Fields(text)[0]
	return tgbotapi.Update{Message: &tgbotapi.Message{
		MessageID: 1,
		Chat:      &tgbotapi.Chat{ID: chatID},
		Text:      text,
		Entities:  []tgbotapi.MessageEntity{{Type: "bot_command", Offset: 0, Length: len(cmd)}},
	}}
}

func button(chatID int64, data string) tgbotapi.Update {
	return tgbotapi.Update{CallbackQuery: &tgbotapi.CallbackQuery{
		ID:      "cb-1",
		Data:    data,
		Message: &tgbotapi.Message{MessageID: 9, Chat: &tgbotapi.Chat{ID: chatID}},
	}}
}

func serve(t *testing.T, b *Bot, ctrl Controller) func() {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- b.Serve(ctx, ctrl) }()
	return func() {
		cancel()
		select {
		case err := <-done:
			assert.NoError(t, err)
		case <-time.After(2 * time.Second):
			t.Fatal("bot did not stop")
		}
	}
}

func TestNotifySlotsListsSlotsInOrder(t *testing.T) {
	api := newFakeSender()
	b := New(api, adminChat, zap.NewNop())

	slots := []models.Slot{
		models.NewSlot(models.NewDate(2024, time.March, 15), models.NewTimeOfDay(9, 0), "Moscow <VFS>"),
		models.NewSlot(models.NewDate(2024, time.March, 16), models.NewTimeOfDay(10, 30), ""),
	}
	require.NoError(t, b.NotifySlots(context.Background(), adminChat, slots))

	sent := api.messages()
	require.Len(t, sent, 1)
	msg, ok := sent[0].(tgbotapi.MessageConfig)
	require.True(t, ok)
	assert.Equal(t, int64(adminChat), msg.ChatID)
	assert.Equal(t, tgbotapi.ModeHTML, msg.ParseMode)
	assert.Contains(t, msg.Text, "New slots available: 2")
	assert.Contains(t, msg.Text, "15.03.2024 09:00 - Moscow &lt;VFS&gt;")
	assert.Less(t, strings.Index(msg.Text, "15.03.2024"), strings.Index(msg.Text, "16.03.2024 10:30"))

	require.NoError(t, b.NotifySlots(context.Background(), adminChat, nil))
	assert.Len(t, api.messages(), 1)
}

func TestAlertAttachesScreenshot(t *testing.T) {
	api := newFakeSender()
	b := New(api, adminChat, zap.NewNop())

	err := b.Alert(context.Background(), adminChat, monitor.Alert{
		Level:      monitor.AlertWarning,
		Text:       "Human verification challenge detected.",
		Screenshot: []byte("shot"),
	})
	require.NoError(t, err)

	photo, ok := api.messages()[0].(tgbotapi.PhotoConfig)
	require.True(t, ok)
	assert.Equal(t, int64(adminChat), photo.ChatID)
	assert.True(t, strings.HasPrefix(photo.Caption, "⚠️ Human verification"))
	file, ok := photo.File.(tgbotapi.FileBytes)
	require.True(t, ok)
	assert.Equal(t, []byte("shot"), file.Bytes)
}

func TestAlertTextIsEscaped(t *testing.T) {
	api := newFakeSender()
	b := New(api, adminChat, zap.NewNop())

	require.NoError(t, b.Alert(context.Background(), adminChat, monitor.Alert{Level: monitor.AlertFatal, Text: "status <503>"}))
	msg := api.messages()[0].(tgbotapi.MessageConfig)
	assert.Equal(t, "⛔ status &lt;503&gt;", msg.Text)
}

func TestServeRejectsOtherChats(t *testing.T) {
	defer goleak.VerifyNone(t)

	api := newFakeSender()
	ctrl := &fakeController{}
	b := New(api, adminChat, zap.NewNop())
	stop := serve(t, b, ctrl)

	api.updates <- command(999, "/reset")
	api.updates <- button(999, cbStart)
	assert.Eventually(t, func() bool { return len(api.messages()) == 2 }, time.Second, 5*time.Millisecond)
	stop()

	assert.Zero(t, ctrl.resets)
	assert.False(t, ctrl.running)
	for _, text := range api.texts() {
		assert.Equal(t, "This bot only serves its owner.", text)
	}
	assert.True(t, api.stopped)
}

func TestServeOperatorCommands(t *testing.T) {
	defer goleak.VerifyNone(t)

	api := newFakeSender()
	ctrl := &fakeController{}
	b := New(api, adminChat, zap.NewNop())
	stop := serve(t, b, ctrl)
	defer stop()

	api.updates <- button(adminChat, cbStart)
	assert.Eventually(t, func() bool { return api.hasText("Monitoring started") }, time.Second, 5*time.Millisecond)
	assert.True(t, ctrl.Status().State.Phase == monitor.Running)

	api.updates <- button(adminChat, cbStart)
	assert.Eventually(t, func() bool { return api.hasText("already running") }, time.Second, 5*time.Millisecond)

	api.updates <- command(adminChat, "/status")
	assert.Eventually(t, func() bool { return api.hasText("State: running") }, time.Second, 5*time.Millisecond)

	api.updates <- command(adminChat, "/reset")
	assert.Eventually(t, func() bool { return api.hasText("Notified set cleared") }, time.Second, 5*time.Millisecond)
	assert.Equal(t, 1, ctrl.resets)

	api.updates <- command(adminChat, "/test_login")
	assert.Eventually(t, func() bool { return api.hasText("Screenshot after the login attempt.") }, time.Second, 5*time.Millisecond)
	assert.True(t, api.hasText("Login succeeded in 4 seconds"))

	api.updates <- button(adminChat, cbStop)
	assert.Eventually(t, func() bool { return api.hasText("Monitoring stopped") }, time.Second, 5*time.Millisecond)
	assert.False(t, ctrl.running)

	api.mu.Lock()
	defer api.mu.Unlock()
	require.NotEmpty(t, api.requests)
	cb, ok := api.requests[0].(tgbotapi.CallbackConfig)
	require.True(t, ok)
	assert.Equal(t, "cb-1", cb.CallbackQueryID)
}

func TestResetDoesNotBlockOtherCommands(t *testing.T) {
	defer goleak.VerifyNone(t)

	api := newFakeSender()
	ctrl := &fakeController{resetGate: make(chan struct{})}
	b := New(api, adminChat, zap.NewNop())
	stop := serve(t, b, ctrl)
	defer stop()

	// Reset waits behind a running pass; status and stop must still answer.
	api.updates <- command(adminChat, "/reset")
	api.updates <- command(adminChat, "/status")
	assert.Eventually(t, func() bool { return api.hasText("State: stopped") }, time.Second, 5*time.Millisecond)
	api.updates <- button(adminChat, cbStop)
	assert.Eventually(t, func() bool { return api.hasText("Monitoring is not running.") }, time.Second, 5*time.Millisecond)
	assert.False(t, api.hasText("Notified set cleared"))

	close(ctrl.resetGate)
	assert.Eventually(t, func() bool { return api.hasText("Notified set cleared") }, time.Second, 5*time.Millisecond)
}

func TestTestLoginReportsRejection(t *testing.T) {
	defer goleak.VerifyNone(t)

	api := newFakeSender()
	ctrl := &fakeController{loginErr: models.ErrCredentials}
	b := New(api, adminChat, zap.NewNop())
	stop := serve(t, b, ctrl)
	defer stop()

	api.updates <- command(adminChat, "/start")
	assert.Eventually(t, func() bool { return api.hasText("Login rejected") }, time.Second, 5*time.Millisecond)
	assert.True(t, api.hasText("Slot monitor ready"))
}

func TestStatusText(t *testing.T) {
	now := time.Date(2024, time.March, 1, 9, 0, 0, 0, time.UTC)
	text := statusText(monitor.Status{
		Now:      now,
		Notified: 5,
		State: monitor.State{
			Phase:               monitor.Backoff,
			ConsecutiveFailures: 2,
			Until:               now.Add(5 * time.Minute),
			LastCheckAt:         now.Add(-90 * time.Second),
			LastError:           errors.New("site unavailable: status <503>").Error(),
			LastErrorKind:       monitor.KindUnavailable,
			ChecksCount:         12,
		},
	})

	assert.Contains(t, text, "State: backoff")
	assert.Contains(t, text, "Checks: 12")
	assert.Contains(t, text, "Slots remembered: 5")
	assert.Contains(t, text, "Consecutive failures: 2")
	assert.Contains(t, text, "(1 minute 30 seconds ago)")
	assert.Contains(t, text, "Resumes in: 5 minutes")
	assert.Contains(t, text, "Last error (unavailable): <code>site unavailable: status &lt;503&gt;</code>")
	assert.NotContains(t, text, "Next check")
}
