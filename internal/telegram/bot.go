package telegram

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"

	"github.com/ObiAU/slotwatch/internal/auth"
	"github.com/ObiAU/slotwatch/internal/monitor"
)

const (
	cbStart  = "start_monitoring"
	cbStop   = "stop_monitoring"
	cbStatus = "status"

	pollTimeout = 30
)

// Sender is the subset of *tgbotapi.BotAPI the bot uses.
type Sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
	GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel
	StopReceivingUpdates()
}

// Controller is the operator command surface of the monitor.
type Controller interface {
	Start() bool
	Stop() bool
	Status() monitor.Status
	Reset(ctx context.Context) error
	TestLogin(ctx context.Context) (auth.Report, error)
}

type Bot struct {
	api    Sender
	admin  int64
	logger *zap.Logger
	now    func() time.Time

	// wg tracks long-running commands started from the update loop.
	wg sync.WaitGroup
}

func NewBot(token string, admin int64, logger *zap.Logger) (*Bot, error) {
	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("create telegram bot: %w", err)
	}
	logger.Info("Telegram bot authorised", zap.String("username", api.Self.UserName))
	return New(api, admin, logger), nil
}

func New(api Sender, admin int64, logger *zap.Logger) *Bot {
	return &Bot{
		api:    api,
		admin:  admin,
		logger: logger.Named("telegram"),
		now:    time.Now,
	}
}

// Serve long-polls for updates and dispatches operator commands to ctrl
// until ctx is cancelled.
func (b *Bot) Serve(ctx context.Context, ctrl Controller) error {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = pollTimeout
	updates := b.api.GetUpdatesChan(u)
	defer b.wg.Wait()
	defer b.api.StopReceivingUpdates()

	b.logger.Info("Polling for updates", zap.Int64("admin_chat_id", b.admin))
	for {
		select {
		case <-ctx.Done():
			return nil
		case update, ok := <-updates:
			if !ok {
				return nil
			}
			b.handleUpdate(ctx, ctrl, update)
		}
	}
}

func (b *Bot) handleUpdate(ctx context.Context, ctrl Controller, update tgbotapi.Update) {
	switch {
	case update.CallbackQuery != nil:
		b.handleCallback(ctx, ctrl, update.CallbackQuery)
	case update.Message != nil && update.Message.Chat != nil:
		b.handleMessage(ctx, ctrl, update.Message)
	}
}

func (b *Bot) authorised(chatID int64) bool {
	if chatID == b.admin {
		return true
	}
	b.logger.Warn("Rejected update from unknown chat", zap.String("event", "unauthorised"), zap.Int64("chat_id", chatID))
	b.sendMessage(chatID, "This bot only serves its owner.", nil)
	return false
}

func (b *Bot) handleMessage(ctx context.Context, ctrl Controller, msg *tgbotapi.Message) {
	chatID := msg.Chat.ID
	if !b.authorised(chatID) {
		return
	}
	if !msg.IsCommand() {
		b.sendMessage(chatID, "Unknown command. Use /help for available commands.", nil)
		return
	}

	b.logger.Info("Operator command", zap.String("event", "command"), zap.String("command", msg.Command()))
	switch msg.Command() {
	case "start":
		b.handleStart(ctx, ctrl, chatID)
	case "status":
		b.sendMessage(chatID, statusText(ctrl.Status()), keyboard())
	case "test_login":
		b.sendMessage(chatID, "Trying to log in, please wait...", nil)
		b.background(func() { b.reportLogin(ctx, ctrl, chatID) })
	case "reset":
		b.background(func() { b.handleReset(ctx, ctrl, chatID) })
	case "help":
		b.sendMessage(chatID, helpText, nil)
	default:
		b.sendMessage(chatID, "Unknown command. Use /help for available commands.", nil)
	}
}

func (b *Bot) handleStart(ctx context.Context, ctrl Controller, chatID int64) {
	b.sendMessage(chatID, `👋 Slot monitor ready.

Use the buttons below to control monitoring.
/test_login checks the site credentials on demand.

Checking the credentials now...`, keyboard())
	b.background(func() { b.reportLogin(ctx, ctrl, chatID) })
}

func (b *Bot) handleReset(ctx context.Context, ctrl Controller, chatID int64) {
	err := ctrl.Reset(ctx)
	if ctx.Err() != nil {
		return
	}
	if err != nil {
		b.sendMessage(chatID, fmt.Sprintf("❌ Could not clear the notified set: <code>%s</code>", escape(err.Error())), nil)
		return
	}
	b.sendMessage(chatID, "🧹 Notified set cleared. Slots already seen will be reported again.", nil)
}

func (b *Bot) handleCallback(ctx context.Context, ctrl Controller, cb *tgbotapi.CallbackQuery) {
	if cb.Message == nil || cb.Message.Chat == nil {
		return
	}
	chatID := cb.Message.Chat.ID
	if !b.authorised(chatID) {
		return
	}
	if _, err := b.api.Request(tgbotapi.NewCallback(cb.ID, "")); err != nil {
		b.logger.Warn("Failed to answer callback", zap.Error(err))
	}

	var text string
	switch cb.Data {
	case cbStart:
		text = "Monitoring started ✅"
		if !ctrl.Start() {
			text = "Monitoring is already running."
		}
	case cbStop:
		text = "Monitoring stopped ⏹"
		if !ctrl.Stop() {
			text = "Monitoring is not running."
		}
	case cbStatus:
		text = statusText(ctrl.Status())
	default:
		b.logger.Warn("Unknown callback", zap.String("data", cb.Data))
		return
	}
	b.logger.Info("Operator command", zap.String("event", "command"), zap.String("command", cb.Data))

	edit := tgbotapi.NewEditMessageTextAndMarkup(chatID, cb.Message.MessageID, text, keyboard())
	edit.ParseMode = tgbotapi.ModeHTML
	if _, err := b.api.Send(edit); err != nil && !isNotModified(err) {
		b.logger.Warn("Failed to edit message", zap.Error(err))
	}
}

func (b *Bot) reportLogin(ctx context.Context, ctrl Controller, chatID int64) {
	report, err := ctrl.TestLogin(ctx)
	if ctx.Err() != nil {
		return
	}

	var text string
	switch monitor.KindOf(err) {
	case monitor.KindSuccess:
		text = fmt.Sprintf("✅ Login succeeded in %s.", durationText(report.Elapsed))
	case monitor.KindCredentials:
		text = "❌ Login rejected. Check the email and password."
	case monitor.KindChallenge:
		text = "⚠️ A human verification challenge appeared during login. It has to be passed manually in the browser."
	default:
		text = fmt.Sprintf("❌ Login check failed: <code>%s</code>", escape(err.Error()))
	}
	b.sendMessage(chatID, text, nil)

	if len(report.Screenshot) > 0 {
		b.sendPhoto(chatID, "Screenshot after the login attempt.", report.Screenshot)
	}
}

func (b *Bot) background(fn func()) {
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		fn()
	}()
}

func keyboard() tgbotapi.InlineKeyboardMarkup {
	return tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(tgbotapi.NewInlineKeyboardButtonData("▶️ Start monitoring", cbStart)),
		tgbotapi.NewInlineKeyboardRow(tgbotapi.NewInlineKeyboardButtonData("⏹ Stop", cbStop)),
		tgbotapi.NewInlineKeyboardRow(tgbotapi.NewInlineKeyboardButtonData("ℹ️ Status", cbStatus)),
	)
}

const helpText = `Slot monitor help 📖

Commands:
/start - Show the control buttons and check the credentials
/status - Show the monitoring status
/test_login - Log in with the configured credentials and send a screenshot
/reset - Forget every slot already reported
/help - Show this help`

func (b *Bot) sendMessage(chatID int64, text string, markup any) error {
	msg := tgbotapi.NewMessage(chatID, text)
	msg.ParseMode = tgbotapi.ModeHTML
	msg.DisableWebPagePreview = true
	if markup != nil {
		msg.ReplyMarkup = markup
	}

	if _, err := b.api.Send(msg); err != nil {
		b.logger.Warn("Failed to send telegram message", zap.Int64("chat_id", chatID), zap.Error(err))
		return fmt.Errorf("send message: %w", err)
	}
	return nil
}

// maxCaption is the Bot API limit on photo captions.
const maxCaption = 1024

func (b *Bot) sendPhoto(chatID int64, caption string, png []byte) error {
	photo := tgbotapi.NewPhoto(chatID, tgbotapi.FileBytes{Name: "screenshot.png", Bytes: png})
	if r := []rune(caption); len(r) > maxCaption {
		caption = string(r[:maxCaption-1]) + "…"
	}
	photo.Caption = caption

	if _, err := b.api.Send(photo); err != nil {
		b.logger.Warn("Failed to send telegram photo", zap.Int64("chat_id", chatID), zap.Error(err))
		return fmt.Errorf("send photo: %w", err)
	}
	return nil
}

func isNotModified(err error) bool {
	return strings.Contains(err.Error(), "message is not modified")
}
