package telegram

import (
	"context"
	"fmt"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/hako/durafmt"

	"github.com/ObiAU/slotwatch/internal/models"
	"github.com/ObiAU/slotwatch/internal/monitor"
)

var _ monitor.Notifier = (*Bot)(nil)

// NotifySlots sends one message listing every slot in order.
func (b *Bot) NotifySlots(_ context.Context, operator int64, slots []models.Slot) error {
	if len(slots) == 0 {
		return nil
	}
	return b.sendMessage(operator, slotsText(slots), nil)
}

// Alert sends text, as a photo caption when a screenshot is attached.
func (b *Bot) Alert(_ context.Context, operator int64, alert monitor.Alert) error {
	text := levelIcon(alert.Level) + " " + alert.Text
	if len(alert.Screenshot) > 0 {
		return b.sendPhoto(operator, text, alert.Screenshot)
	}
	return b.sendMessage(operator, escape(text), nil)
}

func levelIcon(level monitor.AlertLevel) string {
	switch level {
	case monitor.AlertFatal:
		return "⛔"
	case monitor.AlertWarning:
		return "⚠️"
	}
	return "ℹ️"
}

func slotsText(slots []models.Slot) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "🗓 <b>New slots available: %d</b>\n\n", len(slots))
	for _, s := range slots {
		sb.WriteString(s.Date.Time().Format("02.01.2006"))
		sb.WriteString(" ")
		sb.WriteString(s.Time.String())
		if s.RawLabel != "" {
			sb.WriteString(" - ")
			sb.WriteString(escape(s.RawLabel))
		}
		sb.WriteString("\n")
	}
	return strings.TrimRight(sb.String(), "\n")
}

func statusText(st monitor.Status) string {
	s := st.State
	var sb strings.Builder
	sb.WriteString("📊 <b>Monitoring status</b>\n")
	fmt.Fprintf(&sb, "State: %s\n", s.Phase)
	fmt.Fprintf(&sb, "Checks: %d\n", s.ChecksCount)
	fmt.Fprintf(&sb, "Slots found: %d\n", s.SlotsFoundTotal)
	fmt.Fprintf(&sb, "Slots remembered: %d\n", st.Notified)
	fmt.Fprintf(&sb, "Consecutive failures: %d\n", s.ConsecutiveFailures)

	if !s.LastCheckAt.IsZero() {
		fmt.Fprintf(&sb, "Last check: %s (%s ago)\n", s.LastCheckAt.Format(time.DateTime), durationText(st.Now.Sub(s.LastCheckAt)))
	}
	switch s.Phase {
	case monitor.Running:
		if !s.NextCheckAt.IsZero() {
			fmt.Fprintf(&sb, "Next check in: %s\n", durationText(s.NextCheckAt.Sub(st.Now)))
		}
	case monitor.Paused, monitor.Backoff:
		fmt.Fprintf(&sb, "Resumes in: %s\n", durationText(s.Until.Sub(st.Now)))
	}
	if s.LastError != "" {
		fmt.Fprintf(&sb, "Last error (%s): <code>%s</code>\n", s.LastErrorKind, escape(s.LastError))
	}
	return strings.TrimRight(sb.String(), "\n")
}

func durationText(d time.Duration) string {
	d = d.Round(time.Second)
	if d <= 0 {
		return "now"
	}
	return durafmt.Parse(d).LimitFirstN(2).String()
}

func escape(s string) string {
	return tgbotapi.EscapeText(tgbotapi.ModeHTML, s)
}
