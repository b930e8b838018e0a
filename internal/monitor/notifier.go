package monitor

import (
	"context"

	"github.com/ObiAU/slotwatch/internal/models"
)

type AlertLevel string

const (
	AlertInfo    AlertLevel = "info"
	AlertWarning AlertLevel = "warning"
	AlertFatal   AlertLevel = "fatal"
)

type Alert struct {
	Level      AlertLevel
	Text       string
	Screenshot []byte
}

// Notifier delivers messages to the operator. Delivery is best effort: the
// monitor logs a failure and never retries.
type Notifier interface {
	NotifySlots(ctx context.Context, operator int64, slots []models.Slot) error
	Alert(ctx context.Context, operator int64, alert Alert) error
}
