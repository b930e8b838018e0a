package main

import (
	"context"
	"errors"
	"fmt"
	"io"

	"go.uber.org/zap"

	"github.com/ObiAU/slotwatch/internal/auth"
	"github.com/ObiAU/slotwatch/internal/browser"
	"github.com/ObiAU/slotwatch/internal/config"
	"github.com/ObiAU/slotwatch/internal/dedup"
	"github.com/ObiAU/slotwatch/internal/extractor"
	"github.com/ObiAU/slotwatch/internal/models"
	"github.com/ObiAU/slotwatch/internal/monitor"
)

// app holds the components shared by every command.
type app struct {
	cfg     *config.Config
	logger  *zap.Logger
	store   *dedup.Store
	browser *browser.Manager
	closers []func()
}

func newApp(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*app, error) {
	a := &app{cfg: cfg, logger: logger}

	backend, err := a.dedupBackend(ctx)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.store, err = dedup.Open(ctx, backend, logger)
	if err != nil {
		a.Close()
		return nil, err
	}
	logger.Info("Dedup store ready", zap.String("backend", backend.Name()), zap.Int("notified", a.store.Len()))
	return a, nil
}

func (a *app) dedupBackend(ctx context.Context) (dedup.Backend, error) {
	if a.cfg.Store.PostgresDSN == "" {
		return dedup.NewFileBackend(a.cfg.Store.DataDir), nil
	}
	pool, err := dedup.Connect(ctx, a.cfg.Store.PostgresDSN)
	if err != nil {
		return nil, models.Storage("connect postgres", err)
	}
	a.closers = append(a.closers, pool.Close)
	backend, err := dedup.NewPostgresBackend(ctx, pool, a.logger)
	if err != nil {
		return nil, models.Storage("prepare postgres", err)
	}
	return backend, nil
}

// pipeline wires the pass components around notifier. The browser is
// started lazily on the first pass.
func (a *app) pipeline(notifier monitor.Notifier) *monitor.Pipeline {
	if a.browser == nil {
		a.browser = browser.NewManager(a.cfg.Browser, a.logger)
		a.closers = append(a.closers, func() {
			if err := a.browser.Close(); err != nil {
				a.logger.Warn("Browser shutdown failed", zap.Error(err))
			}
		})
	}
	return monitor.NewPipeline(monitor.PipelineDeps{
		Browser:   a.browser,
		Auth:      auth.New(a.cfg.Site, auth.NewFileStore(a.cfg.Store.DataDir), a.logger),
		Extractor: extractor.New(a.cfg.Layout),
		Dedup:     a.store,
		Notifier:  notifier,
	}, a.cfg.Telegram.AdminChatID, a.cfg.Criteria(), a.logger)
}

// Close releases resources in reverse order of acquisition.
func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}

// printNotifier writes to the terminal. One-shot commands use it in place
// of Telegram.
type printNotifier struct {
	w io.Writer
}

func (p printNotifier) NotifySlots(_ context.Context, _ int64, slots []models.Slot) error {
	for _, s := range slots {
		if _, err := fmt.Fprintln(p.w, "new slot:", s); err != nil {
			return err
		}
	}
	return nil
}

func (p printNotifier) Alert(_ context.Context, _ int64, alert monitor.Alert) error {
	_, err := fmt.Fprintf(p.w, "[%s] %s\n", alert.Level, alert.Text)
	return err
}

func describe(err error) string {
	var ce *models.ChallengeError
	if errors.As(err, &ce) {
		return "challenge: " + ce.Error()
	}
	return fmt.Sprintf("%s: %v", monitor.KindOf(err), err)
}
