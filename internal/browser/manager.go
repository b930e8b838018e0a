package browser

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/chromedp/chromedp"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/ObiAU/slotwatch/internal/models"
)

const shutdownGracePeriod = 15 * time.Second

// Manager owns the browser connection and hands out one tab per pass.
// In launch mode the browser process is started lazily and recycled after
// MaxLifetime. In attach mode the external browser is only ever disconnected
// from, never closed.
type Manager struct {
	opts    Options
	persona Persona
	logger  *zap.Logger
	limiter *rate.Limiter
	now     func() time.Time

	mu            sync.Mutex
	allocCancel   context.CancelFunc
	browserCtx    context.Context
	browserCancel context.CancelFunc
	startedAt     time.Time
}

func NewManager(opts Options, logger *zap.Logger) *Manager {
	def := DefaultOptions()
	if opts.StepTimeout <= 0 {
		opts.StepTimeout = def.StepTimeout
	}
	if opts.MaxLifetime <= 0 {
		opts.MaxLifetime = def.MaxLifetime
	}
	limit := rate.Inf
	if opts.MinNavigationGap > 0 {
		limit = rate.Every(opts.MinNavigationGap)
	}
	return &Manager{
		opts:    opts,
		persona: personaFor(opts),
		logger:  logger.Named("browser"),
		limiter: rate.NewLimiter(limit, 1),
		now:     time.Now,
	}
}

func (m *Manager) allocatorOptions() []chromedp.ExecAllocatorOption {
	opts := []chromedp.ExecAllocatorOption{
		chromedp.NoFirstRun,
		chromedp.NoDefaultBrowserCheck,
		chromedp.NoSandbox,
		chromedp.DisableGPU,
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
		chromedp.Flag("disable-background-networking", true),
		chromedp.Flag("disable-popup-blocking", true),
		chromedp.WindowSize(1280, 720),
		chromedp.UserAgent(m.persona.UserAgent),
	}
	if m.opts.Headless {
		opts = append(opts, chromedp.Headless)
	}
	if m.opts.ExecPath != "" {
		opts = append(opts, chromedp.ExecPath(m.opts.ExecPath))
	}
	return opts
}

// expired reports whether a launched browser has outlived MaxLifetime.
// Attached browsers are not ours to recycle.
func (m *Manager) expired() bool {
	if m.opts.attached() || m.browserCtx == nil {
		return false
	}
	return m.now().Sub(m.startedAt) > m.opts.MaxLifetime
}

func (m *Manager) startLocked(ctx context.Context) error {
	var (
		allocCtx    context.Context
		allocCancel context.CancelFunc
	)
	if m.opts.attached() {
		m.logger.Info("Attaching to remote browser", zap.String("url", m.opts.RemoteURL))
		allocCtx, allocCancel = chromedp.NewRemoteAllocator(context.Background(), m.opts.RemoteURL)
	} else {
		m.logger.Info("Launching browser", zap.Bool("headless", m.opts.Headless))
		allocCtx, allocCancel = chromedp.NewExecAllocator(context.Background(), m.allocatorOptions()...)
	}

	browserCtx, browserCancel := chromedp.NewContext(allocCtx,
		chromedp.WithLogf(m.logger.Sugar().Debugf),
		chromedp.WithErrorf(m.logger.Sugar().Debugf),
	)

	if err := firstRun(ctx, browserCtx, m.opts.StepTimeout); err != nil {
		browserCancel()
		allocCancel()
		return fmt.Errorf("start browser: %w", err)
	}

	m.allocCancel = allocCancel
	m.browserCtx = browserCtx
	m.browserCancel = browserCancel
	m.startedAt = m.now()
	return nil
}

func (m *Manager) stopLocked() {
	if m.browserCtx == nil {
		return
	}
	if m.opts.attached() {
		// Cancelling only drops our tab and the websocket.
		m.browserCancel()
		m.allocCancel()
	} else {
		done := make(chan error, 1)
		go func() { done <- chromedp.Cancel(m.browserCtx) }()
		select {
		case err := <-done:
			if err != nil {
				m.logger.Warn("Browser did not shut down cleanly", zap.Error(err))
			}
		case <-time.After(shutdownGracePeriod):
			m.logger.Warn("Timed out waiting for browser shutdown")
		}
		m.browserCancel()
		m.allocCancel()
	}
	m.browserCtx = nil
	m.browserCancel = nil
	m.allocCancel = nil
}

// Acquire opens a fresh tab with the stealth persona applied. The caller
// must Close it when the pass ends.
func (m *Manager) Acquire(ctx context.Context) (Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.expired() {
		m.logger.Info("Recycling browser",
			zap.Duration("lifetime", m.now().Sub(m.startedAt)),
			zap.Duration("max_lifetime", m.opts.MaxLifetime),
		)
		m.stopLocked()
	}
	if m.browserCtx == nil {
		if err := m.startLocked(ctx); err != nil {
			return nil, err
		}
	}

	tabCtx, tabCancel := chromedp.NewContext(m.browserCtx)
	if err := firstRun(ctx, tabCtx, m.opts.StepTimeout); err != nil {
		tabCancel()
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if errors.Is(err, models.ErrSiteUnavailable) {
			return nil, err
		}
		return nil, models.Unavailable("open tab", err)
	}
	tab := &Tab{
		ctx:     tabCtx,
		cancel:  tabCancel,
		opts:    m.opts,
		limiter: m.limiter,
		pace:    newPacer(m.opts.Humanize),
		logger:  m.logger,
		now:     m.now,
	}
	if err := tab.run(ctx, "open tab", stealthTasks(m.persona, m.logger)); err != nil {
		tabCancel()
		return nil, err
	}
	return tab, nil
}

// Close shuts down a launched browser or detaches from a remote one.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stopLocked()
	return nil
}

// firstRun performs the first chromedp.Run on target, which allocates the
// browser or tab and ties its lifetime to target. The wait is bounded by
// timeout and by the caller's ctx.
func firstRun(ctx, target context.Context, timeout time.Duration) error {
	return awaitRun(ctx, timeout, func() error { return chromedp.Run(target) })
}

func awaitRun(ctx context.Context, timeout time.Duration, run func() error) error {
	done := make(chan error, 1)
	go func() { done <- run() }()

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return models.Unavailable(fmt.Sprintf("browser did not respond within %s", timeout), nil)
	}
}
