// Package monitor schedules pipeline passes against the booking site and
// reacts to their outcomes with pauses, backoff and operator alerts.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/ObiAU/slotwatch/internal/auth"
	"github.com/ObiAU/slotwatch/internal/models"
)

// alertEvery limits repeat alerts during a long failure streak.
const alertEvery = 5

type Monitor struct {
	pipeline *Pipeline
	dedup    Dedup
	notifier Notifier
	operator int64
	policy   Policy
	logger   *zap.Logger
	now      func() time.Time

	mu    sync.Mutex
	state State
	wake  chan struct{}

	// passMu serialises passes, forced logins and resets.
	passMu sync.Mutex
}

func New(pipeline *Pipeline, policy Policy, logger *zap.Logger) *Monitor {
	return &Monitor{
		pipeline: pipeline,
		dedup:    pipeline.dedup,
		notifier: pipeline.notifier,
		operator: pipeline.operator,
		policy:   policy,
		logger:   logger.Named("monitor"),
		now:      time.Now,
		wake:     make(chan struct{}, 1),
	}
}

// Run drives the loop until ctx is cancelled. The loop starts Stopped and
// idles until Start is called.
func (m *Monitor) Run(ctx context.Context) error {
	m.logger.Info("Monitor loop ready", zap.String("phase", m.Status().State.Phase.String()))
	for {
		m.mu.Lock()
		now := m.now()
		prev := m.state
		m.state = m.state.Resume(now)
		st := m.state
		m.mu.Unlock()
		m.logTransition(prev, st)

		if st.Due(now) {
			m.runPass(ctx)
			if ctx.Err() != nil {
				return nil
			}
			continue
		}

		var timer *time.Timer
		var fire <-chan time.Time
		if wait := st.Wait(now); wait >= 0 {
			timer = time.NewTimer(wait)
			fire = timer.C
		}
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			m.logger.Info("Monitor loop stopped")
			return nil
		case <-m.wake:
		case <-fire:
		}
		if timer != nil {
			timer.Stop()
		}
	}
}

func (m *Monitor) signal() {
	select {
	case m.wake <- struct{}{}:
	default:
	}
}

func (m *Monitor) runPass(ctx context.Context) {
	m.passMu.Lock()
	defer m.passMu.Unlock()

	res, err := m.pipeline.Run(ctx, false)
	if ctx.Err() != nil {
		m.logger.Info("Pass abandoned on shutdown", zap.String("pass_id", res.ID))
		return
	}
	outcome := OutcomeOf(res, err)

	m.mu.Lock()
	prev := m.state
	m.state = m.state.Apply(outcome, m.now(), m.policy)
	next := m.state
	m.mu.Unlock()

	fields := []zap.Field{
		zap.String("event", "pass"),
		zap.String("pass_id", res.ID),
		zap.String("outcome", string(outcome.Kind)),
		zap.Int("extracted", res.Extracted),
		zap.Int("matched", len(res.Matched)),
		zap.Int("new", len(res.New)),
		zap.Duration("duration", res.Duration),
		zap.Int("consecutive_failures", next.ConsecutiveFailures),
	}
	if err != nil {
		m.logger.Warn("Pass failed", append(fields, zap.Error(err))...)
	} else {
		m.logger.Info("Pass finished", fields...)
	}
	m.logTransition(prev, next)
	m.alertFor(ctx, outcome, next)
}

func (m *Monitor) logTransition(prev, next State) {
	if prev.Phase == next.Phase {
		return
	}
	m.logger.Info("Monitor state changed",
		zap.String("event", "state_transition"),
		zap.Stringer("from", prev.Phase),
		zap.Stringer("to", next.Phase),
		zap.Time("until", next.Until),
	)
}

func (m *Monitor) alertFor(ctx context.Context, o Outcome, next State) {
	var alert Alert
	switch o.Kind {
	case KindSuccess:
		return
	case KindChallenge:
		resume := "Monitoring is stopped."
		if next.Phase == Paused {
			resume = "Monitoring paused until " + next.Until.Format(time.DateTime) + "."
		}
		alert = Alert{
			Level: AlertWarning,
			Text:  fmt.Sprintf("Human verification challenge detected. %s\n%v", resume, o.Err),
		}
		if ce := challengeOf(o.Err); ce != nil {
			alert.Screenshot = ce.Screenshot
		}
	case KindCredentials:
		alert = Alert{Level: AlertFatal, Text: fmt.Sprintf("Login rejected. Monitoring stopped until credentials are fixed.\n%v", o.Err)}
	case KindStorage:
		alert = Alert{Level: AlertFatal, Text: fmt.Sprintf("Could not persist state. Monitoring stopped.\n%v", o.Err)}
	default:
		n := next.ConsecutiveFailures
		if n != 1 && n%alertEvery != 0 {
			return
		}
		what := "Booking site unavailable"
		if o.Kind == KindLayout {
			what = "Booking page layout not recognised; selectors may need updating"
		}
		retry := "Monitoring is stopped."
		if next.Phase == Backoff {
			retry = fmt.Sprintf("Retrying after %s.", next.Until.Sub(next.LastCheckAt).Round(time.Second))
		}
		alert = Alert{
			Level: AlertWarning,
			Text:  fmt.Sprintf("%s (%d in a row). %s\n%v", what, n, retry, o.Err),
		}
	}
	m.sendAlert(ctx, alert)
}

func (m *Monitor) sendAlert(ctx context.Context, alert Alert) {
	m.logger.Info("Alerting operator", zap.String("event", "alert"), zap.String("level", string(alert.Level)))
	if err := m.notifier.Alert(ctx, m.operator, alert); err != nil {
		m.logger.Error("Alert delivery failed", zap.String("event", "alert_failed"), zap.Error(err))
	}
}

// Start moves a Stopped loop to Running. It reports false when the loop was
// already active.
func (m *Monitor) Start() bool {
	m.mu.Lock()
	prev := m.state
	m.state = m.state.Start(m.now())
	next := m.state
	m.mu.Unlock()

	if prev.Phase != Stopped {
		return false
	}
	m.logger.Info("Monitoring started", zap.String("event", "start"))
	m.logTransition(prev, next)
	m.signal()
	return true
}

// Stop takes effect after any in-flight pass finishes. It reports false when
// the loop was already stopped.
func (m *Monitor) Stop() bool {
	m.mu.Lock()
	prev := m.state
	m.state = m.state.Stop()
	next := m.state
	m.mu.Unlock()

	if prev.Phase == Stopped {
		return false
	}
	m.logger.Info("Monitoring stopped", zap.String("event", "stop"))
	m.logTransition(prev, next)
	m.signal()
	return true
}

type Status struct {
	State    State     `json:"state"`
	Notified int       `json:"notified"`
	Now      time.Time `json:"now"`
}

func (m *Monitor) Status() Status {
	m.mu.Lock()
	st := m.state
	now := m.now()
	m.mu.Unlock()
	return Status{State: st, Notified: m.dedup.Len(), Now: now}
}

// Reset clears the notified set once no pass is running.
func (m *Monitor) Reset(ctx context.Context) error {
	m.passMu.Lock()
	defer m.passMu.Unlock()
	if err := m.dedup.Reset(ctx); err != nil {
		m.logger.Error("Reset failed", zap.String("event", "dedup_reset_failed"), zap.Error(err))
		return err
	}
	return nil
}

// TestLogin runs a forced login between passes.
func (m *Monitor) TestLogin(ctx context.Context) (auth.Report, error) {
	m.passMu.Lock()
	defer m.passMu.Unlock()

	report, err := m.pipeline.TestLogin(ctx)
	m.logger.Info("Test login finished",
		zap.String("event", "test_login"),
		zap.String("outcome", string(KindOf(err))),
		zap.Duration("elapsed", report.Elapsed),
		zap.Error(err),
	)
	return report, err
}

// Check runs one dry pass between scheduled passes.
func (m *Monitor) Check(ctx context.Context) (PassResult, error) {
	m.passMu.Lock()
	defer m.passMu.Unlock()
	return m.pipeline.Run(ctx, true)
}

func challengeOf(err error) *models.ChallengeError {
	var ce *models.ChallengeError
	if errors.As(err, &ce) {
		return ce
	}
	return nil
}
