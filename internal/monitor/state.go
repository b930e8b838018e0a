package monitor

import (
	"errors"
	"math"
	"math/rand/v2"
	"time"

	"github.com/ObiAU/slotwatch/internal/models"
)

type Phase int

const (
	Stopped Phase = iota
	Running
	Paused
	Backoff
)

func (p Phase) String() string {
	switch p {
	case Running:
		return "running"
	case Paused:
		return "paused"
	case Backoff:
		return "backoff"
	}
	return "stopped"
}

// Kind classifies the outcome of one pass.
type Kind string

const (
	KindSuccess     Kind = "success"
	KindChallenge   Kind = "challenge"
	KindCredentials Kind = "credentials"
	KindUnavailable Kind = "unavailable"
	KindLayout      Kind = "layout_changed"
	KindStorage     Kind = "storage"
)

// Fatal reports whether the kind stops the loop.
func (k Kind) Fatal() bool {
	return k == KindCredentials || k == KindStorage
}

// KindOf maps a pass error onto the error taxonomy. Storage failures take
// precedence. Errors outside the taxonomy count as the site being unavailable.
func KindOf(err error) Kind {
	switch {
	case err == nil:
		return KindSuccess
	case errors.Is(err, models.ErrStorage):
		return KindStorage
	case errors.Is(err, models.ErrCredentials):
		return KindCredentials
	case errors.Is(err, models.ErrChallenge):
		return KindChallenge
	case errors.Is(err, models.ErrLayoutChanged):
		return KindLayout
	}
	return KindUnavailable
}

// Outcome is what a pass reports back to the state machine.
type Outcome struct {
	Kind     Kind
	Err      error
	NewSlots int
}

func OutcomeOf(res PassResult, err error) Outcome {
	return Outcome{Kind: KindOf(err), Err: err, NewSlots: len(res.New)}
}

// Policy holds the scheduling parameters of the loop.
type Policy struct {
	Interval    time.Duration
	Variation   time.Duration
	Cooldown    time.Duration
	BackoffBase time.Duration
	BackoffMax  time.Duration
	// Rand returns a value in [0, n). Defaults to math/rand/v2.
	Rand func(n int64) int64
}

const minInterval = time.Second

// Delay is the backoff after n consecutive failures:
// min(BackoffMax, BackoffBase * 2^(n-1)).
func (p Policy) Delay(n int) time.Duration {
	if n <= 0 || p.BackoffBase <= 0 {
		return 0
	}
	d := p.BackoffBase
	for i := 1; i < n; i++ {
		if (p.BackoffMax > 0 && d >= p.BackoffMax) || d > math.MaxInt64/2 {
			break
		}
		d *= 2
	}
	if p.BackoffMax > 0 && d > p.BackoffMax {
		d = p.BackoffMax
	}
	return d
}

// NextInterval is Interval ± uniform(Variation), floored at one second.
func (p Policy) NextInterval() time.Duration {
	d := p.Interval
	if p.Variation > 0 {
		rnd := p.Rand
		if rnd == nil {
			rnd = rand.Int64N
		}
		d += time.Duration(rnd(int64(2*p.Variation)+1)) - p.Variation
	}
	return max(d, minInterval)
}

// State is the loop's run state. Transitions return a new value and take
// the current time as an argument.
type State struct {
	Phase               Phase     `json:"phase"`
	ConsecutiveFailures int       `json:"consecutive_failures"`
	Until               time.Time `json:"until,omitzero"`
	NextCheckAt         time.Time `json:"next_check_at,omitzero"`
	LastCheckAt         time.Time `json:"last_check_at,omitzero"`
	LastError           string    `json:"last_error,omitempty"`
	LastErrorKind       Kind      `json:"last_error_kind,omitempty"`
	ChecksCount         int       `json:"checks_count"`
	SlotsFoundTotal     int       `json:"slots_found_total"`
}

func (s State) Start(now time.Time) State {
	if s.Phase != Stopped {
		return s
	}
	s.Phase = Running
	s.ConsecutiveFailures = 0
	s.Until = time.Time{}
	s.NextCheckAt = now
	return s
}

func (s State) Stop() State {
	s.Phase = Stopped
	s.Until = time.Time{}
	s.NextCheckAt = time.Time{}
	return s
}

// Resume returns a Paused or Backoff state to Running once its resume time
// has passed. The next pass is due immediately.
func (s State) Resume(now time.Time) State {
	if (s.Phase != Paused && s.Phase != Backoff) || now.Before(s.Until) {
		return s
	}
	s.Phase = Running
	s.Until = time.Time{}
	s.NextCheckAt = now
	return s
}

// Due reports whether a pass should run at now.
func (s State) Due(now time.Time) bool {
	return s.Phase == Running && !now.Before(s.NextCheckAt)
}

// Wait is how long until something is due. It is negative while Stopped.
func (s State) Wait(now time.Time) time.Duration {
	switch s.Phase {
	case Running:
		return max(0, s.NextCheckAt.Sub(now))
	case Paused, Backoff:
		return max(0, s.Until.Sub(now))
	}
	return -1
}

// Apply records a finished pass. A state that was stopped while the pass
// ran stays Stopped; only its counters change.
func (s State) Apply(o Outcome, now time.Time, p Policy) State {
	s.LastCheckAt = now
	s.ChecksCount++
	if o.Err != nil {
		s.LastError = o.Err.Error()
		s.LastErrorKind = o.Kind
	}
	stopped := s.Phase == Stopped

	switch o.Kind {
	case KindSuccess:
		s.ConsecutiveFailures = 0
		s.SlotsFoundTotal += o.NewSlots
		if !stopped {
			s.Phase = Running
			s.NextCheckAt = now.Add(p.NextInterval())
		}
	case KindChallenge:
		if !stopped {
			s.Phase = Paused
			s.Until = now.Add(p.Cooldown)
		}
	case KindCredentials, KindStorage:
		s = s.Stop()
	default:
		s.ConsecutiveFailures++
		if !stopped {
			s.Phase = Backoff
			s.Until = now.Add(p.Delay(s.ConsecutiveFailures))
		}
	}
	return s
}

func (p Phase) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}
