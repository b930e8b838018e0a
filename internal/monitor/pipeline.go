package monitor

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/ObiAU/slotwatch/internal/auth"
	"github.com/ObiAU/slotwatch/internal/browser"
	"github.com/ObiAU/slotwatch/internal/filter"
	"github.com/ObiAU/slotwatch/internal/models"
)

var tracer = otel.Tracer("slotwatch/monitor")

type Browser interface {
	Acquire(ctx context.Context) (browser.Session, error)
}

type Authenticator interface {
	EnsureAuthenticated(ctx context.Context, page browser.Page) (models.SessionState, error)
	TestLogin(ctx context.Context, page browser.Page) (auth.Report, error)
}

type Extractor interface {
	Extract(ctx context.Context, html string) ([]models.Slot, error)
}

type Dedup interface {
	IsNew(slot models.Slot) bool
	MarkNotified(ctx context.Context, slots []models.Slot) error
	Reset(ctx context.Context) error
	Len() int
}

// PassResult summarises one pass through the pipeline.
type PassResult struct {
	ID        string        `json:"id"`
	Extracted int           `json:"extracted"`
	Matched   []models.Slot `json:"matched"`
	New       []models.Slot `json:"new"`
	Notified  bool          `json:"notified"`
	Duration  time.Duration `json:"duration"`
}

// Pipeline runs authenticate, extract, filter, dedup and notify once.
type Pipeline struct {
	browser   Browser
	auth      Authenticator
	extractor Extractor
	dedup     Dedup
	notifier  Notifier
	operator  int64
	criteria  models.FilterCriteria
	logger    *zap.Logger
}

type PipelineDeps struct {
	Browser   Browser
	Auth      Authenticator
	Extractor Extractor
	Dedup     Dedup
	Notifier  Notifier
}

func NewPipeline(deps PipelineDeps, operator int64, criteria models.FilterCriteria, logger *zap.Logger) *Pipeline {
	return &Pipeline{
		browser:   deps.Browser,
		auth:      deps.Auth,
		extractor: deps.Extractor,
		dedup:     deps.Dedup,
		notifier:  deps.Notifier,
		operator:  operator,
		criteria:  criteria,
		logger:    logger.Named("pipeline"),
	}
}

// Run executes one pass. With dryRun the new slots are reported but neither
// committed nor sent.
func (p *Pipeline) Run(ctx context.Context, dryRun bool) (PassResult, error) {
	res := PassResult{ID: uuid.NewString()}
	start := time.Now()

	ctx, span := tracer.Start(ctx, "Pass")
	defer span.End()
	span.SetAttributes(attribute.String("pass_id", res.ID), attribute.Bool("dry_run", dryRun))

	res, err := p.run(ctx, res, dryRun)
	res.Duration = time.Since(start)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, string(KindOf(err)))
	}
	span.SetAttributes(
		attribute.Int("extracted", res.Extracted),
		attribute.Int("matched", len(res.Matched)),
		attribute.Int("new", len(res.New)),
	)
	return res, err
}

func (p *Pipeline) run(ctx context.Context, res PassResult, dryRun bool) (PassResult, error) {
	session, err := p.browser.Acquire(ctx)
	if err != nil {
		return res, fmt.Errorf("acquire browser: %w", err)
	}
	defer session.Close()

	if _, err := p.auth.EnsureAuthenticated(ctx, session); err != nil {
		return res, err
	}

	html, err := session.Content(ctx)
	if err != nil {
		return res, err
	}
	slots, err := p.extractor.Extract(ctx, html)
	if err != nil {
		return res, err
	}
	res.Extracted = len(slots)
	res.Matched = filter.Apply(slots, p.criteria)

	for _, s := range res.Matched {
		if p.dedup.IsNew(s) {
			res.New = append(res.New, s)
		}
	}
	if dryRun || len(res.New) == 0 {
		return res, nil
	}

	// The commit is the point of no return: once it succeeds the slots count
	// as reported whatever happens to delivery.
	if err := p.dedup.MarkNotified(ctx, res.New); err != nil {
		return res, err
	}
	res.Notified = true

	if err := p.notifier.NotifySlots(ctx, p.operator, res.New); err != nil {
		p.logger.Error("Slot notification failed",
			zap.String("event", "notify_failed"),
			zap.String("pass_id", res.ID),
			zap.Int("slots", len(res.New)),
			zap.Error(err),
		)
	} else {
		p.logger.Info("Operator notified",
			zap.String("event", "notified"),
			zap.String("pass_id", res.ID),
			zap.Int("slots", len(res.New)),
		)
	}
	return res, nil
}

// TestLogin forces a fresh login on its own tab.
func (p *Pipeline) TestLogin(ctx context.Context) (auth.Report, error) {
	session, err := p.browser.Acquire(ctx)
	if err != nil {
		return auth.Report{}, fmt.Errorf("acquire browser: %w", err)
	}
	defer session.Close()
	return p.auth.TestLogin(ctx, session)
}
