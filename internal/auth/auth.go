// Package auth drives the booking site's login flow and keeps the resulting
// session cookies across restarts.
package auth

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/ObiAU/slotwatch/internal/browser"
	"github.com/ObiAU/slotwatch/internal/fsutil"
	"github.com/ObiAU/slotwatch/internal/models"
)

var tracer = otel.Tracer("slotwatch/auth")

type Selectors struct {
	Email         []string `mapstructure:"email"`
	Password      []string `mapstructure:"password"`
	Submit        string   `mapstructure:"submit"`
	BookingMarker string   `mapstructure:"booking_marker"`
	LoginError    string   `mapstructure:"login_error"`
}

func DefaultSelectors() Selectors {
	return Selectors{
		Email: []string{
			`input[name="email"]`,
			`input[type="email"]`,
			`input[name="username"]`,
			`input[id="email"]`,
			`input[id="Email"]`,
			`input[placeholder*="mail"]`,
			`input[placeholder*="почт"]`,
		},
		Password: []string{
			`input[name="password"]`,
			`input[type="password"]`,
		},
		Submit:        `button[type="submit"]`,
		BookingMarker: `[data-testid="calendar"], [data-testid="no-slots"]`,
		LoginError:    `[data-testid="login-error"], .alert-danger, .error-message`,
	}
}

// Config locates the site and holds the operator's credentials.
type Config struct {
	BaseURL    string    `mapstructure:"base_url"`
	LoginURL   string    `mapstructure:"login_url"`
	BookingURL string    `mapstructure:"booking_url"`
	Email      string    `mapstructure:"email"`
	Password   string    `mapstructure:"password"`
	Selectors  Selectors `mapstructure:"selectors"`
}

type Authenticator struct {
	cfg    Config
	store  StateStore
	logger *zap.Logger
	now    func() time.Time
}

func New(cfg Config, store StateStore, logger *zap.Logger) *Authenticator {
	def := DefaultSelectors()
	if len(cfg.Selectors.Email) == 0 {
		cfg.Selectors.Email = def.Email
	}
	if len(cfg.Selectors.Password) == 0 {
		cfg.Selectors.Password = def.Password
	}
	if cfg.Selectors.Submit == "" {
		cfg.Selectors.Submit = def.Submit
	}
	if cfg.Selectors.BookingMarker == "" {
		cfg.Selectors.BookingMarker = def.BookingMarker
	}
	if cfg.Selectors.LoginError == "" {
		cfg.Selectors.LoginError = def.LoginError
	}
	return &Authenticator{
		cfg:    cfg,
		store:  store,
		logger: logger.Named("auth"),
		now:    time.Now,
	}
}

// EnsureAuthenticated leaves page on the booking page with a valid session.
// A persisted session is probed first and reused without resubmitting
// credentials when it still grants access.
func (a *Authenticator) EnsureAuthenticated(ctx context.Context, page browser.Page) (models.SessionState, error) {
	ctx, span := tracer.Start(ctx, "EnsureAuthenticated")
	defer span.End()

	state, err := a.store.Load(ctx)
	switch {
	case errors.Is(err, ErrCorruptState):
		a.logger.Warn("Discarding unreadable session state", zap.Error(err))
		state = models.SessionState{}
	case err != nil:
		span.SetStatus(codes.Error, "failed to load session")
		return models.SessionState{}, err
	}

	if state.Reusable() {
		reused, ok, err := a.reuse(ctx, page, state)
		if err != nil {
			span.SetStatus(codes.Error, err.Error())
			return models.SessionState{}, err
		}
		if ok {
			span.SetAttributes(attribute.Bool("reused", true))
			return reused, nil
		}
	}

	state, err = a.login(ctx, page)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
	}
	return state, err
}

// Report is the result of a forced login.
type Report struct {
	State      models.SessionState
	Screenshot []byte
	Elapsed    time.Duration
}

// TestLogin performs a fresh login regardless of any persisted session and
// captures a screenshot of wherever the flow ended.
func (a *Authenticator) TestLogin(ctx context.Context, page browser.Page) (Report, error) {
	ctx, span := tracer.Start(ctx, "TestLogin")
	defer span.End()

	start := a.now()
	state, err := a.login(ctx, page)
	report := Report{State: state, Elapsed: a.now().Sub(start)}

	var ce *models.ChallengeError
	if errors.As(err, &ce) && len(ce.Screenshot) > 0 {
		report.Screenshot = ce.Screenshot
	} else if ctx.Err() == nil {
		shot, shotErr := page.Screenshot(ctx)
		if shotErr != nil {
			a.logger.Warn("Could not capture test-login screenshot", zap.Error(shotErr))
		}
		report.Screenshot = shot
	}
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
	}
	return report, err
}

func (a *Authenticator) reuse(ctx context.Context, page browser.Page, state models.SessionState) (models.SessionState, bool, error) {
	if err := page.SetCookies(ctx, state.Cookies); err != nil {
		if ctx.Err() != nil || errors.Is(err, models.ErrSiteUnavailable) {
			return models.SessionState{}, false, err
		}
		a.logger.Warn("Stored cookies could not be restored", zap.Error(err))
		return models.SessionState{}, false, a.store.Invalidate(ctx)
	}

	v, err := a.visit(ctx, page, a.cfg.BookingURL)
	if err != nil {
		return models.SessionState{}, false, err
	}
	if v.kind != pageBooking {
		a.logger.Info("Stored session no longer grants access",
			zap.String("event", "session_stale"),
			zap.Stringer("page", v.kind),
		)
		// Drop it now so a failed login does not leave dead cookies to
		// be probed again on every pass.
		return models.SessionState{}, false, a.store.Invalidate(ctx)
	}

	// The site may rotate cookies; keep the store current.
	blob, err := page.Cookies(ctx)
	if err != nil {
		a.logger.Warn("Could not read refreshed cookies", zap.Error(err))
	} else if !bytes.Equal(blob, state.Cookies) {
		state.Cookies = blob
		if err := a.save(ctx, state); err != nil {
			return models.SessionState{}, false, err
		}
	}

	a.logger.Debug("Reusing stored session",
		zap.String("event", "session_reused"),
		zap.Time("last_login_at", state.LastLoginAt),
	)
	return state, true, nil
}

func (a *Authenticator) login(ctx context.Context, page browser.Page) (models.SessionState, error) {
	ctx, span := tracer.Start(ctx, "Login")
	defer span.End()

	a.logger.Info("Logging in", zap.String("event", "login_attempt"))

	if a.cfg.BaseURL != "" {
		if _, err := a.visit(ctx, page, a.cfg.BaseURL); err != nil {
			return models.SessionState{}, err
		}
	}
	v, err := a.visit(ctx, page, a.cfg.LoginURL)
	if err != nil {
		return models.SessionState{}, err
	}
	if v.kind == pageBooking {
		return a.commit(ctx, page)
	}

	sel := a.cfg.Selectors
	emailSel, err := a.findField(ctx, page, sel.Email, "email")
	if err != nil {
		return models.SessionState{}, err
	}
	if err := page.Fill(ctx, emailSel, a.cfg.Email); err != nil {
		return models.SessionState{}, err
	}
	passwordSel, err := a.findField(ctx, page, sel.Password, "password")
	if err != nil {
		return models.SessionState{}, err
	}
	if err := page.Fill(ctx, passwordSel, a.cfg.Password); err != nil {
		return models.SessionState{}, err
	}
	if err := page.Submit(ctx, sel.Submit); err != nil {
		return models.SessionState{}, err
	}

	html, err := page.Content(ctx)
	if err != nil {
		return models.SessionState{}, err
	}
	v = classify(html, sel)
	span.SetAttributes(attribute.String("post_login_page", v.kind.String()))

	switch v.kind {
	case pageChallenge:
		return models.SessionState{}, a.challenge(ctx, page, a.cfg.LoginURL, v.reason)
	case pageBlocked:
		return models.SessionState{}, models.Unavailable("submit login", errors.New(v.reason))
	case pageBooking:
		return a.commit(ctx, page)
	case pageLoginRejected:
		return models.SessionState{}, a.reject(ctx, v.reason)
	case pageLoginForm:
		return models.SessionState{}, a.reject(ctx, "login form still shown after submit")
	}

	// Landed somewhere neutral, e.g. a dashboard. Check the booking page.
	v, err = a.visit(ctx, page, a.cfg.BookingURL)
	if err != nil {
		return models.SessionState{}, err
	}
	switch v.kind {
	case pageBooking:
		return a.commit(ctx, page)
	case pageLoginForm, pageLoginRejected:
		return models.SessionState{}, a.reject(ctx, "redirected to login from booking page")
	}
	return models.SessionState{}, fmt.Errorf("%w: booking marker %q absent after login", models.ErrLayoutChanged, sel.BookingMarker)
}

// visit navigates to url and classifies the result. Challenges, block pages
// and error statuses are returned as errors.
func (a *Authenticator) visit(ctx context.Context, page browser.Page, url string) (verdict, error) {
	status, err := page.Navigate(ctx, url)
	if err != nil {
		return verdict{}, err
	}
	html, err := page.Content(ctx)
	if err != nil {
		return verdict{}, err
	}
	v := classify(html, a.cfg.Selectors)
	switch {
	case v.kind == pageChallenge:
		return v, a.challenge(ctx, page, url, v.reason)
	case v.kind == pageBlocked:
		return v, models.Unavailable("open "+url, fmt.Errorf("block page: %s", v.reason))
	case status >= 400:
		return v, models.Unavailable("open "+url, fmt.Errorf("http status %d", status))
	}
	return v, nil
}

func (a *Authenticator) findField(ctx context.Context, page browser.Page, candidates []string, name string) (string, error) {
	for _, s := range candidates {
		ok, err := page.Has(ctx, s)
		if err != nil {
			return "", err
		}
		if ok {
			return s, nil
		}
	}
	return "", fmt.Errorf("%w: no %s field on login page", models.ErrLayoutChanged, name)
}

func (a *Authenticator) commit(ctx context.Context, page browser.Page) (models.SessionState, error) {
	blob, err := page.Cookies(ctx)
	if err != nil {
		return models.SessionState{}, err
	}
	state := models.SessionState{Authenticated: true, Cookies: blob, LastLoginAt: a.now().UTC()}
	if err := a.save(ctx, state); err != nil {
		return models.SessionState{}, err
	}
	a.logger.Info("Login succeeded", zap.String("event", "login_success"))
	return state, nil
}

func (a *Authenticator) save(ctx context.Context, state models.SessionState) error {
	err := a.store.Save(ctx, state)
	if errors.Is(err, fsutil.ErrNotDurable) {
		a.logger.Warn("Session written but not flushed", zap.Error(err))
		return nil
	}
	return err
}

func (a *Authenticator) reject(ctx context.Context, reason string) error {
	a.logger.Error("Login rejected",
		zap.String("event", "login_rejected"),
		zap.String("reason", reason),
	)
	err := fmt.Errorf("%w: %s", models.ErrCredentials, reason)
	if invErr := a.store.Invalidate(ctx); invErr != nil {
		return errors.Join(err, invErr)
	}
	return err
}

func (a *Authenticator) challenge(ctx context.Context, page browser.Page, url, reason string) error {
	a.logger.Warn("Challenge detected",
		zap.String("event", "challenge_detected"),
		zap.String("url", url),
		zap.String("reason", reason),
	)
	shot, err := page.Screenshot(ctx)
	if err != nil {
		a.logger.Warn("Could not capture challenge screenshot", zap.Error(err))
	}
	ce := &models.ChallengeError{URL: url, Reason: reason, Screenshot: shot}
	if invErr := a.store.Invalidate(ctx); invErr != nil {
		return errors.Join(ce, invErr)
	}
	return ce
}
