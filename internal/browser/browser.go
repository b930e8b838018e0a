// Package browser exposes the booking site as a narrow, drivable page surface
// backed by a Chrome instance, either launched and owned by this process or
// attached to over a remote debugging endpoint.
package browser

import (
	"context"
	"time"
)

// Page is the surface the authenticator and extractor drive. Every method is
// bounded by the step timeout; a timeout or transport failure is reported as
// models.ErrSiteUnavailable. Caller cancellation is returned as ctx.Err().
type Page interface {
	// Navigate loads url and returns the HTTP status of the main document,
	// or 0 when the browser did not report one.
	Navigate(ctx context.Context, url string) (int, error)
	Content(ctx context.Context) (string, error)
	Has(ctx context.Context, selector string) (bool, error)
	Fill(ctx context.Context, selector, value string) error
	// Submit clicks selector and waits for the resulting page to settle.
	Submit(ctx context.Context, selector string) error
	Screenshot(ctx context.Context) ([]byte, error)
	Cookies(ctx context.Context) ([]byte, error)
	SetCookies(ctx context.Context, blob []byte) error
}

// Session is a Page held exclusively for one monitoring pass.
type Session interface {
	Page
	Close() error
}

// Options configures the browser backend.
type Options struct {
	// RemoteURL attaches to an existing browser when set; the browser is then
	// never terminated by this process.
	RemoteURL        string        `mapstructure:"remote_url"`
	Headless         bool          `mapstructure:"headless"`
	UserAgent        string        `mapstructure:"user_agent"`
	StepTimeout      time.Duration `mapstructure:"step_timeout"`
	PostLoadWait     time.Duration `mapstructure:"post_load_wait"`
	MaxLifetime      time.Duration `mapstructure:"max_lifetime"`
	MinNavigationGap time.Duration `mapstructure:"min_navigation_gap"`
	Humanize         bool          `mapstructure:"humanize"`
	ExecPath         string        `mapstructure:"exec_path"`
}

func DefaultOptions() Options {
	return Options{
		Headless:         true,
		UserAgent:        DefaultPersona.UserAgent,
		StepTimeout:      45 * time.Second,
		PostLoadWait:     1500 * time.Millisecond,
		MaxLifetime:      time.Hour,
		MinNavigationGap: 2 * time.Second,
		Humanize:         true,
	}
}

func (o Options) attached() bool {
	return o.RemoteURL != ""
}
