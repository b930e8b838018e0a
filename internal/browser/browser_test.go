package browser

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ObiAU/slotwatch/internal/models"
)

func TestCookieBlobDropsExpired(t *testing.T) {
	now := time.Date(2024, time.March, 1, 12, 0, 0, 0, time.UTC)
	cookies := []*network.Cookie{
		{Name: "sid", Value: "abc", Domain: ".example.test", Path: "/", Session: true, HTTPOnly: true, SameSite: network.CookieSameSiteLax},
		{Name: "cf_clearance", Value: "xyz", Domain: ".example.test", Path: "/", Expires: float64(now.Add(time.Hour).Unix()), Secure: true},
		{Name: "old", Value: "1", Domain: ".example.test", Path: "/", Expires: float64(now.Add(-time.Hour).Unix())},
		nil,
	}

	blob, err := encodeCookies(cookies)
	require.NoError(t, err)

	var stored []storedCookie
	require.NoError(t, json.Unmarshal(blob, &stored))
	require.Len(t, stored, 3)
	assert.True(t, stored[0].Expires.IsZero())

	params, err := decodeCookies(blob, now)
	require.NoError(t, err)
	require.Len(t, params, 2)

	assert.Equal(t, "sid", params[0].Name)
	assert.Nil(t, params[0].Expires)
	assert.True(t, params[0].HTTPOnly)
	assert.Equal(t, network.CookieSameSiteLax, params[0].SameSite)

	assert.Equal(t, "cf_clearance", params[1].Name)
	require.NotNil(t, params[1].Expires)
	assert.True(t, params[1].Secure)
}

func TestDecodeCookiesRejectsGarbage(t *testing.T) {
	_, err := decodeCookies([]byte("not json"), time.Now())
	assert.Error(t, err)
}

func TestPacerBounds(t *testing.T) {
	p := newPacer(true)
	for range 100 {
		d := p.between(10*time.Millisecond, 20*time.Millisecond)
		assert.GreaterOrEqual(t, d, 10*time.Millisecond)
		assert.LessOrEqual(t, d, 20*time.Millisecond)
	}
	assert.Zero(t, newPacer(false).between(time.Second, 2*time.Second))
	assert.Equal(t, time.Second, p.between(time.Second, time.Second))
}

func TestSleepHonoursCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, sleep(ctx, time.Hour), context.Canceled)
}

func TestPersona(t *testing.T) {
	p := personaFor(Options{UserAgent: "agent/1.0"})
	assert.Equal(t, "agent/1.0", p.UserAgent)
	assert.Equal(t, "en-US,en;q=0.9", p.acceptLanguage())

	script := p.evasions()
	assert.Contains(t, script, `["en-US","en"]`)
	assert.Contains(t, script, `"Win32"`)
	assert.NotContains(t, script, "__LANGUAGES__")
}

func TestManagerRecycleOnlyWhenLaunched(t *testing.T) {
	start := time.Date(2024, time.March, 1, 0, 0, 0, 0, time.UTC)
	clock := start

	m := NewManager(Options{MaxLifetime: time.Hour}, zap.NewNop())
	m.now = func() time.Time { return clock }
	assert.False(t, m.expired(), "no browser yet")

	m.browserCtx = context.Background()
	m.startedAt = start
	clock = start.Add(59 * time.Minute)
	assert.False(t, m.expired())
	clock = start.Add(61 * time.Minute)
	assert.True(t, m.expired())

	attached := NewManager(Options{RemoteURL: "ws://127.0.0.1:9222", MaxLifetime: time.Hour}, zap.NewNop())
	attached.now = m.now
	attached.browserCtx = context.Background()
	attached.startedAt = start
	assert.False(t, attached.expired())
}

func TestNewManagerDefaults(t *testing.T) {
	m := NewManager(Options{}, zap.NewNop())
	assert.Equal(t, 45*time.Second, m.opts.StepTimeout)
	assert.Equal(t, time.Hour, m.opts.MaxLifetime)
	assert.Equal(t, DefaultPersona.UserAgent, m.persona.UserAgent)
	assert.NotEmpty(t, m.allocatorOptions())
}

func TestAwaitRun(t *testing.T) {
	release := make(chan struct{})
	defer close(release)
	blocked := func() error { <-release; return nil }

	t.Run("returns the run result", func(t *testing.T) {
		boom := errors.New("boom")
		err := awaitRun(context.Background(), time.Second, func() error { return boom })
		assert.ErrorIs(t, err, boom)
	})

	t.Run("timeout is unavailable", func(t *testing.T) {
		err := awaitRun(context.Background(), 10*time.Millisecond, blocked)
		assert.ErrorIs(t, err, models.ErrSiteUnavailable)
		assert.ErrorContains(t, err, "10ms")
	})

	t.Run("caller cancel wins", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		err := awaitRun(ctx, time.Minute, blocked)
		assert.ErrorIs(t, err, context.Canceled)
		assert.NotErrorIs(t, err, models.ErrSiteUnavailable)
	})
}
