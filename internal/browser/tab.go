package browser

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/ObiAU/slotwatch/internal/models"
)

// Tab is a single browser tab implementing Session.
type Tab struct {
	ctx     context.Context
	cancel  context.CancelFunc
	opts    Options
	limiter *rate.Limiter
	pace    pacer
	logger  *zap.Logger
	now     func() time.Time
}

// run executes actions against the tab, bounded by the step timeout and by
// the caller's ctx.
func (t *Tab) run(ctx context.Context, op string, actions ...chromedp.Action) error {
	stepCtx, cancel := context.WithTimeout(t.ctx, t.opts.StepTimeout)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	err := chromedp.Run(stepCtx, actions...)
	return t.classify(ctx, stepCtx, op, err)
}

func (t *Tab) classify(ctx, stepCtx context.Context, op string, err error) error {
	if err == nil {
		return nil
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if errors.Is(stepCtx.Err(), context.DeadlineExceeded) {
		return models.Unavailable(op, fmt.Errorf("timed out after %s: %w", t.opts.StepTimeout, err))
	}
	return models.Unavailable(op, err)
}

func (t *Tab) Navigate(ctx context.Context, url string) (int, error) {
	if err := t.limiter.Wait(ctx); err != nil {
		if ctx.Err() != nil {
			return 0, ctx.Err()
		}
		return 0, fmt.Errorf("navigation limiter: %w", err)
	}
	t.logger.Debug("Navigating", zap.String("url", url))

	stepCtx, cancel := context.WithTimeout(t.ctx, t.opts.StepTimeout)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	resp, err := chromedp.RunResponse(stepCtx, chromedp.Navigate(url))
	if err := t.classify(ctx, stepCtx, "navigate "+url, err); err != nil {
		return 0, err
	}
	if err := t.settle(ctx); err != nil {
		return 0, err
	}

	status := 0
	if resp != nil {
		status = int(resp.Status)
	}
	return status, nil
}

// settle waits for the body and the post-load quiet period.
func (t *Tab) settle(ctx context.Context) error {
	if err := t.run(ctx, "wait for body", chromedp.WaitReady("body", chromedp.ByQuery)); err != nil {
		return err
	}
	if err := sleep(ctx, t.opts.PostLoadWait); err != nil {
		return err
	}
	return t.pace.think(ctx)
}

func (t *Tab) Content(ctx context.Context) (string, error) {
	var html string
	if err := t.run(ctx, "read content", chromedp.OuterHTML("html", &html, chromedp.ByQuery)); err != nil {
		return "", err
	}
	return html, nil
}

func (t *Tab) Has(ctx context.Context, selector string) (bool, error) {
	var nodes []*cdp.Node
	err := t.run(ctx, "query "+selector,
		chromedp.Nodes(selector, &nodes, chromedp.ByQueryAll, chromedp.AtLeast(0)))
	if err != nil {
		return false, err
	}
	return len(nodes) > 0, nil
}

func (t *Tab) Fill(ctx context.Context, selector, value string) error {
	if err := t.run(ctx, "focus "+selector,
		chromedp.ScrollIntoView(selector, chromedp.ByQuery),
		chromedp.WaitVisible(selector, chromedp.ByQuery),
		chromedp.SetValue(selector, "", chromedp.ByQuery),
		chromedp.Focus(selector, chromedp.ByQuery),
	); err != nil {
		return err
	}
	if !t.pace.enabled {
		return t.run(ctx, "type "+selector, chromedp.SendKeys(selector, value, chromedp.ByQuery))
	}
	for _, r := range value {
		if err := t.run(ctx, "type "+selector, chromedp.SendKeys(selector, string(r), chromedp.ByQuery)); err != nil {
			return err
		}
		if err := sleep(ctx, t.pace.keystroke()); err != nil {
			return err
		}
	}
	return t.pace.think(ctx)
}

func (t *Tab) Submit(ctx context.Context, selector string) error {
	if err := t.run(ctx, "click "+selector,
		chromedp.ScrollIntoView(selector, chromedp.ByQuery),
		chromedp.WaitVisible(selector, chromedp.ByQuery),
	); err != nil {
		return err
	}
	if err := t.pace.think(ctx); err != nil {
		return err
	}
	if err := t.run(ctx, "click "+selector, chromedp.Click(selector, chromedp.ByQuery)); err != nil {
		return err
	}
	return t.settle(ctx)
}

func (t *Tab) Screenshot(ctx context.Context) ([]byte, error) {
	var buf []byte
	if err := t.run(ctx, "screenshot", chromedp.FullScreenshot(&buf, 80)); err != nil {
		return nil, err
	}
	return buf, nil
}

func (t *Tab) Cookies(ctx context.Context) ([]byte, error) {
	var cookies []*network.Cookie
	err := t.run(ctx, "get cookies", chromedp.ActionFunc(func(c context.Context) (err error) {
		cookies, err = network.GetCookies().Do(c)
		return err
	}))
	if err != nil {
		return nil, err
	}
	return encodeCookies(cookies)
}

func (t *Tab) SetCookies(ctx context.Context, blob []byte) error {
	params, err := decodeCookies(blob, t.now())
	if err != nil {
		return err
	}
	if len(params) == 0 {
		return nil
	}
	return t.run(ctx, "set cookies", network.SetCookies(params))
}

// Close closes the tab. The browser itself is owned by the Manager.
func (t *Tab) Close() error {
	t.cancel()
	return nil
}
