package browser

import (
	"context"
	_ "embed"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"
)

//go:embed evasions.js
var evasionsTemplate string

// Persona is the browser identity presented to the site.
type Persona struct {
	UserAgent string
	Platform  string
	Languages []string
	Timezone  string
	Locale    string
}

var DefaultPersona = Persona{
	UserAgent: "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/126.0.0.0 Safari/537.36",
	Platform:  "Win32",
	Languages: []string{"en-US", "en"},
	Timezone:  "Europe/Moscow",
	Locale:    "en-US",
}

func personaFor(opts Options) Persona {
	p := DefaultPersona
	if opts.UserAgent != "" {
		p.UserAgent = opts.UserAgent
	}
	return p
}

func (p Persona) acceptLanguage() string {
	if len(p.Languages) == 0 {
		return p.Locale
	}
	parts := make([]string, 0, len(p.Languages))
	for i, l := range p.Languages {
		if i == 0 {
			parts = append(parts, l)
			continue
		}
		parts = append(parts, fmt.Sprintf("%s;q=0.%d", l, max(1, 10-i)))
	}
	return strings.Join(parts, ",")
}

func (p Persona) evasions() string {
	langs, _ := json.Marshal(p.Languages)
	platform, _ := json.Marshal(p.Platform)
	return strings.NewReplacer(
		"__LANGUAGES__", string(langs),
		"__PLATFORM__", string(platform),
	).Replace(evasionsTemplate)
}

// stealthTasks makes an automated tab look like a user-operated browser.
func stealthTasks(p Persona, logger *zap.Logger) chromedp.Tasks {
	logger.Debug("Applying browser persona",
		zap.String("userAgent", p.UserAgent),
		zap.String("timezone", p.Timezone),
	)
	return chromedp.Tasks{
		network.Enable(),
		emulation.SetUserAgentOverride(p.UserAgent).
			WithAcceptLanguage(p.acceptLanguage()).
			WithPlatform(p.Platform),
		chromedp.ActionFunc(func(ctx context.Context) error {
			if _, err := page.AddScriptToEvaluateOnNewDocument(p.evasions()).Do(ctx); err != nil {
				return fmt.Errorf("inject evasions script: %w", err)
			}
			return nil
		}),
		emulation.SetTimezoneOverride(p.Timezone),
		emulation.SetLocaleOverride().WithLocale(p.Locale),
		network.SetExtraHTTPHeaders(network.Headers{
			"Accept-Language": p.acceptLanguage(),
		}),
	}
}
