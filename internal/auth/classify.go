package auth

import (
	"strings"

	"github.com/PuerkitoBio/goquery"
)

type pageKind int

const (
	pageUnknown pageKind = iota
	pageChallenge
	pageBlocked
	pageBooking
	pageLoginRejected
	pageLoginForm
)

func (k pageKind) String() string {
	switch k {
	case pageChallenge:
		return "challenge"
	case pageBlocked:
		return "blocked"
	case pageBooking:
		return "booking"
	case pageLoginRejected:
		return "login_rejected"
	case pageLoginForm:
		return "login_form"
	}
	return "unknown"
}

var challengeSelectors = []string{
	`iframe[src*="recaptcha"]`,
	`iframe[src*="hcaptcha"]`,
	`iframe[src*="challenges.cloudflare.com"]`,
	`.g-recaptcha`,
	`.h-captcha`,
	`.cf-turnstile`,
	`#challenge-form`,
	`#cf-challenge-running`,
}

var challengeTokens = []string{
	"captcha",
	"cloudflare",
	"verify you are human",
	"подтвердите, что вы не робот",
}

var blockTokens = []string{
	"access denied",
	"you have been blocked",
	"too many requests",
	"error 1020",
	"request unsuccessful",
}

// verdict is the classification of one page plus the evidence for it.
type verdict struct {
	kind   pageKind
	reason string
}

// classify inspects rendered HTML. Challenge elements outrank everything; a
// booking marker outranks the body text tokens.
func classify(html string, sel Selectors) verdict {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return verdict{kind: pageUnknown, reason: err.Error()}
	}

	for _, s := range challengeSelectors {
		if doc.Find(s).Length() > 0 {
			return verdict{kind: pageChallenge, reason: "element " + s}
		}
	}
	if sel.BookingMarker != "" && doc.Find(sel.BookingMarker).Length() > 0 {
		return verdict{kind: pageBooking}
	}

	body := doc.Find("body")
	body.Find("script, style, noscript").Remove()
	text := strings.ToLower(strings.Join(strings.Fields(body.Text()), " "))

	for _, tok := range blockTokens {
		if strings.Contains(text, tok) {
			return verdict{kind: pageBlocked, reason: "text " + tok}
		}
	}
	for _, tok := range challengeTokens {
		if strings.Contains(text, tok) {
			return verdict{kind: pageChallenge, reason: "text " + tok}
		}
	}
	if sel.LoginError != "" && doc.Find(sel.LoginError).Length() > 0 {
		return verdict{kind: pageLoginRejected, reason: strings.TrimSpace(doc.Find(sel.LoginError).First().Text())}
	}
	for _, s := range sel.Password {
		if doc.Find(s).Length() > 0 {
			return verdict{kind: pageLoginForm}
		}
	}
	return verdict{kind: pageUnknown}
}
