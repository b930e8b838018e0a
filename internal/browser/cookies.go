package browser

import (
	"encoding/json"
	"fmt"
	"math"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/network"
)

// storedCookie is the on-disk shape of a browser cookie. It is kept separate
// from the CDP types so a driver upgrade never invalidates saved sessions.
type storedCookie struct {
	Name     string    `json:"name"`
	Value    string    `json:"value"`
	Domain   string    `json:"domain"`
	Path     string    `json:"path"`
	Expires  time.Time `json:"expires,omitzero"`
	Secure   bool      `json:"secure,omitempty"`
	HTTPOnly bool      `json:"http_only,omitempty"`
	SameSite string    `json:"same_site,omitempty"`
}

func encodeCookies(cookies []*network.Cookie) ([]byte, error) {
	stored := make([]storedCookie, 0, len(cookies))
	for _, c := range cookies {
		if c == nil {
			continue
		}
		sc := storedCookie{
			Name:     c.Name,
			Value:    c.Value,
			Domain:   c.Domain,
			Path:     c.Path,
			Secure:   c.Secure,
			HTTPOnly: c.HTTPOnly,
			SameSite: c.SameSite.String(),
		}
		// Session cookies report a non-positive expiry.
		if !c.Session && c.Expires > 0 {
			sec, frac := math.Modf(c.Expires)
			sc.Expires = time.Unix(int64(sec), int64(frac*1e9)).UTC()
		}
		stored = append(stored, sc)
	}
	return json.Marshal(stored)
}

func decodeCookies(blob []byte, now time.Time) ([]*network.CookieParam, error) {
	var stored []storedCookie
	if err := json.Unmarshal(blob, &stored); err != nil {
		return nil, fmt.Errorf("decode cookies: %w", err)
	}
	params := make([]*network.CookieParam, 0, len(stored))
	for _, sc := range stored {
		if !sc.Expires.IsZero() && !sc.Expires.After(now) {
			continue
		}
		p := &network.CookieParam{
			Name:     sc.Name,
			Value:    sc.Value,
			Domain:   sc.Domain,
			Path:     sc.Path,
			Secure:   sc.Secure,
			HTTPOnly: sc.HTTPOnly,
		}
		if sc.SameSite != "" {
			p.SameSite = network.CookieSameSite(sc.SameSite)
		}
		if !sc.Expires.IsZero() {
			exp := cdp.TimeSinceEpoch(sc.Expires)
			p.Expires = &exp
		}
		params = append(params, p)
	}
	return params, nil
}
