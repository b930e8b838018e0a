package extractor

import (
	"context"
	"fmt"
	"regexp"
	"slices"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/ObiAU/slotwatch/internal/models"
)

var tracer = otel.Tracer("slotwatch/extractor")

// Layout names the selectors of the booking calendar.
type Layout struct {
	Calendar string `mapstructure:"calendar"`
	Cell     string `mapstructure:"cell"`
	DateAttr string `mapstructure:"date_attr"`
	Time     string `mapstructure:"time"`
	Empty    string `mapstructure:"empty"`
}

func DefaultLayout() Layout {
	return Layout{
		Calendar: `[data-testid="calendar"]`,
		Cell:     `[data-testid="calendar-cell"]`,
		DateAttr: "data-date",
		Time:     `[data-testid="slot-time"]`,
		Empty:    `[data-testid="no-slots"]`,
	}
}

type Extractor struct {
	layout Layout
}

func New(layout Layout) *Extractor {
	def := DefaultLayout()
	if layout.Calendar == "" {
		layout.Calendar = def.Calendar
	}
	if layout.Cell == "" {
		layout.Cell = def.Cell
	}
	if layout.DateAttr == "" {
		layout.DateAttr = def.DateAttr
	}
	if layout.Time == "" {
		layout.Time = def.Time
	}
	if layout.Empty == "" {
		layout.Empty = def.Empty
	}
	return &Extractor{layout: layout}
}

// clockRegex finds a clock time inside a longer label, keeping a trailing
// meridiem so "9:00 pm" is never read as 09:00.
var clockRegex = regexp.MustCompile(`\b(?:[01]?\d|2[0-3]):[0-5]\d(?:\s*[AaPp]\.?[Mm]\b\.?|\b)`)

// Extract parses the booking page into slots ordered by date and time.
// Unparseable cells and times are skipped. A page with none of the calendar
// landmarks yields models.ErrLayoutChanged.
func (e *Extractor) Extract(ctx context.Context, html string) ([]models.Slot, error) {
	_, span := tracer.Start(ctx, "Extract")
	defer span.End()

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		span.SetStatus(codes.Error, "failed to parse html")
		return nil, fmt.Errorf("%w: %w", models.ErrLayoutChanged, err)
	}

	cells := doc.Find(e.layout.Cell)
	if cells.Length() == 0 {
		if doc.Find(e.layout.Calendar).Length() > 0 || doc.Find(e.layout.Empty).Length() > 0 {
			return nil, nil
		}
		span.SetStatus(codes.Error, "calendar not found")
		return nil, fmt.Errorf("%w: no element matches %s or %s", models.ErrLayoutChanged, e.layout.Calendar, e.layout.Cell)
	}

	seen := make(map[models.SlotKey]bool)
	var slots []models.Slot
	skipped := 0

	cells.Each(func(_ int, cell *goquery.Selection) {
		date, err := models.ParseDate(cell.AttrOr(e.layout.DateAttr, ""))
		if err != nil {
			skipped++
			return
		}
		cell.Find(e.layout.Time).Each(func(_ int, el *goquery.Selection) {
			text := strings.TrimSpace(el.Text())
			tod, err := parseClock(text)
			if err != nil {
				skipped++
				return
			}
			s := models.NewSlot(date, tod, labelFor(cell, el, text))
			if seen[s.Key()] {
				return
			}
			seen[s.Key()] = true
			slots = append(slots, s)
		})
	})

	slices.SortStableFunc(slots, func(a, b models.Slot) int {
		switch {
		case a.Before(b):
			return -1
		case b.Before(a):
			return 1
		}
		return 0
	})

	span.SetAttributes(
		attribute.Int("cells", cells.Length()),
		attribute.Int("slots", len(slots)),
		attribute.Int("skipped", skipped),
	)
	return slots, nil
}

func parseClock(text string) (models.TimeOfDay, error) {
	if tod, err := models.ParseTimeOfDay(text); err == nil {
		return tod, nil
	}
	if m := clockRegex.FindString(text); m != "" {
		return models.ParseTimeOfDay(m)
	}
	return 0, fmt.Errorf("no time in %q", text)
}

func labelFor(cell, el *goquery.Selection, text string) string {
	for _, candidate := range []string{
		el.AttrOr("aria-label", ""),
		el.AttrOr("title", ""),
		cell.AttrOr("aria-label", ""),
		text,
	} {
		if c := strings.Join(strings.Fields(candidate), " "); c != "" {
			return c
		}
	}
	return ""
}
