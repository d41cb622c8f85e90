// Package calendar scrapes a Forex-Factory-style economic calendar: one
// prepared HTML page per day, parsed into tabular event rows (currency,
// impact, forecast, previous, actual). The site is scrape-sensitive, so the
// adapter checks robots.txt before its first fetch, declares strict
// watermark ordering (a failed day blocks the cursor so the gap is retried)
// and leaves the long politeness delays to the per-source rate config.
package calendar

import (
	"bytes"
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/fxintel/collector/internal/httpx"
	"github.com/fxintel/collector/internal/resilience"
	"github.com/fxintel/collector/internal/source"
	"github.com/temoto/robotstxt"
	"go.uber.org/zap"
)

const (
	SourceID       = "calendar"
	defaultBaseURL = "https://www.forexfactory.com"
	datasetName    = "economic_calendar"
	calendarPath   = "/calendar"
)

func init() {
	source.Register(SourceID, New)
}

type Adapter struct {
	client *httpx.Client
	log    *zap.SugaredLogger
	now    func() time.Time

	robotsOnce sync.Once
	robots     *robotstxt.RobotsData
}

func New(opts source.FactoryOpts) (source.Adapter, error) {
	cc := httpx.DefaultClientConfig()
	cc.BaseURL = defaultBaseURL
	if opts.Cfg.BaseURL != "" {
		cc.BaseURL = opts.Cfg.BaseURL
	}
	return &Adapter{
		client: httpx.NewClient(cc),
		log:    opts.Log,
		now:    time.Now,
	}, nil
}

func (a *Adapter) ID() string { return SourceID }

func (a *Adapter) Capabilities() source.Capabilities {
	return source.Capabilities{
		SupportsIncremental: true,
		// Day pages must land in order: a gap means the watermark stops
		// before it so the missing day is collected on the next run.
		StrictWatermark: true,
		MaxConcurrency:  1,
	}
}

// EnumerateUnits yields one unit per calendar day in the range.
func (a *Adapter) EnumerateUnits(ctx context.Context, r source.Range) ([]source.CollectionUnit, error) {
	var units []source.CollectionUnit
	for day := r.Start.UTC().Truncate(24 * time.Hour); !day.After(r.End); day = day.AddDate(0, 0, 1) {
		units = append(units, source.CollectionUnit{
			SourceID: SourceID,
			Dataset:  datasetName,
			Key:      dayParam(day),
			Start:    day,
			End:      day.AddDate(0, 0, 1),
			Cursor:   day.Format("2006-01-02"),
		})
	}
	return units, nil
}

// dayParam renders the site's day-view query value, e.g. aug20.2026.
func dayParam(day time.Time) string {
	return strings.ToLower(day.Format("Jan2.2006"))
}

func (a *Adapter) Fetch(ctx context.Context, unit source.CollectionUnit) (*source.RawPayload, error) {
	if err := a.checkRobots(ctx); err != nil {
		return nil, err
	}
	resp, err := a.client.Get(ctx, calendarPath, url.Values{"day": []string{unit.Key}})
	if err != nil {
		return nil, err
	}
	return &source.RawPayload{
		Unit:        unit,
		ContentType: "text/html",
		Body:        resp.Body,
		FetchedAt:   a.now().UTC(),
	}, nil
}

// checkRobots loads robots.txt once and refuses to scrape a disallowed
// calendar path. An unreachable robots.txt is logged and treated as
// allow-all, matching common crawler practice.
func (a *Adapter) checkRobots(ctx context.Context) error {
	a.robotsOnce.Do(func() {
		resp, err := a.client.Get(ctx, "/robots.txt", nil)
		if err != nil {
			a.log.Warnw("robots.txt unavailable, proceeding", "error", err)
			return
		}
		data, err := robotstxt.FromBytes(resp.Body)
		if err != nil {
			a.log.Warnw("robots.txt unparseable, proceeding", "error", err)
			return
		}
		a.robots = data
	})
	if a.robots != nil && !a.robots.FindGroup(httpx.DefaultClientConfig().UserAgent).Test(calendarPath) {
		return resilience.TerminalRequest(fmt.Errorf("robots.txt disallows %s", calendarPath))
	}
	return nil
}

// Normalize parses the calendar table. Rows come in time blocks: the first
// row of a block repeats the date cell, continuation rows omit it, but the
// day page pins the date anyway so only the cell classes matter.
func (a *Adapter) Normalize(payload *source.RawPayload) ([]*source.Batch, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(payload.Body))
	if err != nil {
		return nil, resilience.Parse(fmt.Errorf("calendar html: %w", err))
	}

	batch := &source.Batch{
		SourceID: SourceID,
		Dataset:  datasetName,
		Kind:     source.BatchTabular,
		Columns:  []string{"date", "time", "currency", "event", "impact", "forecast", "previous", "actual", "source"},
	}
	date := payload.Unit.Start.Format("2006-01-02")

	lastTime := ""
	doc.Find("tr.calendar__row").Each(func(_ int, row *goquery.Selection) {
		event := strings.TrimSpace(row.Find("td.calendar__event").Text())
		if event == "" {
			return
		}
		if t := strings.TrimSpace(row.Find("td.calendar__time").Text()); t != "" {
			lastTime = t
		}
		batch.Rows = append(batch.Rows, source.Row{
			"date":     date,
			"time":     lastTime,
			"currency": strings.TrimSpace(row.Find("td.calendar__currency").Text()),
			"event":    event,
			"impact":   parseImpact(row.Find("td.calendar__impact")),
			"forecast": cleanValue(row.Find("td.calendar__forecast").Text()),
			"previous": cleanValue(row.Find("td.calendar__previous").Text()),
			"actual":   cleanValue(row.Find("td.calendar__actual").Text()),
			"source":   SourceID,
		})
	})
	a.log.Debugw("parsed calendar day", "date", date, "events", len(batch.Rows))
	return []*source.Batch{batch}, nil
}

// parseImpact maps the impact cell's class markers onto High/Medium/Low.
func parseImpact(cell *goquery.Selection) string {
	classes, _ := cell.Attr("class")
	if inner := cell.Find("span, i, div").First(); inner.Length() > 0 {
		if c, ok := inner.Attr("class"); ok {
			classes += " " + c
		}
	}
	classes = strings.ToLower(classes)
	switch {
	case strings.Contains(classes, "high"):
		return "High"
	case strings.Contains(classes, "medium"):
		return "Medium"
	case strings.Contains(classes, "low"):
		return "Low"
	}
	return "Unknown"
}

func cleanValue(s string) string {
	s = strings.TrimSpace(s)
	if s == "" || s == "-" || s == "—" {
		return ""
	}
	return s
}

// HealthCheck fetches robots.txt: reachable host plus scrape permission in
// one probe.
func (a *Adapter) HealthCheck(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := a.checkRobots(ctx); err != nil {
		return false
	}
	return true
}
