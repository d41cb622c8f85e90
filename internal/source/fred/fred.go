// Package fred collects macroeconomic indicators from the FRED
// series/observations API (St. Louis Fed). One unit per configured series;
// incremental collection resumes from the stored per-series watermark via
// observation_start. Missing observations (FRED's "." marker) are dropped
// with a warning during normalization.
package fred

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"time"

	"github.com/fxintel/collector/internal/httpx"
	"github.com/fxintel/collector/internal/resilience"
	"github.com/fxintel/collector/internal/source"
	"go.uber.org/zap"
)

const (
	SourceID       = "fred"
	defaultBaseURL = "https://api.stlouisfed.org"
	defaultKeyEnv  = "FRED_API_KEY"

	// pageLimit is the observations page size (FRED caps a request at 100k).
	pageLimit = 10000
)

type series struct {
	id        string
	name      string
	frequency string
	units     string
}

// The fixed indicator set: financial stress, the policy rate, inflation and
// unemployment.
var allSeries = []series{
	{id: "STLFSI4", name: "financial_stress", frequency: "W", units: "Index"},
	{id: "DFF", name: "federal_funds_rate", frequency: "D", units: "Percent"},
	{id: "CPIAUCSL", name: "cpi", frequency: "M", units: "Index 1982-1984=100"},
	{id: "UNRATE", name: "unemployment_rate", frequency: "M", units: "Percent"},
}

var seriesByName = func() map[string]series {
	m := make(map[string]series, len(allSeries))
	for _, s := range allSeries {
		m[s.name] = s
	}
	return m
}()

func init() {
	source.Register(SourceID, New)
}

type Adapter struct {
	client    *httpx.Client
	apiKey    string
	log       *zap.SugaredLogger
	watermark source.WatermarkLookup
	now       func() time.Time
}

func New(opts source.FactoryOpts) (source.Adapter, error) {
	keyEnv := opts.Cfg.APIKeyEnv
	if keyEnv == "" {
		keyEnv = defaultKeyEnv
	}
	apiKey := os.Getenv(keyEnv)
	if apiKey == "" {
		return nil, fmt.Errorf("fred: API key required, set %s", keyEnv)
	}

	cc := httpx.DefaultClientConfig()
	cc.BaseURL = defaultBaseURL
	if opts.Cfg.BaseURL != "" {
		cc.BaseURL = opts.Cfg.BaseURL
	}
	return &Adapter{
		client:    httpx.NewClient(cc),
		apiKey:    apiKey,
		log:       opts.Log,
		watermark: opts.Watermark,
		now:       time.Now,
	}, nil
}

func (a *Adapter) ID() string { return SourceID }

func (a *Adapter) Capabilities() source.Capabilities {
	// FRED allows 120 req/min; two parallel series fetches stay well inside.
	return source.Capabilities{SupportsIncremental: true, MaxConcurrency: 2}
}

func (a *Adapter) EnumerateUnits(ctx context.Context, r source.Range) ([]source.CollectionUnit, error) {
	units := make([]source.CollectionUnit, 0, len(allSeries))
	for _, s := range allSeries {
		units = append(units, source.CollectionUnit{
			SourceID: SourceID,
			Dataset:  s.name,
			Key:      s.id,
			Start:    r.Start,
			End:      r.End,
			Cursor:   r.End.UTC().Format("2006-01-02"),
		})
	}
	return units, nil
}

func (a *Adapter) Fetch(ctx context.Context, unit source.CollectionUnit) (*source.RawPayload, error) {
	s, ok := seriesByName[unit.Dataset]
	if !ok {
		return nil, resilience.TerminalRequest(fmt.Errorf("unknown fred series: %s", unit.Dataset))
	}

	start := unit.Start.UTC().Format("2006-01-02")
	if a.watermark != nil {
		if wm, ok := a.watermark(ctx, unit.Dataset); ok && wm > start {
			// Resume the day after the last durable observation.
			if d, err := time.Parse("2006-01-02", wm); err == nil {
				start = d.AddDate(0, 0, 1).Format("2006-01-02")
			}
		}
	}

	base := url.Values{}
	base.Set("series_id", s.id)
	base.Set("api_key", a.apiKey)
	base.Set("file_type", "json")
	base.Set("observation_start", start)
	base.Set("observation_end", unit.End.UTC().Format("2006-01-02"))

	// Long backfills exceed the per-request observation cap, so walk the
	// offset-paginated pages and stitch the observation arrays back together.
	p := httpx.NewOffsetPaginator("fred/series/observations", pageLimit, "observations")
	p.Base = base

	var all []json.RawMessage
	for req := p.FirstPage(); req != nil; {
		resp, err := a.client.Do(ctx, req)
		if err != nil {
			return nil, err
		}
		var page struct {
			Observations []json.RawMessage `json:"observations"`
		}
		if err := resp.JSON(&page); err != nil {
			return nil, err
		}
		all = append(all, page.Observations...)
		if req, err = p.NextPage(resp); err != nil {
			return nil, resilience.Parse(err)
		}
	}

	body, err := json.Marshal(map[string]any{"observations": all})
	if err != nil {
		return nil, resilience.Parse(err)
	}
	return &source.RawPayload{
		Unit:        unit,
		ContentType: "application/json",
		Body:        body,
		FetchedAt:   a.now().UTC(),
	}, nil
}

type observationsResponse struct {
	Observations []struct {
		RealtimeStart string `json:"realtime_start"`
		RealtimeEnd   string `json:"realtime_end"`
		Date          string `json:"date"`
		Value         string `json:"value"`
	} `json:"observations"`
}

// Normalize coerces observation values to float64. FRED marks missing data
// points with "."; those rows are dropped, not failed.
func (a *Adapter) Normalize(payload *source.RawPayload) ([]*source.Batch, error) {
	s, ok := seriesByName[payload.Unit.Dataset]
	if !ok {
		return nil, resilience.Parse(fmt.Errorf("unknown fred series: %s", payload.Unit.Dataset))
	}

	var parsed observationsResponse
	resp := httpx.Response{Body: payload.Body}
	if err := resp.JSON(&parsed); err != nil {
		return nil, err
	}

	batch := &source.Batch{
		SourceID: SourceID,
		Dataset:  s.name,
		Kind:     source.BatchTabular,
		Columns:  []string{"date", "series_id", "value", "realtime_start", "realtime_end", "frequency", "units", "source"},
		Schema: &source.Schema{Fields: []source.FieldDefinition{
			{Name: "date", DataType: "STRING"},
			{Name: "series_id", DataType: "STRING"},
			{Name: "value", DataType: "DOUBLE"},
			{Name: "frequency", DataType: "STRING"},
			{Name: "units", DataType: "STRING"},
			{Name: "source", DataType: "STRING"},
		}},
	}

	dropped := 0
	for _, obs := range parsed.Observations {
		if obs.Value == "." {
			dropped++
			continue
		}
		value, err := strconv.ParseFloat(obs.Value, 64)
		if err != nil {
			dropped++
			continue
		}
		batch.Rows = append(batch.Rows, source.Row{
			"date":           obs.Date,
			"series_id":      s.id,
			"value":          value,
			"realtime_start": obs.RealtimeStart,
			"realtime_end":   obs.RealtimeEnd,
			"frequency":      s.frequency,
			"units":          s.units,
			"source":         SourceID,
		})
	}
	if dropped > 0 {
		a.log.Warnw("dropped unparseable observations", "series", s.id, "dropped", dropped)
	}
	return []*source.Batch{batch}, nil
}

// HealthCheck requests a one-observation slice of the daily funds rate.
func (a *Adapter) HealthCheck(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	query := url.Values{}
	query.Set("series_id", "DFF")
	query.Set("api_key", a.apiKey)
	query.Set("file_type", "json")
	query.Set("limit", "1")
	_, err := a.client.Get(ctx, "fred/series/observations", query)
	return err == nil
}
