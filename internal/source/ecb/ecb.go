// Package ecb collects ECB policy rates and EUR reference exchange rates
// from the official ECB Data Portal (SDMX 2.1 REST, CSV responses). All
// source columns are preserved as strings; a `source` column is appended.
//
// Exchange rates (EXR dataflow) support incremental collection via the
// updatedAfter revision cutoff. Policy rates live in the event-based FM
// dataflow, which has no revision cursor, so that dataset is always fetched
// in full.
package ecb

import (
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"net/url"
	"time"

	"github.com/fxintel/collector/internal/httpx"
	"github.com/fxintel/collector/internal/resilience"
	"github.com/fxintel/collector/internal/source"
	"go.uber.org/zap"
)

const (
	SourceID       = "ecb"
	defaultBaseURL = "https://data-api.ecb.europa.eu/service"
)

type dataset struct {
	name        string
	dataflow    string
	key         string
	description string
	incremental bool
}

var (
	policyRates = dataset{
		name:        "policy_rates",
		dataflow:    "FM",
		key:         "B.U2.EUR.4F.KR.MRR_FR+DFR+MRR_MBR.LEV",
		description: "ECB Key Interest Rates",
		incremental: false,
	}
	exchangeRates = dataset{
		name:        "exchange_rates",
		dataflow:    "EXR",
		key:         "D.USD+GBP+JPY+CHF.EUR.SP00.A",
		description: "EUR Reference Exchange Rates",
		incremental: true,
	}
	datasets = map[string]dataset{
		policyRates.name:   policyRates,
		exchangeRates.name: exchangeRates,
	}
)

func init() {
	source.Register(SourceID, New)
}

// Adapter implements source.Adapter for the ECB Data Portal.
type Adapter struct {
	client    *httpx.Client
	log       *zap.SugaredLogger
	watermark source.WatermarkLookup
	now       func() time.Time
}

func New(opts source.FactoryOpts) (source.Adapter, error) {
	cc := httpx.DefaultClientConfig()
	cc.BaseURL = defaultBaseURL
	if opts.Cfg.BaseURL != "" {
		cc.BaseURL = opts.Cfg.BaseURL
	}
	return &Adapter{
		client:    httpx.NewClient(cc),
		log:       opts.Log,
		watermark: opts.Watermark,
		now:       time.Now,
	}, nil
}

func (a *Adapter) ID() string { return SourceID }

func (a *Adapter) Capabilities() source.Capabilities {
	return source.Capabilities{SupportsIncremental: true, MaxConcurrency: 1}
}

// EnumerateUnits yields one unit per dataset. The exchange-rates cursor is
// the window end timestamp; policy rates carry no cursor so the unit is
// re-collected every run.
func (a *Adapter) EnumerateUnits(ctx context.Context, r source.Range) ([]source.CollectionUnit, error) {
	units := []source.CollectionUnit{
		{
			SourceID: SourceID,
			Dataset:  policyRates.name,
			Key:      policyRates.name,
			Start:    r.Start,
			End:      r.End,
		},
		{
			SourceID: SourceID,
			Dataset:  exchangeRates.name,
			Key:      exchangeRates.name,
			Start:    r.Start,
			End:      r.End,
			Cursor:   r.End.UTC().Format("2006-01-02T15:04:05Z"),
		},
	}
	return units, nil
}

func (a *Adapter) Fetch(ctx context.Context, unit source.CollectionUnit) (*source.RawPayload, error) {
	ds, ok := datasets[unit.Dataset]
	if !ok {
		return nil, resilience.TerminalRequest(fmt.Errorf("unknown ecb dataset: %s", unit.Dataset))
	}

	query := url.Values{}
	query.Set("format", "csvdata")
	query.Set("startPeriod", unit.Start.UTC().Format("2006-01-02"))
	query.Set("endPeriod", unit.End.UTC().Format("2006-01-02"))
	if ds.incremental && a.watermark != nil {
		if wm, ok := a.watermark(ctx, ds.name); ok {
			query.Set("updatedAfter", wm)
		}
	}

	resp, err := a.client.Get(ctx, fmt.Sprintf("data/%s/%s", ds.dataflow, ds.key), query)
	if err != nil {
		return nil, err
	}
	return &source.RawPayload{
		Unit:        unit,
		ContentType: "text/csv",
		Body:        resp.Body,
		FetchedAt:   a.now().UTC(),
	}, nil
}

// Normalize parses the SDMX CSV into string rows, appending the mandatory
// source column. An empty body means no observations in the window.
func (a *Adapter) Normalize(payload *source.RawPayload) ([]*source.Batch, error) {
	batch := &source.Batch{
		SourceID: SourceID,
		Dataset:  payload.Unit.Dataset,
		Kind:     source.BatchTabular,
	}
	if len(bytes.TrimSpace(payload.Body)) == 0 {
		a.log.Warnw("empty response body", "dataset", payload.Unit.Dataset)
		return []*source.Batch{batch}, nil
	}

	r := csv.NewReader(bytes.NewReader(payload.Body))
	r.FieldsPerRecord = -1
	header, err := r.Read()
	if err != nil {
		return nil, resilience.Parse(fmt.Errorf("ecb csv header: %w", err))
	}
	batch.Columns = append(append([]string{}, header...), "source")

	for {
		rec, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, resilience.Parse(fmt.Errorf("ecb csv row: %w", err))
		}
		row := make(source.Row, len(header)+1)
		for i, col := range header {
			if i < len(rec) {
				row[col] = rec[i]
			}
		}
		row["source"] = SourceID
		batch.Rows = append(batch.Rows, row)
	}
	a.log.Debugw("normalized ecb batch", "dataset", batch.Dataset, "rows", len(batch.Rows))
	return []*source.Batch{batch}, nil
}

// HealthCheck requests today's exchange rates with a short deadline.
func (a *Adapter) HealthCheck(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	today := a.now().UTC().Format("2006-01-02")
	query := url.Values{}
	query.Set("format", "csvdata")
	query.Set("startPeriod", today)
	query.Set("endPeriod", today)
	_, err := a.client.Get(ctx, fmt.Sprintf("data/%s/%s", exchangeRates.dataflow, exchangeRates.key), query)
	return err == nil
}
