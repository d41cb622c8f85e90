// Package gdelt collects currency-relevant news mentions from the GDELT
// Global Knowledge Graph via the BigQuery REST API. BigQuery bills by bytes
// scanned, so every day's query is preceded by a dry run; the orchestrator
// compares that estimate against the configured byte budget and refuses the
// unit before any cost is incurred.
package gdelt

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/fxintel/collector/internal/costguard"
	"github.com/fxintel/collector/internal/httpx"
	"github.com/fxintel/collector/internal/resilience"
	"github.com/fxintel/collector/internal/source"
	"go.uber.org/zap"
)

const (
	SourceID       = "gdelt"
	defaultBaseURL = "https://bigquery.googleapis.com/bigquery/v2"
	defaultKeyEnv  = "BIGQUERY_ACCESS_TOKEN"
	projectEnv     = "BIGQUERY_PROJECT_ID"
	datasetName    = "news_mentions"
)

// Domain credibility tiers carried into document metadata.
var (
	tier1 = []string{"reuters.com", "bloomberg.com", "ft.com"}
	tier2 = []string{"wsj.com", "cnbc.com"}
)

func init() {
	source.Register(SourceID, New)
}

type Adapter struct {
	client  *httpx.Client
	project string
	log     *zap.SugaredLogger
	now     func() time.Time
}

func New(opts source.FactoryOpts) (source.Adapter, error) {
	keyEnv := opts.Cfg.APIKeyEnv
	if keyEnv == "" {
		keyEnv = defaultKeyEnv
	}
	token := os.Getenv(keyEnv)
	if token == "" {
		return nil, fmt.Errorf("gdelt: access token required, set %s", keyEnv)
	}
	project := os.Getenv(projectEnv)
	if project == "" {
		return nil, fmt.Errorf("gdelt: project required, set %s", projectEnv)
	}

	cc := httpx.DefaultClientConfig()
	cc.BaseURL = defaultBaseURL
	if opts.Cfg.BaseURL != "" {
		cc.BaseURL = opts.Cfg.BaseURL
	}
	cc.Headers["Authorization"] = "Bearer " + token
	return &Adapter{
		client:  httpx.NewClient(cc),
		project: project,
		log:     opts.Log,
		now:     time.Now,
	}, nil
}

func (a *Adapter) ID() string { return SourceID }

func (a *Adapter) Capabilities() source.Capabilities {
	return source.Capabilities{SupportsIncremental: true, MaxConcurrency: 1}
}

// EnumerateUnits yields one unit per partition day. Daily granularity keeps
// each scan small enough to pass the byte budget.
func (a *Adapter) EnumerateUnits(ctx context.Context, r source.Range) ([]source.CollectionUnit, error) {
	var units []source.CollectionUnit
	for day := r.Start.UTC().Truncate(24 * time.Hour); !day.After(r.End); day = day.AddDate(0, 0, 1) {
		units = append(units, source.CollectionUnit{
			SourceID: SourceID,
			Dataset:  datasetName,
			Key:      day.Format("2006-01-02"),
			Start:    day,
			End:      day.AddDate(0, 0, 1),
			Cursor:   day.Format("2006-01-02"),
		})
	}
	return units, nil
}

func dayQuery(unit source.CollectionUnit) string {
	return fmt.Sprintf(`SELECT
  DATE,
  SourceCommonName,
  DocumentIdentifier,
  V2Tone,
  V2Themes AS Themes,
  V2Locations AS Locations,
  V2Organizations AS Organizations
FROM `+"`gdelt-bq.gdeltv2.gkg_partitioned`"+`
WHERE DATE(_PARTITIONTIME) >= "%s"
  AND DATE(_PARTITIONTIME) < "%s"
  AND (V2Themes LIKE '%%ECON_CURRENCY%%' OR V2Themes LIKE '%%ECON_CENTRAL_BANK%%')
  AND (V2Themes LIKE '%%EUR%%' OR V2Themes LIKE '%%USD%%' OR V2Themes LIKE '%%GBP%%' OR V2Themes LIKE '%%JPY%%')`,
		unit.Start.UTC().Format("2006-01-02"), unit.End.UTC().Format("2006-01-02"))
}

type queryRequest struct {
	Query        string `json:"query"`
	UseLegacySQL bool   `json:"useLegacySql"`
	DryRun       bool   `json:"dryRun,omitempty"`
}

type queryResponse struct {
	Schema struct {
		Fields []struct {
			Name string `json:"name"`
		} `json:"fields"`
	} `json:"schema"`
	Rows []struct {
		F []struct {
			V any `json:"v"`
		} `json:"f"`
	} `json:"rows"`
	TotalBytesProcessed string `json:"totalBytesProcessed"`
	JobComplete         bool   `json:"jobComplete"`
}

func (a *Adapter) runQuery(ctx context.Context, unit source.CollectionUnit, dryRun bool) (*queryResponse, []byte, error) {
	reqBody, err := json.Marshal(queryRequest{Query: dayQuery(unit), DryRun: dryRun})
	if err != nil {
		return nil, nil, resilience.Parse(err)
	}
	resp, err := a.client.Do(ctx, &httpx.Request{
		Method:  http.MethodPost,
		Path:    fmt.Sprintf("projects/%s/queries", a.project),
		Headers: map[string]string{"Content-Type": "application/json"},
		Body:    bytes.NewReader(reqBody),
	})
	if err != nil {
		return nil, nil, err
	}
	var parsed queryResponse
	if err := resp.JSON(&parsed); err != nil {
		return nil, nil, err
	}
	return &parsed, resp.Body, nil
}

// Estimate dry-runs the day's query and reports the bytes BigQuery would
// scan.
func (a *Adapter) Estimate(ctx context.Context, unit source.CollectionUnit) (costguard.Estimate, error) {
	parsed, _, err := a.runQuery(ctx, unit, true)
	if err != nil {
		return costguard.Estimate{}, err
	}
	scanned, err := strconv.ParseInt(parsed.TotalBytesProcessed, 10, 64)
	if err != nil {
		return costguard.Estimate{}, resilience.Parse(fmt.Errorf("dry run bytes %q: %w", parsed.TotalBytesProcessed, err))
	}
	a.log.Infow("dry run", "day", unit.Key, "gb", float64(scanned)/(1<<30))
	return costguard.Estimate{
		Bytes:  scanned,
		Detail: fmt.Sprintf("gkg partition scan %s", unit.Key),
	}, nil
}

func (a *Adapter) Fetch(ctx context.Context, unit source.CollectionUnit) (*source.RawPayload, error) {
	_, raw, err := a.runQuery(ctx, unit, false)
	if err != nil {
		return nil, err
	}
	return &source.RawPayload{
		Unit:        unit,
		ContentType: "application/json",
		Body:        raw,
		FetchedAt:   a.now().UTC(),
	}, nil
}

// Normalize turns result rows into news-mention documents. Rows without a
// document URL are dropped; repeated URLs inside the day keep only the first
// occurrence.
func (a *Adapter) Normalize(payload *source.RawPayload) ([]*source.Batch, error) {
	var parsed queryResponse
	if err := json.Unmarshal(payload.Body, &parsed); err != nil {
		return nil, resilience.Parse(err)
	}

	fieldIdx := make(map[string]int, len(parsed.Schema.Fields))
	for i, f := range parsed.Schema.Fields {
		fieldIdx[f.Name] = i
	}
	cell := func(row []struct {
		V any `json:"v"`
	}, name string) string {
		i, ok := fieldIdx[name]
		if !ok || i >= len(row) || row[i].V == nil {
			return ""
		}
		return fmt.Sprintf("%v", row[i].V)
	}

	batch := &source.Batch{
		SourceID: SourceID,
		Dataset:  datasetName,
		Kind:     source.BatchDocument,
	}
	seen := make(map[string]struct{})
	for _, r := range parsed.Rows {
		docURL := cell(r.F, "DocumentIdentifier")
		if docURL == "" {
			continue
		}
		urlHash := hashURL(docURL)
		if _, dup := seen[urlHash]; dup {
			continue
		}
		seen[urlHash] = struct{}{}

		domain := cell(r.F, "SourceCommonName")
		batch.Docs = append(batch.Docs, source.Document{
			Source:             SourceID,
			URL:                docURL,
			DocumentType:       "news_mention",
			TimestampPublished: parseGkgDate(cell(r.F, "DATE")),
			TimestampCollected: payload.FetchedAt,
			Metadata: map[string]any{
				"source_domain":    domain,
				"tone":             cell(r.F, "V2Tone"),
				"themes":           splitField(cell(r.F, "Themes")),
				"locations":        splitField(cell(r.F, "Locations")),
				"organizations":    splitField(cell(r.F, "Organizations")),
				"credibility_tier": credibilityTier(domain),
				"url_hash":         urlHash,
			},
		})
	}
	a.log.Debugw("normalized gdelt day", "day", payload.Unit.Key, "docs", len(batch.Docs))
	return []*source.Batch{batch}, nil
}

func hashURL(u string) string {
	h := sha256.Sum256([]byte(u))
	return hex.EncodeToString(h[:])
}

// credibilityTier assigns 1 for wire services and the major financial
// press, 2 for the secondary business press, 3 for everything else.
func credibilityTier(domain string) int {
	domain = strings.ToLower(domain)
	for _, d := range tier1 {
		if strings.Contains(domain, d) {
			return 1
		}
	}
	for _, d := range tier2 {
		if strings.Contains(domain, d) {
			return 2
		}
	}
	return 3
}

func splitField(v string) []string {
	if v == "" {
		return nil
	}
	parts := strings.Split(v, ";")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// parseGkgDate handles the GKG numeric timestamp (YYYYMMDDHHMMSS).
func parseGkgDate(v string) time.Time {
	for _, layout := range []string{"20060102150405", "2006-01-02 15:04:05", "2006-01-02"} {
		if ts, err := time.Parse(layout, v); err == nil {
			return ts.UTC()
		}
	}
	return time.Time{}
}

// HealthCheck dry-runs a trivial statement.
func (a *Adapter) HealthCheck(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	reqBody, _ := json.Marshal(queryRequest{Query: "SELECT 1", DryRun: true})
	_, err := a.client.Do(ctx, &httpx.Request{
		Method:  http.MethodPost,
		Path:    fmt.Sprintf("projects/%s/queries", a.project),
		Headers: map[string]string{"Content-Type": "application/json"},
		Body:    bytes.NewReader(reqBody),
	})
	return err == nil
}
