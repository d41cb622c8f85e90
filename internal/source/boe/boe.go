// Package boe collects Bank of England publications from the Bank's news
// and speeches RSS feeds: MPC statements, Monetary Policy Summaries,
// speeches, and general press releases. Unlike the Fed and ECB feeds the
// Bank encodes the publication kind in the article URL, so classification
// keys off the link path with the title as a fallback hint. The two feeds
// overlap, so links are deduplicated during enumeration.
package boe

import (
	"bytes"
	"context"
	"encoding/xml"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/fxintel/collector/internal/httpx"
	"github.com/fxintel/collector/internal/resilience"
	"github.com/fxintel/collector/internal/source"
	readability "github.com/go-shiori/go-readability"
	"go.uber.org/zap"
)

const (
	SourceID       = "boe"
	defaultBaseURL = "https://www.bankofengland.co.uk"
)

var feedPaths = []string{"/rss/news", "/rss/speeches"}

// Document types, keyed off the article URL.
const (
	DocSpeech        = "boe_speech"
	DocPolicySummary = "monetary_policy_summary"
	DocMPCStatement  = "mpc_statement"
	DocPressRelease  = "press_release"
)

func init() {
	source.Register(SourceID, New)
}

type feedEntry struct {
	title     string
	link      string
	summary   string
	feed      string
	published time.Time
}

type Adapter struct {
	client *httpx.Client
	log    *zap.SugaredLogger
	now    func() time.Time

	mu      sync.RWMutex
	entries map[string]feedEntry
}

func New(opts source.FactoryOpts) (source.Adapter, error) {
	cc := httpx.DefaultClientConfig()
	cc.BaseURL = defaultBaseURL
	if opts.Cfg.BaseURL != "" {
		cc.BaseURL = opts.Cfg.BaseURL
	}
	return &Adapter{
		client:  httpx.NewClient(cc),
		log:     opts.Log,
		now:     time.Now,
		entries: make(map[string]feedEntry),
	}, nil
}

func (a *Adapter) ID() string { return SourceID }

func (a *Adapter) Capabilities() source.Capabilities {
	return source.Capabilities{SupportsIncremental: false, MaxConcurrency: 1}
}

// ClassifyURL maps a publication URL, with the title as a fallback hint,
// onto a document type.
func ClassifyURL(rawURL, title string) string {
	u := strings.ToLower(rawURL)
	t := strings.ToLower(title)
	switch {
	case strings.Contains(u, "/speech/") || strings.Contains(u, "/speeches/"):
		return DocSpeech
	case strings.Contains(u, "monetary-policy-summary"):
		return DocPolicySummary
	case strings.Contains(u, "/monetary-policy-committee/") || strings.Contains(u, "/mpc/") ||
		strings.HasPrefix(t, "mpc") || strings.Contains(t, "monetary policy committee"):
		return DocMPCStatement
	}
	return DocPressRelease
}

type rssDocument struct {
	Channel struct {
		Items []rssItem `xml:"item"`
	} `xml:"channel"`
}

type rssItem struct {
	Title       string `xml:"title"`
	Link        string `xml:"link"`
	Description string `xml:"description"`
	PubDate     string `xml:"pubDate"`
}

func (it rssItem) published() (time.Time, bool) {
	for _, layout := range []string{time.RFC1123Z, time.RFC1123, time.RFC3339} {
		if ts, err := time.Parse(layout, strings.TrimSpace(it.PubDate)); err == nil {
			return ts.UTC(), true
		}
	}
	return time.Time{}, false
}

// EnumerateUnits walks both feeds and emits one unit per distinct article
// inside the range. A link seen in an earlier feed is not re-emitted.
func (a *Adapter) EnumerateUnits(ctx context.Context, r source.Range) ([]source.CollectionUnit, error) {
	var units []source.CollectionUnit
	seen := make(map[string]bool)

	for _, path := range feedPaths {
		resp, err := a.client.Get(ctx, path, nil)
		if err != nil {
			return nil, err
		}
		var feed rssDocument
		if err := xml.Unmarshal(resp.Body, &feed); err != nil {
			return nil, resilience.Parse(fmt.Errorf("feed %s: %w", path, err))
		}

		for _, it := range feed.Channel.Items {
			link := strings.TrimSpace(it.Link)
			if link == "" || seen[link] {
				continue
			}
			published, ok := it.published()
			if !ok {
				a.log.Warnw("feed item without parseable date, skipping", "link", link)
				continue
			}
			if published.Before(r.Start) || published.After(r.End.AddDate(0, 0, 1)) {
				continue
			}
			seen[link] = true

			entry := feedEntry{
				title:     strings.TrimSpace(it.Title),
				link:      link,
				summary:   strings.TrimSpace(it.Description),
				feed:      path,
				published: published,
			}
			a.mu.Lock()
			a.entries[link] = entry
			a.mu.Unlock()

			units = append(units, source.CollectionUnit{
				SourceID: SourceID,
				Dataset:  ClassifyURL(link, entry.title),
				Key:      link,
				Start:    published,
				End:      published,
			})
		}
	}
	a.log.Infow("enumerated feeds", "feeds", len(feedPaths), "units", len(units))
	return units, nil
}

func (a *Adapter) Fetch(ctx context.Context, unit source.CollectionUnit) (*source.RawPayload, error) {
	resp, err := a.client.GetURL(ctx, unit.Key)
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

func (a *Adapter) Normalize(payload *source.RawPayload) ([]*source.Batch, error) {
	a.mu.RLock()
	entry, ok := a.entries[payload.Unit.Key]
	a.mu.RUnlock()
	if !ok {
		return nil, resilience.Parse(fmt.Errorf("article %s was not enumerated", payload.Unit.Key))
	}

	content := a.extractContent(payload.Body, entry)
	doc := source.Document{
		Source:             SourceID,
		URL:                entry.link,
		Title:              entry.title,
		Content:            content,
		DocumentType:       payload.Unit.Dataset,
		TimestampPublished: entry.published,
		TimestampCollected: payload.FetchedAt,
		Metadata:           map[string]any{"rss_feed": entry.feed, "rss_summary": entry.summary},
	}
	if doc.DocumentType == DocSpeech {
		if speaker := ExtractSpeaker(content); speaker != "" {
			doc.Metadata["speaker"] = speaker
		}
	}

	return []*source.Batch{{
		SourceID: SourceID,
		Dataset:  payload.Unit.Dataset,
		Kind:     source.BatchDocument,
		Docs:     []source.Document{doc},
	}}, nil
}

func (a *Adapter) extractContent(body []byte, entry feedEntry) string {
	pageURL, _ := url.Parse(entry.link)
	if article, err := readability.FromReader(bytes.NewReader(body), pageURL); err == nil {
		if text := strings.TrimSpace(article.TextContent); text != "" {
			return text
		}
	}

	if doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body)); err == nil {
		for _, sel := range []string{"div.page-content", "main"} {
			if text := strings.TrimSpace(doc.Find(sel).Text()); text != "" {
				return text
			}
		}
	}

	a.log.Warnw("content extraction fell back to feed summary", "url", entry.link)
	return entry.summary
}

// ExtractSpeaker scans the leading lines of a speech page's text for the
// "speech by NAME" byline the Bank puts under the title. Best effort.
func ExtractSpeaker(content string) string {
	lines := strings.Split(content, "\n")
	if len(lines) > 25 {
		lines = lines[:25]
	}
	for _, ln := range lines {
		low := strings.ToLower(ln)
		if idx := strings.Index(low, "speech by "); idx >= 0 {
			name := strings.TrimSpace(ln[idx+len("speech by "):])
			if name != "" {
				return name
			}
		}
	}
	return ""
}

// HealthCheck passes when at least one feed responds.
func (a *Adapter) HealthCheck(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	for _, path := range feedPaths {
		if _, err := a.client.Get(ctx, path, nil); err == nil {
			return true
		}
	}
	return false
}
