// Package ecbnews collects ECB press releases, speeches, policy statements
// and economic bulletins from the official press RSS feed. Enumeration
// parses the feed into one unit per article; Fetch downloads the article
// page; Normalize extracts readable text and classifies the document into a
// bucket dataset. Re-discovered articles are dropped by the framework's
// deduplicator, so the feed can be re-read every run without incremental
// cursors.
package ecbnews

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
	SourceID       = "ecb_news"
	defaultBaseURL = "https://www.ecb.europa.eu"
	feedPath       = "/rss/press.html"
)

func init() {
	source.Register(SourceID, New)
}

type feedEntry struct {
	title     string
	link      string
	summary   string
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
	// The feed is re-read in full; dedup keeps exports append-only.
	return source.Capabilities{SupportsIncremental: false, MaxConcurrency: 1}
}

// rssDocument covers both RSS 2.0 (<rss><channel><item>) and the RDF/RSS
// 1.0 shape the ECB serves, where items sit directly under the root.
type rssDocument struct {
	Channel struct {
		Items []rssItem `xml:"item"`
	} `xml:"channel"`
	Items []rssItem `xml:"item"`
}

type rssItem struct {
	Title       string `xml:"title"`
	Link        string `xml:"link"`
	Description string `xml:"description"`
	PubDate     string `xml:"pubDate"`
	DCDate      string `xml:"date"`
}

func (it rssItem) published() (time.Time, bool) {
	for _, layout := range []string{time.RFC1123Z, time.RFC1123, time.RFC3339, "2006-01-02"} {
		for _, raw := range []string{it.PubDate, it.DCDate} {
			if raw == "" {
				continue
			}
			if ts, err := time.Parse(layout, strings.TrimSpace(raw)); err == nil {
				return ts.UTC(), true
			}
		}
	}
	return time.Time{}, false
}

// EnumerateUnits reads the feed and emits one unit per article whose
// publication date falls inside the range. The unit dataset is the
// classified bucket, so each bucket exports as its own dataset.
func (a *Adapter) EnumerateUnits(ctx context.Context, r source.Range) ([]source.CollectionUnit, error) {
	resp, err := a.client.Get(ctx, feedPath, nil)
	if err != nil {
		return nil, err
	}

	var feed rssDocument
	if err := xml.Unmarshal(resp.Body, &feed); err != nil {
		return nil, resilience.Parse(fmt.Errorf("rss feed: %w", err))
	}
	items := feed.Channel.Items
	if len(items) == 0 {
		items = feed.Items
	}

	var units []source.CollectionUnit
	for _, it := range items {
		link := strings.TrimSpace(it.Link)
		if link == "" {
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

		entry := feedEntry{
			title:     strings.TrimSpace(it.Title),
			link:      link,
			summary:   strings.TrimSpace(it.Description),
			published: published,
		}
		a.mu.Lock()
		a.entries[link] = entry
		a.mu.Unlock()

		units = append(units, source.CollectionUnit{
			SourceID: SourceID,
			Dataset:  Classify(entry.title, entry.summary),
			Key:      link,
			Start:    published,
			End:      published,
		})
	}
	a.log.Infow("enumerated feed", "items", len(items), "units", len(units))
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

// Normalize extracts the article text and builds one document. Readability
// does the heavy lifting; a plain main-element scrape is the fallback, and
// the feed summary the last resort.
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
		Metadata:           map[string]any{"language": "en"},
	}
	if doc.DocumentType == BucketSpeech {
		if speaker := ExtractSpeaker(entry.title, content); speaker != "" {
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
		if text := strings.TrimSpace(doc.Find("main").Text()); text != "" {
			return spaceRun.ReplaceAllString(text, " ")
		}
	}

	a.log.Warnw("content extraction fell back to feed summary", "url", entry.link)
	return entry.summary
}

// HealthCheck verifies the feed endpoint responds.
func (a *Adapter) HealthCheck(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	_, err := a.client.Get(ctx, feedPath, nil)
	return err == nil
}
