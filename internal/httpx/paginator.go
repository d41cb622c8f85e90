package httpx

import (
	"encoding/json"
	"net/url"
	"strconv"
)

// OffsetPaginator walks offset/limit paginated REST APIs.
type OffsetPaginator struct {
	Path       string
	Limit      int
	Offset     int
	OffsetKey  string // query param name (default: "offset")
	LimitKey   string // query param name (default: "limit")
	TotalKey   string // JSON key holding the total count (default: "count")
	ResultsKey string // JSON key holding the results array

	// Base query params repeated on every page.
	Base url.Values

	total   int
	fetched int
}

// NewOffsetPaginator creates an offset-based paginator.
func NewOffsetPaginator(path string, limit int, resultsKey string) *OffsetPaginator {
	return &OffsetPaginator{
		Path:       path,
		Limit:      limit,
		OffsetKey:  "offset",
		LimitKey:   "limit",
		TotalKey:   "count",
		ResultsKey: resultsKey,
	}
}

// FirstPage returns the first page request.
func (p *OffsetPaginator) FirstPage() *Request {
	query := url.Values{}
	for k, vs := range p.Base {
		for _, v := range vs {
			query.Add(k, v)
		}
	}
	query.Set(p.OffsetKey, strconv.Itoa(p.Offset))
	query.Set(p.LimitKey, strconv.Itoa(p.Limit))
	return &Request{Method: "GET", Path: p.Path, Query: query}
}

// NextPage returns the next page request based on the response, or nil when
// every record has been fetched.
func (p *OffsetPaginator) NextPage(resp *Response) (*Request, error) {
	var data map[string]any
	if err := json.Unmarshal(resp.Body, &data); err != nil {
		return nil, err
	}

	if total, ok := data[p.TotalKey]; ok {
		if v, ok := total.(float64); ok {
			p.total = int(v)
		}
	}
	if results, ok := data[p.ResultsKey]; ok {
		if arr, ok := results.([]any); ok {
			p.fetched += len(arr)
		}
	}
	if p.fetched >= p.total {
		return nil, nil
	}
	p.Offset = p.fetched
	return p.FirstPage(), nil
}
