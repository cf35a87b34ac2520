package feed

import (
	"bytes"
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/sony/gobreaker"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/text/encoding/htmlindex"

	"dealerchat/internal/domain"
	applog "dealerchat/internal/log"
)

var (
	// ErrNetwork covers unreachable feed, timeouts, non-2xx responses and an open breaker.
	ErrNetwork = errors.New("feed unavailable")
	// ErrParse means the feed body was not well-formed markup.
	ErrParse = errors.New("feed malformed")
)

const (
	inStock      = "in stock"
	missingModel = "N/A"
	missingPrice = "N/A"
	missingLink  = "#"
)

// rss mirrors the subset of a Google Merchant feed the catalog reads. The root
// element name is not checked; only channel/item under it matters.
type rss struct {
	Channel struct {
		Items []item `xml:"item"`
	} `xml:"channel"`
}

type item struct {
	Title        *string `xml:"http://base.google.com/ns/1.0 title"`
	Description  *string `xml:"http://base.google.com/ns/1.0 description"`
	Link         *string `xml:"http://base.google.com/ns/1.0 link"`
	ImageLink    *string `xml:"http://base.google.com/ns/1.0 image_link"`
	Availability *string `xml:"http://base.google.com/ns/1.0 availability"`
}

// Fetcher downloads and parses the catalog feed. It does not cache.
type Fetcher struct {
	url        string
	httpClient *http.Client
	breaker    *gobreaker.CircuitBreaker
	tracer     trace.Tracer
	onFetch    func(ctx context.Context, err error)
}

func NewFetcher(url string, timeout time.Duration) *Fetcher {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	settings := gobreaker.Settings{
		Name:        "catalog-feed",
		MaxRequests: 1,
		Interval:    60 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		// A malformed body means the upstream answered; only transport failures trip.
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, ErrParse)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			applog.Info(nil, "feed.breaker.state", map[string]any{"name": name, "from": from.String(), "to": to.String()})
		},
	}
	return &Fetcher{
		url:        url,
		httpClient: &http.Client{Timeout: timeout},
		breaker:    gobreaker.NewCircuitBreaker(settings),
		tracer:     otel.Tracer("dealerchat/feed"),
	}
}

// OnFetch registers a hook called after every fetch attempt.
func (f *Fetcher) OnFetch(fn func(ctx context.Context, err error)) { f.onFetch = fn }

// FetchSnapshot performs one GET against the feed and returns the in-stock listings.
// Errors wrap ErrNetwork or ErrParse.
func (f *Fetcher) FetchSnapshot(ctx context.Context) (domain.CatalogSnapshot, error) {
	ctx, span := f.tracer.Start(ctx, "feed.fetch")
	defer span.End()
	span.SetAttributes(attribute.String("feed.url", f.url))

	res, err := f.breaker.Execute(func() (interface{}, error) {
		body, err := f.get(ctx)
		if err != nil {
			return nil, err
		}
		return ParseListings(body)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		err = fmt.Errorf("%w: %v", ErrNetwork, err)
	}
	if f.onFetch != nil {
		f.onFetch(ctx, err)
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return domain.CatalogSnapshot{}, err
	}

	listings := res.([]domain.Listing)
	span.SetAttributes(attribute.Int("feed.listings", len(listings)))
	return domain.CatalogSnapshot{Listings: listings, FetchedAt: time.Now()}, nil
}

func (f *Fetcher) get(ctx context.Context) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.url, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: build request: %v", ErrNetwork, err)
	}
	resp, err := f.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNetwork, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("%w: status %d", ErrNetwork, resp.StatusCode)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: read body: %v", ErrNetwork, err)
	}
	return body, nil
}

// ParseListings decodes a feed document and keeps only in-stock entries, in feed order.
func ParseListings(body []byte) ([]domain.Listing, error) {
	var doc rss
	dec := xml.NewDecoder(bytes.NewReader(body))
	dec.CharsetReader = charsetReader
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrParse, err)
	}

	out := make([]domain.Listing, 0, len(doc.Channel.Items))
	for _, it := range doc.Channel.Items {
		if it.Availability == nil || strings.TrimSpace(*it.Availability) != inStock {
			continue
		}
		out = append(out, domain.Listing{
			Model:     text(it.Title, missingModel, true),
			PriceText: text(it.Description, missingPrice, true),
			Link:      text(it.Link, missingLink, false),
			ImageURL:  text(it.ImageLink, "", false),
		})
	}
	return out, nil
}

// charsetReader decodes feeds that declare a non-UTF-8 encoding.
func charsetReader(label string, in io.Reader) (io.Reader, error) {
	enc, err := htmlindex.Get(label)
	if err != nil {
		return nil, fmt.Errorf("unsupported encoding %q: %w", label, err)
	}
	return enc.NewDecoder().Reader(in), nil
}

func text(v *string, missing string, trim bool) string {
	if v == nil {
		return missing
	}
	if !trim {
		return *v
	}
	if t := strings.TrimSpace(*v); t != "" {
		return t
	}
	return missing
}
