package adapter

import (
	"bytes"
	"context"
	"regexp"
	"strings"
	"time"

	"sjsage522/bcfinder/internal/record"
	"sjsage522/bcfinder/logger"
	"sjsage522/bcfinder/pkg/errors"

	"github.com/mmcdole/gofeed"
)

// Feed field names, in record order
const (
	FeedTitle       = "title"
	FeedLink        = "link"
	FeedPublished   = "published"
	FeedDescription = "description"
)

const (
	// PublishedLayout is the only accepted input format for entry dates
	PublishedLayout = time.RFC1123
	// PublishedFormat renders dates as year/month/day without leading zeros
	PublishedFormat = "2006/1/2"
)

// FeedColumns is the fixed schema shared by feed sources
var FeedColumns = []string{FeedTitle, FeedLink, FeedPublished, FeedDescription}

// FeedConfig describes a syndication feed source
type FeedConfig struct {
	URL string
	// Filter drops entries whose title does not match
	Filter *regexp.Regexp
	// StrictDates fails the run on a present but malformed published date
	// instead of falling back to the parser's date or an empty string
	StrictDates bool
}

// FeedAdapter extracts entries from an RSS or Atom feed
type FeedAdapter struct {
	BaseAdapter
	Config FeedConfig
}

// NewFeedAdapter creates a new feed adapter
func NewFeedAdapter(base BaseAdapter, cfg FeedConfig) *FeedAdapter {
	return &FeedAdapter{BaseAdapter: base, Config: cfg}
}

// Fetch retrieves the feed document
func (a *FeedAdapter) Fetch(ctx context.Context) ([]byte, error) {
	return a.fetchWithCache(ctx, a.Config.URL)
}

// Normalizer strips markup from the description and keeps other fields as-is
func (a *FeedAdapter) Normalizer() record.Normalizer {
	return record.Normalizer{
		Default: record.Identity,
		Fields:  map[string]record.Rule{FeedDescription: record.StripMarkup},
	}
}

// Extract parses the feed and keeps the entries whose title matches the filter
func (a *FeedAdapter) Extract(ctx context.Context, raw []byte) (*Batch, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	feed, err := gofeed.NewParser().Parse(bytes.NewReader(raw))
	if err != nil {
		return nil, errors.New(errors.ErrorTypeStructureNotFound, a.SourceID, "feed could not be parsed", err)
	}

	batch := &Batch{Schema: record.NewSchema(FeedColumns...)}
	for _, item := range feed.Items {
		if a.Config.Filter != nil && !a.Config.Filter.MatchString(item.Title) {
			continue
		}

		published, err := a.published(item)
		if err != nil {
			return nil, err
		}

		batch.Rows = append(batch.Rows, []record.Field{
			{Name: FeedTitle, Value: item.Title},
			{Name: FeedLink, Value: item.Link},
			{Name: FeedPublished, Value: published},
			{Name: FeedDescription, Value: item.Description},
		})
	}

	return batch, nil
}

// published reformats the entry date. An absent date yields an empty string.
func (a *FeedAdapter) published(item *gofeed.Item) (string, error) {
	raw := strings.TrimSpace(item.Published)
	if raw == "" {
		return "", nil
	}

	t, err := time.Parse(PublishedLayout, raw)
	if err == nil {
		return t.Format(PublishedFormat), nil
	}

	if a.Config.StrictDates {
		return "", errors.NewMalformed(a.SourceID, "published date "+raw, err)
	}

	log := logger.ForSource(a.SourceID).Warn().Str("published", raw).Str("title", item.Title)
	if item.PublishedParsed != nil {
		log.Msg("Published date not in expected layout, using parsed date")
		return item.PublishedParsed.Format(PublishedFormat), nil
	}
	log.Msg("Published date could not be parsed, leaving it empty")
	return "", nil
}
