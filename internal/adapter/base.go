package adapter

import (
	"bytes"
	"context"
	stderrors "errors"
	"fmt"
	"net/http"
	"time"

	"sjsage522/bcfinder/helpers"
	"sjsage522/bcfinder/logger"
	"sjsage522/bcfinder/pkg/errors"
	"sjsage522/bcfinder/services/cache"

	"github.com/PuerkitoBio/goquery"
)

// BaseAdapter provides fetching and parsing shared by all adapters
type BaseAdapter struct {
	SourceID  string
	CacheKey  string
	CacheSvc  cache.CacheService
	BlockTime time.Duration
	Client    *http.Client
}

// NewBaseAdapter creates a base whose rate limit marker is <sourceID>_rate_limited
func NewBaseAdapter(sourceID string, cacheSvc cache.CacheService, client *http.Client, blockTime time.Duration) BaseAdapter {
	return BaseAdapter{
		SourceID:  sourceID,
		CacheKey:  sourceID + "_rate_limited",
		CacheSvc:  cacheSvc,
		BlockTime: blockTime,
		Client:    client,
	}
}

// fetchWithCache fetches a URL unless the source is currently rate limited.
// A rate limited response blocks the source for BlockTime.
func (b *BaseAdapter) fetchWithCache(ctx context.Context, url string) ([]byte, error) {
	if b.CacheSvc != nil && b.CacheKey != "" {
		if _, err := b.CacheSvc.Get(b.CacheKey); err == nil {
			return nil, errors.NewRateLimit(b.SourceID, b.BlockTime)
		}
	}

	body, err := helpers.FetchWithRandomHeaders(ctx, b.client(), url)
	if err != nil {
		if stderrors.Is(err, helpers.ErrRateLimited) && b.CacheSvc != nil && b.CacheKey != "" {
			value := []byte(fmt.Sprintf("%d", b.BlockTime/time.Second))
			if setErr := b.CacheSvc.Set(b.CacheKey, value, b.BlockTime); setErr != nil {
				logger.ForSource(b.SourceID).Warn().Err(setErr).Msg("Failed to store rate limit block")
			}
		}
		return nil, errors.NewNetwork(b.SourceID, "fetch "+url, err)
	}

	return body, nil
}

// createDocument parses raw HTML
func (b *BaseAdapter) createDocument(raw []byte) (*goquery.Document, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(raw))
	if err != nil {
		return nil, errors.NewMalformed(b.SourceID, "HTML parsing failed", err)
	}
	return doc, nil
}

func (b *BaseAdapter) client() *http.Client {
	if b.Client != nil {
		return b.Client
	}
	return helpers.NewClient(10 * time.Second)
}
