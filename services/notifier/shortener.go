package notifier

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"sjsage522/bcfinder/logger"
)

// Shortener shortens links. It returns an empty string when it cannot.
type Shortener interface {
	Shorten(ctx context.Context, link string) string
}

type noopShortener struct{}

func (noopShortener) Shorten(context.Context, string) string { return "" }

// ReurlShortener calls a reurl compatible shortening API
type ReurlShortener struct {
	postURI string
	apiKey  string
	client  *http.Client
}

// NewShortener returns a ReurlShortener, or a shortener that never shortens
// when postURI is empty
func NewShortener(postURI, apiKey string, client *http.Client) Shortener {
	if postURI == "" {
		return noopShortener{}
	}
	if client == nil {
		client = http.DefaultClient
	}
	return &ReurlShortener{postURI: postURI, apiKey: apiKey, client: client}
}

type reurlRequest struct {
	URL string `json:"url"`
}

type reurlResponse struct {
	ShortURL string `json:"short_url"`
}

// Shorten returns the short link, or "" on any failure
func (s *ReurlShortener) Shorten(ctx context.Context, link string) string {
	short, err := s.shorten(ctx, link)
	if err != nil {
		logger.ForNotifier().Error().Err(err).Str("link", link).Msg("Failed to shorten link")
		return ""
	}
	return short
}

func (s *ReurlShortener) shorten(ctx context.Context, link string) (string, error) {
	body, err := json.Marshal(reurlRequest{URL: link})
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.postURI, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("reurl-api-key", s.apiKey)

	resp, err := s.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to call shortener: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("shortener unexpected status code: %d", resp.StatusCode)
	}

	var out reurlResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("failed to decode shortener response: %w", err)
	}
	return out.ShortURL, nil
}
