// Package notifier delivers new announcements and operator alerts.
package notifier

import (
	"context"
	"net/http"

	"sjsage522/bcfinder/config"
	"sjsage522/bcfinder/logger"
	"sjsage522/bcfinder/pkg/errors"
)

// Message is one announcement notification
type Message struct {
	SourceID     string `json:"source_id"`
	SourceName   string `json:"source_name"`
	MessageTitle string `json:"message_title"`
	AltText      string `json:"alt_text"`
	Color        string `json:"color"`
	Title        string `json:"title"`
	Link         string `json:"link"`
	Published    string `json:"published"`
}

// Transport delivers messages. The set of transports is closed: LineTransport
// and RedisTransport are the only implementations.
type Transport interface {
	// Send delivers an announcement
	Send(ctx context.Context, msg Message) error

	// Alert delivers an operator alert
	Alert(ctx context.Context, text string) error

	// Trim caps whatever the transport retains after a sweep
	Trim(ctx context.Context) error

	// Close releases the transport's connections
	Close() error

	transport()
}

// NewTransport creates the transport named by cfg.Transport
func NewTransport(cfg config.Config, client *http.Client) (Transport, error) {
	switch cfg.Transport {
	case config.TransportLine:
		return NewLineTransport(cfg.LineAPIBaseURL, cfg.LineAccessToken, cfg.LineGroupChatID, cfg.LineAdminID, client), nil
	case config.TransportRedis:
		return NewRedisTransport(cfg.RedisAddr, cfg.RedisDB, cfg.RedisStream, cfg.RedisStreamCount, cfg.RedisStreamMaxLength), nil
	default:
		return nil, errors.NewConfiguration("unknown transport "+cfg.Transport, nil)
	}
}

// Dispatcher shortens links and hands messages to the transport
type Dispatcher struct {
	transport Transport
	shortener Shortener
}

// NewDispatcher creates a new dispatcher. A nil shortener keeps links as-is.
func NewDispatcher(t Transport, s Shortener) *Dispatcher {
	if s == nil {
		s = noopShortener{}
	}
	return &Dispatcher{transport: t, shortener: s}
}

// Notify sends one announcement
func (d *Dispatcher) Notify(ctx context.Context, msg Message) error {
	if short := d.shortener.Shorten(ctx, msg.Link); short != "" {
		msg.Link = short
	}

	if err := d.transport.Send(ctx, msg); err != nil {
		return errors.NewTransport(msg.SourceID, "failed to send notification", err)
	}

	logger.ForNotifier().Debug().
		Str("source", msg.SourceID).
		Str("title", msg.Title).
		Str("link", msg.Link).
		Msg("Notification sent")
	return nil
}

// Alert sends an operator alert
func (d *Dispatcher) Alert(ctx context.Context, text string) error {
	if err := d.transport.Alert(ctx, text); err != nil {
		return errors.NewTransport("", "failed to send alert", err)
	}
	return nil
}

// Trim trims the transport after a sweep
func (d *Dispatcher) Trim(ctx context.Context) error {
	return d.transport.Trim(ctx)
}

// Close closes the transport
func (d *Dispatcher) Close() error {
	return d.transport.Close()
}
