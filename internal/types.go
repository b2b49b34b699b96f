package internal

import (
	"sjsage522/bcfinder/internal/metrics"
	"sjsage522/bcfinder/logger"
	"sjsage522/bcfinder/services/cache"
	"sjsage522/bcfinder/services/notifier"
	"sjsage522/bcfinder/services/store"
)

// Dependencies holds all service dependencies
type Dependencies struct {
	Cache    cache.CacheService
	Store    store.Store
	Notifier *notifier.Dispatcher
	Metrics  *metrics.Metrics
}

// Cleanup closes the store and the notification transport
func (d *Dependencies) Cleanup() {
	if d.Notifier != nil {
		if err := d.Notifier.Close(); err != nil {
			logger.LogError("cleanup", err, "Failed to close notifier")
		}
	}
	if d.Store != nil {
		if err := d.Store.Close(); err != nil {
			logger.LogError("cleanup", err, "Failed to close store")
		}
	}
}
