package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLoadConfig(t *testing.T) {
	// Test with default values
	config := LoadConfig()
	assert.Equal(t, "bcdb.db", config.DatabasePath)
	assert.Equal(t, "localhost:11211", config.MemcacheAddr)
	assert.Equal(t, 60*time.Second, config.CrawlInterval)
	assert.Equal(t, 10*time.Second, config.HTTPTimeout)
	assert.Equal(t, 1, config.DetailWorkers)
	assert.Equal(t, "羽球|場地|租借", config.FilterPattern)
	assert.False(t, config.StrictFeedDates)
	assert.Equal(t, []string{"zsjhs", "yhes", "smjh"}, config.EnabledSources)
	assert.Equal(t, TransportLine, config.Transport)
	assert.Equal(t, 1, config.RedisStreamCount)

	// Test with environment variables
	t.Setenv("BCFINDER_DB_PATH", "/tmp/test.db")
	t.Setenv("CRAWL_INTERVAL_SECONDS", "30")
	t.Setenv("DETAIL_WORKERS", "4")
	t.Setenv("FEED_STRICT_DATES", "true")
	t.Setenv("ENABLED_SOURCES", " yhes , smjh ,")
	t.Setenv("NOTIFY_TRANSPORT", "Redis")
	t.Setenv("REDIS_STREAM_COUNT", "3")

	config = LoadConfig()
	assert.Equal(t, "/tmp/test.db", config.DatabasePath)
	assert.Equal(t, 30*time.Second, config.CrawlInterval)
	assert.Equal(t, 4, config.DetailWorkers)
	assert.True(t, config.StrictFeedDates)
	assert.Equal(t, []string{"yhes", "smjh"}, config.EnabledSources)
	assert.Equal(t, TransportRedis, config.Transport)
	assert.Equal(t, 3, config.RedisStreamCount)
}

func TestValidateRejectsUnparseableStreamLength(t *testing.T) {
	t.Setenv("NOTIFY_TRANSPORT", "redis")
	t.Setenv("REDIS_STREAM_MAX_LENGTH", "unlimited")

	config := LoadConfig()
	assert.Equal(t, 0, config.RedisStreamMaxLength)
	assert.ErrorContains(t, config.Validate(), "REDIS_STREAM_MAX_LENGTH")
}

func TestValidate(t *testing.T) {
	valid := LoadConfig()
	valid.Transport = TransportRedis
	assert.NoError(t, valid.Validate())

	cases := map[string]func(c *Config){
		"zero interval":       func(c *Config) { c.CrawlInterval = 0 },
		"no sources":          func(c *Config) { c.EnabledSources = nil },
		"bad filter":          func(c *Config) { c.FilterPattern = "(" },
		"bad timezone":        func(c *Config) { c.Timezone = "Mars/Olympus" },
		"unknown transport":   func(c *Config) { c.Transport = "discord" },
		"line without tokens": func(c *Config) { c.Transport = TransportLine; c.LineAccessToken = "" },
		"no detail workers":   func(c *Config) { c.DetailWorkers = 0 },
		"zero stream length":  func(c *Config) { c.RedisStreamMaxLength = 0 },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			c := valid
			mutate(&c)
			assert.Error(t, c.Validate())
		})
	}

	line := valid
	line.Transport = TransportLine
	line.LineAccessToken = "token"
	line.LineGroupChatID = "group"
	assert.NoError(t, line.Validate())
}
