package config

import (
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Transport names accepted by NOTIFY_TRANSPORT
const (
	TransportLine  = "line"
	TransportRedis = "redis"
)

// Config represents the application configuration. It is loaded once at
// startup and passed by value into every component that needs it.
type Config struct {
	// Dedup store
	DatabasePath string

	// Memcache configuration (rate limit blocks)
	MemcacheAddr   string
	RateLimitBlock time.Duration

	// Crawler configuration
	CrawlInterval   time.Duration
	HTTPTimeout     time.Duration
	DetailWorkers   int
	FilterPattern   string
	StrictFeedDates bool
	Timezone        string
	EnabledSources  []string

	// URLs for the built-in sources
	ZSJHSBaseURL string
	ZSJHSPath    string
	YHESFeedURL  string
	SMJHFeedURL  string

	// Notification transport and message template
	Transport          string
	MessageTitlePrefix string
	AltTextPrefix      string

	// LINE Messaging API
	LineAPIBaseURL  string
	LineAccessToken string
	LineAdminID     string
	LineGroupChatID string

	// Redis configuration
	RedisAddr            string
	RedisDB              int
	RedisStream          string
	RedisStreamCount     int
	RedisStreamMaxLength int

	// URL shortener
	ReurlPostURI string
	ReurlAPIKey  string

	// Metrics
	MetricsAddr string

	// Environment
	Environment string
}

// LoadConfig loads the configuration from environment variables with defaults
func LoadConfig() Config {
	redisDB, _ := strconv.Atoi(getEnv("REDIS_DB", "0"))
	redisStreamCount, _ := strconv.Atoi(getEnv("REDIS_STREAM_COUNT", "1"))
	redisStreamMaxLength, _ := strconv.Atoi(getEnv("REDIS_STREAM_MAX_LENGTH", "1000"))
	crawlInterval, _ := strconv.Atoi(getEnv("CRAWL_INTERVAL_SECONDS", "60"))
	httpTimeout, _ := strconv.Atoi(getEnv("HTTP_TIMEOUT_SECONDS", "10"))
	rateLimitBlock, _ := strconv.Atoi(getEnv("RATE_LIMIT_BLOCK_SECONDS", "500"))
	detailWorkers, _ := strconv.Atoi(getEnv("DETAIL_WORKERS", "1"))
	strictFeedDates, _ := strconv.ParseBool(getEnv("FEED_STRICT_DATES", "false"))

	return Config{
		DatabasePath:         getEnv("BCFINDER_DB_PATH", "bcdb.db"),
		MemcacheAddr:         getEnv("MEMCACHE_ADDR", "localhost:11211"),
		RateLimitBlock:       time.Duration(rateLimitBlock) * time.Second,
		CrawlInterval:        time.Duration(crawlInterval) * time.Second,
		HTTPTimeout:          time.Duration(httpTimeout) * time.Second,
		DetailWorkers:        detailWorkers,
		FilterPattern:        getEnv("FILTER_PATTERN", "羽球|場地|租借"),
		StrictFeedDates:      strictFeedDates,
		Timezone:             getEnv("TZ_NAME", "Asia/Taipei"),
		EnabledSources:       splitList(getEnv("ENABLED_SOURCES", "zsjhs,yhes,smjh")),
		ZSJHSBaseURL:         getEnv("ZSJHS_BASE_URL", "http://www.csjhs.tp.edu.tw/news/"),
		ZSJHSPath:            getEnv("ZSJHS_PATH", "u_news_v1.asp?id={F246F2F4-4F1E-42DA-B518-5FB731FD672F}"),
		YHESFeedURL:          getEnv("YHES_FEED_URL", "https://www.yhes.tp.edu.tw/nss/main/feeder/5a9759adef37531ea27bf1b0/Cq0o5XU2162?f=normal&vector=private&static=false"),
		SMJHFeedURL:          getEnv("SMJH_FEED_URL", "https://www.smjh.tp.edu.tw/nss/main/feeder/5abf2d62aa93092cee58ceb4/P6nJedk3190?f=normal&%240=KJQUup08386&vector=private&static=false"),
		Transport:            strings.ToLower(getEnv("NOTIFY_TRANSPORT", TransportLine)),
		MessageTitlePrefix:   getEnv("MESSAGE_TITLE_PREFIX", "羽球場-"),
		AltTextPrefix:        getEnv("MESSAGE_ALT_TEXT_PREFIX", "羽球場地通知-"),
		LineAPIBaseURL:       getEnv("LINE_API_BASE_URL", "https://api.line.me"),
		LineAccessToken:      getEnv("LINE_CHANNEL_ACCESS_TOKEN", ""),
		LineAdminID:          getEnv("LINE_ADMIN_ID", ""),
		LineGroupChatID:      getEnv("LINE_GROUP_CHAT_ID", ""),
		RedisAddr:            getEnv("REDIS_ADDR", "localhost:6379"),
		RedisDB:              redisDB,
		RedisStream:          getEnv("REDIS_STREAM", "bcfinder"),
		RedisStreamCount:     redisStreamCount,
		RedisStreamMaxLength: redisStreamMaxLength,
		ReurlPostURI:         getEnv("REURL_POST_URI", ""),
		ReurlAPIKey:          getEnv("REURL_API_KEY", ""),
		MetricsAddr:          getEnv("METRICS_ADDR", ""),
		Environment:          getEnv("BCFINDER_ENVIRONMENT", "development"),
	}
}

// Validate checks the configuration for values the application cannot run with
func (c Config) Validate() error {
	if c.CrawlInterval <= 0 {
		return fmt.Errorf("CRAWL_INTERVAL_SECONDS must be positive")
	}
	if c.HTTPTimeout <= 0 {
		return fmt.Errorf("HTTP_TIMEOUT_SECONDS must be positive")
	}
	if c.DetailWorkers < 1 {
		return fmt.Errorf("DETAIL_WORKERS must be at least 1")
	}
	if c.DatabasePath == "" {
		return fmt.Errorf("BCFINDER_DB_PATH is required")
	}
	if len(c.EnabledSources) == 0 {
		return fmt.Errorf("ENABLED_SOURCES must name at least one source")
	}
	if _, err := regexp.Compile(c.FilterPattern); err != nil {
		return fmt.Errorf("FILTER_PATTERN is invalid: %w", err)
	}
	if _, err := c.Location(); err != nil {
		return fmt.Errorf("TZ_NAME is invalid: %w", err)
	}

	switch c.Transport {
	case TransportLine:
		if c.LineAccessToken == "" || c.LineGroupChatID == "" {
			return fmt.Errorf("LINE_CHANNEL_ACCESS_TOKEN and LINE_GROUP_CHAT_ID are required for the line transport")
		}
	case TransportRedis:
		if c.RedisAddr == "" || c.RedisStream == "" {
			return fmt.Errorf("REDIS_ADDR and REDIS_STREAM are required for the redis transport")
		}
		if c.RedisStreamCount < 1 {
			return fmt.Errorf("REDIS_STREAM_COUNT must be at least 1")
		}
		if c.RedisStreamMaxLength < 1 {
			return fmt.Errorf("REDIS_STREAM_MAX_LENGTH must be at least 1")
		}
	default:
		return fmt.Errorf("unknown NOTIFY_TRANSPORT %q", c.Transport)
	}

	return nil
}

// Location returns the time zone used for run logs
func (c Config) Location() (*time.Location, error) {
	return time.LoadLocation(c.Timezone)
}

// getEnv retrieves an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

func splitList(value string) []string {
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
