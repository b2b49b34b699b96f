package source

import (
	"fmt"
	"net/http"
	"regexp"
	"strings"

	"sjsage522/bcfinder/config"
	"sjsage522/bcfinder/internal/adapter"
	"sjsage522/bcfinder/logger"
	"sjsage522/bcfinder/pkg/errors"
	"sjsage522/bcfinder/services/cache"
)

type definition struct {
	name  string
	color string
	build func(cfg config.Config, base adapter.BaseAdapter, filter *regexp.Regexp) (adapter.Adapter, Template)
}

// definitions holds the built-in sources keyed by id
var definitions = map[string]definition{
	"zsjhs": {
		name:  "中山國中",
		color: "#f5a142",
		build: func(cfg config.Config, base adapter.BaseAdapter, _ *regexp.Regexp) (adapter.Adapter, Template) {
			a := adapter.NewTabularAdapter(base, adapter.TabularConfig{
				ListURL:            joinURL(cfg.ZSJHSBaseURL, cfg.ZSJHSPath),
				BaseURL:            cfg.ZSJHSBaseURL,
				TablePattern:       regexp.MustCompile("場地租借"),
				IgnoredColumns:     []string{"點閱次數"},
				SkipColumns:        []int{4},
				RowClassPattern:    regexp.MustCompile("C-tableA2|C-tableA3"),
				LinkSuffix:         "連結",
				DetailLinkField:    "標題連結",
				DetailTablePattern: regexp.MustCompile(`\*`),
				DetailExclude:      []string{"點閱次數", "標題", "發布日期", "發布單位"},
				DetailWorkers:      cfg.DetailWorkers,
			})
			return a, Template{TitleField: "標題", LinkField: "標題連結", PublishedField: "發布日期"}
		},
	},
	"yhes": {
		name:  "玉成國小",
		color: "#51f542",
		build: func(cfg config.Config, base adapter.BaseAdapter, filter *regexp.Regexp) (adapter.Adapter, Template) {
			return feedSource(cfg.YHESFeedURL, cfg, base, filter)
		},
	},
	"smjh": {
		name:  "三民國中",
		color: "#4287f5",
		build: func(cfg config.Config, base adapter.BaseAdapter, filter *regexp.Regexp) (adapter.Adapter, Template) {
			return feedSource(cfg.SMJHFeedURL, cfg, base, filter)
		},
	},
}

func feedSource(url string, cfg config.Config, base adapter.BaseAdapter, filter *regexp.Regexp) (adapter.Adapter, Template) {
	a := adapter.NewFeedAdapter(base, adapter.FeedConfig{
		URL:         url,
		Filter:      filter,
		StrictDates: cfg.StrictFeedDates,
	})
	return a, Template{TitleField: adapter.FeedTitle, LinkField: adapter.FeedLink, PublishedField: adapter.FeedPublished}
}

// IDs returns the ids of the built-in sources
func IDs() []string {
	return []string{"zsjhs", "yhes", "smjh"}
}

// CreateSources creates the sources named by cfg.EnabledSources, in that order
func CreateSources(cfg config.Config, cacheSvc cache.CacheService, client *http.Client) ([]Source, error) {
	if len(cfg.EnabledSources) == 0 {
		return nil, errors.NewConfiguration(fmt.Sprintf("no sources enabled, choose from %v", IDs()), nil)
	}

	var unknown []string
	for _, id := range cfg.EnabledSources {
		if _, ok := definitions[id]; !ok {
			unknown = append(unknown, id)
		}
	}
	if len(unknown) > 0 {
		return nil, errors.NewConfiguration(fmt.Sprintf("unknown sources %v, choose from %v", unknown, IDs()), nil)
	}

	filter, err := regexp.Compile(cfg.FilterPattern)
	if err != nil {
		return nil, errors.NewConfiguration("invalid filter pattern", err)
	}

	sources := make([]Source, 0, len(cfg.EnabledSources))
	seen := make(map[string]bool)
	for _, id := range cfg.EnabledSources {
		if seen[id] {
			continue
		}
		seen[id] = true

		def := definitions[id]
		base := adapter.NewBaseAdapter(id, cacheSvc, client, cfg.RateLimitBlock)
		a, tmpl := def.build(cfg, base, filter)
		tmpl.MessageTitle = cfg.MessageTitlePrefix + def.name
		tmpl.AltText = cfg.AltTextPrefix + def.name
		tmpl.Color = def.color

		sources = append(sources, Source{ID: id, Name: def.name, Adapter: a, Template: tmpl})
		logger.ForSource(id).Debug().Str("name", def.name).Msg("Created source")
	}

	return sources, nil
}

func joinURL(base, path string) string {
	return strings.TrimSuffix(base, "/") + "/" + strings.TrimPrefix(path, "/")
}
