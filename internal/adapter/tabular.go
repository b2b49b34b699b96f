package adapter

import (
	"context"
	"fmt"
	"net/url"
	"regexp"
	"slices"
	"strings"
	"sync"

	"sjsage522/bcfinder/internal/record"
	"sjsage522/bcfinder/logger"
	"sjsage522/bcfinder/pkg/errors"

	"github.com/PuerkitoBio/goquery"
)

// DefaultLinkSuffix names synthetic link columns when none is configured
const DefaultLinkSuffix = "-link"

// TabularConfig describes a listing page with one detail page per row
type TabularConfig struct {
	// ListURL is the listing page
	ListURL string
	// BaseURL resolves relative hyperlinks
	BaseURL string
	// TablePattern matches the listing table's summary attribute or caption
	TablePattern *regexp.Regexp
	// IgnoredColumns are header names that contribute no field
	IgnoredColumns []string
	// SkipColumns are cell positions that contribute no field
	SkipColumns []int
	// RowClassPattern selects data rows by their class attribute
	RowClassPattern *regexp.Regexp
	// LinkSuffix is appended to a column name to name its link column
	LinkSuffix string

	// DetailLinkField is the row field holding the detail page URL
	DetailLinkField string
	// DetailTablePattern matches the detail table's summary attribute or caption
	DetailTablePattern *regexp.Regexp
	// DetailExclude are detail labels already present on the listing row
	DetailExclude []string
	// DetailWorkers bounds concurrent detail fetches. 1 fetches sequentially.
	DetailWorkers int
}

// TabularAdapter extracts rows from a listing table and merges each row
// with the labeled fields of its detail page
type TabularAdapter struct {
	BaseAdapter
	Config TabularConfig
}

// NewTabularAdapter creates a new tabular adapter
func NewTabularAdapter(base BaseAdapter, cfg TabularConfig) *TabularAdapter {
	if cfg.LinkSuffix == "" {
		cfg.LinkSuffix = DefaultLinkSuffix
	}
	if cfg.DetailWorkers < 1 {
		cfg.DetailWorkers = 1
	}
	return &TabularAdapter{BaseAdapter: base, Config: cfg}
}

// Fetch retrieves the listing page
func (a *TabularAdapter) Fetch(ctx context.Context) ([]byte, error) {
	return a.fetchWithCache(ctx, a.Config.ListURL)
}

// Normalizer collapses whitespace in every field
func (a *TabularAdapter) Normalizer() record.Normalizer {
	return record.Normalizer{Default: record.CollapseWhitespace}
}

type headerCell struct {
	name string
	skip bool
}

// Extract parses the listing page and merges every row with its detail page
func (a *TabularAdapter) Extract(ctx context.Context, raw []byte) (*Batch, error) {
	doc, err := a.createDocument(raw)
	if err != nil {
		return nil, err
	}

	table := findTable(doc.Selection, a.Config.TablePattern)
	if table.Length() == 0 {
		return nil, errors.NewStructureNotFound(a.SourceID, "listing table not found")
	}

	headers := a.headerCells(table)
	if len(headers) == 0 {
		return nil, errors.NewStructureNotFound(a.SourceID, "listing table has no header columns")
	}

	schema := record.NewSchema()
	for _, h := range headers {
		if !h.skip {
			schema.Append(h.name)
		}
	}

	var rows [][]record.Field
	doc.Find("tr").FilterFunction(func(_ int, s *goquery.Selection) bool {
		return a.Config.RowClassPattern == nil || a.Config.RowClassPattern.MatchString(s.AttrOr("class", ""))
	}).Each(func(_ int, tr *goquery.Selection) {
		rows = append(rows, a.extractRow(tr, headers, schema))
	})

	if len(rows) == 0 {
		return &Batch{Schema: schema, Rows: rows}, nil
	}

	if err := a.mergeDetails(ctx, schema, rows); err != nil {
		return nil, err
	}

	return &Batch{Schema: schema, Rows: rows}, nil
}

// headerCells reads the header row. Ignored and skipped positions stay in the
// list so cells keep lining up with their header.
func (a *TabularAdapter) headerCells(table *goquery.Selection) []headerCell {
	var headers []headerCell
	table.Find("tr").First().Find("th").Each(func(i int, th *goquery.Selection) {
		name := record.CollapseWhitespace(th.Text())
		headers = append(headers, headerCell{
			name: name,
			skip: slices.Contains(a.Config.IgnoredColumns, name) || slices.Contains(a.Config.SkipColumns, i),
		})
	})
	return headers
}

// extractRow walks the row's cells in header order. A hyperlinked cell emits
// its text and a link field, and the link column is added to the schema
// right after its parent the first time it is seen on the page.
func (a *TabularAdapter) extractRow(tr *goquery.Selection, headers []headerCell, schema *record.Schema) []record.Field {
	var fields []record.Field
	tr.ChildrenFiltered("td").Each(func(i int, td *goquery.Selection) {
		if i >= len(headers) || headers[i].skip {
			return
		}
		name := headers[i].name
		fields = append(fields, record.Field{Name: name, Value: td.Text()})

		href, ok := td.Find("a[href]").First().Attr("href")
		if !ok {
			return
		}
		linkColumn := name + a.Config.LinkSuffix
		schema.InsertAfter(name, linkColumn)
		fields = append(fields, record.Field{Name: linkColumn, Value: a.resolveURL(href)})
	})
	return fields
}

func (a *TabularAdapter) resolveURL(href string) string {
	href = strings.TrimSpace(href)
	base, err := url.Parse(a.Config.BaseURL)
	if err != nil {
		return href
	}
	ref, err := url.Parse(href)
	if err != nil {
		return href
	}
	return base.ResolveReference(ref).String()
}

type detailResult struct {
	labels []string
	fields []record.Field
	err    error
}

// mergeDetails fetches each row's detail page and appends its fields to the
// row. Detail columns are added to the schema from the first row only.
func (a *TabularAdapter) mergeDetails(ctx context.Context, schema *record.Schema, rows [][]record.Field) error {
	links := make([]string, len(rows))
	for i, row := range rows {
		link, ok := fieldValue(row, a.Config.DetailLinkField)
		if !ok {
			return errors.NewStructureNotFound(a.SourceID, fmt.Sprintf("row %d has no %s field", i, a.Config.DetailLinkField))
		}
		links[i] = link
	}

	results := a.fetchDetails(ctx, links)

	// first failure in row order, so the reported error does not depend on
	// fetch completion order
	for _, res := range results {
		if res.err != nil {
			return res.err
		}
	}

	log := logger.ForSource(a.SourceID)
	firstLabels := results[0].labels
	schema.Append(firstLabels...)
	for i, res := range results {
		if i > 0 && !slices.Equal(res.labels, firstLabels) {
			log.Warn().
				Int("row", i).
				Strs("expected", firstLabels).
				Strs("found", res.labels).
				Msg("Detail page columns differ from the first row")
		}
		rows[i] = append(rows[i], res.fields...)
	}
	return nil
}

// fetchDetails fetches detail pages with at most DetailWorkers in flight.
// Results are indexed by row.
func (a *TabularAdapter) fetchDetails(ctx context.Context, links []string) []detailResult {
	results := make([]detailResult, len(links))

	if a.Config.DetailWorkers == 1 {
		for i, link := range links {
			results[i] = a.fetchDetail(ctx, link)
			if results[i].err != nil {
				break
			}
		}
		return results
	}

	var wg sync.WaitGroup
	semaphore := make(chan struct{}, a.Config.DetailWorkers)
	for i, link := range links {
		wg.Add(1)
		go func(i int, link string) {
			defer wg.Done()
			semaphore <- struct{}{}
			defer func() { <-semaphore }()

			results[i] = a.fetchDetail(ctx, link)
		}(i, link)
	}
	wg.Wait()

	return results
}

func (a *TabularAdapter) fetchDetail(ctx context.Context, link string) detailResult {
	raw, err := a.fetchWithCache(ctx, link)
	if err != nil {
		return detailResult{err: err}
	}
	labels, fields, err := a.extractDetail(raw, link)
	return detailResult{labels: labels, fields: fields, err: err}
}

// extractDetail reads every labeled value of the detail table except the
// excluded labels. A label without an adjacent value cell fails the run.
func (a *TabularAdapter) extractDetail(raw []byte, link string) ([]string, []record.Field, error) {
	doc, err := a.createDocument(raw)
	if err != nil {
		return nil, nil, err
	}

	table := findTable(doc.Selection, a.Config.DetailTablePattern)
	if table.Length() == 0 {
		return nil, nil, errors.NewStructureNotFound(a.SourceID, "detail table not found at "+link)
	}

	var (
		labels   []string
		fields   []record.Field
		fieldErr error
	)
	table.Find("th").EachWithBreak(func(_ int, th *goquery.Selection) bool {
		label := record.CollapseWhitespace(th.Text())
		if label == "" || slices.Contains(a.Config.DetailExclude, label) || slices.Contains(labels, label) {
			return true
		}
		td := th.NextAllFiltered("td").First()
		if td.Length() == 0 {
			fieldErr = errors.NewStructureNotFound(a.SourceID, fmt.Sprintf("detail field %q missing at %s", label, link))
			return false
		}
		labels = append(labels, label)
		fields = append(fields, record.Field{Name: label, Value: td.Text()})
		return true
	})
	if fieldErr != nil {
		return nil, nil, fieldErr
	}

	return labels, fields, nil
}

// findTable returns the first table whose summary attribute or caption
// matches pattern. A nil pattern matches the first table.
func findTable(root *goquery.Selection, pattern *regexp.Regexp) *goquery.Selection {
	return root.Find("table").FilterFunction(func(_ int, s *goquery.Selection) bool {
		if pattern == nil {
			return true
		}
		if summary, ok := s.Attr("summary"); ok && pattern.MatchString(summary) {
			return true
		}
		caption := s.ChildrenFiltered("caption")
		return caption.Length() > 0 && pattern.MatchString(caption.Text())
	}).First()
}

func fieldValue(fields []record.Field, name string) (string, bool) {
	for _, f := range fields {
		if f.Name == name {
			return f.Value, true
		}
	}
	return "", false
}
