package adapter

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"sjsage522/bcfinder/helpers"
	"sjsage522/bcfinder/internal/record"
	"sjsage522/bcfinder/logger"
	"sjsage522/bcfinder/pkg/errors"
	"sjsage522/bcfinder/services/cache"
	"sjsage522/bcfinder/services/store"

	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// pageServer serves fixed pages by path and counts requests
type pageServer struct {
	*httptest.Server
	mu    sync.Mutex
	pages map[string]string
	hits  map[string]int
}

func newPageServer(t *testing.T) *pageServer {
	ps := &pageServer{pages: make(map[string]string), hits: make(map[string]int)}
	ps.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ps.mu.Lock()
		key := r.URL.RequestURI()
		ps.hits[key]++
		body, ok := ps.pages[key]
		ps.mu.Unlock()
		if !ok {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Write([]byte(body))
	}))
	t.Cleanup(ps.Close)
	return ps
}

func (ps *pageServer) set(path, body string) {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	ps.pages[path] = body
}

func (ps *pageServer) hitCount(path string) int {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	return ps.hits[path]
}

type listingRow struct {
	seq, title, titleHref, unit, unitHref, date string
}

func listingPage(rows ...listingRow) string {
	var b strings.Builder
	b.WriteString(`<html><body>
<table summary="場地租借公告列表">
<tr><th>序號</th><th>標 題</th><th>發布單位</th><th>發布日期</th><th>點閱次數</th></tr>
`)
	for i, r := range rows {
		class := "C-tableA2"
		if i%2 == 1 {
			class = "C-tableA3"
		}
		title := r.title
		if r.titleHref != "" {
			title = fmt.Sprintf(`<a href="%s">%s</a>`, r.titleHref, r.title)
		}
		unit := r.unit
		if r.unitHref != "" {
			unit = fmt.Sprintf(`<a href="%s">%s</a>`, r.unitHref, r.unit)
		}
		fmt.Fprintf(&b, `<tr class="%s"><td>%s</td><td>%s</td><td>%s</td><td>%s</td><td>%d</td></tr>
`, class, r.seq, title, unit, r.date, 10+i)
	}
	b.WriteString(`<tr class="C-tableFooter"><td colspan="5">第 1 頁</td></tr>
</table></body></html>`)
	return b.String()
}

func detailPage(title, content, file string) string {
	return fmt.Sprintf(`<html><body>
<table summary="*公告內容">
<tr><th>標題</th><td>%s</td></tr>
<tr><th>發布單位</th><td>總務處</td></tr>
<tr><th>點閱次數</th><td>3</td></tr>
<tr><th>詳細 內容</th><td>%s</td></tr>
<tr><th>相關連結</th><td></td></tr>
<tr><th>相關檔案</th><td>%s</td></tr>
</table></body></html>`, title, content, file)
}

func newTestTabular(ps *pageServer, cacheSvc cache.CacheService, workers int, suffix, linkField string) *TabularAdapter {
	base := NewBaseAdapter("zsjhs", cacheSvc, helpers.NewClient(2*time.Second), time.Minute)
	return NewTabularAdapter(base, TabularConfig{
		ListURL:            ps.URL + "/news/list.asp",
		BaseURL:            ps.URL + "/news/",
		TablePattern:       regexp.MustCompile("場地租借"),
		IgnoredColumns:     []string{"點閱次數"},
		SkipColumns:        []int{4},
		RowClassPattern:    regexp.MustCompile("C-tableA2|C-tableA3"),
		LinkSuffix:         suffix,
		DetailLinkField:    linkField,
		DetailTablePattern: regexp.MustCompile(`\*`),
		DetailExclude:      []string{"點閱次數", "標題", "發布日期", "發布單位"},
		DetailWorkers:      workers,
	})
}

func runTabular(t *testing.T, a *TabularAdapter) *Batch {
	t.Helper()
	ctx := context.Background()
	raw, err := a.Fetch(ctx)
	require.NoError(t, err)
	batch, err := a.Extract(ctx, raw)
	require.NoError(t, err)
	return batch
}

func normalized(a Adapter, rows [][]record.Field) [][]record.Field {
	out := make([][]record.Field, len(rows))
	for i, row := range rows {
		out[i] = a.Normalizer().Apply(row)
	}
	return out
}

func seedStandardSite(ps *pageServer) {
	ps.set("/news/list.asp", listingPage(
		listingRow{seq: "1", title: "羽球場 地\n 開放", titleHref: "detail.asp?id=1", unit: "總務處", date: "2024/3/5"},
		listingRow{seq: "2", title: "場地 租借 須知", titleHref: "/news/detail.asp?id=2", unit: "學務處", date: "2024/3/1"},
	))
	ps.set("/news/detail.asp?id=1", detailPage("羽球場地開放", "即日起 \n 開放 借用", "無"))
	ps.set("/news/detail.asp?id=2", detailPage("場地租借須知", "請 先 申請", "申請表.pdf"))
}

func TestTabularExtractMergesDetailPages(t *testing.T) {
	ps := newPageServer(t)
	seedStandardSite(ps)

	a := newTestTabular(ps, nil, 1, "連結", "標題連結")
	batch := runTabular(t, a)

	assert.Equal(t, []string{"序號", "標題", "標題連結", "發布單位", "發布日期", "詳細內容", "相關連結", "相關檔案"}, batch.Schema.Columns())

	rows := normalized(a, batch.Rows)
	require.Len(t, rows, 2)
	assert.Equal(t, []record.Field{
		{Name: "序號", Value: "1"},
		{Name: "標題", Value: "羽球場地開放"},
		{Name: "標題連結", Value: ps.URL + "/news/detail.asp?id=1"},
		{Name: "發布單位", Value: "總務處"},
		{Name: "發布日期", Value: "2024/3/5"},
		{Name: "詳細內容", Value: "即日起開放借用"},
		{Name: "相關連結", Value: ""},
		{Name: "相關檔案", Value: "無"},
	}, rows[0])
	assert.Equal(t, ps.URL+"/news/detail.asp?id=2", rows[1][2].Value)
	assert.Equal(t, "請先申請", rows[1][5].Value)
	assert.Equal(t, "申請表.pdf", rows[1][7].Value)
}

func TestTabularDynamicLinkColumn(t *testing.T) {
	ps := newPageServer(t)
	ps.set("/news/list.asp", listingPage(
		listingRow{seq: "1", title: "公告一", titleHref: "detail.asp?id=1", unit: "總務處", date: "2024/3/5"},
		listingRow{seq: "2", title: "公告二", titleHref: "detail.asp?id=2", unit: "學務處", date: "2024/3/4"},
		listingRow{seq: "3", title: "公告三", titleHref: "detail.asp?id=3", unit: "教務處", unitHref: "unit.asp?u=3", date: "2024/3/3"},
	))
	for i := 1; i <= 3; i++ {
		ps.set(fmt.Sprintf("/news/detail.asp?id=%d", i), detailPage("公告", "內容", "無"))
	}

	a := newTestTabular(ps, nil, 1, "", "標題-link")
	batch := runTabular(t, a)

	assert.Equal(t, []string{"序號", "標題", "標題-link", "發布單位", "發布單位-link", "發布日期", "詳細內容", "相關連結", "相關檔案"}, batch.Schema.Columns())

	rows := normalized(a, batch.Rows)
	require.Len(t, rows, 3)

	_, ok := fieldValue(rows[0], "發布單位-link")
	assert.False(t, ok, "link-less cell holds only its text")
	assert.Equal(t, "學務處", mustField(t, rows[1], "發布單位"))
	assert.Equal(t, ps.URL+"/news/unit.asp?u=3", mustField(t, rows[2], "發布單位-link"))
	assert.Equal(t, "發布單位", rows[2][3].Name)
	assert.Equal(t, "發布單位-link", rows[2][4].Name)
}

func mustField(t *testing.T, row []record.Field, name string) string {
	t.Helper()
	v, ok := fieldValue(row, name)
	require.True(t, ok, "field %s missing", name)
	return v
}

func TestTabularIdempotentReingestion(t *testing.T) {
	ps := newPageServer(t)
	seedStandardSite(ps)
	a := newTestTabular(ps, nil, 1, "連結", "標題連結")

	fingerprints := func() []string {
		batch := runTabular(t, a)
		var fps []string
		for _, row := range normalized(a, batch.Rows) {
			fps = append(fps, record.New(row).Fingerprint())
		}
		return fps
	}

	first := fingerprints()
	second := fingerprints()
	require.Len(t, first, 2)
	assert.Equal(t, first, second)
	assert.NotEqual(t, first[0], first[1])
	assert.Equal(t, 2, ps.hitCount("/news/list.asp"))
	assert.Equal(t, 2, ps.hitCount("/news/detail.asp?id=1"))
}

func TestTabularParallelDetailsMatchSequential(t *testing.T) {
	ps := newPageServer(t)
	var rows []listingRow
	for i := 1; i <= 8; i++ {
		rows = append(rows, listingRow{seq: fmt.Sprint(i), title: fmt.Sprintf("公告%d", i), titleHref: fmt.Sprintf("detail.asp?id=%d", i), unit: "總務處", date: "2024/3/5"})
		ps.set(fmt.Sprintf("/news/detail.asp?id=%d", i), detailPage("公告", fmt.Sprintf("內容%d", i), "無"))
	}
	ps.set("/news/list.asp", listingPage(rows...))

	sequential := runTabular(t, newTestTabular(ps, nil, 1, "連結", "標題連結"))
	parallel := runTabular(t, newTestTabular(ps, nil, 4, "連結", "標題連結"))

	assert.Equal(t, sequential.Schema.Columns(), parallel.Schema.Columns())
	assert.Equal(t, sequential.Rows, parallel.Rows)
	assert.Equal(t, "內容7", mustField(t, parallel.Rows[6], "詳細內容"))
}

func TestTabularEmptyListing(t *testing.T) {
	ps := newPageServer(t)
	ps.set("/news/list.asp", listingPage())

	batch := runTabular(t, newTestTabular(ps, nil, 1, "連結", "標題連結"))
	assert.Empty(t, batch.Rows)
	assert.Equal(t, []string{"序號", "標題", "發布單位", "發布日期"}, batch.Schema.Columns())
}

func TestTabularStructureNotFound(t *testing.T) {
	ctx := context.Background()

	t.Run("listing table missing", func(t *testing.T) {
		ps := newPageServer(t)
		ps.set("/news/list.asp", `<html><body><table summary="最新消息"><tr><th>標題</th></tr></table></body></html>`)
		a := newTestTabular(ps, nil, 1, "連結", "標題連結")

		raw, err := a.Fetch(ctx)
		require.NoError(t, err)
		_, err = a.Extract(ctx, raw)
		assert.True(t, errors.Is(err, errors.ErrorTypeStructureNotFound))
	})

	t.Run("detail value missing", func(t *testing.T) {
		ps := newPageServer(t)
		ps.set("/news/list.asp", listingPage(listingRow{seq: "1", title: "公告", titleHref: "detail.asp?id=1", unit: "總務處", date: "2024/3/5"}))
		ps.set("/news/detail.asp?id=1", `<html><body><table summary="*"><tr><th>詳細內容</th></tr></table></body></html>`)
		a := newTestTabular(ps, nil, 1, "連結", "標題連結")

		raw, err := a.Fetch(ctx)
		require.NoError(t, err)
		_, err = a.Extract(ctx, raw)
		assert.True(t, errors.Is(err, errors.ErrorTypeStructureNotFound))
		assert.Contains(t, err.Error(), "詳細內容")
	})

	t.Run("row without detail link", func(t *testing.T) {
		ps := newPageServer(t)
		ps.set("/news/list.asp", listingPage(listingRow{seq: "1", title: "公告", unit: "總務處", date: "2024/3/5"}))
		a := newTestTabular(ps, nil, 1, "連結", "標題連結")

		raw, err := a.Fetch(ctx)
		require.NoError(t, err)
		_, err = a.Extract(ctx, raw)
		assert.True(t, errors.Is(err, errors.ErrorTypeStructureNotFound))
	})
}

func TestTabularDetailNetworkFailureAbortsRun(t *testing.T) {
	ps := newPageServer(t)
	ps.set("/news/list.asp", listingPage(
		listingRow{seq: "1", title: "公告一", titleHref: "detail.asp?id=1", unit: "總務處", date: "2024/3/5"},
		listingRow{seq: "2", title: "公告二", titleHref: "detail.asp?id=2", unit: "總務處", date: "2024/3/5"},
	))
	ps.set("/news/detail.asp?id=1", detailPage("公告", "內容", "無"))
	// id=2 is not served and answers 500

	a := newTestTabular(ps, nil, 1, "連結", "標題連結")
	raw, err := a.Fetch(context.Background())
	require.NoError(t, err)

	_, err = a.Extract(context.Background(), raw)
	assert.True(t, errors.Is(err, errors.ErrorTypeNetwork))
}

func TestFetchRateLimitBlocksSource(t *testing.T) {
	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.Header().Set("Retry-After", "60")
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer server.Close()

	mc := cache.NewMemoryCache()
	base := NewBaseAdapter("zsjhs", mc, helpers.NewClient(time.Second), time.Minute)

	_, err := base.fetchWithCache(context.Background(), server.URL)
	assert.True(t, errors.Is(err, errors.ErrorTypeNetwork))

	value, cacheErr := mc.Get("zsjhs_rate_limited")
	require.NoError(t, cacheErr)
	assert.Equal(t, "60", string(value))

	_, err = base.fetchWithCache(context.Background(), server.URL)
	assert.True(t, errors.Is(err, errors.ErrorTypeRateLimit))
	assert.Equal(t, int32(1), hits.Load())
}

func TestTabularDetailColumnsDiffer(t *testing.T) {
	t.Setenv("LOG_LEVEL", "debug")
	var buf bytes.Buffer
	logger.InitWithWriter(&buf)
	defer func() { logger.Default = nil }()

	ps := newPageServer(t)
	ps.set("/news/list.asp", listingPage(
		listingRow{seq: "1", title: "公告一", titleHref: "detail.asp?id=1", unit: "總務處", date: "2024/3/5"},
		listingRow{seq: "2", title: "公告二", titleHref: "detail.asp?id=2", unit: "總務處", date: "2024/3/4"},
		listingRow{seq: "3", title: "公告三", titleHref: "detail.asp?id=3", unit: "總務處", date: "2024/3/3"},
	))
	ps.set("/news/detail.asp?id=1", detailPage("公告一", "內容一", "無"))
	ps.set("/news/detail.asp?id=2", `<html><body><table summary="*">
<tr><th>詳細內容</th><td>內容二</td></tr>
<tr><th>相關連結</th><td></td></tr>
<tr><th>相關檔案</th><td>無</td></tr>
<tr><th>備註</th><td>限校內</td></tr>
</table></body></html>`)
	ps.set("/news/detail.asp?id=3", `<html><body><table summary="*">
<tr><th>詳細內容</th><td>內容三</td></tr>
<tr><th>相關連結</th><td></td></tr>
</table></body></html>`)

	a := newTestTabular(ps, nil, 1, "連結", "標題連結")
	batch := runTabular(t, a)

	assert.Equal(t, []string{"序號", "標題", "標題連結", "發布單位", "發布日期", "詳細內容", "相關連結", "相關檔案"}, batch.Schema.Columns())

	rows := normalized(a, batch.Rows)
	require.Len(t, rows, 3)
	assert.Equal(t, "限校內", mustField(t, rows[1], "備註"))
	_, ok := fieldValue(rows[2], "相關檔案")
	assert.False(t, ok)
	assert.Equal(t, "內容三", mustField(t, rows[2], "詳細內容"))

	out := buf.String()
	assert.Contains(t, out, "Detail page columns differ from the first row")
	assert.Contains(t, out, `"row":1`)
	assert.Contains(t, out, `"row":2`)
	assert.Contains(t, out, "備註")

	// the stored table grows a column for the extra label
	ctx := context.Background()
	dbPath := filepath.Join(t.TempDir(), "bcdb.db")
	st, err := store.Open(dbPath)
	require.NoError(t, err)
	defer st.Close()

	require.NoError(t, st.EnsureTable(ctx, "zsjhs", batch.Schema.Columns()))
	for _, row := range rows {
		require.NoError(t, st.Insert(ctx, "zsjhs", record.New(row)))
	}
	fps, err := st.Fingerprints(ctx, "zsjhs")
	require.NoError(t, err)
	assert.Equal(t, []string{record.New(rows[0]).Fingerprint(), record.New(rows[1]).Fingerprint(), record.New(rows[2]).Fingerprint()}, fps)

	db, err := sqlx.Open("sqlite3", dbPath)
	require.NoError(t, err)
	defer db.Close()
	var note string
	require.NoError(t, db.Get(&note, `SELECT "備註" FROM zsjhs WHERE fingerprint = ?`, fps[1]))
	assert.Equal(t, "限校內", note)
}
