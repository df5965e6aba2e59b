package catalog

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"reflect"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"bookmarket/internal/gateway"
)

func newTestPipeline(t *testing.T, handler http.Handler, debounce time.Duration) *Pipeline {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	gw := gateway.New(srv.URL, 0, nil)
	return New(gw, nil, 12, debounce, nil)
}

func TestBuildQueryIncludesOnlyMeaningfulParams(t *testing.T) {
	st := FilterState{
		PriceMin: 0,
		PriceMax: 1000,
		Sort:     SortNewest,
		Page:     1,
		PageSize: 12,
	}
	q := buildQuery(st)
	if q.Get("page") != "1" || q.Get("pageSize") != "12" {
		t.Fatalf("page params missing: %v", q)
	}
	if q.Get("min_price") != "0" || q.Get("max_price") != "1000" {
		t.Fatalf("price bounds must always be present: %v", q)
	}
	if q.Has("categories") || q.Has("min_rating") || q.Has("search") {
		t.Fatalf("empty filters must be omitted: %v", q)
	}
	if q.Get("sort") != "created_at" || q.Get("order") != "desc" {
		t.Fatalf("newest sort pair = %s/%s", q.Get("sort"), q.Get("order"))
	}

	st.Categories = []string{"fiction", "history"}
	st.MinRating = 3.5
	st.Search = "dune"
	st.Sort = SortPriceAsc
	q = buildQuery(st)
	if q.Get("categories") != "fiction,history" {
		t.Fatalf("categories = %q", q.Get("categories"))
	}
	if q.Get("min_rating") != "3.5" || q.Get("search") != "dune" {
		t.Fatalf("filters missing: %v", q)
	}
	if q.Get("sort") != "price" || q.Get("order") != "asc" {
		t.Fatalf("price-asc sort pair = %s/%s", q.Get("sort"), q.Get("order"))
	}
}

func TestSortKeyTable(t *testing.T) {
	cases := map[SortKey][2]string{
		SortNewest:     {"created_at", "desc"},
		SortPriceAsc:   {"price", "asc"},
		SortPriceDesc:  {"price", "desc"},
		SortRating:     {"rating_avg", "desc"},
		SortBestseller: {"sold", "desc"},
	}
	for key, want := range cases {
		field, dir := key.queryPair()
		if field != want[0] || dir != want[1] {
			t.Fatalf("%s -> %s/%s, want %s/%s", key, field, dir, want[0], want[1])
		}
	}
}

func TestDebounceCollapsesRapidChanges(t *testing.T) {
	var calls int32
	var mu sync.Mutex
	var lastQuery url.Values
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		mu.Lock()
		lastQuery = r.URL.Query()
		mu.Unlock()
		w.Write([]byte(`{"items":[]}`))
	})
	p := newTestPipeline(t, handler, 50*time.Millisecond)

	p.SetSearch("d")
	p.SetSearch("du")
	p.SetSearch("dun")
	p.SetMinRating(4)
	p.SetSearch("dune")
	time.Sleep(200 * time.Millisecond)

	if got := atomic.LoadInt32(&calls); got != 1 {
		t.Fatalf("expected exactly one query for five rapid changes, got %d", got)
	}
	mu.Lock()
	defer mu.Unlock()
	if lastQuery.Get("search") != "dune" || lastQuery.Get("min_rating") != "4" {
		t.Fatalf("query not parameterized by final state: %v", lastQuery)
	}
}

func TestFilterChangeResetsPage(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"items":[]}`))
	})
	p := newTestPipeline(t, handler, time.Hour) // debounce never fires in this test
	p.SetPage(3)
	p.ToggleCategory("fiction")
	if got := p.State().Page; got != 1 {
		t.Fatalf("page after category toggle = %d, want 1", got)
	}
	p.SetPage(3)
	p.ToggleCategory("fiction") // remove
	p.ToggleCategory("history")
	if got := p.State().Page; got != 1 {
		t.Fatalf("page after category switch = %d, want 1", got)
	}
	if got := p.State().Categories; !reflect.DeepEqual(got, []string{"history"}) {
		t.Fatalf("categories = %v, want [history]", got)
	}
}

func TestCategoryFallbackKeepsBook(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/categories":
			w.Write([]byte(`{"items":[{"id":"c1","name":"Fiction"}]}`))
		case "/books":
			w.Write([]byte(`{"items":[
				{"id":"b1","title":"Dune","category":{"id":"c1","name":"Fiction"}},
				{"id":"b2","title":"Known Ref","category":"c1"},
				{"id":"b3","title":"Orphan","category":"ghost"}
			]}`))
		}
	})
	p := newTestPipeline(t, handler, time.Hour)
	if err := p.LoadCategories(context.Background()); err != nil {
		t.Fatalf("load categories: %v", err)
	}
	if err := p.Fetch(context.Background()); err != nil {
		t.Fatalf("fetch: %v", err)
	}
	books := p.Snapshot().Books
	if len(books) != 3 {
		t.Fatalf("expected all three books kept, got %d", len(books))
	}
	if books[0].Category.Name != "Fiction" {
		t.Fatalf("embedded category lost: %+v", books[0].Category)
	}
	if books[1].Category.Name != "Fiction" {
		t.Fatalf("bare id not resolved: %+v", books[1].Category)
	}
	if books[2].Category.ID != "ghost" || books[2].Category.Name == "" {
		t.Fatalf("unknown category must get a synthesized label: %+v", books[2].Category)
	}
}

func TestLoadCategoriesAcceptsBareArray(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[{"id":"c1","name":"Fiction"}]`))
	})
	p := newTestPipeline(t, handler, time.Hour)
	if err := p.LoadCategories(context.Background()); err != nil {
		t.Fatalf("load categories: %v", err)
	}
	if got := p.Categories(); len(got) != 1 || got[0].Name != "Fiction" {
		t.Fatalf("categories = %+v", got)
	}
}

func TestServerSidePaginationMetadataWins(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"items":    []map[string]any{{"id": "b1"}, {"id": "b2"}},
			"total":    50,
			"page":     2,
			"pageSize": 2,
		})
	})
	p := newTestPipeline(t, handler, time.Hour)
	if err := p.Fetch(context.Background()); err != nil {
		t.Fatalf("fetch: %v", err)
	}
	res := p.Snapshot()
	if res.Total != 50 || res.Page != 2 || res.TotalPages != 25 {
		t.Fatalf("server pagination not applied: %+v", res)
	}
	if len(res.Books) != 2 {
		t.Fatalf("server page must render in full, got %d books", len(res.Books))
	}
}

func TestClientSideSlicingWithoutMetadata(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		items := make([]map[string]any, 30)
		for i := range items {
			items[i] = map[string]any{"id": string(rune('a' + i))}
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"items": items})
	})
	p := newTestPipeline(t, handler, time.Hour)
	p.SetPage(2)
	if err := p.Fetch(context.Background()); err != nil {
		t.Fatalf("fetch: %v", err)
	}
	res := p.Snapshot()
	if res.Total != 30 || res.TotalPages != 3 {
		t.Fatalf("client pagination math wrong: %+v", res)
	}
	if len(res.Books) != 12 {
		t.Fatalf("page 2 slice = %d books, want 12", len(res.Books))
	}
}

func TestPageButtonsWindowing(t *testing.T) {
	if got := PageButtons(5, 3); !reflect.DeepEqual(got, []int{1, 2, 3, 4, 5}) {
		t.Fatalf("small page count must not collapse: %v", got)
	}
	got := PageButtons(20, 10)
	want := []int{1, Ellipsis, 9, 10, 11, Ellipsis, 20}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("PageButtons(20,10) = %v, want %v", got, want)
	}
	got = PageButtons(20, 1)
	want = []int{1, 2, Ellipsis, 20}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("PageButtons(20,1) = %v, want %v", got, want)
	}
}
