package catalog

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"bookmarket/internal/gateway"
	"bookmarket/internal/session"
	"bookmarket/pkg/domain"
)

// DebounceDelay is the quiet period after the last filter change before a
// fetch is issued.
const DebounceDelay = 300 * time.Millisecond

// Default price bounds; min_price/max_price are always sent.
const (
	DefaultMinPrice = 0
	DefaultMaxPrice = 1000
)

type SortKey string

const (
	SortNewest     SortKey = "newest"
	SortPriceAsc   SortKey = "price-asc"
	SortPriceDesc  SortKey = "price-desc"
	SortRating     SortKey = "rating"
	SortBestseller SortKey = "bestseller"
)

// queryPair maps a sort key to the backend's (field, direction) form.
func (k SortKey) queryPair() (string, string) {
	switch k {
	case SortPriceAsc:
		return "price", "asc"
	case SortPriceDesc:
		return "price", "desc"
	case SortRating:
		return "rating_avg", "desc"
	case SortBestseller:
		return "sold", "desc"
	default:
		return "created_at", "desc"
	}
}

// FilterState is the client-local query intent. It is ephemeral and owned
// exclusively by the pipeline.
type FilterState struct {
	Categories []string
	PriceMin   float64
	PriceMax   float64
	MinRating  float64
	Sort       SortKey
	Search     string
	Page       int
	PageSize   int
}

// Result is one displayable catalog page.
type Result struct {
	Books      []domain.Book
	Total      int
	Page       int
	PageSize   int
	TotalPages int
}

// Pipeline turns filter state into catalog queries. Rapid filter changes
// coalesce into a single fetch after DebounceDelay of quiet.
type Pipeline struct {
	gw       *gateway.Client
	sessions *session.Store
	logger   *slog.Logger
	debounce time.Duration

	mu         sync.Mutex
	state      FilterState
	categories []domain.Category
	result     Result
	timer      *time.Timer
	onUpdate   func(Result)
}

// New constructs a pipeline with the given fixed page size. debounce <= 0
// selects DebounceDelay.
func New(gw *gateway.Client, sessions *session.Store, pageSize int, debounce time.Duration, logger *slog.Logger) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	if debounce <= 0 {
		debounce = DebounceDelay
	}
	return &Pipeline{
		gw:       gw,
		sessions: sessions,
		logger:   logger,
		debounce: debounce,
		state: FilterState{
			PriceMin: DefaultMinPrice,
			PriceMax: DefaultMaxPrice,
			Sort:     SortNewest,
			Page:     1,
			PageSize: pageSize,
		},
	}
}

// OnUpdate registers the render callback invoked after every committed fetch.
func (p *Pipeline) OnUpdate(fn func(Result)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onUpdate = fn
}

// State returns a copy of the current filter state.
func (p *Pipeline) State() FilterState {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Snapshot returns the last committed result.
func (p *Pipeline) Snapshot() Result {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.result
}

// SetSearch updates the search text. Like every filter change it resets the
// page to 1 and restarts the debounce window.
func (p *Pipeline) SetSearch(text string) {
	p.change(func(st *FilterState) { st.Search = strings.TrimSpace(text) })
}

// ToggleCategory adds or removes a category from the filter set.
func (p *Pipeline) ToggleCategory(id string) {
	p.change(func(st *FilterState) {
		for i, c := range st.Categories {
			if c == id {
				st.Categories = append(st.Categories[:i], st.Categories[i+1:]...)
				return
			}
		}
		st.Categories = append(st.Categories, id)
	})
}

// SetPriceRange updates the price bounds, swapping them if given inverted.
func (p *Pipeline) SetPriceRange(min, max float64) {
	if min > max {
		min, max = max, min
	}
	p.change(func(st *FilterState) {
		st.PriceMin = min
		st.PriceMax = max
	})
}

// SetMinRating updates the rating floor (0 disables it).
func (p *Pipeline) SetMinRating(rating float64) {
	p.change(func(st *FilterState) { st.MinRating = rating })
}

// SetSort updates the sort key.
func (p *Pipeline) SetSort(key SortKey) {
	p.change(func(st *FilterState) { st.Sort = key })
}

// SetPage moves to another page of the same query. This is the one state
// change that does not reset the page.
func (p *Pipeline) SetPage(page int) {
	if page < 1 {
		page = 1
	}
	p.mu.Lock()
	p.state.Page = page
	p.mu.Unlock()
	p.schedule()
}

// ClearFilters resets every filter to its default and refetches.
func (p *Pipeline) ClearFilters() {
	p.mu.Lock()
	pageSize := p.state.PageSize
	p.state = FilterState{
		PriceMin: DefaultMinPrice,
		PriceMax: DefaultMaxPrice,
		Sort:     SortNewest,
		Page:     1,
		PageSize: pageSize,
	}
	p.mu.Unlock()
	p.schedule()
}

func (p *Pipeline) change(apply func(*FilterState)) {
	p.mu.Lock()
	apply(&p.state)
	p.state.Page = 1
	p.mu.Unlock()
	p.schedule()
}

// schedule restarts the debounce timer; an armed timer from an earlier
// change is canceled so only the final state produces a query.
func (p *Pipeline) schedule() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.timer != nil {
		p.timer.Stop()
	}
	p.timer = time.AfterFunc(p.debounce, func() {
		if err := p.Fetch(context.Background()); err != nil {
			p.logger.Warn("catalog fetch failed", "err", err)
		}
	})
}

// LoadCategories fetches the category list used to resolve bare category
// ids on book items. Accepts both an {items:[...]} envelope and a bare array.
func (p *Pipeline) LoadCategories(ctx context.Context) error {
	var raw json.RawMessage
	if err := p.gw.Do(ctx, http.MethodGet, "/categories", nil, p.token(), &raw); err != nil {
		return err
	}
	var cats []domain.Category
	if err := json.Unmarshal(raw, &cats); err != nil {
		var env struct {
			Items      []domain.Category `json:"items"`
			Categories []domain.Category `json:"categories"`
		}
		if err := json.Unmarshal(raw, &env); err != nil {
			return err
		}
		cats = env.Items
		if len(cats) == 0 {
			cats = env.Categories
		}
	}
	p.mu.Lock()
	p.categories = cats
	p.mu.Unlock()
	return nil
}

// Categories returns the fetched category list.
func (p *Pipeline) Categories() []domain.Category {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]domain.Category, len(p.categories))
	copy(out, p.categories)
	return out
}

// Fetch issues the catalog query for the current filter state immediately,
// bypassing the debounce window.
func (p *Pipeline) Fetch(ctx context.Context) error {
	p.mu.Lock()
	st := p.state
	p.mu.Unlock()

	var env listEnvelope
	path := "/books?" + buildQuery(st).Encode()
	if err := p.gw.Do(ctx, http.MethodGet, path, nil, p.token(), &env); err != nil {
		return err
	}
	result := p.paginate(st, env)

	p.mu.Lock()
	p.result = result
	cb := p.onUpdate
	p.mu.Unlock()
	if cb != nil {
		cb(result)
	}
	return nil
}

// GetBook fetches a single catalog item.
func (p *Pipeline) GetBook(ctx context.Context, id string) (domain.Book, error) {
	var raw bookPayload
	if err := p.gw.Do(ctx, http.MethodGet, "/books/"+url.PathEscape(id), nil, p.token(), &raw); err != nil {
		return domain.Book{}, err
	}
	return p.normalizeBook(raw), nil
}

// QuickSearch hits the dedicated text-search endpoint, outside the filter
// pipeline (used for type-ahead suggestions).
func (p *Pipeline) QuickSearch(ctx context.Context, q string) ([]domain.Book, error) {
	var env listEnvelope
	path := "/books/search?q=" + url.QueryEscape(q)
	if err := p.gw.Do(ctx, http.MethodGet, path, nil, p.token(), &env); err != nil {
		return nil, err
	}
	items := env.items()
	books := make([]domain.Book, 0, len(items))
	for _, raw := range items {
		books = append(books, p.normalizeBook(raw))
	}
	return books, nil
}

// paginate applies server-side pagination metadata when the backend sends
// it, and falls back to client-side slicing over the fixed page size when
// the backend returned the whole collection.
func (p *Pipeline) paginate(st FilterState, env listEnvelope) Result {
	items := env.items()
	books := make([]domain.Book, 0, len(items))
	for _, raw := range items {
		books = append(books, p.normalizeBook(raw))
	}

	if env.Total != nil {
		total := *env.Total
		page := st.Page
		if env.Page != nil {
			page = *env.Page
		}
		pageSize := st.PageSize
		if env.PageSize != nil && *env.PageSize > 0 {
			pageSize = *env.PageSize
		}
		return Result{
			Books:      books,
			Total:      total,
			Page:       page,
			PageSize:   pageSize,
			TotalPages: totalPages(total, pageSize),
		}
	}

	total := len(books)
	start := (st.Page - 1) * st.PageSize
	if start > total {
		start = total
	}
	end := start + st.PageSize
	if end > total {
		end = total
	}
	return Result{
		Books:      books[start:end],
		Total:      total,
		Page:       st.Page,
		PageSize:   st.PageSize,
		TotalPages: totalPages(total, st.PageSize),
	}
}

func totalPages(total, pageSize int) int {
	if pageSize <= 0 || total <= 0 {
		return 0
	}
	return (total + pageSize - 1) / pageSize
}

func (p *Pipeline) token() string {
	if p.sessions == nil {
		return ""
	}
	return p.sessions.Token()
}

// buildQuery renders the filter state deterministically. page, pageSize and
// the price bounds are always present; the rest only when meaningful.
func buildQuery(st FilterState) url.Values {
	v := url.Values{}
	v.Set("page", strconv.Itoa(st.Page))
	v.Set("pageSize", strconv.Itoa(st.PageSize))
	if len(st.Categories) > 0 {
		v.Set("categories", strings.Join(st.Categories, ","))
	}
	v.Set("min_price", strconv.FormatFloat(st.PriceMin, 'f', -1, 64))
	v.Set("max_price", strconv.FormatFloat(st.PriceMax, 'f', -1, 64))
	if st.MinRating > 0 {
		v.Set("min_rating", strconv.FormatFloat(st.MinRating, 'f', -1, 64))
	}
	if st.Search != "" {
		v.Set("search", st.Search)
	}
	field, dir := st.Sort.queryPair()
	v.Set("sort", field)
	v.Set("order", dir)
	return v
}

// The backend is inconsistent about whether "category" on a book item is a
// bare id string or an embedded object; the union is resolved here and
// never leaks past this boundary.
type bookPayload struct {
	ID          string          `json:"id"`
	Title       string          `json:"title"`
	Author      string          `json:"author"`
	Price       decimal.Decimal `json:"price"`
	ImageURL    string          `json:"imageUrl"`
	RatingAvg   float64         `json:"ratingAvg"`
	RatingCount int             `json:"ratingCount"`
	Stock       int             `json:"stock"`
	CreatedAt   time.Time       `json:"createdAt"`
	Category    json.RawMessage `json:"category"`
}

type listEnvelope struct {
	Items    []bookPayload `json:"items"`
	Books    []bookPayload `json:"books"`
	Total    *int          `json:"total"`
	Page     *int          `json:"page"`
	PageSize *int          `json:"pageSize"`
}

func (e listEnvelope) items() []bookPayload {
	if len(e.Items) > 0 {
		return e.Items
	}
	return e.Books
}

// normalizeBook resolves the category union. A bare id not present in the
// fetched category list gets a synthesized placeholder: a book with an
// unknown category still renders, since dropping inventory is worse than a
// degraded label.
func (p *Pipeline) normalizeBook(raw bookPayload) domain.Book {
	book := domain.Book{
		ID:          raw.ID,
		Title:       raw.Title,
		Author:      raw.Author,
		Price:       raw.Price,
		ImageURL:    raw.ImageURL,
		RatingAvg:   raw.RatingAvg,
		RatingCount: raw.RatingCount,
		Stock:       raw.Stock,
		CreatedAt:   raw.CreatedAt,
	}
	if len(raw.Category) == 0 {
		return book
	}
	var obj domain.Category
	if err := json.Unmarshal(raw.Category, &obj); err == nil && obj.ID != "" {
		book.Category = obj
		return book
	}
	var id string
	if err := json.Unmarshal(raw.Category, &id); err == nil && id != "" {
		book.Category = p.resolveCategory(id)
	}
	return book
}

func (p *Pipeline) resolveCategory(id string) domain.Category {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, c := range p.categories {
		if c.ID == id {
			return c
		}
	}
	return domain.Category{ID: id, Name: "Category " + id}
}
