package cart

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"

	"bookmarket/internal/gateway"
	"bookmarket/internal/notify"
	"bookmarket/internal/session"
	"bookmarket/pkg/domain"
)

// Synchronizer mirrors the server-side cart. Local state is always replaced
// by a full fetch after every mutation: mutation endpoints do not guarantee
// the same response shape as the cart fetch, so their bodies are never
// trusted to patch state.
type Synchronizer struct {
	gw       *gateway.Client
	sessions *session.Store
	notifier notify.Notifier
	itemPath string
	logger   *slog.Logger

	mu      sync.Mutex
	lines   []domain.CartLine
	applied uint64

	seq atomic.Uint64

	locksMu sync.Mutex
	locks   map[string]*sync.Mutex
}

// New constructs the synchronizer. itemPath is a template with one %s for
// the line id, e.g. "/cart/%s". The local cart empties itself whenever the
// session goes away; nothing remains server-side to clear at that point.
func New(gw *gateway.Client, sessions *session.Store, notifier notify.Notifier, itemPath string, logger *slog.Logger) *Synchronizer {
	if logger == nil {
		logger = slog.Default()
	}
	if notifier == nil {
		notifier = &notify.LogNotifier{Logger: logger}
	}
	c := &Synchronizer{
		gw:       gw,
		sessions: sessions,
		notifier: notifier,
		itemPath: itemPath,
		logger:   logger,
		locks:    map[string]*sync.Mutex{},
	}
	sessions.OnChange(func(s *domain.Session) {
		if s == nil {
			c.Clear()
		}
	})
	return c
}

// Lines returns a copy of the current cart lines.
func (c *Synchronizer) Lines() []domain.CartLine {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]domain.CartLine, len(c.lines))
	copy(out, c.lines)
	return out
}

// Count is the badge value: the sum of all line quantities.
func (c *Synchronizer) Count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	total := 0
	for _, l := range c.lines {
		if l.Quantity > 0 {
			total += l.Quantity
		}
	}
	return total
}

// Refresh fetches the full cart and replaces local state wholesale.
// Results commit in sequence order: a refresh issued earlier that resolves
// later is discarded rather than allowed to overwrite newer state.
func (c *Synchronizer) Refresh(ctx context.Context) error {
	token := c.sessions.Token()
	if token == "" {
		return session.ErrNotAuthenticated
	}
	seq := c.seq.Add(1)
	var env cartEnvelope
	if err := c.gw.Do(ctx, http.MethodGet, "/cart", nil, token, &env); err != nil {
		return err
	}
	lines := env.lines()

	c.mu.Lock()
	defer c.mu.Unlock()
	if seq <= c.applied {
		c.logger.Debug("stale cart refresh discarded", "seq", seq, "applied", c.applied)
		return nil
	}
	c.applied = seq
	c.lines = lines
	return nil
}

// Add puts one unit of a book in the cart. If a line for the book already
// exists the existing line's quantity is bumped instead; two lines never
// reference the same book.
func (c *Synchronizer) Add(ctx context.Context, bookID string) error {
	unlock := c.lockKey("book:" + bookID)
	defer unlock()

	if line, ok := c.findByBook(bookID); ok {
		return c.update(ctx, line.ID, line.Quantity+1)
	}

	token := c.sessions.Token()
	if token == "" {
		return session.ErrNotAuthenticated
	}
	payload := map[string]any{"bookId": bookID, "quantity": 1}
	if err := c.gw.Do(ctx, http.MethodPost, "/cart/add", payload, token, nil); err != nil {
		if msg, ok := insufficientStock(err); ok {
			c.notifier.Notify(notify.KindError, msg)
			return fmt.Errorf("%w: %s", ErrInsufficientStock, msg)
		}
		return err
	}
	// The add response does not carry the server-assigned line id; a full
	// refresh does.
	return c.Refresh(ctx)
}

// UpdateQuantity sets a line's quantity. Zero or below is a removal; the
// server never sees a non-positive quantity.
func (c *Synchronizer) UpdateQuantity(ctx context.Context, lineID string, quantity int) error {
	unlock := c.lockKey(c.keyForLine(lineID))
	defer unlock()
	return c.update(ctx, lineID, quantity)
}

// Remove deletes a line.
func (c *Synchronizer) Remove(ctx context.Context, lineID string) error {
	unlock := c.lockKey(c.keyForLine(lineID))
	defer unlock()
	return c.remove(ctx, lineID)
}

// ClearRemote empties the server-side cart, then re-syncs.
func (c *Synchronizer) ClearRemote(ctx context.Context) error {
	token := c.sessions.Token()
	if token == "" {
		return session.ErrNotAuthenticated
	}
	if err := c.gw.Do(ctx, http.MethodDelete, "/cart", nil, token, nil); err != nil {
		return err
	}
	return c.Refresh(ctx)
}

// Clear empties local state only. Invoked on sign-out.
func (c *Synchronizer) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lines = nil
}

func (c *Synchronizer) update(ctx context.Context, lineID string, quantity int) error {
	if quantity <= 0 {
		return c.remove(ctx, lineID)
	}
	token := c.sessions.Token()
	if token == "" {
		return session.ErrNotAuthenticated
	}
	path := fmt.Sprintf(c.itemPath, lineID)
	payload := map[string]any{"quantity": quantity}
	if err := c.gw.Do(ctx, http.MethodPut, path, payload, token, nil); err != nil {
		if msg, ok := insufficientStock(err); ok {
			c.notifier.Notify(notify.KindError, msg)
			return fmt.Errorf("%w: %s", ErrInsufficientStock, msg)
		}
		return err
	}
	return c.Refresh(ctx)
}

func (c *Synchronizer) remove(ctx context.Context, lineID string) error {
	token := c.sessions.Token()
	if token == "" {
		return session.ErrNotAuthenticated
	}
	path := fmt.Sprintf(c.itemPath, lineID)
	if err := c.gw.Do(ctx, http.MethodDelete, path, nil, token, nil); err != nil {
		return err
	}
	return c.Refresh(ctx)
}

func (c *Synchronizer) findByBook(bookID string) (domain.CartLine, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, l := range c.lines {
		if l.Book.ID == bookID {
			return l, true
		}
	}
	return domain.CartLine{}, false
}

// keyForLine maps a line id to its serialization key. Lines created by Add
// lock on the book id, so updates to a known line reuse that key to stay in
// the same queue.
func (c *Synchronizer) keyForLine(lineID string) string {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, l := range c.lines {
		if l.ID == lineID {
			return "book:" + l.Book.ID
		}
	}
	return "line:" + lineID
}

// lockKey serializes mutations per line: a second mutation on the same line
// waits for the first to resolve, while different lines proceed in parallel.
func (c *Synchronizer) lockKey(key string) func() {
	c.locksMu.Lock()
	m, ok := c.locks[key]
	if !ok {
		m = &sync.Mutex{}
		c.locks[key] = m
	}
	c.locksMu.Unlock()
	m.Lock()
	return m.Unlock
}
