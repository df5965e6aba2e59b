package chat

import (
	"context"
	"log/slog"
	"net/http"
	"sort"
	"sync"

	"bookmarket/internal/gateway"
	"bookmarket/internal/session"
	"bookmarket/pkg/domain"
)

// History merges the REST message backlog with messages delivered over the
// realtime channel. Socket messages may arrive before or after the backlog
// fetch resolves; the merge deduplicates by id and orders by timestamp,
// falling back to arrival order on ties.
type History struct {
	gw       *gateway.Client
	sessions *session.Store
	logger   *slog.Logger

	mu      sync.Mutex
	entries []entry
	seen    map[string]bool
	arrival int
}

type entry struct {
	msg     domain.ChatMessage
	arrival int
}

// NewHistory constructs an empty history bound to the chat backlog endpoint.
func NewHistory(gw *gateway.Client, sessions *session.Store, logger *slog.Logger) *History {
	if logger == nil {
		logger = slog.Default()
	}
	h := &History{
		gw:       gw,
		sessions: sessions,
		logger:   logger,
		seen:     map[string]bool{},
	}
	sessions.OnChange(func(s *domain.Session) {
		if s == nil {
			h.reset()
		}
	})
	return h
}

// Load fetches the message backlog and merges it with whatever already
// arrived over the socket. A failed load leaves live messages intact.
func (h *History) Load(ctx context.Context) error {
	token := h.sessions.Token()
	if token == "" {
		return session.ErrNotAuthenticated
	}
	var env struct {
		Messages []domain.ChatMessage `json:"messages"`
		Items    []domain.ChatMessage `json:"items"`
	}
	if err := h.gw.Do(ctx, http.MethodGet, "/chat/history", nil, token, &env); err != nil {
		return err
	}
	msgs := env.Messages
	if len(msgs) == 0 {
		msgs = env.Items
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, m := range msgs {
		h.appendLocked(m)
	}
	return nil
}

// Append merges one realtime-delivered message.
func (h *History) Append(m domain.ChatMessage) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.appendLocked(m)
}

// Messages returns the merged, ordered sequence.
func (h *History) Messages() []domain.ChatMessage {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]domain.ChatMessage, len(h.entries))
	for i, e := range h.entries {
		out[i] = e.msg
	}
	return out
}

func (h *History) appendLocked(m domain.ChatMessage) {
	if m.ID != "" && h.seen[m.ID] {
		return
	}
	if m.ID != "" {
		h.seen[m.ID] = true
	}
	h.arrival++
	h.entries = append(h.entries, entry{msg: m, arrival: h.arrival})
	sort.SliceStable(h.entries, func(i, j int) bool {
		a, b := h.entries[i], h.entries[j]
		if a.msg.CreatedAt.Equal(b.msg.CreatedAt) {
			return a.arrival < b.arrival
		}
		return a.msg.CreatedAt.Before(b.msg.CreatedAt)
	})
}

func (h *History) reset() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.entries = nil
	h.seen = map[string]bool{}
	h.arrival = 0
}
