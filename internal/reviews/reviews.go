package reviews

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"bookmarket/internal/gateway"
	"bookmarket/internal/session"
	"bookmarket/pkg/domain"
)

// Client covers the per-book review surface. Reads are public; writes
// require a session and are validated locally before anything is sent.
type Client struct {
	gw       *gateway.Client
	sessions *session.Store
	logger   *slog.Logger
}

func New(gw *gateway.Client, sessions *session.Store, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{gw: gw, sessions: sessions, logger: logger}
}

// ListForBook returns the reviews for one book.
func (c *Client) ListForBook(ctx context.Context, bookID string) ([]domain.Review, error) {
	var env struct {
		Reviews []domain.Review `json:"reviews"`
		Items   []domain.Review `json:"items"`
	}
	if err := c.gw.Do(ctx, http.MethodGet, "/books/"+bookID+"/reviews", nil, c.sessions.Token(), &env); err != nil {
		return nil, err
	}
	if env.Reviews != nil {
		return env.Reviews, nil
	}
	return env.Items, nil
}

func validate(rating int, comment string) error {
	if rating < 1 || rating > 5 {
		return fmt.Errorf("%w: rating must be between 1 and 5", session.ErrValidation)
	}
	if strings.TrimSpace(comment) == "" {
		return fmt.Errorf("%w: comment required", session.ErrValidation)
	}
	return nil
}

// Create posts a new review for a book.
func (c *Client) Create(ctx context.Context, bookID string, rating int, comment string) (domain.Review, error) {
	token := c.sessions.Token()
	if token == "" {
		return domain.Review{}, session.ErrNotAuthenticated
	}
	if err := validate(rating, comment); err != nil {
		return domain.Review{}, err
	}
	payload := map[string]any{"bookId": bookID, "rating": rating, "comment": strings.TrimSpace(comment)}
	var review domain.Review
	if err := c.gw.Do(ctx, http.MethodPost, "/reviews", payload, token, &review); err != nil {
		return domain.Review{}, err
	}
	return review, nil
}

// Update replaces the rating and comment of an existing review.
func (c *Client) Update(ctx context.Context, reviewID string, rating int, comment string) (domain.Review, error) {
	token := c.sessions.Token()
	if token == "" {
		return domain.Review{}, session.ErrNotAuthenticated
	}
	if err := validate(rating, comment); err != nil {
		return domain.Review{}, err
	}
	payload := map[string]any{"rating": rating, "comment": strings.TrimSpace(comment)}
	var review domain.Review
	if err := c.gw.Do(ctx, http.MethodPut, "/reviews/"+reviewID, payload, token, &review); err != nil {
		return domain.Review{}, err
	}
	return review, nil
}

// Delete removes a review.
func (c *Client) Delete(ctx context.Context, reviewID string) error {
	token := c.sessions.Token()
	if token == "" {
		return session.ErrNotAuthenticated
	}
	return c.gw.Do(ctx, http.MethodDelete, "/reviews/"+reviewID, nil, token, nil)
}
