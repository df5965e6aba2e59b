package cart

import "bookmarket/pkg/domain"

// The cart fetch endpoint has returned two envelope shapes across backend
// versions: nested {cart:{items:[...]}} and flat {items:[...]}. Both are
// accepted and normalized here; the union never leaks past this file.
type cartEnvelope struct {
	Items []cartItem `json:"items"`
	Cart  *struct {
		Items []cartItem `json:"items"`
	} `json:"cart"`
}

type cartItem struct {
	ID       string      `json:"id"`
	Book     domain.Book `json:"book"`
	Quantity int         `json:"quantity"`
}

func (e cartEnvelope) lines() []domain.CartLine {
	items := e.Items
	if e.Cart != nil {
		items = e.Cart.Items
	}
	lines := make([]domain.CartLine, 0, len(items))
	for _, it := range items {
		lines = append(lines, domain.CartLine{ID: it.ID, Book: it.Book, Quantity: it.Quantity})
	}
	return lines
}
