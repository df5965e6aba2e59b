package cart

import (
	"errors"
	"net/http"
	"strings"

	"bookmarket/internal/gateway"
)

// ErrInsufficientStock indicates the backend rejected an add/update because
// the requested quantity exceeds stock. The UI reacts to this kind with a
// toast, not a hard error.
var ErrInsufficientStock = errors.New("insufficient stock")

// insufficientStock recognizes the stock-exhaustion rejection among generic
// 4xx errors. The backend does not use a dedicated status, so the code and
// message content are matched.
func insufficientStock(err error) (string, bool) {
	var apiErr *gateway.APIError
	if !errors.As(err, &apiErr) {
		return "", false
	}
	switch apiErr.Status {
	case http.StatusBadRequest, http.StatusConflict, http.StatusUnprocessableEntity:
	default:
		return "", false
	}
	if apiErr.Code == "insufficient_stock" {
		return apiErr.Message, true
	}
	if strings.Contains(strings.ToLower(apiErr.Message), "stock") {
		return apiErr.Message, true
	}
	return "", false
}
