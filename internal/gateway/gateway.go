package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"mime/multipart"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
)

// DefaultTimeout bounds every request issued through the gateway.
const DefaultTimeout = 30 * time.Second

// Client is the single choke point for REST traffic to the backend. It is
// stateless: auth tokens are passed per call, never stored here.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
}

// New constructs a gateway client for the given REST base URL.
func New(baseURL string, timeout time.Duration, logger *slog.Logger) *Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger,
	}
}

// BaseURL returns the configured REST base URL without a trailing slash.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// Do issues a JSON request and decodes the response body into out when out
// is non-nil. A non-2xx status is returned as *APIError; a timeout wraps
// ErrTimeout. The response body is decoded verbatim: interpreting envelope
// shapes is the caller's job.
func (c *Client) Do(ctx context.Context, method, path string, payload any, token string, out any) error {
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return err
		}
		body = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	addAuthHeader(req, token)
	req.Header.Set("X-Request-Id", uuid.NewString())
	return c.send(req, out)
}

// MultipartForm builds the body for a multipart upload. The content type
// carries the generated boundary and must reach the transport untouched.
type MultipartForm struct {
	ContentType string
	Body        io.Reader
}

// NewFileForm packages a single file under the given field name.
func NewFileForm(field, filename string, r io.Reader) (MultipartForm, error) {
	buf := &bytes.Buffer{}
	writer := multipart.NewWriter(buf)
	part, err := writer.CreateFormFile(field, filename)
	if err != nil {
		return MultipartForm{}, err
	}
	if _, err := io.Copy(part, r); err != nil {
		return MultipartForm{}, err
	}
	if err := writer.Close(); err != nil {
		return MultipartForm{}, err
	}
	return MultipartForm{ContentType: writer.FormDataContentType(), Body: buf}, nil
}

// DoMultipart issues a multipart POST. Unlike Do, the content type is taken
// from the form so the multipart boundary survives.
func (c *Client) DoMultipart(ctx context.Context, path string, form MultipartForm, token string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, form.Body)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", form.ContentType)
	addAuthHeader(req, token)
	req.Header.Set("X-Request-Id", uuid.NewString())
	return c.send(req, out)
}

func (c *Client) send(req *http.Request, out any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		if isTimeout(err) {
			return ErrTimeout
		}
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		apiErr := parseAPIError(resp)
		c.logger.Debug("request rejected",
			"method", req.Method, "path", req.URL.Path, "status", apiErr.Status, "msg", apiErr.Message)
		return apiErr
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return err
	}
	return nil
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

// parseAPIError extracts a human-readable message from the backend's error
// envelope. Known shapes: {error:{code,message}}, {error:"..."}, {message:"..."}.
// An unparseable body still produces a structured error with the HTTP status.
func parseAPIError(resp *http.Response) *APIError {
	apiErr := &APIError{
		Status:     resp.StatusCode,
		StatusText: http.StatusText(resp.StatusCode),
		Message:    "request failed",
	}
	var envelope struct {
		Error   json.RawMessage `json:"error"`
		Message string          `json:"message"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return apiErr
	}
	if len(envelope.Error) > 0 {
		var nested struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		}
		if err := json.Unmarshal(envelope.Error, &nested); err == nil && nested.Message != "" {
			apiErr.Message = nested.Message
			apiErr.Code = strings.TrimSpace(nested.Code)
			return apiErr
		}
		var flat string
		if err := json.Unmarshal(envelope.Error, &flat); err == nil && flat != "" {
			apiErr.Message = flat
			return apiErr
		}
	}
	if envelope.Message != "" {
		apiErr.Message = envelope.Message
	}
	return apiErr
}

func addAuthHeader(req *http.Request, token string) {
	if strings.TrimSpace(token) == "" {
		return
	}
	req.Header.Set("Authorization", "Bearer "+token)
}
