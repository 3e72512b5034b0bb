// Package yacht is the client for the remote yacht index and its position
// records. Every call requires an authenticated session.
package yacht

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"yachtlog-go/internal/auth"
	"yachtlog-go/internal/logger"
	"yachtlog-go/internal/metrics"
)

const (
	DefaultPageSize = 25
	MaxPageSize     = 100
	DefaultTimeout  = 30 * time.Second

	maxErrorBody = 4 << 10
)

var (
	// ErrUnauthenticated is returned when there is no access token or the
	// API rejected it.
	ErrUnauthenticated = errors.New("not authenticated")
	// ErrInvalidInput is returned for requests that fail local validation.
	ErrInvalidInput = errors.New("invalid input")
)

// APIError is a non-2xx response from the yacht API.
type APIError struct {
	Operation  string
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s: unexpected status %d: %s", e.Operation, e.StatusCode, e.Body)
}

// Unwrap lets a 401 match ErrUnauthenticated.
func (e *APIError) Unwrap() error {
	if e.StatusCode == http.StatusUnauthorized {
		return ErrUnauthenticated
	}
	return nil
}

// Config configures the API client.
type Config struct {
	BaseURL  string
	Timeout  time.Duration
	PageSize int
}

// Client talks to the yacht API using the current access token.
type Client struct {
	baseURL    string
	pageSize   int
	httpClient *http.Client
	auth       auth.StateReader
	validate   *validator.Validate
	logger     *logger.Logger
}

// NewClient creates a new Client.
func NewClient(cfg Config, state auth.StateReader, log *logger.Logger) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.PageSize <= 0 {
		cfg.PageSize = DefaultPageSize
	}
	if log == nil {
		log = logger.NewNop()
	}
	return &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		pageSize:   cfg.PageSize,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		auth:       state,
		validate:   validator.New(),
		logger:     log,
	}
}

// Search returns one page of yachts matching query. Pages are zero based;
// pageSize <= 0 uses the configured default and may not exceed MaxPageSize.
// A blank query yields an empty page without contacting the API.
func (c *Client) Search(ctx context.Context, query string, page, pageSize int) (SearchPage, error) {
	if page < 0 {
		return SearchPage{}, fmt.Errorf("%w: page must not be negative", ErrInvalidInput)
	}
	if pageSize > MaxPageSize {
		return SearchPage{}, fmt.Errorf("%w: page size must not exceed %d", ErrInvalidInput, MaxPageSize)
	}
	if pageSize <= 0 {
		pageSize = c.pageSize
	}

	result := SearchPage{Yachts: []Yacht{}, Page: page, PageSize: pageSize}
	query = strings.TrimSpace(query)
	if query == "" {
		return result, nil
	}

	var resp searchResponse
	body := searchRequest{Query: query, From: page * pageSize, Size: pageSize}
	if err := c.do(ctx, "search", http.MethodPost, "/yachts/search", nil, body, &resp); err != nil {
		return SearchPage{}, err
	}

	for _, hit := range resp.Hits.Hits {
		result.Yachts = append(result.Yachts, hit.Source)
	}
	result.Total = resp.Hits.Total.Value
	result.HasMore = result.Total > (page+1)*pageSize
	return result, nil
}

// Positions lists the recorded positions of a yacht.
func (c *Client) Positions(ctx context.Context, yachtID string) ([]Position, error) {
	if strings.TrimSpace(yachtID) == "" {
		return nil, fmt.Errorf("%w: yacht id is required", ErrInvalidInput)
	}

	var wire []wirePosition
	query := url.Values{"yacht_like_id": {yachtID}}
	if err := c.do(ctx, "positions", http.MethodGet, "/positions", query, nil, &wire); err != nil {
		return nil, err
	}

	positions := make([]Position, 0, len(wire))
	for _, w := range wire {
		p, err := w.position()
		if err != nil {
			return nil, fmt.Errorf("decoding position: %w", err)
		}
		if p.YachtID == "" {
			p.YachtID = yachtID
		}
		positions = append(positions, p)
	}
	return positions, nil
}

// AddPosition records a new position for a yacht. The created record is
// returned; when the API replies without a body the input is echoed back.
func (c *Client) AddPosition(ctx context.Context, in PositionInput) (Position, error) {
	if err := c.ValidatePosition(in); err != nil {
		return Position{}, err
	}

	var raw json.RawMessage
	query := url.Values{"yacht_like_id": {in.YachtID}}
	if err := c.do(ctx, "add_position", http.MethodPost, "/positions", query, newWirePosition(in), &raw); err != nil {
		return Position{}, err
	}

	created := Position{
		YachtID:  in.YachtID,
		DateTime: in.DateTime.UTC().Truncate(time.Second),
		Lat:      in.Lat,
		Lon:      in.Lon,
		Notes:    in.Notes,
	}
	var w wirePosition
	if len(raw) > 0 && json.Unmarshal(raw, &w) == nil {
		if p, err := w.position(); err == nil {
			if p.YachtID == "" {
				p.YachtID = in.YachtID
			}
			created = p
		}
	}
	return created, nil
}

// ValidatePosition checks a position before it is sent.
func (c *Client) ValidatePosition(in PositionInput) error {
	if err := c.validate.Struct(in); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			fields := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				fields = append(fields, fmt.Sprintf("%s failed %s", fe.Field(), fe.Tag()))
			}
			return fmt.Errorf("%w: %s", ErrInvalidInput, strings.Join(fields, "; "))
		}
		return fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	return nil
}

func (c *Client) do(ctx context.Context, op, method, path string, query url.Values, body, out interface{}) error {
	state := c.auth.State()
	if !state.IsAuthenticated {
		return ErrUnauthenticated
	}

	target := c.baseURL + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("%s: encoding request: %w", op, err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return fmt.Errorf("%s: creating request: %w", op, err)
	}
	requestID := uuid.NewString()
	req.Header.Set("Authorization", "Bearer "+state.AccessToken)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Request-ID", requestID)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	metrics.APIRequestDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.APIRequests.WithLabelValues(op, "error").Inc()
		return fmt.Errorf("%s: %w", op, err)
	}
	defer resp.Body.Close()
	metrics.APIRequests.WithLabelValues(op, strconv.Itoa(resp.StatusCode)).Inc()

	c.logger.Debug("yacht api request",
		"operation", op,
		"status", resp.StatusCode,
		"request_id", requestID,
		"duration", time.Since(start),
	)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return &APIError{Operation: op, StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(b))}
	}

	if raw, ok := out.(*json.RawMessage); ok {
		b, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("%s: reading response: %w", op, err)
		}
		*raw = bytes.TrimSpace(b)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%s: decoding response: %w", op, err)
	}
	return nil
}
