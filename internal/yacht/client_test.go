package yacht

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"yachtlog-go/internal/auth"
)

type staticState struct {
	state auth.State
}

func (s staticState) State() auth.State { return s.state }

var signedIn = staticState{state: auth.NewState("tok_1")}

func newTestClient(t *testing.T, state auth.StateReader, handler http.HandlerFunc) (*Client, *int32) {
	t.Helper()
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		handler(w, r)
	}))
	t.Cleanup(srv.Close)
	return NewClient(Config{BaseURL: srv.URL + "/api/"}, state, nil), &calls
}

const searchBody = `{
  "hits": {
    "total": {"value": 60},
    "hits": [
      {"_source": {"id": "1", "name": "Lady Lara", "previous_names": ["Project Jupiter"], "build_year": 2015, "length": 91, "builder": "Lurssen", "images": [{"url": "https://img.example.com/lady-lara-1.jpg"}]}},
      {"_source": {"id": "2", "name": "Dilbar", "previous_names": ["Project Omar"], "build_year": 2016, "length": 156, "builder": "Lurssen", "images": []}}
    ]
  }
}`

func TestClient_Search(t *testing.T) {
	var got searchRequest
	c, _ := newTestClient(t, signedIn, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/yachts/search", r.URL.Path)
		assert.Equal(t, "Bearer tok_1", r.Header.Get("Authorization"))
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		_, err := uuid.Parse(r.Header.Get("X-Request-ID"))
		assert.NoError(t, err)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))

		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, searchBody)
	})

	page, err := c.Search(context.Background(), "  lurssen ", 1, 0)
	require.NoError(t, err)

	assert.Equal(t, searchRequest{Query: "lurssen", From: 25, Size: 25}, got)
	require.Len(t, page.Yachts, 2)
	assert.Equal(t, Yacht{
		ID:            "1",
		Name:          "Lady Lara",
		PreviousNames: []string{"Project Jupiter"},
		BuildYear:     2015,
		Length:        91,
		Builder:       "Lurssen",
		Images:        []Image{{URL: "https://img.example.com/lady-lara-1.jpg"}},
	}, page.Yachts[0])
	assert.Equal(t, 60, page.Total)
	assert.Equal(t, 1, page.Page)
	assert.Equal(t, 25, page.PageSize)
	assert.True(t, page.HasMore)
}

func TestClient_Search_HasMore(t *testing.T) {
	tests := []struct {
		name     string
		total    int
		page     int
		pageSize int
		want     bool
	}{
		{name: "first of several", total: 60, page: 0, pageSize: 25, want: true},
		{name: "exactly one page", total: 25, page: 0, pageSize: 25, want: false},
		{name: "last page", total: 60, page: 2, pageSize: 25, want: false},
		{name: "one left over", total: 51, page: 1, pageSize: 25, want: true},
		{name: "no results", total: 0, page: 0, pageSize: 10, want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, _ := newTestClient(t, signedIn, func(w http.ResponseWriter, r *http.Request) {
				var resp searchResponse
				resp.Hits.Total.Value = tt.total
				json.NewEncoder(w).Encode(resp)
			})

			page, err := c.Search(context.Background(), "azzam", tt.page, tt.pageSize)
			require.NoError(t, err)
			assert.Equal(t, tt.want, page.HasMore)
			assert.NotNil(t, page.Yachts)
		})
	}
}

func TestClient_Search_BlankQuery(t *testing.T) {
	c, calls := newTestClient(t, staticState{}, func(w http.ResponseWriter, r *http.Request) {})

	page, err := c.Search(context.Background(), "   ", 0, 0)
	require.NoError(t, err)
	assert.Empty(t, page.Yachts)
	assert.False(t, page.HasMore)
	assert.Zero(t, atomic.LoadInt32(calls))
}

func TestClient_Search_InvalidPaging(t *testing.T) {
	tests := []struct {
		name     string
		page     int
		pageSize int
	}{
		{name: "negative page", page: -1},
		{name: "page size above limit", pageSize: MaxPageSize + 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, calls := newTestClient(t, signedIn, func(w http.ResponseWriter, r *http.Request) {})

			_, err := c.Search(context.Background(), "eclipse", tt.page, tt.pageSize)
			assert.ErrorIs(t, err, ErrInvalidInput)
			assert.Zero(t, atomic.LoadInt32(calls))
		})
	}
}

func TestClient_RefusesWithoutToken(t *testing.T) {
	c, calls := newTestClient(t, staticState{}, func(w http.ResponseWriter, r *http.Request) {
		t.Error("no request expected without a token")
	})
	ctx := context.Background()

	_, err := c.Search(ctx, "dilbar", 0, 0)
	assert.ErrorIs(t, err, ErrUnauthenticated)

	_, err = c.Positions(ctx, "2")
	assert.ErrorIs(t, err, ErrUnauthenticated)

	_, err = c.AddPosition(ctx, PositionInput{YachtID: "2", DateTime: time.Now(), Lat: 43.7, Lon: 7.4})
	assert.ErrorIs(t, err, ErrUnauthenticated)

	assert.Zero(t, atomic.LoadInt32(calls))
}

func TestClient_Positions(t *testing.T) {
	c, _ := newTestClient(t, signedIn, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/api/positions", r.URL.Path)
		assert.Equal(t, "42", r.URL.Query().Get("yacht_like_id"))
		io.WriteString(w, `[
			{"id": 7, "date_time": "2024-05-01T10:00:00Z", "lat": "43.7384", "lon": "7.4246", "notes": "Monaco"},
			{"id": "8", "yacht_like_id": "42", "date_time": "2024-05-03T18:30:00Z", "lat": -33.85, "lon": 151.2, "notes": ""}
		]`)
	})

	positions, err := c.Positions(context.Background(), "42")
	require.NoError(t, err)
	require.Len(t, positions, 2)

	assert.Equal(t, Position{
		ID:       "7",
		YachtID:  "42",
		DateTime: time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC),
		Lat:      43.7384,
		Lon:      7.4246,
		Notes:    "Monaco",
	}, positions[0])
	assert.Equal(t, "8", positions[1].ID)
	assert.InDelta(t, -33.85, positions[1].Lat, 1e-9)
}

func TestClient_Positions_Errors(t *testing.T) {
	tests := []struct {
		name       string
		status     int
		body       string
		wantUnauth bool
	}{
		{name: "expired token", status: http.StatusUnauthorized, body: `{"error":"expired"}`, wantUnauth: true},
		{name: "server error", status: http.StatusInternalServerError, body: "boom"},
		{name: "not found", status: http.StatusNotFound, body: "no such yacht"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, _ := newTestClient(t, signedIn, func(w http.ResponseWriter, r *http.Request) {
				http.Error(w, tt.body, tt.status)
			})

			_, err := c.Positions(context.Background(), "42")
			require.Error(t, err)

			var apiErr *APIError
			require.ErrorAs(t, err, &apiErr)
			assert.Equal(t, tt.status, apiErr.StatusCode)
			assert.Equal(t, tt.body, apiErr.Body)
			assert.Equal(t, tt.wantUnauth, errors.Is(err, ErrUnauthenticated))
		})
	}
}

func TestClient_Positions_MalformedCoordinates(t *testing.T) {
	c, _ := newTestClient(t, signedIn, func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `[{"id": "1", "date_time": "2024-05-01T10:00:00Z", "lat": "north", "lon": "7.4"}]`)
	})

	_, err := c.Positions(context.Background(), "42")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "north")
}

func TestClient_AddPosition(t *testing.T) {
	var got map[string]interface{}
	c, _ := newTestClient(t, signedIn, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/positions", r.URL.Path)
		assert.Equal(t, "42", r.URL.Query().Get("yacht_like_id"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusCreated)
		io.WriteString(w, `{"id": 99, "yacht_like_id": "42", "date_time": "2024-05-01T10:00:00Z", "lat": "43.7384", "lon": "7.4246", "notes": "Port Hercule"}`)
	})

	when := time.Date(2024, 5, 1, 12, 0, 0, 0, time.FixedZone("CEST", 2*60*60))
	created, err := c.AddPosition(context.Background(), PositionInput{
		YachtID:  "42",
		DateTime: when,
		Lat:      43.7384,
		Lon:      7.4246,
		Notes:    "Port Hercule",
	})
	require.NoError(t, err)

	assert.Equal(t, map[string]interface{}{
		"yacht_like_id": "42",
		"date_time":     "2024-05-01T10:00:00Z",
		"lat":           "43.7384",
		"lon":           "7.4246",
		"notes":         "Port Hercule",
	}, got)
	assert.Equal(t, "99", created.ID)
	assert.Equal(t, "42", created.YachtID)
	assert.True(t, when.Equal(created.DateTime))
}

func TestClient_AddPosition_EmptyResponse(t *testing.T) {
	c, _ := newTestClient(t, signedIn, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})

	when := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	created, err := c.AddPosition(context.Background(), PositionInput{YachtID: "42", DateTime: when, Lat: 1.5, Lon: -2.5})
	require.NoError(t, err)
	assert.Equal(t, Position{YachtID: "42", DateTime: when, Lat: 1.5, Lon: -2.5}, created)
}

func TestClient_AddPosition_Validation(t *testing.T) {
	valid := PositionInput{YachtID: "42", DateTime: time.Now(), Lat: 43.7, Lon: 7.4}

	tests := []struct {
		name   string
		mutate func(*PositionInput)
		field  string
	}{
		{name: "missing yacht", mutate: func(p *PositionInput) { p.YachtID = "" }, field: "YachtID"},
		{name: "missing time", mutate: func(p *PositionInput) { p.DateTime = time.Time{} }, field: "DateTime"},
		{name: "latitude too high", mutate: func(p *PositionInput) { p.Lat = 90.5 }, field: "Lat"},
		{name: "latitude too low", mutate: func(p *PositionInput) { p.Lat = -91 }, field: "Lat"},
		{name: "longitude out of range", mutate: func(p *PositionInput) { p.Lon = 180.1 }, field: "Lon"},
		{name: "notes too long", mutate: func(p *PositionInput) { p.Notes = strings.Repeat("a", MaxNotesLength+1) }, field: "Notes"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, calls := newTestClient(t, signedIn, func(w http.ResponseWriter, r *http.Request) {})
			in := valid
			tt.mutate(&in)

			_, err := c.AddPosition(context.Background(), in)
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrInvalidInput)
			assert.Contains(t, err.Error(), tt.field)
			assert.Zero(t, atomic.LoadInt32(calls))
		})
	}

	t.Run("notes at the limit", func(t *testing.T) {
		c, _ := newTestClient(t, signedIn, func(w http.ResponseWriter, r *http.Request) {})
		in := valid
		in.Notes = strings.Repeat("é", MaxNotesLength)
		assert.NoError(t, c.ValidatePosition(in))
	})
}
