package app

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"yachtlog-go/internal/yacht"
)

// routes builds the local API.
func (a *Application) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(chimiddleware.Recoverer)
	r.Use(a.requestID)
	r.Use(a.logRequests)

	r.Get("/healthz", a.handleHealth)

	r.Route("/auth", func(r chi.Router) {
		r.Get("/status", a.handleAuthStatus)
		r.Post("/check", a.handleAuthCheck)
		r.Post("/logout", a.handleLogout)
	})

	r.Route("/yachts", func(r chi.Router) {
		r.Use(a.requireAuth)
		r.Get("/search", a.handleSearch)
		r.Get("/{id}/positions", a.handleListPositions)
		r.Post("/{id}/positions", a.handleAddPosition)
	})

	return r
}

type authStatusResponse struct {
	IsAuthenticated bool `json:"is_authenticated"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

//
// Authentication Handlers
//

type healthResponse struct {
	Status  string        `json:"status"`
	Storage StorageStatus `json:"storage"`
	Error   string        `json:"error,omitempty"`
}

func (a *Application) handleHealth(w http.ResponseWriter, r *http.Request) {
	st, err := a.StorageStatus(r.Context())
	switch {
	case err != nil:
		a.Logger.Warn("storage health check failed", "error", err)
		writeJSON(w, http.StatusServiceUnavailable, healthResponse{Status: "degraded", Storage: st, Error: err.Error()})
	case !st.Healthy():
		writeJSON(w, http.StatusServiceUnavailable, healthResponse{Status: "degraded", Storage: st})
	default:
		writeJSON(w, http.StatusOK, healthResponse{Status: "ok", Storage: st})
	}
}

func (a *Application) handleAuthStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, authStatusResponse{IsAuthenticated: a.Auth.State().IsAuthenticated})
}

// handleAuthCheck reloads the token from the credential store.
func (a *Application) handleAuthCheck(w http.ResponseWriter, r *http.Request) {
	state := a.Auth.CheckAuth(r.Context())
	writeJSON(w, http.StatusOK, authStatusResponse{IsAuthenticated: state.IsAuthenticated})
}

// handleLogout clears the stored tokens.
func (a *Application) handleLogout(w http.ResponseWriter, r *http.Request) {
	if err := a.Auth.Logout(r.Context()); err != nil {
		a.Logger.Error("logout failed", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to remove stored tokens")
		return
	}
	writeJSON(w, http.StatusOK, authStatusResponse{IsAuthenticated: false})
}

//
// Yacht Handlers
//

func (a *Application) handleSearch(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	page, err := intParam(q.Get("page"), 0)
	if err != nil {
		writeError(w, http.StatusBadRequest, "page must be an integer")
		return
	}
	pageSize, err := intParam(q.Get("page_size"), 0)
	if err != nil {
		writeError(w, http.StatusBadRequest, "page_size must be an integer")
		return
	}

	result, err := a.Yachts.Search(r.Context(), q.Get("q"), page, pageSize)
	if err != nil {
		a.writeYachtError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (a *Application) handleListPositions(w http.ResponseWriter, r *http.Request) {
	positions, err := a.Yachts.Positions(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		a.writeYachtError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, positions)
}

type addPositionRequest struct {
	DateTime *time.Time `json:"date_time"`
	Lat      float64    `json:"lat"`
	Lon      float64    `json:"lon"`
	Notes    string     `json:"notes"`
}

// handleAddPosition records a position; date_time defaults to now.
func (a *Application) handleAddPosition(w http.ResponseWriter, r *http.Request) {
	var req addPositionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	in := yacht.PositionInput{
		YachtID:  chi.URLParam(r, "id"),
		DateTime: time.Now(),
		Lat:      req.Lat,
		Lon:      req.Lon,
		Notes:    req.Notes,
	}
	if req.DateTime != nil {
		in.DateTime = *req.DateTime
	}

	created, err := a.Yachts.AddPosition(r.Context(), in)
	if err != nil {
		a.writeYachtError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

// writeYachtError maps yacht client failures onto local API statuses.
func (a *Application) writeYachtError(w http.ResponseWriter, err error) {
	var apiErr *yacht.APIError
	switch {
	case errors.Is(err, yacht.ErrUnauthenticated):
		writeError(w, http.StatusUnauthorized, "not authenticated")
	case errors.Is(err, yacht.ErrInvalidInput):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.As(err, &apiErr):
		a.Logger.Warn("yacht api error", "operation", apiErr.Operation, "status", apiErr.StatusCode)
		writeError(w, http.StatusBadGateway, err.Error())
	default:
		a.Logger.Error("yacht request failed", "error", err)
		writeError(w, http.StatusBadGateway, "yacht api unavailable")
	}
}

func intParam(s string, def int) (int, error) {
	if s == "" {
		return def, nil
	}
	return strconv.Atoi(s)
}
