package web

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/devthoughts/postsearch/internal/hydrate"
	"github.com/devthoughts/postsearch/internal/index"
	"github.com/devthoughts/postsearch/internal/storage"
)

// Server exposes the search query surface over HTTP. Query handling is
// stateless; any number of requests may be served concurrently against the
// read-only store and index handles.
type Server struct {
	db           *storage.DB
	idx          *index.Index
	hydrator     *hydrate.Hydrator
	pageSize     int
	probeTimeout time.Duration
	logger       *slog.Logger
}

// NewServer creates the HTTP server.
func NewServer(db *storage.DB, idx *index.Index, pageSize int, probeTimeout time.Duration, logger *slog.Logger) *Server {
	return &Server{
		db:           db,
		idx:          idx,
		hydrator:     hydrate.New(db, logger),
		pageSize:     pageSize,
		probeTimeout: probeTimeout,
		logger:       logger,
	}
}

// Handler returns the route table.
func (s *Server) Handler() http.Handler {
	r := mux.NewRouter()
	r.HandleFunc("/api/search", s.handleSearch).Methods("GET")
	r.HandleFunc("/api/posts/{id}", s.handleGetPost).Methods("GET")
	r.HandleFunc("/health", s.handleHealth).Methods("GET")
	return r
}

// SearchResponse is the paginated search payload.
type SearchResponse struct {
	Results  []*hydrate.Item `json:"results"`
	Total    uint64          `json:"total"`
	Page     int             `json:"page"`
	PageSize int             `json:"page_size"`
	HasNext  bool            `json:"has_next"`
	Query    string          `json:"query"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// viewerID extracts the requesting viewer's identity. Authentication is an
// external collaborator; an absent or unparseable header means anonymous.
func viewerID(r *http.Request) int64 {
	id, err := strconv.ParseInt(r.Header.Get("X-User-ID"), 10, 64)
	if err != nil {
		return 0
	}
	return id
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query().Get("q")
	if query == "" {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: `Query parameter "q" is required`})
		return
	}

	page := 1
	if pageStr := r.URL.Query().Get("page"); pageStr != "" {
		p, err := strconv.Atoi(pageStr)
		if err != nil || p < 1 {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: "Invalid page number"})
			return
		}
		page = p
	}

	result, err := s.idx.Search(query, page)
	if err != nil {
		switch {
		case errors.Is(err, index.ErrBadQuery):
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: "Invalid search query. Please try a different query."})
		case errors.Is(err, index.ErrUnavailable):
			s.logger.Error("search engine unavailable", "error", err)
			writeJSON(w, http.StatusServiceUnavailable, errorResponse{Error: "Search service is temporarily unavailable. Please try again later."})
		default:
			s.logger.Error("search failed", "error", err)
			writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "An unexpected error occurred. Please try again later."})
		}
		return
	}

	items, err := s.hydrator.Hydrate(result.Hits, viewerID(r))
	if err != nil {
		s.logger.Error("hydration failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "An unexpected error occurred. Please try again later."})
		return
	}

	writeJSON(w, http.StatusOK, SearchResponse{
		Results:  items,
		Total:    result.Total,
		Page:     page,
		PageSize: s.pageSize,
		HasNext:  uint64(page*s.pageSize) < result.Total,
		Query:    query,
	})
}

func (s *Server) handleGetPost(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	post, err := s.db.GetPost(id)
	if err != nil {
		s.logger.Error("failed to fetch post", "id", id, "error", err)
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "Failed to fetch post"})
		return
	}
	if post == nil || post.Deleted {
		writeJSON(w, http.StatusNotFound, errorResponse{Error: "Post not found"})
		return
	}

	writeJSON(w, http.StatusOK, post)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	type counts struct {
		store int
		index uint64
		err   error
	}

	// Bound the probe so a wedged store or index fails fast instead of
	// hanging the health check.
	done := make(chan counts, 1)
	go func() {
		var c counts
		c.store, c.err = s.db.CountPosts()
		if c.err == nil {
			c.index, c.err = s.idx.DocCount()
		}
		done <- c
	}()

	select {
	case c := <-done:
		if c.err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]any{"status": "error", "error": c.err.Error()})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"status":         "ok",
			"posts_in_store": c.store,
			"posts_in_index": c.index,
		})
	case <-time.After(s.probeTimeout):
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{"status": "error", "error": "health probe timed out"})
	}
}
