package server

import (
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"errors"
	"net/http"
	"path"
	"sort"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/nomdn/dress-api/internal/catalog"
	"github.com/nomdn/dress-api/internal/metrics"
	"github.com/nomdn/dress-api/internal/models"
	"github.com/nomdn/dress-api/internal/storage"
	"github.com/nomdn/dress-api/internal/syncer"
	"github.com/zeebo/blake3"
	"go.uber.org/zap"
)

// imageResponse is the body of the random image endpoints.
type imageResponse struct {
	ID        int      `json:"id,omitempty"`
	ImgURL    string   `json:"img_url"`
	ImgAuthor []string `json:"img_author"`
	Notice    string   `json:"notice"`
}

type authorCount struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

// snapshot returns the served snapshot or writes 503 when none is loaded.
func (s *Server) snapshot(w http.ResponseWriter) (*syncer.State, bool) {
	cur := s.index.Current()
	if cur == nil || cur.Snapshot.Len() == 0 {
		s.respondError(w, http.StatusServiceUnavailable, "index not ready")
		return nil, false
	}
	return cur, true
}

func (s *Server) handleRandom(w http.ResponseWriter, r *http.Request) {
	cur, ok := s.snapshot(w)
	if !ok {
		return
	}
	snap := cur.Snapshot
	// Mirrored and legacy documents may have gaps in their ids.
	keys := snap.Master.Keys()
	key := keys[s.intn(len(keys))]
	entry := snap.Master[key]
	metrics.Served.WithLabelValues("random").Inc()
	names := make([]string, len(entry.Contributors))
	for i, c := range entry.Contributors {
		names[i] = c.Name
	}
	s.respondJSON(w, http.StatusOK, imageResponse{
		ID:        key,
		ImgURL:    s.imageURL(r, entry.Path),
		ImgAuthor: names,
		Notice:    s.config.Notice,
	})
}

func (s *Server) handleAuthors(w http.ResponseWriter, r *http.Request) {
	cur, ok := s.snapshot(w)
	if !ok {
		return
	}
	authors := make([]authorCount, 0, len(cur.Snapshot.Authors))
	for _, name := range cur.Snapshot.Authors.Names() {
		authors = append(authors, authorCount{Name: name, Count: len(cur.Snapshot.Authors[name])})
	}
	sort.SliceStable(authors, func(i, j int) bool { return authors[i].Count > authors[j].Count })
	s.respondJSON(w, http.StatusOK, map[string]interface{}{"authors": authors, "total": len(authors)})
}

func (s *Server) handleRandomByAuthor(w http.ResponseWriter, r *http.Request) {
	cur, ok := s.snapshot(w)
	if !ok {
		return
	}
	name := chi.URLParam(r, "name")
	items := cur.Snapshot.Authors[name]
	if len(items) == 0 {
		s.respondJSON(w, http.StatusNotFound, map[string]interface{}{
			"error":       "author not found",
			"suggestions": catalog.Suggest(cur.Snapshot.Authors.Names(), name, 3),
		})
		return
	}
	item := items[s.intn(len(items))]
	metrics.Served.WithLabelValues("author").Inc()
	s.respondJSON(w, http.StatusOK, imageResponse{
		ImgURL:    s.imageURL(r, item.Path),
		ImgAuthor: []string{name},
		Notice:    s.config.Notice,
	})
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	cur, ok := s.snapshot(w)
	if !ok {
		return
	}
	query := models.SearchQuery{Query: r.URL.Query().Get("q")}
	if raw := r.URL.Query().Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil {
			s.respondError(w, http.StatusBadRequest, "limit must be an integer")
			return
		}
		query.Limit = limit
	}
	if err := query.Validate(); err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	s.logger.Debug("search request", zap.String("query", query.Query), zap.Int("limit", query.Limit))
	response, err := cur.Catalog.Search(r.Context(), query)
	if err != nil {
		s.logger.Error("search failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, response)
}

func (s *Server) handleSync(w http.ResponseWriter, r *http.Request) {
	key := r.Header.Get("X-API-Key")
	if s.config.APIKey == "" || subtle.ConstantTimeCompare([]byte(key), []byte(s.config.APIKey)) != 1 {
		s.logger.Warn("sync rejected: bad api key", zap.String("remote", r.RemoteAddr))
		s.respondError(w, http.StatusForbidden, "invalid api key")
		return
	}
	raw := r.URL.Query().Get("rebuild_index")
	if raw == "" {
		s.respondError(w, http.StatusBadRequest, "rebuild_index is required")
		return
	}
	rebuild, err := strconv.ParseBool(raw)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "rebuild_index must be true or false")
		return
	}
	s.index.RequestSync(rebuild, syncer.TriggerAPI)
	s.logger.Info("sync requested", zap.Bool("rebuild_index", rebuild))
	s.respondJSON(w, http.StatusAccepted, map[string]interface{}{"status": "accepted", "rebuild_index": rebuild})
}

func (s *Server) handleDocument(w http.ResponseWriter, r *http.Request) {
	name := path.Base(r.URL.Path)
	data, err := s.docs.ReadDocument(name)
	if errors.Is(err, storage.ErrNoIndex) {
		s.respondError(w, http.StatusNotFound, "index not built yet")
		return
	}
	if err != nil {
		s.logger.Error("read index document", zap.String("name", name), zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, "failed to read index")
		return
	}
	sum := blake3.Sum256(data)
	etag := `"` + hex.EncodeToString(sum[:12]) + `"`
	w.Header().Set("ETag", etag)
	w.Header().Set("Cache-Control", "no-cache")
	if match := r.Header.Get("If-None-Match"); match != "" && match == etag {
		w.WriteHeader(http.StatusNotModified)
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	st, err := s.index.Status(r.Context())
	if err != nil {
		s.logger.Error("status failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, st)
}

// imageURL joins the configured image base, or "<request base>/img/", with an escaped path.
func (s *Server) imageURL(r *http.Request, escapedPath string) string {
	base := s.config.ImgBaseURL
	if base == "" {
		scheme := "http"
		if r.TLS != nil {
			scheme = "https"
		}
		if proto := r.Header.Get("X-Forwarded-Proto"); proto != "" {
			scheme = proto
		}
		base = scheme + "://" + r.Host + "/img/"
	}
	if !strings.HasSuffix(base, "/") {
		base += "/"
	}
	return base + escapedPath
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(data)
}

func (s *Server) respondError(w http.ResponseWriter, status int, message string) {
	s.respondJSON(w, status, map[string]string{"error": message})
}
