// Package server serves a built dataset over a local read-only HTTP API.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	jsoniter "github.com/json-iterator/go"
	"github.com/rs/cors"
	"github.com/sirupsen/logrus"

	"github.com/iyulab/sigma-cti-triplets/internal/reporter"
	"github.com/iyulab/sigma-cti-triplets/internal/triplet"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Server is a local HTTP server over one immutable dataset.
type Server struct {
	mu         sync.RWMutex
	summary    reporter.RunSummary
	dataset    reporter.Dataset
	reportHTML string
	httpServer *http.Server
}

// New creates a Server. html may be empty when no report was rendered.
func New(summary reporter.RunSummary, ds reporter.Dataset, html string) *Server {
	return &Server{summary: summary, dataset: ds, reportHTML: html}
}

// Load reads the artifacts of a previous run from dir. Only
// triplets_full.json is required.
func Load(dir string) (*Server, error) {
	ds, err := reporter.LoadDataset(dir)
	if err != nil {
		return nil, fmt.Errorf("load dataset: %w", err)
	}

	summary, err := reporter.ReadSummary(dir)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("load summary: %w", err)
		}
		summary.Complete(ds)
	}

	html, err := os.ReadFile(filepath.Join(dir, reporter.ReportFile))
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load report: %w", err)
	}
	return New(summary, ds, string(html)), nil
}

// Handler returns the routed handler wrapped with CORS for GET requests.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/api/summary", s.handleSummary)
	mux.HandleFunc("/api/techniques", s.handleTechniques)
	mux.HandleFunc("/api/triplets", s.handleTriplets)
	mux.HandleFunc("/", s.handleReport)

	c := cors.New(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type"},
	})
	return c.Handler(mux)
}

// Start begins listening on 127.0.0.1 at port (0 = OS-assigned). Returns "host:port".
func (s *Server) Start(ctx context.Context, port int) (string, error) {
	ln, err := net.Listen("tcp", fmt.Sprintf("127.0.0.1:%d", port))
	if err != nil {
		return "", fmt.Errorf("listen: %w", err)
	}

	s.httpServer = &http.Server{
		Handler:     s.Handler(),
		BaseContext: func(net.Listener) context.Context { return ctx },
	}
	go func() {
		if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logrus.Errorf("server: %v", err)
		}
	}()

	return ln.Addr().String(), nil
}

// Stop shuts the server down.
func (s *Server) Stop() {
	if s.httpServer != nil {
		s.httpServer.Close()
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]string{"status": "ok"})
}

func (s *Server) handleSummary(w http.ResponseWriter, r *http.Request) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	writeJSON(w, s.summary)
}

// handleTechniques lists technique summaries, by detections unless
// ?sort=id is given. ?top=N limits the list.
func (s *Server) handleTechniques(w http.ResponseWriter, r *http.Request) {
	top, err := intParam(r, "top")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	ranks := reporter.TopTechniques(s.dataset.Techniques, top)
	if r.URL.Query().Get("sort") == "id" {
		ranks = ranks[:0]
		for _, id := range reporter.SortedTechniqueIDs(s.dataset.Techniques) {
			ranks = append(ranks, reporter.TechniqueRank{ID: id, TechniqueSummary: s.dataset.Techniques[id]})
		}
		if top > 0 && len(ranks) > top {
			ranks = ranks[:top]
		}
	}
	writeJSON(w, ranks)
}

// handleTriplets filters triplets by ?technique=, ?tactic=, ?cti=true|false
// and ?limit=N.
func (s *Server) handleTriplets(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	technique := strings.ToUpper(strings.TrimSpace(q.Get("technique")))
	tactic := q.Get("tactic")

	var ctiFilter *bool
	if v := q.Get("cti"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			http.Error(w, "cti must be true or false", http.StatusBadRequest)
			return
		}
		ctiFilter = &b
	}
	limit, err := intParam(r, "limit")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	out := []triplet.Triplet{}
	for _, t := range s.dataset.Triplets {
		if technique != "" && !contains(t.TechniqueIDs, technique) {
			continue
		}
		if tactic != "" && !strings.EqualFold(t.Tactic, tactic) {
			continue
		}
		if ctiFilter != nil && t.HasCTILink != *ctiFilter {
			continue
		}
		out = append(out, t)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	writeJSON(w, out)
}

func (s *Server) handleReport(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	s.mu.RLock()
	html := s.reportHTML
	s.mu.RUnlock()

	if html == "" {
		http.Error(w, "no report.html in dataset directory", http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	fmt.Fprint(w, html)
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	data, err := json.Marshal(v)
	if err != nil {
		http.Error(w, fmt.Sprintf("encode: %v", err), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Write(data) //nolint:errcheck
}

func intParam(r *http.Request, name string) (int, error) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("%s must be a non-negative integer", name)
	}
	return n, nil
}

func contains(values []string, want string) bool {
	for _, v := range values {
		if v == want {
			return true
		}
	}
	return false
}
