// Package status exposes a node's live state over HTTP: GET /status for
// the current snapshot, GET /blocks?n= for recent chain history. Routing
// and CORS follow the teacher lineage's declared (if internally
// undemonstrated) httprouter/rs-cors stack.
package status

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/groundx/blocksim/log"
	"github.com/groundx/blocksim/node"
	"github.com/julienschmidt/httprouter"
	"github.com/rs/cors"
)

var logger = log.NewModuleLogger("status")

// NodeView is the subset of node.Node's read-only API the status server
// needs.
type NodeView interface {
	Status() node.Status
	RecentBlocks(n int) []map[string]interface{}
}

// Server serves one node's status over HTTP.
type Server struct {
	node    NodeView
	handler http.Handler
}

// New builds a Server wrapping node, with an open CORS policy suitable for
// a local demo UI.
func New(node NodeView) *Server {
	router := httprouter.New()
	s := &Server{node: node}

	router.GET("/status", s.getStatus)
	router.GET("/blocks", s.getBlocks)

	s.handler = cors.New(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet},
	}).Handler(router)
	return s
}

// ListenAndServe starts the HTTP server on addr, blocking until it exits.
func (s *Server) ListenAndServe(addr string) error {
	logger.Infow("status server listening", "addr", addr)
	return http.ListenAndServe(addr, s.handler)
}

func (s *Server) getStatus(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	writeJSON(w, s.node.Status())
}

func (s *Server) getBlocks(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	n := 10
	if raw := r.URL.Query().Get("n"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
			n = parsed
		}
	}
	writeJSON(w, s.node.RecentBlocks(n))
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Warnw("encode response failed", "err", err)
	}
}
