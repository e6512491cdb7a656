package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/tskvio/tskv/pkg/meta"
	"github.com/tskvio/tskv/pkg/metrics"
	"github.com/tskvio/tskv/pkg/replication"
)

// HealthServer serves liveness/readiness HTTP endpoints alongside the
// node's gRPC port, keeping the control-plane RPC surface and the
// operator-facing health surface on separate listeners.
type HealthServer struct {
	local *replication.Manager
	dir   meta.Directory
	mux   *http.ServeMux
}

// NewHealthServer builds a health server over local's hosted replica
// groups and dir, the node's meta directory handle. Either may be nil,
// which readyHandler reports as not-ready rather than panicking.
func NewHealthServer(local *replication.Manager, dir meta.Directory) *HealthServer {
	mux := http.NewServeMux()
	hs := &HealthServer{local: local, dir: dir, mux: mux}

	mux.HandleFunc("/health", hs.healthHandler)
	mux.HandleFunc("/ready", hs.readyHandler)
	mux.Handle("/metrics", metrics.Handler())

	return hs
}

// Start serves the health endpoints on addr until the process exits.
func (hs *HealthServer) Start(addr string) error {
	server := &http.Server{
		Addr:         addr,
		Handler:      hs.mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return server.ListenAndServe()
}

// HealthResponse is the /health liveness payload.
type HealthResponse struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
}

// ReadyResponse is the /ready readiness payload.
type ReadyResponse struct {
	Status    string            `json:"status"`
	Timestamp time.Time         `json:"timestamp"`
	Checks    map[string]string `json:"checks"`
	Message   string            `json:"message,omitempty"`
}

func (hs *HealthServer) healthHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(HealthResponse{Status: "healthy", Timestamp: time.Now()})
}

// readyHandler reports whether this node's replication manager is
// initialized and its meta directory is reachable. It does not check
// whether any Raft group is open or has an elected leader.
func (hs *HealthServer) readyHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	checks := make(map[string]string)
	ready := true
	var message string

	if hs.local != nil {
		checks["replication"] = "ok"
	} else {
		checks["replication"] = "not initialized"
		ready = false
		message = "replication manager not initialized"
	}

	if hs.dir != nil {
		if _, _, err := hs.dir.Node(0); err != nil {
			checks["meta"] = fmt.Sprintf("error: %v", err)
			ready = false
			if message == "" {
				message = "meta directory not accessible"
			}
		} else {
			checks["meta"] = "ok"
		}
	} else {
		checks["meta"] = "not initialized"
		ready = false
	}

	status := "ready"
	statusCode := http.StatusOK
	if !ready {
		status = "not ready"
		statusCode = http.StatusServiceUnavailable
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(ReadyResponse{
		Status: status, Timestamp: time.Now(), Checks: checks, Message: message,
	})
}

// GetHandler returns the HTTP handler for embedding in another server.
func (hs *HealthServer) GetHandler() http.Handler {
	return hs.mux
}
