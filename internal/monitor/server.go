// Package monitor exposes running migrations over HTTP: their status and
// metrics for polling, and stop and rollback requests by run ID.
package monitor

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"

	"github.com/johndauphine/sqlite-server-migrate/internal/logging"
	"github.com/johndauphine/sqlite-server-migrate/internal/orchestrator"
)

// Controller is the view of the run manager the server needs.
type Controller interface {
	List() []orchestrator.Snapshot
	Status(runID string) (orchestrator.Snapshot, error)
	Stop(runID string) error
	ForceRollback(runID, reason string) error
}

var _ Controller = (*orchestrator.Manager)(nil)

type api struct {
	ctl Controller
}

// NewRouter registers the monitoring routes.
func NewRouter(ctl Controller) *mux.Router {
	a := &api{ctl: ctl}
	router := mux.NewRouter().StrictSlash(true)
	router.HandleFunc("/health", a.health).Methods("GET")
	router.HandleFunc("/runs", a.listRuns).Methods("GET")
	router.HandleFunc("/runs/{id}", a.getRun).Methods("GET")
	router.HandleFunc("/runs/{id}/stop", a.stopRun).Methods("POST")
	router.HandleFunc("/runs/{id}/rollback", a.rollbackRun).Methods("POST")
	return router
}

// Handler wraps the router with request logging and panic recovery. No CORS
// headers are sent, so browsers refuse cross-origin reads and preflighted
// writes; the API has no authentication of its own.
func Handler(ctl Controller) http.Handler {
	h := handlers.CombinedLoggingHandler(logging.Writer(), NewRouter(ctl))
	return handlers.RecoveryHandler(handlers.RecoveryLogger(recoveryLogger{}))(h)
}

type recoveryLogger struct{}

func (recoveryLogger) Println(args ...interface{}) {
	logging.Error("monitor handler panic: %v", args)
}

// Serve listens on addr until ctx is done, then shuts down gracefully.
// Anyone who can reach addr can stop or roll back a run, so addr should be a
// loopback address such as 127.0.0.1:8080; other addresses are served with a
// warning.
func Serve(ctx context.Context, addr string, ctl Controller) error {
	if !IsLoopback(addr) {
		logging.Warn("Monitor address %s is not loopback; stop and rollback are unauthenticated", addr)
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return ServeListener(ctx, ln, ctl)
}

// IsLoopback reports whether addr only accepts local connections. An empty
// host listens on every interface.
func IsLoopback(addr string) bool {
	host, _, err := net.SplitHostPort(addr)
	if err != nil || host == "" {
		return false
	}
	if host == "localhost" {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

// ServeListener serves on ln until ctx is done.
func ServeListener(ctx context.Context, ln net.Listener, ctl Controller) error {
	srv := &http.Server{
		Handler:           Handler(ctl),
		ReadHeaderTimeout: 10 * time.Second,
	}
	logging.Info("Monitor listening on http://%s", ln.Addr())

	errc := make(chan error, 1)
	go func() { errc <- srv.Serve(ln) }()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		if err := <-errc; !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}
}

type errorBody struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logging.Warn("Encoding monitor response: %v", err)
	}
}

func writeError(w http.ResponseWriter, err error) {
	status := http.StatusConflict
	if errors.Is(err, orchestrator.ErrUnknownRun) {
		status = http.StatusNotFound
	}
	writeJSON(w, status, errorBody{Error: err.Error()})
}

func (a *api) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (a *api) listRuns(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, a.ctl.List())
}

func (a *api) getRun(w http.ResponseWriter, r *http.Request) {
	snap, err := a.ctl.Status(mux.Vars(r)["id"])
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (a *api) stopRun(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if err := a.ctl.Stop(id); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"run_id": id, "status": "stop requested"})
}

type rollbackRequest struct {
	Reason string `json:"reason"`
}

func (a *api) rollbackRun(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	var req rollbackRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid request body: " + err.Error()})
			return
		}
	}
	if err := a.ctl.ForceRollback(id, req.Reason); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"run_id": id, "status": "rollback requested"})
}
