package app

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"sync"
	"time"

	"conductor/internal/orchestrator"
	"conductor/internal/tasks"
	"conductor/pkg/logging"
)

// registerMetricsServer wires the HTTP endpoint serving /metrics and
// /healthz as a managed service. It participates in the lifecycle like any
// other service: started last, stopped in the STOP_ACCEPTING phase.
func (a *Application) registerMetricsServer(listen string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", a.metrics.Handler())
	mux.HandleFunc("/healthz", a.handleHealthz)

	srv := &http.Server{
		Addr:              listen,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	handle := &metricsHandle{app: a, srv: srv}
	if err := a.orch.RegisterService("metrics-server", handle); err != nil {
		return err
	}
	a.orch.RegisterPhaseHandler(orchestrator.PhaseStopAccepting, "metrics-server", func(ctx context.Context) error {
		return srv.Shutdown(ctx)
	})
	return nil
}

func (a *Application) handleHealthz(w http.ResponseWriter, r *http.Request) {
	status := a.orch.HealthStatus(r.Context())

	w.Header().Set("Content-Type", "application/json")
	if !status.Healthy {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	if err := json.NewEncoder(w).Encode(status); err != nil {
		logging.Error("Metrics", err, "failed to encode health status")
	}
}

// metricsHandle adapts the HTTP server to the service handle contract.
type metricsHandle struct {
	app *Application
	srv *http.Server

	mu       sync.Mutex
	listener net.Listener
}

func (h *metricsHandle) setListener(ln net.Listener) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.listener = ln
}

func (h *metricsHandle) listening() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.listener != nil
}

func (h *metricsHandle) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", h.srv.Addr)
	if err != nil {
		return err
	}
	h.setListener(ln)
	logging.Info("Metrics", "metrics endpoint listening on %s", ln.Addr())

	// The serve loop outlives the start call; its lifetime is bound to task
	// cancellation, not to the start deadline.
	h.app.orch.Tasks().Go(context.Background(), "metrics-server", tasks.PriorityLow, func(ctx context.Context) error {
		serveErr := make(chan error, 1)
		go func() { serveErr <- h.srv.Serve(ln) }()
		select {
		case err := <-serveErr:
			if errors.Is(err, http.ErrServerClosed) {
				return nil
			}
			return err
		case <-ctx.Done():
			// The STOP_ACCEPTING phase shuts the server down; this is
			// only the backstop when that never ran.
			shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Second)
			defer cancel()
			h.srv.Shutdown(shutdownCtx)
			return nil
		}
	})
	return nil
}

func (h *metricsHandle) Cleanup(ctx context.Context) error {
	return h.srv.Shutdown(ctx)
}

func (h *metricsHandle) CheckHealth(ctx context.Context) (bool, error) {
	return h.listening(), nil
}
