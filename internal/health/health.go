// Package health serves the liveness and readiness probes of the voxbridge
// proxy.
//
//   - /healthz answers 200 while the process can serve HTTP.
//   - /readyz answers 200 only when the proxy is not draining and every
//     registered [Checker] passes.
//
// Bodies are JSON: {"status":"ok"|"fail","checks":{name: "ok"|"fail: ..."}}.
package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
)

// checkTimeout bounds every readiness check.
const checkTimeout = 5 * time.Second

// drainingCheck is the name reported while the handler is draining.
const drainingCheck = "draining"

// ErrDraining is reported by /readyz once [Handler.SetDraining] was called.
var ErrDraining = errors.New("shutting down")

// Checker is a named readiness probe.
type Checker struct {
	// Name is the key under "checks" in the response.
	Name string

	// Check returns nil when healthy. It must respect ctx.
	Check func(ctx context.Context) error
}

type result struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

// Handler serves /healthz and /readyz. The checker list is fixed at
// construction; checks run concurrently per request.
type Handler struct {
	checkers []Checker
	draining atomic.Bool
}

// New creates a [Handler] over checkers.
func New(checkers ...Checker) *Handler {
	return &Handler{checkers: append([]Checker(nil), checkers...)}
}

// SetDraining marks the process as shutting down so load balancers stop
// routing new sessions to it. Liveness is unaffected.
func (h *Handler) SetDraining(v bool) { h.draining.Store(v) }

// Healthz is the liveness probe.
func (h *Handler) Healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, result{Status: "ok"})
}

// Readyz is the readiness probe.
func (h *Handler) Readyz(w http.ResponseWriter, r *http.Request) {
	checks := h.run(r.Context())

	res := result{Status: "ok", Checks: checks}
	status := http.StatusOK
	for _, v := range checks {
		if v != "ok" {
			res.Status = "fail"
			status = http.StatusServiceUnavailable
			break
		}
	}
	writeJSON(w, status, res)
}

func (h *Handler) run(ctx context.Context) map[string]string {
	checks := make(map[string]string, len(h.checkers)+1)
	if h.draining.Load() {
		checks[drainingCheck] = "fail: " + ErrDraining.Error()
	}

	var (
		mu sync.Mutex
		g  errgroup.Group
	)
	for _, c := range h.checkers {
		g.Go(func() error {
			cctx, cancel := context.WithTimeout(ctx, checkTimeout)
			defer cancel()
			v := "ok"
			if err := c.Check(cctx); err != nil {
				v = "fail: " + err.Error()
			}
			mu.Lock()
			checks[c.Name] = v
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	return checks
}

// Register adds the probe routes to mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", h.Healthz)
	mux.HandleFunc("GET /readyz", h.Readyz)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
