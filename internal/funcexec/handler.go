package funcexec

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/MrWong99/voxbridge/internal/observe"
)

// Handler serves the function-call contract over HTTP from a [Registry].
type Handler struct {
	reg     *Registry
	timeout time.Duration
}

// NewHandler returns a [Handler]. timeout bounds each execution; zero
// leaves only the request context.
func NewHandler(reg *Registry, timeout time.Duration) *Handler {
	return &Handler{reg: reg, timeout: timeout}
}

// ServeHTTP implements [http.Handler].
//
// Function failures are answered with 200 and {"error"} so callers can tell
// them apart from transport problems. Malformed requests get 400 and unknown
// functions 404.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		writeResponse(w, http.StatusMethodNotAllowed, Response{Error: "method not allowed"})
		return
	}

	var req Request
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBody))
	if err := dec.Decode(&req); err != nil {
		writeResponse(w, http.StatusBadRequest, Response{Error: "invalid request body"})
		return
	}
	if req.Name == "" {
		writeResponse(w, http.StatusBadRequest, Response{Error: "name is required"})
		return
	}

	ctx := r.Context()
	if h.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.timeout)
		defer cancel()
	}
	log := observe.Logger(ctx).With("call_id", req.ID, "name", req.Name)

	content, err := h.reg.Call(ctx, req.Name, req.Arguments)
	switch {
	case errors.Is(err, ErrUnknownFunction):
		log.Warn("unknown function requested")
		writeResponse(w, http.StatusNotFound, Response{Error: err.Error()})
	case err != nil:
		log.Info("function returned error", "err", err)
		writeResponse(w, http.StatusOK, Response{Error: err.Error()})
	default:
		log.Debug("function executed")
		writeResponse(w, http.StatusOK, Response{Content: content})
	}
}

func writeResponse(w http.ResponseWriter, status int, resp Response) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(resp)
}
