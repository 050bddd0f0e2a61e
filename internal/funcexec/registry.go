package funcexec

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/MrWong99/voxbridge/pkg/agent"
	"github.com/MrWong99/voxbridge/pkg/wire"
)

// ErrUnknownFunction is returned for calls to names that are not registered.
var ErrUnknownFunction = errors.New("funcexec: unknown function")

// Func executes one function. args is the raw JSON argument object; it is
// nil when the call carried no arguments.
type Func func(ctx context.Context, args json.RawMessage) (string, error)

// Compile-time interface assertion.
var _ agent.FunctionHandler = (*Registry)(nil)

// Registry maps function names to implementations. It is safe for
// concurrent use.
type Registry struct {
	mu    sync.RWMutex
	funcs map[string]Func
}

// NewRegistry returns an empty [Registry].
func NewRegistry() *Registry {
	return &Registry{funcs: make(map[string]Func)}
}

// Register adds fn under name.
func (r *Registry) Register(name string, fn Func) error {
	if name == "" {
		return errors.New("funcexec: register: empty name")
	}
	if fn == nil {
		return fmt.Errorf("funcexec: register %q: nil func", name)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.funcs[name]; ok {
		return fmt.Errorf("funcexec: register %q: already registered", name)
	}
	r.funcs[name] = fn
	return nil
}

// Names returns the registered names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.funcs))
	for n := range r.funcs {
		names = append(names, n)
	}
	slices.Sort(names)
	return names
}

// Call runs the function registered under name.
func (r *Registry) Call(ctx context.Context, name, arguments string) (string, error) {
	r.mu.RLock()
	fn, ok := r.funcs[name]
	r.mu.RUnlock()
	if !ok {
		return "", fmt.Errorf("%w %q", ErrUnknownFunction, name)
	}
	var args json.RawMessage
	if arguments != "" {
		if !json.Valid([]byte(arguments)) {
			return "", fmt.Errorf("funcexec: %s: arguments are not valid JSON", name)
		}
		args = json.RawMessage(arguments)
	}
	return fn(ctx, args)
}

// HandleFunctionCall implements [agent.FunctionHandler], executing calls
// in-process.
func (r *Registry) HandleFunctionCall(ctx context.Context, call wire.FunctionCall) (string, error) {
	return r.Call(ctx, call.Name, call.Arguments)
}

// ── Built-ins ────────────────────────────────────────────────────────────────

// RegisterBuiltins adds the functions every voxbridge deployment offers.
// now is the clock used by get_current_time; nil means [time.Now].
func RegisterBuiltins(r *Registry, now func() time.Time) error {
	if now == nil {
		now = time.Now
	}
	return r.Register("get_current_time", currentTime(now))
}

// currentTime reports the time in RFC 3339, optionally in the IANA zone
// given as {"timezone": "Europe/Berlin"}.
func currentTime(now func() time.Time) Func {
	return func(_ context.Context, args json.RawMessage) (string, error) {
		var in struct {
			Timezone string `json:"timezone"`
		}
		if len(args) > 0 {
			if err := json.Unmarshal(args, &in); err != nil {
				return "", fmt.Errorf("get_current_time: %w", err)
			}
		}
		t := now()
		if in.Timezone != "" {
			loc, err := time.LoadLocation(in.Timezone)
			if err != nil {
				return "", fmt.Errorf("get_current_time: unknown timezone %q", in.Timezone)
			}
			t = t.In(loc)
		}
		return t.Format(time.RFC3339), nil
	}
}
