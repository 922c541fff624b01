package uploader

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
)

// Result is what a backend reports after a successful upload.
type Result struct {
	URL     string `json:"url"`
	FileKey string `json:"file_key,omitempty"`
}

// Adapter is the uniform upload contract implemented once per backend.
// Validate must be cheap and never touch the network; Upload owns the
// full attempt including throttling and progress reporting.
type Adapter interface {
	Backend() string
	Validate(req *UploadRequest) error
	Upload(ctx context.Context, req *UploadRequest, updates chan<- ProgressUpdate) (*Result, error)
}

// Checker is an optional adapter capability: a cheap live probe of the
// backend credentials, for status surfaces. Upload paths never call it.
type Checker interface {
	Check(ctx context.Context) error
}

// Constructor builds a fresh Adapter. Construction is lazy: Create
// invokes it once per call so every fan-out branch gets its own
// instance.
type Constructor func() (Adapter, error)

// Registry maps backend ids to adapter constructors. Register and
// Unregister are meant for setup and teardown, Create is safe to call
// concurrently with itself.
type Registry struct {
	mu    sync.RWMutex
	ctors map[string]Constructor
	order []string
}

func NewRegistry() *Registry {
	return &Registry{ctors: make(map[string]Constructor)}
}

// Register stores a constructor under an id. Registering an id twice
// replaces the previous constructor with a warning, which keeps
// hot-swapping backends in tests cheap.
func (r *Registry) Register(id string, ctor Constructor) {
	if ctor == nil {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.ctors[id]; exists {
		slog.Warn("backend constructor replaced", "backend", id)
	} else {
		r.order = append(r.order, id)
	}
	r.ctors[id] = ctor
}

func (r *Registry) Unregister(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.ctors[id]; !exists {
		return
	}
	delete(r.ctors, id)
	for i, known := range r.order {
		if known == id {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
}

// Create builds a fresh adapter for the id. A missing id fails with
// ErrNotRegistered listing every known backend; a constructor error or
// panic is wrapped as ErrConstructionFailed.
func (r *Registry) Create(id string) (adapter Adapter, err error) {
	r.mu.RLock()
	ctor, ok := r.ctors[id]
	r.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("%w: %q (known: %v)", ErrNotRegistered, id, r.List())
	}

	defer func() {
		if rec := recover(); rec != nil {
			adapter = nil
			err = fmt.Errorf("%w: %q panicked: %v", ErrConstructionFailed, id, rec)
		}
	}()

	adapter, err = ctor()
	if err != nil {
		return nil, fmt.Errorf("%w: %q: %v", ErrConstructionFailed, id, err)
	}
	return adapter, nil
}

// List returns all registered ids in registration order.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

func (r *Registry) IsRegistered(id string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	_, ok := r.ctors[id]
	return ok
}
