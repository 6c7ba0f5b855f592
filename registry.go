package dispatcher

import (
	"sort"
	"strings"
	"sync"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/httprunner/ApkDispatcher/pkg/channel"
	"github.com/httprunner/ApkDispatcher/pkg/channel/adb"
	"github.com/httprunner/ApkDispatcher/pkg/channel/feishu"
	"github.com/httprunner/ApkDispatcher/pkg/channel/huawei"
	"github.com/httprunner/ApkDispatcher/pkg/channel/mock"
)

// ErrUnknownChannel is returned for a kind nobody registered.
var ErrUnknownChannel = errors.New("unknown channel kind")

// Factory builds a fresh, uninitialized task.
type Factory func(name, identify string, logger zerolog.Logger) channel.Task

// Registry maps channel kinds to task factories.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]Factory)}
}

// DefaultRegistry knows every built-in channel kind.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	r.Register(mock.Kind, func(name, identify string, logger zerolog.Logger) channel.Task {
		return mock.NewTask(name, identify).WithLogger(logger)
	})
	r.Register(huawei.Kind, func(name, identify string, logger zerolog.Logger) channel.Task {
		return huawei.NewTask(name, identify).WithLogger(logger)
	})
	r.Register(adb.Kind, func(name, identify string, logger zerolog.Logger) channel.Task {
		return adb.NewTask(name, identify).WithLogger(logger)
	})
	r.Register(feishu.Kind, func(name, identify string, logger zerolog.Logger) channel.Task {
		return feishu.NewTask(name, identify).WithLogger(logger)
	})
	return r
}

// Register adds or replaces the factory for kind.
func (r *Registry) Register(kind string, factory Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[strings.ToLower(strings.TrimSpace(kind))] = factory
}

// New builds a task of the given kind.
func (r *Registry) New(kind, name, identify string, logger zerolog.Logger) (channel.Task, error) {
	r.mu.RLock()
	factory, ok := r.factories[strings.ToLower(strings.TrimSpace(kind))]
	r.mu.RUnlock()
	if !ok {
		return nil, errors.Wrapf(ErrUnknownChannel, "kind %q", kind)
	}
	return factory(name, identify, logger), nil
}

// Kinds lists registered kinds in sorted order.
func (r *Registry) Kinds() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	kinds := make([]string, 0, len(r.factories))
	for kind := range r.factories {
		kinds = append(kinds, kind)
	}
	sort.Strings(kinds)
	return kinds
}
