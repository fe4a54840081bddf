// Package flags answers feature flag queries from static configuration or
// Redis.
package flags

import (
	"context"
	"strings"
	"sync"
)

// Known flags.
const (
	PredictivePrewarming = "predictive_prewarming"
	SemanticCache        = "semantic_cache"
)

// Flags reports whether a named feature is enabled.
type Flags interface {
	IsEnabled(ctx context.Context, name string) bool
}

// Static is an in-memory flag set. Unknown flags are disabled.
type Static struct {
	mu    sync.RWMutex
	flags map[string]bool
}

// NewStatic creates a flag set from a name → enabled map.
func NewStatic(values map[string]bool) *Static {
	s := &Static{flags: make(map[string]bool, len(values))}
	for k, v := range values {
		s.flags[normalize(k)] = v
	}
	return s
}

// IsEnabled implements Flags.
func (s *Static) IsEnabled(_ context.Context, name string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.flags[normalize(name)]
}

// Set changes a flag at runtime.
func (s *Static) Set(name string, enabled bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.flags[normalize(name)] = enabled
}

// Snapshot returns a copy of every flag.
func (s *Static) Snapshot() map[string]bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]bool, len(s.flags))
	for k, v := range s.flags {
		out[k] = v
	}
	return out
}

func normalize(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// parseBool accepts the truthy spellings operators tend to type.
func parseBool(v string) bool {
	switch normalize(v) {
	case "1", "true", "on", "yes", "enabled":
		return true
	default:
		return false
	}
}
