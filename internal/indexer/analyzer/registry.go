package analyzer

import (
	"errors"
	"fmt"
	"sort"
	"sync"
)

const (
	NameNgram      = "zh_ngram"
	NameWhitespace = "whitespace_lc"
	NameSimple     = "simple"
	NameStandard   = "standard"
	NameRaw        = "raw"
)

var ErrUnknownAnalyzer = errors.New("unknown analyzer")

// Registry maps analyzer names to implementations. Registration normally
// happens once at startup; lookups are safe from any goroutine.
type Registry struct {
	mu        sync.RWMutex
	analyzers map[string]Analyzer
}

func NewRegistry() *Registry {
	return &Registry{analyzers: make(map[string]Analyzer)}
}

// DefaultRegistry returns a registry holding every built-in analyzer.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	r.Register(NameNgram, NewNgram(2, 3))
	r.Register(NameWhitespace, Func(WhitespaceLowercase))
	r.Register(NameSimple, Func(Simple))
	r.Register(NameStandard, Func(Standard))
	r.Register(NameRaw, Func(Raw))
	return r
}

// Register binds name to a, replacing any previous binding.
func (r *Registry) Register(name string, a Analyzer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.analyzers[name] = a
}

func (r *Registry) Get(name string) (Analyzer, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.analyzers[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownAnalyzer, name)
	}
	return a, nil
}

func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.analyzers[name]
	return ok
}

func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.analyzers))
	for name := range r.analyzers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Analyze runs the named analyzer over text.
func (r *Registry) Analyze(name, text string) ([]Token, error) {
	a, err := r.Get(name)
	if err != nil {
		return nil, err
	}
	return a.Tokenize(text), nil
}
