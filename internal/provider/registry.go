package provider

import (
	"fmt"
	"sort"
	"strings"

	"cbmbridge/internal/config"
)

// Constructor creates a provider from the argument part of a spec.
type Constructor func(arg string, opts Options) (Provider, error)

// This is a map of known schemes.
var handlers = struct {
	m map[string]Constructor
}{m: make(map[string]Constructor)}

// Register makes a provider kind available under scheme.
func Register(scheme string, ctor Constructor) {
	handlers.m[strings.ToLower(scheme)] = ctor
}

// New creates a provider from a spec such as "fs:/srv/c64".
func New(spec string, opts Options) (Provider, error) {
	scheme, arg, err := config.SplitSpec(spec)
	if err != nil {
		return nil, err
	}
	ctor, ok := handlers.m[scheme]
	if !ok {
		return nil, fmt.Errorf("no provider registered for scheme '%s'", scheme)
	}
	p, err := ctor(arg, opts)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", spec, err)
	}
	return p, nil
}

// Schemes returns the registered scheme names.
func Schemes() []string {
	out := make([]string, 0, len(handlers.m))
	for s := range handlers.m {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}
