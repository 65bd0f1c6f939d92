// Package feature implements the top-level subsystem toggle gate: RPCS,
// EVENTS, and TASKS. Disabled subsystems spawn no tasks at server start.
package feature

import (
	"sort"

	"gobus/berrors"
)

// Feature names a top-level subsystem.
type Feature string

const (
	RPCS   Feature = "RPCS"
	EVENTS Feature = "EVENTS"
	TASKS  Feature = "TASKS"
)

// All returns every known feature, sorted, for use in error messages and
// startup logging.
func All() []string {
	return []string{string(EVENTS), string(RPCS), string(TASKS)}
}

// Set is an unordered collection of enabled features.
type Set map[Feature]struct{}

// AllFeatures returns a Set with every known feature enabled — the default
// a client starts with.
func AllFeatures() Set {
	return Set{RPCS: {}, EVENTS: {}, TASKS: {}}
}

// Parse validates a list of feature names and returns the resulting Set.
// An unrecognized name yields berrors.UnsupportedUse listing the legal
// values.
func Parse(names []string) (Set, error) {
	set := Set{}
	for _, name := range names {
		f := Feature(name)
		switch f {
		case RPCS, EVENTS, TASKS:
			set[f] = struct{}{}
		default:
			return nil, &berrors.UnsupportedUse{Value: name, Allowed: All()}
		}
	}
	return set, nil
}

// Has reports whether f is enabled.
func (s Set) Has(f Feature) bool {
	_, ok := s[f]
	return ok
}

// Remove disables f, returning a new Set (the receiver is not mutated).
func (s Set) Remove(f Feature) Set {
	out := make(Set, len(s))
	for k := range s {
		if k != f {
			out[k] = struct{}{}
		}
	}
	return out
}

// Names returns the enabled feature names, sorted.
func (s Set) Names() []string {
	names := make([]string, 0, len(s))
	for f := range s {
		names = append(names, string(f))
	}
	sort.Strings(names)
	return names
}

// Disabled returns the features present in All() but absent from s, sorted.
func (s Set) Disabled() []string {
	var out []string
	for _, name := range All() {
		if !s.Has(Feature(name)) {
			out = append(out, name)
		}
	}
	return out
}
