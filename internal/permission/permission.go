// Package permission implements capability sets for the operation surface.
// A Set is either the wildcard (every operation) or an explicit set of
// operation names; the two predicates Contains and IsSubsetOf are the only
// primitives the rest of the core uses.
package permission

import (
	"sort"
	"strings"
)

// Wildcard is the operation name granting every operation.
const Wildcard = "*"

// Set is a capability grant. The zero value is the empty explicit set.
type Set struct {
	wildcard bool
	ops      map[string]struct{}
}

// NewSet builds a Set from operation names. A Wildcard member anywhere in the
// input makes the whole set the wildcard grant. Names are trimmed and
// lowercased; empty names are dropped.
func NewSet(ops ...string) Set {
	s := Set{ops: make(map[string]struct{}, len(ops))}
	for _, op := range ops {
		op = strings.TrimSpace(strings.ToLower(op))
		if op == "" {
			continue
		}
		if op == Wildcard {
			return Set{wildcard: true}
		}
		s.ops[op] = struct{}{}
	}
	return s
}

// All returns the wildcard grant.
func All() Set {
	return Set{wildcard: true}
}

// IsWildcard reports whether the set grants every operation.
func (s Set) IsWildcard() bool {
	return s.wildcard
}

// IsEmpty reports whether the set grants nothing.
func (s Set) IsEmpty() bool {
	return !s.wildcard && len(s.ops) == 0
}

// Contains reports whether op is granted.
func (s Set) Contains(op string) bool {
	if s.wildcard {
		return true
	}
	_, ok := s.ops[strings.TrimSpace(strings.ToLower(op))]
	return ok
}

// IsSubsetOf reports whether every operation granted by s is granted by other.
func (s Set) IsSubsetOf(other Set) bool {
	if other.wildcard {
		return true
	}
	if s.wildcard {
		return false
	}
	for op := range s.ops {
		if _, ok := other.ops[op]; !ok {
			return false
		}
	}
	return true
}

// Intersect returns the operations granted by both sets.
func (s Set) Intersect(other Set) Set {
	if s.wildcard {
		return other.clone()
	}
	if other.wildcard {
		return s.clone()
	}
	out := Set{ops: make(map[string]struct{})}
	for op := range s.ops {
		if _, ok := other.ops[op]; ok {
			out.ops[op] = struct{}{}
		}
	}
	return out
}

// Union returns the operations granted by either set.
func (s Set) Union(other Set) Set {
	if s.wildcard || other.wildcard {
		return Set{wildcard: true}
	}
	out := Set{ops: make(map[string]struct{}, len(s.ops)+len(other.ops))}
	for op := range s.ops {
		out.ops[op] = struct{}{}
	}
	for op := range other.ops {
		out.ops[op] = struct{}{}
	}
	return out
}

// Names returns the granted operations sorted ascending. The wildcard set
// returns a single Wildcard element.
func (s Set) Names() []string {
	if s.wildcard {
		return []string{Wildcard}
	}
	names := make([]string, 0, len(s.ops))
	for op := range s.ops {
		names = append(names, op)
	}
	sort.Strings(names)
	return names
}

func (s Set) clone() Set {
	if s.wildcard {
		return Set{wildcard: true}
	}
	out := Set{ops: make(map[string]struct{}, len(s.ops))}
	for op := range s.ops {
		out.ops[op] = struct{}{}
	}
	return out
}
