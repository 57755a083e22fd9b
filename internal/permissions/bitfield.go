package permissions

import (
	"strings"
)

// Set is a bitfield of permissions indexed by registry ordinal.
type Set uint64

// All has every registered permission set.
var All = Set(1<<uint(len(registry)) - 1)

// Of builds a Set from keys. Unregistered keys are ignored.
func Of(keys ...Key) Set {
	var s Set
	for _, k := range keys {
		s = s.Add(k)
	}
	return s
}

func bit(k Key) (Set, bool) {
	i, ok := ordinals[k]
	if !ok {
		return 0, false
	}
	return Set(1) << uint(i), true
}

// Has returns true if s contains k.
func (s Set) Has(k Key) bool {
	b, ok := bit(k)
	return ok && s&b != 0
}

// HasAll returns true if s contains every bit in other.
func (s Set) HasAll(other Set) bool { return s&other == other }

// Add returns s with k set.
func (s Set) Add(k Key) Set {
	b, ok := bit(k)
	if !ok {
		return s
	}
	return s | b
}

// Remove returns s with k cleared.
func (s Set) Remove(k Key) Set {
	b, ok := bit(k)
	if !ok {
		return s
	}
	return s &^ b
}

// Union returns the per-key logical OR of s and other.
func (s Set) Union(other Set) Set { return s | other }

// Bits is the persisted form of s.
func (s Set) Bits() int64 { return int64(s & All) }

// Keys lists the keys in s in registry order.
func (s Set) Keys() []Key {
	var out []Key
	for i, k := range registry {
		if s&(Set(1)<<uint(i)) != 0 {
			out = append(out, k)
		}
	}
	return out
}

// Map returns a complete boolean map over every registry key.
func (s Set) Map() map[string]bool {
	out := make(map[string]bool, len(registry))
	for i, k := range registry {
		out[string(k)] = s&(Set(1)<<uint(i)) != 0
	}
	return out
}

// String lists the set keys in registry order separated by " | ".
func (s Set) String() string {
	if s&All == 0 {
		return "NONE"
	}
	keys := s.Keys()
	names := make([]string, len(keys))
	for i, k := range keys {
		names[i] = strings.ToUpper(string(k))
	}
	return strings.Join(names, " | ")
}

// Encode normalizes m and returns its bitmask.
func Encode(m map[string]bool) int64 {
	return Normalize(m).Bits()
}

// Decode expands a persisted bitmask into a complete boolean map. Bits past
// the end of the registry are ignored.
func Decode(bits int64) map[string]bool {
	return FromBits(bits).Map()
}

// FromBits converts a persisted bitmask to a Set.
func FromBits(bits int64) Set {
	return Set(uint64(bits)) & All
}
