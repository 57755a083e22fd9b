package permissions

// Canonicalize maps any accepted spelling of a permission name (canonical
// snake_case, camelCase, or pluralized camelCase) to its canonical key.
// Unknown names are returned unchanged so capabilities written by a newer
// client pass through instead of failing.
func Canonicalize(name string) string {
	for _, sp := range spellings {
		if name == sp.canonical || name == sp.camel || name == sp.plural {
			return sp.canonical
		}
	}
	return name
}

// Lookup canonicalizes name and reports whether it is a registered key.
func Lookup(name string) (Key, bool) {
	c := Canonicalize(name)
	if _, ok := ordinals[Key(c)]; ok {
		return Key(c), true
	}
	return "", false
}

// CanonicalizeMap rewrites the keys of a stored permission map to their
// canonical spelling. When two spellings of the same key disagree, the one
// Normalize would pick (canonical, then camel, then plural) wins. Unknown
// keys are kept as they are.
func CanonicalizeMap(m map[string]bool) map[string]bool {
	out := make(map[string]bool, len(m))
	for name, v := range m {
		if _, ok := Lookup(name); !ok {
			out[name] = v
		}
	}
	set := Normalize(m)
	for _, k := range registry {
		if present(m, k) {
			out[string(k)] = set.Has(k)
		}
	}
	return out
}

func present(m map[string]bool, k Key) bool {
	sp := spellings[ordinals[k]]
	for _, name := range []string{sp.canonical, sp.camel, sp.plural} {
		if _, ok := m[name]; ok {
			return true
		}
	}
	return false
}
