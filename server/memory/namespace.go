package memory

import "strings"

// Sanitize normalizes an entity name into a collection-safe suffix:
// lowercase, any character outside [a-z0-9_] replaced with an
// underscore, runs of underscores collapsed to one, leading and trailing
// underscores stripped. Pure, total and idempotent.
func Sanitize(name string) string {
	lowered := strings.ToLower(name)

	var b strings.Builder
	b.Grow(len(lowered))
	lastUnderscore := false
	for _, r := range lowered {
		ok := (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9')
		if !ok {
			if lastUnderscore {
				continue
			}
			b.WriteByte('_')
			lastUnderscore = true
			continue
		}
		b.WriteRune(r)
		lastUnderscore = false
	}
	return strings.Trim(b.String(), "_")
}

// ResolveCollection maps a logical entity name to its physical collection.
// With perEntity off it is always the base name; with it on, the base
// plus the sanitized entity name. An entity that sanitizes to nothing
// degenerates to "base_".
func ResolveCollection(base string, perEntity bool, entity string) string {
	if !perEntity {
		return base
	}
	return base + "_" + Sanitize(entity)
}
