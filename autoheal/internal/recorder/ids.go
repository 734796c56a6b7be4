package recorder

import "github.com/google/uuid"

// IDGenerator produces unique record identifiers.
type IDGenerator func() string

// UUIDv7 returns a generator of RFC 9562 UUID v7 strings: time-sortable
// and globally unique.
func UUIDv7() IDGenerator {
	return func() string {
		return uuid.Must(uuid.NewV7()).String()
	}
}

// Prefixed prepends prefix to every ID of gen.
func Prefixed(prefix string, gen IDGenerator) IDGenerator {
	return func() string {
		return prefix + gen()
	}
}

// DefaultIDs is the record ID scheme: "heal_" + UUIDv7.
var DefaultIDs = Prefixed("heal_", UUIDv7())
