// Package delaystore holds retry envelopes ordered by the time they become
// due. Members are opaque encoded envelopes; scores are due times in epoch ms.
//
// Claim is the core contract: it returns due members and removes them in one
// indivisible step, so concurrent pollers never receive the same member.
package delaystore

import "context"

// DefaultKey is the name of the sorted collection holding retry envelopes
const DefaultKey = "platform:retry:queue"

// Store is a due-time ordered collection with atomic claim-and-remove
type Store interface {
	// Add inserts member with the given due score. Re-adding an existing
	// member only updates its score.
	Add(ctx context.Context, member string, score int64) error

	// Claim removes and returns up to limit members with score <= maxScore,
	// lowest score first.
	Claim(ctx context.Context, maxScore int64, limit int) ([]string, error)

	// Range returns up to limit members starting at rank offset, without
	// removing them.
	Range(ctx context.Context, offset, limit int64) ([]string, error)

	// Remove deletes the given members and reports how many existed.
	Remove(ctx context.Context, members ...string) (int64, error)

	// Clear drops the whole collection.
	Clear(ctx context.Context) error

	// Len reports the number of members.
	Len(ctx context.Context) (int64, error)
}
