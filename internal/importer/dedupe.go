package importer

// dedupe.go classifies rows against previously known candidates and
// earlier rows in the same file. Identity is exact equality of the
// canonical phone number; there is deliberately no name-similarity
// matching.

// Resolver performs duplicate classification for one import session.
// The existing index is a read-only snapshot taken at session start;
// phones seen earlier in the same file are tracked separately so the
// first occurrence in file order stays "the original".
type Resolver struct {
	existing map[string]Identity
	seen     map[string]bool
}

// NewResolver builds a Resolver over the identity snapshot.
func NewResolver(identities []Identity) *Resolver {
	existing := make(map[string]Identity, len(identities))
	for _, id := range identities {
		if id.Phone == "" {
			continue
		}
		existing[id.Phone] = id
	}
	return &Resolver{
		existing: existing,
		seen:     make(map[string]bool),
	}
}

// Classify returns the duplicate status for a canonical phone and, for
// existing duplicates, the display name of the conflicting record.
// An empty canonical phone is never a duplicate; the missing value is a
// validation error upstream.
func (r *Resolver) Classify(canonical string) (DuplicateStatus, string) {
	if canonical == "" {
		return DupNone, ""
	}
	if id, ok := r.existing[canonical]; ok {
		return DupOfExisting, id.Name
	}
	if r.seen[canonical] {
		return DupInFile, ""
	}
	return DupNone, ""
}

// MarkSeen records a phone as encountered in file order. Callers must
// invoke this after Classify and before the next row, or later repeats
// will not be flagged.
func (r *Resolver) MarkSeen(canonical string) {
	if canonical == "" {
		return
	}
	r.seen[canonical] = true
}

// ExistingCount returns the size of the identity snapshot.
func (r *Resolver) ExistingCount() int {
	return len(r.existing)
}
