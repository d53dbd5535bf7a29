package testutil

// FixedSessionGenerator generates the same session id every time.
//
// Golden traces embed the session id in every record; a fixed id makes the
// same scenario produce byte-identical traces. Each Problem in a test
// should use its own journal log, since a live session refuses an id that
// already holds records.
type FixedSessionGenerator struct {
	id string
}

// NewFixedSessionGenerator creates a generator returning id.
// If id is empty, Generate returns "test-session".
func NewFixedSessionGenerator(id string) *FixedSessionGenerator {
	if id == "" {
		id = "test-session"
	}
	return &FixedSessionGenerator{id: id}
}

// Generate implements journal.IDGenerator.
func (g *FixedSessionGenerator) Generate() string {
	return g.id
}
