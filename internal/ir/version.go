package ir

// Version constants recorded on every journal session.
const (
	// IRVersion is the problem description schema version.
	IRVersion = "1"

	// EngineVersion is the caps core version.
	EngineVersion = "0.3.0"
)
