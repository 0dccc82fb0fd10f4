package masking

// Masker is the interface for code-based maskers that need structural
// awareness beyond regex pattern matching (e.g. walking a JSON document to
// mask only values under a "ssn" or "creditCard" key, not the key name
// itself).
type Masker interface {
	// Name returns the unique identifier for this masker. Must match a name
	// listed in one of the builtinGroups entries in pattern.go.
	Name() string

	// AppliesTo performs a lightweight check on whether this masker should
	// process the data. Should be fast (string contains, not parsing).
	AppliesTo(data string) bool

	// Mask applies masking logic and returns the masked result. Must be
	// defensive: return original data on parse/processing errors — the
	// caller enforces fail-closed behavior around the whole pipeline.
	Mask(data string) string
}
