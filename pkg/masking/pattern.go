package masking

import (
	"log/slog"
	"regexp"
)

// CompiledPattern holds a pre-compiled regex pattern with its replacement.
type CompiledPattern struct {
	Name        string
	Regex       *regexp.Regexp
	Replacement string
	Description string
}

// builtinPattern is the uncompiled form of a CompiledPattern, the PII
// catalog this package ships with.
type builtinPattern struct {
	pattern     string
	replacement string
	description string
}

// builtinPatterns is the fixed catalog of PII detectors applied to memory
// content before it is written to a tier store (§4.2.1 step 5). Each entry
// trades recall for precision deliberately: over-masking loses a few
// characters of context, under-masking leaks PII into long-term storage.
var builtinPatterns = map[string]builtinPattern{
	"email": {
		pattern:     `[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}`,
		replacement: "[EMAIL_REDACTED]",
		description: "email addresses",
	},
	"phone": {
		pattern:     `\+?1?[-.\s]?\(?\d{3}\)?[-.\s]?\d{3}[-.\s]?\d{4}\b`,
		replacement: "[PHONE_REDACTED]",
		description: "north american phone numbers",
	},
	"credit_card": {
		pattern:     `\b(?:\d[ -]*?){13,16}\b`,
		replacement: "[CARD_REDACTED]",
		description: "credit-card-shaped digit runs",
	},
	"ssn": {
		pattern:     `\b\d{3}-\d{2}-\d{4}\b`,
		replacement: "[SSN_REDACTED]",
		description: "US social security numbers",
	},
	"hex_key": {
		pattern:     `\b[A-Fa-f0-9]{32,64}\b`,
		replacement: "[KEY_REDACTED]",
		description: "hex-encoded API keys and tokens",
	},
}

// builtinGroups maps a pattern-group name to the pattern names it expands
// to. "pii" is the group the audit pipeline passes to Redact.
var builtinGroups = map[string][]string{
	"pii": {"email", "phone", "credit_card", "ssn", "hex_key"},
}

// resolvedPatterns holds the resolved set of maskers and patterns for a
// masking operation.
type resolvedPatterns struct {
	codeMaskerNames []string
	regexPatterns   []*CompiledPattern
}

// compilePatterns compiles every entry in builtinPatterns. Invalid patterns
// are logged and skipped rather than failing service construction.
func (s *Service) compilePatterns() {
	for name, p := range builtinPatterns {
		compiled, err := regexp.Compile(p.pattern)
		if err != nil {
			slog.Error("failed to compile masking pattern, skipping", "pattern", name, "error", err)
			continue
		}
		s.patterns[name] = &CompiledPattern{
			Name:        name,
			Regex:       compiled,
			Replacement: p.replacement,
			Description: p.description,
		}
	}
}

// resolveGroup expands a pattern-group name into its compiled patterns and
// registered code maskers.
func (s *Service) resolveGroup(groupName string) *resolvedPatterns {
	resolved := &resolvedPatterns{}
	for _, name := range builtinGroups[groupName] {
		if _, ok := s.codeMaskers[name]; ok {
			resolved.codeMaskerNames = append(resolved.codeMaskerNames, name)
			continue
		}
		if cp, ok := s.patterns[name]; ok {
			resolved.regexPatterns = append(resolved.regexPatterns, cp)
		}
	}
	return resolved
}
