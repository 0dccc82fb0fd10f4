// Package masking redacts PII from memory content before it reaches
// long-term storage (§4.2.1 step 5). Built on a compiled-pattern-plus-
// code-masker architecture, with a flat PII pattern catalog standing in for
// the Kubernetes-Secret-specific masker and MCP-server-registry wiring this
// was generalized from.
package masking

import (
	"log/slog"
	"strconv"
	"strings"
)

// Service applies PII redaction to memory content prior to audit storage.
// Created once at application startup (singleton). Thread-safe and
// stateless aside from compiled patterns.
type Service struct {
	patterns    map[string]*CompiledPattern
	codeMaskers map[string]Masker
}

// NewService compiles the PII pattern catalog eagerly. Invalid patterns are
// logged and skipped, never fatal.
func NewService() *Service {
	s := &Service{
		patterns:    make(map[string]*CompiledPattern),
		codeMaskers: make(map[string]Masker),
	}
	s.compilePatterns()

	slog.Info("masking service initialized", "compiled_patterns", len(s.patterns))
	return s
}

// Redact masks PII in content using the given pattern group ("pii" is the
// only group shipped). Fail-closed: a masking failure redacts the whole
// string rather than risk storing raw PII, since this runs on the write
// path into a multi-week memory store rather than a transient alert view.
func (s *Service) Redact(content string, group string) string {
	masked, _ := s.RedactWithMap(content, group)
	return masked
}

// RedactWithMap behaves like Redact but additionally returns the reversal
// map from placeholder token to the original matched text (§3: "keep a
// redactionMap that allows reversal only server-side"). Only the regex leg
// populates the map — code maskers are structural rewrites with no single
// captured span to key a reversal entry on. The map is nil when nothing was
// redacted, never an empty non-nil map, so callers can treat "no PII found"
// and "group has nothing to mask" the same way.
func (s *Service) RedactWithMap(content string, group string) (string, map[string]string) {
	if content == "" {
		return content, nil
	}

	resolved := s.resolveGroup(group)
	if len(resolved.codeMaskerNames) == 0 && len(resolved.regexPatterns) == 0 {
		return content, nil
	}

	masked, redactionMap, err := s.applyMasking(content, resolved)
	if err != nil {
		slog.Error("pii redaction failed, withholding content (fail-closed)", "error", err)
		return "[REDACTED: pii redaction failure]", nil
	}
	if len(redactionMap) == 0 {
		return masked, nil
	}
	return masked, redactionMap
}

// applyMasking runs code-based maskers (structural, more specific) then
// regex patterns (general sweep) over content, recording each regex
// replacement's original text under its placeholder as it goes.
func (s *Service) applyMasking(content string, resolved *resolvedPatterns) (string, map[string]string, error) {
	masked := content

	for _, name := range resolved.codeMaskerNames {
		masker, ok := s.codeMaskers[name]
		if !ok {
			continue
		}
		if masker.AppliesTo(masked) {
			masked = masker.Mask(masked)
		}
	}

	redactionMap := make(map[string]string)
	for _, pattern := range resolved.regexPatterns {
		seen := 0
		masked = pattern.Regex.ReplaceAllStringFunc(masked, func(match string) string {
			seen++
			placeholder := pattern.Replacement
			if seen > 1 {
				placeholder = strings.TrimSuffix(pattern.Replacement, "]") + "_" + strconv.Itoa(seen) + "]"
			}
			redactionMap[placeholder] = match
			return placeholder
		})
	}

	return masked, redactionMap, nil
}

// RegisterMasker adds a code-based masker, keyed by its own Name(). Not
// used by the default "pii" group today but kept open for a future
// structural masker (e.g. a JSON-aware one for structured memory payloads).
func (s *Service) RegisterMasker(m Masker) {
	s.codeMaskers[m.Name()] = m
}
