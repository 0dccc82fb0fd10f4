package masking

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCompileBuiltinPatterns(t *testing.T) {
	s := NewService()

	assert.Equal(t, len(builtinPatterns), len(s.patterns),
		"every built-in pattern should compile")

	for name, cp := range s.patterns {
		assert.NotNil(t, cp.Regex, "pattern %s should have a compiled regex", name)
		assert.NotEmpty(t, cp.Replacement, "pattern %s should have a replacement", name)
	}
}

func TestResolveGroup_PII(t *testing.T) {
	s := NewService()

	resolved := s.resolveGroup("pii")
	assert.Len(t, resolved.regexPatterns, len(builtinGroups["pii"]))

	names := make([]string, len(resolved.regexPatterns))
	for i, p := range resolved.regexPatterns {
		names[i] = p.Name
	}
	assert.Contains(t, names, "email")
	assert.Contains(t, names, "ssn")
}

func TestResolveGroup_Unknown(t *testing.T) {
	s := NewService()

	resolved := s.resolveGroup("nonexistent")
	assert.Empty(t, resolved.regexPatterns)
	assert.Empty(t, resolved.codeMaskerNames)
}

func TestResolveGroup_CodeMasker(t *testing.T) {
	s := NewService()
	s.RegisterMasker(fakeMasker{name: "email"})

	resolved := s.resolveGroup("pii")
	assert.Contains(t, resolved.codeMaskerNames, "email")

	for _, p := range resolved.regexPatterns {
		assert.NotEqual(t, "email", p.Name, "a registered code masker should take priority over its regex pattern")
	}
}

type fakeMasker struct{ name string }

func (f fakeMasker) Name() string             { return f.name }
func (f fakeMasker) AppliesTo(data string) bool { return true }
func (f fakeMasker) Mask(data string) string    { return "[MASKED]" }
