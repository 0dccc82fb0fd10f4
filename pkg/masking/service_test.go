package masking

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewService(t *testing.T) {
	s := NewService()

	assert.NotNil(t, s)
	assert.NotEmpty(t, s.patterns, "should have compiled patterns")
	assert.Empty(t, s.codeMaskers, "no code maskers registered by default")
}

func TestRedact_EmptyContent(t *testing.T) {
	s := NewService()
	assert.Empty(t, s.Redact("", "pii"))
}

func TestRedact_UnknownGroup(t *testing.T) {
	s := NewService()
	content := "contact me at jane@example.com"
	assert.Equal(t, content, s.Redact(content, "nonexistent"), "content passes through untouched for a group with nothing to mask")
}

func TestRedact_Email(t *testing.T) {
	s := NewService()
	out := s.Redact("reach me at jane@example.com please", "pii")
	assert.Contains(t, out, "[EMAIL_REDACTED]")
	assert.NotContains(t, out, "jane@example.com")
}

func TestRedact_SSN(t *testing.T) {
	s := NewService()
	out := s.Redact("my ssn is 123-45-6789", "pii")
	assert.Contains(t, out, "[SSN_REDACTED]")
	assert.NotContains(t, out, "123-45-6789")
}

func TestRedact_NoMatches(t *testing.T) {
	s := NewService()
	content := "nothing sensitive in this sentence"
	assert.Equal(t, content, s.Redact(content, "pii"))
}

func TestRedactWithMap_Email(t *testing.T) {
	s := NewService()
	out, redactionMap := s.RedactWithMap("reach me at jane@example.com please", "pii")
	assert.Contains(t, out, "[EMAIL_REDACTED]")
	assert.Equal(t, "jane@example.com", redactionMap["[EMAIL_REDACTED]"])
}

func TestRedactWithMap_NoMatches(t *testing.T) {
	s := NewService()
	out, redactionMap := s.RedactWithMap("nothing sensitive in this sentence", "pii")
	assert.Equal(t, "nothing sensitive in this sentence", out)
	assert.Nil(t, redactionMap)
}

func TestRedactWithMap_MultipleMatchesOfSamePattern(t *testing.T) {
	s := NewService()
	out, redactionMap := s.RedactWithMap("jane@example.com and john@example.com", "pii")
	assert.Contains(t, out, "[EMAIL_REDACTED]")
	assert.Contains(t, out, "[EMAIL_REDACTED_2]")
	assert.Equal(t, "jane@example.com", redactionMap["[EMAIL_REDACTED]"])
	assert.Equal(t, "john@example.com", redactionMap["[EMAIL_REDACTED_2]"])
}

func TestRegisterMasker_TakesPriorityOverRegex(t *testing.T) {
	s := NewService()
	s.RegisterMasker(fakeMasker{name: "email"})

	out := s.Redact("reach me at jane@example.com", "pii")
	assert.Equal(t, "[MASKED]", out, "the registered code masker should run instead of the email regex")
}
