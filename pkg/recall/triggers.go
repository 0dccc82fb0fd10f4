package recall

import (
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/araddon/dateparse"
	"github.com/sahilm/fuzzy"

	"github.com/tarsync/memoryplane/pkg/models"
)

const (
	resumeMinConfidence     = 0.7
	historicalMinConfidence = 0.7
	semanticMinConfidence   = 0.6
)

var resumePhrases = []string{
	"pick up where we left off",
	"continue our last conversation",
	"continue where we left off",
	"let's pick this back up",
	"back to what we were discussing",
}

// relativeTimeframe matches "N <unit> ago" and a few named timeframes.
var relativeTimeframe = regexp.MustCompile(`(?i)\b(\d+)\s+(minute|hour|day|week|month)s?\s+ago\b|\b(yesterday|last week|last month)\b`)

// Trigger is a detected unlimited-recall trigger for the current turn.
type Trigger struct {
	Type       models.TriggerType
	Confidence float64
	// Window is set for historical triggers: the [start, end] timeframe to
	// search conversation_messages within.
	WindowStart, WindowEnd time.Time
	HasWindow              bool
}

// Detect classifies the user's message against the three trigger types
// (§4.4 "Trigger detection") in the order resume, historical, semantic,
// returning the first whose confidence clears its type's minConfidence, or
// ok=false if none does.
func Detect(message string, now time.Time) (Trigger, bool) {
	lower := strings.ToLower(strings.TrimSpace(message))

	if conf := resumeConfidence(lower); conf >= resumeMinConfidence {
		return Trigger{Type: models.TriggerResume, Confidence: conf}, true
	}

	if t, conf, ok := historicalTrigger(lower, now); ok && conf >= historicalMinConfidence {
		t.Confidence = conf
		return t, true
	}

	if conf := semanticConfidence(lower); conf >= semanticMinConfidence {
		return Trigger{Type: models.TriggerSemantic, Confidence: conf}, true
	}

	return Trigger{}, false
}

func resumeConfidence(lower string) float64 {
	// A message containing a resume phrase verbatim clears the 0.7
	// threshold outright, however much other text surrounds it.
	for _, p := range resumePhrases {
		if strings.Contains(lower, p) {
			return 0.9
		}
	}
	matches := fuzzy.Find(lower, resumePhrases)
	if len(matches) == 0 {
		return 0
	}
	best := matches[0]
	maxLen := len(resumePhrases[best.Index])
	if len(lower) > maxLen {
		maxLen = len(lower)
	}
	score := float64(best.Score) / float64(maxLen)
	if score > 1 {
		score = 1
	}
	// A near-exact phrase match is scored like a verbatim one.
	if strings.Contains(lower, resumePhrases[best.Index]) {
		return 0.9
	}
	return score
}

var topicCue = regexp.MustCompile(`(?i)\b(we talked about|discussed|mentioned|said about|told me about)\b`)

func historicalTrigger(lower string, now time.Time) (Trigger, float64, bool) {
	m := relativeTimeframe.FindStringSubmatch(lower)
	if m == nil {
		return Trigger{}, 0, false
	}

	var interval time.Duration
	switch {
	case m[3] != "":
		switch m[3] {
		case "yesterday":
			interval = 24 * time.Hour
		case "last week":
			interval = 7 * 24 * time.Hour
		case "last month":
			interval = 30 * 24 * time.Hour
		}
	default:
		n, _ := strconv.Atoi(m[1])
		interval = unitDuration(m[2]) * time.Duration(n)
	}
	if interval <= 0 {
		return Trigger{}, 0, false
	}

	anchor := now.Add(-interval)
	w := interval / 2
	if w < 5*time.Minute {
		w = 5 * time.Minute
	}

	conf := 0.6
	if topicCue.MatchString(lower) {
		conf = 0.85
	}

	return Trigger{
		Type:        models.TriggerHistorical,
		WindowStart: anchor.Add(-w),
		WindowEnd:   anchor.Add(w),
		HasWindow:   true,
	}, conf, true
}

func unitDuration(unit string) time.Duration {
	switch unit {
	case "minute":
		return time.Minute
	case "hour":
		return time.Hour
	case "day":
		return 24 * time.Hour
	case "week":
		return 7 * 24 * time.Hour
	case "month":
		return 30 * 24 * time.Hour
	default:
		return 0
	}
}

var priorDiscussionCue = regexp.MustCompile(`(?i)\b(like (i|we) (said|mentioned)|as (i|we) discussed|earlier you said|you mentioned before)\b`)

// semanticConfidence is a content-query fallback: a reference to a prior
// discussion with no obvious timeframe. dateparse is consulted defensively
// in case the message names an absolute date historicalTrigger's relative
// pattern missed (e.g. "back on March 3rd").
func semanticConfidence(lower string) float64 {
	if priorDiscussionCue.MatchString(lower) {
		return 0.75
	}
	for _, word := range strings.Fields(lower) {
		if _, err := dateparse.ParseAny(word); err == nil {
			return 0.65
		}
	}
	return 0
}
