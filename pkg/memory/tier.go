package memory

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/tarsync/memoryplane/pkg/cache"
	"github.com/tarsync/memoryplane/pkg/models"
)

// prefGoalPatterns match the §4.2.1 step 4 T2 detection phrases.
var prefGoalPatterns = regexp.MustCompile(`(?i)\b(i prefer|my goal is|i always|i avoid|i like|i hate|i want to)\b`)

// tierObserveTTL bounds how long the cross-thread "who owns this phrase"
// cache entry lives — long enough to catch a same-topic mention days later,
// short enough not to grow unbounded.
const tierObserveTTL = 30 * 24 * time.Hour

// DetectTier implements §4.2.1 step 4: T2 by pattern match, else T1 on a
// cross-thread cache hit, else T3. normalizedContent must already be the
// fingerprint used for dedup (lowercased, whitespace-collapsed).
func DetectTier(ctx context.Context, c *cache.Cache, userID, normalizedContent, threadID string) (models.Tier, error) {
	if prefGoalPatterns.MatchString(normalizedContent) {
		return models.TierT2, nil
	}

	seenBefore, seenThreadID, err := c.ObserveTier(ctx, userID, normalizedContent, threadID, tierObserveTTL)
	if err != nil {
		return models.TierT3, fmt.Errorf("tier cache observe: %w", err)
	}
	if seenBefore && seenThreadID != threadID {
		return models.TierT1, nil
	}

	return models.TierT3, nil
}

// Normalize lowercases and collapses whitespace, the fingerprint used by
// both dedup and the cross-thread tier cache.
func Normalize(content string) string {
	fields := strings.Fields(strings.ToLower(content))
	return strings.Join(fields, " ")
}
