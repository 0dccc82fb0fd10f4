// Package research implements the web-research fetch path (§4.10): given a
// set of candidate URLs, it extracts article text via go-readability,
// converts to markdown via html-to-markdown, pulls a handful of claims with
// their source dates via dateparse, and publishes the result as a
// ResearchCapsule on pkg/cache under factPack:{threadId}:{batchId} for the
// gateway's capsule injector to pick up.
package research

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	htmltomarkdown "github.com/JohannesKaufmann/html-to-markdown/v2"
	readability "github.com/go-shiori/go-readability"
	"github.com/araddon/dateparse"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/tarsync/memoryplane/pkg/cache"
	"github.com/tarsync/memoryplane/pkg/models"
)

const (
	fetchTimeout = 15 * time.Second
	maxBodyBytes = 4 << 20
	maxSources   = 5
)

// Fetcher retrieves and extracts article text from a set of URLs.
type Fetcher struct {
	client *http.Client
}

// NewFetcher builds a Fetcher with a hardened, timeout-bound client.
func NewFetcher() *Fetcher {
	return &Fetcher{client: &http.Client{Timeout: fetchTimeout}}
}

// fetchOne downloads one URL and extracts its main article content.
func (f *Fetcher) fetchOne(ctx context.Context, rawURL string) (*models.ResearchSource, *models.ResearchClaim, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("research: build request: %w", err)
	}
	req.Header.Set("User-Agent", "memoryplane-research/1.0")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, nil, fmt.Errorf("research: fetch %s: %w", rawURL, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, nil, fmt.Errorf("research: read body: %w", err)
	}

	base, _ := url.Parse(rawURL)
	article, err := readability.FromReader(strings.NewReader(string(body)), base)
	if err != nil || strings.TrimSpace(article.Content) == "" {
		return nil, nil, fmt.Errorf("research: extract article: %w", err)
	}

	markdown, err := htmltomarkdown.ConvertString(article.Content)
	if err != nil {
		markdown = article.TextContent
	}

	var published *time.Time
	if article.PublishedTime != nil {
		published = article.PublishedTime
	} else if t, perr := dateparse.ParseAny(article.Title); perr == nil {
		published = &t
	}

	host := ""
	if base != nil {
		host = base.Host
	}

	claimText := firstSentences(markdown, 2)
	claim := &models.ResearchClaim{Text: claimText, Confidence: confidenceFor(article), Date: published}
	source := &models.ResearchSource{Host: host, URL: rawURL, Date: published, AuthorityTier: authorityTier(host)}
	return source, claim, nil
}

func confidenceFor(article readability.Article) float64 {
	if strings.TrimSpace(article.Title) == "" {
		return 0.5
	}
	return 0.75
}

// authorityTier is a coarse heuristic: government and edu domains rank
// highest, general web sources lowest.
func authorityTier(host string) int {
	switch {
	case strings.HasSuffix(host, ".gov") || strings.HasSuffix(host, ".edu"):
		return 1
	case strings.HasSuffix(host, "wikipedia.org"):
		return 2
	default:
		return 3
	}
}

func firstSentences(text string, n int) string {
	text = strings.TrimSpace(strings.ReplaceAll(text, "\n", " "))
	parts := strings.SplitAfterN(text, ". ", n+1)
	if len(parts) <= n {
		return text
	}
	return strings.TrimSpace(strings.Join(parts[:n], ""))
}

// BuildCapsule fetches every URL concurrently and assembles a
// ResearchCapsule, skipping sources that fail to fetch or extract
// (best-effort: a capsule with zero surviving sources is still published so
// the gateway doesn't wait forever on a dead trigger). Fetches are bounded
// to maxSources in flight at once, since a batch can list more candidate
// URLs than are worth the concurrent connections to pursue.
func (f *Fetcher) BuildCapsule(ctx context.Context, threadID uuid.UUID, batchID string, urls []string) models.ResearchCapsule {
	now := time.Now()
	capsule := models.ResearchCapsule{
		ThreadID:  threadID,
		BatchID:   batchID,
		TTLClass:  "short",
		FetchedAt: now,
		ExpiresAt: now.Add(10 * time.Minute),
	}

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxSources)

	for _, u := range urls {
		u := u
		g.Go(func() error {
			source, claim, err := f.fetchOne(gctx, u)
			if err != nil {
				return nil // a dead source never fails the batch
			}
			mu.Lock()
			capsule.Sources = append(capsule.Sources, *source)
			capsule.Claims = append(capsule.Claims, *claim)
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	if len(capsule.Sources) > maxSources {
		capsule.Sources = capsule.Sources[:maxSources]
		capsule.Claims = capsule.Claims[:maxSources]
	}
	return capsule
}

// Publisher writes a built capsule to the shared cache under the
// factPack:{threadId}:{batchId} key convention (§3), from where the
// gateway's capsule injector polls it.
type Publisher struct {
	cache *cache.Cache
}

// NewPublisher wraps a cache client for capsule publication.
func NewPublisher(c *cache.Cache) *Publisher {
	return &Publisher{cache: c}
}

// Publish serializes and stores the capsule with a TTL derived from its
// TTLClass, keyed so the gateway's ScanCapsules(threadId) call finds it.
func (p *Publisher) Publish(ctx context.Context, capsule models.ResearchCapsule) error {
	payload, err := marshalCapsule(capsule)
	if err != nil {
		return fmt.Errorf("research: marshal capsule: %w", err)
	}
	ttl := time.Until(capsule.ExpiresAt)
	if ttl <= 0 {
		ttl = time.Minute
	}
	return p.cache.SetCapsule(ctx, capsule.ThreadID.String(), capsule.BatchID, payload, ttl)
}
