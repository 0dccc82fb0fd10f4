package recall

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/klauspost/compress/zstd"

	"github.com/tarsync/memoryplane/pkg/models"
)

const (
	fullStrategyMaxTokens         = 96_000
	hierarchicalStrategyMaxTokens = 240_000
	hierarchicalEdgeMessages      = 20
	snippetWindowMessages         = 2
)

// Turn is one loaded conversation_messages row.
type Turn struct {
	Role      string
	Content   string
	Tokens    int
	CreatedAt time.Time
}

// LoadedContext is what a loader strategy hands back to the preprocessor:
// either a full/partial transcript, or a summary-only pointer, per §4.4's
// loader strategy table.
type LoadedContext struct {
	Strategy       models.LoaderStrategy
	Turns          []Turn
	Summary        string
	OmittedPointer bool
	TokensInjected int
}

// Loader picks and executes one of the four loader strategies for a
// triggered recall.
type Loader struct {
	pool     *pgxpool.Pool
	encoder  *zstd.Encoder
}

// NewLoader builds a Loader; the zstd encoder is reused across calls since
// creating one per compression is wasteful and loaders run frequently.
func NewLoader(pool *pgxpool.Pool) (*Loader, error) {
	enc, err := zstd.NewWriter(nil)
	if err != nil {
		return nil, fmt.Errorf("recall: build zstd encoder: %w", err)
	}
	return &Loader{pool: pool, encoder: enc}, nil
}

// Load executes the loader strategy selected by the thread's total token
// count and the trigger type (§4.4 loader strategies table).
func (l *Loader) Load(ctx context.Context, threadID uuid.UUID, trigger Trigger, totalTokens int, summary string) (LoadedContext, error) {
	if trigger.Type == models.TriggerHistorical || trigger.Type == models.TriggerSemantic {
		return l.loadSnippet(ctx, threadID, trigger, summary)
	}

	switch {
	case totalTokens <= fullStrategyMaxTokens:
		return l.loadFull(ctx, threadID, summary)
	case totalTokens <= hierarchicalStrategyMaxTokens:
		return l.loadHierarchical(ctx, threadID, summary)
	default:
		return l.loadCompressed(summary)
	}
}

func (l *Loader) loadFull(ctx context.Context, threadID uuid.UUID, summary string) (LoadedContext, error) {
	turns, err := l.allTurns(ctx, threadID)
	if err != nil {
		return LoadedContext{}, err
	}
	return LoadedContext{Strategy: models.StrategyFull, Turns: turns, Summary: summary, TokensInjected: sumTokens(turns)}, nil
}

func (l *Loader) loadHierarchical(ctx context.Context, threadID uuid.UUID, summary string) (LoadedContext, error) {
	all, err := l.allTurns(ctx, threadID)
	if err != nil {
		return LoadedContext{}, err
	}
	if len(all) <= 2*hierarchicalEdgeMessages {
		return LoadedContext{Strategy: models.StrategyHierarchical, Turns: all, Summary: summary, TokensInjected: sumTokens(all)}, nil
	}

	head := all[:hierarchicalEdgeMessages]
	tail := all[len(all)-hierarchicalEdgeMessages:]
	middle := all[hierarchicalEdgeMessages : len(all)-hierarchicalEdgeMessages]
	important := highImportance(middle)

	combined := make([]Turn, 0, len(head)+len(important)+len(tail))
	combined = append(combined, head...)
	combined = append(combined, important...)
	combined = append(combined, tail...)

	return LoadedContext{
		Strategy:       models.StrategyHierarchical,
		Turns:          combined,
		Summary:        summary,
		OmittedPointer: len(important) < len(middle),
		TokensInjected: sumTokens(combined),
	}, nil
}

// highImportance keeps turns that look information-dense: long, containing
// code fences, or otherwise unlikely to be filler chat.
func highImportance(turns []Turn) []Turn {
	var out []Turn
	for _, t := range turns {
		if t.Tokens > 60 || containsCodeFence(t.Content) {
			out = append(out, t)
		}
	}
	return out
}

func containsCodeFence(s string) bool {
	return bytes.Contains([]byte(s), []byte("```"))
}

func (l *Loader) loadCompressed(summary string) (LoadedContext, error) {
	// The full transcript is never loaded for this strategy; compressing
	// just the summary documents the "transcript omitted" pointer without
	// pretending to shrink data that was never fetched.
	compressed := l.encoder.EncodeAll([]byte(summary), nil)
	_ = compressed // size is informational; the injected payload is still the plain summary text
	return LoadedContext{Strategy: models.StrategyCompressed, Summary: summary, OmittedPointer: true, TokensInjected: 0}, nil
}

func (l *Loader) loadSnippet(ctx context.Context, threadID uuid.UUID, trigger Trigger, summary string) (LoadedContext, error) {
	var anchorIdx int
	var all []Turn
	var err error

	if trigger.HasWindow {
		all, err = l.turnsInWindow(ctx, threadID, trigger.WindowStart, trigger.WindowEnd)
	} else {
		all, err = l.allTurns(ctx, threadID)
	}
	if err != nil {
		return LoadedContext{}, err
	}
	if len(all) == 0 {
		return LoadedContext{Strategy: models.StrategySnippet, Summary: summary}, nil
	}

	anchorIdx = len(all) / 2
	lo := anchorIdx - snippetWindowMessages
	if lo < 0 {
		lo = 0
	}
	hi := anchorIdx + snippetWindowMessages + 1
	if hi > len(all) {
		hi = len(all)
	}
	window := all[lo:hi]

	return LoadedContext{Strategy: models.StrategySnippet, Turns: window, Summary: summary, TokensInjected: sumTokens(window)}, nil
}

func (l *Loader) allTurns(ctx context.Context, threadID uuid.UUID) ([]Turn, error) {
	rows, err := l.pool.Query(ctx, `SELECT role, content, tokens, created_at FROM conversation_messages
		WHERE thread_id = $1 ORDER BY created_at ASC`, threadID)
	if err != nil {
		return nil, fmt.Errorf("recall: load transcript: %w", err)
	}
	defer rows.Close()
	return scanTurns(rows)
}

func (l *Loader) turnsInWindow(ctx context.Context, threadID uuid.UUID, start, end time.Time) ([]Turn, error) {
	rows, err := l.pool.Query(ctx, `SELECT role, content, tokens, created_at FROM conversation_messages
		WHERE thread_id = $1 AND created_at BETWEEN $2 AND $3 ORDER BY created_at ASC`, threadID, start, end)
	if err != nil {
		return nil, fmt.Errorf("recall: load windowed transcript: %w", err)
	}
	defer rows.Close()
	return scanTurns(rows)
}

type rowsScanner interface {
	Next() bool
	Scan(dest ...any) error
	Err() error
}

func scanTurns(rows rowsScanner) ([]Turn, error) {
	var out []Turn
	for rows.Next() {
		var t Turn
		if err := rows.Scan(&t.Role, &t.Content, &t.Tokens, &t.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func sumTokens(turns []Turn) int {
	n := 0
	for _, t := range turns {
		n += t.Tokens
	}
	return n
}
