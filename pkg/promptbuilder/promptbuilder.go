// Package promptbuilder assembles the system-message set for a turn (§4.8):
// a fixed base contract, priority-ordered instructions, then context blocks,
// truncating low-priority blocks first under a token budget enforced via
// pkg/tokencount.
package promptbuilder

import (
	"strings"

	"github.com/tarsync/memoryplane/pkg/llm"
	"github.com/tarsync/memoryplane/pkg/tokencount"
)

// Priority orders instruction messages; Build emits them critical-first.
type Priority int

const (
	PriorityCritical Priority = iota
	PriorityHigh
	PriorityMedium
	PriorityLow
)

// Instruction is one system-message-worth of directive text at a priority.
type Instruction struct {
	Priority Priority
	Text     string
}

// ContextBlock is pre-rendered narrative text (see pkg/preprocessor),
// carrying its own priority so Build can drop the least important blocks
// first when the budget is tight.
type ContextBlock struct {
	Priority Priority
	Text     string
}

const baseContract = "You are continuing an ongoing conversation. Open by acknowledging relevant prior context where it exists, stay on the current topic, and reference earlier points explicitly rather than restating them generically."

// defaultSystemBudget is the ~16000 token policy ceiling from §4.8.
const defaultSystemBudget = 16000

// Builder assembles system messages for one turn.
type Builder struct {
	counter      *tokencount.Counter
	systemBudget int
}

// New builds a Builder with the default ~16k token system-prompt budget.
func New(counter *tokencount.Counter) *Builder {
	return &Builder{counter: counter, systemBudget: defaultSystemBudget}
}

// Build returns an ordered array of system messages: base contract,
// instructions by priority, then context blocks — the default and
// preferred mode. Context blocks are dropped lowest-priority-first when the
// running token count would exceed the budget.
func (b *Builder) Build(instructions []Instruction, blocks []ContextBlock) []llm.Message {
	messages := []llm.Message{{Role: "system", Content: baseContract}}
	budget := b.systemBudget - b.counter.Count(baseContract)

	sortByPriority(instructions, func(i int) Priority { return instructions[i].Priority })
	for _, ins := range instructions {
		n := b.counter.Count(ins.Text)
		if n > budget {
			continue
		}
		messages = append(messages, llm.Message{Role: "system", Content: ins.Text})
		budget -= n
	}

	sortByPriority(blocks, func(i int) Priority { return blocks[i].Priority })
	for _, blk := range blocks {
		n := b.counter.Count(blk.Text)
		if n > budget {
			continue
		}
		messages = append(messages, llm.Message{Role: "system", Content: blk.Text})
		budget -= n
	}

	return messages
}

// BuildMerged concatenates everything Build would have produced into one
// system message, for providers that require a single system field
// (legacy mode per §4.8).
func (b *Builder) BuildMerged(instructions []Instruction, blocks []ContextBlock) llm.Message {
	parts := b.Build(instructions, blocks)
	texts := make([]string, len(parts))
	for i, p := range parts {
		texts[i] = p.Content
	}
	return llm.Message{Role: "system", Content: strings.Join(texts, "\n\n")}
}

// sortByPriority is a small insertion sort over a generic priority accessor,
// stable so same-priority items keep caller order.
func sortByPriority[T any](items []T, priorityOf func(i int) Priority) {
	for i := 1; i < len(items); i++ {
		j := i
		for j > 0 && priorityOf(j) < priorityOf(j-1) {
			items[j], items[j-1] = items[j-1], items[j]
			j--
		}
	}
}
