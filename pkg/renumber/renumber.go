// Package renumber implements the production-queue priority calculator.
//
// The calculator is the single authoritative algorithm that reorders the
// pending queue: it partitions pending items into priority groups, orders
// the groups by an externally supplied ranking, and assigns strictly
// increasing scores across the whole sequence in one transactional batch.
package renumber

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/timberbase/prodsched/pkg/core"
)

// Scores are spaced so floor staff can slot an urgent item between two
// others without forcing an immediate renumber.
const (
	scoreBase = 10
	scoreStep = 10
)

// Calculator computes and persists priority scores for pending items.
type Calculator struct {
	store     core.Store
	logger    *slog.Logger
	groupRank map[string]int
}

// Option configures a Calculator.
type Option func(*Calculator)

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Calculator) { c.logger = l }
}

// WithGroupOrder supplies the business classification's group precedence,
// first entry most urgent. Groups not listed sort after listed ones,
// lexicographically. The ordering is a collaborator contract; the
// calculator never derives it.
func WithGroupOrder(groups []string) Option {
	return func(c *Calculator) {
		c.groupRank = make(map[string]int, len(groups))
		for i, g := range groups {
			c.groupRank[g] = i
		}
	}
}

// New creates a Calculator backed by the given store.
func New(store core.Store, opts ...Option) *Calculator {
	c := &Calculator{
		store:     store,
		logger:    slog.Default(),
		groupRank: map[string]int{},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Result summarizes one renumbering pass.
type Result struct {
	TotalPending int            `json:"total_pending"`
	Renumbered   int            `json:"renumbered"`
	PerGroup     map[string]int `json:"per_group"`
}

// Summary renders the operator-facing log line.
func (r *Result) Summary() string {
	return fmt.Sprintf("renumbered %d of %d pending items across %d groups",
		r.Renumbered, r.TotalPending, len(r.PerGroup))
}

// Renumber assigns strictly increasing scores to all pending items and
// persists the changed ones in a single transaction. It is idempotent:
// called again with no intervening item changes it renumbers nothing. On
// any failure the whole batch is rolled back and the error reported; the
// caller does not retry automatically.
func (c *Calculator) Renumber(ctx context.Context) (*Result, error) {
	items, err := c.store.ListPendingItems(ctx)
	if err != nil {
		return nil, fmt.Errorf("prodsched: list pending items: %w", err)
	}

	c.orderItems(items)

	result := &Result{
		TotalPending: len(items),
		PerGroup:     make(map[string]int),
	}
	changes := make(map[uint]int)
	for i, item := range items {
		result.PerGroup[item.PriorityGroup]++
		want := scoreBase + i*scoreStep
		if item.Score != want {
			changes[item.ID] = want
		}
	}
	result.Renumbered = len(changes)

	if len(changes) > 0 {
		if err := c.store.BulkUpdateScores(ctx, changes); err != nil {
			return nil, fmt.Errorf("prodsched: bulk score update: %w", err)
		}
	}

	c.logger.Info("queue renumbered",
		"total_pending", result.TotalPending,
		"renumbered", result.Renumbered,
		"groups", len(result.PerGroup))
	return result, nil
}

// RunJob adapts Renumber to the scheduler's handler contract.
func (c *Calculator) RunJob(ctx context.Context) (string, error) {
	result, err := c.Renumber(ctx)
	if err != nil {
		return "", err
	}
	return result.Summary(), nil
}

// orderItems sorts into the final processing sequence: group rank first,
// then within a group the prior relative order (current score), with
// unscored items after scored ones by creation time, then ID. Fully
// deterministic for a given snapshot.
func (c *Calculator) orderItems(items []*core.ProductionItem) {
	sort.SliceStable(items, func(i, j int) bool {
		a, b := items[i], items[j]
		if r := c.compareGroups(a.PriorityGroup, b.PriorityGroup); r != 0 {
			return r < 0
		}
		aScored, bScored := a.Score > 0, b.Score > 0
		if aScored != bScored {
			return aScored
		}
		if aScored && a.Score != b.Score {
			return a.Score < b.Score
		}
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		return a.ID < b.ID
	})
}

func (c *Calculator) compareGroups(a, b string) int {
	ra, aKnown := c.groupRank[a]
	rb, bKnown := c.groupRank[b]
	switch {
	case aKnown && bKnown:
		return ra - rb
	case aKnown:
		return -1
	case bKnown:
		return 1
	default:
		return strings.Compare(a, b)
	}
}
