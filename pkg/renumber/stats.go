package renumber

import (
	"context"
	"fmt"
	"time"

	"github.com/timberbase/prodsched/pkg/core"
)

// DefaultTopN is how many leading queue items the dashboard shows.
const DefaultTopN = 10

// ItemSummary is one queue entry in a dashboard listing.
type ItemSummary struct {
	ID       uint   `json:"id"`
	Name     string `json:"name"`
	OrderRef string `json:"order_ref"`
	Group    string `json:"group"`
	Score    int    `json:"score"`
}

// QueueStats is the read-only dashboard view of the production queue.
type QueueStats struct {
	QueueLength  int64            `json:"queue_length"`
	PerGroup     map[string]int64 `json:"per_group"`
	LastRenumber *time.Time       `json:"last_renumber,omitempty"`
	TopItems     []ItemSummary    `json:"top_items"`
}

// Stats returns queue length, per-group counts, the last renumber timestamp,
// and the top-n items by score. A nil LastRenumber signals to the operator
// that the renumbering job has never completed.
func (c *Calculator) Stats(ctx context.Context, topN int) (*QueueStats, error) {
	if topN <= 0 {
		topN = DefaultTopN
	}

	perGroup, err := c.store.CountPendingByGroup(ctx)
	if err != nil {
		return nil, fmt.Errorf("prodsched: count pending by group: %w", err)
	}

	var total int64
	for _, n := range perGroup {
		total += n
	}

	top, err := c.store.TopPendingItems(ctx, topN)
	if err != nil {
		return nil, fmt.Errorf("prodsched: top pending items: %w", err)
	}
	topItems := make([]ItemSummary, 0, len(top))
	for _, item := range top {
		topItems = append(topItems, ItemSummary{
			ID:       item.ID,
			Name:     item.Name,
			OrderRef: item.OrderRef,
			Group:    item.PriorityGroup,
			Score:    item.Score,
		})
	}

	stats := &QueueStats{
		QueueLength: total,
		PerGroup:    perGroup,
		TopItems:    topItems,
	}

	state, err := c.store.GetJobState(ctx, core.JobRenumber)
	if err != nil {
		return nil, fmt.Errorf("prodsched: renumber job state: %w", err)
	}
	if state != nil {
		stats.LastRenumber = state.LastRun
	}
	return stats, nil
}
