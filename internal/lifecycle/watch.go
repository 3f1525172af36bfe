package lifecycle

import (
	"context"
	"errors"
	"slices"
	"time"

	"voltguard/internal/faults"
	"voltguard/internal/metrics"
)

const (
	DefaultWatchInterval = 15 * time.Second
	// ActiveRequestInterval is how often a field worker's current job is looked up again.
	ActiveRequestInterval = 15 * time.Second
)

// Watch refreshes the last ListRequests query every interval until ctx ends. fn receives the list
// on the first successful refresh and afterwards only when an id, status or assignee changed.
// Refresh failures are logged and retried on the next tick; Watch returns ctx.Err().
func (c *Controller) Watch(ctx context.Context, interval time.Duration, fn func([]faults.FaultRequest)) error {
	if interval <= 0 {
		interval = DefaultWatchInterval
	}
	var last []string
	first := true

	timer := time.NewTimer(0)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
		}

		items, err := c.Refresh(ctx)
		switch {
		case err != nil:
			if errors.Is(err, context.Canceled) {
				return ctx.Err()
			}
			metrics.ListRefreshes.WithLabelValues(metrics.RefreshError).Inc()
			c.logger.Warn("refresh fault requests failed", "error", err)
		default:
			fp := listFingerprint(items)
			if first || !slices.Equal(fp, last) {
				metrics.ListRefreshes.WithLabelValues(metrics.RefreshChanged).Inc()
				last, first = fp, false
				fn(items)
			} else {
				metrics.ListRefreshes.WithLabelValues(metrics.RefreshUnchanged).Inc()
			}
		}
		timer.Reset(interval)
	}
}

func listFingerprint(items []faults.FaultRequest) []string {
	out := make([]string, len(items))
	for i, r := range items {
		out[i] = r.ID + "|" + string(r.Status) + "|" + r.AssignedTo
	}
	return out
}
