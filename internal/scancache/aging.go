package scancache

import "time"

// AgeOut removes every entry that has not been refreshed within the aging
// time and returns how many were removed.
func (c *Context) AgeOut() int {
	now := c.opts.Clock.Now()
	return c.removeWhere(ReasonAged, func(e *Entry) bool {
		return e.Age(now) >= c.opts.AgingTime
	})
}

// recordEvictions logs and counts entries evicted to make room.
func (c *Context) recordEvictions(evicted []*Entry) {
	if len(evicted) == 0 {
		return
	}
	now := c.opts.Clock.Now()
	for _, victim := range evicted {
		c.log.Debug("Evicted oldest scan entry", "bssid", victim.BSSID.String(),
			"age", now.Sub(victim.ScanEntryTime).Round(time.Millisecond))
	}
	c.recordRemovals(ReasonEvicted, len(evicted), evicted)
}

// Flush removes the entries matching f, or every entry when f is nil, and
// returns how many were removed.
func (c *Context) Flush(f *Filter) int {
	if f == nil {
		return c.removeWhere(ReasonFlushed, func(*Entry) bool { return true })
	}
	now := c.opts.Clock.Now()
	return c.removeWhere(ReasonFlushed, func(e *Entry) bool {
		_, ok := c.matcher.Match(f, e, now)
		return ok
	})
}

// PruneChannels removes entries whose frequency is no longer valid, for
// example after a regulatory domain change.
func (c *Context) PruneChannels(valid func(freq uint32) bool) int {
	return c.removeWhere(ReasonPruned, func(e *Entry) bool {
		return !valid(e.Frequency)
	})
}

// Iterate calls fn with a copy of every live entry. Iteration stops at the
// first error, which is returned.
func (c *Context) Iterate(fn func(e *Entry) error) error {
	var err error
	c.walk(func(n *scanNode) bool {
		err = fn(n.entry.Clone())
		return err == nil
	})
	return err
}

func (c *Context) removeWhere(reason string, pred func(e *Entry) bool) int {
	var removed []*Entry
	c.walk(func(n *scanNode) bool {
		// Another walker may have deleted n since it was pinned.
		if pred(n.entry) && c.remove(n) {
			removed = append(removed, n.entry)
		}
		return true
	})
	if len(removed) > 0 {
		c.log.Debug("Removed scan entries", "reason", reason, "count", len(removed))
	}
	c.recordRemovals(reason, len(removed), removed)
	return len(removed)
}
