package engine

import (
	"log/slog"
	"time"
)

// TopicCounts is the per-kind message totals snapshot.
type TopicCounts struct {
	Collector     int64 `json:"collector"`
	Router        int64 `json:"router"`
	Peer          int64 `json:"peer"`
	BaseAttribute int64 `json:"base_attribute"`
	UnicastPrefix int64 `json:"unicast_prefix"`
	L3VpnPrefix   int64 `json:"l3vpn_prefix"`
	LsNode        int64 `json:"ls_node"`
	LsLink        int64 `json:"ls_link"`
	LsPrefix      int64 `json:"ls_prefix"`
	BmpStat       int64 `json:"bmp_stat"`
	Subscription  int64 `json:"subscription"`
	Total         int64 `json:"total"`
}

// Stats is a point-in-time engine snapshot for the log line and the
// admin surface.
type Stats struct {
	Running          bool                    `json:"running"`
	Messages         TopicCounts             `json:"messages"`
	MsgRate          float64                 `json:"msg_rate"`
	MsgRateByKind    map[string]float64      `json:"msg_rate_by_kind"`
	IntakeQueue      int                     `json:"intake_queue"`
	RouterCacheSize  int                     `json:"router_cache_size"`
	AttrCacheSize    int                     `json:"attr_cache_size"`
	Subscriptions    int                     `json:"subscriptions"`
	LastCollectorMsg int64                   `json:"last_collector_msg"`
	Writers          map[string][]WriterStat `json:"writers"`
}

// Stats assembles the current snapshot. Cache sizes come from
// consumer-owned maps; the sampled values may lag one batch behind,
// which is fine for a stats surface.
func (c *Consumer) Stats() Stats {
	writers := make(map[string][]WriterStat, len(c.pools))
	for t, pool := range c.pools {
		writers[t.String()] = pool.Snapshot()
	}

	return Stats{
		Running: c.running.Load(),
		Messages: TopicCounts{
			Collector:     c.counters.collector.Load(),
			Router:        c.counters.router.Load(),
			Peer:          c.counters.peer.Load(),
			BaseAttribute: c.counters.baseAttribute.Load(),
			UnicastPrefix: c.counters.unicastPrefix.Load(),
			L3VpnPrefix:   c.counters.l3vpnPrefix.Load(),
			LsNode:        c.counters.lsNode.Load(),
			LsLink:        c.counters.lsLink.Load(),
			LsPrefix:      c.counters.lsPrefix.Load(),
			BmpStat:       c.counters.bmpStat.Load(),
			Subscription:  c.counters.subscription.Load(),
			Total:         c.counters.total.Load(),
		},
		MsgRate:          c.rate.Rate(),
		MsgRateByKind:    c.rate.RateByKind(),
		IntakeQueue:      len(c.intake),
		RouterCacheSize:  c.routerCache.Len(),
		AttrCacheSize:    c.attrCache.Len(),
		Subscriptions:    c.subs.Len(),
		LastCollectorMsg: c.lastCollectorMsg.Load(),
		Writers:          writers,
	}
}

// LogStats emits the periodic counters line.
func (c *Consumer) LogStats() {
	s := c.Stats()
	slog.Info("consumer_stats",
		slog.Int64("total", s.Messages.Total),
		slog.Float64("msg_rate", s.MsgRate),
		slog.Int64("collector", s.Messages.Collector),
		slog.Int64("router", s.Messages.Router),
		slog.Int64("peer", s.Messages.Peer),
		slog.Int64("base_attribute", s.Messages.BaseAttribute),
		slog.Int64("unicast_prefix", s.Messages.UnicastPrefix),
		slog.Int64("l3vpn_prefix", s.Messages.L3VpnPrefix),
		slog.Int64("ls_node", s.Messages.LsNode),
		slog.Int64("ls_link", s.Messages.LsLink),
		slog.Int64("ls_prefix", s.Messages.LsPrefix),
		slog.Int64("bmp_stat", s.Messages.BmpStat),
		slog.Int64("subscription", s.Messages.Subscription),
		slog.Int("intake_queue", s.IntakeQueue),
		slog.Int("attr_cache", s.AttrCacheSize),
		slog.Int("subscriptions", s.Subscriptions))

	for wtype, writers := range s.Writers {
		for i, w := range writers {
			slog.Info("writer_stats",
				slog.String("type", wtype),
				slog.Int("writer", i),
				slog.Int("assigned", w.Assigned),
				slog.Int("queue", w.Queue),
				slog.Int("above_count", w.AboveCount),
				slog.Int64("messages", w.Messages))
		}
	}
}

// Healthy reports whether a collector heartbeat has been seen within
// maxAge. Before the first collector message the engine is healthy as
// long as the loop runs.
func (c *Consumer) Healthy(maxAge time.Duration) bool {
	if !c.running.Load() {
		return false
	}
	last := c.lastCollectorMsg.Load()
	if last == 0 {
		return true
	}
	return time.Since(time.UnixMilli(last)) <= maxAge
}
