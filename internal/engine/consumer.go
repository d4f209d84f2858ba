package engine

import (
	"context"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"github.com/confluentinc/confluent-kafka-go/v2/kafka"

	"bgpdata-consumer-go/internal/config"
	"bgpdata-consumer-go/internal/db"
	"bgpdata-consumer-go/internal/models"
	"bgpdata-consumer-go/internal/monitor"
	"bgpdata-consumer-go/internal/psqlquery"
	"bgpdata-consumer-go/internal/recovery"
)

// busConsumer is the slice of the kafka consumer the engine drives. The
// engine goroutine is the sole owner; none of these calls happen from
// anywhere else.
type busConsumer interface {
	SubscribeTopics(topics []string, rebalanceCb kafka.RebalanceCb) error
	Poll(timeoutMs int) kafka.Event
	Pause(partitions []kafka.TopicPartition) error
	Resume(partitions []kafka.TopicPartition) error
	Assignment() ([]kafka.TopicPartition, error)
	Commit() ([]kafka.TopicPartition, error)
	Close() error
}

type topicCounters struct {
	collector     atomic.Int64
	router        atomic.Int64
	peer          atomic.Int64
	baseAttribute atomic.Int64
	unicastPrefix atomic.Int64
	l3vpnPrefix   atomic.Int64
	lsNode        atomic.Int64
	lsLink        atomic.Int64
	lsPrefix      atomic.Int64
	bmpStat       atomic.Int64
	subscription  atomic.Int64
	total         atomic.Int64
}

// Consumer is the partition-assigned ingest engine: staged topic
// subscription, pause/resume around batch processing, dispatch to the
// sync inventory path or the bulk writer path.
type Consumer struct {
	cfg      *config.Config
	consumer busConsumer
	notifier *Notifier
	handle   *db.Handle

	pools       map[WriterType]*WriterPool
	routerCache *RouterCache
	attrCache   *AttrCache
	subs        *SubscriptionTable

	intake chan IntakeItem
	carry  []*kafka.Message

	maxPollRecords int

	nowShutdown atomic.Bool
	running     atomic.Bool
	done        chan struct{}

	topicsSubscribed int
	allSubscribed    bool
	subscribePrev    time.Time
	activeTopics     []string

	lastWriterCheck  time.Time
	lastCollectorMsg atomic.Int64

	counters topicCounters
	rate     *monitor.RateMonitor
}

// NewConsumer wires the engine. newHandle opens one DB connection per
// caller; the engine takes one for the synchronous inventory path and
// each pool writer takes its own.
func NewConsumer(cfg *config.Config, consumer busConsumer, producer busProducer,
	newHandle func() (*db.Handle, error), maxPollRecords int) (*Consumer, error) {

	handle, err := newHandle()
	if err != nil {
		return nil, err
	}

	poolCfg := PoolConfig{
		QueueSize:             cfg.Base.WriterQueueSize,
		MaxWriters:            cfg.Base.WriterMaxThreadsPerType,
		AllowedOverQueueTimes: cfg.Base.WriterAllowedOverQueueTimes,
		ScaleBackAfter:        time.Duration(cfg.Base.WriterSecondsThreadScaleBack) * time.Second,
		RebalanceAfter:        time.Duration(cfg.Base.WriterRebalanceSeconds) * time.Second,
		DrainDeadline:         time.Duration(cfg.Base.WriterDrainDeadlineSeconds) * time.Second,
		BatchRecords:          cfg.Postgres.BatchRecords,
		BatchTime:             cfg.Postgres.BatchTime(),
		Retries:               cfg.Postgres.Retries,
	}

	pools := make(map[WriterType]*WriterPool)
	for _, t := range []WriterType{WriterTypeDefault} {
		pool, err := NewWriterPool(t, poolCfg, newHandle)
		if err != nil {
			return nil, err
		}
		pools[t] = pool
	}

	subs := NewSubscriptionTable(time.Duration(cfg.Kafka.SubscriptionTimeoutSeconds) * time.Second)
	subs.StartSweeper(30 * time.Second)

	if maxPollRecords <= 0 {
		maxPollRecords = 2000
	}

	return &Consumer{
		cfg:            cfg,
		consumer:       consumer,
		notifier:       NewNotifier(producer),
		handle:         handle,
		pools:          pools,
		routerCache:    NewRouterCache(),
		attrCache:      NewAttrCache(time.Duration(cfg.Base.AttrCacheAgeMillis) * time.Millisecond),
		subs:           subs,
		intake:         make(chan IntakeItem, cfg.Base.ConsumerQueueSize),
		maxPollRecords: maxPollRecords,
		done:           make(chan struct{}),
		rate:           monitor.NewRateMonitor(),
	}, nil
}

// SafeShutdown requests a clean stop from any goroutine.
func (c *Consumer) SafeShutdown() {
	c.nowShutdown.Store(true)
}

// Done closes when the engine has fully shut down.
func (c *Consumer) Done() <-chan struct{} {
	return c.done
}

// Running reports whether the poll loop is live.
func (c *Consumer) Running() bool {
	return c.running.Load()
}

// LastCollectorMsg returns the unix-millis time of the last collector
// heartbeat, for the health surface.
func (c *Consumer) LastCollectorMsg() int64 {
	return c.lastCollectorMsg.Load()
}

// Run drives the poll loop until shutdown. The calling goroutine owns the
// bus consumer, the intake queue, both engine caches and the synchronous
// inventory path for its whole lifetime.
func (c *Consumer) Run(ctx context.Context) {
	defer close(c.done)

	slog.Info("consumer_started")
	c.running.Store(true)

	c.routerCache.Refresh(ctx, c.handle)

	for !c.nowShutdown.Load() && c.running.Load() {
		if ctx.Err() != nil {
			break
		}

		if !c.allSubscribed {
			c.subscribeNext()
		}

		records := c.fetch()
		if len(records) == 0 {
			c.writePending()
			continue
		}

		// Stop fetching while the batch is processed; zero-duration polls
		// keep group heartbeats flowing.
		c.pause()

		for _, record := range records {
			rec := record
			recovery.Sync("dispatch", func() {
				c.dispatch(ctx, rec)
			})
		}

		c.checkWriters(ctx)
		c.writePending()
		c.resume()
	}

	c.shutdown(ctx)
}

// fetch gathers one batch: a 10 ms poll for the first record, then
// zero-duration polls to drain the client's buffered records, bounded by
// max.poll.records. Carried records deferred by heartbeat polls go first.
func (c *Consumer) fetch() []*kafka.Message {
	records := c.carry
	c.carry = nil

	ev := c.consumer.Poll(10)
	for ev != nil {
		switch e := ev.(type) {
		case *kafka.Message:
			records = append(records, e)
		default:
			c.handleEvent(ev)
		}
		if len(records) >= c.maxPollRecords {
			break
		}
		ev = c.consumer.Poll(0)
	}
	return records
}

// heartbeat issues a zero-duration poll while the consumer is paused. A
// record that slips through (fetched before the pause landed) is carried
// into the next batch rather than dropped.
func (c *Consumer) heartbeat() {
	ev := c.consumer.Poll(0)
	if ev == nil {
		return
	}
	if msg, ok := ev.(*kafka.Message); ok {
		c.carry = append(c.carry, msg)
		return
	}
	c.handleEvent(ev)
}

func (c *Consumer) handleEvent(ev kafka.Event) {
	switch e := ev.(type) {
	case kafka.Error:
		if e.IsFatal() {
			slog.Error("kafka_fatal_error", slog.String("error", e.Error()))
			c.running.Store(false)
		} else {
			slog.Warn("kafka_error", slog.String("error", e.Error()))
		}
	default:
		slog.Debug("kafka_event", slog.String("event", ev.String()))
	}
}

func (c *Consumer) pause() {
	parts, err := c.consumer.Assignment()
	if err != nil || len(parts) == 0 {
		return
	}
	if err := c.consumer.Pause(parts); err != nil {
		slog.Warn("consumer_pause_failed", slog.String("error", err.Error()))
	}
}

func (c *Consumer) resume() {
	parts, err := c.consumer.Assignment()
	if err != nil || len(parts) == 0 {
		return
	}
	if err := c.consumer.Resume(parts); err != nil {
		slog.Warn("consumer_resume_failed", slog.String("error", err.Error()))
	}
}

// subscribeNext advances the staged subscription: one pattern per delay
// window, committing current offsets before each widening. Inventory
// topics drain before NLRI topics this way, so hash references resolve
// by the time prefixes arrive.
func (c *Consumer) subscribeNext() {
	patterns := c.cfg.Kafka.SubscribeTopicPatterns
	if c.topicsSubscribed >= len(patterns) {
		c.allSubscribed = true
		slog.Info("all_topics_subscribed", slog.Int("patterns", len(patterns)))
		return
	}

	if time.Since(c.subscribePrev) < c.cfg.Kafka.SubscribeDelay() {
		return
	}

	if _, err := c.consumer.Commit(); err != nil {
		// No stored offsets yet is normal on the first step.
		slog.Debug("offset_commit_skipped", slog.String("error", err.Error()))
	}

	c.activeTopics = append(c.activeTopics, "^"+patterns[c.topicsSubscribed])
	if err := c.consumer.SubscribeTopics(c.activeTopics, nil); err != nil {
		slog.Error("topic_subscribe_failed",
			slog.String("pattern", patterns[c.topicsSubscribed]),
			slog.String("error", err.Error()))
		c.running.Store(false)
		return
	}

	slog.Info("topic_subscribed",
		slog.String("pattern", patterns[c.topicsSubscribed]),
		slog.Int("active", len(c.activeTopics)))

	c.topicsSubscribed++
	c.subscribePrev = time.Now()
}

// recordKind resolves the handler for a record: the envelope's typed
// header wins, the topic-name suffix is the fallback.
func recordKind(msg *models.Message, topic string) string {
	if msg.Type != "" {
		return msg.Type
	}
	if i := strings.LastIndex(topic, "."); i >= 0 {
		return topic[i+1:]
	}
	return topic
}

func (c *Consumer) dispatch(ctx context.Context, record *kafka.Message) {
	c.counters.total.Add(1)

	topic := ""
	if record.TopicPartition.Topic != nil {
		topic = *record.TopicPartition.Topic
	}

	msg, err := models.ParseMessage(record.Value)
	if err != nil {
		c.rate.Record("malformed", 1)
		GetMetrics().DecodeErrors.Inc()
		slog.Debug("record_decode_failed",
			slog.String("topic", topic),
			slog.String("error", err.Error()))
		return
	}

	kind := recordKind(msg, topic)
	c.rate.Record(kind, 1)
	GetMetrics().MessagesConsumed.WithLabelValues(kind).Inc()

	switch kind {
	case "collector":
		c.counters.collector.Add(1)
		c.handleCollector(ctx, msg)
	case "router":
		c.counters.router.Add(1)
		c.handleRouter(ctx, msg)
	case "peer":
		c.counters.peer.Add(1)
		c.handlePeer(ctx, msg)
	case "base_attribute":
		c.counters.baseAttribute.Add(1)
		c.handleBaseAttribute(msg, record)
	case "unicast_prefix":
		c.counters.unicastPrefix.Add(1)
		c.handleUnicastPrefix(msg, record)
	case "l3vpn":
		c.counters.l3vpnPrefix.Add(1)
		c.enqueueBulk(record, psqlquery.NewL3VpnPrefixQuery(models.DecodeL3VpnPrefixes(msg)).Bulk())
	case "ls_node":
		c.counters.lsNode.Add(1)
		c.enqueueBulk(record, psqlquery.NewLsNodeQuery(models.DecodeLsNodes(msg)).Bulk())
	case "ls_link":
		c.counters.lsLink.Add(1)
		c.enqueueBulk(record, psqlquery.NewLsLinkQuery(models.DecodeLsLinks(msg)).Bulk())
	case "ls_prefix":
		c.counters.lsPrefix.Add(1)
		c.enqueueBulk(record, psqlquery.NewLsPrefixQuery(models.DecodeLsPrefixes(msg)).Bulk())
	case "bmp_stat":
		c.counters.bmpStat.Add(1)
		c.enqueueBulk(record, psqlquery.NewBmpStatQuery(models.DecodeBmpStats(msg)).Bulk())
	case "subscription":
		c.counters.subscription.Add(1)
		c.handleSubscription(msg, record)
	default:
		slog.Debug("topic_not_implemented", slog.String("topic", topic))
	}
}

// syncUpdate runs an inventory statement on the engine's own handle so
// the write is observable before any dependent NLRI is enqueued.
func (c *Consumer) syncUpdate(ctx context.Context, sql string) {
	if sql == "" {
		return
	}
	if err := c.handle.Update(ctx, sql, c.cfg.Postgres.Retries); err != nil {
		slog.Error("inventory_update_failed", slog.String("error", err.Error()))
	}
}

func (c *Consumer) handleCollector(ctx context.Context, msg *models.Message) {
	q := psqlquery.NewCollectorQuery(models.DecodeCollectors(msg))

	c.syncUpdate(ctx, q.Bulk().SQL())
	c.heartbeat()

	if sql := q.GenRouterCollectorUpdate(); sql != "" {
		slog.Debug("collector_router_update", slog.String("sql", sql))
		c.syncUpdate(ctx, sql)
	}

	c.lastCollectorMsg.Store(time.Now().UnixMilli())
}

func (c *Consumer) handleRouter(ctx context.Context, msg *models.Message) {
	q := psqlquery.NewRouterQuery(msg.CollectorHash, models.DecodeRouters(msg))

	c.syncUpdate(ctx, q.Bulk().SQL())
	c.heartbeat()

	if sql := q.GenPeerRouterUpdate(c.routerCache.UpCounts()); sql != "" {
		slog.Debug("router_peer_update", slog.String("sql", sql))
		c.syncUpdate(ctx, sql)
	}

	c.routerCache.Refresh(ctx, c.handle)
}

func (c *Consumer) handlePeer(ctx context.Context, msg *models.Message) {
	q := psqlquery.NewPeerQuery(models.DecodePeers(msg))

	c.syncUpdate(ctx, q.Bulk().SQL())
	c.heartbeat()

	for _, sql := range q.GenRibPeerUpdate() {
		slog.Debug("peer_rib_update", slog.String("sql", sql))
		c.syncUpdate(ctx, sql)
		c.heartbeat()
	}
}

func (c *Consumer) handleBaseAttribute(msg *models.Message, record *kafka.Message) {
	recs := models.DecodeBaseAttrs(msg)

	fresh := recs[:0]
	for _, rec := range recs {
		if rec.Hash == "" || c.attrCache.Seen(rec.Hash) {
			continue
		}
		fresh = append(fresh, rec)
	}
	if len(fresh) == 0 {
		return
	}

	c.enqueueBulk(record, psqlquery.NewBaseAttributeQuery(fresh).Bulk())
}

func (c *Consumer) handleUnicastPrefix(msg *models.Message, record *kafka.Message) {
	recs := models.DecodeUnicastPrefixes(msg)

	for i := range recs {
		c.notifier.NotifyUnicast(&recs[i], c.subs)
	}

	c.enqueueBulk(record, psqlquery.NewUnicastPrefixQuery(recs).Bulk())
}

func (c *Consumer) handleSubscription(msg *models.Message, record *kafka.Message) {
	content := []byte(msg.RawContent)
	if len(content) == 0 {
		content = record.Value
	}

	sub, err := models.DecodeSubscription(content)
	if err != nil {
		slog.Warn("subscription_decode_failed", slog.String("error", err.Error()))
		return
	}
	if sub.Action == "subscribe" && sub.Resource != "" {
		c.subs.Subscribe(sub.Resource)
	}
}

// enqueueBulk hands a triple to the intake queue. A full intake applies
// backpressure: heartbeat, drain pending into writers, back off 1 ms,
// retry.
func (c *Consumer) enqueueBulk(record *kafka.Message, q *psqlquery.BulkQuery) {
	if q == nil || len(q.Values) == 0 {
		return
	}

	item := IntakeItem{Key: string(record.Key), Query: q, Type: WriterTypeDefault}
	for {
		select {
		case c.intake <- item:
			GetMetrics().IntakeQueueSize.Set(float64(len(c.intake)))
			return
		default:
			GetMetrics().IntakeFullWaits.Inc()
			c.heartbeat()
			c.writePending()
			time.Sleep(time.Millisecond)
		}
	}
}

// writePending routes queued intake items to their sticky writers. An
// item whose writer queue is full goes back to the intake tail and the
// writer is skipped for the rest of the pass. Re-queuing can reorder
// items for a key whose writer fills mid-pass while other keys fast-path;
// per-key order still holds end to end because the key's single writer
// conflates by arrival order.
func (c *Consumer) writePending() {
	var busy map[*Writer]struct{}

	n := len(c.intake)
loop:
	for i := 0; i < n; i++ {
		select {
		case item := <-c.intake:
			w := c.pools[item.Type].Route(item.Key)

			if _, skip := busy[w]; skip {
				c.intake <- item
				continue
			}

			if !w.Offer(item.Query) {
				c.intake <- item
				if busy == nil {
					busy = make(map[*Writer]struct{})
				}
				busy[w] = struct{}{}
			}
		default:
			break loop
		}
	}

	GetMetrics().IntakeQueueSize.Set(float64(len(c.intake)))
}

// checkWriters is the 10-second housekeeping tick: purge the attribute
// cache, then give every pool its rebalance/scale sample.
func (c *Consumer) checkWriters(ctx context.Context) {
	if time.Since(c.lastWriterCheck) < 10*time.Second {
		return
	}
	c.lastWriterCheck = time.Now()

	c.attrCache.Purge()

	for _, pool := range c.pools {
		if err := pool.Check(c.heartbeat); err != nil {
			slog.Error("writer_pool_check_failed", slog.String("error", err.Error()))
			c.running.Store(false)
			return
		}
	}
}

// shutdown drains the intake queue into the writers, stops the pools and
// closes the bus handle. A queue that stops moving for 500 consecutive
// 100 ms checks is declared stalled and abandoned.
func (c *Consumer) shutdown(ctx context.Context) {
	slog.Info("consumer_shutting_down", slog.Int("intake", len(c.intake)))

	prevSize := len(c.intake)
	stalled := 0
	logTick := 0
	for len(c.intake) > 0 && stalled < 500 {
		if prevSize != len(c.intake) {
			stalled = 0
		} else {
			stalled++
			time.Sleep(100 * time.Millisecond)
		}
		prevSize = len(c.intake)
		c.writePending()

		if logTick > 100 {
			logTick = 0
			slog.Info("intake_drain_progress",
				slog.Int("intake", len(c.intake)),
				slog.Int("stalled_checks", stalled))
		}
		logTick++
	}

	for _, pool := range c.pools {
		pool.Shutdown(nil)
	}

	c.subs.Stop()

	if err := c.consumer.Close(); err != nil {
		slog.Warn("consumer_close_failed", slog.String("error", err.Error()))
	}
	if err := c.handle.Disconnect(); err != nil {
		slog.Warn("db_disconnect_failed", slog.String("error", err.Error()))
	}

	c.running.Store(false)
	slog.Info("consumer_stopped")
}
