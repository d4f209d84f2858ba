package engine

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/confluentinc/confluent-kafka-go/v2/kafka"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bgpdata-consumer-go/internal/config"
	"bgpdata-consumer-go/internal/models"
)

type fakeBus struct {
	events        []kafka.Event
	subscriptions [][]string
	pauses        int
	resumes       int
	commits       int
	closed        bool
}

func (b *fakeBus) SubscribeTopics(topics []string, cb kafka.RebalanceCb) error {
	b.subscriptions = append(b.subscriptions, append([]string{}, topics...))
	return nil
}

func (b *fakeBus) Poll(timeoutMs int) kafka.Event {
	if len(b.events) == 0 {
		return nil
	}
	ev := b.events[0]
	b.events = b.events[1:]
	return ev
}

func (b *fakeBus) Pause(partitions []kafka.TopicPartition) error {
	b.pauses++
	return nil
}

func (b *fakeBus) Resume(partitions []kafka.TopicPartition) error {
	b.resumes++
	return nil
}

func (b *fakeBus) Assignment() ([]kafka.TopicPartition, error) {
	topic := "bgpdata.parsed.unicast_prefix"
	return []kafka.TopicPartition{{Topic: &topic, Partition: 0}}, nil
}

func (b *fakeBus) Commit() ([]kafka.TopicPartition, error) {
	b.commits++
	return nil, nil
}

func (b *fakeBus) Close() error {
	b.closed = true
	return nil
}

func rawMessage(kind string, rows ...string) []byte {
	var sb strings.Builder
	sb.WriteString("V: 1.7\n")
	sb.WriteString("C_HASH_ID: hash-collector\n")
	sb.WriteString("T: " + kind + "\n")
	sb.WriteString("R: " + strconv.Itoa(len(rows)) + "\n\n")
	for _, row := range rows {
		sb.WriteString(row + "\n")
	}
	return []byte(sb.String())
}

func unicastRow(hash, peerHash, asPath string, originAS uint32) string {
	row := make([]string, 31)
	row[0] = "add"
	row[2] = hash
	row[6] = peerHash
	row[9] = "2026-08-06 10:00:00"
	row[10] = "10.0.0.0"
	row[11] = "24"
	row[12] = "1"
	row[14] = asPath
	row[16] = strconv.FormatUint(uint64(originAS), 10)
	return strings.Join(row, "\t")
}

func baseAttrRow(hash string) string {
	row := make([]string, 23)
	row[0] = "add"
	row[2] = hash
	row[5] = "hash-peer"
	row[10] = "64512 15169"
	row[12] = "15169"
	return strings.Join(row, "\t")
}

func busRecord(topic, key string, value []byte) *kafka.Message {
	return &kafka.Message{
		TopicPartition: kafka.TopicPartition{Topic: &topic, Partition: 0},
		Key:            []byte(key),
		Value:          value,
	}
}

func newTestConsumer(t *testing.T, mutate func(*config.Config)) (*Consumer, *fakeBus, *fakeProducer) {
	t.Helper()

	cfg, err := config.Load("")
	require.NoError(t, err)
	cfg.Kafka.TopicSubscribeDelayMillis = 0
	cfg.Base.WriterMaxThreadsPerType = 2
	// Keep writers from flushing mid-test: a writer holds what it takes
	// from its queue in a pending batch until the batch time elapses.
	cfg.Postgres.BatchTimeMillis = 60000
	if mutate != nil {
		mutate(cfg)
	}

	bus := &fakeBus{}
	producer := &fakeProducer{}
	factory, _ := newMockHandleFactory(t)

	c, err := NewConsumer(cfg, bus, producer, factory, 100)
	require.NoError(t, err)
	t.Cleanup(func() {
		for _, pool := range c.pools {
			pool.Shutdown(nil)
		}
		c.subs.Stop()
	})
	return c, bus, producer
}

func TestRecordKindPrecedence(t *testing.T) {
	msg := &models.Message{Type: "peer"}
	assert.Equal(t, "peer", recordKind(msg, "bgpdata.parsed.unicast_prefix"),
		"typed header wins over the topic suffix")

	assert.Equal(t, "router", recordKind(&models.Message{}, "bgpdata.parsed.router"))
	assert.Equal(t, "plain", recordKind(&models.Message{}, "plain"))
}

func TestStagedSubscriptionMonotonic(t *testing.T) {
	c, bus, _ := newTestConsumer(t, nil)
	patterns := c.cfg.Kafka.SubscribeTopicPatterns

	for k := 1; k <= len(patterns); k++ {
		c.subscribeNext()
		require.Len(t, bus.subscriptions, k)
		require.Len(t, bus.subscriptions[k-1], k, "subscription list grows one pattern at a time")
		assert.True(t, strings.HasPrefix(bus.subscriptions[k-1][k-1], "^"))
		assert.False(t, c.allSubscribed)
	}

	c.subscribeNext()
	assert.True(t, c.allSubscribed)
	assert.Len(t, bus.subscriptions, len(patterns), "no further subscribe calls once latched")
	assert.Equal(t, len(patterns), bus.commits, "offsets committed before each widening")
}

func TestSubscribeThenUnicastEmitsOneNotification(t *testing.T) {
	c, _, producer := newTestConsumer(t, nil)
	ctx := context.Background()

	c.dispatch(ctx, busRecord("bgpdata.parsed.subscription", "",
		rawMessage("subscription", `{"action":"subscribe","resource":"AS15169"}`)))
	require.True(t, c.subs.Contains("AS15169"))

	c.dispatch(ctx, busRecord("bgpdata.parsed.unicast_prefix", "hash-peer",
		rawMessage("unicast_prefix", unicastRow("hash-x", "hash-peer", "64512 15169", 15169))))

	require.Len(t, producer.messages, 1, "origin and path matches collapse to one resource")
	assert.Equal(t, "update\tAS15169", string(producer.messages[0].Value))
	assert.Equal(t, 1, len(c.intake), "the prefix itself is queued for the bulk path")
}

func TestExpiredSubscriptionEmitsNothing(t *testing.T) {
	c, _, producer := newTestConsumer(t, func(cfg *config.Config) {
		cfg.Kafka.SubscriptionTimeoutSeconds = -120
	})
	ctx := context.Background()

	c.dispatch(ctx, busRecord("bgpdata.parsed.subscription", "",
		rawMessage("subscription", `{"action":"subscribe","resource":"AS65000"}`)))
	c.subs.sweep()

	c.dispatch(ctx, busRecord("bgpdata.parsed.unicast_prefix", "hash-peer",
		rawMessage("unicast_prefix", unicastRow("hash-x", "hash-peer", "65000", 65000))))

	assert.Empty(t, producer.messages)
}

func TestBaseAttributeDedup(t *testing.T) {
	c, _, _ := newTestConsumer(t, nil)
	ctx := context.Background()

	record := busRecord("bgpdata.parsed.base_attribute", "hash-peer",
		rawMessage("base_attribute", baseAttrRow("hash-attr")))

	c.dispatch(ctx, record)
	assert.Equal(t, 1, len(c.intake), "first sighting is written")

	for i := 0; i < 99; i++ {
		c.dispatch(ctx, record)
	}
	assert.Equal(t, 1, len(c.intake), "repeats generate no writes")
	assert.Equal(t, int64(100), c.counters.baseAttribute.Load())
}

func TestWritePendingRoutesToStickyWriter(t *testing.T) {
	c, _, _ := newTestConsumer(t, nil)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		c.dispatch(ctx, busRecord("bgpdata.parsed.unicast_prefix", "hash-peer",
			rawMessage("unicast_prefix", unicastRow(fmt.Sprintf("hash-%d", i), "hash-peer", "", 64500))))
	}
	require.Equal(t, 3, len(c.intake))

	c.writePending()
	assert.Zero(t, len(c.intake))

	pool := c.pools[WriterTypeDefault]
	var owner *Writer
	for _, w := range pool.writers {
		if _, ok := w.assigned["hash-peer"]; ok {
			require.Nil(t, owner, "key must be assigned to exactly one writer")
			owner = w
		}
	}
	require.NotNil(t, owner)
}

func TestEnqueueBackpressureDrainsIntake(t *testing.T) {
	c, _, _ := newTestConsumer(t, func(cfg *config.Config) {
		cfg.Base.ConsumerQueueSize = 1
	})
	ctx := context.Background()

	// The second record forces an intake-full drain into the writers
	// rather than deadlocking.
	for i := 0; i < 3; i++ {
		c.dispatch(ctx, busRecord("bgpdata.parsed.unicast_prefix", "hash-peer",
			rawMessage("unicast_prefix", unicastRow(fmt.Sprintf("hash-%d", i), "hash-peer", "", 64500))))
	}

	// A running writer moves offered items from its queue into its pending
	// batch, so count what was routed to writers rather than queue depth.
	routed := int64(0)
	for _, s := range c.pools[WriterTypeDefault].Snapshot() {
		routed += s.Messages
	}
	queued := int64(len(c.intake)) + routed
	assert.Equal(t, int64(3), queued, "nothing is lost under backpressure")
}

func TestUnknownTopicIgnored(t *testing.T) {
	c, _, _ := newTestConsumer(t, nil)

	c.dispatch(context.Background(), busRecord("bgpdata.parsed.mystery", "",
		rawMessage("", "some\trow")))

	assert.Zero(t, len(c.intake))
	assert.Equal(t, int64(1), c.counters.total.Load())
}

func TestMalformedRecordDropped(t *testing.T) {
	c, _, _ := newTestConsumer(t, nil)

	c.dispatch(context.Background(),
		busRecord("bgpdata.parsed.unicast_prefix", "", []byte("no header terminator")))

	assert.Zero(t, len(c.intake))
}

func TestFatalBusErrorStopsLoop(t *testing.T) {
	c, _, _ := newTestConsumer(t, nil)
	c.running.Store(true)

	c.handleEvent(kafka.NewError(kafka.ErrAllBrokersDown, "all brokers down", true))
	assert.False(t, c.running.Load())
}

func TestNonFatalBusErrorTolerated(t *testing.T) {
	c, _, _ := newTestConsumer(t, nil)
	c.running.Store(true)

	c.handleEvent(kafka.NewError(kafka.ErrTransport, "transient", false))
	assert.True(t, c.running.Load())
}

func TestCollectorRefreshesHeartbeat(t *testing.T) {
	c, _, _ := newTestConsumer(t, nil)
	c.running.Store(true)
	require.Zero(t, c.LastCollectorMsg())

	row := strings.Join([]string{"heartbeat", "1", "admin", "hash-c1", "rtr1", "1", "2026-08-06 10:00:00"}, "\t")
	c.dispatch(context.Background(), busRecord("bgpdata.parsed.collector", "hash-c1",
		rawMessage("collector", row)))

	assert.Positive(t, c.LastCollectorMsg())
	assert.True(t, c.Healthy(time.Minute))
}

func TestHealthyStaleCollector(t *testing.T) {
	c, _, _ := newTestConsumer(t, nil)
	c.running.Store(true)

	c.lastCollectorMsg.Store(time.Now().Add(-time.Hour).UnixMilli())
	assert.False(t, c.Healthy(15*time.Minute))

	c.lastCollectorMsg.Store(time.Now().UnixMilli())
	assert.True(t, c.Healthy(15*time.Minute))
}

func TestStatsSnapshot(t *testing.T) {
	c, _, _ := newTestConsumer(t, nil)
	ctx := context.Background()

	c.dispatch(ctx, busRecord("bgpdata.parsed.unicast_prefix", "hash-peer",
		rawMessage("unicast_prefix", unicastRow("hash-x", "hash-peer", "", 64500))))

	s := c.Stats()
	assert.Equal(t, int64(1), s.Messages.UnicastPrefix)
	assert.Equal(t, int64(1), s.Messages.Total)
	assert.Equal(t, 1, s.IntakeQueue)
	assert.Contains(t, s.Writers, "default")
	assert.InDelta(t, 0.2, s.MsgRateByKind["unicast_prefix"], 0.001,
		"one message over the 5s window")
}
