package engine

import (
	"log/slog"
	"strconv"
	"strings"

	"github.com/confluentinc/confluent-kafka-go/v2/kafka"

	"bgpdata-consumer-go/internal/models"
)

// NotificationTopic is the downstream topic for subscription matches.
const NotificationTopic = "bgpdata.parsed.notification"

// busProducer is the slice of the kafka producer the notifier uses.
type busProducer interface {
	Produce(msg *kafka.Message, deliveryChan chan kafka.Event) error
}

// Notifier fans prefix updates out to subscribed resources. Produce
// errors are logged and swallowed; notification loss must never block
// ingestion.
type Notifier struct {
	producer busProducer
	topic    string
}

func NewNotifier(producer busProducer) *Notifier {
	return &Notifier{producer: producer, topic: NotificationTopic}
}

// MatchResources computes the subscribed resources a prefix update
// touches: the origin ASN plus every parseable ASN on the AS path.
// Duplicates collapse.
func MatchResources(rec *models.UnicastPrefixRec, subs *SubscriptionTable) []string {
	matched := make(map[string]struct{})

	if origin := "AS" + strconv.FormatUint(uint64(rec.OriginAS), 10); subs.Contains(origin) {
		matched[origin] = struct{}{}
	}

	for _, token := range strings.Fields(rec.ASPath) {
		asn, err := strconv.ParseUint(token, 10, 64)
		if err != nil {
			continue
		}
		if resource := "AS" + strconv.FormatUint(asn, 10); subs.Contains(resource) {
			matched[resource] = struct{}{}
		}
	}

	out := make([]string, 0, len(matched))
	for resource := range matched {
		out = append(out, resource)
	}
	return out
}

// NotifyUnicast emits one update record per matched resource.
func (n *Notifier) NotifyUnicast(rec *models.UnicastPrefixRec, subs *SubscriptionTable) {
	for _, resource := range MatchResources(rec, subs) {
		n.emit(resource)
	}
}

func (n *Notifier) emit(resource string) {
	msg := &kafka.Message{
		TopicPartition: kafka.TopicPartition{
			Topic:     &n.topic,
			Partition: kafka.PartitionAny,
		},
		Key:   []byte(resource),
		Value: []byte("update\t" + resource),
	}

	if err := n.producer.Produce(msg, nil); err != nil {
		GetMetrics().NotificationsFailed.Inc()
		slog.Error("notification_produce_failed",
			slog.String("resource", resource),
			slog.String("error", err.Error()))
		return
	}
	GetMetrics().NotificationsEmitted.Inc()
}
