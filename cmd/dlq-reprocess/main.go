package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/IBM/sarama"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/fulfillment/internal/client"
	"github.com/vladislavdragonenkov/fulfillment/internal/domain"
	"github.com/vladislavdragonenkov/fulfillment/internal/messaging/kafka"
	"github.com/vladislavdragonenkov/fulfillment/internal/service/outbox"
)

const (
	defaultReplayLimit = 100
	defaultIdleTimeout = 2 * time.Second
)

var errNoCallbackTarget = errors.New("order-service-url is required to replay payment callbacks")

type config struct {
	brokers     []string
	sourceTopic string
	// targetTopic пустой: topic выбирается по исходному сообщению.
	targetTopic     string
	orderServiceURL string
	internalToken   string
	limit           int
	execute         bool
	fromNewest      bool
	idleTimeout     time.Duration
}

// replayMessage — разобранное сообщение DLQ. callback задан для payment.callback,
// который возвращается в order-service по HTTP, остальное уходит обратно в Kafka.
type replayMessage struct {
	topic    string
	key      string
	value    []byte
	callback *domain.OutboxMessage
}

// replayTargets — куда переигрываются сообщения в режиме -execute.
type replayTargets struct {
	producer  replayProducer
	callbacks domain.OutboxPublisher
}

type offsetClient interface {
	GetOffset(topic string, partition int32, time int64) (int64, error)
	Partitions(topic string) ([]int32, error)
	Close() error
}

type partitionConsumer interface {
	Messages() <-chan *sarama.ConsumerMessage
	Errors() <-chan *sarama.ConsumerError
	Close() error
}

type partitionConsumerSource interface {
	ConsumePartition(topic string, partition int32, offset int64) (partitionConsumer, error)
	Close() error
}

type replayProducer interface {
	SendMessage(msg *sarama.ProducerMessage) (partition int32, offset int64, err error)
	Close() error
}

type saramaConsumerAdapter struct {
	consumer sarama.Consumer
}

func (a saramaConsumerAdapter) ConsumePartition(topic string, partition int32, offset int64) (partitionConsumer, error) {
	pc, err := a.consumer.ConsumePartition(topic, partition, offset)
	if err != nil {
		return nil, err
	}
	return pc, nil
}

func (a saramaConsumerAdapter) Close() error {
	if a.consumer == nil {
		return nil
	}
	return a.consumer.Close()
}

var newReplayDependencies = func(cfg config) (offsetClient, partitionConsumerSource, replayProducer, error) {
	consumerConfig := sarama.NewConfig()
	consumerConfig.Consumer.Return.Errors = true

	client, err := sarama.NewClient(cfg.brokers, consumerConfig)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("create kafka client: %w", err)
	}

	rawConsumer, err := sarama.NewConsumerFromClient(client)
	if err != nil {
		_ = client.Close()
		return nil, nil, nil, fmt.Errorf("create kafka consumer: %w", err)
	}
	consumer := saramaConsumerAdapter{consumer: rawConsumer}

	if !cfg.execute {
		return client, consumer, nil, nil
	}

	producerConfig := sarama.NewConfig()
	producerConfig.Producer.RequiredAcks = sarama.WaitForAll
	producerConfig.Producer.Retry.Max = 5
	producerConfig.Producer.Return.Successes = true
	producerConfig.Producer.Compression = sarama.CompressionSnappy
	producerConfig.Producer.Idempotent = true
	producerConfig.Net.MaxOpenRequests = 1

	producer, err := sarama.NewSyncProducer(cfg.brokers, producerConfig)
	if err != nil {
		_ = consumer.Close()
		_ = client.Close()
		return nil, nil, nil, fmt.Errorf("create kafka producer: %w", err)
	}

	return client, consumer, producer, nil
}

// newCallbackPublisher создаёт клиент callback order-service; nil без адреса.
var newCallbackPublisher = func(cfg config) (domain.OutboxPublisher, error) {
	if cfg.orderServiceURL == "" {
		return nil, nil
	}
	return client.NewOrderCallback(cfg.orderServiceURL, client.WithInternalToken(cfg.internalToken))
}

func main() {
	log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	log.SetLevel(log.InfoLevel)

	cfg, err := readConfig()
	if err != nil {
		fail("%v", err)
	}

	if err := run(context.Background(), cfg); err != nil {
		fail("dlq replay failed: %v", err)
	}
}

func readConfig() (config, error) {
	var (
		brokersRaw string
		cfg        config
	)

	flag.StringVar(&brokersRaw, "brokers", "", "Kafka brokers as comma-separated list (fallback: KAFKA_BROKERS)")
	flag.StringVar(&cfg.sourceTopic, "source-topic", kafka.TopicCallbackDLQ, "DLQ source topic")
	flag.StringVar(&cfg.targetTopic, "target-topic", "", "override target topic for kafka replay (default: original topic)")
	flag.StringVar(&cfg.orderServiceURL, "order-service-url", "", "order-service internal URL for callback replay (fallback: ORDER_SERVICE_URL)")
	flag.IntVar(&cfg.limit, "limit", defaultReplayLimit, "max number of messages to scan/replay")
	flag.BoolVar(&cfg.execute, "execute", false, "execute replay; default is dry-run")
	flag.BoolVar(&cfg.fromNewest, "from-newest", false, "scan latest messages first (bounded by limit)")
	flag.DurationVar(&cfg.idleTimeout, "idle-timeout", defaultIdleTimeout, "idle timeout per partition")
	flag.Parse()

	if strings.TrimSpace(brokersRaw) == "" {
		brokersRaw = os.Getenv("KAFKA_BROKERS")
	}
	if strings.TrimSpace(cfg.orderServiceURL) == "" {
		cfg.orderServiceURL = strings.TrimSpace(os.Getenv("ORDER_SERVICE_URL"))
	}
	cfg.internalToken = os.Getenv("INTERNAL_SERVICE_TOKEN")
	cfg.targetTopic = strings.TrimSpace(cfg.targetTopic)

	cfg.brokers = parseBrokers(brokersRaw)
	if len(cfg.brokers) == 0 {
		return config{}, fmt.Errorf("kafka brokers are required (-brokers or KAFKA_BROKERS)")
	}
	if strings.TrimSpace(cfg.sourceTopic) == "" {
		return config{}, fmt.Errorf("source-topic is required")
	}
	if cfg.limit <= 0 {
		return config{}, fmt.Errorf("limit must be > 0")
	}
	if cfg.idleTimeout <= 0 {
		return config{}, fmt.Errorf("idle-timeout must be > 0")
	}

	return cfg, nil
}

func parseBrokers(raw string) []string {
	chunks := strings.Split(raw, ",")
	brokers := make([]string, 0, len(chunks))
	for _, chunk := range chunks {
		broker := strings.TrimSpace(chunk)
		if broker == "" {
			continue
		}
		brokers = append(brokers, broker)
	}
	return brokers
}

func run(ctx context.Context, cfg config) error {
	log.WithFields(log.Fields{
		"source_topic":      cfg.sourceTopic,
		"target_topic":      cfg.targetTopic,
		"order_service_url": cfg.orderServiceURL,
		"limit":             cfg.limit,
		"execute":           cfg.execute,
		"from_newest":       cfg.fromNewest,
	}).Info("starting dlq replay")

	client, consumer, producer, err := newReplayDependencies(cfg)
	if err != nil {
		return err
	}
	defer func() {
		if producer != nil {
			_ = producer.Close()
		}
		if consumer != nil {
			_ = consumer.Close()
		}
		if client != nil {
			_ = client.Close()
		}
	}()

	targets := replayTargets{producer: producer}
	if cfg.execute {
		callbacks, err := newCallbackPublisher(cfg)
		if err != nil {
			return fmt.Errorf("create order callback client: %w", err)
		}
		targets.callbacks = callbacks
	}

	return runReplay(ctx, cfg, client, consumer, targets)
}

func runReplay(ctx context.Context, cfg config, client offsetClient, consumer partitionConsumerSource, targets replayTargets) error {
	if client == nil || consumer == nil {
		return fmt.Errorf("kafka client and consumer are required")
	}
	if cfg.execute && targets.producer == nil {
		return fmt.Errorf("producer is required in execute mode")
	}

	partitions, err := client.Partitions(cfg.sourceTopic)
	if err != nil {
		return fmt.Errorf("get partitions for topic %s: %w", cfg.sourceTopic, err)
	}
	if len(partitions) == 0 {
		log.WithField("topic", cfg.sourceTopic).Warn("source topic has no partitions")
		return nil
	}
	sort.Slice(partitions, func(i, j int) bool { return partitions[i] < partitions[j] })

	var total partitionStats
	for _, partition := range partitions {
		if total.processed >= cfg.limit {
			break
		}

		stats, err := processPartition(ctx, consumer, client, targets, cfg, partition, cfg.limit-total.processed)
		if err != nil {
			return err
		}
		total.processed += stats.processed
		total.replayed += stats.replayed
		total.skipped += stats.skipped
	}

	mode := "dry-run"
	if cfg.execute {
		mode = "execute"
	}

	log.WithFields(log.Fields{
		"mode":      mode,
		"processed": total.processed,
		"replayed":  total.replayed,
		"skipped":   total.skipped,
	}).Info("dlq replay finished")

	return nil
}

type partitionStats struct {
	processed int
	replayed  int
	skipped   int
}

func processPartition(
	ctx context.Context,
	consumer partitionConsumerSource,
	client offsetClient,
	targets replayTargets,
	cfg config,
	partition int32,
	limit int,
) (partitionStats, error) {
	var stats partitionStats
	if limit <= 0 {
		return stats, nil
	}

	oldest, err := client.GetOffset(cfg.sourceTopic, partition, sarama.OffsetOldest)
	if err != nil {
		return stats, fmt.Errorf("get oldest offset for partition %d: %w", partition, err)
	}
	newest, err := client.GetOffset(cfg.sourceTopic, partition, sarama.OffsetNewest)
	if err != nil {
		return stats, fmt.Errorf("get newest offset for partition %d: %w", partition, err)
	}
	if newest <= oldest {
		return stats, nil
	}

	startOffset := oldest
	if cfg.fromNewest {
		startOffset = newest - int64(limit)
		if startOffset < oldest {
			startOffset = oldest
		}
	}

	partitionConsumer, err := consumer.ConsumePartition(cfg.sourceTopic, partition, startOffset)
	if err != nil {
		return stats, fmt.Errorf("consume partition %d: %w", partition, err)
	}
	defer func() { _ = partitionConsumer.Close() }()

	endOffset := newest
	idleTimer := time.NewTimer(cfg.idleTimeout)
	defer idleTimer.Stop()

	for stats.processed < limit {
		select {
		case <-ctx.Done():
			return stats, ctx.Err()
		case err := <-partitionConsumer.Errors():
			if err != nil {
				return stats, fmt.Errorf("partition %d consumer error: %w", partition, err)
			}
		case msg, ok := <-partitionConsumer.Messages():
			if !ok || msg == nil {
				return stats, nil
			}

			if !idleTimer.Stop() {
				select {
				case <-idleTimer.C:
				default:
				}
			}
			idleTimer.Reset(cfg.idleTimeout)

			if msg.Offset >= endOffset {
				return stats, nil
			}

			entry := log.WithFields(log.Fields{"partition": msg.Partition, "offset": msg.Offset})
			stats.processed++

			replayMsg, ok, err := extractReplayMessage(msg, cfg.targetTopic, time.Now().UTC())
			switch {
			case err != nil:
				stats.skipped++
				entry.WithError(err).Warn("skip unsupported dlq message")
			case !ok:
				stats.skipped++
			case cfg.execute:
				err := publishReplay(ctx, targets, replayMsg)
				if errors.Is(err, errNoCallbackTarget) {
					stats.skipped++
					entry.WithField("key", replayMsg.key).Warn("skip payment callback: order-service-url is not set")
					break
				}
				if err != nil {
					return stats, fmt.Errorf("publish replay message: %w", err)
				}
				stats.replayed++
			default:
				entry.WithFields(log.Fields{
					"target":   replayMsg.target(),
					"key":      replayMsg.key,
					"callback": replayMsg.callback != nil,
				}).Info("dlq replay candidate")
				stats.replayed++
			}

			if msg.Offset+1 >= endOffset {
				return stats, nil
			}
		case <-idleTimer.C:
			return stats, nil
		}
	}

	return stats, nil
}

func (m replayMessage) target() string {
	if m.callback != nil {
		return "order-service callback"
	}
	return m.topic
}

func publishReplay(ctx context.Context, targets replayTargets, msg replayMessage) error {
	if msg.callback != nil {
		if targets.callbacks == nil {
			return errNoCallbackTarget
		}
		return targets.callbacks.Publish(ctx, *msg.callback)
	}
	if targets.producer == nil {
		return fmt.Errorf("producer is nil")
	}

	producerMessage := &sarama.ProducerMessage{
		Topic:     msg.topic,
		Key:       sarama.StringEncoder(msg.key),
		Value:     sarama.ByteEncoder(msg.value),
		Timestamp: time.Now().UTC(),
	}

	_, _, err := targets.producer.SendMessage(producerMessage)
	return err
}

// extractReplayMessage распознаёт два формата DLQ: исходное событие из consumer
// с заголовком x-original-topic и конверт outbox worker.
func extractReplayMessage(msg *sarama.ConsumerMessage, targetTopic string, now time.Time) (replayMessage, bool, error) {
	if original := headerValue(msg, kafka.HeaderOriginalTopic); original != "" {
		return replayMessage{
			topic: firstNonEmpty(targetTopic, original),
			key:   string(msg.Key),
			value: msg.Value,
		}, true, nil
	}

	var envelope outbox.DLQEnvelope
	if err := json.Unmarshal(msg.Value, &envelope); err != nil {
		return replayMessage{}, false, nil
	}
	if envelope.OutboxID == "" && envelope.EventType == "" {
		return replayMessage{}, false, nil
	}
	if len(envelope.Payload) == 0 || string(envelope.Payload) == "null" {
		return replayMessage{}, false, fmt.Errorf("outbox dlq envelope %s does not contain original payload", envelope.OutboxID)
	}

	original := envelope.Message()
	key := firstNonEmpty(original.AggregateID, original.ID)
	if original.EventType == domain.EventPaymentCallback {
		return replayMessage{key: key, callback: &original}, true, nil
	}

	encoded, err := json.Marshal(kafka.NewEnvelope(original, now))
	if err != nil {
		return replayMessage{}, false, fmt.Errorf("encode replay envelope: %w", err)
	}
	return replayMessage{
		topic: firstNonEmpty(targetTopic, kafka.TopicForAggregate(original.AggregateType)),
		key:   key,
		value: encoded,
	}, true, nil
}

func headerValue(msg *sarama.ConsumerMessage, key string) string {
	for _, h := range msg.Headers {
		if h != nil && string(h.Key) == key {
			return string(h.Value)
		}
	}
	return ""
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		if strings.TrimSpace(value) != "" {
			return value
		}
	}
	return ""
}

func fail(format string, args ...any) {
	_, _ = fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}
