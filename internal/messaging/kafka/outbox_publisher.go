package kafka

import (
	"context"
	"errors"
	"time"

	"github.com/vladislavdragonenkov/fulfillment/internal/domain"
)

var errPublisherNotInitialized = errors.New("kafka outbox publisher is not initialized")

// OutboxTopicPublisher публикует доменные события из outbox в Kafka.
// Topic выбирается по типу агрегата, ключом служит идентификатор агрегата.
type OutboxTopicPublisher struct {
	producer *Producer
	topic    string
}

// NewOutboxPublisher создаёт publisher; пустой topic включает выбор по агрегату.
func NewOutboxPublisher(producer *Producer, topic string) *OutboxTopicPublisher {
	return &OutboxTopicPublisher{producer: producer, topic: topic}
}

func (p *OutboxTopicPublisher) Publish(ctx context.Context, event domain.OutboxMessage) error {
	if p == nil || p.producer == nil {
		return errPublisherNotInitialized
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	topic := p.topic
	if topic == "" {
		topic = TopicForAggregate(event.AggregateType)
	}
	return p.producer.PublishEvent(topic, messageKey(event), NewEnvelope(event, time.Now().UTC()))
}

// DLQPublisher кладёт тело сообщения в DLQ без дополнительной обёртки.
type DLQPublisher struct {
	producer *Producer
	topic    string
}

func NewDLQPublisher(producer *Producer, topic string) *DLQPublisher {
	if topic == "" {
		topic = TopicCallbackDLQ
	}
	return &DLQPublisher{producer: producer, topic: topic}
}

func (p *DLQPublisher) Publish(ctx context.Context, event domain.OutboxMessage) error {
	if p == nil || p.producer == nil {
		return errPublisherNotInitialized
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return p.producer.PublishRaw(p.topic, messageKey(event), event.Payload, map[string]string{
		HeaderEventType: event.EventType,
		HeaderFailedAt:  time.Now().UTC().Format(time.RFC3339),
	})
}

func messageKey(event domain.OutboxMessage) string {
	if event.AggregateID != "" {
		return event.AggregateID
	}
	return event.ID
}

var (
	_ domain.OutboxPublisher = (*OutboxTopicPublisher)(nil)
	_ domain.OutboxPublisher = (*DLQPublisher)(nil)
)
