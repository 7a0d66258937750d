package kafka

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/IBM/sarama"

	"github.com/vladislavdragonenkov/fulfillment/internal/domain"
)

// Topics для Kafka
const (
	TopicPaymentEvents = "fulfillment.payment.events"
	TopicOrderEvents   = "fulfillment.order.events"
	// TopicCallbackDLQ получает callback, которые outbox worker не смог доставить.
	TopicCallbackDLQ = "fulfillment.callbacks.dlq"
	// TopicPaymentEventsDLQ получает события, которые consumer не смог применить.
	TopicPaymentEventsDLQ = "fulfillment.payment.events.dlq"
)

// Kafka headers
const (
	HeaderRetryCount    = "x-retry-count"
	HeaderOriginalTopic = "x-original-topic"
	HeaderErrorMessage  = "x-error-message"
	HeaderFailedAt      = "x-failed-at"
	HeaderEventType     = "x-event-type"
)

// Envelope — формат сообщений, публикуемых из outbox.
type Envelope struct {
	ID            string          `json:"id"`
	AggregateType string          `json:"aggregate_type"`
	AggregateID   string          `json:"aggregate_id"`
	EventType     string          `json:"event_type"`
	Payload       json.RawMessage `json:"payload"`
	PublishedAt   time.Time       `json:"published_at"`
}

// NewEnvelope упаковывает outbox-сообщение.
func NewEnvelope(msg domain.OutboxMessage, at time.Time) Envelope {
	payload := json.RawMessage(msg.Payload)
	if !json.Valid(payload) {
		quoted, _ := json.Marshal(string(msg.Payload))
		payload = quoted
	}
	return Envelope{
		ID:            msg.ID,
		AggregateType: msg.AggregateType,
		AggregateID:   msg.AggregateID,
		EventType:     msg.EventType,
		Payload:       payload,
		PublishedAt:   at,
	}
}

// ParseEnvelope разбирает конверт из сообщения Kafka.
func ParseEnvelope(message *sarama.ConsumerMessage) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(message.Value, &env); err != nil {
		return Envelope{}, fmt.Errorf("failed to unmarshal envelope: %w", err)
	}
	return env, nil
}

// TopicForAggregate выбирает topic доменного события по типу агрегата.
func TopicForAggregate(aggregateType string) string {
	switch aggregateType {
	case domain.OutboxAggregatePayment:
		return TopicPaymentEvents
	default:
		return TopicOrderEvents
	}
}
