package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/fulfillment/internal/domain"
)

func newMockProducer(t *testing.T) (*Producer, *mocks.SyncProducer) {
	t.Helper()
	mockProducer := mocks.NewSyncProducer(t, nil)
	return &Producer{
		producer: mockProducer,
		logger:   log.WithField("component", "kafka-outbox-publisher-test"),
	}, mockProducer
}

func TestOutboxPublisher_RoutesByAggregate(t *testing.T) {
	t.Parallel()

	producer, mockProducer := newMockProducer(t)
	mockProducer.ExpectSendMessageWithMessageCheckerFunctionAndSucceed(func(msg *sarama.ProducerMessage) error {
		if msg.Topic != TopicPaymentEvents {
			return errors.New("payment event routed to " + msg.Topic)
		}
		raw, _ := msg.Value.Encode()
		var env Envelope
		if err := json.Unmarshal(raw, &env); err != nil {
			return err
		}
		if env.EventType != domain.EventPaymentSucceeded || string(env.Payload) != `{"status":"succeeded"}` {
			return errors.New("unexpected envelope " + string(raw))
		}
		return nil
	})
	mockProducer.ExpectSendMessageWithMessageCheckerFunctionAndSucceed(func(msg *sarama.ProducerMessage) error {
		if msg.Topic != TopicOrderEvents {
			return errors.New("order event routed to " + msg.Topic)
		}
		return nil
	})

	publisher := NewOutboxPublisher(producer, "")
	err := publisher.Publish(context.Background(), domain.OutboxMessage{
		ID:            "outbox-1",
		AggregateType: domain.OutboxAggregatePayment,
		AggregateID:   "pay_1",
		EventType:     domain.EventPaymentSucceeded,
		Payload:       []byte(`{"status":"succeeded"}`),
	})
	if err != nil {
		t.Fatalf("publish failed: %v", err)
	}
	err = publisher.Publish(context.Background(), domain.OutboxMessage{
		ID:            "outbox-2",
		AggregateType: domain.OutboxAggregateOrder,
		AggregateID:   "order-1",
		EventType:     domain.EventOrderStatus,
		Payload:       []byte(`{"status":"confirmed"}`),
	})
	if err != nil {
		t.Fatalf("publish failed: %v", err)
	}

	if err := mockProducer.Close(); err != nil {
		t.Fatal(err)
	}
}

func TestOutboxPublisher_PublishProducerError(t *testing.T) {
	t.Parallel()

	producer, mockProducer := newMockProducer(t)
	mockProducer.ExpectSendMessageAndFail(sarama.ErrOutOfBrokers)

	publisher := NewOutboxPublisher(producer, TopicOrderEvents)
	err := publisher.Publish(context.Background(), domain.OutboxMessage{
		ID:            "outbox-3",
		AggregateType: domain.OutboxAggregateOrder,
		AggregateID:   "order-234",
		EventType:     domain.EventOrderStatus,
		Payload:       []byte(`{"status":"failed"}`),
	})
	if err == nil {
		t.Fatal("expected publish error, got nil")
	}

	if err := mockProducer.Close(); err != nil {
		t.Fatal(err)
	}
}

func TestOutboxPublisher_PublishNilProducer(t *testing.T) {
	t.Parallel()

	publisher := NewOutboxPublisher(nil, TopicOrderEvents)
	if err := publisher.Publish(context.Background(), domain.OutboxMessage{ID: "outbox-4"}); err == nil {
		t.Fatal("expected error for nil producer")
	}
}

func TestOutboxPublisher_CancelledContext(t *testing.T) {
	t.Parallel()

	producer, mockProducer := newMockProducer(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := NewOutboxPublisher(producer, "").Publish(ctx, domain.OutboxMessage{ID: "outbox-5"}); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if err := mockProducer.Close(); err != nil {
		t.Fatal(err)
	}
}

func TestDLQPublisher_PublishesRawPayload(t *testing.T) {
	t.Parallel()

	producer, mockProducer := newMockProducer(t)
	mockProducer.ExpectSendMessageWithMessageCheckerFunctionAndSucceed(func(msg *sarama.ProducerMessage) error {
		if msg.Topic != TopicCallbackDLQ {
			return errors.New("unexpected topic " + msg.Topic)
		}
		raw, _ := msg.Value.Encode()
		if string(raw) != `{"outbox_id":"ob-1"}` {
			return errors.New("payload was re-wrapped: " + string(raw))
		}
		return nil
	})

	err := NewDLQPublisher(producer, "").Publish(context.Background(), domain.OutboxMessage{
		ID:          "ob-1",
		AggregateID: "pay_1",
		EventType:   domain.EventPaymentCallback,
		Payload:     []byte(`{"outbox_id":"ob-1"}`),
	})
	if err != nil {
		t.Fatalf("dlq publish failed: %v", err)
	}
	if err := mockProducer.Close(); err != nil {
		t.Fatal(err)
	}
}
