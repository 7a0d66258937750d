package kafka

import (
	"errors"
	"testing"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"
	log "github.com/sirupsen/logrus"
)

func TestProducer_PublishEvent(t *testing.T) {
	mockProducer := mocks.NewSyncProducer(t, nil)
	producer := &Producer{
		producer: mockProducer,
		logger:   log.WithField("component", "kafka-producer-test"),
	}

	mockProducer.ExpectSendMessageWithMessageCheckerFunctionAndSucceed(func(msg *sarama.ProducerMessage) error {
		if msg.Topic != TopicOrderEvents {
			return errors.New("unexpected topic " + msg.Topic)
		}
		key, _ := msg.Key.Encode()
		if string(key) != "order-123" {
			return errors.New("unexpected key " + string(key))
		}
		return nil
	})

	err := producer.PublishEvent(TopicOrderEvents, "order-123", map[string]string{"status": "confirmed"})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if err := mockProducer.Close(); err != nil {
		t.Fatal(err)
	}
}

func TestProducer_PublishEvent_Error(t *testing.T) {
	mockProducer := mocks.NewSyncProducer(t, nil)
	producer := &Producer{
		producer: mockProducer,
		logger:   log.WithField("component", "kafka-producer-test"),
	}

	mockProducer.ExpectSendMessageAndFail(sarama.ErrOutOfBrokers)

	if err := producer.PublishEvent(TopicOrderEvents, "order-123", nil); err == nil {
		t.Fatal("expected error, got nil")
	}
	if err := mockProducer.Close(); err != nil {
		t.Fatal(err)
	}
}

func TestProducer_PublishEvent_MarshalError(t *testing.T) {
	producer := &Producer{logger: log.WithField("component", "kafka-producer-test")}
	if err := producer.PublishEvent(TopicOrderEvents, "k", make(chan int)); err == nil {
		t.Fatal("expected marshal error")
	}
}

func TestProducer_PublishRawHeaders(t *testing.T) {
	mockProducer := mocks.NewSyncProducer(t, nil)
	producer := &Producer{producer: mockProducer, logger: log.WithField("component", "kafka-producer-test")}

	mockProducer.ExpectSendMessageWithMessageCheckerFunctionAndSucceed(func(msg *sarama.ProducerMessage) error {
		if len(msg.Headers) != 1 || string(msg.Headers[0].Key) != HeaderEventType {
			return errors.New("event type header is missing")
		}
		value, _ := msg.Value.Encode()
		if string(value) != "raw" {
			return errors.New("unexpected value " + string(value))
		}
		return nil
	})

	if err := producer.PublishRaw(TopicCallbackDLQ, "k", []byte("raw"), map[string]string{HeaderEventType: "payment.callback"}); err != nil {
		t.Fatalf("publish raw failed: %v", err)
	}
	if err := mockProducer.Close(); err != nil {
		t.Fatal(err)
	}
}
