package outbox

import (
	"context"
	"fmt"

	"github.com/vladislavdragonenkov/fulfillment/internal/domain"
)

// PublisherFunc адаптирует функцию к domain.OutboxPublisher.
type PublisherFunc func(ctx context.Context, msg domain.OutboxMessage) error

// Publish вызывает f.
func (f PublisherFunc) Publish(ctx context.Context, msg domain.OutboxMessage) error {
	return f(ctx, msg)
}

// Router выбирает publisher по типу события.
// Callback к заказу идёт по HTTP, доменные события уходят в Kafka.
type Router struct {
	routes   map[string]domain.OutboxPublisher
	fallback domain.OutboxPublisher
}

// NewRouter создаёт пустой роутер; fallback может быть nil.
func NewRouter(fallback domain.OutboxPublisher) *Router {
	return &Router{routes: make(map[string]domain.OutboxPublisher), fallback: fallback}
}

// Route регистрирует publisher для типа события.
func (r *Router) Route(eventType string, publisher domain.OutboxPublisher) *Router {
	r.routes[eventType] = publisher
	return r
}

// Publish доставляет сообщение через зарегистрированный publisher.
func (r *Router) Publish(ctx context.Context, msg domain.OutboxMessage) error {
	publisher, ok := r.routes[msg.EventType]
	if !ok {
		publisher = r.fallback
	}
	if publisher == nil {
		return fmt.Errorf("%w: no route for event type %q", domain.ErrOutboxPublish, msg.EventType)
	}
	return publisher.Publish(ctx, msg)
}

var _ domain.OutboxPublisher = (*Router)(nil)
