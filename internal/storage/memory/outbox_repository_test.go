package memory

import (
	"context"
	"testing"

	"github.com/vladislavdragonenkov/fulfillment/internal/domain"
)

func TestOutboxRepository_EnqueueAndPull(t *testing.T) {
	ctx := context.Background()
	repo := NewOutboxRepository()

	var ids []string
	for i := 0; i < 3; i++ {
		saved, err := repo.Enqueue(ctx, domain.OutboxMessage{
			AggregateType: domain.OutboxAggregatePayment,
			AggregateID:   "pay_1",
			EventType:     domain.EventPaymentCallback,
			Payload:       []byte(`{"paymentStatus":"paid"}`),
		})
		if err != nil {
			t.Fatalf("enqueue failed: %v", err)
		}
		if saved.ID == "" {
			t.Fatal("expected generated id")
		}
		ids = append(ids, saved.ID)
	}

	pending, err := repo.PullPending(ctx, 2)
	if err != nil {
		t.Fatalf("pull failed: %v", err)
	}
	if len(pending) != 2 {
		t.Fatalf("expected 2 pending messages, got %d", len(pending))
	}
	if pending[0].ID != ids[0] || pending[1].ID != ids[1] {
		t.Fatalf("expected FIFO order, got %s, %s", pending[0].ID, pending[1].ID)
	}

	stats, err := repo.Stats(ctx)
	if err != nil {
		t.Fatalf("stats failed: %v", err)
	}
	if stats.PendingCount != 3 || stats.OldestPendingAt.IsZero() {
		t.Fatalf("unexpected stats %+v", stats)
	}
}

func TestOutboxRepository_MarkSentAndFailed(t *testing.T) {
	ctx := context.Background()
	repo := NewOutboxRepository()

	sent, _ := repo.Enqueue(ctx, domain.OutboxMessage{AggregateType: domain.OutboxAggregateOrder})
	failed, _ := repo.Enqueue(ctx, domain.OutboxMessage{AggregateType: domain.OutboxAggregateOrder})

	if err := repo.MarkSent(ctx, sent.ID); err != nil {
		t.Fatalf("mark sent failed: %v", err)
	}
	if err := repo.MarkFailed(ctx, failed.ID); err != nil {
		t.Fatalf("mark failed: %v", err)
	}
	if err := repo.MarkFailed(ctx, "missing"); err == nil {
		t.Fatal("expected error for missing record")
	}

	if got := repo.AllPending(); len(got) != 0 {
		t.Fatalf("expected empty backlog, got %d", len(got))
	}
	stats, _ := repo.Stats(ctx)
	if stats.PendingCount != 0 || !stats.OldestPendingAt.IsZero() {
		t.Fatalf("unexpected stats %+v", stats)
	}
}
