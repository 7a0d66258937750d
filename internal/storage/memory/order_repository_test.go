package memory_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/vladislavdragonenkov/fulfillment/internal/domain"
	"github.com/vladislavdragonenkov/fulfillment/internal/storage/memory"
)

func newOrder(id, userID string, createdAt time.Time) domain.Order {
	items := []domain.OrderItem{{ProductID: "p-1", Name: "Mug", UnitPrice: decimal.NewFromInt(10), Quantity: 2}}
	return domain.NewOrder(id, userID, items, domain.ShippingAddress{}, "", createdAt)
}

func TestOrderRepository_CreateGet(t *testing.T) {
	ctx := context.Background()
	repo := memory.NewOrderRepository()
	order := newOrder("order-1", "user-1", time.Now().UTC())

	if err := repo.Create(ctx, order); err != nil {
		t.Fatalf("create failed: %v", err)
	}
	if err := repo.Create(ctx, order); !errors.Is(err, domain.ErrOrderVersionConflict) {
		t.Fatalf("expected conflict on duplicate id, got %v", err)
	}

	stored, err := repo.Get(ctx, order.ID)
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if !stored.TotalAmount.Equal(decimal.NewFromInt(20)) {
		t.Fatalf("expected total 20, got %s", stored.TotalAmount)
	}

	if _, err := repo.Get(ctx, "missing"); !errors.Is(err, domain.ErrOrderNotFound) {
		t.Fatalf("expected ErrOrderNotFound, got %v", err)
	}
}

func TestOrderRepository_ReturnsCopies(t *testing.T) {
	ctx := context.Background()
	repo := memory.NewOrderRepository()
	order := newOrder("order-1", "user-1", time.Now().UTC())
	if err := repo.Create(ctx, order); err != nil {
		t.Fatalf("create failed: %v", err)
	}

	stored, _ := repo.Get(ctx, order.ID)
	stored.StatusHistory[0].Note = "mutated"
	stored.Items[0].Quantity = 99

	again, _ := repo.Get(ctx, order.ID)
	if again.StatusHistory[0].Note != "Order created" || again.Items[0].Quantity != 2 {
		t.Fatal("repository leaked internal slices")
	}
}

func TestOrderRepository_ListFiltersAndPaginates(t *testing.T) {
	ctx := context.Background()
	repo := memory.NewOrderRepository()
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	for i := 0; i < 12; i++ {
		order := newOrder(fmt.Sprintf("order-%02d", i), "user-1", base.Add(time.Duration(i)*time.Minute))
		if err := repo.Create(ctx, order); err != nil {
			t.Fatalf("create failed: %v", err)
		}
	}
	other := newOrder("order-other", "user-2", base)
	if err := repo.Create(ctx, other); err != nil {
		t.Fatalf("create failed: %v", err)
	}

	orders, total, err := repo.List(ctx, domain.OrderFilter{UserID: "user-1", Page: 1, Limit: 5})
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if total != 12 || len(orders) != 5 {
		t.Fatalf("expected 5 of 12, got %d of %d", len(orders), total)
	}
	if orders[0].ID != "order-11" {
		t.Fatalf("expected newest first, got %s", orders[0].ID)
	}

	orders, _, _ = repo.List(ctx, domain.OrderFilter{UserID: "user-1", Page: 3, Limit: 5})
	if len(orders) != 2 {
		t.Fatalf("expected 2 on last page, got %d", len(orders))
	}

	_, total, _ = repo.List(ctx, domain.OrderFilter{})
	if total != 13 {
		t.Fatalf("expected 13 orders for admin, got %d", total)
	}

	_, total, _ = repo.List(ctx, domain.OrderFilter{Status: domain.OrderStatusCancelled})
	if total != 0 {
		t.Fatalf("expected no cancelled orders, got %d", total)
	}
}

func TestOrderRepository_SaveOptimisticLocking(t *testing.T) {
	ctx := context.Background()
	repo := memory.NewOrderRepository()
	order := newOrder("order-1", "user-1", time.Now().UTC())
	if err := repo.Create(ctx, order); err != nil {
		t.Fatalf("create failed: %v", err)
	}

	first, _ := repo.Get(ctx, order.ID)
	second, _ := repo.Get(ctx, order.ID)

	first.PaymentID = "pay_1"
	if err := repo.Save(ctx, first); err != nil {
		t.Fatalf("save failed: %v", err)
	}

	second.Notes = "late writer"
	if err := repo.Save(ctx, second); !domain.IsVersionConflict(err) {
		t.Fatalf("expected version conflict, got %v", err)
	}

	updated, _ := repo.Get(ctx, order.ID)
	if updated.Version != 1 || updated.PaymentID != "pay_1" {
		t.Fatalf("unexpected stored order: version=%d payment=%s", updated.Version, updated.PaymentID)
	}

	if err := repo.Save(ctx, newOrder("missing", "user-1", time.Now())); !errors.Is(err, domain.ErrOrderNotFound) {
		t.Fatalf("expected ErrOrderNotFound, got %v", err)
	}
}
