//go:build pact

// Package pacttest содержит общие константы контракта callback между payment-service
// (consumer) и внутренним listener-ом order-service (provider).
package pacttest

import (
	"os"
	"path/filepath"
	"runtime"
	"testing"
)

const (
	ProviderName = "order-service"
	ConsumerName = "payment-service"

	StateOrderAwaitingPayment = "order ord-pact-1 awaits payment"
	StateOrderPaid            = "order ord-pact-1 is paid"
	StateOrderMissing         = "no order with id ord-missing"
)

const (
	ExistingOrderID = "ord-pact-1"
	MissingOrderID  = "ord-missing"
	PaymentID       = "pay-pact-1"
	CustomerID      = "user-pact"
	InternalToken   = "pact-internal-token"
)

// PactDir возвращает каталог сгенерированных pact-файлов в корне репозитория.
func PactDir(t testing.TB) string {
	t.Helper()
	dir := filepath.Join(projectRoot(t), "pacts")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatalf("create pact dir: %v", err)
	}
	return dir
}

func PactFile(t testing.TB) string {
	t.Helper()
	return filepath.Join(PactDir(t), ConsumerName+"-"+ProviderName+".json")
}

func LogDir(t testing.TB) string {
	t.Helper()
	dir := filepath.Join(projectRoot(t), "bin", "pact-logs")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatalf("create pact log dir: %v", err)
	}
	return dir
}

func projectRoot(t testing.TB) string {
	t.Helper()
	_, file, _, ok := runtime.Caller(0)
	if !ok {
		t.Fatal("cannot determine caller for pact paths")
	}
	return filepath.Clean(filepath.Join(filepath.Dir(file), "..", ".."))
}
