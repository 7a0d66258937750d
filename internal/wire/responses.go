package wire

// OrderResponse — ответ с заказом и, если есть, платежом.
type OrderResponse struct {
	Message string   `json:"message,omitempty"`
	Order   Order    `json:"order"`
	Payment *Payment `json:"payment"`
}

type OrderListResponse struct {
	Orders     []Order    `json:"orders"`
	Pagination Pagination `json:"pagination"`
}

// PaymentResponse — ответ с платежом; он же тело 201/402 у initiate.
type PaymentResponse struct {
	Message string  `json:"message,omitempty"`
	Payment Payment `json:"payment"`
}

type PaymentListResponse struct {
	Payments   []Payment  `json:"payments"`
	Pagination Pagination `json:"pagination"`
}

// HealthResponse — ответ GET /health.
type HealthResponse struct {
	Status  string `json:"status"`
	Service string `json:"service"`
	Version string `json:"version,omitempty"`
}
