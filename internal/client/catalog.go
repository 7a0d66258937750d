package client

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	"github.com/shopspring/decimal"

	"github.com/vladislavdragonenkov/fulfillment/internal/domain"
)

// Catalog — клиент сервиса каталога.
type Catalog struct {
	*base
}

// NewCatalog создаёт клиент GET {baseURL}/api/products/:id.
func NewCatalog(baseURL string, options ...Option) (*Catalog, error) {
	b, err := newBase("product-service", baseURL, options)
	if err != nil {
		return nil, err
	}
	return &Catalog{base: b}, nil
}

type productPayload struct {
	MongoID  string          `json:"_id"`
	ID       string          `json:"id"`
	Name     string          `json:"name"`
	Price    decimal.Decimal `json:"price"`
	Stock    int             `json:"stock"`
	IsActive *bool           `json:"isActive"`
}

// GetProduct возвращает товар. Любой сбой, включая 404 и недоступность каталога,
// отдаётся как ErrProductNotFound с причиной в цепочке.
func (c *Catalog) GetProduct(ctx context.Context, productID string) (domain.Product, error) {
	resp, err := c.read(ctx, "/api/products/"+url.PathEscape(productID), nil)
	if err != nil {
		c.logger.WithError(err).WithField("product_id", productID).Warn("catalog lookup failed")
		return domain.Product{}, fmt.Errorf("%w: %s: %w", domain.ErrProductNotFound, productID, err)
	}
	if resp.status != http.StatusOK {
		return domain.Product{}, fmt.Errorf("%w: %s (status %d)", domain.ErrProductNotFound, productID, resp.status)
	}

	var envelope struct {
		Product *productPayload `json:"product"`
	}
	if err := decode(resp, &envelope); err != nil {
		return domain.Product{}, fmt.Errorf("%w: %s: %w", domain.ErrProductNotFound, productID, err)
	}
	payload := envelope.Product
	if payload == nil {
		payload = &productPayload{}
		if err := decode(resp, payload); err != nil {
			return domain.Product{}, fmt.Errorf("%w: %s: %w", domain.ErrProductNotFound, productID, err)
		}
	}

	id := payload.ID
	if id == "" {
		id = payload.MongoID
	}
	if id == "" {
		id = productID
	}
	active := true
	if payload.IsActive != nil {
		active = *payload.IsActive
	}
	return domain.Product{
		ID:       id,
		Name:     payload.Name,
		Price:    payload.Price,
		Stock:    payload.Stock,
		IsActive: active,
	}, nil
}

var _ domain.Catalog = (*Catalog)(nil)
