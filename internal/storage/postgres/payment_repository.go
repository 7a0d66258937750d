package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	gormpostgres "gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/vladislavdragonenkov/fulfillment/internal/domain"
)

// paymentRecord отображает платёж на таблицу payments.
type paymentRecord struct {
	ID                   string              `gorm:"primaryKey;column:id"`
	OrderID              string              `gorm:"column:order_id"`
	OrderNumber          string              `gorm:"column:order_number"`
	UserID               string              `gorm:"column:user_id"`
	Amount               decimal.Decimal     `gorm:"column:amount;type:numeric(14,2)"`
	Currency             string              `gorm:"column:currency"`
	Status               string              `gorm:"column:status"`
	Method               string              `gorm:"column:method"`
	CardLast4            string              `gorm:"column:card_last4"`
	CardBrand            string              `gorm:"column:card_brand"`
	GatewayTransactionID string              `gorm:"column:gateway_transaction_id"`
	GatewayResponse      []byte              `gorm:"column:gateway_response;type:jsonb"`
	FailureReason        string              `gorm:"column:failure_reason"`
	ProcessedAt          *time.Time          `gorm:"column:processed_at"`
	RefundedAt           *time.Time          `gorm:"column:refunded_at"`
	RefundAmount         decimal.NullDecimal `gorm:"column:refund_amount;type:numeric(14,2)"`
	RefundTransactionID  string              `gorm:"column:refund_transaction_id"`
	Metadata             []byte              `gorm:"column:metadata;type:jsonb"`
	CreatedAt            time.Time           `gorm:"column:created_at"`
	UpdatedAt            time.Time           `gorm:"column:updated_at"`
}

func (paymentRecord) TableName() string { return "payments" }

// paymentRepository хранит платежи через GORM поверх общего пула Store.
type paymentRepository struct {
	db *gorm.DB
}

// NewPaymentRepository создаёт PostgreSQL-реализацию PaymentRepository.
// Схема создаётся миграциями, AutoMigrate не используется.
func NewPaymentRepository(store *Store) (domain.PaymentRepository, error) {
	db, err := gorm.Open(gormpostgres.New(gormpostgres.Config{Conn: store.DB()}), &gorm.Config{
		Logger:                 logger.Default.LogMode(logger.Silent),
		SkipDefaultTransaction: true,
	})
	if err != nil {
		return nil, fmt.Errorf("open gorm over postgres pool: %w", err)
	}
	return &paymentRepository{db: db}, nil
}

// CreateIfNoActive полагается на частичный уникальный индекс ux_payments_active_order.
func (r *paymentRepository) CreateIfNoActive(ctx context.Context, payment domain.Payment) (domain.Payment, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	record, err := toPaymentRecord(payment)
	if err != nil {
		return domain.Payment{}, err
	}

	// Вторая попытка нужна, если конфликтующий платёж успел стать неактивным до чтения.
	for attempt := 0; attempt < 2; attempt++ {
		err = r.db.WithContext(ctx).Create(&record).Error
		if err == nil {
			return payment, nil
		}
		if !isUniqueViolation(err) {
			return domain.Payment{}, fmt.Errorf("insert payment: %w", err)
		}

		var existing paymentRecord
		findErr := r.db.WithContext(ctx).
			Where("order_id = ? AND status IN ?", payment.OrderID, activeStatuses()).
			Order("created_at DESC").
			First(&existing).Error
		if findErr == nil {
			p, convErr := existing.toDomain()
			if convErr != nil {
				return domain.Payment{}, convErr
			}
			return domain.Payment{}, &domain.PaymentConflictError{Existing: p}
		}
		if !errors.Is(findErr, gorm.ErrRecordNotFound) {
			return domain.Payment{}, fmt.Errorf("load active payment: %w", findErr)
		}
	}
	return domain.Payment{}, domain.ErrPaymentAlreadyExists
}

func (r *paymentRepository) Get(ctx context.Context, id string) (domain.Payment, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	var record paymentRecord
	if err := r.db.WithContext(ctx).First(&record, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.Payment{}, domain.ErrPaymentNotFound
		}
		return domain.Payment{}, fmt.Errorf("select payment: %w", err)
	}
	return record.toDomain()
}

func (r *paymentRepository) LatestByOrder(ctx context.Context, orderID string) (domain.Payment, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	var record paymentRecord
	err := r.db.WithContext(ctx).
		Where("order_id = ?", orderID).
		Order("created_at DESC, id DESC").
		First(&record).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.Payment{}, domain.ErrPaymentNotFound
		}
		return domain.Payment{}, fmt.Errorf("select latest payment: %w", err)
	}
	return record.toDomain()
}

func (r *paymentRepository) List(ctx context.Context, filter domain.PaymentFilter) ([]domain.Payment, int, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	query := r.db.WithContext(ctx).Model(&paymentRecord{})
	if filter.UserID != "" {
		query = query.Where("user_id = ?", filter.UserID)
	}
	if filter.Status != "" {
		query = query.Where("status = ?", string(filter.Status))
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("count payments: %w", err)
	}

	_, limit := domain.NormalizePage(filter.Page, filter.Limit)
	var records []paymentRecord
	if err := query.
		Order("created_at DESC, id DESC").
		Limit(limit).
		Offset(domain.Offset(filter.Page, filter.Limit)).
		Find(&records).Error; err != nil {
		return nil, 0, fmt.Errorf("list payments: %w", err)
	}

	payments := make([]domain.Payment, 0, len(records))
	for i := range records {
		p, err := records[i].toDomain()
		if err != nil {
			return nil, 0, err
		}
		payments = append(payments, p)
	}
	return payments, int(total), nil
}

func (r *paymentRepository) Save(ctx context.Context, payment domain.Payment) error {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	record, err := toPaymentRecord(payment)
	if err != nil {
		return err
	}

	result := r.db.WithContext(ctx).
		Model(&paymentRecord{ID: payment.ID}).
		Select("*").
		Omit("id", "created_at").
		Updates(&record)
	if result.Error != nil {
		if isUniqueViolation(result.Error) {
			return domain.ErrPaymentAlreadyExists
		}
		return fmt.Errorf("update payment: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return domain.ErrPaymentNotFound
	}
	return nil
}

// Transition выполняет UPDATE ... WHERE id = ? AND status = from.
// Ноль затронутых строк означает, что статус уже сменил другой запрос.
func (r *paymentRepository) Transition(ctx context.Context, payment domain.Payment, from domain.PaymentStatus) error {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	record, err := toPaymentRecord(payment)
	if err != nil {
		return err
	}

	result := r.db.WithContext(ctx).
		Model(&paymentRecord{ID: payment.ID}).
		Where("status = ?", string(from)).
		Select("*").
		Omit("id", "created_at").
		Updates(&record)
	if result.Error != nil {
		if isUniqueViolation(result.Error) {
			return domain.ErrPaymentAlreadyExists
		}
		return fmt.Errorf("transition payment: %w", result.Error)
	}
	if result.RowsAffected > 0 {
		return nil
	}

	var count int64
	if err := r.db.WithContext(ctx).Model(&paymentRecord{}).Where("id = ?", payment.ID).Count(&count).Error; err != nil {
		return fmt.Errorf("check payment: %w", err)
	}
	if count == 0 {
		return domain.ErrPaymentNotFound
	}
	return domain.ErrPaymentStatusChanged
}

func activeStatuses() []string {
	statuses := domain.ActivePaymentStatuses()
	result := make([]string, 0, len(statuses))
	for _, s := range statuses {
		result = append(result, string(s))
	}
	return result
}

func toPaymentRecord(p domain.Payment) (paymentRecord, error) {
	record := paymentRecord{
		ID:                   p.ID,
		OrderID:              p.OrderID,
		OrderNumber:          p.OrderNumber,
		UserID:               p.UserID,
		Amount:               p.Amount,
		Currency:             p.Currency,
		Status:               string(p.Status),
		Method:               string(p.Method),
		CardLast4:            p.CardLast4,
		CardBrand:            p.CardBrand,
		GatewayTransactionID: p.GatewayTransactionID,
		FailureReason:        p.FailureReason,
		ProcessedAt:          p.ProcessedAt,
		RefundedAt:           p.RefundedAt,
		RefundTransactionID:  p.RefundTransactionID,
		CreatedAt:            p.CreatedAt,
		UpdatedAt:            p.UpdatedAt,
	}
	if len(p.GatewayResponse) > 0 {
		record.GatewayResponse = p.GatewayResponse
	}
	if p.RefundAmount != nil {
		record.RefundAmount = decimal.NewNullDecimal(*p.RefundAmount)
	}
	if len(p.Metadata) > 0 {
		raw, err := json.Marshal(p.Metadata)
		if err != nil {
			return paymentRecord{}, fmt.Errorf("marshal payment metadata: %w", err)
		}
		record.Metadata = raw
	}
	return record, nil
}

func (r paymentRecord) toDomain() (domain.Payment, error) {
	p := domain.Payment{
		ID:                   r.ID,
		OrderID:              r.OrderID,
		OrderNumber:          r.OrderNumber,
		UserID:               r.UserID,
		Amount:               r.Amount,
		Currency:             r.Currency,
		Status:               domain.PaymentStatus(r.Status),
		Method:               domain.PaymentMethod(r.Method),
		CardLast4:            r.CardLast4,
		CardBrand:            r.CardBrand,
		GatewayTransactionID: r.GatewayTransactionID,
		GatewayResponse:      r.GatewayResponse,
		FailureReason:        r.FailureReason,
		ProcessedAt:          r.ProcessedAt,
		RefundedAt:           r.RefundedAt,
		RefundTransactionID:  r.RefundTransactionID,
		CreatedAt:            r.CreatedAt,
		UpdatedAt:            r.UpdatedAt,
	}
	if r.RefundAmount.Valid {
		amount := r.RefundAmount.Decimal
		p.RefundAmount = &amount
	}
	if len(r.Metadata) > 0 {
		if err := json.Unmarshal(r.Metadata, &p.Metadata); err != nil {
			return domain.Payment{}, fmt.Errorf("decode payment metadata: %w", err)
		}
	}
	return p, nil
}

var _ domain.PaymentRepository = (*paymentRepository)(nil)
