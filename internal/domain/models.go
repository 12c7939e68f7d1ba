package domain

import (
	"time"

	"github.com/google/uuid"
)

type TransactionType string

const (
	TypeSale   TransactionType = "SALE"
	TypeReturn TransactionType = "RETURN"
	// TypeVoid is part of the stored type enum but is never assigned by the
	// engine: a void keeps the original type and moves status to CANCELLED.
	TypeVoid TransactionType = "VOID"
)

type TransactionStatus string

const (
	StatusPending   TransactionStatus = "PENDING"
	StatusCompleted TransactionStatus = "COMPLETED"
	StatusCancelled TransactionStatus = "CANCELLED"
)

type MovementDirection string

const (
	MovementIn         MovementDirection = "IN"
	MovementOut        MovementDirection = "OUT"
	MovementAdjustment MovementDirection = "ADJUSTMENT"
)

const (
	ReasonSale       = "SALE"
	ReasonReturn     = "RETURN"
	ReasonVoid       = "VOID"
	ReasonAdjustment = "ADJUSTMENT"
	ReasonRestock    = "RESTOCK"
)

const PaymentApproved = "APPROVED"

type Product struct {
	ID         uuid.UUID `json:"id"`
	TenantID   string    `json:"tenant_id"`
	SKU        string    `json:"sku"`
	Barcode    string    `json:"barcode,omitempty"`
	Name       string    `json:"name"`
	PriceCents int64     `json:"price_cents"`
	Stock      int64     `json:"stock"`
	MinStock   int64     `json:"min_stock"`
	Active     bool      `json:"active"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

type Transaction struct {
	ID            uuid.UUID         `json:"id"`
	TenantID      string            `json:"tenant_id"`
	Number        string            `json:"number"`
	Type          TransactionType   `json:"type"`
	Status        TransactionStatus `json:"status"`
	SubtotalCents int64             `json:"subtotal_cents"`
	TaxCents      int64             `json:"tax_cents"`
	DiscountCents int64             `json:"discount_cents"`
	TotalCents    int64             `json:"total_cents"`
	PaidCents     int64             `json:"paid_cents"`
	ChangeCents   int64             `json:"change_cents"`
	CustomerRef   string            `json:"customer_ref,omitempty"`
	CashierID     string            `json:"cashier_id"`
	TerminalID    string            `json:"terminal_id,omitempty"`
	Notes         string            `json:"notes,omitempty"`
	Offline       bool              `json:"offline,omitempty"`
	Metadata      map[string]string `json:"metadata,omitempty"`
	CreatedAt     time.Time         `json:"created_at"`
	Items         []TransactionItem `json:"items"`
	Payments      []Payment         `json:"payments,omitempty"`
}

// TransactionItem carries a SKU/name snapshot taken at sale time so later
// catalog edits never change what a recorded sale says it sold.
type TransactionItem struct {
	ID             uuid.UUID `json:"id"`
	TransactionID  uuid.UUID `json:"transaction_id"`
	ProductID      uuid.UUID `json:"product_id"`
	SKU            string    `json:"sku"`
	Name           string    `json:"name"`
	Qty            int64     `json:"qty"`
	UnitPriceCents int64     `json:"unit_price_cents"`
	DiscountCents  int64     `json:"discount_cents"`
	TaxCents       int64     `json:"tax_cents"`
	LineTotalCents int64     `json:"line_total_cents"`
}

type Payment struct {
	ID            uuid.UUID `json:"id"`
	TransactionID uuid.UUID `json:"transaction_id"`
	Method        string    `json:"method"`
	AmountCents   int64     `json:"amount_cents"`
	Reference     string    `json:"reference,omitempty"`
	Status        string    `json:"status"`
	ProcessedAt   time.Time `json:"processed_at"`
}

type InventoryMovement struct {
	ID        uuid.UUID         `json:"id"`
	TenantID  string            `json:"tenant_id"`
	ProductID uuid.UUID         `json:"product_id"`
	Direction MovementDirection `json:"direction"`
	Qty       int64             `json:"qty"`
	Reason    string            `json:"reason"`
	Reference string            `json:"reference,omitempty"`
	ActorID   string            `json:"actor_id"`
	CreatedAt time.Time         `json:"created_at"`
}

// StockMutation is the store-level request for one stock change. For IN and
// OUT mutations Qty is a positive delta; for ADJUSTMENT it is the absolute
// target level the stock is set to.
type StockMutation struct {
	TenantID  string
	ProductID uuid.UUID
	Direction MovementDirection
	Qty       int64
	Reason    string
	Reference string
	ActorID   string
}

type CartItemRequest struct {
	ProductID     uuid.UUID `json:"product_id" validate:"uuid_required"`
	Qty           int64     `json:"qty" validate:"required,gt=0"`
	DiscountCents int64     `json:"discount_cents" validate:"gte=0"`
	TaxCents      int64     `json:"tax_cents" validate:"gte=0"`
}

type CartPaymentRequest struct {
	Method      string `json:"method" validate:"required"`
	AmountCents int64  `json:"amount_cents" validate:"gte=0"`
	Reference   string `json:"reference,omitempty"`
}

type CartRequest struct {
	TenantID      string               `json:"tenant_id,omitempty"`
	Type          TransactionType      `json:"type,omitempty" validate:"omitempty,oneof=SALE RETURN"`
	CustomerRef   string               `json:"customer_ref,omitempty"`
	TerminalID    string               `json:"terminal_id,omitempty"`
	Items         []CartItemRequest    `json:"items" validate:"required,min=1,dive"`
	Payments      []CartPaymentRequest `json:"payments,omitempty" validate:"omitempty,dive"`
	DiscountCents int64                `json:"discount_cents" validate:"gte=0"`
	Notes         string               `json:"notes,omitempty"`
	Offline       bool                 `json:"offline,omitempty"`
	Metadata      map[string]string    `json:"metadata,omitempty"`
}

type PaymentRequest struct {
	TransactionID uuid.UUID `json:"transaction_id" validate:"uuid_required"`
	Method        string    `json:"method" validate:"required"`
	AmountCents   int64     `json:"amount_cents" validate:"gte=0"`
	Reference     string    `json:"reference,omitempty"`
}

type VoidRequest struct {
	TransactionID uuid.UUID `json:"transaction_id" validate:"uuid_required"`
	Reason        string    `json:"reason,omitempty"`
}

type StockMutationRequest struct {
	ProductID uuid.UUID         `json:"product_id" validate:"uuid_required"`
	Direction MovementDirection `json:"direction" validate:"required,oneof=IN OUT ADJUSTMENT"`
	Qty       int64             `json:"qty"`
	Reason    string            `json:"reason,omitempty"`
	Reference string            `json:"reference,omitempty"`
}

type ProductCreateRequest struct {
	SKU          string `json:"sku" validate:"required"`
	Barcode      string `json:"barcode,omitempty"`
	Name         string `json:"name" validate:"required"`
	PriceCents   int64  `json:"price_cents" validate:"gte=0"`
	InitialStock int64  `json:"initial_stock" validate:"gte=0"`
	MinStock     int64  `json:"min_stock" validate:"gte=0"`
}

type ProductSales struct {
	ProductID    uuid.UUID `json:"product_id"`
	SKU          string    `json:"sku"`
	Name         string    `json:"name"`
	QtySold      int64     `json:"qty_sold"`
	RevenueCents int64     `json:"revenue_cents"`
}

type DailySalesReport struct {
	TenantID         string         `json:"tenant_id"`
	Date             string         `json:"date"`
	TransactionCount int64          `json:"transaction_count"`
	RevenueCents     int64          `json:"revenue_cents"`
	AverageCents     int64          `json:"average_cents"`
	TopProducts      []ProductSales `json:"top_products"`
}

type AuditLog struct {
	ID            uuid.UUID `json:"id"`
	TenantID      string    `json:"tenant_id"`
	ActorUsername string    `json:"actor_username"`
	ActorRole     string    `json:"actor_role"`
	Action        string    `json:"action"`
	EntityType    string    `json:"entity_type"`
	EntityID      string    `json:"entity_id"`
	Detail        string    `json:"detail"`
	CreatedAt     time.Time `json:"created_at"`
}

type Actor struct {
	Username string
	Role     string
}

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type LoginResponse struct {
	AccessToken string `json:"access_token"`
	Role        string `json:"role"`
	ExpiresAt   string `json:"expires_at"`
}

type CashierCreateRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type CashierUser struct {
	Username  string    `json:"username"`
	Role      string    `json:"role"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
}

// UserAccount is an internal persistence model for auth credentials.
type UserAccount struct {
	Username  string
	Password  string
	Role      string
	Active    bool
	CreatedAt time.Time
}
