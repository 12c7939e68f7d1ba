package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"tokopos/backend/internal/domain"
)

var (
	ErrNotFound             = errors.New("not found")
	ErrProductNotFound      = errors.New("product not found")
	ErrProductInactive      = errors.New("product inactive")
	ErrInsufficientStock    = errors.New("insufficient stock")
	ErrAlreadyCancelled     = errors.New("transaction already cancelled")
	ErrTransactionCompleted = errors.New("transaction already completed")
	ErrInvalidInput         = errors.New("invalid input")

	// ErrTransactionAborted wraps infrastructure-level failures of the
	// atomic unit (serialization conflicts, lost connections). Nothing was
	// committed, so callers may retry the identical request.
	ErrTransactionAborted = errors.New("transaction aborted")
)

// Repository is the persistence boundary of the engine. Implementations
// must run every multi-step mutation (CreateTransaction, AddPayment,
// VoidTransaction, MutateStock) as a single atomic unit: either all of its
// writes are durable or none are, and the stock check-and-decrement is
// serialized per product.
type Repository interface {
	CreateProduct(ctx context.Context, product domain.Product) (*domain.Product, error)
	GetProduct(ctx context.Context, tenantID string, id uuid.UUID) (*domain.Product, error)
	GetProductBySKU(ctx context.Context, tenantID string, sku string) (*domain.Product, error)
	ListProducts(ctx context.Context, tenantID string) ([]domain.Product, error)
	LowStockProducts(ctx context.Context, tenantID string) ([]domain.Product, error)

	MutateStock(ctx context.Context, m domain.StockMutation) (*domain.Product, error)
	ListMovements(ctx context.Context, tenantID string, productID uuid.UUID, limit int) ([]domain.InventoryMovement, error)

	CreateTransaction(ctx context.Context, tx domain.Transaction) (*domain.Transaction, error)
	GetTransaction(ctx context.Context, tenantID string, id uuid.UUID) (*domain.Transaction, error)
	GetTransactionByNumber(ctx context.Context, tenantID string, number string) (*domain.Transaction, error)
	ListTransactions(ctx context.Context, tenantID string, from time.Time, to time.Time, limit int) ([]domain.Transaction, error)
	AddPayment(ctx context.Context, tenantID string, transactionID uuid.UUID, payment domain.Payment) (*domain.Transaction, error)
	VoidTransaction(ctx context.Context, tenantID string, transactionID uuid.UUID, reason string, actorID string, at time.Time) (*domain.Transaction, error)

	DailySales(ctx context.Context, tenantID string, day time.Time, topN int) (domain.DailySalesReport, error)

	CreateAuditLog(ctx context.Context, entry domain.AuditLog) error
	ListAuditLogs(ctx context.Context, tenantID string, from time.Time, to time.Time, limit int) ([]domain.AuditLog, error)

	CreateUser(ctx context.Context, user domain.UserAccount) error
	ListUsers(ctx context.Context) ([]domain.UserAccount, error)
	UpdateUserPassword(ctx context.Context, username string, password string) error
}
