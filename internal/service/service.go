package service

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"

	"tokopos/backend/internal/cache"
	"tokopos/backend/internal/domain"
	"tokopos/backend/internal/store"
	"tokopos/backend/internal/validate"
)

type actorContextKey struct{}

func WithActor(ctx context.Context, actor domain.Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

func ActorFromContext(ctx context.Context) (domain.Actor, bool) {
	actor, ok := ctx.Value(actorContextKey{}).(domain.Actor)
	return actor, ok
}

type Service struct {
	repo            store.Repository
	reports         cache.ReportCache
	reportTTL       time.Duration
	defaultTenantID string
}

func New(repo store.Repository, reports cache.ReportCache, reportTTL time.Duration, defaultTenantID string) *Service {
	if reports == nil {
		reports = cache.NoopReportCache{}
	}
	if reportTTL <= 0 {
		reportTTL = 6 * time.Hour
	}
	if defaultTenantID == "" {
		defaultTenantID = "main-tenant"
	}

	return &Service{
		repo:            repo,
		reports:         reports,
		reportTTL:       reportTTL,
		defaultTenantID: defaultTenantID,
	}
}

func (s *Service) ListProducts(ctx context.Context) ([]domain.Product, error) {
	return s.repo.ListProducts(ctx, s.defaultTenantID)
}

func (s *Service) GetProduct(ctx context.Context, id uuid.UUID) (domain.Product, error) {
	p, err := s.repo.GetProduct(ctx, s.defaultTenantID, id)
	if err != nil {
		return domain.Product{}, err
	}
	return *p, nil
}

func (s *Service) LowStockProducts(ctx context.Context) ([]domain.Product, error) {
	return s.repo.LowStockProducts(ctx, s.defaultTenantID)
}

func (s *Service) CreateProduct(ctx context.Context, req domain.ProductCreateRequest) (domain.Product, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok || actor.Role != "admin" {
		return domain.Product{}, fmt.Errorf("admin role required")
	}

	req.SKU = strings.ToUpper(strings.TrimSpace(req.SKU))
	req.Name = strings.TrimSpace(req.Name)
	if err := validate.Struct(req); err != nil {
		return domain.Product{}, fmt.Errorf("%w: %v", store.ErrInvalidInput, err)
	}

	created, err := s.repo.CreateProduct(ctx, domain.Product{
		TenantID:   s.defaultTenantID,
		SKU:        req.SKU,
		Barcode:    strings.TrimSpace(req.Barcode),
		Name:       req.Name,
		PriceCents: req.PriceCents,
		Stock:      req.InitialStock,
		MinStock:   req.MinStock,
		Active:     true,
	})
	if err != nil {
		return domain.Product{}, err
	}

	s.logAudit(ctx, "product_create", "product", created.SKU, fmt.Sprintf("name=%s,price=%d,stock=%d", created.Name, created.PriceCents, created.Stock))
	return *created, nil
}

func (s *Service) CreateTransaction(ctx context.Context, req domain.CartRequest) (domain.Transaction, error) {
	if req.Type == "" {
		req.Type = domain.TypeSale
	}
	if err := validate.Struct(req); err != nil {
		return domain.Transaction{}, fmt.Errorf("%w: %v", store.ErrInvalidInput, err)
	}

	tenantID := req.TenantID
	if tenantID == "" {
		tenantID = s.defaultTenantID
	}

	actor, _ := ActorFromContext(ctx)
	cashierID := actor.Username
	if cashierID == "" {
		cashierID = "system"
	}

	items := make([]domain.TransactionItem, 0, len(req.Items))
	for _, item := range req.Items {
		items = append(items, domain.TransactionItem{
			ProductID:     item.ProductID,
			Qty:           item.Qty,
			DiscountCents: item.DiscountCents,
			TaxCents:      item.TaxCents,
		})
	}

	payments := make([]domain.Payment, 0, len(req.Payments))
	for _, p := range req.Payments {
		payments = append(payments, domain.Payment{
			Method:      p.Method,
			AmountCents: p.AmountCents,
			Reference:   p.Reference,
		})
	}

	created, err := s.repo.CreateTransaction(ctx, domain.Transaction{
		TenantID:      tenantID,
		Type:          req.Type,
		DiscountCents: req.DiscountCents,
		CustomerRef:   strings.TrimSpace(req.CustomerRef),
		CashierID:     cashierID,
		TerminalID:    strings.TrimSpace(req.TerminalID),
		Notes:         strings.TrimSpace(req.Notes),
		Offline:       req.Offline,
		Metadata:      req.Metadata,
		Items:         items,
		Payments:      payments,
	})
	if err != nil {
		return domain.Transaction{}, err
	}

	s.logAudit(ctx, "transaction_create", "transaction", created.Number,
		fmt.Sprintf("type=%s,status=%s,total=%d,items=%d", created.Type, created.Status, created.TotalCents, len(created.Items)))
	return *created, nil
}

func (s *Service) GetTransaction(ctx context.Context, id uuid.UUID) (domain.Transaction, error) {
	tx, err := s.repo.GetTransaction(ctx, s.defaultTenantID, id)
	if err != nil {
		return domain.Transaction{}, err
	}
	return *tx, nil
}

func (s *Service) GetTransactionByNumber(ctx context.Context, number string) (domain.Transaction, error) {
	number = strings.TrimSpace(number)
	if number == "" {
		return domain.Transaction{}, store.ErrInvalidInput
	}
	tx, err := s.repo.GetTransactionByNumber(ctx, s.defaultTenantID, number)
	if err != nil {
		return domain.Transaction{}, err
	}
	return *tx, nil
}

func (s *Service) ListTransactions(ctx context.Context, from time.Time, to time.Time, limit int) ([]domain.Transaction, error) {
	if to.IsZero() {
		to = time.Now().UTC().Add(time.Minute)
	}
	if from.IsZero() {
		from, _ = domain.DayBounds(to)
	}
	if !from.Before(to) {
		return nil, fmt.Errorf("%w: from must precede to", store.ErrInvalidInput)
	}
	return s.repo.ListTransactions(ctx, s.defaultTenantID, from, to, limit)
}

func (s *Service) AddPayment(ctx context.Context, req domain.PaymentRequest) (domain.Transaction, error) {
	if err := validate.Struct(req); err != nil {
		return domain.Transaction{}, fmt.Errorf("%w: %v", store.ErrInvalidInput, err)
	}

	updated, err := s.repo.AddPayment(ctx, s.defaultTenantID, req.TransactionID, domain.Payment{
		Method:      req.Method,
		AmountCents: req.AmountCents,
		Reference:   req.Reference,
	})
	if err != nil {
		return domain.Transaction{}, err
	}

	s.logAudit(ctx, "payment_add", "transaction", updated.Number,
		fmt.Sprintf("method=%s,amount=%d,paid=%d,status=%s", req.Method, req.AmountCents, updated.PaidCents, updated.Status))
	return *updated, nil
}

func (s *Service) VoidTransaction(ctx context.Context, req domain.VoidRequest) (domain.Transaction, error) {
	if err := validate.Struct(req); err != nil {
		return domain.Transaction{}, fmt.Errorf("%w: %v", store.ErrInvalidInput, err)
	}

	actor, _ := ActorFromContext(ctx)
	actorID := actor.Username
	if actorID == "" {
		actorID = "system"
	}
	reason := strings.TrimSpace(req.Reason)
	if reason == "" {
		reason = "voided by " + actorID
	}

	voided, err := s.repo.VoidTransaction(ctx, s.defaultTenantID, req.TransactionID, reason, actorID, time.Now().UTC())
	if err != nil {
		return domain.Transaction{}, err
	}

	s.logAudit(ctx, "transaction_void", "transaction", voided.Number, "reason="+reason)
	return *voided, nil
}

func (s *Service) MutateStock(ctx context.Context, req domain.StockMutationRequest) (domain.Product, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok || actor.Role != "admin" {
		return domain.Product{}, fmt.Errorf("admin role required")
	}
	if err := validate.Struct(req); err != nil {
		return domain.Product{}, fmt.Errorf("%w: %v", store.ErrInvalidInput, err)
	}

	reason := strings.TrimSpace(req.Reason)
	if reason == "" {
		reason = domain.ReasonAdjustment
		if req.Direction == domain.MovementIn {
			reason = domain.ReasonRestock
		}
	}

	updated, err := s.repo.MutateStock(ctx, domain.StockMutation{
		TenantID:  s.defaultTenantID,
		ProductID: req.ProductID,
		Direction: req.Direction,
		Qty:       req.Qty,
		Reason:    reason,
		Reference: strings.TrimSpace(req.Reference),
		ActorID:   actor.Username,
	})
	if err != nil {
		return domain.Product{}, err
	}

	s.logAudit(ctx, "stock_mutate", "product", updated.SKU,
		fmt.Sprintf("direction=%s,qty=%d,stock=%d,reason=%s", req.Direction, req.Qty, updated.Stock, reason))
	return *updated, nil
}

func (s *Service) ListMovements(ctx context.Context, productID uuid.UUID, limit int) ([]domain.InventoryMovement, error) {
	return s.repo.ListMovements(ctx, s.defaultTenantID, productID, limit)
}

// DailySales serves closed days from the report cache when available. The
// current day is always recomputed because it is still accumulating sales.
func (s *Service) DailySales(ctx context.Context, day time.Time, topN int) (domain.DailySalesReport, error) {
	if day.IsZero() {
		day = time.Now().UTC()
	}
	dayStart, dayEnd := domain.DayBounds(day)

	cacheKey := ""
	if !time.Now().UTC().Before(dayEnd) {
		cacheKey = fmt.Sprintf("daily-report:%s:%s", s.defaultTenantID, dayStart.Format("2006-01-02"))
		if cached, ok, err := s.reports.Get(ctx, cacheKey); err == nil && ok {
			return *cached, nil
		}
	}

	report, err := s.repo.DailySales(ctx, s.defaultTenantID, dayStart, topN)
	if err != nil {
		return domain.DailySalesReport{}, err
	}

	if cacheKey != "" {
		if err := s.reports.Set(ctx, cacheKey, &report, s.reportTTL); err != nil {
			log.Printf("[service] WARN: failed to cache daily report %s: %v", cacheKey, err)
		}
	}

	return report, nil
}

func (s *Service) ListAuditLogs(ctx context.Context, from time.Time, to time.Time, limit int) ([]domain.AuditLog, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok || actor.Role != "admin" {
		return nil, fmt.Errorf("admin role required")
	}
	if to.IsZero() {
		to = time.Now().UTC().Add(time.Minute)
	}
	if from.IsZero() {
		from = to.AddDate(0, 0, -7)
	}
	return s.repo.ListAuditLogs(ctx, s.defaultTenantID, from, to, limit)
}

func (s *Service) logAudit(ctx context.Context, action string, entityType string, entityID string, detail string) {
	actor, ok := ActorFromContext(ctx)
	if !ok {
		actor = domain.Actor{Username: "system", Role: "system"}
	}

	if err := s.repo.CreateAuditLog(ctx, domain.AuditLog{
		ID:            uuid.New(),
		TenantID:      s.defaultTenantID,
		ActorUsername: actor.Username,
		ActorRole:     actor.Role,
		Action:        action,
		EntityType:    entityType,
		EntityID:      entityID,
		Detail:        detail,
		CreatedAt:     time.Now().UTC(),
	}); err != nil {
		log.Printf("[audit] WARN: failed to write audit log action=%s entity=%s/%s: %v", action, entityType, entityID, err)
	}
}
