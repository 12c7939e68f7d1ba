package memory

import (
	"context"
	"fmt"
	"log"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"tokopos/backend/internal/domain"
	"tokopos/backend/internal/store"
)

// Store is an in-memory Repository with the same atomicity semantics as the
// postgres store: every multi-step mutation validates fully before touching
// state, so a failed call leaves nothing behind. One mutex stands in for
// the database's per-row locking.
type Store struct {
	mu              sync.RWMutex
	products        map[string]map[uuid.UUID]*domain.Product
	transactions    map[string]map[uuid.UUID]*domain.Transaction
	numberIndex     map[string]map[string]uuid.UUID
	counters        map[string]map[string]int64
	movements       map[string][]domain.InventoryMovement
	auditLogs       []domain.AuditLog
	usersByUsername map[string]domain.UserAccount
}

// seedUsers builds the initial in-memory user accounts for dev/demo mode.
// Credentials are read from SEED_ADMIN_PASSWORD and SEED_CASHIER_PASSWORD
// environment variables, with hardcoded dev defaults and a warning when
// unset. The backend uses PostgreSQL accounts when DATABASE_URL is set.
func seedUsers() map[string]domain.UserAccount {
	adminPwd := envOr("SEED_ADMIN_PASSWORD", "admin123")
	cashierPwd := envOr("SEED_CASHIER_PASSWORD", "cashier123")
	if os.Getenv("SEED_ADMIN_PASSWORD") == "" || os.Getenv("SEED_CASHIER_PASSWORD") == "" {
		log.Println("[memory-store] WARNING: using default dev credentials. Set SEED_ADMIN_PASSWORD and SEED_CASHIER_PASSWORD to override.")
	}

	now := time.Now().UTC()
	users := map[string]domain.UserAccount{}
	for _, u := range []struct {
		username string
		password string
		role     string
	}{
		{"admin", adminPwd, "admin"},
		{"cashier", cashierPwd, "cashier"},
	} {
		hash, err := bcrypt.GenerateFromPassword([]byte(u.password), bcrypt.DefaultCost)
		if err != nil {
			log.Fatalf("[memory-store] failed to hash seed password for %s: %v", u.username, err)
		}
		users[u.username] = domain.UserAccount{
			Username:  u.username,
			Password:  string(hash),
			Role:      u.role,
			Active:    true,
			CreatedAt: now,
		}
	}
	return users
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

const seedTenant = "main-tenant"

func NewSeeded() *Store {
	now := time.Now().UTC()
	products := []domain.Product{
		{SKU: "SKU-KOPI-01", Name: "Kopi Susu Botol", PriceCents: 1599, Stock: 50, MinStock: 5, Active: true},
		{SKU: "SKU-MIE-01", Name: "Mie Goreng Instan", PriceCents: 3500, Stock: 120, MinStock: 20, Active: true},
		{SKU: "SKU-ROTI-01", Name: "Roti Tawar", PriceCents: 17800, Stock: 3, MinStock: 2, Active: true},
		{SKU: "SKU-TEH-01", Name: "Teh Celup", PriceCents: 9800, Stock: 2, MinStock: 4, Active: true},
		{SKU: "SKU-GULA-01", Name: "Gula 1kg", PriceCents: 17400, Stock: 40, MinStock: 10, Active: true},
		{SKU: "SKU-LAMA-01", Name: "Produk Nonaktif", PriceCents: 5000, Stock: 10, MinStock: 1, Active: false},
	}

	byID := make(map[uuid.UUID]*domain.Product, len(products))
	for i := range products {
		p := products[i]
		p.ID = uuid.New()
		p.TenantID = seedTenant
		p.Barcode = "899" + strings.TrimPrefix(p.SKU, "SKU-")
		p.CreatedAt = now
		p.UpdatedAt = now
		byID[p.ID] = &p
	}

	return &Store{
		products:        map[string]map[uuid.UUID]*domain.Product{seedTenant: byID},
		transactions:    map[string]map[uuid.UUID]*domain.Transaction{seedTenant: {}},
		numberIndex:     map[string]map[string]uuid.UUID{seedTenant: {}},
		counters:        map[string]map[string]int64{seedTenant: {}},
		movements:       map[string][]domain.InventoryMovement{seedTenant: {}},
		auditLogs:       make([]domain.AuditLog, 0, 128),
		usersByUsername: seedUsers(),
	}
}

func (s *Store) CreateProduct(_ context.Context, product domain.Product) (*domain.Product, error) {
	if product.TenantID == "" || product.SKU == "" || product.Name == "" || product.PriceCents < 0 || product.Stock < 0 || product.MinStock < 0 {
		return nil, store.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tenant := s.tenantProducts(product.TenantID)
	for _, existing := range tenant {
		if existing.SKU == product.SKU {
			return nil, fmt.Errorf("%w: sku %s already exists", store.ErrInvalidInput, product.SKU)
		}
		if product.Barcode != "" && existing.Barcode == product.Barcode {
			return nil, fmt.Errorf("%w: barcode %s already exists", store.ErrInvalidInput, product.Barcode)
		}
	}

	if product.ID == uuid.Nil {
		product.ID = uuid.New()
	}
	now := time.Now().UTC()
	if product.CreatedAt.IsZero() {
		product.CreatedAt = now
	}
	product.UpdatedAt = now

	stored := product
	tenant[stored.ID] = &stored

	created := stored
	return &created, nil
}

func (s *Store) GetProduct(_ context.Context, tenantID string, id uuid.UUID) (*domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.products[tenantID][id]
	if !ok {
		return nil, fmt.Errorf("%w: product %s", store.ErrProductNotFound, id)
	}
	copied := *p
	return &copied, nil
}

func (s *Store) GetProductBySKU(_ context.Context, tenantID string, sku string) (*domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, p := range s.products[tenantID] {
		if p.SKU == sku {
			copied := *p
			return &copied, nil
		}
	}
	return nil, fmt.Errorf("%w: sku %s", store.ErrProductNotFound, sku)
}

func (s *Store) ListProducts(_ context.Context, tenantID string) ([]domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.Product, 0, len(s.products[tenantID]))
	for _, p := range s.products[tenantID] {
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SKU < out[j].SKU })
	return out, nil
}

func (s *Store) LowStockProducts(_ context.Context, tenantID string) ([]domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.Product, 0, 8)
	for _, p := range s.products[tenantID] {
		if p.Active && p.Stock <= p.MinStock {
			out = append(out, *p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SKU < out[j].SKU })
	return out, nil
}

func (s *Store) MutateStock(_ context.Context, m domain.StockMutation) (*domain.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.products[m.TenantID][m.ProductID]
	if !ok {
		return nil, fmt.Errorf("%w: product %s", store.ErrProductNotFound, m.ProductID)
	}

	var newStock, delta int64
	switch m.Direction {
	case domain.MovementIn:
		if m.Qty < 1 {
			return nil, fmt.Errorf("%w: quantity must be positive", store.ErrInvalidInput)
		}
		newStock = p.Stock + m.Qty
		delta = m.Qty
	case domain.MovementOut:
		if m.Qty < 1 {
			return nil, fmt.Errorf("%w: quantity must be positive", store.ErrInvalidInput)
		}
		if p.Stock-m.Qty < 0 {
			return nil, fmt.Errorf("%w: product %s has %d, requested %d", store.ErrInsufficientStock, p.SKU, p.Stock, m.Qty)
		}
		newStock = p.Stock - m.Qty
		delta = m.Qty
	case domain.MovementAdjustment:
		if m.Qty < 0 {
			return nil, fmt.Errorf("%w: adjustment target must be >= 0", store.ErrInvalidInput)
		}
		newStock = m.Qty
		delta = newStock - p.Stock
	default:
		return nil, fmt.Errorf("%w: unknown direction %s", store.ErrInvalidInput, m.Direction)
	}

	p.Stock = newStock
	p.UpdatedAt = time.Now().UTC()
	s.appendMovement(m, delta)

	copied := *p
	return &copied, nil
}

// appendMovement records one audit row for a stock change. Callers hold the
// write lock.
func (s *Store) appendMovement(m domain.StockMutation, delta int64) {
	s.movements[m.TenantID] = append(s.movements[m.TenantID], domain.InventoryMovement{
		ID:        uuid.New(),
		TenantID:  m.TenantID,
		ProductID: m.ProductID,
		Direction: m.Direction,
		Qty:       delta,
		Reason:    m.Reason,
		Reference: m.Reference,
		ActorID:   m.ActorID,
		CreatedAt: time.Now().UTC(),
	})
}

func (s *Store) ListMovements(_ context.Context, tenantID string, productID uuid.UUID, limit int) ([]domain.InventoryMovement, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit < 1 {
		limit = 100
	}
	all := s.movements[tenantID]
	out := make([]domain.InventoryMovement, 0, limit)
	for i := len(all) - 1; i >= 0 && len(out) < limit; i-- {
		if productID != uuid.Nil && all[i].ProductID != productID {
			continue
		}
		out = append(out, all[i])
	}
	return out, nil
}

func (s *Store) CreateTransaction(_ context.Context, tx domain.Transaction) (*domain.Transaction, error) {
	if len(tx.Items) == 0 {
		return nil, fmt.Errorf("%w: empty item list", store.ErrInvalidInput)
	}
	if tx.Type != domain.TypeSale && tx.Type != domain.TypeReturn {
		return nil, fmt.Errorf("%w: unsupported transaction type %s", store.ErrInvalidInput, tx.Type)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	products := s.tenantProducts(tx.TenantID)
	now := time.Now().UTC()

	// Validation pass: nothing is mutated until every item checks out, so
	// a failed cart leaves stock, counters, and the movement log untouched.
	type lineState struct {
		product *domain.Product
		item    domain.TransactionItem
	}
	lines := make([]lineState, 0, len(tx.Items))
	// A cart may repeat a product across lines, so stock is checked against
	// the combined requested quantity, not each line in isolation.
	requested := make(map[uuid.UUID]int64, len(tx.Items))
	for _, item := range tx.Items {
		if item.Qty < 1 || item.UnitPriceCents < 0 || item.DiscountCents < 0 || item.TaxCents < 0 {
			return nil, fmt.Errorf("%w: item for product %s", store.ErrInvalidInput, item.ProductID)
		}
		p, ok := products[item.ProductID]
		if !ok {
			return nil, fmt.Errorf("%w: product %s", store.ErrProductNotFound, item.ProductID)
		}
		if !p.Active {
			return nil, fmt.Errorf("%w: product %s", store.ErrProductInactive, p.SKU)
		}
		requested[p.ID] += item.Qty
		if tx.Type == domain.TypeSale && p.Stock < requested[p.ID] {
			return nil, fmt.Errorf("%w: product %s has %d, requested %d", store.ErrInsufficientStock, p.SKU, p.Stock, requested[p.ID])
		}
		if item.UnitPriceCents == 0 {
			item.UnitPriceCents = p.PriceCents
		}
		item.SKU = p.SKU
		item.Name = p.Name
		item.LineTotalCents = domain.LineTotal(item.Qty, item.UnitPriceCents, item.DiscountCents)
		lines = append(lines, lineState{product: p, item: item})
	}

	items := make([]domain.TransactionItem, 0, len(lines))
	for _, l := range lines {
		items = append(items, l.item)
	}
	totals := domain.ComputeTotals(items, tx.DiscountCents)
	if totals.TotalCents < 0 {
		return nil, fmt.Errorf("%w: discount exceeds transaction total", store.ErrInvalidInput)
	}

	if tx.ID == uuid.Nil {
		tx.ID = uuid.New()
	}
	if tx.CreatedAt.IsZero() {
		tx.CreatedAt = now
	}

	day := now.Format("20060102")
	seq := s.counters[tx.TenantID][day] + 1
	tx.Number = domain.TransactionNumber(now, seq)

	tx.SubtotalCents = totals.SubtotalCents
	tx.TaxCents = totals.TaxCents
	tx.TotalCents = totals.TotalCents
	tx.Status = domain.StatusPending

	for i := range items {
		items[i].ID = uuid.New()
		items[i].TransactionID = tx.ID
	}
	tx.Items = items

	payments := make([]domain.Payment, 0, len(tx.Payments))
	paid := int64(0)
	for _, pay := range tx.Payments {
		if pay.AmountCents < 0 {
			return nil, fmt.Errorf("%w: negative payment amount", store.ErrInvalidInput)
		}
		pay.ID = uuid.New()
		pay.TransactionID = tx.ID
		pay.Status = domain.PaymentApproved
		pay.ProcessedAt = now
		payments = append(payments, pay)
		paid += pay.AmountCents
	}
	tx.Payments = payments
	tx.PaidCents = paid
	tx.ChangeCents = changeDue(paid, tx.TotalCents)
	if paid >= tx.TotalCents {
		tx.Status = domain.StatusCompleted
	}

	// All checks passed; apply the stock effects and commit.
	for _, l := range lines {
		mutation := domain.StockMutation{
			TenantID:  tx.TenantID,
			ProductID: l.product.ID,
			Reason:    domain.ReasonSale,
			Reference: tx.Number,
			ActorID:   tx.CashierID,
		}
		if tx.Type == domain.TypeReturn {
			mutation.Direction = domain.MovementIn
			mutation.Reason = domain.ReasonReturn
			l.product.Stock += l.item.Qty
		} else {
			mutation.Direction = domain.MovementOut
			l.product.Stock -= l.item.Qty
		}
		l.product.UpdatedAt = now
		mutation.Qty = l.item.Qty
		s.appendMovement(mutation, l.item.Qty)
	}

	stored := cloneTransaction(&tx)
	s.tenantTransactions(tx.TenantID)[tx.ID] = stored
	s.numberIndex[tx.TenantID][tx.Number] = tx.ID
	s.counters[tx.TenantID][day] = seq

	return cloneTransaction(stored), nil
}

func (s *Store) GetTransaction(_ context.Context, tenantID string, id uuid.UUID) (*domain.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	tx, ok := s.transactions[tenantID][id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return cloneTransaction(tx), nil
}

func (s *Store) GetTransactionByNumber(_ context.Context, tenantID string, number string) (*domain.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.numberIndex[tenantID][number]
	if !ok {
		return nil, store.ErrNotFound
	}
	return cloneTransaction(s.transactions[tenantID][id]), nil
}

func (s *Store) ListTransactions(_ context.Context, tenantID string, from time.Time, to time.Time, limit int) ([]domain.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit < 1 {
		limit = 100
	}
	out := make([]domain.Transaction, 0, limit)
	for _, tx := range s.transactions[tenantID] {
		if tx.CreatedAt.Before(from) || !tx.CreatedAt.Before(to) {
			continue
		}
		out = append(out, *cloneTransaction(tx))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Number > out[j].Number })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) AddPayment(_ context.Context, tenantID string, transactionID uuid.UUID, payment domain.Payment) (*domain.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, ok := s.transactions[tenantID][transactionID]
	if !ok {
		return nil, store.ErrNotFound
	}
	if tx.Status == domain.StatusCancelled {
		return nil, fmt.Errorf("%w: %s", store.ErrAlreadyCancelled, tx.Number)
	}
	if tx.Status == domain.StatusCompleted {
		return nil, fmt.Errorf("%w: %s", store.ErrTransactionCompleted, tx.Number)
	}
	if payment.AmountCents < 0 {
		return nil, fmt.Errorf("%w: negative payment amount", store.ErrInvalidInput)
	}

	payment.ID = uuid.New()
	payment.TransactionID = tx.ID
	payment.Status = domain.PaymentApproved
	payment.ProcessedAt = time.Now().UTC()
	tx.Payments = append(tx.Payments, payment)

	// Recompute from the full payment set rather than incrementing, the
	// same read-inside-the-atomic-unit the postgres store performs.
	paid := int64(0)
	for _, p := range tx.Payments {
		if p.Status == domain.PaymentApproved {
			paid += p.AmountCents
		}
	}
	tx.PaidCents = paid
	tx.ChangeCents = changeDue(paid, tx.TotalCents)
	if paid >= tx.TotalCents {
		tx.Status = domain.StatusCompleted
	}

	return cloneTransaction(tx), nil
}

func (s *Store) VoidTransaction(_ context.Context, tenantID string, transactionID uuid.UUID, reason string, actorID string, at time.Time) (*domain.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, ok := s.transactions[tenantID][transactionID]
	if !ok {
		return nil, store.ErrNotFound
	}
	if tx.Status == domain.StatusCancelled {
		return nil, fmt.Errorf("%w: %s", store.ErrAlreadyCancelled, tx.Number)
	}

	// Only a completed sale removed stock that must come back; pending and
	// return-type transactions are cancelled in place.
	if tx.Status == domain.StatusCompleted && tx.Type == domain.TypeSale {
		products := s.tenantProducts(tenantID)
		for _, item := range tx.Items {
			p, ok := products[item.ProductID]
			if !ok {
				continue
			}
			p.Stock += item.Qty
			p.UpdatedAt = at
			s.appendMovement(domain.StockMutation{
				TenantID:  tenantID,
				ProductID: item.ProductID,
				Direction: domain.MovementIn,
				Qty:       item.Qty,
				Reason:    domain.ReasonVoid,
				Reference: tx.Number,
				ActorID:   actorID,
			}, item.Qty)
		}
	}

	tx.Status = domain.StatusCancelled
	tx.Notes = appendNote(tx.Notes, "void: "+reason)

	return cloneTransaction(tx), nil
}

func (s *Store) DailySales(_ context.Context, tenantID string, day time.Time, topN int) (domain.DailySalesReport, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	from, to := domain.DayBounds(day)
	report := domain.DailySalesReport{
		TenantID:    tenantID,
		Date:        from.Format("2006-01-02"),
		TopProducts: make([]domain.ProductSales, 0, topN),
	}
	if topN < 1 {
		topN = 5
	}

	perProduct := map[uuid.UUID]*domain.ProductSales{}
	for _, tx := range s.transactions[tenantID] {
		if tx.Type != domain.TypeSale || tx.Status != domain.StatusCompleted {
			continue
		}
		if tx.CreatedAt.Before(from) || !tx.CreatedAt.Before(to) {
			continue
		}
		report.TransactionCount++
		report.RevenueCents += tx.TotalCents
		for _, item := range tx.Items {
			agg, ok := perProduct[item.ProductID]
			if !ok {
				agg = &domain.ProductSales{ProductID: item.ProductID, SKU: item.SKU, Name: item.Name}
				perProduct[item.ProductID] = agg
			}
			agg.QtySold += item.Qty
			agg.RevenueCents += item.LineTotalCents
		}
	}

	if report.TransactionCount > 0 {
		report.AverageCents = report.RevenueCents / report.TransactionCount
	}

	ranked := make([]domain.ProductSales, 0, len(perProduct))
	for _, agg := range perProduct {
		ranked = append(ranked, *agg)
	}
	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].RevenueCents != ranked[j].RevenueCents {
			return ranked[i].RevenueCents > ranked[j].RevenueCents
		}
		if ranked[i].QtySold != ranked[j].QtySold {
			return ranked[i].QtySold > ranked[j].QtySold
		}
		return ranked[i].ProductID.String() < ranked[j].ProductID.String()
	})
	if len(ranked) > topN {
		ranked = ranked[:topN]
	}
	report.TopProducts = ranked

	return report, nil
}

func (s *Store) CreateAuditLog(_ context.Context, entry domain.AuditLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	s.auditLogs = append(s.auditLogs, entry)
	return nil
}

func (s *Store) ListAuditLogs(_ context.Context, tenantID string, from time.Time, to time.Time, limit int) ([]domain.AuditLog, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit < 1 {
		limit = 100
	}
	out := make([]domain.AuditLog, 0, limit)
	for i := len(s.auditLogs) - 1; i >= 0 && len(out) < limit; i-- {
		entry := s.auditLogs[i]
		if entry.TenantID != tenantID {
			continue
		}
		if entry.CreatedAt.Before(from) || !entry.CreatedAt.Before(to) {
			continue
		}
		out = append(out, entry)
	}
	return out, nil
}

func (s *Store) CreateUser(_ context.Context, user domain.UserAccount) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if user.Username == "" || user.Password == "" {
		return store.ErrInvalidInput
	}
	if _, exists := s.usersByUsername[user.Username]; exists {
		return fmt.Errorf("%w: username taken", store.ErrInvalidInput)
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}
	s.usersByUsername[user.Username] = user
	return nil
}

func (s *Store) ListUsers(_ context.Context) ([]domain.UserAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.UserAccount, 0, len(s.usersByUsername))
	for _, u := range s.usersByUsername {
		out = append(out, u)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Username < out[j].Username })
	return out, nil
}

func (s *Store) UpdateUserPassword(_ context.Context, username string, password string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.usersByUsername[username]
	if !ok {
		return store.ErrNotFound
	}
	u.Password = password
	s.usersByUsername[username] = u
	return nil
}

func (s *Store) tenantProducts(tenantID string) map[uuid.UUID]*domain.Product {
	if _, ok := s.products[tenantID]; !ok {
		s.products[tenantID] = map[uuid.UUID]*domain.Product{}
	}
	return s.products[tenantID]
}

func (s *Store) tenantTransactions(tenantID string) map[uuid.UUID]*domain.Transaction {
	if _, ok := s.transactions[tenantID]; !ok {
		s.transactions[tenantID] = map[uuid.UUID]*domain.Transaction{}
	}
	if _, ok := s.numberIndex[tenantID]; !ok {
		s.numberIndex[tenantID] = map[string]uuid.UUID{}
	}
	if _, ok := s.counters[tenantID]; !ok {
		s.counters[tenantID] = map[string]int64{}
	}
	return s.transactions[tenantID]
}

func cloneTransaction(tx *domain.Transaction) *domain.Transaction {
	copied := *tx
	copied.Items = append([]domain.TransactionItem(nil), tx.Items...)
	copied.Payments = append([]domain.Payment(nil), tx.Payments...)
	if tx.Metadata != nil {
		copied.Metadata = make(map[string]string, len(tx.Metadata))
		for k, v := range tx.Metadata {
			copied.Metadata[k] = v
		}
	}
	return &copied
}

func changeDue(paid, total int64) int64 {
	if paid > total {
		return paid - total
	}
	return 0
}

func appendNote(notes, extra string) string {
	if strings.TrimSpace(notes) == "" {
		return extra
	}
	return notes + "; " + extra
}
