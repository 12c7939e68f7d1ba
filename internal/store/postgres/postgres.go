package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"tokopos/backend/internal/domain"
	"tokopos/backend/internal/store"
)

type Store struct {
	db *sql.DB
}

func New(ctx context.Context, databaseURL string) (*Store, error) {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, err
	}

	db.SetMaxIdleConns(8)
	db.SetMaxOpenConns(30)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 6*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) CreateProduct(ctx context.Context, product domain.Product) (*domain.Product, error) {
	if product.TenantID == "" || product.SKU == "" || product.Name == "" {
		return nil, store.ErrInvalidInput
	}
	if product.PriceCents < 0 || product.Stock < 0 || product.MinStock < 0 {
		return nil, store.ErrInvalidInput
	}

	if product.ID == uuid.Nil {
		product.ID = uuid.New()
	}
	now := time.Now().UTC()
	if product.CreatedAt.IsZero() {
		product.CreatedAt = now
	}
	product.UpdatedAt = now

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO products (id, tenant_id, sku, barcode, name, price_cents, stock, min_stock, active, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
	`, product.ID, product.TenantID, product.SKU, nullIfEmpty(product.Barcode), product.Name,
		product.PriceCents, product.Stock, product.MinStock, product.Active, product.CreatedAt, product.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("%w: sku or barcode already exists", store.ErrInvalidInput)
		}
		return nil, err
	}

	created := product
	return &created, nil
}

const productColumns = `id, tenant_id, sku, COALESCE(barcode, ''), name, price_cents, stock, min_stock, active, created_at, updated_at`

type rowScanner interface{ Scan(...any) error }

func scanProduct(row rowScanner) (*domain.Product, error) {
	var p domain.Product
	err := row.Scan(&p.ID, &p.TenantID, &p.SKU, &p.Barcode, &p.Name, &p.PriceCents, &p.Stock, &p.MinStock, &p.Active, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, err
	}
	p.CreatedAt = p.CreatedAt.UTC()
	p.UpdatedAt = p.UpdatedAt.UTC()
	return &p, nil
}

func (s *Store) GetProduct(ctx context.Context, tenantID string, id uuid.UUID) (*domain.Product, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+productColumns+`
		FROM products
		WHERE tenant_id = $1 AND id = $2
	`, tenantID, id)
	p, err := scanProduct(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: product %s", store.ErrProductNotFound, id)
		}
		return nil, err
	}
	return p, nil
}

func (s *Store) GetProductBySKU(ctx context.Context, tenantID string, sku string) (*domain.Product, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+productColumns+`
		FROM products
		WHERE tenant_id = $1 AND sku = $2
	`, tenantID, sku)
	p, err := scanProduct(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: sku %s", store.ErrProductNotFound, sku)
		}
		return nil, err
	}
	return p, nil
}

func (s *Store) ListProducts(ctx context.Context, tenantID string) ([]domain.Product, error) {
	return s.queryProducts(ctx, `
		SELECT `+productColumns+`
		FROM products
		WHERE tenant_id = $1
		ORDER BY sku
	`, tenantID)
}

func (s *Store) LowStockProducts(ctx context.Context, tenantID string) ([]domain.Product, error) {
	return s.queryProducts(ctx, `
		SELECT `+productColumns+`
		FROM products
		WHERE tenant_id = $1 AND active = true AND stock <= min_stock
		ORDER BY sku
	`, tenantID)
}

func (s *Store) queryProducts(ctx context.Context, query string, args ...any) ([]domain.Product, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	products := make([]domain.Product, 0, 64)
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, err
		}
		products = append(products, *p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return products, nil
}

func (s *Store) MutateStock(ctx context.Context, m domain.StockMutation) (*domain.Product, error) {
	pgTx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, abortErr(err)
	}
	defer func() { _ = pgTx.Rollback() }()

	row := pgTx.QueryRowContext(ctx, `
		SELECT `+productColumns+`
		FROM products
		WHERE tenant_id = $1 AND id = $2
		FOR UPDATE
	`, m.TenantID, m.ProductID)
	p, err := scanProduct(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: product %s", store.ErrProductNotFound, m.ProductID)
		}
		return nil, abortErr(err)
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

	now := time.Now().UTC()
	_, err = pgTx.ExecContext(ctx, `
		UPDATE products
		SET stock = $3, updated_at = $4
		WHERE tenant_id = $1 AND id = $2
	`, m.TenantID, m.ProductID, newStock, now)
	if err != nil {
		return nil, abortErr(err)
	}

	if err := insertMovement(ctx, pgTx, m, delta, now); err != nil {
		return nil, abortErr(err)
	}

	if err := pgTx.Commit(); err != nil {
		return nil, abortErr(err)
	}

	p.Stock = newStock
	p.UpdatedAt = now
	return p, nil
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func insertMovement(ctx context.Context, db execer, m domain.StockMutation, delta int64, at time.Time) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO inventory_movements (id, tenant_id, product_id, direction, qty, reason, reference, actor_id, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
	`, uuid.New(), m.TenantID, m.ProductID, m.Direction, delta, m.Reason, nullIfEmpty(m.Reference), m.ActorID, at)
	return err
}

func (s *Store) ListMovements(ctx context.Context, tenantID string, productID uuid.UUID, limit int) ([]domain.InventoryMovement, error) {
	if limit < 1 {
		limit = 100
	}

	query := `
		SELECT id, tenant_id, product_id, direction, qty, reason, COALESCE(reference, ''), actor_id, created_at
		FROM inventory_movements
		WHERE tenant_id = $1
	`
	args := []any{tenantID}
	if productID != uuid.Nil {
		query += ` AND product_id = $2 ORDER BY created_at DESC LIMIT $3`
		args = append(args, productID, limit)
	} else {
		query += ` ORDER BY created_at DESC LIMIT $2`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	movements := make([]domain.InventoryMovement, 0, limit)
	for rows.Next() {
		var mv domain.InventoryMovement
		if err := rows.Scan(&mv.ID, &mv.TenantID, &mv.ProductID, &mv.Direction, &mv.Qty, &mv.Reason, &mv.Reference, &mv.ActorID, &mv.CreatedAt); err != nil {
			return nil, err
		}
		mv.CreatedAt = mv.CreatedAt.UTC()
		movements = append(movements, mv)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return movements, nil
}

func (s *Store) CreateTransaction(ctx context.Context, tx domain.Transaction) (*domain.Transaction, error) {
	if len(tx.Items) == 0 {
		return nil, fmt.Errorf("%w: empty item list", store.ErrInvalidInput)
	}
	if tx.Type != domain.TypeSale && tx.Type != domain.TypeReturn {
		return nil, fmt.Errorf("%w: unsupported transaction type %s", store.ErrInvalidInput, tx.Type)
	}

	pgTx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, abortErr(err)
	}
	defer func() { _ = pgTx.Rollback() }()

	productIDs := uniqueProductIDs(tx.Items)
	productRows, err := pgTx.QueryContext(ctx, `
		SELECT `+productColumns+`
		FROM products
		WHERE tenant_id = $1 AND id = ANY($2::uuid[])
		ORDER BY id
		FOR UPDATE
	`, tx.TenantID, productIDs)
	if err != nil {
		return nil, abortErr(err)
	}
	productMap := make(map[uuid.UUID]*domain.Product, len(productIDs))
	for productRows.Next() {
		p, err := scanProduct(productRows)
		if err != nil {
			_ = productRows.Close()
			return nil, abortErr(err)
		}
		productMap[p.ID] = p
	}
	if err := productRows.Err(); err != nil {
		_ = productRows.Close()
		return nil, abortErr(err)
	}
	_ = productRows.Close()

	now := time.Now().UTC()
	items := make([]domain.TransactionItem, 0, len(tx.Items))
	// A cart may repeat a product across lines, so stock is checked against
	// the combined requested quantity, not each line in isolation.
	requested := make(map[uuid.UUID]int64, len(tx.Items))
	for _, item := range tx.Items {
		if item.Qty < 1 || item.UnitPriceCents < 0 || item.DiscountCents < 0 || item.TaxCents < 0 {
			return nil, fmt.Errorf("%w: item for product %s", store.ErrInvalidInput, item.ProductID)
		}
		p, ok := productMap[item.ProductID]
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
		item.ID = uuid.New()
		item.SKU = p.SKU
		item.Name = p.Name
		item.LineTotalCents = domain.LineTotal(item.Qty, item.UnitPriceCents, item.DiscountCents)
		items = append(items, item)
	}

	totals := domain.ComputeTotals(items, tx.DiscountCents)
	if totals.TotalCents < 0 {
		return nil, fmt.Errorf("%w: discount exceeds transaction total", store.ErrInvalidInput)
	}

	// The counter upsert holds the (tenant, day) row lock until commit, so
	// the sequence it returns is gapless and the number insert cannot race.
	var seq int64
	err = pgTx.QueryRowContext(ctx, `
		INSERT INTO transaction_counters (tenant_id, day, last_seq)
		VALUES ($1, $2, 1)
		ON CONFLICT (tenant_id, day)
		DO UPDATE SET last_seq = transaction_counters.last_seq + 1
		RETURNING last_seq
	`, tx.TenantID, dateUTC(now)).Scan(&seq)
	if err != nil {
		return nil, abortErr(err)
	}

	if tx.ID == uuid.Nil {
		tx.ID = uuid.New()
	}
	if tx.CreatedAt.IsZero() {
		tx.CreatedAt = now
	}
	tx.Number = domain.TransactionNumber(now, seq)
	tx.SubtotalCents = totals.SubtotalCents
	tx.TaxCents = totals.TaxCents
	tx.TotalCents = totals.TotalCents
	tx.Status = domain.StatusPending

	for i := range items {
		items[i].TransactionID = tx.ID
	}
	tx.Items = items

	paid := int64(0)
	for i := range tx.Payments {
		if tx.Payments[i].AmountCents < 0 {
			return nil, fmt.Errorf("%w: negative payment amount", store.ErrInvalidInput)
		}
		tx.Payments[i].ID = uuid.New()
		tx.Payments[i].TransactionID = tx.ID
		tx.Payments[i].Status = domain.PaymentApproved
		tx.Payments[i].ProcessedAt = now
		paid += tx.Payments[i].AmountCents
	}
	tx.PaidCents = paid
	if paid > tx.TotalCents {
		tx.ChangeCents = paid - tx.TotalCents
	}
	if paid >= tx.TotalCents {
		tx.Status = domain.StatusCompleted
	}

	metadata, err := encodeMetadata(tx.Metadata)
	if err != nil {
		return nil, fmt.Errorf("%w: metadata", store.ErrInvalidInput)
	}

	_, err = pgTx.ExecContext(ctx, `
		INSERT INTO transactions (
			id, tenant_id, number, type, status, subtotal_cents, tax_cents, discount_cents,
			total_cents, paid_cents, change_cents, customer_ref, cashier_id, terminal_id,
			notes, offline, metadata, created_at
		)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18)
	`, tx.ID, tx.TenantID, tx.Number, tx.Type, tx.Status, tx.SubtotalCents, tx.TaxCents,
		tx.DiscountCents, tx.TotalCents, tx.PaidCents, tx.ChangeCents, nullIfEmpty(tx.CustomerRef),
		tx.CashierID, nullIfEmpty(tx.TerminalID), nullIfEmpty(tx.Notes), tx.Offline, metadata, tx.CreatedAt)
	if err != nil {
		return nil, abortErr(err)
	}

	for _, item := range tx.Items {
		_, err := pgTx.ExecContext(ctx, `
			INSERT INTO transaction_items (id, transaction_id, product_id, sku, name, qty, unit_price_cents, discount_cents, tax_cents, line_total_cents)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
		`, item.ID, item.TransactionID, item.ProductID, item.SKU, item.Name, item.Qty,
			item.UnitPriceCents, item.DiscountCents, item.TaxCents, item.LineTotalCents)
		if err != nil {
			return nil, abortErr(err)
		}
	}

	for _, payment := range tx.Payments {
		if err := insertPayment(ctx, pgTx, payment); err != nil {
			return nil, abortErr(err)
		}
	}

	for _, item := range tx.Items {
		mutation := domain.StockMutation{
			TenantID:  tx.TenantID,
			ProductID: item.ProductID,
			Reason:    domain.ReasonSale,
			Reference: tx.Number,
			ActorID:   tx.CashierID,
			Qty:       item.Qty,
		}
		stockDelta := -item.Qty
		mutation.Direction = domain.MovementOut
		if tx.Type == domain.TypeReturn {
			mutation.Direction = domain.MovementIn
			mutation.Reason = domain.ReasonReturn
			stockDelta = item.Qty
		}
		_, err = pgTx.ExecContext(ctx, `
			UPDATE products
			SET stock = stock + $3, updated_at = $4
			WHERE tenant_id = $1 AND id = $2
		`, tx.TenantID, item.ProductID, stockDelta, now)
		if err != nil {
			return nil, abortErr(err)
		}
		if err := insertMovement(ctx, pgTx, mutation, item.Qty, now); err != nil {
			return nil, abortErr(err)
		}
	}

	if err := pgTx.Commit(); err != nil {
		return nil, abortErr(err)
	}

	return &tx, nil
}

func insertPayment(ctx context.Context, db execer, payment domain.Payment) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO payments (id, transaction_id, method, amount_cents, reference, status, processed_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
	`, payment.ID, payment.TransactionID, payment.Method, payment.AmountCents,
		nullIfEmpty(payment.Reference), payment.Status, payment.ProcessedAt)
	return err
}

const transactionColumns = `id, tenant_id, number, type, status, subtotal_cents, tax_cents, discount_cents,
	total_cents, paid_cents, change_cents, COALESCE(customer_ref, ''), cashier_id,
	COALESCE(terminal_id, ''), COALESCE(notes, ''), offline, metadata, created_at`

func scanTransaction(row rowScanner) (*domain.Transaction, error) {
	var tx domain.Transaction
	var metadata []byte
	err := row.Scan(&tx.ID, &tx.TenantID, &tx.Number, &tx.Type, &tx.Status, &tx.SubtotalCents,
		&tx.TaxCents, &tx.DiscountCents, &tx.TotalCents, &tx.PaidCents, &tx.ChangeCents,
		&tx.CustomerRef, &tx.CashierID, &tx.TerminalID, &tx.Notes, &tx.Offline, &metadata, &tx.CreatedAt)
	if err != nil {
		return nil, err
	}
	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &tx.Metadata); err != nil {
			return nil, err
		}
	}
	tx.CreatedAt = tx.CreatedAt.UTC()
	return &tx, nil
}

func (s *Store) GetTransaction(ctx context.Context, tenantID string, id uuid.UUID) (*domain.Transaction, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+transactionColumns+`
		FROM transactions
		WHERE tenant_id = $1 AND id = $2
	`, tenantID, id)
	tx, err := scanTransaction(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	if err := s.loadTransactionDetails(ctx, tx); err != nil {
		return nil, err
	}
	return tx, nil
}

func (s *Store) GetTransactionByNumber(ctx context.Context, tenantID string, number string) (*domain.Transaction, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+transactionColumns+`
		FROM transactions
		WHERE tenant_id = $1 AND number = $2
	`, tenantID, number)
	tx, err := scanTransaction(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	if err := s.loadTransactionDetails(ctx, tx); err != nil {
		return nil, err
	}
	return tx, nil
}

func (s *Store) loadTransactionDetails(ctx context.Context, tx *domain.Transaction) error {
	itemRows, err := s.db.QueryContext(ctx, `
		SELECT id, transaction_id, product_id, sku, name, qty, unit_price_cents, discount_cents, tax_cents, line_total_cents
		FROM transaction_items
		WHERE transaction_id = $1
		ORDER BY sku
	`, tx.ID)
	if err != nil {
		return err
	}
	defer itemRows.Close()

	tx.Items = make([]domain.TransactionItem, 0, 8)
	for itemRows.Next() {
		var item domain.TransactionItem
		if err := itemRows.Scan(&item.ID, &item.TransactionID, &item.ProductID, &item.SKU, &item.Name,
			&item.Qty, &item.UnitPriceCents, &item.DiscountCents, &item.TaxCents, &item.LineTotalCents); err != nil {
			return err
		}
		tx.Items = append(tx.Items, item)
	}
	if err := itemRows.Err(); err != nil {
		return err
	}

	paymentRows, err := s.db.QueryContext(ctx, `
		SELECT id, transaction_id, method, amount_cents, COALESCE(reference, ''), status, processed_at
		FROM payments
		WHERE transaction_id = $1
		ORDER BY processed_at
	`, tx.ID)
	if err != nil {
		return err
	}
	defer paymentRows.Close()

	tx.Payments = make([]domain.Payment, 0, 2)
	for paymentRows.Next() {
		var p domain.Payment
		if err := paymentRows.Scan(&p.ID, &p.TransactionID, &p.Method, &p.AmountCents, &p.Reference, &p.Status, &p.ProcessedAt); err != nil {
			return err
		}
		p.ProcessedAt = p.ProcessedAt.UTC()
		tx.Payments = append(tx.Payments, p)
	}
	return paymentRows.Err()
}

func (s *Store) ListTransactions(ctx context.Context, tenantID string, from time.Time, to time.Time, limit int) ([]domain.Transaction, error) {
	if limit < 1 {
		limit = 100
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT `+transactionColumns+`
		FROM transactions
		WHERE tenant_id = $1 AND created_at >= $2 AND created_at < $3
		ORDER BY number DESC
		LIMIT $4
	`, tenantID, from, to, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	transactions := make([]domain.Transaction, 0, limit)
	for rows.Next() {
		tx, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		transactions = append(transactions, *tx)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return transactions, nil
}

func (s *Store) AddPayment(ctx context.Context, tenantID string, transactionID uuid.UUID, payment domain.Payment) (*domain.Transaction, error) {
	if payment.AmountCents < 0 {
		return nil, fmt.Errorf("%w: negative payment amount", store.ErrInvalidInput)
	}

	pgTx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, abortErr(err)
	}
	defer func() { _ = pgTx.Rollback() }()

	row := pgTx.QueryRowContext(ctx, `
		SELECT `+transactionColumns+`
		FROM transactions
		WHERE tenant_id = $1 AND id = $2
		FOR UPDATE
	`, tenantID, transactionID)
	tx, err := scanTransaction(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, abortErr(err)
	}
	if tx.Status == domain.StatusCancelled {
		return nil, fmt.Errorf("%w: %s", store.ErrAlreadyCancelled, tx.Number)
	}
	if tx.Status == domain.StatusCompleted {
		return nil, fmt.Errorf("%w: %s", store.ErrTransactionCompleted, tx.Number)
	}

	payment.ID = uuid.New()
	payment.TransactionID = tx.ID
	payment.Status = domain.PaymentApproved
	payment.ProcessedAt = time.Now().UTC()
	if err := insertPayment(ctx, pgTx, payment); err != nil {
		return nil, abortErr(err)
	}

	// Recompute the paid total from all payment rows inside the same
	// transaction; the FOR UPDATE lock above keeps concurrent tenders from
	// both reading the stale sum.
	var paid int64
	err = pgTx.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(amount_cents), 0)
		FROM payments
		WHERE transaction_id = $1 AND status = $2
	`, tx.ID, domain.PaymentApproved).Scan(&paid)
	if err != nil {
		return nil, abortErr(err)
	}

	tx.PaidCents = paid
	tx.ChangeCents = 0
	if paid > tx.TotalCents {
		tx.ChangeCents = paid - tx.TotalCents
	}
	if paid >= tx.TotalCents {
		tx.Status = domain.StatusCompleted
	}

	_, err = pgTx.ExecContext(ctx, `
		UPDATE transactions
		SET paid_cents = $2, change_cents = $3, status = $4
		WHERE id = $1
	`, tx.ID, tx.PaidCents, tx.ChangeCents, tx.Status)
	if err != nil {
		return nil, abortErr(err)
	}

	if err := pgTx.Commit(); err != nil {
		return nil, abortErr(err)
	}

	if err := s.loadTransactionDetails(ctx, tx); err != nil {
		return nil, err
	}
	return tx, nil
}

func (s *Store) VoidTransaction(ctx context.Context, tenantID string, transactionID uuid.UUID, reason string, actorID string, at time.Time) (*domain.Transaction, error) {
	pgTx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, abortErr(err)
	}
	defer func() { _ = pgTx.Rollback() }()

	row := pgTx.QueryRowContext(ctx, `
		SELECT `+transactionColumns+`
		FROM transactions
		WHERE tenant_id = $1 AND id = $2
		FOR UPDATE
	`, tenantID, transactionID)
	tx, err := scanTransaction(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, abortErr(err)
	}
	if tx.Status == domain.StatusCancelled {
		return nil, fmt.Errorf("%w: %s", store.ErrAlreadyCancelled, tx.Number)
	}

	// Only a completed sale removed stock that has to come back. Pending
	// and return-type transactions are cancelled in place.
	if tx.Status == domain.StatusCompleted && tx.Type == domain.TypeSale {
		itemRows, err := pgTx.QueryContext(ctx, `
			SELECT product_id, qty
			FROM transaction_items
			WHERE transaction_id = $1
		`, tx.ID)
		if err != nil {
			return nil, abortErr(err)
		}
		type reversal struct {
			productID uuid.UUID
			qty       int64
		}
		reversals := make([]reversal, 0, 8)
		for itemRows.Next() {
			var r reversal
			if err := itemRows.Scan(&r.productID, &r.qty); err != nil {
				_ = itemRows.Close()
				return nil, abortErr(err)
			}
			reversals = append(reversals, r)
		}
		if err := itemRows.Err(); err != nil {
			_ = itemRows.Close()
			return nil, abortErr(err)
		}
		_ = itemRows.Close()

		for _, r := range reversals {
			_, err = pgTx.ExecContext(ctx, `
				UPDATE products
				SET stock = stock + $3, updated_at = $4
				WHERE tenant_id = $1 AND id = $2
			`, tenantID, r.productID, r.qty, at)
			if err != nil {
				return nil, abortErr(err)
			}
			err = insertMovement(ctx, pgTx, domain.StockMutation{
				TenantID:  tenantID,
				ProductID: r.productID,
				Direction: domain.MovementIn,
				Reason:    domain.ReasonVoid,
				Reference: tx.Number,
				ActorID:   actorID,
			}, r.qty, at)
			if err != nil {
				return nil, abortErr(err)
			}
		}
	}

	tx.Status = domain.StatusCancelled
	tx.Notes = appendNote(tx.Notes, "void: "+reason)

	_, err = pgTx.ExecContext(ctx, `
		UPDATE transactions
		SET status = $2, notes = $3
		WHERE id = $1
	`, tx.ID, tx.Status, tx.Notes)
	if err != nil {
		return nil, abortErr(err)
	}

	if err := pgTx.Commit(); err != nil {
		return nil, abortErr(err)
	}

	if err := s.loadTransactionDetails(ctx, tx); err != nil {
		return nil, err
	}
	return tx, nil
}

func (s *Store) DailySales(ctx context.Context, tenantID string, day time.Time, topN int) (domain.DailySalesReport, error) {
	if topN < 1 {
		topN = 5
	}
	from, to := domain.DayBounds(day)

	report := domain.DailySalesReport{
		TenantID:    tenantID,
		Date:        from.Format("2006-01-02"),
		TopProducts: make([]domain.ProductSales, 0, topN),
	}

	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*), COALESCE(SUM(total_cents), 0)
		FROM transactions
		WHERE tenant_id = $1 AND type = $2 AND status = $3
			AND created_at >= $4 AND created_at < $5
	`, tenantID, domain.TypeSale, domain.StatusCompleted, from, to).
		Scan(&report.TransactionCount, &report.RevenueCents)
	if err != nil {
		return report, err
	}
	if report.TransactionCount > 0 {
		report.AverageCents = report.RevenueCents / report.TransactionCount
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT ti.product_id, ti.sku, ti.name, SUM(ti.qty), SUM(ti.line_total_cents)
		FROM transaction_items ti
		JOIN transactions t ON t.id = ti.transaction_id
		WHERE t.tenant_id = $1 AND t.type = $2 AND t.status = $3
			AND t.created_at >= $4 AND t.created_at < $5
		GROUP BY ti.product_id, ti.sku, ti.name
		ORDER BY SUM(ti.line_total_cents) DESC, SUM(ti.qty) DESC, ti.product_id
		LIMIT $6
	`, tenantID, domain.TypeSale, domain.StatusCompleted, from, to, topN)
	if err != nil {
		return report, err
	}
	defer rows.Close()

	for rows.Next() {
		var ps domain.ProductSales
		if err := rows.Scan(&ps.ProductID, &ps.SKU, &ps.Name, &ps.QtySold, &ps.RevenueCents); err != nil {
			return report, err
		}
		report.TopProducts = append(report.TopProducts, ps)
	}
	if err := rows.Err(); err != nil {
		return report, err
	}

	return report, nil
}

func (s *Store) CreateAuditLog(ctx context.Context, entry domain.AuditLog) error {
	if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO audit_logs (id, tenant_id, actor_username, actor_role, action, entity_type, entity_id, detail, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
	`, entry.ID, entry.TenantID, entry.ActorUsername, entry.ActorRole, entry.Action,
		entry.EntityType, nullIfEmpty(entry.EntityID), nullIfEmpty(entry.Detail), entry.CreatedAt)
	return err
}

func (s *Store) ListAuditLogs(ctx context.Context, tenantID string, from time.Time, to time.Time, limit int) ([]domain.AuditLog, error) {
	if limit < 1 {
		limit = 100
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, tenant_id, actor_username, actor_role, action, entity_type, COALESCE(entity_id, ''), COALESCE(detail, ''), created_at
		FROM audit_logs
		WHERE tenant_id = $1 AND created_at >= $2 AND created_at < $3
		ORDER BY created_at DESC
		LIMIT $4
	`, tenantID, from, to, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	logs := make([]domain.AuditLog, 0, limit)
	for rows.Next() {
		var entry domain.AuditLog
		if err := rows.Scan(&entry.ID, &entry.TenantID, &entry.ActorUsername, &entry.ActorRole,
			&entry.Action, &entry.EntityType, &entry.EntityID, &entry.Detail, &entry.CreatedAt); err != nil {
			return nil, err
		}
		entry.CreatedAt = entry.CreatedAt.UTC()
		logs = append(logs, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return logs, nil
}

func (s *Store) CreateUser(ctx context.Context, user domain.UserAccount) error {
	if user.Username == "" || user.Password == "" {
		return store.ErrInvalidInput
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (username, password_hash, role, active, created_at)
		VALUES ($1,$2,$3,$4,$5)
	`, user.Username, user.Password, user.Role, user.Active, user.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: username taken", store.ErrInvalidInput)
		}
		return err
	}
	return nil
}

func (s *Store) ListUsers(ctx context.Context) ([]domain.UserAccount, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT username, password_hash, role, active, created_at
		FROM users
		ORDER BY username
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	users := make([]domain.UserAccount, 0, 16)
	for rows.Next() {
		var u domain.UserAccount
		if err := rows.Scan(&u.Username, &u.Password, &u.Role, &u.Active, &u.CreatedAt); err != nil {
			return nil, err
		}
		u.CreatedAt = u.CreatedAt.UTC()
		users = append(users, u)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return users, nil
}

func (s *Store) UpdateUserPassword(ctx context.Context, username string, password string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE users
		SET password_hash = $2
		WHERE username = $1
	`, username, password)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

func uniqueProductIDs(items []domain.TransactionItem) []string {
	seen := make(map[uuid.UUID]struct{}, len(items))
	ids := make([]string, 0, len(items))
	for _, item := range items {
		if _, ok := seen[item.ProductID]; ok {
			continue
		}
		seen[item.ProductID] = struct{}{}
		ids = append(ids, item.ProductID.String())
	}
	return ids
}

func encodeMetadata(metadata map[string]string) (any, error) {
	if len(metadata) == 0 {
		return nil, nil
	}
	raw, err := json.Marshal(metadata)
	if err != nil {
		return nil, err
	}
	return raw, nil
}

// abortErr marks an infrastructure failure of the atomic unit as retryable.
// Serialization conflicts (40001) are the common case under concurrent
// checkouts touching the same products.
func abortErr(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %v", store.ErrTransactionAborted, err)
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}

func nullIfEmpty(val string) any {
	if val == "" {
		return nil
	}
	return val
}

func dateUTC(t time.Time) time.Time {
	return time.Date(t.UTC().Year(), t.UTC().Month(), t.UTC().Day(), 0, 0, 0, 0, time.UTC)
}

func appendNote(notes, extra string) string {
	if strings.TrimSpace(notes) == "" {
		return extra
	}
	return notes + "; " + extra
}
