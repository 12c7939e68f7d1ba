package service_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"tokopos/backend/internal/cache"
	"tokopos/backend/internal/domain"
	"tokopos/backend/internal/service"
	"tokopos/backend/internal/store"
	"tokopos/backend/internal/store/memory"
)

const testTenant = "main-tenant"

func newTestService(t *testing.T) (*service.Service, *memory.Store) {
	t.Helper()
	repo := memory.NewSeeded()
	svc := service.New(repo, cache.NoopReportCache{}, time.Hour, testTenant)
	return svc, repo
}

func adminCtx() context.Context {
	return service.WithActor(context.Background(), domain.Actor{Username: "admin", Role: "admin"})
}

func cashierCtx() context.Context {
	return service.WithActor(context.Background(), domain.Actor{Username: "cashier", Role: "cashier"})
}

func productBySKU(t *testing.T, repo *memory.Store, sku string) domain.Product {
	t.Helper()
	p, err := repo.GetProductBySKU(context.Background(), testTenant, sku)
	if err != nil {
		t.Fatalf("seed product %s missing: %v", sku, err)
	}
	return *p
}

func TestCheckoutComputesTotalsAndDecrementsStock(t *testing.T) {
	svc, repo := newTestService(t)
	ctx := cashierCtx()

	kopi := productBySKU(t, repo, "SKU-KOPI-01")
	startStock := kopi.Stock

	tx, err := svc.CreateTransaction(ctx, domain.CartRequest{
		Items: []domain.CartItemRequest{
			{ProductID: kopi.ID, Qty: 2},
		},
	})
	if err != nil {
		t.Fatalf("create transaction: %v", err)
	}

	if tx.SubtotalCents != 3198 {
		t.Fatalf("expected subtotal 3198, got %d", tx.SubtotalCents)
	}
	if tx.TotalCents != 3198 {
		t.Fatalf("expected total 3198, got %d", tx.TotalCents)
	}
	if tx.Status != domain.StatusPending {
		t.Fatalf("expected PENDING without payment, got %s", tx.Status)
	}
	if len(tx.Items) != 1 || tx.Items[0].SKU != "SKU-KOPI-01" || tx.Items[0].UnitPriceCents != 1599 {
		t.Fatalf("expected snapshot item for SKU-KOPI-01 at 1599, got %+v", tx.Items)
	}

	after := productBySKU(t, repo, "SKU-KOPI-01")
	if after.Stock != startStock-2 {
		t.Fatalf("expected stock %d after checkout, got %d", startStock-2, after.Stock)
	}

	movements, err := svc.ListMovements(ctx, kopi.ID, 5)
	if err != nil {
		t.Fatalf("list movements: %v", err)
	}
	if len(movements) != 1 {
		t.Fatalf("expected one movement, got %d", len(movements))
	}
	mv := movements[0]
	if mv.Direction != domain.MovementOut || mv.Qty != 2 || mv.Reason != domain.ReasonSale || mv.Reference != tx.Number {
		t.Fatalf("unexpected movement after checkout: %+v", mv)
	}
}

func TestExactPaymentCompletesWithZeroChange(t *testing.T) {
	svc, repo := newTestService(t)
	ctx := cashierCtx()

	kopi := productBySKU(t, repo, "SKU-KOPI-01")
	tx, err := svc.CreateTransaction(ctx, domain.CartRequest{
		Items: []domain.CartItemRequest{{ProductID: kopi.ID, Qty: 2}},
	})
	if err != nil {
		t.Fatalf("create transaction: %v", err)
	}

	paid, err := svc.AddPayment(ctx, domain.PaymentRequest{
		TransactionID: tx.ID,
		Method:        "cash",
		AmountCents:   3198,
	})
	if err != nil {
		t.Fatalf("add payment: %v", err)
	}
	if paid.Status != domain.StatusCompleted {
		t.Fatalf("expected COMPLETED after exact payment, got %s", paid.Status)
	}
	if paid.PaidCents != 3198 || paid.ChangeCents != 0 {
		t.Fatalf("expected paid 3198 change 0, got paid %d change %d", paid.PaidCents, paid.ChangeCents)
	}
}

func TestOverpaymentReturnsChange(t *testing.T) {
	svc, repo := newTestService(t)
	ctx := cashierCtx()

	kopi := productBySKU(t, repo, "SKU-KOPI-01")
	tx, err := svc.CreateTransaction(ctx, domain.CartRequest{
		Items: []domain.CartItemRequest{{ProductID: kopi.ID, Qty: 2}},
		Payments: []domain.CartPaymentRequest{
			{Method: "cash", AmountCents: 4000},
		},
	})
	if err != nil {
		t.Fatalf("create transaction: %v", err)
	}
	if tx.Status != domain.StatusCompleted {
		t.Fatalf("expected COMPLETED, got %s", tx.Status)
	}
	if tx.ChangeCents != 802 {
		t.Fatalf("expected change 802, got %d", tx.ChangeCents)
	}
}

func TestSplitTenderAccumulatesUntilCovered(t *testing.T) {
	svc, repo := newTestService(t)
	ctx := cashierCtx()

	kopi := productBySKU(t, repo, "SKU-KOPI-01")
	tx, err := svc.CreateTransaction(ctx, domain.CartRequest{
		Items: []domain.CartItemRequest{{ProductID: kopi.ID, Qty: 2}},
	})
	if err != nil {
		t.Fatalf("create transaction: %v", err)
	}

	partial, err := svc.AddPayment(ctx, domain.PaymentRequest{TransactionID: tx.ID, Method: "cash", AmountCents: 2000})
	if err != nil {
		t.Fatalf("first tender: %v", err)
	}
	if partial.Status != domain.StatusPending {
		t.Fatalf("expected PENDING after partial tender, got %s", partial.Status)
	}
	if partial.PaidCents != 2000 {
		t.Fatalf("expected paid 2000, got %d", partial.PaidCents)
	}

	full, err := svc.AddPayment(ctx, domain.PaymentRequest{TransactionID: tx.ID, Method: "qris", AmountCents: 1198})
	if err != nil {
		t.Fatalf("second tender: %v", err)
	}
	if full.Status != domain.StatusCompleted {
		t.Fatalf("expected COMPLETED after split tender covers total, got %s", full.Status)
	}
	if full.PaidCents != 3198 || full.ChangeCents != 0 {
		t.Fatalf("expected paid 3198 change 0, got paid %d change %d", full.PaidCents, full.ChangeCents)
	}
	if len(full.Payments) != 2 {
		t.Fatalf("expected 2 payment records, got %d", len(full.Payments))
	}
}

func TestInsufficientStockLeavesNoTrace(t *testing.T) {
	svc, repo := newTestService(t)
	ctx := cashierCtx()

	roti := productBySKU(t, repo, "SKU-ROTI-01")
	if roti.Stock != 3 {
		t.Fatalf("seed expectation broken: SKU-ROTI-01 stock %d", roti.Stock)
	}

	_, err := svc.CreateTransaction(ctx, domain.CartRequest{
		Items: []domain.CartItemRequest{{ProductID: roti.ID, Qty: 5}},
	})
	if !errors.Is(err, store.ErrInsufficientStock) {
		t.Fatalf("expected ErrInsufficientStock, got %v", err)
	}

	after := productBySKU(t, repo, "SKU-ROTI-01")
	if after.Stock != 3 {
		t.Fatalf("failed checkout must not change stock, got %d", after.Stock)
	}

	movements, err := svc.ListMovements(ctx, roti.ID, 5)
	if err != nil {
		t.Fatalf("list movements: %v", err)
	}
	if len(movements) != 0 {
		t.Fatalf("failed checkout must not log movements, got %d", len(movements))
	}

	txs, err := svc.ListTransactions(ctx, time.Time{}, time.Time{}, 50)
	if err != nil {
		t.Fatalf("list transactions: %v", err)
	}
	if len(txs) != 0 {
		t.Fatalf("failed checkout must not persist a transaction, got %d", len(txs))
	}
}

func TestDuplicateProductLinesCheckedAgainstCombinedQty(t *testing.T) {
	svc, repo := newTestService(t)
	ctx := cashierCtx()

	roti := productBySKU(t, repo, "SKU-ROTI-01")
	if roti.Stock != 3 {
		t.Fatalf("seed expectation broken: SKU-ROTI-01 stock %d", roti.Stock)
	}

	// Each line alone fits within stock 3; together they request 4.
	_, err := svc.CreateTransaction(ctx, domain.CartRequest{
		Items: []domain.CartItemRequest{
			{ProductID: roti.ID, Qty: 2},
			{ProductID: roti.ID, Qty: 2},
		},
	})
	if !errors.Is(err, store.ErrInsufficientStock) {
		t.Fatalf("expected ErrInsufficientStock for combined qty 4 vs stock 3, got %v", err)
	}

	after := productBySKU(t, repo, "SKU-ROTI-01")
	if after.Stock != 3 {
		t.Fatalf("failed checkout must not change stock, got %d", after.Stock)
	}

	// The combined quantity still sells when it fits.
	created, err := svc.CreateTransaction(ctx, domain.CartRequest{
		Items: []domain.CartItemRequest{
			{ProductID: roti.ID, Qty: 2},
			{ProductID: roti.ID, Qty: 1},
		},
	})
	if err != nil {
		t.Fatalf("checkout with combined qty 3: %v", err)
	}
	if len(created.Items) != 2 {
		t.Fatalf("expected both lines persisted, got %d", len(created.Items))
	}

	after = productBySKU(t, repo, "SKU-ROTI-01")
	if after.Stock != 0 {
		t.Fatalf("expected stock 0 after selling combined qty 3, got %d", after.Stock)
	}
}

func TestMultiItemCartFailsAtomically(t *testing.T) {
	svc, repo := newTestService(t)
	ctx := cashierCtx()

	kopi := productBySKU(t, repo, "SKU-KOPI-01")
	roti := productBySKU(t, repo, "SKU-ROTI-01")
	kopiStart := kopi.Stock

	_, err := svc.CreateTransaction(ctx, domain.CartRequest{
		Items: []domain.CartItemRequest{
			{ProductID: kopi.ID, Qty: 1},
			{ProductID: roti.ID, Qty: 5},
		},
	})
	if !errors.Is(err, store.ErrInsufficientStock) {
		t.Fatalf("expected ErrInsufficientStock, got %v", err)
	}

	if after := productBySKU(t, repo, "SKU-KOPI-01"); after.Stock != kopiStart {
		t.Fatalf("sibling line must not be applied on failure, stock %d", after.Stock)
	}
}

func TestInactiveProductRejected(t *testing.T) {
	svc, repo := newTestService(t)
	ctx := cashierCtx()

	lama := productBySKU(t, repo, "SKU-LAMA-01")
	_, err := svc.CreateTransaction(ctx, domain.CartRequest{
		Items: []domain.CartItemRequest{{ProductID: lama.ID, Qty: 1}},
	})
	if !errors.Is(err, store.ErrProductInactive) {
		t.Fatalf("expected ErrProductInactive, got %v", err)
	}
}

func TestVoidRestoresStockAndBlocksSecondVoid(t *testing.T) {
	svc, repo := newTestService(t)
	ctx := cashierCtx()

	kopi := productBySKU(t, repo, "SKU-KOPI-01")
	startStock := kopi.Stock

	tx, err := svc.CreateTransaction(ctx, domain.CartRequest{
		Items:    []domain.CartItemRequest{{ProductID: kopi.ID, Qty: 2}},
		Payments: []domain.CartPaymentRequest{{Method: "cash", AmountCents: 3198}},
	})
	if err != nil {
		t.Fatalf("create transaction: %v", err)
	}
	if tx.Status != domain.StatusCompleted {
		t.Fatalf("expected COMPLETED, got %s", tx.Status)
	}

	voided, err := svc.VoidTransaction(adminCtx(), domain.VoidRequest{TransactionID: tx.ID, Reason: "customer cancelled"})
	if err != nil {
		t.Fatalf("void transaction: %v", err)
	}
	if voided.Status != domain.StatusCancelled {
		t.Fatalf("expected CANCELLED, got %s", voided.Status)
	}

	after := productBySKU(t, repo, "SKU-KOPI-01")
	if after.Stock != startStock {
		t.Fatalf("expected stock restored to %d, got %d", startStock, after.Stock)
	}

	movements, err := svc.ListMovements(ctx, kopi.ID, 5)
	if err != nil {
		t.Fatalf("list movements: %v", err)
	}
	if len(movements) != 2 {
		t.Fatalf("expected OUT and compensating IN movements, got %d", len(movements))
	}
	reversal := movements[0]
	if reversal.Direction != domain.MovementIn || reversal.Reason != domain.ReasonVoid || reversal.Reference != tx.Number {
		t.Fatalf("expected IN/VOID movement referencing %s, got %+v", tx.Number, reversal)
	}

	_, err = svc.VoidTransaction(adminCtx(), domain.VoidRequest{TransactionID: tx.ID, Reason: "again"})
	if !errors.Is(err, store.ErrAlreadyCancelled) {
		t.Fatalf("expected ErrAlreadyCancelled on second void, got %v", err)
	}

	if final := productBySKU(t, repo, "SKU-KOPI-01"); final.Stock != startStock {
		t.Fatalf("second void must not move stock, got %d", final.Stock)
	}
}

func TestVoidPendingLeavesStockAsIs(t *testing.T) {
	svc, repo := newTestService(t)
	ctx := cashierCtx()

	kopi := productBySKU(t, repo, "SKU-KOPI-01")
	startStock := kopi.Stock

	tx, err := svc.CreateTransaction(ctx, domain.CartRequest{
		Items: []domain.CartItemRequest{{ProductID: kopi.ID, Qty: 2}},
	})
	if err != nil {
		t.Fatalf("create transaction: %v", err)
	}

	voided, err := svc.VoidTransaction(adminCtx(), domain.VoidRequest{TransactionID: tx.ID, Reason: "walked away"})
	if err != nil {
		t.Fatalf("void pending: %v", err)
	}
	if voided.Status != domain.StatusCancelled {
		t.Fatalf("expected CANCELLED, got %s", voided.Status)
	}

	// Stock reversal applies to completed sales only.
	after := productBySKU(t, repo, "SKU-KOPI-01")
	if after.Stock != startStock-2 {
		t.Fatalf("expected stock %d after pending void, got %d", startStock-2, after.Stock)
	}
}

func TestPaymentRejectedOnCancelledAndCompleted(t *testing.T) {
	svc, repo := newTestService(t)
	ctx := cashierCtx()

	kopi := productBySKU(t, repo, "SKU-KOPI-01")

	completed, err := svc.CreateTransaction(ctx, domain.CartRequest{
		Items:    []domain.CartItemRequest{{ProductID: kopi.ID, Qty: 1}},
		Payments: []domain.CartPaymentRequest{{Method: "cash", AmountCents: 1599}},
	})
	if err != nil {
		t.Fatalf("create completed transaction: %v", err)
	}
	_, err = svc.AddPayment(ctx, domain.PaymentRequest{TransactionID: completed.ID, Method: "cash", AmountCents: 100})
	if !errors.Is(err, store.ErrTransactionCompleted) {
		t.Fatalf("expected ErrTransactionCompleted, got %v", err)
	}

	pending, err := svc.CreateTransaction(ctx, domain.CartRequest{
		Items: []domain.CartItemRequest{{ProductID: kopi.ID, Qty: 1}},
	})
	if err != nil {
		t.Fatalf("create pending transaction: %v", err)
	}
	if _, err := svc.VoidTransaction(adminCtx(), domain.VoidRequest{TransactionID: pending.ID, Reason: "test"}); err != nil {
		t.Fatalf("void pending: %v", err)
	}
	_, err = svc.AddPayment(ctx, domain.PaymentRequest{TransactionID: pending.ID, Method: "cash", AmountCents: 100})
	if !errors.Is(err, store.ErrAlreadyCancelled) {
		t.Fatalf("expected ErrAlreadyCancelled, got %v", err)
	}
}

func TestTransactionNumbersAreSequentialPerDay(t *testing.T) {
	svc, repo := newTestService(t)
	ctx := cashierCtx()

	kopi := productBySKU(t, repo, "SKU-KOPI-01")
	day := time.Now().UTC().Format("20060102")

	for i := 1; i <= 3; i++ {
		tx, err := svc.CreateTransaction(ctx, domain.CartRequest{
			Items: []domain.CartItemRequest{{ProductID: kopi.ID, Qty: 1}},
		})
		if err != nil {
			t.Fatalf("create transaction %d: %v", i, err)
		}
		want := fmt.Sprintf("TXN-%s-%04d", day, i)
		if tx.Number != want {
			t.Fatalf("expected number %s, got %s", want, tx.Number)
		}
	}
}

func TestConcurrentCheckoutsGetUniqueNumbers(t *testing.T) {
	svc, repo := newTestService(t)
	ctx := cashierCtx()

	mie := productBySKU(t, repo, "SKU-MIE-01")

	const workers = 20
	var wg sync.WaitGroup
	numbers := make(chan string, workers)
	errs := make(chan error, workers)

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			tx, err := svc.CreateTransaction(ctx, domain.CartRequest{
				Items: []domain.CartItemRequest{{ProductID: mie.ID, Qty: 1}},
			})
			if err != nil {
				errs <- err
				return
			}
			numbers <- tx.Number
		}()
	}
	wg.Wait()
	close(numbers)
	close(errs)

	for err := range errs {
		t.Fatalf("concurrent checkout: %v", err)
	}

	seen := make(map[string]bool, workers)
	for number := range numbers {
		if seen[number] {
			t.Fatalf("duplicate transaction number %s", number)
		}
		seen[number] = true
	}
	if len(seen) != workers {
		t.Fatalf("expected %d unique numbers, got %d", workers, len(seen))
	}

	after := productBySKU(t, repo, "SKU-MIE-01")
	if after.Stock != mie.Stock-workers {
		t.Fatalf("expected stock %d after %d checkouts, got %d", mie.Stock-workers, workers, after.Stock)
	}
}

func TestStockAdjustmentSetsAbsoluteTarget(t *testing.T) {
	svc, repo := newTestService(t)
	ctx := adminCtx()

	gula := productBySKU(t, repo, "SKU-GULA-01")

	updated, err := svc.MutateStock(ctx, domain.StockMutationRequest{
		ProductID: gula.ID,
		Direction: domain.MovementAdjustment,
		Qty:       25,
		Reason:    "stock opname",
	})
	if err != nil {
		t.Fatalf("adjust stock: %v", err)
	}
	if updated.Stock != 25 {
		t.Fatalf("expected stock set to 25, got %d", updated.Stock)
	}

	movements, err := svc.ListMovements(ctx, gula.ID, 5)
	if err != nil {
		t.Fatalf("list movements: %v", err)
	}
	if len(movements) != 1 {
		t.Fatalf("expected one movement, got %d", len(movements))
	}
	if movements[0].Direction != domain.MovementAdjustment || movements[0].Qty != 25-gula.Stock {
		t.Fatalf("expected signed delta %d, got %+v", 25-gula.Stock, movements[0])
	}

	_, err = svc.MutateStock(ctx, domain.StockMutationRequest{
		ProductID: gula.ID,
		Direction: domain.MovementAdjustment,
		Qty:       -1,
	})
	if !errors.Is(err, store.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput for negative target, got %v", err)
	}
}

func TestStockOutCannotGoNegative(t *testing.T) {
	svc, repo := newTestService(t)
	ctx := adminCtx()

	roti := productBySKU(t, repo, "SKU-ROTI-01")

	_, err := svc.MutateStock(ctx, domain.StockMutationRequest{
		ProductID: roti.ID,
		Direction: domain.MovementOut,
		Qty:       roti.Stock + 1,
	})
	if !errors.Is(err, store.ErrInsufficientStock) {
		t.Fatalf("expected ErrInsufficientStock, got %v", err)
	}

	movements, err := svc.ListMovements(ctx, roti.ID, 5)
	if err != nil {
		t.Fatalf("list movements: %v", err)
	}
	if len(movements) != 0 {
		t.Fatalf("failed mutation must not log a movement, got %d", len(movements))
	}
}

func TestMutateStockRequiresAdmin(t *testing.T) {
	svc, repo := newTestService(t)

	kopi := productBySKU(t, repo, "SKU-KOPI-01")
	_, err := svc.MutateStock(cashierCtx(), domain.StockMutationRequest{
		ProductID: kopi.ID,
		Direction: domain.MovementIn,
		Qty:       10,
	})
	if err == nil {
		t.Fatal("expected role error for non-admin stock mutation")
	}
}

func TestReturnTransactionRestocks(t *testing.T) {
	svc, repo := newTestService(t)
	ctx := cashierCtx()

	kopi := productBySKU(t, repo, "SKU-KOPI-01")
	startStock := kopi.Stock

	tx, err := svc.CreateTransaction(ctx, domain.CartRequest{
		Type:  domain.TypeReturn,
		Items: []domain.CartItemRequest{{ProductID: kopi.ID, Qty: 3}},
	})
	if err != nil {
		t.Fatalf("create return: %v", err)
	}
	if tx.Type != domain.TypeReturn {
		t.Fatalf("expected RETURN type, got %s", tx.Type)
	}

	after := productBySKU(t, repo, "SKU-KOPI-01")
	if after.Stock != startStock+3 {
		t.Fatalf("expected stock %d after return, got %d", startStock+3, after.Stock)
	}

	movements, err := svc.ListMovements(ctx, kopi.ID, 5)
	if err != nil {
		t.Fatalf("list movements: %v", err)
	}
	if len(movements) != 1 || movements[0].Direction != domain.MovementIn || movements[0].Reason != domain.ReasonReturn {
		t.Fatalf("expected IN/RETURN movement, got %+v", movements)
	}
}

func TestDailySalesAggregatesCompletedSalesOnly(t *testing.T) {
	svc, repo := newTestService(t)
	ctx := cashierCtx()

	kopi := productBySKU(t, repo, "SKU-KOPI-01")
	mie := productBySKU(t, repo, "SKU-MIE-01")

	// Two completed sales, one pending, one voided. Only the completed
	// pair counts toward the report.
	if _, err := svc.CreateTransaction(ctx, domain.CartRequest{
		Items:    []domain.CartItemRequest{{ProductID: kopi.ID, Qty: 2}},
		Payments: []domain.CartPaymentRequest{{Method: "cash", AmountCents: 3198}},
	}); err != nil {
		t.Fatalf("completed sale 1: %v", err)
	}
	if _, err := svc.CreateTransaction(ctx, domain.CartRequest{
		Items:    []domain.CartItemRequest{{ProductID: mie.ID, Qty: 3}},
		Payments: []domain.CartPaymentRequest{{Method: "qris", AmountCents: 10500}},
	}); err != nil {
		t.Fatalf("completed sale 2: %v", err)
	}
	if _, err := svc.CreateTransaction(ctx, domain.CartRequest{
		Items: []domain.CartItemRequest{{ProductID: kopi.ID, Qty: 1}},
	}); err != nil {
		t.Fatalf("pending sale: %v", err)
	}
	voided, err := svc.CreateTransaction(ctx, domain.CartRequest{
		Items:    []domain.CartItemRequest{{ProductID: kopi.ID, Qty: 4}},
		Payments: []domain.CartPaymentRequest{{Method: "cash", AmountCents: 6396}},
	})
	if err != nil {
		t.Fatalf("sale to void: %v", err)
	}
	if _, err := svc.VoidTransaction(adminCtx(), domain.VoidRequest{TransactionID: voided.ID, Reason: "test"}); err != nil {
		t.Fatalf("void: %v", err)
	}

	report, err := svc.DailySales(ctx, time.Now().UTC(), 5)
	if err != nil {
		t.Fatalf("daily sales: %v", err)
	}
	if report.TransactionCount != 2 {
		t.Fatalf("expected 2 counted transactions, got %d", report.TransactionCount)
	}
	if report.RevenueCents != 3198+10500 {
		t.Fatalf("expected revenue %d, got %d", 3198+10500, report.RevenueCents)
	}
	if report.AverageCents != (3198+10500)/2 {
		t.Fatalf("expected average %d, got %d", (3198+10500)/2, report.AverageCents)
	}
	if len(report.TopProducts) != 2 {
		t.Fatalf("expected 2 ranked products, got %d", len(report.TopProducts))
	}
	if report.TopProducts[0].SKU != "SKU-MIE-01" {
		t.Fatalf("expected SKU-MIE-01 ranked first by revenue, got %s", report.TopProducts[0].SKU)
	}
	if report.TopProducts[0].RevenueCents != 10500 || report.TopProducts[0].QtySold != 3 {
		t.Fatalf("unexpected top product aggregate: %+v", report.TopProducts[0])
	}
}

func TestDailySalesServesClosedDaysFromCache(t *testing.T) {
	repo := memory.NewSeeded()
	reports := &recordingCache{store: map[string]*domain.DailySalesReport{}}
	svc := service.New(repo, reports, time.Hour, testTenant)

	yesterday := time.Now().UTC().AddDate(0, 0, -1)
	if _, err := svc.DailySales(context.Background(), yesterday, 5); err != nil {
		t.Fatalf("first report: %v", err)
	}
	if reports.sets != 1 {
		t.Fatalf("expected closed-day report to be cached, sets=%d", reports.sets)
	}
	if _, err := svc.DailySales(context.Background(), yesterday, 5); err != nil {
		t.Fatalf("second report: %v", err)
	}
	if reports.hits != 1 {
		t.Fatalf("expected second read to hit cache, hits=%d", reports.hits)
	}

	if _, err := svc.DailySales(context.Background(), time.Now().UTC(), 5); err != nil {
		t.Fatalf("today report: %v", err)
	}
	if reports.sets != 1 {
		t.Fatalf("the current day must not be cached, sets=%d", reports.sets)
	}
}

type recordingCache struct {
	store map[string]*domain.DailySalesReport
	hits  int
	sets  int
}

func (c *recordingCache) Get(_ context.Context, key string) (*domain.DailySalesReport, bool, error) {
	if report, ok := c.store[key]; ok {
		c.hits++
		return report, true, nil
	}
	return nil, false, nil
}

func (c *recordingCache) Set(_ context.Context, key string, value *domain.DailySalesReport, _ time.Duration) error {
	c.sets++
	c.store[key] = value
	return nil
}

func TestCreateProductRequiresAdmin(t *testing.T) {
	svc, _ := newTestService(t)

	_, err := svc.CreateProduct(cashierCtx(), domain.ProductCreateRequest{
		SKU:        "SKU-BARU-01",
		Name:       "Produk Baru",
		PriceCents: 2500,
	})
	if err == nil {
		t.Fatal("expected role error for non-admin product create")
	}

	created, err := svc.CreateProduct(adminCtx(), domain.ProductCreateRequest{
		SKU:          "sku-baru-01",
		Name:         "Produk Baru",
		PriceCents:   2500,
		InitialStock: 10,
		MinStock:     2,
	})
	if err != nil {
		t.Fatalf("admin product create: %v", err)
	}
	if created.SKU != "SKU-BARU-01" {
		t.Fatalf("expected normalized SKU, got %s", created.SKU)
	}
	if !created.Active || created.Stock != 10 {
		t.Fatalf("unexpected created product: %+v", created)
	}
}

func TestLowStockReport(t *testing.T) {
	svc, _ := newTestService(t)

	low, err := svc.LowStockProducts(adminCtx())
	if err != nil {
		t.Fatalf("low stock: %v", err)
	}
	for _, p := range low {
		if p.Stock > p.MinStock {
			t.Fatalf("product %s not actually low on stock: %+v", p.SKU, p)
		}
	}
	found := false
	for _, p := range low {
		if p.SKU == "SKU-TEH-01" {
			found = true
		}
	}
	if !found {
		t.Fatal("expected seeded SKU-TEH-01 in low stock report")
	}
}

func TestAuditTrailRecordsLifecycle(t *testing.T) {
	svc, repo := newTestService(t)
	ctx := cashierCtx()

	kopi := productBySKU(t, repo, "SKU-KOPI-01")
	tx, err := svc.CreateTransaction(ctx, domain.CartRequest{
		Items: []domain.CartItemRequest{{ProductID: kopi.ID, Qty: 1}},
	})
	if err != nil {
		t.Fatalf("create transaction: %v", err)
	}
	if _, err := svc.AddPayment(ctx, domain.PaymentRequest{TransactionID: tx.ID, Method: "cash", AmountCents: 1599}); err != nil {
		t.Fatalf("add payment: %v", err)
	}

	logs, err := svc.ListAuditLogs(adminCtx(), time.Time{}, time.Time{}, 50)
	if err != nil {
		t.Fatalf("list audit logs: %v", err)
	}
	actions := make(map[string]int)
	for _, entry := range logs {
		actions[entry.Action]++
	}
	if actions["transaction_create"] != 1 || actions["payment_add"] != 1 {
		t.Fatalf("expected lifecycle audit entries, got %v", actions)
	}

	if _, err := svc.ListAuditLogs(ctx, time.Time{}, time.Time{}, 50); err == nil {
		t.Fatal("expected role error for non-admin audit read")
	}
}

func TestGetTransactionByNumber(t *testing.T) {
	svc, repo := newTestService(t)
	ctx := cashierCtx()

	kopi := productBySKU(t, repo, "SKU-KOPI-01")
	tx, err := svc.CreateTransaction(ctx, domain.CartRequest{
		Items: []domain.CartItemRequest{{ProductID: kopi.ID, Qty: 1}},
	})
	if err != nil {
		t.Fatalf("create transaction: %v", err)
	}

	found, err := svc.GetTransactionByNumber(ctx, tx.Number)
	if err != nil {
		t.Fatalf("get by number: %v", err)
	}
	if found.ID != tx.ID {
		t.Fatalf("expected transaction %s, got %s", tx.ID, found.ID)
	}

	_, err = svc.GetTransaction(ctx, uuid.New())
	if !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound for unknown id, got %v", err)
	}
}

func TestEmptyCartRejected(t *testing.T) {
	svc, _ := newTestService(t)

	_, err := svc.CreateTransaction(cashierCtx(), domain.CartRequest{})
	if !errors.Is(err, store.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput for empty cart, got %v", err)
	}
}
