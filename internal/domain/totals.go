package domain

import (
	"fmt"
	"time"
)

// Totals is the aggregate money breakdown of an assembled cart. All values
// are in currency minor units.
type Totals struct {
	SubtotalCents int64
	TaxCents      int64
	DiscountCents int64
	TotalCents    int64
}

// ComputeTotals derives the money breakdown for a set of transaction items
// plus an overall discount. Line totals are qty*unitPrice - lineDiscount;
// the grand total is subtotal + tax - overallDiscount.
func ComputeTotals(items []TransactionItem, overallDiscountCents int64) Totals {
	t := Totals{DiscountCents: overallDiscountCents}
	for _, item := range items {
		t.SubtotalCents += item.Qty*item.UnitPriceCents - item.DiscountCents
		t.TaxCents += item.TaxCents
	}
	t.TotalCents = t.SubtotalCents + t.TaxCents - overallDiscountCents
	return t
}

// LineTotal computes one item's line total: qty*unitPrice - lineDiscount.
func LineTotal(qty, unitPriceCents, discountCents int64) int64 {
	return qty*unitPriceCents - discountCents
}

// TransactionNumber formats the tenant-scoped human-readable number for a
// given day and sequence, e.g. TXN-20260830-0001.
func TransactionNumber(day time.Time, seq int64) string {
	return fmt.Sprintf("TXN-%s-%04d", day.UTC().Format("20060102"), seq)
}

// DayBounds returns the UTC [start, end) bounds of the day containing t.
func DayBounds(t time.Time) (time.Time, time.Time) {
	u := t.UTC()
	start := time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC)
	return start, start.AddDate(0, 0, 1)
}
