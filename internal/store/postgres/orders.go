package postgres

import (
	"context"
	"fmt"
	"strings"
	"time"

	"sellwatch/internal/store"
)

// orderColumns is the insert column list shared by BulkUpsertOrders
// and its RETURNING clause.
const orderColumns = "tenant_id, occurred_at, external_line_id, variant_id, cancelled, size, price, discount_percent, warehouse, region, category, subject, brand, article"

// BulkUpsertOrders inserts the given batch in one statement and
// returns only the rows that were actually new. Rows whose natural key
// already exists, including duplicates inside the batch itself, are
// skipped by ON CONFLICT DO NOTHING. This is the idempotency boundary
// of the whole pipeline: re-fetching an overlapping date window never
// produces a second notification for the same order.
func (s *Store) BulkUpsertOrders(ctx context.Context, orders []store.Order) ([]store.Order, error) {
	if len(orders) == 0 {
		return nil, nil
	}

	const fieldCount = 14

	var sb strings.Builder
	args := make([]interface{}, 0, len(orders)*fieldCount)

	for i, o := range orders {
		if i > 0 {
			sb.WriteString(", ")
		}
		base := i * fieldCount
		sb.WriteByte('(')
		for f := 1; f <= fieldCount; f++ {
			if f > 1 {
				sb.WriteString(", ")
			}
			fmt.Fprintf(&sb, "$%d", base+f)
		}
		sb.WriteByte(')')

		args = append(args,
			o.TenantID, o.OccurredAt, o.ExternalLineID, o.VariantID,
			o.Cancelled, o.Size, o.Price, o.DiscountPercent,
			o.Warehouse, o.Region, o.Category, o.Subject, o.Brand, o.Article,
		)
	}

	query := fmt.Sprintf(`
		INSERT INTO orders (%s)
		VALUES %s
		ON CONFLICT ON CONSTRAINT uq_orders_natural_key DO NOTHING
		RETURNING id, %s, created_at
	`, orderColumns, sb.String(), orderColumns)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to bulk upsert %d orders: %w", len(orders), err)
	}
	defer rows.Close()

	var inserted []store.Order
	for rows.Next() {
		var o store.Order
		if err := rows.Scan(
			&o.ID, &o.TenantID, &o.OccurredAt, &o.ExternalLineID, &o.VariantID,
			&o.Cancelled, &o.Size, &o.Price, &o.DiscountPercent,
			&o.Warehouse, &o.Region, &o.Category, &o.Subject, &o.Brand, &o.Article,
			&o.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan upserted order: %w", err)
		}
		inserted = append(inserted, o)
	}

	return inserted, rows.Err()
}

// CountAndAmountBefore returns how many non-cancelled orders the
// tenant already has on the given day with a smaller storage id, and
// their discounted total rounded to whole units. Storage-id ordering
// keeps the per-day counter monotonic regardless of the order in
// which same-day rows arrived.
func (s *Store) CountAndAmountBefore(ctx context.Context, tenantID, orderID int64, day time.Time) (int64, int64, error) {
	query := `
		SELECT COUNT(*),
		       COALESCE(ROUND(SUM(price * (1 - discount_percent / 100))), 0)
		FROM orders
		WHERE tenant_id = $1
		  AND id < $2
		  AND cancelled = FALSE
		  AND occurred_at >= $3
		  AND occurred_at < $3 + INTERVAL '1 day'
	`

	var count, amount int64
	err := s.db.QueryRowContext(ctx, query, tenantID, orderID, startOfDay(day)).Scan(&count, &amount)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to count orders before %d for tenant %d: %w", orderID, tenantID, err)
	}

	return count, amount, nil
}

// VariantTotalsToday returns the same-day count and discounted sum
// for one variant, counting stored rows with id < orderID plus the
// row currently being processed via runningTotal. The merge avoids a
// read-your-own-write race for the order that triggered the query.
func (s *Store) VariantTotalsToday(ctx context.Context, tenantID, orderID, variantID int64, day time.Time, runningTotal int64) (int64, int64, error) {
	query := `
		SELECT COUNT(*),
		       COALESCE(ROUND(SUM(price * (1 - discount_percent / 100))), 0)
		FROM orders
		WHERE tenant_id = $1
		  AND variant_id = $2
		  AND id < $3
		  AND cancelled = FALSE
		  AND occurred_at >= $4
		  AND occurred_at < $4 + INTERVAL '1 day'
	`

	var count, sum int64
	err := s.db.QueryRowContext(ctx, query, tenantID, variantID, orderID, startOfDay(day)).Scan(&count, &sum)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to query variant totals for tenant %d: %w", tenantID, err)
	}

	return count + 1, sum + runningTotal, nil
}

// VariantTotalsForDay returns count and discounted sum for one
// variant on an arbitrary day, purely from storage.
func (s *Store) VariantTotalsForDay(ctx context.Context, tenantID, variantID int64, day time.Time) (int64, int64, error) {
	query := `
		SELECT COUNT(*),
		       COALESCE(ROUND(SUM(price * (1 - discount_percent / 100))), 0)
		FROM orders
		WHERE tenant_id = $1
		  AND variant_id = $2
		  AND cancelled = FALSE
		  AND occurred_at >= $3
		  AND occurred_at < $3 + INTERVAL '1 day'
	`

	var count, sum int64
	err := s.db.QueryRowContext(ctx, query, tenantID, variantID, startOfDay(day)).Scan(&count, &sum)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to query variant day totals for tenant %d: %w", tenantID, err)
	}

	return count, sum, nil
}

func startOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}
