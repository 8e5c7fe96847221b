package postgres

import (
	"context"
	"fmt"
	"strings"

	"sellwatch/internal/store"
)

// BulkUpsertStocks inserts the stock snapshot in one statement,
// skipping rows whose natural key is already present. Returns the
// number of new rows.
func (s *Store) BulkUpsertStocks(ctx context.Context, stocks []store.Stock) (int64, error) {
	if len(stocks) == 0 {
		return 0, nil
	}

	const fieldCount = 8

	var sb strings.Builder
	args := make([]interface{}, 0, len(stocks)*fieldCount)

	for i, st := range stocks {
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
			st.TenantID, st.ImportedAt, st.VariantID, st.Warehouse,
			st.Size, st.Quantity, st.Price, st.Discount,
		)
	}

	query := fmt.Sprintf(`
		INSERT INTO stocks (tenant_id, imported_at, variant_id, warehouse, size, quantity, price, discount)
		VALUES %s
		ON CONFLICT ON CONSTRAINT uq_stocks_natural_key DO NOTHING
	`, sb.String())

	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("failed to bulk upsert %d stocks: %w", len(stocks), err)
	}

	return res.RowsAffected()
}

// StockSummary returns the latest per-warehouse remaining quantity
// for one variant, largest stock first. Only the most recent import
// per warehouse counts.
func (s *Store) StockSummary(ctx context.Context, tenantID, variantID int64) ([]store.WarehouseQuantity, error) {
	query := `
		SELECT warehouse, SUM(quantity)
		FROM stocks
		WHERE tenant_id = $1
		  AND variant_id = $2
		  AND imported_at = (
			SELECT MAX(imported_at) FROM stocks
			WHERE tenant_id = $1 AND variant_id = $2
		  )
		GROUP BY warehouse
		HAVING SUM(quantity) > 0
		ORDER BY SUM(quantity) DESC
	`

	rows, err := s.db.QueryContext(ctx, query, tenantID, variantID)
	if err != nil {
		return nil, fmt.Errorf("failed to query stock summary for variant %d: %w", variantID, err)
	}
	defer rows.Close()

	var summary []store.WarehouseQuantity
	for rows.Next() {
		var wq store.WarehouseQuantity
		if err := rows.Scan(&wq.Warehouse, &wq.Quantity); err != nil {
			return nil, err
		}
		summary = append(summary, wq)
	}

	return summary, rows.Err()
}
