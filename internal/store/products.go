package store

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/ariefcatur/go-realtime-sync/internal/model"
	"github.com/ariefcatur/go-realtime-sync/internal/realtime"
)

func (s *Store) ListProducts(ctx context.Context) ([]model.InventorySnapshot, error) {
	rows, err := s.DB.Query(ctx, `SELECT id, name, stock_quantity, low_stock_threshold
	                               FROM products ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.InventorySnapshot
	for rows.Next() {
		var p model.InventorySnapshot
		if err := rows.Scan(&p.ProductID, &p.Name, &p.StockQuantity, &p.LowStockThreshold); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// SetStock overwrites a product's stock and publishes the change with the
// previous row attached.
func (s *Store) SetStock(ctx context.Context, productID string, qty int) (model.InventorySnapshot, error) {
	if qty < 0 {
		return model.InventorySnapshot{}, fmt.Errorf("invalid stock %d for product %s", qty, productID)
	}
	tx, err := s.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return model.InventorySnapshot{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var prev model.InventorySnapshot
	if err := tx.QueryRow(ctx, `SELECT id, name, stock_quantity, low_stock_threshold
	                            FROM products WHERE id=$1 FOR UPDATE`, productID).
		Scan(&prev.ProductID, &prev.Name, &prev.StockQuantity, &prev.LowStockThreshold); err != nil {
		return model.InventorySnapshot{}, err
	}
	if _, err := tx.Exec(ctx, `UPDATE products SET stock_quantity=$2, updated_at=now() WHERE id=$1`, productID, qty); err != nil {
		return model.InventorySnapshot{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return model.InventorySnapshot{}, err
	}

	cur := prev
	cur.StockQuantity = qty
	echo(ctx, s, realtime.OpUpdate, model.TableProducts, cur, &prev, time.Now())
	return cur, nil
}
