package inventory

import (
	"context"
	"errors"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PGStore is the ledger over postgres. Every mutation runs in a transaction
// that takes a row lock (SELECT ... FOR UPDATE) on the inventory record, so
// the check-and-decrement is serialized per record; readers are unaffected.
//
// Schema:
//
//	inventory(product_id, variant_id, available, reserved,
//	          PRIMARY KEY (product_id, variant_id),
//	          CHECK (available >= 0 AND reserved >= 0))
//	inventory_reservations(order_id, product_id, variant_id, qty, status,
//	          PRIMARY KEY (order_id, product_id, variant_id))
//	inventory_adjustments(id bigserial, product_id, variant_id, delta,
//	          actor, reason, created_at default now())
type PGStore struct{ DB *pgxpool.Pool }

func (s *PGStore) TryReserve(ctx context.Context, orderID, productID, variantID string, qty int) (Reservation, error) {
	if qty <= 0 {
		return Reservation{}, ErrInvalidQty
	}
	tx, err := s.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return Reservation{}, err
	}
	defer tx.Rollback(ctx)

	// idempotency short-circuit: reservation already on record for this order
	var existing Reservation
	err = tx.QueryRow(ctx, `
		SELECT order_id, product_id, variant_id, qty, status
		FROM inventory_reservations
		WHERE order_id=$1 AND product_id=$2 AND variant_id=$3`,
		orderID, productID, variantID,
	).Scan(&existing.OrderID, &existing.ProductID, &existing.VariantID, &existing.Qty, &existing.Status)
	if err == nil && existing.Status != ReservationReleased {
		return existing, nil
	}
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return Reservation{}, err
	}

	var available int
	err = tx.QueryRow(ctx, `
		SELECT available FROM inventory
		WHERE product_id=$1 AND variant_id=$2 FOR UPDATE`,
		productID, variantID,
	).Scan(&available)
	if errors.Is(err, pgx.ErrNoRows) {
		return Reservation{}, ErrRecordNotFound
	}
	if err != nil {
		return Reservation{}, err
	}
	if available < qty {
		return Reservation{}, &InsufficientStockError{
			ProductID: productID, VariantID: variantID,
			Requested: qty, Available: available,
		}
	}

	if _, err := tx.Exec(ctx, `
		UPDATE inventory SET available = available - $3, reserved = reserved + $3
		WHERE product_id=$1 AND variant_id=$2`,
		productID, variantID, qty,
	); err != nil {
		return Reservation{}, err
	}
	if _, err := tx.Exec(ctx, `
		INSERT INTO inventory_reservations(order_id, product_id, variant_id, qty, status)
		VALUES ($1,$2,$3,$4,'RESERVED')
		ON CONFLICT (order_id, product_id, variant_id)
		DO UPDATE SET qty=EXCLUDED.qty, status='RESERVED'`,
		orderID, productID, variantID, qty,
	); err != nil {
		return Reservation{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return Reservation{}, err
	}
	return Reservation{
		OrderID: orderID, ProductID: productID, VariantID: variantID,
		Qty: qty, Status: ReservationReserved,
	}, nil
}

func (s *PGStore) Commit(ctx context.Context, orderID, productID, variantID string, qty int) error {
	if qty <= 0 {
		return ErrInvalidQty
	}
	tx, err := s.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	resQty, ok, err := s.claimReservation(ctx, tx, orderID, productID, variantID, ReservationCommitted)
	if err != nil {
		return err
	}
	if !ok {
		// duplicate trigger, nothing to do
		return nil
	}
	if _, err := tx.Exec(ctx, `
		UPDATE inventory SET reserved = GREATEST(reserved - $3, 0)
		WHERE product_id=$1 AND variant_id=$2`,
		productID, variantID, resQty,
	); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (s *PGStore) Release(ctx context.Context, orderID, productID, variantID string, qty int) error {
	if qty <= 0 {
		return ErrInvalidQty
	}
	tx, err := s.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	resQty, ok, err := s.claimReservation(ctx, tx, orderID, productID, variantID, ReservationReleased)
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}
	back := qty
	if back > resQty {
		back = resQty
	}

	var reserved int
	if err := tx.QueryRow(ctx, `
		SELECT reserved FROM inventory
		WHERE product_id=$1 AND variant_id=$2 FOR UPDATE`,
		productID, variantID,
	).Scan(&reserved); err != nil {
		return err
	}
	if back > reserved {
		slog.Warn("release clamped to reserved count",
			"order_id", orderID, "product_id", productID, "variant_id", variantID,
			"requested", back, "reserved", reserved)
		back = reserved
	}
	if _, err := tx.Exec(ctx, `
		UPDATE inventory SET reserved = reserved - $3, available = available + $3
		WHERE product_id=$1 AND variant_id=$2`,
		productID, variantID, back,
	); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// claimReservation flips an open reservation to the given terminal status and
// returns its qty. ok=false means no open reservation existed (duplicate).
func (s *PGStore) claimReservation(ctx context.Context, tx pgx.Tx, orderID, productID, variantID string, to ReservationStatus) (int, bool, error) {
	var qty int
	err := tx.QueryRow(ctx, `
		UPDATE inventory_reservations SET status=$4
		WHERE order_id=$1 AND product_id=$2 AND variant_id=$3 AND status='RESERVED'
		RETURNING qty`,
		orderID, productID, variantID, string(to),
	).Scan(&qty)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return qty, true, nil
}

func (s *PGStore) Adjust(ctx context.Context, productID, variantID string, delta int, actor, reason string) error {
	tx, err := s.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	var available int
	err = tx.QueryRow(ctx, `
		SELECT available FROM inventory
		WHERE product_id=$1 AND variant_id=$2 FOR UPDATE`,
		productID, variantID,
	).Scan(&available)
	if errors.Is(err, pgx.ErrNoRows) {
		if delta < 0 {
			return ErrRecordNotFound
		}
		if _, err := tx.Exec(ctx, `
			INSERT INTO inventory(product_id, variant_id, available, reserved)
			VALUES ($1,$2,$3,0)`,
			productID, variantID, delta,
		); err != nil {
			return err
		}
	} else if err != nil {
		return err
	} else {
		if available+delta < 0 {
			return ErrAdjustBelow
		}
		if _, err := tx.Exec(ctx, `
			UPDATE inventory SET available = available + $3
			WHERE product_id=$1 AND variant_id=$2`,
			productID, variantID, delta,
		); err != nil {
			return err
		}
	}
	if _, err := tx.Exec(ctx, `
		INSERT INTO inventory_adjustments(product_id, variant_id, delta, actor, reason)
		VALUES ($1,$2,$3,$4,$5)`,
		productID, variantID, delta, actor, reason,
	); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (s *PGStore) Stock(ctx context.Context, productID, variantID string) (StockLevel, error) {
	var lvl StockLevel
	err := s.DB.QueryRow(ctx, `
		SELECT product_id, variant_id, available, reserved FROM inventory
		WHERE product_id=$1 AND variant_id=$2`,
		productID, variantID,
	).Scan(&lvl.ProductID, &lvl.VariantID, &lvl.Available, &lvl.Reserved)
	if errors.Is(err, pgx.ErrNoRows) {
		return StockLevel{}, ErrRecordNotFound
	}
	return lvl, err
}
