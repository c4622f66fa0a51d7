package orders

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PGStore persists orders in postgres. Update serializes concurrent mutation
// of one order with SELECT ... FOR UPDATE on its row.
//
// Schema:
//
//	orders(id, number unique, external_id unique, customer_name, customer_email,
//	       customer_phone, ship_line1, ship_line2, ship_city, ship_region,
//	       ship_postal, ship_country, shipping_method, status, payment_status,
//	       payment_intent_ref unique, subtotal_cents, tax_cents, shipping_cents,
//	       discount_cents, total_cents, currency, created_at, updated_at)
//	order_items(order_id, product_id, variant_id, name, attributes jsonb, qty,
//	       unit_price_cents, line_total_cents)
//	order_events(order_id, event_id, processed_at, PRIMARY KEY(order_id, event_id))
type PGStore struct{ DB *pgxpool.Pool }

const orderCols = `id, number, COALESCE(external_id,''), customer_name, customer_email, customer_phone,
	ship_line1, ship_line2, ship_city, ship_region, ship_postal, ship_country,
	shipping_method, status, payment_status, COALESCE(payment_intent_ref,''),
	subtotal_cents, tax_cents, shipping_cents, discount_cents, total_cents,
	currency, created_at, updated_at`

func (s *PGStore) Create(ctx context.Context, o *Order) error {
	tx, err := s.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	for attempt := 0; ; attempt++ {
		_, err = tx.Exec(ctx, `
			INSERT INTO orders(id, number, external_id, customer_name, customer_email, customer_phone,
				ship_line1, ship_line2, ship_city, ship_region, ship_postal, ship_country,
				shipping_method, status, payment_status, payment_intent_ref,
				subtotal_cents, tax_cents, shipping_cents, discount_cents, total_cents,
				currency, created_at, updated_at)
			VALUES ($1,$2,NULLIF($3,''),$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,NULLIF($16,''),
				$17,$18,$19,$20,$21,$22,$23,$24)`,
			o.ID, o.Number, o.ExternalID, o.Customer.Name, o.Customer.Email, o.Customer.Phone,
			o.ShippingAddress.Line1, o.ShippingAddress.Line2, o.ShippingAddress.City,
			o.ShippingAddress.Region, o.ShippingAddress.PostalCode, o.ShippingAddress.Country,
			o.ShippingMethod, string(o.Status), string(o.PaymentStatus), o.PaymentIntentRef,
			o.SubtotalCents, o.TaxCents, o.ShippingCents, o.DiscountCents, o.TotalCents,
			o.Currency, o.CreatedAt, o.UpdatedAt,
		)
		if isUniqueViolation(err, "orders_number_key") && attempt < 3 {
			o.Number = NewNumber(time.Now())
			continue
		}
		if err != nil {
			return err
		}
		break
	}

	for _, it := range o.Items {
		attrs, err := json.Marshal(it.Attributes)
		if err != nil {
			return err
		}
		if _, err := tx.Exec(ctx, `
			INSERT INTO order_items(order_id, product_id, variant_id, name, attributes, qty, unit_price_cents, line_total_cents)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`,
			o.ID, it.ProductID, it.VariantID, it.Name, attrs, it.Qty, it.UnitPriceCents, it.LineTotalCents,
		); err != nil {
			return err
		}
	}
	return tx.Commit(ctx)
}

func isUniqueViolation(err error, constraint string) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505" && pgErr.ConstraintName == constraint
}

func (s *PGStore) GetByID(ctx context.Context, id string) (*Order, error) {
	return s.getWhere(ctx, s.DB, `id=$1`, id, false)
}

func (s *PGStore) GetByNumber(ctx context.Context, number string) (*Order, error) {
	return s.getWhere(ctx, s.DB, `number=$1`, number, false)
}

func (s *PGStore) GetByExternalID(ctx context.Context, externalID string) (*Order, error) {
	return s.getWhere(ctx, s.DB, `external_id=$1`, externalID, false)
}

func (s *PGStore) GetByPaymentIntent(ctx context.Context, ref string) (*Order, error) {
	return s.getWhere(ctx, s.DB, `payment_intent_ref=$1`, ref, false)
}

type queryer interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

func (s *PGStore) getWhere(ctx context.Context, q queryer, where, arg string, forUpdate bool) (*Order, error) {
	sql := `SELECT ` + orderCols + ` FROM orders WHERE ` + where
	if forUpdate {
		sql += ` FOR UPDATE`
	}
	var o Order
	var status, pay string
	err := q.QueryRow(ctx, sql, arg).Scan(
		&o.ID, &o.Number, &o.ExternalID, &o.Customer.Name, &o.Customer.Email, &o.Customer.Phone,
		&o.ShippingAddress.Line1, &o.ShippingAddress.Line2, &o.ShippingAddress.City,
		&o.ShippingAddress.Region, &o.ShippingAddress.PostalCode, &o.ShippingAddress.Country,
		&o.ShippingMethod, &status, &pay, &o.PaymentIntentRef,
		&o.SubtotalCents, &o.TaxCents, &o.ShippingCents, &o.DiscountCents, &o.TotalCents,
		&o.Currency, &o.CreatedAt, &o.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	o.Status, o.PaymentStatus = Status(status), PaymentStatus(pay)

	rows, err := q.Query(ctx, `
		SELECT product_id, COALESCE(variant_id,''), name, attributes, qty, unit_price_cents, line_total_cents
		FROM order_items WHERE order_id=$1`, o.ID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var it OrderItem
		var attrs []byte
		if err := rows.Scan(&it.ProductID, &it.VariantID, &it.Name, &attrs, &it.Qty, &it.UnitPriceCents, &it.LineTotalCents); err != nil {
			return nil, err
		}
		if len(attrs) > 0 {
			if err := json.Unmarshal(attrs, &it.Attributes); err != nil {
				return nil, err
			}
		}
		o.Items = append(o.Items, it)
	}
	return &o, rows.Err()
}

func (s *PGStore) Update(ctx context.Context, id string, mutate func(o *Order) error) (*Order, error) {
	tx, err := s.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	o, err := s.getWhere(ctx, tx, `id=$1`, id, true)
	if err != nil {
		return nil, err
	}
	if err := mutate(o); err != nil {
		return nil, err
	}
	if _, err := tx.Exec(ctx, `
		UPDATE orders SET status=$2, payment_status=$3, payment_intent_ref=NULLIF($4,''), updated_at=$5
		WHERE id=$1`,
		id, string(o.Status), string(o.PaymentStatus), o.PaymentIntentRef, o.UpdatedAt,
	); err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return o, nil
}

// ApplyEvent writes the event marker and the mutated order in one
// transaction. A failed mutation rolls the marker back with it, so the next
// delivery of the same event id gets a clean attempt instead of a duplicate.
func (s *PGStore) ApplyEvent(ctx context.Context, orderID, eventID string, mutate func(o *Order) error) (*Order, bool, error) {
	tx, err := s.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, false, err
	}
	defer tx.Rollback(ctx)

	ct, err := tx.Exec(ctx, `
		INSERT INTO order_events(order_id, event_id, processed_at)
		VALUES ($1,$2,now())
		ON CONFLICT (order_id, event_id) DO NOTHING`,
		orderID, eventID)
	if err != nil {
		return nil, false, err
	}
	if ct.RowsAffected() == 0 {
		_ = tx.Rollback(ctx)
		o, err := s.GetByID(ctx, orderID)
		return o, false, err
	}

	o, err := s.getWhere(ctx, tx, `id=$1`, orderID, true)
	if err != nil {
		return nil, false, err
	}
	if err := mutate(o); err != nil {
		return nil, false, err
	}
	if _, err := tx.Exec(ctx, `
		UPDATE orders SET status=$2, payment_status=$3, payment_intent_ref=NULLIF($4,''), updated_at=$5
		WHERE id=$1`,
		orderID, string(o.Status), string(o.PaymentStatus), o.PaymentIntentRef, o.UpdatedAt,
	); err != nil {
		return nil, false, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, false, err
	}
	return o, true, nil
}

func (s *PGStore) ListExpiredPending(ctx context.Context, cutoff time.Time, limit int) ([]*Order, error) {
	rows, err := s.DB.Query(ctx, `
		SELECT id FROM orders
		WHERE status='pending' AND payment_status='pending' AND created_at < $1
		ORDER BY created_at LIMIT $2`, cutoff, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	out := make([]*Order, 0, len(ids))
	for _, id := range ids {
		o, err := s.GetByID(ctx, id)
		if err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, nil
}
