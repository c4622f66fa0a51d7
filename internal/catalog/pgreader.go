package catalog

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

// PGReader reads the catalog tables the storefront maintains. This core never
// writes them.
//
// Schema:
//
//	products(id, name, active, base_price_cents, sale_price_cents nullable)
//	variants(id, product_id, name, active, price_adjustment_cents, attributes jsonb)
//	promotions(code, kind, value_cents, pct, min_order_cents)
type PGReader struct{ DB *pgxpool.Pool }

func (r *PGReader) GetProduct(ctx context.Context, id string) (Product, error) {
	var p Product
	var baseCents int64
	var saleCents *int64
	err := r.DB.QueryRow(ctx, `
		SELECT id, name, active, base_price_cents, sale_price_cents
		FROM products WHERE id=$1`, id,
	).Scan(&p.ID, &p.Name, &p.Active, &baseCents, &saleCents)
	if errors.Is(err, pgx.ErrNoRows) {
		return Product{}, ErrProductNotFound
	}
	if err != nil {
		return Product{}, err
	}
	p.BasePrice = decimal.New(baseCents, -2)
	if saleCents != nil {
		sale := decimal.New(*saleCents, -2)
		p.SalePrice = &sale
	}
	return p, nil
}

func (r *PGReader) GetVariant(ctx context.Context, id string) (Variant, error) {
	var v Variant
	var adjCents int64
	var attrs []byte
	err := r.DB.QueryRow(ctx, `
		SELECT id, product_id, name, active, price_adjustment_cents, attributes
		FROM variants WHERE id=$1`, id,
	).Scan(&v.ID, &v.ProductID, &v.Name, &v.Active, &adjCents, &attrs)
	if errors.Is(err, pgx.ErrNoRows) {
		return Variant{}, ErrVariantNotFound
	}
	if err != nil {
		return Variant{}, err
	}
	v.PriceAdjustment = decimal.New(adjCents, -2)
	if len(attrs) > 0 {
		if err := json.Unmarshal(attrs, &v.Attributes); err != nil {
			return Variant{}, err
		}
	}
	return v, nil
}

// PGPromos resolves promotion codes from the promotions table.
type PGPromos struct{ DB *pgxpool.Pool }

func (r *PGPromos) ResolveCode(ctx context.Context, code string) (Promotion, error) {
	var p Promotion
	var kind string
	var valueCents, minCents int64
	var pct *float64
	err := r.DB.QueryRow(ctx, `
		SELECT code, kind, value_cents, pct, min_order_cents
		FROM promotions WHERE code=$1`, code,
	).Scan(&p.Code, &kind, &valueCents, &pct, &minCents)
	if errors.Is(err, pgx.ErrNoRows) {
		return Promotion{}, ErrCodeNotFound
	}
	if err != nil {
		return Promotion{}, err
	}
	p.Type = PromoType(kind)
	if p.Type == PromoPercentage && pct != nil {
		p.Value = decimal.NewFromFloat(*pct)
	} else {
		p.Value = decimal.New(valueCents, -2)
	}
	p.MinOrder = decimal.New(minCents, -2)
	return p, nil
}
