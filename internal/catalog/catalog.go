package catalog

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"
)

// The catalog and promotion services are external collaborators: the checkout
// core only reads from them through these two contracts.

var (
	ErrProductNotFound = errors.New("product not found")
	ErrVariantNotFound = errors.New("variant not found")
	ErrCodeNotFound    = errors.New("promotion code not found")
)

type Product struct {
	ID        string
	Name      string
	Active    bool
	BasePrice decimal.Decimal
	SalePrice *decimal.Decimal // nil when not on sale
}

type Variant struct {
	ID              string
	ProductID       string
	Name            string
	Active          bool
	PriceAdjustment decimal.Decimal // added to the product unit price
	Attributes      map[string]string
}

type Reader interface {
	GetProduct(ctx context.Context, id string) (Product, error)
	GetVariant(ctx context.Context, id string) (Variant, error)
}

type PromoType string

const (
	PromoPercentage PromoType = "percentage"
	PromoFixed      PromoType = "fixed"
)

type Promotion struct {
	Code     string
	Type     PromoType
	Value    decimal.Decimal // percent (0-100) or fixed amount
	MinOrder decimal.Decimal // subtotal floor for the code to apply
}

type PromoLookup interface {
	ResolveCode(ctx context.Context, code string) (Promotion, error)
}
