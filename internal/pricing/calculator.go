package pricing

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/mtaufanr/go-merch-checkout/internal/catalog"
	"github.com/mtaufanr/go-merch-checkout/internal/inventory"
	"github.com/mtaufanr/go-merch-checkout/internal/money"
)

const (
	MinLineQty = 1
	MaxLineQty = 50
)

type CartLine struct {
	ProductID string `json:"product_id"`
	VariantID string `json:"variant_id,omitempty"`
	Qty       int    `json:"qty"`
}

type Destination struct {
	Country string `json:"country"`
	Region  string `json:"region"`
}

// ValidationError is the caller's fault: bad input shape or an unsellable
// line. No side effects have happened when it is returned.
type ValidationError struct {
	Line int // index into the cart, -1 when not line-specific
	Msg  string
}

func (e *ValidationError) Error() string {
	if e.Line < 0 {
		return "invalid cart: " + e.Msg
	}
	return fmt.Sprintf("invalid cart line %d: %s", e.Line, e.Msg)
}

type PricedLine struct {
	ProductID  string
	VariantID  string
	Name       string
	Attributes map[string]string
	Qty        int
	UnitPrice  decimal.Decimal
	LineTotal  decimal.Decimal
}

type Totals struct {
	Lines          []PricedLine
	Subtotal       decimal.Decimal
	Tax            decimal.Decimal
	Shipping       decimal.Decimal
	Discount       decimal.Decimal
	Total          decimal.Decimal
	PromoCode      string
	DiscountReason string // set when a promo code resolved to no discount
	Currency       string
}

type StockReader interface {
	Stock(ctx context.Context, productID, variantID string) (inventory.StockLevel, error)
}

type ShippingFee struct {
	Domestic      decimal.Decimal
	International decimal.Decimal
}

// Rules holds the pluggable rate tables. TaxRates is keyed country/region;
// unrecognized domestic regions fall back to FallbackRate, non-domestic
// destinations are zero-rated by default policy.
type Rules struct {
	DomesticCountry       string
	TaxRates              map[string]decimal.Decimal
	FallbackRate          decimal.Decimal
	FreeShippingThreshold decimal.Decimal
	ShippingFees          map[string]ShippingFee
	Currency              string
}

func DefaultRules() Rules {
	return Rules{
		DomesticCountry: "US",
		TaxRates: map[string]decimal.Decimal{
			"US/CA": decimal.NewFromFloat(0.0875),
			"US/NY": decimal.NewFromFloat(0.08),
			"US/TX": decimal.NewFromFloat(0.0625),
		},
		FallbackRate:          decimal.NewFromFloat(0.06),
		FreeShippingThreshold: decimal.NewFromInt(50),
		ShippingFees: map[string]ShippingFee{
			"standard": {Domestic: decimal.NewFromFloat(5.99), International: decimal.NewFromFloat(19.99)},
			"express":  {Domestic: decimal.NewFromFloat(14.99), International: decimal.NewFromFloat(39.99)},
		},
		Currency: "USD",
	}
}

// Calculator derives totals from cart lines and a destination. It reads the
// catalog, stock and promo tables but mutates nothing, and carries no clock
// or randomness: identical inputs give identical totals, so the quote-time
// and confirmation-time calls agree.
type Calculator struct {
	Catalog catalog.Reader
	Promos  catalog.PromoLookup
	Stock   StockReader
	Rules   Rules
}

func (c *Calculator) Calculate(ctx context.Context, lines []CartLine, dest Destination, method, promoCode string) (Totals, error) {
	if len(lines) == 0 {
		return Totals{}, &ValidationError{Line: -1, Msg: "cart is empty"}
	}
	if _, ok := c.Rules.ShippingFees[method]; !ok {
		return Totals{}, &ValidationError{Line: -1, Msg: "unknown shipping method: " + method}
	}

	out := Totals{Currency: c.Rules.Currency, PromoCode: promoCode}
	subtotal := decimal.Zero

	for i, ln := range lines {
		if ln.Qty < MinLineQty || ln.Qty > MaxLineQty {
			return Totals{}, &ValidationError{Line: i, Msg: fmt.Sprintf("quantity %d outside %d-%d", ln.Qty, MinLineQty, MaxLineQty)}
		}
		p, err := c.Catalog.GetProduct(ctx, ln.ProductID)
		if err != nil {
			if errors.Is(err, catalog.ErrProductNotFound) {
				return Totals{}, &ValidationError{Line: i, Msg: "unknown product " + ln.ProductID}
			}
			return Totals{}, err
		}
		if !p.Active {
			return Totals{}, &ValidationError{Line: i, Msg: "product " + ln.ProductID + " is not for sale"}
		}

		unit := p.BasePrice
		if p.SalePrice != nil && p.SalePrice.LessThan(unit) {
			unit = *p.SalePrice
		}

		name := p.Name
		var attrs map[string]string
		if ln.VariantID != "" {
			v, err := c.Catalog.GetVariant(ctx, ln.VariantID)
			if err != nil {
				if errors.Is(err, catalog.ErrVariantNotFound) {
					return Totals{}, &ValidationError{Line: i, Msg: "unknown variant " + ln.VariantID}
				}
				return Totals{}, err
			}
			if v.ProductID != ln.ProductID {
				return Totals{}, &ValidationError{Line: i, Msg: "variant " + ln.VariantID + " does not belong to product " + ln.ProductID}
			}
			if !v.Active {
				return Totals{}, &ValidationError{Line: i, Msg: "variant " + ln.VariantID + " is not for sale"}
			}
			unit = unit.Add(v.PriceAdjustment)
			name = p.Name + " / " + v.Name
			attrs = v.Attributes
		}

		// read-only availability check; reservation happens at checkout
		lvl, err := c.Stock.Stock(ctx, ln.ProductID, ln.VariantID)
		if err != nil {
			if errors.Is(err, inventory.ErrRecordNotFound) {
				return Totals{}, &ValidationError{Line: i, Msg: "no stock record for product " + ln.ProductID}
			}
			return Totals{}, err
		}
		if ln.Qty > lvl.Available {
			return Totals{}, &ValidationError{Line: i, Msg: fmt.Sprintf("only %d in stock", lvl.Available)}
		}

		unit = money.RoundCurrency(unit)
		lineTotal := unit.Mul(decimal.NewFromInt(int64(ln.Qty)))
		out.Lines = append(out.Lines, PricedLine{
			ProductID: ln.ProductID, VariantID: ln.VariantID,
			Name: name, Attributes: attrs,
			Qty: ln.Qty, UnitPrice: unit, LineTotal: lineTotal,
		})
		subtotal = subtotal.Add(lineTotal)
	}

	out.Subtotal = money.RoundCurrency(subtotal)
	out.Tax = money.RoundCurrency(out.Subtotal.Mul(c.taxRate(dest)))
	out.Shipping = c.shippingFee(out.Subtotal, dest, method)

	out.Discount, out.DiscountReason = c.discount(ctx, out.Subtotal, promoCode)
	out.Total = money.RoundCurrency(money.ClampFloor(
		out.Subtotal.Add(out.Tax).Add(out.Shipping).Sub(out.Discount)))
	return out, nil
}

func (c *Calculator) taxRate(dest Destination) decimal.Decimal {
	if dest.Country != c.Rules.DomesticCountry {
		return decimal.Zero
	}
	if rate, ok := c.Rules.TaxRates[dest.Country+"/"+dest.Region]; ok {
		return rate
	}
	return c.Rules.FallbackRate
}

func (c *Calculator) shippingFee(subtotal decimal.Decimal, dest Destination, method string) decimal.Decimal {
	if subtotal.GreaterThanOrEqual(c.Rules.FreeShippingThreshold) {
		return decimal.Zero
	}
	fee := c.Rules.ShippingFees[method]
	if dest.Country == c.Rules.DomesticCountry {
		return fee.Domestic
	}
	return fee.International
}

// discount resolves the promo code. Unknown codes and unmet minimums are not
// errors: the quote proceeds with amount=0 and a reason the UI can show.
func (c *Calculator) discount(ctx context.Context, subtotal decimal.Decimal, code string) (decimal.Decimal, string) {
	if code == "" {
		return decimal.Zero, ""
	}
	promo, err := c.Promos.ResolveCode(ctx, code)
	if err != nil {
		return decimal.Zero, "promo code " + code + " is not valid"
	}
	if subtotal.LessThan(promo.MinOrder) {
		return decimal.Zero, fmt.Sprintf("promo code %s requires a minimum order of %s", code, promo.MinOrder.StringFixed(2))
	}
	switch promo.Type {
	case catalog.PromoPercentage:
		return money.RoundCurrency(subtotal.Mul(promo.Value).Div(decimal.NewFromInt(100))), ""
	case catalog.PromoFixed:
		return money.RoundCurrency(promo.Value), ""
	default:
		return decimal.Zero, "promo code " + code + " is not valid"
	}
}
