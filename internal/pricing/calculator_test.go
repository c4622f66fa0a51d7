package pricing

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/mtaufanr/go-merch-checkout/internal/catalog"
	"github.com/mtaufanr/go-merch-checkout/internal/inventory"
)

func newCalc(t *testing.T) (*Calculator, *catalog.MemReader, *catalog.MemPromos, *inventory.MemStore) {
	t.Helper()
	cat := catalog.NewMemReader()
	promos := catalog.NewMemPromos()
	stock := inventory.NewMemStore()
	calc := &Calculator{Catalog: cat, Promos: promos, Stock: stock, Rules: DefaultRules()}
	return calc, cat, promos, stock
}

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

func seedProduct(cat *catalog.MemReader, stock *inventory.MemStore, id, price string, avail int) {
	cat.PutProduct(catalog.Product{ID: id, Name: "Tee " + id, Active: true, BasePrice: dec(price)})
	stock.Seed(id, "", avail)
}

var domesticCA = Destination{Country: "US", Region: "CA"}

func TestScenarioDomesticStandardNoPromo(t *testing.T) {
	// $45.00 subtotal, US/CA, standard shipping, no promo:
	// tax 45.00*0.0875=3.94 rounded, shipping 5.99 (below threshold), total 54.93
	calc, cat, _, stock := newCalc(t)
	seedProduct(cat, stock, "p1", "15.00", 10)

	got, err := calc.Calculate(context.Background(), []CartLine{{ProductID: "p1", Qty: 3}}, domesticCA, "standard", "")
	if err != nil {
		t.Fatalf("calculate: %v", err)
	}
	check := func(name string, d decimal.Decimal, want string) {
		t.Helper()
		if d.StringFixed(2) != want {
			t.Fatalf("%s = %s, want %s", name, d.StringFixed(2), want)
		}
	}
	check("subtotal", got.Subtotal, "45.00")
	check("tax", got.Tax, "3.94")
	check("shipping", got.Shipping, "5.99")
	check("discount", got.Discount, "0.00")
	check("total", got.Total, "54.93")
}

func TestDeterminism(t *testing.T) {
	calc, cat, promos, stock := newCalc(t)
	seedProduct(cat, stock, "p1", "19.99", 10)
	promos.Put(catalog.Promotion{Code: "SAVE10", Type: catalog.PromoPercentage, Value: dec("10"), MinOrder: dec("20")})

	lines := []CartLine{{ProductID: "p1", Qty: 3}}
	a, err := calc.Calculate(context.Background(), lines, domesticCA, "standard", "SAVE10")
	if err != nil {
		t.Fatalf("first: %v", err)
	}
	b, err := calc.Calculate(context.Background(), lines, domesticCA, "standard", "SAVE10")
	if err != nil {
		t.Fatalf("second: %v", err)
	}
	if a.Total.StringFixed(2) != b.Total.StringFixed(2) ||
		a.Tax.StringFixed(2) != b.Tax.StringFixed(2) ||
		a.Discount.StringFixed(2) != b.Discount.StringFixed(2) {
		t.Fatalf("repeated calculation disagrees: %+v vs %+v", a, b)
	}
}

func TestSalePriceAndVariantAdjustment(t *testing.T) {
	calc, cat, _, stock := newCalc(t)
	sale := dec("12.00")
	cat.PutProduct(catalog.Product{ID: "p1", Name: "Hoodie", Active: true, BasePrice: dec("20.00"), SalePrice: &sale})
	cat.PutVariant(catalog.Variant{ID: "v1", ProductID: "p1", Name: "XL", Active: true,
		PriceAdjustment: dec("2.50"), Attributes: map[string]string{"size": "XL"}})
	stock.Seed("p1", "v1", 5)

	got, err := calc.Calculate(context.Background(), []CartLine{{ProductID: "p1", VariantID: "v1", Qty: 2}}, domesticCA, "standard", "")
	if err != nil {
		t.Fatalf("calculate: %v", err)
	}
	// sale price wins over base, then the variant adjustment applies
	if got.Lines[0].UnitPrice.StringFixed(2) != "14.50" {
		t.Fatalf("unit price = %s, want 14.50", got.Lines[0].UnitPrice.StringFixed(2))
	}
	if got.Lines[0].Name != "Hoodie / XL" {
		t.Fatalf("line name = %q", got.Lines[0].Name)
	}
	if got.Subtotal.StringFixed(2) != "29.00" {
		t.Fatalf("subtotal = %s", got.Subtotal.StringFixed(2))
	}
}

func TestFreeShippingThreshold(t *testing.T) {
	calc, cat, _, stock := newCalc(t)
	seedProduct(cat, stock, "p1", "25.00", 10)

	got, err := calc.Calculate(context.Background(), []CartLine{{ProductID: "p1", Qty: 2}}, domesticCA, "standard", "")
	if err != nil {
		t.Fatalf("calculate: %v", err)
	}
	if !got.Shipping.IsZero() {
		t.Fatalf("shipping = %s above threshold", got.Shipping.StringFixed(2))
	}
}

func TestInternationalZeroTaxAndFee(t *testing.T) {
	calc, cat, _, stock := newCalc(t)
	seedProduct(cat, stock, "p1", "10.00", 10)

	got, err := calc.Calculate(context.Background(), []CartLine{{ProductID: "p1", Qty: 1}},
		Destination{Country: "DE", Region: "BE"}, "standard", "")
	if err != nil {
		t.Fatalf("calculate: %v", err)
	}
	if !got.Tax.IsZero() {
		t.Fatalf("non-domestic tax = %s, want 0", got.Tax.StringFixed(2))
	}
	if got.Shipping.StringFixed(2) != "19.99" {
		t.Fatalf("international shipping = %s, want 19.99", got.Shipping.StringFixed(2))
	}
}

func TestUnknownRegionFallbackRate(t *testing.T) {
	calc, cat, _, stock := newCalc(t)
	seedProduct(cat, stock, "p1", "100.00", 10)

	got, err := calc.Calculate(context.Background(), []CartLine{{ProductID: "p1", Qty: 1}},
		Destination{Country: "US", Region: "ZZ"}, "standard", "")
	if err != nil {
		t.Fatalf("calculate: %v", err)
	}
	if got.Tax.StringFixed(2) != "6.00" {
		t.Fatalf("fallback tax = %s, want 6.00", got.Tax.StringFixed(2))
	}
}

func TestPromoRejectionsAreNotErrors(t *testing.T) {
	calc, cat, promos, stock := newCalc(t)
	seedProduct(cat, stock, "p1", "10.00", 10)
	promos.Put(catalog.Promotion{Code: "BIG50", Type: catalog.PromoFixed, Value: dec("50"), MinOrder: dec("100")})

	t.Run("unknown code", func(t *testing.T) {
		got, err := calc.Calculate(context.Background(), []CartLine{{ProductID: "p1", Qty: 1}}, domesticCA, "standard", "NOPE")
		if err != nil {
			t.Fatalf("calculate: %v", err)
		}
		if !got.Discount.IsZero() || got.DiscountReason == "" {
			t.Fatalf("expected zero discount with reason, got %s %q", got.Discount, got.DiscountReason)
		}
	})

	t.Run("minimum not met", func(t *testing.T) {
		got, err := calc.Calculate(context.Background(), []CartLine{{ProductID: "p1", Qty: 2}}, domesticCA, "standard", "BIG50")
		if err != nil {
			t.Fatalf("calculate: %v", err)
		}
		if !got.Discount.IsZero() || got.DiscountReason == "" {
			t.Fatalf("expected zero discount with reason, got %s %q", got.Discount, got.DiscountReason)
		}
	})
}

func TestTotalFlooredAtZero(t *testing.T) {
	calc, cat, promos, stock := newCalc(t)
	seedProduct(cat, stock, "p1", "60.00", 10) // free shipping, so discount can exceed total
	promos.Put(catalog.Promotion{Code: "HUGE", Type: catalog.PromoFixed, Value: dec("500"), MinOrder: dec("0")})

	got, err := calc.Calculate(context.Background(), []CartLine{{ProductID: "p1", Qty: 1}}, domesticCA, "standard", "HUGE")
	if err != nil {
		t.Fatalf("calculate: %v", err)
	}
	if !got.Total.IsZero() {
		t.Fatalf("total = %s, want 0.00", got.Total.StringFixed(2))
	}
}

func TestValidationFailures(t *testing.T) {
	calc, cat, _, stock := newCalc(t)
	seedProduct(cat, stock, "p1", "10.00", 2)
	cat.PutProduct(catalog.Product{ID: "dead", Name: "Retired", Active: false, BasePrice: dec("5.00")})
	stock.Seed("dead", "", 5)

	cases := []struct {
		name  string
		lines []CartLine
	}{
		{"empty cart", nil},
		{"zero qty", []CartLine{{ProductID: "p1", Qty: 0}}},
		{"qty above cap", []CartLine{{ProductID: "p1", Qty: 51}}},
		{"unknown product", []CartLine{{ProductID: "ghost", Qty: 1}}},
		{"inactive product", []CartLine{{ProductID: "dead", Qty: 1}}},
		{"exceeds stock", []CartLine{{ProductID: "p1", Qty: 3}}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := calc.Calculate(context.Background(), tc.lines, domesticCA, "standard", "")
			var ve *ValidationError
			if !errors.As(err, &ve) {
				t.Fatalf("expected ValidationError, got %v", err)
			}
		})
	}

	t.Run("unknown shipping method", func(t *testing.T) {
		_, err := calc.Calculate(context.Background(), []CartLine{{ProductID: "p1", Qty: 1}}, domesticCA, "pigeon", "")
		var ve *ValidationError
		if !errors.As(err, &ve) {
			t.Fatalf("expected ValidationError, got %v", err)
		}
	})
}
