package orders

import "time"

type Customer struct {
	Name  string `json:"name"`
	Email string `json:"email"`
	Phone string `json:"phone,omitempty"`
}

type Address struct {
	Line1      string `json:"line1"`
	Line2      string `json:"line2,omitempty"`
	City       string `json:"city"`
	Region     string `json:"region"`
	PostalCode string `json:"postal_code"`
	Country    string `json:"country"`
}

// OrderItem snapshots the product at order-creation time: name, attributes
// and unit price are copied from the calculated quote, so later catalog edits
// cannot alter a historical order.
type OrderItem struct {
	ProductID      string            `json:"product_id"`
	VariantID      string            `json:"variant_id,omitempty"`
	Name           string            `json:"name"`
	Attributes     map[string]string `json:"attributes,omitempty"`
	Qty            int               `json:"qty"`
	UnitPriceCents int64             `json:"unit_price_cents"`
	LineTotalCents int64             `json:"line_total_cents"`
}

type Order struct {
	ID               string        `json:"id"`
	Number           string        `json:"number"`
	ExternalID       string        `json:"external_id,omitempty"`
	Customer         Customer      `json:"customer"`
	ShippingAddress  Address       `json:"shipping_address"`
	ShippingMethod   string        `json:"shipping_method"`
	Status           Status        `json:"status"`
	PaymentStatus    PaymentStatus `json:"payment_status"`
	PaymentIntentRef string        `json:"payment_intent_ref,omitempty"`
	SubtotalCents    int64         `json:"subtotal_cents"`
	TaxCents         int64         `json:"tax_cents"`
	ShippingCents    int64         `json:"shipping_cents"`
	DiscountCents    int64         `json:"discount_cents"`
	TotalCents       int64         `json:"total_cents"`
	Currency         string        `json:"currency"`
	Items            []OrderItem   `json:"items"`
	CreatedAt        time.Time     `json:"created_at"`
	UpdatedAt        time.Time     `json:"updated_at"`
}

// Terminal reports whether the order accepts no further status transitions.
func (o *Order) Terminal() bool {
	return o.Status == StatusDelivered || o.Status == StatusCancelled
}
