package redisx

import "time"

const (
	// Checkout idempotency shortcut: idem:checkout:{external_id} -> order_id
	KeyIdemCheckout = "idem:checkout:%s"

	// Order status cache: order_status:{order_id} -> JSON {"status","payment_status"}
	KeyOrderStatus = "order_status:%s"

	// Payment event dedup fast path: dedup:{service}:{event_id}
	// (the durable record lives with the order store; this just saves a round trip)
	KeyDedup = "dedup:%s:%s"
)

var (
	TTLIdempotency = 24 * time.Hour
	TTLStatusCache = 5 * time.Minute
	TTLDedup       = 48 * time.Hour
)
