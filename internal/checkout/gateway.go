package checkout

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
)

// ErrGatewayUnavailable marks a gateway timeout or transport failure. The
// reservation made before the gateway call survives it: the caller may retry
// authorization against the same pending order until the expiry sweep.
var ErrGatewayUnavailable = errors.New("payment gateway unavailable")

type PaymentIntent struct {
	Ref          string
	ClientSecret string
}

// Gateway is the external payment processor. Authenticity of its inbound
// events is verified at the transport boundary, not here.
type Gateway interface {
	CreatePaymentIntent(ctx context.Context, amountCents int64, currency string, metadata map[string]string) (PaymentIntent, error)
}

// FakeGateway issues locally generated intents. Local development and tests
// only.
type FakeGateway struct{}

func (FakeGateway) CreatePaymentIntent(ctx context.Context, amountCents int64, currency string, metadata map[string]string) (PaymentIntent, error) {
	ref := "pi_" + uuid.NewString()
	return PaymentIntent{Ref: ref, ClientSecret: ref + "_secret_" + uuid.NewString()[:8]}, nil
}

type instrumentedGateway struct {
	next Gateway
	hist *prometheus.HistogramVec
}

// InstrumentGateway records gateway call latency into hist (label op).
func InstrumentGateway(next Gateway, hist *prometheus.HistogramVec) Gateway {
	return &instrumentedGateway{next: next, hist: hist}
}

func (g *instrumentedGateway) CreatePaymentIntent(ctx context.Context, amountCents int64, currency string, metadata map[string]string) (PaymentIntent, error) {
	start := time.Now()
	pi, err := g.next.CreatePaymentIntent(ctx, amountCents, currency, metadata)
	g.hist.WithLabelValues("create_payment_intent").Observe(float64(time.Since(start).Milliseconds()))
	return pi, err
}
