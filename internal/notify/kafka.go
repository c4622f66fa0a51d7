package notify

import (
	"context"
	"time"

	"github.com/google/uuid"
	kafkago "github.com/segmentio/kafka-go"

	kafkax "github.com/mtaufanr/go-merch-checkout/internal/kafka"
)

const TopicEmail = "notify.email"

type envelope struct {
	EventID    string       `json:"event_id"`
	EventType  string       `json:"event_type"`
	OccurredAt time.Time    `json:"occurred_at"`
	Producer   string       `json:"producer"`
	Payload    Notification `json:"payload"`
}

// KafkaDispatcher publishes notifications to the email topic through the
// async producer; the producer logs broker errors and drops.
type KafkaDispatcher struct {
	Producer *kafkax.Producer
	Service  string
}

func (d *KafkaDispatcher) Dispatch(ctx context.Context, n Notification) {
	ev := envelope{
		EventID:    uuid.NewString(),
		EventType:  "Notification",
		OccurredAt: time.Now().UTC(),
		Producer:   d.Service,
		Payload:    n,
	}
	d.Producer.Publish([]byte(n.OrderNumber), kafkax.MustMarshal(ev),
		kafkago.Header{Key: "x-notify-kind", Value: []byte(n.Kind)},
	)
}
