package kafka

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"
)

// Producer wraps an async kafka writer behind an inbox channel so callers can
// publish without blocking on the broker. Delivery is fire-and-forget; write
// errors are logged, never surfaced.
type Producer struct {
	w         *kafka.Writer
	inbox     chan kafka.Message
	closeIn   sync.Once
	closeCh   chan struct{}
	closeDone sync.Once
}

func NewProducer(brokers []string, topic string, buf int) *Producer {
	return &Producer{
		w: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequireAll,
			Async:        true,
		},
		inbox:   make(chan kafka.Message, buf),
		closeCh: make(chan struct{}),
	}
}

func (p *Producer) Start(ctx context.Context) {
	go func() {
		defer func() {
			_ = p.w.Close()
			p.closeDone.Do(func() { close(p.closeCh) })
		}()
		for {
			select {
			case <-ctx.Done():
				p.Close()
				for m := range p.inbox {
					p.write(m)
				}
				return
			case m, ok := <-p.inbox:
				if !ok {
					return
				}
				p.write(m)
			}
		}
	}()
}

func (p *Producer) write(m kafka.Message) {
	if err := p.w.WriteMessages(context.Background(), m); err != nil {
		slog.Error("kafka write failed", "topic", p.w.Topic, "error", err)
	}
}

func (p *Producer) Publish(key, value []byte, headers ...kafka.Header) {
	p.inbox <- kafka.Message{
		Key:     key,
		Value:   value,
		Time:    time.Now(),
		Headers: headers,
	}
}

// Close stops accepting messages; the flush loop drains what is queued and exits.
func (p *Producer) Close() { p.closeIn.Do(func() { close(p.inbox) }) }

// WaitClosed blocks until the flush loop has finished.
func (p *Producer) WaitClosed() { <-p.closeCh }
