package kafka

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"
)

// Handler must return nil only when processing succeeded and the offset may
// be committed.
type Handler func(ctx context.Context, m kafka.Message) error

type Consumer struct {
	r       *kafka.Reader
	workers int
}

func NewConsumer(brokers []string, group, topic string, workers int) *Consumer {
	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:        brokers,
		GroupID:        group,
		Topic:          topic,
		MinBytes:       1,
		MaxBytes:       10e6,
		CommitInterval: 0, // manual commit
	})
	if workers <= 0 {
		workers = 1
	}
	return &Consumer{r: r, workers: workers}
}

// Start fetches messages and fans them out to the worker pool. Offsets are
// committed strictly in fetch order per partition: a message's offset only
// goes out once every earlier message of its partition has been handled, so a
// slow or failing message never has its offset skipped over by a later
// success. Handler failures are retried with backoff until they succeed or
// the context is cancelled; anything unhandled at shutdown is redelivered to
// the group.
func (c *Consumer) Start(ctx context.Context, h Handler) error {
	defer c.r.Close()

	jobs := make(chan kafka.Message, 4*c.workers)
	tr := newOffsetTracker()
	var wg sync.WaitGroup

	for i := 0; i < c.workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for m := range jobs {
				for {
					err := h(ctx, m)
					if err == nil {
						break
					}
					slog.Error("consumer handler error, retrying",
						"topic", c.r.Config().Topic, "partition", m.Partition, "offset", m.Offset, "error", err)
					select {
					case <-ctx.Done():
						return
					case <-time.After(200 * time.Millisecond):
					}
				}
				if err := tr.complete(m, func(batch []kafka.Message) error {
					return c.r.CommitMessages(ctx, batch...)
				}); err != nil {
					slog.Error("offset commit failed",
						"topic", c.r.Config().Topic, "partition", m.Partition, "offset", m.Offset, "error", err)
				}
			}
		}()
	}

	for {
		m, err := c.r.FetchMessage(ctx)
		if err != nil {
			close(jobs)
			select {
			case <-ctx.Done():
				wg.Wait()
				return nil
			default:
				// workers drain on their own; uncommitted offsets redeliver
				return err
			}
		}
		tr.add(m)
		select {
		case jobs <- m:
		case <-ctx.Done():
			close(jobs)
			wg.Wait()
			return nil
		}
	}
}

// offsetTracker keeps per-partition fetch order so completions arriving out
// of order from the pool are committed as a contiguous prefix.
type offsetTracker struct {
	mu      sync.Mutex
	pending map[int][]kafka.Message
	handled map[int]map[int64]bool
}

func newOffsetTracker() *offsetTracker {
	return &offsetTracker{
		pending: map[int][]kafka.Message{},
		handled: map[int]map[int64]bool{},
	}
}

func (t *offsetTracker) add(m kafka.Message) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.pending[m.Partition] = append(t.pending[m.Partition], m)
}

// complete marks m handled and, when a prefix of its partition's fetch order
// is now fully handled, passes that prefix to commit. The commit runs under
// the tracker lock so batches for one partition cannot reorder in flight.
func (t *offsetTracker) complete(m kafka.Message, commit func([]kafka.Message) error) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	h := t.handled[m.Partition]
	if h == nil {
		h = map[int64]bool{}
		t.handled[m.Partition] = h
	}
	h[m.Offset] = true

	q := t.pending[m.Partition]
	var ready []kafka.Message
	for len(q) > 0 && h[q[0].Offset] {
		delete(h, q[0].Offset)
		ready = append(ready, q[0])
		q = q[1:]
	}
	if len(ready) == 0 {
		return nil
	}
	if err := commit(ready); err != nil {
		// put the prefix back so a later completion retries the commit
		t.pending[m.Partition] = append(ready, q...)
		for _, r := range ready {
			h[r.Offset] = true
		}
		return err
	}
	t.pending[m.Partition] = q
	return nil
}
