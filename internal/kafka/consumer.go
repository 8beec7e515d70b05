package kafka

import (
	"context"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/sirupsen/logrus"
)

// Handler must return nil only when processing succeeded and the offset may
// be committed. A non-nil error means the message is tried again.
type Handler func(ctx context.Context, m kafka.Message) error

// reader is the part of *kafka.Reader the consumer uses.
type reader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type Consumer struct {
	r       reader
	workers int
	log     logrus.FieldLogger

	// retry backoff bounds for a failing handler
	minBackoff time.Duration
	maxBackoff time.Duration
}

func NewConsumer(brokers []string, group, topic string, workers int, log logrus.FieldLogger) *Consumer {
	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:        brokers,
		GroupID:        group,
		Topic:          topic,
		MinBytes:       1,
		MaxBytes:       10e6,
		CommitInterval: 0, // manual commit
	})
	return newConsumer(r, workers, log)
}

func newConsumer(r reader, workers int, log logrus.FieldLogger) *Consumer {
	if workers <= 0 {
		workers = 1
	}
	return &Consumer{
		r:          r,
		workers:    workers,
		log:        log,
		minBackoff: 200 * time.Millisecond,
		maxBackoff: 10 * time.Second,
	}
}

// Start fetches messages and fans them out to the workers. Messages of one
// key go to the same worker so an order's events are applied in order. A
// failing message is retried until it succeeds or ctx ends, and offsets are
// committed only once every earlier message of the partition is done.
func (c *Consumer) Start(ctx context.Context, h Handler) error {
	defer c.r.Close()

	commits := &commitTracker{r: c.r, log: c.log}
	jobs := make([]chan *pending, c.workers)
	var wg sync.WaitGroup
	for i := range jobs {
		jobs[i] = make(chan *pending, 128)
		wg.Add(1)
		go func(id int, in <-chan *pending) {
			defer wg.Done()
			for p := range in {
				if !c.handle(ctx, id, h, p.m) {
					continue
				}
				commits.done(ctx, p)
			}
		}(i, jobs[i])
	}
	stop := func() {
		for _, ch := range jobs {
			close(ch)
		}
		wg.Wait()
	}

	for {
		m, err := c.r.FetchMessage(ctx)
		if err != nil {
			stop()
			select {
			case <-ctx.Done():
				return nil
			default:
				return err
			}
		}
		p := commits.add(m)
		select {
		case jobs[workerFor(m.Key, c.workers)] <- p:
		case <-ctx.Done():
			stop()
			return nil
		}
	}
}

// handle runs h until it succeeds. It reports false when ctx ended first.
func (c *Consumer) handle(ctx context.Context, worker int, h Handler, m kafka.Message) bool {
	backoff := c.minBackoff
	for attempt := 1; ; attempt++ {
		if ctx.Err() != nil {
			return false
		}
		err := h(ctx, m)
		if err == nil {
			return true
		}
		c.log.WithFields(logrus.Fields{
			"module":    "kafka",
			"worker":    worker,
			"topic":     m.Topic,
			"partition": m.Partition,
			"offset":    m.Offset,
			"attempt":   attempt,
		}).WithError(err).Error("handler failed, retrying")

		select {
		case <-ctx.Done():
			return false
		case <-time.After(backoff):
		}
		backoff = min(backoff*2, c.maxBackoff)
	}
}

type pending struct {
	m    kafka.Message
	done bool
}

// commitTracker keeps fetched messages per partition in fetch order and
// commits the newest message whose predecessors are all done.
type commitTracker struct {
	r   reader
	log logrus.FieldLogger

	mu    sync.Mutex
	parts map[int][]*pending
}

func (t *commitTracker) add(m kafka.Message) *pending {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.parts == nil {
		t.parts = make(map[int][]*pending)
	}
	p := &pending{m: m}
	t.parts[m.Partition] = append(t.parts[m.Partition], p)
	return p
}

// done marks p handled and commits. The commit runs under the lock so
// offsets of a partition never go backwards.
func (t *commitTracker) done(ctx context.Context, p *pending) {
	t.mu.Lock()
	defer t.mu.Unlock()
	p.done = true

	queue := t.parts[p.m.Partition]
	n := 0
	for n < len(queue) && queue[n].done {
		n++
	}
	if n == 0 {
		return
	}
	last := queue[n-1].m
	t.parts[p.m.Partition] = queue[n:]
	if err := t.r.CommitMessages(ctx, last); err != nil && ctx.Err() == nil {
		t.log.WithFields(logrus.Fields{
			"module":    "kafka",
			"partition": last.Partition,
			"offset":    last.Offset,
		}).WithError(err).Error("commit failed")
	}
}

func workerFor(key []byte, workers int) int {
	var h uint32 = 2166136261
	for _, b := range key {
		h ^= uint32(b)
		h *= 16777619
	}
	return int(h % uint32(workers))
}
