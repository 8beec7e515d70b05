package kafka

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	logtest "github.com/sirupsen/logrus/hooks/test"
)

type fakeReader struct {
	mu       sync.Mutex
	msgs     []kafka.Message
	commits  []int64
	onCommit func(m kafka.Message)
}

func (r *fakeReader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	r.mu.Lock()
	if len(r.msgs) > 0 {
		m := r.msgs[0]
		r.msgs = r.msgs[1:]
		r.mu.Unlock()
		return m, nil
	}
	r.mu.Unlock()
	<-ctx.Done()
	return kafka.Message{}, ctx.Err()
}

func (r *fakeReader) CommitMessages(_ context.Context, msgs ...kafka.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, m := range msgs {
		if r.onCommit != nil {
			r.onCommit(m)
		}
		r.commits = append(r.commits, m.Offset)
	}
	return nil
}

func (r *fakeReader) Close() error { return nil }

func (r *fakeReader) committed() []int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]int64(nil), r.commits...)
}

func TestConsumerRetriesFailedMessageBeforeCommitting(t *testing.T) {
	var (
		mu       sync.Mutex
		attempts = map[int64]int{}
		firstOK  bool
	)
	r := &fakeReader{msgs: []kafka.Message{
		{Partition: 0, Offset: 10, Key: []byte("order-a")},
		{Partition: 0, Offset: 11, Key: []byte("order-b")},
	}}
	violated := false
	r.onCommit = func(kafka.Message) {
		mu.Lock()
		defer mu.Unlock()
		if !firstOK {
			violated = true
		}
	}

	log, _ := logtest.NewNullLogger()
	c := newConsumer(r, 4, log)
	c.minBackoff, c.maxBackoff = time.Millisecond, 2*time.Millisecond

	h := func(_ context.Context, m kafka.Message) error {
		mu.Lock()
		defer mu.Unlock()
		attempts[m.Offset]++
		if m.Offset == 10 && attempts[m.Offset] < 3 {
			return errors.New("store unavailable")
		}
		if m.Offset == 10 {
			firstOK = true
		}
		return nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Start(ctx, h) }()

	deadline := time.After(2 * time.Second)
	for {
		got := r.committed()
		if len(got) > 0 && got[len(got)-1] == 11 {
			break
		}
		select {
		case <-deadline:
			cancel()
			t.Fatalf("offset 11 never committed, commits = %v", got)
		case <-time.After(time.Millisecond):
		}
	}
	cancel()
	if err := <-done; err != nil {
		t.Fatalf("Start() = %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if attempts[10] != 3 {
		t.Fatalf("offset 10 handled %d times, want 3", attempts[10])
	}
	if violated {
		t.Fatalf("committed before offset 10 succeeded: %v", r.committed())
	}
}

func TestCommitTrackerCommitsContiguousOffsets(t *testing.T) {
	r := &fakeReader{}
	log, _ := logtest.NewNullLogger()
	tr := &commitTracker{r: r, log: log}
	ctx := context.Background()

	p0 := tr.add(kafka.Message{Partition: 1, Offset: 0})
	p1 := tr.add(kafka.Message{Partition: 1, Offset: 1})
	p2 := tr.add(kafka.Message{Partition: 1, Offset: 2})
	other := tr.add(kafka.Message{Partition: 2, Offset: 7})

	tr.done(ctx, p1)
	if got := r.committed(); len(got) != 0 {
		t.Fatalf("committed past an unfinished offset: %v", got)
	}
	tr.done(ctx, other)
	tr.done(ctx, p0)
	tr.done(ctx, p2)

	want := []int64{7, 1, 2}
	got := r.committed()
	if len(got) != len(want) {
		t.Fatalf("commits = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("commits = %v, want %v", got, want)
		}
	}
}
