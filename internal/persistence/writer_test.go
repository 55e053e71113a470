package persistence

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/spigell/careerhub/internal/activity"
	"github.com/spigell/careerhub/internal/stats"
)

type recordingStore struct {
	mu      sync.Mutex
	applied map[string][]Update
	err     error
	block   chan struct{}
}

func newRecordingStore() *recordingStore {
	return &recordingStore{applied: make(map[string][]Update)}
}

func (s *recordingStore) Find(context.Context, string) (*User, error) { return nil, ErrNotFound }

func (s *recordingStore) Apply(_ context.Context, identity string, update Update) (*User, error) {
	if s.block != nil {
		<-s.block
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	s.applied[identity] = append(s.applied[identity], update)
	return &User{Email: identity}, nil
}

func (s *recordingStore) Close() error { return nil }

func (s *recordingStore) updates(identity string) []Update {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Update(nil), s.applied[identity]...)
}

func TestWriterKeepsPerIdentityOrder(t *testing.T) {
	store := newRecordingStore()
	w := NewWriter(store, WriterConfig{Workers: 4, QueueSize: 64}, zap.NewNop())
	w.Start(context.Background())

	for i := 0; i < 20; i++ {
		w.AppendActivity("a@x.com", activity.Entry{Seq: uint64(i)})
		w.IncrementCounter("b@x.com", stats.MetricSkills, 1)
	}
	w.Stop()

	got := store.updates("a@x.com")
	require.Len(t, got, 20)
	for i, u := range got {
		assert.Equal(t, uint64(i), u.Prepend[0].Seq)
	}
	assert.Len(t, store.updates("b@x.com"), 20)
}

func TestWriterSkipsAnonymous(t *testing.T) {
	store := newRecordingStore()
	w := NewWriter(store, WriterConfig{Workers: 1}, zap.NewNop())
	w.Start(context.Background())

	w.IncrementCounter("", stats.MetricResumes, 1)
	w.IncrementCounter(stats.AnonymousIdentity, stats.MetricResumes, 1)
	w.Stop()

	assert.Empty(t, store.updates(""))
	assert.Empty(t, store.updates(stats.AnonymousIdentity))
}

func TestWriterLogsFailures(t *testing.T) {
	core, observed := observer.New(zapcore.WarnLevel)
	store := newRecordingStore()
	store.err = errors.New("disk full")

	w := NewWriter(store, WriterConfig{Workers: 1, Timeout: time.Second}, zap.New(core))
	w.Start(context.Background())
	w.IncrementCounter("a@x.com", stats.MetricCourses, 1)
	w.Stop()

	entries := observed.FilterMessage("durable write failed").All()
	require.Len(t, entries, 1)
	assert.Equal(t, "a@x.com", entries[0].ContextMap()["identity"])
}

func TestWriterDropsWhenFullOrStopped(t *testing.T) {
	core, observed := observer.New(zapcore.WarnLevel)
	store := newRecordingStore()
	store.block = make(chan struct{})

	w := NewWriter(store, WriterConfig{Workers: 1, QueueSize: 1}, zap.New(core))
	w.Start(context.Background())

	// One write is held by the blocked store, one waits in the queue, the
	// rest must not block the caller.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 10; i++ {
			w.IncrementCounter("a@x.com", stats.MetricCourses, 1)
		}
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("enqueue blocked on a full queue")
	}

	close(store.block)
	w.Stop()
	w.IncrementCounter("a@x.com", stats.MetricCourses, 1)

	assert.NotEmpty(t, observed.FilterMessage("dropping durable write").All())
	assert.Less(t, len(store.updates("a@x.com")), 10)
	assert.Equal(t, 0, w.Pending())
}

func TestWriterCanonicalizesIdentity(t *testing.T) {
	store := newRecordingStore()
	w := NewWriter(store, WriterConfig{Workers: 4}, zap.NewNop())
	w.Start(context.Background())

	w.IncrementCounter(" A@X.com", stats.MetricSkills, 1)
	w.IncrementCounter("a@x.com", stats.MetricSkills, 1)
	w.Stop()

	assert.Len(t, store.updates("a@x.com"), 2)
	assert.Empty(t, store.updates(" A@X.com"))
}
