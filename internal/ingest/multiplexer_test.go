package ingest

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"anyarchie/internal/eventbus"
	rtsup "anyarchie/internal/runtime/supervisor"
	kit "anyarchie/internal/transport"
	logx "anyarchie/pkg/logx"
)

type fakeSource struct {
	mu      sync.Mutex
	batches map[string][][]kit.RawUpdate
	offsets map[string][]int64
	err     map[string]error
}

func newFakeSource() *fakeSource {
	return &fakeSource{
		batches: map[string][][]kit.RawUpdate{},
		offsets: map[string][]int64{},
		err:     map[string]error{},
	}
}

func (f *fakeSource) push(token string, ups ...kit.RawUpdate) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.batches[token] = append(f.batches[token], ups)
}

func (f *fakeSource) GetUpdates(_ context.Context, token string, offset int64, _ int) ([]kit.RawUpdate, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.offsets[token] = append(f.offsets[token], offset)
	if err := f.err[token]; err != nil {
		return nil, err
	}
	q := f.batches[token]
	if len(q) == 0 {
		return nil, nil
	}
	f.batches[token] = q[1:]
	return q[0], nil
}

func msg(id int64, text string) kit.RawUpdate {
	return kit.RawUpdate{ID: id, Message: &kit.Message{ID: int(id), ChatID: 7, FromID: 7, Text: text}}
}

type recorder struct {
	mu   sync.Mutex
	got  map[string][]int64
	fail map[int64]error
	boom map[int64]bool
}

func newRecorder() *recorder {
	return &recorder{got: map[string][]int64{}, fail: map[int64]error{}, boom: map[int64]bool{}}
}

func (r *recorder) HandleUpdate(_ context.Context, ch Channel, u kit.RawUpdate) error {
	r.mu.Lock()
	r.got[ch.Token] = append(r.got[ch.Token], u.ID)
	boom, err := r.boom[u.ID], r.fail[u.ID]
	r.mu.Unlock()
	if boom {
		panic("handler exploded")
	}
	return err
}

func (r *recorder) ids(token string) []int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]int64(nil), r.got[token]...)
}

func newTestMux(src kit.Source, h Handler, opts ...Option) *Multiplexer {
	return New(Config{PollTimeout: time.Second}, src, h, logx.Nop(), opts...)
}

func TestPollOnceDispatchesInOrderAndAdvances(t *testing.T) {
	t.Parallel()

	src := newFakeSource()
	rec := newRecorder()
	m := newTestMux(src, rec)
	m.AddChannel(Channel{Token: "a", Kind: KindPersonal})

	src.push("a", msg(100, "hi"), msg(101, "there"))
	res, err := m.PollOnce(context.Background(), "a")
	require.NoError(t, err)
	assert.Equal(t, PollResult{Fetched: 2, Dispatched: 2}, res)
	assert.Equal(t, []int64{100, 101}, rec.ids("a"))
	assert.Equal(t, int64(102), m.Offset("a"))

	_, err = m.PollOnce(context.Background(), "a")
	require.NoError(t, err)
	assert.Equal(t, []int64{0, 102}, src.offsets["a"])
}

func TestDuplicateIDsDispatchOnce(t *testing.T) {
	t.Parallel()

	src := newFakeSource()
	rec := newRecorder()
	m := newTestMux(src, rec)
	m.AddChannel(Channel{Token: "a", Kind: KindPersonal})

	src.push("a", msg(5, "x"), msg(5, "x"))
	src.push("a", msg(5, "x"), msg(6, "y"))
	for i := 0; i < 2; i++ {
		_, err := m.PollOnce(context.Background(), "a")
		require.NoError(t, err)
	}
	assert.Equal(t, []int64{5, 6}, rec.ids("a"))
	assert.Equal(t, int64(7), m.Offset("a"))
}

func TestFailedAndPanickingHandlersStillAdvance(t *testing.T) {
	t.Parallel()

	src := newFakeSource()
	rec := newRecorder()
	rec.fail[1] = errors.New("db down")
	rec.boom[2] = true
	m := newTestMux(src, rec)
	m.AddChannel(Channel{Token: "a", Kind: KindPersonal})

	src.push("a", msg(1, "x"), msg(2, "y"), msg(3, "z"))
	res, err := m.PollOnce(context.Background(), "a")
	require.NoError(t, err)
	assert.Equal(t, 2, res.Failed)
	assert.Equal(t, 1, res.Dispatched)
	assert.Equal(t, []int64{1, 2, 3}, rec.ids("a"))
	assert.Equal(t, int64(4), m.Offset("a"))
}

func TestNonMessageUpdatesOnlyMoveCursor(t *testing.T) {
	t.Parallel()

	src := newFakeSource()
	rec := newRecorder()
	m := newTestMux(src, rec)
	m.AddChannel(Channel{Token: "a", Kind: KindPersonal})

	src.push("a", kit.RawUpdate{ID: 9})
	res, err := m.PollOnce(context.Background(), "a")
	require.NoError(t, err)
	assert.Equal(t, 1, res.Skipped)
	assert.Empty(t, rec.ids("a"))
	assert.Equal(t, int64(10), m.Offset("a"))
}

func TestPollErrorLeavesCursor(t *testing.T) {
	t.Parallel()

	src := newFakeSource()
	src.err["a"] = errors.New("network")
	m := newTestMux(src, newRecorder())
	m.AddChannel(Channel{Token: "a", Kind: KindPersonal})

	_, err := m.PollOnce(context.Background(), "a")
	require.Error(t, err)
	assert.Equal(t, int64(0), m.Offset("a"))
}

func TestPassKeepsChannelsIndependent(t *testing.T) {
	t.Parallel()

	src := newFakeSource()
	rec := newRecorder()
	m := newTestMux(src, rec)
	m.AddChannel(Channel{Token: "hub", Kind: KindHub})
	m.AddChannel(Channel{Token: "a", Kind: KindPersonal})
	m.AddChannel(Channel{Token: "b", Kind: KindPersonal})
	m.AddChannel(Channel{Token: "a", Kind: KindPersonal})

	src.err["b"] = errors.New("unauthorized")
	src.push("hub", msg(1, "/start"))
	src.push("a", msg(1, "hello"))

	res, err := m.Pass(context.Background())
	require.Error(t, err)
	assert.Equal(t, 2, res.Dispatched)
	assert.Equal(t, []int64{1}, rec.ids("hub"))
	assert.Equal(t, []int64{1}, rec.ids("a"))
	assert.Equal(t, int64(2), m.Offset("hub"))
	assert.Equal(t, int64(2), m.Offset("a"))
	assert.Equal(t, int64(0), m.Offset("b"))

	chans := m.Channels()
	require.Len(t, chans, 3)
	assert.Equal(t, KindHub, chans[0].Kind)
}

func TestUnknownChannel(t *testing.T) {
	t.Parallel()

	m := newTestMux(newFakeSource(), newRecorder())
	_, err := m.PollOnce(context.Background(), "nope")
	require.Error(t, err)
	assert.NotContains(t, err.Error(), "nope")
}

type memSeen struct {
	mu   sync.Mutex
	ids  map[int64]bool
	fail bool
}

func (s *memSeen) Seen(_ context.Context, _ string, id int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail {
		return false, errors.New("unavailable")
	}
	return s.ids[id], nil
}

func (s *memSeen) MarkSeen(_ context.Context, _ string, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ids[id] = true
	return nil
}

func TestDurableSeenStoreSurvivesRestart(t *testing.T) {
	t.Parallel()

	store := &memSeen{ids: map[int64]bool{}}
	src := newFakeSource()
	rec := newRecorder()
	m := newTestMux(src, rec, WithSeenStore(store))
	m.AddChannel(Channel{Token: "a", Kind: KindPersonal})
	src.push("a", msg(1, "x"))
	_, err := m.PollOnce(context.Background(), "a")
	require.NoError(t, err)

	// A fresh process starts at offset 0 and sees id 1 again.
	rec2 := newRecorder()
	m2 := newTestMux(src, rec2, WithSeenStore(store))
	m2.AddChannel(Channel{Token: "a", Kind: KindPersonal})
	src.push("a", msg(1, "x"), msg(2, "y"))
	res, err := m2.PollOnce(context.Background(), "a")
	require.NoError(t, err)
	assert.Equal(t, 1, res.Duplicates)
	assert.Equal(t, []int64{2}, rec2.ids("a"))
	assert.Equal(t, int64(3), m2.Offset("a"))
}

func TestDurableSeenStoreErrorTreatedAsUnseen(t *testing.T) {
	t.Parallel()

	store := &memSeen{ids: map[int64]bool{}, fail: true}
	src := newFakeSource()
	rec := newRecorder()
	m := newTestMux(src, rec, WithSeenStore(store))
	m.AddChannel(Channel{Token: "a", Kind: KindPersonal})
	src.push("a", msg(1, "x"))
	_, err := m.PollOnce(context.Background(), "a")
	require.NoError(t, err)
	assert.Equal(t, []int64{1}, rec.ids("a"))
}

func TestDispatchPublishesEvents(t *testing.T) {
	t.Parallel()

	bus := eventbus.New()
	ch, unsub := bus.Subscribe(8)
	defer unsub()

	src := newFakeSource()
	m := newTestMux(src, newRecorder(), WithBus(bus))
	m.AddChannel(Channel{Token: "a", Kind: KindPersonal})
	src.push("a", msg(1, "x"), msg(1, "x"))
	_, err := m.PollOnce(context.Background(), "a")
	require.NoError(t, err)

	var types []string
	for i := 0; i < 2; i++ {
		select {
		case ev := <-ch:
			types = append(types, ev.Type)
		case <-time.After(time.Second):
			t.Fatalf("missing event %d", i)
		}
	}
	assert.Equal(t, []string{eventbus.TypeUpdateDispatched, eventbus.TypeUpdateDuplicate}, types)
}

func TestRunPollsChannelsAddedLater(t *testing.T) {
	t.Parallel()

	src := newFakeSource()
	rec := newRecorder()
	m := New(Config{PollTimeout: time.Second, PassDelay: 5 * time.Millisecond}, src, rec, logx.Nop())
	m.AddChannel(Channel{Token: "a", Kind: KindPersonal})
	src.push("a", msg(1, "x"))
	src.push("b", msg(1, "y"))

	sup := rtsup.NewSupervisor(context.Background())
	m.Run(sup)
	m.AddChannel(Channel{Token: "b", Kind: KindPersonal})

	assert.Eventually(t, func() bool {
		return len(rec.ids("a")) == 1 && len(rec.ids("b")) == 1
	}, 2*time.Second, 5*time.Millisecond)

	sup.Cancel()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, sup.Wait(ctx))
}

// longPollSource returns one batch, then blocks like an idle long poll.
type longPollSource struct {
	once    sync.Once
	batch   []kit.RawUpdate
	polling chan struct{}
}

func (s *longPollSource) GetUpdates(ctx context.Context, _ string, _ int64, _ int) ([]kit.RawUpdate, error) {
	var first bool
	s.once.Do(func() { first = true })
	if first {
		return s.batch, nil
	}
	select {
	case s.polling <- struct{}{}:
	default:
	}
	<-ctx.Done()
	return nil, ctx.Err()
}

func TestStopLetsBatchFinishAndAbandonsLongPoll(t *testing.T) {
	t.Parallel()

	src := &longPollSource{batch: []kit.RawUpdate{msg(1, "a"), msg(2, "b")}, polling: make(chan struct{}, 1)}
	entered := make(chan struct{})
	release := make(chan struct{})
	var (
		mu      sync.Mutex
		handled []int64
		ctxErrs []error
	)
	h := HandlerFunc(func(ctx context.Context, _ Channel, u kit.RawUpdate) error {
		if u.ID == 1 {
			close(entered)
			<-release
		}
		mu.Lock()
		handled = append(handled, u.ID)
		ctxErrs = append(ctxErrs, ctx.Err())
		mu.Unlock()
		return nil
	})
	m := New(Config{PollTimeout: 30 * time.Second, PassDelay: 5 * time.Millisecond}, src, h, logx.Nop())
	m.AddChannel(Channel{Token: "a", Kind: KindPersonal})

	sup := rtsup.NewSupervisor(context.Background())
	defer sup.Cancel()
	m.Run(sup)
	<-entered

	stopped := make(chan struct{})
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		m.Stop(ctx)
		close(stopped)
	}()

	select {
	case <-stopped:
		t.Fatalf("stop returned while a dispatch was running")
	case <-time.After(50 * time.Millisecond):
	}
	close(release)

	select {
	case <-stopped:
	case <-time.After(3 * time.Second):
		t.Fatalf("stop did not return")
	}
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []int64{1, 2}, handled)
	assert.Equal(t, []error{nil, nil}, ctxErrs)
	assert.Equal(t, int64(3), m.Offset("a"))
	assert.NoError(t, sup.Context().Err())

	// Channels added after Stop are registered but never polled.
	m.AddChannel(Channel{Token: "late", Kind: KindPersonal})
	assert.Len(t, m.Channels(), 2)
	select {
	case <-src.polling:
		t.Fatalf("polled after stop")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestOffsetDoesNotWaitForPoll(t *testing.T) {
	t.Parallel()

	src := &longPollSource{polling: make(chan struct{}, 1)}
	m := New(Config{PollTimeout: 30 * time.Second}, src, newRecorder(), logx.Nop())
	m.AddChannel(Channel{Token: "a", Kind: KindPersonal})
	_, err := m.PollOnce(context.Background(), "a")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _, _ = m.PollOnce(ctx, "a") }()
	<-src.polling

	got := make(chan int64, 1)
	go func() { got <- m.Offset("a") }()
	select {
	case off := <-got:
		assert.Equal(t, int64(0), off)
	case <-time.After(time.Second):
		t.Fatalf("Offset blocked behind the long poll")
	}
}
