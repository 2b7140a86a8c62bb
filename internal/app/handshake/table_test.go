package handshake

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTable_ResolvesOnlyMatchingKey(t *testing.T) {
	tb := NewTable()
	a := make(chan Result, 1)
	b := make(chan Result, 1)
	tb.Register(Key{StepConnect, "send-1"}, a)
	tb.Register(Key{StepConnect, "recv-1"}, b)

	require.True(t, tb.Resolve(Key{StepConnect, "recv-1"}, nil))
	assert.Len(t, a, 0)
	assert.Len(t, b, 1)

	// a duplicate confirmation finds no waiter
	assert.False(t, tb.Resolve(Key{StepConnect, "recv-1"}, nil))
	assert.Equal(t, 1, tb.Len())
}

func TestTable_ResolveOldestIsFIFO(t *testing.T) {
	tb := NewTable()
	first := make(chan Result, 1)
	second := make(chan Result, 1)
	tb.Register(Key{StepProduce, "req-b"}, first)
	tb.Register(Key{StepProduce, "req-a"}, second)
	tb.Register(Key{StepConnect, "t"}, make(chan Result, 1))

	key, ok := tb.ResolveOldest(StepProduce, "flow-1")
	require.True(t, ok)
	assert.Equal(t, "req-b", key.ID)
	r := <-first
	assert.Equal(t, "flow-1", r.Value)
	assert.Equal(t, 1, tb.Pending(StepProduce))
}

func TestTable_RegisterSupersedes(t *testing.T) {
	tb := NewTable()
	old := make(chan Result, 1)
	tb.Register(Key{StepConnect, "t"}, old)
	tb.Register(Key{StepConnect, "t"}, make(chan Result, 1))

	r := <-old
	assert.ErrorIs(t, r.Err, ErrSuperseded)
	assert.Equal(t, 1, tb.Len())
}

func TestTable_ForgetKeepsNewerWaiter(t *testing.T) {
	tb := NewTable()
	old := make(chan Result, 1)
	key := Key{StepConnect, "t"}
	tb.Register(key, old)
	tb.Register(key, make(chan Result, 1))
	<-old

	tb.Forget(key, old)
	assert.Equal(t, 1, tb.Len())
}

func TestTable_CancelAll(t *testing.T) {
	tb := NewTable()
	chs := []chan Result{make(chan Result, 1), make(chan Result, 1)}
	tb.Register(Key{StepConnect, "a"}, chs[0])
	tb.Register(Key{StepProduce, "b"}, chs[1])

	assert.Equal(t, 2, tb.CancelAll(ErrCancelled))
	for _, ch := range chs {
		assert.ErrorIs(t, (<-ch).Err, ErrCancelled)
	}
	assert.Equal(t, 0, tb.Len())
}

// loop is a minimal serial executor standing in for a session loop.
type loop struct {
	fns  chan func()
	done chan struct{}
	once sync.Once
}

func newLoop() *loop {
	l := &loop{fns: make(chan func(), 16), done: make(chan struct{})}
	go func() {
		for {
			select {
			case fn := <-l.fns:
				fn()
			case <-l.done:
				return
			}
		}
	}()
	return l
}

func (l *loop) post(fn func()) bool {
	select {
	case l.fns <- fn:
		return true
	case <-l.done:
		return false
	}
}

func (l *loop) stop() { l.once.Do(func() { close(l.done) }) }

func TestWaiter_AwaitResolved(t *testing.T) {
	l := newLoop()
	defer l.stop()
	tb := NewTable()
	w := &Waiter{Table: tb, Post: l.post, Done: l.done, Timeout: time.Second}
	key := Key{StepProduce, "req-1"}

	sent := make(chan struct{})
	go func() {
		<-sent
		l.post(func() { tb.Resolve(key, "flow-7") })
	}()

	v, err := w.Await(context.Background(), key, func() error {
		close(sent)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, "flow-7", v)
}

func TestWaiter_SendErrorRejects(t *testing.T) {
	l := newLoop()
	defer l.stop()
	boom := errors.New("socket gone")
	w := &Waiter{Table: NewTable(), Post: l.post, Done: l.done}

	_, err := w.Await(context.Background(), Key{StepConnect, "t"}, func() error { return boom })
	assert.ErrorIs(t, err, boom)
}

func TestWaiter_TimeoutRetriesOnceThenFails(t *testing.T) {
	l := newLoop()
	defer l.stop()
	var sends, retries int
	w := &Waiter{
		Table:   NewTable(),
		Post:    l.post,
		Done:    l.done,
		Timeout: 20 * time.Millisecond,
		Retry:   func(_ Step, attempt int) bool { return attempt < 2 },
		OnRetry: func(Key, int) { retries++ },
	}

	_, err := w.Await(context.Background(), Key{StepConnect, "t"}, func() error {
		sends++
		return nil
	})
	require.ErrorIs(t, err, ErrTimeout)
	assert.Equal(t, 2, sends)
	assert.Equal(t, 1, retries)
	assert.Equal(t, 0, w.Table.Len())
}

func TestWaiter_LoopStopCancels(t *testing.T) {
	l := newLoop()
	tb := NewTable()
	w := &Waiter{Table: tb, Post: l.post, Done: l.done}

	errc := make(chan error, 1)
	registered := make(chan struct{})
	go func() {
		_, err := w.Await(context.Background(), Key{StepProduce, "r"}, func() error {
			close(registered)
			return nil
		})
		errc <- err
	}()
	<-registered
	l.stop()

	select {
	case err := <-errc:
		assert.ErrorIs(t, err, ErrCancelled)
	case <-time.After(time.Second):
		t.Fatal("waiter did not observe loop stop")
	}
}
