package receipt

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lumachat/lumasync/internal/logging"
)

type receiptSink struct {
	mu      sync.Mutex
	batches [][]int64
	marked  [][]int64
	fail    bool
}

func (s *receiptSink) send(ids []int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail {
		return errors.New("socket closed")
	}
	batch := make([]int64, len(ids))
	copy(batch, ids)
	s.batches = append(s.batches, batch)
	return nil
}

func (s *receiptSink) mark(ids []int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	batch := make([]int64, len(ids))
	copy(batch, ids)
	s.marked = append(s.marked, batch)
}

func (s *receiptSink) sent() [][]int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([][]int64, len(s.batches))
	copy(out, s.batches)
	return out
}

func (s *receiptSink) setFail(fail bool) {
	s.mu.Lock()
	s.fail = fail
	s.mu.Unlock()
}

func testEngine(t *testing.T) (*Engine, *receiptSink) {
	t.Helper()
	sink := &receiptSink{}
	opts := Options{
		VisibilityThreshold: 0.6,
		NearBottomPx:        150,
		LoadFlushDelay:      20 * time.Millisecond,
	}
	return New(opts, testLogger(), sink.send, sink.mark), sink
}

func testLogger() *logging.Logger {
	return logging.New(nil, "silent")
}

func TestObserveFlushesAboveThreshold(t *testing.T) {
	engine, sink := testEngine(t)
	engine.Track(10)
	engine.Track(11)

	engine.Observe(map[int64]float64{10: 0.9, 11: 0.3})

	batches := sink.sent()
	require.Len(t, batches, 1)
	assert.Equal(t, []int64{10}, batches[0])
}

func TestObserveBatchesIntoSingleReceipt(t *testing.T) {
	engine, sink := testEngine(t)
	engine.Track(1)
	engine.Track(2)
	engine.Track(3)

	engine.Observe(map[int64]float64{1: 0.7, 2: 0.8, 3: 1.0})

	batches := sink.sent()
	require.Len(t, batches, 1)
	assert.Equal(t, []int64{1, 2, 3}, batches[0])
	assert.Equal(t, [][]int64{{1, 2, 3}}, sink.marked)
}

func TestEachMessageReportedOnce(t *testing.T) {
	engine, sink := testEngine(t)
	engine.Track(5)

	engine.Observe(map[int64]float64{5: 0.8})
	engine.Observe(map[int64]float64{5: 1.0})
	engine.FlushAll()

	require.Len(t, sink.sent(), 1)
}

func TestFailedSendKeepsUnread(t *testing.T) {
	engine, sink := testEngine(t)
	engine.Track(5)
	sink.setFail(true)

	engine.Observe(map[int64]float64{5: 0.9})
	require.Empty(t, sink.sent())

	sink.setFail(false)
	engine.FlushAll()

	batches := sink.sent()
	require.Len(t, batches, 1)
	assert.Equal(t, []int64{5}, batches[0])
}

func TestNewMessageNearBottomFlushesAllVisible(t *testing.T) {
	engine, sink := testEngine(t)
	engine.Track(1)
	engine.Observe(map[int64]float64{1: 0.5}) // visible below threshold
	engine.Track(2)
	engine.Observe(map[int64]float64{2: 0.9}) // already flushed here
	engine.UpdateScroll(80)

	engine.NewMessageArrived(3)

	batches := sink.sent()
	require.Len(t, batches, 2)
	assert.Equal(t, []int64{2}, batches[0])
	assert.Equal(t, []int64{3}, batches[1])
}

func TestNewMessageFarFromBottomOnlyTracks(t *testing.T) {
	engine, sink := testEngine(t)
	engine.UpdateScroll(900)

	engine.NewMessageArrived(3)

	assert.Empty(t, sink.sent())

	engine.Observe(map[int64]float64{3: 1.0})
	require.Len(t, sink.sent(), 1)
}

func TestScheduleLoadFlushFiresOnce(t *testing.T) {
	engine, sink := testEngine(t)
	engine.Track(1)
	engine.Track(2)

	engine.ScheduleLoadFlush()
	engine.ScheduleLoadFlush() // replaces, does not stack

	require.Eventually(t, func() bool {
		return len(sink.sent()) == 1
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, []int64{1, 2}, sink.sent()[0])
}

func TestResetCancelsLoadFlush(t *testing.T) {
	engine, sink := testEngine(t)
	engine.Track(1)
	engine.ScheduleLoadFlush()

	engine.Reset()

	time.Sleep(60 * time.Millisecond)
	assert.Empty(t, sink.sent())
}

func TestResetMidSendDropsStaleBatch(t *testing.T) {
	entered := make(chan struct{})
	release := make(chan struct{})
	sink := &receiptSink{}
	first := true
	send := func(ids []int64) error {
		if first {
			first = false
			close(entered)
			<-release
			return errors.New("socket closed")
		}
		return sink.send(ids)
	}
	opts := Options{VisibilityThreshold: 0.6, NearBottomPx: 150, LoadFlushDelay: 20 * time.Millisecond}
	engine := New(opts, testLogger(), send, sink.mark)
	engine.Track(1)

	done := make(chan struct{})
	go func() {
		engine.Observe(map[int64]float64{1: 0.9})
		close(done)
	}()

	<-entered
	engine.Reset() // conversation switch while the send is in flight
	close(release)
	<-done

	// the failed batch belongs to the old conversation; it must not
	// resurface in the cleared set
	engine.FlushAll()
	assert.Empty(t, sink.sent())

	// the new conversation still flushes its own ids normally
	engine.Track(2)
	engine.Observe(map[int64]float64{2: 0.9})
	batches := sink.sent()
	require.Len(t, batches, 1)
	assert.NotContains(t, batches[0], int64(1))
	assert.Equal(t, []int64{2}, batches[0])
}

func TestResetMidSendSkipsStaleMark(t *testing.T) {
	entered := make(chan struct{})
	release := make(chan struct{})
	sink := &receiptSink{}
	send := func(ids []int64) error {
		close(entered)
		<-release
		return nil
	}
	opts := Options{VisibilityThreshold: 0.6, NearBottomPx: 150, LoadFlushDelay: 20 * time.Millisecond}
	engine := New(opts, testLogger(), send, sink.mark)
	engine.Track(4)

	done := make(chan struct{})
	go func() {
		engine.Observe(map[int64]float64{4: 1.0})
		close(done)
	}()

	<-entered
	engine.Reset()
	close(release)
	<-done

	// the receipt went out for the old conversation but the local mark
	// must not touch the view that replaced it
	assert.Empty(t, sink.marked)
}

func TestOnFocusFlushesRegardlessOfVisibility(t *testing.T) {
	engine, sink := testEngine(t)
	engine.Track(7)
	engine.Track(8)

	engine.OnFocus()

	batches := sink.sent()
	require.Len(t, batches, 1)
	assert.Equal(t, []int64{7, 8}, batches[0])
}
