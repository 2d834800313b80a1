package history

import (
	"image"
	"image/color"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chaos-io/cutout/mask"
	"github.com/chaos-io/cutout/params"
)

func entry(brightness int) Entry {
	return Entry{Params: params.Default().Apply(params.Patch{Brightness: params.Ptr(brightness)})}
}

func TestRecordCapacity(t *testing.T) {
	t.Parallel()

	m := New(50, time.Hour)
	for i := 0; i < 80; i++ {
		m.Record(Entry{Params: params.Params{Padding: i}})
	}
	assert.Equal(t, 50, m.Len())

	cur, ok := m.Current()
	require.True(t, ok)
	assert.Equal(t, 79, cur.Params.Padding)

	undos := 0
	for m.CanUndo() {
		_, ok := m.Undo()
		require.True(t, ok)
		undos++
	}
	assert.Equal(t, 49, undos)

	cur, _ = m.Current()
	assert.Equal(t, 30, cur.Params.Padding)
	_, ok = m.Undo()
	assert.False(t, ok)
}

func TestUndoRedoInverse(t *testing.T) {
	t.Parallel()

	m := New(0, time.Hour)
	assert.False(t, m.CanUndo())
	assert.False(t, m.CanRedo())

	for _, b := range []int{100, 110, 120} {
		m.Record(entry(b))
	}

	before, _ := m.Current()
	prev, ok := m.Undo()
	require.True(t, ok)
	assert.Equal(t, 110, prev.Params.Brightness)
	assert.True(t, m.CanRedo())

	next, ok := m.Redo()
	require.True(t, ok)
	assert.True(t, before.Equal(next))
	assert.False(t, m.CanRedo())

	_, ok = m.Redo()
	assert.False(t, ok)
}

func TestRecordTruncatesRedoTail(t *testing.T) {
	t.Parallel()

	m := New(0, time.Hour)
	m.Record(entry(100))
	m.Record(entry(110))
	m.Record(entry(120))
	m.Undo()
	m.Undo()

	require.True(t, m.Record(entry(130)))
	assert.False(t, m.CanRedo())
	assert.Equal(t, 2, m.Len())

	prev, _ := m.Undo()
	assert.Equal(t, 100, prev.Params.Brightness)
}

func TestIdenticalEntriesCollapse(t *testing.T) {
	t.Parallel()

	img := image.NewNRGBA(image.Rect(0, 0, 4, 4))
	img.SetNRGBA(1, 1, color.NRGBA{R: 9, A: 255})

	m := New(0, time.Hour)
	assert.True(t, m.Record(Entry{Mask: mask.FromImage(img), Params: params.Default()}))
	// a distinct but byte-equal snapshot is still the same state
	assert.False(t, m.Record(Entry{Mask: mask.FromImage(img), Params: params.Default()}))
	assert.False(t, m.Checkpoint(Entry{Mask: mask.FromImage(img), Params: params.Default()}))
	assert.Equal(t, 1, m.Len())
}

func TestScheduleDebounces(t *testing.T) {
	t.Parallel()

	m := New(0, 30*time.Millisecond)
	defer m.Close()
	m.Record(entry(100))

	for b := 101; b <= 110; b++ {
		m.Schedule(entry(b))
	}
	assert.True(t, m.Pending())
	assert.Equal(t, 1, m.Len())

	require.Eventually(t, func() bool { return m.Len() == 2 }, time.Second, 5*time.Millisecond)
	assert.False(t, m.Pending())
	cur, _ := m.Current()
	assert.Equal(t, 110, cur.Params.Brightness)
}

func TestCheckpointDropsPending(t *testing.T) {
	t.Parallel()

	m := New(0, 20*time.Millisecond)
	defer m.Close()
	m.Record(entry(100))

	m.Schedule(entry(120))
	require.True(t, m.Checkpoint(entry(130)))
	assert.False(t, m.Pending())

	time.Sleep(60 * time.Millisecond)
	assert.Equal(t, 2, m.Len())
	cur, _ := m.Current()
	assert.Equal(t, 130, cur.Params.Brightness)
}

func TestUndoFlushesPending(t *testing.T) {
	t.Parallel()

	m := New(0, time.Hour)
	defer m.Close()
	m.Record(entry(100))
	m.Schedule(entry(140))
	assert.True(t, m.CanUndo())

	prev, ok := m.Undo()
	require.True(t, ok)
	assert.Equal(t, 100, prev.Params.Brightness)

	next, ok := m.Redo()
	require.True(t, ok)
	assert.Equal(t, 140, next.Params.Brightness)
}

func TestApplyMutesCheckpoints(t *testing.T) {
	t.Parallel()

	m := New(0, 10*time.Millisecond)
	defer m.Close()
	m.Record(entry(100))
	m.Record(entry(120))

	prev, ok := m.Undo()
	require.True(t, ok)
	m.Apply(func() {
		m.Schedule(prev)
		assert.False(t, m.Checkpoint(entry(90)))
	})

	time.Sleep(40 * time.Millisecond)
	assert.Equal(t, 2, m.Len())
	assert.True(t, m.CanRedo())

	// the guard is lifted afterwards
	assert.True(t, m.Checkpoint(entry(90)))
}

func TestFlushAndClear(t *testing.T) {
	t.Parallel()

	m := New(0, time.Hour)
	m.Schedule(entry(100))
	m.Flush()
	assert.Equal(t, 1, m.Len())

	m.Schedule(entry(110))
	m.Clear()
	assert.Equal(t, 0, m.Len())
	assert.False(t, m.Pending())
	_, ok := m.Current()
	assert.False(t, ok)
}

func TestDebouncer(t *testing.T) {
	t.Parallel()

	t.Run("only the last trigger runs", func(t *testing.T) {
		t.Parallel()
		d := NewDebouncer(20 * time.Millisecond)
		var calls, last atomic.Int32
		for i := int32(1); i <= 5; i++ {
			d.Trigger(func() { calls.Add(1); last.Store(i) })
		}
		require.Eventually(t, func() bool { return calls.Load() == 1 }, time.Second, 5*time.Millisecond)
		time.Sleep(40 * time.Millisecond)
		assert.Equal(t, int32(1), calls.Load())
		assert.Equal(t, int32(5), last.Load())
		assert.False(t, d.Pending())
	})

	t.Run("flush runs immediately", func(t *testing.T) {
		t.Parallel()
		d := NewDebouncer(time.Hour)
		ran := false
		d.Trigger(func() { ran = true })
		assert.True(t, d.Pending())
		assert.True(t, d.Flush())
		assert.True(t, ran)
		assert.False(t, d.Flush())
	})

	t.Run("cancel drops the call", func(t *testing.T) {
		t.Parallel()
		d := NewDebouncer(10 * time.Millisecond)
		var calls atomic.Int32
		d.Trigger(func() { calls.Add(1) })
		d.Cancel()
		time.Sleep(40 * time.Millisecond)
		assert.Equal(t, int32(0), calls.Load())
	})
}
