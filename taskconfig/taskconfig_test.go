package taskconfig

import (
	"testing"

	"github.com/segmentio/ksuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chaos-io/cutout/mask"
	"github.com/chaos-io/cutout/params"
)

func ids(n int) []string {
	out := make([]string, n)
	for i := range out {
		out[i] = ksuid.New().String()
	}
	return out
}

func TestActivateDefaults(t *testing.T) {
	t.Parallel()

	s := New()
	id := ksuid.New().String()
	s.Register(id)

	cfg := s.Activate(id)
	assert.Equal(t, params.Default(), cfg.Params)
	assert.Nil(t, cfg.Mask)

	_, ok := s.Get(id)
	assert.False(t, ok, "activation must not create a config")
}

func TestUpdateSingle(t *testing.T) {
	t.Parallel()

	s := New()
	items := ids(3)
	for _, id := range items {
		s.Register(id)
	}

	changed := s.Update(items[0], params.Patch{Blur: params.Ptr(true)})
	assert.Equal(t, []string{items[0]}, changed)

	assert.True(t, s.Activate(items[0]).Params.Blur)
	assert.False(t, s.Activate(items[1]).Params.Blur)
}

func TestBroadcastFanOut(t *testing.T) {
	t.Parallel()

	s := New()
	items := ids(4)
	for _, id := range items {
		s.Register(id)
	}
	s.Update(items[2], params.Patch{Padding: params.Ptr(12)})

	s.SetBroadcast(true)
	require.True(t, s.Broadcast())
	changed := s.Update(items[0], params.Patch{Shadow: params.Ptr(true)})
	assert.ElementsMatch(t, items, changed)

	for _, id := range items {
		cfg, ok := s.Get(id)
		require.True(t, ok)
		assert.True(t, cfg.Params.Shadow, id)
	}
	// fan-out patches, it does not overwrite
	assert.Equal(t, 12, s.Activate(items[2]).Params.Padding)
	assert.Equal(t, 0, s.Activate(items[1]).Params.Padding)

	s.Remove(items[3])
	changed = s.Update(items[0], params.Patch{Reflection: params.Ptr(true)})
	assert.ElementsMatch(t, items[:3], changed)
	_, ok := s.Get(items[3])
	assert.False(t, ok)
}

func TestPutAndDirty(t *testing.T) {
	t.Parallel()

	s := New()
	a, b := ksuid.New().String(), ksuid.New().String()
	m := mask.New(2, 2)

	s.Put(a, Config{Params: params.Default(), Mask: m})
	s.Update(b, params.Patch{Contrast: params.Ptr(120)})

	dirty := s.Dirty()
	require.Len(t, dirty, 2)
	assert.Same(t, m, dirty[a].Mask)

	s.Update(b, params.Patch{Contrast: params.Ptr(130)})
	s.MarkClean(dirty)

	dirty = s.Dirty()
	require.Len(t, dirty, 1, "the later edit to b stays dirty")
	assert.Equal(t, 130, dirty[b].Params.Contrast)
}

func TestReset(t *testing.T) {
	t.Parallel()

	s := New()
	id := ksuid.New().String()
	s.Register(id)
	s.SetBroadcast(true)
	s.Update(id, params.Patch{Blur: params.Ptr(true)})

	s.Reset()
	assert.False(t, s.Broadcast())
	assert.Empty(t, s.Dirty())
	_, ok := s.Get(id)
	assert.False(t, ok)
}

func TestRestoreSaved(t *testing.T) {
	t.Parallel()

	s := New()
	id := ksuid.New().String()
	saved := Config{Params: params.Default().Apply(params.Patch{Reflection: params.Ptr(true)})}

	require.True(t, s.Restore(id, saved))
	assert.Empty(t, s.Dirty(), "restored configs are already persisted")
	assert.True(t, s.Activate(id).Params.Reflection)

	s.Update(id, params.Patch{Blur: params.Ptr(true)})
	assert.False(t, s.Restore(id, saved))
	cfg, _ := s.Get(id)
	assert.True(t, cfg.Params.Blur)
}
