package bands

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MikeSquared-Agency/Mashup/internal/store"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestDefaultsWhenNothingPersisted(t *testing.T) {
	s := NewStore(store.NewMemoryStore(), discardLogger())
	got := s.List(context.Background())
	assert.Equal(t, Defaults(), got)
	for _, b := range got {
		assert.NoError(t, b.Validate())
	}
}

func TestUpdatePersists(t *testing.T) {
	ctx := context.Background()
	kv := store.NewMemoryStore()
	s := NewStore(kv, discardLogger())

	_, err := s.Update(ctx, 2, Band{Percentile: 0.6, PlotColor: "#ABCDEF"})
	require.NoError(t, err)

	reloaded := NewStore(kv, discardLogger()).List(ctx)
	assert.Equal(t, Band{Percentile: 0.6, PlotColor: "#ABCDEF"}, reloaded[2])
	assert.Equal(t, Defaults()[0], reloaded[0])
}

func TestUpdateValidation(t *testing.T) {
	ctx := context.Background()
	s := NewStore(store.NewMemoryStore(), discardLogger())

	_, err := s.Update(ctx, 9, Band{Percentile: 0.5, PlotColor: "#000000"})
	assert.ErrorIs(t, err, ErrIndexOutOfRange)
	_, err = s.Update(ctx, 0, Band{Percentile: 1.5, PlotColor: "#000000"})
	assert.ErrorIs(t, err, ErrInvalidBand)
	_, err = s.Update(ctx, 0, Band{Percentile: 0.5, PlotColor: "red"})
	assert.ErrorIs(t, err, ErrInvalidBand)
}

func TestReplaceAllowsDuplicatePercentiles(t *testing.T) {
	ctx := context.Background()
	s := NewStore(store.NewMemoryStore(), discardLogger())
	got, err := s.Replace(ctx, []Band{
		{Percentile: 0.5, PlotColor: "#111111"},
		{Percentile: 0.5, PlotColor: "#222222"},
	})
	require.NoError(t, err)
	assert.Len(t, got, 2)
}

func TestResetRevertsToDefaults(t *testing.T) {
	ctx := context.Background()
	kv := store.NewMemoryStore()
	s := NewStore(kv, discardLogger())
	_, err := s.Replace(ctx, []Band{{Percentile: 0.3, PlotColor: "#111111"}})
	require.NoError(t, err)

	assert.Equal(t, Defaults(), s.Reset(ctx))
	raw, _ := kv.Get(ctx, store.KeyThresholdBands)
	assert.Nil(t, raw)
	assert.Equal(t, Defaults(), NewStore(kv, discardLogger()).List(ctx))
}

func TestCorruptConfigFallsBackToDefaults(t *testing.T) {
	ctx := context.Background()
	kv := store.NewMemoryStore()
	require.NoError(t, kv.Put(ctx, store.KeyThresholdBands, []byte(`nope`)))
	s := NewStore(kv, discardLogger())
	assert.Equal(t, Defaults(), s.List(ctx))

	raw, err := kv.Get(ctx, store.KeyThresholdBands+CorruptSuffix)
	require.NoError(t, err)
	assert.Equal(t, "nope", string(raw))
}

type flakyKV struct {
	*store.MemoryStore
	getErr error
}

func (f *flakyKV) Get(ctx context.Context, key string) ([]byte, error) {
	if f.getErr != nil {
		return nil, f.getErr
	}
	return f.MemoryStore.Get(ctx, key)
}

func TestUnreadableConfigIsNeverOverwritten(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemoryStore()
	custom := []Band{{Percentile: 0.3, PlotColor: "#111111"}, {Percentile: 0.6, PlotColor: "#222222"}}
	_, err := NewStore(mem, discardLogger()).Replace(ctx, custom)
	require.NoError(t, err)

	kv := &flakyKV{MemoryStore: mem, getErr: errors.New("connection reset")}
	s := NewStore(kv, discardLogger())
	assert.Equal(t, Defaults(), s.List(ctx))

	_, err = s.Update(ctx, 0, Band{Percentile: 0.9, PlotColor: "#333333"})
	assert.ErrorIs(t, err, ErrUnreadable)
	assert.Equal(t, custom, NewStore(mem, discardLogger()).List(ctx))

	// The next access after recovery sees the stored configuration.
	kv.getErr = nil
	assert.Equal(t, custom, s.List(ctx))
	got, err := s.Update(ctx, 1, Band{Percentile: 0.9, PlotColor: "#333333"})
	require.NoError(t, err)
	assert.Equal(t, custom[0], got[0])
}
