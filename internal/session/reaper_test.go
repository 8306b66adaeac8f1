package session

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/MikeSquared-Agency/Mashup/internal/analyte"
)

func TestSweepClosesIdleSessions(t *testing.T) {
	f := newFixture(t, &linearLookup{})
	old := f.open(t, analyte.ModeStrict)
	fresh := f.open(t, analyte.ModeStrict)

	now := time.Now()
	old.touch(now.Add(-2 * time.Hour))
	fresh.touch(now.Add(-time.Minute))

	assert.Equal(t, 1, f.mgr.Sweep(now, time.Hour))
	_, err := f.mgr.Get(old.ID)
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = f.mgr.Get(fresh.ID)
	assert.NoError(t, err)
}

func TestSweepKeepsSubmittingSessions(t *testing.T) {
	f := newFixture(t, &linearLookup{})
	s := f.open(t, analyte.ModeStrict)

	started := make(chan struct{})
	release := make(chan struct{})
	f.scorer.On("Score", mock.Anything, mock.Anything).
		Run(func(mock.Arguments) {
			close(started)
			<-release
		}).
		Return(result(3), nil).Once()

	done := make(chan error, 1)
	go func() {
		_, err := s.Submit(context.Background(), SubmitOptions{})
		done <- err
	}()
	<-started

	now := time.Now()
	s.touch(now.Add(-2 * time.Hour))
	assert.Equal(t, 0, f.mgr.Sweep(now, time.Hour))

	close(release)
	require.NoError(t, <-done)
}

func TestReaperStartStop(t *testing.T) {
	f := newFixture(t, &linearLookup{})
	s := f.open(t, analyte.ModeStrict)
	s.touch(time.Now().Add(-time.Hour))

	r := NewReaper(f.mgr, time.Minute, 10*time.Millisecond, slog.New(slog.NewTextHandler(io.Discard, nil)))
	r.Start(context.Background())
	defer r.Stop()

	require.Eventually(t, func() bool { return f.mgr.Len() == 0 }, 2*time.Second, 10*time.Millisecond)
	r.Stop()
}
