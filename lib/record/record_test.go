package record

import (
	"context"
	"math"
	"path/filepath"
	"testing"

	"github.com/baldwint/wanglib/lib/acquire"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "runs.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestRunRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := openStore(t)

	run, err := s.StartRun(ctx, "triax scan")
	require.NoError(t, err)
	require.NoError(t, run.Append(ctx, acquire.Sample{770, 1.5}))
	require.NoError(t, run.Append(ctx, acquire.Sample{770.1, 2.5}))

	other, err := s.StartRun(ctx, "two traces")
	require.NoError(t, err)
	require.NoError(t, other.Append(ctx, acquire.Sample{0, 1, 0, math.NaN()}))

	pts, err := s.Points(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, []acquire.Sample{{770, 1.5}, {770.1, 2.5}}, pts)

	pts, err = s.Points(ctx, other.ID)
	require.NoError(t, err)
	require.Len(t, pts, 1)
	require.Len(t, pts[0], 4)
	assert.True(t, math.IsNaN(pts[0][3]))

	runs, err := s.Runs(ctx)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, run.ID, runs[0].ID)
	assert.Equal(t, "triax scan", runs[0].Name)
	assert.Equal(t, 2, runs[0].Samples)
	assert.Equal(t, 1, runs[1].Samples)
	assert.WithinDuration(t, run.Started, runs[0].Started, 0)

	pts, err = s.Points(ctx, uuid.New())
	require.NoError(t, err)
	assert.Empty(t, pts)
}

func TestAppendRejectsOddSample(t *testing.T) {
	ctx := context.Background()
	run, err := openStore(t).StartRun(ctx, "bad")
	require.NoError(t, err)
	assert.Error(t, run.Append(ctx, acquire.Sample{1, 2, 3}))
}

func TestRecorderWithTee(t *testing.T) {
	ctx := context.Background()
	s := openStore(t)
	run, err := s.StartRun(ctx, "monitor")
	require.NoError(t, err)

	src := acquire.Scanner(ctx, []float64{1, 2, 3},
		func(context.Context, float64) error { return nil },
		func() (float64, error) { return 42, nil }, 0)
	got, err := acquire.Collect(acquire.Tee(src, run.Recorder(ctx)))
	require.NoError(t, err)

	stored, err := s.Points(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, got, stored)
}

func TestReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "runs.db")
	s, err := Open(path)
	require.NoError(t, err)
	run, err := s.StartRun(ctx, "persist")
	require.NoError(t, err)
	require.NoError(t, run.Append(ctx, acquire.XY(1, 2)))
	require.NoError(t, s.Close())

	s, err = Open(path)
	require.NoError(t, err)
	defer s.Close()
	pts, err := s.Points(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, []acquire.Sample{{1, 2}}, pts)
}
