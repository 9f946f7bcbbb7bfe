package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GNS-Science/toshi-hazard-post/internal/aggregation"
	"github.com/GNS-Science/toshi-hazard-post/internal/hazard"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(Config{
		Path: filepath.Join(t.TempDir(), "hazard.db"),
		Log:  zerolog.Nop(),
	})
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

var testCurveLevels = []float64{0.01, 0.1, 1.0}

func curveOf(values ...float64) hazard.Curve {
	return hazard.Curve{Levels: testCurveLevels, Values: values}
}

func TestFetchRealizations_PreservesEnumerationOrder(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	// Insert out of enumeration order on purpose.
	require.NoError(t, s.StoreRealization(ctx, "-36.870~174.770", "PGA", "b2", curveOf(0.2, 0.1, 0.01)))
	require.NoError(t, s.StoreRealization(ctx, "-36.870~174.770", "PGA", "b1", curveOf(0.3, 0.2, 0.02)))
	require.NoError(t, s.StoreRealization(ctx, "-36.870~174.770", "PGA", "b3", curveOf(0.1, 0.05, 0.001)))

	curves, err := s.FetchRealizations(ctx, "-36.870~174.770", "PGA", []string{"b1", "b2", "b3"})
	require.NoError(t, err)
	require.Len(t, curves, 3)

	assert.Equal(t, []float64{0.3, 0.2, 0.02}, curves[0].Values)
	assert.Equal(t, []float64{0.2, 0.1, 0.01}, curves[1].Values)
	assert.Equal(t, []float64{0.1, 0.05, 0.001}, curves[2].Values)
}

func TestFetchRealizations_MissingBranchIsNamed(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	// Three enumerated branches, only two stored: must fail naming the
	// missing branch, never silently renormalize over the other two.
	require.NoError(t, s.StoreRealization(ctx, "loc", "PGA", "b1", curveOf(0.3, 0.2, 0.02)))
	require.NoError(t, s.StoreRealization(ctx, "loc", "PGA", "b3", curveOf(0.1, 0.05, 0.001)))

	_, err := s.FetchRealizations(ctx, "loc", "PGA", []string{"b1", "b2", "b3"})

	var missing *MissingRealizationError
	require.ErrorAs(t, err, &missing)
	assert.Equal(t, "b2", missing.BranchID)
	assert.Equal(t, "loc", missing.Location)
	assert.Equal(t, "PGA", missing.IMT)
}

func TestFetchRealizations_AxisMismatchIsFatal(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.StoreRealization(ctx, "loc", "PGA", "b1", curveOf(0.3, 0.2, 0.02)))
	require.NoError(t, s.StoreRealization(ctx, "loc", "PGA", "b2", hazard.Curve{
		Levels: []float64{0.02, 0.2, 2.0},
		Values: []float64{0.2, 0.1, 0.01},
	}))

	_, err := s.FetchRealizations(ctx, "loc", "PGA", []string{"b1", "b2"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "intensity level axis")
}

func TestStoreAggregates_IsIdempotent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	curves := map[aggregation.Statistic]hazard.Curve{
		aggregation.StatMean: curveOf(0.21, 0.1, 0.01),
		"0.5":                curveOf(0.2, 0.09, 0.008),
	}

	// At-least-once delivery: the same write repeated must not fail or
	// duplicate.
	require.NoError(t, s.StoreAggregates(ctx, "loc", "PGA", curves))
	require.NoError(t, s.StoreAggregates(ctx, "loc", "PGA", curves))

	mean, err := s.FetchAggregate(ctx, "loc", "PGA", aggregation.StatMean)
	require.NoError(t, err)
	assert.Equal(t, []float64{0.21, 0.1, 0.01}, mean.Values)

	median, err := s.FetchAggregate(ctx, "loc", "PGA", "0.5")
	require.NoError(t, err)
	assert.Equal(t, []float64{0.2, 0.09, 0.008}, median.Values)
}

func TestClassify(t *testing.T) {
	t.Run("contention is transient", func(t *testing.T) {
		err := classify("fetch", errors.New("database is locked (5) (SQLITE_BUSY)"))
		assert.True(t, IsTransient(err))

		var te *TransientError
		require.ErrorAs(t, err, &te)
		assert.Equal(t, "fetch", te.Op)
	})

	t.Run("other failures are not", func(t *testing.T) {
		err := classify("fetch", errors.New("no such table: realizations"))
		assert.False(t, IsTransient(err))
	})

	t.Run("nil stays nil", func(t *testing.T) {
		assert.NoError(t, classify("fetch", nil))
	})
}

func TestSplitS3URI(t *testing.T) {
	bucket, key, err := splitS3URI("s3://nshm-hazard/datasets/realizations.db")
	require.NoError(t, err)
	assert.Equal(t, "nshm-hazard", bucket)
	assert.Equal(t, "datasets/realizations.db", key)

	for _, bad := range []string{"s3://", "s3://bucket", "s3://bucket/", "s3:///key"} {
		_, _, err := splitS3URI(bad)
		assert.Error(t, err, bad)
	}
}

func TestResolveDataset_LocalPath(t *testing.T) {
	t.Run("existing file resolves to itself", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "ds.db")
		st, err := Open(Config{Path: path, Log: zerolog.Nop()})
		require.NoError(t, err)
		st.Close()

		resolved, rerr := ResolveDataset(context.Background(), path, t.TempDir(), zerolog.Nop())
		require.NoError(t, rerr)
		assert.Equal(t, path, resolved)
	})

	t.Run("missing file errors", func(t *testing.T) {
		_, err := ResolveDataset(context.Background(), "/nonexistent/ds.db", t.TempDir(), zerolog.Nop())
		assert.Error(t, err)
	})
}
