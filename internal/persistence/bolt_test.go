package persistence

import (
	"context"
	"fmt"
	"math"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spigell/careerhub/internal/activity"
	"github.com/spigell/careerhub/internal/stats"
)

func newTestStore(t *testing.T, limit int) *BoltStore {
	t.Helper()
	store, err := NewBoltStore(filepath.Join(t.TempDir(), "data", "careerhub.db"), limit)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestApplyCreatesAndIncrements(t *testing.T) {
	store := newTestStore(t, 0)
	ctx := context.Background()

	_, err := store.Find(ctx, "a@x.com")
	require.ErrorIs(t, err, ErrNotFound)

	_, err = store.Apply(ctx, "A@x.com ", Update{Increments: map[stats.Metric]int{stats.MetricResumes: 1}})
	require.NoError(t, err)
	user, err := store.Apply(ctx, "a@x.com", Update{Increments: map[stats.Metric]int{
		stats.MetricResumes:    1,
		stats.MetricInterviews: -3,
	}})
	require.NoError(t, err)

	assert.Equal(t, "a@x.com", user.Email)
	assert.Equal(t, 2, user.Stats.Resumes)
	assert.Equal(t, 0, user.Stats.Interviews, "counters never go negative")

	found, err := store.Find(ctx, "a@x.com")
	require.NoError(t, err)
	assert.Equal(t, user.Stats.Resumes, found.Stats.Resumes)
	assert.False(t, found.CreatedAt.IsZero())
}

func TestApplyPrependsBoundedActivity(t *testing.T) {
	store := newTestStore(t, 3)
	ctx := context.Background()
	now := time.Now()

	for i := 1; i <= 5; i++ {
		_, err := store.Apply(ctx, "a@x.com", Update{
			Prepend: []activity.Entry{activity.NewEntry(uint64(i), now, fmt.Sprintf("action %d", i), "", "", "a@x.com")},
		})
		require.NoError(t, err)
	}

	user, err := store.Find(ctx, "a@x.com")
	require.NoError(t, err)
	require.Len(t, user.Stats.Activities, 3)
	assert.Equal(t, "action 5", user.Stats.Activities[0].Action)
	assert.Equal(t, "action 3", user.Stats.Activities[2].Action)
}

func TestApplyRejectsEmptyIdentity(t *testing.T) {
	store := newTestStore(t, 0)

	_, err := store.Apply(context.Background(), "  ", Update{})
	assert.ErrorIs(t, err, ErrPersistence)
}

func TestApplyHonoursCancelledContext(t *testing.T) {
	store := newTestStore(t, 0)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := store.Apply(ctx, "a@x.com", Update{})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestApplySaturatesCounters(t *testing.T) {
	store := newTestStore(t, 0)
	ctx := context.Background()

	_, err := store.Apply(ctx, "a@x.com", Update{Increments: map[stats.Metric]int{stats.MetricResumes: 5}})
	require.NoError(t, err)
	user, err := store.Apply(ctx, "a@x.com", Update{Increments: map[stats.Metric]int{stats.MetricResumes: math.MaxInt}})
	require.NoError(t, err)

	assert.Equal(t, math.MaxInt, user.Stats.Resumes)
}

func TestLoadReturnsStoredRecord(t *testing.T) {
	store := newTestStore(t, 0)
	ctx := context.Background()

	_, found, err := store.Load(ctx, "a@x.com")
	require.NoError(t, err)
	assert.False(t, found)

	_, err = store.Apply(ctx, "A@x.com", Update{
		Increments: map[stats.Metric]int{stats.MetricInterviews: 3},
		Prepend:    []activity.Entry{activity.NewEntry(1, time.Now(), "Completed Interview", "Mic", "", "a@x.com")},
	})
	require.NoError(t, err)

	rec, found, err := store.Load(ctx, "a@X.com ")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, 3, rec.Interviews)
	require.Len(t, rec.Activities, 1)
	assert.Equal(t, "Completed Interview", rec.Activities[0].Action)
}
