package store

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStudy(id string) Study {
	return Study{
		ID: id, Name: id, Goal: GoalMinimize,
		MaxTrials: 10, Parallelism: 1, Seed: 1,
		Status: StudyPending,
	}
}

func TestPutFetchStudyRoundTrip(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	s := newTestStudy("s1")
	require.NoError(t, m.PutStudy(ctx, s))

	got, err := m.GetStudy(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, s.ID, got.ID)
	assert.Equal(t, s.Goal, got.Goal)
}

func TestGetStudyNotFound(t *testing.T) {
	m := NewMemory()
	_, err := m.GetStudy(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestAddTrialDuplicateID(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	require.NoError(t, m.PutStudy(ctx, newTestStudy("s1")))

	tr := Trial{ID: "t1", StudyID: "s1", Number: 0, Status: TrialPending, StartedAt: time.Now()}
	require.NoError(t, m.AddTrial(ctx, tr))
	err := m.AddTrial(ctx, tr)
	assert.ErrorIs(t, err, ErrDuplicate)
}

func TestAddTrialDuplicateNumber(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	require.NoError(t, m.PutStudy(ctx, newTestStudy("s1")))

	require.NoError(t, m.AddTrial(ctx, Trial{ID: "t1", StudyID: "s1", Number: 0, Status: TrialPending, StartedAt: time.Now()}))
	err := m.AddTrial(ctx, Trial{ID: "t2", StudyID: "s1", Number: 0, Status: TrialPending, StartedAt: time.Now()})
	assert.ErrorIs(t, err, ErrDuplicate)
}

func TestUpdateTrialPatchesOnlyMutableFields(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	require.NoError(t, m.PutStudy(ctx, newTestStudy("s1")))
	require.NoError(t, m.AddTrial(ctx, Trial{ID: "t1", StudyID: "s1", Number: 0, Status: TrialRunning, StartedAt: time.Now()}))

	score := 3.14
	status := TrialCompleted
	require.NoError(t, m.UpdateTrial(ctx, "t1", TrialPatch{Status: &status, Score: &score}))

	got, err := m.FetchTrial(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, TrialCompleted, got.Status)
	require.NotNil(t, got.Score)
	assert.Equal(t, 3.14, *got.Score)
}

func TestUpdateTrialRejectsCompletedWithoutScore(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	require.NoError(t, m.PutStudy(ctx, newTestStudy("s1")))
	require.NoError(t, m.AddTrial(ctx, Trial{ID: "t1", StudyID: "s1", Number: 0, Status: TrialRunning, StartedAt: time.Now()}))

	status := TrialCompleted
	err := m.UpdateTrial(ctx, "t1", TrialPatch{Status: &status})
	assert.Error(t, err)
}

func TestIntermediateValuesMergeNotReplace(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	require.NoError(t, m.PutStudy(ctx, newTestStudy("s1")))
	require.NoError(t, m.AddTrial(ctx, Trial{ID: "t1", StudyID: "s1", Number: 0, Status: TrialRunning, StartedAt: time.Now()}))

	require.NoError(t, m.UpdateTrial(ctx, "t1", TrialPatch{IntermediateValues: map[int]float64{0: 1.0}}))
	require.NoError(t, m.UpdateTrial(ctx, "t1", TrialPatch{IntermediateValues: map[int]float64{1: 2.0}}))

	got, err := m.FetchTrial(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, map[int]float64{0: 1.0, 1: 2.0}, got.IntermediateValues)
}

func TestObservationUniquePerRung(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	require.NoError(t, m.PutStudy(ctx, newTestStudy("s1")))
	require.NoError(t, m.AddTrial(ctx, Trial{ID: "t1", StudyID: "s1", Number: 0, Status: TrialRunning, StartedAt: time.Now()}))

	require.NoError(t, m.AddObservation(ctx, Observation{TrialID: "t1", Bracket: 0, Rung: 0, Score: 1.0}))
	err := m.AddObservation(ctx, Observation{TrialID: "t1", Bracket: 0, Rung: 0, Score: 2.0})
	assert.ErrorIs(t, err, ErrDuplicate)
}

func TestObservationsAtRungReturnsPeers(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	require.NoError(t, m.PutStudy(ctx, newTestStudy("s1")))
	for i, id := range []string{"t1", "t2", "t3"} {
		require.NoError(t, m.AddTrial(ctx, Trial{ID: id, StudyID: "s1", Number: i, Status: TrialRunning, StartedAt: time.Now()}))
		require.NoError(t, m.AddObservation(ctx, Observation{TrialID: id, Bracket: 0, Rung: 1, Score: float64(i)}))
	}
	peers, err := m.ObservationsAtRung(ctx, "s1", 0, 1)
	require.NoError(t, err)
	assert.Len(t, peers, 3)
}

func TestListTrialsIsInsertionOrder(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	require.NoError(t, m.PutStudy(ctx, newTestStudy("s1")))
	for i := 0; i < 5; i++ {
		require.NoError(t, m.AddTrial(ctx, Trial{ID: string(rune('a' + i)), StudyID: "s1", Number: i, Status: TrialPending, StartedAt: time.Now()}))
	}
	trials, err := m.ListTrials(ctx, "s1")
	require.NoError(t, err)
	require.Len(t, trials, 5)
	for i, tr := range trials {
		assert.Equal(t, i, tr.Number)
	}
}

func TestConcurrentWritesAcrossStudiesDoNotRace(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	var wg sync.WaitGroup
	for s := 0; s < 8; s++ {
		studyID := string(rune('A' + s))
		require.NoError(t, m.PutStudy(ctx, newTestStudy(studyID)))
		wg.Add(1)
		go func(sid string) {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				trialID := sid + "-" + string(rune('a'+i%26)) + string(rune('0'+i/26))
				_ = m.AddTrial(ctx, Trial{ID: trialID, StudyID: sid, Number: i, Status: TrialPending, StartedAt: time.Now()})
			}
		}(studyID)
	}
	wg.Wait()

	for s := 0; s < 8; s++ {
		studyID := string(rune('A' + s))
		trials, err := m.ListTrials(ctx, studyID)
		require.NoError(t, err)
		assert.Len(t, trials, 50)
	}
}

func TestFetchTrialReturnsCopyNotAlias(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	require.NoError(t, m.PutStudy(ctx, newTestStudy("s1")))
	require.NoError(t, m.AddTrial(ctx, Trial{
		ID: "t1", StudyID: "s1", Number: 0, Status: TrialPending,
		StartedAt: time.Now(), Params: map[string]any{"x": 1.0},
	}))

	got, err := m.FetchTrial(ctx, "t1")
	require.NoError(t, err)
	got.Params["x"] = 999.0

	got2, err := m.FetchTrial(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, 1.0, got2.Params["x"])
}

func TestSetStudyStatusNotFound(t *testing.T) {
	m := NewMemory()
	err := m.SetStudyStatus(context.Background(), "missing", StudyRunning)
	assert.True(t, errors.Is(err, ErrNotFound))
}
