package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// shardCount is the number of per-study lock shards.
const shardCount = 16

// Memory is the authoritative in-memory Store implementation. It shards
// per-study state across shardCount sync.RWMutex-guarded buckets so
// studies in different shards never contend, and serializes writes to a single
// study's trials with that study's shard lock.
type Memory struct {
	shards [shardCount]*shard
}

type shard struct {
	mu       sync.RWMutex
	studies  map[string]Study
	trials   map[string]*Trial            // trialID -> trial
	byNumber map[string]map[int]string    // studyID -> number -> trialID
	byStudy  map[string][]string          // studyID -> ordered trialIDs (insertion order)
	obs      map[string]map[[2]int]map[string]float64 // studyID -> (bracket,rung) -> trialID -> score
}

// NewMemory builds an empty in-memory store.
func NewMemory() *Memory {
	m := &Memory{}
	for i := range m.shards {
		m.shards[i] = &shard{
			studies:  make(map[string]Study),
			trials:   make(map[string]*Trial),
			byNumber: make(map[string]map[int]string),
			byStudy:  make(map[string][]string),
			obs:      make(map[string]map[[2]int]map[string]float64),
		}
	}
	return m
}

func (m *Memory) shardFor(studyID string) *shard {
	h := fnv32(studyID)
	return m.shards[h%shardCount]
}

func fnv32(s string) uint32 {
	const prime = 16777619
	h := uint32(2166136261)
	for i := 0; i < len(s); i++ {
		h ^= uint32(s[i])
		h *= prime
	}
	return h
}

func (m *Memory) PutStudy(_ context.Context, s Study) error {
	if err := s.Validate(); err != nil {
		return err
	}
	sh := m.shardFor(s.ID)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	sh.studies[s.ID] = s
	if _, ok := sh.byNumber[s.ID]; !ok {
		sh.byNumber[s.ID] = make(map[int]string)
	}
	return nil
}

func (m *Memory) GetStudy(_ context.Context, studyID string) (Study, error) {
	sh := m.shardFor(studyID)
	sh.mu.RLock()
	defer sh.mu.RUnlock()
	s, ok := sh.studies[studyID]
	if !ok {
		return Study{}, fmt.Errorf("%w: study %q", ErrNotFound, studyID)
	}
	return s, nil
}

func (m *Memory) SetStudyStatus(_ context.Context, studyID string, status StudyStatus) error {
	sh := m.shardFor(studyID)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	s, ok := sh.studies[studyID]
	if !ok {
		return fmt.Errorf("%w: study %q", ErrNotFound, studyID)
	}
	s.Status = status
	sh.studies[studyID] = s
	return nil
}

func (m *Memory) ListStudies(_ context.Context) ([]Study, error) {
	var out []Study
	for _, sh := range m.shards {
		sh.mu.RLock()
		for _, s := range sh.studies {
			out = append(out, s)
		}
		sh.mu.RUnlock()
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *Memory) AddTrial(_ context.Context, t Trial) error {
	if err := t.Validate(); err != nil {
		return err
	}
	sh := m.shardFor(t.StudyID)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	if _, exists := sh.trials[t.ID]; exists {
		return fmt.Errorf("%w: trial id %q", ErrDuplicate, t.ID)
	}
	if sh.byNumber[t.StudyID] == nil {
		sh.byNumber[t.StudyID] = make(map[int]string)
	}
	if _, exists := sh.byNumber[t.StudyID][t.Number]; exists {
		return fmt.Errorf("%w: trial number %d in study %q", ErrDuplicate, t.Number, t.StudyID)
	}

	cp := t
	cp.Params = cloneMapAny(t.Params)
	cp.IntermediateValues = cloneMapFloat(t.IntermediateValues)
	sh.trials[t.ID] = &cp
	sh.byNumber[t.StudyID][t.Number] = t.ID
	sh.byStudy[t.StudyID] = append(sh.byStudy[t.StudyID], t.ID)
	return nil
}

func (m *Memory) UpdateTrial(_ context.Context, trialID string, patch TrialPatch) error {
	_, sh, err := m.locateTrialShard(trialID)
	if err != nil {
		return err
	}
	sh.mu.Lock()
	defer sh.mu.Unlock()

	tr, ok := sh.trials[trialID]
	if !ok {
		return fmt.Errorf("%w: trial %q", ErrNotFound, trialID)
	}

	next := *tr
	if patch.Status != nil {
		next.Status = *patch.Status
	}
	if patch.Score != nil {
		next.Score = patch.Score
	}
	if patch.FinishedAt != nil {
		next.FinishedAt = patch.FinishedAt
	}
	if patch.Error != nil {
		next.Error = *patch.Error
	}
	if len(patch.IntermediateValues) > 0 {
		merged := cloneMapFloat(next.IntermediateValues)
		if merged == nil {
			merged = make(map[int]float64, len(patch.IntermediateValues))
		}
		for k, v := range patch.IntermediateValues {
			merged[k] = v
		}
		next.IntermediateValues = merged
	}
	if err := next.Validate(); err != nil {
		return err
	}
	sh.trials[trialID] = &next
	return nil
}

func (m *Memory) FetchTrial(_ context.Context, trialID string) (Trial, error) {
	_, sh, err := m.locateTrialShard(trialID)
	if err != nil {
		return Trial{}, err
	}
	sh.mu.RLock()
	defer sh.mu.RUnlock()
	tr, ok := sh.trials[trialID]
	if !ok {
		return Trial{}, fmt.Errorf("%w: trial %q", ErrNotFound, trialID)
	}
	return cloneTrial(*tr), nil
}

func (m *Memory) ListTrials(_ context.Context, studyID string) ([]Trial, error) {
	sh := m.shardFor(studyID)
	sh.mu.RLock()
	defer sh.mu.RUnlock()
	ids := sh.byStudy[studyID]
	out := make([]Trial, 0, len(ids))
	for _, id := range ids {
		out = append(out, cloneTrial(*sh.trials[id]))
	}
	return out, nil
}

func (m *Memory) AddObservation(_ context.Context, o Observation) error {
	if err := o.Validate(); err != nil {
		return err
	}
	studyID, sh, err := m.locateTrialShard(o.TrialID)
	if err != nil {
		return err
	}
	sh.mu.Lock()
	defer sh.mu.Unlock()

	key := [2]int{o.Bracket, o.Rung}
	if sh.obs[studyID] == nil {
		sh.obs[studyID] = make(map[[2]int]map[string]float64)
	}
	if sh.obs[studyID][key] == nil {
		sh.obs[studyID][key] = make(map[string]float64)
	}
	if _, exists := sh.obs[studyID][key][o.TrialID]; exists {
		return fmt.Errorf("%w: observation (trial=%s, bracket=%d, rung=%d)", ErrDuplicate, o.TrialID, o.Bracket, o.Rung)
	}
	sh.obs[studyID][key][o.TrialID] = o.Score

	if tr, ok := sh.trials[o.TrialID]; ok {
		next := *tr
		merged := cloneMapFloat(next.IntermediateValues)
		if merged == nil {
			merged = make(map[int]float64)
		}
		merged[o.Rung] = o.Score
		next.IntermediateValues = merged
		sh.trials[o.TrialID] = &next
	}
	return nil
}

func (m *Memory) ObservationsAtRung(_ context.Context, studyID string, bracket, rung int) ([]PeerScore, error) {
	sh := m.shardFor(studyID)
	sh.mu.RLock()
	defer sh.mu.RUnlock()
	key := [2]int{bracket, rung}
	byTrial := sh.obs[studyID][key]
	out := make([]PeerScore, 0, len(byTrial))
	for trialID, score := range byTrial {
		out = append(out, PeerScore{TrialID: trialID, Score: score})
	}
	return out, nil
}

// locateTrialShard finds which study (and therefore shard) a trial id
// belongs to. This is O(shards) in the worst case but trial ids are
// looked up far less often than they're listed in bulk.
func (m *Memory) locateTrialShard(trialID string) (string, *shard, error) {
	for _, sh := range m.shards {
		sh.mu.RLock()
		if tr, ok := sh.trials[trialID]; ok {
			studyID := tr.StudyID
			sh.mu.RUnlock()
			return studyID, sh, nil
		}
		sh.mu.RUnlock()
	}
	return "", nil, fmt.Errorf("%w: trial %q", ErrNotFound, trialID)
}

func cloneTrial(t Trial) Trial {
	cp := t
	cp.Params = cloneMapAny(t.Params)
	cp.IntermediateValues = cloneMapFloat(t.IntermediateValues)
	if t.Score != nil {
		v := *t.Score
		cp.Score = &v
	}
	if t.FinishedAt != nil {
		v := *t.FinishedAt
		cp.FinishedAt = &v
	}
	return cp
}

func cloneMapAny(in map[string]any) map[string]any {
	if in == nil {
		return nil
	}
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

func cloneMapFloat(in map[int]float64) map[int]float64 {
	if in == nil {
		return nil
	}
	out := make(map[int]float64, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

var _ Store = (*Memory)(nil)
