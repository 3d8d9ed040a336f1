package checkpoint

import (
	"fmt"
	"sort"
	"sync"

	"github.com/arobust/arobust/pkg/types"
)

// byEpisodeStep sorts records by (episode, step)
func byEpisodeStep(recs []*types.CheckpointRecord) {
	sort.Slice(recs, func(i, j int) bool {
		return recs[i].Before(recs[j].Episode, recs[j].Step)
	})
}

// LatestManager keeps the most recent training state for fast resume
type LatestManager struct {
	*Manager
}

// NewLatestManager returns the latest-role manager of store
func NewLatestManager(store *Store, policy Policy) (*LatestManager, error) {
	m, err := store.Manager(types.RoleLatest, policy)
	if err != nil {
		return nil, err
	}
	return &LatestManager{Manager: m}, nil
}

// PeriodicManager saves at most once every SaveInterval steps
type PeriodicManager struct {
	*Manager

	mu        sync.Mutex
	interval  int64
	lastSaved int64
}

// NewPeriodicManager returns the periodic-role manager of store. The last
// saved step is taken from the manifest, so intervals carry over restarts.
func NewPeriodicManager(store *Store, policy Policy) (*PeriodicManager, error) {
	if policy.SaveInterval <= 0 {
		return nil, fmt.Errorf("save interval must be positive, got %d", policy.SaveInterval)
	}
	m, err := store.Manager(types.RolePeriodic, policy)
	if err != nil {
		return nil, err
	}

	p := &PeriodicManager{Manager: m, interval: policy.SaveInterval, lastSaved: -1}
	if rec, ok := m.Latest(); ok {
		p.lastSaved = rec.Step
	}
	return p, nil
}

// ShouldSave reports whether step is due. Step 0 is never due.
func (p *PeriodicManager) ShouldSave(step int64) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return step != 0 && step-p.lastSaved >= p.interval
}

// SaveIfNeeded saves state when step is due
func (p *PeriodicManager) SaveIfNeeded(state any, step int64) (bool, error) {
	if !p.ShouldSave(step) {
		return false, nil
	}
	if _, err := p.Save(state, step); err != nil {
		return false, err
	}
	return true, nil
}

// Save saves unconditionally and restarts the interval at step
func (p *PeriodicManager) Save(state any, step int64) (*types.CheckpointRecord, error) {
	rec, err := p.Manager.Save(state, step)
	if err != nil {
		return nil, err
	}
	p.mu.Lock()
	p.lastSaved = step
	p.mu.Unlock()
	return rec, nil
}

// LastSaved returns the last saved step, or -1
func (p *PeriodicManager) LastSaved() int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastSaved
}

// RefLogP is a saved set of reference model log probabilities
type RefLogP struct {
	LogP    []float32 `json:"logp"`
	Episode int64     `json:"episode"`
	Step    int64     `json:"step"`
}

// RefLogPManager stores reference model log probabilities used for the KL
// penalty between the actor and the reference model.
type RefLogPManager struct {
	*Manager
}

// NewRefLogPManager returns the ref_logp-role manager of store
func NewRefLogPManager(store *Store, policy Policy) (*RefLogPManager, error) {
	m, err := store.Manager(types.RoleRefLogP, policy)
	if err != nil {
		return nil, err
	}
	return &RefLogPManager{Manager: m}, nil
}

// SaveRefLogP saves logp for (episode, step)
func (r *RefLogPManager) SaveRefLogP(logp []float32, episode, step int64) (*types.CheckpointRecord, error) {
	return r.SaveEpisode(RefLogP{LogP: logp, Episode: episode, Step: step}, episode, step)
}

// LoadRefLogP returns the log probabilities saved for (episode, step)
func (r *RefLogPManager) LoadRefLogP(episode, step int64) ([]float32, bool) {
	var v RefLogP
	if _, ok := r.LoadEpisodeStep(episode, step, &v); !ok {
		return nil, false
	}
	return v.LogP, true
}

// LatestRefLogP returns the entry with the highest (episode, step)
func (r *RefLogPManager) LatestRefLogP() (*RefLogP, bool) {
	recs, err := r.List()
	if err != nil || len(recs) == 0 {
		return nil, false
	}
	byEpisodeStep(recs)
	last := recs[len(recs)-1]

	var v RefLogP
	if _, ok := r.LoadEpisodeStep(last.Episode, last.Step, &v); !ok {
		return nil, false
	}
	return &v, true
}

// ClearOld keeps the keepLastN highest (episode, step) entries
func (r *RefLogPManager) ClearOld(keepLastN int) (int, error) {
	if keepLastN < 0 {
		keepLastN = 0
	}
	recs, err := r.List()
	if err != nil {
		return 0, err
	}
	if len(recs) <= keepLastN {
		return 0, nil
	}
	byEpisodeStep(recs)

	drop := make(map[uint64]bool)
	for _, rec := range recs[:len(recs)-keepLastN] {
		drop[rec.Sequence] = true
	}
	return r.DeleteWhere(func(rec *types.CheckpointRecord) bool { return drop[rec.Sequence] })
}

// RolloutResponse is one generated sample with its scores
type RolloutResponse struct {
	Prompt   string    `json:"prompt"`
	Response string    `json:"response"`
	Reward   float64   `json:"reward"`
	Value    *float64  `json:"value,omitempty"`
	LogP     []float32 `json:"logp,omitempty"`
}

// RolloutBatch is a saved batch of rollout responses
type RolloutBatch struct {
	Responses  []RolloutResponse `json:"responses"`
	Episode    int64             `json:"episode"`
	BatchID    int64             `json:"batch_id"`
	NumSamples int               `json:"num_samples"`
}

// RolloutManager stores rollout batches for experience replay. The batch id
// takes the place of the step.
type RolloutManager struct {
	*Manager
}

// NewRolloutManager returns the rollout-role manager of store
func NewRolloutManager(store *Store, policy Policy) (*RolloutManager, error) {
	m, err := store.Manager(types.RoleRollout, policy)
	if err != nil {
		return nil, err
	}
	return &RolloutManager{Manager: m}, nil
}

// SaveBatch saves responses as batch batchID of episode
func (r *RolloutManager) SaveBatch(responses []RolloutResponse, episode, batchID int64) (*types.CheckpointRecord, error) {
	return r.SaveEpisode(RolloutBatch{
		Responses:  responses,
		Episode:    episode,
		BatchID:    batchID,
		NumSamples: len(responses),
	}, episode, batchID)
}

// LoadBatch returns batch batchID of episode
func (r *RolloutManager) LoadBatch(episode, batchID int64) (*RolloutBatch, bool) {
	var b RolloutBatch
	if _, ok := r.LoadEpisodeStep(episode, batchID, &b); !ok {
		return nil, false
	}
	return &b, true
}

// ListBatches returns batch records sorted by (episode, batch), restricted to
// one episode when episode is not nil.
func (r *RolloutManager) ListBatches(episode *int64) ([]*types.CheckpointRecord, error) {
	recs, err := r.List()
	if err != nil {
		return nil, err
	}
	out := recs[:0]
	for _, rec := range recs {
		if episode == nil || rec.Episode == *episode {
			out = append(out, rec)
		}
	}
	byEpisodeStep(out)
	return out, nil
}

// ClearEpisode removes every batch of episode
func (r *RolloutManager) ClearEpisode(episode int64) (int, error) {
	return r.DeleteWhere(func(rec *types.CheckpointRecord) bool { return rec.Episode == episode })
}

// ClearOldEpisodes keeps the batches of the keepLastN highest episodes
func (r *RolloutManager) ClearOldEpisodes(keepLastN int) (int, error) {
	if keepLastN < 0 {
		keepLastN = 0
	}
	recs, err := r.List()
	if err != nil {
		return 0, err
	}

	seen := make(map[int64]bool)
	var episodes []int64
	for _, rec := range recs {
		if !seen[rec.Episode] {
			seen[rec.Episode] = true
			episodes = append(episodes, rec.Episode)
		}
	}
	if len(episodes) <= keepLastN {
		return 0, nil
	}
	sort.Slice(episodes, func(i, j int) bool { return episodes[i] < episodes[j] })
	cutoff := episodes[len(episodes)-keepLastN-1]

	return r.DeleteWhere(func(rec *types.CheckpointRecord) bool { return rec.Episode <= cutoff })
}
