package checkpoint

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/arobust/arobust/pkg/events"
	"github.com/arobust/arobust/pkg/metrics"
	"github.com/arobust/arobust/pkg/storage"
	"github.com/arobust/arobust/pkg/types"
)

// Manager saves and loads the checkpoints of one role.
//
// Saves are serialized. The publish and eviction step excludes loads, so a
// load sees either the state before a save or after it, and never a record
// whose artifact has been deleted. Artifacts of replaced or evicted records
// are deleted only after the manifest no longer references them.
type Manager struct {
	role   types.Role
	policy Policy
	store  *Store
	codec  Codec
	logger zerolog.Logger

	saveMu sync.Mutex
	pubMu  sync.RWMutex

	// failpoint, when set, runs before each save stage and aborts the save
	// with its error.
	failpoint func(stage string) error
}

// Role returns the managed role
func (m *Manager) Role() types.Role { return m.role }

// Policy returns the retention policy
func (m *Manager) Policy() Policy { return m.policy }

// Save publishes state as the checkpoint of step in episode 0
func (m *Manager) Save(state any, step int64) (*types.CheckpointRecord, error) {
	return m.SaveEpisode(state, 0, step)
}

// SaveEpisode publishes state as the checkpoint of (episode, step). The
// returned record exists only once the manifest commit succeeded.
func (m *Manager) SaveEpisode(state any, episode, step int64) (*types.CheckpointRecord, error) {
	m.saveMu.Lock()
	defer m.saveMu.Unlock()

	timer := metrics.NewTimer()
	rec, dropped, err := m.save(state, episode, step)
	timer.ObserveDurationVec(metrics.CheckpointSaveDuration, string(m.role))

	if err != nil {
		metrics.CheckpointSavesTotal.WithLabelValues(string(m.role), "error").Inc()
		m.logger.Error().Err(err).Int64("episode", episode).Int64("step", step).Msg("checkpoint save failed")
		m.store.broker.Publish(events.NewEvent(events.EventCheckpointFailed, err.Error(), m.eventMeta(episode, step)))
		return nil, err
	}

	metrics.CheckpointSavesTotal.WithLabelValues(string(m.role), "success").Inc()
	m.logger.Info().
		Int64("episode", episode).
		Int64("step", step).
		Int64("size", rec.Size).
		Str("location", rec.Location).
		Dur("duration", timer.Duration()).
		Msg("checkpoint saved")
	m.store.broker.Publish(events.NewEvent(events.EventCheckpointSaved, rec.Location, m.eventMeta(episode, step)))

	m.deleteArtifacts(dropped)
	return rec, nil
}

func (m *Manager) save(state any, episode, step int64) (*types.CheckpointRecord, []*types.CheckpointRecord, error) {
	fail := func(stage string, err error) error {
		return &SaveError{Role: m.role, Episode: episode, Step: step, Stage: stage, Err: err}
	}

	if m.policy.StrictlyIncreasing {
		latest, err := m.store.manifest.Latest(m.role)
		switch {
		case err == nil && !latest.Before(episode, step):
			return nil, nil, fail(StageValidate, fmt.Errorf("%w: latest is episode %d step %d",
				ErrNonMonotonicStep, latest.Episode, latest.Step))
		case err != nil && !errors.Is(err, storage.ErrNotFound):
			return nil, nil, fail(StageValidate, err)
		}
	}

	if err := m.hit(StageEncode); err != nil {
		return nil, nil, fail(StageEncode, err)
	}
	data, err := m.codec.Marshal(state)
	if err != nil {
		return nil, nil, fail(StageEncode, err)
	}

	if err := m.hit(StageWrite); err != nil {
		return nil, nil, fail(StageWrite, err)
	}
	staged, checksum, err := m.store.artifacts.stage(m.role, data)
	if err != nil {
		return nil, nil, fail(StageWrite, err)
	}

	if err := m.hit(StageRename); err != nil {
		os.Remove(staged)
		return nil, nil, fail(StageRename, err)
	}
	location, err := m.store.artifacts.commit(staged, m.role, episode, step)
	if err != nil {
		os.Remove(staged)
		return nil, nil, fail(StageRename, err)
	}

	rec := &types.CheckpointRecord{
		Role:      m.role,
		Episode:   episode,
		Step:      step,
		Location:  location,
		CreatedAt: time.Now().UTC(),
		Valid:     true,
		Checksum:  checksum,
		Size:      int64(len(data)),
	}

	m.pubMu.Lock()
	defer m.pubMu.Unlock()

	if err := m.hit(StagePublish); err != nil {
		m.store.artifacts.remove(location)
		return nil, nil, fail(StagePublish, err)
	}
	replaced, err := m.store.manifest.Publish(rec)
	if err != nil {
		m.store.artifacts.remove(location)
		return nil, nil, fail(StagePublish, err)
	}

	var dropped []*types.CheckpointRecord
	if replaced != nil {
		dropped = append(dropped, replaced)
	}
	dropped = append(dropped, m.evict(rec)...)
	return rec, dropped, nil
}

// evict removes the oldest records beyond the retention limit. The record
// just published is never removed. Must hold pubMu.
func (m *Manager) evict(published *types.CheckpointRecord) []*types.CheckpointRecord {
	recs, err := m.store.manifest.List(m.role)
	if err != nil {
		m.logger.Warn().Err(err).Msg("failed to list checkpoints for retention")
		return nil
	}
	metrics.CheckpointsStored.WithLabelValues(string(m.role)).Set(float64(len(recs)))
	if m.policy.MaxCheckpoints == 0 || len(recs) <= m.policy.MaxCheckpoints {
		return nil
	}

	var evicted []*types.CheckpointRecord
	excess := len(recs) - m.policy.MaxCheckpoints
	for _, rec := range recs {
		if excess == 0 {
			break
		}
		if rec.Sequence == published.Sequence {
			continue
		}
		removed, err := m.store.manifest.Remove(m.role, rec.Sequence)
		if err != nil {
			m.logger.Warn().Err(err).Uint64("sequence", rec.Sequence).Msg("failed to evict checkpoint")
			continue
		}
		evicted = append(evicted, removed)
		excess--

		metrics.CheckpointEvictionsTotal.WithLabelValues(string(m.role)).Inc()
		m.logger.Debug().Int64("episode", removed.Episode).Int64("step", removed.Step).Msg("checkpoint evicted")
		m.store.broker.Publish(events.NewEvent(events.EventCheckpointEvicted, removed.Location,
			m.eventMeta(removed.Episode, removed.Step)))
	}
	metrics.CheckpointsStored.WithLabelValues(string(m.role)).Set(float64(len(recs) - len(evicted)))
	return evicted
}

// Load decodes the latest checkpoint into out. It returns false when there
// is none or it cannot be read; the cause is logged.
func (m *Manager) Load(out any) (*types.CheckpointRecord, bool) {
	return m.load(out, "latest", func() (*types.CheckpointRecord, error) {
		return m.store.manifest.Latest(m.role)
	})
}

// LoadStep decodes the checkpoint of step in episode 0 into out
func (m *Manager) LoadStep(step int64, out any) (*types.CheckpointRecord, bool) {
	return m.LoadEpisodeStep(0, step, out)
}

// LoadEpisodeStep decodes the checkpoint of (episode, step) into out
func (m *Manager) LoadEpisodeStep(episode, step int64, out any) (*types.CheckpointRecord, bool) {
	return m.load(out, fmt.Sprintf("episode %d step %d", episode, step), func() (*types.CheckpointRecord, error) {
		return m.store.manifest.Get(m.role, episode, step)
	})
}

func (m *Manager) load(out any, what string, lookup func() (*types.CheckpointRecord, error)) (*types.CheckpointRecord, bool) {
	m.pubMu.RLock()
	defer m.pubMu.RUnlock()

	rec, err := lookup()
	if errors.Is(err, storage.ErrNotFound) {
		metrics.CheckpointLoadsTotal.WithLabelValues(string(m.role), "miss").Inc()
		m.logger.Debug().Str("checkpoint", what).Msg("checkpoint not found")
		return nil, false
	}
	if err != nil {
		metrics.CheckpointLoadsTotal.WithLabelValues(string(m.role), "error").Inc()
		m.logger.Error().Err(err).Str("checkpoint", what).Msg("failed to read manifest")
		return nil, false
	}

	data, err := m.store.artifacts.read(rec)
	if err != nil {
		metrics.CheckpointLoadsTotal.WithLabelValues(string(m.role), "corrupt").Inc()
		m.logger.Error().Err(err).Str("location", rec.Location).Msg("checkpoint artifact unreadable")
		return nil, false
	}
	if err := m.codec.Unmarshal(data, out); err != nil {
		metrics.CheckpointLoadsTotal.WithLabelValues(string(m.role), "corrupt").Inc()
		m.logger.Error().Err(err).Str("location", rec.Location).Msg("failed to decode checkpoint")
		return nil, false
	}

	metrics.CheckpointLoadsTotal.WithLabelValues(string(m.role), "hit").Inc()
	m.logger.Debug().Str("location", rec.Location).Msg("checkpoint loaded")
	return rec, true
}

// Latest returns the latest published record without reading its artifact
func (m *Manager) Latest() (*types.CheckpointRecord, bool) {
	m.pubMu.RLock()
	defer m.pubMu.RUnlock()

	rec, err := m.store.manifest.Latest(m.role)
	if err != nil {
		return nil, false
	}
	return rec, true
}

// List returns the published records in publish order
func (m *Manager) List() ([]*types.CheckpointRecord, error) {
	m.pubMu.RLock()
	defer m.pubMu.RUnlock()
	return m.store.manifest.List(m.role)
}

// Delete removes the checkpoint of (episode, step)
func (m *Manager) Delete(episode, step int64) error {
	n, err := m.DeleteWhere(func(rec *types.CheckpointRecord) bool {
		return rec.Episode == episode && rec.Step == step
	})
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("checkpoint %s episode %d step %d: %w", m.role, episode, step, storage.ErrNotFound)
	}
	return nil
}

// DeleteWhere removes every record match reports and returns how many were
// removed.
func (m *Manager) DeleteWhere(match func(*types.CheckpointRecord) bool) (int, error) {
	m.saveMu.Lock()
	defer m.saveMu.Unlock()

	m.pubMu.Lock()
	recs, err := m.store.manifest.List(m.role)
	if err != nil {
		m.pubMu.Unlock()
		return 0, err
	}
	var removed []*types.CheckpointRecord
	for _, rec := range recs {
		if !match(rec) {
			continue
		}
		r, err := m.store.manifest.Remove(m.role, rec.Sequence)
		if err != nil {
			m.pubMu.Unlock()
			m.deleteArtifacts(removed)
			return len(removed), err
		}
		removed = append(removed, r)
	}
	metrics.CheckpointsStored.WithLabelValues(string(m.role)).Set(float64(len(recs) - len(removed)))
	m.pubMu.Unlock()

	m.deleteArtifacts(removed)
	if len(removed) > 0 {
		m.logger.Info().Int("removed", len(removed)).Msg("checkpoints deleted")
	}
	return len(removed), nil
}

func (m *Manager) deleteArtifacts(recs []*types.CheckpointRecord) {
	for _, rec := range recs {
		if err := m.store.artifacts.remove(rec.Location); err != nil {
			m.logger.Warn().Err(err).Str("location", rec.Location).Msg("failed to delete checkpoint artifact")
		}
	}
}

func (m *Manager) hit(stage string) error {
	if m.failpoint == nil {
		return nil
	}
	return m.failpoint(stage)
}

func (m *Manager) eventMeta(episode, step int64) map[string]string {
	return map[string]string{
		"role":    string(m.role),
		"episode": strconv.FormatInt(episode, 10),
		"step":    strconv.FormatInt(step, 10),
	}
}
