package client

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/arobust/arobust/pkg/collector"
	"github.com/arobust/arobust/pkg/types"
)

const (
	// DefaultRetention is how long LocalStore keeps records
	DefaultRetention = 600 * time.Second

	// AnyNode matches records of every node in LocalStore queries
	AnyNode = math.MinInt

	defaultQueryLimit = 100
)

// LocalStore keeps reported records in memory, per data type, for a
// retention window. It serves as the reporting client when no master is
// configured.
type LocalStore struct {
	mu        sync.Mutex
	retention time.Duration
	data      map[types.DiagnosisDataType][]*types.TrainingMetricRecord
	now       func() time.Time
}

// NewLocalStore creates a store; a non-positive retention uses DefaultRetention
func NewLocalStore(retention time.Duration) *LocalStore {
	if retention <= 0 {
		retention = DefaultRetention
	}
	return &LocalStore{
		retention: retention,
		data:      make(map[types.DiagnosisDataType][]*types.TrainingMetricRecord),
		now:       time.Now,
	}
}

// Report stores rec and expires records older than the retention window
func (s *LocalStore) Report(_ context.Context, rec *types.TrainingMetricRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	dt := rec.DataType()
	s.data[dt] = append(s.data[dt], rec)
	s.expire(dt)
	return nil
}

// expire drops the records of dt older than the window. Records arrive in
// time order, so they are dropped from the front. Must hold mu.
func (s *LocalStore) expire(dt types.DiagnosisDataType) {
	cutoff := s.now().Add(-s.retention).Unix()
	recs := s.data[dt]
	i := 0
	for i < len(recs) && recs[i].Timestamp() < cutoff {
		i++
	}
	if i > 0 {
		s.data[dt] = append([]*types.TrainingMetricRecord(nil), recs[i:]...)
	}
}

// Get returns up to limit of the most recent records of dt, oldest first,
// restricted to nodeID unless it is AnyNode. A non-positive limit means 100.
func (s *LocalStore) Get(dt types.DiagnosisDataType, nodeID, limit int) []*types.TrainingMetricRecord {
	if limit <= 0 {
		limit = defaultQueryLimit
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*types.TrainingMetricRecord
	for _, rec := range s.data[dt] {
		if nodeID == AnyNode || rec.NodeID() == nodeID {
			out = append(out, rec)
		}
	}
	if len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out
}

// Latest returns the most recent record of dt, or nil
func (s *LocalStore) Latest(dt types.DiagnosisDataType, nodeID int) *types.TrainingMetricRecord {
	recs := s.Get(dt, nodeID, 1)
	if len(recs) == 0 {
		return nil
	}
	return recs[0]
}

// Count returns the number of stored records of dt
func (s *LocalStore) Count(dt types.DiagnosisDataType) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.data[dt])
}

// Clear removes the records of the given types, or of every type when none
// are given.
func (s *LocalStore) Clear(dts ...types.DiagnosisDataType) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(dts) == 0 {
		s.data = make(map[types.DiagnosisDataType][]*types.TrainingMetricRecord)
		return
	}
	for _, dt := range dts {
		delete(s.data, dt)
	}
}

var _ collector.Reporter = (*LocalStore)(nil)
