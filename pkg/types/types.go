package types

import (
	"encoding/json"
	"fmt"
	"time"
)

// DiagnosisDataType identifies the kind of diagnostic content a collector produces
type DiagnosisDataType string

const (
	DataTypeTrainingLog    DiagnosisDataType = "TRAINING_LOG"
	DataTypeXPUTimerMetric DiagnosisDataType = "XPU_TIMER_METRIC"
	DataTypeStackTrace     DiagnosisDataType = "STACK_TRACE"
	DataTypeResourceUsage  DiagnosisDataType = "RESOURCE_USAGE"
)

// AllDataTypes returns every known data type in a stable order
func AllDataTypes() []DiagnosisDataType {
	return []DiagnosisDataType{
		DataTypeTrainingLog,
		DataTypeXPUTimerMetric,
		DataTypeStackTrace,
		DataTypeResourceUsage,
	}
}

// Valid reports whether t is one of the known data types
func (t DiagnosisDataType) Valid() bool {
	switch t {
	case DataTypeTrainingLog, DataTypeXPUTimerMetric, DataTypeStackTrace, DataTypeResourceUsage:
		return true
	}
	return false
}

// NodeInfo identifies the node an agent runs on
type NodeInfo struct {
	ID   int
	Type string
	Rank int
}

// DefaultNodeInfo is used when the environment does not identify the node
func DefaultNodeInfo() NodeInfo {
	return NodeInfo{ID: -1, Type: "worker", Rank: -1}
}

// TrainingMetricRecord is one unit of diagnostic data bound for the remote node.
// It is immutable once built.
type TrainingMetricRecord struct {
	dataType  DiagnosisDataType
	content   string
	nodeID    int
	nodeType  string
	nodeRank  int
	timestamp int64
}

type trainingMetricWire struct {
	DataType  DiagnosisDataType `json:"data_type"`
	Content   string            `json:"data_content"`
	NodeID    int               `json:"node_id"`
	NodeType  string            `json:"node_type"`
	NodeRank  int               `json:"node_rank"`
	Timestamp int64             `json:"timestamp"`
}

// NewTrainingMetricRecord builds a record stamped with the current time
func NewTrainingMetricRecord(dataType DiagnosisDataType, content string, node NodeInfo) *TrainingMetricRecord {
	return &TrainingMetricRecord{
		dataType:  dataType,
		content:   content,
		nodeID:    node.ID,
		nodeType:  node.Type,
		nodeRank:  node.Rank,
		timestamp: time.Now().Unix(),
	}
}

func (r *TrainingMetricRecord) DataType() DiagnosisDataType { return r.dataType }
func (r *TrainingMetricRecord) Content() string             { return r.content }
func (r *TrainingMetricRecord) NodeID() int                 { return r.nodeID }
func (r *TrainingMetricRecord) NodeType() string            { return r.nodeType }
func (r *TrainingMetricRecord) NodeRank() int               { return r.nodeRank }
func (r *TrainingMetricRecord) Timestamp() int64            { return r.timestamp }

// Node returns the identity the record was tagged with
func (r *TrainingMetricRecord) Node() NodeInfo {
	return NodeInfo{ID: r.nodeID, Type: r.nodeType, Rank: r.nodeRank}
}

// MarshalJSON encodes the record with snake_case keys
func (r *TrainingMetricRecord) MarshalJSON() ([]byte, error) {
	return json.Marshal(trainingMetricWire{
		DataType:  r.dataType,
		Content:   r.content,
		NodeID:    r.nodeID,
		NodeType:  r.nodeType,
		NodeRank:  r.nodeRank,
		Timestamp: r.timestamp,
	})
}

// ToJSON returns the JSON encoding of the record
func (r *TrainingMetricRecord) ToJSON() ([]byte, error) {
	return r.MarshalJSON()
}

// TrainingMetricRecordFromJSON decodes a record produced by ToJSON
func TrainingMetricRecordFromJSON(data []byte) (*TrainingMetricRecord, error) {
	var w trainingMetricWire
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, fmt.Errorf("failed to decode training metric record: %w", err)
	}
	if !w.DataType.Valid() {
		return nil, fmt.Errorf("unknown data type %q", w.DataType)
	}
	return &TrainingMetricRecord{
		dataType:  w.DataType,
		content:   w.Content,
		nodeID:    w.NodeID,
		nodeType:  w.NodeType,
		nodeRank:  w.NodeRank,
		timestamp: w.Timestamp,
	}, nil
}

// ActionType is the recovery decision returned by the diagnosis engine
type ActionType string

const (
	ActionContinue      ActionType = "CONTINUE"
	ActionRestartWorker ActionType = "RESTART_WORKER"
	ActionRelaunchFull  ActionType = "RELAUNCH_FULL"
	ActionFailFast      ActionType = "FAIL_FAST"
)

// DiagnosisAction is a recovery decision plus the parameters that explain it
type DiagnosisAction struct {
	Type       ActionType        `json:"action_type"`
	Parameters map[string]string `json:"parameters,omitempty"`
}

// NewAction builds an action owning a copy of params
func NewAction(t ActionType, params map[string]string) DiagnosisAction {
	a := DiagnosisAction{Type: t}
	if len(params) > 0 {
		a.Parameters = make(map[string]string, len(params))
		for k, v := range params {
			a.Parameters[k] = v
		}
	}
	return a
}

func (a DiagnosisAction) String() string {
	if reason, ok := a.Parameters["reason"]; ok {
		return fmt.Sprintf("%s (%s)", a.Type, reason)
	}
	return string(a.Type)
}

// Role is the logical owner of a checkpoint history
type Role string

const (
	RoleActor    Role = "actor"
	RoleCritic   Role = "critic"
	RoleRollout  Role = "rollout"
	RoleRefLogP  Role = "ref_logp"
	RoleLatest   Role = "latest"
	RolePeriodic Role = "periodic"
)

// AllRoles returns every known role
func AllRoles() []Role {
	return []Role{RoleActor, RoleCritic, RoleRollout, RoleRefLogP, RoleLatest, RolePeriodic}
}

// Valid reports whether r is one of the known roles
func (r Role) Valid() bool {
	switch r {
	case RoleActor, RoleCritic, RoleRollout, RoleRefLogP, RoleLatest, RolePeriodic:
		return true
	}
	return false
}

// CheckpointRecord describes one published checkpoint
type CheckpointRecord struct {
	Role      Role      `json:"role"`
	Episode   int64     `json:"episode"`
	Step      int64     `json:"step"`
	Location  string    `json:"location"`
	CreatedAt time.Time `json:"created_at"`
	Valid     bool      `json:"valid"`
	Checksum  string    `json:"checksum"`
	Size      int64     `json:"size"`
	Sequence  uint64    `json:"sequence"`
}

// Before reports whether the record orders strictly before (episode, step)
func (c *CheckpointRecord) Before(episode, step int64) bool {
	if c.Episode != episode {
		return c.Episode < episode
	}
	return c.Step < step
}

// ResourceStats is a point-in-time sample of node resource usage
type ResourceStats struct {
	CPUPercent    float64    `json:"cpu_percent"`
	UsedMemoryMB  uint64     `json:"used_memory_mb"`
	TotalMemoryMB uint64     `json:"total_memory_mb"`
	GPUs          []GPUStats `json:"gpu_stats"`
	Timestamp     int64      `json:"timestamp"`
}

// GPUStats is the usage of a single accelerator
type GPUStats struct {
	Index         int     `json:"index"`
	TotalMemoryMB uint64  `json:"total_memory_mb"`
	UsedMemoryMB  uint64  `json:"used_memory_mb"`
	Utilization   float64 `json:"gpu_utilization"`
}
