package checkpoint

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/arobust/arobust/pkg/config"
	"github.com/arobust/arobust/pkg/types"
)

var (
	// ErrSaveFailed matches every *SaveError
	ErrSaveFailed = errors.New("checkpoint save failed")

	// ErrNonMonotonicStep rejects a save at or before the latest published step
	ErrNonMonotonicStep = errors.New("checkpoint step is not after the latest published step")
)

// Save stages, in the order they run
const (
	StageValidate = "validate"
	StageEncode   = "encode"
	StageWrite    = "write"
	StageRename   = "rename"
	StagePublish  = "publish"
)

// SaveError reports a failed save. Previously published records are untouched.
type SaveError struct {
	Role    types.Role
	Episode int64
	Step    int64
	Stage   string
	Err     error
}

func (e *SaveError) Error() string {
	return fmt.Sprintf("save %s checkpoint episode %d step %d: %s: %v", e.Role, e.Episode, e.Step, e.Stage, e.Err)
}

func (e *SaveError) Unwrap() error { return e.Err }

func (e *SaveError) Is(target error) bool { return target == ErrSaveFailed }

// Codec turns training state into bytes and back
type Codec interface {
	Marshal(v any) ([]byte, error)
	Unmarshal(data []byte, v any) error
}

// JSONCodec is the default Codec
type JSONCodec struct{}

func (JSONCodec) Marshal(v any) ([]byte, error)      { return json.Marshal(v) }
func (JSONCodec) Unmarshal(data []byte, v any) error { return json.Unmarshal(data, v) }

// Policy is the retention behavior of one role
type Policy struct {
	// MaxCheckpoints bounds the number of kept records; 0 keeps all
	MaxCheckpoints int

	// StrictlyIncreasing rejects saves that do not move past the latest record
	StrictlyIncreasing bool

	// SaveInterval is used by PeriodicManager only
	SaveInterval int64
}

// DefaultPolicy returns the built-in policy of a role
func DefaultPolicy(role types.Role) Policy {
	switch role {
	case types.RoleLatest:
		return Policy{MaxCheckpoints: 3}
	case types.RolePeriodic:
		return Policy{MaxCheckpoints: 5, SaveInterval: 1000}
	case types.RoleActor, types.RoleCritic:
		return Policy{MaxCheckpoints: 3}
	default:
		return Policy{}
	}
}

// PolicyFromConfig overlays the configured values for role on its default
func PolicyFromConfig(cfg config.CheckpointConfig, role types.Role) Policy {
	p := DefaultPolicy(role)
	rc, ok := cfg.Roles[string(role)]
	if !ok {
		return p
	}
	if rc.MaxCheckpoints != nil {
		p.MaxCheckpoints = *rc.MaxCheckpoints
	}
	p.StrictlyIncreasing = rc.StrictlyIncreasing
	if rc.SaveInterval > 0 {
		p.SaveInterval = rc.SaveInterval
	}
	return p
}
