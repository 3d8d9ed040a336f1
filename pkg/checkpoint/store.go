package checkpoint

import (
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/arobust/arobust/pkg/events"
	"github.com/arobust/arobust/pkg/log"
	"github.com/arobust/arobust/pkg/metrics"
	"github.com/arobust/arobust/pkg/storage"
	"github.com/arobust/arobust/pkg/types"
)

// Option configures a Store
type Option func(*Store)

// WithCodec sets the codec used by managers created from the store
func WithCodec(c Codec) Option {
	return func(s *Store) { s.codec = c }
}

// WithBroker publishes checkpoint events on the broker
func WithBroker(b *events.Broker) Option {
	return func(s *Store) { s.broker = b }
}

// WithLogger replaces the store logger
func WithLogger(l zerolog.Logger) Option {
	return func(s *Store) {
		s.logger = l
		s.customLogger = true
	}
}

// Store is the checkpoint store rooted at one directory. It owns the
// manifest database and hands out one Manager per role.
type Store struct {
	root      string
	manifest  storage.Manifest
	artifacts *localArtifacts
	codec     Codec
	broker    *events.Broker

	logger       zerolog.Logger
	customLogger bool

	mu       sync.Mutex
	managers map[types.Role]*Manager
	closed   bool
}

// Open opens the store at root, creating it if needed, and removes staging
// files and artifacts the manifest does not reference.
func Open(root string, opts ...Option) (*Store, error) {
	if root == "" {
		return nil, errors.New("checkpoint root is required")
	}

	artifacts, err := newLocalArtifacts(root)
	if err != nil {
		return nil, err
	}
	manifest, err := storage.NewBoltStore(root)
	if err != nil {
		return nil, err
	}

	s := &Store{
		root:      root,
		manifest:  manifest,
		artifacts: artifacts,
		codec:     JSONCodec{},
		logger:    log.WithComponent("checkpoint"),
		managers:  make(map[types.Role]*Manager),
	}
	for _, opt := range opts {
		opt(s)
	}

	if err := s.recover(); err != nil {
		manifest.Close()
		return nil, err
	}
	metrics.SetComponent(metrics.ComponentCheckpoint, true, "open")
	return s, nil
}

func (s *Store) recover() error {
	for _, role := range types.AllRoles() {
		recs, err := s.manifest.List(role)
		if err != nil {
			return fmt.Errorf("failed to read manifest for %s: %w", role, err)
		}
		referenced := make(map[string]bool, len(recs))
		for _, rec := range recs {
			referenced[rec.Location] = true
		}

		removed, err := s.artifacts.sweep(role, func(location string) bool { return referenced[location] })
		if err != nil {
			return fmt.Errorf("failed to recover %s checkpoints: %w", role, err)
		}
		if removed > 0 {
			s.logger.Info().Str("role", string(role)).Int("removed", removed).Msg("removed unpublished checkpoint files")
		}
		metrics.CheckpointsStored.WithLabelValues(string(role)).Set(float64(len(recs)))
	}
	return nil
}

// Root returns the store directory
func (s *Store) Root() string { return s.root }

// Manager returns the manager of role. The first call for a role fixes its
// policy; later calls return the same manager.
func (s *Store) Manager(role types.Role, policy Policy) (*Manager, error) {
	if !role.Valid() {
		return nil, fmt.Errorf("unknown checkpoint role %q", role)
	}
	if policy.MaxCheckpoints < 0 {
		return nil, fmt.Errorf("max checkpoints must not be negative, got %d", policy.MaxCheckpoints)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, errors.New("checkpoint store is closed")
	}
	if m, ok := s.managers[role]; ok {
		return m, nil
	}

	logger := log.WithRole(string(role))
	if s.customLogger {
		logger = s.logger.With().Str("role", string(role)).Logger()
	}
	m := &Manager{
		role:   role,
		policy: policy,
		store:  s,
		codec:  s.codec,
		logger: logger,
	}
	s.managers[role] = m
	return m, nil
}

// CheckpointCounts returns the number of published records per role
func (s *Store) CheckpointCounts() map[string]int {
	counts := make(map[string]int)
	roles, err := s.manifest.Roles()
	if err != nil {
		s.logger.Warn().Err(err).Msg("failed to list checkpoint roles")
		return counts
	}
	for _, role := range roles {
		recs, err := s.manifest.List(role)
		if err != nil {
			s.logger.Warn().Err(err).Str("role", string(role)).Msg("failed to count checkpoints")
			continue
		}
		counts[string(role)] = len(recs)
	}
	return counts
}

// Close closes the manifest. Managers must not be used afterwards.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	metrics.SetComponent(metrics.ComponentCheckpoint, false, "closed")
	return s.manifest.Close()
}
