package channelimport

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/lherron/channelport/internal/bridge"
	"github.com/lherron/channelport/internal/db"
	"github.com/lherron/channelport/internal/id"
	"github.com/lherron/channelport/internal/paths"
	"github.com/lherron/channelport/internal/schema"
)

// ServiceConfig configures a Service.
type ServiceConfig struct {
	ContentDir string
	BatchSize  int
	Hooks      Hooks
	Logger     zerolog.Logger
}

// Service is the entry point for channel imports against one destination.
// Imports of the same channel are serialized; different channels may be
// imported concurrently.
type Service struct {
	db       *db.DB
	registry *schema.Registry
	cfg      ServiceConfig

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewService returns a service writing to database.
func NewService(database *db.DB, cfg ServiceConfig) *Service {
	return &Service{
		db:       database,
		registry: schema.Content(),
		cfg:      cfg,
		locks:    make(map[string]*sync.Mutex),
	}
}

func (s *Service) lock(channelID string) func() {
	s.mu.Lock()
	l, ok := s.locks[channelID]
	if !ok {
		l = &sync.Mutex{}
		s.locks[channelID] = l
	}
	s.mu.Unlock()

	l.Lock()
	return l.Unlock
}

func (s *Service) options(partial bool) Options {
	return Options{
		Partial:   partial,
		BatchSize: s.cfg.BatchSize,
		Hooks:     s.cfg.Hooks,
		Logger:    &s.cfg.Logger,
	}
}

// ImportFromLocalCatalog imports the catalog file stored for channelID
// under the content directory.
func (s *Service) ImportFromLocalCatalog(ctx context.Context, channelID string) (Result, error) {
	channelID, err := id.Normalize(channelID)
	if err != nil {
		return Result{}, err
	}

	unlock := s.lock(channelID)
	defer unlock()

	catalog, err := bridge.OpenCatalog(ctx, paths.CatalogPath(s.cfg.ContentDir, channelID))
	if err != nil {
		return Result{}, err
	}
	return s.run(ctx, channelID, catalog, false)
}

// ImportFromStructuredData imports an already-parsed payload. Partial
// payloads are slices of one channel version, merged across calls.
func (s *Service) ImportFromStructuredData(ctx context.Context, data map[string]any, partial bool) (Result, error) {
	source, err := bridge.NewData(data)
	if err != nil {
		return Result{}, err
	}
	info, err := ReadChannel(ctx, source)
	if err != nil {
		return Result{}, err
	}

	unlock := s.lock(info.ID)
	defer unlock()

	return s.run(ctx, info.ID, source, partial)
}

func (s *Service) run(ctx context.Context, channelID string, source bridge.Source, partial bool) (Result, error) {
	imp, err := New(ctx, channelID, source, bridge.NewDestination(s.db, s.registry), s.options(partial))
	if err != nil {
		source.End()
		return Result{}, fmt.Errorf("failed to prepare import of %s: %w", channelID, err)
	}
	defer imp.End()

	return imp.RunAndAnnotate(ctx)
}
