// Package syncer orchestrates full sync passes: read a source through its
// adapter, resolve the raw records against imported contacts, and hand the
// deduplicated result to the shadow store, one transaction per source.
package syncer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/basket/shadowbook/internal/bus"
	"github.com/basket/shadowbook/internal/identity"
	"github.com/basket/shadowbook/internal/shadow"
	"github.com/basket/shadowbook/internal/shared"
	"github.com/basket/shadowbook/internal/source"
)

// Recorder receives sync observability signals. A nil Recorder disables
// recording.
type Recorder interface {
	SyncDuration(ctx context.Context, src string, d time.Duration)
	RowsInserted(ctx context.Context, src string, n int)
	RowsDeleted(ctx context.Context, src string, n int)
	SourceSkip(ctx context.Context, src string)
}

// Service ties adapters, resolver, and store together.
type Service struct {
	store    *shadow.Store
	registry *source.Registry
	resolver *identity.Resolver
	eventBus *bus.Bus
	metrics  Recorder
	logger   *slog.Logger
}

func New(store *shadow.Store, registry *source.Registry, resolver *identity.Resolver, eventBus *bus.Bus, metrics Recorder, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:    store,
		registry: registry,
		resolver: resolver,
		eventBus: eventBus,
		metrics:  metrics,
		logger:   logger,
	}
}

// FullSync runs one complete sync pass for a single source: adapter read,
// resolution against imported contacts, transactional store sync, recency
// propagation. An unavailable adapter surfaces source.ErrUnavailable so the
// caller can skip the source and continue with others.
func (s *Service) FullSync(ctx context.Context, userID string, src identity.Source) (shadow.SyncResult, error) {
	ctx = shared.WithUserID(shared.WithTraceID(ctx, shared.NewTraceID()), userID)
	logger := s.logger.With("trace_id", shared.TraceID(ctx), "user_id", shared.UserID(ctx), "source", string(src))

	adapter, ok := s.registry.Get(src)
	if !ok {
		return shadow.SyncResult{}, fmt.Errorf("no adapter registered for source %q", src)
	}

	start := time.Now()
	logger.Info("sync started")
	if s.eventBus != nil {
		s.eventBus.Publish(bus.TopicSyncStarted, bus.SyncEvent{UserID: userID, Source: string(src)})
	}

	records, err := adapter.Read(ctx, userID)
	if err != nil {
		if errors.Is(err, source.ErrUnavailable) {
			logger.Warn("source unavailable, skipping", "error", err)
			if s.eventBus != nil {
				s.eventBus.Publish(bus.TopicSyncSourceSkipped, bus.SourceSkippedEvent{
					UserID: userID, Source: string(src), Reason: err.Error(),
				})
			}
			if s.metrics != nil {
				s.metrics.SourceSkip(ctx, string(src))
			}
		}
		return shadow.SyncResult{}, err
	}

	imported, err := s.store.ImportedContacts(ctx, userID)
	if err != nil {
		return shadow.SyncResult{}, err
	}
	resolved := s.resolver.Resolve(userID, imported, []identity.Batch{{Source: src, Records: records}})

	res, err := s.store.FullSync(ctx, userID, src, resolved)
	if err != nil {
		return res, err
	}

	if s.metrics != nil {
		s.metrics.SyncDuration(ctx, string(src), time.Since(start))
		s.metrics.RowsInserted(ctx, string(src), res.Inserted)
		s.metrics.RowsDeleted(ctx, string(src), res.Deleted)
	}
	if s.eventBus != nil {
		s.eventBus.Publish(bus.TopicSyncCompleted, bus.SyncEvent{
			UserID: userID, Source: string(src),
			Inserted: res.Inserted, Updated: res.Updated,
			Deleted: res.Deleted, Skipped: res.Skipped, Total: res.Total,
		})
	}
	logger.Info("sync completed",
		"inserted", res.Inserted, "updated", res.Updated,
		"deleted", res.Deleted, "skipped", res.Skipped,
		"total", res.Total, "duration_ms", time.Since(start).Milliseconds())
	return res, nil
}

// SourceResult is one source's outcome within a SyncAll pass.
type SourceResult struct {
	Source  identity.Source
	Result  shadow.SyncResult
	Skipped bool
	Err     error
}

// SyncAll syncs every registered source in precedence order. Unavailable
// sources are skipped with a warning and the pass continues; a store failure
// is fatal and aborts the remaining sources.
func (s *Service) SyncAll(ctx context.Context, userID string, precedence []identity.Source) ([]SourceResult, error) {
	if len(precedence) == 0 {
		precedence = identity.DefaultPrecedence()
	}
	var out []SourceResult
	for _, src := range precedence {
		if src == identity.SourceImport {
			continue
		}
		if _, ok := s.registry.Get(src); !ok {
			continue
		}
		res, err := s.FullSync(ctx, userID, src)
		if err != nil {
			if errors.Is(err, source.ErrUnavailable) {
				out = append(out, SourceResult{Source: src, Skipped: true, Err: err})
				continue
			}
			out = append(out, SourceResult{Source: src, Err: err})
			return out, err
		}
		out = append(out, SourceResult{Source: src, Result: res})
	}
	return out, nil
}

// ImportResult summarizes an explicit import pass.
type ImportResult struct {
	Added   int
	Merged  int
	Skipped int
}

// ImportContacts resolves user-supplied records against the existing imports
// and writes the result to the import table. Records matching an existing
// import merge into it; the rest become new import rows.
func (s *Service) ImportContacts(ctx context.Context, userID string, records []identity.RawContact) (ImportResult, error) {
	ctx = shared.WithUserID(shared.WithTraceID(ctx, shared.NewTraceID()), userID)
	logger := s.logger.With("trace_id", shared.TraceID(ctx), "user_id", shared.UserID(ctx))

	imported, err := s.store.ImportedContacts(ctx, userID)
	if err != nil {
		return ImportResult{}, err
	}
	existing := make(map[string]struct{}, len(imported))
	for _, c := range imported {
		existing[c.ID] = struct{}{}
	}
	resolved := s.resolver.Resolve(userID, imported, []identity.Batch{
		{Source: identity.SourceImport, Records: records},
	})

	var res ImportResult
	for i := range resolved {
		c := resolved[i]
		if _, ok := existing[c.ID]; ok && len(c.Origins) < 2 {
			// A pre-existing import nothing merged into; leave its row alone.
			continue
		}
		c.Source = identity.SourceImport
		c.FromImport = true
		inserted, err := s.store.UpsertImportedContact(ctx, c)
		if err != nil {
			if errors.Is(err, shadow.ErrMalformedRecord) {
				logger.Warn("skipping malformed import record", "name", c.Name, "error", err)
				res.Skipped++
				continue
			}
			return res, err
		}
		if inserted {
			res.Added++
		} else {
			res.Merged++
		}
	}
	logger.Info("import completed", "added", res.Added, "merged", res.Merged, "skipped", res.Skipped)
	return res, nil
}

// ImportFile validates and imports a user-supplied JSON contact file.
// Invalid entries are logged and skipped; they never abort the import.
func (s *Service) ImportFile(ctx context.Context, userID, path string) (ImportResult, error) {
	validator, err := source.NewImportValidator()
	if err != nil {
		return ImportResult{}, err
	}
	records, invalid, err := validator.ParseFile(path)
	if err != nil {
		return ImportResult{}, err
	}
	for _, entryErr := range invalid {
		s.logger.Warn("skipping invalid import entry", "file", path, "error", entryErr)
	}
	res, err := s.ImportContacts(ctx, userID, records)
	res.Skipped += len(invalid)
	return res, err
}

// RecordInteraction is the message-import collaborator entry point: it stores
// the interaction timestamp and incrementally bumps recency on every shadow
// row carrying the phone's normalized key.
func (s *Service) RecordInteraction(ctx context.Context, userID, rawPhone string, at time.Time) (int, error) {
	touched, err := s.store.RecordInteraction(ctx, userID, rawPhone, at)
	if err != nil {
		return 0, err
	}
	if s.eventBus != nil {
		s.eventBus.Publish(bus.TopicRecencyUpdated, bus.RecencyEvent{
			UserID: userID, RowsTouched: touched,
		})
	}
	return touched, nil
}
