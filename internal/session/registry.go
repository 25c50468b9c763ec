package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/atl-live/backend/internal/models"
)

// ActivitySource reads activity templates from the storage collaborator.
type ActivitySource interface {
	GetByID(ctx context.Context, activityID string) (*models.Activity, error)
}

// ArchiveSink receives the final archive when a session ends. Implementations
// are fire-and-forget; failures must not block teardown.
type ArchiveSink func(archive *models.SessionArchive)

// Config tunes session lifecycle timing.
type Config struct {
	PresenceGrace time.Duration // disconnect -> removal delay
	IdleTimeout   time.Duration // empty session -> teardown
	SweepInterval time.Duration // poll expiry / presence / idle sweep cadence
	HeartbeatIdle time.Duration // last heartbeat -> idle status
}

// Registry is the process-wide table of live sessions, one per activity.
// Constructed at startup and injected into the transport and HTTP layers;
// tests build isolated instances.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*Session

	source  ActivitySource
	bcast   Broadcaster
	archive ArchiveSink
	cfg     Config
	logger  *zap.Logger
}

// NewRegistry creates an empty session registry.
func NewRegistry(source ActivitySource, bcast Broadcaster, archive ArchiveSink, cfg Config, logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = 5 * time.Second
	}
	return &Registry{
		sessions: make(map[string]*Session),
		source:   source,
		bcast:    bcast,
		archive:  archive,
		cfg:      cfg,
		logger:   logger,
	}
}

// GetOrCreate returns the live session for the activity, loading the
// activity template on first use. A storage failure here is fatal for this
// one request only.
func (r *Registry) GetOrCreate(ctx context.Context, activityID string) (*Session, error) {
	r.mu.RLock()
	s, ok := r.sessions[activityID]
	r.mu.RUnlock()
	if ok {
		return s, nil
	}

	activity, err := r.source.GetByID(ctx, activityID)
	if err != nil {
		return nil, fmt.Errorf("load activity %s: %w", activityID, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.sessions[activityID]; ok {
		return s, nil
	}
	s = NewSession(activity, r.bcast, r.logger, r.cfg.PresenceGrace)
	r.sessions[activityID] = s
	r.logger.Info("session created",
		zap.String("activity_id", activityID),
		zap.Int("questions", len(activity.Questions)))
	return s, nil
}

// Get returns the live session for the activity, or ErrSessionNotFound.
func (r *Registry) Get(activityID string) (*Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[activityID]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return s, nil
}

// End tears a session down on behalf of a host: in-flight submissions after
// this point are rejected, participants are notified, and the archive is
// handed to the sink.
func (r *Registry) End(activityID, actorID string) error {
	s, err := r.Get(activityID)
	if err != nil {
		return err
	}
	archive, err := s.End(actorID)
	if err != nil {
		return err
	}
	r.remove(activityID, s)
	if r.archive != nil && archive != nil {
		r.archive(archive)
	}
	return nil
}

// Count returns the number of live sessions.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// Run drives the periodic sweeps (poll expiry, presence idling, idle session
// teardown) until ctx is done.
func (r *Registry) Run(ctx context.Context) {
	ticker := time.NewTicker(r.cfg.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.sweep()
		}
	}
}

func (r *Registry) sweep() {
	r.mu.RLock()
	sessions := make(map[string]*Session, len(r.sessions))
	for id, s := range r.sessions {
		sessions[id] = s
	}
	r.mu.RUnlock()

	now := time.Now()
	for id, s := range sessions {
		s.SweepPolls()
		if r.cfg.HeartbeatIdle > 0 {
			s.SweepPresence(r.cfg.HeartbeatIdle)
		}
		if r.cfg.IdleTimeout > 0 {
			if since, idle := s.idleSince(); idle && now.Sub(since) >= r.cfg.IdleTimeout {
				r.teardownIdle(id, s)
			}
		}
	}
}

// teardownIdle ends a session that sat without connected participants for
// longer than the idle timeout. No host is involved, so it bypasses the
// host check and archives directly.
func (r *Registry) teardownIdle(activityID string, s *Session) {
	var archive *models.SessionArchive
	_ = s.do(func() error {
		if s.ended {
			return nil
		}
		s.foldCurrentResults()
		s.ended = true
		s.status = models.SessionEnded
		archive = s.buildArchive(s.now())
		return nil
	})
	r.remove(activityID, s)
	if archive != nil {
		r.logger.Info("idle session torn down", zap.String("activity_id", activityID))
		if r.archive != nil {
			r.archive(archive)
		}
	}
}

func (r *Registry) remove(activityID string, s *Session) {
	r.mu.Lock()
	delete(r.sessions, activityID)
	r.mu.Unlock()
	s.Close()
}

// Close ends every session without archiving; used on process shutdown.
func (r *Registry) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, s := range r.sessions {
		s.Close()
		delete(r.sessions, id)
	}
}
