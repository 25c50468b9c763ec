package session

import (
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/atl-live/backend/internal/models"
)

// Join adds a participant to the roster (or rebinds an existing identity on
// reconnect) and returns the full state snapshot for the joiner. The
// broadcastable roster count goes out as participant_joined.
func (s *Session) Join(participantID, nickname string, authenticated, admin bool) (models.ActivityState, error) {
	var state models.ActivityState
	err := s.do(func() error {
		if s.ended {
			return ErrSessionEnded
		}
		if !authenticated && !s.activity.Settings.AllowAnonymous {
			return ErrAnonymousJoin
		}
		nickname = trimNickname(nickname)
		if nickname == "" {
			return ErrNicknameRequired
		}
		isHost := authenticated && (admin || s.activity.IsHost(participantID))

		now := s.now()
		p, rejoining := s.participants[participantID]
		if rejoining {
			// Same identity rebinding after a transport drop: keep joinedAt,
			// cancel any pending grace removal.
			s.cancelGrace(participantID)
			p.Nickname = nickname
			p.Status = models.StatusConnected
			p.LastSeen = now
		} else {
			p = &models.Participant{
				ID:       participantID,
				Nickname: nickname,
				IsHost:   isHost,
				JoinedAt: now,
				LastSeen: now,
				Status:   models.StatusConnected,
			}
			s.participants[participantID] = p
			s.joinedEver[participantID] = struct{}{}
		}
		s.emptySince = time.Time{}
		s.touch()

		s.bcast.BroadcastToActivity(s.activity.ID, EventParticipantJoined, map[string]interface{}{
			"participant": map[string]interface{}{
				"nickname": p.Nickname,
				"isHost":   p.IsHost,
			},
			"totalParticipants": len(s.participants),
		})
		state = s.snapshot(p.IsHost)
		s.logger.Debug("participant joined",
			zap.String("activity_id", s.activity.ID),
			zap.String("participant_id", participantID),
			zap.Bool("rejoin", rejoining))
		return nil
	})
	return state, err
}

// Leave removes a participant immediately (explicit leave, no grace period).
func (s *Session) Leave(participantID string) error {
	return s.do(func() error {
		if s.ended {
			return ErrSessionEnded
		}
		if _, ok := s.participants[participantID]; !ok {
			return ErrParticipantGone
		}
		s.cancelGrace(participantID)
		s.removeParticipant(participantID)
		return nil
	})
}

// Disconnect marks a participant disconnected when their transport drops.
// Removal is deferred by the grace period so a transport-fallback reconnect
// with the same identity keeps the roster entry.
func (s *Session) Disconnect(participantID string) {
	_ = s.do(func() error {
		if s.ended {
			return nil
		}
		p, ok := s.participants[participantID]
		if !ok {
			return nil
		}
		p.Status = models.StatusDisconnected
		s.updateEmptySince()
		s.touch()
		s.cancelGrace(participantID)
		s.graceTimers[participantID] = time.AfterFunc(s.grace, func() {
			_ = s.do(func() error {
				if s.ended {
					return nil
				}
				p, ok := s.participants[participantID]
				if ok && p.Status == models.StatusDisconnected {
					s.removeParticipant(participantID)
				}
				delete(s.graceTimers, participantID)
				return nil
			})
		})
		return nil
	})
}

// Heartbeat bumps the participant's liveness and clears idle status.
func (s *Session) Heartbeat(participantID string) error {
	return s.do(func() error {
		if s.ended {
			return ErrSessionEnded
		}
		p, ok := s.participants[participantID]
		if !ok {
			return ErrParticipantGone
		}
		p.LastSeen = s.now()
		if p.Status == models.StatusIdle {
			p.Status = models.StatusConnected
			s.touch()
		}
		return nil
	})
}

// SweepPresence marks connected participants idle when their last heartbeat
// is older than idleAfter, and removes participants whose heartbeats stopped
// for the grace period beyond that. Pollers who vanish without an explicit
// leave would otherwise sit in the roster forever and block idle teardown.
// Called by the registry ticker.
func (s *Session) SweepPresence(idleAfter time.Duration) {
	_ = s.do(func() error {
		if s.ended {
			return nil
		}
		now := s.now()
		idleCutoff := now.Add(-idleAfter)
		dropCutoff := now.Add(-(idleAfter + s.grace))
		for id, p := range s.participants {
			if p.Status == models.StatusDisconnected {
				// Transport drop; the grace timer owns removal.
				continue
			}
			if p.LastSeen.Before(dropCutoff) {
				s.cancelGrace(id)
				s.removeParticipant(id)
				continue
			}
			if p.Status == models.StatusConnected && p.LastSeen.Before(idleCutoff) {
				p.Status = models.StatusIdle
				s.touch()
			}
		}
		return nil
	})
}

// Participants returns a copy of the roster.
func (s *Session) Participants() ([]models.Participant, error) {
	var out []models.Participant
	err := s.do(func() error {
		out = make([]models.Participant, 0, len(s.participants))
		for _, p := range s.participants {
			out = append(out, *p)
		}
		return nil
	})
	return out, err
}

// IsHostIdentity reports whether the identity may act as a host in this
// session, for callers outside the command loop.
func (s *Session) IsHostIdentity(participantID string) bool {
	host := false
	_ = s.do(func() error {
		host = s.isHost(participantID)
		return nil
	})
	return host
}

// removeParticipant drops the roster entry and broadcasts the new total.
// Must run inside the command loop.
func (s *Session) removeParticipant(participantID string) {
	p := s.participants[participantID]
	delete(s.participants, participantID)
	s.updateEmptySince()
	s.touch()

	s.bcast.BroadcastToActivity(s.activity.ID, EventParticipantLeft, map[string]interface{}{
		"nickname":          p.Nickname,
		"totalParticipants": len(s.participants),
	})
	s.logger.Debug("participant left",
		zap.String("activity_id", s.activity.ID),
		zap.String("participant_id", participantID))
}

func (s *Session) cancelGrace(participantID string) {
	if t, ok := s.graceTimers[participantID]; ok {
		t.Stop()
		delete(s.graceTimers, participantID)
	}
}

// updateEmptySince records the moment the session lost its last connected
// participant, which drives idle teardown.
func (s *Session) updateEmptySince() {
	for _, p := range s.participants {
		if p.Status != models.StatusDisconnected {
			s.emptySince = time.Time{}
			return
		}
	}
	if s.emptySince.IsZero() {
		s.emptySince = s.now()
	}
}

func trimNickname(nickname string) string {
	nickname = strings.TrimSpace(nickname)
	if len([]rune(nickname)) > 50 {
		return string([]rune(nickname)[:50])
	}
	return nickname
}
