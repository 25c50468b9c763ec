package session

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/atl-live/backend/internal/models"
)

const (
	// MinPollOptions and MaxPollOptions bound the option list of a live poll.
	MinPollOptions = 2
	MaxPollOptions = 6
)

// CreatePoll starts a host-created, time-bounded side-poll independent of
// the main question sequence.
func (s *Session) CreatePoll(actorID, question string, options []string, duration time.Duration) (models.LivePoll, error) {
	var created models.LivePoll
	err := s.do(func() error {
		if s.ended {
			return ErrSessionEnded
		}
		if err := s.requireHost(actorID); err != nil {
			return err
		}
		question = strings.TrimSpace(question)
		if question == "" {
			return ErrEmptyText
		}
		if len(options) < MinPollOptions || len(options) > MaxPollOptions {
			return ErrOptionCount
		}
		trimmed := make([]string, 0, len(options))
		for _, opt := range options {
			opt = strings.TrimSpace(opt)
			if opt == "" {
				return ErrEmptyText
			}
			trimmed = append(trimmed, opt)
		}
		if duration <= 0 {
			return ErrInvalidDuration
		}

		now := s.now()
		poll := &models.LivePoll{
			ID:        uuid.New().String(),
			Question:  question,
			Options:   trimmed,
			Votes:     []models.PollVote{},
			IsActive:  true,
			CreatedBy: actorID,
			CreatedAt: now,
			ExpiresAt: now.Add(duration),
		}
		s.polls = append(s.polls, poll)
		created = *poll
		s.touch()

		s.bcast.BroadcastToActivity(s.activity.ID, EventNewLivePoll, created)
		s.logger.Info("live poll created",
			zap.String("activity_id", s.activity.ID),
			zap.String("poll_id", poll.ID),
			zap.Duration("duration", duration))
		return nil
	})
	return created, err
}

// VotePoll records one vote. A participant's second vote on the same poll
// overwrites the first (latest wins); votes after expiry are rejected.
func (s *Session) VotePoll(pollID, participantID, option string) error {
	return s.do(func() error {
		if s.ended {
			return ErrSessionEnded
		}
		if _, ok := s.participants[participantID]; !ok {
			return ErrParticipantGone
		}
		poll := s.findPoll(pollID)
		if poll == nil {
			return ErrPollNotFound
		}
		now := s.now()
		s.expirePolls(now)
		if !poll.IsActive {
			return ErrPollClosed
		}
		if !containsOption(poll.Options, option) {
			return ErrInvalidOption
		}

		vote := models.PollVote{ParticipantID: participantID, Option: option, Timestamp: now}
		replaced := false
		for i := range poll.Votes {
			if poll.Votes[i].ParticipantID == participantID {
				poll.Votes[i] = vote
				replaced = true
				break
			}
		}
		if !replaced {
			poll.Votes = append(poll.Votes, vote)
		}
		s.touch()

		s.bcast.BroadcastToActivity(s.activity.ID, EventLiveResults, map[string]interface{}{
			"pollId":  poll.ID,
			"results": PollResults(*poll, now),
		})
		return nil
	})
}

// ClosePoll deactivates a poll before its deadline. Host-only.
func (s *Session) ClosePoll(actorID, pollID string) error {
	return s.do(func() error {
		if s.ended {
			return ErrSessionEnded
		}
		if err := s.requireHost(actorID); err != nil {
			return err
		}
		poll := s.findPoll(pollID)
		if poll == nil {
			return ErrPollNotFound
		}
		if !poll.IsActive {
			return ErrPollClosed
		}
		poll.IsActive = false
		s.touch()
		s.bcast.BroadcastToActivity(s.activity.ID, EventPollExpired, map[string]interface{}{"pollId": poll.ID})
		return nil
	})
}

// Polls returns a copy of every poll of the session, expired ones included.
func (s *Session) Polls() ([]models.LivePoll, error) {
	var out []models.LivePoll
	err := s.do(func() error {
		s.expirePolls(s.now())
		out = make([]models.LivePoll, 0, len(s.polls))
		for _, p := range s.polls {
			out = append(out, *p)
		}
		return nil
	})
	return out, err
}

// PollByID returns one poll snapshot.
func (s *Session) PollByID(pollID string) (models.LivePoll, error) {
	var out models.LivePoll
	err := s.do(func() error {
		s.expirePolls(s.now())
		p := s.findPoll(pollID)
		if p == nil {
			return ErrPollNotFound
		}
		out = *p
		return nil
	})
	return out, err
}

// SweepPolls runs the periodic expiry check. Called by the registry ticker;
// the lazy checks on vote and snapshot cover gaps between sweeps.
func (s *Session) SweepPolls() {
	_ = s.do(func() error {
		if !s.ended {
			s.expirePolls(s.now())
		}
		return nil
	})
}

// expirePolls flips isActive exactly once per poll and broadcasts the
// expiry. Must run inside the command loop.
func (s *Session) expirePolls(now time.Time) {
	for _, p := range s.polls {
		if p.IsActive && !now.Before(p.ExpiresAt) {
			p.IsActive = false
			s.touch()
			s.bcast.BroadcastToActivity(s.activity.ID, EventPollExpired, map[string]interface{}{"pollId": p.ID})
			s.logger.Debug("poll expired",
				zap.String("activity_id", s.activity.ID),
				zap.String("poll_id", p.ID))
		}
	}
}

func (s *Session) findPoll(pollID string) *models.LivePoll {
	for _, p := range s.polls {
		if p.ID == pollID {
			return p
		}
	}
	return nil
}

func (s *Session) activePolls() []models.LivePoll {
	out := []models.LivePoll{}
	for _, p := range s.polls {
		if p.IsActive {
			out = append(out, *p)
		}
	}
	return out
}

// PollResults tallies a poll's votes by option. One counted vote per
// participant, so option counts always sum to the distinct voter count.
func PollResults(poll models.LivePoll, now time.Time) models.QuestionResults {
	responses := make([]models.Response, 0, len(poll.Votes))
	for _, v := range poll.Votes {
		responses = append(responses, models.Response{
			ParticipantID: v.ParticipantID,
			Answer:        v.Option,
			Timestamp:     v.Timestamp,
		})
	}
	q := models.Question{ID: poll.ID, Type: models.QuestionMultiChoice, Text: poll.Question, Options: poll.Options}
	return Tally(q, -1, responses)
}
