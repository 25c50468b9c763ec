package session

import (
	"go.uber.org/zap"

	"github.com/atl-live/backend/internal/models"
)

// Next advances the session to the following question. From NotStarted it
// moves to index 0. Out-of-range attempts are rejected and leave state
// unchanged. Host-only.
func (s *Session) Next(actorID string) (int, error) {
	var index int
	err := s.do(func() error {
		if s.ended {
			return ErrSessionEnded
		}
		if err := s.requireHost(actorID); err != nil {
			return err
		}
		target := s.currentIndex + 1
		if target >= len(s.activity.Questions) {
			return ErrOutOfRange
		}
		s.navigate(target)
		index = target
		return nil
	})
	return index, err
}

// Previous moves the session back one question. Rejected below index 0.
// Host-only.
func (s *Session) Previous(actorID string) (int, error) {
	var index int
	err := s.do(func() error {
		if s.ended {
			return ErrSessionEnded
		}
		if err := s.requireHost(actorID); err != nil {
			return err
		}
		target := s.currentIndex - 1
		if target < 0 {
			return ErrOutOfRange
		}
		s.navigate(target)
		index = target
		return nil
	})
	return index, err
}

// Navigate jumps directly to a question index (REST fallback for hosts).
func (s *Session) Navigate(actorID string, target int) error {
	return s.do(func() error {
		if s.ended {
			return ErrSessionEnded
		}
		if err := s.requireHost(actorID); err != nil {
			return err
		}
		if target < 0 || target >= len(s.activity.Questions) {
			return ErrOutOfRange
		}
		s.navigate(target)
		return nil
	})
}

// navigate applies a successful transition: fold the outgoing question's
// tally, clear the per-question response state, and broadcast the change.
// Clients reset their local hasAnswered/showResults echo on the event.
func (s *Session) navigate(target int) {
	s.foldCurrentResults()
	s.currentIndex = target
	s.status = models.SessionInQuestion
	s.questionStartedAt = s.now()
	s.responses = nil
	s.answered = make(map[string]bool)
	s.touch()

	s.bcast.BroadcastToActivity(s.activity.ID, EventQuestionChanged, map[string]interface{}{
		"questionIndex": target,
		"timestamp":     s.questionStartedAt,
	})
	s.logger.Debug("question changed",
		zap.String("activity_id", s.activity.ID),
		zap.Int("question_index", target))
}

// foldCurrentResults saves the outgoing question's tally so the final
// archive keeps results the live state no longer holds.
func (s *Session) foldCurrentResults() {
	if s.currentQuestion() == nil || len(s.responses) == 0 {
		return
	}
	s.resultsByQuestion[s.currentIndex] = s.tallyCurrent()
}
