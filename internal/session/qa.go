package session

import (
	"sort"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/atl-live/backend/internal/models"
)

// MaxQATextLen bounds a submitted Q&A question.
const MaxQATextLen = 500

// QASort orders a Q&A view.
type QASort string

const (
	QASortRecent  QASort = "recent"  // newest first
	QASortUpvotes QASort = "upvotes" // most upvoted first, recency breaks ties
	QASortOldest  QASort = "oldest"  // oldest first
)

const qaFilterVisible = "visible" // everything except dismissed

// AskQuestion appends a pending entry to the Q&A queue.
func (s *Session) AskQuestion(participantID, nickname, text string) (models.QAQuestion, error) {
	var created models.QAQuestion
	err := s.do(func() error {
		if s.ended {
			return ErrSessionEnded
		}
		if !s.activity.Settings.AllowQA {
			return ErrQADisabled
		}
		if p, ok := s.participants[participantID]; ok {
			nickname = p.Nickname
		} else if nickname == "" {
			return ErrNicknameRequired
		}
		text = strings.TrimSpace(text)
		if text == "" {
			return ErrEmptyText
		}
		if len([]rune(text)) > MaxQATextLen {
			return ErrTextTooLong
		}

		entry := &models.QAQuestion{
			ID:        uuid.New().String(),
			AuthorID:  participantID,
			Nickname:  nickname,
			Text:      text,
			CreatedAt: s.now(),
			Status:    models.QAPending,
			Upvoters:  []string{},
		}
		s.qa = append(s.qa, entry)
		created = *entry
		s.touch()

		s.bcast.BroadcastToHosts(s.activity.ID, EventNewQAQuestion, created)
		s.bcast.BroadcastToActivity(s.activity.ID, EventQAUpdated, map[string]interface{}{
			"qaQueue": s.qaView(qaFilterVisible, QASortRecent),
		})
		s.logger.Debug("qa question asked",
			zap.String("activity_id", s.activity.ID),
			zap.String("question_id", entry.ID))
		return nil
	})
	return created, err
}

// UpvoteQuestion adds the participant to the entry's upvoter set. Idempotent:
// re-upvoting leaves the count unchanged.
func (s *Session) UpvoteQuestion(questionID, participantID string) (int, error) {
	var count int
	err := s.do(func() error {
		if s.ended {
			return ErrSessionEnded
		}
		if _, ok := s.participants[participantID]; !ok {
			return ErrParticipantGone
		}
		entry := s.findQA(questionID)
		if entry == nil {
			return ErrQANotFound
		}
		if !entry.HasUpvoted(participantID) {
			entry.Upvoters = append(entry.Upvoters, participantID)
			entry.Upvotes = len(entry.Upvoters)
			s.touch()
			s.bcast.BroadcastToActivity(s.activity.ID, EventQAUpvoted, map[string]interface{}{
				"questionId": entry.ID,
				"upvotes":    entry.Upvotes,
			})
		}
		count = len(entry.Upvoters)
		return nil
	})
	return count, err
}

// AnswerQuestion marks an entry answered with the host's answer payload.
// Host-only.
func (s *Session) AnswerQuestion(actorID, questionID, answerText string) error {
	return s.do(func() error {
		if s.ended {
			return ErrSessionEnded
		}
		if err := s.requireHost(actorID); err != nil {
			return err
		}
		answerText = strings.TrimSpace(answerText)
		if answerText == "" {
			return ErrEmptyText
		}
		entry := s.findQA(questionID)
		if entry == nil {
			return ErrQANotFound
		}
		entry.Status = models.QAAnswered
		entry.Answer = &models.QAAnswer{
			Text:       answerText,
			AnsweredBy: actorID,
			AnsweredAt: s.now(),
		}
		s.touch()
		s.bcast.BroadcastToActivity(s.activity.ID, EventQAAnswered, *entry)
		return nil
	})
}

// DismissQuestion hides an entry from default views. The entry is retained
// for the archive. Host-only.
func (s *Session) DismissQuestion(actorID, questionID string) error {
	return s.do(func() error {
		if s.ended {
			return ErrSessionEnded
		}
		if err := s.requireHost(actorID); err != nil {
			return err
		}
		entry := s.findQA(questionID)
		if entry == nil {
			return ErrQANotFound
		}
		entry.Status = models.QADismissed
		s.touch()
		s.bcast.BroadcastToActivity(s.activity.ID, EventQAUpdated, map[string]interface{}{
			"qaQueue": s.qaView(qaFilterVisible, QASortRecent),
		})
		return nil
	})
}

// QAQueue returns a read-only view of the queue filtered by status
// ("pending", "answered", "dismissed", or "" for everything but dismissed)
// and ordered by the given sort.
func (s *Session) QAQueue(statusFilter string, sortBy QASort) ([]models.QAQuestion, error) {
	var out []models.QAQuestion
	err := s.do(func() error {
		filter := statusFilter
		if filter == "" {
			filter = qaFilterVisible
		}
		out = s.qaView(filter, sortBy)
		return nil
	})
	return out, err
}

func (s *Session) findQA(questionID string) *models.QAQuestion {
	for _, q := range s.qa {
		if q.ID == questionID {
			return q
		}
	}
	return nil
}

// qaView derives a filtered, sorted copy of the queue. Pure over the live
// slice; computed on demand, never stored.
func (s *Session) qaView(statusFilter string, sortBy QASort) []models.QAQuestion {
	out := []models.QAQuestion{}
	for _, q := range s.qa {
		switch statusFilter {
		case qaFilterVisible:
			if q.Status == models.QADismissed {
				continue
			}
		default:
			if string(q.Status) != statusFilter {
				continue
			}
		}
		view := *q
		view.Upvotes = len(q.Upvoters)
		out = append(out, view)
	}
	switch sortBy {
	case QASortUpvotes:
		sort.SliceStable(out, func(i, j int) bool {
			if out[i].Upvotes != out[j].Upvotes {
				return out[i].Upvotes > out[j].Upvotes
			}
			return out[i].CreatedAt.After(out[j].CreatedAt)
		})
	case QASortOldest:
		sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	default:
		sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	}
	return out
}
