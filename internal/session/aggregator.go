package session

import (
	"math"
	"sort"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/atl-live/backend/internal/models"
)

// Submit records a participant's timed answer to the current question.
// Rejections: stale question index, session not on a question, duplicate
// submission (one counted answer per participant per question).
func (s *Session) Submit(participantID string, questionIndex int, answer string, responseTimeSec float64) error {
	return s.do(func() error {
		if s.ended {
			return ErrSessionEnded
		}
		p, ok := s.participants[participantID]
		if !ok {
			return ErrParticipantGone
		}
		if s.status != models.SessionInQuestion {
			return ErrNotInQuestion
		}
		if questionIndex != s.currentIndex {
			return ErrStaleQuestion
		}
		if s.answered[participantID] {
			return ErrAlreadyAnswered
		}
		answer = strings.TrimSpace(answer)
		if answer == "" {
			return ErrEmptyText
		}
		q := s.currentQuestion()
		if limit := q.Settings.CharLimit; limit > 0 && len([]rune(answer)) > limit {
			return ErrTextTooLong
		}
		if isChoice(q.Type) && !containsOption(q.Options, answer) {
			return ErrInvalidOption
		}

		resp := models.Response{
			ParticipantID:   participantID,
			Nickname:        p.Nickname,
			Answer:          answer,
			ResponseTimeSec: responseTimeSec,
			Timestamp:       s.now(),
		}
		s.responses = append(s.responses, resp)
		s.answered[participantID] = true
		s.totalResponses++
		s.sumResponseTime += responseTimeSec
		s.touch()

		s.bcast.BroadcastToHosts(s.activity.ID, EventNewResponse, map[string]interface{}{
			"questionIndex": questionIndex,
			"answer":        resp,
		})
		if s.activity.Settings.ResultVisibility == models.ResultsLive {
			s.bcast.BroadcastToActivity(s.activity.ID, EventLiveResults, s.tallyCurrent())
		}
		s.logger.Debug("response recorded",
			zap.String("activity_id", s.activity.ID),
			zap.Int("question_index", questionIndex),
			zap.String("participant_id", participantID))
		return nil
	})
}

// Results returns the tally for a question index. The current question is
// tallied live; earlier questions come from the folded results. Visibility
// policy applies to non-hosts.
func (s *Session) Results(questionIndex int, isHost bool) (models.QuestionResults, error) {
	var out models.QuestionResults
	err := s.do(func() error {
		if questionIndex < 0 || questionIndex >= len(s.activity.Questions) {
			return ErrOutOfRange
		}
		if !isHost {
			switch s.activity.Settings.ResultVisibility {
			case models.ResultsAfterActivity:
				if !s.ended {
					return ErrForbidden
				}
			case models.ResultsAfterQuestion:
				if questionIndex == s.currentIndex && !s.ended {
					return ErrForbidden
				}
			}
		}
		if questionIndex == s.currentIndex && !s.ended {
			out = s.tallyCurrent()
			return nil
		}
		if r, ok := s.resultsByQuestion[questionIndex]; ok {
			out = r
			return nil
		}
		out = Tally(s.activity.Questions[questionIndex], questionIndex, nil)
		return nil
	})
	return out, err
}

func (s *Session) tallyCurrent() models.QuestionResults {
	return Tally(*s.currentQuestion(), s.currentIndex, s.responses)
}

// Tally aggregates responses for one question. Pure: safe to call outside
// the session loop on copied data.
//
// Choice questions group by literal answer value with count and percentage.
// Rating questions additionally carry the arithmetic mean of numeric answers.
// Open-text and word-cloud questions cluster normalized answers by frequency.
func Tally(q models.Question, questionIndex int, responses []models.Response) models.QuestionResults {
	out := models.QuestionResults{
		QuestionIndex:  questionIndex,
		QuestionID:     q.ID,
		Type:           q.Type,
		TotalResponses: len(responses),
	}

	switch q.Type {
	case models.QuestionOpenText, models.QuestionWordCloud:
		out.Clusters = clusterAnswers(responses)
	case models.QuestionRating:
		out.Options = tallyOptions(q.Options, responses)
		out.AverageRating = averageRating(responses)
	default:
		out.Options = tallyOptions(q.Options, responses)
	}
	return out
}

func tallyOptions(options []string, responses []models.Response) map[string]models.OptionTally {
	tallies := make(map[string]models.OptionTally, len(options))
	for _, opt := range options {
		tallies[opt] = models.OptionTally{}
	}
	total := len(responses)
	for _, r := range responses {
		t := tallies[r.Answer]
		t.Count++
		tallies[r.Answer] = t
	}
	for opt, t := range tallies {
		if total > 0 {
			t.Percentage = int(math.Round(float64(t.Count) / float64(total) * 100))
		}
		tallies[opt] = t
	}
	return tallies
}

// averageRating is the mean of numeric answers, weighted by count per value.
// Non-numeric answers are skipped rather than failing the whole tally.
func averageRating(responses []models.Response) float64 {
	var sum float64
	var n int
	for _, r := range responses {
		v, err := strconv.ParseFloat(r.Answer, 64)
		if err != nil {
			continue
		}
		sum += v
		n++
	}
	if n == 0 {
		return 0
	}
	return sum / float64(n)
}

// clusterAnswers groups normalized open-text answers by frequency, most
// frequent first, for the word-cloud projection.
func clusterAnswers(responses []models.Response) []models.WordCount {
	counts := make(map[string]int)
	for _, r := range responses {
		w := strings.ToLower(strings.TrimSpace(r.Answer))
		if w == "" {
			continue
		}
		counts[w]++
	}
	clusters := make([]models.WordCount, 0, len(counts))
	for w, n := range counts {
		clusters = append(clusters, models.WordCount{Word: w, Count: n})
	}
	sort.Slice(clusters, func(i, j int) bool {
		if clusters[i].Count != clusters[j].Count {
			return clusters[i].Count > clusters[j].Count
		}
		return clusters[i].Word < clusters[j].Word
	})
	return clusters
}

func isChoice(t models.QuestionType) bool {
	switch t {
	case models.QuestionMultiChoice, models.QuestionMultiVote, models.QuestionRanking:
		return true
	}
	return false
}

func containsOption(options []string, answer string) bool {
	for _, o := range options {
		if o == answer {
			return true
		}
	}
	return false
}
