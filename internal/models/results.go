package models

import "time"

// OptionTally is the count and percentage for one literal answer value.
type OptionTally struct {
	Count      int `json:"count"`
	Percentage int `json:"percentage"`
}

// WordCount is one frequency cluster of normalized open-text answers,
// consumed by the word-cloud projection.
type WordCount struct {
	Word  string `json:"word"`
	Count int    `json:"count"`
}

// QuestionResults is the aggregated tally for one question.
type QuestionResults struct {
	QuestionIndex  int                    `json:"questionIndex"`
	QuestionID     string                 `json:"questionId"`
	Type           QuestionType           `json:"type"`
	TotalResponses int                    `json:"totalResponses"`
	Options        map[string]OptionTally `json:"options,omitempty"`
	AverageRating  float64                `json:"averageRating,omitempty"`
	Clusters       []WordCount            `json:"clusters,omitempty"`
}

// SessionAnalytics accumulates participation counters over a session's life.
type SessionAnalytics struct {
	TotalParticipants   int     `json:"totalParticipants" bson:"total_participants"`
	TotalResponses      int     `json:"totalResponses" bson:"total_responses"`
	AverageResponseTime float64 `json:"averageResponseTime" bson:"average_response_time"`
}

// SessionStatus is the question-advance phase of a live session.
type SessionStatus string

const (
	SessionNotStarted SessionStatus = "not_started"
	SessionInQuestion SessionStatus = "in_question"
	SessionEnded      SessionStatus = "ended"
)

// ActivityState is the full state snapshot sent on join/reconnect and
// returned by the polling status endpoint. It is always a complete view,
// never an incremental diff.
type ActivityState struct {
	ActivityID           string           `json:"activityId"`
	Status               SessionStatus    `json:"status"`
	CurrentQuestionIndex int              `json:"currentQuestionIndex"` // -1 before start
	CurrentQuestion      *Question        `json:"currentQuestion,omitempty"`
	QuestionStartedAt    *time.Time       `json:"questionStartedAt,omitempty"`
	ParticipantCount     int              `json:"participantCount"`
	ActivePolls          []LivePoll       `json:"activePolls"`
	QAQueue              []QAQuestion     `json:"qaQueue"`
	Results              *QuestionResults `json:"results,omitempty"` // current question, when visible
	Analytics            SessionAnalytics `json:"analytics"`
	Timestamp            time.Time        `json:"timestamp"`
}

// SessionArchive is the write-only record persisted when a session ends.
type SessionArchive struct {
	ID         string            `json:"id" bson:"_id"`
	ActivityID string            `json:"activityId" bson:"activity_id"`
	StartedAt  time.Time         `json:"startedAt" bson:"started_at"`
	EndedAt    time.Time         `json:"endedAt" bson:"ended_at"`
	Analytics  SessionAnalytics  `json:"analytics" bson:"analytics"`
	Results    []QuestionResults `json:"results" bson:"results"`
	Polls      []LivePoll        `json:"polls" bson:"polls"`
	QAQueue    []QAQuestion      `json:"qaQueue" bson:"qa_queue"`
}
