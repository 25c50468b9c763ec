package models

import "time"

// ConnectionStatus tracks transport liveness of a participant.
type ConnectionStatus string

const (
	StatusConnected    ConnectionStatus = "connected"
	StatusDisconnected ConnectionStatus = "disconnected"
	StatusIdle         ConnectionStatus = "idle"
)

// Participant is one roster entry of a live session.
type Participant struct {
	ID       string           `json:"id"`
	Nickname string           `json:"nickname"`
	IsHost   bool             `json:"isHost"`
	JoinedAt time.Time        `json:"joinedAt"`
	LastSeen time.Time        `json:"-"`
	Status   ConnectionStatus `json:"status"`
}

// Response is one timed answer to the current question.
type Response struct {
	ParticipantID   string    `json:"participantId"`
	Nickname        string    `json:"nickname"`
	Answer          string    `json:"answer"`
	ResponseTimeSec float64   `json:"responseTime"`
	Timestamp       time.Time `json:"timestamp"`
}

// PollVote is one participant's vote on a live poll. Latest vote wins.
type PollVote struct {
	ParticipantID string    `json:"participantId"`
	Option        string    `json:"option"`
	Timestamp     time.Time `json:"timestamp"`
}

// LivePoll is a host-created, time-bounded side-poll.
type LivePoll struct {
	ID        string     `json:"id"`
	Question  string     `json:"question"`
	Options   []string   `json:"options"`
	Votes     []PollVote `json:"votes"`
	IsActive  bool       `json:"isActive"`
	CreatedBy string     `json:"createdBy"`
	CreatedAt time.Time  `json:"createdAt"`
	ExpiresAt time.Time  `json:"expiresAt"`
}

// QAStatus is the moderation state of a Q&A entry.
type QAStatus string

const (
	QAPending   QAStatus = "pending"
	QAAnswered  QAStatus = "answered"
	QADismissed QAStatus = "dismissed"
)

// QAAnswer is a host's answer to a Q&A entry.
type QAAnswer struct {
	Text       string    `json:"text"`
	AnsweredBy string    `json:"answeredBy"`
	AnsweredAt time.Time `json:"answeredAt"`
}

// QAQuestion is one participant-submitted entry in the Q&A queue.
type QAQuestion struct {
	ID        string    `json:"id"`
	AuthorID  string    `json:"authorId"`
	Nickname  string    `json:"nickname"`
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"createdAt"`
	Status    QAStatus  `json:"status"`
	Upvoters  []string  `json:"-"`
	Upvotes   int       `json:"upvotes"`
	Answer    *QAAnswer `json:"answer,omitempty"`
}

// HasUpvoted reports whether the participant already upvoted this entry.
func (q *QAQuestion) HasUpvoted(participantID string) bool {
	for _, id := range q.Upvoters {
		if id == participantID {
			return true
		}
	}
	return false
}
