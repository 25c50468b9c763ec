package realtime

import (
	"encoding/json"
	"errors"
)

// Client-to-server event names.
const (
	EventJoinActivity     = "join_activity"
	EventLeaveActivity    = "leave_activity"
	EventHeartbeat        = "heartbeat"
	EventSubmitAnswer     = "submit_answer"
	EventAskQuestion      = "ask_question"
	EventUpvoteQuestion   = "upvote_question"
	EventAnswerQuestion   = "answer_question"
	EventDismissQuestion  = "dismiss_question"
	EventCreateLivePoll   = "create_live_poll"
	EventVoteLivePoll     = "vote_live_poll"
	EventNextQuestion     = "host_next_question"
	EventPreviousQuestion = "host_previous_question"
	EventEndActivity      = "host_end_activity"
	EventHeartbeatAck     = "heartbeat_ack"
)

// WSMessage is the event envelope on the wire.
type WSMessage struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Inbound payloads are closed variants, one per event name, validated at
// the boundary before any handler runs.

var errMalformedPayload = errors.New("malformed event payload")

type joinActivityPayload struct {
	ActivityID    string `json:"activityId"`
	Nickname      string `json:"nickname"`
	ParticipantID string `json:"participantId,omitempty"` // anonymous resume token
}

func (p *joinActivityPayload) validate() error {
	if p.ActivityID == "" {
		return errMalformedPayload
	}
	return nil
}

type submitAnswerPayload struct {
	ActivityID    string  `json:"activityId"`
	QuestionIndex *int    `json:"questionIndex"`
	Answer        string  `json:"answer"`
	ResponseTime  float64 `json:"responseTime"`
}

func (p *submitAnswerPayload) validate() error {
	if p.ActivityID == "" || p.QuestionIndex == nil {
		return errMalformedPayload
	}
	return nil
}

type askQuestionPayload struct {
	ActivityID string `json:"activityId"`
	Question   string `json:"question"`
}

func (p *askQuestionPayload) validate() error {
	if p.ActivityID == "" {
		return errMalformedPayload
	}
	return nil
}

type qaTargetPayload struct {
	ActivityID string `json:"activityId"`
	QuestionID string `json:"questionId"`
	Answer     string `json:"answer,omitempty"`
}

func (p *qaTargetPayload) validate() error {
	if p.ActivityID == "" || p.QuestionID == "" {
		return errMalformedPayload
	}
	return nil
}

type createLivePollPayload struct {
	ActivityID string   `json:"activityId"`
	Question   string   `json:"question"`
	Options    []string `json:"options"`
	Duration   int      `json:"duration"` // seconds
}

func (p *createLivePollPayload) validate() error {
	if p.ActivityID == "" {
		return errMalformedPayload
	}
	return nil
}

type voteLivePollPayload struct {
	ActivityID string `json:"activityId"`
	PollID     string `json:"pollId"`
	Option     string `json:"option"`
}

func (p *voteLivePollPayload) validate() error {
	if p.ActivityID == "" || p.PollID == "" || p.Option == "" {
		return errMalformedPayload
	}
	return nil
}

type navigatePayload struct {
	ActivityID string `json:"activityId"`
	// QuestionIndex is accepted for compatibility but the state machine is
	// authoritative about the target index.
	QuestionIndex *int `json:"questionIndex,omitempty"`
}

func (p *navigatePayload) validate() error {
	if p.ActivityID == "" {
		return errMalformedPayload
	}
	return nil
}

type activityPayload struct {
	ActivityID string `json:"activityId"`
}

func (p *activityPayload) validate() error {
	if p.ActivityID == "" {
		return errMalformedPayload
	}
	return nil
}
