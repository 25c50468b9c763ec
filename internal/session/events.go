package session

// Server-to-client event names carried on the transport channel and the
// Redis bridge. The realtime package shares these with the REST fallbacks.
const (
	EventActivityState     = "activity_state"
	EventParticipantJoined = "participant_joined"
	EventParticipantLeft   = "participant_left"
	EventQuestionChanged   = "question_changed"
	EventNewResponse       = "new_response"
	EventLiveResults       = "live_results_update"
	EventNewLivePoll       = "new_live_poll"
	EventPollExpired       = "poll_expired"
	EventNewQAQuestion     = "new_qa_question"
	EventQAUpdated         = "qa_updated"
	EventQAAnswered        = "qa_question_answered"
	EventQAUpvoted         = "qa_question_upvoted"
	EventActivityEnded     = "activity_ended"
	EventError             = "error"
)
