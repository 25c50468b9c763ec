// Package session holds the server-side state of live activity runs: the
// per-activity session actor, the process-wide registry, the question-advance
// state machine, response aggregation, live polls and the Q&A queue.
package session

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/atl-live/backend/internal/models"
)

// Broadcaster fans session events out to connected clients. Implemented by
// the realtime hub; injected so the session never touches transport details.
type Broadcaster interface {
	BroadcastToActivity(activityID, event string, payload interface{})
	BroadcastToHosts(activityID, event string, payload interface{})
}

type command struct {
	fn    func() error
	reply chan error
}

// Session is the live, mutable state of one running activity. Every mutation
// and snapshot read goes through a single goroutine consuming the command
// channel, so no two operations on the same session ever run concurrently.
type Session struct {
	activity *models.Activity

	status            models.SessionStatus
	currentIndex      int
	questionStartedAt time.Time

	participants map[string]*models.Participant
	graceTimers  map[string]*time.Timer

	// Current question only; folded into resultsByQuestion on navigation.
	responses []models.Response
	answered  map[string]bool

	resultsByQuestion map[int]models.QuestionResults

	polls []*models.LivePoll
	qa    []*models.QAQuestion

	startedAt       time.Time
	lastChanged     time.Time
	emptySince      time.Time
	joinedEver      map[string]struct{}
	totalResponses  int
	sumResponseTime float64

	grace time.Duration
	now   func() time.Time

	bcast  Broadcaster
	logger *zap.Logger

	cmds      chan command
	done      chan struct{}
	closeOnce sync.Once
	ended     bool
}

// NewSession creates a session for the activity and starts its command loop.
func NewSession(activity *models.Activity, bcast Broadcaster, logger *zap.Logger, grace time.Duration) *Session {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Session{
		activity:          activity,
		status:            models.SessionNotStarted,
		currentIndex:      -1,
		participants:      make(map[string]*models.Participant),
		graceTimers:       make(map[string]*time.Timer),
		answered:          make(map[string]bool),
		resultsByQuestion: make(map[int]models.QuestionResults),
		joinedEver:        make(map[string]struct{}),
		grace:             grace,
		now:               time.Now,
		bcast:             bcast,
		logger:            logger,
		cmds:              make(chan command, 64),
		done:              make(chan struct{}),
	}
	s.startedAt = s.now()
	s.lastChanged = s.startedAt
	s.emptySince = s.startedAt
	go s.run()
	return s
}

// ActivityID returns the identifier of the activity this session runs.
func (s *Session) ActivityID() string {
	return s.activity.ID
}

func (s *Session) run() {
	for {
		select {
		case cmd := <-s.cmds:
			cmd.reply <- cmd.fn()
		case <-s.done:
			return
		}
	}
}

// do submits fn to the session's command loop and waits for its result.
// A closed session rejects every command with ErrSessionEnded.
func (s *Session) do(fn func() error) error {
	cmd := command{fn: fn, reply: make(chan error, 1)}
	select {
	case s.cmds <- cmd:
	case <-s.done:
		return ErrSessionEnded
	}
	select {
	case err := <-cmd.reply:
		return err
	case <-s.done:
		return ErrSessionEnded
	}
}

// Close stops the command loop. Called by the registry after teardown.
func (s *Session) Close() {
	s.closeOnce.Do(func() { close(s.done) })
}

// isHost reports whether the given participant identity may perform
// host-only actions. Anonymous identities are never hosts.
func (s *Session) isHost(participantID string) bool {
	if p, ok := s.participants[participantID]; ok && p.IsHost {
		return true
	}
	return s.activity.IsHost(participantID)
}

// touch records a state change. Status polling compares its watermark
// against this, so every mutation a poller could observe must bump it.
func (s *Session) touch() {
	s.lastChanged = s.now()
}

func (s *Session) requireHost(participantID string) error {
	if !s.isHost(participantID) {
		return ErrForbidden
	}
	return nil
}

func (s *Session) currentQuestion() *models.Question {
	if s.currentIndex < 0 || s.currentIndex >= len(s.activity.Questions) {
		return nil
	}
	return &s.activity.Questions[s.currentIndex]
}

func (s *Session) analytics() models.SessionAnalytics {
	a := models.SessionAnalytics{
		TotalParticipants: len(s.joinedEver),
		TotalResponses:    s.totalResponses,
	}
	if s.totalResponses > 0 {
		a.AverageResponseTime = s.sumResponseTime / float64(s.totalResponses)
	}
	return a
}

// resultsVisible reports whether the viewer may see the current tally.
func (s *Session) resultsVisible(isHost bool) bool {
	if isHost {
		return true
	}
	return s.activity.Settings.ResultVisibility == models.ResultsLive
}

// snapshot builds the full activity_state view. Always a complete snapshot,
// never a diff: reconnecting clients cannot replay missed events. Timestamp
// is the last state change, not the snapshot time, so pollers can hand it
// back as a watermark.
func (s *Session) snapshot(isHost bool) models.ActivityState {
	s.expirePolls(s.now())

	state := models.ActivityState{
		ActivityID:           s.activity.ID,
		Status:               s.status,
		CurrentQuestionIndex: s.currentIndex,
		ParticipantCount:     len(s.participants),
		ActivePolls:          s.activePolls(),
		QAQueue:              s.qaView(qaFilterVisible, QASortRecent),
		Analytics:            s.analytics(),
		Timestamp:            s.lastChanged,
	}
	if q := s.currentQuestion(); q != nil {
		state.CurrentQuestion = q
		started := s.questionStartedAt
		state.QuestionStartedAt = &started
		if s.resultsVisible(isHost) {
			r := s.tallyCurrent()
			state.Results = &r
		}
	}
	return state
}

// State returns a full state snapshot for the given viewer.
func (s *Session) State(isHost bool) (models.ActivityState, error) {
	var state models.ActivityState
	err := s.do(func() error {
		if s.ended {
			state = s.endedSnapshot()
			return nil
		}
		state = s.snapshot(isHost)
		return nil
	})
	return state, err
}

func (s *Session) endedSnapshot() models.ActivityState {
	return models.ActivityState{
		ActivityID:           s.activity.ID,
		Status:               models.SessionEnded,
		CurrentQuestionIndex: s.currentIndex,
		ParticipantCount:     len(s.participants),
		ActivePolls:          []models.LivePoll{},
		QAQueue:              s.qaView(qaFilterVisible, QASortRecent),
		Analytics:            s.analytics(),
		Timestamp:            s.lastChanged,
	}
}

// End stops the session on behalf of a host: no further responses, polls or
// votes are accepted, all participants are notified, and the final archive is
// returned for persistence.
func (s *Session) End(actorID string) (*models.SessionArchive, error) {
	var archive *models.SessionArchive
	err := s.do(func() error {
		if s.ended {
			return ErrSessionEnded
		}
		if err := s.requireHost(actorID); err != nil {
			return err
		}
		s.foldCurrentResults()
		now := s.now()
		for _, p := range s.polls {
			if p.IsActive {
				p.IsActive = false
			}
		}
		s.ended = true
		s.status = models.SessionEnded
		s.touch()
		archive = s.buildArchive(now)
		s.bcast.BroadcastToActivity(s.activity.ID, EventActivityEnded, map[string]interface{}{
			"activityId": s.activity.ID,
			"endedAt":    now,
		})
		s.logger.Info("session ended",
			zap.String("activity_id", s.activity.ID),
			zap.Int("participants", len(s.joinedEver)),
			zap.Int("responses", s.totalResponses))
		return nil
	})
	return archive, err
}

func (s *Session) buildArchive(endedAt time.Time) *models.SessionArchive {
	results := make([]models.QuestionResults, 0, len(s.resultsByQuestion))
	for i := range s.activity.Questions {
		if r, ok := s.resultsByQuestion[i]; ok {
			results = append(results, r)
		}
	}
	polls := make([]models.LivePoll, 0, len(s.polls))
	for _, p := range s.polls {
		polls = append(polls, *p)
	}
	queue := make([]models.QAQuestion, 0, len(s.qa))
	for _, q := range s.qa {
		queue = append(queue, *q)
	}
	return &models.SessionArchive{
		ActivityID: s.activity.ID,
		StartedAt:  s.startedAt,
		EndedAt:    endedAt,
		Analytics:  s.analytics(),
		Results:    results,
		Polls:      polls,
		QAQueue:    queue,
	}
}

// idleSince returns the time the session has been without connected
// participants, or false when anyone is still connected.
func (s *Session) idleSince() (time.Time, bool) {
	var since time.Time
	var idle bool
	_ = s.do(func() error {
		if len(s.participants) == 0 && !s.emptySince.IsZero() {
			since, idle = s.emptySince, true
		}
		return nil
	})
	return since, idle
}
