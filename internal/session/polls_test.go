package session

import (
	"errors"
	"testing"
	"time"
)

func TestCreatePollValidation(t *testing.T) {
	s, _ := newTestSession(t, testActivity())
	mustJoinHost(t, s, "host-1")
	mustJoin(t, s, "p1", "Alice")

	if _, err := s.CreatePoll("p1", "Q", []string{"A", "B"}, time.Minute); !errors.Is(err, ErrForbidden) {
		t.Errorf("non-host create: expected ErrForbidden, got %v", err)
	}
	if _, err := s.CreatePoll("host-1", "Q", []string{"A"}, time.Minute); !errors.Is(err, ErrOptionCount) {
		t.Errorf("one option: expected ErrOptionCount, got %v", err)
	}
	tooMany := []string{"A", "B", "C", "D", "E", "F", "G"}
	if _, err := s.CreatePoll("host-1", "Q", tooMany, time.Minute); !errors.Is(err, ErrOptionCount) {
		t.Errorf("seven options: expected ErrOptionCount, got %v", err)
	}
	if _, err := s.CreatePoll("host-1", "Q", []string{"A", "B"}, 0); !errors.Is(err, ErrInvalidDuration) {
		t.Errorf("zero duration: expected ErrInvalidDuration, got %v", err)
	}
	if _, err := s.CreatePoll("host-1", "  ", []string{"A", "B"}, time.Minute); !errors.Is(err, ErrEmptyText) {
		t.Errorf("blank question: expected ErrEmptyText, got %v", err)
	}

	poll, err := s.CreatePoll("host-1", "Lunch?", []string{"Pizza", "Sushi"}, time.Minute)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if !poll.IsActive {
		t.Error("expected new poll active")
	}
	if poll.ID == "" {
		t.Error("expected poll id")
	}
	if !poll.ExpiresAt.After(poll.CreatedAt) {
		t.Error("expected deadline after creation time")
	}
}

func TestVotePollLatestWins(t *testing.T) {
	s, _ := newTestSession(t, testActivity())
	mustJoinHost(t, s, "host-1")
	mustJoin(t, s, "p1", "Alice")
	mustJoin(t, s, "p2", "Bob")

	poll, err := s.CreatePoll("host-1", "Lunch?", []string{"Pizza", "Sushi"}, time.Minute)
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	if err := s.VotePoll(poll.ID, "p1", "Pizza"); err != nil {
		t.Fatalf("vote: %v", err)
	}
	if err := s.VotePoll(poll.ID, "p2", "Pizza"); err != nil {
		t.Fatalf("vote: %v", err)
	}
	// Changing a vote replaces the previous one.
	if err := s.VotePoll(poll.ID, "p1", "Sushi"); err != nil {
		t.Fatalf("revote: %v", err)
	}

	snap, err := s.PollByID(poll.ID)
	if err != nil {
		t.Fatalf("poll by id: %v", err)
	}
	if len(snap.Votes) != 2 {
		t.Fatalf("expected 2 votes after revote, got %d", len(snap.Votes))
	}

	results := PollResults(snap, time.Now())
	if results.Options["Pizza"].Count != 1 || results.Options["Sushi"].Count != 1 {
		t.Errorf("tally after revote: got %+v", results.Options)
	}
	sum := 0
	for _, tally := range results.Options {
		sum += tally.Count
	}
	if sum != 2 {
		t.Errorf("option counts must sum to distinct voters: got %d", sum)
	}
}

func TestVotePollValidation(t *testing.T) {
	s, _ := newTestSession(t, testActivity())
	mustJoinHost(t, s, "host-1")
	mustJoin(t, s, "p1", "Alice")

	poll, _ := s.CreatePoll("host-1", "Lunch?", []string{"Pizza", "Sushi"}, time.Minute)

	if err := s.VotePoll("missing", "p1", "Pizza"); !errors.Is(err, ErrPollNotFound) {
		t.Errorf("unknown poll: expected ErrPollNotFound, got %v", err)
	}
	if err := s.VotePoll(poll.ID, "ghost", "Pizza"); !errors.Is(err, ErrParticipantGone) {
		t.Errorf("unknown participant: expected ErrParticipantGone, got %v", err)
	}
	if err := s.VotePoll(poll.ID, "p1", "Ramen"); !errors.Is(err, ErrInvalidOption) {
		t.Errorf("invalid option: expected ErrInvalidOption, got %v", err)
	}
}

func TestPollExpiry(t *testing.T) {
	s, bcast := newTestSession(t, testActivity())
	mustJoinHost(t, s, "host-1")
	mustJoin(t, s, "p1", "Alice")

	base := time.Now()
	s.now = func() time.Time { return base }

	poll, err := s.CreatePoll("host-1", "Quick check", []string{"Yes", "No"}, 30*time.Second)
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	// Move past the deadline; the sweep flips the poll exactly once.
	base = base.Add(time.Minute)
	s.SweepPolls()
	s.SweepPolls()

	if bcast.count(EventPollExpired) != 1 {
		t.Errorf("expected exactly 1 poll_expired broadcast, got %d", bcast.count(EventPollExpired))
	}

	snap, _ := s.PollByID(poll.ID)
	if snap.IsActive {
		t.Error("expected poll inactive after deadline")
	}
	if err := s.VotePoll(poll.ID, "p1", "Yes"); !errors.Is(err, ErrPollClosed) {
		t.Errorf("vote after expiry: expected ErrPollClosed, got %v", err)
	}

	// Expired polls leave the snapshot but stay queryable.
	state, _ := s.State(false)
	if len(state.ActivePolls) != 0 {
		t.Errorf("expected no active polls in snapshot, got %d", len(state.ActivePolls))
	}
	polls, _ := s.Polls()
	if len(polls) != 1 {
		t.Errorf("expected expired poll retained, got %d", len(polls))
	}
}

func TestClosePollEarly(t *testing.T) {
	s, bcast := newTestSession(t, testActivity())
	mustJoinHost(t, s, "host-1")
	mustJoin(t, s, "p1", "Alice")

	poll, _ := s.CreatePoll("host-1", "Quick check", []string{"Yes", "No"}, time.Hour)

	if err := s.ClosePoll("p1", poll.ID); !errors.Is(err, ErrForbidden) {
		t.Errorf("non-host close: expected ErrForbidden, got %v", err)
	}
	if err := s.ClosePoll("host-1", poll.ID); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := s.ClosePoll("host-1", poll.ID); !errors.Is(err, ErrPollClosed) {
		t.Errorf("double close: expected ErrPollClosed, got %v", err)
	}
	if bcast.count(EventPollExpired) != 1 {
		t.Errorf("expected 1 poll_expired broadcast, got %d", bcast.count(EventPollExpired))
	}
}
