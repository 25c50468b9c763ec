package session

import (
	"errors"
	"fmt"
	"math"
	"testing"

	"github.com/atl-live/backend/internal/models"
)

func startQuestion(t *testing.T, s *Session, target int) {
	t.Helper()
	if err := s.Navigate("host-1", target); err != nil {
		t.Fatalf("navigate to %d: %v", target, err)
	}
}

func TestSubmitRejectsDuplicates(t *testing.T) {
	s, _ := newTestSession(t, testActivity())
	mustJoinHost(t, s, "host-1")
	mustJoin(t, s, "p1", "Alice")
	startQuestion(t, s, 0)

	if err := s.Submit("p1", 0, "A", 2.0); err != nil {
		t.Fatalf("first submit: %v", err)
	}
	if err := s.Submit("p1", 0, "B", 1.0); !errors.Is(err, ErrAlreadyAnswered) {
		t.Errorf("second submit: expected ErrAlreadyAnswered, got %v", err)
	}

	// The first answer stands.
	results, _ := s.Results(0, true)
	if results.TotalResponses != 1 {
		t.Errorf("expected 1 response, got %d", results.TotalResponses)
	}
	if results.Options["A"].Count != 1 || results.Options["B"].Count != 0 {
		t.Errorf("expected first answer kept, got %+v", results.Options)
	}
}

func TestSubmitGuards(t *testing.T) {
	s, _ := newTestSession(t, testActivity())
	mustJoinHost(t, s, "host-1")
	mustJoin(t, s, "p1", "Alice")

	if err := s.Submit("p1", 0, "A", 1.0); !errors.Is(err, ErrNotInQuestion) {
		t.Errorf("before start: expected ErrNotInQuestion, got %v", err)
	}

	startQuestion(t, s, 0)

	if err := s.Submit("ghost", 0, "A", 1.0); !errors.Is(err, ErrParticipantGone) {
		t.Errorf("unknown participant: expected ErrParticipantGone, got %v", err)
	}
	if err := s.Submit("p1", 2, "A", 1.0); !errors.Is(err, ErrStaleQuestion) {
		t.Errorf("stale index: expected ErrStaleQuestion, got %v", err)
	}
	if err := s.Submit("p1", 0, "D", 1.0); !errors.Is(err, ErrInvalidOption) {
		t.Errorf("invalid option: expected ErrInvalidOption, got %v", err)
	}
	if err := s.Submit("p1", 0, "   ", 1.0); !errors.Is(err, ErrEmptyText) {
		t.Errorf("blank answer: expected ErrEmptyText, got %v", err)
	}
}

func TestSubmitCharLimit(t *testing.T) {
	activity := testActivity()
	activity.Questions[1].Settings.CharLimit = 10
	s, _ := newTestSession(t, activity)
	mustJoinHost(t, s, "host-1")
	mustJoin(t, s, "p1", "Alice")
	startQuestion(t, s, 1)

	if err := s.Submit("p1", 1, "this answer is far too long", 1.0); !errors.Is(err, ErrTextTooLong) {
		t.Errorf("expected ErrTextTooLong, got %v", err)
	}
	if err := s.Submit("p1", 1, "short", 1.0); err != nil {
		t.Errorf("within limit: %v", err)
	}
}

func TestTallyChoicePercentages(t *testing.T) {
	q := models.Question{ID: "q0", Type: models.QuestionMultiChoice, Options: []string{"A", "B", "C"}}
	responses := []models.Response{
		{ParticipantID: "p1", Answer: "A"},
		{ParticipantID: "p2", Answer: "A"},
		{ParticipantID: "p3", Answer: "B"},
	}

	out := Tally(q, 0, responses)
	if out.TotalResponses != 3 {
		t.Fatalf("total: got %d", out.TotalResponses)
	}
	if out.Options["A"].Count != 2 || out.Options["A"].Percentage != 67 {
		t.Errorf("option A: got %+v", out.Options["A"])
	}
	if out.Options["B"].Count != 1 || out.Options["B"].Percentage != 33 {
		t.Errorf("option B: got %+v", out.Options["B"])
	}
	if out.Options["C"].Count != 0 || out.Options["C"].Percentage != 0 {
		t.Errorf("option C: got %+v", out.Options["C"])
	}
}

func TestTallyEmpty(t *testing.T) {
	q := models.Question{ID: "q0", Type: models.QuestionMultiChoice, Options: []string{"A", "B"}}
	out := Tally(q, 0, nil)
	if out.TotalResponses != 0 {
		t.Errorf("total: got %d", out.TotalResponses)
	}
	for opt, tally := range out.Options {
		if tally.Count != 0 || tally.Percentage != 0 {
			t.Errorf("option %s: expected zeros, got %+v", opt, tally)
		}
	}
}

func TestTallyRatingMean(t *testing.T) {
	q := models.Question{ID: "q2", Type: models.QuestionRating, Options: []string{"1", "2", "3", "4", "5"}}
	responses := []models.Response{
		{ParticipantID: "p1", Answer: "4"},
		{ParticipantID: "p2", Answer: "5"},
		{ParticipantID: "p3", Answer: "3"},
	}

	out := Tally(q, 2, responses)
	if math.Abs(out.AverageRating-4.0) > 1e-9 {
		t.Errorf("average: got %f", out.AverageRating)
	}
	if out.Options["4"].Count != 1 {
		t.Errorf("expected per-value counts alongside the mean, got %+v", out.Options)
	}
}

func TestTallyRatingSkipsNonNumeric(t *testing.T) {
	q := models.Question{ID: "q2", Type: models.QuestionRating, Options: []string{"1", "2", "3"}}
	responses := []models.Response{
		{ParticipantID: "p1", Answer: "2"},
		{ParticipantID: "p2", Answer: "great"},
	}

	out := Tally(q, 2, responses)
	if math.Abs(out.AverageRating-2.0) > 1e-9 {
		t.Errorf("average should skip non-numeric answers: got %f", out.AverageRating)
	}
}

func TestTallyWordCloudClusters(t *testing.T) {
	q := models.Question{ID: "q1", Type: models.QuestionWordCloud}
	responses := []models.Response{
		{ParticipantID: "p1", Answer: "Go"},
		{ParticipantID: "p2", Answer: "  go "},
		{ParticipantID: "p3", Answer: "rust"},
	}

	out := Tally(q, 1, responses)
	if len(out.Clusters) != 2 {
		t.Fatalf("clusters: got %+v", out.Clusters)
	}
	if out.Clusters[0].Word != "go" || out.Clusters[0].Count != 2 {
		t.Errorf("expected normalized 'go' x2 first, got %+v", out.Clusters[0])
	}
	if out.Clusters[1].Word != "rust" || out.Clusters[1].Count != 1 {
		t.Errorf("expected 'rust' x1 second, got %+v", out.Clusters[1])
	}
}

func TestResultsVisibilityPolicy(t *testing.T) {
	activity := testActivity()
	activity.Settings.ResultVisibility = models.ResultsAfterQuestion
	s, _ := newTestSession(t, activity)
	mustJoinHost(t, s, "host-1")
	mustJoin(t, s, "p1", "Alice")
	startQuestion(t, s, 0)

	if err := s.Submit("p1", 0, "A", 1.0); err != nil {
		t.Fatalf("submit: %v", err)
	}

	// Participants cannot see the current question's tally yet; hosts can.
	if _, err := s.Results(0, false); !errors.Is(err, ErrForbidden) {
		t.Errorf("participant current results: expected ErrForbidden, got %v", err)
	}
	if _, err := s.Results(0, true); err != nil {
		t.Errorf("host current results: %v", err)
	}

	startQuestion(t, s, 1)
	results, err := s.Results(0, false)
	if err != nil {
		t.Fatalf("participant past results: %v", err)
	}
	if results.TotalResponses != 1 {
		t.Errorf("expected folded tally, got %+v", results)
	}

	if _, err := s.Results(7, true); !errors.Is(err, ErrOutOfRange) {
		t.Errorf("out of range index: expected ErrOutOfRange, got %v", err)
	}
}

func TestAnalyticsAverageResponseTime(t *testing.T) {
	s, _ := newTestSession(t, testActivity())
	mustJoinHost(t, s, "host-1")
	for i := 0; i < 3; i++ {
		mustJoin(t, s, fmt.Sprintf("p%d", i), fmt.Sprintf("P%d", i))
	}
	startQuestion(t, s, 0)

	times := []float64{1.0, 2.0, 6.0}
	for i, rt := range times {
		if err := s.Submit(fmt.Sprintf("p%d", i), 0, "A", rt); err != nil {
			t.Fatalf("submit %d: %v", i, err)
		}
	}

	state, _ := s.State(true)
	if state.Analytics.TotalResponses != 3 {
		t.Errorf("total responses: got %d", state.Analytics.TotalResponses)
	}
	if math.Abs(state.Analytics.AverageResponseTime-3.0) > 1e-9 {
		t.Errorf("average response time: got %f", state.Analytics.AverageResponseTime)
	}
}
