package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"go.uber.org/zap"

	"github.com/atl-live/backend/internal/models"
	"github.com/atl-live/backend/internal/session"
)

type stubSource struct {
	activity *models.Activity
}

func (s *stubSource) GetByID(ctx context.Context, activityID string) (*models.Activity, error) {
	if s.activity == nil || s.activity.ID != activityID {
		return nil, errors.New("activity not found")
	}
	return s.activity, nil
}

func stubActivity() *models.Activity {
	return &models.Activity{
		ID:      "act-1",
		Title:   "Sprint Review",
		HostIDs: []string{"host-1"},
		Questions: []models.Question{
			{ID: "q0", Type: models.QuestionMultiChoice, Text: "Pick", Options: []string{"A", "B"}},
		},
		Settings: models.ActivitySettings{
			AllowAnonymous:   true,
			AllowQA:          true,
			ResultVisibility: models.ResultsLive,
		},
	}
}

func testStack(t *testing.T) (*Hub, *session.Registry) {
	t.Helper()
	hub := NewHub(zap.NewNop(), nil, nil)
	registry := session.NewRegistry(&stubSource{activity: stubActivity()}, hub, nil, session.Config{}, nil)
	t.Cleanup(registry.Close)
	return hub, registry
}

func wsClient(hub *Hub, registry *session.Registry) *Client {
	return &Client{
		ID:       "conn-1",
		hub:      hub,
		registry: registry,
		send:     make(chan WSMessage, 16),
		logger:   zap.NewNop(),
	}
}

func raw(t *testing.T, v interface{}) json.RawMessage {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return data
}

func nextEvent(t *testing.T, c *Client) WSMessage {
	t.Helper()
	select {
	case msg := <-c.send:
		return msg
	default:
		t.Fatal("expected an outbound event")
		return WSMessage{}
	}
}

func TestJoinRepliesWithFullState(t *testing.T) {
	hub, registry := testStack(t)
	c := wsClient(hub, registry)

	c.dispatch(WSMessage{Event: EventJoinActivity, Data: raw(t, map[string]string{
		"activityId": "act-1",
		"nickname":   "Alice",
	})})

	msg := nextEvent(t, c)
	if msg.Event != session.EventActivityState {
		t.Fatalf("expected activity_state, got %s", msg.Event)
	}
	var state models.ActivityState
	if err := json.Unmarshal(msg.Data, &state); err != nil {
		t.Fatalf("unmarshal state: %v", err)
	}
	if state.ActivityID != "act-1" {
		t.Errorf("state activity: got %s", state.ActivityID)
	}
	if state.CurrentQuestionIndex != -1 {
		t.Errorf("expected index -1 before start, got %d", state.CurrentQuestionIndex)
	}
	if state.ParticipantCount != 1 {
		t.Errorf("expected 1 participant, got %d", state.ParticipantCount)
	}

	if !c.joined || c.ActivityID != "act-1" || c.ParticipantID == "" {
		t.Errorf("client not bound after join: %+v", c)
	}
	if hub.ConnectionCount("act-1") != 1 {
		t.Errorf("expected client registered in room, got %d", hub.ConnectionCount("act-1"))
	}
}

func TestJoinAssignsResumeToken(t *testing.T) {
	hub, registry := testStack(t)

	c1 := wsClient(hub, registry)
	c1.dispatch(WSMessage{Event: EventJoinActivity, Data: raw(t, map[string]string{
		"activityId": "act-1",
		"nickname":   "Alice",
	})})
	nextEvent(t, c1)
	token := c1.ParticipantID
	if token == "" {
		t.Fatal("expected generated participant id for anonymous client")
	}

	// A reconnecting client echoes the token and resumes the same seat.
	c2 := wsClient(hub, registry)
	c2.ID = "conn-2"
	c2.dispatch(WSMessage{Event: EventJoinActivity, Data: raw(t, map[string]string{
		"activityId":    "act-1",
		"nickname":      "Alice",
		"participantId": token,
	})})
	msg := nextEvent(t, c2)
	var state models.ActivityState
	if err := json.Unmarshal(msg.Data, &state); err != nil {
		t.Fatalf("unmarshal state: %v", err)
	}
	if state.ParticipantCount != 1 {
		t.Errorf("resume must not grow the roster, got %d", state.ParticipantCount)
	}
	if c2.ParticipantID != token {
		t.Errorf("expected resumed identity %s, got %s", token, c2.ParticipantID)
	}
}

func TestDispatchRejectsMalformedPayload(t *testing.T) {
	hub, registry := testStack(t)
	c := wsClient(hub, registry)

	c.dispatch(WSMessage{Event: EventJoinActivity, Data: json.RawMessage(`{"nope"`)})

	msg := nextEvent(t, c)
	if msg.Event != session.EventError {
		t.Fatalf("expected error event, got %s", msg.Event)
	}
	var payload map[string]string
	if err := json.Unmarshal(msg.Data, &payload); err != nil {
		t.Fatalf("unmarshal error payload: %v", err)
	}
	if payload["code"] != "validation" {
		t.Errorf("expected validation code, got %s", payload["code"])
	}
}

func TestDispatchRequiresJoin(t *testing.T) {
	hub, registry := testStack(t)
	c := wsClient(hub, registry)

	idx := 0
	c.dispatch(WSMessage{Event: EventSubmitAnswer, Data: raw(t, map[string]interface{}{
		"activityId":    "act-1",
		"questionIndex": idx,
		"answer":        "A",
	})})

	msg := nextEvent(t, c)
	if msg.Event != session.EventError {
		t.Fatalf("expected error event, got %s", msg.Event)
	}
	var payload map[string]string
	_ = json.Unmarshal(msg.Data, &payload)
	if payload["code"] != "not_found" && payload["code"] != "conflict" {
		t.Errorf("unexpected error code %s", payload["code"])
	}
}

func TestHostActionOverSocket(t *testing.T) {
	hub, registry := testStack(t)

	host := wsClient(hub, registry)
	host.UserID = "host-1"
	host.Nickname = "Host"
	host.Authenticated = true
	host.dispatch(WSMessage{Event: EventJoinActivity, Data: raw(t, map[string]string{
		"activityId": "act-1",
	})})
	msg := nextEvent(t, host)
	if msg.Event != session.EventActivityState {
		t.Fatalf("join failed: %s", msg.Event)
	}
	if !host.IsHost {
		t.Fatal("expected host flag after join")
	}

	host.dispatch(WSMessage{Event: EventNextQuestion, Data: raw(t, map[string]string{
		"activityId": "act-1",
	})})

	// The broadcast loops back through the hub into the client's queue.
	msg = nextEvent(t, host)
	if msg.Event != session.EventQuestionChanged {
		t.Fatalf("expected question_changed, got %s", msg.Event)
	}

	sess, err := registry.Get("act-1")
	if err != nil {
		t.Fatalf("get session: %v", err)
	}
	state, _ := sess.State(true)
	if state.CurrentQuestionIndex != 0 {
		t.Errorf("expected index 0, got %d", state.CurrentQuestionIndex)
	}
}

func TestNonHostNavigationRejectedOverSocket(t *testing.T) {
	hub, registry := testStack(t)
	c := wsClient(hub, registry)
	c.dispatch(WSMessage{Event: EventJoinActivity, Data: raw(t, map[string]string{
		"activityId": "act-1",
		"nickname":   "Alice",
	})})
	nextEvent(t, c)

	c.dispatch(WSMessage{Event: EventNextQuestion, Data: raw(t, map[string]string{
		"activityId": "act-1",
	})})

	msg := nextEvent(t, c)
	if msg.Event != session.EventError {
		t.Fatalf("expected error event, got %s", msg.Event)
	}
	var payload map[string]string
	_ = json.Unmarshal(msg.Data, &payload)
	if payload["code"] != "forbidden" {
		t.Errorf("expected forbidden code, got %s", payload["code"])
	}
}

func TestPayloadValidation(t *testing.T) {
	cases := []struct {
		name    string
		payload interface{ validate() error }
		wantErr bool
	}{
		{"join without activity", &joinActivityPayload{Nickname: "A"}, true},
		{"join ok", &joinActivityPayload{ActivityID: "act-1"}, false},
		{"submit without index", &submitAnswerPayload{ActivityID: "act-1"}, true},
		{"vote without option", &voteLivePollPayload{ActivityID: "act-1", PollID: "p"}, true},
		{"qa target without question", &qaTargetPayload{ActivityID: "act-1"}, true},
	}
	for _, tc := range cases {
		err := tc.payload.validate()
		if tc.wantErr && err == nil {
			t.Errorf("%s: expected error", tc.name)
		}
		if !tc.wantErr && err != nil {
			t.Errorf("%s: unexpected error %v", tc.name, err)
		}
	}
}
