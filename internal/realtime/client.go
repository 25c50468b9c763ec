package realtime

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/atl-live/backend/internal/session"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // allow all origins in dev; restrict in production
	},
}

// TokenValidator resolves an opaque token to a user identity.
type TokenValidator func(token string) (userID, nickname, role string, err error)

// Client represents a single WebSocket connection in an activity.
type Client struct {
	ID            string // connection id
	ActivityID    string // bound on join_activity
	ParticipantID string
	Nickname      string
	UserID        string // empty for anonymous participants
	Role          string
	IsHost        bool
	Authenticated bool

	joined   bool
	hub      *Hub
	registry *session.Registry
	conn     *websocket.Conn
	send     chan WSMessage
	logger   *zap.Logger
}

// ServeWs handles the WebSocket upgrade and runs the client loop. The token
// is optional: anonymous participants connect without one and are admitted
// to activities that allow it.
func ServeWs(hub *Hub, registry *session.Registry, logger *zap.Logger, validate TokenValidator) gin.HandlerFunc {
	return func(c *gin.Context) {
		var userID, nickname, role string
		authenticated := false
		if token := c.Query("token"); token != "" {
			var err error
			userID, nickname, role, err = validate(token)
			if err != nil {
				c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
				return
			}
			authenticated = true
		}

		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			logger.Warn("websocket upgrade failed", zap.Error(err))
			return
		}

		client := &Client{
			ID:            uuid.New().String(),
			UserID:        userID,
			Nickname:      nickname,
			Role:          role,
			Authenticated: authenticated,
			hub:           hub,
			registry:      registry,
			conn:          conn,
			send:          make(chan WSMessage, 256),
			logger:        logger,
		}
		go client.writePump()
		client.readPump()
	}
}

func (c *Client) readPump() {
	defer func() {
		if c.joined {
			if sess, err := c.registry.Get(c.ActivityID); err == nil {
				sess.Disconnect(c.ParticipantID)
			}
			c.hub.Unregister(c)
		}
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(65536)
	_ = c.conn.SetReadDeadline(time.Now().Add(PongWait * time.Second))
	c.conn.SetPongHandler(func(string) error {
		_ = c.conn.SetReadDeadline(time.Now().Add(PongWait * time.Second))
		return nil
	})

	for {
		var msg WSMessage
		if err := c.conn.ReadJSON(&msg); err != nil {
			break
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(PongWait * time.Second))
		c.dispatch(msg)
	}
}

// dispatch decodes and validates the event payload, then applies it against
// the session. Every rejection goes back to the sender as an error event,
// never silently dropped.
func (c *Client) dispatch(msg WSMessage) {
	switch msg.Event {
	case EventJoinActivity:
		var p joinActivityPayload
		if err := decode(msg.Data, &p); err != nil {
			c.sendError(err)
			return
		}
		c.handleJoin(p)
	case EventHeartbeat:
		if sess, err := c.sessionFor(c.ActivityID); err == nil {
			_ = sess.Heartbeat(c.ParticipantID)
		}
		c.sendEvent(EventHeartbeatAck, nil)
	case EventLeaveActivity:
		var p activityPayload
		if err := decode(msg.Data, &p); err != nil {
			c.sendError(err)
			return
		}
		if sess, err := c.sessionFor(p.ActivityID); err == nil {
			_ = sess.Leave(c.ParticipantID)
		}
	case EventSubmitAnswer:
		var p submitAnswerPayload
		if err := decode(msg.Data, &p); err != nil {
			c.sendError(err)
			return
		}
		sess, err := c.sessionFor(p.ActivityID)
		if err == nil {
			err = sess.Submit(c.ParticipantID, *p.QuestionIndex, p.Answer, p.ResponseTime)
		}
		if err != nil {
			c.sendError(err)
		}
	case EventAskQuestion:
		var p askQuestionPayload
		if err := decode(msg.Data, &p); err != nil {
			c.sendError(err)
			return
		}
		sess, err := c.sessionFor(p.ActivityID)
		if err == nil {
			_, err = sess.AskQuestion(c.ParticipantID, c.Nickname, p.Question)
		}
		if err != nil {
			c.sendError(err)
		}
	case EventUpvoteQuestion:
		var p qaTargetPayload
		if err := decode(msg.Data, &p); err != nil {
			c.sendError(err)
			return
		}
		sess, err := c.sessionFor(p.ActivityID)
		if err == nil {
			_, err = sess.UpvoteQuestion(p.QuestionID, c.ParticipantID)
		}
		if err != nil {
			c.sendError(err)
		}
	case EventAnswerQuestion:
		var p qaTargetPayload
		if err := decode(msg.Data, &p); err != nil {
			c.sendError(err)
			return
		}
		sess, err := c.sessionFor(p.ActivityID)
		if err == nil {
			err = sess.AnswerQuestion(c.ParticipantID, p.QuestionID, p.Answer)
		}
		if err != nil {
			c.sendError(err)
		}
	case EventDismissQuestion:
		var p qaTargetPayload
		if err := decode(msg.Data, &p); err != nil {
			c.sendError(err)
			return
		}
		sess, err := c.sessionFor(p.ActivityID)
		if err == nil {
			err = sess.DismissQuestion(c.ParticipantID, p.QuestionID)
		}
		if err != nil {
			c.sendError(err)
		}
	case EventCreateLivePoll:
		var p createLivePollPayload
		if err := decode(msg.Data, &p); err != nil {
			c.sendError(err)
			return
		}
		sess, err := c.sessionFor(p.ActivityID)
		if err == nil {
			_, err = sess.CreatePoll(c.ParticipantID, p.Question, p.Options, time.Duration(p.Duration)*time.Second)
		}
		if err != nil {
			c.sendError(err)
		}
	case EventVoteLivePoll:
		var p voteLivePollPayload
		if err := decode(msg.Data, &p); err != nil {
			c.sendError(err)
			return
		}
		sess, err := c.sessionFor(p.ActivityID)
		if err == nil {
			err = sess.VotePoll(p.PollID, c.ParticipantID, p.Option)
		}
		if err != nil {
			c.sendError(err)
		}
	case EventNextQuestion:
		var p navigatePayload
		if err := decode(msg.Data, &p); err != nil {
			c.sendError(err)
			return
		}
		sess, err := c.sessionFor(p.ActivityID)
		if err == nil {
			_, err = sess.Next(c.ParticipantID)
		}
		if err != nil {
			c.sendError(err)
		}
	case EventPreviousQuestion:
		var p navigatePayload
		if err := decode(msg.Data, &p); err != nil {
			c.sendError(err)
			return
		}
		sess, err := c.sessionFor(p.ActivityID)
		if err == nil {
			_, err = sess.Previous(c.ParticipantID)
		}
		if err != nil {
			c.sendError(err)
		}
	case EventEndActivity:
		var p activityPayload
		if err := decode(msg.Data, &p); err != nil {
			c.sendError(err)
			return
		}
		if err := c.requireJoined(p.ActivityID); err != nil {
			c.sendError(err)
			return
		}
		if err := c.registry.End(p.ActivityID, c.ParticipantID); err != nil {
			c.sendError(err)
		}
	default:
		// ignore
	}
}

// handleJoin admits the client to a session and replies with the full state
// snapshot. Reconnects pass the same participant identity and resume the
// existing roster entry.
func (c *Client) handleJoin(p joinActivityPayload) {
	sess, err := c.registry.GetOrCreate(context.Background(), p.ActivityID)
	if err != nil {
		c.sendError(err)
		return
	}

	participantID := c.UserID
	if participantID == "" {
		participantID = p.ParticipantID
		if participantID == "" {
			participantID = uuid.New().String()
		}
	}
	nickname := p.Nickname
	if nickname == "" {
		nickname = c.Nickname
	}

	state, err := sess.Join(participantID, nickname, c.Authenticated, c.Role == "admin")
	if err != nil {
		c.sendError(err)
		return
	}

	if c.joined && c.ActivityID != p.ActivityID {
		c.hub.Unregister(c)
		c.joined = false
	}
	c.ActivityID = p.ActivityID
	c.ParticipantID = participantID
	c.Nickname = nickname
	c.IsHost = sess.IsHostIdentity(participantID)
	if !c.joined {
		c.hub.Register(c)
		c.joined = true
	}

	c.sendEvent(session.EventActivityState, state)
}

func (c *Client) sessionFor(activityID string) (*session.Session, error) {
	if err := c.requireJoined(activityID); err != nil {
		return nil, err
	}
	return c.registry.Get(activityID)
}

func (c *Client) requireJoined(activityID string) error {
	if !c.joined || activityID == "" || activityID != c.ActivityID {
		return session.ErrParticipantGone
	}
	return nil
}

func (c *Client) sendEvent(event string, payload interface{}) {
	data, err := json.Marshal(payload)
	if err != nil {
		return
	}
	select {
	case c.send <- WSMessage{Event: event, Data: data}:
	default:
	}
}

func (c *Client) sendError(err error) {
	code := "validation"
	if err != errMalformedPayload {
		code = session.Code(err)
	}
	c.sendEvent(session.EventError, map[string]string{
		"code":    code,
		"message": err.Error(),
	})
}

func decode(data json.RawMessage, p interface{ validate() error }) error {
	if len(data) == 0 {
		return errMalformedPayload
	}
	if err := json.Unmarshal(data, p); err != nil {
		return errMalformedPayload
	}
	return p.validate()
}

func (c *Client) writePump() {
	ticker := time.NewTicker(PingInterval * time.Second)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			_ = c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteJSON(msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
