package activities

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/atl-live/backend/internal/auth"
	"github.com/atl-live/backend/internal/middleware"
	"github.com/atl-live/backend/internal/models"
	"github.com/atl-live/backend/internal/session"
	"github.com/atl-live/backend/pkg/response"
	"github.com/atl-live/backend/pkg/storage"
)

// Handler serves the polling REST surface. Every mutation here is a
// fallback for clients without a socket; the live session is always the
// authority, so handlers translate requests into session calls and
// return the resulting state.
type Handler struct {
	registry *session.Registry
	repo     *Repository
	s3       *storage.S3 // nil when archive export is disabled
	logger   *zap.Logger
}

func NewHandler(registry *session.Registry, repo *Repository, s3 *storage.S3, logger *zap.Logger) *Handler {
	return &Handler{registry: registry, repo: repo, s3: s3, logger: logger}
}

// RegisterRoutes mounts the activity routes under /api/v1.
func (h *Handler) RegisterRoutes(r *gin.Engine, jwtService *auth.JWTService) {
	api := r.Group("/api/v1/activities")
	api.Use(middleware.OptionalJWT(jwtService))
	{
		api.GET("/pin/:pin", h.ResolvePIN)
		api.GET("/:id/status", h.Status)
		api.GET("/:id/results/:index", h.QuestionResults)
		api.GET("/:id/polls", h.ListPolls)
		api.GET("/:id/polls/:pollId/results", h.PollResults)
		api.GET("/:id/questions", h.ListQuestions)

		api.POST("/:id/join", h.Join)
		api.POST("/:id/leave", h.Leave)
		api.POST("/:id/heartbeat", h.Heartbeat)
		api.POST("/:id/responses", h.SubmitResponse)
		api.POST("/:id/questions", h.AskQuestion)
		api.POST("/:id/questions/:questionId/upvote", h.UpvoteQuestion)
		api.POST("/:id/polls/:pollId/vote", h.VotePoll)
	}

	host := r.Group("/api/v1/activities")
	host.Use(middleware.JWT(jwtService))
	{
		host.PATCH("/:id/navigate", h.Navigate)
		host.POST("/:id/polls", h.CreatePoll)
		host.POST("/:id/polls/:pollId/close", h.ClosePoll)
		host.POST("/:id/questions/:questionId/answer", h.AnswerQuestion)
		host.POST("/:id/questions/:questionId/dismiss", h.DismissQuestion)
		host.POST("/:id/end", h.EndActivity)
		host.GET("/:id/archives", h.ListArchives)
		host.GET("/:id/archives/:archiveId/download", h.ArchiveDownloadURL)
	}
}

// identity resolves who is acting. A JWT identity wins over body fields so
// an authenticated client cannot act as someone else.
func (h *Handler) identity(c *gin.Context, bodyID, bodyNickname string) (id, nickname string, authenticated bool) {
	if uid := c.GetString(middleware.ContextUserID); uid != "" {
		nickname = c.GetString(middleware.ContextNickname)
		if nickname == "" {
			nickname = bodyNickname
		}
		return uid, nickname, true
	}
	return bodyID, bodyNickname, false
}

func (h *Handler) isHostFor(c *gin.Context, s *session.Session) bool {
	uid := c.GetString(middleware.ContextUserID)
	return uid != "" && s.IsHostIdentity(uid)
}

func fail(c *gin.Context, err error) {
	if errors.Is(err, ErrActivityNotFound) {
		response.NotFound(c, err.Error())
		return
	}
	response.Error(c, session.HTTPStatus(err), err.Error())
}

func (h *Handler) liveSession(c *gin.Context) (*session.Session, bool) {
	s, err := h.registry.Get(c.Param("id"))
	if err != nil {
		fail(c, err)
		return nil, false
	}
	return s, true
}

// ResolvePIN maps a six-digit join PIN to the activity a client should
// join. Only joinable metadata is exposed, never the question list.
func (h *Handler) ResolvePIN(c *gin.Context) {
	a, err := h.repo.GetByPIN(c.Request.Context(), c.Param("pin"))
	if err != nil {
		fail(c, err)
		return
	}
	response.OK(c, gin.H{
		"activityId":     a.ID,
		"title":          a.Title,
		"description":    a.Description,
		"allowAnonymous": a.Settings.AllowAnonymous,
	})
}

type statusResponse struct {
	HasUpdates bool                  `json:"hasUpdates"`
	State      *models.ActivityState `json:"state,omitempty"`
}

// Status is the polling read path. It returns the same full snapshot the
// socket sends on join, and never creates a session as a side effect.
// Clients pass their previous snapshot timestamp as ?lastUpdate= to skip
// repeated payloads.
func (h *Handler) Status(c *gin.Context) {
	activityID := c.Param("id")
	var state models.ActivityState

	s, err := h.registry.Get(activityID)
	switch {
	case err == nil:
		state, err = s.State(h.isHostFor(c, s))
		if err != nil {
			fail(c, err)
			return
		}
	case errors.Is(err, session.ErrSessionNotFound):
		a, aerr := h.repo.GetByID(c.Request.Context(), activityID)
		if aerr != nil {
			fail(c, aerr)
			return
		}
		state = notStartedState(a)
	default:
		fail(c, err)
		return
	}

	if since := c.Query("lastUpdate"); since != "" {
		if t, perr := time.Parse(time.RFC3339Nano, since); perr == nil && !state.Timestamp.After(t) {
			response.OK(c, statusResponse{HasUpdates: false})
			return
		}
	}
	response.OK(c, statusResponse{HasUpdates: true, State: &state})
}

// notStartedState is the snapshot shape for an activity nobody has joined
// yet, so status polling works before the session exists.
func notStartedState(a *models.Activity) models.ActivityState {
	return models.ActivityState{
		ActivityID:           a.ID,
		Status:               models.SessionNotStarted,
		CurrentQuestionIndex: -1,
		ActivePolls:          []models.LivePoll{},
		QAQueue:              []models.QAQuestion{},
		Timestamp:            a.UpdatedAt,
	}
}

type joinRequest struct {
	Nickname      string `json:"nickname"`
	ParticipantID string `json:"participantId"`
}

// Join registers a polling participant and returns the identity token the
// client must echo on later requests, plus the full snapshot.
func (h *Handler) Join(c *gin.Context) {
	var req joinRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request body")
		return
	}
	s, err := h.registry.GetOrCreate(c.Request.Context(), c.Param("id"))
	if err != nil {
		fail(c, err)
		return
	}
	pid, nickname, authenticated := h.identity(c, req.ParticipantID, req.Nickname)
	if pid == "" {
		pid = uuid.New().String()
	}
	admin := c.GetString(middleware.ContextUserRole) == auth.RoleAdmin
	state, err := s.Join(pid, nickname, authenticated, admin)
	if err != nil {
		fail(c, err)
		return
	}
	response.OK(c, gin.H{"participantId": pid, "state": state})
}

type participantRequest struct {
	ParticipantID string `json:"participantId"`
}

func (h *Handler) Leave(c *gin.Context) {
	var req participantRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request body")
		return
	}
	s, ok := h.liveSession(c)
	if !ok {
		return
	}
	pid, _, _ := h.identity(c, req.ParticipantID, "")
	if pid == "" {
		response.BadRequest(c, "participantId is required")
		return
	}
	if err := s.Leave(pid); err != nil {
		fail(c, err)
		return
	}
	response.OK(c, gin.H{"left": true})
}

// Heartbeat keeps a polling participant out of the idle sweep. Socket
// clients heartbeat over the socket instead.
func (h *Handler) Heartbeat(c *gin.Context) {
	var req participantRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request body")
		return
	}
	s, ok := h.liveSession(c)
	if !ok {
		return
	}
	pid, _, _ := h.identity(c, req.ParticipantID, "")
	if pid == "" {
		response.BadRequest(c, "participantId is required")
		return
	}
	if err := s.Heartbeat(pid); err != nil {
		fail(c, err)
		return
	}
	response.OK(c, gin.H{"acknowledged": true})
}

type submitResponseRequest struct {
	ParticipantID string  `json:"participantId"`
	QuestionIndex *int    `json:"questionIndex" binding:"required"`
	Answer        string  `json:"answer"`
	ResponseTime  float64 `json:"responseTime"`
}

func (h *Handler) SubmitResponse(c *gin.Context) {
	var req submitResponseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "questionIndex and answer are required")
		return
	}
	s, ok := h.liveSession(c)
	if !ok {
		return
	}
	pid, _, _ := h.identity(c, req.ParticipantID, "")
	if pid == "" {
		response.BadRequest(c, "participantId is required")
		return
	}
	if err := s.Submit(pid, *req.QuestionIndex, req.Answer, req.ResponseTime); err != nil {
		fail(c, err)
		return
	}
	response.OK(c, gin.H{"accepted": true})
}

// QuestionResults returns the tally for one question, subject to the
// activity's result visibility policy for non-hosts.
func (h *Handler) QuestionResults(c *gin.Context) {
	s, ok := h.liveSession(c)
	if !ok {
		return
	}
	index, err := strconv.Atoi(c.Param("index"))
	if err != nil {
		response.BadRequest(c, "question index must be an integer")
		return
	}
	results, err := s.Results(index, h.isHostFor(c, s))
	if err != nil {
		fail(c, err)
		return
	}
	response.OK(c, results)
}

type navigateRequest struct {
	Direction     string `json:"direction"`
	QuestionIndex *int   `json:"questionIndex"`
}

// Navigate advances or rewinds the question sequence. Accepts either a
// direction or an explicit target index.
func (h *Handler) Navigate(c *gin.Context) {
	var req navigateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request body")
		return
	}
	s, ok := h.liveSession(c)
	if !ok {
		return
	}
	actorID := c.GetString(middleware.ContextUserID)

	var (
		index int
		err   error
	)
	switch {
	case req.Direction == "next":
		index, err = s.Next(actorID)
	case req.Direction == "previous":
		index, err = s.Previous(actorID)
	case req.QuestionIndex != nil:
		index = *req.QuestionIndex
		err = s.Navigate(actorID, index)
	default:
		response.BadRequest(c, "direction or questionIndex is required")
		return
	}
	if err != nil {
		fail(c, err)
		return
	}
	response.OK(c, gin.H{"currentQuestionIndex": index})
}

type createPollRequest struct {
	Question    string   `json:"question" binding:"required"`
	Options     []string `json:"options" binding:"required"`
	DurationSec int      `json:"durationSec" binding:"required"`
}

func (h *Handler) CreatePoll(c *gin.Context) {
	var req createPollRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "question, options and durationSec are required")
		return
	}
	s, ok := h.liveSession(c)
	if !ok {
		return
	}
	actorID := c.GetString(middleware.ContextUserID)
	poll, err := s.CreatePoll(actorID, req.Question, req.Options, time.Duration(req.DurationSec)*time.Second)
	if err != nil {
		fail(c, err)
		return
	}
	response.Created(c, poll)
}

type votePollRequest struct {
	ParticipantID string `json:"participantId"`
	Option        string `json:"option" binding:"required"`
}

func (h *Handler) VotePoll(c *gin.Context) {
	var req votePollRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "option is required")
		return
	}
	s, ok := h.liveSession(c)
	if !ok {
		return
	}
	pid, _, _ := h.identity(c, req.ParticipantID, "")
	if pid == "" {
		response.BadRequest(c, "participantId is required")
		return
	}
	if err := s.VotePoll(c.Param("pollId"), pid, req.Option); err != nil {
		fail(c, err)
		return
	}
	response.OK(c, gin.H{"voted": true})
}

func (h *Handler) ClosePoll(c *gin.Context) {
	s, ok := h.liveSession(c)
	if !ok {
		return
	}
	actorID := c.GetString(middleware.ContextUserID)
	if err := s.ClosePoll(actorID, c.Param("pollId")); err != nil {
		fail(c, err)
		return
	}
	response.OK(c, gin.H{"closed": true})
}

func (h *Handler) ListPolls(c *gin.Context) {
	s, ok := h.liveSession(c)
	if !ok {
		return
	}
	polls, err := s.Polls()
	if err != nil {
		fail(c, err)
		return
	}
	response.OK(c, polls)
}

func (h *Handler) PollResults(c *gin.Context) {
	s, ok := h.liveSession(c)
	if !ok {
		return
	}
	poll, err := s.PollByID(c.Param("pollId"))
	if err != nil {
		fail(c, err)
		return
	}
	response.OK(c, session.PollResults(poll, time.Now().UTC()))
}

type askQuestionRequest struct {
	ParticipantID string `json:"participantId"`
	Nickname      string `json:"nickname"`
	Question      string `json:"question" binding:"required"`
}

func (h *Handler) AskQuestion(c *gin.Context) {
	var req askQuestionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "question is required")
		return
	}
	s, ok := h.liveSession(c)
	if !ok {
		return
	}
	pid, nickname, _ := h.identity(c, req.ParticipantID, req.Nickname)
	if pid == "" {
		response.BadRequest(c, "participantId is required")
		return
	}
	q, err := s.AskQuestion(pid, nickname, req.Question)
	if err != nil {
		fail(c, err)
		return
	}
	response.Created(c, q)
}

func (h *Handler) UpvoteQuestion(c *gin.Context) {
	var req participantRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request body")
		return
	}
	s, ok := h.liveSession(c)
	if !ok {
		return
	}
	pid, _, _ := h.identity(c, req.ParticipantID, "")
	if pid == "" {
		response.BadRequest(c, "participantId is required")
		return
	}
	upvotes, err := s.UpvoteQuestion(c.Param("questionId"), pid)
	if err != nil {
		fail(c, err)
		return
	}
	response.OK(c, gin.H{"upvotes": upvotes})
}

type answerQuestionRequest struct {
	Answer string `json:"answer" binding:"required"`
}

func (h *Handler) AnswerQuestion(c *gin.Context) {
	var req answerQuestionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "answer is required")
		return
	}
	s, ok := h.liveSession(c)
	if !ok {
		return
	}
	actorID := c.GetString(middleware.ContextUserID)
	if err := s.AnswerQuestion(actorID, c.Param("questionId"), req.Answer); err != nil {
		fail(c, err)
		return
	}
	response.OK(c, gin.H{"answered": true})
}

func (h *Handler) DismissQuestion(c *gin.Context) {
	s, ok := h.liveSession(c)
	if !ok {
		return
	}
	actorID := c.GetString(middleware.ContextUserID)
	if err := s.DismissQuestion(actorID, c.Param("questionId")); err != nil {
		fail(c, err)
		return
	}
	response.OK(c, gin.H{"dismissed": true})
}

// ListQuestions returns the Q&A queue. ?status filters (pending, answered,
// dismissed for hosts), ?sort orders (recent, upvotes, oldest).
func (h *Handler) ListQuestions(c *gin.Context) {
	s, ok := h.liveSession(c)
	if !ok {
		return
	}
	status := c.Query("status")
	if status == string(models.QADismissed) && !h.isHostFor(c, s) {
		response.Forbidden(c, "dismissed questions are host-only")
		return
	}
	sortBy := session.QASort(c.DefaultQuery("sort", string(session.QASortRecent)))
	queue, err := s.QAQueue(status, sortBy)
	if err != nil {
		fail(c, err)
		return
	}
	response.OK(c, queue)
}

// EndActivity tears the session down, broadcasts the terminal event and
// hands the archive to the registry's sink.
func (h *Handler) EndActivity(c *gin.Context) {
	actorID := c.GetString(middleware.ContextUserID)
	if err := h.registry.End(c.Param("id"), actorID); err != nil {
		fail(c, err)
		return
	}
	response.OK(c, gin.H{"ended": true})
}

// ListArchives returns archives of past runs, host-only.
func (h *Handler) ListArchives(c *gin.Context) {
	activityID := c.Param("id")
	a, err := h.repo.GetByID(c.Request.Context(), activityID)
	if err != nil {
		fail(c, err)
		return
	}
	uid := c.GetString(middleware.ContextUserID)
	if !a.IsHost(uid) && c.GetString(middleware.ContextUserRole) != auth.RoleAdmin {
		response.Forbidden(c, "archives are host-only")
		return
	}
	archives, err := h.repo.ListArchivesByActivity(c.Request.Context(), activityID)
	if err != nil {
		response.Internal(c, "failed to list archives")
		return
	}
	if archives == nil {
		archives = []models.SessionArchive{}
	}
	response.OK(c, archives)
}

// ArchiveDownloadURL returns a pre-signed URL for an exported archive.
// Host-only; 503 when export is not configured.
func (h *Handler) ArchiveDownloadURL(c *gin.Context) {
	if h.s3 == nil {
		response.Error(c, http.StatusServiceUnavailable, "archive export is not configured")
		return
	}
	activityID := c.Param("id")
	a, err := h.repo.GetByID(c.Request.Context(), activityID)
	if err != nil {
		fail(c, err)
		return
	}
	uid := c.GetString(middleware.ContextUserID)
	if !a.IsHost(uid) && c.GetString(middleware.ContextUserRole) != auth.RoleAdmin {
		response.Forbidden(c, "archives are host-only")
		return
	}
	archive, err := h.repo.GetArchive(c.Request.Context(), c.Param("archiveId"))
	if err != nil || archive.ActivityID != activityID {
		response.NotFound(c, "archive not found")
		return
	}
	key := storage.ArchiveKey(activityID, archive.ID)
	url, err := h.s3.GeneratePresignedDownloadURL(c.Request.Context(), h.s3.ArchiveBucket(), key, h.s3.PresignExpire())
	if err != nil {
		h.logger.Error("presign archive download", zap.Error(err), zap.String("archive_id", archive.ID))
		response.Internal(c, "failed to generate download url")
		return
	}
	response.OK(c, gin.H{"url": url})
}
