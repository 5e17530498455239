package api

import (
	"context"
	stderrors "errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"

	"github.com/victornm/assessment/internal/domain"
	"github.com/victornm/assessment/internal/eligibility"
	"github.com/victornm/assessment/internal/errors"
	"github.com/victornm/assessment/internal/event"
	"github.com/victornm/assessment/internal/history"
	"github.com/victornm/assessment/internal/leaderboard"
	"github.com/victornm/assessment/internal/session"
)

type (
	Exams interface {
		LoadDefinition(ctx context.Context, examID string) (*domain.ExamDefinition, error)
		SaveDefinition(ctx context.Context, def domain.ExamDefinition) (*domain.ExamDefinition, error)
	}

	Sessions interface {
		StartSession(ctx context.Context, req session.StartSessionRequest) (*domain.AttemptSession, error)
		GetSession(ctx context.Context, req session.GetSessionRequest) (*domain.AttemptSession, error)
		SelectAnswer(ctx context.Context, req session.SelectAnswerRequest) (*domain.AttemptSession, error)
		GoTo(ctx context.Context, req session.GoToRequest) (*domain.AttemptSession, error)
		Submit(ctx context.Context, req session.SubmitRequest) (*session.SubmitResponse, error)
	}

	History interface {
		List(ctx context.Context, req history.ListRequest) ([]domain.AttemptResult, error)
	}

	Eligibility interface {
		GetEligibility(ctx context.Context, req eligibility.GetEligibilityRequest) (*domain.CertificateEligibility, error)
		GetCertificate(ctx context.Context, req eligibility.GetCertificateRequest) (*eligibility.GetCertificateResponse, error)
	}

	Leaderboard interface {
		GetLeaderboard(ctx context.Context, req leaderboard.GetLeaderboardRequest) (*domain.Leaderboard, error)
	}

	Redis interface {
		Publish(ctx context.Context, channel string, message any) *redis.IntCmd
	}
)

type Config struct {
	Router       gin.IRouter
	EventBus     *event.Bus
	Exams        Exams
	Sessions     Sessions
	History      History
	Eligibility  Eligibility
	Leaderboard  Leaderboard
	Redis        Redis
	PubsubPrefix string
	JWTSecret    string
}

type API struct {
	exams       Exams
	sessions    Sessions
	history     History
	eligibility Eligibility
	leaderboard Leaderboard

	redis  Redis
	prefix string
}

func New(c Config) *API {
	a := &API{
		exams:       c.Exams,
		sessions:    c.Sessions,
		history:     c.History,
		eligibility: c.Eligibility,
		leaderboard: c.Leaderboard,
		redis:       c.Redis,
		prefix:      c.PubsubPrefix,
	}

	// HTTP APIs
	v1 := c.Router.Group("/v1", authenticate([]byte(c.JWTSecret)))
	{
		authoring := requireRole(RoleAuthor, RoleAdmin)
		v1.PUT("/exams/:examID", authoring, a.SaveExam)
		v1.GET("/exams/:examID", authoring, a.GetExam)

		v1.POST("/exams/:examID/sessions", a.StartSession)
		v1.GET("/exams/:examID/leaderboard", a.GetLeaderboard)

		v1.GET("/exams/:examID/users/:userID/attempts", a.ListAttempts)
		v1.GET("/exams/:examID/users/:userID/eligibility", a.GetEligibility)
		v1.GET("/exams/:examID/users/:userID/certificate", a.GetCertificate)

		v1.GET("/sessions/:sessionID", a.GetSession)
		v1.PUT("/sessions/:sessionID/answers/:index", a.SelectAnswer)
		v1.POST("/sessions/:sessionID/goto", a.GoTo)
		v1.POST("/sessions/:sessionID/submit", a.Submit)
	}

	// Register event handlers
	c.EventBus.Subscribe(domain.EventNameAttemptSubmitted, func(ctx context.Context, e event.Event) error {
		return a.PublishAttemptSubmitted(ctx, e.(domain.EventAttemptSubmitted))
	})
	c.EventBus.Subscribe(domain.EventNameLeaderboardUpdated, func(ctx context.Context, e event.Event) error {
		return a.PublishLeaderboardUpdated(ctx, e.(domain.EventLeaderboardUpdated))
	})

	return a
}

// SaveExam stores the full definition sent by an author, correct answers included.
func (a *API) SaveExam(c *gin.Context) {
	var def domain.ExamDefinition
	if err := c.ShouldBindJSON(&def); err != nil {
		abort(c, badRequest(err))
		return
	}
	def.ExamID = c.Param("examID")

	saved, err := a.exams.SaveDefinition(c, def)
	if err != nil {
		abort(c, err)
		return
	}

	c.JSON(http.StatusOK, saved)
}

func (a *API) GetExam(c *gin.Context) {
	def, err := a.exams.LoadDefinition(c, c.Param("examID"))
	if err != nil {
		abort(c, err)
		return
	}

	c.JSON(http.StatusOK, def)
}

func (a *API) StartSession(c *gin.Context) {
	ss, err := a.sessions.StartSession(c, session.StartSessionRequest{
		ExamID: c.Param("examID"),
		UserID: identityOf(c).UserID,
	})
	if err != nil {
		abort(c, err)
		return
	}

	c.JSON(http.StatusCreated, newSessionView(ss))
}

func (a *API) GetSession(c *gin.Context) {
	ss, err := a.sessions.GetSession(c, session.GetSessionRequest{
		SessionID: c.Param("sessionID"),
		UserID:    identityOf(c).UserID,
	})
	if err != nil {
		abort(c, err)
		return
	}

	c.JSON(http.StatusOK, newSessionView(ss))
}

type selectAnswerRequest struct {
	OptionIndex *int `json:"optionIndex" binding:"required"`
}

func (a *API) SelectAnswer(c *gin.Context) {
	index, err := strconv.Atoi(c.Param("index"))
	if err != nil {
		abort(c, badRequest(err))
		return
	}

	var req selectAnswerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abort(c, badRequest(err))
		return
	}

	ss, err := a.sessions.SelectAnswer(c, session.SelectAnswerRequest{
		SessionID:     c.Param("sessionID"),
		UserID:        identityOf(c).UserID,
		QuestionIndex: index,
		OptionIndex:   *req.OptionIndex,
	})
	if err != nil {
		abort(c, err)
		return
	}

	c.JSON(http.StatusOK, newSessionView(ss))
}

type goToRequest struct {
	QuestionIndex *int `json:"questionIndex" binding:"required"`
}

func (a *API) GoTo(c *gin.Context) {
	var req goToRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abort(c, badRequest(err))
		return
	}

	ss, err := a.sessions.GoTo(c, session.GoToRequest{
		SessionID:     c.Param("sessionID"),
		UserID:        identityOf(c).UserID,
		QuestionIndex: *req.QuestionIndex,
	})
	if err != nil {
		abort(c, err)
		return
	}

	c.JSON(http.StatusOK, newSessionView(ss))
}

type submitRequest struct {
	Answers []int `json:"answers"`
}

// Submit ends the attempt. The body is optional; without answers the captured ones are scored.
func (a *API) Submit(c *gin.Context) {
	var req submitRequest
	if err := c.ShouldBindJSON(&req); err != nil && !stderrors.Is(err, io.EOF) {
		abort(c, badRequest(err))
		return
	}

	resp, err := a.sessions.Submit(c, session.SubmitRequest{
		SessionID: c.Param("sessionID"),
		UserID:    identityOf(c).UserID,
		Answers:   req.Answers,
	})
	if err != nil {
		abort(c, err)
		return
	}

	c.JSON(http.StatusOK, submitView{
		resultView:  newResultView(&resp.Result),
		Duplicate:   resp.Duplicate,
		PerQuestion: resp.PerQuestion,
	})
}

func (a *API) ListAttempts(c *gin.Context) {
	userID, ok := a.subject(c)
	if !ok {
		return
	}

	results, err := a.history.List(c, history.ListRequest{
		ExamID: c.Param("examID"),
		UserID: userID,
	})
	if err != nil {
		abort(c, err)
		return
	}

	views := make([]resultView, 0, len(results))
	for i := range results {
		views = append(views, newResultView(&results[i]))
	}

	c.JSON(http.StatusOK, gin.H{"attempts": views})
}

func (a *API) GetEligibility(c *gin.Context) {
	userID, ok := a.subject(c)
	if !ok {
		return
	}

	e, err := a.eligibility.GetEligibility(c, eligibility.GetEligibilityRequest{
		ExamID: c.Param("examID"),
		UserID: userID,
	})
	if err != nil {
		abort(c, err)
		return
	}

	v := eligibilityView{HasPassed: e.HasPassed}
	if e.BestResult != nil {
		r := newResultView(e.BestResult)
		v.BestResult = &r
	}

	c.JSON(http.StatusOK, v)
}

func (a *API) GetCertificate(c *gin.Context) {
	userID, ok := a.subject(c)
	if !ok {
		return
	}

	name := userID
	if id := identityOf(c); id.UserID == userID && id.Name != "" {
		name = id.Name
	}

	resp, err := a.eligibility.GetCertificate(c, eligibility.GetCertificateRequest{
		ExamID:      c.Param("examID"),
		UserID:      userID,
		DisplayName: name,
	})
	if err != nil {
		abort(c, err)
		return
	}

	if resp == nil {
		abort(c, errors.New(errors.CodeNotFound,
			errors.WithMessagef("no passed attempt: exam=%s, user=%s", c.Param("examID"), userID)))
		return
	}

	c.JSON(http.StatusOK, resp.Certificate)
}

func (a *API) GetLeaderboard(c *gin.Context) {
	var limit int
	if s := c.Query("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 1 {
			abort(c, errors.New(errors.CodeInvalidArgument, errors.WithMessagef("limit must be a positive integer")))
			return
		}
		limit = n
	}

	l, err := a.leaderboard.GetLeaderboard(c, leaderboard.GetLeaderboardRequest{
		ExamID: c.Param("examID"),
		Limit:  limit,
	})
	if err != nil {
		abort(c, err)
		return
	}

	c.JSON(http.StatusOK, newLeaderboardView(l))
}

// subject returns the user whose records are requested. Learners may only read their own.
func (a *API) subject(c *gin.Context) (string, bool) {
	userID, id := c.Param("userID"), identityOf(c)
	if userID != id.UserID && !id.authoring() {
		abort(c, errors.New(errors.CodePermissionDenied,
			errors.WithMessagef("records of another user: user=%s", userID)))
		return "", false
	}
	return userID, true
}

func badRequest(err error) *errors.Error {
	return errors.New(errors.CodeInvalidArgument, errors.WithMessagef("invalid request: %v", err), errors.WithCause(err))
}

func abort(c *gin.Context, err error) {
	e := errors.Convert(err)
	if e.Code == errors.CodeInternal {
		slog.ErrorContext(c, "api: request failed",
			"method", c.Request.Method,
			"path", c.FullPath(),
			"error", err,
		)
		e = errors.New(errors.CodeInternal)
	}

	c.AbortWithStatusJSON(e.HTTPStatusCode(), e)
}
