package api

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	"github.com/labstack/echo/v4"
	log "github.com/sirupsen/logrus"

	"taskmaster/domain"
	"taskmaster/parser"
	"taskmaster/progress"
	"taskmaster/suggest"
	"taskmaster/tasksync"
)

const (
	maxBodySize       = 64 << 10
	headerIdempotency = "Idempotency-Key"
)

// Register wires up all API routes on the provided Echo instance.
func Register(e *echo.Echo, d Deps) {
	if d.Log == nil {
		d.Log = log.StandardLogger()
	}
	if d.Now == nil {
		d.Now = time.Now
	}
	h := &handlers{d}

	e.GET("/api/tasks", h.authed("/api/tasks", h.listTasks))
	e.POST("/api/tasks", h.authed("/api/tasks", h.createTask))
	e.POST("/api/tasks/reload", h.authed("/api/tasks/reload", h.reloadTasks))
	e.POST("/api/tasks/:id/toggle", h.authed("/api/tasks/:id/toggle", h.toggleTask))
	e.PATCH("/api/tasks/:id", h.authed("/api/tasks/:id", h.updateTask))
	e.DELETE("/api/tasks/:id", h.authed("/api/tasks/:id", h.deleteTask))
	e.GET("/api/tasks/:id/suggestions", h.authed("/api/tasks/:id/suggestions", h.suggestions))
	e.GET("/api/stats", h.authed("/api/stats", h.stats))
	e.GET("/api/progress", h.authed("/api/progress", h.getProgress))
	e.GET("/api/progress/stream", h.progressStream)
	e.GET("/api/coaching", h.authed("/api/coaching", h.coaching))
	e.POST("/api/parse", h.authed("/api/parse", h.parse))
	e.GET("/healthz", healthz)
}

type handlers struct {
	Deps
}

// failure is returned by route functions to answer with a plain text error.
type failure struct {
	status int
	stage  string
	msg    string
	err    error
}

func (f *failure) Error() string {
	if f.err != nil {
		return f.msg + ": " + f.err.Error()
	}
	return f.msg
}

func fail(status int, stage, msg string, err error) error {
	return &failure{status: status, stage: stage, msg: msg, err: err}
}

type routeFunc func(c echo.Context, ctx context.Context, userID string, m *requestMetrics) error

// authed resolves the caller and records request metrics around fn.
func (h *handlers) authed(route string, fn routeFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		metrics, ctx := newRequestMetrics(c.Request().Context(), h.Log, route)
		c.SetRequest(c.Request().WithContext(ctx))

		var cause error
		defer func() {
			metrics.Log(c.Response().Status, cause)
		}()

		userID, authErr := h.Auth.UserIDFromAuthHeader(c.Request().Header.Get(echo.HeaderAuthorization))
		if authErr != nil {
			metrics.SetErrorStage("auth")
			return c.String(http.StatusUnauthorized, authErr.Error())
		}

		err := fn(c, ctx, userID, metrics)
		if err == nil {
			return nil
		}
		var f *failure
		if !errors.As(err, &f) {
			f = &failure{status: http.StatusInternalServerError, stage: "internal", msg: "internal error", err: err}
		}
		metrics.SetErrorStage(f.stage)
		cause = f.err
		if f.status >= http.StatusInternalServerError && f.err != nil {
			h.Log.WithFields(log.Fields{"user": userID, "route": route, "error": f.err}).Error(f.msg)
		}
		return c.String(f.status, f.msg)
	}
}

func healthz(c echo.Context) error {
	return c.String(http.StatusOK, "ok")
}

type tasksResponse struct {
	Tasks []domain.Task `json:"tasks"`
	Stats domain.Stats  `json:"stats"`
}

func (h *handlers) listTasks(c echo.Context, ctx context.Context, userID string, m *requestMetrics) error {
	s := h.Tasks.For(ctx, userID)
	mode := domain.FilterMode(strings.ToLower(c.QueryParam("filter")))
	tasks := s.Filtered(mode, c.QueryParam("q"))
	if c.QueryParam("sort") == "smart" {
		tasks = suggest.SmartSort(tasks, h.Now())
	}
	m.Set("tasks.returned", len(tasks))
	return c.JSON(http.StatusOK, tasksResponse{Tasks: tasks, Stats: s.Stats()})
}

func (h *handlers) reloadTasks(c echo.Context, ctx context.Context, userID string, m *requestMetrics) error {
	s := h.Tasks.For(ctx, userID)
	s.Load(ctx)
	tasks := s.Tasks()
	m.Set("tasks.returned", len(tasks))
	return c.JSON(http.StatusOK, tasksResponse{Tasks: tasks, Stats: s.Stats()})
}

type createRequest struct {
	Text string `json:"text"`
}

func (h *handlers) createTask(c echo.Context, ctx context.Context, userID string, m *requestMetrics) error {
	var req createRequest
	if err := decodeBody(c, &req); err != nil {
		return fail(http.StatusBadRequest, "decode", "invalid body", err)
	}
	if strings.TrimSpace(req.Text) == "" {
		return fail(http.StatusBadRequest, "validate", "text is required", nil)
	}

	key := strings.TrimSpace(c.Request().Header.Get(headerIdempotency))
	if key != "" && h.Deduper != nil {
		m.Set("idempotency_key", true)
		added, err := h.Deduper.Add(ctx, userID, key)
		if err != nil {
			return fail(http.StatusServiceUnavailable, "deduper", "idempotency check failed", err)
		}
		if !added {
			return fail(http.StatusConflict, "duplicate", "duplicate request", nil)
		}
	}

	task, ok := h.Tasks.For(ctx, userID).Create(ctx, req.Text)
	if !ok {
		if key != "" && h.Deduper != nil {
			if err := h.Deduper.Remove(context.WithoutCancel(ctx), userID, key); err != nil {
				h.Log.WithFields(log.Fields{"user": userID, "error": err}).Warn("failed to release idempotency key")
			}
		}
		return fail(http.StatusBadGateway, "remote", "task could not be saved", nil)
	}
	return c.JSON(http.StatusCreated, task)
}

func (h *handlers) toggleTask(c echo.Context, ctx context.Context, userID string, m *requestMetrics) error {
	s := h.Tasks.For(ctx, userID)
	id := c.Param("id")
	before, ok := s.Get(id)
	if !ok {
		return fail(http.StatusNotFound, "lookup", tasksync.ErrTaskNotFound.Error(), nil)
	}
	task, err := s.Toggle(ctx, id)
	if err != nil {
		return syncFailure(err)
	}
	if task.Completed == before.Completed {
		return fail(http.StatusBadGateway, "remote", "toggle could not be saved", nil)
	}
	m.Set("task.completed", task.Completed)
	return c.JSON(http.StatusOK, task)
}

func (h *handlers) updateTask(c echo.Context, ctx context.Context, userID string, _ *requestMetrics) error {
	var fields domain.TaskFields
	if err := decodeBody(c, &fields); err != nil {
		return fail(http.StatusBadRequest, "decode", "invalid body", err)
	}
	if fields.Priority != nil && !fields.Priority.Valid() {
		return fail(http.StatusBadRequest, "validate", "invalid priority", nil)
	}
	task, err := h.Tasks.For(ctx, userID).Update(ctx, c.Param("id"), fields)
	if err != nil {
		return syncFailure(err)
	}
	if !fields.Reflected(task) {
		return fail(http.StatusBadGateway, "remote", "update could not be saved", nil)
	}
	return c.JSON(http.StatusOK, task)
}

func (h *handlers) deleteTask(c echo.Context, ctx context.Context, userID string, _ *requestMetrics) error {
	s := h.Tasks.For(ctx, userID)
	id := c.Param("id")
	if err := s.Delete(ctx, id); err != nil {
		return syncFailure(err)
	}
	if _, restored := s.Get(id); restored {
		return fail(http.StatusBadGateway, "remote", "delete could not be saved", nil)
	}
	return c.NoContent(http.StatusNoContent)
}

type statsResponse struct {
	domain.Stats
	Active   int               `json:"active"`
	Warnings []suggest.Warning `json:"warnings"`
}

func (h *handlers) stats(c echo.Context, ctx context.Context, userID string, m *requestMetrics) error {
	tasks := h.Tasks.For(ctx, userID).Tasks()
	st := tasksync.StatsOf(tasks)
	warnings := suggest.DetectProcrastination(tasks, h.Now())
	m.Set("warnings", len(warnings))
	return c.JSON(http.StatusOK, statsResponse{Stats: st, Active: st.Total - st.Completed, Warnings: warnings})
}

type achievementView struct {
	progress.Achievement
	Unlocked bool `json:"unlocked"`
}

type progressResponse struct {
	domain.UserStats
	Level        progress.LevelProgress `json:"level"`
	Achievements []achievementView      `json:"achievementCatalogue"`
}

func (h *handlers) getProgress(c echo.Context, ctx context.Context, userID string, _ *requestMetrics) error {
	if h.Progress == nil {
		return fail(http.StatusNotImplemented, "config", "progress is not configured", nil)
	}
	st, err := h.Progress.Stats(ctx, userID)
	if err != nil {
		return fail(http.StatusInternalServerError, "storage", "failed to load progress", err)
	}
	return c.JSON(http.StatusOK, progressView(st))
}

func progressView(st domain.UserStats) progressResponse {
	have := make(map[string]bool, len(st.Achievements))
	for _, id := range st.Achievements {
		have[id] = true
	}
	views := make([]achievementView, len(progress.Achievements))
	for i, a := range progress.Achievements {
		views[i] = achievementView{Achievement: a, Unlocked: have[a.ID]}
	}
	return progressResponse{UserStats: st, Level: progress.Progress(st.TotalXP), Achievements: views}
}

func (h *handlers) suggestions(c echo.Context, ctx context.Context, userID string, m *requestMetrics) error {
	if h.Advisor == nil {
		return fail(http.StatusNotImplemented, "config", "suggestions are not configured", nil)
	}
	task, ok := h.Tasks.For(ctx, userID).Get(c.Param("id"))
	if !ok {
		return fail(http.StatusNotFound, "lookup", tasksync.ErrTaskNotFound.Error(), nil)
	}
	s := h.Advisor.For(ctx, task)
	m.Set("suggestions.source", s.Source)
	return c.JSON(http.StatusOK, s)
}

type coachingResponse struct {
	Tip       string   `json:"tip"`
	FollowUps []string `json:"followUps"`
}

func (h *handlers) coaching(c echo.Context, ctx context.Context, userID string, _ *requestMetrics) error {
	if h.Advisor == nil {
		return fail(http.StatusNotImplemented, "config", "suggestions are not configured", nil)
	}
	tasks := h.Tasks.For(ctx, userID).Tasks()
	recent := make([]domain.Task, 0, len(tasks))
	for _, t := range tasks {
		if t.Completed {
			recent = append(recent, t)
		}
	}
	return c.JSON(http.StatusOK, coachingResponse{
		Tip:       h.Advisor.Coaching(ctx, tasks),
		FollowUps: h.Advisor.FollowUps(ctx, recent),
	})
}

type parseResponse struct {
	Title    string          `json:"title"`
	DueDate  *time.Time      `json:"dueDate"`
	Priority domain.Priority `json:"priority"`
	Tags     []string        `json:"tags"`
}

func (h *handlers) parse(c echo.Context, _ context.Context, _ string, _ *requestMetrics) error {
	var req createRequest
	if err := decodeBody(c, &req); err != nil {
		return fail(http.StatusBadRequest, "decode", "invalid body", err)
	}
	p := parser.Parse(req.Text, h.Now())
	tags := p.Tags
	if tags == nil {
		tags = []string{}
	}
	return c.JSON(http.StatusOK, parseResponse{Title: p.Title, DueDate: p.DueDate, Priority: p.Priority, Tags: tags})
}

func syncFailure(err error) error {
	switch {
	case errors.Is(err, tasksync.ErrTaskNotFound):
		return fail(http.StatusNotFound, "lookup", err.Error(), nil)
	case errors.Is(err, tasksync.ErrTaskPending):
		return fail(http.StatusConflict, "pending", err.Error(), nil)
	case errors.Is(err, tasksync.ErrInvalidTitle):
		return fail(http.StatusBadRequest, "validate", err.Error(), nil)
	}
	return fail(http.StatusInternalServerError, "sync", "operation failed", err)
}

func decodeBody(c echo.Context, dst any) error {
	dec := sonic.ConfigStd.NewDecoder(io.LimitReader(c.Request().Body, maxBodySize))
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}
