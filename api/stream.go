package api

import (
	"net/http"
	"time"

	"github.com/bytedance/sonic"
	"github.com/labstack/echo/v4"
	log "github.com/sirupsen/logrus"
)

const heartbeatInterval = 25 * time.Second

// progressStream pushes the caller's progression record as server-sent
// events: the current record first, then every published update. Browsers
// cannot set headers on EventSource so the token may come as a query param.
func (h *handlers) progressStream(c echo.Context) error {
	authz := c.Request().Header.Get(echo.HeaderAuthorization)
	if token := c.QueryParam("token"); authz == "" && token != "" {
		authz = "Bearer " + token
	}
	userID, err := h.Auth.UserIDFromAuthHeader(authz)
	if err != nil {
		return c.String(http.StatusUnauthorized, err.Error())
	}
	if h.Feed == nil {
		return c.String(http.StatusNotImplemented, "progress stream is not configured")
	}

	resp := c.Response()
	flusher, ok := resp.Writer.(http.Flusher)
	if !ok {
		return c.String(http.StatusInternalServerError, "stream unsupported")
	}
	resp.Header().Set(echo.HeaderContentType, "text/event-stream")
	resp.Header().Set(echo.HeaderCacheControl, "no-cache")
	resp.Header().Set(echo.HeaderConnection, "keep-alive")
	resp.Header().Set("X-Accel-Buffering", "no")
	resp.WriteHeader(http.StatusOK)
	flusher.Flush()

	ctx := c.Request().Context()
	entry := h.Log.WithField("user", userID)
	updates := h.Feed(ctx, userID)

	if h.Progress != nil {
		if st, err := h.Progress.Stats(ctx, userID); err == nil {
			if !writeEvent(resp, progressView(st), entry) {
				return nil
			}
			flusher.Flush()
		} else {
			entry.WithError(err).Warn("initial progress snapshot failed")
		}
	}

	heartbeat := time.NewTicker(heartbeatInterval)
	defer heartbeat.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-heartbeat.C:
			if _, err := resp.Write([]byte(": ping\n\n")); err != nil {
				return nil
			}
		case st, ok := <-updates:
			if !ok {
				return nil
			}
			if !writeEvent(resp, progressView(st), entry) {
				return nil
			}
		}
		flusher.Flush()
	}
}

func writeEvent(w http.ResponseWriter, v any, entry *log.Entry) bool {
	data, err := sonic.Marshal(v)
	if err != nil {
		entry.WithError(err).Error("encode progress event")
		return true
	}
	buf := make([]byte, 0, len(data)+8)
	buf = append(buf, "data: "...)
	buf = append(buf, data...)
	buf = append(buf, "\n\n"...)
	_, err = w.Write(buf)
	return err == nil
}
