package devmirror

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"golang.org/x/crypto/bcrypt"

	"github.com/hazyhaar/devmirror/bridge"
	"github.com/hazyhaar/devmirror/interaction"
	"github.com/hazyhaar/devmirror/internal/safeurl"
	"github.com/hazyhaar/devmirror/internal/sink"
	"github.com/hazyhaar/devmirror/kit"
	"github.com/hazyhaar/devmirror/observability"
	"github.com/hazyhaar/devmirror/shield"
	"github.com/hazyhaar/devmirror/snapshot"
)

// Routes returns the control API. Per-device history commands go through
// the bus like any external control; captures and dev tools answer
// synchronously so callers get the file name or inspector URL back.
func (h *Host) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(shield.SecurityHeaders(shield.APIHeaders()))
	r.Use(shield.MaxBody(1 << 20))
	r.Use(requestContext)
	if h.cfg.HTTP.User != "" && h.cfg.HTTP.PasswordHash != "" {
		r.Use(basicAuth(h.cfg.HTTP.User, h.cfg.HTTP.PasswordHash))
	}
	r.Use(h.callLog)

	r.Get("/devices", h.handleDevices)
	r.Post("/navigate", h.handleNavigate)
	r.Route("/devices/{id}", func(r chi.Router) {
		r.Post("/screenshot", h.handleScreenshot)
		r.Post("/back", h.handleCommand(interaction.TopicNavigateBack))
		r.Post("/forward", h.handleCommand(interaction.TopicNavigateForward))
		r.Post("/reload", h.handleCommand(interaction.TopicNavigateReload))
		r.Post("/devtools", h.handleDevTools)
		r.Post("/click", h.handleClick)
	})
	r.Post("/scroll/{dir}", h.handleScroll)
	r.Get("/history", h.handleHistory)
	r.Get("/stats", h.handleStats)
	return r
}

func requestContext(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := kit.WithRequestID(r.Context(), middleware.GetReqID(r.Context()))
		ctx = kit.WithRemoteAddr(ctx, r.RemoteAddr)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// callLog logs each request through kit.Logging, so HTTP calls carry the
// same attributes as MCP tool calls. Responses of 400 and above log as
// failures.
func (h *Host) callLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		ep := kit.Logging(h.logger, r.Method+" "+r.URL.Path)(func(ctx context.Context, _ any) (any, error) {
			next.ServeHTTP(ww, r.WithContext(ctx))
			if code := ww.Status(); code >= http.StatusBadRequest {
				return nil, fmt.Errorf("status %d", code)
			}
			return nil, nil
		})
		_, _ = ep(r.Context(), nil)
	})
}

func basicAuth(user, hash string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			u, p, ok := r.BasicAuth()
			if !ok || u != user || bcrypt.CompareHashAndPassword([]byte(hash), []byte(p)) != nil {
				w.Header().Set("WWW-Authenticate", `Basic realm="devmirror"`)
				writeError(w, http.StatusUnauthorized, errors.New("unauthorized"))
				return
			}
			next.ServeHTTP(w, r.WithContext(kit.WithUser(r.Context(), u)))
		})
	}
}

func (h *Host) handleDevices(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.Devices())
}

func (h *Host) handleNavigate(w http.ResponseWriter, r *http.Request) {
	var req struct {
		URL string `json:"url"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.URL == "" {
		writeError(w, http.StatusBadRequest, errors.New("url required"))
		return
	}
	if err := h.Navigate(r.Context(), req.URL); err != nil {
		code := http.StatusBadGateway
		if errors.Is(err, safeurl.ErrUnsafeScheme) || errors.Is(err, safeurl.ErrNoHost) {
			code = http.StatusBadRequest
		}
		writeError(w, code, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"url": req.URL})
}

func (h *Host) handleScreenshot(w http.ResponseWriter, r *http.Request) {
	ctrl, err := h.Controller(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusNotFound, err)
		return
	}
	name, err := ctrl.Save(r.Context(), r.URL.Query().Get("mode"))
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"file_name": name})
}

func (h *Host) handleCommand(topic string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		if _, err := h.Controller(id); err != nil {
			writeError(w, http.StatusNotFound, err)
			return
		}
		if err := h.Command(r.Context(), topic, interaction.Command{DeviceID: id}); err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		writeJSON(w, http.StatusAccepted, map[string]string{"topic": topic, "device_id": id})
	}
}

func (h *Host) handleDevTools(w http.ResponseWriter, r *http.Request) {
	ctrl, err := h.Controller(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusNotFound, err)
		return
	}
	url, err := ctrl.ToggleDevTools(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"open": url != "", "url": url})
}

func (h *Host) handleClick(w http.ResponseWriter, r *http.Request) {
	var req struct {
		CSSPath string `json:"css_path"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.CSSPath == "" {
		writeError(w, http.StatusBadRequest, errors.New("css_path required"))
		return
	}
	id := chi.URLParam(r, "id")
	if err := h.Click(r.Context(), id, req.CSSPath); err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"device_id": id, "css_path": req.CSSPath})
}

func (h *Host) handleScroll(w http.ResponseWriter, r *http.Request) {
	var topic string
	switch chi.URLParam(r, "dir") {
	case "down":
		topic = interaction.TopicScrollDown
	case "up":
		topic = interaction.TopicScrollUp
	default:
		writeError(w, http.StatusBadRequest, errors.New("dir must be up or down"))
		return
	}
	cmd := interaction.Command{DeviceID: r.URL.Query().Get("device")}
	if err := h.Command(r.Context(), topic, cmd); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"topic": topic})
}

func (h *Host) handleHistory(w http.ResponseWriter, r *http.Request) {
	if h.journal == nil {
		writeError(w, http.StatusNotFound, errors.New("journal disabled"))
		return
	}
	f := observability.Filter{
		DeviceID: r.URL.Query().Get("device"),
		Status:   r.URL.Query().Get("status"),
		Limit:    queryInt(r, "limit", 50),
	}
	if s := r.URL.Query().Get("since"); s != "" {
		d, err := time.ParseDuration(s)
		if err != nil {
			writeError(w, http.StatusBadRequest, fmt.Errorf("since: %w", err))
			return
		}
		f.Since = time.Now().Add(-d)
	}
	entries, err := h.journal.History(r.Context(), f)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

func (h *Host) handleStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.Stats())
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, ErrUnknownDevice), errors.Is(err, bridge.ErrLocatorMiss):
		return http.StatusNotFound
	case errors.Is(err, snapshot.ErrBusy):
		return http.StatusConflict
	case errors.Is(err, snapshot.ErrCaptureFailure):
		return http.StatusBadGateway
	case errors.Is(err, sink.ErrPersistence):
		return http.StatusInternalServerError
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	}
	return http.StatusBadRequest
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, err error) {
	writeJSON(w, code, map[string]string{"error": err.Error()})
}

func queryInt(r *http.Request, key string, def int) int {
	s := r.URL.Query().Get(key)
	if s == "" {
		return def
	}
	n, err := strconv.Atoi(s)
	if err != nil || n <= 0 {
		return def
	}
	return n
}
