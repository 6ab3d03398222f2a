package app

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	log "github.com/sirupsen/logrus"

	"jobboard/api/internal/auth"
	"jobboard/api/internal/rbac"
)

const sessionKey = "session"

type HTTPServer struct {
	service    *Service
	corsOrigin string
	echo       *echo.Echo
}

func NewHTTPServer(service *Service, corsOrigin string) *HTTPServer {
	if strings.TrimSpace(corsOrigin) == "" {
		corsOrigin = "*"
	}
	s := &HTTPServer{service: service, corsOrigin: corsOrigin}
	s.echo = s.routes()
	return s
}

func (s *HTTPServer) Handler() http.Handler {
	return s.echo
}

func (s *HTTPServer) routes() *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = s.handleError

	e.Use(s.requestLog)
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins:  []string{s.corsOrigin},
		AllowHeaders:  []string{echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAccept, echo.HeaderAuthorization, echo.HeaderXRequestID},
		AllowMethods:  []string{http.MethodGet, http.MethodHead, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodOptions},
		ExposeHeaders: []string{echo.HeaderXRequestID},
	}))

	e.GET("/api/health", s.health)
	e.HEAD("/api/health", s.health)
	e.GET("/api/ready", s.ready)
	e.HEAD("/api/ready", s.ready)
	e.POST("/api/session/login", s.login)

	api := e.Group("/api", s.requireSession)
	api.GET("/session", s.currentSession)
	api.GET("/columns", s.listColumns)
	api.GET("/board", s.allActive)
	api.GET("/columns/:columnId/items", s.columnItems)
	api.GET("/statuses/:status/items", s.statusItems)
	api.POST("/statuses/:status/rebalance", s.rebalance)
	api.POST("/items", s.createItem)
	api.POST("/items/search", s.advancedSearch)
	api.GET("/items/:id", s.getItem)
	api.PATCH("/items/:id", s.updateItem)
	api.POST("/items/:id/reorder", s.reorder)
	api.PUT("/items/:id/status", s.setStatus)
	api.GET("/items/:id/events", s.listEvents)
	api.GET("/items/:id/attachments", s.listAttachments)
	api.POST("/items/:id/attachments", s.uploadAttachment, middleware.BodyLimit("25M"))
	api.GET("/items/:id/attachments/:attachmentId", s.downloadAttachment)
	api.GET("/search", s.quickSearch)
	return e
}

// handleError renders every failure in the {code, error, details} envelope.
func (s *HTTPServer) handleError(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}

	var status int
	var code, message string
	var details any

	var httpErr *echo.HTTPError
	if errors.As(err, &httpErr) {
		status = httpErr.Code
		code = httpErrorCode(status)
		message = http.StatusText(status)
		if text, ok := httpErr.Message.(string); ok && text != "" {
			message = text
		}
	} else {
		status, code, message, details = mapError(err)
	}

	if status >= http.StatusInternalServerError {
		log.WithError(err).WithFields(log.Fields{
			"request_id": c.Response().Header().Get(echo.HeaderXRequestID),
			"path":       c.Request().URL.Path,
		}).Error("request failed")
	}
	if err := writeError(c, status, code, message, details); err != nil {
		log.WithError(err).Warn("failed to write error response")
	}
}

func httpErrorCode(status int) string {
	switch status {
	case http.StatusNotFound:
		return codeNotFound
	case http.StatusUnauthorized:
		return codeUnauthorized
	case http.StatusForbidden:
		return codeForbidden
	case http.StatusRequestEntityTooLarge:
		return "PAYLOAD_TOO_LARGE"
	case http.StatusMethodNotAllowed:
		return "METHOD_NOT_ALLOWED"
	case http.StatusBadRequest:
		return "BAD_REQUEST"
	default:
		return codeServerError
	}
}

func writeError(c echo.Context, status int, code, message string, details any) error {
	payload := map[string]any{
		"code":  code,
		"error": message,
	}
	if details != nil {
		payload["details"] = details
	}
	if c.Request().Method == http.MethodHead {
		return c.NoContent(status)
	}
	return c.JSON(status, payload)
}

func (s *HTTPServer) requestLog(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		requestID := c.Request().Header.Get(echo.HeaderXRequestID)
		if requestID == "" {
			requestID = uuid.NewString()
		}
		c.Response().Header().Set(echo.HeaderXRequestID, requestID)

		started := time.Now()
		err := next(c)
		if err != nil {
			c.Error(err)
		}

		log.WithFields(log.Fields{
			"request_id":  requestID,
			"method":      c.Request().Method,
			"path":        c.Request().URL.Path,
			"status":      c.Response().Status,
			"duration_ms": time.Since(started).Milliseconds(),
		}).Info("request")
		return nil
	}
}

func (s *HTTPServer) requireSession(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		token, ok := auth.BearerToken(c.Request().Header.Get(echo.HeaderAuthorization))
		if !ok {
			return domainError(http.StatusUnauthorized, codeUnauthorized, "missing bearer token", nil)
		}
		session, err := s.service.SessionFromToken(token)
		if err != nil {
			return err
		}
		c.Set(sessionKey, session)
		return next(c)
	}
}

// authorize returns the caller's session if their role allows action.
func authorize(c echo.Context, action rbac.Action) (Session, error) {
	session, ok := c.Get(sessionKey).(Session)
	if !ok {
		return Session{}, domainError(http.StatusUnauthorized, codeUnauthorized, "missing session", nil)
	}
	if !rbac.Can(session.Role, action) {
		return Session{}, domainError(http.StatusForbidden, codeForbidden, "your role cannot perform this action", map[string]string{
			"role":   string(session.Role),
			"action": string(action),
		})
	}
	return session, nil
}

func decodeBody(c echo.Context, dst any) error {
	if err := c.Bind(dst); err != nil {
		return invalidInput("invalid JSON body", nil)
	}
	return nil
}

// intParam reads an optional non-negative integer query parameter.
func intParam(c echo.Context, name string) (int, error) {
	raw := strings.TrimSpace(c.QueryParam(name))
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, invalidInput(name+" must be a non-negative integer", map[string]string{"value": raw})
	}
	return n, nil
}

func boolParam(c echo.Context, name string) bool {
	v, err := strconv.ParseBool(c.QueryParam(name))
	return err == nil && v
}

func (s *HTTPServer) health(c echo.Context) error {
	if c.Request().Method == http.MethodHead {
		return c.NoContent(http.StatusOK)
	}
	return c.JSON(http.StatusOK, map[string]any{"ok": true})
}

func (s *HTTPServer) ready(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	status := "ready"
	statusCode := http.StatusOK
	checks := map[string]any{}
	for name, err := range s.service.Readiness(ctx) {
		if err != nil {
			status = "not_ready"
			statusCode = http.StatusServiceUnavailable
			checks[name] = map[string]any{"status": "error", "error": err.Error()}
			continue
		}
		checks[name] = map[string]any{"status": "ok"}
	}

	if c.Request().Method == http.MethodHead {
		return c.NoContent(statusCode)
	}
	return c.JSON(statusCode, map[string]any{
		"ok":     status == "ready",
		"status": status,
		"checks": checks,
	})
}

func (s *HTTPServer) login(c echo.Context) error {
	var body struct {
		Name string `json:"name"`
	}
	if err := decodeBody(c, &body); err != nil {
		return err
	}
	session, err := s.service.Login(c.Request().Context(), body.Name)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]any{
		"token":     session.Token,
		"expiresAt": session.ExpiresAt,
		"user":      sessionUser(session),
	})
}

func (s *HTTPServer) currentSession(c echo.Context) error {
	session, err := authorize(c, rbac.ActionRead)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]any{
		"expiresAt": session.ExpiresAt,
		"user":      sessionUser(session),
	})
}

func sessionUser(session Session) map[string]any {
	return map[string]any{
		"id":   session.UserID,
		"name": session.UserName,
		"role": session.Role,
	}
}

func (s *HTTPServer) listColumns(c echo.Context) error {
	if _, err := authorize(c, rbac.ActionRead); err != nil {
		return err
	}
	columns, err := s.service.ListColumns(c.Request().Context(), boolParam(c, "includeHidden"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]any{"columns": columns})
}

func (s *HTTPServer) allActive(c echo.Context) error {
	if _, err := authorize(c, rbac.ActionRead); err != nil {
		return err
	}
	items, err := s.service.AllActive(c.Request().Context())
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]any{"items": items})
}

func (s *HTTPServer) columnItems(c echo.Context) error {
	if _, err := authorize(c, rbac.ActionRead); err != nil {
		return err
	}
	maxItems, err := intParam(c, "max")
	if err != nil {
		return err
	}
	items, err := s.service.QueryByColumn(c.Request().Context(), c.Param("columnId"), maxItems, c.QueryParam("q"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]any{"items": items})
}

func (s *HTTPServer) statusItems(c echo.Context) error {
	if _, err := authorize(c, rbac.ActionRead); err != nil {
		return err
	}
	limit, err := intParam(c, "limit")
	if err != nil {
		return err
	}
	items, err := s.service.QueryByStatus(c.Request().Context(), c.Param("status"), c.QueryParam("q"), limit)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]any{"items": items})
}

func (s *HTTPServer) rebalance(c echo.Context) error {
	if _, err := authorize(c, rbac.ActionRebalance); err != nil {
		return err
	}
	moved, err := s.service.Rebalance(c.Request().Context(), c.Param("status"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]any{"ok": true, "moved": moved})
}

func (s *HTTPServer) createItem(c echo.Context) error {
	session, err := authorize(c, rbac.ActionEdit)
	if err != nil {
		return err
	}
	var input CreateItemInput
	if err := decodeBody(c, &input); err != nil {
		return err
	}
	item, err := s.service.CreateItem(c.Request().Context(), session, input)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, map[string]any{"item": item})
}

func (s *HTTPServer) getItem(c echo.Context) error {
	if _, err := authorize(c, rbac.ActionRead); err != nil {
		return err
	}
	item, err := s.service.GetItem(c.Request().Context(), c.Param("id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]any{"item": item})
}

func (s *HTTPServer) updateItem(c echo.Context) error {
	session, err := authorize(c, rbac.ActionEdit)
	if err != nil {
		return err
	}
	var input UpdateItemInput
	if err := decodeBody(c, &input); err != nil {
		return err
	}
	item, err := s.service.UpdateItem(c.Request().Context(), session, c.Param("id"), input)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]any{"item": item})
}

func (s *HTTPServer) reorder(c echo.Context) error {
	session, err := authorize(c, rbac.ActionMove)
	if err != nil {
		return err
	}
	var input ReorderInput
	if err := decodeBody(c, &input); err != nil {
		return err
	}
	item, err := s.service.Reorder(c.Request().Context(), session, c.Param("id"), input)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]any{"item": item})
}

func (s *HTTPServer) setStatus(c echo.Context) error {
	session, err := authorize(c, rbac.ActionMove)
	if err != nil {
		return err
	}
	var body struct {
		Status string `json:"status"`
	}
	if err := decodeBody(c, &body); err != nil {
		return err
	}
	item, err := s.service.SetStatus(c.Request().Context(), session, c.Param("id"), body.Status)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]any{"item": item})
}

func (s *HTTPServer) listEvents(c echo.Context) error {
	if _, err := authorize(c, rbac.ActionRead); err != nil {
		return err
	}
	events, err := s.service.ListEvents(c.Request().Context(), c.Param("id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]any{"events": events})
}

func (s *HTTPServer) advancedSearch(c echo.Context) error {
	if _, err := authorize(c, rbac.ActionRead); err != nil {
		return err
	}
	var input AdvancedSearchInput
	if err := decodeBody(c, &input); err != nil {
		return err
	}
	items, err := s.service.AdvancedSearch(c.Request().Context(), input)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]any{"items": items})
}

func (s *HTTPServer) quickSearch(c echo.Context) error {
	if _, err := authorize(c, rbac.ActionRead); err != nil {
		return err
	}
	limit, err := intParam(c, "limit")
	if err != nil {
		return err
	}
	offset, err := intParam(c, "offset")
	if err != nil {
		return err
	}
	response := s.service.QuickSearch(c.Request().Context(), c.QueryParam("q"), boolParam(c, "includeHidden"), limit, offset)
	return c.JSON(http.StatusOK, response)
}

func (s *HTTPServer) listAttachments(c echo.Context) error {
	if _, err := authorize(c, rbac.ActionRead); err != nil {
		return err
	}
	attachments, err := s.service.ListAttachments(c.Request().Context(), c.Param("id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]any{"attachments": attachments})
}

func (s *HTTPServer) uploadAttachment(c echo.Context) error {
	session, err := authorize(c, rbac.ActionAttach)
	if err != nil {
		return err
	}
	header, err := c.FormFile("file")
	if err != nil {
		return invalidInput("multipart field \"file\" is required", nil)
	}
	file, err := header.Open()
	if err != nil {
		return invalidInput("could not read uploaded file", nil)
	}
	defer file.Close()

	attachment, err := s.service.UploadAttachment(
		c.Request().Context(), session, c.Param("id"),
		header.Filename, header.Header.Get(echo.HeaderContentType), header.Size, file,
	)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, map[string]any{"attachment": attachment})
}

func (s *HTTPServer) downloadAttachment(c echo.Context) error {
	if _, err := authorize(c, rbac.ActionRead); err != nil {
		return err
	}
	url, err := s.service.AttachmentURL(c.Request().Context(), c.Param("id"), c.Param("attachmentId"))
	if err != nil {
		return err
	}
	return c.Redirect(http.StatusFound, url)
}
