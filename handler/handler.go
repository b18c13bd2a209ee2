// Package handler adapts API Gateway proxy events to the chat, history,
// personal history and health services.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/google/uuid"

	"campus-assistant/internal/domain"
	"campus-assistant/internal/logger"
	"campus-assistant/internal/usecase"
)

const correlationHeader = "X-Correlation-Id"

const (
	routeChat            = "/chats/{thread_id}"
	routePersonalHistory = "/chats/personal-history/{user_id}"
	routeHealth          = "/health"
)

type chatService interface {
	RunTurn(ctx context.Context, in usecase.TurnInput) (usecase.TurnOutput, error)
}

type historyService interface {
	GetHistory(ctx context.Context, threadID string, maxMessages int) (domain.History, error)
}

type recentService interface {
	List(ctx context.Context, userID string) ([]domain.RecencyEntry, error)
}

type healthService interface {
	Check(ctx context.Context) error
}

// Services groups the use cases served over HTTP.
type Services struct {
	Chat    chatService
	History historyService
	Recent  recentService
	Health  healthService
}

type Handler struct {
	svc Services
	log *logger.Logger
}

func NewHandler(svc Services, log *logger.Logger) (*Handler, error) {
	if svc.Chat == nil || svc.History == nil || svc.Recent == nil || svc.Health == nil {
		return nil, errors.New("handler: all services are required")
	}
	if log == nil {
		log = logger.Nop()
	}
	return &Handler{svc: svc, log: log}, nil
}

type chatRequest struct {
	UserMessage string `json:"user_message"`
	User        string `json:"user"`
}

type chatResponse struct {
	ThreadID      string `json:"thread_id"`
	UserMessage   string `json:"user_message"`
	ModelResponse string `json:"model_response"`
}

type personalHistoryResponse struct {
	UserID          string                `json:"user_id"`
	PersonalHistory []domain.RecencyEntry `json:"personal_history"`
}

type healthResponse struct {
	Status string `json:"status"`
}

type errorResponse struct {
	Error  string `json:"error"`
	Reason string `json:"reason,omitempty"`
}

// Handle routes on the API Gateway resource template. Every response carries
// the caller's correlation id, or a fresh one.
func (h *Handler) Handle(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	correlationID := headerValue(req.Headers, correlationHeader)
	if correlationID == "" {
		correlationID = uuid.NewString()
	}
	log := h.log.With("correlation_id", correlationID)
	start := time.Now()

	route, param := routeOf(req)
	var (
		status int
		body   any
	)
	switch {
	case route == routeHealth && req.HTTPMethod == http.MethodGet:
		status, body = h.health(ctx)
	case route == routePersonalHistory && req.HTTPMethod == http.MethodGet:
		status, body = h.personalHistory(ctx, param)
	case route == routeChat && req.HTTPMethod == http.MethodPost:
		status, body = h.chat(ctx, param, req.Body)
	case route == routeChat && req.HTTPMethod == http.MethodGet:
		status, body = h.history(ctx, param, req.QueryStringParameters["max_messages"])
	case route == "":
		status, body = http.StatusNotFound, errorResponse{Error: "NOT_FOUND"}
	default:
		status, body = http.StatusMethodNotAllowed, errorResponse{Error: "METHOD_NOT_ALLOWED"}
	}

	if errBody, ok := body.(errorResponse); ok && status >= http.StatusInternalServerError {
		log.Error("request failed", "route", route, "status", status, "code", errBody.Error, "reason", errBody.Reason)
	} else {
		log.Info("request handled", "route", route, "method", req.HTTPMethod, "status", status, "duration_ms", time.Since(start).Milliseconds())
	}
	return respond(status, body, correlationID), nil
}

func (h *Handler) chat(ctx context.Context, threadID, raw string) (int, any) {
	var in chatRequest
	if err := json.Unmarshal([]byte(raw), &in); err != nil {
		return http.StatusBadRequest, errorResponse{Error: string(usecase.ErrorInvalidInput), Reason: "invalid_body"}
	}

	out, err := h.svc.Chat.RunTurn(ctx, usecase.TurnInput{ThreadID: threadID, UserID: in.User, Message: in.UserMessage})
	if err != nil {
		return errorStatus(err)
	}
	return http.StatusOK, chatResponse{
		ThreadID:      out.ThreadID,
		UserMessage:   in.UserMessage,
		ModelResponse: out.Reply.Content,
	}
}

func (h *Handler) history(ctx context.Context, threadID, rawMax string) (int, any) {
	maxMessages := 0
	if rawMax != "" {
		n, err := strconv.Atoi(rawMax)
		if err != nil || n < 0 {
			return http.StatusBadRequest, errorResponse{Error: string(usecase.ErrorInvalidInput), Reason: "invalid_max_messages"}
		}
		maxMessages = n
	}

	out, err := h.svc.History.GetHistory(ctx, threadID, maxMessages)
	if err != nil {
		return errorStatus(err)
	}
	return http.StatusOK, out
}

func (h *Handler) personalHistory(ctx context.Context, userID string) (int, any) {
	entries, err := h.svc.Recent.List(ctx, userID)
	if err != nil {
		return errorStatus(err)
	}
	return http.StatusOK, personalHistoryResponse{UserID: userID, PersonalHistory: entries}
}

func (h *Handler) health(ctx context.Context) (int, any) {
	if err := h.svc.Health.Check(ctx); err != nil {
		status, body := errorStatus(err)
		if status == http.StatusServiceUnavailable {
			return status, healthResponse{Status: "unavailable"}
		}
		return status, body
	}
	return http.StatusOK, healthResponse{Status: "ok"}
}

// routeOf returns the resource template and its single path parameter. Raw
// paths are matched when the event carries no resource.
func routeOf(req events.APIGatewayProxyRequest) (string, string) {
	switch req.Resource {
	case routeChat:
		return routeChat, req.PathParameters["thread_id"]
	case routePersonalHistory:
		return routePersonalHistory, req.PathParameters["user_id"]
	case routeHealth:
		return routeHealth, ""
	case "":
	default:
		return "", ""
	}

	path := strings.TrimRight(req.Path, "/")
	switch {
	case path == routeHealth:
		return routeHealth, ""
	case path == "/chats/personal-history":
		return "", ""
	case strings.HasPrefix(path, "/chats/personal-history/"):
		return routePersonalHistory, strings.TrimPrefix(path, "/chats/personal-history/")
	case strings.HasPrefix(path, "/chats/") && !strings.Contains(strings.TrimPrefix(path, "/chats/"), "/"):
		return routeChat, strings.TrimPrefix(path, "/chats/")
	default:
		return "", ""
	}
}

func errorStatus(err error) (int, errorResponse) {
	var ucErr *usecase.Error
	if !errors.As(err, &ucErr) {
		return http.StatusInternalServerError, errorResponse{Error: string(usecase.ErrorInternal)}
	}

	body := errorResponse{Error: string(ucErr.Code), Reason: ucErr.Reason}
	switch ucErr.Code {
	case usecase.ErrorInvalidInput, usecase.ErrorInvalidQuestion:
		return http.StatusBadRequest, body
	case usecase.ErrorRateLimited:
		return http.StatusTooManyRequests, body
	case usecase.ErrorUpstream:
		return http.StatusBadGateway, body
	case usecase.ErrorStoreUnavailable:
		return http.StatusServiceUnavailable, body
	case usecase.ErrorConflict:
		return http.StatusConflict, body
	default:
		return http.StatusInternalServerError, body
	}
}

func respond(status int, body any, correlationID string) events.APIGatewayProxyResponse {
	headers := map[string]string{
		"Content-Type":    "application/json",
		correlationHeader: correlationID,
	}
	raw, err := json.Marshal(body)
	if err != nil {
		status = http.StatusInternalServerError
		raw = []byte(`{"error":"INTERNAL_ERROR"}`)
	}
	return events.APIGatewayProxyResponse{
		StatusCode: status,
		Headers:    headers,
		Body:       string(raw),
	}
}

func headerValue(headers map[string]string, name string) string {
	for k, v := range headers {
		if strings.EqualFold(k, name) {
			return strings.TrimSpace(v)
		}
	}
	return ""
}
