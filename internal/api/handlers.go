// Package api provides HTTP handlers for DMPipe endpoints.
package api

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/BTreeMap/DMPipe/internal/flow"
	"github.com/BTreeMap/DMPipe/internal/instagram"
	"github.com/BTreeMap/DMPipe/internal/models"
)

// webhookHandler serves the Instagram webhook endpoint: GET for the
// subscription handshake, POST for event delivery.
func (s *Server) webhookHandler(w http.ResponseWriter, r *http.Request) {
	if r.Body != nil {
		defer r.Body.Close()
	}
	switch r.Method {
	case http.MethodGet:
		s.webhookVerifyHandler(w, r)
	case http.MethodPost:
		s.webhookEventHandler(w, r)
	default:
		w.Header().Set("Allow", "GET, POST")
		slog.Warn("Server.webhookHandler: method not allowed", "method", r.Method)
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (s *Server) webhookVerifyHandler(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	challenge, err := instagram.VerifyChallenge(q.Get("hub.mode"), q.Get("hub.verify_token"), q.Get("hub.challenge"), s.verifyToken)
	if err != nil {
		slog.Warn("Server.webhookVerifyHandler: verification failed", "error", err, "mode", q.Get("hub.mode"))
		w.WriteHeader(http.StatusForbidden)
		return
	}
	slog.Info("Server.webhookVerifyHandler: webhook verified")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(challenge))
}

func (s *Server) webhookEventHandler(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		slog.Warn("Server.webhookEventHandler: failed to read body", "error", err)
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	if err := instagram.VerifySignature(body, r.Header.Get("X-Hub-Signature-256"), s.appSecret); err != nil {
		slog.Warn("Server.webhookEventHandler: signature verification failed", "error", err)
		w.WriteHeader(http.StatusUnauthorized)
		return
	}

	event, err := instagram.ParseEvent(body)
	if err != nil {
		slog.Warn("Server.webhookEventHandler: failed to parse event", "error", err)
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	// Meta expects a prompt 200; processing failures are logged and the
	// degraded-reply path inside the webhook service covers the customer.
	if err := s.webhookSvc.ProcessEvent(r.Context(), event); err != nil {
		slog.Error("Server.webhookEventHandler: event processing failed", "error", err)
	}
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("EVENT_RECEIVED"))
}

// processHandler invokes the pipeline directly (POST /agent/process).
func (s *Server) processHandler(w http.ResponseWriter, r *http.Request) {
	if r.Body != nil {
		defer r.Body.Close()
	}
	slog.Debug("Server.processHandler: processing request", "method", r.Method, "path", r.URL.Path)
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		slog.Warn("Server.processHandler: method not allowed", "method", r.Method)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var req models.ProcessRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		slog.Warn("Server.processHandler: failed to decode JSON", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON format"))
		return
	}

	if err := req.Validate(); err != nil {
		slog.Warn("Server.processHandler: validation failed", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error(err.Error()))
		return
	}

	conv, err := s.st.GetOrCreateConversation(req.SenderID, req.RecipientID)
	if err != nil {
		slog.Error("Server.processHandler: failed to load conversation", "error", err)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to load conversation"))
		return
	}

	history, err := s.st.GetRecentMessages(conv.ID, 10)
	if err != nil {
		slog.Warn("Server.processHandler: failed to load history, continuing without", "error", err)
		history = nil
	}

	resp, err := s.processor.Process(r.Context(), req, history)
	if err != nil {
		var procErr *flow.ProcessingError
		if errors.As(err, &procErr) && isValidationError(procErr.Cause) {
			slog.Warn("Server.processHandler: invalid request", "error", err)
			writeJSONResponse(w, http.StatusBadRequest, models.Error(procErr.Cause.Error()))
			return
		}
		slog.Error("Server.processHandler: pipeline failed", "error", err)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to process message"))
		return
	}

	if err := s.st.AddMessage(conv.ID, models.RoleUser, req.MessageText, "", 0); err != nil {
		slog.Error("Server.processHandler: failed to persist user message", "error", err)
	}
	if err := s.st.AddMessage(conv.ID, models.RoleAssistant, resp.ResponseText, resp.Intent, resp.Confidence); err != nil {
		slog.Error("Server.processHandler: failed to persist assistant message", "error", err)
	}
	if resp.Intent != "" {
		if err := s.st.UpdateConversationIntent(conv.ID, resp.Intent); err != nil {
			slog.Warn("Server.processHandler: failed to update intent", "error", err)
		}
	}

	slog.Info("Server.processHandler: message processed", "senderID", req.SenderID, "intent", resp.Intent)
	writeJSONResponse(w, http.StatusOK, models.Success(resp))
}

// isValidationError reports whether the error is a client input problem.
func isValidationError(err error) bool {
	return errors.Is(err, models.ErrEmptySenderID) ||
		errors.Is(err, models.ErrEmptyRecipientID) ||
		errors.Is(err, models.ErrEmptyMessageText) ||
		errors.Is(err, models.ErrMessageTooLong)
}

// conversationsHandler returns all stored conversations (GET /conversations).
func (s *Server) conversationsHandler(w http.ResponseWriter, r *http.Request) {
	slog.Debug("Server.conversationsHandler: processing request", "method", r.Method, "path", r.URL.Path)
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		slog.Warn("Server.conversationsHandler: method not allowed", "method", r.Method)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	conversations, err := s.st.ListConversations()
	if err != nil {
		slog.Error("Server.conversationsHandler: failed to fetch conversations", "error", err)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to fetch conversations"))
		return
	}
	slog.Debug("Server.conversationsHandler: conversations fetched", "count", len(conversations))
	writeJSONResponse(w, http.StatusOK, models.Success(conversations))
}

// conversationDetailHandler routes /conversations/{id}/... subresources.
func (s *Server) conversationDetailHandler(w http.ResponseWriter, r *http.Request) {
	slog.Debug("Server.conversationDetailHandler: processing request", "method", r.Method, "path", r.URL.Path)

	path := strings.TrimPrefix(r.URL.Path, "/conversations/")
	segments := strings.Split(path, "/")

	if len(segments) != 2 || segments[1] != "messages" {
		writeJSONResponse(w, http.StatusNotFound, models.Error("Unknown conversation endpoint"))
		return
	}
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	conversationID, err := strconv.ParseInt(segments[0], 10, 64)
	if err != nil {
		slog.Warn("Server.conversationDetailHandler: invalid conversation ID", "id", segments[0])
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid conversation ID"))
		return
	}

	messages, err := s.st.GetConversationMessages(conversationID)
	if err != nil {
		slog.Error("Server.conversationDetailHandler: failed to fetch messages", "error", err, "conversationID", conversationID)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to fetch messages"))
		return
	}
	slog.Debug("Server.conversationDetailHandler: messages fetched", "conversationID", conversationID, "count", len(messages))
	writeJSONResponse(w, http.StatusOK, models.Success(messages))
}

// healthHandler provides a health check endpoint for monitoring and load balancing
func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	healthData := map[string]interface{}{
		"status":    "healthy",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	}

	// Use conversation listing as a storage health indicator
	if conversations, err := s.st.ListConversations(); err != nil {
		slog.Warn("Health check: failed to query store", "error", err)
		healthData["status"] = "degraded"
		healthData["error"] = "Failed to query conversation store"
	} else {
		healthData["conversations"] = len(conversations)
	}

	statusCode := http.StatusOK
	if healthData["status"] == "degraded" {
		statusCode = http.StatusServiceUnavailable
	}

	writeJSONResponse(w, statusCode, healthData)
}
