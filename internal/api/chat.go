package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/pautahq/newsbot/internal/history"
	"github.com/pautahq/newsbot/internal/rag"
)

// Answerer generates grounded answers, in one shot or incrementally.
type Answerer interface {
	AskQuestion(ctx context.Context, question string) (*rag.Answer, error)
	AskQuestionStream(ctx context.Context, question string, cb func(rag.Chunk) error) (*rag.Answer, error)
}

// HistoryStore records question/answer exchanges.
type HistoryStore interface {
	CreateExchange(ctx context.Context, userID int64, question, answer string) (*history.Exchange, error)
	CreateStub(ctx context.Context, userID int64, question string) (*history.Exchange, error)
	FinalizeExchange(ctx context.Context, id int64, answer string) error
	ListByUser(ctx context.Context, userID int64, limit int) ([]*history.Exchange, error)
}

type chatHandler struct {
	engine  Answerer
	history HistoryStore
	logger  *slog.Logger
}

type chatRequest struct {
	Question string `json:"question"`
}

type chatResponse struct {
	Answer          string       `json:"answer"`
	SourceDocuments []rag.Source `json:"source_documents"`
	HistoryID       int64        `json:"history_id"`
}

// ask answers a question in one JSON round trip and records the exchange.
func (h *chatHandler) ask(w http.ResponseWriter, r *http.Request) {
	user, ok := userFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized", "authentication required")
		return
	}

	question, ok := h.question(w, r)
	if !ok {
		return
	}

	answer, err := h.engine.AskQuestion(r.Context(), question)
	if err != nil {
		h.logger.Error("answering question failed", "error", err)
		writeError(w, http.StatusInternalServerError, "generation_failed", "could not generate an answer")
		return
	}

	exchange, err := h.history.CreateExchange(r.Context(), user.ID, question, answer.Text)
	if err != nil {
		// The answer exists; losing the history row is not worth a 500.
		h.logger.Warn("recording exchange failed", "user_id", user.ID, "error", err)
	}

	resp := chatResponse{Answer: answer.Text, SourceDocuments: answer.Sources}
	if resp.SourceDocuments == nil {
		resp.SourceDocuments = []rag.Source{}
	}
	if exchange != nil {
		resp.HistoryID = exchange.ID
	}
	writeJSON(w, http.StatusOK, resp)
}

// stream answers a question as chunked plain text. The history row is
// created before generation so its id can travel in the X-History-ID header,
// and finalized with the full answer once the stream ends.
func (h *chatHandler) stream(w http.ResponseWriter, r *http.Request) {
	user, ok := userFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized", "authentication required")
		return
	}

	question, ok := h.question(w, r)
	if !ok {
		return
	}

	stub, err := h.history.CreateStub(r.Context(), user.ID, question)
	if err != nil {
		h.logger.Error("creating history stub failed", "user_id", user.ID, "error", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "could not start stream")
		return
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("X-History-ID", strconv.FormatInt(stub.ID, 10))
	w.Header().Set("Cache-Control", "no-cache")

	rc := http.NewResponseController(w)
	var full strings.Builder
	wroteAny := false

	answer, err := h.engine.AskQuestionStream(r.Context(), question, func(chunk rag.Chunk) error {
		if chunk.Text == "" {
			return nil
		}
		full.WriteString(chunk.Text)
		if _, err := w.Write([]byte(chunk.Text)); err != nil {
			return err
		}
		wroteAny = true
		_ = rc.Flush()
		return nil
	})

	// Finalize regardless of how the stream ended, so a disconnect mid-answer
	// still preserves the partial text. WithoutCancel survives the client
	// going away.
	finalText := full.String()
	if answer != nil {
		finalText = answer.Text
	}
	if err := h.history.FinalizeExchange(context.WithoutCancel(r.Context()), stub.ID, finalText); err != nil {
		h.logger.Warn("finalizing exchange failed", "history_id", stub.ID, "error", err)
	}

	if err != nil {
		h.logger.Error("streaming answer failed", "history_id", stub.ID, "error", err)
		if !wroteAny {
			writeError(w, http.StatusInternalServerError, "generation_failed", "could not generate an answer")
		}
		return
	}
}

// listHistory returns the caller's recorded exchanges, newest first.
func (h *chatHandler) listHistory(w http.ResponseWriter, r *http.Request) {
	user, ok := userFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized", "authentication required")
		return
	}

	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "invalid_limit", "limit must be a positive integer")
			return
		}
		limit = n
	}

	exchanges, err := h.history.ListByUser(r.Context(), user.ID, limit)
	if err != nil {
		h.logger.Error("listing history failed", "user_id", user.ID, "error", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "could not list history")
		return
	}
	if exchanges == nil {
		exchanges = []*history.Exchange{}
	}
	writeJSON(w, http.StatusOK, exchanges)
}

func (h *chatHandler) question(w http.ResponseWriter, r *http.Request) (string, bool) {
	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return "", false
	}
	question := strings.TrimSpace(req.Question)
	if question == "" {
		writeError(w, http.StatusBadRequest, "invalid_question", "question must not be empty")
		return "", false
	}
	return question, true
}
