package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/phonedesk/server/internal/chat"
	"github.com/phonedesk/server/internal/phonechange"
	"github.com/phonedesk/server/internal/verification"
)

// TurnSubmitter runs one conversational turn
type TurnSubmitter interface {
	Submit(ctx context.Context, rec phonechange.Record) (phonechange.Envelope, error)
}

// ChatHandler handles POST /chat
type ChatHandler struct {
	turns    TurnSubmitter
	validate *validator.Validate
}

// NewChatHandler creates a new chat handler
func NewChatHandler(turns TurnSubmitter) *ChatHandler {
	return &ChatHandler{
		turns:    turns,
		validate: validator.New(validator.WithRequiredStructEnabled()),
	}
}

// chatRequest is the request body for POST /chat. Pointers tell an absent
// field apart from a zero value.
type chatRequest struct {
	Content     *string `json:"content" validate:"required"`
	SessionID   *string `json:"session_id"`
	Step        *int    `json:"interface_step"`
	Times       *int    `json:"times" validate:"omitempty,min=0"`
	IntentLabel *int    `json:"intent_label" validate:"omitempty,oneof=0 1"`
	UserID      *int64  `json:"user_id" validate:"required"`
	Name        *string `json:"name" validate:"required"`
	Phone       *string `json:"phone" validate:"required"`
	RecordToken string  `json:"record_token"`
}

func (req chatRequest) record() (phonechange.Record, error) {
	rec := phonechange.Record{
		Content:     *req.Content,
		SessionID:   phonechange.DefaultSessionID,
		UserID:      *req.UserID,
		Name:        *req.Name,
		Phone:       *req.Phone,
		RecordToken: req.RecordToken,
	}
	if req.SessionID != nil {
		rec.SessionID = *req.SessionID
	}
	if req.Step != nil {
		step, err := phonechange.ParseStep(*req.Step)
		if err != nil {
			return phonechange.Record{}, err
		}
		rec.Step = step
	}
	if req.Times != nil {
		rec.Times = *req.Times
	}
	if req.IntentLabel != nil {
		rec.IntentLabel = *req.IntentLabel
	}
	return rec, nil
}

// HandleChat handles POST /chat
func (h *ChatHandler) HandleChat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusUnprocessableEntity, "invalid request body")
		return
	}

	if err := h.validate.Struct(req); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			respondJSON(w, http.StatusUnprocessableEntity, map[string]any{
				"error":  "invalid fields",
				"fields": fieldNames(verrs),
			})
			return
		}
		respondWithError(w, http.StatusUnprocessableEntity, "invalid request body")
		return
	}

	rec, err := req.record()
	if err != nil {
		respondJSON(w, http.StatusUnprocessableEntity, map[string]any{
			"error":  err.Error(),
			"fields": []string{"interface_step"},
		})
		return
	}

	env, err := h.turns.Submit(r.Context(), rec)
	switch {
	case err == nil:
		respondJSON(w, http.StatusOK, env)
	case errors.Is(err, chat.ErrRecordTampered):
		respondWithError(w, http.StatusConflict, "session record was modified")
	case errors.Is(err, chat.ErrSessionBusy):
		respondWithError(w, http.StatusConflict, "session has a turn in flight")
	default:
		log.Printf("Phone %s: chat turn failed: %v", verification.MaskPhone(rec.Phone), err)
		respondWithError(w, http.StatusInternalServerError, "failed to process turn")
	}
}

// fieldNames maps validation failures back to their JSON names
func fieldNames(verrs validator.ValidationErrors) []string {
	jsonNames := map[string]string{
		"Content":     "content",
		"SessionID":   "session_id",
		"Step":        "interface_step",
		"Times":       "times",
		"IntentLabel": "intent_label",
		"UserID":      "user_id",
		"Name":        "name",
		"Phone":       "phone",
	}
	out := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		name, ok := jsonNames[fe.StructField()]
		if !ok {
			name = strings.ToLower(fe.Field())
		}
		out = append(out, name)
	}
	return out
}
