package main

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const maxSubmissionBytes = 64 << 10

// Submission is the contact form payload. Website is a honeypot: the field is
// hidden from humans, so any truthy value marks the request as automated. It
// stays raw because bots fill it with numbers and objects as well as text.
type Submission struct {
	Name    string          `json:"name"`
	Email   string          `json:"email"`
	Message string          `json:"message"`
	Website json.RawMessage `json:"website"`
}

// IsSpam treats null, false, 0 and "" as an empty honeypot and anything else
// as filled.
func (s Submission) IsSpam() bool {
	if len(s.Website) == 0 {
		return false
	}
	var v any
	if err := json.Unmarshal(s.Website, &v); err != nil {
		return true
	}
	switch v := v.(type) {
	case nil:
		return false
	case bool:
		return v
	case float64:
		return v != 0
	case string:
		return v != ""
	default:
		return true
	}
}

func (s Submission) HasRequiredFields() bool {
	return strings.TrimSpace(s.Name) != "" &&
		strings.TrimSpace(s.Email) != "" &&
		strings.TrimSpace(s.Message) != ""
}

// ActivityRecorder stores anonymous relay outcomes.
type ActivityRecorder interface {
	RecordRelay(ctx context.Context, outcome, hashedIP string) error
}

type ContactHandler struct {
	cfg      ContactConfig
	sender   Sender
	activity ActivityRecorder
	hasher   *IPHasher
	logger   *zap.Logger
}

// NewContactHandler wires the relay. activity may be nil.
func NewContactHandler(cfg ContactConfig, sender Sender, activity ActivityRecorder, hasher *IPHasher, logger *zap.Logger) *ContactHandler {
	return &ContactHandler{
		cfg:      cfg,
		sender:   sender,
		activity: activity,
		hasher:   hasher,
		logger:   logger.Named("contact"),
	}
}

// Handle serves /api/contact for any method so the method guard stays part
// of the relay contract.
func (h *ContactHandler) Handle(c *gin.Context) {
	if c.Request.Method != http.MethodPost {
		h.record(c, OutcomeMethod)
		c.Header("Allow", http.MethodPost)
		c.JSON(http.StatusMethodNotAllowed, gin.H{"error": "Method not allowed"})
		return
	}

	sub := decodeSubmission(c.Writer, c.Request)

	if sub.IsSpam() {
		h.record(c, OutcomeSpam)
		h.logger.Info("Dropped honeypot submission", zap.String("client", h.hasher.Hash(c.ClientIP())))
		c.JSON(http.StatusOK, gin.H{"ok": true})
		return
	}

	if !sub.HasRequiredFields() {
		h.record(c, OutcomeInvalid)
		c.JSON(http.StatusBadRequest, gin.H{"error": "Missing fields"})
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), h.cfg.Timeout)
	defer cancel()

	start := time.Now()
	err := h.sender.Send(ctx, h.buildMessage(sub))
	if err != nil {
		RecordContactSend(h.cfg.Provider, "error", time.Since(start))
		h.record(c, OutcomeFailed)
		h.logger.Error("Failed to relay contact message",
			zap.String("client", h.hasher.Hash(c.ClientIP())),
			zap.Error(err),
		)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Server error"})
		return
	}
	RecordContactSend(h.cfg.Provider, "ok", time.Since(start))

	h.record(c, OutcomeSent)
	h.logger.Info("Contact message relayed", zap.String("client", h.hasher.Hash(c.ClientIP())))
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

func (h *ContactHandler) buildMessage(sub Submission) Message {
	name := strings.TrimSpace(sub.Name)
	email := strings.TrimSpace(sub.Email)
	return Message{
		From:    h.cfg.From,
		To:      h.cfg.To,
		ReplyTo: email,
		Subject: "New message from " + name,
		Text:    "From: " + name + " <" + email + ">\n\n" + sub.Message,
	}
}

func (h *ContactHandler) record(c *gin.Context, outcome string) {
	IncrementContactRelay(outcome)
	if h.activity == nil {
		return
	}
	if err := h.activity.RecordRelay(c.Request.Context(), outcome, h.hasher.Hash(c.ClientIP())); err != nil {
		h.logger.Warn("Failed to record relay outcome", zap.String("outcome", outcome), zap.Error(err))
	}
}

// decodeSubmission never fails: an unreadable or malformed body yields an
// empty Submission, which the required-field check then rejects. The honeypot
// is still read from a body whose other fields have the wrong types.
func decodeSubmission(w http.ResponseWriter, r *http.Request) Submission {
	var sub Submission
	if r.Body == nil {
		return sub
	}
	raw, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxSubmissionBytes))
	if err != nil {
		return Submission{}
	}
	if err := json.Unmarshal(raw, &sub); err != nil {
		var honeypot struct {
			Website json.RawMessage `json:"website"`
		}
		if json.Unmarshal(raw, &honeypot) != nil {
			return Submission{}
		}
		return Submission{Website: honeypot.Website}
	}
	return sub
}
