package handlers

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/lusia-studio/quiz-engine/internal/models"
	"github.com/lusia-studio/quiz-engine/internal/services"
	"github.com/lusia-studio/quiz-engine/internal/utils"
)

type AttemptHandler struct {
	BaseHandler
	attempts  *services.AttemptService
	sessions  *services.SessionManager
	exports   *services.ExportService
	validator *utils.Validator
}

func NewAttemptHandler(
	attempts *services.AttemptService,
	sessions *services.SessionManager,
	exports *services.ExportService,
	validator *utils.Validator,
	logger utils.Logger,
) *AttemptHandler {
	return &AttemptHandler{
		BaseHandler: NewBaseHandler(logger),
		attempts:    attempts,
		sessions:    sessions,
		exports:     exports,
		validator:   validator,
	}
}

// ===== REQUEST / RESPONSE STRUCTURES =====

type SetAnswerRequest struct {
	Answer models.AnswerValue `json:"answer"`
}

// QuestionView is a question as shown to the learner: correctness
// fields never leave the server while the attempt is open.
type QuestionView struct {
	ID         string              `json:"id"`
	Type       models.QuestionType `json:"type"`
	Prompt     string              `json:"prompt"`
	Options    []models.Option     `json:"options,omitempty"`
	LeftItems  []models.Option     `json:"left_items,omitempty"`
	RightItems []models.Option     `json:"right_items,omitempty"`
	BlankIDs   []string            `json:"blank_ids,omitempty"`
}

type SessionView struct {
	Attempt       *models.Attempt       `json:"attempt"`
	SessionState  services.SessionState `json:"session_state"`
	SaveState     services.SaveState    `json:"save_state"`
	Questions     []QuestionView        `json:"questions"`
	Answers       models.AnswerMap      `json:"answers"`
	AnsweredCount int                   `json:"answered_count"`
}

type SaveStateView struct {
	SaveState     services.SaveState    `json:"save_state"`
	SessionState  services.SessionState `json:"session_state"`
	AnsweredCount int                   `json:"answered_count"`
}

func presentQuestion(q models.Question) QuestionView {
	view := QuestionView{
		ID:     q.ID,
		Type:   q.Type,
		Prompt: q.Prompt,
	}
	switch q.Type {
	case models.SingleChoice, models.MultiChoice, models.Ordering:
		view.Options = q.Content.Options
	case models.Matching:
		view.LeftItems = q.Content.LeftItems
		view.RightItems = q.Content.RightItems
	case models.FillBlank:
		for _, b := range q.Content.Blanks {
			view.BlankIDs = append(view.BlankIDs, b.ID)
		}
	}
	return view
}

func (h *AttemptHandler) presentSession(session *services.AttemptSession) SessionView {
	questions := session.Questions()
	views := make([]QuestionView, len(questions))
	for i, q := range questions {
		views[i] = presentQuestion(q)
	}
	return SessionView{
		Attempt:       session.Attempt(),
		SessionState:  session.State(),
		SaveState:     session.SaveState(),
		Questions:     views,
		Answers:       session.Answers(),
		AnsweredCount: session.AnsweredCount(),
	}
}

// ===== HANDLERS =====

// StartAttempt creates the student's attempt for a quiz artifact, or
// returns the existing one.
func (h *AttemptHandler) StartAttempt(c *gin.Context) {
	var req services.StartAttemptRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Message: "Invalid request payload",
			Details: err.Error(),
		})
		return
	}
	if req.StudentID == "" {
		req.StudentID = studentID(c)
	}

	h.LogRequest(c, "Starting attempt", "artifact_id", req.ArtifactID, "student_id", req.StudentID)

	attempt, err := h.attempts.Start(c.Request.Context(), req)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}

	c.JSON(http.StatusCreated, attempt)
}

// GetAttempt opens (or resumes) the learner's session for an attempt
// and returns the full taking view.
func (h *AttemptHandler) GetAttempt(c *gin.Context) {
	attemptID := ParseStringIDParam(c, "id")
	if attemptID == "" {
		return
	}

	h.LogRequest(c, "Opening attempt session", "attempt_id", attemptID)

	session, err := h.sessions.Start(c.Request.Context(), attemptID, studentID(c))
	if err != nil {
		h.handleServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, h.presentSession(session))
}

// SetAnswer records one answer and schedules an autosave.
func (h *AttemptHandler) SetAnswer(c *gin.Context) {
	attemptID := ParseStringIDParam(c, "id")
	if attemptID == "" {
		return
	}
	questionID := ParseStringIDParam(c, "question_id")
	if questionID == "" {
		return
	}

	var req SetAnswerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Message: "Invalid request payload",
			Details: err.Error(),
		})
		return
	}

	session, err := h.sessions.Get(attemptID, studentID(c))
	if err != nil {
		h.handleServiceError(c, err)
		return
	}
	if err := session.SetAnswer(questionID, req.Answer); err != nil {
		h.handleServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, SaveStateView{
		SaveState:     session.SaveState(),
		SessionState:  session.State(),
		AnsweredCount: session.AnsweredCount(),
	})
}

// ClearAnswer removes one answer and schedules an autosave.
func (h *AttemptHandler) ClearAnswer(c *gin.Context) {
	attemptID := ParseStringIDParam(c, "id")
	if attemptID == "" {
		return
	}
	questionID := ParseStringIDParam(c, "question_id")
	if questionID == "" {
		return
	}

	session, err := h.sessions.Get(attemptID, studentID(c))
	if err != nil {
		h.handleServiceError(c, err)
		return
	}
	if err := session.ClearAnswer(questionID); err != nil {
		h.handleServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, SaveStateView{
		SaveState:     session.SaveState(),
		SessionState:  session.State(),
		AnsweredCount: session.AnsweredCount(),
	})
}

// GetSaveState reports the autosave indicator for an open session.
func (h *AttemptHandler) GetSaveState(c *gin.Context) {
	attemptID := ParseStringIDParam(c, "id")
	if attemptID == "" {
		return
	}

	session, err := h.sessions.Get(attemptID, studentID(c))
	if err != nil {
		h.handleServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, SaveStateView{
		SaveState:     session.SaveState(),
		SessionState:  session.State(),
		AnsweredCount: session.AnsweredCount(),
	})
}

// SubmitAttempt freezes and grades the attempt.
func (h *AttemptHandler) SubmitAttempt(c *gin.Context) {
	attemptID := ParseStringIDParam(c, "id")
	if attemptID == "" {
		return
	}

	h.LogRequest(c, "Submitting attempt", "attempt_id", attemptID)

	session, err := h.sessions.Get(attemptID, studentID(c))
	if err != nil {
		h.handleServiceError(c, err)
		return
	}
	attempt, err := session.Submit(c.Request.Context())
	if err != nil {
		h.handleServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, attempt)
}

// GetResults returns the grading stored with a terminal attempt.
func (h *AttemptHandler) GetResults(c *gin.Context) {
	attemptID := ParseStringIDParam(c, "id")
	if attemptID == "" {
		return
	}

	attempt, grading, err := h.attempts.Results(c.Request.Context(), attemptID, studentID(c))
	if err != nil {
		h.handleServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"attempt_id": attempt.ID,
		"grade":      attempt.Grade,
		"feedback":   attempt.Feedback,
		"grading":    grading,
	})
}

// ExportResults streams the grading breakdown as an Excel workbook.
func (h *AttemptHandler) ExportResults(c *gin.Context) {
	attemptID := ParseStringIDParam(c, "id")
	if attemptID == "" {
		return
	}

	h.LogRequest(c, "Exporting attempt results", "attempt_id", attemptID)

	data, err := h.exports.ExportResults(c.Request.Context(), attemptID, studentID(c))
	if err != nil {
		h.handleServiceError(c, err)
		return
	}

	filename := fmt.Sprintf("attempt-%s-results.xlsx", attemptID)
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	c.Data(http.StatusOK, "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet", data)
}

// OverrideGrading applies a teacher's per-question correctness
// decisions and rescores the attempt.
func (h *AttemptHandler) OverrideGrading(c *gin.Context) {
	attemptID := ParseStringIDParam(c, "id")
	if attemptID == "" {
		return
	}

	var req services.OverrideRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Message: "Invalid request payload",
			Details: err.Error(),
		})
		return
	}

	h.LogRequest(c, "Overriding attempt grading", "attempt_id", attemptID, "grader_id", req.GraderID)

	attempt, err := h.attempts.Override(c.Request.Context(), attemptID, req)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}

	// An open session must see the new grading immediately.
	if session, serr := h.sessions.Get(attemptID, attempt.StudentID); serr == nil {
		session.ApplyRemote(attempt)
	}

	c.JSON(http.StatusOK, attempt)
}

// CloseSession tears down the learner's open session.
func (h *AttemptHandler) CloseSession(c *gin.Context) {
	attemptID := ParseStringIDParam(c, "id")
	if attemptID == "" {
		return
	}

	if _, err := h.sessions.Get(attemptID, studentID(c)); err != nil {
		h.handleServiceError(c, err)
		return
	}
	if err := h.sessions.Close(attemptID); err != nil {
		h.handleServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, SuccessResponse{Message: "Session closed"})
}

// ===== ERROR HANDLING =====

func (h *AttemptHandler) handleServiceError(c *gin.Context, err error) {
	var validationErrors services.ValidationErrors
	if errors.As(err, &validationErrors) {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Message: "Validation failed",
			Details: validationErrors,
		})
		return
	}

	var submissionError *services.SubmissionError
	if errors.As(err, &submissionError) {
		if services.IsConflict(err) {
			// Someone else already wrote; a plain retry with the
			// refreshed session state is the right client move.
			c.JSON(http.StatusConflict, ErrorResponse{
				Message: "Attempt was updated elsewhere, please retry",
				Details: submissionError.Error(),
				Code:    "SUBMISSION_CONFLICT",
			})
			return
		}
		h.LogError(c, err, "Submission failed", "attempt_id", submissionError.AttemptID)
		c.JSON(http.StatusBadGateway, ErrorResponse{
			Message: "Submission failed, please try again",
			Details: submissionError.Error(),
			Code:    "SUBMISSION_FAILED",
		})
		return
	}

	switch {
	case services.IsValidation(err):
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Message: "Validation failed",
			Details: err.Error(),
		})
	case services.IsNotFound(err):
		c.JSON(http.StatusNotFound, ErrorResponse{
			Message: err.Error(),
		})
	case services.IsForbidden(err):
		c.JSON(http.StatusForbidden, ErrorResponse{
			Message: err.Error(),
		})
	case services.IsConflict(err):
		c.JSON(http.StatusConflict, ErrorResponse{
			Message: err.Error(),
		})
	case errors.Is(err, services.ErrAttemptNotTerminal):
		c.JSON(http.StatusUnprocessableEntity, ErrorResponse{
			Message: err.Error(),
		})
	case errors.Is(err, services.ErrSessionClosed):
		c.JSON(http.StatusGone, ErrorResponse{
			Message: err.Error(),
		})
	default:
		h.LogError(c, err, "Unhandled service error")
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Message: "Internal server error",
		})
	}
}
