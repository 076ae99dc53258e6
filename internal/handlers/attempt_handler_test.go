package handlers

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"

	"github.com/lusia-studio/quiz-engine/internal/repositories"
	"github.com/lusia-studio/quiz-engine/internal/services"
	"github.com/lusia-studio/quiz-engine/internal/utils"
)

func newErrorContext(t *testing.T) (*gin.Context, *httptest.ResponseRecorder) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	rec := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(rec)
	c.Request = httptest.NewRequest(http.MethodPost, "/api/v1/attempts/att-1/submit", nil)
	return c, rec
}

func TestHandleServiceError_SubmissionConflictMapsToConflict(t *testing.T) {
	h := &AttemptHandler{BaseHandler: NewBaseHandler(utils.NewDevelopmentLogger())}
	c, rec := newErrorContext(t)

	h.handleServiceError(c, services.NewSubmissionError("att-1", repositories.ErrConflict))

	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Contains(t, rec.Body.String(), "SUBMISSION_CONFLICT")
}

func TestHandleServiceError_SubmissionFailureMapsToBadGateway(t *testing.T) {
	h := &AttemptHandler{BaseHandler: NewBaseHandler(utils.NewDevelopmentLogger())}
	c, rec := newErrorContext(t)

	h.handleServiceError(c, services.NewSubmissionError("att-1", errors.New("store unavailable")))

	assert.Equal(t, http.StatusBadGateway, rec.Code)
	assert.Contains(t, rec.Body.String(), "SUBMISSION_FAILED")
}
