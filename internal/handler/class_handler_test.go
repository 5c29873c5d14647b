package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/tutor-scheduling-api/internal/dto"
	"github.com/noah-isme/tutor-scheduling-api/internal/middleware"
	"github.com/noah-isme/tutor-scheduling-api/internal/models"
	appErrors "github.com/noah-isme/tutor-scheduling-api/pkg/errors"
)

type classBookerMock struct {
	bookResp   *models.BookedClass
	bookErr    error
	lastBook   dto.BookClassRequest
	lastClaims *models.JWTClaims
	bookCalled bool
}

func (m *classBookerMock) BookClass(ctx context.Context, claims *models.JWTClaims, req dto.BookClassRequest) (*models.BookedClass, error) {
	m.bookCalled = true
	m.lastBook = req
	m.lastClaims = claims
	return m.bookResp, m.bookErr
}

func (m *classBookerMock) CreateClassWithCredit(ctx context.Context, claims *models.JWTClaims, req dto.CreateClassWithCreditRequest) (*models.BookedClass, error) {
	return m.bookResp, m.bookErr
}

type classLifecycleMock struct {
	cancelResp   *dto.CancelClassResponse
	cancelErr    error
	lastCancel   dto.CancelClassRequest
	lastClassID  string
	sweepResp    *dto.OverdueSweepResult
	cancelCalled bool
}

func (m *classLifecycleMock) Reschedule(ctx context.Context, claims *models.JWTClaims, classID string, req dto.RescheduleClassRequest) (*models.BookedClass, error) {
	m.lastClassID = classID
	return &models.BookedClass{ID: "class-2", RescheduledFrom: &classID, ScheduledAt: req.NewStartAt}, nil
}

func (m *classLifecycleMock) CancelByStudent(ctx context.Context, claims *models.JWTClaims, classID string, req dto.CancelClassRequest) (*dto.CancelClassResponse, error) {
	m.cancelCalled = true
	m.lastClassID = classID
	m.lastCancel = req
	return m.cancelResp, m.cancelErr
}

func (m *classLifecycleMock) CancelByTeacher(ctx context.Context, claims *models.JWTClaims, classID string, req dto.CancelClassRequest) (*dto.CancelClassResponse, error) {
	return m.CancelByStudent(ctx, claims, classID, req)
}

func (m *classLifecycleMock) ConvertToSlot(ctx context.Context, claims *models.JWTClaims, classID string) (*dto.ConvertToSlotResponse, error) {
	return &dto.ConvertToSlotResponse{ClassID: classID, State: string(models.SlotVacant)}, nil
}

func (m *classLifecycleMock) Complete(ctx context.Context, claims *models.JWTClaims, classID string, req dto.CompleteClassRequest) (*models.BookedClass, error) {
	return &models.BookedClass{ID: classID, Status: models.ClassStatusCompleted, Feedback: req.Feedback}, nil
}

func (m *classLifecycleMock) MarkNoShow(ctx context.Context, claims *models.JWTClaims, classID string) (*models.BookedClass, error) {
	return &models.BookedClass{ID: classID, Status: models.ClassStatusNoShow}, nil
}

func (m *classLifecycleMock) MarkOverdue(ctx context.Context, now time.Time) (*dto.OverdueSweepResult, error) {
	return m.sweepResp, nil
}

func newClassContext(method, target string, body []byte, params ...gin.Param) (*gin.Context, *httptest.ResponseRecorder) {
	gin.SetMode(gin.TestMode)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	var req *http.Request
	if body == nil {
		req, _ = http.NewRequest(method, target, nil)
	} else {
		req, _ = http.NewRequest(method, target, bytes.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	c.Request = req
	c.Params = params
	c.Set(middleware.ContextUserKey, &models.JWTClaims{UserID: "student-1", Role: models.RoleStudent})
	return c, w
}

func TestClassHandlerBook(t *testing.T) {
	start := time.Date(2024, 1, 16, 10, 0, 0, 0, time.UTC)
	booker := &classBookerMock{bookResp: &models.BookedClass{ID: "class-1", ScheduledAt: start, Status: models.ClassStatusScheduled}}
	handler := NewClassHandler(booker, &classLifecycleMock{})

	payload, _ := json.Marshal(dto.BookClassRequest{StudentID: "student-1", TeacherID: "teacher-1", StartAt: start, DurationMinutes: 60})
	c, w := newClassContext(http.MethodPost, "/classes", payload)

	handler.Book(c)
	require.Equal(t, http.StatusCreated, w.Code)
	assert.True(t, booker.bookCalled)
	assert.Equal(t, "teacher-1", booker.lastBook.TeacherID)
	assert.True(t, start.Equal(booker.lastBook.StartAt))
	require.NotNil(t, booker.lastClaims)
	assert.Equal(t, "student-1", booker.lastClaims.UserID)

	var envelope struct {
		Data models.BookedClass `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &envelope))
	assert.Equal(t, "class-1", envelope.Data.ID)
}

func TestClassHandlerBookInvalidBody(t *testing.T) {
	booker := &classBookerMock{}
	handler := NewClassHandler(booker, &classLifecycleMock{})

	c, w := newClassContext(http.MethodPost, "/classes", []byte(`{"teacherId":`))
	handler.Book(c)
	require.Equal(t, http.StatusBadRequest, w.Code)
	assert.False(t, booker.bookCalled)
}

func TestClassHandlerBookMapsDomainErrors(t *testing.T) {
	cases := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{name: "slot taken", err: appErrors.Clone(appErrors.ErrSlotUnavailable, "slot is already booked"), status: http.StatusConflict, code: "SLOT_UNAVAILABLE"},
		{name: "no credit", err: appErrors.ErrInsufficientCredit, status: http.StatusPaymentRequired, code: "INSUFFICIENT_CREDIT"},
		{name: "policy", err: appErrors.ErrPolicyViolation, status: http.StatusUnprocessableEntity, code: "POLICY_VIOLATION"},
		{name: "invalid date", err: appErrors.ErrInvalidDate, status: http.StatusBadRequest, code: "INVALID_DATE"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			handler := NewClassHandler(&classBookerMock{bookErr: tc.err}, &classLifecycleMock{})
			payload, _ := json.Marshal(dto.BookClassRequest{StudentID: "student-1", TeacherID: "teacher-1", StartAt: time.Now(), DurationMinutes: 60})
			c, w := newClassContext(http.MethodPost, "/classes", payload)

			handler.Book(c)
			require.Equal(t, tc.status, w.Code)
			var envelope struct {
				Error struct {
					Code string `json:"code"`
				} `json:"error"`
			}
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &envelope))
			assert.Equal(t, tc.code, envelope.Error.Code)
		})
	}
}

func TestClassHandlerCancelAcceptsEmptyBody(t *testing.T) {
	lifecycle := &classLifecycleMock{cancelResp: &dto.CancelClassResponse{ClassID: "class-1", Status: string(models.ClassStatusCanceledStudent), Refunded: true}}
	handler := NewClassHandler(&classBookerMock{}, lifecycle)

	c, w := newClassContext(http.MethodPost, "/classes/class-1/cancel", nil, gin.Param{Key: "id", Value: "class-1"})
	handler.CancelByStudent(c)
	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, lifecycle.cancelCalled)
	assert.Equal(t, "class-1", lifecycle.lastClassID)
	assert.Nil(t, lifecycle.lastCancel.Reason)

	c, w = newClassContext(http.MethodPost, "/classes/class-1/cancel", []byte(`{"reason":"sick"}`), gin.Param{Key: "id", Value: "class-1"})
	handler.CancelByStudent(c)
	require.Equal(t, http.StatusOK, w.Code)
	require.NotNil(t, lifecycle.lastCancel.Reason)
	assert.Equal(t, "sick", *lifecycle.lastCancel.Reason)
}

func TestClassHandlerRescheduleReportsOrigin(t *testing.T) {
	handler := NewClassHandler(&classBookerMock{}, &classLifecycleMock{})
	payload, _ := json.Marshal(dto.RescheduleClassRequest{NewStartAt: time.Date(2024, 1, 23, 10, 0, 0, 0, time.UTC)})

	c, w := newClassContext(http.MethodPost, "/classes/class-1/reschedule", payload, gin.Param{Key: "id", Value: "class-1"})
	handler.Reschedule(c)
	require.Equal(t, http.StatusCreated, w.Code)

	var envelope struct {
		Data models.BookedClass     `json:"data"`
		Meta map[string]interface{} `json:"meta"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &envelope))
	assert.Equal(t, "class-2", envelope.Data.ID)
	assert.Equal(t, "class-1", envelope.Meta["rescheduledFrom"])
}

func TestClassHandlerSweepOverdue(t *testing.T) {
	lifecycle := &classLifecycleMock{sweepResp: &dto.OverdueSweepResult{Marked: 2, ClassIDs: []string{"class-1", "class-2"}}}
	handler := NewClassHandler(&classBookerMock{}, lifecycle)

	c, w := newClassContext(http.MethodPost, "/classes/overdue-sweep", nil)
	handler.SweepOverdue(c)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"marked":2`)
}
