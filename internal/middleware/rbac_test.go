package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/tutor-scheduling-api/internal/models"
	"github.com/noah-isme/tutor-scheduling-api/internal/service"
	appErrors "github.com/noah-isme/tutor-scheduling-api/pkg/errors"
)

type tokenValidatorStub map[string]*models.JWTClaims

func (s tokenValidatorStub) ValidateToken(token string) (*models.JWTClaims, error) {
	claims, ok := s[token]
	if !ok {
		return nil, appErrors.Clone(appErrors.ErrUnauthorized, "invalid token")
	}
	return claims, nil
}

var testTokens = tokenValidatorStub{
	"student-token": {UserID: "student-1", Role: models.RoleStudent},
	"teacher-token": {UserID: "teacher-1", Role: models.RoleTeacher},
	"admin-token":   {UserID: "admin-1", Role: models.RoleAdmin},
}

func serve(router *gin.Engine, method, target, token string) *httptest.ResponseRecorder {
	recorder := httptest.NewRecorder()
	req := httptest.NewRequest(method, target, nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	router.ServeHTTP(recorder, req)
	return recorder
}

func TestJWTMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(JWT(testTokens))
	router.GET("/me", func(c *gin.Context) {
		claims := c.MustGet(ContextUserKey).(*models.JWTClaims)
		c.String(http.StatusOK, claims.UserID)
	})

	if got := serve(router, http.MethodGet, "/me", "").Code; got != http.StatusUnauthorized {
		t.Fatalf("missing header: unexpected status %d", got)
	}
	if got := serve(router, http.MethodGet, "/me", "unknown").Code; got != http.StatusUnauthorized {
		t.Fatalf("unknown token: unexpected status %d", got)
	}

	recorder := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	req.Header.Set("Authorization", "Token student-token")
	router.ServeHTTP(recorder, req)
	if recorder.Code != http.StatusUnauthorized {
		t.Fatalf("wrong scheme: unexpected status %d", recorder.Code)
	}

	ok := serve(router, http.MethodGet, "/me", "student-token")
	if ok.Code != http.StatusOK || ok.Body.String() != "student-1" {
		t.Fatalf("valid token: got %d %q", ok.Code, ok.Body.String())
	}
}

func TestOptionalJWTNeverBlocks(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(OptionalJWT(testTokens))
	router.GET("/availability", func(c *gin.Context) {
		if _, exists := c.Get(ContextUserKey); exists {
			c.String(http.StatusOK, "viewer")
			return
		}
		c.String(http.StatusOK, "anonymous")
	})

	if body := serve(router, http.MethodGet, "/availability", "").Body.String(); body != "anonymous" {
		t.Fatalf("no token: got %q", body)
	}
	if body := serve(router, http.MethodGet, "/availability", "expired").Body.String(); body != "anonymous" {
		t.Fatalf("bad token: got %q", body)
	}
	if body := serve(router, http.MethodGet, "/availability", "teacher-token").Body.String(); body != "viewer" {
		t.Fatalf("valid token: got %q", body)
	}
}

func TestRBACAllowsRolesAndSelf(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(JWT(testTokens))
	ok := func(c *gin.Context) { c.Status(http.StatusNoContent) }
	router.GET("/students/:studentId/credits", RBAC(string(models.RoleAdmin), AllowSelf), ok)
	router.POST("/classes/with-credit", RequireRoles(models.RoleAdmin, models.RoleSuperAdmin), ok)

	cases := []struct {
		name   string
		method string
		target string
		token  string
		status int
	}{
		{name: "self", method: http.MethodGet, target: "/students/student-1/credits", token: "student-token", status: http.StatusNoContent},
		{name: "other student", method: http.MethodGet, target: "/students/student-2/credits", token: "student-token", status: http.StatusForbidden},
		{name: "admin", method: http.MethodGet, target: "/students/student-2/credits", token: "admin-token", status: http.StatusNoContent},
		{name: "teacher on staff route", method: http.MethodPost, target: "/classes/with-credit", token: "teacher-token", status: http.StatusForbidden},
		{name: "admin on staff route", method: http.MethodPost, target: "/classes/with-credit", token: "admin-token", status: http.StatusNoContent},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := serve(router, tc.method, tc.target, tc.token).Code; got != tc.status {
				t.Fatalf("unexpected status: got %d want %d", got, tc.status)
			}
		})
	}
}

func TestRBACWithoutClaims(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.GET("/vacations", RBAC(string(models.RoleTeacher)), func(c *gin.Context) { c.Status(http.StatusNoContent) })

	if got := serve(router, http.MethodGet, "/vacations", "").Code; got != http.StatusUnauthorized {
		t.Fatalf("unexpected status: %d", got)
	}
}

func TestMetricsMiddlewareRecordsRoutePattern(t *testing.T) {
	gin.SetMode(gin.TestMode)
	metrics := service.NewMetricsService()
	router := gin.New()
	router.Use(Metrics(metrics))
	router.GET("/classes/:id", func(c *gin.Context) { c.Status(http.StatusOK) })

	serve(router, http.MethodGet, "/classes/class-1", "")
	serve(router, http.MethodGet, "/classes/class-2", "")

	if got := metrics.Snapshot().RequestsTotal; got != 2 {
		t.Fatalf("unexpected request count: %d", got)
	}

	nilRouter := gin.New()
	nilRouter.Use(Metrics(nil))
	nilRouter.GET("/", func(c *gin.Context) { c.Status(http.StatusOK) })
	if got := serve(nilRouter, http.MethodGet, "/", "").Code; got != http.StatusOK {
		t.Fatalf("nil metrics: unexpected status %d", got)
	}
}

func TestBearerToken(t *testing.T) {
	cases := map[string]struct {
		token string
		ok    bool
	}{
		"Bearer abc":     {token: "abc", ok: true},
		"bearer  abc ":   {token: "abc", ok: true},
		"Bearer":         {},
		"Bearer ":        {},
		"Basic dXNlcjpw": {},
		"":               {},
	}
	for header, want := range cases {
		token, ok := bearerToken(header)
		if ok != want.ok || token != want.token {
			t.Fatalf("bearerToken(%q) = %q, %v", header, token, ok)
		}
	}
}
