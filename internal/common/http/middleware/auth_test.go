package middleware_test

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"classjudge/internal/common/http/middleware"
	pkgerrors "classjudge/pkg/errors"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

type apiResponse struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func newToken(t *testing.T, secret, issuer, typ string, userID int64, expiresIn time.Duration) string {
	t.Helper()
	claims := jwt.MapClaims{
		"sub": strconv.FormatInt(userID, 10),
		"iss": issuer,
		"typ": typ,
		"exp": time.Now().Add(expiresIn).Unix(),
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	if err != nil {
		t.Fatalf("sign token failed: %v", err)
	}
	return token
}

func TestAuthMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	secret := "test-secret"
	issuer := "classjudge"
	auth, err := middleware.NewAuthenticator(middleware.AuthConfig{JWTSecret: secret, JWTIssuer: issuer})
	if err != nil {
		t.Fatalf("new authenticator failed: %v", err)
	}

	router := gin.New()
	router.Use(middleware.TraceContextMiddleware())
	router.GET("/me", middleware.AuthMiddleware(auth), func(c *gin.Context) {
		userID, ok := middleware.CurrentUserID(c)
		if !ok {
			c.Status(http.StatusInternalServerError)
			return
		}
		c.Header("X-User-Id", fmt.Sprint(userID))
		c.Status(http.StatusOK)
	})

	cases := []struct {
		name       string
		authHeader string
		wantStatus int
		wantCode   int
		wantUserID string
	}{
		{
			name:       "missing token",
			wantStatus: http.StatusUnauthorized,
			wantCode:   int(pkgerrors.Unauthorized),
		},
		{
			name:       "valid access token",
			authHeader: "Bearer " + newToken(t, secret, issuer, "access", 42, time.Hour),
			wantStatus: http.StatusOK,
			wantUserID: "42",
		},
		{
			name:       "refresh token rejected",
			authHeader: "Bearer " + newToken(t, secret, issuer, "refresh", 42, time.Hour),
			wantStatus: http.StatusUnauthorized,
			wantCode:   int(pkgerrors.TokenInvalid),
		},
		{
			name:       "expired token",
			authHeader: "Bearer " + newToken(t, secret, issuer, "access", 42, -time.Minute),
			wantStatus: http.StatusUnauthorized,
			wantCode:   int(pkgerrors.TokenExpired),
		},
		{
			name:       "wrong issuer",
			authHeader: "Bearer " + newToken(t, secret, "other", "access", 42, time.Hour),
			wantStatus: http.StatusUnauthorized,
			wantCode:   int(pkgerrors.TokenInvalid),
		},
		{
			name:       "wrong secret",
			authHeader: "Bearer " + newToken(t, "nope", issuer, "access", 42, time.Hour),
			wantStatus: http.StatusUnauthorized,
			wantCode:   int(pkgerrors.TokenInvalid),
		},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodGet, "/me", nil)
			if tc.authHeader != "" {
				req.Header.Set("Authorization", tc.authHeader)
			}
			router.ServeHTTP(rec, req)
			if rec.Code != tc.wantStatus {
				t.Fatalf("expected status %d, got %d", tc.wantStatus, rec.Code)
			}
			if tc.wantCode != 0 {
				var resp apiResponse
				if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
					t.Fatalf("decode response failed: %v", err)
				}
				if resp.Code != tc.wantCode {
					t.Fatalf("expected code %d, got %d", tc.wantCode, resp.Code)
				}
			}
			if tc.wantUserID != "" && rec.Header().Get("X-User-Id") != tc.wantUserID {
				t.Fatalf("expected user id %s, got %s", tc.wantUserID, rec.Header().Get("X-User-Id"))
			}
			if rec.Header().Get("X-Trace-Id") == "" {
				t.Fatalf("expected trace id header")
			}
		})
	}
}

func TestNewAuthenticatorRequiresSecret(t *testing.T) {
	if _, err := middleware.NewAuthenticator(middleware.AuthConfig{}); err == nil {
		t.Fatalf("expected error for empty secret")
	}
}

func TestIssueRoundTrip(t *testing.T) {
	auth, err := middleware.NewAuthenticator(middleware.AuthConfig{JWTSecret: "secret", JWTIssuer: "classjudge"})
	if err != nil {
		t.Fatalf("new authenticator: %v", err)
	}
	token, err := auth.Issue(42, time.Hour)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	userID, err := auth.Authenticate(token)
	if err != nil {
		t.Fatalf("authenticate: %v", err)
	}
	if userID != 42 {
		t.Fatalf("expected user 42, got %d", userID)
	}

	expired, err := auth.Issue(42, -time.Minute)
	if err != nil {
		t.Fatalf("issue expired: %v", err)
	}
	if _, err := auth.Authenticate(expired); pkgerrors.GetCode(err) != pkgerrors.TokenExpired {
		t.Fatalf("expected TokenExpired, got %v", err)
	}
	if _, err := auth.Issue(0, time.Hour); err == nil {
		t.Fatalf("expected error for non-positive user id")
	}
}

func TestTraceContextKeepsIncomingIDs(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(middleware.TraceContextMiddleware())
	router.GET("/", func(c *gin.Context) { c.Status(http.StatusNoContent) })

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Trace-Id", "trace-1")
	router.ServeHTTP(rec, req)
	if got := rec.Header().Get("X-Trace-Id"); got != "trace-1" {
		t.Fatalf("expected trace-1, got %q", got)
	}
	if rec.Header().Get("X-Request-Id") == "" {
		t.Fatalf("expected generated request id")
	}
}
