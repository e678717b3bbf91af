package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

func identityRouter() (*gin.Engine, *uuid.UUID) {
	gin.SetMode(gin.TestMode)
	var seen uuid.UUID
	r := gin.New()
	r.GET("/probe", RequireUser(), func(c *gin.Context) {
		seen = UserID(c)
		c.Status(http.StatusNoContent)
	})
	return r, &seen
}

func TestRequireUserAcceptsValidHeader(t *testing.T) {
	r, seen := identityRouter()
	userID := uuid.New()

	req := httptest.NewRequest(http.MethodGet, "/probe", nil)
	req.Header.Set(HeaderUserID, userID.String())
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusNoContent {
		t.Fatalf("status = %d, want 204", w.Code)
	}
	if *seen != userID {
		t.Fatalf("handler saw %s, want %s", *seen, userID)
	}
}

func TestRequireUserRejectsMissingOrMalformed(t *testing.T) {
	r, _ := identityRouter()
	cases := []struct {
		name   string
		header string
	}{
		{"missing", ""},
		{"not a uuid", "abc-123"},
		{"nil uuid", uuid.Nil.String()},
	}
	for _, tc := range cases {
		req := httptest.NewRequest(http.MethodGet, "/probe", nil)
		if tc.header != "" {
			req.Header.Set(HeaderUserID, tc.header)
		}
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		if w.Code != http.StatusUnauthorized {
			t.Fatalf("%s: status = %d, want 401", tc.name, w.Code)
		}
	}
}

func TestUserIDWithoutMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	c, _ := gin.CreateTestContext(httptest.NewRecorder())
	if got := UserID(c); got != uuid.Nil {
		t.Fatalf("UserID = %s, want nil uuid", got)
	}
}
