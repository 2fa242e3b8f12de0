package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"uploadhook/internal/service"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

var testSecret = []byte("test-secret")

func signToken(t *testing.T, secret []byte, method jwt.SigningMethod, role string, exp time.Time) string {
	t.Helper()
	claims := OperatorClaims{
		Role: role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "ops@example.com",
			ExpiresAt: jwt.NewNumericDate(exp),
		},
	}
	s, err := jwt.NewWithClaims(method, claims).SignedString(secret)
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return s
}

func adminRouter(secret []byte) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.POST("/admin", JWTMiddleware(secret), RequireRole("admin"), func(c *gin.Context) {
		c.String(http.StatusOK, service.OperatorName(c.Request.Context()))
	})
	return r
}

func TestJWTMiddleware(t *testing.T) {
	valid := time.Now().Add(time.Hour)

	tests := []struct {
		name   string
		secret []byte
		auth   string
		want   int
	}{
		{"valid admin", testSecret, "Bearer " + signToken(t, testSecret, jwt.SigningMethodHS256, "admin", valid), http.StatusOK},
		{"lowercase scheme", testSecret, "bearer " + signToken(t, testSecret, jwt.SigningMethodHS256, "admin", valid), http.StatusOK},
		{"viewer role", testSecret, "Bearer " + signToken(t, testSecret, jwt.SigningMethodHS256, "viewer", valid), http.StatusForbidden},
		{"missing header", testSecret, "", http.StatusUnauthorized},
		{"wrong scheme", testSecret, "Basic abc", http.StatusUnauthorized},
		{"wrong secret", testSecret, "Bearer " + signToken(t, []byte("other"), jwt.SigningMethodHS256, "admin", valid), http.StatusUnauthorized},
		{"other hmac alg", testSecret, "Bearer " + signToken(t, testSecret, jwt.SigningMethodHS512, "admin", valid), http.StatusUnauthorized},
		{"expired", testSecret, "Bearer " + signToken(t, testSecret, jwt.SigningMethodHS256, "admin", time.Now().Add(-time.Minute)), http.StatusUnauthorized},
		{"auth not configured", nil, "Bearer " + signToken(t, testSecret, jwt.SigningMethodHS256, "admin", valid), http.StatusUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := adminRouter(tt.secret)
			w := httptest.NewRecorder()
			req, _ := http.NewRequest("POST", "/admin", nil)
			if tt.auth != "" {
				req.Header.Set("Authorization", tt.auth)
			}
			r.ServeHTTP(w, req)

			if w.Code != tt.want {
				t.Errorf("status = %d, want %d (body %s)", w.Code, tt.want, w.Body.String())
			}
			if tt.want == http.StatusOK && w.Body.String() != "ops@example.com" {
				t.Errorf("operator = %q, want token subject", w.Body.String())
			}
		})
	}
}

func TestRequireRole_WithoutOperator(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/x", RequireRole("admin"), func(c *gin.Context) { c.Status(http.StatusOK) })

	w := httptest.NewRecorder()
	req, _ := http.NewRequest("GET", "/x", nil)
	r.ServeHTTP(w, req)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", w.Code)
	}
}
