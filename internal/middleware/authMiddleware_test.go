package middleware

import (
	"net/http"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"

	"github.com/aman-churiwal/request-governance/internal/models"
	"github.com/aman-churiwal/request-governance/internal/service"
)

type stubValidator map[string]*service.Claims

func (s stubValidator) ValidateToken(token string) (*service.Claims, error) {
	if c, ok := s[token]; ok {
		return c, nil
	}
	return nil, service.ErrInvalidToken
}

func TestRequireAuth(t *testing.T) {
	validator := stubValidator{
		"admin-token":  {UserID: "u1", Email: "a@example.com", Role: models.RoleAdmin},
		"member-token": {UserID: "u2", Email: "m@example.com", Role: models.RoleMember},
	}

	r := gin.New()
	r.GET("/admin", RequireAuth(validator), RequireRole(models.RoleAdmin), func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"user": c.GetString(UserIDKey)})
	})

	tests := []struct {
		name   string
		header string
		want   int
	}{
		{"missing header", "", http.StatusUnauthorized},
		{"wrong scheme", "Basic admin-token", http.StatusUnauthorized},
		{"unknown token", "Bearer nope", http.StatusUnauthorized},
		{"not admin", "Bearer member-token", http.StatusForbidden},
		{"admin", "Bearer admin-token", http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			headers := map[string]string{}
			if tt.header != "" {
				headers["Authorization"] = tt.header
			}
			w := do(r, http.MethodGet, "/admin", headers)
			assert.Equal(t, tt.want, w.Code)
		})
	}
}
