package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spec-kit/helpdesk-engine/internal/domain"
	apperrors "github.com/spec-kit/helpdesk-engine/pkg/util/errorutil"
)

func TestTokenRoundTrip(t *testing.T) {
	tm := NewTokenManager("secret", 5)
	in := &domain.Actor{ID: 12, TenantID: 3, BusinessUnitID: 4, Name: "dana", Role: domain.RoleLead,
		Permissions: []string{string(ActionAssignTicket)}}

	token, _, err := tm.GenerateToken(in)
	require.NoError(t, err)

	claims, err := tm.ParseToken(token)
	require.NoError(t, err)
	out, err := claims.Actor()
	require.NoError(t, err)
	assert.Equal(t, in, out)

	_, err = NewTokenManager("other", 5).ParseToken(token)
	assert.Error(t, err)
}

func newTestApp(tm *TokenManager) *fiber.App {
	app := fiber.New(fiber.Config{ErrorHandler: func(c *fiber.Ctx, err error) error {
		de := apperrors.ToDomainError(err)
		return c.Status(de.HTTPStatus).JSON(fiber.Map{"code": de.Code})
	}})
	mw := NewAuthMiddleware(tm)
	app.Get("/me", mw.Handle, RequireRole(domain.RoleLead), func(c *fiber.Ctx) error {
		actor, _ := ActorFromContext(c)
		return c.JSON(fiber.Map{"id": actor.ID})
	})
	return app
}

func TestMiddleware(t *testing.T) {
	tm := NewTokenManager("secret", 5)
	app := newTestApp(tm)

	lead, _, err := tm.GenerateToken(&domain.Actor{ID: 1, TenantID: 1, Role: domain.RoleLead})
	require.NoError(t, err)
	agent, _, err := tm.GenerateToken(&domain.Actor{ID: 2, TenantID: 1, Role: domain.RoleAgent})
	require.NoError(t, err)

	cases := []struct {
		name   string
		header string
		status int
	}{
		{"missing header", "", http.StatusUnauthorized},
		{"wrong scheme", "Basic abc", http.StatusUnauthorized},
		{"garbage token", "Bearer nope", http.StatusUnauthorized},
		{"wrong role", "Bearer " + agent, http.StatusForbidden},
		{"ok", "Bearer " + lead, http.StatusOK},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/me", nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			resp, err := app.Test(req)
			require.NoError(t, err)
			assert.Equal(t, tc.status, resp.StatusCode)
		})
	}
}

func TestRolePermissionChecker(t *testing.T) {
	checker := NewRolePermissionChecker()
	scope := Scope{TenantID: 1, BusinessUnitID: 10}

	cases := []struct {
		name  string
		actor *domain.Actor
		want  bool
	}{
		{"nil actor", nil, false},
		{"superuser other tenant", &domain.Actor{TenantID: 9, IsSuperuser: true}, true},
		{"admin same tenant other unit", &domain.Actor{TenantID: 1, BusinessUnitID: 11, Role: domain.RoleAdmin}, true},
		{"admin other tenant", &domain.Actor{TenantID: 2, Role: domain.RoleAdmin}, false},
		{"agent with grant", &domain.Actor{TenantID: 1, BusinessUnitID: 10, Permissions: []string{"helpdesk.assign_ticket"}}, true},
		{"agent with grant other unit", &domain.Actor{TenantID: 1, BusinessUnitID: 11, Permissions: []string{"helpdesk.assign_ticket"}}, false},
		{"agent without grant", &domain.Actor{TenantID: 1, BusinessUnitID: 10, Permissions: []string{"helpdesk.change_ticket"}}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, checker.HasPermission(tc.actor, ActionAssignTicket, scope))
		})
	}
}
