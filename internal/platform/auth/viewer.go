package auth

import (
	"context"
	"net/http"

	"github.com/labstack/echo/v4"
)

const (
	RoleProfessional = "professional"
	RoleAssistant    = "assistant"
	RoleAdmin        = "admin"
)

// Viewer is the authenticated person looking at a dashboard.
type Viewer struct {
	ID   string `json:"id"`
	Role string `json:"role"`
	Name string `json:"name"`
}

// HomePath is the dashboard a viewer is sent to when they ask for one they
// do not own.
func (v Viewer) HomePath() string {
	switch v.Role {
	case RoleProfessional:
		return "/dashboard/professional/" + v.ID
	case RoleAssistant:
		return "/dashboard/assistant/" + v.ID
	case RoleAdmin:
		return "/dashboard/admin"
	default:
		return "/"
	}
}

// ViewerFromContext returns the viewer set by the auth middleware, or nil
// when the request is anonymous.
func ViewerFromContext(ctx context.Context) *Viewer {
	v, _ := ctx.Value(ViewerKey).(*Viewer)
	return v
}

// TokenFromContext returns the raw bearer token of the request.
func TokenFromContext(ctx context.Context) string {
	tok, _ := ctx.Value(TokenKey).(string)
	return tok
}

// WithViewer attaches a viewer and its token to ctx.
func WithViewer(ctx context.Context, v *Viewer, token string) context.Context {
	ctx = context.WithValue(ctx, ViewerKey, v)
	return context.WithValue(ctx, TokenKey, token)
}

// RequireViewer rejects anonymous requests with 401.
func RequireViewer() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if ViewerFromContext(c.Request().Context()) == nil {
				return echo.NewHTTPError(http.StatusUnauthorized, "authentication required")
			}
			return next(c)
		}
	}
}
