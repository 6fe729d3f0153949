package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/smadigital/cbt-backend/internal/model"
	"github.com/smadigital/cbt-backend/internal/response"
	"github.com/smadigital/cbt-backend/internal/service"
)

// RouteCapability declares what a route requires. Routes carry data; the
// guard carries the decision logic.
type RouteCapability struct {
	RequiresAuth bool
	Roles        []model.Role // empty means any authenticated role
}

// Verdict is the guard's decision for one request.
type Verdict int

const (
	VerdictAllow Verdict = iota
	VerdictUnauthenticated
	VerdictRoleMismatch
)

// Decide evaluates a capability against the (possibly nil) claims of the
// current request. Pure function: same inputs, same verdict, no side
// effects. Unauthenticated always wins over role mismatch so the client
// knows to log in rather than to switch accounts.
func Decide(cap RouteCapability, claims *service.Claims) Verdict {
	if !cap.RequiresAuth {
		return VerdictAllow
	}
	if claims == nil {
		return VerdictUnauthenticated
	}
	if len(cap.Roles) == 0 {
		return VerdictAllow
	}
	for _, role := range cap.Roles {
		if claims.Role == role {
			return VerdictAllow
		}
	}
	return VerdictRoleMismatch
}

// Guard enforces a RouteCapability. A role mismatch is answered with the
// caller's own dashboard path so the client can bounce them home instead of
// showing a dead end. The handler chain is aborted before any service call.
func Guard(cap RouteCapability) gin.HandlerFunc {
	return func(c *gin.Context) {
		claims := GetClaims(c)

		switch Decide(cap, claims) {
		case VerdictAllow:
			c.Next()
		case VerdictUnauthenticated:
			response.AbortFail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		case VerdictRoleMismatch:
			response.AbortFailWithRedirect(c, http.StatusForbidden, response.ErrRoleMismatch, claims.Role.DashboardPath())
		}
	}
}
