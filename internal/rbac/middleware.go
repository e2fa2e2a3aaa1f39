package rbac

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/odyssey-erp/odyssey-payables/internal/platform/httpx"
	"github.com/odyssey-erp/odyssey-payables/internal/shared"
)

// Headers set by the authenticating gateway.
const (
	HeaderActorID   = "X-Actor-ID"
	HeaderActorRole = "X-Actor-Role"
)

// PermissionSource resolves the permission set of an actor.
type PermissionSource interface {
	PermissionsFor(ctx context.Context, userID int64, role string) ([]string, error)
}

// Middleware wires RBAC authorization helpers for HTTP handlers.
type Middleware struct {
	Permissions PermissionSource
	Logger      *slog.Logger
}

// ResolveActor reads the gateway headers, loads the actor's permissions and
// stores the ActorContext in the request context. Requests without an actor
// pass through unchanged and are refused later by RequireAny/RequireAll.
func (m Middleware) ResolveActor(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw := strings.TrimSpace(r.Header.Get(HeaderActorID))
		if raw == "" {
			next.ServeHTTP(w, r)
			return
		}
		userID, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || userID <= 0 {
			m.logger().Warn("rbac parse actor id", slog.String("value", raw))
			next.ServeHTTP(w, r)
			return
		}
		actor := shared.ActorContext{UserID: userID, Role: strings.TrimSpace(r.Header.Get(HeaderActorRole))}
		if m.Permissions != nil {
			perms, err := m.Permissions.PermissionsFor(r.Context(), userID, actor.Role)
			if err != nil {
				m.logger().Error("rbac resolve actor", slog.Int64("user_id", userID), slog.Any("error", err))
				httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
				return
			}
			actor.Permissions = perms
		}
		next.ServeHTTP(w, r.WithContext(shared.ContextWithActor(r.Context(), actor)))
	})
}

// RequireAny ensures the current actor has at least one of the required permissions.
func (m Middleware) RequireAny(perms ...string) func(http.Handler) http.Handler {
	normalized := normalizePermissions(perms)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if len(normalized) == 0 {
				next.ServeHTTP(w, r)
				return
			}
			actor, ok := shared.ActorFromContext(r.Context())
			if !ok {
				httpx.ProblemCode(w, http.StatusUnauthorized, "ACTOR_REQUIRED", "missing actor identity")
				return
			}
			if hasAnyPermission(actor.Permissions, normalized) {
				next.ServeHTTP(w, r)
				return
			}
			httpx.ProblemCode(w, http.StatusForbidden, "FORBIDDEN", "missing capability")
		})
	}
}

// RequireAll ensures the current actor has all required permissions.
func (m Middleware) RequireAll(perms ...string) func(http.Handler) http.Handler {
	normalized := normalizePermissions(perms)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if len(normalized) == 0 {
				next.ServeHTTP(w, r)
				return
			}
			actor, ok := shared.ActorFromContext(r.Context())
			if !ok {
				httpx.ProblemCode(w, http.StatusUnauthorized, "ACTOR_REQUIRED", "missing actor identity")
				return
			}
			if hasAllPermissions(actor.Permissions, normalized) {
				next.ServeHTTP(w, r)
				return
			}
			httpx.ProblemCode(w, http.StatusForbidden, "FORBIDDEN", "missing capability")
		})
	}
}

func (m Middleware) logger() *slog.Logger {
	if m.Logger != nil {
		return m.Logger
	}
	return slog.Default()
}

func normalizePermissions(perms []string) []string {
	unique := make(map[string]struct{}, len(perms))
	for _, p := range perms {
		p = strings.TrimSpace(strings.ToLower(p))
		if p == "" {
			continue
		}
		unique[p] = struct{}{}
	}
	normalized := make([]string, 0, len(unique))
	for p := range unique {
		normalized = append(normalized, p)
	}
	return normalized
}

func hasAnyPermission(granted []string, required []string) bool {
	if len(required) == 0 {
		return true
	}
	set := make(map[string]struct{}, len(granted))
	for _, p := range granted {
		set[strings.ToLower(p)] = struct{}{}
	}
	for _, r := range required {
		if _, ok := set[r]; ok {
			return true
		}
	}
	return false
}

func hasAllPermissions(granted []string, required []string) bool {
	if len(required) == 0 {
		return true
	}
	set := make(map[string]struct{}, len(granted))
	for _, p := range granted {
		set[strings.ToLower(p)] = struct{}{}
	}
	for _, r := range required {
		if _, ok := set[r]; !ok {
			return false
		}
	}
	return true
}
