package rbac

import (
	"context"
	"sort"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Service resolves permission grants from the role tables.
type Service struct {
	pool *pgxpool.Pool
}

// NewService constructs a Service backed by the provided pool.
func NewService(pool *pgxpool.Pool) *Service {
	return &Service{pool: pool}
}

// EffectivePermissions returns deduplicated permission names for a user.
func (s *Service) EffectivePermissions(ctx context.Context, userID int64) ([]string, error) {
	rows, err := s.pool.Query(ctx, `SELECT DISTINCT p.name
		FROM user_roles ur
		JOIN role_permissions rp ON rp.role_id = ur.role_id
		JOIN permissions p ON p.id = rp.permission_id
		WHERE ur.user_id = $1`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var perms []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		perms = append(perms, name)
	}
	return perms, rows.Err()
}

// RolePermissions returns the permission names granted to a role by name.
func (s *Service) RolePermissions(ctx context.Context, role string) ([]string, error) {
	rows, err := s.pool.Query(ctx, `SELECT p.name
		FROM roles r
		JOIN role_permissions rp ON rp.role_id = r.id
		JOIN permissions p ON p.id = rp.permission_id
		WHERE lower(r.name) = lower($1)`, strings.TrimSpace(role))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var perms []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		perms = append(perms, name)
	}
	return perms, rows.Err()
}

// PermissionsFor merges the user's own grants with those of the role the
// gateway asserted.
func (s *Service) PermissionsFor(ctx context.Context, userID int64, role string) ([]string, error) {
	own, err := s.EffectivePermissions(ctx, userID)
	if err != nil {
		return nil, err
	}
	var fromRole []string
	if strings.TrimSpace(role) != "" {
		if fromRole, err = s.RolePermissions(ctx, role); err != nil {
			return nil, err
		}
	}
	return mergePermissions(own, fromRole), nil
}

func mergePermissions(sets ...[]string) []string {
	seen := make(map[string]struct{})
	var out []string
	for _, set := range sets {
		for _, p := range set {
			p = strings.ToLower(strings.TrimSpace(p))
			if p == "" {
				continue
			}
			if _, ok := seen[p]; ok {
				continue
			}
			seen[p] = struct{}{}
			out = append(out, p)
		}
	}
	sort.Strings(out)
	return out
}
