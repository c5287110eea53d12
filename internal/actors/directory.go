package actors

import (
	"context"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/signal-pipeline/internal/model"
)

// RoleStore looks up explicit role assignments.
type RoleStore interface {
	ActorRole(ctx context.Context, workspaceID, email string) (string, error)
	SetActorRole(ctx context.Context, workspaceID, email, role string) error
}

// Directory resolves actor roles from explicit assignments, falling back to
// the email domain.
type Directory struct {
	store           RoleStore
	cache           Cache[string, model.ActorRole]
	internalDomains map[string]bool
}

// NewDirectory builds a Directory. A nil cache disables caching.
func NewDirectory(store RoleStore, cache Cache[string, model.ActorRole], internalDomains []string) *Directory {
	domains := make(map[string]bool, len(internalDomains))
	for _, d := range internalDomains {
		d = strings.ToLower(strings.TrimPrefix(strings.TrimSpace(d), "@"))
		if d != "" {
			domains[d] = true
		}
	}
	return &Directory{store: store, cache: cache, internalDomains: domains}
}

// Resolve returns the role of email within a workspace. An explicit
// assignment wins; otherwise addresses on an internal domain are internal,
// other addresses are customers, and a missing address is unknown.
func (d *Directory) Resolve(ctx context.Context, workspaceID, email string) (model.ActorRole, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		return model.RoleUnknown, nil
	}
	key := cacheKey(workspaceID, email)
	if d.cache != nil {
		if role, ok := d.cache.Get(key); ok {
			return role, nil
		}
	}

	stored, err := d.store.ActorRole(ctx, workspaceID, email)
	if err != nil {
		return model.RoleUnknown, eris.Wrapf(err, "actors: resolve %s", email)
	}

	role := model.ParseActorRole(stored)
	if stored == "" {
		role = d.byDomain(email)
	}
	if d.cache != nil {
		d.cache.Set(key, role)
	}
	return role, nil
}

// Assign records an explicit role and drops any cached resolution.
func (d *Directory) Assign(ctx context.Context, workspaceID, email string, role model.ActorRole) error {
	email = strings.ToLower(strings.TrimSpace(email))
	if err := d.store.SetActorRole(ctx, workspaceID, email, string(role)); err != nil {
		return eris.Wrapf(err, "actors: assign %s", email)
	}
	if d.cache != nil {
		d.cache.Evict(cacheKey(workspaceID, email))
	}
	zap.L().Info("actor role assigned",
		zap.String("workspace_id", workspaceID),
		zap.String("email", email),
		zap.String("role", string(role)),
	)
	return nil
}

func (d *Directory) byDomain(email string) model.ActorRole {
	at := strings.LastIndexByte(email, '@')
	if at < 0 || at == len(email)-1 {
		return model.RoleUnknown
	}
	domain := email[at+1:]
	for domain != "" {
		if d.internalDomains[domain] {
			return model.RoleInternal
		}
		dot := strings.IndexByte(domain, '.')
		if dot < 0 {
			break
		}
		domain = domain[dot+1:]
	}
	return model.RoleCustomer
}

func cacheKey(workspaceID, email string) string {
	return workspaceID + "\x00" + email
}
