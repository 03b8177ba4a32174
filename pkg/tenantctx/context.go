// Package tenantctx carries request identity (tenant, role, actor) through
// context. Every query in the system is tenant-scoped; services read the
// tenant from here rather than from handler arguments.
package tenantctx

import "context"

type keyType string

const (
	tenantIDKey  keyType = "tenant_id"
	roleKey      keyType = "role"
	actorTypeKey keyType = "actor_type"
	actorIDKey   keyType = "actor_id"
)

// Finance roles recognised by the suite. Resolution happens at the identity
// boundary; services only ever see the resolved role string.
const (
	RolePartner         = "partner"
	RoleFinanceDirector = "finance_director"
	RoleStaffAccountant = "staff_accountant"
	RoleProjectManager  = "project_manager"

	ActorTypeSystem   = "system"
	ActorTypeAPIToken = "api_token"
)

func WithTenantID(ctx context.Context, id int64) context.Context {
	return context.WithValue(ctx, tenantIDKey, id)
}

func TenantID(ctx context.Context) (int64, bool) {
	id, ok := ctx.Value(tenantIDKey).(int64)
	return id, ok
}

func WithRole(ctx context.Context, role string) context.Context {
	if role == "" {
		return ctx
	}
	return context.WithValue(ctx, roleKey, role)
}

func Role(ctx context.Context) (string, bool) {
	role, ok := ctx.Value(roleKey).(string)
	return role, ok
}

// WithActor records who is acting (a resolved API token or the system
// itself) for audit attribution.
func WithActor(ctx context.Context, actorType, actorID string) context.Context {
	ctx = context.WithValue(ctx, actorTypeKey, actorType)
	return context.WithValue(ctx, actorIDKey, actorID)
}

func Actor(ctx context.Context) (actorType, actorID string) {
	if v, ok := ctx.Value(actorTypeKey).(string); ok {
		actorType = v
	}
	if v, ok := ctx.Value(actorIDKey).(string); ok {
		actorID = v
	}
	return actorType, actorID
}
