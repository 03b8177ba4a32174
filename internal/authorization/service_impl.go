package authorization

import (
	"context"
	_ "embed"
	"fmt"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/casbin/casbin/v2"
	"github.com/casbin/casbin/v2/model"
	gormadapter "github.com/casbin/gorm-adapter/v3"
	auditdomain "github.com/smallbiznis/wipline/internal/audit/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

//go:embed model.conf
var modelText string

const (
	ObjectWip       = "wip"
	ObjectInvoice   = "invoice"
	ObjectTimesheet = "timesheet"
	ObjectProject   = "project"
	ObjectJob       = "job"
	ObjectAuditLog  = "audit_log"
	ObjectAPIToken  = "api_token"
)

const (
	ActionWipView      = "wip.view"
	ActionWipCalculate = "wip.calculate"

	ActionInvoiceView        = "invoice.view"
	ActionInvoiceGenerate    = "invoice.generate"
	ActionInvoiceDownload    = "invoice.download"
	ActionInvoiceSend        = "invoice.send"
	ActionInvoiceMarkOverdue = "invoice.mark_overdue"

	ActionTimesheetView = "timesheet.view"
	ActionProjectView   = "project.view"

	ActionJobRun = "job.run"

	ActionAuditLogView = "audit_log.view"

	ActionAPITokenView   = "api_token.view"
	ActionAPITokenCreate = "api_token.create"
	ActionAPITokenRevoke = "api_token.revoke"
)

type Params struct {
	fx.In

	DB       *gorm.DB
	Log      *zap.Logger
	Enforcer *casbin.SyncedEnforcer
	AuditSvc auditdomain.Service `optional:"true"`
}

type ServiceImpl struct {
	db       *gorm.DB
	log      *zap.Logger
	enforcer *casbin.SyncedEnforcer
	auditSvc auditdomain.Service
}

func NewEnforcer(db *gorm.DB) (*casbin.SyncedEnforcer, error) {
	adapter, err := gormadapter.NewAdapterByDB(db)
	if err != nil {
		return nil, err
	}
	m, err := model.NewModelFromString(modelText)
	if err != nil {
		return nil, err
	}
	enforcer, err := casbin.NewSyncedEnforcer(m, adapter)
	if err != nil {
		return nil, err
	}
	enforcer.EnableAutoSave(true)
	enforcer.EnableAutoBuildRoleLinks(true)
	if err := enforcer.LoadPolicy(); err != nil {
		return nil, err
	}
	if err := seedPolicies(enforcer); err != nil {
		return nil, err
	}
	enforcer.BuildRoleLinks()
	return enforcer, nil
}

func NewService(p Params) Service {
	return &ServiceImpl{
		db:       p.DB,
		log:      p.Log.Named("authorization.service"),
		enforcer: p.Enforcer,
		auditSvc: p.AuditSvc,
	}
}

func (s *ServiceImpl) Authorize(ctx context.Context, actor string, tenantID string, object string, action string) error {
	actor = strings.TrimSpace(actor)
	if actor == "" {
		return ErrInvalidActor
	}
	tenantID = strings.TrimSpace(tenantID)
	if tenantID == "" {
		return ErrInvalidTenant
	}
	object = strings.TrimSpace(object)
	if object == "" {
		return ErrInvalidObject
	}
	action = strings.TrimSpace(action)
	if action == "" {
		return ErrInvalidAction
	}

	subject, roleName, actorType, actorID, err := s.resolveActor(ctx, actor, tenantID)
	if err != nil {
		s.auditDenied(ctx, actorType, actorID, tenantID, object, action)
		return err
	}

	domain := fmt.Sprintf("tenant:%s", tenantID)
	if err := s.ensureGrouping(subject, roleName, domain); err != nil {
		return err
	}

	allowed, err := s.enforcer.Enforce(subject, domain, object, action)
	if err != nil {
		return err
	}
	if !allowed {
		s.auditDenied(ctx, actorType, actorID, tenantID, object, action)
		return ErrForbidden
	}

	if shouldAuditGrant(action) {
		s.auditGranted(ctx, actorType, actorID, tenantID, object, action)
	}
	return nil
}

func (s *ServiceImpl) resolveActor(ctx context.Context, actor string, tenantID string) (string, string, string, *string, error) {
	if actor == "system" {
		roleName := "role:system"
		return actor, roleName, "system", nil, nil
	}
	if strings.HasPrefix(actor, "api_token:") {
		// API tokens carry their finance role on the token row.
		tokenIDRaw := strings.TrimPrefix(actor, "api_token:")
		tokenID, err := snowflake.ParseString(tokenIDRaw)
		if err != nil || tokenID == 0 {
			return "", "", "", nil, ErrInvalidActor
		}
		tokenIDStr := tokenID.String()
		parsedTenantID, err := snowflake.ParseString(tenantID)
		if err != nil || parsedTenantID == 0 {
			return actor, "", "api_token", &tokenIDStr, ErrInvalidTenant
		}
		role, err := s.roleForToken(ctx, parsedTenantID, tokenID)
		if err != nil {
			return actor, "", "api_token", &tokenIDStr, err
		}
		roleName := fmt.Sprintf("role:%s", strings.ToLower(role))
		return actor, roleName, "api_token", &tokenIDStr, nil
	}
	if strings.HasPrefix(actor, "user:") {
		userIDRaw := strings.TrimPrefix(actor, "user:")
		userID, err := snowflake.ParseString(userIDRaw)
		if err != nil || userID == 0 {
			return "", "", "", nil, ErrInvalidActor
		}
		parsedTenantID, err := snowflake.ParseString(tenantID)
		userIDStr := userID.String()
		if err != nil || parsedTenantID == 0 {
			return actor, "", "user", &userIDStr, ErrInvalidTenant
		}
		role, err := s.roleForUser(ctx, parsedTenantID, userID)
		if err != nil {
			return actor, "", "user", &userIDStr, err
		}
		roleName := fmt.Sprintf("role:%s", strings.ToLower(role))
		return actor, roleName, "user", &userIDStr, nil
	}
	return "", "", "", nil, ErrInvalidActor
}

func (s *ServiceImpl) roleForToken(ctx context.Context, tenantID snowflake.ID, tokenID snowflake.ID) (string, error) {
	var row struct {
		Role string `gorm:"column:role"`
	}
	if err := s.db.WithContext(ctx).Raw(
		`SELECT role
		 FROM api_tokens
		 WHERE tenant_id = ? AND id = ? AND revoked_at IS NULL
		 LIMIT 1`,
		tenantID,
		tokenID,
	).Scan(&row).Error; err != nil {
		return "", err
	}

	role := strings.TrimSpace(row.Role)
	if role == "" {
		return "", ErrForbidden
	}
	return role, nil
}

func (s *ServiceImpl) roleForUser(ctx context.Context, tenantID snowflake.ID, userID snowflake.ID) (string, error) {
	var row struct {
		Role string `gorm:"column:role"`
	}
	if err := s.db.WithContext(ctx).Raw(
		`SELECT role
		 FROM tenant_members
		 WHERE tenant_id = ? AND user_id = ?
		 LIMIT 1`,
		tenantID,
		userID,
	).Scan(&row).Error; err != nil {
		return "", err
	}

	role := strings.TrimSpace(row.Role)
	if role == "" {
		return "", ErrForbidden
	}
	return role, nil
}

func (s *ServiceImpl) ensureGrouping(subject string, roleName string, domain string) error {
	existing, err := s.enforcer.GetFilteredGroupingPolicy(0, subject, "", domain)
	if err != nil {
		return err
	}
	for _, rule := range existing {
		if len(rule) < 2 {
			continue
		}
		if rule[1] != roleName {
			params := make([]interface{}, 0, len(rule))
			for _, value := range rule {
				params = append(params, value)
			}
			_, _ = s.enforcer.RemoveGroupingPolicy(params...)
		}
	}

	has, err := s.enforcer.HasGroupingPolicy(subject, roleName, domain)
	if err != nil {
		return err
	}
	if has {
		return nil
	}
	_, err = s.enforcer.AddGroupingPolicy(subject, roleName, domain)
	return err
}

func (s *ServiceImpl) auditDenied(ctx context.Context, actorType string, actorID *string, tenantID string, object string, action string) {
	if s.auditSvc == nil {
		return
	}
	parsedTenantID, err := snowflake.ParseString(tenantID)
	if err != nil || parsedTenantID == 0 {
		return
	}
	targetID := "capability"
	_ = s.auditSvc.AuditLog(ctx, &parsedTenantID, actorType, actorID, "authorization.denied", "authorization", &targetID, map[string]any{
		"object":    object,
		"action":    action,
		"actor":     actorType,
		"tenant_id": tenantID,
	})
}

func (s *ServiceImpl) auditGranted(ctx context.Context, actorType string, actorID *string, tenantID string, object string, action string) {
	if s.auditSvc == nil {
		return
	}
	parsedTenantID, err := snowflake.ParseString(tenantID)
	if err != nil || parsedTenantID == 0 {
		return
	}
	targetID := "capability"
	_ = s.auditSvc.AuditLog(ctx, &parsedTenantID, actorType, actorID, "authorization.granted", "authorization", &targetID, map[string]any{
		"object":    object,
		"action":    action,
		"actor":     actorType,
		"tenant_id": tenantID,
	})
}

func shouldAuditGrant(action string) bool {
	switch action {
	case ActionInvoiceGenerate, ActionAPITokenCreate, ActionAPITokenRevoke:
		return true
	default:
		return false
	}
}

func seedPolicies(enforcer *casbin.SyncedEnforcer) error {
	policies := [][]string{
		// Project managers see WIP for their projects but never touch invoicing.
		{"role:project_manager", ObjectWip, ActionWipView},
		{"role:project_manager", ObjectTimesheet, ActionTimesheetView},
		{"role:project_manager", ObjectProject, ActionProjectView},

		// Staff accountants prepare WIP and read invoices.
		{"role:staff_accountant", ObjectWip, ActionWipView},
		{"role:staff_accountant", ObjectWip, ActionWipCalculate},
		{"role:staff_accountant", ObjectTimesheet, ActionTimesheetView},
		{"role:staff_accountant", ObjectProject, ActionProjectView},
		{"role:staff_accountant", ObjectInvoice, ActionInvoiceView},
		{"role:staff_accountant", ObjectInvoice, ActionInvoiceDownload},

		// Finance directors own the billing workflow.
		{"role:finance_director", ObjectWip, ActionWipView},
		{"role:finance_director", ObjectWip, ActionWipCalculate},
		{"role:finance_director", ObjectTimesheet, ActionTimesheetView},
		{"role:finance_director", ObjectProject, ActionProjectView},
		{"role:finance_director", ObjectInvoice, ActionInvoiceView},
		{"role:finance_director", ObjectInvoice, ActionInvoiceGenerate},
		{"role:finance_director", ObjectInvoice, ActionInvoiceDownload},
		{"role:finance_director", ObjectInvoice, ActionInvoiceSend},
		{"role:finance_director", ObjectAuditLog, ActionAuditLogView},

		// Partners hold every capability including token administration.
		{"role:partner", ObjectWip, ActionWipView},
		{"role:partner", ObjectWip, ActionWipCalculate},
		{"role:partner", ObjectTimesheet, ActionTimesheetView},
		{"role:partner", ObjectProject, ActionProjectView},
		{"role:partner", ObjectInvoice, ActionInvoiceView},
		{"role:partner", ObjectInvoice, ActionInvoiceGenerate},
		{"role:partner", ObjectInvoice, ActionInvoiceDownload},
		{"role:partner", ObjectInvoice, ActionInvoiceSend},
		{"role:partner", ObjectInvoice, ActionInvoiceMarkOverdue},
		{"role:partner", ObjectAuditLog, ActionAuditLogView},
		{"role:partner", ObjectAPIToken, ActionAPITokenView},
		{"role:partner", ObjectAPIToken, ActionAPITokenCreate},
		{"role:partner", ObjectAPIToken, ActionAPITokenRevoke},

		// The nightly scheduler and internal jobs run as system.
		{"role:system", ObjectWip, ActionWipView},
		{"role:system", ObjectWip, ActionWipCalculate},
		{"role:system", ObjectInvoice, ActionInvoiceView},
		{"role:system", ObjectInvoice, ActionInvoiceGenerate},
		{"role:system", ObjectInvoice, ActionInvoiceMarkOverdue},
		{"role:system", ObjectJob, ActionJobRun},
	}

	for _, policy := range policies {
		if len(policy) < 3 {
			continue
		}
		if _, err := enforcer.AddPolicy(policy); err != nil {
			return err
		}
	}
	return nil
}
