package service

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	auditdomain "github.com/smallbiznis/wipline/internal/audit/domain"
	"github.com/smallbiznis/wipline/internal/audit/repository"
	"github.com/smallbiznis/wipline/pkg/db/pagination"
	"github.com/smallbiznis/wipline/pkg/tenantctx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type auditFixture struct {
	svc      auditdomain.Service
	db       *gorm.DB
	genID    *snowflake.Node
	tenantID snowflake.ID
	ctx      context.Context
}

func newAuditFixture(t *testing.T) *auditFixture {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	require.NoError(t, db.AutoMigrate(&auditdomain.AuditLog{}))

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	tenantID := node.Generate()

	svc := NewService(Params{
		DB:    db,
		Log:   zap.NewNop(),
		GenID: node,
		Repo:  repository.Provide(),
	})

	return &auditFixture{
		svc:      svc,
		db:       db,
		genID:    node,
		tenantID: tenantID,
		ctx:      tenantctx.WithTenantID(context.Background(), int64(tenantID)),
	}
}

func (f *auditFixture) insertLog(t *testing.T, action string, createdAt time.Time) snowflake.ID {
	t.Helper()
	entry := auditdomain.AuditLog{
		ID:         f.genID.Generate(),
		TenantID:   &f.tenantID,
		ActorType:  string(auditdomain.ActorTypeSystem),
		Action:     action,
		TargetType: "invoice",
		CreatedAt:  createdAt,
	}
	require.NoError(t, f.db.Create(&entry).Error)
	return entry.ID
}

func TestAuditLog_ResolvesActorAndTenantFromContext(t *testing.T) {
	f := newAuditFixture(t)
	ctx := tenantctx.WithActor(f.ctx, tenantctx.ActorTypeAPIToken, "token-1")

	err := f.svc.AuditLog(ctx, nil, "", nil, "invoice.generated", "invoice", nil, map[string]any{
		"number": "INV-000001",
	})
	require.NoError(t, err)

	var entry auditdomain.AuditLog
	require.NoError(t, f.db.First(&entry).Error)
	require.NotNil(t, entry.TenantID)
	assert.Equal(t, f.tenantID, *entry.TenantID)
	assert.Equal(t, tenantctx.ActorTypeAPIToken, entry.ActorType)
	require.NotNil(t, entry.ActorID)
	assert.Equal(t, "token-1", *entry.ActorID)
	assert.Equal(t, "invoice.generated", entry.Action)
}

func TestAuditLog_RejectsEmptyAction(t *testing.T) {
	f := newAuditFixture(t)

	err := f.svc.AuditLog(f.ctx, nil, "", nil, "   ", "invoice", nil, nil)
	assert.ErrorIs(t, err, auditdomain.ErrInvalidAction)
}

func TestList_PaginatesWithCursor(t *testing.T) {
	f := newAuditFixture(t)
	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	f.insertLog(t, "invoice.generated", base)
	f.insertLog(t, "invoice.generated", base.Add(time.Minute))
	newestID := f.insertLog(t, "invoice.generated", base.Add(2*time.Minute))

	first, err := f.svc.List(f.ctx, auditdomain.ListAuditLogRequest{
		Pagination: pagination.Pagination{PageSize: 2},
	})
	require.NoError(t, err)
	require.Len(t, first.AuditLogs, 2)
	assert.True(t, first.HasMore)
	assert.NotEmpty(t, first.NextPageToken)
	assert.Equal(t, newestID, first.AuditLogs[0].ID)

	second, err := f.svc.List(f.ctx, auditdomain.ListAuditLogRequest{
		Pagination: pagination.Pagination{PageSize: 2, PageToken: first.NextPageToken},
	})
	require.NoError(t, err)
	require.Len(t, second.AuditLogs, 1)
	assert.False(t, second.HasMore)
}

func TestList_FiltersAndValidation(t *testing.T) {
	f := newAuditFixture(t)
	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	f.insertLog(t, "invoice.generated", base)
	f.insertLog(t, "jobs.nightly_run", base.Add(time.Minute))

	resp, err := f.svc.List(f.ctx, auditdomain.ListAuditLogRequest{Action: "jobs.nightly_run"})
	require.NoError(t, err)
	require.Len(t, resp.AuditLogs, 1)
	assert.Equal(t, "jobs.nightly_run", resp.AuditLogs[0].Action)

	_, err = f.svc.List(f.ctx, auditdomain.ListAuditLogRequest{
		Pagination: pagination.Pagination{PageToken: "!!not-base64!!"},
	})
	assert.ErrorIs(t, err, auditdomain.ErrInvalidPageToken)

	start := base.Add(time.Hour)
	end := base
	_, err = f.svc.List(f.ctx, auditdomain.ListAuditLogRequest{StartAt: &start, EndAt: &end})
	assert.ErrorIs(t, err, auditdomain.ErrInvalidTimeRange)

	_, err = f.svc.List(context.Background(), auditdomain.ListAuditLogRequest{})
	assert.ErrorIs(t, err, auditdomain.ErrInvalidTenant)
}
