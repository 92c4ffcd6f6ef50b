package bomstore_test

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/require"

	"github.com/Mindburn-Labs/bomforge/core/pkg/bomstore"
	"github.com/Mindburn-Labs/bomforge/core/pkg/model"
	"github.com/Mindburn-Labs/bomforge/core/pkg/tenantauth"
)

func TestStore_GetNotFoundAcrossOrganizations(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	s := bomstore.NewStore(db)
	rows := sqlmock.NewRows([]string{"id", "organization_id", "project_id", "name", "source", "status", "total_items", "uploaded_by", "created_at", "metadata"}).
		AddRow("bom-1", "org-other", "", "widget.csv", model.SourceCustomer, model.BOMParsed, 1, "u1", time.Now(), []byte("{}"))
	mock.ExpectQuery("SELECT id, organization_id").WithArgs("bom-1").WillReturnRows(rows)

	ac := tenantauth.Context{OrganizationID: "org-mine", Role: tenantauth.RoleEngineer}
	_, err = s.Get(context.Background(), ac, "bom-1")
	require.ErrorIs(t, err, bomstore.ErrNotFound)
}

func TestStore_GetMissingRow(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	s := bomstore.NewStore(db)
	mock.ExpectQuery("SELECT id, organization_id").WithArgs("bom-404").WillReturnError(sql.ErrNoRows)

	ac := tenantauth.Context{OrganizationID: "org-mine"}
	_, err = s.Get(context.Background(), ac, "bom-404")
	require.ErrorIs(t, err, bomstore.ErrNotFound)
}

func bomRow(id, org string) *sqlmock.Rows {
	return sqlmock.NewRows([]string{"id", "organization_id", "project_id", "name", "source", "status", "total_items", "uploaded_by", "created_at", "metadata"}).
		AddRow(id, org, "", "widget.csv", model.SourceCustomer, model.BOMCompleted, 2, "u1", time.Now(), []byte("{}"))
}

func TestStore_DeleteRequiresAdminAndReason(t *testing.T) {
	db, _, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	s := bomstore.NewStore(db)
	engineer := tenantauth.Context{UserID: "u1", OrganizationID: "org-mine", Role: tenantauth.RoleEngineer}
	require.ErrorIs(t, s.Delete(context.Background(), engineer, "bom-1", "cleanup"), tenantauth.ErrForbidden)

	admin := tenantauth.Context{UserID: "u2", OrganizationID: "org-mine", Role: tenantauth.RoleAdmin}
	require.Error(t, s.Delete(context.Background(), admin, "bom-1", ""), "empty reason must be rejected")
}

func TestStore_DeleteWritesAuditRecordThenCascades(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	s := bomstore.NewStore(db)
	mock.ExpectQuery("SELECT id, organization_id").WithArgs("bom-1").WillReturnRows(bomRow("bom-1", "org-mine"))
	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO admin_audit_log").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("DELETE FROM enrichment_events").WithArgs("bom-1").WillReturnResult(sqlmock.NewResult(0, 3))
	mock.ExpectExec("DELETE FROM bom_line_items").WithArgs("bom-1").WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectExec("DELETE FROM boms").WithArgs("bom-1").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	admin := tenantauth.Context{UserID: "u2", OrganizationID: "org-mine", Role: tenantauth.RoleAdmin}
	require.NoError(t, s.Delete(context.Background(), admin, "bom-1", "customer data purge request"))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_DeleteAbortsWhenAuditRecordFails(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	s := bomstore.NewStore(db)
	mock.ExpectQuery("SELECT id, organization_id").WithArgs("bom-1").WillReturnRows(bomRow("bom-1", "org-mine"))
	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO admin_audit_log").WillReturnError(sql.ErrConnDone)
	mock.ExpectRollback()

	admin := tenantauth.Context{UserID: "u2", OrganizationID: "org-mine", Role: tenantauth.RoleAdmin}
	err = s.Delete(context.Background(), admin, "bom-1", "purge")
	require.Error(t, err, "deletion must fail closed when the audit record cannot persist")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_LatestEnrichmentScopedByTenant(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	s := bomstore.NewStore(db)
	mock.ExpectQuery("SELECT id, organization_id").WithArgs("bom-1").WillReturnRows(bomRow("bom-1", "org-other"))

	ac := tenantauth.Context{OrganizationID: "org-mine", Role: tenantauth.RoleAnalyst}
	_, err = s.LatestEnrichment(context.Background(), ac, "bom-1")
	require.ErrorIs(t, err, bomstore.ErrNotFound, "cross-tenant reads look like missing rows")
}

func TestStore_CountScopesByOrganization(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	s := bomstore.NewStore(db)
	mock.ExpectQuery("SELECT COUNT").WithArgs("org-mine").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(7))

	ac := tenantauth.Context{OrganizationID: "org-mine", Role: tenantauth.RoleAnalyst}
	n, err := s.Count(context.Background(), ac)
	require.NoError(t, err)
	require.Equal(t, 7, n)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_CreateRejectsMismatchedOrganization(t *testing.T) {
	db, _, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	s := bomstore.NewStore(db)
	ac := tenantauth.Context{OrganizationID: "org-mine", Role: tenantauth.RoleEngineer}
	bom := &model.BOM{OrganizationID: "org-other", Name: "widget.csv", Source: model.SourceCustomer, Status: model.BOMParsed}

	err = s.Create(context.Background(), ac, bom, nil)
	require.ErrorIs(t, err, tenantauth.ErrForbidden)
}
