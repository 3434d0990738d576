package services

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"referral-tracking-system/models"
)

func newWebhookService(t *testing.T) (*WebhookService, sqlmock.Sqlmock) {
	t.Helper()
	gdb, mock := newMockDB(t)
	return NewWebhookService(gdb, NewEventService(gdb)), mock
}

func eventRows(id string) *sqlmock.Rows {
	return sqlmock.NewRows([]string{"id", "tenant_id", "type", "payload", "created_at"}).
		AddRow(id, "t1", models.EventReferralClaimed, `{"referral_id":"r1"}`, time.Now())
}

func TestEnqueueRequiresConfiguredWebhook(t *testing.T) {
	svc, mock := newWebhookService(t)

	tenant := testTenant()
	tenant.WebhookURL = ""

	_, err := svc.Enqueue(context.Background(), tenant, "ev-1")
	assert.ErrorIs(t, err, ErrWebhookNotConfigured)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestEnqueueUnknownEvent(t *testing.T) {
	svc, mock := newWebhookService(t)

	mock.ExpectQuery(`SELECT \* FROM "domain_events"`).
		WithArgs("t1", "ev-missing", 1).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	_, err := svc.Enqueue(context.Background(), testTenant(), "ev-missing")
	assert.ErrorIs(t, err, ErrEventNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestEnqueueCreatesPendingDelivery(t *testing.T) {
	svc, mock := newWebhookService(t)

	mock.ExpectQuery(`SELECT \* FROM "domain_events"`).
		WithArgs("t1", "ev-1", 1).
		WillReturnRows(eventRows("ev-1"))
	mock.ExpectExec(`INSERT INTO "webhook_deliveries"`).
		WillReturnResult(sqlmock.NewResult(0, 1))

	deliveryID, err := svc.Enqueue(context.Background(), testTenant(), "ev-1")
	require.NoError(t, err)
	assert.NotEmpty(t, deliveryID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

// Replay never touches prior rows: it only inserts a fresh delivery and an
// audit event.
func TestReplayInsertsNewRowAndAuditEvent(t *testing.T) {
	svc, mock := newWebhookService(t)

	mock.ExpectQuery(`SELECT \* FROM "domain_events"`).
		WithArgs("t1", "ev-1", 1).
		WillReturnRows(eventRows("ev-1"))
	mock.ExpectExec(`INSERT INTO "webhook_deliveries"`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`INSERT INTO "domain_events"`).
		WillReturnResult(sqlmock.NewResult(0, 1))

	deliveryID, err := svc.Replay(context.Background(), testTenant(), "ev-1")
	require.NoError(t, err)
	assert.NotEmpty(t, deliveryID)
	assert.NoError(t, mock.ExpectationsWereMet())
}
