package services

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"referral-tracking-system/models"
)

// fakeLimiter lets tests flip the rate-limit outcome and observe which keys
// were counted, without a counter table.
type fakeLimiter struct {
	allowed     bool
	retryAfter  int
	checkedKeys []string
	bumpedKeys  []string
}

func (f *fakeLimiter) CheckAndIncrement(ctx context.Context, key string, limit int64, window time.Duration) (bool, int, error) {
	f.checkedKeys = append(f.checkedKeys, key)
	return f.allowed, f.retryAfter, nil
}

func (f *fakeLimiter) Increment(ctx context.Context, key string, window time.Duration) error {
	f.bumpedKeys = append(f.bumpedKeys, key)
	return nil
}

func testTenant() *models.Tenant {
	return &models.Tenant{
		ID:          "t1",
		Name:        "Acme",
		APIKey:      "k1",
		WebhookURL:  "https://acme.example.com/hooks",
		RewardRules: `{"referrer_amounts": {"free": 50, "pro": 200}, "referred_amount": 0, "currency": "AUD"}`,
	}
}

func newClaimService(t *testing.T) (*ClaimService, sqlmock.Sqlmock, *fakeLimiter) {
	t.Helper()
	gdb, mock := newMockDB(t)
	limiter := &fakeLimiter{allowed: true}
	events := NewEventService(gdb)
	svc := NewClaimService(gdb, NewLedgerService(gdb), events, limiter, NewWebhookService(gdb, events))
	return svc, mock, limiter
}

func referralRows(id string) *sqlmock.Rows {
	now := time.Now()
	return sqlmock.NewRows([]string{
		"id", "tenant_id", "referrer_user_id", "referred_external_user_id",
		"referral_code_used", "status", "created_at", "updated_at",
	}).AddRow(id, "t1", "u1-id", "u2", "REF123", "completed", now, now)
}

func userRows(id, externalID, code, tier string) *sqlmock.Rows {
	now := time.Now()
	return sqlmock.NewRows([]string{
		"id", "tenant_id", "external_user_id", "username", "tier", "referral_code", "created_at", "updated_at",
	}).AddRow(id, "t1", externalID, "", tier, code, now, now)
}

func TestClaimRejectsBadInput(t *testing.T) {
	svc, _, _ := newClaimService(t)

	cases := []ClaimRequest{
		{ReferralCode: "", ReferredUserID: "u2"},
		{ReferralCode: strings.Repeat("x", 65), ReferredUserID: "u2"},
		{ReferralCode: "REF123", ReferredUserID: ""},
		{ReferralCode: "REF123", ReferredUserID: strings.Repeat("x", 129)},
	}
	for _, req := range cases {
		_, err := svc.Claim(context.Background(), testTenant(), req)
		var claimErr *ClaimError
		require.ErrorAs(t, err, &claimErr, "req=%+v", req)
		assert.Equal(t, CodeInvalidRequest, claimErr.Code)
	}
}

func TestClaimRateLimited(t *testing.T) {
	svc, _, limiter := newClaimService(t)
	limiter.allowed = false
	limiter.retryAfter = 42

	_, err := svc.Claim(context.Background(), testTenant(), ClaimRequest{
		ReferralCode: "REF123", ReferredUserID: "u2", ClientIP: "1.2.3.4",
	})
	var claimErr *ClaimError
	require.ErrorAs(t, err, &claimErr)
	assert.Equal(t, CodeRateLimited, claimErr.Code)
	assert.Equal(t, 42, claimErr.RetryAfterSeconds)
	// The IP check runs first and fails fast; nothing else is counted.
	assert.Equal(t, []string{"claim:ip:1.2.3.4"}, limiter.checkedKeys)
}

func TestClaimIdempotentReplay(t *testing.T) {
	svc, mock, _ := newClaimService(t)

	mock.ExpectQuery(`SELECT \* FROM "referrals" WHERE tenant_id = \$1 AND referred_external_user_id = \$2`).
		WithArgs("t1", "u2", 1).
		WillReturnRows(referralRows("ref-1"))

	result, err := svc.Claim(context.Background(), testTenant(), ClaimRequest{
		ReferralCode: "REF123", ReferredUserID: "u2",
	})
	require.NoError(t, err)
	assert.True(t, result.AlreadyProcessed)
	assert.Equal(t, "ref-1", result.Referral.ID)
	// Rewards are never re-returned on replay.
	assert.Nil(t, result.ReferrerReward)
	assert.Nil(t, result.ReferredReward)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestClaimUnknownCode(t *testing.T) {
	svc, mock, limiter := newClaimService(t)

	mock.ExpectQuery(`SELECT \* FROM "referrals"`).
		WithArgs("t1", "u2", 1).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))
	mock.ExpectQuery(`SELECT \* FROM "users" WHERE tenant_id = \$1 AND referral_code = \$2`).
		WithArgs("t1", "NOPE", 1).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	_, err := svc.Claim(context.Background(), testTenant(), ClaimRequest{
		ReferralCode: "NOPE", ReferredUserID: "u2", ClientIP: "1.2.3.4",
	})
	var claimErr *ClaimError
	require.ErrorAs(t, err, &claimErr)
	assert.Equal(t, CodeReferralCodeNotFound, claimErr.Code)
	// Bad codes feed the per-IP abuse counter.
	assert.Equal(t, []string{"claim:badcode:ip:1.2.3.4"}, limiter.bumpedKeys)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestClaimSelfReferral(t *testing.T) {
	svc, mock, _ := newClaimService(t)

	mock.ExpectQuery(`SELECT \* FROM "referrals"`).
		WithArgs("t1", "u1", 1).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))
	mock.ExpectQuery(`SELECT \* FROM "users"`).
		WithArgs("t1", "REF123", 1).
		WillReturnRows(userRows("u1-id", "u1", "REF123", "pro"))

	_, err := svc.Claim(context.Background(), testTenant(), ClaimRequest{
		ReferralCode: "REF123", ReferredUserID: "u1",
	})
	var claimErr *ClaimError
	require.ErrorAs(t, err, &claimErr)
	assert.Equal(t, CodeSelfReferral, claimErr.Code)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestClaimCapReached(t *testing.T) {
	svc, mock, _ := newClaimService(t)
	tenant := testTenant()
	tenant.MaxReferralsPerReferrer = 3

	mock.ExpectQuery(`SELECT \* FROM "referrals"`).
		WithArgs("t1", "u2", 1).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))
	mock.ExpectQuery(`SELECT \* FROM "users"`).
		WithArgs("t1", "REF123", 1).
		WillReturnRows(userRows("u1-id", "u1", "REF123", "pro"))
	mock.ExpectQuery(`SELECT count\(\*\) FROM "referrals"`).
		WithArgs("t1", "u1-id").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(int64(3)))

	_, err := svc.Claim(context.Background(), tenant, ClaimRequest{
		ReferralCode: "REF123", ReferredUserID: "u2",
	})
	var claimErr *ClaimError
	require.ErrorAs(t, err, &claimErr)
	assert.Equal(t, CodeReferralCapReached, claimErr.Code)
	assert.NoError(t, mock.ExpectationsWereMet())
}

// First-time happy path, end to end through the transaction: pro-tier referrer
// earns 200 AUD, the referred side's zero bonus writes no ledger row, the
// claimed event is appended, and a delivery is enqueued post-commit.
func TestClaimFirstTimeGrantsRewards(t *testing.T) {
	svc, mock, _ := newClaimService(t)

	// Fast-path read: no prior referral.
	mock.ExpectQuery(`SELECT \* FROM "referrals"`).
		WithArgs("t1", "u2", 1).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))
	// Referrer lookup by code.
	mock.ExpectQuery(`SELECT \* FROM "users"`).
		WithArgs("t1", "REF123", 1).
		WillReturnRows(userRows("u1-id", "u1", "REF123", "pro"))

	// Atomic phase.
	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT \* FROM "referrals"`).
		WithArgs("t1", "u2", 1).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))
	mock.ExpectQuery(`SELECT \* FROM "users" WHERE tenant_id = \$1 AND external_user_id = \$2`).
		WithArgs("t1", "u2", 1).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))
	mock.ExpectExec(`INSERT INTO "users"`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`INSERT INTO "referrals"`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`INSERT INTO "reward_ledger_entries"`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`INSERT INTO "domain_events"`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	// Post-commit enqueue.
	mock.ExpectQuery(`SELECT \* FROM "domain_events"`).
		WillReturnRows(sqlmock.NewRows([]string{"id", "tenant_id", "type", "payload", "created_at"}).
			AddRow("ev-1", "t1", models.EventReferralClaimed, "{}", time.Now()))
	mock.ExpectExec(`INSERT INTO "webhook_deliveries"`).
		WillReturnResult(sqlmock.NewResult(0, 1))

	result, err := svc.Claim(context.Background(), testTenant(), ClaimRequest{
		ReferralCode: "REF123", ReferredUserID: "u2",
	})
	require.NoError(t, err)
	assert.False(t, result.AlreadyProcessed)
	require.NotNil(t, result.ReferrerReward)
	assert.Equal(t, int64(200), result.ReferrerReward.Amount)
	assert.Equal(t, "AUD", result.ReferrerReward.Currency)
	assert.Nil(t, result.ReferredReward)
	assert.Equal(t, "completed", string(result.Referral.Status))
	assert.NoError(t, mock.ExpectationsWereMet())
}

// A serialization failure aborts the first transaction; the claim retries
// once in-process and the caller never sees the conflict.
func TestClaimRetriesOnSerializationConflict(t *testing.T) {
	svc, mock, _ := newClaimService(t)

	mock.ExpectQuery(`SELECT \* FROM "referrals"`).
		WithArgs("t1", "u2", 1).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))
	mock.ExpectQuery(`SELECT \* FROM "users"`).
		WithArgs("t1", "REF123", 1).
		WillReturnRows(userRows("u1-id", "u1", "REF123", "free"))

	// First transaction loses the serialization race.
	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT \* FROM "referrals"`).
		WithArgs("t1", "u2", 1).
		WillReturnError(&pgconn.PgError{Code: "40001", Message: "could not serialize access"})
	mock.ExpectRollback()

	// The retry goes through cleanly.
	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT \* FROM "referrals"`).
		WithArgs("t1", "u2", 1).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))
	mock.ExpectQuery(`SELECT \* FROM "users" WHERE tenant_id = \$1 AND external_user_id = \$2`).
		WithArgs("t1", "u2", 1).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))
	mock.ExpectExec(`INSERT INTO "users"`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`INSERT INTO "referrals"`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`INSERT INTO "reward_ledger_entries"`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`INSERT INTO "domain_events"`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	mock.ExpectQuery(`SELECT \* FROM "domain_events"`).
		WillReturnRows(sqlmock.NewRows([]string{"id", "tenant_id", "type", "payload", "created_at"}).
			AddRow("ev-1", "t1", models.EventReferralClaimed, "{}", time.Now()))
	mock.ExpectExec(`INSERT INTO "webhook_deliveries"`).
		WillReturnResult(sqlmock.NewResult(0, 1))

	result, err := svc.Claim(context.Background(), testTenant(), ClaimRequest{
		ReferralCode: "REF123", ReferredUserID: "u2",
	})
	require.NoError(t, err)
	assert.False(t, result.AlreadyProcessed)
	require.NotNil(t, result.ReferrerReward)
	assert.Equal(t, int64(50), result.ReferrerReward.Amount)
	assert.NoError(t, mock.ExpectationsWereMet())
}

// Two conflicts in a row exhaust the in-process retry budget and surface
// RETRY_CLAIM; repeating the call is safe because the idempotency fast path
// absorbs it.
func TestClaimSurfacesRetryAfterRepeatedConflicts(t *testing.T) {
	svc, mock, _ := newClaimService(t)

	mock.ExpectQuery(`SELECT \* FROM "referrals"`).
		WithArgs("t1", "u2", 1).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))
	mock.ExpectQuery(`SELECT \* FROM "users"`).
		WithArgs("t1", "REF123", 1).
		WillReturnRows(userRows("u1-id", "u1", "REF123", "free"))

	for i := 0; i < 2; i++ {
		mock.ExpectBegin()
		mock.ExpectQuery(`SELECT \* FROM "referrals"`).
			WithArgs("t1", "u2", 1).
			WillReturnError(&pgconn.PgError{Code: "40001", Message: "could not serialize access"})
		mock.ExpectRollback()
	}

	_, err := svc.Claim(context.Background(), testTenant(), ClaimRequest{
		ReferralCode: "REF123", ReferredUserID: "u2",
	})
	var claimErr *ClaimError
	require.ErrorAs(t, err, &claimErr)
	assert.Equal(t, CodeRetryClaim, claimErr.Code)
	assert.NoError(t, mock.ExpectationsWereMet())
}
