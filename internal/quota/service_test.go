package quota

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/pitchtrail/pitchtrail-backend/pkg/db/dbtest"
	"github.com/pitchtrail/pitchtrail-backend/pkg/db/models"
	"github.com/pitchtrail/pitchtrail-backend/pkg/enums"
)

var fixedNow = time.Date(2025, 1, 15, 12, 0, 0, 0, time.UTC)

func newService(t *testing.T, conn *gorm.DB, defaultLimit int) *Service {
	t.Helper()
	svc, err := NewService(ServiceParams{
		Repo:                NewRepository(conn),
		DefaultMonthlyLimit: defaultLimit,
		Now:                 func() time.Time { return fixedNow },
	})
	require.NoError(t, err)
	return svc
}

func seedPlan(t *testing.T, conn *gorm.DB, orgID uuid.UUID, limit int64, status enums.SubscriptionStatus) (time.Time, time.Time) {
	t.Helper()
	plan := models.BillingPlan{ID: uuid.New(), Name: "Growth", MonthlyFollowUpLimit: limit}
	require.NoError(t, conn.Create(&plan).Error)
	start := time.Date(2025, 1, 10, 0, 0, 0, 0, time.UTC)
	end := time.Date(2025, 2, 10, 0, 0, 0, 0, time.UTC)
	require.NoError(t, conn.Create(&models.Subscription{
		ID:                 uuid.New(),
		OrganizationID:     orgID,
		BillingPlanID:      plan.ID,
		Status:             status,
		CurrentPeriodStart: start,
		CurrentPeriodEnd:   end,
	}).Error)
	return start, end
}

func TestCanSendFallsBackToCalendarMonth(t *testing.T) {
	conn := dbtest.Open(t)
	svc := newService(t, conn, 50)

	decision, err := svc.CanSend(context.Background(), uuid.New())
	require.NoError(t, err)
	assert.True(t, decision.Allowed)
	assert.Equal(t, int64(50), decision.Limit)
	assert.Equal(t, int64(0), decision.Used)
	assert.Equal(t, time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC), decision.PeriodStart)
	assert.Equal(t, time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC), decision.PeriodEnd)
	assert.Equal(t, int64(50), decision.Remaining())
}

func TestCanSendUsesSubscriptionPeriod(t *testing.T) {
	conn := dbtest.Open(t)
	svc := newService(t, conn, 50)
	orgID := uuid.New()
	start, end := seedPlan(t, conn, orgID, 200, enums.SubscriptionStatusActive)

	decision, err := svc.CanSend(context.Background(), orgID)
	require.NoError(t, err)
	assert.True(t, decision.Allowed)
	assert.Equal(t, int64(200), decision.Limit)
	assert.True(t, decision.PeriodStart.Equal(start))
	assert.True(t, decision.PeriodEnd.Equal(end))
}

func TestCanSendIgnoresCanceledSubscription(t *testing.T) {
	conn := dbtest.Open(t)
	svc := newService(t, conn, 5)
	orgID := uuid.New()
	seedPlan(t, conn, orgID, 200, enums.SubscriptionStatusCanceled)

	decision, err := svc.CanSend(context.Background(), orgID)
	require.NoError(t, err)
	assert.Equal(t, int64(5), decision.Limit)
}

func TestCanSendDeniesAtLimit(t *testing.T) {
	conn := dbtest.Open(t)
	svc := newService(t, conn, 2)
	orgID := uuid.New()
	ctx := context.Background()

	require.NoError(t, svc.RecordSent(ctx, nil, orgID))
	decision, err := svc.CanSend(ctx, orgID)
	require.NoError(t, err)
	assert.True(t, decision.Allowed)

	require.NoError(t, svc.RecordSent(ctx, nil, orgID))
	decision, err = svc.CanSend(ctx, orgID)
	require.NoError(t, err)
	assert.False(t, decision.Allowed)
	assert.Equal(t, ReasonQuotaExceeded, decision.Reason)
	assert.Equal(t, int64(2), decision.Used)
	assert.Equal(t, int64(0), decision.Remaining())
}

func TestCanSendWithoutPlanOrDefault(t *testing.T) {
	conn := dbtest.Open(t)
	svc := newService(t, conn, 0)

	decision, err := svc.CanSend(context.Background(), uuid.New())
	require.NoError(t, err)
	assert.False(t, decision.Allowed)
	assert.Equal(t, ReasonNoActivePlan, decision.Reason)
}

// dbtest serializes statements over one sqlite connection, so this covers the
// ensure-then-increment sequence rather than real interleaving. repo_sql_test.go
// pins the in-place increment that makes concurrent sends safe on postgres.
func TestRecordSentConcurrentIncrementsAreNotLost(t *testing.T) {
	conn := dbtest.Open(t)
	svc := newService(t, conn, 1000)
	orgID := uuid.New()
	ctx := context.Background()

	const workers = 50
	var wg sync.WaitGroup
	errs := make(chan error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- svc.RecordSent(ctx, nil, orgID)
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	var counters []models.UsageCounter
	require.NoError(t, conn.Where("organization_id = ?", orgID).Find(&counters).Error)
	require.Len(t, counters, 1)
	assert.Equal(t, int64(workers), counters[0].SentCount)
}

func TestPlanStartingMidMonthSplitsTheCounter(t *testing.T) {
	conn := dbtest.Open(t)
	svc := newService(t, conn, 3)
	orgID := uuid.New()
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		require.NoError(t, svc.RecordSent(ctx, nil, orgID))
	}
	planStart, planEnd := seedPlan(t, conn, orgID, 3, enums.SubscriptionStatusActive)

	decision, err := svc.CanSend(ctx, orgID)
	require.NoError(t, err)
	assert.False(t, decision.Allowed, "sends made before the plan started still count")
	assert.Equal(t, int64(3), decision.Used)
	assert.True(t, decision.PeriodStart.Equal(planStart))

	require.NoError(t, svc.RecordSent(ctx, nil, orgID))

	var covering []models.UsageCounter
	require.NoError(t, conn.
		Where("organization_id = ? AND period_start <= ? AND period_end > ?", orgID, fixedNow, fixedNow).
		Find(&covering).Error)
	require.Len(t, covering, 1)
	assert.True(t, covering[0].PeriodStart.Equal(planStart))
	assert.True(t, covering[0].PeriodEnd.Equal(planEnd))
	assert.Equal(t, int64(4), covering[0].SentCount)

	var counters []models.UsageCounter
	require.NoError(t, conn.Where("organization_id = ?", orgID).Order("period_start").Find(&counters).Error)
	require.Len(t, counters, 2)
	assert.True(t, counters[0].PeriodEnd.Equal(planStart), "fallback window closes where the plan begins")
	assert.Equal(t, int64(3), counters[0].SentCount)
}

func TestPlanStartingBeforeCounterAdoptsExistingWindow(t *testing.T) {
	conn := dbtest.Open(t)
	svc := newService(t, conn, 10)
	orgID := uuid.New()
	ctx := context.Background()
	repo := NewRepository(conn)

	existing := PlanPeriod{
		Start: time.Date(2025, 1, 12, 0, 0, 0, 0, time.UTC),
		End:   time.Date(2025, 2, 12, 0, 0, 0, 0, time.UTC),
	}
	require.NoError(t, repo.EnsurePeriod(ctx, nil, orgID, existing, 2))
	seedPlan(t, conn, orgID, 5, enums.SubscriptionStatusActive)

	require.NoError(t, svc.RecordSent(ctx, nil, orgID))

	decision, err := svc.CanSend(ctx, orgID)
	require.NoError(t, err)
	assert.Equal(t, int64(5), decision.Limit)
	assert.Equal(t, int64(3), decision.Used)
	assert.True(t, decision.PeriodStart.Equal(existing.Start))

	var count int64
	require.NoError(t, conn.Model(&models.UsageCounter{}).Where("organization_id = ?", orgID).Count(&count).Error)
	assert.Equal(t, int64(1), count)
}

func TestRecordSentInsideTransaction(t *testing.T) {
	conn := dbtest.Open(t)
	svc := newService(t, conn, 10)
	orgID := uuid.New()
	ctx := context.Background()

	err := conn.Transaction(func(tx *gorm.DB) error {
		return svc.RecordSent(ctx, tx, orgID)
	})
	require.NoError(t, err)

	decision, err := svc.CanSend(ctx, orgID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), decision.Used)
}

func TestDeleteEndedBefore(t *testing.T) {
	conn := dbtest.Open(t)
	repo := NewRepository(conn)
	ctx := context.Background()
	orgID := uuid.New()

	old := PlanPeriod{Start: time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC), End: time.Date(2023, 2, 1, 0, 0, 0, 0, time.UTC)}
	current := PlanPeriod{Start: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC), End: time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC)}
	require.NoError(t, repo.EnsurePeriod(ctx, nil, orgID, old, 0))
	require.NoError(t, repo.EnsurePeriod(ctx, nil, orgID, current, 0))
	require.NoError(t, repo.EnsurePeriod(ctx, nil, orgID, current, 0))

	deleted, err := repo.DeleteEndedBefore(ctx, nil, time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Equal(t, int64(1), deleted)

	var count int64
	require.NoError(t, conn.Model(&models.UsageCounter{}).Count(&count).Error)
	assert.Equal(t, int64(1), count)
}

func TestCalendarMonth(t *testing.T) {
	start, end := CalendarMonth(time.Date(2024, 12, 31, 23, 59, 0, 0, time.FixedZone("x", -5*3600)))
	assert.Equal(t, time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC), start)
	assert.Equal(t, time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC), end)
}
