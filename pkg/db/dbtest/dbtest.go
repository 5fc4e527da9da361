// Package dbtest opens isolated in-memory sqlite databases carrying the full schema.
package dbtest

import (
	"fmt"
	"io"
	"log"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/pitchtrail/pitchtrail-backend/pkg/db"
	"github.com/pitchtrail/pitchtrail-backend/pkg/db/models"
	"github.com/pitchtrail/pitchtrail-backend/pkg/enums"
)

// Open returns a fresh database per call. The pool is capped at one connection so
// the in-memory database lives as long as the test and writers never contend.
// Goroutines sharing it run their statements one at a time; atomicity of the
// postgres SQL is asserted with sqlmock instead.
func Open(t testing.TB) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	conn, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		SkipDefaultTransaction: true,
		NowFunc:                func() time.Time { return time.Now().UTC() },
		Logger: gormlogger.New(
			log.New(io.Discard, "", log.LstdFlags),
			gormlogger.Config{LogLevel: gormlogger.Silent},
		),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := conn.DB()
	if err != nil {
		t.Fatalf("sqlite handle: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	if err := conn.AutoMigrate(models.All()...); err != nil {
		t.Fatalf("migrate sqlite: %v", err)
	}
	return conn
}

// Client wraps Open in the db.Client used by services.
func Client(t testing.TB) *db.Client {
	t.Helper()
	return db.Wrap(Open(t))
}

// ProposalFixture describes a proposal seeded with its contact.
type ProposalFixture struct {
	OrganizationID uuid.UUID
	Email          string
	FirstName      string
	Status         enums.ProposalStatus
}

// SeedProposal inserts a contact and a proposal addressed to it.
func SeedProposal(t testing.TB, conn *gorm.DB, fx ProposalFixture) (models.Proposal, models.Contact) {
	t.Helper()
	if fx.OrganizationID == uuid.Nil {
		fx.OrganizationID = uuid.New()
	}
	if fx.Email == "" {
		fx.Email = "buyer@example.com"
	}
	if fx.Status == "" {
		fx.Status = enums.ProposalStatusSent
	}
	contact := models.Contact{
		OrganizationID: fx.OrganizationID,
		Email:          fx.Email,
		FirstName:      fx.FirstName,
	}
	if err := conn.Create(&contact).Error; err != nil {
		t.Fatalf("seed contact: %v", err)
	}
	proposal := models.Proposal{
		OrganizationID: fx.OrganizationID,
		ContactID:      contact.ID,
		Title:          "Website redesign",
		Status:         fx.Status,
	}
	if err := conn.Create(&proposal).Error; err != nil {
		t.Fatalf("seed proposal: %v", err)
	}
	return proposal, contact
}
