package migrate_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func readMigration(t *testing.T, pattern string) string {
	t.Helper()
	matches, err := filepath.Glob(filepath.Join("migrations", pattern))
	if err != nil {
		t.Fatalf("glob migrations: %v", err)
	}
	if len(matches) == 0 {
		t.Fatalf("no migration file matches %q", pattern)
	}
	data, err := os.ReadFile(matches[0])
	if err != nil {
		t.Fatalf("read migration file: %v", err)
	}
	return string(data)
}

func assertContains(t *testing.T, content string, checks []string) {
	t.Helper()
	for _, sub := range checks {
		if !strings.Contains(content, sub) {
			t.Errorf("missing expected statement %q", sub)
		}
	}
}

func TestCadenceMigrationContainsConstraints(t *testing.T) {
	content := readMigration(t, "*_create_cadence_tables.sql")
	assertContains(t, content, []string{
		"CREATE TABLE IF NOT EXISTS cadence_runs",
		"CREATE UNIQUE INDEX IF NOT EXISTS ux_cadence_runs_active_proposal",
		"ON cadence_runs(proposal_id) WHERE status = 'active'",
		"CREATE TABLE IF NOT EXISTS cadence_events",
		"CREATE UNIQUE INDEX IF NOT EXISTS ux_cadence_events_run_kind ON cadence_events(run_id, kind)",
		"REFERENCES proposals(id) ON DELETE CASCADE",
		"CHECK (kind IN ('email_d1', 'email_d3', 'call_d7', 'email_d14_softclose'))",
		"DROP TABLE IF EXISTS cadence_events",
		"DROP TABLE IF EXISTS cadence_runs",
	})
}

func TestSuppressionAndUsageMigrationContainsConstraints(t *testing.T) {
	content := readMigration(t, "*_create_suppression_and_usage.sql")
	assertContains(t, content, []string{
		"ux_suppression_entries_org_email ON suppression_entries(organization_id, email)",
		"CHECK (email = lower(btrim(email)))",
		"ux_usage_counters_org_period ON usage_counters(organization_id, period_start)",
		"CHECK (sent_count >= 0)",
		"DROP TABLE IF EXISTS usage_counters",
	})
}

func TestFollowUpTaskMigrationIsIdempotentPerEvent(t *testing.T) {
	content := readMigration(t, "*_create_follow_up_tasks.sql")
	assertContains(t, content, []string{
		"CREATE UNIQUE INDEX IF NOT EXISTS ux_follow_up_tasks_event ON follow_up_tasks(event_id)",
		"REFERENCES cadence_events(id) ON DELETE CASCADE",
	})
}
