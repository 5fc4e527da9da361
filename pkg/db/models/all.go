package models

// All lists every persisted model, in dependency order, for schema bootstrapping in tests and local sqlite runs.
func All() []any {
	return []any{
		&BillingPlan{},
		&Subscription{},
		&Contact{},
		&Proposal{},
		&CadenceRun{},
		&CadenceEvent{},
		&SuppressionEntry{},
		&UsageCounter{},
		&FollowUpTask{},
		&OutboxEvent{},
		&OutboxDLQ{},
	}
}
