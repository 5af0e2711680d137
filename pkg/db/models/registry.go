package models

// All lists the persisted models in dependency order. Used for sqlite schemas,
// where the Postgres migrations (enum types, partial indexes) do not apply.
func All() []any {
	return []any{
		&Family{},
		&FamilyMember{},
		&Invite{},
		&UserProfile{},
		&OutboxEvent{},
		&OutboxDLQ{},
	}
}
