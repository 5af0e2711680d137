package enums

// OutboxAggregateType is the outbox_events.aggregate_type column. Pub/Sub
// ordering keys are scoped per aggregate.
type OutboxAggregateType string

const (
	AggregateFamily OutboxAggregateType = "family"
	AggregateInvite OutboxAggregateType = "invite"
	AggregateUser   OutboxAggregateType = "user"
)

// OutboxEventType doubles as the event_type message attribute subscribers
// filter on, so values are part of the public contract.
type OutboxEventType string

const (
	EventFamilyCreated         OutboxEventType = "family.created"
	EventFamilyUpdated         OutboxEventType = "family.updated"
	EventFamilyDeleted         OutboxEventType = "family.deleted"
	EventMemberJoined          OutboxEventType = "family.member_joined"
	EventMemberRemoved         OutboxEventType = "family.member_removed"
	EventMemberLeft            OutboxEventType = "family.member_left"
	EventMemberRoleChanged     OutboxEventType = "family.role_changed"
	EventOwnershipTransferred  OutboxEventType = "family.ownership_transferred"
	EventInviteCreated         OutboxEventType = "invite.created"
	EventInviteAccepted        OutboxEventType = "invite.accepted"
	EventInviteRevoked         OutboxEventType = "invite.revoked"
	EventDeletedUserReconciled OutboxEventType = "user.deletion_reconciled"
)

// OutboxDLQErrorReason records why the publisher stopped retrying an event.
type OutboxDLQErrorReason string

const (
	OutboxDLQReasonMaxAttempts  OutboxDLQErrorReason = "max_attempts"
	OutboxDLQReasonNonRetryable OutboxDLQErrorReason = "non_retryable"
)
