package enums

// InviteStatus captures the lifecycle of a family invite.
// pending is the only non-terminal state.
type InviteStatus string

const (
	InviteStatusPending  InviteStatus = "pending"
	InviteStatusAccepted InviteStatus = "accepted"
	InviteStatusRevoked  InviteStatus = "revoked"
)

var validInviteStatuses = []InviteStatus{
	InviteStatusPending,
	InviteStatusAccepted,
	InviteStatusRevoked,
}

// String implements fmt.Stringer.
func (s InviteStatus) String() string {
	return string(s)
}

// IsValid reports whether the value matches a known InviteStatus.
func (s InviteStatus) IsValid() bool {
	for _, candidate := range validInviteStatuses {
		if candidate == s {
			return true
		}
	}
	return false
}
