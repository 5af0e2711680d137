package enums

import (
	"fmt"
	"strings"
)

// InviteType selects how an invite is redeemed.
type InviteType string

const (
	InviteTypeEmail InviteType = "email"
	InviteTypeCode  InviteType = "code"
)

func (t InviteType) String() string {
	return string(t)
}

func (t InviteType) IsValid() bool {
	return t == InviteTypeEmail || t == InviteTypeCode
}

func ParseInviteType(value string) (InviteType, error) {
	switch InviteType(strings.ToLower(strings.TrimSpace(value))) {
	case InviteTypeEmail:
		return InviteTypeEmail, nil
	case InviteTypeCode:
		return InviteTypeCode, nil
	}
	return "", fmt.Errorf("invalid invite type %q", value)
}
