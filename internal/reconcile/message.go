package reconcile

import (
	"encoding/json"
	"errors"
	"strings"
)

var errMissingUser = errors.New("message carries no user id")

// deletion is the normalized form of a user-deleted message.
type deletion struct {
	EventID string
	UserID  string
	Email   string
}

// wireMessage accepts both the internal shape and the identity provider's
// CloudTrail-style event.
type wireMessage struct {
	ID      string `json:"id"`
	EventID string `json:"event_id"`
	UserID  string `json:"user_id"`
	Email   string `json:"email"`
	Detail  *struct {
		RequestParameters struct {
			Username string `json:"username"`
			Email    string `json:"email"`
		} `json:"requestParameters"`
	} `json:"detail"`
}

func decodeDeletion(data []byte) (deletion, error) {
	var msg wireMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return deletion{}, err
	}
	out := deletion{
		EventID: firstNonEmpty(msg.EventID, msg.ID),
		UserID:  strings.TrimSpace(msg.UserID),
		Email:   strings.TrimSpace(msg.Email),
	}
	if out.UserID == "" && msg.Detail != nil {
		out.UserID = strings.TrimSpace(msg.Detail.RequestParameters.Username)
		if out.Email == "" {
			out.Email = strings.TrimSpace(msg.Detail.RequestParameters.Email)
		}
	}
	if out.UserID == "" {
		return deletion{}, errMissingUser
	}
	return out, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}
