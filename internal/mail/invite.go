package mail

import (
	"bytes"
	"context"
	"fmt"
	"html/template"
	"time"
)

// InviteMessage carries what the invite email shows.
type InviteMessage struct {
	To         string
	FamilyName string
	InvitedBy  string
	Role       string
	Link       string
	ExpiresAt  time.Time
}

var inviteTemplate = template.Must(template.New("invite").Parse(`<!DOCTYPE html>
<html>
<head><meta charset="UTF-8"></head>
<body style="font-family: Arial, sans-serif; line-height: 1.6; color: #333;">
  <div style="max-width: 600px; margin: 0 auto; padding: 20px;">
    <h1>You're invited to join {{.FamilyName}} on Keeply</h1>
    <p>{{if .InvitedBy}}{{.InvitedBy}} invited you{{else}}You have been invited{{end}} to join the family as <strong>{{.Role}}</strong>.</p>
    <p style="text-align: center;">
      <a href="{{.Link}}" style="display: inline-block; padding: 12px 30px; background-color: #2f855a; color: #fff; text-decoration: none; border-radius: 5px;">Accept invite</a>
    </p>
    <p>Or open this link: <span style="word-break: break-all;">{{.Link}}</span></p>
    <p>This invite expires on {{.ExpiresAt.UTC.Format "2 Jan 2006 15:04 MST"}}.</p>
  </div>
</body>
</html>
`))

// InviteMailer renders and sends family invites.
type InviteMailer struct {
	sender Sender
}

func NewInviteMailer(sender Sender) *InviteMailer {
	return &InviteMailer{sender: sender}
}

func (m *InviteMailer) SendInvite(ctx context.Context, msg InviteMessage) error {
	if msg.To == "" {
		return fmt.Errorf("invite recipient required")
	}
	body, err := RenderInvite(msg)
	if err != nil {
		return err
	}
	subject := fmt.Sprintf("Join %s on Keeply", msg.FamilyName)
	return m.sender.Send(ctx, msg.To, subject, body)
}

// RenderInvite produces the HTML body of an invite email.
func RenderInvite(msg InviteMessage) (string, error) {
	var buf bytes.Buffer
	if err := inviteTemplate.Execute(&buf, msg); err != nil {
		return "", fmt.Errorf("render invite email: %w", err)
	}
	return buf.String(), nil
}
