package pubsub

import (
	"context"
	"errors"
	"fmt"
	"strings"

	pubsub "cloud.google.com/go/pubsub/v2"
	"cloud.google.com/go/pubsub/v2/apiv1/pubsubpb"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/keeply/keeply-backend/pkg/config"
	"github.com/keeply/keeply-backend/pkg/logger"
)

// Role decides what Ping verifies: consumers need their subscription,
// publishers need the domain events topic.
type Role int

const (
	RolePublisher Role = iota
	RoleConsumer
)

// Client wraps the Pub/Sub v2 client with Keeply's topic and subscription
// names. PUBSUB_EMULATOR_HOST is honoured by the underlying library.
type Client struct {
	client  *pubsub.Client
	project string
	cfg     config.PubSubConfig
	role    Role
}

func NewClient(ctx context.Context, gcp config.GCPConfig, cfg config.PubSubConfig, role Role, logg *logger.Logger) (*Client, error) {
	project := strings.TrimSpace(gcp.ProjectID)
	if project == "" {
		return nil, errors.New("pubsub: gcp project id is required")
	}
	raw, err := pubsub.NewClient(ctx, project, clientOptions(gcp)...)
	if err != nil {
		return nil, fmt.Errorf("pubsub: new client: %w", err)
	}
	c := &Client{client: raw, project: project, cfg: cfg, role: role}
	if err := c.Ping(ctx); err != nil {
		_ = raw.Close()
		return nil, err
	}
	if logg != nil {
		logg.Info(logg.WithField(ctx, "project", project), "pubsub.connected")
	}
	return c, nil
}

func clientOptions(gcp config.GCPConfig) []option.ClientOption {
	if creds := strings.TrimSpace(gcp.CredentialsJSON); creds != "" {
		return []option.ClientOption{option.WithCredentialsJSON([]byte(creds))}
	}
	if path := strings.TrimSpace(gcp.ApplicationCredentials); path != "" {
		return []option.ClientOption{option.WithCredentialsFile(path)}
	}
	return nil
}

// UserDeletedSubscription returns the identity provider's deletion feed with
// flow control applied from config.
func (c *Client) UserDeletedSubscription() *pubsub.Subscriber {
	if c == nil || c.client == nil {
		return nil
	}
	name := qualify(c.project, "subscriptions", c.cfg.UserDeletedSubscription)
	if name == "" {
		return nil
	}
	sub := c.client.Subscriber(name)
	if c.cfg.MaxOutstanding > 0 {
		sub.ReceiveSettings.MaxOutstandingMessages = c.cfg.MaxOutstanding
	}
	if c.cfg.ReceiveGoroutines > 0 {
		sub.ReceiveSettings.NumGoroutines = c.cfg.ReceiveGoroutines
	}
	return sub
}

// Publisher accepts a topic id or a full resource name.
func (c *Client) Publisher(topic string) *pubsub.Publisher {
	if c == nil || c.client == nil {
		return nil
	}
	name := qualify(c.project, "topics", topic)
	if name == "" {
		return nil
	}
	return c.client.Publisher(name)
}

func (c *Client) DomainPublisher() *pubsub.Publisher {
	return c.Publisher(c.cfg.DomainEventsTopic)
}

func (c *Client) Ping(ctx context.Context) error {
	if c == nil || c.client == nil {
		return errors.New("pubsub: client not initialized")
	}
	if c.role == RoleConsumer {
		name := qualify(c.project, "subscriptions", c.cfg.UserDeletedSubscription)
		if name == "" {
			return errors.New("pubsub: user-deleted subscription not configured")
		}
		_, err := c.client.SubscriptionAdminClient.GetSubscription(ctx, &pubsubpb.GetSubscriptionRequest{Subscription: name})
		return lookupError("subscription", name, err)
	}
	name := qualify(c.project, "topics", c.cfg.DomainEventsTopic)
	if name == "" {
		return errors.New("pubsub: domain events topic not configured")
	}
	_, err := c.client.TopicAdminClient.GetTopic(ctx, &pubsubpb.GetTopicRequest{Topic: name})
	return lookupError("topic", name, err)
}

func (c *Client) Close() error {
	if c == nil || c.client == nil {
		return nil
	}
	return c.client.Close()
}

func lookupError(kind, name string, err error) error {
	switch {
	case err == nil:
		return nil
	case status.Code(err) == codes.NotFound:
		return fmt.Errorf("pubsub: %s %s does not exist", kind, name)
	}
	return fmt.Errorf("pubsub: look up %s %s: %w", kind, name, err)
}

// qualify expands a bare id into projects/<project>/<kind>/<id>; names that
// are already qualified pass through.
func qualify(project, kind, name string) string {
	name = strings.TrimSpace(name)
	if name == "" {
		return ""
	}
	if strings.HasPrefix(name, "projects/") && strings.Contains(name, "/"+kind+"/") {
		return name
	}
	if project == "" {
		return ""
	}
	return "projects/" + project + "/" + kind + "/" + name
}
