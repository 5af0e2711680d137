package bootstrap

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/keeply/keeply-backend/internal/avatars"
	"github.com/keeply/keeply-backend/internal/families"
	"github.com/keeply/keeply-backend/internal/invites"
	"github.com/keeply/keeply-backend/internal/membership"
	"github.com/keeply/keeply-backend/internal/users"
	"github.com/keeply/keeply-backend/pkg/db"
	"github.com/keeply/keeply-backend/pkg/metrics"
	"github.com/keeply/keeply-backend/pkg/outbox"
	"github.com/keeply/keeply-backend/pkg/storage/gcs"
)

// Domain is the membership core shared by the api and worker binaries.
type Domain struct {
	Directory  *users.Repository
	Families   families.Repository
	Membership membership.Service
	Avatars    *avatars.Service
	Objects    *gcs.Client
}

// Domain wires repositories, the membership service and avatar storage over
// dbClient. mailer may be nil for binaries that never create invites.
func (p *Process) Domain(ctx context.Context, dbClient *db.Client, mailer membership.InviteMailer) *Domain {
	cfg := p.Config
	conn := dbClient.DB()
	d := &Domain{
		Directory: users.NewRepository(conn),
		Families:  families.NewRepository(conn),
	}

	var err error
	d.Membership, err = membership.NewService(membership.ServiceParams{
		Families:  d.Families,
		Invites:   invites.NewRepository(conn),
		Directory: d.Directory,
		Tx:        dbClient,
		Outbox:    outbox.NewService(outbox.NewRepository(conn), p.Logger),
		Mailer:    mailer,
		Metrics:   metrics.NewMembershipMetrics(prometheus.DefaultRegisterer),
		Logger:    p.Logger,
		Config:    cfg.Family,
		App:       cfg.App,
	})
	p.Check(ctx, "membership service", err)

	d.Objects, err = gcs.NewClient(ctx, cfg.GCS, cfg.GCP, p.Logger)
	p.Check(ctx, "gcs client", err)

	d.Avatars, err = avatars.NewService(d.Objects, d.Directory, d.Families, cfg.GCS, p.Logger)
	p.Check(ctx, "avatar service", err)
	return d
}
