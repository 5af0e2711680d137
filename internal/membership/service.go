// Package membership composes the rules engine with the family and invite stores. Every
// operation is bounded by a deadline, evaluates the rules against freshly loaded state and
// commits its writes together with the matching outbox event in one transaction.
package membership

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sethvargo/go-retry"
	"gorm.io/gorm"

	"github.com/keeply/keeply-backend/internal/families"
	"github.com/keeply/keeply-backend/internal/invites"
	"github.com/keeply/keeply-backend/internal/mail"
	"github.com/keeply/keeply-backend/internal/rules"
	"github.com/keeply/keeply-backend/internal/users"
	"github.com/keeply/keeply-backend/pkg/config"
	"github.com/keeply/keeply-backend/pkg/db/models"
	pkgerrors "github.com/keeply/keeply-backend/pkg/errors"
	"github.com/keeply/keeply-backend/pkg/logger"
	"github.com/keeply/keeply-backend/pkg/metrics"
	"github.com/keeply/keeply-backend/pkg/outbox"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type outboxPublisher interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

// Directory resolves display attributes for member ids. Failures are tolerated.
type Directory interface {
	LookupMany(ctx context.Context, userIDs []string) (map[string]users.Profile, error)
}

// InviteMailer delivers email invites after they are committed.
type InviteMailer interface {
	SendInvite(ctx context.Context, msg mail.InviteMessage) error
}

// Service exposes the family membership use-cases.
type Service interface {
	CreateFamily(ctx context.Context, caller Caller, input CreateFamilyInput) (*FamilyDetails, error)
	GetMyFamily(ctx context.Context, caller Caller) (*FamilyDetails, error)
	GetFamilyInfo(ctx context.Context, caller Caller, familyID uuid.UUID) (*FamilyInfo, error)
	ListMembers(ctx context.Context, caller Caller, familyID uuid.UUID) ([]families.MemberDTO, error)
	UpdateFamily(ctx context.Context, caller Caller, familyID uuid.UUID, input UpdateFamilyInput) (*families.FamilyDTO, error)
	DeleteFamily(ctx context.Context, caller Caller, familyID uuid.UUID) error

	CreateInvite(ctx context.Context, caller Caller, familyID uuid.UUID, input CreateInviteInput) (*CreateInviteResult, error)
	ListPendingInvites(ctx context.Context, caller Caller, familyID uuid.UUID) ([]invites.InviteDTO, error)
	RevokeInvite(ctx context.Context, caller Caller, inviteID string) (*invites.InviteDTO, error)
	AcceptInvite(ctx context.Context, caller Caller, input AcceptInviteInput) (*AcceptInviteResult, error)

	SetRole(ctx context.Context, caller Caller, familyID uuid.UUID, targetID string, role string) (*SetRoleResult, error)
	RemoveMember(ctx context.Context, caller Caller, familyID uuid.UUID, targetID string) error
	LeaveFamily(ctx context.Context, caller Caller, familyID uuid.UUID) error
	TransferOwnership(ctx context.Context, caller Caller, familyID uuid.UUID, targetID string) (*TransferResult, error)

	ReconcileDeletedUser(ctx context.Context, userID, email string) (*ReconcileResult, error)
}

// ServiceParams wires the service collaborators.
type ServiceParams struct {
	Families  families.Repository
	Invites   invites.Repository
	Directory Directory
	Tx        txRunner
	Outbox    outboxPublisher
	Mailer    InviteMailer
	Metrics   *metrics.MembershipMetrics
	Logger    *logger.Logger
	Config    config.FamilyConfig
	App       config.AppConfig
	// Now overrides the clock in tests.
	Now func() time.Time
}

type service struct {
	families  families.Repository
	invites   invites.Repository
	directory Directory
	tx        txRunner
	outbox    outboxPublisher
	mailer    InviteMailer
	metrics   *metrics.MembershipMetrics
	logg      *logger.Logger
	engine    rules.Engine
	cfg       config.FamilyConfig
	app       config.AppConfig
	now       func() time.Time
}

// NewService builds the membership service with the required dependencies.
func NewService(p ServiceParams) (Service, error) {
	if p.Families == nil {
		return nil, fmt.Errorf("families repository required")
	}
	if p.Invites == nil {
		return nil, fmt.Errorf("invites repository required")
	}
	if p.Tx == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if p.Outbox == nil {
		return nil, fmt.Errorf("outbox publisher required")
	}
	if p.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	cfg := p.Config
	if cfg.OperationTimeout <= 0 {
		cfg.OperationTimeout = 10 * time.Second
	}
	if cfg.InviteDefaultTTL <= 0 {
		cfg.InviteDefaultTTL = 72 * time.Hour
	}
	if cfg.InviteMaxTTL <= 0 {
		cfg.InviteMaxTTL = 30 * 24 * time.Hour
	}
	if cfg.VersionRetries < 0 {
		cfg.VersionRetries = 0
	}
	if cfg.ReadRetries < 0 {
		cfg.ReadRetries = 0
	}
	now := p.Now
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &service{
		families:  p.Families,
		invites:   p.Invites,
		directory: p.Directory,
		tx:        p.Tx,
		outbox:    p.Outbox,
		mailer:    p.Mailer,
		metrics:   p.Metrics,
		logg:      p.Logger,
		engine:    rules.NewEngine(rules.PolicyFor(cfg.StrictRoles)),
		cfg:       cfg,
		app:       p.App,
		now:       now,
	}, nil
}

// observe bounds fn by the operation timeout and records its outcome.
func observe[T any](ctx context.Context, s *service, op string, fn func(ctx context.Context) (T, error)) (T, error) {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.OperationTimeout)
	defer cancel()

	start := time.Now()
	out, err := fn(ctx)
	if err != nil && errors.Is(err, context.DeadlineExceeded) && pkgerrors.As(err) == nil {
		err = pkgerrors.Wrap(pkgerrors.CodeDependency, err, "operation timed out")
	}
	s.metrics.Observe(op, outcome(err), time.Since(start))
	if err != nil {
		logCtx := s.logg.WithField(ctx, "operation", op)
		if !pkgerrors.Retryable(err) {
			s.logg.Info(s.logg.WithField(logCtx, "code", pkgerrors.As(err).Code()), "membership.rejected")
		} else {
			s.logg.Error(logCtx, "membership.failed", err)
		}
	}
	return out, err
}

func outcome(err error) string {
	if err == nil {
		return "ok"
	}
	if te := pkgerrors.As(err); te != nil {
		return strings.ToLower(string(te.Code()))
	}
	return "error"
}

// read runs an idempotent load, retrying transient store failures. Rejections and
// missing records are returned immediately.
func (s *service) read(ctx context.Context, fn func(ctx context.Context) error) error {
	backoff := retry.WithMaxRetries(uint64(s.cfg.ReadRetries), retry.NewExponential(25*time.Millisecond))
	return retry.Do(ctx, backoff, func(ctx context.Context) error {
		err := fn(ctx)
		if err == nil || !isTransient(err) {
			return err
		}
		return retry.RetryableError(err)
	})
}

func isTransient(err error) bool {
	if errors.Is(err, gorm.ErrRecordNotFound) ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	if te := pkgerrors.As(err); te != nil {
		return te.Code() == pkgerrors.CodeDependency
	}
	return true
}

// versioned runs a read-evaluate-write attempt in its own transaction and re-runs it,
// rules included, when another writer bumped the family version first.
func (s *service) versioned(ctx context.Context, op string, attempt func(tx *gorm.DB) error) error {
	for i := 0; ; i++ {
		err := s.tx.WithTx(ctx, attempt)
		if !errors.Is(err, families.ErrVersionConflict) {
			return err
		}
		s.metrics.IncVersionConflict(op)
		if i >= s.cfg.VersionRetries {
			return pkgerrors.New(pkgerrors.CodeConflict, "family was modified concurrently; retry with fresh state").
				WithDetails(map[string]any{"attempts": i + 1})
		}
		s.logg.Warn(s.logg.WithFields(ctx, map[string]any{"operation": op, "attempt": i + 1}), "membership.version_conflict")
	}
}

// loadFamily reads the family and its members inside repo's scope.
func loadFamily(ctx context.Context, repo families.Repository, familyID uuid.UUID) (*models.Family, []models.FamilyMember, error) {
	family, err := repo.FindByID(ctx, familyID)
	if err != nil {
		return nil, nil, storeError(err, "family not found")
	}
	members, err := repo.ListMembers(ctx, familyID)
	if err != nil {
		return nil, nil, storeError(err, "load family members")
	}
	return family, members, nil
}

// storeError maps persistence failures onto the error taxonomy. Rejections that already
// carry a code and version conflicts pass through untouched.
func storeError(err error, notFound string) error {
	switch {
	case err == nil:
		return nil
	case pkgerrors.As(err) != nil:
		return err
	case errors.Is(err, families.ErrVersionConflict):
		return err
	case errors.Is(err, gorm.ErrRecordNotFound):
		return pkgerrors.New(pkgerrors.CodeNotFound, notFound)
	case errors.Is(err, families.ErrAlreadyInFamily):
		return pkgerrors.New(pkgerrors.CodeConflict, "user already belongs to a family")
	case errors.Is(err, invites.ErrNotPending):
		return pkgerrors.New(pkgerrors.CodeConflict, "invite is no longer pending")
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "operation timed out")
	default:
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, notFound)
	}
}

func requireCaller(caller Caller) error {
	if strings.TrimSpace(caller.UserID) == "" {
		return pkgerrors.New(pkgerrors.CodeUnauthorized, "user identity missing")
	}
	return nil
}

func actorRef(caller Caller, familyID uuid.UUID, role string) *outbox.ActorRef {
	fid := familyID
	return &outbox.ActorRef{UserID: caller.UserID, FamilyID: &fid, Role: role}
}

func systemActor(familyID uuid.UUID) *outbox.ActorRef {
	fid := familyID
	return &outbox.ActorRef{FamilyID: &fid, Role: "system"}
}

func optionalString(v string) *string {
	v = strings.TrimSpace(v)
	if v == "" {
		return nil
	}
	return &v
}

// enrich attaches directory attributes to members. A directory failure leaves the bare ids.
func (s *service) enrich(ctx context.Context, members []models.FamilyMember) []families.MemberDTO {
	out := make([]families.MemberDTO, 0, len(members))
	for _, m := range members {
		out = append(out, families.MemberFromModel(m))
	}
	if s.directory == nil || len(out) == 0 {
		return out
	}
	ids := make([]string, 0, len(out))
	for _, m := range out {
		ids = append(ids, m.UserID)
	}
	profiles, err := s.directory.LookupMany(ctx, ids)
	if err != nil {
		s.logg.Warn(s.logg.WithField(ctx, "error", err.Error()), "directory.lookup_failed")
		return out
	}
	for i := range out {
		p, ok := profiles[out[i].UserID]
		if !ok {
			continue
		}
		if p.Name != nil {
			out[i].Name = p.Name
		}
		if out[i].Email == nil && p.Email != nil {
			out[i].Email = p.Email
		}
		out[i].HasAvatar = p.HasAvatar()
	}
	return out
}
