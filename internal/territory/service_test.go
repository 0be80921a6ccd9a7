package territory

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/sraphaz/araponga-sub002/internal/review"
	"github.com/sraphaz/araponga-sub002/internal/shared"
)

type memReviewStore struct {
	items map[uuid.UUID]review.WorkItem
}

func newMemReviewStore() *memReviewStore {
	return &memReviewStore{items: make(map[uuid.UUID]review.WorkItem)}
}

func (s *memReviewStore) Insert(ctx context.Context, item review.WorkItem) error {
	s.items[item.ID] = item
	return nil
}

func (s *memReviewStore) GetByID(ctx context.Context, id uuid.UUID) (review.WorkItem, error) {
	item, ok := s.items[id]
	if !ok {
		return review.WorkItem{}, review.ErrNotFound
	}
	return item, nil
}

func (s *memReviewStore) LatestOpenBySubject(ctx context.Context, itemType review.WorkItemType, subject review.SubjectRef) (*review.WorkItem, error) {
	var latest *review.WorkItem
	for _, item := range s.items {
		if item.Type != itemType || item.Subject != subject || !item.Open() {
			continue
		}
		candidate := item
		if latest == nil || candidate.CreatedAt.After(latest.CreatedAt) {
			latest = &candidate
		}
	}
	return latest, nil
}

func (s *memReviewStore) List(ctx context.Context, filter review.QueueFilter) ([]review.WorkItem, int, error) {
	var items []review.WorkItem
	for _, item := range s.items {
		items = append(items, item)
	}
	return items, len(items), nil
}

func (s *memReviewStore) MarkCompleted(ctx context.Context, id uuid.UUID, outcome review.Outcome, completedBy int64, notes *string, at time.Time) (bool, error) {
	item, ok := s.items[id]
	if !ok || !item.Open() {
		return false, nil
	}
	item.Status = review.StatusCompleted
	item.Outcome = outcome
	item.CompletedAt = &at
	item.CompletedBy = &completedBy
	item.CompletionNotes = notes
	s.items[id] = item
	return true, nil
}

func (s *memReviewStore) CountOpenByType(ctx context.Context) (map[review.WorkItemType]int, error) {
	counts := make(map[review.WorkItemType]int)
	for _, item := range s.items {
		if item.Open() {
			counts[item.Type]++
		}
	}
	return counts, nil
}

type memAudit struct {
	entries []shared.AuditLog
}

func (a *memAudit) Record(ctx context.Context, log shared.AuditLog) error {
	a.entries = append(a.entries, log)
	return nil
}

func (a *memAudit) actions() []string {
	out := make([]string, 0, len(a.entries))
	for _, e := range a.entries {
		out = append(out, e.Action)
	}
	return out
}

type memTerritoryRepo struct {
	territories map[int64]Territory
	memberships map[int64]Membership
	grants      []CapabilityGrant
	nextID      int64
	reviews     *review.Engine
	audit       *memAudit
}

type memTerritoryTx struct {
	repo *memTerritoryRepo
}

func newMemTerritoryRepo(reviews *review.Engine, audit *memAudit) *memTerritoryRepo {
	return &memTerritoryRepo{
		territories: make(map[int64]Territory),
		memberships: make(map[int64]Membership),
		reviews:     reviews,
		audit:       audit,
	}
}

func (r *memTerritoryRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return fn(ctx, &memTerritoryTx{repo: r})
}

func (r *memTerritoryRepo) GetTerritory(ctx context.Context, id int64) (Territory, error) {
	t, ok := r.territories[id]
	if !ok {
		return Territory{}, shared.ErrNotFound
	}
	return t, nil
}

func (r *memTerritoryRepo) GetTerritoryByHandle(ctx context.Context, handle string) (Territory, error) {
	for _, t := range r.territories {
		if t.Handle == handle {
			return t, nil
		}
	}
	return Territory{}, shared.ErrNotFound
}

func (r *memTerritoryRepo) ListTerritories(ctx context.Context) ([]Territory, error) {
	var out []Territory
	for _, t := range r.territories {
		out = append(out, t)
	}
	return out, nil
}

func (r *memTerritoryRepo) GetMembership(ctx context.Context, territoryID, userID int64) (Membership, error) {
	for _, m := range r.memberships {
		if m.TerritoryID == territoryID && m.UserID == userID {
			return m, nil
		}
	}
	return Membership{}, shared.ErrNotFound
}

func (r *memTerritoryRepo) ListMemberships(ctx context.Context, userID int64) ([]Membership, error) {
	var out []Membership
	for _, m := range r.memberships {
		if m.UserID == userID {
			out = append(out, m)
		}
	}
	return out, nil
}

func (r *memTerritoryRepo) HasCapability(ctx context.Context, userID, territoryID int64, capability string) (bool, error) {
	for _, g := range r.grants {
		if !g.Active() || g.Capability != capability {
			continue
		}
		m, ok := r.memberships[g.MembershipID]
		if ok && m.UserID == userID && m.TerritoryID == territoryID && m.Active() {
			return true, nil
		}
	}
	return false, nil
}

func (t *memTerritoryTx) GetMembership(ctx context.Context, territoryID, userID int64) (Membership, error) {
	return t.repo.GetMembership(ctx, territoryID, userID)
}

func (t *memTerritoryTx) GetMembershipByID(ctx context.Context, id int64) (Membership, error) {
	m, ok := t.repo.memberships[id]
	if !ok {
		return Membership{}, shared.ErrNotFound
	}
	return m, nil
}

func (t *memTerritoryTx) CreateTerritory(ctx context.Context, territory Territory) (int64, error) {
	t.repo.nextID++
	territory.ID = t.repo.nextID
	t.repo.territories[territory.ID] = territory
	return territory.ID, nil
}

func (t *memTerritoryTx) CreateMembership(ctx context.Context, m Membership) (int64, error) {
	t.repo.nextID++
	m.ID = t.repo.nextID
	t.repo.memberships[m.ID] = m
	return m.ID, nil
}

func (t *memTerritoryTx) ReactivateMembership(ctx context.Context, id int64, role MembershipRole) error {
	m, ok := t.repo.memberships[id]
	if !ok {
		return shared.ErrNotFound
	}
	m.Status = MembershipActive
	m.Role = role
	m.LeftAt = nil
	t.repo.memberships[id] = m
	return nil
}

func (t *memTerritoryTx) CloseMembership(ctx context.Context, id int64, at time.Time) error {
	m, ok := t.repo.memberships[id]
	if !ok {
		return shared.ErrNotFound
	}
	m.Status = MembershipLeft
	m.LeftAt = &at
	t.repo.memberships[id] = m
	return nil
}

func (t *memTerritoryTx) SetResidencyVerified(ctx context.Context, membershipID int64, at time.Time) error {
	m, ok := t.repo.memberships[membershipID]
	if !ok {
		return shared.ErrNotFound
	}
	m.ResidencyVerifiedAt = &at
	t.repo.memberships[membershipID] = m
	return nil
}

func (t *memTerritoryTx) InsertCapability(ctx context.Context, grant CapabilityGrant) (int64, error) {
	t.repo.nextID++
	grant.ID = t.repo.nextID
	t.repo.grants = append(t.repo.grants, grant)
	return grant.ID, nil
}

func (t *memTerritoryTx) RevokeCapability(ctx context.Context, membershipID int64, capability string, at time.Time) (bool, error) {
	for i, g := range t.repo.grants {
		if g.MembershipID == membershipID && g.Capability == capability && g.Active() {
			t.repo.grants[i].RevokedAt = &at
			return true, nil
		}
	}
	return false, nil
}

func (t *memTerritoryTx) Reviews() *review.Engine {
	return t.repo.reviews
}

func (t *memTerritoryTx) Audit() shared.AuditRecorder {
	return t.repo.audit
}

type stubGate struct {
	allow       bool
	invalidated []int64
}

func (g *stubGate) CanDecide(ctx context.Context, actorID int64, item review.WorkItem) (bool, error) {
	return g.allow, nil
}

func (g *stubGate) Invalidate(ctx context.Context, actorID int64) error {
	g.invalidated = append(g.invalidated, actorID)
	return nil
}

type stubPermissions struct {
	admins map[int64]bool
}

func (s *stubPermissions) HasPermission(ctx context.Context, userID int64, permission string) (bool, error) {
	return permission == AdminPermission && s.admins[userID], nil
}

type fixture struct {
	service     *Service
	repo        *memTerritoryRepo
	reviews     *review.Engine
	gate        *stubGate
	permissions *stubPermissions
	audit       *memAudit
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	audit := &memAudit{}
	reviews := review.NewEngine(newMemReviewStore(), audit, nil)
	repo := newMemTerritoryRepo(reviews, audit)
	gate := &stubGate{allow: true}
	permissions := &stubPermissions{admins: map[int64]bool{}}
	return &fixture{
		service:     NewService(repo, reviews, gate, permissions, audit, nil),
		repo:        repo,
		reviews:     reviews,
		gate:        gate,
		permissions: permissions,
		audit:       audit,
	}
}

const (
	founderID  = int64(1)
	residentID = int64(2)
	visitorID  = int64(3)
)

func (f *fixture) seedTerritory(t *testing.T) Territory {
	t.Helper()
	territory, err := f.service.Create(context.Background(), CreateInput{
		Name:      "Vale do Capão",
		CreatedBy: founderID,
	})
	require.NoError(t, err)
	return territory
}

func TestCreateFoundsTerritoryWithFounderCapabilities(t *testing.T) {
	f := newFixture(t)
	territory := f.seedTerritory(t)

	require.Equal(t, "vale-do-capao", territory.Handle)

	membership, err := f.repo.GetMembership(context.Background(), territory.ID, founderID)
	require.NoError(t, err)
	require.Equal(t, RoleResident, membership.Role)

	for _, capability := range []string{CapabilityCurator, CapabilityModerator} {
		ok, err := f.repo.HasCapability(context.Background(), founderID, territory.ID, capability)
		require.NoError(t, err)
		require.True(t, ok, capability)
	}
}

func TestCreateRejectsDuplicateHandle(t *testing.T) {
	f := newFixture(t)
	f.seedTerritory(t)

	_, err := f.service.Create(context.Background(), CreateInput{
		Name:      "Vale do Capao",
		CreatedBy: founderID,
	})
	require.ErrorIs(t, err, shared.ErrInvalidState)
}

func TestJoinAndRejoin(t *testing.T) {
	f := newFixture(t)
	territory := f.seedTerritory(t)

	membership, err := f.service.Join(context.Background(), visitorID, territory.ID, RoleVisitor)
	require.NoError(t, err)
	require.Equal(t, RoleVisitor, membership.Role)

	_, err = f.service.Join(context.Background(), visitorID, territory.ID, RoleVisitor)
	require.ErrorIs(t, err, shared.ErrInvalidState)

	require.NoError(t, f.service.Leave(context.Background(), visitorID, territory.ID))
	require.Contains(t, f.gate.invalidated, visitorID)

	rejoined, err := f.service.Join(context.Background(), visitorID, territory.ID, RoleResident)
	require.NoError(t, err)
	require.Equal(t, membership.ID, rejoined.ID)
	require.Equal(t, RoleResident, rejoined.Role)
}

func TestSubmitResidencyRequiresResidentMembership(t *testing.T) {
	f := newFixture(t)
	territory := f.seedTerritory(t)

	_, err := f.service.Join(context.Background(), visitorID, territory.ID, RoleVisitor)
	require.NoError(t, err)

	_, err = f.service.SubmitResidencyDocument(context.Background(), visitorID, territory.ID, "s3://res/1")
	require.ErrorIs(t, err, shared.ErrValidation)
}

func TestSubmitResidencyCreatesScopedItem(t *testing.T) {
	f := newFixture(t)
	territory := f.seedTerritory(t)
	membership, err := f.service.Join(context.Background(), residentID, territory.ID, RoleResident)
	require.NoError(t, err)

	item, err := f.service.SubmitResidencyDocument(context.Background(), residentID, territory.ID, "s3://res/1")
	require.NoError(t, err)
	require.Equal(t, review.TypeResidencyVerification, item.Type)
	require.NotNil(t, item.TerritoryID)
	require.Equal(t, territory.ID, *item.TerritoryID)
	require.Equal(t, review.TerritoryCapability(CapabilityModerator), item.Requirement)
	require.Equal(t, review.SubjectRef{Type: review.SubjectMembership, ID: membership.ID}, item.Subject)

	_, err = f.service.SubmitResidencyDocument(context.Background(), residentID, territory.ID, "s3://res/2")
	require.ErrorIs(t, err, shared.ErrInvalidState)
}

func TestDecideResidencyApprovedStampsMembership(t *testing.T) {
	f := newFixture(t)
	territory := f.seedTerritory(t)
	membership, err := f.service.Join(context.Background(), residentID, territory.ID, RoleResident)
	require.NoError(t, err)
	item, err := f.service.SubmitResidencyDocument(context.Background(), residentID, territory.ID, "s3://res/1")
	require.NoError(t, err)

	completed, err := f.service.DecideResidency(context.Background(), item.ID, founderID, review.OutcomeApproved, "utility bill checks out")
	require.NoError(t, err)
	require.Equal(t, review.StatusCompleted, completed.Status)

	updated := f.repo.memberships[membership.ID]
	require.NotNil(t, updated.ResidencyVerifiedAt)
	require.Contains(t, f.audit.actions(), "residency.verified")
}

func TestDecideResidencyRejectedLeavesMembershipUntouched(t *testing.T) {
	f := newFixture(t)
	territory := f.seedTerritory(t)
	membership, err := f.service.Join(context.Background(), residentID, territory.ID, RoleResident)
	require.NoError(t, err)
	item, err := f.service.SubmitResidencyDocument(context.Background(), residentID, territory.ID, "s3://res/1")
	require.NoError(t, err)

	_, err = f.service.DecideResidency(context.Background(), item.ID, founderID, review.OutcomeRejected, "document unreadable")
	require.NoError(t, err)

	require.Nil(t, f.repo.memberships[membership.ID].ResidencyVerifiedAt)
	require.Contains(t, f.audit.actions(), "residency.rejected")
}

func TestDecideResidencyForbiddenLeavesItemOpen(t *testing.T) {
	f := newFixture(t)
	f.gate.allow = false
	territory := f.seedTerritory(t)
	_, err := f.service.Join(context.Background(), residentID, territory.ID, RoleResident)
	require.NoError(t, err)
	item, err := f.service.SubmitResidencyDocument(context.Background(), residentID, territory.ID, "s3://res/1")
	require.NoError(t, err)

	_, err = f.service.DecideResidency(context.Background(), item.ID, visitorID, review.OutcomeApproved, "")
	require.ErrorIs(t, err, shared.ErrForbidden)

	current, err := f.reviews.GetByID(context.Background(), item.ID)
	require.NoError(t, err)
	require.True(t, current.Open())
	require.Contains(t, f.audit.actions(), "work_item.forbidden")
}

func TestDecideResidencyAfterLeaveIsInvalidState(t *testing.T) {
	f := newFixture(t)
	territory := f.seedTerritory(t)
	_, err := f.service.Join(context.Background(), residentID, territory.ID, RoleResident)
	require.NoError(t, err)
	item, err := f.service.SubmitResidencyDocument(context.Background(), residentID, territory.ID, "s3://res/1")
	require.NoError(t, err)

	require.NoError(t, f.service.Leave(context.Background(), residentID, territory.ID))

	_, err = f.service.DecideResidency(context.Background(), item.ID, founderID, review.OutcomeApproved, "")
	require.ErrorIs(t, err, shared.ErrInvalidState)

	current, err := f.reviews.GetByID(context.Background(), item.ID)
	require.NoError(t, err)
	require.True(t, current.Open())
}

func TestGrantCapabilityRequiresAdminOrModerator(t *testing.T) {
	f := newFixture(t)
	territory := f.seedTerritory(t)
	_, err := f.service.Join(context.Background(), residentID, territory.ID, RoleResident)
	require.NoError(t, err)

	err = f.service.GrantCapability(context.Background(), visitorID, territory.ID, residentID, CapabilityCurator)
	require.ErrorIs(t, err, shared.ErrForbidden)

	// Founder holds the moderator capability.
	require.NoError(t, f.service.GrantCapability(context.Background(), founderID, territory.ID, residentID, CapabilityCurator))

	ok, err := f.service.HasCapability(context.Background(), residentID, territory.ID, CapabilityCurator)
	require.NoError(t, err)
	require.True(t, ok)
}

func TestRevokeCapabilityInvalidatesGateCache(t *testing.T) {
	f := newFixture(t)
	territory := f.seedTerritory(t)
	_, err := f.service.Join(context.Background(), residentID, territory.ID, RoleResident)
	require.NoError(t, err)
	require.NoError(t, f.service.GrantCapability(context.Background(), founderID, territory.ID, residentID, CapabilityModerator))

	require.NoError(t, f.service.RevokeCapability(context.Background(), founderID, territory.ID, residentID, CapabilityModerator))

	ok, err := f.service.HasCapability(context.Background(), residentID, territory.ID, CapabilityModerator)
	require.NoError(t, err)
	require.False(t, ok)
	require.Contains(t, f.gate.invalidated, residentID)

	err = f.service.RevokeCapability(context.Background(), founderID, territory.ID, residentID, CapabilityModerator)
	require.ErrorIs(t, err, shared.ErrNotFound)
}

func TestPlatformAdminMayGrantWithoutMembership(t *testing.T) {
	f := newFixture(t)
	territory := f.seedTerritory(t)
	adminID := int64(42)
	f.permissions.admins[adminID] = true
	_, err := f.service.Join(context.Background(), residentID, territory.ID, RoleResident)
	require.NoError(t, err)

	require.NoError(t, f.service.GrantCapability(context.Background(), adminID, territory.ID, residentID, CapabilityModerator))
}
