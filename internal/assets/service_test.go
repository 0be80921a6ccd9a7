package assets

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

type memAssetRepo struct {
	assets  map[int64]Asset
	nextID  int64
	reviews *review.Engine
	audit   *memAudit
}

type memAssetTx struct {
	repo *memAssetRepo
}

func newMemAssetRepo(reviews *review.Engine, audit *memAudit) *memAssetRepo {
	return &memAssetRepo{assets: make(map[int64]Asset), reviews: reviews, audit: audit}
}

func (r *memAssetRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return fn(ctx, &memAssetTx{repo: r})
}

func (r *memAssetRepo) GetAsset(ctx context.Context, id int64) (Asset, error) {
	asset, ok := r.assets[id]
	if !ok {
		return Asset{}, shared.ErrNotFound
	}
	return asset, nil
}

func (r *memAssetRepo) ListByTerritory(ctx context.Context, territoryID int64, status *AssetStatus) ([]Asset, error) {
	var out []Asset
	for _, asset := range r.assets {
		if asset.TerritoryID != territoryID {
			continue
		}
		if status != nil && asset.Status != *status {
			continue
		}
		out = append(out, asset)
	}
	return out, nil
}

func (t *memAssetTx) GetAsset(ctx context.Context, id int64) (Asset, error) {
	return t.repo.GetAsset(ctx, id)
}

func (t *memAssetTx) CreateAsset(ctx context.Context, asset Asset) (int64, error) {
	t.repo.nextID++
	asset.ID = t.repo.nextID
	t.repo.assets[asset.ID] = asset
	return asset.ID, nil
}

func (t *memAssetTx) SetCuration(ctx context.Context, id int64, status AssetStatus, curatedBy int64, at time.Time, notes *string) error {
	asset, ok := t.repo.assets[id]
	if !ok {
		return shared.ErrNotFound
	}
	asset.Status = status
	asset.CuratedBy = &curatedBy
	asset.CuratedAt = &at
	asset.CurationNotes = notes
	t.repo.assets[id] = asset
	return nil
}

func (t *memAssetTx) Reviews() *review.Engine {
	return t.repo.reviews
}

func (t *memAssetTx) Audit() shared.AuditRecorder {
	return t.repo.audit
}

type stubGate struct {
	allow bool
}

func (g *stubGate) CanDecide(ctx context.Context, actorID int64, item review.WorkItem) (bool, error) {
	return g.allow, nil
}

type stubMemberships struct {
	members map[int64]bool
}

func (s *stubMemberships) IsActiveMember(ctx context.Context, userID, territoryID int64) (bool, error) {
	return s.members[userID], nil
}

type fixture struct {
	service *Service
	repo    *memAssetRepo
	reviews *review.Engine
	gate    *stubGate
	audit   *memAudit
}

const (
	suggesterID = int64(1)
	curatorID   = int64(2)
	territoryID = int64(10)
)

func newFixture(t *testing.T) *fixture {
	t.Helper()
	audit := &memAudit{}
	reviews := review.NewEngine(newMemReviewStore(), audit, nil)
	repo := newMemAssetRepo(reviews, audit)
	gate := &stubGate{allow: true}
	memberships := &stubMemberships{members: map[int64]bool{suggesterID: true}}
	return &fixture{
		service: NewService(repo, reviews, gate, memberships, audit, nil),
		repo:    repo,
		reviews: reviews,
		gate:    gate,
		audit:   audit,
	}
}

func (f *fixture) suggest(t *testing.T) (Asset, review.WorkItem) {
	t.Helper()
	asset, item, err := f.service.Suggest(context.Background(), SuggestInput{
		TerritoryID: territoryID,
		Name:        "Nascente do Rio Preto",
		SuggestedBy: suggesterID,
	})
	require.NoError(t, err)
	return asset, item
}

func TestSuggestQueuesCurationItem(t *testing.T) {
	f := newFixture(t)
	asset, item := f.suggest(t)

	require.Equal(t, AssetSuggested, asset.Status)
	require.Equal(t, review.TypeAssetCuration, item.Type)
	require.NotNil(t, item.TerritoryID)
	require.Equal(t, territoryID, *item.TerritoryID)
	require.Equal(t, review.SubjectRef{Type: review.SubjectAsset, ID: asset.ID}, item.Subject)
}

func TestSuggestRequiresMembership(t *testing.T) {
	f := newFixture(t)

	_, _, err := f.service.Suggest(context.Background(), SuggestInput{
		TerritoryID: territoryID,
		Name:        "Mirante",
		SuggestedBy: 99,
	})
	require.ErrorIs(t, err, shared.ErrForbidden)
}

func TestDecideByWorkItemApprovesAsset(t *testing.T) {
	f := newFixture(t)
	asset, item := f.suggest(t)

	completed, err := f.service.DecideByWorkItem(context.Background(), item.ID, curatorID, review.OutcomeApproved, "verified on site")
	require.NoError(t, err)
	require.Equal(t, review.StatusCompleted, completed.Status)

	updated := f.repo.assets[asset.ID]
	require.Equal(t, AssetApproved, updated.Status)
	require.Equal(t, curatorID, *updated.CuratedBy)
	require.Equal(t, "verified on site", *updated.CurationNotes)
	require.Contains(t, f.audit.actions(), "asset.approved")
}

func TestDecideByAssetConvergesOnSameItem(t *testing.T) {
	f := newFixture(t)
	asset, item := f.suggest(t)

	completed, err := f.service.DecideByAsset(context.Background(), asset.ID, curatorID, review.OutcomeRejected, "duplicate entry")
	require.NoError(t, err)
	require.Equal(t, item.ID, completed.ID)
	require.Equal(t, AssetRejected, f.repo.assets[asset.ID].Status)

	// The work-item entry point must now see the same completion.
	_, err = f.service.DecideByWorkItem(context.Background(), item.ID, curatorID, review.OutcomeApproved, "")
	require.ErrorIs(t, err, shared.ErrInvalidState)

	_, err = f.service.DecideByAsset(context.Background(), asset.ID, curatorID, review.OutcomeApproved, "")
	require.ErrorIs(t, err, shared.ErrNotFound)
}

func TestDecideForbiddenLeavesAssetPending(t *testing.T) {
	f := newFixture(t)
	f.gate.allow = false
	asset, item := f.suggest(t)

	_, err := f.service.DecideByWorkItem(context.Background(), item.ID, curatorID, review.OutcomeApproved, "")
	require.ErrorIs(t, err, shared.ErrForbidden)

	require.True(t, f.repo.assets[asset.ID].Pending())
	current, err := f.reviews.GetByID(context.Background(), item.ID)
	require.NoError(t, err)
	require.True(t, current.Open())
	require.Contains(t, f.audit.actions(), "work_item.forbidden")
}
