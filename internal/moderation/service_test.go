package moderation

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/sraphaz/araponga-sub002/internal/feed"
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

func (a *memAudit) count(action string) int {
	n := 0
	for _, e := range a.entries {
		if e.Action == action {
			n++
		}
	}
	return n
}

func (a *memAudit) actions() []string {
	out := make([]string, 0, len(a.entries))
	for _, e := range a.entries {
		out = append(out, e.Action)
	}
	return out
}

type memPostStore struct {
	posts  map[int64]feed.Post
	nextID int64
}

func newMemPostStore() *memPostStore {
	return &memPostStore{posts: make(map[int64]feed.Post)}
}

func (s *memPostStore) Insert(ctx context.Context, post feed.Post) (int64, error) {
	s.nextID++
	post.ID = s.nextID
	s.posts[post.ID] = post
	return post.ID, nil
}

func (s *memPostStore) GetByID(ctx context.Context, id int64) (feed.Post, error) {
	post, ok := s.posts[id]
	if !ok {
		return feed.Post{}, shared.ErrNotFound
	}
	return post, nil
}

func (s *memPostStore) ListVisible(ctx context.Context, territoryID int64, limit, offset int) ([]feed.Post, error) {
	var out []feed.Post
	for _, post := range s.posts {
		if post.TerritoryID == territoryID && !post.Hidden {
			out = append(out, post)
		}
	}
	return out, nil
}

func (s *memPostStore) SetHidden(ctx context.Context, id int64, hidden bool) error {
	post, ok := s.posts[id]
	if !ok {
		return shared.ErrNotFound
	}
	post.Hidden = hidden
	s.posts[id] = post
	return nil
}

type memModerationRepo struct {
	reports   map[int64]Report
	sanctions []Sanction
	users     map[int64]bool
	nextID    int64
	posts     *memPostStore
	reviews   *review.Engine
	audit     *memAudit
}

type memModerationTx struct {
	repo *memModerationRepo
}

func newMemModerationRepo(posts *memPostStore, reviews *review.Engine, audit *memAudit) *memModerationRepo {
	return &memModerationRepo{
		reports: make(map[int64]Report),
		users:   make(map[int64]bool),
		posts:   posts,
		reviews: reviews,
		audit:   audit,
	}
}

func (r *memModerationRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return fn(ctx, &memModerationTx{repo: r})
}

func (r *memModerationRepo) GetReport(ctx context.Context, id int64) (Report, error) {
	report, ok := r.reports[id]
	if !ok {
		return Report{}, shared.ErrNotFound
	}
	return report, nil
}

func (r *memModerationRepo) ListReports(ctx context.Context, territoryID int64, status *ReportStatus) ([]Report, error) {
	var out []Report
	for _, report := range r.reports {
		if report.TerritoryID != territoryID {
			continue
		}
		if status != nil && report.Status != *status {
			continue
		}
		out = append(out, report)
	}
	return out, nil
}

func (r *memModerationRepo) HasActiveSanction(ctx context.Context, userID, territoryID int64) (bool, error) {
	now := time.Now().UTC()
	for _, sanction := range r.sanctions {
		if sanction.UserID == userID && sanction.TerritoryID == territoryID && sanction.ActiveAt(now) {
			return true, nil
		}
	}
	return false, nil
}

func (r *memModerationRepo) ListEscalatable(ctx context.Context, since time.Time, threshold int) ([]EscalationCandidate, error) {
	type key struct {
		territoryID int64
		target      ReportTarget
	}
	reporters := make(map[key]map[int64]bool)
	latest := make(map[key]int64)
	underReview := make(map[key]bool)
	for _, report := range r.reports {
		k := key{territoryID: report.TerritoryID, target: report.Target}
		if report.Status == ReportUnderReview {
			underReview[k] = true
		}
		if report.Status != ReportOpen || report.CreatedAt.Before(since) {
			continue
		}
		if reporters[k] == nil {
			reporters[k] = make(map[int64]bool)
		}
		reporters[k][report.ReporterID] = true
		if report.ID > latest[k] {
			latest[k] = report.ID
		}
	}
	var out []EscalationCandidate
	for k, seen := range reporters {
		if len(seen) < threshold || underReview[k] {
			continue
		}
		out = append(out, EscalationCandidate{TerritoryID: k.territoryID, Target: k.target, ReportID: latest[k]})
	}
	return out, nil
}

func (t *memModerationTx) GetReport(ctx context.Context, id int64) (Report, error) {
	return t.repo.GetReport(ctx, id)
}

func (t *memModerationTx) CreateReport(ctx context.Context, report Report) (int64, error) {
	t.repo.nextID++
	report.ID = t.repo.nextID
	t.repo.reports[report.ID] = report
	return report.ID, nil
}

func (t *memModerationTx) SetReportStatus(ctx context.Context, id int64, status ReportStatus) error {
	report, ok := t.repo.reports[id]
	if !ok {
		return shared.ErrNotFound
	}
	report.Status = status
	t.repo.reports[id] = report
	return nil
}

func (t *memModerationTx) CountDistinctReporters(ctx context.Context, territoryID int64, target ReportTarget, since time.Time) (int, error) {
	seen := make(map[int64]bool)
	for _, report := range t.repo.reports {
		if report.TerritoryID == territoryID && report.Target == target && !report.CreatedAt.Before(since) {
			seen[report.ReporterID] = true
		}
	}
	return len(seen), nil
}

func (t *memModerationTx) HasUnderReviewReport(ctx context.Context, territoryID int64, target ReportTarget) (bool, error) {
	for _, report := range t.repo.reports {
		if report.TerritoryID == territoryID && report.Target == target && report.Status == ReportUnderReview {
			return true, nil
		}
	}
	return false, nil
}

func (t *memModerationTx) InsertSanction(ctx context.Context, sanction Sanction) (int64, error) {
	sanction.ID = int64(len(t.repo.sanctions) + 1)
	t.repo.sanctions = append(t.repo.sanctions, sanction)
	return sanction.ID, nil
}

func (t *memModerationTx) HasActiveSanction(ctx context.Context, userID, territoryID int64, at time.Time) (bool, error) {
	for _, sanction := range t.repo.sanctions {
		if sanction.UserID == userID && sanction.TerritoryID == territoryID && sanction.ActiveAt(at) {
			return true, nil
		}
	}
	return false, nil
}

func (t *memModerationTx) UserExists(ctx context.Context, userID int64) (bool, error) {
	return t.repo.users[userID], nil
}

func (t *memModerationTx) Posts() feed.Store {
	return t.repo.posts
}

func (t *memModerationTx) Reviews() *review.Engine {
	return t.repo.reviews
}

func (t *memModerationTx) Audit() shared.AuditRecorder {
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

const (
	territoryID  = int64(10)
	postAuthorID = int64(5)
	moderatorID  = int64(9)
)

type fixture struct {
	service *Service
	repo    *memModerationRepo
	posts   *memPostStore
	reviews *review.Engine
	gate    *stubGate
	audit   *memAudit
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	audit := &memAudit{}
	reviews := review.NewEngine(newMemReviewStore(), audit, nil)
	posts := newMemPostStore()
	repo := newMemModerationRepo(posts, reviews, audit)
	repo.users = map[int64]bool{1: true, 2: true, 3: true, 4: true, postAuthorID: true, moderatorID: true}
	gate := &stubGate{allow: true}
	memberships := &stubMemberships{members: map[int64]bool{1: true, 2: true, 3: true, 4: true, postAuthorID: true}}
	return &fixture{
		service: NewService(repo, reviews, gate, memberships, audit, Config{}, nil),
		repo:    repo,
		posts:   posts,
		reviews: reviews,
		gate:    gate,
		audit:   audit,
	}
}

func (f *fixture) seedPost(t *testing.T) feed.Post {
	t.Helper()
	id, err := f.posts.Insert(context.Background(), feed.Post{
		TerritoryID: territoryID,
		AuthorID:    postAuthorID,
		Body:        "vendo bicicleta usada",
		CreatedAt:   time.Now().UTC(),
	})
	require.NoError(t, err)
	post, err := f.posts.GetByID(context.Background(), id)
	require.NoError(t, err)
	return post
}

func (f *fixture) file(t *testing.T, reporter int64, target ReportTarget) (Report, *review.WorkItem) {
	t.Helper()
	report, item, err := f.service.FileReport(context.Background(), FileInput{
		TerritoryID: territoryID,
		Target:      target,
		ReporterID:  reporter,
		Reason:      "conteudo inadequado",
	})
	require.NoError(t, err)
	return report, item
}

func TestFileReportStaysOpenBelowThreshold(t *testing.T) {
	f := newFixture(t)
	post := f.seedPost(t)
	target := ReportTarget{Kind: TargetPost, ID: post.ID}

	report, item := f.file(t, 1, target)
	require.Nil(t, item)
	require.Equal(t, ReportOpen, report.Status)

	_, item = f.file(t, 2, target)
	require.Nil(t, item)
	require.Equal(t, 0, f.audit.count("moderation.case.opened"))
}

func TestThirdDistinctReporterOpensCase(t *testing.T) {
	f := newFixture(t)
	post := f.seedPost(t)
	target := ReportTarget{Kind: TargetPost, ID: post.ID}

	f.file(t, 1, target)
	f.file(t, 2, target)
	report, item := f.file(t, 3, target)

	require.NotNil(t, item)
	require.Equal(t, review.TypeModerationCase, item.Type)
	require.NotNil(t, item.TerritoryID)
	require.Equal(t, territoryID, *item.TerritoryID)
	require.Equal(t, review.SubjectRef{Type: review.SubjectReport, ID: report.ID}, item.Subject)
	require.Equal(t, ReportUnderReview, report.Status)
	require.Equal(t, 1, f.audit.count("moderation.case.opened"))
}

func TestRepeatReporterDoesNotCount(t *testing.T) {
	f := newFixture(t)
	post := f.seedPost(t)
	target := ReportTarget{Kind: TargetPost, ID: post.ID}

	for i := 0; i < 3; i++ {
		_, item := f.file(t, 1, target)
		require.Nil(t, item)
	}
	_, item := f.file(t, 2, target)
	require.Nil(t, item)
}

func TestNoSecondCaseWhileOneIsOpen(t *testing.T) {
	f := newFixture(t)
	post := f.seedPost(t)
	target := ReportTarget{Kind: TargetPost, ID: post.ID}

	f.file(t, 1, target)
	f.file(t, 2, target)
	_, first := f.file(t, 3, target)
	require.NotNil(t, first)

	report, second := f.file(t, 4, target)
	require.Nil(t, second)
	require.Equal(t, ReportOpen, report.Status)
	require.Equal(t, 1, f.audit.count("moderation.case.opened"))
}

func TestFileReportRequiresMembership(t *testing.T) {
	f := newFixture(t)
	post := f.seedPost(t)

	_, _, err := f.service.FileReport(context.Background(), FileInput{
		TerritoryID: territoryID,
		Target:      ReportTarget{Kind: TargetPost, ID: post.ID},
		ReporterID:  99,
		Reason:      "spam",
	})
	require.ErrorIs(t, err, shared.ErrForbidden)
}

func TestFileReportValidatesPostTarget(t *testing.T) {
	f := newFixture(t)

	_, _, err := f.service.FileReport(context.Background(), FileInput{
		TerritoryID: territoryID,
		Target:      ReportTarget{Kind: TargetPost, ID: 404},
		ReporterID:  1,
		Reason:      "spam",
	})
	require.ErrorIs(t, err, shared.ErrNotFound)

	otherID, err := f.posts.Insert(context.Background(), feed.Post{
		TerritoryID: territoryID + 1,
		AuthorID:    postAuthorID,
		Body:        "post de outro territorio",
		CreatedAt:   time.Now().UTC(),
	})
	require.NoError(t, err)

	_, _, err = f.service.FileReport(context.Background(), FileInput{
		TerritoryID: territoryID,
		Target:      ReportTarget{Kind: TargetPost, ID: otherID},
		ReporterID:  1,
		Reason:      "spam",
	})
	require.ErrorIs(t, err, shared.ErrValidation)
}

func TestFileReportValidatesUserTarget(t *testing.T) {
	f := newFixture(t)

	_, _, err := f.service.FileReport(context.Background(), FileInput{
		TerritoryID: territoryID,
		Target:      ReportTarget{Kind: TargetUser, ID: 404},
		ReporterID:  1,
		Reason:      "perfil falso",
	})
	require.ErrorIs(t, err, shared.ErrNotFound)
	require.Empty(t, f.repo.reports)
}

func escalatedCase(t *testing.T, f *fixture, target ReportTarget) (Report, review.WorkItem) {
	t.Helper()
	f.file(t, 1, target)
	f.file(t, 2, target)
	report, item := f.file(t, 3, target)
	require.NotNil(t, item)
	return report, *item
}

func TestDecideApprovedHidesPost(t *testing.T) {
	f := newFixture(t)
	post := f.seedPost(t)
	report, item := escalatedCase(t, f, ReportTarget{Kind: TargetPost, ID: post.ID})

	completed, err := f.service.Decide(context.Background(), item.ID, moderatorID, review.OutcomeApproved, "regras da comunidade")
	require.NoError(t, err)
	require.Equal(t, review.StatusCompleted, completed.Status)
	require.Equal(t, review.OutcomeApproved, completed.Outcome)

	require.True(t, f.posts.posts[post.ID].Hidden)
	require.Equal(t, ReportActioned, f.repo.reports[report.ID].Status)
	require.Contains(t, f.audit.actions(), "post.hidden")
	require.Contains(t, f.audit.actions(), "report.actioned")
}

func TestDecideApprovedIsIdempotentOnHiddenPost(t *testing.T) {
	f := newFixture(t)
	post := f.seedPost(t)
	report, item := escalatedCase(t, f, ReportTarget{Kind: TargetPost, ID: post.ID})

	require.NoError(t, f.posts.SetHidden(context.Background(), post.ID, true))

	_, err := f.service.Decide(context.Background(), item.ID, moderatorID, review.OutcomeApproved, "")
	require.NoError(t, err)
	require.Equal(t, ReportActioned, f.repo.reports[report.ID].Status)
	require.Equal(t, 0, f.audit.count("post.hidden"))
}

func TestDecideApprovedSanctionsUser(t *testing.T) {
	f := newFixture(t)
	report, item := escalatedCase(t, f, ReportTarget{Kind: TargetUser, ID: postAuthorID})

	_, err := f.service.Decide(context.Background(), item.ID, moderatorID, review.OutcomeApproved, "assedio recorrente")
	require.NoError(t, err)

	require.Len(t, f.repo.sanctions, 1)
	sanction := f.repo.sanctions[0]
	require.Equal(t, postAuthorID, sanction.UserID)
	require.Equal(t, moderatorID, sanction.ImposedBy)
	require.True(t, sanction.ExpiresAt.After(sanction.StartsAt))
	require.Equal(t, ReportActioned, f.repo.reports[report.ID].Status)
	require.Contains(t, f.audit.actions(), "sanction.imposed")

	blocked, err := f.service.HasActiveSanction(context.Background(), postAuthorID, territoryID)
	require.NoError(t, err)
	require.True(t, blocked)
}

func TestDecideApprovedSkipsDuplicateSanction(t *testing.T) {
	f := newFixture(t)
	_, item := escalatedCase(t, f, ReportTarget{Kind: TargetUser, ID: postAuthorID})

	now := time.Now().UTC()
	f.repo.sanctions = append(f.repo.sanctions, Sanction{
		ID:          1,
		TerritoryID: territoryID,
		UserID:      postAuthorID,
		ImposedBy:   moderatorID,
		StartsAt:    now.Add(-time.Hour),
		ExpiresAt:   now.Add(time.Hour),
	})

	_, err := f.service.Decide(context.Background(), item.ID, moderatorID, review.OutcomeApproved, "")
	require.NoError(t, err)
	require.Len(t, f.repo.sanctions, 1)
}

func TestDecideRejectedMarksReviewed(t *testing.T) {
	f := newFixture(t)
	post := f.seedPost(t)
	report, item := escalatedCase(t, f, ReportTarget{Kind: TargetPost, ID: post.ID})

	_, err := f.service.Decide(context.Background(), item.ID, moderatorID, review.OutcomeRejected, "nao viola as regras")
	require.NoError(t, err)

	require.False(t, f.posts.posts[post.ID].Hidden)
	require.Equal(t, ReportReviewed, f.repo.reports[report.ID].Status)
	require.Contains(t, f.audit.actions(), "report.reviewed")
	require.Empty(t, f.repo.sanctions)
}

func TestDecideForbiddenLeavesCaseOpen(t *testing.T) {
	f := newFixture(t)
	post := f.seedPost(t)
	report, item := escalatedCase(t, f, ReportTarget{Kind: TargetPost, ID: post.ID})
	f.gate.allow = false

	_, err := f.service.Decide(context.Background(), item.ID, moderatorID, review.OutcomeApproved, "")
	require.ErrorIs(t, err, shared.ErrForbidden)

	current, err := f.reviews.GetByID(context.Background(), item.ID)
	require.NoError(t, err)
	require.True(t, current.Open())
	require.False(t, f.posts.posts[post.ID].Hidden)
	require.Equal(t, ReportUnderReview, f.repo.reports[report.ID].Status)
	require.Contains(t, f.audit.actions(), "work_item.forbidden")
}

func TestDecideTwiceFailsWithInvalidState(t *testing.T) {
	f := newFixture(t)
	post := f.seedPost(t)
	_, item := escalatedCase(t, f, ReportTarget{Kind: TargetPost, ID: post.ID})

	_, err := f.service.Decide(context.Background(), item.ID, moderatorID, review.OutcomeApproved, "")
	require.NoError(t, err)

	_, err = f.service.Decide(context.Background(), item.ID, moderatorID, review.OutcomeRejected, "")
	require.ErrorIs(t, err, shared.ErrInvalidState)
}

func TestEscalateDueOpensMissedCases(t *testing.T) {
	f := newFixture(t)
	post := f.seedPost(t)
	target := ReportTarget{Kind: TargetPost, ID: post.ID}

	// Seed reports directly, simulating filings that slipped past the
	// synchronous escalation.
	now := time.Now().UTC()
	for reporter := int64(1); reporter <= 3; reporter++ {
		f.repo.nextID++
		f.repo.reports[f.repo.nextID] = Report{
			ID:          f.repo.nextID,
			TerritoryID: territoryID,
			Target:      target,
			ReporterID:  reporter,
			Reason:      "spam",
			Status:      ReportOpen,
			CreatedAt:   now,
		}
	}

	opened, err := f.service.EscalateDue(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, opened)
	require.Equal(t, 1, f.audit.count("moderation.case.opened"))

	// A second sweep finds nothing new.
	opened, err = f.service.EscalateDue(context.Background())
	require.NoError(t, err)
	require.Equal(t, 0, opened)
}
