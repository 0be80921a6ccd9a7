package feed

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/sraphaz/araponga-sub002/internal/shared"
)

type memPostStore struct {
	posts  map[int64]Post
	nextID int64
}

func newMemPostStore() *memPostStore {
	return &memPostStore{posts: make(map[int64]Post)}
}

func (s *memPostStore) Insert(ctx context.Context, post Post) (int64, error) {
	s.nextID++
	post.ID = s.nextID
	s.posts[post.ID] = post
	return post.ID, nil
}

func (s *memPostStore) GetByID(ctx context.Context, id int64) (Post, error) {
	post, ok := s.posts[id]
	if !ok {
		return Post{}, shared.ErrNotFound
	}
	return post, nil
}

func (s *memPostStore) ListVisible(ctx context.Context, territoryID int64, limit, offset int) ([]Post, error) {
	var out []Post
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

type stubMemberships struct {
	members map[int64]bool
}

func (s *stubMemberships) IsActiveMember(ctx context.Context, userID, territoryID int64) (bool, error) {
	return s.members[userID], nil
}

type stubSanctions struct {
	sanctioned map[int64]bool
}

func (s *stubSanctions) HasActiveSanction(ctx context.Context, userID, territoryID int64) (bool, error) {
	return s.sanctioned[userID], nil
}

type nopAudit struct{}

func (nopAudit) Record(ctx context.Context, log shared.AuditLog) error { return nil }

func newTestService() (*Service, *memPostStore, *stubSanctions) {
	store := newMemPostStore()
	sanctions := &stubSanctions{sanctioned: map[int64]bool{}}
	service := NewService(store, &stubMemberships{members: map[int64]bool{1: true}}, sanctions, nopAudit{}, nil)
	return service, store, sanctions
}

func TestCreatePostRequiresMembership(t *testing.T) {
	service, _, _ := newTestService()

	_, err := service.CreatePost(context.Background(), 99, 1, "hello")
	require.ErrorIs(t, err, shared.ErrForbidden)
}

func TestCreatePostBlockedByActiveSanction(t *testing.T) {
	service, _, sanctions := newTestService()
	sanctions.sanctioned[1] = true

	_, err := service.CreatePost(context.Background(), 1, 1, "hello")
	require.ErrorIs(t, err, shared.ErrForbidden)
}

func TestCreatePostTrimsAndValidatesBody(t *testing.T) {
	service, _, _ := newTestService()

	_, err := service.CreatePost(context.Background(), 1, 1, "   ")
	require.ErrorIs(t, err, shared.ErrValidation)

	post, err := service.CreatePost(context.Background(), 1, 1, "  mutirão on saturday  ")
	require.NoError(t, err)
	require.Equal(t, "mutirão on saturday", post.Body)
	require.False(t, post.Hidden)
}

func TestListVisibleExcludesHiddenPosts(t *testing.T) {
	service, store, _ := newTestService()

	visible, err := service.CreatePost(context.Background(), 1, 1, "keep me")
	require.NoError(t, err)
	hidden, err := service.CreatePost(context.Background(), 1, 1, "hide me")
	require.NoError(t, err)
	require.NoError(t, store.SetHidden(context.Background(), hidden.ID, true))

	posts, err := service.ListVisible(context.Background(), 1, 10, 0)
	require.NoError(t, err)
	require.Len(t, posts, 1)
	require.Equal(t, visible.ID, posts[0].ID)
}
