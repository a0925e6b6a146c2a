package storage_test

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fedifeed/relay/internal/models"
	"fedifeed/relay/internal/storage"
	"fedifeed/relay/internal/testutil"
)

func draft(src *models.Source, externalID string) *models.Post {
	return models.NewDraftPost(*src, models.Item{ExternalID: externalID, Title: externalID}, time.Now().UTC())
}

func TestCreatePostDedupKey(t *testing.T) {
	ctx := context.Background()
	s := testutil.OpenStore(t)
	owner := testutil.MustOwner(t, s, "alice")
	a := testutil.MustSource(t, s, owner.ID, "https://a.example/feed")
	b := testutil.MustSource(t, s, owner.ID, "https://b.example/feed")

	created, err := s.CreatePost(ctx, draft(a, "x"))
	require.NoError(t, err)
	assert.True(t, created)

	// Same owner, same external id, different source: still a duplicate.
	created, err = s.CreatePost(ctx, draft(b, "x"))
	require.NoError(t, err)
	assert.False(t, created)

	other := testutil.MustOwner(t, s, "bob")
	c := testutil.MustSource(t, s, other.ID, "https://a.example/feed")
	created, err = s.CreatePost(ctx, draft(c, "x"))
	require.NoError(t, err)
	assert.True(t, created, "dedup key is scoped per owner")

	found, err := s.FindPost(ctx, owner.ID, "x")
	require.NoError(t, err)
	assert.Equal(t, a.ID, found.SourceID)
	assert.Equal(t, models.PostDraft, found.Status)
	assert.False(t, found.PublishedAt.Valid)

	_, err = s.FindPost(ctx, owner.ID, "missing")
	assert.True(t, storage.IsNotFound(err))
}

func TestCreatePostRejectsNonDraft(t *testing.T) {
	s := testutil.OpenStore(t)
	owner := testutil.MustOwner(t, s, "alice")
	src := testutil.MustSource(t, s, owner.ID, "https://a.example/feed")

	p := draft(src, "x")
	p.Status = models.PostPublished
	_, err := s.CreatePost(context.Background(), p)
	assert.Error(t, err)
}

func TestTransitionPostExactlyOnce(t *testing.T) {
	ctx := context.Background()
	s := testutil.OpenStore(t)
	owner := testutil.MustOwner(t, s, "alice")
	src := testutil.MustSource(t, s, owner.ID, "https://a.example/feed")

	published := draft(src, "p")
	failed := draft(src, "f")
	for _, p := range []*models.Post{published, failed} {
		_, err := s.CreatePost(ctx, p)
		require.NoError(t, err)
	}

	at := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, s.TransitionPost(ctx, published.ID, models.PostPublished, at))
	require.NoError(t, s.TransitionPost(ctx, failed.ID, models.PostFailed, at))

	err := s.TransitionPost(ctx, published.ID, models.PostFailed, at)
	assert.ErrorIs(t, err, storage.ErrNotDraft)

	err = s.TransitionPost(ctx, "no-such-post", models.PostPublished, at)
	assert.ErrorIs(t, err, storage.ErrNotFound)

	err = s.TransitionPost(ctx, failed.ID, models.PostDraft, at)
	assert.Error(t, err)

	got, err := s.GetPost(ctx, published.ID)
	require.NoError(t, err)
	assert.Equal(t, models.PostPublished, got.Status)
	require.True(t, got.PublishedAt.Valid)
	assert.True(t, at.Equal(got.PublishedAt.Time))

	got, err = s.GetPost(ctx, failed.ID)
	require.NoError(t, err)
	assert.Equal(t, models.PostFailed, got.Status)
	assert.False(t, got.PublishedAt.Valid)

	drafts, err := s.ListDrafts(ctx, src.ID)
	require.NoError(t, err)
	assert.Empty(t, drafts)
}

func TestListDraftsOrder(t *testing.T) {
	ctx := context.Background()
	s := testutil.OpenStore(t)
	owner := testutil.MustOwner(t, s, "alice")
	src := testutil.MustSource(t, s, owner.ID, "https://a.example/feed")

	for _, id := range []string{"1", "2", "3"} {
		_, err := s.CreatePost(ctx, draft(src, id))
		require.NoError(t, err)
	}

	drafts, err := s.ListDrafts(ctx, src.ID)
	require.NoError(t, err)
	require.Len(t, drafts, 3)
	assert.Equal(t, []string{"1", "2", "3"}, []string{drafts[0].ExternalID, drafts[1].ExternalID, drafts[2].ExternalID})
}

func TestSourceHealthAndUpsert(t *testing.T) {
	ctx := context.Background()
	s := testutil.OpenStore(t)
	owner := testutil.MustOwner(t, s, "alice")
	a := testutil.MustSource(t, s, owner.ID, "https://a.example/feed")
	b := testutil.MustSource(t, s, owner.ID, "https://b.example/feed")

	dup := models.NewSource(owner.ID, a.URL)
	err := s.CreateSource(ctx, dup)
	assert.ErrorIs(t, err, storage.ErrDuplicate)

	before, err := s.GetSource(ctx, a.ID)
	require.NoError(t, err)

	now := time.Now().UTC().Add(time.Hour)
	require.NoError(t, s.UpdateSourceHealth(ctx, a.ID, now, sql.NullString{String: "boom", Valid: true}))

	got, err := s.GetSource(ctx, a.ID)
	require.NoError(t, err)
	assert.True(t, got.LastFetchedAt.Valid)
	assert.Equal(t, "boom", got.LastFetchError.String)
	assert.False(t, got.Healthy())
	assert.True(t, before.UpdatedAt.Equal(got.UpdatedAt), "health update must not touch updated_at")

	untouched, err := s.GetSource(ctx, b.ID)
	require.NoError(t, err)
	assert.False(t, untouched.LastFetchedAt.Valid)
	assert.True(t, untouched.Healthy())

	// Config refresh keeps the id and health fields.
	refreshed := models.NewSource(owner.ID, a.URL)
	refreshed.Title = "Renamed"
	refreshed.Active = false
	require.NoError(t, s.UpsertSource(ctx, refreshed))
	assert.Equal(t, a.ID, refreshed.ID)

	got, err = s.GetSource(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, "Renamed", got.Title)
	assert.Equal(t, "boom", got.LastFetchError.String)

	active, err := s.ListActiveSources(ctx)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, b.ID, active[0].ID)

	err = s.UpdateSourceHealth(ctx, "missing", now, sql.NullString{})
	assert.True(t, storage.IsNotFound(err))
}

func TestRecipientsUniquePerOwnerActor(t *testing.T) {
	ctx := context.Background()
	s := testutil.OpenStore(t)
	owner := testutil.MustOwner(t, s, "alice")

	r1 := models.NewRecipient(owner.ID, "https://remote.example/users/r1", "https://remote.example/inbox")
	require.NoError(t, s.UpsertRecipient(ctx, r1))
	again := models.NewRecipient(owner.ID, r1.ActorURL, "https://remote.example/users/r1/inbox")
	require.NoError(t, s.UpsertRecipient(ctx, again))
	assert.Equal(t, r1.ID, again.ID)

	list, err := s.ListActiveRecipients(ctx, owner.ID)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "https://remote.example/users/r1/inbox", list[0].Endpoint)

	require.NoError(t, s.DeactivateRecipient(ctx, owner.ID, r1.ActorURL))
	list, err = s.ListActiveRecipients(ctx, owner.ID)
	require.NoError(t, err)
	assert.Empty(t, list)

	err = s.DeactivateRecipient(ctx, owner.ID, "https://unknown.example/actor")
	assert.True(t, storage.IsNotFound(err))
}

func TestOwnerUpsertKeepsKeys(t *testing.T) {
	ctx := context.Background()
	s := testutil.OpenStore(t)

	o := models.NewOwner("alice")
	o.PrivateKeyPEM = sql.NullString{String: "pem", Valid: true}
	require.NoError(t, s.UpsertOwner(ctx, o))

	again := models.NewOwner("alice")
	again.DisplayName = "Alice"
	require.NoError(t, s.UpsertOwner(ctx, again))
	assert.Equal(t, o.ID, again.ID)

	got, err := s.GetOwnerByUsername(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, "Alice", got.DisplayName)
	assert.Equal(t, "pem", got.PrivateKeyPEM.String)
}

func TestAttemptsPagingAndPurge(t *testing.T) {
	ctx := context.Background()
	s := testutil.OpenStore(t)
	owner := testutil.MustOwner(t, s, "alice")
	src := testutil.MustSource(t, s, owner.ID, "https://a.example/feed")
	p := draft(src, "x")
	_, err := s.CreatePost(ctx, p)
	require.NoError(t, err)

	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		a := &models.DeliveryAttempt{
			PostID:      p.ID,
			RecipientID: "r",
			Endpoint:    "https://remote.example/inbox",
			Status:      models.AttemptDelivered,
			AttemptedAt: base.Add(time.Duration(i) * time.Minute),
		}
		require.NoError(t, s.RecordAttempt(ctx, a))
		assert.NotZero(t, a.ID)
	}

	since := base.Add(-time.Second)
	page, err := s.ListAttempts(ctx, 2, &since, nil, nil)
	require.NoError(t, err)
	require.Len(t, page, 2)

	last := page[1]
	next, err := s.ListAttempts(ctx, 10, nil, &last.AttemptedAt, &last.ID)
	require.NoError(t, err)
	require.Len(t, next, 3)
	assert.Greater(t, next[0].ID, last.ID)

	_, err = s.ListAttempts(ctx, 10, nil, nil, nil)
	assert.Error(t, err)

	n, err := s.PurgeAttempts(ctx, base.Add(2*time.Minute))
	require.NoError(t, err)
	assert.EqualValues(t, 2, n)
}

func TestErrorWrapping(t *testing.T) {
	err := &storage.Error{Op: "x", Err: storage.ErrNotFound}
	assert.True(t, errors.Is(err, storage.ErrNotFound))
	assert.Contains(t, err.Error(), "x")
}
