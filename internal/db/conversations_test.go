package db_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/inboxd/inboxd/internal/db"
	"github.com/inboxd/inboxd/internal/models"
	"github.com/inboxd/inboxd/internal/testutil"
)

func TestGetOrCreateConversation(t *testing.T) {
	pool := testutil.NewTestDB(t)
	ctx := context.Background()

	first := &models.Conversation{
		IdentityHash: "hash-1",
		IdentityKind: models.IdentityOneToOne,
		DisplayName:  "alice@example.com",
	}
	require.NoError(t, db.GetOrCreateConversation(ctx, pool, first))
	require.NotEmpty(t, first.ID)

	// Same identity key returns the existing row, not a new one.
	second := &models.Conversation{
		IdentityHash: "hash-1",
		IdentityKind: models.IdentityOneToOne,
		DisplayName:  "alice@example.com",
	}
	require.NoError(t, db.GetOrCreateConversation(ctx, pool, second))
	assert.Equal(t, first.ID, second.ID)

	other := &models.Conversation{
		IdentityHash: "hash-2",
		IdentityKind: models.IdentityGroup,
		DisplayName:  "alice, bob",
	}
	require.NoError(t, db.GetOrCreateConversation(ctx, pool, other))
	assert.NotEqual(t, first.ID, other.ID)
}

func TestTouchConversationPreviewOnlyMovesForward(t *testing.T) {
	pool := testutil.NewTestDB(t)
	ctx := context.Background()

	c := &models.Conversation{
		IdentityHash: "hash-1",
		IdentityKind: models.IdentityOneToOne,
		DisplayName:  "alice@example.com",
	}
	require.NoError(t, db.GetOrCreateConversation(ctx, pool, c))

	newer := time.Now()
	older := newer.Add(-time.Hour)

	require.NoError(t, db.TouchConversationPreview(ctx, pool, c.ID, "newer snippet", newer))

	// An older message arriving out of order must not regress the preview.
	require.NoError(t, db.TouchConversationPreview(ctx, pool, c.ID, "older snippet", older))

	got, err := db.GetConversationByID(ctx, pool, c.ID)
	require.NoError(t, err)
	assert.Equal(t, "newer snippet", got.Snippet)
	require.NotNil(t, got.LastMessageAt)
	assert.WithinDuration(t, newer, *got.LastMessageAt, time.Second)
}

func TestSetConversationFlags(t *testing.T) {
	pool := testutil.NewTestDB(t)
	ctx := context.Background()

	c := &models.Conversation{
		IdentityHash: "hash-1",
		IdentityKind: models.IdentityOneToOne,
		DisplayName:  "alice@example.com",
	}
	require.NoError(t, db.GetOrCreateConversation(ctx, pool, c))

	pinned := true
	require.NoError(t, db.SetConversationFlags(ctx, pool, c.ID, db.ConversationFlags{Pinned: &pinned}))

	// Unset fields are left untouched.
	muted := true
	require.NoError(t, db.SetConversationFlags(ctx, pool, c.ID, db.ConversationFlags{Muted: &muted}))

	got, err := db.GetConversationByID(ctx, pool, c.ID)
	require.NoError(t, err)
	assert.True(t, got.Pinned)
	assert.True(t, got.Muted)
	assert.False(t, got.Hidden)
	assert.False(t, got.Archived)
}

func TestListVisibleConversations(t *testing.T) {
	pool := testutil.NewTestDB(t)
	ctx := context.Background()

	mk := func(hash string, lastMessage time.Time) *models.Conversation {
		c := &models.Conversation{
			IdentityHash: hash,
			IdentityKind: models.IdentityOneToOne,
			DisplayName:  hash,
		}
		require.NoError(t, db.GetOrCreateConversation(ctx, pool, c))
		require.NoError(t, db.TouchConversationPreview(ctx, pool, c.ID, "s", lastMessage))
		return c
	}

	now := time.Now()
	oldest := mk("hash-oldest", now.Add(-3*time.Hour))
	hidden := mk("hash-hidden", now.Add(-2*time.Hour))
	newest := mk("hash-newest", now.Add(-time.Hour))

	hide := true
	require.NoError(t, db.SetConversationFlags(ctx, pool, hidden.ID, db.ConversationFlags{Hidden: &hide}))

	pin := true
	require.NoError(t, db.SetConversationFlags(ctx, pool, oldest.ID, db.ConversationFlags{Pinned: &pin}))

	conversations, total, err := db.ListVisibleConversations(ctx, pool, 10, 0)
	require.NoError(t, err)
	assert.Equal(t, 2, total)
	require.Len(t, conversations, 2)

	// Pinned first, then newest activity.
	assert.Equal(t, oldest.ID, conversations[0].ID)
	assert.Equal(t, newest.ID, conversations[1].ID)
}
