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

func TestUpsertMessageRefreshesOnlyMutableFields(t *testing.T) {
	pool := testutil.NewTestDB(t)
	ctx := context.Background()

	c := &models.Conversation{IdentityHash: "h", IdentityKind: models.IdentityOneToOne, DisplayName: "h"}
	require.NoError(t, db.GetOrCreateConversation(ctx, pool, c))

	sentAt := time.Now()
	msg := &models.Message{
		RemoteID:       "m1",
		ConversationID: c.ID,
		Subject:        "original subject",
		FromAddress:    "alice@example.com",
		Snippet:        "original snippet",
		SentAt:         &sentAt,
		IsUnread:       true,
		InInbox:        true,
		LabelIDs:       []string{"INBOX", "UNREAD"},
	}

	inserted, err := db.UpsertMessage(ctx, pool, msg)
	require.NoError(t, err)
	assert.True(t, inserted)
	require.NotEmpty(t, msg.ID)

	// Re-sync with changed mutable state and a tampered immutable field.
	resync := &models.Message{
		RemoteID:       "m1",
		ConversationID: c.ID,
		Subject:        "tampered subject",
		FromAddress:    "alice@example.com",
		Snippet:        "refreshed snippet",
		SentAt:         &sentAt,
		IsUnread:       false,
		IsStarred:      true,
		InInbox:        true,
		LabelIDs:       []string{"INBOX", "STARRED"},
	}
	inserted, err = db.UpsertMessage(ctx, pool, resync)
	require.NoError(t, err)
	assert.False(t, inserted)
	assert.Equal(t, msg.ID, resync.ID)

	got, err := db.GetMessageByRemoteID(ctx, pool, "m1")
	require.NoError(t, err)
	assert.Equal(t, "original subject", got.Subject, "immutable fields keep their first-synced value")
	assert.Equal(t, "refreshed snippet", got.Snippet)
	assert.False(t, got.IsUnread)
	assert.True(t, got.IsStarred)
	assert.ElementsMatch(t, []string{"INBOX", "STARRED"}, got.LabelIDs)
}

func TestApplyLabelState(t *testing.T) {
	pool := testutil.NewTestDB(t)
	ctx := context.Background()

	c := &models.Conversation{IdentityHash: "h", IdentityKind: models.IdentityOneToOne, DisplayName: "h"}
	require.NoError(t, db.GetOrCreateConversation(ctx, pool, c))

	msg := &models.Message{
		RemoteID:       "m1",
		ConversationID: c.ID,
		FromAddress:    "alice@example.com",
		IsUnread:       true,
		InInbox:        true,
		LabelIDs:       []string{"INBOX", "UNREAD"},
	}
	_, err := db.UpsertMessage(ctx, pool, msg)
	require.NoError(t, err)

	conversationID, err := db.ApplyLabelState(ctx, pool, "m1", []string{"INBOX"}, false, false, true)
	require.NoError(t, err)
	assert.Equal(t, c.ID, conversationID)

	got, err := db.GetMessageByRemoteID(ctx, pool, "m1")
	require.NoError(t, err)
	assert.False(t, got.IsUnread)

	_, err = db.ApplyLabelState(ctx, pool, "missing", nil, false, false, false)
	assert.ErrorIs(t, err, db.ErrMessageNotFound)
}

func TestLocallyModifiedMarkers(t *testing.T) {
	pool := testutil.NewTestDB(t)
	ctx := context.Background()

	c := &models.Conversation{IdentityHash: "h", IdentityKind: models.IdentityOneToOne, DisplayName: "h"}
	require.NoError(t, db.GetOrCreateConversation(ctx, pool, c))

	msg := &models.Message{RemoteID: "m1", ConversationID: c.ID, FromAddress: "a@b.c"}
	_, err := db.UpsertMessage(ctx, pool, msg)
	require.NoError(t, err)

	require.NoError(t, db.MarkLocallyModified(ctx, pool, []string{"m1"}))

	got, err := db.GetMessageByRemoteID(ctx, pool, "m1")
	require.NoError(t, err)
	assert.NotNil(t, got.LocallyModifiedAt)

	require.NoError(t, db.ClearLocallyModified(ctx, pool, []string{"m1"}))

	got, err = db.GetMessageByRemoteID(ctx, pool, "m1")
	require.NoError(t, err)
	assert.Nil(t, got.LocallyModifiedAt)
}

func TestRecomputeRollup(t *testing.T) {
	pool := testutil.NewTestDB(t)
	ctx := context.Background()

	c := &models.Conversation{IdentityHash: "h", IdentityKind: models.IdentityOneToOne, DisplayName: "h"}
	require.NoError(t, db.GetOrCreateConversation(ctx, pool, c))

	now := time.Now()
	for i, m := range []struct {
		id       string
		sentAt   time.Time
		isUnread bool
		inInbox  bool
	}{
		{"m1", now.Add(-2 * time.Hour), false, true},
		{"m2", now.Add(-time.Hour), true, true},
		{"m3", now, true, false}, // archived remotely, not part of last_message_at
	} {
		sentAt := m.sentAt
		msg := &models.Message{
			RemoteID:       m.id,
			ConversationID: c.ID,
			FromAddress:    "alice@example.com",
			Snippet:        m.id + " snippet",
			SentAt:         &sentAt,
			IsUnread:       m.isUnread,
			InInbox:        m.inInbox,
		}
		_, err := db.UpsertMessage(ctx, pool, msg)
		require.NoError(t, err, "message %d", i)
	}

	require.NoError(t, db.RecomputeRollup(ctx, pool, c.ID))

	got, err := db.GetConversationByID(ctx, pool, c.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, got.UnreadCount)
	require.NotNil(t, got.LastMessageAt)
	assert.WithinDuration(t, now.Add(-time.Hour), *got.LastMessageAt, time.Second)
	assert.Equal(t, "m3 snippet", got.Snippet, "snippet follows the newest message regardless of inbox state")
}

func TestSyncStateRoundTrip(t *testing.T) {
	pool := testutil.NewTestDB(t)
	ctx := context.Background()

	state, err := db.GetSyncState(ctx, pool, "user@example.com")
	require.NoError(t, err)
	assert.Nil(t, state, "no state before first sync")

	require.NoError(t, db.SaveCursor(ctx, pool, "user@example.com", "12345"))

	state, err = db.GetSyncState(ctx, pool, "user@example.com")
	require.NoError(t, err)
	require.NotNil(t, state)
	assert.Equal(t, "12345", state.Cursor)
	firstSynced := state.FirstSyncedAt

	// Advancing the cursor keeps the first-synced boundary stable.
	require.NoError(t, db.SaveCursor(ctx, pool, "user@example.com", "12400"))

	state, err = db.GetSyncState(ctx, pool, "user@example.com")
	require.NoError(t, err)
	assert.Equal(t, "12400", state.Cursor)
	assert.True(t, state.FirstSyncedAt.Equal(firstSynced))
}
