package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/inboxd/inboxd/internal/actions"
	"github.com/inboxd/inboxd/internal/api"
	"github.com/inboxd/inboxd/internal/db"
	"github.com/inboxd/inboxd/internal/models"
	"github.com/inboxd/inboxd/internal/testutil"
	ws "github.com/inboxd/inboxd/internal/websocket"
)

func seedConversation(t *testing.T, pool *pgxpool.Pool, hash string, unread bool) *models.Conversation {
	t.Helper()
	ctx := context.Background()

	c := &models.Conversation{
		IdentityHash: hash,
		IdentityKind: models.IdentityOneToOne,
		DisplayName:  hash,
	}
	require.NoError(t, db.GetOrCreateConversation(ctx, pool, c))

	sentAt := time.Now()
	msg := &models.Message{
		RemoteID:       "remote-" + hash,
		ConversationID: c.ID,
		Subject:        "subject",
		FromAddress:    "alice@example.com",
		Snippet:        "snippet",
		SentAt:         &sentAt,
		IsUnread:       unread,
		InInbox:        true,
	}
	_, err := db.UpsertMessage(ctx, pool, msg)
	require.NoError(t, err)
	require.NoError(t, db.TouchConversationPreview(ctx, pool, c.ID, msg.Snippet, sentAt))
	return c
}

func TestListConversations(t *testing.T) {
	pool := testutil.NewTestDB(t)
	seedConversation(t, pool, "hash-1", true)
	seedConversation(t, pool, "hash-2", false)

	handler := api.NewConversationsHandler(pool)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/conversations", nil)
	rec := httptest.NewRecorder()
	handler.ListConversations(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Conversations []*models.Conversation `json:"conversations"`
		Pagination    struct {
			TotalCount int `json:"total_count"`
			Page       int `json:"page"`
			PerPage    int `json:"per_page"`
		} `json:"pagination"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Len(t, body.Conversations, 2)
	assert.Equal(t, 2, body.Pagination.TotalCount)
	assert.Equal(t, 1, body.Pagination.Page)
}

func TestGetConversationWithMessages(t *testing.T) {
	pool := testutil.NewTestDB(t)
	c := seedConversation(t, pool, "hash-1", true)

	handler := api.NewConversationsHandler(pool)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/conversations/"+c.ID, nil)
	rec := httptest.NewRecorder()
	handler.GetConversation(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Conversation *models.Conversation `json:"conversation"`
		Messages     []*models.Message    `json:"messages"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, c.ID, body.Conversation.ID)
	require.Len(t, body.Messages, 1)
	assert.Equal(t, "subject", body.Messages[0].Subject)
}

func TestGetConversationNotFound(t *testing.T) {
	pool := testutil.NewTestDB(t)
	handler := api.NewConversationsHandler(pool)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/conversations/00000000-0000-0000-0000-000000000000", nil)
	rec := httptest.NewRecorder()
	handler.GetConversation(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestUpdateConversationFlags(t *testing.T) {
	pool := testutil.NewTestDB(t)
	c := seedConversation(t, pool, "hash-1", false)

	handler := api.NewConversationsHandler(pool)

	payload := bytes.NewBufferString(`{"pinned": true, "muted": true}`)
	req := httptest.NewRequest(http.MethodPatch, "/api/v1/conversations/"+c.ID+"/flags", payload)
	rec := httptest.NewRecorder()
	handler.GetConversation(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var got models.Conversation
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.True(t, got.Pinned)
	assert.True(t, got.Muted)
	assert.False(t, got.Archived)
}

func TestCreateAction(t *testing.T) {
	pool := testutil.NewTestDB(t)
	fake := testutil.NewFakeRemote("user@example.com")
	queue := actions.NewQueue(pool, fake, 3, time.Millisecond)
	queue.SetOnline(context.Background(), false) // keep the test deterministic

	handler := api.NewActionsHandler(pool, queue, ws.NewHub(4))

	payload := bytes.NewBufferString(`{"kind": "mark_read", "message_ids": ["m1", "m2"]}`)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/actions", payload)
	rec := httptest.NewRecorder()
	handler.CreateAction(rec, req)

	require.Equal(t, http.StatusCreated, rec.Code)

	var action models.PendingAction
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &action))
	assert.Equal(t, models.ActionMarkRead, action.Kind)
	assert.Equal(t, models.ActionPending, action.Status)
	assert.Equal(t, []string{"m1", "m2"}, action.MessageIDs)
}

func TestCreateActionRejectsUnknownKind(t *testing.T) {
	pool := testutil.NewTestDB(t)
	fake := testutil.NewFakeRemote("user@example.com")
	queue := actions.NewQueue(pool, fake, 3, time.Millisecond)

	handler := api.NewActionsHandler(pool, queue, ws.NewHub(4))

	payload := bytes.NewBufferString(`{"kind": "explode", "message_ids": ["m1"]}`)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/actions", payload)
	rec := httptest.NewRecorder()
	handler.CreateAction(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetQueueCounts(t *testing.T) {
	pool := testutil.NewTestDB(t)
	fake := testutil.NewFakeRemote("user@example.com")
	queue := actions.NewQueue(pool, fake, 3, time.Millisecond)
	queue.SetOnline(context.Background(), false)

	_, err := queue.Enqueue(context.Background(), models.ActionStar, []string{"m1"}, nil, nil)
	require.NoError(t, err)

	handler := api.NewActionsHandler(pool, queue, ws.NewHub(4))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/actions", nil)
	rec := httptest.NewRecorder()
	handler.GetQueue(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var counts map[models.ActionStatus]int
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &counts))
	assert.Equal(t, 1, counts[models.ActionPending])
}

func TestGetStatus(t *testing.T) {
	pool := testutil.NewTestDB(t)
	require.NoError(t, db.SaveCursor(context.Background(), pool, "user@example.com", "42"))

	handler := api.NewSyncHandler(pool, nil, ws.NewHub(4), "user@example.com")

	req := httptest.NewRequest(http.MethodGet, "/api/v1/status", nil)
	rec := httptest.NewRecorder()
	handler.GetStatus(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Account     string            `json:"account"`
		SyncRunning bool              `json:"sync_running"`
		SyncState   *models.SyncState `json:"sync_state"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "user@example.com", body.Account)
	assert.False(t, body.SyncRunning)
	require.NotNil(t, body.SyncState)
	assert.Equal(t, "42", body.SyncState.Cursor)
}

func TestTriggerSyncRejectsGet(t *testing.T) {
	pool := testutil.NewTestDB(t)
	handler := api.NewSyncHandler(pool, nil, ws.NewHub(4), "user@example.com")

	req := httptest.NewRequest(http.MethodGet, "/api/v1/sync", nil)
	rec := httptest.NewRecorder()
	handler.TriggerSync(rec, req)

	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}
