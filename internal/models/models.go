package models

import "time"

// IdentityKind classifies a conversation by its participant set.
type IdentityKind string

const (
	IdentityOneToOne IdentityKind = "one_to_one"
	IdentityGroup    IdentityKind = "group"
	IdentityList     IdentityKind = "list"
)

// Conversation groups messages that share a participant set. The rollup fields
// (Snippet, LastMessageAt, UnreadCount) are denormalized from its messages and
// recomputed by the sync engine, never maintained inline by writers.
type Conversation struct {
	ID            string       `json:"id"`
	IdentityHash  string       `json:"identity_hash"`
	IdentityKind  IdentityKind `json:"identity_kind"`
	DisplayName   string       `json:"display_name"`
	Snippet       string       `json:"snippet"`
	LastMessageAt *time.Time   `json:"last_message_at"`
	UnreadCount   int          `json:"unread_count"`
	Pinned        bool         `json:"pinned"`
	Muted         bool         `json:"muted"`
	Hidden        bool         `json:"hidden"`
	Archived      bool         `json:"archived"`
	ArchivedAt    *time.Time   `json:"archived_at,omitempty"`
	CreatedAt     time.Time    `json:"created_at"`
}

// Message is a locally materialized remote message. RemoteID is the remote
// store's id and is unique; once synced, only the mutable fields (unread flag,
// star, label set, snippet) are refreshed on re-sync.
type Message struct {
	ID                string     `json:"id"`
	RemoteID          string     `json:"remote_id"`
	ConversationID    string     `json:"conversation_id"`
	RemoteThreadID    string     `json:"remote_thread_id"`
	SentAt            *time.Time `json:"sent_at"`
	Subject           string     `json:"subject"`
	FromAddress       string     `json:"from_address"`
	Snippet           string     `json:"snippet"`
	IsUnread          bool       `json:"is_unread"`
	IsStarred         bool       `json:"is_starred"`
	InInbox           bool       `json:"in_inbox"`
	LabelIDs          []string   `json:"label_ids"`
	BodyRef           string     `json:"body_ref"`
	LocallyModifiedAt *time.Time `json:"locally_modified_at,omitempty"`
	CreatedAt         time.Time  `json:"created_at"`
}

// ParticipantRole says which header a participant came from.
type ParticipantRole string

const (
	RoleFrom ParticipantRole = "from"
	RoleTo   ParticipantRole = "to"
	RoleCc   ParticipantRole = "cc"
	RoleBcc  ParticipantRole = "bcc"
)

type Participant struct {
	ID          string          `json:"id"`
	MessageID   string          `json:"message_id"`
	Address     string          `json:"address"`
	DisplayName string          `json:"display_name"`
	Role        ParticipantRole `json:"role"`
}

type Attachment struct {
	ID                 string `json:"id"`
	MessageID          string `json:"message_id"`
	RemoteAttachmentID string `json:"remote_attachment_id"`
	Filename           string `json:"filename"`
	MimeType           string `json:"mime_type"`
	SizeBytes          int64  `json:"size_bytes"`
	IsInline           bool   `json:"is_inline"`
}

type Label struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Kind string `json:"kind"`
}

// ActionKind is a user intent the offline queue replays against the remote store.
type ActionKind string

const (
	ActionMarkRead   ActionKind = "mark_read"
	ActionMarkUnread ActionKind = "mark_unread"
	ActionArchive    ActionKind = "archive"
	ActionStar       ActionKind = "star"
	ActionUnstar     ActionKind = "unstar"
)

// ActionStatus transitions are monotonic: pending -> processing -> completed|failed.
// A failed action re-enters processing while its retry count is below the maximum.
type ActionStatus string

const (
	ActionPending    ActionStatus = "pending"
	ActionProcessing ActionStatus = "processing"
	ActionCompleted  ActionStatus = "completed"
	ActionFailed     ActionStatus = "failed"
)

// PendingAction is a durable record of an intent not yet confirmed applied remotely.
type PendingAction struct {
	ID             string       `json:"id"`
	Kind           ActionKind   `json:"kind"`
	MessageIDs     []string     `json:"message_ids"`
	ConversationID *string      `json:"conversation_id,omitempty"`
	Payload        []byte       `json:"payload,omitempty"`
	Status         ActionStatus `json:"status"`
	RetryCount     int          `json:"retry_count"`
	LastAttemptAt  *time.Time   `json:"last_attempt_at,omitempty"`
	LastError      string       `json:"last_error,omitempty"`
	CreatedAt      time.Time    `json:"created_at"`
}

// SyncState is the per-account durable sync position.
type SyncState struct {
	AccountEmail  string     `json:"account_email"`
	Cursor        string     `json:"cursor"`
	FirstSyncedAt time.Time  `json:"first_synced_at"`
	LastSyncedAt  *time.Time `json:"last_synced_at,omitempty"`
}
