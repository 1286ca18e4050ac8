// Package remote defines the contract with the remote mailbox service and its
// Gmail implementation. The sync engine only ever sees the Client interface.
package remote

import (
	"context"
	"time"
)

// ChangeKind enumerates the record types of the remote change log.
type ChangeKind string

const (
	ChangeMessageAdded   ChangeKind = "message_added"
	ChangeMessageDeleted ChangeKind = "message_deleted"
	ChangeLabelsAdded    ChangeKind = "labels_added"
	ChangeLabelsRemoved  ChangeKind = "labels_removed"
)

// ChangeRecord is one entry of the remote change log.
type ChangeRecord struct {
	Kind      ChangeKind
	MessageID string
	// LabelIDs is set for label change records only.
	LabelIDs []string
}

// ChangePage is one page of the change log. NewCursor is the newest cursor
// observed so far; the caller persists it only after the pass commits.
type ChangePage struct {
	Records       []ChangeRecord
	NewCursor     string
	NextPageToken string
}

// MessageIDPage is one page of a message listing.
type MessageIDPage struct {
	IDs           []string
	NextPageToken string
}

// Attachment is remote attachment metadata; content is never fetched here.
type Attachment struct {
	RemoteID  string
	Filename  string
	MimeType  string
	SizeBytes int64
	IsInline  bool
}

// Message is a fully fetched remote message.
type Message struct {
	ID          string
	ThreadID    string
	From        string
	To          []string
	Cc          []string
	Bcc         []string
	ListID      string
	Subject     string
	Snippet     string
	SentAt      time.Time
	LabelIDs    []string
	BodyRef     string
	Attachments []Attachment
}

// Label is a remote label definition.
type Label struct {
	ID   string
	Name string
	Kind string
}

// Profile is the remote account bootstrap metadata. Cursor is the current head
// of the change log, used to seed incremental sync after a full scan.
type Profile struct {
	EmailAddress string
	Cursor       string
}

// Client is the remote mailbox service. Implementations must return
// ErrCursorExpired from ListChanges when the cursor is older than the remote
// retention window, distinguishable from transient failure.
type Client interface {
	// ListMessageIDs pages through message ids matching the query
	// (empty query lists everything).
	ListMessageIDs(ctx context.Context, query, pageToken string) (*MessageIDPage, error)

	// ListChanges pages through the change log starting at cursor.
	ListChanges(ctx context.Context, cursor, pageToken string) (*ChangePage, error)

	// GetMessage fetches one full message by its remote id.
	GetMessage(ctx context.Context, id string) (*Message, error)

	// ModifyLabels adds and removes label ids on a batch of message ids.
	ModifyLabels(ctx context.Context, messageIDs, addLabelIDs, removeLabelIDs []string) error

	// GetProfile returns account metadata including the current change-log head.
	GetProfile(ctx context.Context) (*Profile, error)

	// ListLabels returns all label definitions.
	ListLabels(ctx context.Context) ([]Label, error)
}

// Well-known label ids shared by the engine and the Gmail implementation.
const (
	LabelInbox   = "INBOX"
	LabelUnread  = "UNREAD"
	LabelStarred = "STARRED"
)
