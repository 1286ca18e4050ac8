package testutil

import (
	"context"
	"fmt"
	"strconv"
	"sync"

	"google.golang.org/api/googleapi"

	"github.com/inboxd/inboxd/internal/remote"
)

// FakeRemote is an in-memory remote.Client for engine tests. The change log is
// a slice; the cursor is the decimal index of the next unseen record. Failure
// behavior is scripted per test through the exported fields.
type FakeRemote struct {
	mu       sync.Mutex
	messages map[string]*remote.Message
	changes  []remote.ChangeRecord
	labels   []remote.Label
	account  string

	// minCursor simulates remote-side retention: cursors below it are expired.
	minCursor int

	// GetMessageErrs makes GetMessage fail for specific ids. The count is
	// decremented per failure so retries can eventually succeed. The scripted
	// error is a retryable 503 unless GetMessageErr overrides it.
	GetMessageErrs map[string]int
	// GetMessageErr replaces the default scripted GetMessage error.
	GetMessageErr error
	// ModifyLabelsErr makes every ModifyLabels call fail.
	ModifyLabelsErr error
	// ListChangesErr makes every ListChanges call fail.
	ListChangesErr error

	ModifyCalls [][]string
}

// NewFakeRemote creates an empty fake remote for the given account.
func NewFakeRemote(account string) *FakeRemote {
	return &FakeRemote{
		messages:       make(map[string]*remote.Message),
		account:        account,
		GetMessageErrs: make(map[string]int),
		labels: []remote.Label{
			{ID: remote.LabelInbox, Name: "INBOX", Kind: "system"},
			{ID: remote.LabelUnread, Name: "UNREAD", Kind: "system"},
			{ID: remote.LabelStarred, Name: "STARRED", Kind: "system"},
		},
	}
}

// AddMessage stores a message and appends a message-added change record.
func (f *FakeRemote) AddMessage(msg *remote.Message) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.messages[msg.ID] = msg
	f.changes = append(f.changes, remote.ChangeRecord{
		Kind:      remote.ChangeMessageAdded,
		MessageID: msg.ID,
	})
}

// ChangeLabels mutates a stored message's labels and appends change records.
func (f *FakeRemote) ChangeLabels(messageID string, add, removeIDs []string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	msg, ok := f.messages[messageID]
	if !ok {
		return
	}
	msg.LabelIDs = applyLabelChange(msg.LabelIDs, add, removeIDs)
	if len(add) > 0 {
		f.changes = append(f.changes, remote.ChangeRecord{
			Kind:      remote.ChangeLabelsAdded,
			MessageID: messageID,
			LabelIDs:  add,
		})
	}
	if len(removeIDs) > 0 {
		f.changes = append(f.changes, remote.ChangeRecord{
			Kind:      remote.ChangeLabelsRemoved,
			MessageID: messageID,
			LabelIDs:  removeIDs,
		})
	}
}

// DeleteMessage removes a message and appends a message-deleted change record.
func (f *FakeRemote) DeleteMessage(messageID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.messages, messageID)
	f.changes = append(f.changes, remote.ChangeRecord{
		Kind:      remote.ChangeMessageDeleted,
		MessageID: messageID,
	})
}

// ExpireCursorsBelow makes all cursors below the current head expired, as if
// the retention window had passed.
func (f *FakeRemote) ExpireCursorsBelow() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.minCursor = len(f.changes)
}

// Cursor returns the current change-log head.
func (f *FakeRemote) Cursor() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return strconv.Itoa(len(f.changes))
}

func (f *FakeRemote) ListMessageIDs(_ context.Context, _, pageToken string) (*remote.MessageIDPage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if pageToken != "" {
		return nil, fmt.Errorf("fake remote does not page listings")
	}
	page := &remote.MessageIDPage{}
	for id := range f.messages {
		page.IDs = append(page.IDs, id)
	}
	return page, nil
}

func (f *FakeRemote) ListChanges(_ context.Context, cursor, pageToken string) (*remote.ChangePage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.ListChangesErr != nil {
		return nil, f.ListChangesErr
	}
	if pageToken != "" {
		return nil, fmt.Errorf("fake remote does not page the change log")
	}
	start, err := strconv.Atoi(cursor)
	if err != nil || start < f.minCursor {
		return nil, remote.ErrCursorExpired
	}
	if start > len(f.changes) {
		start = len(f.changes)
	}
	return &remote.ChangePage{
		Records:   append([]remote.ChangeRecord(nil), f.changes[start:]...),
		NewCursor: strconv.Itoa(len(f.changes)),
	}, nil
}

func (f *FakeRemote) GetMessage(_ context.Context, id string) (*remote.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if n := f.GetMessageErrs[id]; n > 0 {
		f.GetMessageErrs[id] = n - 1
		if f.GetMessageErr != nil {
			return nil, f.GetMessageErr
		}
		return nil, &googleapi.Error{Code: 503, Message: fmt.Sprintf("scripted failure for %s", id)}
	}
	msg, ok := f.messages[id]
	if !ok {
		return nil, remote.ErrNotFound
	}
	copied := *msg
	return &copied, nil
}

func (f *FakeRemote) ModifyLabels(_ context.Context, messageIDs, addLabelIDs, removeLabelIDs []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ModifyCalls = append(f.ModifyCalls, messageIDs)
	if f.ModifyLabelsErr != nil {
		return f.ModifyLabelsErr
	}
	for _, id := range messageIDs {
		if msg, ok := f.messages[id]; ok {
			msg.LabelIDs = applyLabelChange(msg.LabelIDs, addLabelIDs, removeLabelIDs)
		}
	}
	return nil
}

func (f *FakeRemote) GetProfile(context.Context) (*remote.Profile, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return &remote.Profile{
		EmailAddress: f.account,
		Cursor:       strconv.Itoa(len(f.changes)),
	}, nil
}

func (f *FakeRemote) ListLabels(context.Context) ([]remote.Label, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]remote.Label(nil), f.labels...), nil
}

func applyLabelChange(current, add, removeIDs []string) []string {
	set := make(map[string]bool, len(current))
	for _, l := range current {
		set[l] = true
	}
	for _, l := range add {
		set[l] = true
	}
	for _, l := range removeIDs {
		delete(set, l)
	}
	out := make([]string, 0, len(set))
	for l := range set {
		out = append(out, l)
	}
	return out
}
