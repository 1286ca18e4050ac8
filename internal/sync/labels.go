package sync

import (
	"context"
	"errors"
	"log"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/inboxd/inboxd/internal/db"
	"github.com/inboxd/inboxd/internal/remote"
)

// labelState derives the local message state from an authoritative label set.
func labelState(labelIDs []string) (isUnread, isStarred, inInbox bool) {
	for _, id := range labelIDs {
		switch id {
		case remote.LabelUnread:
			isUnread = true
		case remote.LabelStarred:
			isStarred = true
		case remote.LabelInbox:
			inInbox = true
		}
	}
	return isUnread, isStarred, inInbox
}

// addLabels and removeLabels apply a change-log label delta to a local set.
func addLabels(current, add []string) []string {
	set := make(map[string]bool, len(current))
	out := append([]string(nil), current...)
	for _, l := range current {
		set[l] = true
	}
	for _, l := range add {
		if !set[l] {
			set[l] = true
			out = append(out, l)
		}
	}
	return out
}

func removeLabels(current, remove []string) []string {
	drop := make(map[string]bool, len(remove))
	for _, l := range remove {
		drop[l] = true
	}
	out := current[:0:0]
	for _, l := range current {
		if !drop[l] {
			out = append(out, l)
		}
	}
	return out
}

// replayLabelChanges applies label-added/removed and message-deleted records
// from the change log against already-synced messages. These are lightweight
// field updates; no message content is re-fetched. Messages the change log
// mentions but the local store has never seen are skipped (the fetch phase or
// reconciliation covers them).
func replayLabelChanges(ctx context.Context, pool *pgxpool.Pool, tracker *Tracker, records []remote.ChangeRecord) error {
	for _, record := range records {
		switch record.Kind {
		case remote.ChangeMessageDeleted:
			conversationID, err := db.DeleteMessageByRemoteID(ctx, pool, record.MessageID)
			if err != nil {
				return err
			}
			tracker.Track(conversationID)

		case remote.ChangeLabelsAdded, remote.ChangeLabelsRemoved:
			msg, err := db.GetMessageByRemoteID(ctx, pool, record.MessageID)
			if errors.Is(err, db.ErrMessageNotFound) {
				continue
			}
			if err != nil {
				return err
			}

			labels := msg.LabelIDs
			if record.Kind == remote.ChangeLabelsAdded {
				labels = addLabels(labels, record.LabelIDs)
			} else {
				labels = removeLabels(labels, record.LabelIDs)
			}

			isUnread, isStarred, inInbox := labelState(labels)
			conversationID, err := db.ApplyLabelState(ctx, pool, record.MessageID, labels, isUnread, isStarred, inInbox)
			if errors.Is(err, db.ErrMessageNotFound) {
				// Deleted between the read and the write; nothing to update.
				continue
			}
			if err != nil {
				return err
			}
			tracker.Track(conversationID)

		case remote.ChangeMessageAdded:
			// Handled by the fetch phase.

		default:
			log.Printf("Warning: Unknown change record kind %q for message %s", record.Kind, record.MessageID)
		}
	}

	return nil
}
