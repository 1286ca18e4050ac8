package sync

import (
	"context"
	"log"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/inboxd/inboxd/internal/db"
	"github.com/inboxd/inboxd/internal/identity"
	"github.com/inboxd/inboxd/internal/models"
	"github.com/inboxd/inboxd/internal/remote"
)

// ContactPrefetcher is dispatched fire-and-forget for participants seen for
// the first time, typically to warm an avatar/address-book cache. Failures are
// the prefetcher's problem; the persister never waits for it.
type ContactPrefetcher interface {
	Prefetch(addresses []string)
}

// Persister idempotently materializes fetched remote messages into the local
// replica. It resolves the conversation for each message, upserts the message
// with its participants and attachment metadata, bumps the conversation
// preview, and reports the touched conversation to the tracker.
type Persister struct {
	pool        *pgxpool.Pool
	tracker     *Tracker
	userAliases []string
	prefetcher  ContactPrefetcher
}

// NewPersister creates a message persister. prefetcher may be nil.
func NewPersister(pool *pgxpool.Pool, tracker *Tracker, userAliases []string, prefetcher ContactPrefetcher) *Persister {
	return &Persister{
		pool:        pool,
		tracker:     tracker,
		userAliases: userAliases,
		prefetcher:  prefetcher,
	}
}

// PersistMessage upserts one fetched remote message. Persisting the same
// message twice converges to the same local state. Write failures are
// returned to the owning phase; the persister does not retry.
func (p *Persister) PersistMessage(ctx context.Context, msg *remote.Message) error {
	id := identity.Resolve(identity.Headers{
		From:   msg.From,
		To:     msg.To,
		Cc:     msg.Cc,
		ListID: msg.ListID,
	}, p.userAliases)

	conversation := &models.Conversation{
		IdentityHash: id.Hash,
		IdentityKind: id.Kind,
		DisplayName:  identity.DisplayNameFor(id),
	}
	if err := db.GetOrCreateConversation(ctx, p.pool, conversation); err != nil {
		return err
	}

	isUnread, isStarred, inInbox := labelState(msg.LabelIDs)

	message := &models.Message{
		RemoteID:       msg.ID,
		ConversationID: conversation.ID,
		RemoteThreadID: msg.ThreadID,
		Subject:        msg.Subject,
		FromAddress:    identity.Normalize(msg.From),
		Snippet:        msg.Snippet,
		IsUnread:       isUnread,
		IsStarred:      isStarred,
		InInbox:        inInbox,
		LabelIDs:       msg.LabelIDs,
		BodyRef:        msg.BodyRef,
	}
	if !msg.SentAt.IsZero() {
		sentAt := msg.SentAt
		message.SentAt = &sentAt
	}

	if _, err := db.UpsertMessage(ctx, p.pool, message); err != nil {
		return err
	}

	if err := p.persistParticipants(ctx, message.ID, msg); err != nil {
		return err
	}

	for _, att := range msg.Attachments {
		attachment := &models.Attachment{
			MessageID:          message.ID,
			RemoteAttachmentID: att.RemoteID,
			Filename:           att.Filename,
			MimeType:           att.MimeType,
			SizeBytes:          att.SizeBytes,
			IsInline:           att.IsInline,
		}
		if err := db.UpsertAttachment(ctx, p.pool, attachment); err != nil {
			return err
		}
	}

	if !msg.SentAt.IsZero() {
		if err := db.TouchConversationPreview(ctx, p.pool, conversation.ID, msg.Snippet, msg.SentAt); err != nil {
			return err
		}
	}

	// Note: message.ConversationID may differ from conversation.ID when the
	// message already existed under a previously merged conversation; track
	// the one the row actually points at.
	p.tracker.Track(message.ConversationID)

	return nil
}

// persistParticipants upserts participant rows for every header role. Bcc
// participants are persisted for sent-mail visibility but never contribute to
// conversation identity or display.
func (p *Persister) persistParticipants(ctx context.Context, messageID string, msg *remote.Message) error {
	var participants []models.Participant

	appendRole := func(raw string, role models.ParticipantRole) {
		for _, addr := range identity.SplitAddressList(raw) {
			normalized := identity.Normalize(addr)
			if normalized == "" {
				continue
			}
			participants = append(participants, models.Participant{
				MessageID:   messageID,
				Address:     normalized,
				DisplayName: identity.DisplayName(addr),
				Role:        role,
			})
		}
	}

	appendRole(msg.From, models.RoleFrom)
	for _, to := range msg.To {
		appendRole(to, models.RoleTo)
	}
	for _, cc := range msg.Cc {
		appendRole(cc, models.RoleCc)
	}
	for _, bcc := range msg.Bcc {
		appendRole(bcc, models.RoleBcc)
	}

	newAddresses, err := db.UpsertParticipants(ctx, p.pool, participants)
	if err != nil {
		return err
	}

	if p.prefetcher != nil && len(newAddresses) > 0 {
		go func(addresses []string) {
			defer func() {
				if r := recover(); r != nil {
					log.Printf("Warning: contact prefetch panicked: %v", r)
				}
			}()
			p.prefetcher.Prefetch(addresses)
		}(newAddresses)
	}

	return nil
}
