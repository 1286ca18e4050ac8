package sync

import (
	"context"
	"log"
	"sort"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/inboxd/inboxd/internal/db"
	"github.com/inboxd/inboxd/internal/identity"
	"github.com/inboxd/inboxd/internal/models"
)

// Merger detects conversations that were created under a since-corrected
// identity derivation and absorbs duplicates into a single winner. Running it
// on already-merged data is a no-op.
type Merger struct {
	pool        *pgxpool.Pool
	tracker     *Tracker
	rollup      db.RollupUpdater
	userAliases []string
}

// NewMerger creates a duplicate/merge resolver.
func NewMerger(pool *pgxpool.Pool, tracker *Tracker, rollup db.RollupUpdater, userAliases []string) *Merger {
	return &Merger{pool: pool, tracker: tracker, rollup: rollup, userAliases: userAliases}
}

// Run recomputes the identity key of every conversation from its messages,
// groups conversations by the recomputed key, and merges each group into a
// deterministic winner: the oldest conversation by creation time, smallest id
// as the tie-break. Returns how many conversations were absorbed.
func (m *Merger) Run(ctx context.Context) (int, error) {
	conversations, err := db.ListConversations(ctx, m.pool)
	if err != nil {
		return 0, err
	}

	type member struct {
		conversation *models.Conversation
		identity     identity.Identity
	}

	groups := make(map[string][]member)
	for _, c := range conversations {
		if err := ctx.Err(); err != nil {
			return 0, err
		}

		id, ok, err := m.recomputeIdentity(ctx, c)
		if err != nil {
			return 0, err
		}
		if !ok {
			// No messages to derive an identity from; leave it alone.
			continue
		}
		groups[id.Hash] = append(groups[id.Hash], member{conversation: c, identity: id})
	}

	merged := 0
	for _, group := range groups {
		sort.Slice(group, func(i, j int) bool {
			a, b := group[i].conversation, group[j].conversation
			if !a.CreatedAt.Equal(b.CreatedAt) {
				return a.CreatedAt.Before(b.CreatedAt)
			}
			return a.ID < b.ID
		})

		winner := group[0]
		for _, loser := range group[1:] {
			log.Printf("Merging duplicate conversation %s into %s", loser.conversation.ID, winner.conversation.ID)
			if err := db.ReassignMessages(ctx, m.pool, loser.conversation.ID, winner.conversation.ID); err != nil {
				return merged, err
			}
			if err := db.DeleteConversation(ctx, m.pool, loser.conversation.ID); err != nil {
				return merged, err
			}
			merged++
		}

		// The winner may still carry a stale key from the old derivation;
		// rewrite it so future lookups find this conversation instead of
		// creating a fresh duplicate.
		if winner.conversation.IdentityHash != winner.identity.Hash {
			err := db.UpdateConversationIdentity(ctx, m.pool, winner.conversation.ID,
				winner.identity.Hash, winner.identity.Kind, identity.DisplayNameFor(winner.identity))
			if err != nil {
				return merged, err
			}
		}

		if len(group) > 1 {
			if err := m.rollup.RecomputeRollup(ctx, winner.conversation.ID); err != nil {
				return merged, err
			}
			m.tracker.Track(winner.conversation.ID)
		}
	}

	return merged, nil
}

// recomputeIdentity derives the current identity key for a conversation from
// its earliest message's participants. Returns false when the conversation has
// no messages.
func (m *Merger) recomputeIdentity(ctx context.Context, c *models.Conversation) (identity.Identity, bool, error) {
	messages, err := db.GetMessagesForConversation(ctx, m.pool, c.ID)
	if err != nil {
		return identity.Identity{}, false, err
	}
	if len(messages) == 0 {
		return identity.Identity{}, false, nil
	}

	participants, err := db.GetParticipantsForMessage(ctx, m.pool, messages[0].ID)
	if err != nil {
		return identity.Identity{}, false, err
	}

	var hdrs identity.Headers
	for _, p := range participants {
		switch p.Role {
		case models.RoleFrom:
			hdrs.From = p.Address
		case models.RoleTo:
			hdrs.To = append(hdrs.To, p.Address)
		case models.RoleCc:
			hdrs.Cc = append(hdrs.Cc, p.Address)
		case models.RoleBcc:
			// Never part of identity.
		}
	}

	if c.IdentityKind == models.IdentityList {
		// List conversations keep their list key; participant-based
		// recomputation would split them.
		return identity.Identity{
			Participants: []string{c.DisplayName},
			Hash:         c.IdentityHash,
			Kind:         models.IdentityList,
		}, true, nil
	}

	return identity.Resolve(hdrs, m.userAliases), true, nil
}
