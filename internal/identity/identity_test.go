package identity

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/inboxd/inboxd/internal/models"
)

func TestResolveOneToOne(t *testing.T) {
	id := Resolve(Headers{
		From: "alice@example.com",
		To:   []string{"me@x.com"},
	}, []string{"me@x.com"})

	require.Len(t, id.Participants, 1)
	assert.Equal(t, "alice@example.com", id.Participants[0])
	assert.Equal(t, models.IdentityOneToOne, id.Kind)
	assert.NotEmpty(t, id.Hash)
}

func TestResolveGroup(t *testing.T) {
	id := Resolve(Headers{
		From: "alice@example.com",
		To:   []string{"me@x.com", "bob@example.com"},
		Cc:   []string{"carol@example.com"},
	}, []string{"me@x.com"})

	assert.Equal(t, models.IdentityGroup, id.Kind)
	assert.Equal(t, []string{"alice@example.com", "bob@example.com", "carol@example.com"}, id.Participants)
}

func TestResolveIsOrderInvariant(t *testing.T) {
	aliases := []string{"me@x.com"}
	a := Resolve(Headers{
		From: "alice@example.com",
		To:   []string{"bob@example.com", "carol@example.com"},
	}, aliases)
	b := Resolve(Headers{
		From: "alice@example.com",
		To:   []string{"carol@example.com"},
		Cc:   []string{"bob@example.com"},
	}, aliases)

	assert.Equal(t, a.Hash, b.Hash, "reordering To/Cc must not change the identity")
}

func TestResolveIsDeterministic(t *testing.T) {
	hdrs := Headers{
		From: "Alice <alice@example.com>",
		To:   []string{"me@x.com", "bob@example.com"},
	}
	aliases := []string{"me@x.com"}

	first := Resolve(hdrs, aliases)
	for i := 0; i < 10; i++ {
		assert.Equal(t, first, Resolve(hdrs, aliases))
	}
}

func TestResolveSelfConversationFallback(t *testing.T) {
	// From/To/Cc are all the user's own aliases. The identity must still be
	// non-empty and deterministic: the lexicographically-first alias wins.
	id := Resolve(Headers{
		From: "me@x.com",
		To:   []string{"me+alt@x.com"},
	}, []string{"me@x.com", "me+alt@x.com", "also-me@x.com"})

	require.Len(t, id.Participants, 1)
	assert.Equal(t, "also-me@x.com", id.Participants[0])
	assert.Equal(t, models.IdentityOneToOne, id.Kind)
}

func TestResolveEmptyHeaders(t *testing.T) {
	id := Resolve(Headers{}, []string{"me@x.com"})
	require.Len(t, id.Participants, 1)
	assert.Equal(t, "me@x.com", id.Participants[0])
}

func TestResolveGmailDotFolding(t *testing.T) {
	// Two senders that are the same Gmail mailbox under dot folding must land
	// in the same conversation.
	aliases := []string{"me@x.com"}
	a := Resolve(Headers{From: "a.b@gmail.com", To: []string{"me@x.com"}}, aliases)
	b := Resolve(Headers{From: "ab@gmail.com", To: []string{"me@x.com"}}, aliases)

	assert.Equal(t, a.Hash, b.Hash)
}

func TestResolveUserAliasFolding(t *testing.T) {
	// The user's Gmail alias forms must all be recognized as the user.
	id := Resolve(Headers{
		From: "alice@example.com",
		To:   []string{"m.e+tag@gmail.com"},
	}, []string{"me@gmail.com"})

	assert.Equal(t, []string{"alice@example.com"}, id.Participants)
}

func TestResolveListID(t *testing.T) {
	id := Resolve(Headers{
		From:   "someone@example.com",
		To:     []string{"dev@lists.example.com"},
		ListID: "Dev discussions <dev.lists.example.com>",
	}, []string{"me@x.com"})

	assert.Equal(t, models.IdentityList, id.Kind)
	assert.Equal(t, []string{"dev.lists.example.com"}, id.Participants)
}

func TestResolveDuplicateAddresses(t *testing.T) {
	id := Resolve(Headers{
		From: "alice@example.com",
		To:   []string{"Alice <alice@example.com>", "a.lice@googlemail.com"},
	}, []string{"me@x.com"})

	// alice@example.com twice plus a Gmail variant of a different mailbox.
	assert.Equal(t, []string{"alice@example.com", "alice@gmail.com"}, id.Participants)
}

func TestDisplayNameFor(t *testing.T) {
	id := Resolve(Headers{
		From: "bob@example.com",
		To:   []string{"alice@example.com"},
	}, nil)
	assert.Equal(t, "alice@example.com, bob@example.com", DisplayNameFor(id))
}
