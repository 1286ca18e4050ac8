package identity

import (
	"crypto/sha256"
	"encoding/hex"
	"net/mail"
	"sort"
	"strings"

	"github.com/inboxd/inboxd/internal/models"
)

// keySeparator joins the sorted participant list before hashing. A control
// character cannot appear in a normalized address, so the join is unambiguous.
const keySeparator = "\x1f"

// Headers carries the participant-bearing header values of one message.
// Bcc is deliberately absent: it never contributes to conversation identity.
type Headers struct {
	From   string
	To     []string
	Cc     []string
	ListID string
}

// Identity is the derived grouping key for a message. It is computed fresh per
// message and only its Hash is ever persisted, as the conversation's key.
type Identity struct {
	Participants []string
	Hash         string
	Kind         models.IdentityKind
}

// Resolve derives the conversation identity for one message.
//
// All From/To/Cc addresses are normalized, the user's own aliases removed, and
// the remainder sorted lexicographically. One remaining address is a one-to-one
// conversation, more is a group. A List-Id header short-circuits both: the list
// itself is the identity. A self-addressed message (empty remainder) falls back
// to the lexicographically-first user alias, or failing that the first address
// seen, so the identity is never empty.
func Resolve(hdrs Headers, userAliases []string) Identity {
	if listID := normalizeListID(hdrs.ListID); listID != "" {
		return Identity{
			Participants: []string{listID},
			Hash:         hashParticipants([]string{listID}),
			Kind:         models.IdentityList,
		}
	}

	aliases := make(map[string]bool, len(userAliases))
	normalizedAliases := make([]string, 0, len(userAliases))
	for _, a := range userAliases {
		n := Normalize(a)
		if n == "" {
			continue
		}
		if !aliases[n] {
			aliases[n] = true
			normalizedAliases = append(normalizedAliases, n)
		}
	}

	seen := make(map[string]bool)
	var all []string
	collect := func(raw string) {
		for _, addr := range SplitAddressList(raw) {
			n := Normalize(addr)
			if n == "" || seen[n] {
				continue
			}
			seen[n] = true
			all = append(all, n)
		}
	}
	collect(hdrs.From)
	for _, to := range hdrs.To {
		collect(to)
	}
	for _, cc := range hdrs.Cc {
		collect(cc)
	}

	participants := make([]string, 0, len(all))
	for _, addr := range all {
		if !aliases[addr] {
			participants = append(participants, addr)
		}
	}

	if len(participants) == 0 {
		// Self-addressed message. Fall back deterministically so the key is
		// stable across syncs: first the lexicographically-smallest user
		// alias, then the first address seen at all.
		sort.Strings(normalizedAliases)
		switch {
		case len(normalizedAliases) > 0:
			participants = []string{normalizedAliases[0]}
		case len(all) > 0:
			participants = []string{all[0]}
		}
	}

	sort.Strings(participants)

	kind := models.IdentityGroup
	if len(participants) <= 1 {
		kind = models.IdentityOneToOne
	}

	return Identity{
		Participants: participants,
		Hash:         hashParticipants(participants),
		Kind:         kind,
	}
}

// DisplayNameFor builds a denormalized conversation display name from the
// resolved participant list.
func DisplayNameFor(id Identity) string {
	return strings.Join(id.Participants, ", ")
}

func hashParticipants(participants []string) string {
	sum := sha256.Sum256([]byte(strings.Join(participants, keySeparator)))
	return hex.EncodeToString(sum[:])
}

// SplitAddressList splits a raw header value into individual addresses,
// preferring the RFC 5322 parser and falling back to a comma split for
// malformed lists.
func SplitAddressList(raw string) []string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	if addrs, err := mail.ParseAddressList(raw); err == nil {
		out := make([]string, 0, len(addrs))
		for _, a := range addrs {
			out = append(out, a.Address)
		}
		return out
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// normalizeListID extracts the list identifier from a List-Id header value,
// e.g. `Dev list <dev.lists.example.com>` -> "dev.lists.example.com".
func normalizeListID(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	if open := strings.LastIndexByte(raw, '<'); open > -1 {
		if end := strings.IndexByte(raw[open:], '>'); end > -1 {
			raw = raw[open+1 : open+end]
		}
	}
	return strings.ToLower(strings.TrimSpace(raw))
}
