package remote

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"golang.org/x/oauth2"
	gmailv1 "google.golang.org/api/gmail/v1"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
)

const gmailUser = "me"

// pageSize is the page size for listing and change-log calls.
const pageSize = 500

// GmailClient implements Client against the Gmail API. The change-log cursor
// is the mailbox historyId, formatted as a decimal string.
type GmailClient struct {
	svc         *gmailv1.Service
	invalidator TokenInvalidator
}

// TokenInvalidator is implemented by token sources that can drop their cached
// access token so the next request fetches a fresh one.
type TokenInvalidator interface {
	Invalidate()
}

// NewGmailClient creates a Gmail-backed remote client authenticated by the
// given token source. When ts also implements TokenInvalidator, a 401 from the
// API gets one forced token refresh and retry before surfacing.
func NewGmailClient(ctx context.Context, ts oauth2.TokenSource, opts ...option.ClientOption) (*GmailClient, error) {
	opts = append([]option.ClientOption{option.WithTokenSource(ts)}, opts...)
	svc, err := gmailv1.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create gmail service: %w", err)
	}
	client := &GmailClient{svc: svc}
	if inv, ok := ts.(TokenInvalidator); ok {
		client.invalidator = inv
	}
	return client, nil
}

// doWithAuthRetry runs call once, and once more with a freshly minted token
// when the first attempt comes back 401. The proactive expiry check in the
// token source cannot see a mid-flight revocation; the remote's 401 can.
func (g *GmailClient) doWithAuthRetry(call func() error) error {
	err := call()
	if g.invalidator == nil || !isUnauthorized(err) {
		return err
	}
	g.invalidator.Invalidate()
	return call()
}

func isUnauthorized(err error) bool {
	var apiErr *googleapi.Error
	return errors.As(err, &apiErr) && apiErr.Code == 401
}

// ListMessageIDs pages through message ids matching the query.
func (g *GmailClient) ListMessageIDs(ctx context.Context, query, pageToken string) (*MessageIDPage, error) {
	call := g.svc.Users.Messages.List(gmailUser).MaxResults(pageSize).Context(ctx)
	if query != "" {
		call = call.Q(query)
	}
	if pageToken != "" {
		call = call.PageToken(pageToken)
	}

	var resp *gmailv1.ListMessagesResponse
	err := g.doWithAuthRetry(func() error {
		var err error
		resp, err = call.Do()
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list messages: %w", classifyAPIError(err))
	}

	page := &MessageIDPage{NextPageToken: resp.NextPageToken}
	for _, m := range resp.Messages {
		page.IDs = append(page.IDs, m.Id)
	}
	return page, nil
}

// ListChanges pages through the history log starting at cursor. A 404 from the
// history endpoint means the cursor fell out of the retention window and is
// reported as ErrCursorExpired.
func (g *GmailClient) ListChanges(ctx context.Context, cursor, pageToken string) (*ChangePage, error) {
	startID, err := strconv.ParseUint(cursor, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid cursor %q: %w", cursor, ErrCursorExpired)
	}

	call := g.svc.Users.History.List(gmailUser).StartHistoryId(startID).MaxResults(pageSize).Context(ctx)
	if pageToken != "" {
		call = call.PageToken(pageToken)
	}

	var resp *gmailv1.ListHistoryResponse
	err = g.doWithAuthRetry(func() error {
		var err error
		resp, err = call.Do()
		return err
	})
	if err != nil {
		var apiErr *googleapi.Error
		if errors.As(err, &apiErr) && apiErr.Code == 404 {
			return nil, ErrCursorExpired
		}
		return nil, fmt.Errorf("failed to list history: %w", classifyAPIError(err))
	}

	page := &ChangePage{NextPageToken: resp.NextPageToken}
	if resp.HistoryId != 0 {
		page.NewCursor = strconv.FormatUint(resp.HistoryId, 10)
	}

	for _, h := range resp.History {
		for _, ma := range h.MessagesAdded {
			if ma.Message == nil {
				continue
			}
			page.Records = append(page.Records, ChangeRecord{
				Kind:      ChangeMessageAdded,
				MessageID: ma.Message.Id,
			})
		}
		for _, md := range h.MessagesDeleted {
			if md.Message == nil {
				continue
			}
			page.Records = append(page.Records, ChangeRecord{
				Kind:      ChangeMessageDeleted,
				MessageID: md.Message.Id,
			})
		}
		for _, la := range h.LabelsAdded {
			if la.Message == nil {
				continue
			}
			page.Records = append(page.Records, ChangeRecord{
				Kind:      ChangeLabelsAdded,
				MessageID: la.Message.Id,
				LabelIDs:  la.LabelIds,
			})
		}
		for _, lr := range h.LabelsRemoved {
			if lr.Message == nil {
				continue
			}
			page.Records = append(page.Records, ChangeRecord{
				Kind:      ChangeLabelsRemoved,
				MessageID: lr.Message.Id,
				LabelIDs:  lr.LabelIds,
			})
		}
	}

	return page, nil
}

// GetMessage fetches one full message.
func (g *GmailClient) GetMessage(ctx context.Context, id string) (*Message, error) {
	var resp *gmailv1.Message
	err := g.doWithAuthRetry(func() error {
		var err error
		resp, err = g.svc.Users.Messages.Get(gmailUser, id).Format("full").Context(ctx).Do()
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get message %s: %w", id, classifyAPIError(err))
	}
	return convertMessage(resp), nil
}

// ModifyLabels applies a batch label mutation.
func (g *GmailClient) ModifyLabels(ctx context.Context, messageIDs, addLabelIDs, removeLabelIDs []string) error {
	if len(messageIDs) == 0 {
		return nil
	}
	req := &gmailv1.BatchModifyMessagesRequest{
		Ids:            messageIDs,
		AddLabelIds:    addLabelIDs,
		RemoveLabelIds: removeLabelIDs,
	}
	err := g.doWithAuthRetry(func() error {
		return g.svc.Users.Messages.BatchModify(gmailUser, req).Context(ctx).Do()
	})
	if err != nil {
		return fmt.Errorf("failed to modify labels: %w", classifyAPIError(err))
	}
	return nil
}

// GetProfile returns the account address and the current change-log head.
func (g *GmailClient) GetProfile(ctx context.Context) (*Profile, error) {
	var resp *gmailv1.Profile
	err := g.doWithAuthRetry(func() error {
		var err error
		resp, err = g.svc.Users.GetProfile(gmailUser).Context(ctx).Do()
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get profile: %w", classifyAPIError(err))
	}
	return &Profile{
		EmailAddress: resp.EmailAddress,
		Cursor:       strconv.FormatUint(resp.HistoryId, 10),
	}, nil
}

// ListLabels returns all label definitions.
func (g *GmailClient) ListLabels(ctx context.Context) ([]Label, error) {
	var resp *gmailv1.ListLabelsResponse
	err := g.doWithAuthRetry(func() error {
		var err error
		resp, err = g.svc.Users.Labels.List(gmailUser).Context(ctx).Do()
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list labels: %w", classifyAPIError(err))
	}
	labels := make([]Label, 0, len(resp.Labels))
	for _, l := range resp.Labels {
		kind := strings.ToLower(l.Type)
		if kind == "" {
			kind = "user"
		}
		labels = append(labels, Label{ID: l.Id, Name: l.Name, Kind: kind})
	}
	return labels, nil
}

// convertMessage maps a Gmail message to the wire-neutral Message. The body is
// not copied; BodyRef records where to find it for on-demand rendering.
func convertMessage(m *gmailv1.Message) *Message {
	msg := &Message{
		ID:       m.Id,
		ThreadID: m.ThreadId,
		Snippet:  m.Snippet,
		LabelIDs: m.LabelIds,
		BodyRef:  m.Id,
	}
	if m.InternalDate > 0 {
		msg.SentAt = time.UnixMilli(m.InternalDate).UTC()
	}
	if m.Payload == nil {
		return msg
	}

	for _, h := range m.Payload.Headers {
		switch strings.ToLower(h.Name) {
		case "from":
			msg.From = h.Value
		case "to":
			msg.To = append(msg.To, h.Value)
		case "cc":
			msg.Cc = append(msg.Cc, h.Value)
		case "bcc":
			msg.Bcc = append(msg.Bcc, h.Value)
		case "subject":
			msg.Subject = h.Value
		case "list-id":
			msg.ListID = h.Value
		case "date":
			if msg.SentAt.IsZero() {
				if t, err := parseDateHeader(h.Value); err == nil {
					msg.SentAt = t
				}
			}
		}
	}

	collectAttachments(m.Payload, &msg.Attachments)
	return msg
}

// collectAttachments walks the part tree and records attachment metadata.
func collectAttachments(part *gmailv1.MessagePart, out *[]Attachment) {
	if part == nil {
		return
	}
	if part.Filename != "" && part.Body != nil && part.Body.AttachmentId != "" {
		inline := false
		for _, h := range part.Headers {
			if strings.EqualFold(h.Name, "Content-Disposition") &&
				strings.HasPrefix(strings.ToLower(h.Value), "inline") {
				inline = true
			}
		}
		*out = append(*out, Attachment{
			RemoteID:  part.Body.AttachmentId,
			Filename:  part.Filename,
			MimeType:  part.MimeType,
			SizeBytes: part.Body.Size,
			IsInline:  inline,
		})
	}
	for _, child := range part.Parts {
		collectAttachments(child, out)
	}
}

func parseDateHeader(value string) (time.Time, error) {
	for _, layout := range []string{time.RFC1123Z, time.RFC1123, time.RFC822Z, time.RFC822} {
		if t, err := time.Parse(layout, value); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized date format %q", value)
}
