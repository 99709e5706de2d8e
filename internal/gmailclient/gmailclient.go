// Package gmailclient provides read-only Gmail access for receipt
// lookup. Auth is a service account with domain-wide delegation
// impersonating the mailbox owner.
package gmailclient

import (
	"context"
	"encoding/base64"
	"fmt"
	"os"

	"cloud.google.com/go/civil"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/gmail/v1"
	"google.golang.org/api/option"

	"github.com/dvloznov/momoney/internal/categorize"
)

// Search queries by merchant type. Apple receipts come from one sender
// with a fixed subject; Amazon spreads order mail across several.
const (
	appleQuery  = `from:no_reply@email.apple.com subject:"Your receipt from Apple"`
	amazonQuery = `from:(auto-confirm@amazon.com OR digital-no-reply@amazon.com OR shipment-tracking@amazon.com)`
)

// maxSearchResults bounds one receipt search.
const maxSearchResults = 10

// Client is a read-only Gmail client.
type Client struct {
	svc *gmail.Service
}

var _ categorize.ReceiptMailbox = (*Client)(nil)

// New builds a client from a service account key file, impersonating
// targetUser with the gmail.readonly scope.
func New(ctx context.Context, serviceAccountFile, targetUser string) (*Client, error) {
	key, err := os.ReadFile(serviceAccountFile)
	if err != nil {
		return nil, fmt.Errorf("gmailclient.New: reading key file: %w", err)
	}
	cfg, err := google.JWTConfigFromJSON(key, gmail.GmailReadonlyScope)
	if err != nil {
		return nil, fmt.Errorf("gmailclient.New: parsing key file: %w", err)
	}
	cfg.Subject = targetUser

	svc, err := gmail.NewService(ctx, option.WithTokenSource(cfg.TokenSource(ctx)))
	if err != nil {
		return nil, fmt.Errorf("gmailclient.New: creating service: %w", err)
	}
	return &Client{svc: svc}, nil
}

// searchQuery builds the Gmail query for a merchant and charge date.
// Apple receipts arrive within days of the charge; Amazon charges at
// shipment, which can trail the order email by two weeks.
func searchQuery(merchant string, date civil.Date) (string, error) {
	var base string
	var afterDays, beforeDays int
	switch merchant {
	case "apple":
		base, afterDays, beforeDays = appleQuery, 3, 1
	case "amazon":
		base, afterDays, beforeDays = amazonQuery, 14, 1
	default:
		return "", fmt.Errorf("unknown merchant type %q", merchant)
	}
	after := date.AddDays(-afterDays)
	before := date.AddDays(beforeDays)
	return fmt.Sprintf("%s after:%s before:%s", base, gmailDate(after), gmailDate(before)), nil
}

func gmailDate(d civil.Date) string {
	return fmt.Sprintf("%04d/%02d/%02d", d.Year, int(d.Month), d.Day)
}

// SearchReceipts returns message IDs of receipt emails near the charge
// date, newest first, at most ten.
func (c *Client) SearchReceipts(ctx context.Context, merchant string, date civil.Date) ([]string, error) {
	query, err := searchQuery(merchant, date)
	if err != nil {
		return nil, fmt.Errorf("SearchReceipts: %w", err)
	}

	resp, err := c.svc.Users.Messages.List("me").
		Q(query).
		MaxResults(maxSearchResults).
		Context(ctx).
		Do()
	if err != nil {
		return nil, fmt.Errorf("SearchReceipts: listing messages: %w", err)
	}

	ids := make([]string, 0, len(resp.Messages))
	for _, m := range resp.Messages {
		ids = append(ids, m.Id)
	}
	return ids, nil
}

// GetMessageBody fetches one message and extracts its text body,
// preferring text/plain over text/html.
func (c *Client) GetMessageBody(ctx context.Context, messageID string) (string, error) {
	msg, err := c.svc.Users.Messages.Get("me", messageID).
		Format("full").
		Context(ctx).
		Do()
	if err != nil {
		return "", fmt.Errorf("GetMessageBody: fetching message %s: %w", messageID, err)
	}
	return extractBody(msg.Payload), nil
}

// extractBody pulls the text body out of a message payload, recursing
// through nested multipart containers.
func extractBody(payload *gmail.MessagePart) string {
	if payload == nil {
		return ""
	}
	if payload.Body != nil && payload.Body.Data != "" {
		return decodeBody(payload.Body.Data)
	}

	var plain, html string
	var walk func(parts []*gmail.MessagePart)
	walk = func(parts []*gmail.MessagePart) {
		for _, part := range parts {
			data := ""
			if part.Body != nil {
				data = part.Body.Data
			}
			switch {
			case part.MimeType == "text/plain" && data != "" && plain == "":
				plain = data
			case part.MimeType == "text/html" && data != "" && html == "":
				html = data
			}
			if len(part.Parts) > 0 {
				walk(part.Parts)
			}
		}
	}
	walk(payload.Parts)

	if plain != "" {
		return decodeBody(plain)
	}
	if html != "" {
		return decodeBody(html)
	}
	return ""
}

// decodeBody decodes a base64url body, padded or not.
func decodeBody(data string) string {
	if b, err := base64.URLEncoding.DecodeString(data); err == nil {
		return string(b)
	}
	b, err := base64.RawURLEncoding.DecodeString(data)
	if err != nil {
		return ""
	}
	return string(b)
}
