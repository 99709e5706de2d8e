package notionsync

import (
	"time"

	"github.com/jomei/notionapi"

	"github.com/dvloznov/momoney/internal/domain"
)

func richText(content string) []notionapi.RichText {
	return []notionapi.RichText{
		{
			Type: notionapi.ObjectTypeText,
			Text: &notionapi.Text{
				Content: content,
			},
		},
	}
}

// TransactionProperties converts a transaction and its allocations to
// the Notion page properties for the Transactions database. The
// Transaction ID title is the idempotency key; everything else is
// display data.
func TransactionProperties(txn *domain.Transaction, allocs []*domain.Allocation, xfer *domain.Transfer) notionapi.Properties {
	props := notionapi.Properties{
		"Transaction ID": notionapi.TitleProperty{
			Title: richText(txn.ID),
		},
		"Date": notionapi.DateProperty{
			Date: &notionapi.DateObject{
				Start: func() *notionapi.Date {
					d := notionapi.Date(time.Date(
						txn.Date.Year,
						time.Month(txn.Date.Month),
						txn.Date.Day,
						0, 0, 0, 0, time.UTC,
					))
					return &d
				}(),
			},
		},
		"Amount": notionapi.NumberProperty{
			Number: txn.Amount,
		},
		"Is Transfer": notionapi.CheckboxProperty{
			Checkbox: xfer != nil,
		},
	}

	if txn.RawDescription != "" {
		props["Description"] = notionapi.RichTextProperty{
			RichText: richText(txn.RawDescription),
		}
	}

	if txn.AccountID != "" {
		props["Account"] = notionapi.SelectProperty{
			Select: notionapi.Option{
				Name: txn.AccountID,
			},
		}
	}

	if txn.Status != "" {
		props["Status"] = notionapi.SelectProperty{
			Select: notionapi.Option{
				Name: txn.Status,
			},
		}
	}

	if txn.CategorizationMethod != "" {
		props["Method"] = notionapi.SelectProperty{
			Select: notionapi.Option{
				Name: txn.CategorizationMethod,
			},
		}
	}

	if txn.Confidence != nil {
		props["Confidence"] = notionapi.NumberProperty{
			Number: *txn.Confidence,
		}
	}

	if txn.Memo != "" {
		props["Memo"] = notionapi.RichTextProperty{
			RichText: richText(txn.Memo),
		}
	}

	// Receipt splits have one allocation per line item; a multi-select
	// shows every category on the page.
	if len(allocs) > 0 {
		seen := make(map[string]bool, len(allocs))
		var options []notionapi.Option
		for _, a := range allocs {
			if a.CategoryID == "" || seen[a.CategoryID] {
				continue
			}
			seen[a.CategoryID] = true
			options = append(options, notionapi.Option{Name: a.CategoryID})
		}
		props["Categories"] = notionapi.MultiSelectProperty{
			MultiSelect: options,
		}
	}

	if xfer != nil && xfer.TransferType != "" {
		props["Transfer Type"] = notionapi.SelectProperty{
			Select: notionapi.Option{
				Name: xfer.TransferType,
			},
		}
	}

	return props
}

// extractTransactionID reads the Transaction ID title from a queried
// page. Returns empty when the page was not created by this sync.
func extractTransactionID(page notionapi.Page) string {
	prop, ok := page.Properties["Transaction ID"]
	if !ok {
		return ""
	}
	title, ok := prop.(*notionapi.TitleProperty)
	if !ok || len(title.Title) == 0 {
		return ""
	}
	return title.Title[0].PlainText
}
