package bitmapindex

import (
	"context"
	"fmt"
	"strings"

	"github.com/RoaringBitmap/roaring"

	"github.com/fenilsonani/email-server/internal/imapcore"
)

// ftsField maps a search property to the field value messages_fts rows
// were indexed under at append time.
func ftsField(p imapcore.Property) (string, bool) {
	switch p {
	case imapcore.PropertySubject:
		return "subject", true
	case imapcore.PropertyTextBody:
		return "body", true
	case imapcore.PropertyFrom:
		return "from", true
	case imapcore.PropertyTo:
		return "to", true
	case imapcore.PropertyCc:
		return "cc", true
	case imapcore.PropertyBcc:
		return "bcc", true
	case imapcore.PropertyAttachments:
		return "attachment", true
	default:
		return "", false
	}
}

// evalHasText runs an FTS5 MATCH query scoped to one field. Language is
// ignored here: messages_fts uses FTS5's default unicode61 tokenizer,
// which does not stem, and no per-message language is stored.
func (s *Store) evalHasText(ctx context.Context, accountID uint32, property imapcore.Property, text string, language imapcore.Language) (*roaring.Bitmap, error) {
	field, ok := ftsField(property)
	if !ok {
		return roaring.New(), nil
	}
	query := ftsQuery(text)
	if query == "" {
		return roaring.New(), nil
	}

	bm := roaring.New()
	rows, err := s.db.QueryContext(ctx,
		`SELECT DISTINCT f.message_id FROM messages_fts f
		 JOIN messages m ON m.id = f.message_id
		 JOIN mailboxes mb ON mb.id = m.mailbox_id
		 WHERE f.field = ? AND f.content MATCH ? AND mb.user_id = ?`,
		field, query, accountID,
	)
	if err != nil {
		return nil, fmt.Errorf("fts query: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var id uint32
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		bm.Add(id)
	}
	return bm, rows.Err()
}

// ftsQuery quotes text as an FTS5 phrase query, since IMAP's SEARCH
// text arguments are substrings/phrases rather than FTS5's own query
// syntax and must not be interpreted as one (a bare "-" or "*" in the
// search string would otherwise change the query's meaning).
func ftsQuery(text string) string {
	text = strings.TrimSpace(text)
	if text == "" {
		return ""
	}
	return `"` + strings.ReplaceAll(text, `"`, `""`) + `"`
}
