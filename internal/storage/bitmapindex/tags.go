package bitmapindex

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/fenilsonani/email-server/internal/imapcore"
)

// IndexDocument is the set of indexable fields extracted from a message
// at append time.
type IndexDocument struct {
	Subject     string
	From        string
	To          string
	Cc          string
	Bcc         string
	Body        string
	Attachments string // concatenated attachment filenames/text
	Headers     map[string]string
	ReceivedAt  int64
	SentAt      int64
	ThreadID    uint32
	Keywords    []string
	MaxTokenLength int
}

// IndexMessage populates every derived table for a newly appended
// message: mailbox/keyword tags, header tokens, FTS5 rows, numeric
// columns, and a changelog insert. Callers run this inside the same
// transaction as the messages row insert where possible; messageID is
// the messages.id just inserted.
func (s *Store) IndexMessage(ctx context.Context, tx *sql.Tx, accountID, mailboxID, messageID uint32, doc IndexDocument) error {
	if _, err := tx.ExecContext(ctx,
		`UPDATE messages SET received_at = ?, sent_at = ?, thread_id = ? WHERE id = ?`,
		doc.ReceivedAt, doc.SentAt, doc.ThreadID, messageID,
	); err != nil {
		return fmt.Errorf("index message columns: %w", err)
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT OR IGNORE INTO email_mailboxes (message_id, mailbox_id) VALUES (?, ?)`,
		messageID, mailboxID,
	); err != nil {
		return fmt.Errorf("index mailbox tag: %w", err)
	}

	for _, kw := range doc.Keywords {
		if _, err := tx.ExecContext(ctx,
			`INSERT OR IGNORE INTO email_keywords (message_id, keyword) VALUES (?, ?)`,
			messageID, kw,
		); err != nil {
			return fmt.Errorf("index keyword %q: %w", kw, err)
		}
	}

	maxTokenLength := doc.MaxTokenLength
	if maxTokenLength <= 0 {
		maxTokenLength = 64
	}
	for name, value := range doc.Headers {
		tokens, ok := imapcore.TokenizeHeader(name, value, maxTokenLength)
		if !ok {
			continue
		}
		for _, tok := range tokens {
			if _, err := tx.ExecContext(ctx,
				`INSERT OR IGNORE INTO header_tokens (message_id, token) VALUES (?, ?)`,
				messageID, tok,
			); err != nil {
				return fmt.Errorf("index header token %q: %w", tok, err)
			}
		}
	}

	for field, content := range map[string]string{
		"subject":    doc.Subject,
		"from":       doc.From,
		"to":         doc.To,
		"cc":         doc.Cc,
		"bcc":        doc.Bcc,
		"body":       doc.Body,
		"attachment": doc.Attachments,
	} {
		if content == "" {
			continue
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO messages_fts (message_id, field, content) VALUES (?, ?, ?)`,
			messageID, field, content,
		); err != nil {
			return fmt.Errorf("index fts field %q: %w", field, err)
		}
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO email_changelog (account_id, message_id, kind) VALUES (?, ?, ?)`,
		accountID, messageID, int(imapcore.ChangeInsert),
	); err != nil {
		return fmt.Errorf("index changelog: %w", err)
	}

	s.invalidateTags(accountID)
	return nil
}

// IndexNewMessage is IndexMessage for callers that don't already hold a
// transaction spanning the messages row insert (e.g. a protocol session
// indexing a message maildir.Store already committed). It opens and
// commits its own transaction around the same derived-table writes.
func (s *Store) IndexNewMessage(ctx context.Context, accountID, mailboxID, messageID uint32, doc IndexDocument) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := s.IndexMessage(ctx, tx, accountID, mailboxID, messageID, doc); err != nil {
		return err
	}
	return tx.Commit()
}

// SetKeywords replaces a message's keyword set (UPDATE FLAGS/STORE) and
// records a changelog entry so CONDSTORE clients observe the MODSEQ
// bump.
func (s *Store) SetKeywords(ctx context.Context, accountID, messageID uint32, keywords []string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM email_keywords WHERE message_id = ?`, messageID); err != nil {
		return fmt.Errorf("clear keywords: %w", err)
	}
	for _, kw := range keywords {
		if _, err := tx.ExecContext(ctx,
			`INSERT OR IGNORE INTO email_keywords (message_id, keyword) VALUES (?, ?)`, messageID, kw,
		); err != nil {
			return fmt.Errorf("set keyword %q: %w", kw, err)
		}
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO email_changelog (account_id, message_id, kind) VALUES (?, ?, ?)`,
		accountID, messageID, int(imapcore.ChangeUpdate),
	); err != nil {
		return fmt.Errorf("record keyword change: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return err
	}
	s.invalidateTags(accountID)
	return nil
}

// AddToMailbox records additional JMAP-style mailbox membership for a
// message (COPY), without touching its maildir storage location.
func (s *Store) AddToMailbox(ctx context.Context, accountID, messageID, mailboxID uint32) error {
	if _, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO email_mailboxes (message_id, mailbox_id) VALUES (?, ?)`,
		messageID, mailboxID,
	); err != nil {
		return fmt.Errorf("add mailbox membership: %w", err)
	}
	s.invalidateTags(accountID)
	return nil
}

// RemoveFromMailbox drops one mailbox membership (EXPUNGE/MOVE), and
// records the delete in the change log.
func (s *Store) RemoveFromMailbox(ctx context.Context, accountID, messageID, mailboxID uint32) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM email_mailboxes WHERE message_id = ? AND mailbox_id = ?`,
		messageID, mailboxID,
	); err != nil {
		return fmt.Errorf("remove mailbox membership: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO email_changelog (account_id, message_id, kind) VALUES (?, ?, ?)`,
		accountID, messageID, int(imapcore.ChangeDelete),
	); err != nil {
		return fmt.Errorf("record removal: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	s.invalidateTags(accountID)
	return nil
}

// DeleteMessage removes every derived row for an expunged message.
// email_mailboxes/email_keywords/header_tokens cascade via foreign
// keys on the messages row delete; messages_fts is a virtual table and
// needs an explicit delete.
func (s *Store) DeleteMessage(ctx context.Context, accountID, messageID uint32) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM messages_fts WHERE message_id = ?`, messageID); err != nil {
		return fmt.Errorf("delete fts rows: %w", err)
	}
	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO email_changelog (account_id, message_id, kind) VALUES (?, ?, ?)`,
		accountID, messageID, int(imapcore.ChangeDelete),
	); err != nil {
		return fmt.Errorf("record deletion: %w", err)
	}
	s.invalidateTags(accountID)
	return nil
}
