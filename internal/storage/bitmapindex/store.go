// Package bitmapindex implements imapcore.IndexStore over the metadata
// SQLite database: roaring bitmaps cached in memory for tag/membership
// queries, SQLite range scans for numeric/date properties, and FTS5 for
// full-text search. The change log backing MODSEQ/CONDSTORE is an
// append-only SQLite table mirrored to a Redis stream so other
// processes (expiry workers, replication) can tail it.
package bitmapindex

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/RoaringBitmap/roaring"
	"github.com/redis/go-redis/v9"

	"github.com/fenilsonani/email-server/internal/imapcore"
)

// Store implements imapcore.IndexStore against the shared metadata
// database. Tag bitmaps are cached per (account, collection, property,
// value) and invalidated wholesale on the next write through this
// Store instance — there is exactly one Store per process, so this is
// sufficient without cross-process invalidation.
type Store struct {
	db      *sql.DB
	rdb     *redis.Client // optional; nil disables changelog mirroring
	streamPrefix string

	mu   sync.RWMutex
	tags map[tagKey]*roaring.Bitmap
}

type tagKey struct {
	accountID uint32
	property  imapcore.Property
	value     uint32
}

// New returns a Store. rdb may be nil, in which case the change log is
// kept in SQLite only (no cross-process stream mirror).
func New(db *sql.DB, rdb *redis.Client) *Store {
	return &Store{
		db:           db,
		rdb:          rdb,
		streamPrefix: "imap:changelog:",
		tags:         make(map[tagKey]*roaring.Bitmap),
	}
}

func (s *Store) invalidateTags(accountID uint32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for k := range s.tags {
		if k.accountID == accountID {
			delete(s.tags, k)
		}
	}
}

// GetTag returns the bitmap of message ids whose MailboxIds/Keywords tag
// equals value, loading and caching it from SQLite on first use.
func (s *Store) GetTag(ctx context.Context, accountID uint32, collection imapcore.Collection, property imapcore.Property, value uint32) (*roaring.Bitmap, error) {
	key := tagKey{accountID: accountID, property: property, value: value}

	s.mu.RLock()
	bm, ok := s.tags[key]
	s.mu.RUnlock()
	if ok {
		return bm.Clone(), nil
	}

	bm, err := s.loadTag(ctx, accountID, property, value)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.tags[key] = bm
	s.mu.Unlock()
	return bm.Clone(), nil
}

func (s *Store) loadTag(ctx context.Context, accountID uint32, property imapcore.Property, value uint32) (*roaring.Bitmap, error) {
	bm := roaring.New()
	if property != imapcore.PropertyMailboxIds {
		return bm, nil
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT em.message_id FROM email_mailboxes em
		 JOIN messages m ON m.id = em.message_id
		 JOIN mailboxes mb ON mb.id = m.mailbox_id
		 WHERE em.mailbox_id = ? AND mb.user_id = ?`,
		value, accountID,
	)
	if err != nil {
		return nil, fmt.Errorf("load mailbox tag: %w", err)
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

// GetDocumentIDs returns every message id belonging to the account, the
// "all mail" universe.
func (s *Store) GetDocumentIDs(ctx context.Context, accountID uint32, collection imapcore.Collection) (*roaring.Bitmap, error) {
	bm := roaring.New()
	rows, err := s.db.QueryContext(ctx,
		`SELECT m.id FROM messages m JOIN mailboxes mb ON mb.id = m.mailbox_id WHERE mb.user_id = ?`,
		accountID,
	)
	if err != nil {
		return nil, fmt.Errorf("load document universe: %w", err)
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

// Filter evaluates a compiled postfix filter expression by walking it
// with a stack of bitmaps, resolving each leaf atom against SQLite (or
// the tag cache) as it's pushed.
func (s *Store) Filter(ctx context.Context, accountID uint32, collection imapcore.Collection, atoms []imapcore.Atom) (imapcore.ResultSet, error) {
	result, err := s.evalFilter(ctx, accountID, atoms)
	if err != nil {
		return imapcore.ResultSet{}, err
	}
	return imapcore.ResultSet{AccountID: accountID, Collection: collection, Results: result}, nil
}

// evalFilter walks the postfix atom sequence with an explicit group
// stack: AND/OR push a fresh accumulator that combines its children
// with the matching operator; NOT pushes a group whose single child,
// on END, is complemented against the overall universe before folding
// into its parent. Plain leaves fold directly into the top group.
func (s *Store) evalFilter(ctx context.Context, accountID uint32, atoms []imapcore.Atom) (*roaring.Bitmap, error) {
	if len(atoms) == 0 {
		return roaring.New(), nil
	}
	universe := atoms[0].Set
	if universe == nil {
		universe = roaring.New()
	}

	type group struct {
		kind imapcore.AtomKind
		acc  *roaring.Bitmap
		set  bool
	}

	stack := []*group{{kind: imapcore.AtomAnd}}

	fold := func(g *group, leaf *roaring.Bitmap) {
		if !g.set {
			g.acc = leaf
			g.set = true
			return
		}
		switch g.kind {
		case imapcore.AtomOr:
			g.acc = roaring.Or(g.acc, leaf)
		default: // AtomAnd, AtomNot (NOT's child is ANDed with its siblings, if any)
			g.acc = roaring.And(g.acc, leaf)
		}
	}

	for _, atom := range atoms {
		switch atom.Kind {
		case imapcore.AtomAnd, imapcore.AtomOr, imapcore.AtomNot:
			stack = append(stack, &group{kind: atom.Kind})
		case imapcore.AtomEnd:
			if len(stack) < 2 {
				return nil, fmt.Errorf("unbalanced filter expression")
			}
			top := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			leaf := top.acc
			if leaf == nil {
				leaf = roaring.New()
			}
			if top.kind == imapcore.AtomNot {
				leaf = roaring.AndNot(universe, leaf)
			}
			fold(stack[len(stack)-1], leaf)
		default:
			leaf, err := s.evalLeaf(ctx, accountID, atom)
			if err != nil {
				return nil, err
			}
			fold(stack[len(stack)-1], leaf)
		}
	}

	if len(stack) != 1 {
		return nil, fmt.Errorf("unbalanced filter expression")
	}
	if !stack[0].set {
		return roaring.New(), nil
	}
	return stack[0].acc, nil
}

func (s *Store) evalLeaf(ctx context.Context, accountID uint32, atom imapcore.Atom) (*roaring.Bitmap, error) {
	switch atom.Kind {
	case imapcore.AtomInSet:
		if atom.Set == nil {
			return roaring.New(), nil
		}
		return atom.Set.Clone(), nil
	case imapcore.AtomInBitmap:
		return s.evalInBitmap(ctx, accountID, atom.Property, atom.Token)
	case imapcore.AtomHasText:
		return s.evalHasText(ctx, accountID, atom.Property, atom.Text, atom.Language)
	case imapcore.AtomHasRawText:
		return s.evalHasRawText(ctx, accountID, atom.Token)
	case imapcore.AtomLt, imapcore.AtomGe, imapcore.AtomGt, imapcore.AtomLe:
		return s.evalRange(ctx, accountID, atom)
	default:
		return nil, fmt.Errorf("unexpected leaf atom kind %d", atom.Kind)
	}
}

func (s *Store) evalInBitmap(ctx context.Context, accountID uint32, property imapcore.Property, token string) (*roaring.Bitmap, error) {
	if property == imapcore.PropertyKeywords {
		bm := roaring.New()
		rows, err := s.db.QueryContext(ctx,
			`SELECT ek.message_id FROM email_keywords ek
			 JOIN messages m ON m.id = ek.message_id
			 JOIN mailboxes mb ON mb.id = m.mailbox_id
			 WHERE ek.keyword = ? AND mb.user_id = ?`,
			token, accountID,
		)
		if err != nil {
			return nil, fmt.Errorf("keyword filter: %w", err)
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
	if property == imapcore.PropertyThreadID {
		bm := roaring.New()
		rows, err := s.db.QueryContext(ctx,
			`SELECT m.id FROM messages m JOIN mailboxes mb ON mb.id = m.mailbox_id
			 WHERE m.thread_id = ? AND mb.user_id = ?`,
			token, accountID,
		)
		if err != nil {
			return nil, fmt.Errorf("thread filter: %w", err)
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
	return roaring.New(), nil
}

func (s *Store) evalHasRawText(ctx context.Context, accountID uint32, token string) (*roaring.Bitmap, error) {
	bm := roaring.New()
	rows, err := s.db.QueryContext(ctx,
		`SELECT ht.message_id FROM header_tokens ht
		 JOIN messages m ON m.id = ht.message_id
		 JOIN mailboxes mb ON mb.id = m.mailbox_id
		 WHERE ht.token = ? AND mb.user_id = ?`,
		token, accountID,
	)
	if err != nil {
		return nil, fmt.Errorf("header token filter: %w", err)
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

func (s *Store) evalRange(ctx context.Context, accountID uint32, atom imapcore.Atom) (*roaring.Bitmap, error) {
	col, ok := rangeColumn(atom.Property)
	if !ok {
		return roaring.New(), nil
	}
	var op string
	switch atom.Kind {
	case imapcore.AtomLt:
		op = "<"
	case imapcore.AtomGe:
		op = ">="
	case imapcore.AtomGt:
		op = ">"
	case imapcore.AtomLe:
		op = "<="
	}

	query := fmt.Sprintf(
		`SELECT m.id FROM messages m JOIN mailboxes mb ON mb.id = m.mailbox_id WHERE mb.user_id = ? AND m.%s %s ?`,
		col, op,
	)
	bm := roaring.New()
	rows, err := s.db.QueryContext(ctx, query, accountID, atom.Value)
	if err != nil {
		return nil, fmt.Errorf("range filter: %w", err)
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

func rangeColumn(p imapcore.Property) (string, bool) {
	switch p {
	case imapcore.PropertyReceivedAt:
		return "received_at", true
	case imapcore.PropertySentAt:
		return "sent_at", true
	case imapcore.PropertySize:
		return "size", true
	default:
		return "", false
	}
}

// Sort orders a result set by comparators and returns document ids up
// to page.Limit. Sort keys are read back from SQLite per comparator
// rather than cached, since SORT requests vary widely and are not worth
// the cache-invalidation complexity tag bitmaps already pay for.
func (s *Store) Sort(ctx context.Context, rs imapcore.ResultSet, comparators []imapcore.Comparator, page imapcore.Pagination) ([]uint32, error) {
	ids := rs.Results.ToArray()
	if len(comparators) == 0 {
		sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
		return paginate(ids, page), nil
	}

	keys, err := s.loadSortKeys(ctx, ids, comparators)
	if err != nil {
		return nil, err
	}

	sort.SliceStable(ids, func(i, j int) bool {
		a, b := ids[i], ids[j]
		for ci, c := range comparators {
			va, vb := keys[ci][a], keys[ci][b]
			if va == vb {
				continue
			}
			if c.Ascending {
				return va < vb
			}
			return va > vb
		}
		return a < b
	})
	return paginate(ids, page), nil
}

func paginate(ids []uint32, page imapcore.Pagination) []uint32 {
	if page.Offset > 0 {
		if page.Offset >= len(ids) {
			return nil
		}
		ids = ids[page.Offset:]
	}
	if page.Limit > 0 && page.Limit < len(ids) {
		ids = ids[:page.Limit]
	}
	return ids
}

// loadSortKeys returns, per comparator index, a map from document id to
// a comparable uint64 sort key: numeric properties read directly,
// textual properties are truncated/collated into their first 8 bytes
// (sufficient for relative ordering of SORT's ASCII-ish keys).
func (s *Store) loadSortKeys(ctx context.Context, ids []uint32, comparators []imapcore.Comparator) ([]map[uint32]uint64, error) {
	keys := make([]map[uint32]uint64, len(comparators))
	for i := range keys {
		keys[i] = make(map[uint32]uint64, len(ids))
	}
	if len(ids) == 0 {
		return keys, nil
	}

	placeholders := make([]string, len(ids))
	args := make([]any, len(ids))
	for i, id := range ids {
		placeholders[i] = "?"
		args[i] = id
	}
	inClause := "(" + strings.Join(placeholders, ",") + ")"

	for ci, c := range comparators {
		col, isText := sortColumn(c.Property)
		query := fmt.Sprintf(`SELECT id, %s FROM messages WHERE id IN %s`, col, inClause)
		rows, err := s.db.QueryContext(ctx, query, args...)
		if err != nil {
			return nil, fmt.Errorf("load sort key %s: %w", col, err)
		}
		err = func() error {
			defer rows.Close()
			for rows.Next() {
				var id uint32
				if isText {
					var v sql.NullString
					if err := rows.Scan(&id, &v); err != nil {
						return err
					}
					keys[ci][id] = textSortKey(v.String)
				} else {
					var v int64
					if err := rows.Scan(&id, &v); err != nil {
						return err
					}
					keys[ci][id] = uint64(v)
				}
			}
			return rows.Err()
		}()
		if err != nil {
			return nil, err
		}
	}
	return keys, nil
}

func sortColumn(p imapcore.Property) (col string, isText bool) {
	switch p {
	case imapcore.PropertyReceivedAt:
		return "received_at", false
	case imapcore.PropertySentAt:
		return "sent_at", false
	case imapcore.PropertySize:
		return "size", false
	case imapcore.PropertySubject:
		return "subject", true
	case imapcore.PropertyFrom:
		return "from_address", true
	case imapcore.PropertyTo:
		return "to_addresses", true
	case imapcore.PropertyCc:
		return "to_addresses", true // cc isn't separately columned; approximate
	default:
		return "received_at", false
	}
}

// textSortKey packs the first 8 bytes of a lowercased string into a
// uint64 so textual sort keys compare with plain integer ordering.
func textSortKey(s string) uint64 {
	s = strings.ToLower(strings.TrimSpace(s))
	var v uint64
	for i := 0; i < 8; i++ {
		v <<= 8
		if i < len(s) {
			v |= uint64(s[i])
		}
	}
	return v
}

// Changes returns change log entries with modseq >= since (SQLite rowid
// IS the modseq, so this is a direct range scan).
func (s *Store) Changes(ctx context.Context, accountID uint32, collection imapcore.Collection, since uint64) (imapcore.Changes, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT modseq, message_id, kind FROM email_changelog WHERE account_id = ? AND modseq >= ? ORDER BY modseq`,
		accountID, since,
	)
	if err != nil {
		return imapcore.Changes{}, fmt.Errorf("read changelog: %w", err)
	}
	defer rows.Close()

	var out imapcore.Changes
	for rows.Next() {
		var modseq uint64
		var messageID uint32
		var kind int
		if err := rows.Scan(&modseq, &messageID, &kind); err != nil {
			return imapcore.Changes{}, err
		}
		out.Changes = append(out.Changes, imapcore.ChangeEntry{
			ID:         modseq<<32 | uint64(messageID),
			ChangeKind: imapcore.ChangeKind(kind),
		})
	}
	return out, rows.Err()
}

// CurrentModSeq returns the account's highest changelog modseq.
func (s *Store) CurrentModSeq(ctx context.Context, accountID uint32, collection imapcore.Collection) (uint64, error) {
	var modseq sql.NullInt64
	err := s.db.QueryRowContext(ctx,
		`SELECT MAX(modseq) FROM email_changelog WHERE account_id = ?`, accountID,
	).Scan(&modseq)
	if err != nil {
		return 0, fmt.Errorf("read current modseq: %w", err)
	}
	return uint64(modseq.Int64), nil
}

// RecordChange appends a changelog entry and, when a Redis client is
// configured, mirrors it onto an XADD stream so other processes can
// tail per-account changes without polling SQLite.
func (s *Store) RecordChange(ctx context.Context, accountID uint32, messageID uint32, kind imapcore.ChangeKind) (uint64, error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO email_changelog (account_id, message_id, kind) VALUES (?, ?, ?)`,
		accountID, messageID, int(kind),
	)
	if err != nil {
		return 0, fmt.Errorf("append changelog: %w", err)
	}
	modseq, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}

	s.invalidateTags(accountID)

	if s.rdb != nil {
		stream := fmt.Sprintf("%s%d", s.streamPrefix, accountID)
		s.rdb.XAdd(ctx, &redis.XAddArgs{
			Stream: stream,
			Values: map[string]any{
				"modseq":     modseq,
				"message_id": messageID,
				"kind":       int(kind),
			},
		})
	}
	return uint64(modseq), nil
}
