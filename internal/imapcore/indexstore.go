package imapcore

import (
	"context"

	"github.com/RoaringBitmap/roaring"
)

// Collection names the document collection a query runs against. The
// core only ever queries Email; other values are accepted so the
// interface stays general the way the backend's is.
type Collection string

const CollectionEmail Collection = "email"

// Property names a document property filters and sort comparators can
// reference.
type Property string

const (
	PropertyMailboxIds  Property = "mailboxIds"
	PropertyKeywords    Property = "keywords"
	PropertyReceivedAt  Property = "receivedAt"
	PropertySentAt      Property = "sentAt"
	PropertySize        Property = "size"
	PropertySubject     Property = "subject"
	PropertyFrom        Property = "from"
	PropertyTo          Property = "to"
	PropertyCc          Property = "cc"
	PropertyBcc         Property = "bcc"
	PropertyTextBody    Property = "textBody"
	PropertyAttachments Property = "attachments"
	PropertyHeaders     Property = "headers"
	PropertyThreadID    Property = "threadId"
)

// Language selects the stemmer used for a HasText atom. LanguageNone
// disables stemming, used for address-like fields.
type Language string

const LanguageNone Language = "none"

// ResultSet is the outcome of IndexStore.Filter: the matching document
// ids, scoped to the account and collection the filter ran against.
type ResultSet struct {
	AccountID  uint32
	Collection Collection
	Results    *roaring.Bitmap
}

// Comparator orders a sort by a single property, ascending or
// descending.
type Comparator struct {
	Property  Property
	Ascending bool
}

// Pagination bounds a sort: Limit results starting at Offset; Anchor and
// AnchorOffset support anchored pagination (unused by SEARCH/SORT, kept
// for interface parity with the backend's sort primitive).
type Pagination struct {
	Limit        int
	Offset       int
	Anchor       *uint32
	AnchorOffset int
}

// ChangeKind categorizes a change log entry.
type ChangeKind int

const (
	ChangeInsert ChangeKind = iota
	ChangeUpdate
	ChangeDelete
)

// ChangeEntry is one change log record. ID's low 32 bits are the
// document id; the high bits carry the modseq/ordering key.
type ChangeEntry struct {
	ID         uint64
	ChangeKind ChangeKind
}

// DocumentID returns the document id embedded in the change id's low 32
// bits.
func (c ChangeEntry) DocumentID() uint32 { return uint32(c.ID) }

// Changes is the result of IndexStore.Changes: log entries with id/modseq
// at least `since`.
type Changes struct {
	Changes []ChangeEntry
}

// IndexStore is the abstract backend capability the search core
// consumes. Concrete implementations (FoundationDB/SQL/RocksDB in the
// systems this core was designed alongside; SQLite + an in-memory
// roaring-bitmap cache here) need only satisfy this contract.
type IndexStore interface {
	// GetTag returns the bitmap of documents whose property equals
	// value (e.g. MailboxIds == mailboxID), or nil if none.
	GetTag(ctx context.Context, accountID uint32, collection Collection, property Property, value uint32) (*roaring.Bitmap, error)

	// GetDocumentIDs returns every document id in the collection for
	// the account (the "all mail" universe).
	GetDocumentIDs(ctx context.Context, accountID uint32, collection Collection) (*roaring.Bitmap, error)

	// Filter evaluates a compiled postfix filter expression and
	// returns the matching document ids.
	Filter(ctx context.Context, accountID uint32, collection Collection, atoms []Atom) (ResultSet, error)

	// Sort orders a result set by comparators and returns document ids
	// (truncated to u32) per pagination.
	Sort(ctx context.Context, rs ResultSet, comparators []Comparator, page Pagination) ([]uint32, error)

	// Changes returns change log entries with modseq >= since.
	Changes(ctx context.Context, accountID uint32, collection Collection, since uint64) (Changes, error)

	// CurrentModSeq returns the account/collection's current highest
	// modseq, used to populate HIGHESTMODSEQ after a MODSEQ search.
	CurrentModSeq(ctx context.Context, accountID uint32, collection Collection) (uint64, error)
}
