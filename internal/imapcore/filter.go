package imapcore

import (
	"strings"
	"time"

	"github.com/RoaringBitmap/roaring"
)

// AtomKind enumerates the postfix filter expression's tagged variants.
type AtomKind int

const (
	AtomAnd AtomKind = iota
	AtomOr
	AtomNot
	AtomEnd
	AtomInSet
	AtomInBitmap
	AtomHasText
	AtomHasRawText
	AtomLt
	AtomGe
	AtomGt
	AtomLe
)

// Atom is one element of a compiled postfix filter expression. Every
// AND/OR/NOT has a matching END (§8 property 3, "parentheses theorem").
type Atom struct {
	Kind     AtomKind
	Set      *roaring.Bitmap // AtomInSet
	Property Property        // AtomInBitmap, AtomHasText, AtomHasRawText, Lt/Ge/Gt/Le
	Token    string          // AtomInBitmap (keyword), AtomHasRawText (raw token)
	Text     string          // AtomHasText
	Language Language        // AtomHasText
	Value    uint64          // Lt/Ge/Gt/Le
}

func and() Atom                                { return Atom{Kind: AtomAnd} }
func or() Atom                                  { return Atom{Kind: AtomOr} }
func not() Atom                                 { return Atom{Kind: AtomNot} }
func end() Atom                                 { return Atom{Kind: AtomEnd} }
func inSet(b *roaring.Bitmap) Atom              { return Atom{Kind: AtomInSet, Set: b} }
func inBitmap(p Property, token string) Atom    { return Atom{Kind: AtomInBitmap, Property: p, Token: token} }
func hasText(p Property, text string, l Language) Atom {
	return Atom{Kind: AtomHasText, Property: p, Text: text, Language: l}
}
func hasRawText(p Property, token string) Atom { return Atom{Kind: AtomHasRawText, Property: p, Token: token} }
func ltOp(p Property, v uint64) Atom           { return Atom{Kind: AtomLt, Property: p, Value: v} }
func geOp(p Property, v uint64) Atom           { return Atom{Kind: AtomGe, Property: p, Value: v} }
func gtOp(p Property, v uint64) Atom           { return Atom{Kind: AtomGt, Property: p, Value: v} }
func leOp(p Property, v uint64) Atom           { return Atom{Kind: AtomLe, Property: p, Value: v} }

// Keyword names used with InBitmap(Keywords, ...).
const (
	KeywordAnswered = `\Answered`
	KeywordSeen     = `\Seen`
	KeywordDeleted  = `\Deleted`
	KeywordDraft    = `\Draft`
	KeywordFlagged  = `\Flagged`
	KeywordRecent   = `\Recent`
)

// CriterionKind enumerates the IMAP SEARCH filter grammar variants this
// compiler translates (spec.md §4.3's translation table).
type CriterionKind int

const (
	CritAll CriterionKind = iota
	CritAnswered
	CritUnanswered
	CritSeen
	CritUnseen
	CritDeleted
	CritUndeleted
	CritDraft
	CritUndraft
	CritFlagged
	CritUnflagged
	CritRecent
	CritNew
	CritOld
	CritKeyword
	CritUnkeyword
	CritBefore
	CritOn
	CritSince
	CritSentBefore
	CritSentOn
	CritSentSince
	CritOlder
	CritYounger
	CritLarger
	CritSmaller
	CritBody
	CritSubject
	CritText
	CritFrom
	CritTo
	CritCc
	CritBcc
	CritHeader
	CritSequence
	CritModSeq
	CritEmailID
	CritThreadID
	CritAnd
	CritOr
	CritNot
	CritEnd
)

// Criterion is one node of the parsed IMAP filter list; AND/OR/NOT/END
// are grouping markers interleaved with leaves, mirroring the IMAP
// grammar's own flat representation.
type Criterion struct {
	Kind        CriterionKind
	Text        string // BODY/SUBJECT/TEXT/FROM/TO/CC/BCC
	HeaderName  string
	HeaderValue string
	Date        int64  // unix seconds, for BEFORE/ON/SINCE/SENTBEFORE/SENTON/SENTSINCE
	Seconds     uint32 // OLDER/YOUNGER
	Size        uint64 // LARGER/SMALLER
	Keyword     string // KEYWORD/UNKEYWORD
	ModSeq      uint64
	Seq         SequenceSet
	UIDFilter   bool // the command itself is UID SEARCH
	ID          string
}

// headerInfo describes one RFC header recognized by the HEADER filter.
type headerInfo struct {
	id    int
	isID  bool // Message-Id/In-Reply-To/References/Resent-Message-Id preserve case
}

// knownHeaders enumerates the RFC headers HEADER may query. An unknown
// header is a ClientError (§4.3 "Querying non-RFC header ... is not
// allowed.").
var knownHeaders = map[string]headerInfo{
	"subject":           {id: 1},
	"from":              {id: 2},
	"to":                {id: 3},
	"cc":                {id: 4},
	"bcc":               {id: 5},
	"reply-to":          {id: 6},
	"sender":            {id: 7},
	"date":              {id: 8},
	"comments":          {id: 9},
	"keywords":          {id: 10},
	"message-id":        {id: 11, isID: true},
	"in-reply-to":       {id: 12, isID: true},
	"references":        {id: 13, isID: true},
	"resent-message-id": {id: 14, isID: true},
	"resent-date":       {id: 15},
	"resent-from":       {id: 16},
	"resent-to":         {id: 17},
	"content-type":      {id: 18},
	"content-language":  {id: 19},
	"list-id":           {id: 20},
}

// CompileContext carries the ambient state the compiler needs beyond the
// criteria list itself: the document-id universe, the selected
// mailbox's UID/seqnum state (for SEQUENCE/UID), a saved-search reader
// (for SEQUENCE $), the default full-text language, and the max header
// token length.
type CompileContext struct {
	Universe            *roaring.Bitmap
	Mailbox              *MailboxState
	SavedSearch          func() ([]ImapID, bool)
	DefaultLanguage      Language
	MaxTokenLength       int
	IsUID                bool
	ChangesSince         func(modseq uint64) ([]ChangeEntry, error)
}

// CompileResult is the compiler's output: the postfix atom sequence plus
// whether a MODSEQ filter was present (callers must then attach
// HIGHESTMODSEQ to the response).
type CompileResult struct {
	Atoms               []Atom
	IncludeHighestModSeq bool
}

// CompileFilter translates a parsed IMAP filter list into a postfix
// filter expression over the index store, pushing a leading
// InSet(universe) atom ahead of everything else (§8 property 3).
func CompileFilter(cx CompileContext, criteria []Criterion) (CompileResult, error) {
	atoms := make([]Atom, 0, len(criteria)+1)
	atoms = append(atoms, inSet(cx.Universe.Clone()))

	var includeHighestModSeq bool

	for _, c := range criteria {
		switch c.Kind {
		case CritAll:
			atoms = append(atoms, inSet(cx.Universe.Clone()))
		case CritAnswered:
			atoms = append(atoms, inBitmap(PropertyKeywords, KeywordAnswered))
		case CritUnanswered:
			atoms = append(atoms, not(), inBitmap(PropertyKeywords, KeywordAnswered), end())
		case CritSeen:
			atoms = append(atoms, inBitmap(PropertyKeywords, KeywordSeen))
		case CritUnseen:
			atoms = append(atoms, not(), inBitmap(PropertyKeywords, KeywordSeen), end())
		case CritDeleted:
			atoms = append(atoms, inBitmap(PropertyKeywords, KeywordDeleted))
		case CritUndeleted:
			atoms = append(atoms, not(), inBitmap(PropertyKeywords, KeywordDeleted), end())
		case CritDraft:
			atoms = append(atoms, inBitmap(PropertyKeywords, KeywordDraft))
		case CritUndraft:
			atoms = append(atoms, not(), inBitmap(PropertyKeywords, KeywordDraft), end())
		case CritFlagged:
			atoms = append(atoms, inBitmap(PropertyKeywords, KeywordFlagged))
		case CritUnflagged:
			atoms = append(atoms, not(), inBitmap(PropertyKeywords, KeywordFlagged), end())
		case CritRecent:
			atoms = append(atoms, inBitmap(PropertyKeywords, KeywordRecent))
		case CritNew:
			atoms = append(atoms, and(), inBitmap(PropertyKeywords, KeywordRecent), not(), inBitmap(PropertyKeywords, KeywordSeen), end(), end())
		case CritOld:
			atoms = append(atoms, not(), inBitmap(PropertyKeywords, KeywordSeen), end())
		case CritKeyword:
			atoms = append(atoms, inBitmap(PropertyKeywords, c.Keyword))
		case CritUnkeyword:
			atoms = append(atoms, not(), inBitmap(PropertyKeywords, c.Keyword), end())
		case CritBefore:
			atoms = append(atoms, ltOp(PropertyReceivedAt, uint64(c.Date)))
		case CritOn:
			atoms = append(atoms, and(), geOp(PropertyReceivedAt, uint64(c.Date)), ltOp(PropertyReceivedAt, uint64(c.Date)+86400), end())
		case CritSince:
			atoms = append(atoms, geOp(PropertyReceivedAt, uint64(c.Date)))
		case CritSentBefore:
			atoms = append(atoms, ltOp(PropertySentAt, uint64(c.Date)))
		case CritSentOn:
			atoms = append(atoms, and(), geOp(PropertySentAt, uint64(c.Date)), ltOp(PropertySentAt, uint64(c.Date)+86400), end())
		case CritSentSince:
			atoms = append(atoms, geOp(PropertySentAt, uint64(c.Date)))
		case CritOlder:
			atoms = append(atoms, leOp(PropertyReceivedAt, saturatingSub(uint64(time.Now().Unix()), uint64(c.Seconds))))
		case CritYounger:
			atoms = append(atoms, geOp(PropertyReceivedAt, saturatingSub(uint64(time.Now().Unix()), uint64(c.Seconds))))
		case CritLarger:
			atoms = append(atoms, gtOp(PropertySize, c.Size))
		case CritSmaller:
			atoms = append(atoms, ltOp(PropertySize, c.Size))
		case CritBody:
			atoms = append(atoms, hasText(PropertyTextBody, c.Text, cx.DefaultLanguage))
		case CritSubject:
			atoms = append(atoms, hasText(PropertySubject, c.Text, cx.DefaultLanguage))
		case CritText:
			atoms = append(atoms,
				or(),
				hasText(PropertyFrom, c.Text, LanguageNone),
				hasText(PropertyTo, c.Text, LanguageNone),
				hasText(PropertyCc, c.Text, LanguageNone),
				hasText(PropertyBcc, c.Text, LanguageNone),
				hasText(PropertySubject, c.Text, cx.DefaultLanguage),
				hasText(PropertyTextBody, c.Text, cx.DefaultLanguage),
				hasText(PropertyAttachments, c.Text, cx.DefaultLanguage),
				end(),
			)
		case CritFrom:
			atoms = append(atoms, hasText(PropertyFrom, c.Text, LanguageNone))
		case CritTo:
			atoms = append(atoms, hasText(PropertyTo, c.Text, LanguageNone))
		case CritCc:
			atoms = append(atoms, hasText(PropertyCc, c.Text, LanguageNone))
		case CritBcc:
			atoms = append(atoms, hasText(PropertyBcc, c.Text, LanguageNone))
		case CritHeader:
			headerAtoms, err := compileHeader(cx, c.HeaderName, c.HeaderValue)
			if err != nil {
				return CompileResult{}, err
			}
			atoms = append(atoms, headerAtoms...)
		case CritSequence:
			seqAtom, err := compileSequence(cx, c)
			if err != nil {
				return CompileResult{}, err
			}
			atoms = append(atoms, seqAtom)
		case CritModSeq:
			set, err := compileModSeq(cx, c.ModSeq)
			if err != nil {
				return CompileResult{}, err
			}
			atoms = append(atoms, inSet(set))
			includeHighestModSeq = true
		case CritEmailID:
			id, err := ParseEmailID(c.ID)
			if err != nil {
				return CompileResult{}, noErr("Failed to parse email id '" + c.ID + "'.")
			}
			single := roaring.New()
			single.Add(id)
			atoms = append(atoms, inSet(single))
		case CritThreadID:
			id, err := ParseEmailID(c.ID)
			if err != nil {
				return CompileResult{}, noErr("Failed to parse thread id '" + c.ID + "'.")
			}
			atoms = append(atoms, inBitmap(PropertyThreadID, itoaToken(id)))
		case CritAnd:
			atoms = append(atoms, and())
		case CritOr:
			atoms = append(atoms, or())
		case CritNot:
			atoms = append(atoms, not())
		case CritEnd:
			atoms = append(atoms, end())
		}
	}

	return CompileResult{Atoms: atoms, IncludeHighestModSeq: includeHighestModSeq}, nil
}

// TokenizeHeader produces the header_tokens rows an indexer should
// store for one header's value, using the same headerNum+token scheme
// compileHeader queries against. ok is false for headers HEADER can
// never query (compileHeader rejects them), in which case there is
// nothing worth indexing.
func TokenizeHeader(name, value string, maxTokenLength int) (tokens []string, ok bool) {
	info, known := knownHeaders[strings.ToLower(name)]
	if !known {
		return nil, false
	}
	headerNum := itoaToken(uint32(info.id))
	if value == "" {
		return []string{headerNum}, true
	}
	for _, tok := range strings.Fields(value) {
		if len(tok) >= maxTokenLength {
			continue
		}
		if info.isID {
			tokens = append(tokens, headerNum+tok)
		} else {
			tokens = append(tokens, headerNum+strings.ToLower(tok))
		}
	}
	if len(tokens) == 0 {
		tokens = []string{headerNum}
	}
	return tokens, true
}

func compileHeader(cx CompileContext, name, value string) ([]Atom, error) {
	info, ok := knownHeaders[strings.ToLower(name)]
	if !ok {
		return nil, noErr("Querying non-RFC header '" + name + "' is not allowed.")
	}

	headerNum := itoaToken(uint32(info.id))
	var tokens []string
	if value != "" {
		for _, tok := range strings.Fields(value) {
			if len(tok) >= cx.MaxTokenLength {
				continue
			}
			if info.isID {
				tokens = append(tokens, headerNum+tok)
			} else {
				tokens = append(tokens, headerNum+strings.ToLower(tok))
			}
		}
	}

	switch len(tokens) {
	case 0:
		return []Atom{hasRawText(PropertyHeaders, headerNum)}, nil
	case 1:
		return []Atom{hasRawText(PropertyHeaders, tokens[0])}, nil
	default:
		atoms := make([]Atom, 0, len(tokens)+2)
		atoms = append(atoms, and())
		for _, t := range tokens {
			atoms = append(atoms, hasRawText(PropertyHeaders, t))
		}
		atoms = append(atoms, end())
		return atoms, nil
	}
}

func compileSequence(cx CompileContext, c Criterion) (Atom, error) {
	set := roaring.New()
	if c.Seq.Saved {
		items, ok := cx.SavedSearch()
		if !ok {
			return Atom{}, ErrNoSavedSearch
		}
		for _, imapID := range items {
			if id, found := cx.Mailbox.UIDToID[imapID.UID]; found {
				set.Add(id)
			}
		}
		return inSet(set), nil
	}

	uidMode := cx.IsUID || c.UIDFilter
	for id := range cx.Mailbox.SequenceToIDs(c.Seq, uidMode) {
		set.Add(id)
	}
	return inSet(set), nil
}

func compileModSeq(cx CompileContext, modseq uint64) (*roaring.Bitmap, error) {
	set := roaring.New()
	changes, err := cx.ChangesSince(modseq)
	if err != nil {
		return nil, &StoreError{Err: err}
	}
	for _, ch := range changes {
		id := ch.DocumentID()
		if cx.Universe.Contains(id) {
			set.Add(id)
		}
	}
	return set, nil
}

func saturatingSub(a, b uint64) uint64 {
	if b > a {
		return 0
	}
	return a - b
}

func itoaToken(v uint32) string {
	if v == 0 {
		return "0"
	}
	var buf [10]byte
	i := len(buf)
	for v > 0 {
		i--
		buf[i] = byte('0' + v%10)
		v /= 10
	}
	return string(buf[i:])
}
