package imapcore

import (
	"testing"

	"github.com/RoaringBitmap/roaring"
)

func testCompileContext() CompileContext {
	universe := roaring.New()
	universe.AddMany([]uint32{1, 2, 3})
	return CompileContext{
		Universe:        universe,
		Mailbox:         NewMailboxState([]uint32{1, 2, 3}, []uint32{1, 2, 3}),
		SavedSearch:     func() ([]ImapID, bool) { return nil, false },
		DefaultLanguage: "en",
		MaxTokenLength:  40,
		ChangesSince:    func(uint64) ([]ChangeEntry, error) { return nil, nil },
	}
}

// CompileFilter always opens with InSet(universe), so every assertion
// here skips atoms[0] and checks what follows it.
func compileBody(t *testing.T, criteria []Criterion) []Atom {
	t.Helper()
	res, err := CompileFilter(testCompileContext(), criteria)
	if err != nil {
		t.Fatalf("CompileFilter: %v", err)
	}
	if len(res.Atoms) == 0 || res.Atoms[0].Kind != AtomInSet {
		t.Fatalf("CompileFilter must lead with InSet(universe), got %v", res.Atoms)
	}
	return res.Atoms[1:]
}

func TestCompileFilterAnsweredIsPlainLeaf(t *testing.T) {
	atoms := compileBody(t, []Criterion{{Kind: CritAnswered}})
	if len(atoms) != 1 || atoms[0].Kind != AtomInBitmap || atoms[0].Token != KeywordAnswered {
		t.Fatalf("ANSWERED should compile to a single InBitmap(Answered) atom, got %v", atoms)
	}
}

func TestCompileFilterUnansweredIsNegated(t *testing.T) {
	atoms := compileBody(t, []Criterion{{Kind: CritUnanswered}})
	if len(atoms) != 3 ||
		atoms[0].Kind != AtomNot ||
		atoms[1].Kind != AtomInBitmap || atoms[1].Token != KeywordAnswered ||
		atoms[2].Kind != AtomEnd {
		t.Fatalf("UNANSWERED should compile to NOT(InBitmap(Answered)), got %v", atoms)
	}
}

func TestCompileFilterNewIsRecentAndNotSeen(t *testing.T) {
	atoms := compileBody(t, []Criterion{{Kind: CritNew}})
	// and() inBitmap(Recent) not() inBitmap(Seen) end() end()
	if len(atoms) != 6 || atoms[0].Kind != AtomAnd || atoms[5].Kind != AtomEnd {
		t.Fatalf("NEW should compile to AND(Recent, NOT(Seen)), got %v", atoms)
	}
	if atoms[1].Token != KeywordRecent || atoms[2].Kind != AtomNot || atoms[3].Token != KeywordSeen {
		t.Fatalf("NEW's children are in the wrong order: %v", atoms)
	}
}

func TestCompileFilterTextExpandsToSevenFieldsOred(t *testing.T) {
	atoms := compileBody(t, []Criterion{{Kind: CritText, Text: "hello"}})
	if atoms[0].Kind != AtomOr || atoms[len(atoms)-1].Kind != AtomEnd {
		t.Fatalf("TEXT should be wrapped in OR(...)/END, got %v", atoms)
	}
	leafCount := 0
	for _, a := range atoms {
		if a.Kind == AtomHasText {
			leafCount++
			if a.Text != "hello" {
				t.Fatalf("expected every HasText leaf to carry the search text, got %q", a.Text)
			}
		}
	}
	if leafCount != 7 {
		t.Fatalf("TEXT should expand to 7 HasText leaves (from/to/cc/bcc/subject/body/attachments), got %d", leafCount)
	}
}

func TestCompileFilterAndOrNotPassThroughAsGroupMarkers(t *testing.T) {
	atoms := compileBody(t, []Criterion{
		{Kind: CritAnd},
		{Kind: CritNot},
		{Kind: CritSeen},
		{Kind: CritEnd},
		{Kind: CritOr},
		{Kind: CritFlagged},
		{Kind: CritDeleted},
		{Kind: CritEnd},
		{Kind: CritEnd},
	})
	wantKinds := []AtomKind{AtomAnd, AtomNot, AtomInBitmap, AtomEnd, AtomOr, AtomInBitmap, AtomInBitmap, AtomEnd, AtomEnd}
	if len(atoms) != len(wantKinds) {
		t.Fatalf("got %d atoms, want %d: %v", len(atoms), len(wantKinds), atoms)
	}
	for i, k := range wantKinds {
		if atoms[i].Kind != k {
			t.Fatalf("atom %d: got kind %v, want %v", i, atoms[i].Kind, k)
		}
	}
}

func TestCompileFilterHeaderRejectsNonRFCHeader(t *testing.T) {
	_, err := CompileFilter(testCompileContext(), []Criterion{
		{Kind: CritHeader, HeaderName: "X-Custom-Header", HeaderValue: "whatever"},
	})
	if err == nil {
		t.Fatal("querying a non-RFC header should be rejected")
	}
	ce, ok := IsClientError(err)
	if !ok || ce.Bad {
		t.Fatalf("expected a non-BAD ClientError, got %v (bad=%v)", err, ce != nil && ce.Bad)
	}
}

func TestCompileFilterHeaderKnownSingleToken(t *testing.T) {
	atoms := compileBody(t, []Criterion{{Kind: CritHeader, HeaderName: "Subject", HeaderValue: "hello"}})
	if len(atoms) != 1 || atoms[0].Kind != AtomHasRawText {
		t.Fatalf("a single-token header filter should compile to one HasRawText leaf, got %v", atoms)
	}
}

func TestCompileFilterHeaderPresenceOnly(t *testing.T) {
	atoms := compileBody(t, []Criterion{{Kind: CritHeader, HeaderName: "Subject", HeaderValue: ""}})
	if len(atoms) != 1 || atoms[0].Kind != AtomHasRawText {
		t.Fatalf("a presence-only header filter should compile to one HasRawText leaf, got %v", atoms)
	}
}

func TestCompileFilterModSeqSetsIncludeHighestModSeq(t *testing.T) {
	cx := testCompileContext()
	cx.ChangesSince = func(modseq uint64) ([]ChangeEntry, error) {
		return []ChangeEntry{{ID: (modseq + 1) << 32 | 2}}, nil
	}
	res, err := CompileFilter(cx, []Criterion{{Kind: CritModSeq, ModSeq: 5}})
	if err != nil {
		t.Fatalf("CompileFilter: %v", err)
	}
	if !res.IncludeHighestModSeq {
		t.Fatal("a MODSEQ criterion must set IncludeHighestModSeq")
	}
}

func TestCompileFilterSequenceSavedWithoutSavedSearchErrors(t *testing.T) {
	cx := testCompileContext()
	cx.SavedSearch = func() ([]ImapID, bool) { return nil, false }
	_, err := CompileFilter(cx, []Criterion{{Kind: CritSequence, Seq: SequenceSet{Saved: true}}})
	if err != ErrNoSavedSearch {
		t.Fatalf("expected ErrNoSavedSearch, got %v", err)
	}
}

func TestCompileFilterEmailIDRejectsUnparsable(t *testing.T) {
	_, err := CompileFilter(testCompileContext(), []Criterion{{Kind: CritEmailID, ID: "!!!"}})
	if err == nil {
		t.Fatal("an unparsable EMAILID should be rejected")
	}
}

func TestTokenizeHeaderUnknownHeader(t *testing.T) {
	if _, ok := TokenizeHeader("X-Mailer", "foo", 40); ok {
		t.Fatal("TokenizeHeader should report ok=false for a header HEADER can never query")
	}
}

func TestTokenizeHeaderPresenceToken(t *testing.T) {
	tokens, ok := TokenizeHeader("Subject", "", 40)
	if !ok || len(tokens) != 1 {
		t.Fatalf("an empty value should still produce the header-number presence token, got %v, %v", tokens, ok)
	}
}

func TestTokenizeHeaderDropsOverlongTokens(t *testing.T) {
	long := "supercalifragilisticexpialidocious-and-then-some-more-padding"
	tokens, ok := TokenizeHeader("Subject", long+" short", 10)
	if !ok {
		t.Fatal("TokenizeHeader should accept a known header")
	}
	for _, tok := range tokens {
		if len(tok) > 10+2 {
			t.Fatalf("token %q exceeds the configured max length budget", tok)
		}
	}
}
