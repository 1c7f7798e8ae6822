package imapcore

import (
	"context"
	"sort"

	"github.com/RoaringBitmap/roaring"
)

// SortKey names an IMAP SORT key (RFC 5256).
type SortKey int

const (
	SortArrival SortKey = iota
	SortDate
	SortSize
	SortSubject
	SortFrom
	SortDisplayFrom
	SortTo
	SortDisplayTo
	SortCc
)

// SortCriterion is one IMAP SORT key, ascending or descending.
type SortCriterion struct {
	Key       SortKey
	Ascending bool
}

func sortComparators(criteria []SortCriterion) []Comparator {
	cmps := make([]Comparator, len(criteria))
	for i, c := range criteria {
		var p Property
		switch c.Key {
		case SortArrival:
			p = PropertyReceivedAt
		case SortDate:
			p = PropertySentAt
		case SortSize:
			p = PropertySize
		case SortSubject:
			p = PropertySubject
		case SortFrom, SortDisplayFrom:
			p = PropertyFrom
		case SortTo, SortDisplayTo:
			p = PropertyTo
		case SortCc:
			p = PropertyCc
		}
		cmps[i] = Comparator{Property: p, Ascending: c.Ascending}
	}
	return cmps
}

// ResultOption names an ESEARCH RETURN option.
type ResultOption int

const (
	ResultMin ResultOption = iota
	ResultMax
	ResultCount
	ResultAll
	ResultSave
)

func hasOption(opts []ResultOption, want ResultOption) bool {
	for _, o := range opts {
		if o == want {
			return true
		}
	}
	return false
}

// SearchRequest is one SEARCH/UID SEARCH/SORT/UID SORT invocation.
type SearchRequest struct {
	AccountID     uint32
	MailboxID     *uint32 // nil selects the "all mail" virtual mailbox
	Criteria      []Criterion
	Sort          []SortCriterion // nil/empty => unsorted
	ResultOptions []ResultOption
	IsUID         bool
}

// SearchResponse is the ESEARCH/SEARCH result, translated to the wire
// format by the caller.
type SearchResponse struct {
	IsUID         bool
	Min           *uint32
	Max           *uint32
	Count         *uint32
	IDs           []uint32
	IsSorted      bool
	HighestModSeq *uint64
}

// SearchExecutor runs compiled filters against an IndexStore and
// produces IMAP-numbered results, applying sort, ESEARCH aggregation,
// and saved-search publication.
type SearchExecutor struct {
	Store IndexStore
}

// Search executes req against mailbox's current state. savedSearch is
// the mailbox's saved-search slot (used both to resolve SEQUENCE $ and
// to publish RESULT SAVE).
func (e *SearchExecutor) Search(ctx context.Context, req SearchRequest, mailbox *MailboxState, savedSearch *SavedSearchSlot, defaultLanguage Language, maxTokenLength int) (SearchResponse, error) {
	universe, err := e.universe(ctx, req.AccountID, req.MailboxID)
	if err != nil {
		return SearchResponse{}, &StoreError{Err: err}
	}

	wantSave := hasOption(req.ResultOptions, ResultSave)
	var prevSaved []ImapID
	var prevHadSaved bool
	var commit func([]ImapID)
	var rollback func()
	if wantSave {
		prevSaved, prevHadSaved, commit, rollback = savedSearch.BeginProduce()
	}

	fail := func(err error) (SearchResponse, error) {
		if wantSave {
			rollback()
		}
		return SearchResponse{}, err
	}

	cx := CompileContext{
		Universe:        universe,
		Mailbox:         mailbox,
		DefaultLanguage: defaultLanguage,
		MaxTokenLength:  maxTokenLength,
		IsUID:           req.IsUID,
		SavedSearch: func() ([]ImapID, bool) {
			// While this search is the slot's producer, "$" refers to
			// the value the slot held before it.
			if wantSave {
				return prevSaved, prevHadSaved
			}
			return savedSearch.Get()
		},
		ChangesSince: func(modseq uint64) ([]ChangeEntry, error) {
			changes, err := e.Store.Changes(ctx, req.AccountID, CollectionEmail, modseq)
			if err != nil {
				return nil, err
			}
			return changes.Changes, nil
		},
	}

	compiled, err := CompileFilter(cx, req.Criteria)
	if err != nil {
		return fail(err)
	}

	resultSet, err := e.Store.Filter(ctx, req.AccountID, CollectionEmail, compiled.Atoms)
	if err != nil {
		return fail(&StoreError{Err: err})
	}

	findMin := hasOption(req.ResultOptions, ResultMin)
	findMax := hasOption(req.ResultOptions, ResultMax)
	findMinOrMax := findMin || findMax

	var ids []uint32
	isSorted := len(req.Sort) > 0
	if isSorted {
		ids, err = e.Store.Sort(ctx, resultSet, sortComparators(req.Sort), Pagination{Limit: int(resultSet.Results.GetCardinality())})
		if err != nil {
			return fail(&StoreError{Err: err})
		}
	} else {
		ids = resultSet.Results.ToArray()
	}

	var min, max *mappedID
	var total uint32
	var outputIDs []uint32
	var savedResults []ImapID
	if wantSave {
		savedResults = make([]ImapID, 0, len(ids))
	}

	for _, docID := range ids {
		num, imapID, ok := mailbox.MapResultID(docID, req.IsUID)
		if !ok {
			continue
		}
		total++
		if findMinOrMax {
			if findMin && (min == nil || num < min.num) {
				min = &mappedID{num: num, imapID: imapID}
			}
			if findMax && (max == nil || num > max.num) {
				max = &mappedID{num: num, imapID: imapID}
			}
			continue
		}
		outputIDs = append(outputIDs, num)
		if wantSave {
			savedResults = append(savedResults, imapID)
		}
	}

	if findMinOrMax {
		if min != nil {
			outputIDs = append(outputIDs, min.num)
			if wantSave {
				savedResults = append(savedResults, min.imapID)
			}
		}
		if max != nil {
			outputIDs = append(outputIDs, max.num)
			if wantSave {
				savedResults = append(savedResults, max.imapID)
			}
		}
	}

	if !isSorted {
		sort.Slice(outputIDs, func(i, j int) bool { return outputIDs[i] < outputIDs[j] })
	}

	var highestModSeq *uint64
	if compiled.IncludeHighestModSeq {
		modseq, err := e.Store.CurrentModSeq(ctx, req.AccountID, CollectionEmail)
		if err != nil {
			return fail(&StoreError{Err: err})
		}
		highestModSeq = &modseq
	}

	if wantSave {
		commit(savedResults)
	}

	resp := SearchResponse{
		IsUID:         req.IsUID,
		IsSorted:      isSorted,
		HighestModSeq: highestModSeq,
	}
	if min != nil {
		m := min.num
		resp.Min = &m
	}
	if max != nil {
		m := max.num
		resp.Max = &m
	}
	if hasOption(req.ResultOptions, ResultCount) {
		c := total
		resp.Count = &c
	}
	if len(req.ResultOptions) == 0 || hasOption(req.ResultOptions, ResultAll) {
		resp.IDs = outputIDs
	}
	return resp, nil
}

type mappedID struct {
	num    uint32
	imapID ImapID
}

// universe resolves the document-id universe a search is constrained
// to: a real mailbox's MailboxIds tag bitmap, or every document in the
// Email collection for the virtual "all mail" mailbox.
func (e *SearchExecutor) universe(ctx context.Context, accountID uint32, mailboxID *uint32) (*roaring.Bitmap, error) {
	if mailboxID != nil {
		bm, err := e.Store.GetTag(ctx, accountID, CollectionEmail, PropertyMailboxIds, *mailboxID)
		if err != nil {
			return nil, err
		}
		if bm == nil {
			return roaring.New(), nil
		}
		return bm, nil
	}
	bm, err := e.Store.GetDocumentIDs(ctx, accountID, CollectionEmail)
	if err != nil {
		return nil, err
	}
	if bm == nil {
		return roaring.New(), nil
	}
	return bm, nil
}
