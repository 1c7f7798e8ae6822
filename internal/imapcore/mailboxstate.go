package imapcore

import "sort"

// ImapID is a (uid, seqnum) pair: the two numbering schemes IMAP exposes
// for the same document within a selected mailbox.
type ImapID struct {
	UID    uint32
	SeqNum uint32
}

// MailboxKey identifies the mailbox (or virtual "all mail") a session has
// selected. MailboxID is nil for the all-mail virtual mailbox.
type MailboxKey struct {
	AccountID uint32
	MailboxID *uint32
}

// MailboxState is the UID/seqnum bookkeeping for one selected mailbox at
// a point in time: uid_to_id and id_to_imap are mutual inverses, and
// seqnums are dense 1..=N in UID order at snapshot time.
type MailboxState struct {
	UIDToID   map[uint32]uint32
	IDToImap  map[uint32]ImapID
	NextState *MailboxState // post-expunge successor, for UID recall
}

// NewMailboxState builds a MailboxState from an ordered (ascending UID)
// list of document ids paired with their UIDs.
func NewMailboxState(uids []uint32, docIDs []uint32) *MailboxState {
	st := &MailboxState{
		UIDToID:  make(map[uint32]uint32, len(uids)),
		IDToImap: make(map[uint32]ImapID, len(uids)),
	}
	for i, uid := range uids {
		id := docIDs[i]
		seq := uint32(i + 1)
		st.UIDToID[uid] = id
		st.IDToImap[id] = ImapID{UID: uid, SeqNum: seq}
	}
	return st
}

// MapResultID maps a document id to the IMAP number (uid or seqnum) to
// report, falling back to the post-expunge successor state for UID
// lookups against messages that were expunged after selection. Returns
// ok=false if the document can't be mapped at all.
func (st *MailboxState) MapResultID(documentID uint32, isUID bool) (num uint32, imapID ImapID, ok bool) {
	if id, found := st.IDToImap[documentID]; found {
		if isUID {
			return id.UID, id, true
		}
		return id.SeqNum, id, true
	}
	if isUID && st.NextState != nil {
		if id, found := st.NextState.IDToImap[documentID]; found {
			return id.UID, id, true
		}
	}
	return 0, ImapID{}, false
}

// SequenceSet is a parsed IMAP sequence-set: a list of ranges, each
// optionally open-ended (0 standing for "*", the largest applicable
// number).
type SequenceSet struct {
	Ranges []SequenceRange
	Saved  bool // true for "$" (the saved search)
}

// SequenceRange is an inclusive [Start, End] range; End == 0 means "*".
type SequenceRange struct {
	Start uint32
	End   uint32
}

// SequenceToIDs resolves a literal sequence set (not "$") against the
// mailbox state, returning the matching document ids. uidMode selects
// whether Start/End are interpreted as UIDs or sequence numbers.
func (st *MailboxState) SequenceToIDs(seq SequenceSet, uidMode bool) map[uint32]struct{} {
	result := make(map[uint32]struct{})
	if uidMode {
		for _, r := range seq.Ranges {
			start, end := r.Start, r.End
			if end == 0 {
				end = maxUID(st)
			}
			if start > end {
				start, end = end, start
			}
			for uid := start; uid <= end && uid != 0; uid++ {
				if id, ok := st.UIDToID[uid]; ok {
					result[id] = struct{}{}
				}
				if uid == ^uint32(0) {
					break
				}
			}
		}
		return result
	}

	seqs := st.orderedSeqNums()
	for _, r := range seq.Ranges {
		start, end := r.Start, r.End
		if end == 0 {
			end = uint32(len(seqs))
		}
		if start > end {
			start, end = end, start
		}
		for s := start; s <= end && s != 0; s++ {
			if id, ok := seqs[s]; ok {
				result[id] = struct{}{}
			}
		}
	}
	return result
}

func maxUID(st *MailboxState) uint32 {
	var max uint32
	for uid := range st.UIDToID {
		if uid > max {
			max = uid
		}
	}
	return max
}

func (st *MailboxState) orderedSeqNums() map[uint32]uint32 {
	m := make(map[uint32]uint32, len(st.IDToImap))
	for id, imapID := range st.IDToImap {
		m[imapID.SeqNum] = id
	}
	return m
}

// SortedUIDs returns the mailbox's UIDs in ascending order.
func (st *MailboxState) SortedUIDs() []uint32 {
	uids := make([]uint32, 0, len(st.UIDToID))
	for uid := range st.UIDToID {
		uids = append(uids, uid)
	}
	sort.Slice(uids, func(i, j int) bool { return uids[i] < uids[j] })
	return uids
}
