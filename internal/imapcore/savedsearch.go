package imapcore

import "sync"

// savedSearchState is the tri-state value a SavedSearchSlot holds.
type savedSearchState int

const (
	savedSearchNone savedSearchState = iota
	savedSearchInFlight
	savedSearchResults
)

// SavedSearchSlot is the per-mailbox single-producer/multi-consumer
// rendezvous holding the outcome of the most recent SEARCH RESULT SAVE
// ("$"). Writing transitions are producer-only and guarded by mu;
// readers either observe previously installed results or block on the
// in-flight producer's completion channel.
type SavedSearchSlot struct {
	mu      sync.Mutex
	state   savedSearchState
	results []ImapID
	done    chan struct{} // closed when the in-flight producer finishes
}

// NewSavedSearchSlot returns an empty slot.
func NewSavedSearchSlot() *SavedSearchSlot {
	return &SavedSearchSlot{}
}

// BeginProduce installs SavedSearch::InFlight, returning the previous
// value (for rollback on failure/cancellation) and a commit/rollback
// pair the producer must call exactly once.
func (s *SavedSearchSlot) BeginProduce() (prevResults []ImapID, prevHadResults bool, commit func([]ImapID), rollback func()) {
	s.mu.Lock()
	prevState, prevVals := s.state, s.results
	done := make(chan struct{})
	s.state = savedSearchInFlight
	s.done = done
	s.mu.Unlock()

	hadResults := prevState == savedSearchResults

	commit = func(items []ImapID) {
		s.mu.Lock()
		s.state = savedSearchResults
		s.results = items
		s.mu.Unlock()
		close(done)
	}
	rollback = func() {
		s.mu.Lock()
		if prevState == savedSearchResults {
			s.state = savedSearchResults
			s.results = prevVals
		} else {
			s.state = savedSearchNone
			s.results = nil
		}
		s.mu.Unlock()
		close(done)
	}

	if hadResults {
		return prevVals, true, commit, rollback
	}
	return nil, false, commit, rollback
}

// Get returns the current results, waiting for an in-flight producer to
// finish if one is running. The second return value is false if the
// slot has never been populated.
func (s *SavedSearchSlot) Get() ([]ImapID, bool) {
	s.mu.Lock()
	state, results, done := s.state, s.results, s.done
	s.mu.Unlock()

	switch state {
	case savedSearchResults:
		return results, true
	case savedSearchNone:
		return nil, false
	default: // savedSearchInFlight
		<-done
		s.mu.Lock()
		state, results = s.state, s.results
		s.mu.Unlock()
		return results, state == savedSearchResults
	}
}
