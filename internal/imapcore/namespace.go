package imapcore

// SpecialUse identifies an RFC 6154 special-use mailbox role.
type SpecialUse string

const (
	SpecialUseAll       SpecialUse = `\All`
	SpecialUseArchive   SpecialUse = `\Archive`
	SpecialUseDrafts    SpecialUse = `\Drafts`
	SpecialUseJunk      SpecialUse = `\Junk`
	SpecialUseSent      SpecialUse = `\Sent`
	SpecialUseTrash     SpecialUse = `\Trash`
	SpecialUseFlagged   SpecialUse = `\Flagged`
	SpecialUseImportant SpecialUse = `\Important`
)

// MailboxID identifies a mailbox within an account's namespace.
type MailboxID uint32

// MailboxEntry is the per-mailbox metadata carried in a namespace
// snapshot: subscription state, special-use, and whether any other
// mailbox name is nested under it.
type MailboxEntry struct {
	IsSubscribed bool
	HasChildren  bool
	SpecialUse   SpecialUse // empty if none
}

// AccountView is one account's slice of the namespace: an optional
// prefix for shared/virtual accounts (e.g. "Shared Folders/alice"), and
// the name -> id / id -> entry maps for its mailboxes.
type AccountView struct {
	AccountID     uint32
	Prefix        string // empty for the user's own personal account
	MailboxNames  map[string]MailboxID
	MailboxStates map[MailboxID]*MailboxEntry
}

// HasChildrenOf reports whether any mailbox name in this account begins
// with name + "/" — used both for the HasChildren attribute and for
// RECURSIVEMATCH's subscribed-descendant test.
func (a *AccountView) HasChildrenOf(name string) bool {
	prefix := name + "/"
	for other := range a.MailboxNames {
		if len(other) > len(prefix) && other[:len(prefix)] == prefix {
			return true
		}
	}
	return false
}

// HasSubscribedDescendant reports whether any mailbox nested under name
// is subscribed. Used for RFC 5258 RECURSIVEMATCH/CHILDINFO.
func (a *AccountView) HasSubscribedDescendant(name string) bool {
	prefix := name + "/"
	for other, id := range a.MailboxNames {
		if len(other) <= len(prefix) || other[:len(prefix)] != prefix {
			continue
		}
		if entry := a.MailboxStates[id]; entry != nil && entry.IsSubscribed {
			return true
		}
	}
	return false
}

// MailboxNamespace is a session-scoped, refreshable snapshot of a user's
// mailbox namespace: an ordered sequence of account views. The "All
// Mail" virtual mailbox and per-account shared-folder prefixes are not
// stored here — they are synthesized by the LIST engine at enumeration
// time.
type MailboxNamespace struct {
	Accounts []*AccountView
}

// NamespaceSource refreshes a MailboxNamespace on demand (SELECT or
// first LIST). It is the collaborator imapcore consumes; the concrete
// implementation talks to directory lookups and the index store.
type NamespaceSource interface {
	Refresh(accountID uint32) (*MailboxNamespace, error)
}
