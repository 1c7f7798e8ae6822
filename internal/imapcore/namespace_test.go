package imapcore

import "testing"

func newTestAccount() *AccountView {
	return &AccountView{
		AccountID: 1,
		MailboxNames: map[string]MailboxID{
			"INBOX":            1,
			"INBOX/Work":       2,
			"INBOX/Work/2026":  3,
			"Archive":          4,
		},
		MailboxStates: map[MailboxID]*MailboxEntry{
			1: {IsSubscribed: true},
			2: {IsSubscribed: false},
			3: {IsSubscribed: true},
			4: {IsSubscribed: false},
		},
	}
}

func TestHasChildrenOf(t *testing.T) {
	a := newTestAccount()
	if !a.HasChildrenOf("INBOX") {
		t.Error("INBOX has INBOX/Work nested under it")
	}
	if !a.HasChildrenOf("INBOX/Work") {
		t.Error("INBOX/Work has INBOX/Work/2026 nested under it")
	}
	if a.HasChildrenOf("Archive") {
		t.Error("Archive has no children")
	}
	if a.HasChildrenOf("INBOX/Wor") {
		t.Error("a name prefix match without the '/' separator must not count as a child")
	}
}

func TestHasSubscribedDescendant(t *testing.T) {
	a := newTestAccount()
	if !a.HasSubscribedDescendant("INBOX") {
		t.Error("INBOX/Work/2026 is subscribed, so INBOX has a subscribed descendant")
	}
	if !a.HasSubscribedDescendant("INBOX/Work") {
		t.Error("INBOX/Work/2026 is subscribed, so INBOX/Work has a subscribed descendant")
	}
	if a.HasSubscribedDescendant("Archive") {
		t.Error("Archive has no descendants at all")
	}
}
