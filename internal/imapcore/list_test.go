package imapcore

import (
	"context"
	"testing"
)

func TestDerivePolicyIMAP4rev2ImpliesSpecialUse(t *testing.T) {
	p := derivePolicy(ListRequest{Version: IMAP4rev2})
	if !p.includeSpecialUse {
		t.Fatal("IMAP4rev2 LIST must include special-use attributes by default")
	}
}

func TestDerivePolicySpecialUseSelectionImpliesFilterAndInclude(t *testing.T) {
	p := derivePolicy(ListRequest{SelectionOptions: []SelectionOption{SelectSpecialUse}})
	if !p.filterSpecialUse || !p.includeSpecialUse {
		t.Fatal("SELECT SPECIAL-USE must both filter to special-use mailboxes and include the attribute")
	}
}

func TestDerivePolicyReturnOptionsSetIncludeFlagsIndependently(t *testing.T) {
	p := derivePolicy(ListRequest{ReturnOptions: []ReturnOption{ReturnChildren, ReturnSubscribed}})
	if !p.includeChildren || !p.includeSubscribed {
		t.Fatal("RETURN (CHILDREN SUBSCRIBED) should set both include flags")
	}
	if p.filterSubscribed {
		t.Fatal("RETURN SUBSCRIBED must not imply filtering to subscribed mailboxes")
	}
}

func TestDerivePolicySubscribedSelectionImpliesFilterAndInclude(t *testing.T) {
	p := derivePolicy(ListRequest{SelectionOptions: []SelectionOption{SelectSubscribed}})
	if !p.filterSubscribed || !p.includeSubscribed {
		t.Fatal("SELECT SUBSCRIBED must both filter and include the \\Subscribed attribute")
	}
}

func TestDerivePolicyLSUBForcesSubscribedOnlyAndDropsChildrenSubscribed(t *testing.T) {
	p := derivePolicy(ListRequest{IsLSUB: true, ReturnOptions: []ReturnOption{ReturnChildren, ReturnSubscribed}})
	if !p.filterSubscribed {
		t.Fatal("LSUB must always filter to subscribed mailboxes")
	}
	if p.includeChildren || p.includeSubscribed {
		t.Fatal("LSUB must not honor CHILDREN/SUBSCRIBED return options (legacy wire format)")
	}
}

// --- fakes for ListEngine.List ---

type fakeNamespaceSource struct {
	ns *MailboxNamespace
}

func (f *fakeNamespaceSource) Refresh(accountID uint32) (*MailboxNamespace, error) {
	return f.ns, nil
}

func namespaceWithRecursiveMatchFixture() *MailboxNamespace {
	return &MailboxNamespace{
		Accounts: []*AccountView{
			{
				AccountID: 1,
				MailboxNames: map[string]MailboxID{
					"INBOX":      1,
					"INBOX/Work": 2,
					"INBOX/Work/2026": 3,
				},
				MailboxStates: map[MailboxID]*MailboxEntry{
					1: {IsSubscribed: false, HasChildren: true},
					2: {IsSubscribed: false, HasChildren: true},
					3: {IsSubscribed: true},
				},
			},
		},
	}
}

func findItem(items []ListItem, name string) *ListItem {
	for i := range items {
		if items[i].Name == name {
			return &items[i]
		}
	}
	return nil
}

func TestListRecursiveMatchWithoutSubscribedIsBadRequest(t *testing.T) {
	e := &ListEngine{Namespaces: &fakeNamespaceSource{ns: namespaceWithRecursiveMatchFixture()}}
	_, _, err := e.List(context.Background(), 1, ListRequest{
		Patterns:         []string{"*"},
		SelectionOptions: []SelectionOption{SelectRecursiveMatch},
	})
	if err == nil {
		t.Fatal("RECURSIVEMATCH without SUBSCRIBED must be rejected")
	}
	ce, ok := IsClientError(err)
	if !ok || !ce.Bad {
		t.Fatalf("expected a tagged-BAD ClientError, got %v", err)
	}
}

// CHILDINFO must be attached to a mailbox that matches only because a
// descendant is subscribed, even though the mailbox itself is not.
func TestListRecursiveMatchAttachesChildInfoIndependentOfDirectSubscription(t *testing.T) {
	e := &ListEngine{Namespaces: &fakeNamespaceSource{ns: namespaceWithRecursiveMatchFixture()}}
	items, _, err := e.List(context.Background(), 1, ListRequest{
		Patterns:         []string{"*"},
		SelectionOptions: []SelectionOption{SelectSubscribed, SelectRecursiveMatch},
	})
	if err != nil {
		t.Fatalf("List: %v", err)
	}

	work := findItem(items, "INBOX/Work")
	if work == nil {
		t.Fatal("INBOX/Work should be listed: it has a subscribed descendant (INBOX/Work/2026)")
	}
	if !work.ChildInfoSubscribed {
		t.Fatal("INBOX/Work should carry CHILDINFO (SUBSCRIBED) even though it isn't itself subscribed")
	}

	inbox := findItem(items, "INBOX")
	if inbox == nil {
		t.Fatal("INBOX should also be listed via its subscribed grandchild")
	}
	if !inbox.ChildInfoSubscribed {
		t.Fatal("INBOX should carry CHILDINFO too: INBOX/Work/2026 is nested under it")
	}

	leaf := findItem(items, "INBOX/Work/2026")
	if leaf == nil {
		t.Fatal("the directly subscribed mailbox itself should still be listed")
	}
}

func TestListLSUBOnlyEmitsNoSelectNoInferiorsAttrs(t *testing.T) {
	ns := &MailboxNamespace{
		Accounts: []*AccountView{
			{
				AccountID:    1,
				MailboxNames: map[string]MailboxID{"INBOX": 1},
				MailboxStates: map[MailboxID]*MailboxEntry{
					1: {IsSubscribed: true, HasChildren: true, SpecialUse: SpecialUseArchive},
				},
			},
		},
	}
	e := &ListEngine{Namespaces: &fakeNamespaceSource{ns: ns}}
	items, _, err := e.List(context.Background(), 1, ListRequest{Patterns: []string{"*"}, IsLSUB: true})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	inbox := findItem(items, "INBOX")
	if inbox == nil {
		t.Fatal("a subscribed INBOX should be listed under LSUB")
	}
	for _, a := range inbox.Attrs {
		if !lsubAttrs[a] {
			t.Fatalf("LSUB must only emit \\NoSelect/\\NoInferiors attributes, got %q among %v", a, inbox.Attrs)
		}
	}
}

func TestFilterLSUBAttrsDropsEverythingElse(t *testing.T) {
	got := filterLSUBAttrs([]string{`\HasChildren`, `\NoSelect`, `\Subscribed`, `\Archive`, `\NoInferiors`})
	want := map[string]bool{`\NoSelect`: true, `\NoInferiors`: true}
	if len(got) != len(want) {
		t.Fatalf("got %v, want exactly %v", got, want)
	}
	for _, a := range got {
		if !want[a] {
			t.Fatalf("unexpected attribute %q survived filtering", a)
		}
	}
}

func TestListSeparatorQueryReturnsBareNoSelect(t *testing.T) {
	e := &ListEngine{Namespaces: &fakeNamespaceSource{ns: &MailboxNamespace{}}}
	items, _, err := e.List(context.Background(), 1, ListRequest{ReferenceName: "", Patterns: []string{""}})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(items) != 1 || items[0].Name != "" || len(items[0].Attrs) != 1 || items[0].Attrs[0] != `\NoSelect` {
		t.Fatalf("LIST \"\" \"\" should return a single bare \\NoSelect hierarchy-delimiter item, got %v", items)
	}
}
