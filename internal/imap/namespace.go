package imap

import (
	"context"
	"strings"
	"time"

	"github.com/fenilsonani/email-server/internal/imapcore"
	"github.com/fenilsonani/email-server/internal/storage"
	"github.com/fenilsonani/email-server/internal/storage/maildir"
)

// namespaceSource adapts maildir.Store's flat mailbox listing into an
// imapcore.MailboxNamespace, computing HasChildren/special-use from the
// same name list the legacy List handler used.
type namespaceSource struct {
	store *maildir.Store
}

func newNamespaceSource(store *maildir.Store) *namespaceSource {
	return &namespaceSource{store: store}
}

func (n *namespaceSource) Refresh(accountID uint32) (*imapcore.MailboxNamespace, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	mailboxes, err := n.store.ListMailboxes(ctx, int64(accountID))
	if err != nil {
		return nil, err
	}

	account := &imapcore.AccountView{
		AccountID:     accountID,
		MailboxNames:  make(map[string]imapcore.MailboxID, len(mailboxes)),
		MailboxStates: make(map[imapcore.MailboxID]*imapcore.MailboxEntry, len(mailboxes)),
	}
	for _, mb := range mailboxes {
		id := imapcore.MailboxID(mb.ID)
		account.MailboxNames[mb.Name] = id
		account.MailboxStates[id] = &imapcore.MailboxEntry{
			IsSubscribed: mb.Subscribed,
			SpecialUse:   imapcore.SpecialUse(mb.SpecialUse),
		}
	}
	for name, id := range account.MailboxNames {
		account.MailboxStates[id].HasChildren = account.HasChildrenOf(name)
	}

	return &imapcore.MailboxNamespace{Accounts: []*imapcore.AccountView{account}}, nil
}

// statusFetcher adapts maildir.Store's GetMailboxStats to
// imapcore.StatusFetcher; mailboxName is resolved back to an internal
// id via GetMailbox since the index store speaks in the IMAP name
// space, not storage ids.
type statusFetcher struct {
	store     *maildir.Store
	accountID int64
}

func (f *statusFetcher) Status(ctx context.Context, accountID uint32, mailboxName string, items []string) (imapcore.StatusResult, error) {
	mb, err := f.store.GetMailbox(ctx, int64(accountID), mailboxName)
	if err != nil {
		return imapcore.StatusResult{}, err
	}
	stats, err := f.store.GetMailboxStats(ctx, mb.ID)
	if err != nil {
		return imapcore.StatusResult{}, err
	}

	values := make(map[string]uint32, len(items))
	for _, item := range items {
		switch strings.ToUpper(item) {
		case "MESSAGES":
			values[item] = uint32(stats.Messages)
		case "RECENT":
			values[item] = uint32(stats.Recent)
		case "UNSEEN":
			values[item] = uint32(stats.Unseen)
		case "UIDNEXT":
			values[item] = stats.UIDNext
		case "UIDVALIDITY":
			values[item] = stats.UIDValidity
		}
	}
	return imapcore.StatusResult{MailboxName: mailboxName, Items: values}, nil
}

// buildMailboxState snapshots a selected mailbox's UID ordering into an
// imapcore.MailboxState, the bridge between maildir.Store's
// []*storage.Message listing and imapcore's document-id space: a
// message's storage id doubles as its search document id.
func buildMailboxState(messages []*storage.Message) *imapcore.MailboxState {
	uids := make([]uint32, len(messages))
	docIDs := make([]uint32, len(messages))
	for i, msg := range messages {
		uids[i] = msg.UID
		docIDs[i] = uint32(msg.ID)
	}
	return imapcore.NewMailboxState(uids, docIDs)
}
