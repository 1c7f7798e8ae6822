package imap

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapserver"
	"github.com/fenilsonani/email-server/internal/auth"
	"github.com/fenilsonani/email-server/internal/imapcore"
	"github.com/fenilsonani/email-server/internal/metrics"
	"github.com/fenilsonani/email-server/internal/storage"
	"github.com/fenilsonani/email-server/internal/storage/bitmapindex"
)

// Session implements imapserver.Session for go-imap v2
type Session struct {
	server   *Server
	conn     *imapserver.Conn
	user     *auth.User
	selected *storage.Mailbox
	tracker  *imapserver.SessionTracker
	updates  chan any
	mu       sync.RWMutex
	closed   bool
}

// NewSession creates a new IMAP session
func NewSession(server *Server, conn *imapserver.Conn) *Session {
	return &Session{
		server:  server,
		conn:    conn,
		updates: make(chan any, 100),
	}
}

// Close cleans up the session
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	// Prevent double close
	if s.closed {
		return nil
	}
	s.closed = true

	if s.tracker != nil {
		s.tracker.Close()
		s.tracker = nil
	}

	// Close channel safely
	if s.updates != nil {
		close(s.updates)
		s.updates = nil
	}

	return nil
}

// Login authenticates the user
func (s *Session) Login(username, password string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	log.Printf("IMAP v2: Login attempt for %s", username)

	user, err := s.server.authenticator.Authenticate(ctx, username, password)
	if err != nil {
		log.Printf("IMAP v2: Login failed for %s: %v", username, err)
		return imapserver.ErrAuthFailed
	}

	s.mu.Lock()
	s.user = user
	s.mu.Unlock()

	log.Printf("IMAP v2: Login successful for %s", username)
	return nil
}

// Select opens a mailbox
func (s *Session) Select(name string, options *imap.SelectOptions) (*imap.SelectData, error) {
	s.mu.RLock()
	user := s.user
	s.mu.RUnlock()

	if user == nil {
		return nil, fmt.Errorf("not authenticated")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	mb, err := s.server.store.GetMailbox(ctx, user.ID, name)
	if err != nil {
		return nil, &imap.Error{
			Type: imap.StatusResponseTypeNo,
			Code: imap.ResponseCodeNonExistent,
			Text: "Mailbox not found",
		}
	}

	stats, err := s.server.store.GetMailboxStats(ctx, mb.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to get mailbox stats: %w", err)
	}

	s.mu.Lock()
	s.selected = mb
	// Create tracker for this mailbox
	if s.tracker != nil {
		s.tracker.Close()
	}
	s.tracker = s.server.GetMailboxTracker(mb.ID).NewSession()
	s.mu.Unlock()

	return &imap.SelectData{
		Flags:          []imap.Flag{imap.FlagSeen, imap.FlagAnswered, imap.FlagFlagged, imap.FlagDeleted, imap.FlagDraft},
		PermanentFlags: []imap.Flag{imap.FlagSeen, imap.FlagAnswered, imap.FlagFlagged, imap.FlagDeleted, imap.FlagDraft, imap.FlagWildcard},
		NumMessages:    uint32(stats.Messages),
		UIDValidity:    stats.UIDValidity,
		UIDNext:        imap.UID(stats.UIDNext),
	}, nil
}

// Unselect closes the current mailbox
func (s *Session) Unselect() error {
	s.mu.Lock()
	s.selected = nil
	if s.tracker != nil {
		s.tracker.Close()
		s.tracker = nil
	}
	s.mu.Unlock()
	return nil
}

// Create creates a new mailbox
func (s *Session) Create(name string, options *imap.CreateOptions) error {
	s.mu.RLock()
	user := s.user
	s.mu.RUnlock()

	if user == nil {
		return fmt.Errorf("not authenticated")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_, err := s.server.store.CreateMailbox(ctx, user.ID, name, "")
	return err
}

// Delete removes a mailbox
func (s *Session) Delete(name string) error {
	s.mu.RLock()
	user := s.user
	s.mu.RUnlock()

	if user == nil {
		return fmt.Errorf("not authenticated")
	}

	if name == "INBOX" {
		return &imap.Error{
			Type: imap.StatusResponseTypeNo,
			Text: "Cannot delete INBOX",
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	return s.server.store.DeleteMailbox(ctx, user.ID, name)
}

// Rename renames a mailbox
func (s *Session) Rename(oldName, newName string, options *imap.RenameOptions) error {
	s.mu.RLock()
	user := s.user
	s.mu.RUnlock()

	if user == nil {
		return fmt.Errorf("not authenticated")
	}

	if oldName == "INBOX" {
		return &imap.Error{
			Type: imap.StatusResponseTypeNo,
			Text: "Cannot rename INBOX",
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	return s.server.store.RenameMailbox(ctx, user.ID, oldName, newName)
}

// Subscribe subscribes to a mailbox
func (s *Session) Subscribe(name string) error {
	s.mu.RLock()
	user := s.user
	s.mu.RUnlock()

	if user == nil {
		return fmt.Errorf("not authenticated")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	return s.server.store.SubscribeMailbox(ctx, user.ID, name, true)
}

// Unsubscribe unsubscribes from a mailbox
func (s *Session) Unsubscribe(name string) error {
	s.mu.RLock()
	user := s.user
	s.mu.RUnlock()

	if user == nil {
		return fmt.Errorf("not authenticated")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	return s.server.store.SubscribeMailbox(ctx, user.ID, name, false)
}

// List lists mailboxes, delegating pattern resolution and RFC 5258
// selection/return option handling to the imapcore LIST engine.
func (s *Session) List(w *imapserver.ListWriter, ref string, patterns []string, options *imap.ListOptions) error {
	s.mu.RLock()
	user := s.user
	s.mu.RUnlock()

	if user == nil {
		return fmt.Errorf("not authenticated")
	}

	req := imapcore.ListRequest{
		ReferenceName: ref,
		Patterns:      patterns,
		Version:       imapcore.IMAP4rev1,
	}
	if options != nil {
		if options.SelectSubscribed {
			req.SelectionOptions = append(req.SelectionOptions, imapcore.SelectSubscribed)
		}
		if options.SelectRemote {
			req.SelectionOptions = append(req.SelectionOptions, imapcore.SelectRemote)
		}
		if options.SelectSpecialUse {
			req.SelectionOptions = append(req.SelectionOptions, imapcore.SelectSpecialUse)
		}
		if options.SelectRecursiveMatch {
			req.SelectionOptions = append(req.SelectionOptions, imapcore.SelectRecursiveMatch)
		}
		if options.ReturnSubscribed {
			req.ReturnOptions = append(req.ReturnOptions, imapcore.ReturnSubscribed)
		}
		if options.ReturnChildren {
			req.ReturnOptions = append(req.ReturnOptions, imapcore.ReturnChildren)
		}
		if options.ReturnSpecialUse {
			req.ReturnOptions = append(req.ReturnOptions, imapcore.ReturnSpecialUse)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	start := time.Now()
	items, _, err := s.server.listEngine.List(ctx, uint32(user.ID), req)
	metrics.IMAPListDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		if ce, ok := imapcore.IsClientError(err); ok {
			typ := imap.StatusResponseTypeNo
			if ce.Bad {
				typ = imap.StatusResponseTypeBad
			}
			return &imap.Error{Type: typ, Text: ce.Text}
		}
		return fmt.Errorf("failed to list mailboxes: %w", err)
	}

	for _, item := range items {
		attrs := make([]imap.MailboxAttr, len(item.Attrs))
		for i, a := range item.Attrs {
			attrs[i] = imap.MailboxAttr(a)
		}
		data := &imap.ListData{
			Mailbox: item.Name,
			Delim:   '/',
			Attrs:   attrs,
		}
		if item.ChildInfoSubscribed {
			data.ChildInfo = &imap.ListDataChildInfo{Subscribed: true}
		}
		w.WriteList(data)
	}

	return nil
}

// Status returns mailbox status
func (s *Session) Status(name string, options *imap.StatusOptions) (*imap.StatusData, error) {
	s.mu.RLock()
	user := s.user
	s.mu.RUnlock()

	if user == nil {
		return nil, fmt.Errorf("not authenticated")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	mb, err := s.server.store.GetMailbox(ctx, user.ID, name)
	if err != nil {
		return nil, &imap.Error{
			Type: imap.StatusResponseTypeNo,
			Code: imap.ResponseCodeNonExistent,
			Text: "Mailbox not found",
		}
	}

	stats, err := s.server.store.GetMailboxStats(ctx, mb.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to get mailbox stats: %w", err)
	}

	numMessages := uint32(stats.Messages)
	numUnseen := uint32(stats.Unseen)

	return &imap.StatusData{
		Mailbox:     name,
		NumMessages: &numMessages,
		NumUnseen:   &numUnseen,
		UIDNext:     imap.UID(stats.UIDNext),
		UIDValidity: stats.UIDValidity,
	}, nil
}

// Append adds a message to a mailbox
func (s *Session) Append(mailbox string, r imap.LiteralReader, options *imap.AppendOptions) (*imap.AppendData, error) {
	s.mu.RLock()
	user := s.user
	s.mu.RUnlock()

	if user == nil {
		return nil, fmt.Errorf("not authenticated")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	mb, err := s.server.store.GetMailbox(ctx, user.ID, mailbox)
	if err != nil {
		return nil, &imap.Error{
			Type: imap.StatusResponseTypeNo,
			Code: imap.ResponseCodeTryCreate,
			Text: "Mailbox not found",
		}
	}

	// Convert flags
	var flags []storage.Flag
	if options != nil && len(options.Flags) > 0 {
		flags = make([]storage.Flag, len(options.Flags))
		for i, f := range options.Flags {
			flags[i] = storage.Flag(f)
		}
	}

	date := time.Now()
	if options != nil && !options.Time.IsZero() {
		date = options.Time
	}

	msg, err := s.server.store.AppendMessage(ctx, mb.ID, flags, date, r)
	if err != nil {
		return nil, fmt.Errorf("failed to append message: %w", err)
	}

	if s.server.indexStore != nil {
		s.indexAppendedMessage(ctx, uint32(user.ID), uint32(mb.ID), msg)
	}

	// Notify other sessions about new message
	s.server.NotifyMailboxUpdate(mb.ID)

	return &imap.AppendData{
		UID:         imap.UID(msg.UID),
		UIDValidity: mb.UIDValidity,
	}, nil
}

// indexAppendedMessage feeds a just-appended message into the bitmap
// index, best-effort: a failure here only means the message is
// temporarily invisible to SEARCH/SORT (it's still in the mailbox),
// so it's logged rather than returned as an APPEND error.
func (s *Session) indexAppendedMessage(ctx context.Context, accountID, mailboxID uint32, msg *storage.Message) {
	writer, ok := s.server.indexStore.(*bitmapindex.Store)
	if !ok {
		return
	}

	headers := map[string]string{
		"subject": msg.Subject,
		"from":    msg.From,
		"to":      strings.Join(msg.To, " "),
	}
	if msg.MessageID != "" {
		headers["message-id"] = msg.MessageID
	}
	if msg.InReplyTo != "" {
		headers["in-reply-to"] = msg.InReplyTo
	}
	if msg.References != "" {
		headers["references"] = msg.References
	}

	keywords := make([]string, len(msg.Flags))
	for i, f := range msg.Flags {
		keywords[i] = string(f)
	}

	doc := bitmapindex.IndexDocument{
		Subject:        msg.Subject,
		From:           msg.From,
		To:             strings.Join(msg.To, " "),
		Headers:        headers,
		ReceivedAt:     msg.InternalDate.Unix(),
		SentAt:         msg.InternalDate.Unix(),
		Keywords:       keywords,
		MaxTokenLength: s.server.maxHeaderToken,
	}
	if err := writer.IndexNewMessage(ctx, accountID, mailboxID, uint32(msg.ID), doc); err != nil {
		log.Printf("IMAP: Failed to index appended message UID %d: %v", msg.UID, err)
	}
}

// syncMessageKeywords mirrors a STORE flag change into the bitmap index
// so SEARCH/SORT observe the new \Seen/\Answered/... state and a
// changelog entry is recorded for CONDSTORE.
func (s *Session) syncMessageKeywords(ctx context.Context, accountID uint32, messageID int64, flags []storage.Flag) {
	writer, ok := s.server.indexStore.(*bitmapindex.Store)
	if !ok {
		return
	}
	keywords := make([]string, len(flags))
	for i, f := range flags {
		keywords[i] = string(f)
	}
	if err := writer.SetKeywords(ctx, accountID, uint32(messageID), keywords); err != nil {
		log.Printf("IMAP: Failed to sync index keywords for message %d: %v", messageID, err)
	}
}

// Poll checks for updates (called periodically)
func (s *Session) Poll(w *imapserver.UpdateWriter, allowExpunge bool) error {
	s.mu.RLock()
	tracker := s.tracker
	s.mu.RUnlock()

	if tracker != nil {
		return tracker.Poll(w, allowExpunge)
	}
	return nil
}

// Idle handles IDLE command - the key to instant notifications!
func (s *Session) Idle(w *imapserver.UpdateWriter, stop <-chan struct{}) error {
	s.mu.RLock()
	tracker := s.tracker
	user := s.user
	s.mu.RUnlock()

	if tracker == nil {
		<-stop
		return nil
	}

	// Safely log user email with nil check
	userEmail := "unknown"
	if user != nil {
		userEmail = user.Email
	}

	log.Printf("IMAP v2: IDLE started for %s", userEmail)
	defer log.Printf("IMAP v2: IDLE ended for %s", userEmail)

	return tracker.Idle(w, stop)
}

// Fetch retrieves messages
func (s *Session) Fetch(w *imapserver.FetchWriter, numSet imap.NumSet, options *imap.FetchOptions) error {
	s.mu.RLock()
	selected := s.selected
	s.mu.RUnlock()

	if selected == nil {
		return fmt.Errorf("no mailbox selected")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	// Get all messages to build seq->uid mapping
	messages, err := s.server.store.ListMessages(ctx, selected.ID, 0, 0)
	if err != nil {
		return fmt.Errorf("failed to list messages: %w", err)
	}

	// Build mappings
	seqToMsg := make(map[uint32]*storage.Message)
	uidToSeq := make(map[uint32]uint32)
	for i, msg := range messages {
		seqNum := uint32(i + 1)
		seqToMsg[seqNum] = msg
		uidToSeq[msg.UID] = seqNum
	}

	// Determine which messages to fetch based on set type
	var toFetch []uint32
	switch set := numSet.(type) {
	case imap.UIDSet:
		// UID set
		for uid := range uidToSeq {
			if set.Contains(imap.UID(uid)) {
				toFetch = append(toFetch, uidToSeq[uid])
			}
		}
	case imap.SeqSet:
		// Sequence set
		for seqNum := range seqToMsg {
			if set.Contains(seqNum) {
				toFetch = append(toFetch, seqNum)
			}
		}
	}

	// Fetch each message
	for _, seqNum := range toFetch {
		msg := seqToMsg[seqNum]
		if msg == nil {
			continue
		}

		respWriter := w.CreateMessage(seqNum)

		// Always include UID
		respWriter.WriteUID(imap.UID(msg.UID))

		// Write flags
		if options.Flags {
			flags := make([]imap.Flag, len(msg.Flags))
			for i, f := range msg.Flags {
				flags[i] = imap.Flag(f)
			}
			respWriter.WriteFlags(flags)
		}

		// Write internal date
		if options.InternalDate {
			respWriter.WriteInternalDate(msg.InternalDate)
		}

		// Write size
		if options.RFC822Size {
			respWriter.WriteRFC822Size(msg.Size)
		}

		// Write envelope
		if options.Envelope {
			body, err := s.server.store.GetMessageBody(ctx, msg)
			if err == nil {
				data, readErr := io.ReadAll(body)
				body.Close() // Close immediately, not deferred in loop
				if readErr == nil {
					envelope := extractEnvelope(data)
					respWriter.WriteEnvelope(envelope)
				} else {
					log.Printf("IMAP: Failed to read message body for envelope: %v", readErr)
				}
			} else {
				log.Printf("IMAP: Failed to get message body for envelope: %v", err)
			}
		}

		// Write body sections
		for _, bs := range options.BodySection {
			body, err := s.server.store.GetMessageBody(ctx, msg)
			if err != nil {
				log.Printf("IMAP: Failed to get message body for section: %v", err)
				continue
			}

			data, readErr := io.ReadAll(body)
			body.Close() // Close immediately after reading

			if readErr != nil {
				log.Printf("IMAP: Failed to read message body for section: %v", readErr)
				continue
			}

			sectionData := extractBodySection(data, bs)
			bsw := respWriter.WriteBodySection(bs, int64(len(sectionData)))
			if _, err := bsw.Write(sectionData); err != nil {
				log.Printf("IMAP: Failed to write body section: %v", err)
			}
			bsw.Close()
		}

		respWriter.Close()
	}

	return nil
}

// Store updates message flags
func (s *Session) Store(w *imapserver.FetchWriter, numSet imap.NumSet, flags *imap.StoreFlags, options *imap.StoreOptions) error {
	s.mu.RLock()
	selected := s.selected
	user := s.user
	s.mu.RUnlock()

	if selected == nil {
		return fmt.Errorf("no mailbox selected")
	}

	if flags == nil {
		return fmt.Errorf("flags cannot be nil")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	// Get all messages for mapping
	messages, err := s.server.store.ListMessages(ctx, selected.ID, 0, 0)
	if err != nil {
		return fmt.Errorf("failed to list messages: %w", err)
	}

	uidToSeq := make(map[uint32]uint32)
	seqToMsg := make(map[uint32]*storage.Message)
	for i, msg := range messages {
		seqNum := uint32(i + 1)
		seqToMsg[seqNum] = msg
		uidToSeq[msg.UID] = seqNum
	}

	// Determine which messages to update based on set type
	var toUpdate []uint32
	switch set := numSet.(type) {
	case imap.UIDSet:
		for uid := range uidToSeq {
			if set.Contains(imap.UID(uid)) {
				toUpdate = append(toUpdate, uidToSeq[uid])
			}
		}
	case imap.SeqSet:
		for seqNum := range seqToMsg {
			if set.Contains(seqNum) {
				toUpdate = append(toUpdate, seqNum)
			}
		}
	}

	// Update each message
	for _, seqNum := range toUpdate {
		msg := seqToMsg[seqNum]
		if msg == nil {
			continue
		}

		storageFlags := make([]storage.Flag, len(flags.Flags))
		for i, f := range flags.Flags {
			storageFlags[i] = storage.Flag(f)
		}

		switch flags.Op {
		case imap.StoreFlagsAdd:
			err = s.server.store.UpdateFlags(ctx, selected.ID, msg.UID, storageFlags, true)
		case imap.StoreFlagsDel:
			err = s.server.store.UpdateFlags(ctx, selected.ID, msg.UID, storageFlags, false)
		case imap.StoreFlagsSet:
			err = s.server.store.SetFlags(ctx, selected.ID, msg.UID, storageFlags)
		}

		if err != nil {
			log.Printf("IMAP: Failed to update flags for message UID %d: %v", msg.UID, err)
			continue
		}

		updatedMsg, getErr := s.server.store.GetMessage(ctx, selected.ID, msg.UID)
		if getErr != nil {
			log.Printf("IMAP: Failed to get updated message UID %d: %v", msg.UID, getErr)
		} else if updatedMsg != nil && s.server.indexStore != nil && user != nil {
			s.syncMessageKeywords(ctx, uint32(user.ID), updatedMsg.ID, updatedMsg.Flags)
		}

		// Send updated flags unless silent
		if !flags.Silent && updatedMsg != nil {
			respWriter := w.CreateMessage(seqNum)
			newFlags := make([]imap.Flag, len(updatedMsg.Flags))
			for i, f := range updatedMsg.Flags {
				newFlags[i] = imap.Flag(f)
			}
			respWriter.WriteFlags(newFlags)
			respWriter.Close()
		}
	}

	return nil
}

// Expunge removes deleted messages
func (s *Session) Expunge(w *imapserver.ExpungeWriter, uids *imap.UIDSet) error {
	s.mu.RLock()
	selected := s.selected
	s.mu.RUnlock()

	if selected == nil {
		return fmt.Errorf("no mailbox selected")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	expunged, err := s.server.store.ExpungeMailbox(ctx, selected.ID)
	if err != nil {
		return fmt.Errorf("failed to expunge mailbox: %w", err)
	}

	// Get current message list for seq mapping
	messages, err := s.server.store.ListMessages(ctx, selected.ID, 0, 0)
	if err != nil {
		log.Printf("IMAP: Failed to list messages after expunge: %v", err)
		// Still report expunged messages even if we can't get seq numbers
		for _, uid := range expunged {
			w.WriteExpunge(uid)
		}
		return nil
	}

	uidToSeq := make(map[uint32]uint32)
	for i, msg := range messages {
		uidToSeq[msg.UID] = uint32(i + 1)
	}

	for _, uid := range expunged {
		if seqNum, ok := uidToSeq[uid]; ok {
			w.WriteExpunge(seqNum)
		}
	}

	return nil
}

// Copy copies messages to another mailbox
func (s *Session) Copy(numSet imap.NumSet, dest string) (*imap.CopyData, error) {
	s.mu.RLock()
	selected := s.selected
	user := s.user
	s.mu.RUnlock()

	if selected == nil {
		return nil, fmt.Errorf("no mailbox selected")
	}

	if user == nil {
		return nil, fmt.Errorf("not authenticated")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	// Get destination mailbox
	destMb, err := s.server.store.GetMailbox(ctx, user.ID, dest)
	if err != nil {
		return nil, &imap.Error{
			Type: imap.StatusResponseTypeNo,
			Code: imap.ResponseCodeTryCreate,
			Text: "Destination mailbox not found",
		}
	}

	// Get messages
	messages, err := s.server.store.ListMessages(ctx, selected.ID, 0, 0)
	if err != nil {
		return nil, fmt.Errorf("failed to list messages: %w", err)
	}

	var srcUIDs, destUIDs []imap.UID

	for i, msg := range messages {
		seqNum := uint32(i + 1)
		var shouldCopy bool
		switch set := numSet.(type) {
		case imap.UIDSet:
			shouldCopy = set.Contains(imap.UID(msg.UID))
		case imap.SeqSet:
			shouldCopy = set.Contains(seqNum)
		}

		if shouldCopy {
			newMsg, err := s.server.store.CopyMessage(ctx, selected.ID, msg.UID, destMb.ID)
			if err == nil {
				srcUIDs = append(srcUIDs, imap.UID(msg.UID))
				destUIDs = append(destUIDs, imap.UID(newMsg.UID))
			} else {
				log.Printf("IMAP: Failed to copy message UID %d: %v", msg.UID, err)
			}
		}
	}

	// Notify destination mailbox
	s.server.NotifyMailboxUpdate(destMb.ID)

	return &imap.CopyData{
		UIDValidity: destMb.UIDValidity,
		SourceUIDs:  imap.UIDSetNum(srcUIDs...),
		DestUIDs:    imap.UIDSetNum(destUIDs...),
	}, nil
}

// Search searches for messages, compiling the IMAP criteria tree and
// running it through the imapcore SEARCH/SORT executor when an index
// store is wired; falls back to the legacy linear scan otherwise.
func (s *Session) Search(kind imapserver.NumKind, criteria *imap.SearchCriteria, options *imap.SearchOptions) (*imap.SearchData, error) {
	s.mu.RLock()
	selected := s.selected
	user := s.user
	s.mu.RUnlock()

	if selected == nil {
		return nil, fmt.Errorf("no mailbox selected")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if s.server.searchCore == nil {
		return s.legacySearch(ctx, kind, selected, criteria)
	}

	messages, err := s.server.store.ListMessages(ctx, selected.ID, 0, 0)
	if err != nil {
		return nil, fmt.Errorf("failed to list messages: %w", err)
	}
	mailboxState := buildMailboxState(messages)

	mailboxID := uint32(selected.ID)
	req := imapcore.SearchRequest{
		AccountID: uint32(user.ID),
		MailboxID: &mailboxID,
		Criteria:  compileIMAPCriteria(criteria, mailboxState, kind == imapserver.NumKindUID),
		IsUID:     kind == imapserver.NumKindUID,
	}
	if options != nil {
		if options.ReturnMin {
			req.ResultOptions = append(req.ResultOptions, imapcore.ResultMin)
		}
		if options.ReturnMax {
			req.ResultOptions = append(req.ResultOptions, imapcore.ResultMax)
		}
		if options.ReturnAll {
			req.ResultOptions = append(req.ResultOptions, imapcore.ResultAll)
		}
		if options.ReturnCount {
			req.ResultOptions = append(req.ResultOptions, imapcore.ResultCount)
		}
		if options.ReturnSave {
			req.ResultOptions = append(req.ResultOptions, imapcore.ResultSave)
		}
	}

	savedSearch := s.server.GetSavedSearch(selected.ID)
	start := time.Now()
	resp, err := s.server.searchCore.Search(ctx, req, mailboxState, savedSearch, s.server.defaultLanguage, s.server.maxHeaderToken)
	metrics.IMAPSearchDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		if ce, ok := imapcore.IsClientError(err); ok {
			for _, opt := range req.ResultOptions {
				if opt == imapcore.ResultSave {
					metrics.IMAPSavedSearchRollbacks.Inc()
					break
				}
			}
			typ := imap.StatusResponseTypeNo
			if ce.Bad {
				typ = imap.StatusResponseTypeBad
			}
			return nil, &imap.Error{Type: typ, Text: ce.Text}
		}
		return nil, fmt.Errorf("search failed: %w", err)
	}
	metrics.IMAPSearchResults.Observe(float64(len(resp.IDs)))

	data := &imap.SearchData{UID: kind == imapserver.NumKindUID}
	if kind == imapserver.NumKindUID {
		uids := make([]imap.UID, len(resp.IDs))
		for i, n := range resp.IDs {
			uids[i] = imap.UID(n)
		}
		data.All = imap.UIDSetNum(uids...)
	} else {
		data.All = imap.SeqSetNum(resp.IDs...)
	}
	if resp.Min != nil {
		data.Min = *resp.Min
	}
	if resp.Max != nil {
		data.Max = *resp.Max
	}
	if resp.Count != nil {
		data.Count = *resp.Count
	}
	if resp.HighestModSeq != nil {
		data.ModSeq = *resp.HighestModSeq
	}
	return data, nil
}

// legacySearch is the pre-imapcore linear scan, kept as a fallback when
// no index store is configured.
func (s *Session) legacySearch(ctx context.Context, kind imapserver.NumKind, selected *storage.Mailbox, criteria *imap.SearchCriteria) (*imap.SearchData, error) {
	storageCriteria := &storage.SearchCriteria{}
	if criteria != nil {
		if !criteria.Since.IsZero() {
			storageCriteria.Since = &criteria.Since
		}
		if !criteria.Before.IsZero() {
			storageCriteria.Before = &criteria.Before
		}
		for _, f := range criteria.Flag {
			storageCriteria.Flags = append(storageCriteria.Flags, storage.Flag(f))
		}
		for _, f := range criteria.NotFlag {
			storageCriteria.NotFlags = append(storageCriteria.NotFlags, storage.Flag(f))
		}
	}

	uids, err := s.server.store.SearchMessages(ctx, selected.ID, storageCriteria)
	if err != nil {
		return nil, fmt.Errorf("failed to search messages: %w", err)
	}

	if kind == imapserver.NumKindUID {
		imapUIDs := make([]imap.UID, len(uids))
		for i, uid := range uids {
			imapUIDs[i] = imap.UID(uid)
		}
		return &imap.SearchData{
			All: imap.UIDSetNum(imapUIDs...),
		}, nil
	}

	messages, err := s.server.store.ListMessages(ctx, selected.ID, 0, 0)
	if err != nil {
		return nil, fmt.Errorf("failed to list messages for seq conversion: %w", err)
	}

	uidToSeq := make(map[uint32]uint32)
	for i, msg := range messages {
		uidToSeq[msg.UID] = uint32(i + 1)
	}

	var seqNums []uint32
	for _, uid := range uids {
		if seq, ok := uidToSeq[uid]; ok {
			seqNums = append(seqNums, seq)
		}
	}

	return &imap.SearchData{
		All: imap.SeqSetNum(seqNums...),
	}, nil
}

// compileIMAPCriteria flattens the go-imap SearchCriteria tree into
// imapcore's postfix criterion list, recursing into Not/Or subtrees as
// nested AND/OR/END groups.
func compileIMAPCriteria(sc *imap.SearchCriteria, mailbox *imapcore.MailboxState, isUID bool) []imapcore.Criterion {
	if sc == nil {
		return nil
	}
	var out []imapcore.Criterion

	for _, f := range sc.Flag {
		out = append(out, flagCriterion(f, false))
	}
	for _, f := range sc.NotFlag {
		out = append(out, flagCriterion(f, true))
	}
	if !sc.Since.IsZero() {
		out = append(out, imapcore.Criterion{Kind: imapcore.CritSince, Date: sc.Since.Unix()})
	}
	if !sc.Before.IsZero() {
		out = append(out, imapcore.Criterion{Kind: imapcore.CritBefore, Date: sc.Before.Unix()})
	}
	if !sc.SentSince.IsZero() {
		out = append(out, imapcore.Criterion{Kind: imapcore.CritSentSince, Date: sc.SentSince.Unix()})
	}
	if !sc.SentBefore.IsZero() {
		out = append(out, imapcore.Criterion{Kind: imapcore.CritSentBefore, Date: sc.SentBefore.Unix()})
	}
	if sc.Larger > 0 {
		out = append(out, imapcore.Criterion{Kind: imapcore.CritLarger, Size: uint64(sc.Larger)})
	}
	if sc.Smaller > 0 {
		out = append(out, imapcore.Criterion{Kind: imapcore.CritSmaller, Size: uint64(sc.Smaller)})
	}
	for _, h := range sc.Header {
		out = append(out, imapcore.Criterion{Kind: imapcore.CritHeader, HeaderName: h.Key, HeaderValue: h.Value})
	}
	for _, b := range sc.Body {
		out = append(out, imapcore.Criterion{Kind: imapcore.CritBody, Text: b})
	}
	for _, t := range sc.Text {
		out = append(out, imapcore.Criterion{Kind: imapcore.CritText, Text: t})
	}
	for _, set := range sc.SeqNum {
		out = append(out, imapcore.Criterion{Kind: imapcore.CritSequence, Seq: numSetToSequenceSet(set, false, mailbox), UIDFilter: isUID})
	}
	for _, set := range sc.UID {
		out = append(out, imapcore.Criterion{Kind: imapcore.CritSequence, Seq: numSetToSequenceSet(set, true, mailbox), UIDFilter: true})
	}

	for _, sub := range sc.Not {
		sub := sub
		out = append(out, imapcore.Criterion{Kind: imapcore.CritNot}, imapcore.Criterion{Kind: imapcore.CritAnd})
		out = append(out, compileIMAPCriteria(&sub, mailbox, isUID)...)
		out = append(out, imapcore.Criterion{Kind: imapcore.CritEnd}, imapcore.Criterion{Kind: imapcore.CritEnd})
	}
	for _, pair := range sc.Or {
		left, right := pair[0], pair[1]
		out = append(out, imapcore.Criterion{Kind: imapcore.CritOr})
		out = append(out, imapcore.Criterion{Kind: imapcore.CritAnd})
		out = append(out, compileIMAPCriteria(&left, mailbox, isUID)...)
		out = append(out, imapcore.Criterion{Kind: imapcore.CritEnd})
		out = append(out, imapcore.Criterion{Kind: imapcore.CritAnd})
		out = append(out, compileIMAPCriteria(&right, mailbox, isUID)...)
		out = append(out, imapcore.Criterion{Kind: imapcore.CritEnd})
		out = append(out, imapcore.Criterion{Kind: imapcore.CritEnd})
	}

	return out
}

func flagCriterion(f imap.Flag, negate bool) imapcore.Criterion {
	kind := map[imap.Flag][2]imapcore.CriterionKind{
		imap.FlagAnswered: {imapcore.CritAnswered, imapcore.CritUnanswered},
		imap.FlagSeen:     {imapcore.CritSeen, imapcore.CritUnseen},
		imap.FlagDeleted:  {imapcore.CritDeleted, imapcore.CritUndeleted},
		imap.FlagDraft:    {imapcore.CritDraft, imapcore.CritUndraft},
		imap.FlagFlagged:  {imapcore.CritFlagged, imapcore.CritUnflagged},
	}
	if pair, ok := kind[f]; ok {
		if negate {
			return imapcore.Criterion{Kind: pair[1]}
		}
		return imapcore.Criterion{Kind: pair[0]}
	}
	if negate {
		return imapcore.Criterion{Kind: imapcore.CritUnkeyword, Keyword: string(f)}
	}
	return imapcore.Criterion{Kind: imapcore.CritKeyword, Keyword: string(f)}
}

// numSetToSequenceSet rebuilds an imapcore.SequenceSet from a wire
// NumSet by testing membership against the mailbox's known UIDs/seqnums
// via Contains, rather than assuming internal range layout.
func numSetToSequenceSet(set imap.NumSet, isUID bool, mailbox *imapcore.MailboxState) imapcore.SequenceSet {
	var ranges []imapcore.SequenceRange
	if isUID {
		uidSet, _ := set.(imap.UIDSet)
		for _, uid := range mailbox.SortedUIDs() {
			if uidSet.Contains(imap.UID(uid)) {
				ranges = append(ranges, imapcore.SequenceRange{Start: uid, End: uid})
			}
		}
	} else {
		seqSet, _ := set.(imap.SeqSet)
		for seq := uint32(1); seq <= uint32(len(mailbox.IDToImap)); seq++ {
			if seqSet.Contains(seq) {
				ranges = append(ranges, imapcore.SequenceRange{Start: seq, End: seq})
			}
		}
	}
	return imapcore.SequenceSet{Ranges: ranges}
}

// Helper functions

func extractEnvelope(data []byte) *imap.Envelope {
	// Simple envelope extraction - in production use proper MIME parsing
	env := &imap.Envelope{}

	lines := strings.Split(string(data), "\n")
	for _, line := range lines {
		if strings.HasPrefix(strings.ToLower(line), "subject:") {
			env.Subject = strings.TrimSpace(line[8:])
		} else if strings.HasPrefix(strings.ToLower(line), "date:") {
			dateStr := strings.TrimSpace(line[5:])
			if t, err := time.Parse(time.RFC1123Z, dateStr); err == nil {
				env.Date = t
			}
		} else if strings.HasPrefix(strings.ToLower(line), "from:") {
			env.From = parseAddresses(strings.TrimSpace(line[5:]))
		} else if strings.HasPrefix(strings.ToLower(line), "to:") {
			env.To = parseAddresses(strings.TrimSpace(line[3:]))
		} else if strings.HasPrefix(strings.ToLower(line), "message-id:") {
			env.MessageID = strings.TrimSpace(line[11:])
		} else if line == "" || line == "\r" {
			break // End of headers
		}
	}

	return env
}

func parseAddresses(s string) []imap.Address {
	// Simple address parsing
	parts := strings.Split(s, ",")
	var addrs []imap.Address
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}

		addr := imap.Address{}
		if idx := strings.Index(part, "<"); idx >= 0 {
			addr.Name = strings.TrimSpace(part[:idx])
			end := strings.Index(part, ">")
			if end > idx {
				email := part[idx+1 : end]
				if at := strings.Index(email, "@"); at >= 0 {
					addr.Mailbox = email[:at]
					addr.Host = email[at+1:]
				}
			}
		} else if at := strings.Index(part, "@"); at >= 0 {
			addr.Mailbox = part[:at]
			addr.Host = part[at+1:]
		}
		addrs = append(addrs, addr)
	}
	return addrs
}

func extractBodySection(data []byte, section *imap.FetchItemBodySection) []byte {
	// For now, return full message for BODY[] requests
	if section.Part == nil || len(section.Part) == 0 {
		if section.Specifier == imap.PartSpecifierHeader {
			// Return just headers
			if idx := bytes.Index(data, []byte("\r\n\r\n")); idx >= 0 {
				return data[:idx+2]
			}
			if idx := bytes.Index(data, []byte("\n\n")); idx >= 0 {
				return data[:idx+1]
			}
		} else if section.Specifier == imap.PartSpecifierText {
			// Return just body
			if idx := bytes.Index(data, []byte("\r\n\r\n")); idx >= 0 {
				return data[idx+4:]
			}
			if idx := bytes.Index(data, []byte("\n\n")); idx >= 0 {
				return data[idx+2:]
			}
		}
		return data
	}
	return data
}
