package imapcore

import "context"

// SelectionOption is one LIST selection option (the left-hand set in
// RFC 5258's `LIST (sel-opts) ref pattern (ret-opts)`).
type SelectionOption int

const (
	SelectSubscribed SelectionOption = iota
	SelectRemote
	SelectSpecialUse
	SelectRecursiveMatch
)

// ReturnOption is one LIST return option. Status carries its requested
// item names out of band via ListRequest.StatusItems.
type ReturnOption int

const (
	ReturnSubscribed ReturnOption = iota
	ReturnChildren
	ReturnStatus
	ReturnSpecialUse
)

// ProtocolVersion distinguishes IMAP4rev1 from IMAP4rev2 LIST/LSUB
// semantics (rev2 implies SpecialUse attributes by default).
type ProtocolVersion int

const (
	IMAP4rev1 ProtocolVersion = iota
	IMAP4rev2
)

func hasSelection(opts []SelectionOption, want SelectionOption) bool {
	for _, o := range opts {
		if o == want {
			return true
		}
	}
	return false
}

func hasReturn(opts []ReturnOption, want ReturnOption) bool {
	for _, o := range opts {
		if o == want {
			return true
		}
	}
	return false
}

// ListRequest is one LIST/LSUB invocation.
type ListRequest struct {
	ReferenceName    string
	Patterns         []string
	SelectionOptions []SelectionOption
	ReturnOptions    []ReturnOption
	StatusItems      []string // non-nil iff ReturnStatus is set
	Version          ProtocolVersion
	IsLSUB           bool
}

// ListItem is one emitted `* LIST`/`* LSUB` line, pre-serialization.
type ListItem struct {
	Name                string
	Attrs               []string
	ChildInfoSubscribed bool // RFC 5258 CHILDINFO ("SUBSCRIBED") tag
}

// lsubAttrs is the LSUB attribute subset (legacy RFC 3501 clients only
// understand \Noselect/\Noinferiors/\Marked/\Unmarked).
var lsubAttrs = map[string]bool{
	`\NoSelect`:    true,
	`\NoInferiors`: true,
}

// StatusResult is a STATUS fetch attached to a LIST response when
// RETURN (STATUS ...) was requested.
type StatusResult struct {
	MailboxName string
	Items       map[string]uint32
}

// StatusFetcher is the collaborator LIST uses to attach STATUS results;
// a failure on one item is a StatusItemError (logged, then omitted —
// LIST as a whole still completes OK).
type StatusFetcher interface {
	Status(ctx context.Context, accountID uint32, mailboxName string, items []string) (StatusResult, error)
}

// Logger is the minimal logging capability ListEngine/SearchExecutor
// need; *slog.Logger (and internal/logging.Logger, which embeds it)
// satisfies this.
type Logger interface {
	DebugContext(ctx context.Context, msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) DebugContext(context.Context, string, ...any) {}

// ListEngine enumerates a namespace for LIST/LSUB: refresh -> iterate
// accounts -> pattern-match -> attribute synthesis -> optional STATUS.
type ListEngine struct {
	Namespaces       NamespaceSource
	AllMailEnabled   bool
	AllMailName      string
	SharedFolderName string
	StatusFetcher    StatusFetcher // nil if STATUS attachment isn't supported
	Logger           Logger
}

func (e *ListEngine) logger() Logger {
	if e.Logger != nil {
		return e.Logger
	}
	return noopLogger{}
}

// policy is the derived boolean flags §4.2 computes from the raw
// selection/return options.
type policy struct {
	filterSubscribed  bool
	filterSpecialUse  bool
	recursiveMatch    bool
	includeChildren   bool
	includeSubscribed bool
	includeSpecialUse bool
}

func derivePolicy(req ListRequest) policy {
	p := policy{
		filterSubscribed: hasSelection(req.SelectionOptions, SelectSubscribed),
		filterSpecialUse: hasSelection(req.SelectionOptions, SelectSpecialUse),
		recursiveMatch:   hasSelection(req.SelectionOptions, SelectRecursiveMatch),
	}
	p.includeSpecialUse = p.filterSpecialUse || hasReturn(req.ReturnOptions, ReturnSpecialUse) || req.Version == IMAP4rev2
	p.includeChildren = hasReturn(req.ReturnOptions, ReturnChildren)
	p.includeSubscribed = p.filterSubscribed || hasReturn(req.ReturnOptions, ReturnSubscribed)

	if req.IsLSUB {
		p.filterSubscribed = true
		p.includeSubscribed = false
		p.includeChildren = false
	}
	return p
}

// isSeparatorQuery reports whether req is equivalent to `LIST "" ""`:
// the degenerate request for just the hierarchy separator.
func isSeparatorQuery(req ListRequest) bool {
	return req.ReferenceName == "" && len(req.Patterns) == 1 && req.Patterns[0] == ""
}

// List runs the LIST/LSUB algorithm described in spec.md §4.2.
func (e *ListEngine) List(ctx context.Context, accountID uint32, req ListRequest) ([]ListItem, []StatusResult, error) {
	if isSeparatorQuery(req) {
		return []ListItem{{Name: "", Attrs: []string{`\NoSelect`}}}, nil, nil
	}

	p := derivePolicy(req)
	if p.recursiveMatch && !p.filterSubscribed {
		return nil, nil, badf("RECURSIVEMATCH cannot be the only selection option.")
	}

	patterns := req.Patterns
	if req.ReferenceName != "" {
		prefixed := make([]string, len(patterns))
		for i, pat := range patterns {
			prefixed[i] = req.ReferenceName + pat
		}
		patterns = prefixed
	}

	ns, err := e.Namespaces.Refresh(accountID)
	if err != nil {
		return nil, nil, &SnapshotError{Err: err}
	}

	items := make([]ListItem, 0, 16)

	if e.AllMailEnabled && !p.filterSubscribed && MatchPatterns(patterns, e.AllMailName) {
		items = append(items, ListItem{Name: e.AllMailName, Attrs: []string{`\All`, `\NoInferiors`}})
	}

	addedSharedFolder := false
	for _, account := range ns.Accounts {
		if account.Prefix != "" {
			if !addedSharedFolder {
				if !p.filterSubscribed && MatchPatterns(patterns, e.SharedFolderName) {
					items = append(items, ListItem{Name: e.SharedFolderName, Attrs: prefixAttrs(p.includeChildren)})
				}
				addedSharedFolder = true
			}
			if !p.filterSubscribed && MatchPatterns(patterns, account.Prefix) {
				items = append(items, ListItem{Name: account.Prefix, Attrs: prefixAttrs(p.includeChildren)})
			}
		}

		for name, id := range account.MailboxNames {
			if !MatchPatterns(patterns, name) {
				continue
			}
			entry := account.MailboxStates[id]
			if entry == nil {
				continue
			}

			hasRecursiveMatch := p.recursiveMatch && account.HasSubscribedDescendant(name)
			if p.filterSubscribed && !entry.IsSubscribed && !hasRecursiveMatch {
				continue
			}

			attrs := make([]string, 0, 3)
			if p.includeChildren {
				if entry.HasChildren {
					attrs = append(attrs, `\HasChildren`)
				} else {
					attrs = append(attrs, `\HasNoChildren`)
				}
			}
			if p.includeSubscribed && entry.IsSubscribed {
				attrs = append(attrs, `\Subscribed`)
			}
			if p.includeSpecialUse {
				if entry.SpecialUse != "" {
					attrs = append(attrs, string(entry.SpecialUse))
				} else if p.filterSpecialUse {
					continue
				}
			}

			if req.IsLSUB {
				attrs = filterLSUBAttrs(attrs)
			}

			items = append(items, ListItem{
				Name:                name,
				Attrs:               attrs,
				ChildInfoSubscribed: hasRecursiveMatch,
			})
		}
	}

	var statusResults []StatusResult
	if len(req.StatusItems) > 0 && e.StatusFetcher != nil {
		for _, item := range items {
			res, err := e.StatusFetcher.Status(ctx, accountID, item.Name, req.StatusItems)
			if err != nil {
				e.logger().DebugContext(ctx, "list: status fetch failed", "mailbox", item.Name, "error", err)
				continue
			}
			statusResults = append(statusResults, res)
		}
	}

	return items, statusResults, nil
}

func prefixAttrs(includeChildren bool) []string {
	if includeChildren {
		return []string{`\HasChildren`, `\NoSelect`}
	}
	return []string{`\NoSelect`}
}

func filterLSUBAttrs(attrs []string) []string {
	out := attrs[:0]
	for _, a := range attrs {
		if lsubAttrs[a] {
			out = append(out, a)
		}
	}
	return out
}
