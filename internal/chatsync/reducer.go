package chatsync

import (
	"sort"
	"time"

	"github.com/suPer8Hu/rental-chat/internal/protocol"
)

type EntryKind int

const (
	// EntryMessage is a server-confirmed message.
	EntryMessage EntryKind = iota
	// EntryOptimistic is a local send not yet replaced by history.
	EntryOptimistic
	// EntryTyping is a "participant is typing" placeholder.
	EntryTyping
	// EntryNotice is a local system line, never persisted.
	EntryNotice
)

// Entry is one displayed row. Local rows (optimistic, notices) carry negative ids.
type Entry struct {
	ID         int64
	Kind       EntryKind
	Role       protocol.Role
	Text       string
	Attachment string
	CreatedAt  time.Time
	// AnchorID is, for notices, the newest confirmed message id at the time the
	// notice was added. History replacement keeps the notice right after it.
	AnchorID int64
}

// Action is the closed set of list mutations understood by Reduce.
type Action interface {
	isAction()
}

// ReplaceHistory swaps in the authoritative history. Optimistic rows and typing
// placeholders are dropped; notices are kept at their anchors.
type ReplaceHistory struct {
	Messages []protocol.Message
}

type AppendOptimistic struct {
	ID         int64
	Text       string
	Attachment string
	At         time.Time
}

// DropEntry removes a local row, e.g. an optimistic send that failed.
type DropEntry struct {
	ID int64
}

// AppendIncoming adds a message delivered over the channel and clears the
// sender's typing placeholder. Redelivered ids are ignored.
type AppendIncoming struct {
	Message protocol.Message
}

type ShowTyping struct {
	Role protocol.Role
}

type HideTyping struct {
	Role protocol.Role
}

// AppendNotice adds a local line. Role is RoleSystem for notices and RoleAI
// for a welcome greeting.
type AppendNotice struct {
	ID   int64
	Role protocol.Role
	Text string
	At   time.Time
}

func (ReplaceHistory) isAction()   {}
func (AppendOptimistic) isAction() {}
func (DropEntry) isAction()        {}
func (AppendIncoming) isAction()   {}
func (ShowTyping) isAction()       {}
func (HideTyping) isAction()       {}
func (AppendNotice) isAction()     {}

// Reduce returns the list that results from applying a to list. list is never
// modified. Typing placeholders always stay at the bottom of the list.
func Reduce(list []Entry, a Action) []Entry {
	switch a := a.(type) {
	case ReplaceHistory:
		local := filter(list, func(e Entry) bool { return e.Kind == EntryNotice })
		sort.SliceStable(local, func(i, j int) bool { return local[i].AnchorID < local[j].AnchorID })

		out := make([]Entry, 0, len(a.Messages)+len(local))
		next := 0
		for _, m := range a.Messages {
			for next < len(local) && local[next].AnchorID < m.ID {
				out = append(out, local[next])
				next++
			}
			out = append(out, entryFromMessage(m))
		}
		return append(out, local[next:]...)

	case AppendOptimistic:
		return appendAbovePlaceholders(list, Entry{
			ID:         a.ID,
			Kind:       EntryOptimistic,
			Role:       protocol.RoleUser,
			Text:       a.Text,
			Attachment: a.Attachment,
			CreatedAt:  a.At,
		})

	case DropEntry:
		return filter(list, func(e Entry) bool { return e.ID != a.ID || e.Kind == EntryMessage })

	case AppendIncoming:
		out := filter(list, func(e Entry) bool {
			return !(e.Kind == EntryTyping && e.Role == a.Message.SenderRole)
		})
		if a.Message.ID > 0 {
			for _, e := range out {
				if e.Kind == EntryMessage && e.ID == a.Message.ID {
					return out
				}
			}
		}
		return appendAbovePlaceholders(out, entryFromMessage(a.Message))

	case ShowTyping:
		for _, e := range list {
			if e.Kind == EntryTyping && e.Role == a.Role {
				return clone(list)
			}
		}
		return append(clone(list), Entry{Kind: EntryTyping, Role: a.Role})

	case HideTyping:
		return filter(list, func(e Entry) bool { return !(e.Kind == EntryTyping && e.Role == a.Role) })

	case AppendNotice:
		role := a.Role
		if role == "" {
			role = protocol.RoleSystem
		}
		return appendAbovePlaceholders(list, Entry{
			ID:        a.ID,
			Kind:      EntryNotice,
			Role:      role,
			Text:      a.Text,
			CreatedAt: a.At,
			AnchorID:  lastConfirmedID(list),
		})
	}
	return clone(list)
}

// StripTyping removes every typing placeholder.
func StripTyping(list []Entry) []Entry {
	return filter(list, func(e Entry) bool { return e.Kind != EntryTyping })
}

func lastConfirmedID(list []Entry) int64 {
	var id int64
	for _, e := range list {
		if e.Kind == EntryMessage && e.ID > id {
			id = e.ID
		}
	}
	return id
}

func entryFromMessage(m protocol.Message) Entry {
	return Entry{
		ID:         m.ID,
		Kind:       EntryMessage,
		Role:       m.SenderRole,
		Text:       m.Body,
		Attachment: m.Attachment,
		CreatedAt:  m.CreatedAt,
	}
}

func appendAbovePlaceholders(list []Entry, e Entry) []Entry {
	out := make([]Entry, 0, len(list)+1)
	var typing []Entry
	for _, x := range list {
		if x.Kind == EntryTyping {
			typing = append(typing, x)
			continue
		}
		out = append(out, x)
	}
	out = append(out, e)
	return append(out, typing...)
}

func filter(list []Entry, keep func(Entry) bool) []Entry {
	out := make([]Entry, 0, len(list))
	for _, e := range list {
		if keep(e) {
			out = append(out, e)
		}
	}
	return out
}

func clone(list []Entry) []Entry {
	return append([]Entry(nil), list...)
}
