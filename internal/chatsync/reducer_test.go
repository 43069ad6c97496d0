package chatsync

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/suPer8Hu/rental-chat/internal/protocol"
)

func msg(id int64, role protocol.Role, body string) protocol.Message {
	return protocol.Message{ID: id, SessionID: "42", SenderRole: role, Body: body}
}

func TestReduce_ReplaceHistoryDropsOptimisticAndTyping(t *testing.T) {
	var list []Entry
	list = Reduce(list, AppendOptimistic{ID: -1, Text: "Hello"})
	list = Reduce(list, ShowTyping{Role: protocol.RoleAI})

	list = Reduce(list, ReplaceHistory{Messages: []protocol.Message{
		msg(501, protocol.RoleUser, "Hello"),
		msg(502, protocol.RoleAI, "Hi"),
	}})

	require.Len(t, list, 2)
	assert.Equal(t, int64(501), list[0].ID)
	assert.Equal(t, EntryMessage, list[0].Kind)
	assert.Equal(t, protocol.RoleAI, list[1].Role)
}

func TestReduce_ReplaceHistoryKeepsNoticesAtAnchor(t *testing.T) {
	var list []Entry
	list = Reduce(list, AppendNotice{ID: -1, Text: "This chat has ended."})
	list = Reduce(list, AppendNotice{ID: -2, Role: protocol.RoleAI, Text: "Welcome!"})
	list = Reduce(list, AppendIncoming{Message: msg(501, protocol.RoleUser, "Hello")})
	list = Reduce(list, AppendNotice{ID: -3, Text: "agent"})
	list = Reduce(list, AppendOptimistic{ID: -4, Text: "Still there?"})

	list = Reduce(list, ReplaceHistory{Messages: []protocol.Message{
		msg(501, protocol.RoleUser, "Hello"),
		msg(502, protocol.RoleUser, "Still there?"),
		msg(503, protocol.RoleAdmin, "Yes"),
	}})

	var got []string
	for _, e := range list {
		got = append(got, e.Text)
	}
	assert.Equal(t, []string{"This chat has ended.", "Welcome!", "Hello", "agent", "Still there?", "Yes"}, got)
	assert.Equal(t, int64(501), list[3].AnchorID)

	// replacing again is stable
	again := Reduce(list, ReplaceHistory{Messages: []protocol.Message{
		msg(501, protocol.RoleUser, "Hello"),
		msg(502, protocol.RoleUser, "Still there?"),
		msg(503, protocol.RoleAdmin, "Yes"),
	}})
	assert.Equal(t, list, again)
}

func TestReduce_DoesNotModifyInput(t *testing.T) {
	list := Reduce(nil, AppendIncoming{Message: msg(1, protocol.RoleAI, "a")})
	before := clone(list)

	_ = Reduce(list, AppendIncoming{Message: msg(2, protocol.RoleAI, "b")})
	_ = Reduce(list, ShowTyping{Role: protocol.RoleAI})
	_ = Reduce(list, DropEntry{ID: 1})

	assert.Equal(t, before, list)
}

func TestReduce_PlaceholdersStayAtBottom(t *testing.T) {
	var list []Entry
	list = Reduce(list, ShowTyping{Role: protocol.RoleAdmin})
	list = Reduce(list, AppendOptimistic{ID: -1, Text: "q", At: time.Now()})
	list = Reduce(list, AppendNotice{ID: -2, Text: "n"})

	require.Len(t, list, 3)
	assert.Equal(t, EntryOptimistic, list[0].Kind)
	assert.Equal(t, EntryNotice, list[1].Kind)
	assert.Equal(t, EntryTyping, list[2].Kind)
}

func TestReduce_OnePlaceholderPerRole(t *testing.T) {
	var list []Entry
	list = Reduce(list, ShowTyping{Role: protocol.RoleAI})
	list = Reduce(list, ShowTyping{Role: protocol.RoleAI})
	list = Reduce(list, ShowTyping{Role: protocol.RoleAdmin})
	assert.Len(t, list, 2)

	list = Reduce(list, HideTyping{Role: protocol.RoleAI})
	require.Len(t, list, 1)
	assert.Equal(t, protocol.RoleAdmin, list[0].Role)
}

func TestReduce_IncomingClearsSenderPlaceholderOnly(t *testing.T) {
	var list []Entry
	list = Reduce(list, ShowTyping{Role: protocol.RoleAI})
	list = Reduce(list, ShowTyping{Role: protocol.RoleAdmin})

	list = Reduce(list, AppendIncoming{Message: msg(7, protocol.RoleAI, "done")})

	require.Len(t, list, 2)
	assert.Equal(t, EntryMessage, list[0].Kind)
	assert.Equal(t, EntryTyping, list[1].Kind)
	assert.Equal(t, protocol.RoleAdmin, list[1].Role)
}

func TestReduce_IncomingDeduplicatesByID(t *testing.T) {
	list := Reduce(nil, AppendIncoming{Message: msg(7, protocol.RoleAI, "x")})
	list = Reduce(list, AppendIncoming{Message: msg(7, protocol.RoleAI, "x")})
	assert.Len(t, list, 1)
}

func TestReduce_DropEntryOnlyTouchesLocalRows(t *testing.T) {
	list := Reduce(nil, ReplaceHistory{Messages: []protocol.Message{msg(3, protocol.RoleUser, "kept")}})
	list = Reduce(list, AppendOptimistic{ID: -1, Text: "gone"})

	list = Reduce(list, DropEntry{ID: -1})
	list = Reduce(list, DropEntry{ID: 3})

	require.Len(t, list, 1)
	assert.Equal(t, "kept", list[0].Text)
}

func TestReduce_NoticeDefaultsToSystemRole(t *testing.T) {
	list := Reduce(nil, AppendNotice{ID: -1, Text: "ended"})
	require.Len(t, list, 1)
	assert.Equal(t, protocol.RoleSystem, list[0].Role)
}

func TestStripTyping(t *testing.T) {
	list := Reduce(nil, AppendIncoming{Message: msg(1, protocol.RoleAI, "a")})
	list = Reduce(list, ShowTyping{Role: protocol.RoleAI})

	out := StripTyping(list)
	require.Len(t, out, 1)
	assert.Equal(t, EntryMessage, out[0].Kind)
	assert.Len(t, list, 2)
}
