package views

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"

	"github.com/matheus3301/forumdm/internal/chat"
	"github.com/matheus3301/forumdm/internal/rpc"
	"github.com/matheus3301/forumdm/internal/tui/ui"
)

// Inbox is the thread list (K9s-inspired table).
type Inbox struct {
	*tview.Table
	theme   *ui.Theme
	threads []rpc.ThreadRow
}

// NewInbox creates a new thread table.
func NewInbox(theme *ui.Theme) *Inbox {
	table := tview.NewTable().
		SetSelectable(true, false).
		SetBorders(false).
		SetFixed(1, 0)
	table.SetBorder(true).SetTitle(" Inbox ")
	table.SetBorderColor(theme.BorderColor)
	table.SetTitleColor(theme.TitleColor)
	table.SetSelectedStyle(tcell.StyleDefault.Foreground(theme.TableCursorFg).Background(theme.TableCursorBg))
	return &Inbox{Table: table, theme: theme}
}

// Update refreshes the table, keeping the selection on the same peer.
func (in *Inbox) Update(resp *rpc.ThreadsResponse) {
	selected := in.SelectedPeer()
	in.threads = nil
	if resp != nil {
		in.threads = resp.Threads
	}
	in.Clear()

	header := func(col int, text string) {
		in.SetCell(0, col, tview.NewTableCell(text).SetSelectable(false).SetTextColor(in.theme.TableHeaderFg))
	}
	header(0, " ")
	header(1, " Peer")
	header(2, " Unread")
	header(3, " Last Message")
	header(4, " Time")

	now := time.Now()
	for i, t := range in.threads {
		row := i + 1
		badge := presenceBadge(t.Presence)
		in.SetCell(row, 0, tview.NewTableCell(badge).SetTextColor(in.theme.OnlineColor))
		in.SetCell(row, 1, tview.NewTableCell(" "+displayName(t)).SetMaxWidth(24).SetExpansion(1))
		unread := tview.NewTableCell(" " + unreadLabel(t.UnreadCount))
		if t.UnreadCount > 0 {
			unread.SetTextColor(in.theme.UnreadColor)
		}
		in.SetCell(row, 2, unread)
		in.SetCell(row, 3, tview.NewTableCell(" "+preview(t.LastMessage)).SetMaxWidth(48).SetExpansion(2))
		in.SetCell(row, 4, tview.NewTableCell(" "+formatTimestamp(t.LastMessageAtMs, now)).SetMaxWidth(12))
		if t.PeerID == selected {
			in.Select(row, 0)
		}
	}
	if selected == 0 && len(in.threads) > 0 {
		in.Select(1, 0)
	}
	more := ""
	if resp != nil && resp.HasMore {
		more = " +"
	}
	in.SetTitle(fmt.Sprintf(" Inbox (%d%s) ", len(in.threads), more))
}

// SelectedPeer returns the peer of the selected row, or 0.
func (in *Inbox) SelectedPeer() int64 {
	row, _ := in.GetSelection()
	idx := row - 1 // account for header
	if idx >= 0 && idx < len(in.threads) {
		return in.threads[idx].PeerID
	}
	return 0
}

// NameOf returns the display name of peer if it is listed.
func (in *Inbox) NameOf(peer int64) string {
	for _, t := range in.threads {
		if t.PeerID == peer {
			return displayName(t)
		}
	}
	return strconv.FormatInt(peer, 10)
}

func displayName(t rpc.ThreadRow) string {
	if t.Profile != nil && t.Profile.Username != "" {
		return t.Profile.Username
	}
	return "#" + strconv.FormatInt(t.PeerID, 10)
}

// presenceBadge is blank until presence is known.
func presenceBadge(p *chat.PresenceState) string {
	switch {
	case p == nil:
		return " "
	case p.Status == chat.Online:
		return "●"
	default:
		return "○"
	}
}

// preview is the one-line inbox text for the newest message of a thread.
func preview(m chat.Message) string {
	if m.Recalled() {
		return "(" + RecalledText + ")"
	}
	return tview.Escape(strings.Join(strings.Fields(sanitizeForTerminal(m.Body)), " "))
}

func unreadLabel(n int) string {
	if n == 0 {
		return ""
	}
	if n > 99 {
		return "99+"
	}
	return strconv.Itoa(n)
}

func formatTimestamp(ms int64, now time.Time) string {
	if ms == 0 {
		return ""
	}
	t := time.UnixMilli(ms)
	if t.Year() == now.Year() && t.YearDay() == now.YearDay() {
		return t.Format("15:04")
	}
	return t.Format("01/02")
}
