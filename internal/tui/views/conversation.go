package views

import (
	"fmt"
	"strings"

	"github.com/rivo/tview"

	"github.com/matheus3301/forumdm/internal/rpc"
	"github.com/matheus3301/forumdm/internal/tui/ui"
)

// RecalledText replaces the body of recalled messages.
const RecalledText = "message recalled"

// Conversation displays the segmented messages of one peer.
type Conversation struct {
	*tview.TextView
	theme *ui.Theme
}

// NewConversation creates a new conversation pane.
func NewConversation(theme *ui.Theme) *Conversation {
	tv := tview.NewTextView().
		SetDynamicColors(true).
		SetScrollable(true).
		SetWordWrap(true)
	tv.SetBorder(true).SetTitle(" Messages ")
	tv.SetBorderColor(theme.BorderColor)
	tv.SetTitleColor(theme.TitleColor)
	return &Conversation{TextView: tv, theme: theme}
}

// Update renders conv under the given peer name.
func (c *Conversation) Update(name string, conv *rpc.ConversationResponse) {
	c.Clear()
	title := fmt.Sprintf(" %s ", name)
	if conv != nil && conv.HasMore {
		title = fmt.Sprintf(" %s (u: older) ", name)
	}
	c.SetTitle(title)
	_, _ = fmt.Fprint(c, Render(conv, name, c.theme))
	c.ScrollToEnd()
}

// Render formats a conversation as tview markup.
func Render(conv *rpc.ConversationResponse, peerName string, theme *ui.Theme) string {
	if conv == nil {
		return ""
	}
	var b strings.Builder
	if conv.Error != "" {
		fmt.Fprintf(&b, "[%s]could not load: %s[-]\n\n", ui.Tag(theme.FlashErrColor), tview.Escape(conv.Error))
	}
	if len(conv.Items) == 0 && conv.State == "ready" {
		b.WriteString("[::d]No messages yet.[-:-:-]\n")
	}
	for _, it := range conv.Items {
		if it.Separator {
			fmt.Fprintf(&b, "[%s]── %s ──[-]\n", ui.Tag(theme.SeparatorColor), it.Label)
			continue
		}
		m := it.Message
		sender := peerName
		color := ui.Tag(theme.FgColor)
		if it.Outgoing {
			sender = "You"
			color = ui.Tag(theme.OwnMessageColor)
		}
		if m.Recalled() {
			fmt.Fprintf(&b, "[%s::b]%s[-:-:-] [%s::i]%s[-:-:-]\n", color, sender, ui.Tag(theme.RecalledColor), RecalledText)
			continue
		}
		mark := ""
		if it.Recallable {
			mark = " [::d](x)[-:-:-]"
		}
		fmt.Fprintf(&b, "[%s::b]%s[-:-:-]%s %s\n", color, sender, mark, tview.Escape(sanitizeForTerminal(m.Body)))
	}
	return b.String()
}
