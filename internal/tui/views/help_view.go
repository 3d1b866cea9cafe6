package views

import (
	"fmt"

	"github.com/rivo/tview"

	"github.com/matheus3301/forumdm/internal/tui/ui"
)

// HelpView displays key binding reference.
type HelpView struct {
	*tview.TextView
}

// NewHelpView creates a new help view.
func NewHelpView(theme *ui.Theme) *HelpView {
	tv := tview.NewTextView().
		SetDynamicColors(true).
		SetScrollable(true)
	tv.SetBorder(true)
	tv.SetBorderColor(theme.BorderColor)
	tv.SetTitle(" Help ")
	tv.SetTitleColor(theme.TitleColor)

	kc := ui.Tag(theme.OwnMessageColor)
	_, _ = fmt.Fprintf(tv, `
  [::b]Global[-:-:-]

  [%[1]s]q[-]      Quit                [%[1]s]?[-]      Help
  [%[1]s]Esc[-]    Back                [%[1]s]c[-]      Connect / disconnect

  [::b]Inbox[-:-:-]

  [%[1]s]Enter[-]  Open conversation   [%[1]s]r[-]      Refresh
  [%[1]s]n[-]      Load more threads

  [::b]Conversation[-:-:-]

  [%[1]s]i[-]      Compose             [%[1]s]u[-]      Load older messages
  [%[1]s]x[-]      Recall your last recallable message
`, kc)
	return &HelpView{TextView: tv}
}
