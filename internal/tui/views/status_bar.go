package views

import (
	"fmt"
	"strings"
	"time"

	"github.com/rivo/tview"

	"github.com/matheus3301/forumdm/internal/tui/model"
	"github.com/matheus3301/forumdm/internal/tui/ui"
)

// StatusBar displays the profile, connection state and flash messages.
type StatusBar struct {
	*tview.TextView
	theme   *ui.Theme
	profile string
	state   string
	flash   string
	level   model.FlashLevel
	hints   []string
}

// NewStatusBar creates a new status bar.
func NewStatusBar(theme *ui.Theme) *StatusBar {
	tv := tview.NewTextView().
		SetDynamicColors(true)
	tv.SetBackgroundColor(tview.Styles.MoreContrastBackgroundColor)

	return &StatusBar{TextView: tv, theme: theme}
}

// SetProfile updates the profile name display.
func (sb *StatusBar) SetProfile(name string) {
	sb.profile = name
	sb.render()
}

// SetState updates the connection state display.
func (sb *StatusBar) SetState(state string) {
	sb.state = state
	sb.render()
}

// SetFlash sets a temporary message.
func (sb *StatusBar) SetFlash(msg string, level model.FlashLevel) {
	sb.flash = msg
	sb.level = level
	sb.render()
}

// SetHints sets the key hints shown when no flash message is active.
func (sb *StatusBar) SetHints(hints []string) {
	sb.hints = hints
	sb.render()
}

func (sb *StatusBar) render() {
	sb.Clear()
	line := statusLine(sb.profile, sb.state, sb.flash, sb.level, sb.theme, time.Now())
	if sb.flash == "" && len(sb.hints) > 0 {
		line += " | [gray]" + tview.Escape(strings.Join(sb.hints, "  ")) + "[-]"
	}
	_, _ = fmt.Fprint(sb, line)
}

func statusLine(profile, state, flash string, level model.FlashLevel, theme *ui.Theme, now time.Time) string {
	stateColor := "red"
	switch state {
	case "CONNECTED":
		stateColor = "green"
	case "CONNECTING":
		stateColor = "yellow"
	}
	line := fmt.Sprintf(" [::b]%s[-:-:-] | [%s]%s[-] | %s", profile, stateColor, state, now.Format("15:04"))
	if flash != "" {
		color := theme.FlashInfoColor
		if level == model.FlashErr {
			color = theme.FlashErrColor
		}
		line += fmt.Sprintf(" | [%s]%s[-]", ui.Tag(color), tview.Escape(flash))
	}
	return line
}
