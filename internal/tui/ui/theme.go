package ui

import (
	"fmt"

	"github.com/gdamore/tcell/v2"
)

// Theme holds color constants for the TUI.
type Theme struct {
	BgColor         tcell.Color
	FgColor         tcell.Color
	BorderColor     tcell.Color
	TableHeaderFg   tcell.Color
	TableCursorFg   tcell.Color
	TableCursorBg   tcell.Color
	TitleColor      tcell.Color
	OwnMessageColor tcell.Color
	SeparatorColor  tcell.Color
	RecalledColor   tcell.Color
	OnlineColor     tcell.Color
	UnreadColor     tcell.Color
	FlashInfoColor  tcell.Color
	FlashErrColor   tcell.Color
}

// DefaultTheme returns a k9s-inspired dark theme.
func DefaultTheme() *Theme {
	return &Theme{
		BgColor:         tcell.ColorBlack,
		FgColor:         tcell.ColorCadetBlue,
		BorderColor:     tcell.ColorDodgerBlue,
		TableHeaderFg:   tcell.ColorWhite,
		TableCursorFg:   tcell.ColorBlack,
		TableCursorBg:   tcell.ColorAqua,
		TitleColor:      tcell.ColorFuchsia,
		OwnMessageColor: tcell.ColorLightSkyBlue,
		SeparatorColor:  tcell.ColorGray,
		RecalledColor:   tcell.ColorDarkGray,
		OnlineColor:     tcell.ColorLimeGreen,
		UnreadColor:     tcell.ColorOrange,
		FlashInfoColor:  tcell.ColorNavajoWhite,
		FlashErrColor:   tcell.ColorOrangeRed,
	}
}

// Tag formats c for tview's dynamic color markup.
func Tag(c tcell.Color) string {
	return fmt.Sprintf("#%06x", c.Hex())
}
