package ui

import (
	"image/color"

	"fyne.io/fyne/v2"
	"fyne.io/fyne/v2/theme"
)

const (
	themeLight = "light"
	themeDark  = "dark"

	minFontSize = 10
	maxFontSize = 24
)

// chatTheme scales the default theme's text and keeps read-only entries legible
type chatTheme struct {
	baseFontSize float32
	variant      fyne.ThemeVariant
}

func newChatTheme(name string, fontSize int) fyne.Theme {
	if fontSize < minFontSize || fontSize > maxFontSize {
		fontSize = int(theme.DefaultTheme().Size(theme.SizeNameText))
	}
	variant := theme.VariantLight
	if name == themeDark {
		variant = theme.VariantDark
	}
	return &chatTheme{baseFontSize: float32(fontSize), variant: variant}
}

func (t *chatTheme) Color(name fyne.ThemeColorName, _ fyne.ThemeVariant) color.Color {
	base := theme.DefaultTheme()
	switch name {
	case theme.ColorNameInputBackground:
		return base.Color(theme.ColorNameBackground, t.variant)
	case theme.ColorNameDisabled:
		// Disabled entries hold stored responses; keep them readable.
		return base.Color(theme.ColorNameForeground, t.variant)
	}
	return base.Color(name, t.variant)
}

func (t *chatTheme) Font(style fyne.TextStyle) fyne.Resource {
	return theme.DefaultTheme().Font(style)
}

func (t *chatTheme) Icon(name fyne.ThemeIconName) fyne.Resource {
	return theme.DefaultTheme().Icon(name)
}

func (t *chatTheme) Size(name fyne.ThemeSizeName) float32 {
	switch name {
	case theme.SizeNameText:
		return t.baseFontSize
	case theme.SizeNameHeadingText:
		return t.baseFontSize * 1.5
	case theme.SizeNameSubHeadingText:
		return t.baseFontSize * 1.2
	case theme.SizeNameCaptionText:
		return t.baseFontSize * 0.85
	}
	return theme.DefaultTheme().Size(name)
}
