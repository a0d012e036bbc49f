package tui

// Color carries the signal; the icon shape reinforces it.
const (
	IconCheck   = "\u2714" // heavy check mark
	IconCross   = "\u2716" // heavy multiplication X
	IconWarning = "\u26A0" // warning sign
	IconInfo    = "\u2139" // information source
	IconSquare  = "\u25AA" // small square (severity badge)
	IconArrow   = "\u2192" // rightwards arrow
)
