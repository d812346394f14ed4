package tui

// Key binding constants used in handleKey.
const (
	KeyQuit      = "q"
	KeyCtrlC     = "ctrl+c"
	KeyEsc       = "esc"
	KeyTab       = "tab"
	KeyShiftTab  = "shift+tab"
	KeyUp        = "up"
	KeyDown      = "down"
	KeyJ         = "j"
	KeyK         = "k"
	KeyEnter     = "enter"
	KeyBackspace = "backspace"
	KeyRefresh   = "r"
	KeyType      = "t"
	KeyDelete    = "d"
	KeyPrevWeek  = "["
	KeyNextWeek  = "]"
	KeyYes       = "y"
	KeyNo        = "n"
	KeyClearChat = "ctrl+l"
)
