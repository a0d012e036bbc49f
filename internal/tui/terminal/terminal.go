// Package terminal detects what the attached terminal emulator can render.
package terminal

import (
	"os"
	"strings"
	"sync"
)

// Capability is a bitfield of terminal features.
type Capability uint8

const (
	CapTruecolor  Capability = 1 << iota // 24-bit color
	CapHyperlinks                        // OSC 8 clickable links
	CapFaint                             // ANSI faint attribute
)

const (
	CapNone Capability = 0
	CapAll  Capability = CapTruecolor | CapHyperlinks | CapFaint
)

// Has reports whether the set includes every bit in v.
func (c Capability) Has(v Capability) bool {
	return c&v == v
}

// Without returns the set with v removed.
func (c Capability) Without(v Capability) Capability {
	return c &^ v
}

// Info holds detected terminal capabilities.
type Info struct {
	Caps Capability
	// Multiplexed is set inside tmux or screen, which may strip OSC 8.
	Multiplexed bool
}

// EnvFunc looks up an environment variable (matches os.Getenv).
type EnvFunc func(string) string

var (
	cachedInfo Info
	detectOnce sync.Once
)

// Detect identifies terminal capabilities from the process environment.
// The result is cached.
func Detect() Info {
	detectOnce.Do(func() {
		cachedInfo = DetectWith(os.Getenv)
	})
	return cachedInfo
}

// envProfiles maps emulator-specific variables to their feature sets,
// checked in order.
var envProfiles = []struct {
	env  string
	caps Capability
}{
	{"WT_SESSION", CapAll},
	{"KITTY_WINDOW_ID", CapAll},
	{"WEZTERM_EXECUTABLE", CapAll},
	{"ALACRITTY_LOG", CapAll},
	{"KONSOLE_VERSION", CapAll.Without(CapHyperlinks)},
	{"VTE_VERSION", CapAll},
}

var termPrograms = map[string]Capability{
	"vscode":         CapAll,
	"iTerm.app":      CapAll,
	"Apple_Terminal": CapFaint,
}

// DetectWith identifies terminal capabilities using getenv. Not cached.
func DetectWith(getenv EnvFunc) Info {
	info := Info{Multiplexed: getenv("TMUX") != "" || getenv("STY") != ""}

	for _, p := range envProfiles {
		if getenv(p.env) != "" {
			info.Caps = p.caps
			break
		}
	}
	if info.Caps == CapNone {
		info.Caps = termPrograms[getenv("TERM_PROGRAM")]
	}
	if info.Caps == CapNone {
		if t := getenv("TERM"); t == "foot" || strings.HasPrefix(t, "foot-") {
			info.Caps = CapAll
		}
	}
	if info.Caps == CapNone {
		if ct := getenv("COLORTERM"); ct == "truecolor" || ct == "24bit" {
			info.Caps = CapTruecolor
		}
	}
	if info.Multiplexed {
		info.Caps = info.Caps.Without(CapHyperlinks)
	}
	return info
}
