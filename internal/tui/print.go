package tui

import (
	"fmt"
	"io"
	"os"
)

// Stdout and Stderr are where the Print helpers write. Tests swap them.
var (
	Stdout io.Writer = os.Stdout
	Stderr io.Writer = os.Stderr
)

// PrintSuccess prints a success line with the [sentinel] prefix.
func PrintSuccess(msg string) {
	if IsPlainMode() {
		fmt.Fprintf(Stdout, "%s OK: %s\n", brand, msg)
		return
	}
	fmt.Fprintf(Stdout, "%s %s %s\n", Prefix(), StyleSuccess.Render(IconCheck), msg)
}

// PrintError prints an error line to stderr.
func PrintError(msg string) {
	if IsPlainMode() {
		fmt.Fprintf(Stderr, "%s ERROR: %s\n", brand, msg)
		return
	}
	fmt.Fprintf(Stderr, "%s %s %s\n", Prefix(), StyleError.Render(IconCross), msg)
}

// PrintWarning prints a warning line.
func PrintWarning(msg string) {
	if IsPlainMode() {
		fmt.Fprintf(Stdout, "%s WARNING: %s\n", brand, msg)
		return
	}
	fmt.Fprintf(Stdout, "%s %s %s\n", Prefix(), StyleWarning.Render(IconWarning), msg)
}

// PrintInfo prints an informational line.
func PrintInfo(msg string) {
	if IsPlainMode() {
		fmt.Fprintf(Stdout, "%s %s\n", brand, msg)
		return
	}
	fmt.Fprintf(Stdout, "%s %s %s\n", Prefix(), StyleInfo.Render(IconInfo), msg)
}
