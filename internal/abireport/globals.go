package abireport

import (
	"fmt"
	"os"

	"github.com/gookit/color"
	"golang.org/x/term"
)

// Global variables
var (
	Debug      bool
	Verbose    bool
	ConfigFile = "/etc/abireport.conf"
	version    = "dev"     // overridden at build time
	buildDate  = "unknown" // overridden at build time
)

// color helpers
var (
	colWarn    = color.Warn
	colError   = color.Error
	colSuccess = color.HEX("#1976D2")
	colArrow   = color.HEX("#FFEB3B")
)

// Version returns the build version and date for the version command.
func Version() (string, string) {
	return version, buildDate
}

// StdoutIsTerminal reports whether stdout is attached to a terminal.
// Color and progress output are suppressed when it is not.
func StdoutIsTerminal() bool {
	return term.IsTerminal(int(os.Stdout.Fd()))
}

// debugf prints debug messages when Debug is true
func debugf(format string, args ...any) {
	if Debug {
		fmt.Printf(format, args...)
	}
}
