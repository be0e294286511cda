// Package logging provides the bracketed-tag logger used throughout this
// module, mirroring lvbealr-BitTorrent's log.Printf("[INFO] ...") /
// "[FAIL]" / "[ERROR]" convention and khushveer007-tdm/internal/logger's
// DebugEnabled gate and optional log-file redirection.
package logging

import (
	"io"
	"log"
	"os"
)

var (
	std          = log.New(os.Stderr, "", log.LstdFlags)
	debugEnabled = false
)

// SetOutput redirects all logging to w, e.g. a file opened via -logfile.
func SetOutput(w io.Writer) {
	std.SetOutput(w)
}

// SetDebugEnabled toggles Debugf output.
func SetDebugEnabled(enabled bool) {
	debugEnabled = enabled
}

func Infof(format string, args ...any) {
	std.Printf("[INFO] "+format, args...)
}

func Warnf(format string, args ...any) {
	std.Printf("[FAIL] "+format, args...)
}

func Errorf(format string, args ...any) {
	std.Printf("[ERROR] "+format, args...)
}

func Debugf(format string, args ...any) {
	if !debugEnabled {
		return
	}
	std.Printf("[DEBUG] "+format, args...)
}
