package hwzedc

// DebugWriter receives one formatted debug line at a time. Platforms
// embedding this core redirect it to their own log sink; the default
// is a no-op, matching core.DebugWriter's "off unless wired up" shape.
type DebugWriter func(string)

var (
	debugWriter  DebugWriter = func(string) {}
	debugEnabled bool
)

// SetDebugWriter installs the sink every subsequent DebugPrintln call
// writes to.
func SetDebugWriter(w DebugWriter) {
	if w == nil {
		w = func(string) {}
	}
	debugWriter = w
}

// SetDebugEnabled turns debug output on or off without touching the
// installed writer, matching core.SetDebugEnabled's performance
// rationale: callers can leave the writer installed and flip this
// around hot paths they don't want instrumented.
func SetDebugEnabled(enabled bool) {
	debugEnabled = enabled
}

// IsDebugEnabled reports the current debug-output state.
func IsDebugEnabled() bool {
	return debugEnabled
}

// DebugPrintln writes msg through the installed DebugWriter if debug
// output is enabled.
func DebugPrintln(msg string) {
	if debugEnabled {
		debugWriter(msg)
	}
}
