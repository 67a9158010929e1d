package progress

import "fmt"

// Sink receives one human-readable line per notable event. A nil Sink
// discards everything, so callers never have to guard before reporting.
// Sinks are append-only: the engine never reads back or rewrites lines,
// and a single Sink must not be shared between concurrent jobs.
type Sink func(line string)

// Printf formats a line and sends it to the sink.
func (s Sink) Printf(format string, args ...interface{}) {
	if s == nil {
		return
	}
	s(fmt.Sprintf(format, args...))
}
