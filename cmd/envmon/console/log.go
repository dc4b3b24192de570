package console

import (
	"fmt"
	"io"
	"os"
)

var writer io.Writer = os.Stdout
var errWriter io.Writer = os.Stderr

func Warnf(msg string, args ...interface{}) {
	_, _ = fmt.Fprintf(errWriter, "%s: %s\n", Yellow("WARN"), fmt.Sprintf(msg, args...))
}

// Printf writes to the command output, not to the log.
func Printf(msg string, args ...interface{}) {
	_, _ = fmt.Fprintf(writer, msg, args...)
}
