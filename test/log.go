package test

import (
	"os"

	"github.com/btcsuite/btclog"
)

// logger is a "TEST" subsystem logger whose backend writes to standard
// output at btclog's default level.
var (
	backendLog = btclog.NewBackend(logWriter{})
	logger     = backendLog.Logger("TEST")
)

// logWriter implements an io.Writer that outputs to standard output only.
type logWriter struct{}

func (logWriter) Write(p []byte) (int, error) {
	os.Stdout.Write(p)
	return len(p), nil
}
