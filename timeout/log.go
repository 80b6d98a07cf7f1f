package timeout

import "github.com/btcsuite/btclog"

const Subsystem = "TMWT"

var log btclog.Logger = btclog.Disabled

func DisableLog() {
	UseLogger(btclog.Disabled)
}

func UseLogger(logger btclog.Logger) {
	log = logger
}
