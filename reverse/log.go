package reverse

import "github.com/btcsuite/btclog"

const Subsystem = "REVS"

var log btclog.Logger = btclog.Disabled

func DisableLog() {
	UseLogger(btclog.Disabled)
}

func UseLogger(logger btclog.Logger) {
	log = logger
}
