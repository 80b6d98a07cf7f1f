package nursery

import "github.com/btcsuite/btclog"

const Subsystem = "NURS"

var log btclog.Logger = btclog.Disabled

func DisableLog() {
	UseLogger(btclog.Disabled)
}

func UseLogger(logger btclog.Logger) {
	log = logger
}
