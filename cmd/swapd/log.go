package main

import (
	"os"

	"github.com/btcsuite/btclog"

	"github.com/boltz-exchange/swapd/chain"
	"github.com/boltz-exchange/swapd/chainswap"
	"github.com/boltz-exchange/swapd/hints"
	"github.com/boltz-exchange/swapd/lightning"
	"github.com/boltz-exchange/swapd/musig2"
	"github.com/boltz-exchange/swapd/nursery"
	"github.com/boltz-exchange/swapd/reverse"
	"github.com/boltz-exchange/swapd/submarine"
	"github.com/boltz-exchange/swapd/swapdb"
	"github.com/boltz-exchange/swapd/timeout"
)

const Subsystem = "SWPD"

var (
	backend = btclog.NewBackend(os.Stdout)
	log     = backend.Logger(Subsystem)
)

// setLogLevels applies levelStr (one of btclog's level names) to every
// package's logger, the way loopd.SetupLoggers fans one configured level out
// to every subsystem it registers.
func setLogLevels(levelStr string) error {
	level, ok := btclog.LevelFromString(levelStr)
	if !ok {
		level = btclog.LevelInfo
	}

	log.SetLevel(level)

	subsystems := map[string]func(btclog.Logger){
		chain.Subsystem:     chain.UseLogger,
		chainswap.Subsystem: chainswap.UseLogger,
		hints.Subsystem:     hints.UseLogger,
		lightning.Subsystem: lightning.UseLogger,
		musig2.Subsystem:    musig2.UseLogger,
		nursery.Subsystem:   nursery.UseLogger,
		reverse.Subsystem:   reverse.UseLogger,
		submarine.Subsystem: submarine.UseLogger,
		swapdb.Subsystem:    swapdb.UseLogger,
		timeout.Subsystem:   timeout.UseLogger,
	}

	for tag, use := range subsystems {
		logger := backend.Logger(tag)
		logger.SetLevel(level)
		use(logger)
	}

	return nil
}
