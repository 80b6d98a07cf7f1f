package test

import (
	"errors"
	"os"
	"runtime/pprof"
	"time"

	"github.com/btcsuite/btcd/btcec/v2/ecdsa"
	"github.com/lightningnetwork/lnd/zpay32"
)

var (
	// Timeout is the default timeout when tests wait for something to
	// happen.
	Timeout = time.Second * 5

	// ErrTimeout is returned on timeout.
	ErrTimeout = errors.New("test timeout")
)

// DumpGoroutines dumps all currently running goroutines.
func DumpGoroutines() {
	pprof.Lookup("goroutine").WriteTo(os.Stdout, 1)
}

// EncodePayReq encodes a zpay32 invoice, signing it with the key at index 5,
// the fixed signing key every test invoice in this module uses.
func EncodePayReq(payReq *zpay32.Invoice) (string, error) {
	privKey, _ := CreateKey(5)

	return payReq.Encode(
		zpay32.MessageSigner{
			SignCompact: func(hash []byte) ([]byte, error) {
				return ecdsa.SignCompact(privKey, hash, true), nil
			},
		},
	)
}
