package chain

import (
	"sync"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
)

// watchKey identifies a single watched output by the script the swap's
// funding transaction is expected to pay.
type watchKey string

func scriptKey(pkScript []byte) watchKey {
	return watchKey(pkScript)
}

// outputIndex tracks which pkScripts are currently being watched and
// de-duplicates notifications, the same job utils.TxSubscribeConfirmationManager
// does keyed by swap hash; here it's keyed by script since a single Listener
// watches many swaps' HTLC outputs at once rather than one swap's own
// lockup.
type outputIndex struct {
	mu       sync.Mutex
	watching map[watchKey]*watch
}

type watch struct {
	pkScript   []byte
	numConfs   int32
	heightHint int32
	onFound    func(Event)
	confirmed  bool
	txid       *chainhash.Hash
	vout       uint32
}

func newOutputIndex() *outputIndex {
	return &outputIndex{watching: make(map[watchKey]*watch)}
}

func (idx *outputIndex) add(pkScript []byte, numConfs, heightHint int32,
	onFound func(Event)) bool {

	idx.mu.Lock()
	defer idx.mu.Unlock()

	key := scriptKey(pkScript)
	if _, ok := idx.watching[key]; ok {
		return false
	}

	idx.watching[key] = &watch{
		pkScript:   pkScript,
		numConfs:   numConfs,
		heightHint: heightHint,
		onFound:    onFound,
	}

	return true
}

func (idx *outputIndex) remove(pkScript []byte) {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	delete(idx.watching, scriptKey(pkScript))
}

func (idx *outputIndex) get(pkScript []byte) (*watch, bool) {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	w, ok := idx.watching[scriptKey(pkScript)]
	return w, ok
}

func (idx *outputIndex) snapshot() []*watch {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	out := make([]*watch, 0, len(idx.watching))
	for _, w := range idx.watching {
		out = append(out, w)
	}

	return out
}
