package swap

import (
	"crypto/sha256"
	"testing"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/boltz-exchange/swapd/test"
	"github.com/lightningnetwork/lnd/lntypes"
	"github.com/stretchr/testify/require"
)

func newTestHtlc(t *testing.T, senderKey, receiverKey [33]byte,
	cltvExpiry int32, preimage lntypes.Preimage) *Htlc {

	t.Helper()

	hash := preimage.Hash()
	htlc, err := NewHtlc(
		HtlcV2, cltvExpiry, senderKey, receiverKey, hash,
		HtlcP2WSH, &chaincfg.RegressionNetParams,
	)
	require.NoError(t, err)

	return htlc
}

func newTestTaprootHtlc(t *testing.T, senderKey, receiverKey [33]byte,
	cltvExpiry int32, preimage lntypes.Preimage) *Htlc {

	t.Helper()

	hash := preimage.Hash()
	htlc, err := NewHtlc(
		HtlcV3, cltvExpiry, senderKey, receiverKey, hash,
		HtlcP2TR, &chaincfg.RegressionNetParams,
	)
	require.NoError(t, err)

	return htlc
}

// TestBuildSuccessSweep checks that a success-path sweep built with
// BuildSuccessSweep validates against the HTLC it spends.
func TestBuildSuccessSweep(t *testing.T) {
	_, senderPub := test.CreateKey(1)
	receiverPriv, receiverPub := test.CreateKey(2)

	var senderKey, receiverKey [33]byte
	copy(senderKey[:], senderPub.SerializeCompressed())
	copy(receiverKey[:], receiverPub.SerializeCompressed())

	var preimage lntypes.Preimage
	copy(preimage[:], []byte("success-sweep-test-preimage-1234"))

	const amount = btcutil.Amount(50_000)
	const fee = btcutil.Amount(300)

	// The success path checks a signature against the receiver key, so
	// the sweep is signed by the receiver, mirroring a real claim.
	htlc := newTestHtlc(t, senderKey, receiverKey, 100, preimage)

	lockupTxid := chainhash.Hash(sha256.Sum256([]byte("lockup")))
	destPkScript := htlc.PkScript

	tx, err := BuildSuccessSweep(
		htlc, receiverPriv, lockupTxid, 0, amount, fee, preimage,
		destPkScript,
	)
	require.NoError(t, err)
	require.Len(t, tx.TxOut, 1)
	require.Equal(t, int64(amount-fee), tx.TxOut[0].Value)

	engine, err := txscript.NewEngine(
		htlc.PkScript, tx, 0, txscript.StandardVerifyFlags, nil, nil,
		int64(amount), txscript.NewCannedPrevOutputFetcher(
			htlc.PkScript, int64(amount),
		),
	)
	require.NoError(t, err)
	require.NoError(t, engine.Execute())
}

// TestBuildTimeoutSweep checks that a timeout-path sweep built with
// BuildTimeoutSweep only validates once the transaction's locktime reaches
// the htlc's cltv expiry.
func TestBuildTimeoutSweep(t *testing.T) {
	senderPriv, senderPub := test.CreateKey(1)
	_, receiverPub := test.CreateKey(2)

	var senderKey, receiverKey [33]byte
	copy(senderKey[:], senderPub.SerializeCompressed())
	copy(receiverKey[:], receiverPub.SerializeCompressed())

	var preimage lntypes.Preimage
	copy(preimage[:], []byte("timeout-sweep-test-preimage-1234"))

	const cltvExpiry = 500
	const amount = btcutil.Amount(50_000)
	const fee = btcutil.Amount(300)

	htlc := newTestHtlc(t, senderKey, receiverKey, cltvExpiry, preimage)

	lockupTxid := chainhash.Hash(sha256.Sum256([]byte("lockup")))
	destPkScript := htlc.PkScript

	tx, err := BuildTimeoutSweep(
		htlc, senderPriv, lockupTxid, 0, amount, fee, cltvExpiry,
		destPkScript,
	)
	require.NoError(t, err)
	require.Equal(t, uint32(cltvExpiry), tx.LockTime)
	require.Equal(t, uint32(0), tx.TxIn[0].Sequence)

	engine, err := txscript.NewEngine(
		htlc.PkScript, tx, 0, txscript.StandardVerifyFlags, nil, nil,
		int64(amount), txscript.NewCannedPrevOutputFetcher(
			htlc.PkScript, int64(amount),
		),
	)
	require.NoError(t, err)
	require.NoError(t, engine.Execute())
}

// TestBuildSuccessSweepTaproot checks that a HtlcV3 success-path sweep signs
// the claim tapscript leaf rather than a segwit v0 witness script, and
// validates against the taproot output it spends.
func TestBuildSuccessSweepTaproot(t *testing.T) {
	_, senderPub := test.CreateKey(1)
	receiverPriv, receiverPub := test.CreateKey(2)

	var senderKey, receiverKey [33]byte
	copy(senderKey[:], senderPub.SerializeCompressed())
	copy(receiverKey[:], receiverPub.SerializeCompressed())

	var preimage lntypes.Preimage
	copy(preimage[:], []byte("success-sweep-taproot-preimage-1"))

	const amount = btcutil.Amount(50_000)
	const fee = btcutil.Amount(300)

	htlc := newTestTaprootHtlc(t, senderKey, receiverKey, 100, preimage)

	lockupTxid := chainhash.Hash(sha256.Sum256([]byte("lockup")))
	destPkScript := htlc.PkScript

	tx, err := BuildSuccessSweep(
		htlc, receiverPriv, lockupTxid, 0, amount, fee, preimage,
		destPkScript,
	)
	require.NoError(t, err)
	require.Len(t, tx.TxIn[0].Witness, 4)

	prevOutFetcher := txscript.NewCannedPrevOutputFetcher(
		htlc.PkScript, int64(amount),
	)
	engine, err := txscript.NewEngine(
		htlc.PkScript, tx, 0, txscript.StandardVerifyFlags, nil,
		txscript.NewTxSigHashes(tx, prevOutFetcher), int64(amount),
		prevOutFetcher,
	)
	require.NoError(t, err)
	require.NoError(t, engine.Execute())
}

// TestBuildTimeoutSweepTaproot checks that a HtlcV3 timeout-path sweep signs
// the timeout tapscript leaf and only validates once the transaction's
// locktime reaches the htlc's cltv expiry.
func TestBuildTimeoutSweepTaproot(t *testing.T) {
	senderPriv, senderPub := test.CreateKey(1)
	_, receiverPub := test.CreateKey(2)

	var senderKey, receiverKey [33]byte
	copy(senderKey[:], senderPub.SerializeCompressed())
	copy(receiverKey[:], receiverPub.SerializeCompressed())

	var preimage lntypes.Preimage
	copy(preimage[:], []byte("timeout-sweep-taproot-preimage-1"))

	const cltvExpiry = 500
	const amount = btcutil.Amount(50_000)
	const fee = btcutil.Amount(300)

	htlc := newTestTaprootHtlc(
		t, senderKey, receiverKey, cltvExpiry, preimage,
	)

	lockupTxid := chainhash.Hash(sha256.Sum256([]byte("lockup")))
	destPkScript := htlc.PkScript

	tx, err := BuildTimeoutSweep(
		htlc, senderPriv, lockupTxid, 0, amount, fee, cltvExpiry,
		destPkScript,
	)
	require.NoError(t, err)
	require.Equal(t, uint32(cltvExpiry), tx.LockTime)
	require.Len(t, tx.TxIn[0].Witness, 3)

	prevOutFetcher := txscript.NewCannedPrevOutputFetcher(
		htlc.PkScript, int64(amount),
	)
	engine, err := txscript.NewEngine(
		htlc.PkScript, tx, 0, txscript.StandardVerifyFlags, nil,
		txscript.NewTxSigHashes(tx, prevOutFetcher), int64(amount),
		prevOutFetcher,
	)
	require.NoError(t, err)
	require.NoError(t, engine.Execute())
}

// TestHtlcV3TaprootRootHashExposed checks that a HtlcV3 output surfaces its
// script tree root hash, needed to reproduce the taproot tweak when
// producing a cooperative key-path signature, while HtlcV2 does not.
func TestHtlcV3TaprootRootHashExposed(t *testing.T) {
	_, senderPub := test.CreateKey(1)
	_, receiverPub := test.CreateKey(2)

	var senderKey, receiverKey [33]byte
	copy(senderKey[:], senderPub.SerializeCompressed())
	copy(receiverKey[:], receiverPub.SerializeCompressed())

	var preimage lntypes.Preimage
	copy(preimage[:], []byte("root-hash-test-preimage-1234567"))

	v3Htlc := newTestTaprootHtlc(t, senderKey, receiverKey, 100, preimage)
	rootHash, ok := v3Htlc.TaprootRootHash()
	require.True(t, ok)
	require.NotEqual(t, chainhash.Hash{}, rootHash)

	v2Htlc := newTestHtlc(t, senderKey, receiverKey, 100, preimage)
	_, ok = v2Htlc.TaprootRootHash()
	require.False(t, ok)
}

// TestEstimateSweepFeeScalesWithFeeRate checks EstimateSweepFee and
// EstimateTimeoutSweepFee grow with the requested sat/vbyte rate and stay
// well under the swept amount for realistic fee rates.
func TestEstimateSweepFeeScalesWithFeeRate(t *testing.T) {
	_, senderPub := test.CreateKey(1)
	_, receiverPub := test.CreateKey(2)

	var senderKey, receiverKey [33]byte
	copy(senderKey[:], senderPub.SerializeCompressed())
	copy(receiverKey[:], receiverPub.SerializeCompressed())

	var preimage lntypes.Preimage
	copy(preimage[:], []byte("fee-estimate-test-preimage-12345"))

	htlc := newTestHtlc(t, senderKey, receiverKey, 100, preimage)

	lowFee, err := EstimateSweepFee(htlc, htlc.PkScript, 1)
	require.NoError(t, err)
	require.Positive(t, lowFee)

	highFee, err := EstimateSweepFee(htlc, htlc.PkScript, 10)
	require.NoError(t, err)
	require.Greater(t, highFee, lowFee)

	timeoutFee, err := EstimateTimeoutSweepFee(htlc, htlc.PkScript, 1)
	require.NoError(t, err)
	require.Positive(t, timeoutFee)
}

// TestEstimateSweepFeeRejectsUnknownDestination checks that a destination
// script of an unsupported class is rejected instead of silently sized as
// if it were zero-length.
func TestEstimateSweepFeeRejectsUnknownDestination(t *testing.T) {
	_, senderPub := test.CreateKey(1)
	_, receiverPub := test.CreateKey(2)

	var senderKey, receiverKey [33]byte
	copy(senderKey[:], senderPub.SerializeCompressed())
	copy(receiverKey[:], receiverPub.SerializeCompressed())

	var preimage lntypes.Preimage
	copy(preimage[:], []byte("fee-estimate-test-preimage-67890"))

	htlc := newTestHtlc(t, senderKey, receiverKey, 100, preimage)

	nonStandard := []byte{txscript.OP_RETURN, txscript.OP_TRUE}

	_, err := EstimateSweepFee(htlc, nonStandard, 1)
	require.Error(t, err)
}

// TestGetScriptOutput checks GetScriptOutput finds the output paying to the
// requested script and errors when nothing matches.
func TestGetScriptOutput(t *testing.T) {
	pkScript := []byte("target-script")

	tx := wire.NewMsgTx(wire.TxVersion)
	tx.AddTxOut(&wire.TxOut{Value: 1000, PkScript: []byte("other")})
	tx.AddTxOut(&wire.TxOut{Value: 2000, PkScript: pkScript})

	outpoint, amount, err := GetScriptOutput(tx, pkScript)
	require.NoError(t, err)
	require.Equal(t, uint32(1), outpoint.Index)
	require.Equal(t, btcutil.Amount(2000), amount)

	_, _, err = GetScriptOutput(tx, []byte("missing"))
	require.Error(t, err)
}
