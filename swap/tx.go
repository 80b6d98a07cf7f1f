package swap

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/lightningnetwork/lnd/input"
	"github.com/lightningnetwork/lnd/lntypes"
)

// BuildSuccessSweep assembles a one-input, one-output transaction spending
// the success path of htlc with preimage, signed by ourKey, paying to
// destPkScript. fee is subtracted from amount and should be sized against
// the backend's current fee estimate via EstimateSweepFee.
func BuildSuccessSweep(htlc *Htlc, ourKey *btcec.PrivateKey,
	lockupTxid chainhash.Hash, lockupVout uint32, amount, fee btcutil.Amount,
	preimage lntypes.Preimage, destPkScript []byte) (*wire.MsgTx, error) {

	tx := wire.NewMsgTx(wire.TxVersion)

	tx.AddTxIn(&wire.TxIn{
		PreviousOutPoint: wire.OutPoint{
			Hash:  lockupTxid,
			Index: lockupVout,
		},
		Sequence: htlc.SuccessSequence(),
	})

	tx.AddTxOut(&wire.TxOut{
		Value:    int64(amount - fee),
		PkScript: destPkScript,
	})

	prevOutFetcher := txscript.NewCannedPrevOutputFetcher(
		htlc.PkScript, int64(amount),
	)
	sigHashes := txscript.NewTxSigHashes(tx, prevOutFetcher)

	sig, err := signHtlcInput(
		htlc, tx, sigHashes, amount, htlc.SuccessScript(), ourKey,
	)
	if err != nil {
		return nil, err
	}

	witness, err := htlc.GenSuccessWitness(sig, preimage)
	if err != nil {
		return nil, err
	}

	tx.TxIn[0].Witness = witness

	return tx, nil
}

// BuildTimeoutSweep assembles a one-input, one-output transaction spending
// the timeout path of htlc back to destPkScript, signed by ourKey. Unlike
// the success path, a timeout spend must set the transaction's locktime to
// the htlc's expiry height and use a non-final input sequence so the
// CHECKLOCKTIMEVERIFY in the timeout script is satisfied.
func BuildTimeoutSweep(htlc *Htlc, ourKey *btcec.PrivateKey,
	lockupTxid chainhash.Hash, lockupVout uint32, amount, fee btcutil.Amount,
	cltvExpiry int32, destPkScript []byte) (*wire.MsgTx, error) {

	tx := wire.NewMsgTx(wire.TxVersion)
	tx.LockTime = uint32(cltvExpiry)

	tx.AddTxIn(&wire.TxIn{
		PreviousOutPoint: wire.OutPoint{
			Hash:  lockupTxid,
			Index: lockupVout,
		},
		Sequence: 0,
	})

	tx.AddTxOut(&wire.TxOut{
		Value:    int64(amount - fee),
		PkScript: destPkScript,
	})

	prevOutFetcher := txscript.NewCannedPrevOutputFetcher(
		htlc.PkScript, int64(amount),
	)
	sigHashes := txscript.NewTxSigHashes(tx, prevOutFetcher)

	sig, err := signHtlcInput(
		htlc, tx, sigHashes, amount, htlc.TimeoutScript(), ourKey,
	)
	if err != nil {
		return nil, err
	}

	witness, err := htlc.GenTimeoutWitness(sig)
	if err != nil {
		return nil, err
	}

	tx.TxIn[0].Witness = witness

	return tx, nil
}

// signHtlcInput produces the signature needed to spend htlc's given leaf
// script from its single input at index 0. A taproot output signs a Schnorr
// signature over the tapscript leaf being revealed; a segwit v0 output signs
// the witness script directly.
func signHtlcInput(htlc *Htlc, tx *wire.MsgTx,
	sigHashes *txscript.TxSigHashes, amount btcutil.Amount,
	leafScript []byte, ourKey *btcec.PrivateKey) ([]byte, error) {

	if htlc.OutputType == HtlcP2TR {
		leaf := txscript.NewBaseTapLeaf(leafScript)

		return txscript.RawTxInTapscriptSignature(
			tx, sigHashes, 0, int64(amount), htlc.PkScript, leaf,
			htlc.SigHash(), ourKey,
		)
	}

	return txscript.RawTxInWitnessSignature(
		tx, sigHashes, 0, int64(amount), leafScript, htlc.SigHash(),
		ourKey,
	)
}

// EstimateTimeoutSweepFee sizes the fee for a one-input sweep of htlc's
// timeout path, mirroring EstimateSweepFee for the CLTV-gated spend.
func EstimateTimeoutSweepFee(htlc *Htlc, destPkScript []byte,
	satPerVByte btcutil.Amount) (btcutil.Amount, error) {

	var estimator input.TxWeightEstimator
	htlc.AddTimeoutToEstimator(&estimator)

	if err := addEstimatorOutput(&estimator, destPkScript); err != nil {
		return 0, err
	}

	vsize := (estimator.Weight() + 3) / 4

	return satPerVByte * btcutil.Amount(vsize), nil
}

// GetScriptOutput locates the given script in the outputs of a transaction and
// returns its outpoint and value.
func GetScriptOutput(htlcTx *wire.MsgTx, scriptHash []byte) (
	*wire.OutPoint, btcutil.Amount, error) {

	for idx, output := range htlcTx.TxOut {
		if bytes.Equal(output.PkScript, scriptHash) {
			return &wire.OutPoint{
				Hash:  htlcTx.TxHash(),
				Index: uint32(idx),
			}, btcutil.Amount(output.Value), nil
		}
	}

	return nil, 0, fmt.Errorf("cannot determine outpoint")
}

// GetTxInputByOutpoint returns a tx input based on a given input outpoint.
func GetTxInputByOutpoint(tx *wire.MsgTx, input *wire.OutPoint) (
	*wire.TxIn, error) {

	for _, in := range tx.TxIn {
		if in.PreviousOutPoint == *input {
			return in, nil
		}
	}

	return nil, errors.New("input not found")
}
