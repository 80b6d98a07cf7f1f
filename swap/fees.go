package swap

import (
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/txscript"
	"github.com/lightningnetwork/lnd/input"
	"github.com/lightningnetwork/lnd/zpay32"
)

const (
	// FeeRateTotalParts defines the granularity of the fee rate.
	// Throughout the codebase, we'll use fix based arithmetic to compute
	// fees.
	FeeRateTotalParts = 1e6

	// SweepConfTarget is the confirmation target requested from the
	// backend's fee estimator when sizing a claim or refund sweep.
	SweepConfTarget = 6
)

// CalcFee returns the swap fee for a given swap amount.
func CalcFee(amount, feeBase btcutil.Amount, feeRate int64) btcutil.Amount {
	return feeBase + amount*btcutil.Amount(feeRate)/
		btcutil.Amount(FeeRateTotalParts)
}

// FeeRateAsPercentage converts a feerate to a percentage.
func FeeRateAsPercentage(feeRate int64) float64 {
	return float64(feeRate) / (FeeRateTotalParts / 100)
}

// GetInvoiceAmt gets the invoice amount. It requires an amount to be
// specified.
func GetInvoiceAmt(params *chaincfg.Params,
	payReq string) (btcutil.Amount, error) {

	swapPayReq, err := zpay32.Decode(
		payReq, params,
	)
	if err != nil {
		return 0, err
	}

	if swapPayReq.MilliSat == nil {
		return 0, errors.New("no amount in invoice")
	}

	return swapPayReq.MilliSat.ToSatoshis(), nil
}

// EstimateSweepFee sizes the fee for a one-input sweep of htlc's success
// path paying to destPkScript, weighing a destination-only sweep (no
// change output) against a fee rate already quoted in sat/vbyte by the
// chain backend. Grounded on sweep.Sweeper.GetSweepFee's weight-estimator
// approach, simplified to the single-output case every claim/refund sweep
// here uses.
func EstimateSweepFee(htlc *Htlc, destPkScript []byte,
	satPerVByte btcutil.Amount) (btcutil.Amount, error) {

	var estimator input.TxWeightEstimator
	htlc.AddSuccessToEstimator(&estimator)

	if err := addEstimatorOutput(&estimator, destPkScript); err != nil {
		return 0, err
	}

	vsize := (estimator.Weight() + 3) / 4

	return satPerVByte * btcutil.Amount(vsize), nil
}

// placeholderP2TRScript is a well-formed but unspendable taproot output
// script, used to size a claim fee quote before the client has revealed the
// destination address they'll actually sweep to.
var placeholderP2TRScript = append([]byte{txscript.OP_1, txscript.OP_DATA_32},
	make([]byte, 32)...)

// EstimateClaimFeeQuote sizes the fee a client will pay to claim htlc,
// assuming a taproot destination since that's the modern default; used to
// quote ReceivedAmount before the client's actual destination is known.
func EstimateClaimFeeQuote(htlc *Htlc,
	satPerVByte btcutil.Amount) (btcutil.Amount, error) {

	return EstimateSweepFee(htlc, placeholderP2TRScript, satPerVByte)
}

func addEstimatorOutput(estimator *input.TxWeightEstimator,
	pkScript []byte) error {

	switch txscript.GetScriptClass(pkScript) {
	case txscript.WitnessV0ScriptHashTy:
		estimator.AddP2WSHOutput()
	case txscript.WitnessV0PubKeyHashTy:
		estimator.AddP2WKHOutput()
	case txscript.WitnessV1TaprootTy:
		estimator.AddP2TROutput()
	case txscript.ScriptHashTy:
		estimator.AddP2SHOutput()
	case txscript.PubKeyHashTy:
		estimator.AddP2PKHOutput()
	default:
		return fmt.Errorf("unsupported destination script class")
	}

	return nil
}
