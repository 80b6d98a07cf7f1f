package main

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"strconv"

	"github.com/urfave/cli"

	"github.com/boltz-exchange/swapd/swapserverrpc"
)

// printResp renders resp the way loop's cmd/loop prints protobuf responses
// with jsonpb, minus the protobuf dependency: swapserverrpc's types are
// plain structs, so a plain indented json.Marshal gives the same effect.
func printResp(resp interface{}) {
	out, err := json.MarshalIndent(resp, "", "    ")
	if err != nil {
		fmt.Println("unable to encode response: ", err)
		return
	}

	fmt.Println(string(out))
}

var submarineCommand = cli.Command{
	Name:      "submarine",
	Usage:     "create a submarine swap (pay an invoice, lock an onchain HTLC)",
	ArgsUsage: "pair invoice refund_pubkey cltv_expiry onchain_amount",
	Action:    createSubmarineSwap,
}

func createSubmarineSwap(ctx *cli.Context) error {
	args := ctx.Args()
	if len(args) != 5 {
		return cli.ShowCommandHelp(ctx, "submarine")
	}

	refundPubkey, err := hex.DecodeString(args.Get(2))
	if err != nil {
		return fmt.Errorf("decoding refund_pubkey: %w", err)
	}
	cltvExpiry, err := strconv.ParseInt(args.Get(3), 10, 32)
	if err != nil {
		return fmt.Errorf("parsing cltv_expiry: %w", err)
	}
	onchainAmount, err := normalizeTokenAmount(args.Get(4))
	if err != nil {
		return fmt.Errorf("parsing onchain_amount: %w", err)
	}

	client, cleanup, err := getClient(ctx)
	if err != nil {
		return err
	}
	defer cleanup()

	resp, err := client.CreateSubmarineSwap(
		context.Background(), &swapserverrpc.CreateSubmarineSwapRequest{
			Pair:          args.Get(0),
			Invoice:       args.Get(1),
			RefundPubkey:  refundPubkey,
			CltvExpiry:    int32(cltvExpiry),
			OnchainAmount: int64(onchainAmount),
		},
	)
	if err != nil {
		return err
	}

	printResp(resp)
	return nil
}

var reverseCommand = cli.Command{
	Name:  "reverse",
	Usage: "create a reverse swap (get paid an invoice, claim an onchain HTLC)",
	ArgsUsage: "pair claim_pubkey preimage_hash cltv_expiry " +
		"onchain_amount",
	Action: createReverseSwap,
}

func createReverseSwap(ctx *cli.Context) error {
	args := ctx.Args()
	if len(args) != 5 {
		return cli.ShowCommandHelp(ctx, "reverse")
	}

	claimPubkey, err := hex.DecodeString(args.Get(1))
	if err != nil {
		return fmt.Errorf("decoding claim_pubkey: %w", err)
	}
	preimageHash, err := hex.DecodeString(args.Get(2))
	if err != nil {
		return fmt.Errorf("decoding preimage_hash: %w", err)
	}
	cltvExpiry, err := strconv.ParseInt(args.Get(3), 10, 32)
	if err != nil {
		return fmt.Errorf("parsing cltv_expiry: %w", err)
	}
	onchainAmount, err := normalizeTokenAmount(args.Get(4))
	if err != nil {
		return fmt.Errorf("parsing onchain_amount: %w", err)
	}

	client, cleanup, err := getClient(ctx)
	if err != nil {
		return err
	}
	defer cleanup()

	resp, err := client.CreateReverseSwap(
		context.Background(), &swapserverrpc.CreateReverseSwapRequest{
			Pair:          args.Get(0),
			ClaimPubkey:   claimPubkey,
			PreimageHash:  preimageHash,
			CltvExpiry:    int32(cltvExpiry),
			OnchainAmount: int64(onchainAmount),
		},
	)
	if err != nil {
		return err
	}

	printResp(resp)
	return nil
}

var chainCommand = cli.Command{
	Name:      "chain",
	Usage:     "create a chain swap between two onchain currencies",
	ArgsUsage: "pair from_refund_pubkey to_claim_pubkey from_cltv to_cltv from_amount to_amount",
	Action:    createChainSwap,
}

func createChainSwap(ctx *cli.Context) error {
	args := ctx.Args()
	if len(args) != 7 {
		return cli.ShowCommandHelp(ctx, "chain")
	}

	fromRefund, err := hex.DecodeString(args.Get(1))
	if err != nil {
		return fmt.Errorf("decoding from_refund_pubkey: %w", err)
	}
	toClaim, err := hex.DecodeString(args.Get(2))
	if err != nil {
		return fmt.Errorf("decoding to_claim_pubkey: %w", err)
	}
	fromCltv, err := strconv.ParseInt(args.Get(3), 10, 32)
	if err != nil {
		return fmt.Errorf("parsing from_cltv: %w", err)
	}
	toCltv, err := strconv.ParseInt(args.Get(4), 10, 32)
	if err != nil {
		return fmt.Errorf("parsing to_cltv: %w", err)
	}
	fromAmount, err := normalizeTokenAmount(args.Get(5))
	if err != nil {
		return fmt.Errorf("parsing from_amount: %w", err)
	}
	toAmount, err := normalizeTokenAmount(args.Get(6))
	if err != nil {
		return fmt.Errorf("parsing to_amount: %w", err)
	}

	client, cleanup, err := getClient(ctx)
	if err != nil {
		return err
	}
	defer cleanup()

	resp, err := client.CreateChainSwap(
		context.Background(), &swapserverrpc.CreateChainSwapRequest{
			Pair:             args.Get(0),
			FromRefundPubkey: fromRefund,
			ToClaimPubkey:    toClaim,
			FromCltvExpiry:   int32(fromCltv),
			ToCltvExpiry:     int32(toCltv),
			FromAmount:       int64(fromAmount),
			ToAmount:         int64(toAmount),
		},
	)
	if err != nil {
		return err
	}

	printResp(resp)
	return nil
}

var swapInfoCommand = cli.Command{
	Name:      "swapinfo",
	Usage:     "look up a single swap by hash",
	ArgsUsage: "hash",
	Action:    swapInfo,
}

func swapInfo(ctx *cli.Context) error {
	args := ctx.Args()
	if len(args) != 1 {
		return cli.ShowCommandHelp(ctx, "swapinfo")
	}

	client, cleanup, err := getClient(ctx)
	if err != nil {
		return err
	}
	defer cleanup()

	resp, err := client.SwapInfo(
		context.Background(),
		&swapserverrpc.SwapInfoRequest{Hash: args.Get(0)},
	)
	if err != nil {
		return err
	}

	printResp(resp)
	return nil
}

var listSwapsCommand = cli.Command{
	Name:  "listswaps",
	Usage: "list known swaps, optionally filtered by pair",
	Flags: []cli.Flag{
		cli.StringFlag{
			Name:  "pair",
			Usage: "only list swaps for this pair, e.g. BTC/BTC",
		},
	},
	Action: listSwaps,
}

func listSwaps(ctx *cli.Context) error {
	client, cleanup, err := getClient(ctx)
	if err != nil {
		return err
	}
	defer cleanup()

	resp, err := client.ListSwaps(
		context.Background(),
		&swapserverrpc.ListSwapsRequest{Pair: ctx.String("pair")},
	)
	if err != nil {
		return err
	}

	printResp(resp)
	return nil
}

var pairCommand = cli.Command{
	Name:      "pair",
	Usage:     "show the swap terms and limits for a pair",
	ArgsUsage: "pair",
	Action:    pairTerms,
}

func pairTerms(ctx *cli.Context) error {
	args := ctx.Args()
	if len(args) != 1 {
		return cli.ShowCommandHelp(ctx, "pair")
	}

	client, cleanup, err := getClient(ctx)
	if err != nil {
		return err
	}
	defer cleanup()

	resp, err := client.Pair(
		context.Background(),
		&swapserverrpc.PairRequest{Pair: args.Get(0)},
	)
	if err != nil {
		return err
	}

	printResp(resp)
	return nil
}

var getInfoCommand = cli.Command{
	Name:   "getinfo",
	Usage:  "show the daemon's own status",
	Action: getInfo,
}

func getInfo(ctx *cli.Context) error {
	client, cleanup, err := getClient(ctx)
	if err != nil {
		return err
	}
	defer cleanup()

	resp, err := client.GetInfo(context.Background(), &swapserverrpc.GetInfoRequest{})
	if err != nil {
		return err
	}

	printResp(resp)
	return nil
}

var monitorCommand = cli.Command{
	Name:  "monitor",
	Usage: "stream swap status updates, optionally for a single hash",
	Flags: []cli.Flag{
		cli.StringFlag{
			Name:  "hash",
			Usage: "only stream updates for this swap",
		},
	},
	Action: monitor,
}

func monitor(ctx *cli.Context) error {
	client, cleanup, err := getClient(ctx)
	if err != nil {
		return err
	}
	defer cleanup()

	stream, err := client.Monitor(
		context.Background(),
		&swapserverrpc.MonitorRequest{Hash: ctx.String("hash")},
	)
	if err != nil {
		return err
	}

	for {
		update, err := stream.Recv()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}

		printResp(update)
	}
}
