package main

import (
	"fmt"
	"os"

	"github.com/urfave/cli"
	"google.golang.org/grpc"

	"github.com/boltz-exchange/swapd/swapserverrpc"
)

func fatal(err error) {
	fmt.Fprintf(os.Stderr, "[swapcli] %v\n", err)
	os.Exit(1)
}

func main() {
	app := cli.NewApp()

	app.Name = "swapcli"
	app.Usage = "control plane for swapd"
	app.Flags = []cli.Flag{
		cli.StringFlag{
			Name:  "rpcserver",
			Value: "localhost:9736",
			Usage: "swapd daemon address host:port",
		},
	}
	app.Commands = []cli.Command{
		submarineCommand, reverseCommand, chainCommand,
		swapInfoCommand, listSwapsCommand, pairCommand,
		getInfoCommand, monitorCommand,
	}

	if err := app.Run(os.Args); err != nil {
		fatal(err)
	}
}

// getClient dials the daemon's gRPC listener with the JSON codec
// registered by swapserverrpc's init, the same way swapserverrpc's own
// tests dial a bufconn listener with the codec forced via CallContentSubtype.
func getClient(ctx *cli.Context) (swapserverrpc.SwapServerClient, func(), error) {
	conn, err := grpc.Dial(
		ctx.GlobalString("rpcserver"),
		grpc.WithInsecure(),
		grpc.WithDefaultCallOptions(grpc.CallContentSubtype("json")),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("dialing swapd: %w", err)
	}

	cleanup := func() { conn.Close() }

	return swapserverrpc.NewSwapServerClient(conn), cleanup, nil
}
