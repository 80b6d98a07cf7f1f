package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/btcutil/hdkeychain"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/txscript"
	"github.com/lightningnetwork/lnd/clock"
	"github.com/lightningnetwork/lnd/keychain"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"

	"github.com/boltz-exchange/swapd/chain"
	"github.com/boltz-exchange/swapd/chainswap"
	"github.com/boltz-exchange/swapd/hints"
	"github.com/boltz-exchange/swapd/lightning"
	"github.com/boltz-exchange/swapd/musig2"
	"github.com/boltz-exchange/swapd/notifications"
	"github.com/boltz-exchange/swapd/rates"
	"github.com/boltz-exchange/swapd/reverse"
	"github.com/boltz-exchange/swapd/submarine"
	"github.com/boltz-exchange/swapd/swap"
	"github.com/boltz-exchange/swapd/swapdb"
	"github.com/boltz-exchange/swapd/swapserverrpc"
	"github.com/boltz-exchange/swapd/timeout"
)

const (
	minConfirmations = 1
	invoiceExpiry    = 3600 * time.Second
	acceptTimeout    = 10 * time.Minute
)

func networkParams(network string) (*chaincfg.Params, error) {
	switch network {
	case "mainnet":
		return &chaincfg.MainNetParams, nil
	case "testnet":
		return &chaincfg.TestNet3Params, nil
	case "regtest":
		return &chaincfg.RegressionNetParams, nil
	default:
		return nil, fmt.Errorf("unknown network %q", network)
	}
}

// daemon holds every long-lived component Start assembles, so Stop can shut
// them back down in reverse order.
type daemon struct {
	store         swapdb.Store
	listeners     []*chain.Listener
	watcher       *timeout.Watcher
	notifications *notifications.Manager
	grpcServer    *grpc.Server
	wsServer      *http.Server
	policy        *rates.Policy

	submarineByPair map[string]*submarine.Manager
	reverseByPair   map[string]*reverse.Manager
	chainswapByPair map[string]*chainswap.Manager
}

// Start wires up storage, the chain and Lightning listeners, every swap
// manager configured in cfg.pairs, and the operator gRPC surface, then
// blocks until ctx is cancelled. lnClient is injected by the caller since
// this repository carries lightning.Client's shape but not a concrete
// implementation (see DESIGN.md's lndclient boundary).
func Start(ctx context.Context, cfg *Config, lnClient lightning.Client) error {
	if err := setLogLevels(cfg.DebugLevel); err != nil {
		return err
	}

	params, err := networkParams(cfg.Network)
	if err != nil {
		return err
	}

	store, err := openStore(cfg.Database)
	if err != nil {
		return fmt.Errorf("opening store: %w", err)
	}

	d := &daemon{
		store:           store,
		watcher:         timeout.NewWatcher(clock.NewDefaultClock()),
		notifications:   notifications.NewManager(),
		submarineByPair: make(map[string]*submarine.Manager),
		reverseByPair:   make(map[string]*reverse.Manager),
		chainswapByPair: make(map[string]*chainswap.Manager),
	}

	keyRing, err := newKeyRing(ctx, store, cfg.SwapdDir)
	if err != nil {
		return fmt.Errorf("initializing key ring: %w", err)
	}

	btcListener, err := newListener(cfg.Bitcoin, params)
	if err != nil {
		return fmt.Errorf("connecting bitcoin backend: %w", err)
	}
	d.listeners = append(d.listeners, btcListener)
	d.watcher.AddListener(btcListener)

	var liquidListener *chain.Listener
	if cfg.Liquid.Host != "" {
		liquidListener, err = newListener(cfg.Liquid, params)
		if err != nil {
			return fmt.Errorf("connecting liquid backend: %w", err)
		}
		d.listeners = append(d.listeners, liquidListener)
		d.watcher.AddListener(liquidListener)
	}

	listenerBySymbol := map[string]*chain.Listener{btcListener.Symbol(): btcListener}
	if liquidListener != nil {
		listenerBySymbol[liquidListener.Symbol()] = liquidListener
	}

	nodePubkey, err := decodeNodePubkey(cfg.Lightning.NodePubkey)
	if err != nil {
		return fmt.Errorf("parsing lightning.nodepubkey: %w", err)
	}
	engine := hints.NewEngine(params, nodePubkey, nil, 0, 0, 40)
	signer := musig2.NewSigner(musigKeyRing{keyRing})
	invoices := lightning.NewSubscriptionManager(lnClient)

	limits := make(map[rates.Pair]rates.Limits, len(cfg.pairs))
	for _, pc := range cfg.pairs {
		pair, pairLimits := pc.toPair()
		limits[pair] = pairLimits
	}
	d.policy = rates.NewPolicy(limits, nil)

	for _, pc := range cfg.pairs {
		pair, pairLimits := pc.toPair()

		if pc.Base == pc.Quote {
			listener, ok := listenerBySymbol[pc.Base]
			if !ok {
				return fmt.Errorf("no chain backend configured for %s", pc.Base)
			}

			claimScript, err := claimScriptFor(pc.Base, cfg, params)
			if err != nil {
				return err
			}

			subMgr := submarine.NewManager(
				store, listener, lnClient, invoices, keyRing, signer,
				engine, params, d.watcher, pair.String(), claimScript,
				minConfirmations, pairLimits,
				uint32(invoiceExpiry.Seconds()), d.notifications,
			)
			d.submarineByPair[pair.String()] = subMgr

			revMgr := reverse.NewManager(
				store, listener, lnClient, invoices, keyRing, signer,
				engine, params, d.watcher, pair.String(), claimScript,
				acceptTimeout, invoiceExpiry, d.notifications,
			)
			d.reverseByPair[pair.String()] = revMgr

			continue
		}

		fromListener, ok := listenerBySymbol[pc.Base]
		if !ok {
			return fmt.Errorf("no chain backend configured for %s", pc.Base)
		}
		toListener, ok := listenerBySymbol[pc.Quote]
		if !ok {
			return fmt.Errorf("no chain backend configured for %s", pc.Quote)
		}

		claimScript, err := claimScriptFor(pc.Base, cfg, params)
		if err != nil {
			return err
		}
		toRefundScript, err := claimScriptFor(pc.Quote, cfg, params)
		if err != nil {
			return err
		}

		chainMgr := chainswap.NewManager(
			store, fromListener, toListener, keyRing, d.watcher,
			params, params, pair.String(), claimScript, toRefundScript,
			minConfirmations, d.notifications,
		)
		d.chainswapByPair[pair.String()] = chainMgr
	}

	group, gctx := errgroup.WithContext(ctx)
	for _, l := range d.listeners {
		listener := l
		group.Go(func() error { return listener.Run(gctx) })
	}

	d.watcher.Start()

	for _, m := range d.submarineByPair {
		if err := m.Resume(ctx); err != nil {
			return fmt.Errorf("resuming submarine swaps: %w", err)
		}
	}
	for _, m := range d.reverseByPair {
		if err := m.Resume(ctx); err != nil {
			return fmt.Errorf("resuming reverse swaps: %w", err)
		}
	}
	for _, m := range d.chainswapByPair {
		if err := m.Resume(ctx); err != nil {
			return fmt.Errorf("resuming chain swaps: %w", err)
		}
	}

	lis, err := net.Listen("tcp", cfg.RPCListen)
	if err != nil {
		return fmt.Errorf("binding rpc listener: %w", err)
	}
	d.grpcServer = grpc.NewServer()
	swapserverrpc.RegisterSwapServerServer(d.grpcServer, newRPCServer(d))

	group.Go(func() error { return d.grpcServer.Serve(lis) })

	if cfg.WSListen != "" {
		d.wsServer = &http.Server{
			Addr:    cfg.WSListen,
			Handler: newWSServer(d.notifications).handler(),
		}

		group.Go(func() error {
			err := d.wsServer.ListenAndServe()
			if err != nil && err != http.ErrServerClosed {
				return err
			}
			return nil
		})

		log.Infof("swapd websocket listening on %s", cfg.WSListen)
	}

	group.Go(func() error {
		<-gctx.Done()
		d.watcher.Stop()
		d.grpcServer.GracefulStop()
		if d.wsServer != nil {
			shutdownCtx, cancel := context.WithTimeout(
				context.Background(), 5*time.Second,
			)
			defer cancel()
			_ = d.wsServer.Shutdown(shutdownCtx)
		}
		return store.Close()
	})

	log.Infof("swapd listening on %s (network=%s)", cfg.RPCListen, cfg.Network)

	return group.Wait()
}

func openStore(cfg *DatabaseConfig) (swapdb.Store, error) {
	switch cfg.Backend {
	case "postgres":
		return swapdb.NewPostgresStore(cfg.Postgres)
	default:
		return swapdb.NewSqliteStore(cfg.Sqlite)
	}
}

func newListener(cfg *chain.BitcoindConfig,
	params *chaincfg.Params) (*chain.Listener, error) {

	client, err := chain.NewBitcoindClient(cfg, params)
	if err != nil {
		return nil, err
	}

	return chain.NewListener(client), nil
}

func claimScriptFor(symbol string, cfg *Config,
	params *chaincfg.Params) ([]byte, error) {

	var addrStr string
	switch symbol {
	case cfg.Bitcoin.Symbol:
		addrStr = cfg.Bitcoin.ClaimAddress
	case cfg.Liquid.Symbol:
		addrStr = cfg.Liquid.ClaimAddress
	default:
		return nil, fmt.Errorf("no claim address configured for %s", symbol)
	}

	addr, err := btcutil.DecodeAddress(addrStr, params)
	if err != nil {
		return nil, fmt.Errorf("decoding %s claim address: %w", symbol, err)
	}

	return txscript.PayToAddrScript(addr)
}

func decodeNodePubkey(hexKey string) ([33]byte, error) {
	var pubkey [33]byte
	if hexKey == "" {
		return pubkey, nil
	}

	raw, err := hex.DecodeString(hexKey)
	if err != nil {
		return pubkey, err
	}
	if len(raw) != 33 {
		return pubkey, fmt.Errorf("expected 33-byte compressed pubkey, got %d",
			len(raw))
	}
	copy(pubkey[:], raw)

	return pubkey, nil
}

// musigKeyRing adapts *swap.HDKeyRing to musig2.KeyRing. The two packages
// each define their own KeyLocator (musig2 deliberately avoids importing
// swap or keychain just for the type), so satisfying musig2.KeyRing needs a
// translation from musig2.KeyLocator's Family/Index pair to
// keychain.KeyLocator before delegating to HDKeyRing.DeriveKey.
type musigKeyRing struct {
	ring *swap.HDKeyRing
}

func (r musigKeyRing) DeriveKey(loc musig2.KeyLocator) (*btcec.PrivateKey,
	error) {

	return r.ring.DeriveKey(keychain.KeyLocator{
		Family: keychain.KeyFamily(loc.Family),
		Index:  loc.Index,
	})
}

// newKeyRing loads or creates the daemon's BIP32 root key under
// <swapddir>/root.key and bootstraps HDKeyRing's next index past every
// index already handed out to a persisted swap.
func newKeyRing(ctx context.Context, store swapdb.Store,
	swapdDir string) (*swap.HDKeyRing, error) {

	root, err := loadOrCreateRootKey(swapdDir)
	if err != nil {
		return nil, err
	}

	swaps, err := store.FetchSwaps(ctx)
	if err != nil {
		return nil, fmt.Errorf("bootstrapping key index: %w", err)
	}

	var startIndex uint32
	for _, s := range swaps {
		if idx := s.HtlcKeys.OurKeyLocator.Index + 1; idx > startIndex {
			startIndex = idx
		}
		if idx := s.ToHtlcKeys.OurKeyLocator.Index + 1; idx > startIndex {
			startIndex = idx
		}
	}

	return swap.NewHDKeyRing(root, startIndex), nil
}

func loadOrCreateRootKey(swapdDir string) (*hdkeychain.ExtendedKey, error) {
	path := swapdDir + "/root.key"

	raw, err := os.ReadFile(path)
	if err == nil {
		return hdkeychain.NewKeyFromString(string(raw))
	}
	if !os.IsNotExist(err) {
		return nil, err
	}

	seed := make([]byte, hdkeychain.RecommendedSeedLen)
	if _, err := rand.Read(seed); err != nil {
		return nil, err
	}

	root, err := hdkeychain.NewMaster(seed, &chaincfg.MainNetParams)
	if err != nil {
		return nil, err
	}

	if err := os.WriteFile(path, []byte(root.String()), 0600); err != nil {
		return nil, fmt.Errorf("persisting root key: %w", err)
	}

	return root, nil
}

