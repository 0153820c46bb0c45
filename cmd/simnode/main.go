// simnode runs an in-process network of simulated blockchain nodes,
// structured after the teacher lineage's cmd/kcn entrypoint: a
// urfave/cli.v1 app wrapping one bounded demo run.
package main

import (
	"context"
	"fmt"
	"math/rand"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fatih/color"
	colorable "github.com/mattn/go-colorable"
	uuid "github.com/satori/go.uuid"

	"github.com/groundx/blocksim/config"
	"github.com/groundx/blocksim/ledger"
	"github.com/groundx/blocksim/log"
	"github.com/groundx/blocksim/node"
	"github.com/groundx/blocksim/status"
	cli "gopkg.in/urfave/cli.v1"
)

var logger = log.NewModuleLogger("simnode")

var app = cli.NewApp()

var (
	configFlag = cli.StringFlag{
		Name:  "config",
		Usage: "TOML configuration file describing accounts, nodes, and network fault injection",
	}
	nodesFlag = cli.IntFlag{
		Name:  "nodes",
		Usage: "number of nodes to run when no config file is given",
		Value: 4,
	}
	transactionsFlag = cli.IntFlag{
		Name:  "transactions",
		Usage: "number of randomly generated transactions to submit",
		Value: 20,
	}
	miningRoundsFlag = cli.IntFlag{
		Name:  "mining-rounds",
		Usage: "number of blocks to mine before shutting the network down",
		Value: 5,
	}
	difficultyFlag = cli.IntFlag{
		Name:  "difficulty",
		Usage: "proof-of-work difficulty (number of leading hex zeros)",
		Value: 2,
	}
	statusAddrFlag = cli.StringFlag{
		Name:  "status-addr",
		Usage: "address to serve the first node's status endpoint on, empty disables it",
		Value: "127.0.0.1:8090",
	}
)

func init() {
	app.Name = "simnode"
	app.Usage = "run a bounded demo of a simulated peer-to-peer blockchain network"
	app.Version = "0.1.0"
	app.Flags = []cli.Flag{configFlag, nodesFlag, transactionsFlag, miningRoundsFlag, difficultyFlag, statusAddrFlag}
	app.Action = run
}

func main() {
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(ctx *cli.Context) error {
	cfg := config.Default()
	if file := ctx.String(configFlag.Name); file != "" {
		loaded, err := config.Load(file)
		if err != nil {
			return err
		}
		cfg = loaded
	}
	if ctx.IsSet(difficultyFlag.Name) {
		cfg.Difficulty = ctx.Int(difficultyFlag.Name)
	}

	if len(cfg.Nodes) == 0 {
		cfg.Nodes, cfg.Accounts = demoTopology(ctx.Int(nodesFlag.Name))
	}

	keys := ledger.MapKeyStore{}
	for _, acc := range cfg.Accounts {
		keys[acc.Address] = []byte(acc.Key)
	}

	nodes := make([]*node.Node, 0, len(cfg.Nodes))
	for _, nc := range cfg.Nodes {
		peers := make([]node.PeerAddr, 0, len(nc.KnownPeers))
		for _, p := range nc.KnownPeers {
			peers = append(peers, node.PeerAddr{Host: p.Host, Port: p.Port})
		}
		n := node.New(node.Config{
			PeerID:           nc.PeerID,
			ListenPort:       nc.ListenPort,
			MinerAddress:     nc.MinerAddress,
			Difficulty:       cfg.Difficulty,
			BlockReward:      cfg.BlockReward,
			KeyStore:         keys,
			KnownPeers:       peers,
			AutoMine:         nc.AutoMine,
			MaxTxsPerBlock:   cfg.MaxTxsPerBlock,
			ChainSyncTimeout: cfg.ChainSyncTimeout,
			OrphanBufferSize: cfg.OrphanBufferSize,
		})
		if err := n.Start(); err != nil {
			return err
		}
		nodes = append(nodes, n)
	}
	printBanner(nodes)

	if addr := ctx.String(statusAddrFlag.Name); addr != "" && len(nodes) > 0 {
		srv := status.New(nodes[0])
		go func() {
			if err := srv.ListenAndServe(addr); err != nil {
				logger.Warnw("status server stopped", "err", err)
			}
		}()
	}

	runCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	submitRandomTransactions(runCtx, nodes, cfg.Accounts, ctx.Int(transactionsFlag.Name))
	runUntilMined(runCtx, nodes, ctx.Int(miningRoundsFlag.Name))

	shutdown(nodes)
	return nil
}

// runUntilMined blocks until every node has mined or synced at least
// rounds blocks past genesis, or until runCtx is cancelled (SIGINT/SIGTERM).
func runUntilMined(runCtx context.Context, nodes []*node.Node, rounds int) {
	if len(nodes) == 0 || rounds <= 0 {
		return
	}
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-runCtx.Done():
			logger.Infow("interrupted, shutting down early")
			return
		case <-ticker.C:
			if minHeight(nodes) >= uint64(rounds) {
				return
			}
		}
	}
}

func minHeight(nodes []*node.Node) uint64 {
	min := nodes[0].Status().Height
	for _, n := range nodes[1:] {
		if h := n.Status().Height; h < min {
			min = h
		}
	}
	return min
}

// shutdown stops every node cleanly and prints a summary, the
// "then shuts every node down cleanly" half of the bounded demo run.
func shutdown(nodes []*node.Node) {
	out := colorable.NewColorableStdout()
	bold := color.New(color.FgYellow, color.Bold)
	bold.Fprintln(out, "simnode: shutting down")
	for _, n := range nodes {
		st := n.Status()
		if err := n.Stop(); err != nil {
			logger.Warnw("node stop failed", "node_id", st.NodeID, "err", err)
			continue
		}
		fmt.Fprintf(out, "  %s stopped, final height=%d\n", st.NodeID, n.Status().Height)
	}
}

// demoTopology builds a default in-process line of n nodes, each node
// after the first knowing only its immediate predecessor, and n fixture
// accounts with randomly generated MAC keys.
func demoTopology(n int) ([]config.NodeConfig, []config.AccountConfig) {
	accounts := make([]config.AccountConfig, 0, n)
	nodes := make([]config.NodeConfig, 0, n)
	basePort := 19000

	for i := 0; i < n; i++ {
		addr := fmt.Sprintf("account-%d", i)
		key, err := uuid.NewV4()
		if err != nil {
			panic(err)
		}
		accounts = append(accounts, config.AccountConfig{
			Address: addr,
			Key:     key.String(),
		})
		nc := config.NodeConfig{
			PeerID:       fmt.Sprintf("node-%d", i),
			ListenPort:   basePort + i,
			MinerAddress: addr,
			AutoMine:     true,
		}
		if i > 0 {
			nc.KnownPeers = []config.PeerConfig{{Host: "127.0.0.1", Port: basePort + i - 1}}
		}
		nodes = append(nodes, nc)
	}
	return nodes, accounts
}

// submitRandomTransactions fires off count transactions at roughly 200ms
// intervals, stopping early if runCtx is cancelled.
func submitRandomTransactions(runCtx context.Context, nodes []*node.Node, accounts []config.AccountConfig, count int) {
	if len(accounts) < 2 || len(nodes) == 0 || count <= 0 {
		return
	}
	go func() {
		time.Sleep(500 * time.Millisecond)
		for i := 0; i < count; i++ {
			select {
			case <-runCtx.Done():
				return
			default:
			}
			si := rand.Intn(len(accounts))
			ri := (si + 1 + rand.Intn(len(accounts)-1)) % len(accounts)
			sender := accounts[si]
			receiver := accounts[ri]
			tx := ledger.Transaction{
				Sender:    sender.Address,
				Receiver:  receiver.Address,
				Amount:    1,
				Fee:       0.01,
				Timestamp: time.Now().Unix(),
			}
			tx.TxID = ledger.ComputeTxID(tx)
			tx.Signature = ledger.Signer{Address: sender.Address, Key: []byte(sender.Key)}.Sign(tx.TxID)

			n := nodes[rand.Intn(len(nodes))]
			n.OnNewTx("local-submit", tx)
			time.Sleep(200 * time.Millisecond)
		}
	}()
}

func printBanner(nodes []*node.Node) {
	out := colorable.NewColorableStdout()
	bold := color.New(color.FgGreen, color.Bold)
	bold.Fprintln(out, "simnode: simulated blockchain network started")
	for _, n := range nodes {
		st := n.Status()
		fmt.Fprintf(out, "  %s listening, height=%d\n", st.NodeID, st.Height)
	}
}
