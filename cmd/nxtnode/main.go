// Command nxtnode runs a proof-of-stake block tree node: it opens the
// authenticated store, reconstructs the block tree, starts the sync/forge
// controller, and serves it a libp2p peer transport until interrupted.
package main

import (
	"context"
	"fmt"
	"math/big"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/nxtnode/nxtnode/internal/authstore"
	"github.com/nxtnode/nxtnode/internal/blocktree"
	"github.com/nxtnode/nxtnode/internal/chain"
	"github.com/nxtnode/nxtnode/internal/config"
	"github.com/nxtnode/nxtnode/internal/consensus"
	"github.com/nxtnode/nxtnode/internal/controller"
	"github.com/nxtnode/nxtnode/internal/metrics"
	"github.com/nxtnode/nxtnode/internal/p2p"
	"github.com/nxtnode/nxtnode/internal/txpool"
	"github.com/nxtnode/nxtnode/internal/wallet"

	"net/http"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "nxtnode",
	Short: "proof-of-stake block tree node",
}

func main() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "config.yaml", "path to the node's YAML config file")
	rootCmd.AddCommand(startCmd, segmentCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "start the node",
	Run:   runStart,
}

func runStart(cmd *cobra.Command, args []string) {
	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	logger, err := zap.NewProduction()
	if err != nil {
		fmt.Fprintf(os.Stderr, "build logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	store, err := authstore.Open(cfg.TreeDir, logger)
	if err != nil {
		logger.Error("open storage", zap.Error(err))
		os.Exit(1)
	}

	tree, err := blocktree.Open(store, logger, consensus.UnitBalance)
	if err != nil {
		logger.Error("reconstruct tree", zap.Error(err))
		store.Close()
		os.Exit(1)
	}

	if tree.LastBlock() == nil {
		genesis := &chain.Block{
			Version:   1,
			Timestamp: uint64(time.Now().UnixMilli()),
			ParentId:  chain.ZeroBlockId,
			Consensus: consensus.GenesisConsensusData(),
		}
		if err := tree.AppendBlock(genesis); err != nil {
			logger.Error("append genesis block", zap.Error(err))
			store.Close()
			os.Exit(1)
		}
		logger.Info("bootstrapped genesis block")
	}

	wlt, err := wallet.Open(cfg.DataDir)
	if err != nil {
		logger.Error("open wallet", zap.Error(err))
		store.Close()
		os.Exit(1)
	}

	pool := txpool.New()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	node, err := p2p.NewNode(ctx, cfg.ListenPort, cfg.DataDir, logger)
	if err != nil {
		logger.Error("start p2p node", zap.Error(err))
		store.Close()
		os.Exit(1)
	}

	ctrlCfg := controller.DefaultConfig()
	ctrlCfg.OfflineGeneration = cfg.OfflineGeneration
	ctrlCfg.BlockGenerationDelay = cfg.BlockGenerationDelay

	var ctrl *controller.Controller
	net := p2p.NewControllerNetwork(node, func(b *chain.Block, src *controller.PeerID) {
		ctrl.NewBlock(b, src)
	}, logger)
	ctrl = controller.New(ctrlCfg, tree, net, pool, wlt, logger)

	node.InitSyncer(func(req *p2p.SignaturesReq) *p2p.SignaturesResp {
		return buildSignaturesResponse(tree, req)
	})

	if err := node.StartDiscovery(ctx, cfg.DataDir, cfg.EnableMDNS, cfg.Bootnodes); err != nil {
		logger.Warn("start discovery", zap.Error(err))
	}

	go forwardGossipedBlocks(ctx, node, ctrl)
	go announceScoreLoop(ctx, node, tree, logger)
	go ctrl.Run(ctx)
	go serveMetrics(cfg.MetricsAddr, logger)

	logger.Info("node started",
		zap.Int("listen_port", cfg.ListenPort),
		zap.String("data_dir", cfg.DataDir),
	)

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	logger.Info("shutting down")
	cancel()

	if err := node.Close(); err != nil {
		logger.Warn("close p2p node", zap.Error(err))
	}
	if err := store.Commit(); err != nil {
		logger.Warn("final commit", zap.Error(err))
	}
	if err := store.Close(); err != nil {
		logger.Warn("close storage", zap.Error(err))
	}
}

// buildSignaturesResponse answers a peer's locator request with the best
// chain's blocks following the most recent locator entry the tree
// recognizes, oldest first, capped at req.MaxCount.
func buildSignaturesResponse(tree *blocktree.Tree, req *p2p.SignaturesReq) *p2p.SignaturesResp {
	startHeight := uint32(0)
	for _, loc := range req.Locators {
		if h, ok := tree.HeightOf(loc); ok {
			startHeight = h + 1
			break
		}
	}

	max := req.MaxCount
	if max <= 0 || max > controller.MaxBlocksChunks {
		max = controller.MaxBlocksChunks
	}

	resp := &p2p.SignaturesResp{Type: p2p.MsgTypeSignaturesResp}
	for h := startHeight; len(resp.Blocks) < max; h++ {
		b, ok := tree.BlockAt(h)
		if !ok {
			break
		}
		resp.Blocks = append(resp.Blocks, p2p.BlockMsg{Type: p2p.MsgTypeBlock, Data: b.Serialize()})
	}
	return resp
}

func forwardGossipedBlocks(ctx context.Context, node *p2p.Node, ctrl *controller.Controller) {
	for {
		select {
		case <-ctx.Done():
			return
		case b := <-node.IncomingBlocks():
			// A non-nil source marks the block as received, not locally
			// forged, so the controller does not rebroadcast it.
			src := controller.PeerID("gossip")
			ctrl.NewBlock(b, &src)
		}
	}
}

func announceScoreLoop(ctx context.Context, node *p2p.Node, tree *blocktree.Tree, logger *zap.Logger) {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			metrics.ChainHeight.Set(float64(tree.Height()))
			metrics.ChainScore.Set(scoreToFloat(tree.Score()))
			metrics.PeersConnected.Set(float64(node.PeerCount()))
			if err := node.AnnounceScore(tree.Height(), p2p.ScoreToBytes(tree.Score())); err != nil {
				logger.Debug("announce score failed", zap.Error(err))
			}
		}
	}
}

func serveMetrics(addr string, logger *zap.Logger) {
	if addr == "" {
		return
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	if err := http.ListenAndServe(addr, mux); err != nil {
		logger.Warn("metrics server stopped", zap.Error(err))
	}
}

var segmentCmd = &cobra.Command{
	Use:   "segment",
	Short: "authenticate arbitrary files as segmented, Merkle-proven blobs",
}

func init() {
	segmentCmd.AddCommand(segmentImportCmd, segmentProofCmd)
}

var segmentImportCmd = &cobra.Command{
	Use:   "import <dir> <file>",
	Short: "split a file into segments and commit its Merkle tree under dir",
	Args:  cobra.ExactArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		cfg, err := config.Load(configPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "load config: %v\n", err)
			os.Exit(1)
		}
		logger, _ := zap.NewProduction()
		defer logger.Sync()

		store, err := authstore.Open(args[0], logger)
		if err != nil {
			fmt.Fprintf(os.Stderr, "open store: %v\n", err)
			os.Exit(1)
		}
		defer store.Close()

		data, err := os.ReadFile(args[1])
		if err != nil {
			fmt.Fprintf(os.Stderr, "read file: %v\n", err)
			os.Exit(1)
		}

		tree, err := authstore.FromFile(data, cfg.SegmentSize, store)
		if err != nil {
			fmt.Fprintf(os.Stderr, "build merkle tree: %v\n", err)
			os.Exit(1)
		}
		if err := store.Commit(); err != nil {
			fmt.Fprintf(os.Stderr, "commit: %v\n", err)
			os.Exit(1)
		}

		root := tree.RootHash()
		fmt.Printf("root: %x\n", root[:])
	},
}

var segmentProofCmd = &cobra.Command{
	Use:   "proof <dir> <leafCount> <index>",
	Short: "print the Merkle proof for a stored segment",
	Args:  cobra.ExactArgs(3),
	Run: func(cmd *cobra.Command, args []string) {
		cfg, err := config.Load(configPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "load config: %v\n", err)
			os.Exit(1)
		}
		logger, _ := zap.NewProduction()
		defer logger.Sync()

		store, err := authstore.Open(args[0], logger)
		if err != nil {
			fmt.Fprintf(os.Stderr, "open store: %v\n", err)
			os.Exit(1)
		}
		defer store.Close()

		var leafCount, index int
		if _, err := fmt.Sscanf(args[1], "%d", &leafCount); err != nil {
			fmt.Fprintf(os.Stderr, "invalid leafCount: %v\n", err)
			os.Exit(1)
		}
		if _, err := fmt.Sscanf(args[2], "%d", &index); err != nil {
			fmt.Fprintf(os.Stderr, "invalid index: %v\n", err)
			os.Exit(1)
		}

		tree, err := authstore.OpenMerkleTree(store, leafCount, cfg.SegmentSize)
		if err != nil {
			fmt.Fprintf(os.Stderr, "open merkle tree: %v\n", err)
			os.Exit(1)
		}

		block, ok := tree.ByIndex(uint64(index))
		if !ok {
			fmt.Fprintln(os.Stderr, "index out of range")
			os.Exit(1)
		}

		root := tree.RootHash()
		fmt.Printf("root:  %x\n", root[:])
		fmt.Printf("valid: %v\n", block.Check(uint64(index), root))
		for i, h := range block.MerklePath {
			fmt.Printf("sibling[%d]: %x\n", i, h[:])
		}
	},
}

// scoreToFloat converts a cumulative score to float64 for the metrics
// gauge, which has no arbitrary-precision type.
func scoreToFloat(score *big.Int) float64 {
	f, _ := new(big.Float).SetInt(score).Float64()
	return f
}
