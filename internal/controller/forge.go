package controller

import (
	"context"
	"math/big"
	"time"

	"github.com/nxtnode/nxtnode/internal/chain"
	"github.com/nxtnode/nxtnode/internal/consensus"
	"github.com/nxtnode/nxtnode/internal/metrics"
	"go.uber.org/zap"
)

// scheduleForge starts the background forging worker if one is not already
// running. It is a no-op if called again while the previous worker is
// still alive, matching the spec's "attempt forging ... schedule the next
// attempt after blockGenerationDelay" loop.
func (c *Controller) scheduleForge(parent context.Context) {
	if c.stopForge != nil {
		return
	}
	ctx, cancel := context.WithCancel(parent)
	c.stopForge = cancel
	go c.forgeLoop(ctx)
}

// forgeLoop repeatedly attempts to forge across every wallet account,
// injecting the highest-score candidate as a locally-sourced NewBlock. It
// keeps running once started even if the controller later leaves
// Generating, per the spec's no-cancel-in-flight rule; it simply stops
// rescheduling once ctx is cancelled (on transition to Offline).
func (c *Controller) forgeLoop(ctx context.Context) {
	timer := time.NewTimer(c.cfg.BlockGenerationDelay)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-timer.C:
			parent := c.tree.LastBlock()
			if parent == nil {
				timer.Reset(c.cfg.BlockGenerationDelay)
				continue
			}

			best := c.bestForgeCandidate(parent, uint64(now.UnixMilli()))
			if best != nil {
				metrics.BlocksForged.Inc()
				c.logger.Info("controller: forged block", zap.Uint64("timestamp", best.Timestamp))
				c.NewBlock(best, nil)
			}
			timer.Reset(c.cfg.BlockGenerationDelay)
		}
	}
}

// bestForgeCandidate tries every wallet account and returns the one with
// the highest resulting score, or nil if none is currently eligible.
func (c *Controller) bestForgeCandidate(parent *chain.Block, nowMs uint64) *chain.Block {
	var best *chain.Block
	var bestScore *big.Int

	txs := c.pool.Drain(c.cfg.MaxTxPerBlock)

	for _, account := range c.wallet.Accounts() {
		metrics.ForgeAttempts.Inc()
		block, ok := consensus.GenerateNextBlock(parent, account, nowMs, txs, c.cfg.EffectiveBalance)
		if !ok {
			continue
		}
		score := consensus.Score(block.Consensus.BaseTarget)
		if best == nil || score.Cmp(bestScore) > 0 {
			best, bestScore = block, score
		}
	}
	return best
}
