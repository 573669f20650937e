package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/charmbracelet/log"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"

	"github.com/rickgao/blackjack-market/internal/chain"
	"github.com/rickgao/blackjack-market/internal/config"
)

// newLogger returns a slog logger backed by a charmbracelet/log handler.
func newLogger(level string) *slog.Logger {
	handler := log.NewWithOptions(os.Stderr, log.Options{
		ReportTimestamp: true,
		TimeFormat:      time.DateTime,
	})
	lvl, err := log.ParseLevel(level)
	if err != nil {
		lvl = log.InfoLevel
	}
	handler.SetLevel(lvl)
	return slog.New(handler)
}

// loadConfig loads the configuration and sets up the default logger.
func loadConfig() (*config.ClientConfig, *slog.Logger, error) {
	cfg, err := config.LoadAndValidate(cli.Config)
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}
	level := cfg.Instance.LogLevel
	if cli.LogLevel != "" {
		level = cli.LogLevel
	}
	logger := newLogger(level)
	slog.SetDefault(logger)
	return cfg, logger, nil
}

func addresses(c config.Contracts) chain.Addresses {
	return chain.Addresses{
		Game:   common.HexToAddress(c.Game),
		Market: common.HexToAddress(c.Market),
		Token:  common.HexToAddress(c.Token),
		NFT:    common.HexToAddress(c.NFT),
		Quoter: common.HexToAddress(c.Quoter),
	}
}

func newReader(cfg *config.ClientConfig, eth *ethclient.Client, logger *slog.Logger) *chain.Reader {
	return chain.NewReader(eth, addresses(cfg.Chain.Contracts),
		chain.WithTimeout(cfg.Chain.CallTimeout),
		chain.WithRetries(cfg.Chain.MaxRetries, cfg.Chain.RetryBackoff),
		chain.WithLogger(logger.With("component", "chain")),
	)
}

// newWallet builds the signer selected by wallet.mode. The returned close
// func releases the wallet's own RPC connection, if any.
func newWallet(ctx context.Context, cfg *config.ClientConfig, eth *ethclient.Client, logger *slog.Logger) (chain.Wallet, func(), error) {
	logger = logger.With("component", "wallet")

	switch cfg.Wallet.Mode {
	case "key":
		w, err := chain.NewKeyWallet(eth, cfg.Wallet.PrivateKey, cfg.Chain.ChainID, logger)
		if err != nil {
			return nil, nil, err
		}
		return w, func() {}, nil
	case "rpc":
		rc, err := rpc.DialContext(ctx, cfg.Wallet.RPCURL)
		if err != nil {
			return nil, nil, fmt.Errorf("dial wallet: %w", err)
		}
		w := chain.NewRPCWallet(rc, common.HexToAddress(cfg.Wallet.Account), cfg.Chain.ChainID, logger)
		return w, rc.Close, nil
	default:
		return nil, nil, fmt.Errorf("unknown wallet mode %q", cfg.Wallet.Mode)
	}
}
