package config

import (
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
)

// Validate checks that all required fields are set and values are valid.
func (c *ClientConfig) Validate() error {
	if c.Instance.ID == "" {
		return errors.New("instance.id is required")
	}

	if c.Chain.RPCURL == "" {
		return errors.New("chain.rpc_url is required")
	}
	if c.Chain.ChainID < 1 {
		return errors.New("chain.chain_id must be >= 1")
	}
	if err := c.Chain.Contracts.validate("chain.contracts"); err != nil {
		return err
	}

	switch c.Wallet.Mode {
	case "key":
		if c.Wallet.PrivateKey == "" {
			return errors.New("wallet.private_key is required when wallet.mode is key")
		}
	case "rpc":
		if c.Wallet.RPCURL == "" {
			return errors.New("wallet.rpc_url is required when wallet.mode is rpc")
		}
		if !common.IsHexAddress(c.Wallet.Account) {
			return fmt.Errorf("wallet.account is not a hex address: %q", c.Wallet.Account)
		}
	default:
		return fmt.Errorf("wallet.mode must be key or rpc, got %q", c.Wallet.Mode)
	}

	if c.Polling.GameInterval <= 0 || c.Polling.MarketInterval <= 0 {
		return errors.New("polling.game_interval and polling.market_interval must be > 0")
	}
	if c.Polling.ClaimableMax < 1 {
		return errors.New("polling.claimable_max must be >= 1")
	}

	if c.Game.VRFTimeout <= 0 {
		return errors.New("game.vrf_timeout must be > 0")
	}
	if c.Game.DisconnectAfter < 1 {
		return errors.New("game.disconnect_after must be >= 1")
	}

	if c.Orchestrator.QuoteBufferBP < 0 || c.Orchestrator.QuoteBufferBP > 10000 {
		return fmt.Errorf("orchestrator.quote_buffer_bp must be between 0 and 10000, got %d", c.Orchestrator.QuoteBufferBP)
	}

	if c.Journal.Enabled {
		if err := c.Journal.Database.validate("journal.database"); err != nil {
			return err
		}
		if c.Journal.BatchSize < 1 {
			return errors.New("journal.batch_size must be >= 1")
		}
	}

	if c.Metrics.Port < 1 || c.Metrics.Port > 65535 {
		return fmt.Errorf("metrics.port must be between 1 and 65535, got %d", c.Metrics.Port)
	}

	return nil
}

func (ct *Contracts) validate(prefix string) error {
	required := []struct {
		name  string
		value string
	}{
		{"game", ct.Game},
		{"market", ct.Market},
		{"token", ct.Token},
	}
	for _, r := range required {
		if r.value == "" {
			return fmt.Errorf("%s.%s is required", prefix, r.name)
		}
		if !common.IsHexAddress(r.value) {
			return fmt.Errorf("%s.%s is not a hex address: %q", prefix, r.name, r.value)
		}
	}
	// Optional contracts only need to parse when present.
	for name, value := range map[string]string{"nft": ct.NFT, "quoter": ct.Quoter} {
		if value != "" && !common.IsHexAddress(value) {
			return fmt.Errorf("%s.%s is not a hex address: %q", prefix, name, value)
		}
	}
	return nil
}

func (db *DBConfig) validate(prefix string) error {
	if db.Host == "" {
		return fmt.Errorf("%s.host is required", prefix)
	}
	if db.Name == "" {
		return fmt.Errorf("%s.name is required", prefix)
	}
	if db.User == "" {
		return fmt.Errorf("%s.user is required", prefix)
	}
	if db.MaxConns < 1 {
		return fmt.Errorf("%s.max_conns must be >= 1", prefix)
	}
	if db.MinConns < 0 {
		return fmt.Errorf("%s.min_conns must be >= 0", prefix)
	}
	if db.MinConns > db.MaxConns {
		return fmt.Errorf("%s.min_conns (%d) cannot exceed max_conns (%d)", prefix, db.MinConns, db.MaxConns)
	}
	return nil
}
