package config

import "time"

// Default values for optional configuration fields.
const (
	DefaultLogLevel          = "info"
	DefaultCallTimeout       = 10 * time.Second
	DefaultMaxRetries        = 3
	DefaultRetryBackoff      = 250 * time.Millisecond
	DefaultWalletMode        = "key"
	DefaultGameInterval      = 1 * time.Second
	DefaultMarketInterval    = 1 * time.Second
	DefaultHoldingsInterval  = 5 * time.Second
	DefaultClaimableInterval = 5 * time.Second
	DefaultFeesInterval      = 60 * time.Second
	DefaultPoolInterval      = 30 * time.Second
	DefaultClaimableMax      = 20
	DefaultActivePageSize    = 50
	DefaultVRFTimeout        = 300 * time.Second
	DefaultTradingDelay      = 30 * time.Second
	DefaultDisconnectAfter   = 5
	DefaultTick              = 1 * time.Second
	DefaultQuoteBufferBP     = 500 // 5%
	DefaultWaitTimeout       = 5 * time.Minute
	DefaultPriceRefresh      = 60 * time.Second
	DefaultDBPort            = 5432
	DefaultDBSSLMode         = "prefer"
	DefaultMaxConns          = 4
	DefaultMinConns          = 1
	DefaultBatchSize         = 100
	DefaultFlushInterval     = 1 * time.Second
	DefaultMetricsPort       = 9090
	DefaultMetricsPath       = "/metrics"
)

func (c *ClientConfig) applyDefaults() {
	if c.Instance.LogLevel == "" {
		c.Instance.LogLevel = DefaultLogLevel
	}

	// Chain defaults
	if c.Chain.CallTimeout == 0 {
		c.Chain.CallTimeout = DefaultCallTimeout
	}
	if c.Chain.MaxRetries == 0 {
		c.Chain.MaxRetries = DefaultMaxRetries
	}
	if c.Chain.RetryBackoff == 0 {
		c.Chain.RetryBackoff = DefaultRetryBackoff
	}

	if c.Wallet.Mode == "" {
		c.Wallet.Mode = DefaultWalletMode
	}

	// Polling defaults
	if c.Polling.GameInterval == 0 {
		c.Polling.GameInterval = DefaultGameInterval
	}
	if c.Polling.MarketInterval == 0 {
		c.Polling.MarketInterval = DefaultMarketInterval
	}
	if c.Polling.HoldingsInterval == 0 {
		c.Polling.HoldingsInterval = DefaultHoldingsInterval
	}
	if c.Polling.ClaimableInterval == 0 {
		c.Polling.ClaimableInterval = DefaultClaimableInterval
	}
	if c.Polling.FeesInterval == 0 {
		c.Polling.FeesInterval = DefaultFeesInterval
	}
	if c.Polling.PoolInterval == 0 {
		c.Polling.PoolInterval = DefaultPoolInterval
	}
	if c.Polling.ClaimableMax == 0 {
		c.Polling.ClaimableMax = DefaultClaimableMax
	}
	if c.Polling.ActivePageSize == 0 {
		c.Polling.ActivePageSize = DefaultActivePageSize
	}

	// Game defaults
	if c.Game.VRFTimeout == 0 {
		c.Game.VRFTimeout = DefaultVRFTimeout
	}
	if c.Game.TradingDelay == 0 {
		c.Game.TradingDelay = DefaultTradingDelay
	}
	if c.Game.DisconnectAfter == 0 {
		c.Game.DisconnectAfter = DefaultDisconnectAfter
	}
	if c.Game.Tick == 0 {
		c.Game.Tick = DefaultTick
	}

	if c.Orchestrator.QuoteBufferBP == 0 {
		c.Orchestrator.QuoteBufferBP = DefaultQuoteBufferBP
	}
	if c.Orchestrator.WaitTimeout == 0 {
		c.Orchestrator.WaitTimeout = DefaultWaitTimeout
	}

	if c.Price.RefreshInterval == 0 {
		c.Price.RefreshInterval = DefaultPriceRefresh
	}

	// Journal defaults
	applyDBDefaults(&c.Journal.Database)
	if c.Journal.BatchSize == 0 {
		c.Journal.BatchSize = DefaultBatchSize
	}
	if c.Journal.FlushInterval == 0 {
		c.Journal.FlushInterval = DefaultFlushInterval
	}

	// Metrics defaults
	if c.Metrics.Port == 0 {
		c.Metrics.Port = DefaultMetricsPort
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = DefaultMetricsPath
	}
}

func applyDBDefaults(db *DBConfig) {
	if db.Port == 0 {
		db.Port = DefaultDBPort
	}
	if db.SSLMode == "" {
		db.SSLMode = DefaultDBSSLMode
	}
	if db.MaxConns == 0 {
		db.MaxConns = DefaultMaxConns
	}
	if db.MinConns == 0 {
		db.MinConns = DefaultMinConns
	}
}
