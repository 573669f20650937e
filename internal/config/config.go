package config

import "time"

// ClientConfig is the root configuration for a client instance.
type ClientConfig struct {
	Instance     InstanceConfig     `yaml:"instance"`
	Chain        ChainConfig        `yaml:"chain"`
	Wallet       WalletConfig       `yaml:"wallet"`
	Polling      PollingConfig      `yaml:"polling"`
	Game         GameConfig         `yaml:"game"`
	Orchestrator OrchestratorConfig `yaml:"orchestrator"`
	Price        PriceConfig        `yaml:"price"`
	Journal      JournalConfig      `yaml:"journal"`
	Metrics      MetricsConfig      `yaml:"metrics"`
}

// InstanceConfig identifies this client.
type InstanceConfig struct {
	ID       string `yaml:"id"`
	LogLevel string `yaml:"log_level"`
}

// ChainConfig holds RPC endpoints and contract addresses.
type ChainConfig struct {
	RPCURL       string        `yaml:"rpc_url"`
	WSURL        string        `yaml:"ws_url"` // Optional; enables newHeads refresh
	ChainID      int64         `yaml:"chain_id"`
	Contracts    Contracts     `yaml:"contracts"`
	CallTimeout  time.Duration `yaml:"call_timeout"`
	MaxRetries   int           `yaml:"max_retries"`
	RetryBackoff time.Duration `yaml:"retry_backoff"`
}

// Contracts holds the hex addresses of the contracts the engine talks to.
type Contracts struct {
	Game   string `yaml:"game"`
	Market string `yaml:"market"`
	Token  string `yaml:"token"`  // ERC-20 used for token-denominated bets and shares
	NFT    string `yaml:"nft"`    // Wrapper for wrap/unwrap/swap operations
	Quoter string `yaml:"quoter"` // Pool quoter for token purchases
}

// WalletConfig selects how transactions are signed.
type WalletConfig struct {
	Mode       string `yaml:"mode"`        // "key" or "rpc"
	PrivateKey string `yaml:"private_key"` // Hex key for mode=key
	RPCURL     string `yaml:"rpc_url"`     // Wallet endpoint for mode=rpc
	Account    string `yaml:"account"`     // Account for mode=rpc
}

// PollingConfig holds per-view poll intervals.
type PollingConfig struct {
	GameInterval      time.Duration `yaml:"game_interval"`
	MarketInterval    time.Duration `yaml:"market_interval"`
	HoldingsInterval  time.Duration `yaml:"holdings_interval"`
	ClaimableInterval time.Duration `yaml:"claimable_interval"`
	FeesInterval      time.Duration `yaml:"fees_interval"`
	PoolInterval      time.Duration `yaml:"pool_interval"`
	ClaimableMax      int           `yaml:"claimable_max"`
	ActivePageSize    int           `yaml:"active_page_size"`
}

// GameConfig holds state machine timing.
type GameConfig struct {
	VRFTimeout      time.Duration `yaml:"vrf_timeout"`
	TradingDelay    time.Duration `yaml:"trading_delay"`
	DisconnectAfter int           `yaml:"disconnect_after"` // Consecutive failed polls
	Tick            time.Duration `yaml:"tick"`
}

// OrchestratorConfig holds transaction orchestration settings.
type OrchestratorConfig struct {
	QuoteBufferBP int           `yaml:"quote_buffer_bp"` // Safety buffer on extrapolated quotes
	WaitTimeout   time.Duration `yaml:"wait_timeout"`    // How long to listen for a receipt
}

// PriceConfig holds the USD price provider settings.
type PriceConfig struct {
	URL             string        `yaml:"url"` // Optional; empty disables USD valuation
	Symbols         []string      `yaml:"symbols"`
	RefreshInterval time.Duration `yaml:"refresh_interval"`
}

// JournalConfig holds the optional intent journal.
type JournalConfig struct {
	Enabled       bool          `yaml:"enabled"`
	Database      DBConfig      `yaml:"database"`
	BatchSize     int           `yaml:"batch_size"`
	FlushInterval time.Duration `yaml:"flush_interval"`
}

// DBConfig holds a single database connection.
type DBConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Name     string `yaml:"name"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	SSLMode  string `yaml:"ssl_mode"`
	MaxConns int    `yaml:"max_conns"`
	MinConns int    `yaml:"min_conns"`
}

// MetricsConfig holds Prometheus and health endpoint settings.
type MetricsConfig struct {
	Port int    `yaml:"port"`
	Path string `yaml:"path"`
}
