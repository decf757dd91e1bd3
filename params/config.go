package params

import (
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

// Market holds the parameters a freshly created market is initialized with.
type Market struct {
	Symbol         string
	BaseDecimals   uint8
	QuoteDecimals  uint8
	MaintenanceBps uint32
	// InitialBlocks is the free pool a new market starts with. Reverse
	// orders allocate during matching, so leave headroom above the
	// expected number of resting orders.
	InitialBlocks uint32
}

type Node struct {
	APIAddr string
	DataDir string
	LogFile string
}

type Config struct {
	Node    Node
	Markets []Market
}

func Default() Config {
	return Config{
		Node: Node{
			APIAddr: ":8080",
			DataDir: "data",
			LogFile: "data/perpd.log",
		},
		Markets: []Market{
			{
				Symbol:         "BTC-USDC",
				BaseDecimals:   8,
				QuoteDecimals:  6,
				MaintenanceBps: 500,
				InitialBlocks:  4096,
			},
		},
	}
}

// LoadFromEnv loads configuration from .env file (if exists) and environment
// variables. Priority: ENV > .env file > defaults.
func LoadFromEnv(envPath string) Config {
	cfg := Default()

	if envPath != "" {
		_ = godotenv.Load(envPath)
	} else {
		_ = godotenv.Load()
	}

	if addr := os.Getenv("API_ADDR"); addr != "" {
		cfg.Node.APIAddr = addr
	}
	if dir := os.Getenv("DATA_DIR"); dir != "" {
		cfg.Node.DataDir = dir
	}
	if f := os.Getenv("LOG_FILE"); f != "" {
		cfg.Node.LogFile = f
	}
	if sym := os.Getenv("MARKET_SYMBOL"); sym != "" {
		cfg.Markets[0].Symbol = sym
	}
	if v := os.Getenv("MARKET_MAINTENANCE_BPS"); v != "" {
		if bps, err := strconv.ParseUint(v, 10, 32); err == nil && bps < 10_000 {
			cfg.Markets[0].MaintenanceBps = uint32(bps)
		}
	}
	if v := os.Getenv("MARKET_INITIAL_BLOCKS"); v != "" {
		if n, err := strconv.ParseUint(v, 10, 32); err == nil && n > 0 {
			cfg.Markets[0].InitialBlocks = uint32(n)
		}
	}
	return cfg
}
