package main

import (
	"log"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/perpbook/perpbook/params"
	"github.com/perpbook/perpbook/pkg/api"
	"github.com/perpbook/perpbook/pkg/app"
	"github.com/perpbook/perpbook/pkg/storage"
	"github.com/perpbook/perpbook/pkg/util"
)

func main() {
	// Load config from .env file and environment variables
	cfg := params.LoadFromEnv("")

	logger, err := util.NewLoggerWithFile(cfg.Node.LogFile)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer logger.Sync()
	logger.Info("starting",
		zap.String("api_addr", cfg.Node.APIAddr),
		zap.String("data_dir", cfg.Node.DataDir))

	store, err := storage.Open(filepath.Join(cfg.Node.DataDir, "markets"))
	if err != nil {
		logger.Fatal("storage", zap.Error(err))
	}
	defer store.Close()

	exchange := app.NewExchange(store, logger, util.RealClock{})
	for _, mkt := range cfg.Markets {
		if err := exchange.OpenMarket(mkt); err != nil {
			logger.Fatal("open_market", zap.String("symbol", mkt.Symbol), zap.Error(err))
		}
	}

	server := api.NewServer(exchange, logger)
	if err := server.Start(cfg.Node.APIAddr); err != nil {
		logger.Fatal("api_server", zap.Error(err))
	}
}
