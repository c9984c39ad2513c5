package interfaces

import (
	"context"

	"github.com/bobmcallan/hive/internal/models"
)

// HiveClient provides access to the trading server's pull endpoints
type HiveClient interface {
	// GetBotStatus retrieves the trading bot status
	GetBotStatus(ctx context.Context) (*models.BotStatus, error)

	// GetSignals retrieves the most recent signals, newest first
	GetSignals(ctx context.Context, limit int) ([]models.Signal, error)

	// GetTradingStats retrieves aggregate trading statistics
	GetTradingStats(ctx context.Context) (*models.TradingStats, error)

	// GetSimulationWallet retrieves the simulation wallet snapshot
	GetSimulationWallet(ctx context.Context) (*models.WalletSnapshot, error)

	// GetWallet retrieves a wallet snapshot by id
	GetWallet(ctx context.Context, id string) (*models.WalletSnapshot, error)

	// GetWalletHoldings retrieves only the holdings of a wallet
	GetWalletHoldings(ctx context.Context, id string) ([]models.Holding, error)
}
