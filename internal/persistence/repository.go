package persistence

import "signal-trading-bot-go/internal/models"

// StateRepository defines the interface for engine state and trade persistence.
// It abstracts the underlying storage mechanism (e.g., BadgerDB, in-memory)
// from the rest of the application.
type StateRepository interface {
	// SaveState atomically saves the engine state of one symbol.
	SaveState(state *models.EngineState) error

	// LoadState loads the engine state of a symbol.
	// If no state is found, it should return (nil, nil).
	LoadState(symbol string) (*models.EngineState, error)

	// SaveTrade appends a trade record to the journal.
	SaveTrade(rec *models.TradeRecord) error

	// LoadTrades returns up to limit trades of a symbol, newest first.
	// limit <= 0 returns all of them.
	LoadTrades(symbol string, limit int) ([]models.TradeRecord, error)
}

// ParameterStore holds threshold overrides that seed the engine at startup.
type ParameterStore interface {
	// SaveParameters stores ps as the active set for its symbol.
	SaveParameters(ps *models.ParameterSet) error

	// LoadActiveParameters returns (nil, nil) when the symbol has no overrides.
	LoadActiveParameters(symbol string) (*models.ParameterSet, error)
}

// Repository is the full persistence gateway.
type Repository interface {
	StateRepository
	ParameterStore

	// Close gracefully closes the connection to the database.
	Close() error
}
