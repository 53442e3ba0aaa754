package persistence

import (
	"encoding/json"
	"errors"
	"fmt"
	"signal-trading-bot-go/internal/models"

	"github.com/dgraph-io/badger/v3"
)

// badgerRepository is the BadgerDB implementation of the Repository.
type badgerRepository struct {
	db *badger.DB
}

// NewBadgerRepository creates and returns a new repository instance connected to a BadgerDB database.
func NewBadgerRepository(dbPath string) (Repository, error) {
	return open(badger.DefaultOptions(dbPath))
}

// NewInMemoryRepository opens a BadgerDB instance that lives only in memory.
func NewInMemoryRepository() (Repository, error) {
	return open(badger.DefaultOptions("").WithInMemory(true))
}

func open(opts badger.Options) (Repository, error) {
	// Badger's own logging is disabled to keep our app's logs clean.
	// Errors will still be returned from DB operations.
	opts.Logger = nil

	db, err := badger.Open(opts)
	if err != nil {
		return nil, err
	}
	return &badgerRepository{db: db}, nil
}

func stateKey(symbol string) []byte { return []byte("state/" + symbol) }
func paramsKey(symbol string) []byte { return []byte("params/" + symbol) }
func tradePrefix(symbol string) []byte {
	return []byte("trade/" + symbol + "/")
}

// tradeKey sorts by time within a symbol: trade/<symbol>/<unix nanos, zero padded>/<id>
func tradeKey(rec *models.TradeRecord) []byte {
	return []byte(fmt.Sprintf("trade/%s/%020d/%s", rec.Symbol, rec.Time.UnixNano(), rec.ID))
}

func (r *badgerRepository) put(key []byte, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return r.db.Update(func(txn *badger.Txn) error {
		return txn.Set(key, data)
	})
}

// get unmarshals the value at key into v. It reports false when the key does not exist.
func (r *badgerRepository) get(key []byte, v any) (bool, error) {
	err := r.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(key)
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			if len(val) == 0 {
				return errors.New("value is empty in database")
			}
			return json.Unmarshal(val, v)
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// SaveState marshals the state into JSON and saves it under the symbol's key.
func (r *badgerRepository) SaveState(state *models.EngineState) error {
	if state == nil || state.Symbol == "" {
		return errors.New("state without symbol")
	}
	return r.put(stateKey(state.Symbol), state)
}

// LoadState returns (nil, nil) if the symbol has no saved state.
func (r *badgerRepository) LoadState(symbol string) (*models.EngineState, error) {
	var state models.EngineState
	found, err := r.get(stateKey(symbol), &state)
	if err != nil || !found {
		return nil, err
	}
	return &state, nil
}

// SaveTrade appends a trade record. Records are never overwritten.
func (r *badgerRepository) SaveTrade(rec *models.TradeRecord) error {
	if rec == nil || rec.Symbol == "" || rec.ID == "" {
		return errors.New("trade record needs symbol and id")
	}
	return r.put(tradeKey(rec), rec)
}

// LoadTrades iterates the symbol's journal backwards.
func (r *badgerRepository) LoadTrades(symbol string, limit int) ([]models.TradeRecord, error) {
	prefix := tradePrefix(symbol)
	var out []models.TradeRecord
	err := r.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Reverse = true
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()

		seek := append(append([]byte{}, prefix...), 0xFF)
		for it.Seek(seek); it.ValidForPrefix(prefix); it.Next() {
			var rec models.TradeRecord
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &rec)
			}); err != nil {
				return err
			}
			out = append(out, rec)
			if limit > 0 && len(out) >= limit {
				break
			}
		}
		return nil
	})
	return out, err
}

// SaveParameters stores ps as active. A zero Version continues from the stored one.
func (r *badgerRepository) SaveParameters(ps *models.ParameterSet) error {
	if ps == nil || ps.Symbol == "" {
		return errors.New("parameter set without symbol")
	}
	if ps.Version == 0 {
		prev, err := r.LoadActiveParameters(ps.Symbol)
		if err != nil {
			return err
		}
		ps.Version = 1
		if prev != nil {
			ps.Version = prev.Version + 1
		}
	}
	return r.put(paramsKey(ps.Symbol), ps)
}

// LoadActiveParameters returns (nil, nil) when nothing was saved for the symbol.
func (r *badgerRepository) LoadActiveParameters(symbol string) (*models.ParameterSet, error) {
	var ps models.ParameterSet
	found, err := r.get(paramsKey(symbol), &ps)
	if err != nil || !found {
		return nil, err
	}
	return &ps, nil
}

// Close gracefully closes the connection to the database.
func (r *badgerRepository) Close() error {
	return r.db.Close()
}
