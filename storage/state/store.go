// Package state persists lending ledger records in a keyed byte store.
// Pools are addressed by asset class and positions by owner address, so any
// Database backend reaches the same record deterministically.
package state

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"

	"lendex/crypto"
	"lendex/lending"
	"lendex/storage"
)

const (
	poolKind     = "pool"
	positionKind = "position"
)

// Store maps lending records onto a storage.Database. Records are JSON
// encoded; big integers and addresses round-trip through their text forms.
type Store struct {
	db storage.Database
}

func NewStore(db storage.Database) *Store {
	return &Store{db: db}
}

func poolKey(asset lending.AssetClass) []byte {
	return []byte(fmt.Sprintf("lend/%s/%d", poolKind, uint8(asset)))
}

func positionKey(owner crypto.Address) []byte {
	return []byte(fmt.Sprintf("lend/%s/%s", positionKind, hex.EncodeToString(owner.Bytes())))
}

// GetPool returns the pool for the asset class, or nil when absent.
func (s *Store) GetPool(asset lending.AssetClass) (*lending.AssetPool, error) {
	raw, err := s.db.Get(poolKey(asset))
	if errors.Is(err, storage.ErrKeyNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	pool := &lending.AssetPool{}
	if err := json.Unmarshal(raw, pool); err != nil {
		return nil, fmt.Errorf("state: decode pool %s: %w", asset, err)
	}
	return pool, nil
}

func (s *Store) PutPool(pool *lending.AssetPool) error {
	if pool == nil {
		return fmt.Errorf("state: nil pool")
	}
	raw, err := json.Marshal(pool)
	if err != nil {
		return fmt.Errorf("state: encode pool %s: %w", pool.Asset, err)
	}
	return s.db.Put(poolKey(pool.Asset), raw)
}

// GetPosition returns the position for the owner, or nil when absent.
func (s *Store) GetPosition(owner crypto.Address) (*lending.Position, error) {
	raw, err := s.db.Get(positionKey(owner))
	if errors.Is(err, storage.ErrKeyNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	position := &lending.Position{}
	if err := json.Unmarshal(raw, position); err != nil {
		return nil, fmt.Errorf("state: decode position %s: %w", owner, err)
	}
	return position, nil
}

func (s *Store) PutPosition(position *lending.Position) error {
	if position == nil {
		return fmt.Errorf("state: nil position")
	}
	raw, err := json.Marshal(position)
	if err != nil {
		return fmt.Errorf("state: encode position %s: %w", position.Owner, err)
	}
	return s.db.Put(positionKey(position.Owner), raw)
}
