// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package atoms

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/dgraph-io/badger/v4"
	"github.com/omahs/zupass/internal/log"
	"github.com/omahs/zupass/internal/pipeline/model"
	"github.com/rs/zerolog"
)

// BadgerCache is an embedded, disk-backed Cache for single-node deployments.
// Keys are "atom:<pipeline>\x00<atom>" so no pipeline id is a prefix of
// another's partition.
type BadgerCache struct {
	db     *badger.DB
	logger zerolog.Logger
}

// OpenBadgerCache opens or creates the cache directory at path. An empty
// path keeps the data in memory.
func OpenBadgerCache(path string, logger zerolog.Logger) (*BadgerCache, error) {
	opts := badger.DefaultOptions(path).WithLogger(nil)
	if path == "" {
		opts = opts.WithInMemory(true)
	}
	return openBadger(opts, logger)
}

func openBadger(opts badger.Options, logger zerolog.Logger) (*BadgerCache, error) {
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("atoms: open badger %q: %w", opts.Dir, err)
	}
	return &BadgerCache{db: db, logger: logger}, nil
}

func (c *BadgerCache) Close() error { return c.db.Close() }

func badgerPrefix(pipelineID string) []byte {
	return []byte("atom:" + pipelineID + "\x00")
}

func badgerKey(pipelineID, atomID string) []byte {
	return append(badgerPrefix(pipelineID), atomID...)
}

func encodeAtom(pipelineID string, a model.Atom) ([]byte, error) {
	a.PipelineID = pipelineID
	data, err := json.Marshal(a)
	if err != nil {
		return nil, fmt.Errorf("atoms: encode %s: %w", a.ID, err)
	}
	return data, nil
}

func setAtoms(txn *badger.Txn, pipelineID string, atoms []model.Atom) error {
	for _, a := range atoms {
		data, err := encodeAtom(pipelineID, a)
		if err != nil {
			return err
		}
		if err := txn.Set(badgerKey(pipelineID, a.ID), data); err != nil {
			return err
		}
	}
	return nil
}

func partitionKeys(txn *badger.Txn, prefix []byte) [][]byte {
	it := txn.NewIterator(badger.IteratorOptions{Prefix: prefix})
	defer it.Close()
	var keys [][]byte
	for it.Rewind(); it.Valid(); it.Next() {
		keys = append(keys, it.Item().KeyCopy(nil))
	}
	return keys
}

func deletePrefix(txn *badger.Txn, prefix []byte) error {
	for _, k := range partitionKeys(txn, prefix) {
		if err := txn.Delete(k); err != nil {
			return err
		}
	}
	return nil
}

// writeBatched writes atoms then deletes keys through a WriteBatch, which
// commits in as many transactions as the entry count needs.
func (c *BadgerCache) writeBatched(pipelineID string, atoms []model.Atom, deletes [][]byte) error {
	wb := c.db.NewWriteBatch()
	defer wb.Cancel()
	for _, a := range atoms {
		data, err := encodeAtom(pipelineID, a)
		if err != nil {
			return err
		}
		if err := wb.Set(badgerKey(pipelineID, a.ID), data); err != nil {
			return err
		}
	}
	for _, k := range deletes {
		if err := wb.Delete(k); err != nil {
			return err
		}
	}
	return wb.Flush()
}

// staleKeys lists keys of the partition that atoms does not rewrite.
func (c *BadgerCache) staleKeys(pipelineID string, atoms []model.Atom) ([][]byte, error) {
	keep := make(map[string]struct{}, len(atoms))
	for _, a := range atoms {
		keep[string(badgerKey(pipelineID, a.ID))] = struct{}{}
	}
	var stale [][]byte
	err := c.db.View(func(txn *badger.Txn) error {
		for _, k := range partitionKeys(txn, badgerPrefix(pipelineID)) {
			if _, ok := keep[string(k)]; !ok {
				stale = append(stale, k)
			}
		}
		return nil
	})
	return stale, err
}

func (c *BadgerCache) Save(_ context.Context, pipelineID string, atoms []model.Atom) error {
	if len(atoms) == 0 {
		return nil
	}
	if err := c.writeBatched(pipelineID, atoms, nil); err != nil {
		return fmt.Errorf("atoms: save %s: %w", pipelineID, err)
	}
	return nil
}

func (c *BadgerCache) Load(ctx context.Context, pipelineID string) ([]model.Atom, error) {
	out := []model.Atom{}
	prefix := badgerPrefix(pipelineID)
	err := c.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.IteratorOptions{Prefix: prefix, PrefetchValues: true, PrefetchSize: 100})
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			item := it.Item()
			var a model.Atom
			if err := item.Value(func(val []byte) error {
				return json.Unmarshal(val, &a)
			}); err != nil {
				c.logger.Warn().
					Err(err).
					Str(log.FieldPipelineID, pipelineID).
					Str("atom_key", string(item.Key())).
					Msg("skipping undecodable atom")
				continue
			}
			out = append(out, a)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("atoms: load %s: %w", pipelineID, err)
	}
	sortAtoms(out)
	return out, nil
}

// Replace deletes and rewrites the partition in one transaction. A
// partition too large for one transaction is rewritten through a write
// batch instead: new atoms land first, then the stale keys go, so readers
// never see the partition empty.
func (c *BadgerCache) Replace(_ context.Context, pipelineID string, atoms []model.Atom) error {
	err := c.db.Update(func(txn *badger.Txn) error {
		if err := deletePrefix(txn, badgerPrefix(pipelineID)); err != nil {
			return err
		}
		return setAtoms(txn, pipelineID, atoms)
	})
	if errors.Is(err, badger.ErrTxnTooBig) {
		var stale [][]byte
		if stale, err = c.staleKeys(pipelineID, atoms); err == nil {
			err = c.writeBatched(pipelineID, atoms, stale)
		}
	}
	if err != nil {
		return fmt.Errorf("atoms: replace %s: %w", pipelineID, err)
	}
	return nil
}

func (c *BadgerCache) Clear(_ context.Context, pipelineID string) error {
	var keys [][]byte
	err := c.db.View(func(txn *badger.Txn) error {
		keys = partitionKeys(txn, badgerPrefix(pipelineID))
		return nil
	})
	if err == nil && len(keys) > 0 {
		err = c.writeBatched(pipelineID, nil, keys)
	}
	if err != nil {
		return fmt.Errorf("atoms: clear %s: %w", pipelineID, err)
	}
	return nil
}
