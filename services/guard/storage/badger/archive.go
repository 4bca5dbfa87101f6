// Copyright (C) 2025 SimulateAI (engineering@simulateai.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package badger

import (
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/dgraph-io/badger/v4"

	"github.com/simulateai/loopguard/services/guard/incident"
)

// incidentPrefix namespaces archive keys so the database can host other
// record types later.
const incidentPrefix = "incident/"

// Archive persists classified incidents. It implements incident.Sink, so
// plugging it into the classifier archives every incident as it is
// raised.
//
// Keys are "incident/<unixnano>/<id>": Badger iterates keys in order, so
// a forward scan yields incidents oldest first and a reverse scan newest
// first.
//
// Thread Safety:
//
//	All methods are safe for concurrent use.
type Archive struct {
	db     *badger.DB
	logger *slog.Logger
}

// NewArchive creates an Archive on an open database. The caller retains
// ownership of db.
func NewArchive(db *badger.DB, logger *slog.Logger) *Archive {
	if logger == nil {
		logger = slog.Default()
	}
	return &Archive{db: db, logger: logger}
}

// OnIncident implements incident.Sink. Write failures are logged, not
// returned; archiving must never block or fail detection.
func (a *Archive) OnIncident(inc incident.Incident) {
	if err := a.put(inc); err != nil {
		a.logger.Warn("failed to archive incident", "incident_id", inc.ID, "error", err)
	}
}

func (a *Archive) put(inc incident.Incident) error {
	data, err := json.Marshal(inc)
	if err != nil {
		return fmt.Errorf("marshal incident: %w", err)
	}
	key := fmt.Sprintf("%s%020d/%s", incidentPrefix, inc.Timestamp.UnixNano(), inc.ID)
	return a.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(key), data)
	})
}

// Recent returns up to limit archived incidents, newest first.
func (a *Archive) Recent(limit int) ([]incident.Incident, error) {
	if limit <= 0 {
		limit = incident.DefaultLogSize
	}

	var out []incident.Incident
	err := a.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Reverse = true
		opts.Prefix = []byte(incidentPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()

		// Reverse iteration must seek past the last key in the prefix
		// range. 0xff sorts after every key byte the prefix produces.
		seek := append([]byte(incidentPrefix), 0xff)
		for it.Seek(seek); it.Valid() && len(out) < limit; it.Next() {
			var inc incident.Incident
			err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &inc)
			})
			if err != nil {
				return fmt.Errorf("decode incident %s: %w", it.Item().Key(), err)
			}
			out = append(out, inc)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Len returns the number of archived incidents.
func (a *Archive) Len() (int, error) {
	count := 0
	err := a.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = []byte(incidentPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			count++
		}
		return nil
	})
	return count, err
}

// Purge deletes every archived incident.
func (a *Archive) Purge() error {
	return a.db.DropPrefix([]byte(incidentPrefix))
}
