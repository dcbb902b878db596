// SPDX-License-Identifier: GPL-3.0-or-later

// Package store is a reference downstream Sink: it persists every
// channel's most recent value into an embedded key/value store, keyed
// by channel index, so a receiver process can be restarted without
// losing the last known state of every channel.
package store

import (
	"fmt"
	"os"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/timshannon/badgerhold"

	"github.com/epics-diode/diode-go/dbr"
	"github.com/epics-diode/diode-go/receiver"
)

// Record is one channel's most recently received value, as persisted
// in the store.
type Record struct {
	ChannelIndex uint32 `badgerholdKey:"ChannelIndex"`
	Type         dbr.Type
	Count        uint32
	Value        []byte
	Disconnected bool
	UpdatedAt    time.Time
}

// Store is a BadgerHold-backed Sink implementation.
type Store struct {
	bh  *badgerhold.Store
	log *log.Entry
}

// Open creates or opens a store rooted at dir.
func Open(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("store: %w", err)
	}

	opts := badgerhold.DefaultOptions
	opts.Dir = dir
	opts.ValueDir = dir

	bh, err := badgerhold.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", dir, err)
	}

	return &Store{bh: bh, log: log.WithField("component", "store")}, nil
}

// Close releases the underlying database.
func (s *Store) Close() error {
	return s.bh.Close()
}

// OnUpdate implements receiver.Sink.
func (s *Store) OnUpdate(channelIndex uint32, t dbr.Type, count uint32, value []byte) {
	rec := Record{
		ChannelIndex: channelIndex,
		Type:         t,
		Count:        count,
		Disconnected: count == receiver.DisconnectedCount,
		UpdatedAt:    time.Now(),
	}
	if !rec.Disconnected {
		rec.Value = append([]byte{}, value...)
	}

	if err := s.bh.Insert(channelIndex, &rec); err == badgerhold.ErrKeyExists {
		if err := s.bh.Update(channelIndex, &rec); err != nil {
			s.log.WithError(err).Errorf("failed to update channel %d", channelIndex)
		}
	} else if err != nil {
		s.log.WithError(err).Errorf("failed to persist channel %d", channelIndex)
	}
}

// Get returns the last persisted record for channelIndex.
func (s *Store) Get(channelIndex uint32) (Record, error) {
	var rec Record
	err := s.bh.Get(channelIndex, &rec)
	return rec, err
}

// All returns every persisted record, unordered.
func (s *Store) All() ([]Record, error) {
	var recs []Record
	err := s.bh.Find(&recs, nil)
	return recs, err
}
