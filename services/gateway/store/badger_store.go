// Copyright (C) 2025 Green Guardian Contributors (oss@greenguardian.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"github.com/dgraph-io/badger/v4"

	"github.com/greenguardian-ai/gateway/services/gateway/datatypes"
)

// =============================================================================
// Key Layout
// =============================================================================
//
// convidx/<convID>                          -> owner user ID (raw bytes)
// conv/<userID>/<convID>                    -> Conversation JSON
// msg/<convID>/<padded-unixnano>/<msgID>    -> ConversationMessage JSON
//
// The convidx entry lets reads distinguish "not found" from "owned by
// someone else" without scanning every user's conversations. Message keys
// embed a zero-padded creation timestamp so Badger's lexicographic
// iteration yields append order; the message ID suffix keeps keys unique
// when two messages land in the same nanosecond.

const (
	convIdxPrefix = "convidx/"
	convPrefix    = "conv/"
	msgPrefix     = "msg/"
)

func convIdxKey(convID string) []byte {
	return []byte(convIdxPrefix + convID)
}

func convKey(userID, convID string) []byte {
	return []byte(convPrefix + userID + "/" + convID)
}

func msgKey(convID string, unixNano int64, msgID string) []byte {
	return []byte(fmt.Sprintf("%s%s/%020d/%s", msgPrefix, convID, unixNano, msgID))
}

func msgScanPrefix(convID string) []byte {
	return []byte(msgPrefix + convID + "/")
}

// =============================================================================
// BadgerStore
// =============================================================================

// BadgerStore is a ConversationStore backed by embedded BadgerDB.
type BadgerStore struct {
	db *DB
}

// Compile-time check that BadgerStore implements ConversationStore.
var _ ConversationStore = (*BadgerStore)(nil)

// NewBadgerStore opens a conversation store with the given configuration.
func NewBadgerStore(cfg DBConfig) (*BadgerStore, error) {
	db, err := OpenDB(cfg)
	if err != nil {
		return nil, fmt.Errorf("open conversation store: %w", err)
	}
	return &BadgerStore{db: db}, nil
}

// Close closes the underlying database.
func (s *BadgerStore) Close() error {
	return s.db.Close()
}

// CreateConversation persists a new conversation and its ownership index
// entry in a single transaction.
func (s *BadgerStore) CreateConversation(ctx context.Context, conv *datatypes.Conversation) error {
	data, err := json.Marshal(conv)
	if err != nil {
		return fmt.Errorf("marshal conversation: %w", err)
	}

	return s.db.WithTxn(ctx, func(txn *badger.Txn) error {
		if err := txn.Set(convIdxKey(conv.ID), []byte(conv.UserID)); err != nil {
			return fmt.Errorf("write conversation index: %w", err)
		}
		if err := txn.Set(convKey(conv.UserID, conv.ID), data); err != nil {
			return fmt.Errorf("write conversation: %w", err)
		}
		return nil
	})
}

// GetConversation returns the conversation if it exists and is owned by
// userID.
func (s *BadgerStore) GetConversation(ctx context.Context, userID, convID string) (*datatypes.Conversation, error) {
	var conv datatypes.Conversation
	err := s.db.WithReadTxn(ctx, func(txn *badger.Txn) error {
		if err := checkOwnership(txn, userID, convID); err != nil {
			return err
		}
		return readJSON(txn, convKey(userID, convID), &conv)
	})
	if err != nil {
		return nil, err
	}
	return &conv, nil
}

// ListConversations returns all conversations owned by userID, most
// recently updated first.
func (s *BadgerStore) ListConversations(ctx context.Context, userID string) ([]datatypes.Conversation, error) {
	convs := []datatypes.Conversation{}
	err := s.db.WithReadTxn(ctx, func(txn *badger.Txn) error {
		prefix := []byte(convPrefix + userID + "/")
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix

		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			var conv datatypes.Conversation
			err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &conv)
			})
			if err != nil {
				return fmt.Errorf("decode conversation %s: %w", it.Item().Key(), err)
			}
			convs = append(convs, conv)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(convs, func(i, j int) bool {
		return convs[i].UpdatedAt.After(convs[j].UpdatedAt)
	})
	return convs, nil
}

// DeleteConversation removes the conversation, its ownership index entry,
// and all of its messages in a single transaction.
func (s *BadgerStore) DeleteConversation(ctx context.Context, userID, convID string) error {
	return s.db.WithTxn(ctx, func(txn *badger.Txn) error {
		if err := checkOwnership(txn, userID, convID); err != nil {
			return err
		}

		// Collect message keys before deleting; mutating during
		// iteration invalidates the iterator.
		prefix := msgScanPrefix(convID)
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		opts.PrefetchValues = false

		var msgKeys [][]byte
		it := txn.NewIterator(opts)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			msgKeys = append(msgKeys, it.Item().KeyCopy(nil))
		}
		it.Close()

		for _, key := range msgKeys {
			if err := txn.Delete(key); err != nil {
				return fmt.Errorf("delete message %s: %w", key, err)
			}
		}
		if err := txn.Delete(convKey(userID, convID)); err != nil {
			return fmt.Errorf("delete conversation: %w", err)
		}
		if err := txn.Delete(convIdxKey(convID)); err != nil {
			return fmt.Errorf("delete conversation index: %w", err)
		}
		return nil
	})
}

// AppendMessage writes the message and touches the conversation's
// UpdatedAt in the same transaction. UpdatedAt only moves forward, so
// interleaved appends cannot rewind it.
func (s *BadgerStore) AppendMessage(ctx context.Context, userID string, msg *datatypes.ConversationMessage) error {
	msgData, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}

	return s.db.WithTxn(ctx, func(txn *badger.Txn) error {
		if err := checkOwnership(txn, userID, msg.ConversationID); err != nil {
			return err
		}

		var conv datatypes.Conversation
		if err := readJSON(txn, convKey(userID, msg.ConversationID), &conv); err != nil {
			return err
		}
		if msg.CreatedAt.After(conv.UpdatedAt) {
			conv.UpdatedAt = msg.CreatedAt
		}
		convData, err := json.Marshal(&conv)
		if err != nil {
			return fmt.Errorf("marshal conversation: %w", err)
		}

		key := msgKey(msg.ConversationID, msg.CreatedAt.UnixNano(), msg.ID)
		if err := txn.Set(key, msgData); err != nil {
			return fmt.Errorf("write message: %w", err)
		}
		if err := txn.Set(convKey(userID, msg.ConversationID), convData); err != nil {
			return fmt.Errorf("update conversation: %w", err)
		}
		return nil
	})
}

// ListMessages returns the messages of a conversation, oldest first.
func (s *BadgerStore) ListMessages(ctx context.Context, userID, convID string) ([]datatypes.ConversationMessage, error) {
	msgs := []datatypes.ConversationMessage{}
	err := s.db.WithReadTxn(ctx, func(txn *badger.Txn) error {
		if err := checkOwnership(txn, userID, convID); err != nil {
			return err
		}

		prefix := msgScanPrefix(convID)
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix

		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			var msg datatypes.ConversationMessage
			err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &msg)
			})
			if err != nil {
				return fmt.Errorf("decode message %s: %w", it.Item().Key(), err)
			}
			msgs = append(msgs, msg)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return msgs, nil
}

// =============================================================================
// Transaction Helpers
// =============================================================================

// checkOwnership resolves the conversation's owner through the index entry.
// Returns ErrNotFound for unknown conversations and ErrForbidden when the
// owner differs from userID.
func checkOwnership(txn *badger.Txn, userID, convID string) error {
	item, err := txn.Get(convIdxKey(convID))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("read conversation index: %w", err)
	}

	var owner string
	err = item.Value(func(val []byte) error {
		owner = string(val)
		return nil
	})
	if err != nil {
		return fmt.Errorf("read conversation owner: %w", err)
	}

	if owner != userID {
		return ErrForbidden
	}
	return nil
}

// readJSON reads and unmarshals the value at key.
func readJSON(txn *badger.Txn, key []byte, out any) error {
	item, err := txn.Get(key)
	if errors.Is(err, badger.ErrKeyNotFound) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("read %s: %w", key, err)
	}
	return item.Value(func(val []byte) error {
		if err := json.Unmarshal(val, out); err != nil {
			return fmt.Errorf("decode %s: %w", key, err)
		}
		return nil
	})
}
