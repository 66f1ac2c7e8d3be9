//
// Tencent is pleased to support the open source community by making vortex-chat available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// vortex-chat is licensed under the Apache License Version 2.0.
//

// Package history mirrors completed turns to an external store for auditing.
// Recording is strictly best-effort: a missing or failing sink never blocks
// or fails a conversation turn.
package history

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"trpc.group/trpc-go/vortex-chat/chat"
	"trpc.group/trpc-go/vortex-chat/log"
)

// Record is one persisted turn half: a user message or an AI response.
type Record struct {
	ConversationID string
	MessageID      string
	Sender         chat.Sender
	Text           string
	FileName       string
	Personality    chat.Personality
	CreatedAt      time.Time
}

// Sink persists records somewhere durable.
type Sink interface {
	Save(ctx context.Context, rec Record) error
	Recent(ctx context.Context, conversationID string, limit int) ([]Record, error)
	Close()
}

// NopSink discards everything. Used when no store is configured.
type NopSink struct{}

// Save discards the record.
func (NopSink) Save(context.Context, Record) error { return nil }

// Recent returns nothing.
func (NopSink) Recent(context.Context, string, int) ([]Record, error) { return nil, nil }

// Close is a no-op.
func (NopSink) Close() {}

// PostgresSink persists records to a conversations_history table.
type PostgresSink struct {
	pool *pgxpool.Pool
}

// NewPostgresSink connects to the given DSN and verifies the connection.
func NewPostgresSink(ctx context.Context, dsn string) (*PostgresSink, error) {
	poolCfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse history DSN: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect history store: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping history store: %w", err)
	}
	return &PostgresSink{pool: pool}, nil
}

// Save inserts one record.
func (s *PostgresSink) Save(ctx context.Context, rec Record) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO conversations_history
		   (conversation_id, message_id, sender, text, file_name, personality, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		rec.ConversationID, rec.MessageID, string(rec.Sender), rec.Text,
		rec.FileName, string(rec.Personality), rec.CreatedAt)
	if err != nil {
		return fmt.Errorf("save history record: %w", err)
	}
	return nil
}

// Recent returns the newest records of one conversation, oldest first so the
// caller can replay them in display order.
func (s *PostgresSink) Recent(ctx context.Context, conversationID string, limit int) ([]Record, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT conversation_id, message_id, sender, text, file_name, personality, created_at
		   FROM conversations_history
		  WHERE conversation_id = $1
		  ORDER BY created_at DESC
		  LIMIT $2`, conversationID, limit)
	if err != nil {
		return nil, fmt.Errorf("query history records: %w", err)
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		var rec Record
		var sender, personality string
		if err := rows.Scan(&rec.ConversationID, &rec.MessageID, &sender,
			&rec.Text, &rec.FileName, &personality, &rec.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan history record: %w", err)
		}
		rec.Sender = chat.Sender(sender)
		rec.Personality = chat.Personality(personality)
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate history records: %w", err)
	}
	for i, j := 0, len(records)-1; i < j; i, j = i+1, j-1 {
		records[i], records[j] = records[j], records[i]
	}
	return records, nil
}

// Close releases the pool.
func (s *PostgresSink) Close() {
	s.pool.Close()
}

// Open returns a Postgres sink when a DSN is configured and reachable, and
// a NopSink otherwise. Connection failures are logged, not fatal.
func Open(ctx context.Context, dsn string) Sink {
	if dsn == "" {
		return NopSink{}
	}
	sink, err := NewPostgresSink(ctx, dsn)
	if err != nil {
		log.Warnf("history store unavailable, recording disabled: %v", err)
		return NopSink{}
	}
	return sink
}
