// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package dbinterface

import (
	"context"
	"database/sql"

	"github.com/pkg/errors"
)

var ErrEmptyString = errors.New("cannot intern empty string")

// InternString stores value in string_pool if missing and returns its ID.
// Designed for use within transactions.
func InternString(ctx context.Context, tx TxQuerier, value string) (int64, error) {
	if value == "" {
		return 0, ErrEmptyString
	}

	// INSERT OR IGNORE + SELECT avoids RETURNING on the unique index
	if _, err := tx.ExecContext(ctx, "INSERT OR IGNORE INTO string_pool (value) VALUES (?)", value); err != nil {
		return 0, errors.Wrap(err, "failed to intern string")
	}

	id, err := GetStringID(ctx, tx, value)
	if err != nil {
		return 0, err
	}
	if !id.Valid {
		return 0, errors.Errorf("failed to get ID for interned string %q", value)
	}

	return id.Int64, nil
}

// GetStringID looks up value without creating it. Missing values yield an invalid NullInt64.
func GetStringID(ctx context.Context, tx TxQuerier, value string) (sql.NullInt64, error) {
	if value == "" {
		return sql.NullInt64{}, nil
	}

	var id int64
	err := tx.QueryRowContext(ctx, "SELECT id FROM string_pool WHERE value = ?", value).Scan(&id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return sql.NullInt64{}, nil
		}
		return sql.NullInt64{}, errors.Wrap(err, "failed to get string ID from pool")
	}

	return sql.NullInt64{Int64: id, Valid: true}, nil
}

// PruneStrings deletes pool entries no longer referenced by any profile.
func PruneStrings(ctx context.Context, tx TxQuerier) (int64, error) {
	res, err := tx.ExecContext(ctx, `
		DELETE FROM string_pool
		WHERE id NOT IN (SELECT server_id FROM profiles)
	`)
	if err != nil {
		return 0, errors.Wrap(err, "failed to prune string pool")
	}
	return res.RowsAffected()
}
