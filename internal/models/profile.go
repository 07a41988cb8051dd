// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package models

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"database/sql"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/url"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/autobrr/axon/internal/dbinterface"
	"github.com/autobrr/axon/internal/domain"
)

var ErrProfileNotFound = errors.New("profile not found")

// Profile is a saved daemon connection.
type Profile struct {
	ID                int        `json:"id"`
	Server            string     `json:"server"`
	PasswordEncrypted string     `json:"-"`
	LastUsedAt        *time.Time `json:"last_used_at,omitempty"`
}

func (p Profile) MarshalJSON() ([]byte, error) {
	return json.Marshal(&struct {
		ID         int        `json:"id"`
		Server     string     `json:"server"`
		Password   string     `json:"password,omitempty"`
		LastUsedAt *time.Time `json:"last_used_at,omitempty"`
	}{
		ID:         p.ID,
		Server:     p.Server,
		Password:   domain.RedactString(p.PasswordEncrypted),
		LastUsedAt: p.LastUsedAt,
	})
}

type ProfileStore struct {
	db            dbinterface.Querier
	encryptionKey []byte
}

func NewProfileStore(db dbinterface.Querier, encryptionKey []byte) (*ProfileStore, error) {
	if len(encryptionKey) != 32 {
		return nil, errors.New("encryption key must be 32 bytes")
	}

	return &ProfileStore{
		db:            db,
		encryptionKey: encryptionKey,
	}, nil
}

// encrypt encrypts a string using AES-GCM
func (s *ProfileStore) encrypt(plaintext string) (string, error) {
	block, err := aes.NewCipher(s.encryptionKey)
	if err != nil {
		return "", err
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", err
	}

	ciphertext := gcm.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(ciphertext), nil
}

func (s *ProfileStore) decrypt(ciphertext string) (string, error) {
	data, err := base64.StdEncoding.DecodeString(ciphertext)
	if err != nil {
		return "", err
	}

	block, err := aes.NewCipher(s.encryptionKey)
	if err != nil {
		return "", err
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", err
	}

	if len(data) < gcm.NonceSize() {
		return "", errors.New("malformed ciphertext")
	}

	nonce, ciphertextBytes := data[:gcm.NonceSize()], data[gcm.NonceSize():]
	plaintext, err := gcm.Open(nil, nonce, ciphertextBytes, nil)
	if err != nil {
		return "", err
	}

	return string(plaintext), nil
}

// NormalizeServer validates a daemon URL. A missing scheme defaults to ws://.
func NormalizeServer(rawServer string) (string, error) {
	rawServer = strings.TrimSpace(rawServer)

	if rawServer == "" {
		return "", errors.New("server cannot be empty")
	}

	if !strings.Contains(rawServer, "://") {
		rawServer = "ws://" + rawServer
	}

	u, err := url.Parse(rawServer)
	if err != nil {
		return "", fmt.Errorf("invalid URL format: %w", err)
	}

	if u.Scheme != "ws" && u.Scheme != "wss" {
		return "", fmt.Errorf("unsupported scheme %q: must be ws or wss", u.Scheme)
	}

	if u.Host == "" {
		return "", errors.New("URL must include a host")
	}

	// Credentials travel separately, never inside the stored URL
	u.User = nil
	q := u.Query()
	q.Del("password")
	u.RawQuery = q.Encode()

	return u.String(), nil
}

// Save stores the profile for server, replacing the saved password, and marks it as last used.
func (s *ProfileStore) Save(ctx context.Context, rawServer, password string) (*Profile, error) {
	server, err := NormalizeServer(rawServer)
	if err != nil {
		return nil, err
	}

	encryptedPassword, err := s.encrypt(password)
	if err != nil {
		return nil, fmt.Errorf("failed to encrypt password: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	serverID, err := dbinterface.InternString(ctx, tx, server)
	if err != nil {
		return nil, fmt.Errorf("failed to intern server: %w", err)
	}

	now := time.Now().UTC()

	var id int
	err = tx.QueryRowContext(ctx, `
		INSERT INTO profiles (server_id, password_encrypted, last_used_at)
		VALUES (?, ?, ?)
		ON CONFLICT(server_id) DO UPDATE SET
			password_encrypted = excluded.password_encrypted,
			last_used_at = excluded.last_used_at,
			updated_at = CURRENT_TIMESTAMP
		RETURNING id
	`, serverID, encryptedPassword, now.UnixNano()).Scan(&id)
	if err != nil {
		return nil, fmt.Errorf("failed to save profile: %w", err)
	}

	if err = tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}

	return &Profile{
		ID:                id,
		Server:            server,
		PasswordEncrypted: encryptedPassword,
		LastUsedAt:        &now,
	}, nil
}

func (s *ProfileStore) Get(ctx context.Context, id int) (*Profile, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, server, password_encrypted, last_used_at
		FROM profiles_view
		WHERE id = ?
	`, id)

	return scanProfile(row)
}

// MostRecent returns the last used profile, or ErrProfileNotFound when none are saved.
func (s *ProfileStore) MostRecent(ctx context.Context) (*Profile, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, server, password_encrypted, last_used_at
		FROM profiles_view
		ORDER BY last_used_at DESC, id DESC
		LIMIT 1
	`)

	return scanProfile(row)
}

// FindByServer returns the profile saved for server, compared after normalization.
// The lookup never interns, so a miss leaves the string pool untouched.
func (s *ProfileStore) FindByServer(ctx context.Context, rawServer string) (*Profile, error) {
	server, err := NormalizeServer(rawServer)
	if err != nil {
		return nil, err
	}

	serverID, err := dbinterface.GetStringID(ctx, s.db, server)
	if err != nil {
		return nil, err
	}
	if !serverID.Valid {
		return nil, ErrProfileNotFound
	}

	row := s.db.QueryRowContext(ctx, `
		SELECT p.id, ?, p.password_encrypted, p.last_used_at
		FROM profiles p
		WHERE p.server_id = ?
	`, server, serverID.Int64)

	return scanProfile(row)
}

func (s *ProfileStore) List(ctx context.Context) ([]*Profile, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, server, password_encrypted, last_used_at
		FROM profiles_view
		ORDER BY last_used_at DESC, id DESC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var profiles []*Profile
	for rows.Next() {
		profile, err := scanProfile(rows)
		if err != nil {
			return nil, err
		}
		profiles = append(profiles, profile)
	}

	if err = rows.Err(); err != nil {
		return nil, err
	}

	return profiles, nil
}

func (s *ProfileStore) Delete(ctx context.Context, id int) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	result, err := tx.ExecContext(ctx, "DELETE FROM profiles WHERE id = ?", id)
	if err != nil {
		return err
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrProfileNotFound
	}

	if _, err := dbinterface.PruneStrings(ctx, tx); err != nil {
		return err
	}

	return tx.Commit()
}

func (s *ProfileStore) GetDecryptedPassword(profile *Profile) (string, error) {
	if profile.PasswordEncrypted == "" {
		return "", nil
	}
	return s.decrypt(profile.PasswordEncrypted)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanProfile(row rowScanner) (*Profile, error) {
	var (
		profile  Profile
		lastUsed sql.NullInt64
	)

	if err := row.Scan(&profile.ID, &profile.Server, &profile.PasswordEncrypted, &lastUsed); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrProfileNotFound
		}
		return nil, err
	}

	if lastUsed.Valid {
		t := time.Unix(0, lastUsed.Int64).UTC()
		profile.LastUsedAt = &t
	}

	return &profile, nil
}
