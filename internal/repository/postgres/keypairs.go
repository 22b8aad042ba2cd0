package postgres

import (
	"context"

	"github.com/MRC-CLIMB/bryn/internal/domain"
	"github.com/MRC-CLIMB/bryn/internal/repository"
)

// CreateKeyPair stores a public key and sets its identifier.
func (r *Repository) CreateKeyPair(ctx context.Context, kp *domain.KeyPair) error {
	const query = `INSERT INTO key_pairs (user_id, name, public_key, fingerprint, created_at)
		VALUES ($1, $2, $3, $4, $5) RETURNING id`
	err := r.pool.QueryRow(ctx, query, kp.UserID, kp.Name, kp.PublicKey, kp.Fingerprint, kp.CreatedAt).Scan(&kp.ID)
	return mapWriteError(err)
}

// GetKeyPair returns a key pair by identifier.
func (r *Repository) GetKeyPair(ctx context.Context, keyPairID int64) (*domain.KeyPair, error) {
	const query = `SELECT id, user_id, name, public_key, fingerprint, created_at FROM key_pairs WHERE id = $1`
	var kp domain.KeyPair
	if err := r.pool.QueryRow(ctx, query, keyPairID).Scan(&kp.ID, &kp.UserID, &kp.Name, &kp.PublicKey, &kp.Fingerprint, &kp.CreatedAt); err != nil {
		return nil, notFound(err)
	}
	return &kp, nil
}

// ListKeyPairsByUser returns a user's key pairs.
func (r *Repository) ListKeyPairsByUser(ctx context.Context, userID int64) ([]domain.KeyPair, error) {
	const query = `SELECT id, user_id, name, public_key, fingerprint, created_at FROM key_pairs WHERE user_id = $1 ORDER BY name`
	rows, err := r.pool.Query(ctx, query, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]domain.KeyPair, 0)
	for rows.Next() {
		var kp domain.KeyPair
		if err := rows.Scan(&kp.ID, &kp.UserID, &kp.Name, &kp.PublicKey, &kp.Fingerprint, &kp.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, kp)
	}
	return out, rows.Err()
}

// DeleteKeyPair removes a key pair.
func (r *Repository) DeleteKeyPair(ctx context.Context, keyPairID int64) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM key_pairs WHERE id = $1`, keyPairID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}
