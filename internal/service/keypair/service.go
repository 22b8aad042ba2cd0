package keypair

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"time"

	"log/slog"

	"golang.org/x/crypto/ssh"

	"github.com/MRC-CLIMB/bryn/internal/domain"
	"github.com/MRC-CLIMB/bryn/internal/openstack"
	"github.com/MRC-CLIMB/bryn/internal/repository"
	"github.com/MRC-CLIMB/bryn/internal/service/tenant"
)

// Tenants opens tenant scopes for a caller.
type Tenants interface {
	Open(ctx context.Context, ref tenant.Ref) (*tenant.Scope, error)
}

// Service manages the public keys a user keeps on file.
type Service struct {
	keys    repository.KeyPairRepository
	users   repository.UserRepository
	tenants Tenants
	logger  *slog.Logger
	now     func() time.Time
}

// New constructs a Service.
func New(keys repository.KeyPairRepository, users repository.UserRepository, tenants Tenants, logger *slog.Logger) Service {
	return Service{keys: keys, users: users, tenants: tenants, logger: logger, now: time.Now}
}

var (
	// ErrKeyPairNotFound hides other users' keys.
	ErrKeyPairNotFound = domain.NewError(domain.ErrNotFound, "key pair not found")
	// ErrKeyPairMismatch is returned when the tenant holds a different key under the same name.
	ErrKeyPairMismatch = domain.NewError(domain.ErrConflict, "a different key with this name already exists in the tenant")
)

// List returns the caller's keys.
func (s Service) List(ctx context.Context, userID int64) ([]domain.KeyPair, error) {
	return s.keys.ListKeyPairsByUser(ctx, userID)
}

// Create validates and stores a public key in authorized_keys format.
func (s Service) Create(ctx context.Context, userID int64, name, publicKey string) (*domain.KeyPair, error) {
	verr := domain.NewValidationError()
	name = strings.TrimSpace(name)
	if name == "" {
		verr.Add("name", "this field is required")
	}
	parsed, comment, _, _, err := ssh.ParseAuthorizedKey([]byte(strings.TrimSpace(publicKey)))
	if err != nil {
		verr.Add("public_key", "not a valid SSH public key")
	}
	if err := verr.Err(); err != nil {
		return nil, err
	}

	line := strings.TrimSpace(string(ssh.MarshalAuthorizedKey(parsed)))
	if comment != "" {
		line += " " + comment
	}
	kp := &domain.KeyPair{
		UserID:      userID,
		Name:        name,
		PublicKey:   line,
		Fingerprint: ssh.FingerprintSHA256(parsed),
		CreatedAt:   s.now().UTC(),
	}
	if err := s.keys.CreateKeyPair(ctx, kp); err != nil {
		if errors.Is(err, repository.ErrConflict) {
			verr.Add("name", "you already have a key with this name")
			return nil, verr.Err()
		}
		return nil, err
	}
	s.logger.Info("key pair added", "user_id", userID, "name", name, "fingerprint", kp.Fingerprint)
	return kp, nil
}

func (s Service) owned(ctx context.Context, userID, keyPairID int64) (*domain.KeyPair, error) {
	kp, err := s.keys.GetKeyPair(ctx, keyPairID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrKeyPairNotFound
		}
		return nil, err
	}
	if kp.UserID != userID {
		return nil, ErrKeyPairNotFound
	}
	return kp, nil
}

// Delete removes one of the caller's keys.
func (s Service) Delete(ctx context.Context, userID, keyPairID int64) error {
	if _, err := s.owned(ctx, userID, keyPairID); err != nil {
		return err
	}
	return s.keys.DeleteKeyPair(ctx, keyPairID)
}

// SetDefault marks a key as the caller's default.
func (s Service) SetDefault(ctx context.Context, userID, keyPairID int64) (*domain.User, error) {
	kp, err := s.owned(ctx, userID, keyPairID)
	if err != nil {
		return nil, err
	}
	user, err := s.users.GetUserByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	user.DefaultKeyPairID = &kp.ID
	if err := s.users.UpdateUser(ctx, user); err != nil {
		return nil, err
	}
	return user, nil
}

// PushToTenant registers one of the caller's keys with a tenant. Pushing a
// key the tenant already holds is a no-op.
func (s Service) PushToTenant(ctx context.Context, ref tenant.Ref, keyPairID int64) (*openstack.KeyPair, error) {
	kp, err := s.owned(ctx, ref.UserID, keyPairID)
	if err != nil {
		return nil, err
	}
	scope, err := s.tenants.Open(ctx, ref)
	if err != nil {
		return nil, err
	}
	existing, err := scope.Cloud.Keypairs.Get(ctx, kp.Name)
	switch {
	case err == nil:
		if !sameKey(existing, kp.PublicKey) {
			return nil, ErrKeyPairMismatch
		}
		return existing, nil
	case !errors.Is(err, openstack.ErrNotFound):
		return nil, err
	}
	created, err := scope.Cloud.Keypairs.Create(ctx, kp.Name, kp.PublicKey)
	if err != nil {
		return nil, err
	}
	s.logger.Info("key pair pushed", "user_id", ref.UserID, "tenant_id", ref.TenantID, "name", kp.Name)
	return created, nil
}

// sameKey compares the compute API's MD5 fingerprint, or the key material
// when no fingerprint is reported, with a stored key.
func sameKey(remote *openstack.KeyPair, publicKey string) bool {
	parsed, _, _, _, err := ssh.ParseAuthorizedKey([]byte(publicKey))
	if err != nil {
		return false
	}
	if remote.Fingerprint != "" {
		return strings.EqualFold(remote.Fingerprint, ssh.FingerprintLegacyMD5(parsed))
	}
	other, _, _, _, err := ssh.ParseAuthorizedKey([]byte(remote.PublicKey))
	if err != nil {
		return false
	}
	return bytes.Equal(parsed.Marshal(), other.Marshal())
}
