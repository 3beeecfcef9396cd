package service

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"basegraph.app/gatekeeper/common/id"
	"basegraph.app/gatekeeper/internal/domain"
	"basegraph.app/gatekeeper/internal/eventbus"
	"basegraph.app/gatekeeper/internal/model"
	"basegraph.app/gatekeeper/internal/rbac"
	"basegraph.app/gatekeeper/internal/store"
)

const (
	APIKeyPrefix       = "gk_"
	apiKeySecretBytes  = 32
	apiKeyDisplayChars = 11
)

type CreateAPIKeyInput struct {
	OrganizationID int64
	Name           string
	Description    *string
	Scopes         []string
	// RateLimit is requests per minute. Zero means unlimited.
	RateLimit int32
	ExpiresAt *time.Time
	CreatedBy *int64
}

// APIKeyUpdate carries the fields to change. Nil fields are kept.
type APIKeyUpdate struct {
	Name        *string
	Description *string
	Scopes      []string
	RateLimit   *int32
	IsActive    *bool
}

// IssuedAPIKey is returned when a secret is minted. Secret is shown once and
// cannot be recovered later.
type IssuedAPIKey struct {
	Key    *model.APIKey `json:"key"`
	Secret string        `json:"secret"`
}

type APIKeyService interface {
	Create(ctx context.Context, in CreateAPIKeyInput) (*IssuedAPIKey, error)
	Get(ctx context.Context, id int64) (*model.APIKey, error)
	List(ctx context.Context, orgID int64, activeOnly bool, limit, offset int32) ([]model.APIKey, error)
	Update(ctx context.Context, id int64, in APIKeyUpdate) (*model.APIKey, error)
	// Rotate replaces the secret. The old secret stops working at once.
	Rotate(ctx context.Context, id int64, expiresAt *time.Time) (*IssuedAPIKey, error)
	Revoke(ctx context.Context, id int64) (*model.APIKey, error)
	Delete(ctx context.Context, id int64) error
	// Validate resolves secret to a usable key and charges one request
	// against its rate limit. A non-empty permission must be granted by the
	// key's scopes. Failures are *domain.APIKeyRejectedError.
	Validate(ctx context.Context, secret, permission string) (*model.APIKey, error)
	DeactivateExpired(ctx context.Context) (int64, error)
}

type apiKeyService struct {
	tx        TxRunner
	keys      store.APIKeyStore
	publisher eventbus.Publisher
	limiters  *KeyLimiters
}

func NewAPIKeyService(tx TxRunner, keys store.APIKeyStore, publisher eventbus.Publisher, limiters *KeyLimiters) APIKeyService {
	if limiters == nil {
		limiters = NewKeyLimiters()
	}
	return &apiKeyService{tx: tx, keys: keys, publisher: publisher, limiters: limiters}
}

func (s *apiKeyService) Create(ctx context.Context, in CreateAPIKeyInput) (*IssuedAPIKey, error) {
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return nil, domain.Validationf("api key name is required")
	}
	scopes, err := normalizePermissions(in.Scopes)
	if err != nil {
		return nil, err
	}
	if in.RateLimit < 0 {
		return nil, domain.Validationf("rate limit cannot be negative")
	}
	if in.ExpiresAt != nil && !in.ExpiresAt.After(time.Now()) {
		return nil, domain.Validationf("expiry must be in the future")
	}

	secret, prefix, hash, err := mintAPIKeySecret()
	if err != nil {
		return nil, err
	}
	key := &model.APIKey{
		ID:             id.New(),
		OrganizationID: in.OrganizationID,
		Name:           name,
		Description:    in.Description,
		Prefix:         prefix,
		KeyHash:        hash,
		Scopes:         scopes,
		RateLimit:      in.RateLimit,
		IsActive:       true,
		CreatedBy:      in.CreatedBy,
		ExpiresAt:      in.ExpiresAt,
	}

	var batch eventbus.Batch
	err = s.tx.WithTx(ctx, func(stores StoreProvider) error {
		batch.Reset()
		if _, err := stores.Organizations().GetByID(ctx, in.OrganizationID); err != nil {
			return fmt.Errorf("organization %d: %w", in.OrganizationID, err)
		}
		if err := stores.APIKeys().Create(ctx, key); err != nil {
			return err
		}
		return batch.Add(ctx, stores.Events(), apiKeyDraft(domain.EventAPIKeyCreated, key, nil))
	})
	if err != nil {
		return nil, err
	}
	s.publisher.Publish(ctx, batch.Events()...)

	slog.InfoContext(ctx, "api key created", "api_key_id", key.ID, "organization_id", key.OrganizationID, "prefix", key.Prefix)
	return &IssuedAPIKey{Key: key, Secret: secret}, nil
}

func (s *apiKeyService) Get(ctx context.Context, id int64) (*model.APIKey, error) {
	return s.keys.GetByID(ctx, id)
}

func (s *apiKeyService) List(ctx context.Context, orgID int64, activeOnly bool, limit, offset int32) ([]model.APIKey, error) {
	return s.keys.ListByOrganization(ctx, orgID, activeOnly, limit, offset)
}

func (s *apiKeyService) Update(ctx context.Context, id int64, in APIKeyUpdate) (*model.APIKey, error) {
	if in.Name != nil && strings.TrimSpace(*in.Name) == "" {
		return nil, domain.Validationf("api key name cannot be empty")
	}
	if in.RateLimit != nil && *in.RateLimit < 0 {
		return nil, domain.Validationf("rate limit cannot be negative")
	}
	var scopes []string
	if in.Scopes != nil {
		var err error
		if scopes, err = normalizePermissions(in.Scopes); err != nil {
			return nil, err
		}
	}

	var (
		key   *model.APIKey
		batch eventbus.Batch
	)
	err := s.tx.WithTx(ctx, func(stores StoreProvider) error {
		batch.Reset()
		var err error
		key, err = stores.APIKeys().GetByID(ctx, id)
		if err != nil {
			return err
		}
		if in.Name != nil {
			key.Name = strings.TrimSpace(*in.Name)
		}
		if in.Description != nil {
			key.Description = in.Description
		}
		if in.Scopes != nil {
			key.Scopes = scopes
		}
		if in.RateLimit != nil {
			key.RateLimit = *in.RateLimit
		}
		if in.IsActive != nil {
			key.IsActive = *in.IsActive
		}
		if err := stores.APIKeys().Update(ctx, key); err != nil {
			return err
		}
		return batch.Add(ctx, stores.Events(), apiKeyDraft(domain.EventAPIKeyUpdated, key, nil))
	})
	if err != nil {
		return nil, err
	}
	s.publisher.Publish(ctx, batch.Events()...)
	s.limiters.Forget(key.ID)
	return key, nil
}

func (s *apiKeyService) Rotate(ctx context.Context, id int64, expiresAt *time.Time) (*IssuedAPIKey, error) {
	if expiresAt != nil && !expiresAt.After(time.Now()) {
		return nil, domain.Validationf("expiry must be in the future")
	}
	secret, prefix, hash, err := mintAPIKeySecret()
	if err != nil {
		return nil, err
	}

	var (
		key   *model.APIKey
		batch eventbus.Batch
	)
	err = s.tx.WithTx(ctx, func(stores StoreProvider) error {
		batch.Reset()
		current, err := stores.APIKeys().GetByID(ctx, id)
		if err != nil {
			return err
		}
		key, err = stores.APIKeys().Rotate(ctx, current.ID, prefix, hash, expiresAt)
		if err != nil {
			return err
		}
		return batch.Add(ctx, stores.Events(), apiKeyDraft(domain.EventAPIKeyRotated, key, map[string]any{
			"previous_prefix": current.Prefix,
		}))
	})
	if err != nil {
		return nil, err
	}
	s.publisher.Publish(ctx, batch.Events()...)

	slog.InfoContext(ctx, "api key rotated", "api_key_id", key.ID, "prefix", key.Prefix)
	return &IssuedAPIKey{Key: key, Secret: secret}, nil
}

func (s *apiKeyService) Revoke(ctx context.Context, id int64) (*model.APIKey, error) {
	var (
		key   *model.APIKey
		batch eventbus.Batch
	)
	err := s.tx.WithTx(ctx, func(stores StoreProvider) error {
		batch.Reset()
		var err error
		key, err = stores.APIKeys().GetByID(ctx, id)
		if err != nil {
			return err
		}
		if !key.IsActive {
			return nil
		}
		key.IsActive = false
		if err := stores.APIKeys().Update(ctx, key); err != nil {
			return err
		}
		return batch.Add(ctx, stores.Events(), apiKeyDraft(domain.EventAPIKeyRevoked, key, nil))
	})
	if err != nil {
		return nil, err
	}
	s.publisher.Publish(ctx, batch.Events()...)
	s.limiters.Forget(key.ID)
	return key, nil
}

func (s *apiKeyService) Delete(ctx context.Context, id int64) error {
	var batch eventbus.Batch
	err := s.tx.WithTx(ctx, func(stores StoreProvider) error {
		batch.Reset()
		key, err := stores.APIKeys().GetByID(ctx, id)
		if err != nil {
			return err
		}
		if err := stores.APIKeys().Delete(ctx, key.ID); err != nil {
			return err
		}
		return batch.Add(ctx, stores.Events(), apiKeyDraft(domain.EventAPIKeyDeleted, key, nil))
	})
	if err != nil {
		return err
	}
	s.publisher.Publish(ctx, batch.Events()...)
	s.limiters.Forget(id)
	return nil
}

func (s *apiKeyService) Validate(ctx context.Context, secret, permission string) (*model.APIKey, error) {
	if !strings.HasPrefix(secret, APIKeyPrefix) {
		return nil, &domain.APIKeyRejectedError{Reason: domain.APIKeyInvalid}
	}
	key, err := s.keys.GetByHash(ctx, hashAPIKeySecret(secret))
	if errors.Is(err, store.ErrNotFound) {
		return nil, &domain.APIKeyRejectedError{Reason: domain.APIKeyInvalid}
	}
	if err != nil {
		return nil, fmt.Errorf("looking up api key: %w", err)
	}

	switch {
	case !key.IsActive:
		return nil, &domain.APIKeyRejectedError{KeyID: key.ID, Reason: domain.APIKeyInactive}
	case key.Expired(time.Now()):
		return nil, &domain.APIKeyRejectedError{KeyID: key.ID, Reason: domain.APIKeyExpired}
	case !s.limiters.Allow(key):
		return nil, &domain.APIKeyRejectedError{KeyID: key.ID, Reason: domain.APIKeyRateLimited}
	case permission != "" && !rbac.Grants(key.Scopes, permission):
		return nil, &domain.APIKeyRejectedError{KeyID: key.ID, Reason: domain.APIKeyInsufficientScope}
	}

	if err := s.keys.TouchLastUsed(ctx, key.ID); err != nil {
		slog.WarnContext(ctx, "failed to record api key use", "api_key_id", key.ID, "error", err)
	}
	return key, nil
}

func (s *apiKeyService) DeactivateExpired(ctx context.Context) (int64, error) {
	n, err := s.keys.DeactivateExpired(ctx, time.Now())
	if err != nil {
		return 0, err
	}
	if n > 0 {
		slog.InfoContext(ctx, "deactivated expired api keys", "count", n)
	}
	return n, nil
}

func apiKeyDraft(kind domain.EventKind, key *model.APIKey, extra map[string]any) eventbus.Draft {
	data := map[string]any{
		"api_key_id": idString(key.ID),
		"org_id":     idString(key.OrganizationID),
		"name":       key.Name,
		"prefix":     key.Prefix,
		"scopes":     key.Scopes,
		"is_active":  key.IsActive,
	}
	for k, v := range extra {
		data[k] = v
	}
	return eventbus.Draft{
		Kind:           kind,
		OrganizationID: &key.OrganizationID,
		SubjectIDs:     []string{idString(key.ID), idString(key.OrganizationID)},
		Data:           data,
	}
}

// mintAPIKeySecret returns the secret handed to the caller, the short prefix
// kept for display, and the hash used for lookups.
func mintAPIKeySecret() (secret, prefix, hash string, err error) {
	b := make([]byte, apiKeySecretBytes)
	if _, err := rand.Read(b); err != nil {
		return "", "", "", fmt.Errorf("generating api key: %w", err)
	}
	secret = APIKeyPrefix + base64.RawURLEncoding.EncodeToString(b)
	return secret, secret[:apiKeyDisplayChars], hashAPIKeySecret(secret), nil
}

func hashAPIKeySecret(secret string) string {
	sum := sha256.Sum256([]byte(secret))
	return hex.EncodeToString(sum[:])
}

// KeyLimiters holds one token bucket per API key for this process. Buckets
// are rebuilt when a key's limit changes.
type KeyLimiters struct {
	mu      sync.Mutex
	buckets map[int64]keyBucket
}

type keyBucket struct {
	perMinute int32
	limiter   *rate.Limiter
}

func NewKeyLimiters() *KeyLimiters {
	return &KeyLimiters{buckets: map[int64]keyBucket{}}
}

// Allow charges one request to key. Keys with no limit always pass.
func (l *KeyLimiters) Allow(key *model.APIKey) bool {
	if key.RateLimit <= 0 {
		return true
	}
	l.mu.Lock()
	b, ok := l.buckets[key.ID]
	if !ok || b.perMinute != key.RateLimit {
		b = keyBucket{
			perMinute: key.RateLimit,
			limiter:   rate.NewLimiter(rate.Every(time.Minute/time.Duration(key.RateLimit)), int(key.RateLimit)),
		}
		l.buckets[key.ID] = b
	}
	l.mu.Unlock()
	return b.limiter.Allow()
}

func (l *KeyLimiters) Forget(keyID int64) {
	l.mu.Lock()
	delete(l.buckets, keyID)
	l.mu.Unlock()
}
