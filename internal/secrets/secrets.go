// Package secrets loads sensitive configuration (the session signing
// key, database credentials) from AWS Secrets Manager when configured,
// with a short in-process cache. Environment variables remain the
// source when no secrets prefix is set.
package secrets

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
)

// Store reads named secrets.
type Store interface {
	Get(ctx context.Context, name string) (string, error)
}

// ManagerStore is an AWS Secrets Manager backed Store with TTL caching
// so restart storms do not hammer the secrets API.
type ManagerStore struct {
	client *secretsmanager.Client
	mu     sync.RWMutex
	cache  map[string]cachedSecret
	ttl    time.Duration
}

type cachedSecret struct {
	value     string
	expiresAt time.Time
}

func NewManagerStore(ctx context.Context, region string) (*ManagerStore, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return NewManagerStoreWithConfig(cfg), nil
}

func NewManagerStoreWithConfig(cfg aws.Config) *ManagerStore {
	return &ManagerStore{
		client: secretsmanager.NewFromConfig(cfg),
		cache:  make(map[string]cachedSecret),
		ttl:    5 * time.Minute,
	}
}

func (s *ManagerStore) Get(ctx context.Context, name string) (string, error) {
	s.mu.RLock()
	if c, ok := s.cache[name]; ok && time.Now().Before(c.expiresAt) {
		s.mu.RUnlock()
		return c.value, nil
	}
	s.mu.RUnlock()

	result, err := s.client.GetSecretValue(ctx, &secretsmanager.GetSecretValueInput{
		SecretId: aws.String(name),
	})
	if err != nil {
		return "", fmt.Errorf("get secret %s: %w", name, err)
	}

	value := ""
	if result.SecretString != nil {
		value = *result.SecretString
	}

	s.mu.Lock()
	s.cache[name] = cachedSecret{value: value, expiresAt: time.Now().Add(s.ttl)}
	s.mu.Unlock()

	return value, nil
}

// Static is a fixed map of secrets for tests and local development.
type Static map[string]string

func (s Static) Get(ctx context.Context, name string) (string, error) {
	v, ok := s[name]
	if !ok {
		return "", fmt.Errorf("secret %s not found", name)
	}
	return v, nil
}

// Overlay fills each destination from the store when it is empty.
// Secret names are "<prefix>/<key>". Secrets that are missing or fail
// to load keep the existing value.
func Overlay(ctx context.Context, store Store, prefix string, dst map[string]*string) {
	for key, target := range dst {
		if *target != "" {
			continue
		}
		value, err := store.Get(ctx, prefix+"/"+key)
		if err != nil {
			continue
		}
		*target = value
	}
}
