package server

import (
	"context"

	"github.com/redis/go-redis/v9"

	"github.com/adityakum/remitflow/internal/analytics"
)

// HealthService defines behaviour for readiness probes.
type HealthService interface {
	Probe(ctx context.Context) error
}

// RedisHealthService verifies store connectivity as part of health checks.
type RedisHealthService struct {
	Client *redis.Client
}

// Probe implements the HealthService interface.
func (s RedisHealthService) Probe(ctx context.Context) error {
	if s.Client == nil {
		return nil
	}
	return s.Client.Ping(ctx).Err()
}

// GraphHealthService verifies analytics graph connectivity.
type GraphHealthService struct {
	Client analytics.Client
}

// Probe implements the HealthService interface.
func (s GraphHealthService) Probe(ctx context.Context) error {
	if s.Client == nil {
		return nil
	}
	return s.Client.VerifyConnectivity(ctx)
}

// MultiHealthService probes every member and reports the first failure.
type MultiHealthService []HealthService

// Probe implements the HealthService interface.
func (m MultiHealthService) Probe(ctx context.Context) error {
	for _, svc := range m {
		if svc == nil {
			continue
		}
		if err := svc.Probe(ctx); err != nil {
			return err
		}
	}
	return nil
}
