package main

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/leadengine/syncgateway/go/clients/marketplace"
	"github.com/leadengine/syncgateway/go/internal/dbconfig"
	"github.com/leadengine/syncgateway/go/internal/gateway"
	"github.com/leadengine/syncgateway/go/internal/journal"
)

// setupServices wires marketplace client → journal → gateway service.
// pool is nil when no component needs Postgres.
func setupServices(ctx context.Context, config *Config, dbConfig dbconfig.Config, pool *pgxpool.Pool) (*gateway.Service, error) {
	client := marketplace.NewClient(config.Marketplace.BaseURL, config.Marketplace.Token)
	if config.Marketplace.PageSize > 0 {
		client.SetPageSize(config.Marketplace.PageSize)
	}

	// Leave the interface nil, not a typed nil, when the journal is off
	var closures gateway.ClosureJournal
	if config.Journal.Enabled && pool != nil {
		j := journal.New(pool)
		if err := j.EnsureSchema(ctx); err != nil {
			return nil, fmt.Errorf("failed to prepare closure journal: %w", err)
		}
		closures = j
	}

	service, err := gateway.NewService(config.gatewayConfig(dbConfig.DSN()), client, closures)
	if err != nil {
		return nil, fmt.Errorf("failed to create gateway service: %w", err)
	}
	return service, nil
}
