package cmd

import (
	"context"
	"fmt"

	"sellwatch/internal/store/postgres"

	"github.com/spf13/viper"
)

// openStore connects to the pipeline's database using the configured
// connection string. The caller owns the returned store.
func openStore(ctx context.Context) (*postgres.Store, error) {
	databaseURL := viper.GetString("database_url")
	if databaseURL == "" {
		return nil, fmt.Errorf("database connection not configured; set it with --database-url or the SELLWATCH_DATABASE_URL environment variable")
	}
	return postgres.Open(ctx, databaseURL)
}
