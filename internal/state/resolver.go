package state

import (
	"context"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/datapipe-labs/helpdesk-sync/internal/replicate"
	"github.com/datapipe-labs/helpdesk-sync/internal/retry"
)

// Open resolves a store implementation from the DSN scheme and connects with
// retry logic, testing the connection with an initial load.
func Open(ctx context.Context, dsn string) (replicate.Store, error) {
	switch {
	case strings.HasPrefix(dsn, "postgres://"), strings.HasPrefix(dsn, "postgresql://"):
		return openWithRetry(ctx, retry.PostgreSQLDefaults(), "Postgres connect", func() (replicate.Store, error) {
			return OpenPostgres(ctx, dsn)
		})
	case strings.HasPrefix(dsn, "etcd://"):
		return openWithRetry(ctx, retry.EtcdDefaults(), "etcd connect", func() (replicate.Store, error) {
			return OpenEtcd(dsn)
		})
	}
	return nil, fmt.Errorf("unsupported state DSN %q: expected postgres:// or etcd:// scheme", dsn)
}

func openWithRetry(ctx context.Context, config *retry.Config, name string, open func() (replicate.Store, error)) (replicate.Store, error) {
	var store replicate.Store
	err := retry.WithOperation(ctx, config, func() error {
		var attemptErr error
		store, attemptErr = open()
		if attemptErr != nil {
			return attemptErr
		}

		// Test the connection with a state load
		if _, loadErr := store.Load(ctx); loadErr != nil {
			store.Close()
			return loadErr
		}

		return nil
	}, name)

	if err != nil {
		logrus.WithError(err).WithField("operation", name).Error("Failed to establish store connection after all retries")
		return nil, err
	}

	return store, nil
}
