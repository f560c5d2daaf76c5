package state

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	clientv3 "go.etcd.io/etcd/client/v3"

	"github.com/datapipe-labs/helpdesk-sync/internal/replicate"
)

// EtcdStore persists sync state in etcd, one key per stream under a prefix.
// Useful when several replicators share cursor state across hosts.
type EtcdStore struct {
	client *clientv3.Client
	prefix string
}

// OpenEtcd connects to etcd using the DSN and returns the store.
func OpenEtcd(dsn string) (*EtcdStore, error) {
	config, err := parseEtcdDSN(dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to parse etcd DSN: %w", err)
	}

	client, err := clientv3.New(*config)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to etcd: %w", err)
	}

	logrus.WithField("endpoints", config.Endpoints).Info("Connected to etcd successfully")

	return &EtcdStore{
		client: client,
		prefix: etcdPrefix(dsn),
	}, nil
}

// Load reads every stream bookmark under the prefix.
func (s *EtcdStore) Load(ctx context.Context) (replicate.SyncState, error) {
	resp, err := s.client.Get(ctx, s.prefix, clientv3.WithPrefix(), clientv3.WithSort(clientv3.SortByKey, clientv3.SortAscend))
	if err != nil {
		return nil, fmt.Errorf("failed to get sync state keys: %w", err)
	}

	state := make(replicate.SyncState, len(resp.Kvs))
	for _, kv := range resp.Kvs {
		stream := strings.TrimPrefix(string(kv.Key), s.prefix)
		bookmark := make(map[string]string)
		if err := json.Unmarshal(kv.Value, &bookmark); err != nil {
			return nil, fmt.Errorf("failed to decode bookmark for stream %s: %w", stream, err)
		}
		state[stream] = bookmark
	}

	logrus.WithFields(logrus.Fields{
		"prefix":  s.prefix,
		"streams": len(state),
	}).Debug("Loaded sync state from etcd")

	return state, nil
}

// Save writes each stream's bookmark under its own key.
func (s *EtcdStore) Save(ctx context.Context, state replicate.SyncState) error {
	for stream, bookmark := range state {
		value, err := json.Marshal(bookmark)
		if err != nil {
			return fmt.Errorf("failed to encode bookmark for stream %s: %w", stream, err)
		}
		if _, err := s.client.Put(ctx, s.prefix+stream, string(value)); err != nil {
			return fmt.Errorf("failed to put bookmark for stream %s: %w", stream, err)
		}
	}

	logrus.WithField("streams", len(state)).Debug("Checkpointed sync state to etcd")
	return nil
}

// Close closes the etcd client connection.
func (s *EtcdStore) Close() error {
	if s.client != nil {
		return s.client.Close()
	}
	return nil
}

var _ replicate.Store = (*EtcdStore)(nil)

// parseEtcdDSN parses etcd DSN format: etcd://host1:port1[,host2:port2]/[prefix]?param=value
func parseEtcdDSN(dsn string) (*clientv3.Config, error) {
	if dsn == "" {
		// Use default etcd configuration
		return &clientv3.Config{
			Endpoints:   []string{"127.0.0.1:2379"},
			DialTimeout: 5 * time.Second,
		}, nil
	}

	if !strings.HasPrefix(dsn, "etcd://") {
		return nil, fmt.Errorf("etcd DSN must start with etcd://")
	}

	// Remove etcd:// prefix and parse as URL to handle query parameters
	trimmed := strings.TrimPrefix(dsn, "etcd://")
	u, err := url.Parse("dummy://" + trimmed)
	if err != nil {
		return nil, fmt.Errorf("failed to parse DSN: %w", err)
	}

	endpoints := strings.Split(u.Host, ",")
	for i, endpoint := range endpoints {
		if !strings.Contains(endpoint, ":") {
			endpoints[i] = endpoint + ":2379" // Default etcd port
		}
	}

	config := &clientv3.Config{
		Endpoints:   endpoints,
		DialTimeout: 5 * time.Second,
	}

	params := u.Query()

	if timeout := params.Get("dial_timeout"); timeout != "" {
		if d, err := time.ParseDuration(timeout); err == nil {
			config.DialTimeout = d
		}
	}

	if username := params.Get("username"); username != "" {
		config.Username = username
	}

	if password := params.Get("password"); password != "" {
		config.Password = password
	}

	if tlsParam := params.Get("tls"); tlsParam == "enabled" {
		// Basic TLS config - in production this should be more sophisticated
		config.TLS = &tls.Config{
			InsecureSkipVerify: true, // For development - should be configurable
		}
	}

	return config, nil
}

// etcdPrefix extracts the state key prefix from the DSN path. Defaults to
// /helpdesk-sync/state/.
func etcdPrefix(dsn string) string {
	u, err := url.Parse(dsn)
	if err != nil || u.Path == "" || u.Path == "/" {
		return "/helpdesk-sync/state/"
	}
	prefix := u.Path
	if !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}
	return prefix
}
