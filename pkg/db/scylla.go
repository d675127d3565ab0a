// Package db opens the connections behind the message stores: a gocql
// session for ScyllaDB and a database/sql pool for PostgreSQL.
package db

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/gocql/gocql"
)

// ScyllaOption adjusts the cluster before the session is created.
type ScyllaOption func(*gocql.ClusterConfig) error

// WithConsistency sets the default consistency by name, for example
// "quorum" or "local_quorum". An empty name keeps the default.
func WithConsistency(name string) ScyllaOption {
	return func(c *gocql.ClusterConfig) error {
		if name == "" {
			return nil
		}
		cons, err := gocql.ParseConsistencyWrapper(name)
		if err != nil {
			return err
		}
		c.Consistency = cons
		return nil
	}
}

// WithTimeout bounds both connecting and single queries.
func WithTimeout(d time.Duration) ScyllaOption {
	return func(c *gocql.ClusterConfig) error {
		if d > 0 {
			c.Timeout, c.ConnectTimeout = d, d
		}
		return nil
	}
}

// NewScyllaSession connects to the cluster at hosts. An empty keyspace
// connects without one, for creating it.
func NewScyllaSession(hosts []string, keyspace string, opts ...ScyllaOption) (*gocql.Session, error) {
	cluster := gocql.NewCluster(hosts...)
	cluster.Keyspace = keyspace
	cluster.Consistency = gocql.Quorum
	cluster.Timeout = 5 * time.Second
	cluster.ConnectTimeout = 5 * time.Second
	cluster.RetryPolicy = &gocql.ExponentialBackoffRetryPolicy{
		NumRetries: 3,
		Min:        100 * time.Millisecond,
		Max:        time.Second,
	}
	for _, opt := range opts {
		if err := opt(cluster); err != nil {
			return nil, fmt.Errorf("scylla options: %w", err)
		}
	}

	session, err := cluster.CreateSession()
	if err != nil {
		return nil, fmt.Errorf("connect scylla %v: %w", hosts, err)
	}

	slog.Info("connected to scylla", "hosts", hosts, "keyspace", keyspace, "consistency", cluster.Consistency)
	return session, nil
}

// CreateKeyspace creates keyspace with SimpleStrategy replication.
func CreateKeyspace(session *gocql.Session, keyspace string, replication int) error {
	stmt := fmt.Sprintf(`CREATE KEYSPACE IF NOT EXISTS %s
		WITH replication = {'class': 'SimpleStrategy', 'replication_factor': %d}`,
		keyspace, replication)
	if err := session.Query(stmt).Exec(); err != nil {
		return fmt.Errorf("create keyspace %s: %w", keyspace, err)
	}
	return nil
}
