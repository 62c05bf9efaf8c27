// Package redis provides an object storage backend over a Redis
// server, storing each object as a single string value.
package redis

import (
	"bytes"
	"context"
	"io"
	"strconv"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"

	"github.com/poolfs/poolfs/store"
)

// Register with store
func init() {
	store.Register(&store.RegInfo{
		Name:        "redis",
		Description: "Redis object store",
		NewBackend:  NewBackend,
		Options: []store.Option{{
			Name:     "addr",
			Help:     "Redis server address, eg localhost:6379.",
			Required: true,
		}, {
			Name: "password",
			Help: "Password for the Redis server, if any.",
		}, {
			Name:    "db",
			Help:    "Redis database number.",
			Default: "0",
		}, {
			Name:    "expiry",
			Help:    "Expiry for stored objects, eg 24h. \"off\" means objects never expire.",
			Default: "off",
		}},
	})
}

// Options holds the connection parameters for a redis backend.
type Options struct {
	Addr     string
	Password string
	DB       int
	Expiry   store.Duration
}

// NewBackend constructs a redis backend from the config parameters.
func NewBackend(ctx context.Context, params store.Params) (store.Backend, error) {
	opt := Options{
		Addr:     params.GetDefault("addr", ""),
		Password: params.GetDefault("password", ""),
		Expiry:   store.DurationOff,
	}
	db, err := strconv.Atoi(params.GetDefault("db", "0"))
	if err != nil {
		return nil, errors.Wrap(store.ErrBadConfig, "redis: bad db")
	}
	opt.DB = db
	if err := opt.Expiry.Set(params.GetDefault("expiry", "off")); err != nil {
		return nil, errors.Wrap(store.ErrBadConfig, "redis: bad expiry")
	}
	return New(ctx, opt)
}

// Backend stores objects in a Redis database.
type Backend struct {
	client *redis.Client
	expiry time.Duration
}

// New creates a redis backend and checks the server is reachable.
func New(ctx context.Context, opt Options) (*Backend, error) {
	if opt.Addr == "" {
		return nil, errors.Wrap(store.ErrBadConfig, "redis: addr is required")
	}
	client := redis.NewClient(&redis.Options{
		Addr:     opt.Addr,
		Password: opt.Password,
		DB:       opt.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, errors.Wrapf(err, "redis: failed to connect to %q", opt.Addr)
	}
	expiry := time.Duration(0)
	if opt.Expiry.IsSet() {
		expiry = time.Duration(opt.Expiry)
	}
	return &Backend{client: client, expiry: expiry}, nil
}

// Check the interface is satisfied
var _ store.Backend = (*Backend)(nil)

// String converts this Backend to a string for logging
func (b *Backend) String() string {
	return "Redis backend"
}

// Scheme returns the backend scheme
func (b *Backend) Scheme() string {
	return "redis"
}

// Save stores the contents of in under key.
func (b *Backend) Save(ctx context.Context, key string, in io.Reader) error {
	data, err := io.ReadAll(in)
	if err != nil {
		return errors.Wrapf(err, "redis: failed to read data for %q", key)
	}
	if err := b.client.Set(ctx, key, data, b.expiry).Err(); err != nil {
		return errors.Wrapf(err, "redis: failed to store %q", key)
	}
	return nil
}

// Load opens the object stored under key.
func (b *Backend) Load(ctx context.Context, key string) (io.ReadCloser, error) {
	data, err := b.client.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return nil, errors.Wrapf(store.ErrObjectNotFound, "redis: %q", key)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "redis: failed to load %q", key)
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

// Delete removes the object stored under key.
func (b *Backend) Delete(ctx context.Context, key string) error {
	if err := b.client.Del(ctx, key).Err(); err != nil {
		return errors.Wrapf(err, "redis: failed to delete %q", key)
	}
	return nil
}

// Exists reports whether key holds an object.
func (b *Backend) Exists(ctx context.Context, key string) (bool, error) {
	n, err := b.client.Exists(ctx, key).Result()
	if err != nil {
		return false, errors.Wrapf(err, "redis: failed to probe %q", key)
	}
	return n > 0, nil
}

// Close releases the connection to the server.
func (b *Backend) Close() error {
	return b.client.Close()
}
