// Package storage implements the pluggable blob backends: the bytes
// behind an artefact hash live here, separate from the hub's metadata
// about that hash.
package storage

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/aspuru-guzik-group/funsies-sub000/internal/hub"
)

// Engine is the storage abstraction every backend implements: get/put over
// a hash-keyed namespace.
type Engine interface {
	Get(ctx context.Context, hash string) ([]byte, error)
	Put(ctx context.Context, hash string, data []byte) error
}

// ErrNotFound is returned by Get when no bytes are stored under hash.
type ErrNotFound struct{ Hash string }

func (e *ErrNotFound) Error() string { return "storage: no data for hash " + e.Hash }

// Open builds the Engine named by a DATA_URL:
// "hub://" for the hub-resident backend, "file:///absolute/path" for the
// filesystem backend, "s3://bucket/prefix" for the S3-compatible backend.
// client is required only for the hub:// scheme.
func Open(rawURL string, client hub.Client) (Engine, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("storage: parsing DATA_URL %q: %w", rawURL, err)
	}
	switch u.Scheme {
	case "hub":
		if client == nil {
			return nil, fmt.Errorf("storage: hub:// backend requires a hub client")
		}
		return NewHubEngine(client), nil
	case "file":
		return NewFSEngine(u.Path)
	case "s3":
		endpoint := u.Host
		bucket, prefix, _ := strings.Cut(strings.TrimPrefix(u.Path, "/"), "/")
		cfg := S3Config{
			Endpoint: endpoint,
			Bucket:   bucket,
			Prefix:   prefix,
			UseSSL:   u.Query().Get("ssl") != "false",
		}
		if u.User != nil {
			cfg.AccessKeyID = u.User.Username()
			cfg.SecretAccessKey, _ = u.User.Password()
		}
		return NewS3Engine(cfg)
	default:
		return nil, fmt.Errorf("storage: unknown DATA_URL scheme %q", u.Scheme)
	}
}
