package storage

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strings"

	"github.com/ruteri/tee-oracle-bridge/interfaces"
)

// Factory creates record stores and archive sinks from location URIs.
// The URI format is [scheme]://[auth@]host[:port][/path][?params].
type Factory struct {
	log *slog.Logger

	// memory stores are shared per factory so the key and request store of
	// one process see the same data.
	memory *MemoryStore
}

// NewFactory creates a storage factory.
func NewFactory(log *slog.Logger) *Factory {
	return &Factory{log: log}
}

func (f *Factory) sharedMemory() *MemoryStore {
	if f.memory == nil {
		f.memory = NewMemoryStore()
	}
	return f.memory
}

// KeyStoreFor creates a key store from a location URI.
//
// Supported schemes: memory, file, postgres, vault.
func (f *Factory) KeyStoreFor(ctx context.Context, locationURI string) (interfaces.KeyStore, error) {
	u, err := url.Parse(locationURI)
	if err != nil {
		return nil, fmt.Errorf("invalid store location URI %q: %w", locationURI, err)
	}
	switch strings.ToLower(u.Scheme) {
	case "memory":
		return f.sharedMemory(), nil
	case "file":
		return NewFileStore(u.Path, f.log)
	case "postgres", "postgresql":
		return NewPostgresStore(ctx, locationURI)
	case "vault":
		return f.createVaultKeyStore(u)
	default:
		return nil, fmt.Errorf("unsupported key store scheme: %s", u.Scheme)
	}
}

// RequestStoreFor creates a request store from a location URI.
//
// Supported schemes: memory, file, postgres. Vault is deliberately not
// supported here: request records are high-churn and belong in a database.
func (f *Factory) RequestStoreFor(ctx context.Context, locationURI string) (interfaces.RequestStore, error) {
	u, err := url.Parse(locationURI)
	if err != nil {
		return nil, fmt.Errorf("invalid store location URI %q: %w", locationURI, err)
	}
	switch strings.ToLower(u.Scheme) {
	case "memory":
		return f.sharedMemory(), nil
	case "file":
		return NewFileStore(u.Path, f.log)
	case "postgres", "postgresql":
		return NewPostgresStore(ctx, locationURI)
	default:
		return nil, fmt.Errorf("unsupported request store scheme: %s", u.Scheme)
	}
}

// ArchiveSinkFor creates an archive sink from a location URI.
//
// Supported schemes: file, s3, ipfs.
func (f *Factory) ArchiveSinkFor(locationURI string) (interfaces.ArchiveSink, error) {
	u, err := url.Parse(locationURI)
	if err != nil {
		return nil, fmt.Errorf("invalid archive location URI %q: %w", locationURI, err)
	}
	switch strings.ToLower(u.Scheme) {
	case "file":
		return NewFileArchive(u.Path)
	case "s3":
		return f.createS3Archive(u)
	case "ipfs":
		return NewIPFSArchive(u.Host, f.log)
	default:
		return nil, fmt.Errorf("unsupported archive scheme: %s", u.Scheme)
	}
}

// ArchiveSinksFor creates all sinks from a list of URIs, skipping invalid
// entries with a warning. At least one sink must be valid.
func (f *Factory) ArchiveSinksFor(locationURIs []string) ([]interfaces.ArchiveSink, error) {
	sinks := make([]interfaces.ArchiveSink, 0, len(locationURIs))
	for _, uri := range locationURIs {
		sink, err := f.ArchiveSinkFor(uri)
		if err != nil {
			f.log.Warn("skipping invalid archive location", "uri", uri, "err", err)
			continue
		}
		sinks = append(sinks, sink)
	}
	if len(locationURIs) > 0 && len(sinks) == 0 {
		return nil, fmt.Errorf("no valid archive sinks among %d location(s)", len(locationURIs))
	}
	return sinks, nil
}

func (f *Factory) createVaultKeyStore(u *url.URL) (interfaces.KeyStore, error) {
	// vault://host:8200/mount/base/path?scheme=https
	pathParts := strings.SplitN(strings.TrimPrefix(u.Path, "/"), "/", 2)
	if len(pathParts) < 2 || pathParts[0] == "" || pathParts[1] == "" {
		return nil, fmt.Errorf("vault URI must include mount and base path: vault://host:port/mount/path")
	}
	scheme := u.Query().Get("scheme")
	if scheme == "" {
		scheme = "https"
	}
	address := fmt.Sprintf("%s://%s", scheme, u.Host)
	return NewVaultKeyStore(address, pathParts[0], pathParts[1], f.log)
}

func (f *Factory) createS3Archive(u *url.URL) (interfaces.ArchiveSink, error) {
	// s3://[accessKey:secretKey@]bucket/prefix?region=us-east-1&endpoint=...
	bucket := u.Host
	if bucket == "" {
		return nil, fmt.Errorf("s3 URI must include a bucket name")
	}
	prefix := strings.Trim(u.Path, "/")
	if prefix == "" {
		prefix = "requests"
	}
	region := u.Query().Get("region")
	if region == "" {
		region = "us-east-1"
	}
	endpoint := u.Query().Get("endpoint")

	var accessKey, secretKey string
	if u.User != nil {
		accessKey = u.User.Username()
		secretKey, _ = u.User.Password()
	}
	return NewS3Archive(bucket, prefix, region, endpoint, accessKey, secretKey, f.log)
}
