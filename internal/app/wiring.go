package app

import (
	"fmt"
	"strings"

	"leavn/api/internal/config"
	"leavn/api/internal/explorer"
)

// ExplorerStatic loads the embedded explorer defaults, overlaid with the
// configured override file when one is set.
func ExplorerStatic(cfg config.Config) (*explorer.Config, error) {
	return explorer.LoadConfig(cfg.ExplorerConfigPath)
}

// ExplorerSource picks object storage when a bucket is configured and the
// local metadata file otherwise. A nil Source means the fallback graph is
// always served.
func ExplorerSource(cfg config.Config) (explorer.Source, error) {
	if cfg.UsesObjectMetadata() {
		source, err := explorer.NewObjectSource(explorer.ObjectConfig{
			Endpoint:  cfg.MinioEndpoint,
			AccessKey: cfg.MinioAccessKey,
			SecretKey: cfg.MinioSecretKey,
			UseSSL:    cfg.MinioUseSSL,
			Bucket:    cfg.ExplorerMetadataBucket,
			Object:    cfg.ExplorerMetadataObject,
		})
		if err != nil {
			return nil, fmt.Errorf("explorer object source: %w", err)
		}
		return source, nil
	}
	if strings.TrimSpace(cfg.ExplorerMetadataPath) == "" {
		return nil, nil
	}
	return explorer.FileSource{Path: cfg.ExplorerMetadataPath}, nil
}
