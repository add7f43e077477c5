package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Env            string
	Addr           string
	DatabaseURL    string
	JWTSecret      string
	AccessTTL      time.Duration
	RefreshTTL     time.Duration
	CORSOrigin     string
	MeiliURL       string
	MeiliMasterKey string
	// Redis holds refresh sessions when set; otherwise they live in SQL.
	RedisURL string
	// Explorer static data override and metadata location.
	ExplorerConfigPath     string
	ExplorerMetadataPath   string
	ExplorerMetadataBucket string
	ExplorerMetadataObject string
	MinioEndpoint          string
	MinioAccessKey         string
	MinioSecretKey         string
	MinioUseSSL            bool
	TagRemovalPolicy       string
}

func Load() Config {
	return Config{
		Env:                    getenv("APP_ENV", "production"),
		Addr:                   getenv("API_ADDR", ":8787"),
		DatabaseURL:            getenv("DATABASE_URL", "sqlite://./data/leavn.db"),
		JWTSecret:              getenv("LEAVN_JWT_SECRET", "leavn-dev-secret"),
		AccessTTL:              time.Duration(getenvInt("LEAVN_ACCESS_TTL_SECONDS", 900)) * time.Second,
		RefreshTTL:             time.Duration(getenvInt("LEAVN_REFRESH_TTL_SECONDS", 2592000)) * time.Second,
		CORSOrigin:             getenv("LEAVN_CORS_ORIGIN", "*"),
		MeiliURL:               getenv("MEILI_URL", ""),
		MeiliMasterKey:         getenv("MEILI_MASTER_KEY", ""),
		RedisURL:               getenv("REDIS_URL", ""),
		ExplorerConfigPath:     getenv("EXPLORER_CONFIG_PATH", ""),
		ExplorerMetadataPath:   getenv("EXPLORER_METADATA_PATH", "./data/explorer.json"),
		ExplorerMetadataBucket: getenv("EXPLORER_METADATA_BUCKET", ""),
		ExplorerMetadataObject: getenv("EXPLORER_METADATA_OBJECT", "explorer.json"),
		MinioEndpoint:          getenv("MINIO_ENDPOINT", ""),
		MinioAccessKey:         getenv("MINIO_ACCESS_KEY", ""),
		MinioSecretKey:         getenv("MINIO_SECRET_KEY", ""),
		MinioUseSSL:            getenvBool("MINIO_USE_SSL", false),
		TagRemovalPolicy:       getenv("TAG_REMOVAL_POLICY", "owner-or-public"),
	}
}

// CORSOrigins splits the comma separated origin list.
func (c Config) CORSOrigins() []string {
	var origins []string
	for _, origin := range strings.Split(c.CORSOrigin, ",") {
		if origin = strings.TrimSpace(origin); origin != "" {
			origins = append(origins, origin)
		}
	}
	if len(origins) == 0 {
		return []string{"*"}
	}
	return origins
}

// UsesObjectMetadata reports whether explorer metadata comes from object storage.
func (c Config) UsesObjectMetadata() bool {
	return c.MinioEndpoint != "" && c.ExplorerMetadataBucket != ""
}

func getenv(key, fallback string) string {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	return value
}

func getenvInt(key string, fallback int) int {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func getenvBool(key string, fallback bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return fallback
	}
	return parsed
}
