package explorer

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"gopkg.in/yaml.v3"
)

// CategoryMaps is the explorer metadata: label -> references per category.
type CategoryMaps struct {
	Themes map[string][]string `yaml:"themes" json:"themes"`
	People map[string][]string `yaml:"people" json:"people"`
	Places map[string][]string `yaml:"places" json:"places"`
}

func (m CategoryMaps) byCategory(c Category) map[string][]string {
	switch c {
	case CategoryTheme:
		return m.Themes
	case CategoryPerson:
		return m.People
	case CategoryPlace:
		return m.Places
	default:
		return nil
	}
}

// Source loads category maps from wherever the metadata lives.
type Source interface {
	Load(ctx context.Context) (CategoryMaps, error)
	String() string
}

// DecodeCategoryMaps reads YAML or JSON metadata.
func DecodeCategoryMaps(r io.Reader) (CategoryMaps, error) {
	var maps CategoryMaps
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&maps); err != nil {
		if errors.Is(err, io.EOF) {
			return CategoryMaps{}, errors.New("metadata document is empty")
		}
		return CategoryMaps{}, fmt.Errorf("decode metadata: %w", err)
	}
	for _, c := range []Category{CategoryTheme, CategoryPerson, CategoryPlace} {
		for label := range maps.byCategory(c) {
			if strings.TrimSpace(label) == "" {
				return CategoryMaps{}, fmt.Errorf("%s label must not be blank", c)
			}
		}
	}
	return maps, nil
}

// FileSource reads metadata from a local YAML or JSON file on every Load.
type FileSource struct {
	Path string
}

func (s FileSource) Load(ctx context.Context) (CategoryMaps, error) {
	if err := ctx.Err(); err != nil {
		return CategoryMaps{}, err
	}
	data, err := os.ReadFile(s.Path)
	if err != nil {
		return CategoryMaps{}, fmt.Errorf("read metadata file: %w", err)
	}
	return DecodeCategoryMaps(bytes.NewReader(data))
}

func (s FileSource) String() string {
	return "file:" + s.Path
}

// ObjectSource reads metadata from an S3-compatible bucket.
type ObjectSource struct {
	client *minio.Client
	bucket string
	object string
}

type ObjectConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	UseSSL    bool
	Bucket    string
	Object    string
}

func NewObjectSource(cfg ObjectConfig) (*ObjectSource, error) {
	if cfg.Endpoint == "" || cfg.Bucket == "" || cfg.Object == "" {
		return nil, errors.New("object source requires endpoint, bucket and object")
	}
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("create object storage client: %w", err)
	}
	return &ObjectSource{client: client, bucket: cfg.Bucket, object: cfg.Object}, nil
}

func (s *ObjectSource) Load(ctx context.Context) (CategoryMaps, error) {
	obj, err := s.client.GetObject(ctx, s.bucket, s.object, minio.GetObjectOptions{})
	if err != nil {
		return CategoryMaps{}, fmt.Errorf("get metadata object: %w", err)
	}
	defer obj.Close()

	// GetObject is lazy; request errors surface on first read.
	data, err := io.ReadAll(obj)
	if err != nil {
		return CategoryMaps{}, fmt.Errorf("read metadata object %s/%s: %w", s.bucket, s.object, err)
	}
	return DecodeCategoryMaps(bytes.NewReader(data))
}

func (s *ObjectSource) String() string {
	return fmt.Sprintf("s3://%s/%s", s.bucket, s.object)
}
