package corpus

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"sort"
	"strings"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

var ErrEmptyCorpus = errors.New("corpus has no documents")

// documentExts are the file extensions loaded as documents.
var documentExts = map[string]bool{".md": true, ".markdown": true, ".txt": true}

// Source yields the corpus documents in a deterministic order.
type Source interface {
	Documents(ctx context.Context) ([]Document, error)
}

// DirSource reads documents from the top level of a filesystem.
type DirSource struct {
	FS fs.FS
}

func NewDirSource(dir string) *DirSource {
	return &DirSource{FS: os.DirFS(dir)}
}

func (s *DirSource) Documents(ctx context.Context) ([]Document, error) {
	entries, err := fs.ReadDir(s.FS, ".")
	if err != nil {
		return nil, fmt.Errorf("failed to read corpus directory: %w", err)
	}

	var docs []Document
	for _, e := range entries {
		if e.IsDir() || !documentExts[strings.ToLower(path.Ext(e.Name()))] {
			continue
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		data, err := fs.ReadFile(s.FS, e.Name())
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", e.Name(), err)
		}
		docs = append(docs, Document{ID: DocumentID(e.Name()), Text: string(data)})
	}
	sortDocuments(docs)
	return docs, nil
}

// S3API is the subset of the S3 client used by S3Source.
type S3API interface {
	ListObjectsV2(ctx context.Context, params *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// S3Source reads documents stored under a bucket prefix.
type S3Source struct {
	Client S3API
	Bucket string
	Prefix string
}

func (s *S3Source) Documents(ctx context.Context) ([]Document, error) {
	var docs []Document
	paginator := s3.NewListObjectsV2Paginator(s.Client, &s3.ListObjectsV2Input{
		Bucket: &s.Bucket,
		Prefix: &s.Prefix,
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to list s3://%s/%s: %w", s.Bucket, s.Prefix, err)
		}
		for _, obj := range page.Contents {
			if obj.Key == nil {
				continue
			}
			key := *obj.Key
			// Only the top level of the prefix, like DirSource.
			if strings.Contains(strings.TrimPrefix(key, s.Prefix), "/") || !documentExts[strings.ToLower(path.Ext(key))] {
				continue
			}
			text, err := s.read(ctx, key)
			if err != nil {
				return nil, err
			}
			docs = append(docs, Document{ID: DocumentID(key), Text: text})
		}
	}
	sortDocuments(docs)
	return docs, nil
}

func (s *S3Source) read(ctx context.Context, key string) (string, error) {
	out, err := s.Client.GetObject(ctx, &s3.GetObjectInput{Bucket: &s.Bucket, Key: &key})
	if err != nil {
		return "", fmt.Errorf("failed to get s3://%s/%s: %w", s.Bucket, key, err)
	}
	defer out.Body.Close()
	data, err := io.ReadAll(out.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read s3://%s/%s: %w", s.Bucket, key, err)
	}
	return string(data), nil
}

func sortDocuments(docs []Document) {
	sort.SliceStable(docs, func(i, j int) bool { return docs[i].ID < docs[j].ID })
}

// S3Config holds connection settings for an S3-compatible store.
type S3Config struct {
	AccessKeyID     string
	SecretAccessKey string
	Endpoint        string
	Region          string
}

// S3ConfigFromEnv reads S3 settings from the environment. S3_* variables take
// precedence over AWS_* ones. With no keys set the default AWS credential
// chain is used.
func S3ConfigFromEnv() (*S3Config, error) {
	cfg := &S3Config{
		AccessKeyID:     firstEnv("S3_ACCESS_KEY_ID", "AWS_ACCESS_KEY_ID"),
		SecretAccessKey: firstEnv("S3_SECRET_ACCESS_KEY", "AWS_SECRET_ACCESS_KEY"),
		Endpoint:        firstEnv("S3_ENDPOINT", "AWS_ENDPOINT_URL"),
		Region:          firstEnv("S3_REGION", "AWS_REGION"),
	}
	if cfg.Region == "" {
		cfg.Region = "us-east-1"
	}
	if (cfg.AccessKeyID == "") != (cfg.SecretAccessKey == "") {
		return nil, fmt.Errorf("S3 access key id and secret access key must be set together")
	}
	return cfg, nil
}

func firstEnv(keys ...string) string {
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			return v
		}
	}
	return ""
}

// NewS3Client builds an S3 client. A custom endpoint (MinIO and friends)
// switches to path-style addressing.
func NewS3Client(ctx context.Context, cfg *S3Config) (*s3.Client, error) {
	opts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(cfg.Region)}
	if cfg.AccessKeyID != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create AWS config: %w", err)
	}

	endpoint := cfg.Endpoint
	return s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if endpoint != "" {
			if !strings.HasPrefix(endpoint, "http://") && !strings.HasPrefix(endpoint, "https://") {
				endpoint = "http://" + endpoint
			}
			o.BaseEndpoint = &endpoint
			o.UsePathStyle = true
		}
	}), nil
}

// ParseS3URI splits s3://bucket/prefix. The prefix is normalized to end in a
// slash when non-empty.
func ParseS3URI(uri string) (bucket, prefix string, err error) {
	rest, ok := strings.CutPrefix(uri, "s3://")
	if !ok {
		return "", "", fmt.Errorf("not an s3 uri: %q", uri)
	}
	bucket, prefix, _ = strings.Cut(rest, "/")
	if bucket == "" {
		return "", "", fmt.Errorf("missing bucket in %q", uri)
	}
	if prefix != "" && !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}
	return bucket, prefix, nil
}

// OpenSource returns a Source for a local directory or an s3:// URI.
func OpenSource(ctx context.Context, location string) (Source, error) {
	if strings.HasPrefix(location, "s3://") {
		bucket, prefix, err := ParseS3URI(location)
		if err != nil {
			return nil, err
		}
		cfg, err := S3ConfigFromEnv()
		if err != nil {
			return nil, fmt.Errorf("failed to load S3 configuration: %w", err)
		}
		client, err := NewS3Client(ctx, cfg)
		if err != nil {
			return nil, err
		}
		return &S3Source{Client: client, Bucket: bucket, Prefix: prefix}, nil
	}

	info, err := os.Stat(location)
	if err != nil {
		return nil, fmt.Errorf("failed to open corpus: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("corpus %s is not a directory", location)
	}
	return NewDirSource(location), nil
}
