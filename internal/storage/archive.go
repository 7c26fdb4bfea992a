package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/mfenderov/reg-rag/pkg/models"
)

// Config holds S3/MinIO client configuration.
type Config struct {
	Endpoint        string // "localhost:9000" for MinIO
	Bucket          string // "reg-rag"
	AccessKeyID     string
	SecretAccessKey string
	UseSSL          bool
}

// Client archives crawled pages in an S3-compatible bucket.
//
// Layout:
//
//	crawls/{host}/{timestamp}-{id}/metadata.json
//	crawls/{host}/{timestamp}-{id}/pages/{urlhash}.json
type Client struct {
	minioClient *minio.Client
	bucket      string
}

// New creates a new S3/MinIO client.
func New(config Config) (*Client, error) {
	if config.Endpoint == "" {
		return nil, fmt.Errorf("endpoint is required")
	}
	if config.Bucket == "" {
		return nil, fmt.Errorf("bucket is required")
	}

	minioClient, err := minio.New(config.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(config.AccessKeyID, config.SecretAccessKey, ""),
		Secure: config.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create minio client: %w", err)
	}

	return &Client{
		minioClient: minioClient,
		bucket:      config.Bucket,
	}, nil
}

// EnsureBucket creates the bucket if it doesn't exist.
func (c *Client) EnsureBucket(ctx context.Context) error {
	exists, err := c.minioClient.BucketExists(ctx, c.bucket)
	if err != nil {
		return fmt.Errorf("failed to check bucket: %w", err)
	}
	if exists {
		return nil
	}

	err = c.minioClient.MakeBucket(ctx, c.bucket, minio.MakeBucketOptions{})
	if err != nil {
		return fmt.Errorf("failed to create bucket: %w", err)
	}
	return nil
}

// CrawlMetadata describes one archived crawl.
type CrawlMetadata struct {
	SourceURL string   `json:"source_url"`
	Prefix    string   `json:"prefix"`
	Timestamp string   `json:"timestamp"`
	PageCount int      `json:"page_count"`
	Pages     []string `json:"pages"` // URLs of archived pages
}

// PageFilename returns the object name used for a page URL.
func PageFilename(pageURL string) string {
	return models.GenerateDocumentID(pageURL) + ".json"
}

// PutPage writes a crawled page under prefix/pages.
func (c *Client) PutPage(ctx context.Context, prefix string, page models.Page) error {
	data, err := json.Marshal(page)
	if err != nil {
		return fmt.Errorf("failed to marshal page: %w", err)
	}
	objectName := path.Join(prefix, "pages", PageFilename(page.URL))
	return c.putJSON(ctx, objectName, data)
}

// PutMetadata writes the crawl metadata JSON.
func (c *Client) PutMetadata(ctx context.Context, prefix string, meta CrawlMetadata) error {
	data, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal metadata: %w", err)
	}
	return c.putJSON(ctx, path.Join(prefix, "metadata.json"), data)
}

func (c *Client) putJSON(ctx context.Context, objectName string, data []byte) error {
	_, err := c.minioClient.PutObject(ctx, c.bucket, objectName, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType: "application/json",
	})
	if err != nil {
		return fmt.Errorf("failed to put %s: %w", objectName, err)
	}
	return nil
}

// ListPages returns the page filenames stored under a prefix.
func (c *Client) ListPages(ctx context.Context, prefix string) ([]string, error) {
	pagesPrefix := path.Join(prefix, "pages") + "/"
	var files []string

	objectCh := c.minioClient.ListObjects(ctx, c.bucket, minio.ListObjectsOptions{
		Prefix:    pagesPrefix,
		Recursive: true,
	})

	for object := range objectCh {
		if object.Err != nil {
			return nil, fmt.Errorf("failed to list objects: %w", object.Err)
		}
		if strings.HasSuffix(object.Key, ".json") {
			files = append(files, path.Base(object.Key))
		}
	}

	return files, nil
}

// GetPage reads an archived page.
func (c *Client) GetPage(ctx context.Context, prefix, filename string) (*models.Page, error) {
	data, err := c.getObject(ctx, path.Join(prefix, "pages", filename))
	if err != nil {
		return nil, err
	}

	var page models.Page
	if err := json.Unmarshal(data, &page); err != nil {
		return nil, fmt.Errorf("failed to unmarshal page %s: %w", filename, err)
	}
	return &page, nil
}

// GetMetadata reads the crawl metadata.
func (c *Client) GetMetadata(ctx context.Context, prefix string) (*CrawlMetadata, error) {
	data, err := c.getObject(ctx, path.Join(prefix, "metadata.json"))
	if err != nil {
		return nil, err
	}

	var meta CrawlMetadata
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, fmt.Errorf("failed to unmarshal metadata: %w", err)
	}
	return &meta, nil
}

func (c *Client) getObject(ctx context.Context, objectName string) ([]byte, error) {
	object, err := c.minioClient.GetObject(ctx, c.bucket, objectName, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("failed to get %s: %w", objectName, err)
	}
	defer object.Close()

	data, err := io.ReadAll(object)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", objectName, err)
	}
	return data, nil
}

// Bucket returns the bucket name.
func (c *Client) Bucket() string {
	return c.bucket
}
