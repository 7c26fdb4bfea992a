package storage

import (
	"context"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/mfenderov/reg-rag/pkg/models"
)

func TestNew_Validation(t *testing.T) {
	tests := []struct {
		name    string
		config  Config
		wantErr bool
	}{
		{
			name:    "empty endpoint",
			config:  Config{Endpoint: "", Bucket: "test"},
			wantErr: true,
		},
		{
			name:    "empty bucket",
			config:  Config{Endpoint: "localhost:9000", Bucket: ""},
			wantErr: true,
		},
		{
			name: "valid config",
			config: Config{
				Endpoint:        "localhost:9000",
				Bucket:          "test",
				AccessKeyID:     "minioadmin",
				SecretAccessKey: "minioadmin",
			},
			wantErr: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.config)
			if (err != nil) != tt.wantErr {
				t.Errorf("New() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestPageFilename(t *testing.T) {
	a := PageFilename("https://www.osha.gov/laws-regs/a")
	b := PageFilename("https://www.osha.gov/laws-regs/b")

	if !strings.HasSuffix(a, ".json") {
		t.Errorf("PageFilename() = %q, want .json suffix", a)
	}
	if a == b {
		t.Error("different URLs should map to different filenames")
	}
	if a != PageFilename("https://www.osha.gov/laws-regs/a") {
		t.Error("PageFilename() should be deterministic")
	}
}

// TestIntegration_ArchiveOperations runs against MinIO.
// Skip if MinIO is not running.
func TestIntegration_ArchiveOperations(t *testing.T) {
	endpoint := os.Getenv("MINIO_ENDPOINT")
	if endpoint == "" {
		endpoint = "localhost:9000"
	}

	client, err := New(Config{
		Endpoint:        endpoint,
		Bucket:          "reg-rag-test",
		AccessKeyID:     "minioadmin",
		SecretAccessKey: "minioadmin",
		UseSSL:          false,
	})
	if err != nil {
		t.Fatalf("Failed to create client: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.EnsureBucket(ctx); err != nil {
		t.Skipf("MinIO not available, skipping integration test: %v", err)
	}

	prefix := "crawls/test.example.com/2024-12-04T17-30-00-test123"
	page := models.Page{
		URL:  "https://test.example.com/laws-regs/1910",
		Text: "Occupational Safety and Health Standards",
		Metadata: models.PageMetadata{
			SourceURL: "https://test.example.com/laws-regs/1910",
			PageTitle: "Part 1910",
		},
	}

	t.Run("PutPage", func(t *testing.T) {
		if err := client.PutPage(ctx, prefix, page); err != nil {
			t.Fatalf("PutPage() error = %v", err)
		}
	})

	t.Run("GetPage", func(t *testing.T) {
		got, err := client.GetPage(ctx, prefix, PageFilename(page.URL))
		if err != nil {
			t.Fatalf("GetPage() error = %v", err)
		}
		if got.Text != page.Text {
			t.Errorf("GetPage().Text = %q, want %q", got.Text, page.Text)
		}
		if got.Metadata.PageTitle != "Part 1910" {
			t.Errorf("GetPage().Metadata.PageTitle = %q, want %q", got.Metadata.PageTitle, "Part 1910")
		}
	})

	t.Run("PutMetadata", func(t *testing.T) {
		meta := CrawlMetadata{
			SourceURL: "https://test.example.com/laws-regs",
			Prefix:    prefix,
			Timestamp: "2024-12-04T17:30:00Z",
			PageCount: 1,
			Pages:     []string{page.URL},
		}
		if err := client.PutMetadata(ctx, prefix, meta); err != nil {
			t.Fatalf("PutMetadata() error = %v", err)
		}
	})

	t.Run("GetMetadata", func(t *testing.T) {
		meta, err := client.GetMetadata(ctx, prefix)
		if err != nil {
			t.Fatalf("GetMetadata() error = %v", err)
		}
		if meta.PageCount != 1 {
			t.Errorf("GetMetadata().PageCount = %d, want %d", meta.PageCount, 1)
		}
	})

	t.Run("ListPages", func(t *testing.T) {
		files, err := client.ListPages(ctx, prefix)
		if err != nil {
			t.Fatalf("ListPages() error = %v", err)
		}
		if len(files) != 1 {
			t.Fatalf("ListPages() returned %d files, want 1", len(files))
		}
		if files[0] != PageFilename(page.URL) {
			t.Errorf("ListPages()[0] = %q, want %q", files[0], PageFilename(page.URL))
		}
	})
}
