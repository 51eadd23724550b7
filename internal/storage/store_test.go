package storage

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestCleanKey(t *testing.T) {
	cases := map[string]bool{
		"property-images/a.jpg":     true,
		"property-images/./b.png":   true,
		"":                          false,
		"/etc/passwd":               false,
		"../secret":                 false,
		"property-images/../../x":   false,
		"property-images\\evil.jpg": false,
	}

	for key, ok := range cases {
		_, err := CleanKey(key)
		if ok && err != nil {
			t.Fatalf("expected %q to be accepted, got %v", key, err)
		}
		if !ok && !errors.Is(err, ErrInvalidKey) {
			t.Fatalf("expected %q to be rejected, got %v", key, err)
		}
	}
}

func TestNewKeyKeepsExtension(t *testing.T) {
	key := NewKey("/property-images/", "Front Door.JPG")
	if !strings.HasPrefix(key, "property-images/") || !strings.HasSuffix(key, ".jpg") {
		t.Fatalf("unexpected key %q", key)
	}
	if NewKey("p", "photo.jpg") == NewKey("p", "photo.jpg") {
		t.Fatal("expected unique keys")
	}
}

func TestFilesystemStorePutAndDelete(t *testing.T) {
	dir := t.TempDir()
	store, err := NewFilesystemStore(dir, "http://localhost:8080/")
	if err != nil {
		t.Fatalf("NewFilesystemStore returned error: %v", err)
	}

	key := "property-images/house.jpg"
	if err := store.Put(context.Background(), key, strings.NewReader("jpeg-bytes"), 10, "image/jpeg"); err != nil {
		t.Fatalf("Put returned error: %v", err)
	}

	contents, err := os.ReadFile(filepath.Join(dir, "property-images", "house.jpg"))
	if err != nil {
		t.Fatalf("read stored object: %v", err)
	}
	if string(contents) != "jpeg-bytes" {
		t.Fatalf("unexpected contents %q", contents)
	}

	if got := store.PublicURL(key); got != "http://localhost:8080/storage/property-images/house.jpg" {
		t.Fatalf("unexpected public url %q", got)
	}

	if err := store.Delete(context.Background(), key); err != nil {
		t.Fatalf("Delete returned error: %v", err)
	}
	if err := store.Delete(context.Background(), key); err != nil {
		t.Fatalf("second Delete returned error: %v", err)
	}

	if err := store.Put(context.Background(), "../escape", strings.NewReader("x"), 1, "text/plain"); !errors.Is(err, ErrInvalidKey) {
		t.Fatalf("expected ErrInvalidKey, got %v", err)
	}
}

func TestS3PublicBaseURL(t *testing.T) {
	cases := []struct {
		cfg  S3Config
		want string
	}{
		{S3Config{Bucket: "b", Region: "eu-west-1"}, "https://b.s3.eu-west-1.amazonaws.com"},
		{S3Config{Bucket: "b", Endpoint: "http://minio:9000/"}, "http://minio:9000/b"},
		{S3Config{Bucket: "b", PublicBaseURL: "https://cdn.example.com/"}, "https://cdn.example.com"},
	}
	for _, tc := range cases {
		if got := publicBaseURL(tc.cfg); got != tc.want {
			t.Fatalf("publicBaseURL(%+v) = %q, want %q", tc.cfg, got, tc.want)
		}
	}
}
