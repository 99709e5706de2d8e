package gcsarchive

import (
	"context"

	"cloud.google.com/go/civil"
)

// Archiver stores processed import files. The watcher and import command
// depend on this interface so tests can swap in a fake.
type Archiver interface {
	ArchiveFile(ctx context.Context, bucketName, filePath string, importDate civil.Date) (string, error)
	FetchFromGCS(ctx context.Context, gcsURI string) ([]byte, error)
}

// GCSArchiver is the concrete Archiver backed by Google Cloud Storage.
type GCSArchiver struct{}

// NewGCSArchiver creates a new instance of GCSArchiver.
func NewGCSArchiver() *GCSArchiver {
	return &GCSArchiver{}
}

// ArchiveFile delegates to the package-level ArchiveFile function.
func (a *GCSArchiver) ArchiveFile(ctx context.Context, bucketName, filePath string, importDate civil.Date) (string, error) {
	return ArchiveFile(ctx, bucketName, filePath, importDate)
}

// FetchFromGCS delegates to the package-level FetchFromGCS function.
func (a *GCSArchiver) FetchFromGCS(ctx context.Context, gcsURI string) ([]byte, error) {
	return FetchFromGCS(ctx, gcsURI)
}
