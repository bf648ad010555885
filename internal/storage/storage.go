// Package storage keeps the raw uploaded PDFs so documents can be
// reprocessed without asking the user to upload them again.
package storage

import (
	"context"
	"io"
	"time"
)

type PutObjectOptions struct {
	Size        int64
	ContentType string
	Metadata    map[string]string
}

type ObjectInfo struct {
	Key          string
	Size         int64
	ETag         string
	ContentType  string
	LastModified time.Time
	Metadata     map[string]string
}

// Storage is an object store. Get returns apperr.ErrNotFound for missing keys
// and Delete of a missing key is not an error.
type Storage interface {
	Put(ctx context.Context, key string, r io.Reader, opt PutObjectOptions) (ObjectInfo, error)
	Get(ctx context.Context, key string) (io.ReadCloser, ObjectInfo, error)
	Delete(ctx context.Context, key string) error
	Ping(ctx context.Context) error
}

// ObjectKey builds the key of an uploaded document.
func ObjectKey(ownerID, documentUID string) string {
	if ownerID == "" {
		ownerID = "anonymous"
	}
	return "uploads/" + ownerID + "/" + documentUID + ".pdf"
}
