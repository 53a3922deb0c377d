// Package blob stores predicted structure files. Keys are slash separated
// relative paths such as "pdbs_per_iter/seq_0_iter_1_model_1_complex.pdb".
package blob

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"
	"time"
)

type Driver string

const (
	DriverFilesystem Driver = "fs"
	DriverS3         Driver = "s3"
	DriverMemory     Driver = "memory"
)

var (
	// ErrExists is returned by Put when the key was already written. Structure
	// files are write-once like the score records they belong to.
	ErrExists   = errors.New("blob already exists")
	ErrNotFound = errors.New("blob not found")
)

type PutOptions struct {
	ContentType string
	Metadata    map[string]string
}

type Info struct {
	Key          string            `json:"key"`
	Size         int64             `json:"size"`
	ContentType  string            `json:"content_type,omitempty"`
	ETag         string            `json:"etag,omitempty"`
	Metadata     map[string]string `json:"metadata,omitempty"`
	LastModified time.Time         `json:"last_modified"`
	URL          string            `json:"url,omitempty"`
}

// Store is the structure-file backend used by the checkpoint writer.
type Store interface {
	Put(ctx context.Context, key string, r io.Reader, opts PutOptions) (Info, error)
	Get(ctx context.Context, key string) (Info, io.ReadCloser, error)
	Head(ctx context.Context, key string) (Info, error)
	List(ctx context.Context, prefix string) ([]Info, error)
	Driver() Driver
}

// sanitizeKey rejects empty, absolute and escaping keys.
func sanitizeKey(key string) (string, error) {
	if strings.TrimSpace(key) == "" {
		return "", fmt.Errorf("empty key")
	}
	if strings.HasPrefix(key, "/") {
		return "", fmt.Errorf("invalid absolute key %q", key)
	}
	for _, part := range strings.Split(key, "/") {
		if part == ".." {
			return "", fmt.Errorf("invalid key %q contains '..'", key)
		}
	}
	return path.Clean(key), nil
}

func cloneMetadata(in map[string]string) map[string]string {
	if len(in) == 0 {
		return nil
	}
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

// ReadAll fetches a whole blob.
func ReadAll(ctx context.Context, store Store, key string) ([]byte, error) {
	_, rc, err := store.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return io.ReadAll(rc)
}
