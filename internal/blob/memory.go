package blob

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"time"
)

type memoryObject struct {
	info Info
	body []byte
}

// MemoryStore keeps blobs in process memory. It backs tests and dry runs.
type MemoryStore struct {
	mu      sync.RWMutex
	objects map[string]memoryObject
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{objects: make(map[string]memoryObject)}
}

func (s *MemoryStore) Driver() Driver { return DriverMemory }

func (s *MemoryStore) Put(_ context.Context, key string, r io.Reader, opts PutOptions) (Info, error) {
	clean, err := sanitizeKey(key)
	if err != nil {
		return Info{}, err
	}
	body, err := io.ReadAll(r)
	if err != nil {
		return Info{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.objects[clean]; ok {
		return Info{}, fmt.Errorf("%w: %s", ErrExists, clean)
	}
	sum := sha256.Sum256(body)
	contentType := opts.ContentType
	if contentType == "" {
		contentType = contentTypeFor(clean)
	}
	info := Info{
		Key:          clean,
		Size:         int64(len(body)),
		ContentType:  contentType,
		ETag:         hex.EncodeToString(sum[:]),
		Metadata:     cloneMetadata(opts.Metadata),
		LastModified: time.Now().UTC(),
		URL:          "mem://" + clean,
	}
	s.objects[clean] = memoryObject{info: info, body: body}
	return info, nil
}

func (s *MemoryStore) Get(_ context.Context, key string) (Info, io.ReadCloser, error) {
	obj, err := s.lookup(key)
	if err != nil {
		return Info{}, nil, err
	}
	return obj.info, io.NopCloser(bytes.NewReader(obj.body)), nil
}

func (s *MemoryStore) Head(_ context.Context, key string) (Info, error) {
	obj, err := s.lookup(key)
	if err != nil {
		return Info{}, err
	}
	return obj.info, nil
}

func (s *MemoryStore) List(_ context.Context, prefix string) ([]Info, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Info, 0, len(s.objects))
	for key, obj := range s.objects {
		if strings.HasPrefix(key, prefix) {
			out = append(out, obj.info)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

func (s *MemoryStore) lookup(key string) (memoryObject, error) {
	clean, err := sanitizeKey(key)
	if err != nil {
		return memoryObject{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	obj, ok := s.objects[clean]
	if !ok {
		return memoryObject{}, fmt.Errorf("%w: %s", ErrNotFound, clean)
	}
	return obj, nil
}
