package blob

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// FSStore writes blobs as plain files under root so structure directories can
// be opened directly by visualisation tools. No metadata sidecar is kept;
// content types are derived from the file extension.
type FSStore struct {
	root string
}

func NewFSStore(root string) (*FSStore, error) {
	if root == "" {
		root = "."
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, err
	}
	return &FSStore{root: root}, nil
}

func (s *FSStore) Driver() Driver { return DriverFilesystem }

func (s *FSStore) Root() string { return s.root }

func (s *FSStore) pathFor(key string) (string, string, error) {
	clean, err := sanitizeKey(key)
	if err != nil {
		return "", "", err
	}
	return clean, filepath.Join(s.root, filepath.FromSlash(clean)), nil
}

func (s *FSStore) Put(ctx context.Context, key string, r io.Reader, opts PutOptions) (Info, error) {
	if err := ctx.Err(); err != nil {
		return Info{}, err
	}
	clean, dataPath, err := s.pathFor(key)
	if err != nil {
		return Info{}, err
	}
	if _, err := os.Stat(dataPath); err == nil {
		return Info{}, fmt.Errorf("%w: %s", ErrExists, clean)
	}
	if err := os.MkdirAll(filepath.Dir(dataPath), 0o755); err != nil {
		return Info{}, err
	}

	tmp, err := os.CreateTemp(filepath.Dir(dataPath), ".tmp-*")
	if err != nil {
		return Info{}, err
	}
	defer func() { _ = os.Remove(tmp.Name()) }()
	h := sha256.New()
	if _, err := io.Copy(io.MultiWriter(tmp, h), r); err != nil {
		_ = tmp.Close()
		return Info{}, err
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return Info{}, err
	}
	if err := tmp.Close(); err != nil {
		return Info{}, err
	}
	// Link instead of rename so a concurrent writer of the same key loses.
	if err := os.Link(tmp.Name(), dataPath); err != nil {
		if errors.Is(err, fs.ErrExist) {
			return Info{}, fmt.Errorf("%w: %s", ErrExists, clean)
		}
		return Info{}, err
	}
	info, err := s.stat(clean, dataPath)
	if err != nil {
		return Info{}, err
	}
	info.ETag = hex.EncodeToString(h.Sum(nil))
	if opts.ContentType != "" {
		info.ContentType = opts.ContentType
	}
	info.Metadata = cloneMetadata(opts.Metadata)
	return info, nil
}

func (s *FSStore) Get(_ context.Context, key string) (Info, io.ReadCloser, error) {
	clean, dataPath, err := s.pathFor(key)
	if err != nil {
		return Info{}, nil, err
	}
	info, err := s.stat(clean, dataPath)
	if err != nil {
		return Info{}, nil, err
	}
	file, err := os.Open(dataPath)
	if err != nil {
		return Info{}, nil, err
	}
	return info, file, nil
}

func (s *FSStore) Head(_ context.Context, key string) (Info, error) {
	clean, dataPath, err := s.pathFor(key)
	if err != nil {
		return Info{}, err
	}
	return s.stat(clean, dataPath)
}

func (s *FSStore) List(_ context.Context, prefix string) ([]Info, error) {
	var out []Info
	err := filepath.WalkDir(s.root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || strings.HasPrefix(d.Name(), ".tmp-") {
			return nil
		}
		rel, err := filepath.Rel(s.root, p)
		if err != nil {
			return err
		}
		key := filepath.ToSlash(rel)
		if !strings.HasPrefix(key, prefix) {
			return nil
		}
		info, err := s.stat(key, p)
		if err != nil {
			return err
		}
		out = append(out, info)
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

func (s *FSStore) stat(key, dataPath string) (Info, error) {
	st, err := os.Stat(dataPath)
	if errors.Is(err, fs.ErrNotExist) {
		return Info{}, fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	if err != nil {
		return Info{}, err
	}
	return Info{
		Key:          key,
		Size:         st.Size(),
		ContentType:  contentTypeFor(key),
		LastModified: st.ModTime().UTC(),
		URL:          s.localURL(dataPath),
	}, nil
}

func (s *FSStore) localURL(dataPath string) string {
	abs, err := filepath.Abs(dataPath)
	if err != nil {
		abs = dataPath
	}
	return (&url.URL{Scheme: "file", Path: filepath.ToSlash(abs)}).String()
}

func contentTypeFor(key string) string {
	switch strings.ToLower(filepath.Ext(key)) {
	case ".pdb":
		return "chemical/x-pdb"
	case ".json":
		return "application/json"
	case ".log", ".txt":
		return "text/plain"
	default:
		return "application/octet-stream"
	}
}
