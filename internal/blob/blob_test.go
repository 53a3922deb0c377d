package blob

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func storesUnderTest(t *testing.T) map[string]Store {
	t.Helper()
	fsStore, err := NewFSStore(t.TempDir())
	if err != nil {
		t.Fatalf("new fs store: %v", err)
	}
	return map[string]Store{
		"fs":     fsStore,
		"memory": NewMemoryStore(),
	}
}

func TestStorePutGetListAndCreateOnly(t *testing.T) {
	for name, store := range storesUnderTest(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			info, err := store.Put(ctx, "pdbs_per_iter/seq_0_iter_1_model_1_complex.pdb", strings.NewReader("ATOM\n"), PutOptions{})
			if err != nil {
				t.Fatalf("put: %v", err)
			}
			if info.Size != 5 || info.ContentType != "chemical/x-pdb" || info.ETag == "" {
				t.Fatalf("unexpected info: %+v", info)
			}
			if _, err := store.Put(ctx, "pdbs_per_iter/seq_0_iter_1_model_1_complex.pdb", strings.NewReader("x"), PutOptions{}); !errors.Is(err, ErrExists) {
				t.Fatalf("expected ErrExists, got %v", err)
			}
			if _, err := store.Put(ctx, "seq_0_final_model_1_complex.pdb", strings.NewReader("END\n"), PutOptions{}); err != nil {
				t.Fatalf("put final: %v", err)
			}

			body, err := ReadAll(ctx, store, "pdbs_per_iter/seq_0_iter_1_model_1_complex.pdb")
			if err != nil {
				t.Fatalf("read: %v", err)
			}
			if string(body) != "ATOM\n" {
				t.Fatalf("unexpected body: %q", body)
			}

			listed, err := store.List(ctx, "pdbs_per_iter/")
			if err != nil {
				t.Fatalf("list: %v", err)
			}
			if len(listed) != 1 || listed[0].Key != "pdbs_per_iter/seq_0_iter_1_model_1_complex.pdb" {
				t.Fatalf("unexpected listing: %+v", listed)
			}
			all, err := store.List(ctx, "")
			if err != nil {
				t.Fatalf("list all: %v", err)
			}
			if len(all) != 2 || all[0].Key != "pdbs_per_iter/seq_0_iter_1_model_1_complex.pdb" {
				t.Fatalf("unexpected full listing: %+v", all)
			}

			if _, err := store.Head(ctx, "missing.pdb"); !errors.Is(err, ErrNotFound) {
				t.Fatalf("expected ErrNotFound, got %v", err)
			}
		})
	}
}

func TestSanitizeKeyRejectsEscapes(t *testing.T) {
	for _, key := range []string{"", "  ", "/etc/passwd", "../x", "a/../../b"} {
		if _, err := sanitizeKey(key); err == nil {
			t.Fatalf("expected %q to be rejected", key)
		}
	}
	clean, err := sanitizeKey("a//b/./c.pdb")
	if err != nil {
		t.Fatalf("sanitize: %v", err)
	}
	if clean != "a/b/c.pdb" {
		t.Fatalf("unexpected clean key: %s", clean)
	}
}

func TestFSStoreWritesPlainFiles(t *testing.T) {
	root := t.TempDir()
	store, err := NewFSStore(root)
	if err != nil {
		t.Fatalf("new fs store: %v", err)
	}
	if _, err := store.Put(context.Background(), "pdbs_per_iter/x.pdb", strings.NewReader("MODEL"), PutOptions{}); err != nil {
		t.Fatalf("put: %v", err)
	}
	data, err := os.ReadFile(filepath.Join(root, "pdbs_per_iter", "x.pdb"))
	if err != nil {
		t.Fatalf("read file: %v", err)
	}
	if string(data) != "MODEL" {
		t.Fatalf("unexpected file content: %q", data)
	}
	entries, err := os.ReadDir(filepath.Join(root, "pdbs_per_iter"))
	if err != nil {
		t.Fatalf("read dir: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected only the structure file, got %d entries", len(entries))
	}
}

func TestOpenSelectsDriver(t *testing.T) {
	ctx := context.Background()
	store, err := Open(ctx, DriverMemory, "", "")
	if err != nil || store.Driver() != DriverMemory {
		t.Fatalf("expected memory store, got %v %v", store, err)
	}
	store, err = Open(ctx, DriverFilesystem, t.TempDir(), "")
	if err != nil || store.Driver() != DriverFilesystem {
		t.Fatalf("expected fs store, got %v %v", store, err)
	}
	t.Setenv("EVOPROT_BLOB_S3_BUCKET", "")
	if _, err := Open(ctx, DriverS3, "", "run"); err == nil {
		t.Fatal("expected missing bucket error")
	}
	if _, err := Open(ctx, Driver("tape"), "", ""); err == nil {
		t.Fatal("expected unsupported driver error")
	}
}

func TestDriverFromEnv(t *testing.T) {
	t.Setenv("EVOPROT_BLOB_DRIVER", "S3")
	if got := DriverFromEnv(); got != DriverS3 {
		t.Fatalf("expected s3, got %s", got)
	}
	t.Setenv("EVOPROT_BLOB_DRIVER", "")
	if got := DriverFromEnv(); got != DriverFilesystem {
		t.Fatalf("expected fs default, got %s", got)
	}
}
