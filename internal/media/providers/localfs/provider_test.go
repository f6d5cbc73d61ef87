package localfs

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/DINO060/RENAMBOT/internal/media"
)

func TestProvider_HostPath(t *testing.T) {
	t.Parallel()
	p := &Provider{root: "/srv/thumbs"}

	tests := []struct {
		key     string
		want    string
		wantErr bool
	}{
		{key: "42.jpg", want: "/srv/thumbs/42.jpg"},
		{key: "users/42.jpg", want: "/srv/thumbs/users/42.jpg"},
		{key: "/absolute/path", wantErr: true},
		{key: "../escape", wantErr: true},
		{key: "..", wantErr: true},
		{key: " ", wantErr: true},
	}
	for _, tt := range tests {
		got, err := p.hostPath(tt.key)
		if tt.wantErr {
			if err == nil {
				t.Errorf("hostPath(%q) expected error", tt.key)
			}
			continue
		}
		if err != nil {
			t.Errorf("hostPath(%q) unexpected error: %v", tt.key, err)
			continue
		}
		if got != tt.want {
			t.Errorf("hostPath(%q) = %q, want %q", tt.key, got, tt.want)
		}
	}
}

func TestProvider_TraversalIsTyped(t *testing.T) {
	t.Parallel()
	p := &Provider{root: "/srv/thumbs"}
	_, err := p.hostPath("../../etc/passwd")
	if !errors.Is(err, media.ErrPathTraversal) {
		t.Fatalf("expected ErrPathTraversal, got %v", err)
	}
	if got := p.AccessPath("../x"); got != "" {
		t.Fatalf("expected empty access path, got %q", got)
	}
}

func TestProvider_PutOpenDelete(t *testing.T) {
	t.Parallel()
	tmpDir := t.TempDir()
	p, err := New(tmpDir)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	key := "42.jpg"
	data := []byte("jpeg bytes")
	if err := p.Put(context.Background(), key, bytes.NewReader(data)); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	if _, err := os.Stat(filepath.Join(tmpDir, "42.jpg")); err != nil {
		t.Fatalf("expected file on disk: %v", err)
	}

	rc, err := p.Open(context.Background(), key)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	got, _ := io.ReadAll(rc)
	_ = rc.Close()
	if !bytes.Equal(got, data) {
		t.Fatalf("unexpected content: %q", got)
	}

	if err := p.Delete(context.Background(), key); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if err := p.Delete(context.Background(), key); err != nil {
		t.Fatalf("second Delete should be a no-op: %v", err)
	}
	if _, err := p.Open(context.Background(), key); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("expected not exist, got %v", err)
	}
}
