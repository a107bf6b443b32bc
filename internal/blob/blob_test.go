package blob

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestAttachmentKey(t *testing.T) {
	if got := AttachmentKey("c1", "/tmp/photos/cat.png"); got != "chats/c1/cat.png" {
		t.Fatalf("key = %q", got)
	}
}

func TestLocalPutFile(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "cat.png")
	if err := os.WriteFile(src, []byte("meow"), 0600); err != nil {
		t.Fatal(err)
	}
	l, err := NewLocal(filepath.Join(dir, "blobs"))
	if err != nil {
		t.Fatal(err)
	}

	obj, err := l.PutFile(context.Background(), AttachmentKey("c1", src), src)
	if err != nil {
		t.Fatal(err)
	}
	if obj.Size != 4 || obj.MimeType != "image/png" {
		t.Fatalf("object = %+v", obj)
	}
	if !strings.HasPrefix(obj.URL, "file://") || !strings.HasSuffix(obj.URL, "chats/c1/cat.png") {
		t.Fatalf("url = %q", obj.URL)
	}
	data, err := os.ReadFile(filepath.Join(dir, "blobs", "chats", "c1", "cat.png"))
	if err != nil || string(data) != "meow" {
		t.Fatalf("stored = %q, %v", data, err)
	}
}

func TestLocalRejectsEscapingKeys(t *testing.T) {
	l, _ := NewLocal(t.TempDir())
	for _, key := range []string{"", "../etc/passwd", "/abs"} {
		if _, err := l.PutFile(context.Background(), key, "/dev/null"); err == nil {
			t.Errorf("key %q accepted", key)
		}
	}
}
