// Package blob uploads message attachments and returns the URL stored in the
// message metadata.
package blob

import (
	"context"
	"fmt"
	"mime"
	"path"
	"path/filepath"
	"strings"
)

// Object describes an uploaded file.
type Object struct {
	URL      string
	Size     int64
	MimeType string
}

// Store uploads local files under a slash-separated key.
type Store interface {
	PutFile(ctx context.Context, key, localPath string) (Object, error)
}

// AttachmentKey is where an attachment for conversationID is stored.
func AttachmentKey(conversationID, fileName string) string {
	return path.Join("chats", conversationID, filepath.Base(fileName))
}

func mimeType(name string) string {
	if t := mime.TypeByExtension(strings.ToLower(filepath.Ext(name))); t != "" {
		return t
	}
	return "application/octet-stream"
}

func validKey(key string) error {
	clean := path.Clean(key)
	if key == "" || strings.HasPrefix(clean, "/") || strings.HasPrefix(clean, "..") {
		return fmt.Errorf("invalid object key %q", key)
	}
	return nil
}
