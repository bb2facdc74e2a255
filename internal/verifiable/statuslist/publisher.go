package statuslist

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"credentials/internal/verifiable/models"
	dErrors "credentials/pkg/domain-errors"
)

// Publisher stores the signed status-list credential of each issuer.
type Publisher interface {
	Publish(ctx context.Context, issuerID string, doc models.Document) error
	Read(ctx context.Context, issuerID string) ([]byte, error)
}

// Slug turns an issuer identifier into a file-name-safe token. Slug is
// idempotent, so a slug can be used wherever an issuer ID is accepted.
func Slug(issuerID string) string {
	var b strings.Builder
	for _, r := range issuerID {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			b.WriteRune(r)
		default:
			b.WriteByte('-')
		}
	}
	return strings.Trim(b.String(), "-")
}

// RelativePath is where an issuer's status list lives below the publish root.
func RelativePath(issuerID string) string {
	return filepath.Join("status-list", "2021", "v1", Slug(issuerID)+".json")
}

// URL is the public address of an issuer's status-list credential.
func URL(publicBaseURL, issuerID string) string {
	return strings.TrimRight(publicBaseURL, "/") +
		"/verifiable_credentials/api/v1/status-list/2021/v1/" + url.PathEscape(issuerID) + "/"
}

// FilePublisher writes status lists below a directory with write-then-rename,
// so readers never observe a partial document.
type FilePublisher struct {
	dir string
}

// NewFilePublisher publishes below dir.
func NewFilePublisher(dir string) *FilePublisher {
	return &FilePublisher{dir: dir}
}

// Publish atomically replaces the issuer's status-list document.
func (p *FilePublisher) Publish(_ context.Context, issuerID string, doc models.Document) error {
	target := filepath.Join(p.dir, RelativePath(issuerID))
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return fmt.Errorf("create status list directory: %w", err)
	}
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("encode status list: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(target), ".status-list-*.tmp")
	if err != nil {
		return fmt.Errorf("create status list temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName) //nolint:errcheck // already renamed on success

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write status list: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync status list: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close status list: %w", err)
	}
	if err := os.Chmod(tmpName, 0o644); err != nil {
		return fmt.Errorf("chmod status list: %w", err)
	}
	if err := os.Rename(tmpName, target); err != nil {
		return fmt.Errorf("publish status list: %w", err)
	}
	return nil
}

// Read returns the published document, or not_found.
func (p *FilePublisher) Read(_ context.Context, issuerID string) ([]byte, error) {
	data, err := os.ReadFile(filepath.Join(p.dir, RelativePath(issuerID)))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, dErrors.New(dErrors.CodeNotFound, "status list not found")
	}
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to read status list")
	}
	return data, nil
}
