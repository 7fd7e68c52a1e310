package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"led-bridge/internal/model"
)

// MediaURLPrefix is where stored files are served from; storage_url values
// are built from it on both the catalog and the filesystem path.
const MediaURLPrefix = "/music/"

// fallbackMimeType is used for records synthesized from a directory scan,
// where the original upload content type is unknown.
const fallbackMimeType = "audio/mpeg"

// MediaCatalog stores uploaded tracks. The file write is the operation's
// true success criterion; the catalog row is best-effort, and listings fall
// back to scanning the storage root when the store is disconnected.
type MediaCatalog struct {
	s    *Store
	root string
}

func NewMediaCatalog(s *Store, root string) *MediaCatalog {
	return &MediaCatalog{s: s, root: root}
}

// Upload persists the bytes under a collision-resistant name and records a
// catalog row when the store is reachable. With the store down it still
// succeeds, returning a synthesized record whose metadata lives only in the
// file itself.
func (c *MediaCatalog) Upload(ctx context.Context, data []byte, originalName, mimeType string) (model.MediaAsset, error) {
	if err := os.MkdirAll(c.root, 0o755); err != nil {
		return model.MediaAsset{}, err
	}
	name := uploadFilename(originalName)
	path := filepath.Join(c.root, name)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return model.MediaAsset{}, err
	}

	asset := model.MediaAsset{
		Title:      strings.TrimSuffix(filepath.Base(originalName), filepath.Ext(originalName)),
		StorageURL: MediaURLPrefix + name,
		MimeType:   mimeType,
		UploadedAt: time.Now().UTC(),
	}
	if c.s.Connected() {
		if err := c.s.db.WithContext(ctx).Create(&asset).Error; err != nil {
			c.s.markDown(err)
			slog.Warn("media catalog write degraded", "file", name, "error", err)
		} else {
			return asset, nil
		}
	}
	// Transient id; the file is the only durable record.
	asset.ID = uint(time.Now().UnixMilli())
	return asset, nil
}

// List returns catalog rows when the store is reachable and a directory-scan
// synthesis otherwise. Both paths produce the same record shape, so callers
// cannot tell which backend answered.
func (c *MediaCatalog) List(ctx context.Context) ([]model.MediaAsset, error) {
	if c.s.Connected() {
		assets := make([]model.MediaAsset, 0)
		if err := c.s.db.WithContext(ctx).Order("id").Find(&assets).Error; err != nil {
			c.s.markDown(err)
		} else {
			return assets, nil
		}
	}
	return c.scanRoot()
}

func (c *MediaCatalog) scanRoot() ([]model.MediaAsset, error) {
	entries, err := os.ReadDir(c.root)
	if err != nil {
		if os.IsNotExist(err) {
			return []model.MediaAsset{}, nil
		}
		return nil, err
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	assets := make([]model.MediaAsset, 0, len(names))
	for i, name := range names {
		uploadedAt := time.Time{}
		if info, err := os.Stat(filepath.Join(c.root, name)); err == nil {
			uploadedAt = info.ModTime().UTC()
		}
		assets = append(assets, model.MediaAsset{
			ID:         uint(i + 1),
			Title:      strings.TrimSuffix(name, filepath.Ext(name)),
			StorageURL: MediaURLPrefix + name,
			MimeType:   fallbackMimeType,
			UploadedAt: uploadedAt,
		})
	}
	return assets, nil
}

// Delete removes an asset by catalog id, falling back to filename-based
// removal when the id path finds nothing. ErrNotFound only when neither path
// locates anything. An orphan file may survive a row-only removal; a
// dangling row pointing at a removed file may not.
func (c *MediaCatalog) Delete(ctx context.Context, idOrName, filenameHint string) error {
	if c.s.Connected() {
		if id, err := strconv.ParseUint(idOrName, 10, 64); err == nil {
			done, err := c.deleteByID(ctx, uint(id))
			if err == nil && done {
				return nil
			}
			if err != nil {
				c.s.markDown(err)
			}
		}
	}
	name := filenameHint
	if name == "" {
		name = idOrName
	}
	return c.deleteByFilename(ctx, name)
}

func (c *MediaCatalog) deleteByID(ctx context.Context, id uint) (bool, error) {
	var asset model.MediaAsset
	if err := c.s.db.WithContext(ctx).First(&asset, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return false, nil
		}
		return false, err
	}
	if err := c.s.db.WithContext(ctx).Delete(&model.MediaAsset{}, id).Error; err != nil {
		return false, err
	}
	name := strings.TrimPrefix(asset.StorageURL, MediaURLPrefix)
	if err := c.removeFile(name); err != nil && !os.IsNotExist(err) {
		// Row is gone, file is orphaned; tolerated.
		slog.Warn("media file removal failed", "file", name, "error", err)
	}
	return true, nil
}

func (c *MediaCatalog) deleteByFilename(ctx context.Context, name string) error {
	name = filepath.Base(name)
	if name == "" || name == "." || name == string(filepath.Separator) {
		return ErrNotFound
	}
	err := c.removeFile(name)
	if err != nil {
		if os.IsNotExist(err) {
			return ErrNotFound
		}
		return err
	}
	// Best-effort row cleanup so no row keeps pointing at the removed file.
	if c.s.Connected() {
		if err := c.s.db.WithContext(ctx).
			Where("storage_url = ?", MediaURLPrefix+name).
			Delete(&model.MediaAsset{}).Error; err != nil {
			c.s.markDown(err)
		}
	}
	return nil
}

func (c *MediaCatalog) removeFile(name string) error {
	return os.Remove(filepath.Join(c.root, name))
}

// uploadFilename builds a unique name so a concurrent delete can never target
// an ambiguous file: timestamp plus random suffix plus the sanitized
// original base name.
func uploadFilename(originalName string) string {
	base := filepath.Base(originalName)
	base = strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		case r == '.' || r == '-' || r == '_':
			return r
		default:
			return '_'
		}
	}, base)
	if base == "" || base == "." {
		base = "upload"
	}
	return fmt.Sprintf("%d-%s-%s", time.Now().UnixMilli(), uuid.NewString()[:8], base)
}
