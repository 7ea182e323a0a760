package migration

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"
)

// LegacyExport is the on-device data format written before remote storage
// existed. Images are inline data URLs.
type LegacyExport struct {
	Version    int              `json:"version"`
	ExportedAt time.Time        `json:"exported_at"`
	Projects   []LegacyProject  `json:"projects"`
	BrandKit   *LegacyBrandKit  `json:"brand_kit,omitempty"`
	Templates  []LegacyTemplate `json:"templates"`
}

type LegacyProject struct {
	Name         string        `json:"name"`
	Description  string        `json:"description"`
	ProductImage string        `json:"product_image,omitempty"`
	SavedImages  []LegacyImage `json:"saved_images"`
}

type LegacyImage struct {
	Data      string    `json:"data"`
	Prompt    string    `json:"prompt"`
	CreatedAt time.Time `json:"created_at"`
}

type LegacyBrandKit struct {
	PrimaryColor   string `json:"primary_color"`
	SecondaryColor string `json:"secondary_color"`
	FontFamily     string `json:"font_family"`
	Logo           string `json:"logo,omitempty"`
	UseWatermark   bool   `json:"use_watermark"`
}

type LegacyTemplate struct {
	Name     string `json:"name"`
	Prompt   string `json:"prompt"`
	Category string `json:"category"`
}

// Empty reports whether the export holds nothing to migrate.
func (e *LegacyExport) Empty() bool {
	return e == nil || (len(e.Projects) == 0 && e.BrandKit == nil && len(e.Templates) == 0)
}

var ErrNoLegacyData = errors.New("no legacy data found")

// LegacyStore is a JSON file holding a LegacyExport plus timestamped backups
// next to it. Nothing here removes the source file.
type LegacyStore struct {
	Path string
	now  func() time.Time
}

func NewLegacyStore(path string) *LegacyStore {
	return &LegacyStore{Path: path, now: time.Now}
}

func (s *LegacyStore) Load() (*LegacyExport, error) {
	return readExport(s.Path)
}

// Backup copies the current file to <path>.backup-<unixnano> and returns that path.
func (s *LegacyStore) Backup() (string, error) {
	data, err := os.ReadFile(s.Path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", ErrNoLegacyData
		}
		return "", fmt.Errorf("read legacy data: %w", err)
	}
	target := fmt.Sprintf("%s.backup-%d", s.Path, s.now().UnixNano())
	if err := writeFileAtomic(target, data); err != nil {
		return "", err
	}
	return target, nil
}

// Restore overwrites the legacy file with the contents of a backup. An empty
// backup path picks the newest one.
func (s *LegacyStore) Restore(backup string) error {
	if backup == "" {
		latest, err := s.LatestBackup()
		if err != nil {
			return err
		}
		backup = latest
	}
	if _, err := readExport(backup); err != nil {
		return fmt.Errorf("backup %s is not usable: %w", backup, err)
	}
	data, err := os.ReadFile(backup)
	if err != nil {
		return fmt.Errorf("read backup: %w", err)
	}
	return writeFileAtomic(s.Path, data)
}

func (s *LegacyStore) Backups() ([]string, error) {
	matches, err := filepath.Glob(s.Path + ".backup-*")
	if err != nil {
		return nil, err
	}
	sort.Slice(matches, func(i, j int) bool {
		return backupStamp(matches[i]) < backupStamp(matches[j])
	})
	return matches, nil
}

func (s *LegacyStore) LatestBackup() (string, error) {
	all, err := s.Backups()
	if err != nil {
		return "", err
	}
	if len(all) == 0 {
		return "", ErrNoLegacyData
	}
	return all[len(all)-1], nil
}

func backupStamp(p string) int64 {
	i := strings.LastIndex(p, ".backup-")
	n, _ := strconv.ParseInt(p[i+len(".backup-"):], 10, 64)
	return n
}

func readExport(path string) (*LegacyExport, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, ErrNoLegacyData
		}
		return nil, fmt.Errorf("read legacy data: %w", err)
	}
	var export LegacyExport
	if err := json.Unmarshal(data, &export); err != nil {
		return nil, fmt.Errorf("parse legacy data: %w", err)
	}
	return &export, nil
}

func writeFileAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".legacy-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("replace %s: %w", path, err)
	}
	return nil
}
