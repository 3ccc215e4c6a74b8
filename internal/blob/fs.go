package blob

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/banshee-data/canopy.report/internal/security"
)

const metaSuffix = ".meta"

// Filesystem is a Store rooted at a local directory. Each object is a file
// at its key plus a JSON sidecar (key + ".meta") holding content type,
// metadata and the SHA-256 etag. Writes go through a temp file and rename.
type Filesystem struct {
	root string
}

// NewFilesystem returns a store rooted at root, creating it if needed.
func NewFilesystem(root string) (*Filesystem, error) {
	if root == "" {
		root = "./blobdata"
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create blob root: %w", err)
	}
	return &Filesystem{root: root}, nil
}

func (s *Filesystem) Driver() Driver { return DriverFilesystem }

// Root returns the directory backing the store.
func (s *Filesystem) Root() string { return s.root }

type metaFile struct {
	ContentType string            `json:"content_type,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
	ETag        string            `json:"etag"`
	Size        int64             `json:"size"`
	UpdatedAt   time.Time         `json:"updated_at"`
}

func (m metaFile) info(key string) Info {
	return Info{
		Key:          key,
		Size:         m.Size,
		ContentType:  m.ContentType,
		ETag:         m.ETag,
		Metadata:     cloneMetadata(m.Metadata),
		LastModified: m.UpdatedAt,
	}
}

func (s *Filesystem) pathFor(key string) (dataPath, metaPath string, err error) {
	if err := checkKey(key); err != nil {
		return "", "", err
	}
	if strings.HasSuffix(key, metaSuffix) {
		return "", "", fmt.Errorf("%w: %q uses the reserved %s suffix", ErrInvalidKey, key, metaSuffix)
	}
	dataPath = filepath.Join(s.root, filepath.FromSlash(key))
	if err := security.ValidatePathWithinDirectory(dataPath, s.root); err != nil {
		return "", "", fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}
	return dataPath, dataPath + metaSuffix, nil
}

func (s *Filesystem) Put(ctx context.Context, key string, r io.Reader, opts PutOptions) (Info, error) {
	dataPath, metaPath, err := s.pathFor(key)
	if err != nil {
		return Info{}, err
	}
	if _, err := os.Stat(dataPath); err == nil && !opts.Overwrite {
		return Info{}, fmt.Errorf("%w: %s", ErrExists, key)
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
	size, err := io.Copy(io.MultiWriter(tmp, h), r)
	if err == nil {
		err = tmp.Sync()
	}
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err == nil {
		err = ctx.Err()
	}
	if err != nil {
		return Info{}, fmt.Errorf("failed to write blob %s: %w", key, err)
	}
	if err := os.Rename(tmp.Name(), dataPath); err != nil {
		return Info{}, err
	}

	mf := metaFile{
		ContentType: opts.ContentType,
		Metadata:    cloneMetadata(opts.Metadata),
		ETag:        hex.EncodeToString(h.Sum(nil)),
		Size:        size,
		UpdatedAt:   time.Now().UTC(),
	}
	b, err := json.MarshalIndent(mf, "", "  ")
	if err != nil {
		return Info{}, err
	}
	if err := os.WriteFile(metaPath, b, 0o644); err != nil {
		return Info{}, err
	}
	return mf.info(key), nil
}

func (s *Filesystem) Get(_ context.Context, key string) (Info, io.ReadCloser, error) {
	dataPath, metaPath, err := s.pathFor(key)
	if err != nil {
		return Info{}, nil, err
	}
	mf, err := readMeta(metaPath)
	if err != nil {
		return Info{}, nil, notFound(key, err)
	}
	file, err := os.Open(dataPath)
	if err != nil {
		return Info{}, nil, notFound(key, err)
	}
	return mf.info(key), file, nil
}

func (s *Filesystem) Head(_ context.Context, key string) (Info, error) {
	_, metaPath, err := s.pathFor(key)
	if err != nil {
		return Info{}, err
	}
	mf, err := readMeta(metaPath)
	if err != nil {
		return Info{}, notFound(key, err)
	}
	return mf.info(key), nil
}

func (s *Filesystem) Delete(_ context.Context, key string) (bool, error) {
	dataPath, metaPath, err := s.pathFor(key)
	if err != nil {
		return false, err
	}
	if err := os.Remove(dataPath); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		return false, err
	}
	_ = os.Remove(metaPath)
	return true, nil
}

// List walks the root for sidecars; objects without one are in-flight
// writes and are not reported.
func (s *Filesystem) List(ctx context.Context, prefix string) ([]Info, error) {
	var infos []Info
	err := filepath.WalkDir(s.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !strings.HasSuffix(path, metaSuffix) {
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		rel, err := filepath.Rel(s.root, strings.TrimSuffix(path, metaSuffix))
		if err != nil {
			return err
		}
		key := filepath.ToSlash(rel)
		if !strings.HasPrefix(key, prefix) {
			return nil
		}
		mf, err := readMeta(path)
		if err != nil {
			return err
		}
		infos = append(infos, mf.info(key))
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Key < infos[j].Key })
	return infos, nil
}

func readMeta(path string) (metaFile, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return metaFile{}, err
	}
	var mf metaFile
	if err := json.Unmarshal(b, &mf); err != nil {
		return metaFile{}, fmt.Errorf("corrupt blob sidecar %s: %w", path, err)
	}
	return mf, nil
}

func notFound(key string, err error) error {
	if errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	return err
}
