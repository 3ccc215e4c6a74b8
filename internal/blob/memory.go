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

type memEntry struct {
	info Info
	data []byte
}

// Memory is a Store held in process memory.
type Memory struct {
	mu   sync.RWMutex
	objs map[string]memEntry
}

// NewMemory returns an empty in-memory store.
func NewMemory() *Memory { return &Memory{objs: make(map[string]memEntry)} }

func (s *Memory) Driver() Driver { return DriverMemory }

func (s *Memory) Put(ctx context.Context, key string, r io.Reader, opts PutOptions) (Info, error) {
	if err := checkKey(key); err != nil {
		return Info{}, err
	}
	b, err := io.ReadAll(r)
	if err != nil {
		return Info{}, err
	}
	if err := ctx.Err(); err != nil {
		return Info{}, err
	}
	sum := sha256.Sum256(b)
	info := Info{
		Key:          key,
		Size:         int64(len(b)),
		ContentType:  opts.ContentType,
		ETag:         hex.EncodeToString(sum[:]),
		Metadata:     cloneMetadata(opts.Metadata),
		LastModified: time.Now().UTC(),
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.objs[key]; exists && !opts.Overwrite {
		return Info{}, fmt.Errorf("%w: %s", ErrExists, key)
	}
	s.objs[key] = memEntry{info: info, data: b}
	info.Metadata = cloneMetadata(info.Metadata)
	return info, nil
}

func (s *Memory) Get(_ context.Context, key string) (Info, io.ReadCloser, error) {
	s.mu.RLock()
	obj, ok := s.objs[key]
	s.mu.RUnlock()
	if !ok {
		return Info{}, nil, fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	// Entries are replaced, never mutated, so the slice can be shared.
	info := obj.info
	info.Metadata = cloneMetadata(info.Metadata)
	return info, io.NopCloser(bytes.NewReader(obj.data)), nil
}

func (s *Memory) Head(_ context.Context, key string) (Info, error) {
	s.mu.RLock()
	obj, ok := s.objs[key]
	s.mu.RUnlock()
	if !ok {
		return Info{}, fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	info := obj.info
	info.Metadata = cloneMetadata(info.Metadata)
	return info, nil
}

func (s *Memory) Delete(_ context.Context, key string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.objs[key]
	delete(s.objs, key)
	return ok, nil
}

func (s *Memory) List(_ context.Context, prefix string) ([]Info, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Info, 0, len(s.objs))
	for k, v := range s.objs {
		if strings.HasPrefix(k, prefix) {
			inf := v.info
			inf.Metadata = cloneMetadata(inf.Metadata)
			out = append(out, inf)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}
