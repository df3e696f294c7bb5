package store

import (
	"context"
	"encoding/binary"
	"encoding/gob"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
)

// indexMagic marks the flat index file format.
var indexMagic = [8]byte{'M', 'G', 'P', 'T', 'I', 'D', 'X', '1'}

// FlatStore is a file-backed brute-force L2 index over parallel vector and
// text slices. It is the single writer of its two files: a binary index file
// and a gob-encoded text list.
type FlatStore struct {
	mu        sync.RWMutex
	dim       int
	vectors   [][]float32
	texts     []string
	indexPath string
	textsPath string
}

// Open loads a FlatStore from its two files. Missing or corrupt files degrade
// to an empty store with a logged warning; the caller stays usable with
// nothing to retrieve.
func Open(indexPath, textsPath string) *FlatStore {
	s := &FlatStore{indexPath: indexPath, textsPath: textsPath}

	dim, vectors, err := readIndexFile(indexPath)
	if err != nil {
		slog.Warn("Index file not available, starting with empty store",
			slog.String("path", indexPath), slog.String("error", err.Error()))
	} else {
		s.dim = dim
		s.vectors = vectors
	}

	texts, err := readTextsFile(textsPath)
	if err != nil {
		slog.Warn("Texts file not available, starting with empty store",
			slog.String("path", textsPath), slog.String("error", err.Error()))
	} else {
		s.texts = texts
	}

	if err := s.CheckConsistency(); err != nil {
		slog.Error("Store is inconsistent, consider rebuilding the index", "error", err)
	}

	return s
}

func (s *FlatStore) Append(ctx context.Context, vector []float32, text string) error {
	if len(vector) == 0 {
		return fmt.Errorf("empty vector")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.dim == 0 {
		s.dim = len(vector)
	}
	if len(vector) != s.dim {
		return fmt.Errorf("vector dimension mismatch: got %d, want %d", len(vector), s.dim)
	}

	v := make([]float32, len(vector))
	copy(v, vector)
	s.vectors = append(s.vectors, v)
	s.texts = append(s.texts, text)
	return nil
}

func (s *FlatStore) Search(ctx context.Context, query []float32, k int) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if len(s.vectors) == 0 || k <= 0 {
		return nil, nil
	}

	n := len(s.vectors)
	if len(s.texts) < n {
		// Never hand out a vector whose text is missing.
		n = len(s.texts)
	}

	dists := make([]float64, n)
	for i := 0; i < n; i++ {
		dists[i] = l2Squared(s.vectors[i], query)
	}

	idxs := make([]int, n)
	for i := range idxs {
		idxs[i] = i
	}
	sort.Slice(idxs, func(a, b int) bool { return dists[idxs[a]] < dists[idxs[b]] })

	if k > n {
		k = n
	}
	results := make([]string, 0, k)
	for i := 0; i < k; i++ {
		results = append(results, s.texts[idxs[i]])
	}
	return results, nil
}

// Persist atomically rewrites the index file and the text list together. Each
// file is written to a temp file in the same directory and renamed over the
// old one, so a crash leaves either the previous pair or the new pair.
func (s *FlatStore) Persist(ctx context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if err := writeIndexFile(s.indexPath, s.dim, s.vectors); err != nil {
		return fmt.Errorf("failed to persist index: %w", err)
	}
	if err := writeTextsFile(s.textsPath, s.texts); err != nil {
		return fmt.Errorf("failed to persist texts: %w", err)
	}
	return nil
}

func (s *FlatStore) Count(ctx context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.vectors), nil
}

// CheckConsistency reports a vector/text count divergence. It never repairs.
func (s *FlatStore) CheckConsistency() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.vectors) != len(s.texts) {
		return fmt.Errorf("vector count %d does not match text count %d", len(s.vectors), len(s.texts))
	}
	return nil
}

func (s *FlatStore) Close() error { return nil }

func l2Squared(a, b []float32) float64 {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	var sum float64
	for i := 0; i < n; i++ {
		d := float64(a[i]) - float64(b[i])
		sum += d * d
	}
	return sum
}

func readIndexFile(path string) (int, [][]float32, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, nil, err
	}
	defer f.Close()

	var magic [8]byte
	if _, err := io.ReadFull(f, magic[:]); err != nil {
		return 0, nil, fmt.Errorf("failed to read header: %w", err)
	}
	if magic != indexMagic {
		return 0, nil, fmt.Errorf("not an index file")
	}

	var dim, count uint32
	if err := binary.Read(f, binary.LittleEndian, &dim); err != nil {
		return 0, nil, fmt.Errorf("failed to read dimension: %w", err)
	}
	if err := binary.Read(f, binary.LittleEndian, &count); err != nil {
		return 0, nil, fmt.Errorf("failed to read count: %w", err)
	}
	if dim == 0 || dim > 1<<16 {
		return 0, nil, fmt.Errorf("implausible dimension %d", dim)
	}

	vectors := make([][]float32, 0, count)
	for i := uint32(0); i < count; i++ {
		v := make([]float32, dim)
		if err := binary.Read(f, binary.LittleEndian, &v); err != nil {
			return 0, nil, fmt.Errorf("truncated index at entry %d: %w", i, err)
		}
		vectors = append(vectors, v)
	}
	return int(dim), vectors, nil
}

func writeIndexFile(path string, dim int, vectors [][]float32) error {
	return atomicWrite(path, func(f *os.File) error {
		if _, err := f.Write(indexMagic[:]); err != nil {
			return err
		}
		if err := binary.Write(f, binary.LittleEndian, uint32(dim)); err != nil {
			return err
		}
		if err := binary.Write(f, binary.LittleEndian, uint32(len(vectors))); err != nil {
			return err
		}
		for _, v := range vectors {
			if err := binary.Write(f, binary.LittleEndian, v); err != nil {
				return err
			}
		}
		return nil
	})
}

func readTextsFile(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var texts []string
	if err := gob.NewDecoder(f).Decode(&texts); err != nil {
		return nil, fmt.Errorf("failed to decode texts: %w", err)
	}
	return texts, nil
}

func writeTextsFile(path string, texts []string) error {
	return atomicWrite(path, func(f *os.File) error {
		return gob.NewEncoder(f).Encode(texts)
	})
}

func atomicWrite(path string, write func(*os.File) error) error {
	f, err := os.CreateTemp(filepath.Dir(path), ".tmp-*")
	if err != nil {
		return err
	}
	tmp := f.Name()
	if err := write(f); err != nil {
		f.Close()
		os.Remove(tmp)
		return err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, path)
}
