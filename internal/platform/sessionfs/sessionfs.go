package sessionfs

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"
)

var (
	ErrInvalidName = errors.New("invalid path segment")
	ErrOutsideBase = errors.New("path escapes data directory")
	ErrChunkExists = errors.New("chunk file already exists")
)

const (
	OriginalDir  = "original"
	ChunksDir    = "chunks"
	SummariesDir = "summaries"
	PRDFile      = "prd.md"
	RecordMarker = ".prd_record"

	KindChunk = "chunk"
	KindChat  = "chat"
)

var (
	chunkNameRe   = regexp.MustCompile(`^chunk_(\d+)\.txt$`)
	summaryNameRe = regexp.MustCompile(`^chunk_(\d+)_(\d+)\.md$`)
	chatDigestRe  = regexp.MustCompile(`^chat_(\d+)\.md$`)
)

// Store is the per-deployment data directory. Every path it hands out has been
// checked to resolve under base.
type Store struct {
	base string
	now  func() time.Time

	mu     sync.Mutex
	lastMs map[string]int64
}

type SummaryFile struct {
	Filename    string
	Kind        string
	ChunkIndex  int
	TimestampMs int64
	Path        string
}

func New(base string) (*Store, error) {
	if strings.TrimSpace(base) == "" {
		return nil, fmt.Errorf("data dir required")
	}
	abs, err := filepath.Abs(base)
	if err != nil {
		return nil, fmt.Errorf("resolve data dir: %w", err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	if resolved, err := filepath.EvalSymlinks(abs); err == nil {
		abs = resolved
	}
	return &Store{base: abs, now: time.Now, lastMs: map[string]int64{}}, nil
}

func (s *Store) Base() string { return s.base }

// ValidateSegment rejects anything that is not a single plain path element.
func ValidateSegment(name string) error {
	n := strings.TrimSpace(name)
	switch {
	case n == "", n == ".", n == "..":
		return fmt.Errorf("%w: %q", ErrInvalidName, name)
	case strings.ContainsAny(n, `/\`), strings.ContainsRune(n, 0):
		return fmt.Errorf("%w: %q", ErrInvalidName, name)
	case filepath.IsAbs(n), filepath.VolumeName(n) != "":
		return fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	return nil
}

// SanitizeFilename reduces an uploaded name to its base element.
func SanitizeFilename(name string) string {
	n := strings.ReplaceAll(strings.TrimSpace(name), `\`, "/")
	n = path.Base(n)
	n = strings.Map(func(r rune) rune {
		if r < 0x20 || r == 0x7f {
			return -1
		}
		return r
	}, n)
	n = strings.TrimSpace(n)
	if n == "" || n == "." || n == ".." || n == "/" {
		return "upload.txt"
	}
	return n
}

func (s *Store) within(p string) (string, error) {
	clean := filepath.Clean(p)
	if !s.contains(clean) {
		return "", fmt.Errorf("%w: %s", ErrOutsideBase, p)
	}
	if resolved, err := filepath.EvalSymlinks(clean); err == nil && !s.contains(resolved) {
		return "", fmt.Errorf("%w: %s", ErrOutsideBase, p)
	}
	return clean, nil
}

func (s *Store) contains(p string) bool {
	rel, err := filepath.Rel(s.base, p)
	if err != nil {
		return false
	}
	if rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return false
	}
	return !filepath.IsAbs(rel)
}

func (s *Store) sessionPath(sessionID string, parts ...string) (string, error) {
	if err := ValidateSegment(sessionID); err != nil {
		return "", err
	}
	for _, p := range parts {
		if err := ValidateSegment(p); err != nil {
			return "", err
		}
	}
	elems := append([]string{s.base, strings.TrimSpace(sessionID)}, parts...)
	return s.within(filepath.Join(elems...))
}

func (s *Store) SessionDir(sessionID string) (string, error) {
	return s.sessionPath(sessionID)
}

// Rel converts an absolute path inside the store to a slash separated relative path.
func (s *Store) Rel(abs string) (string, error) {
	clean, err := s.within(abs)
	if err != nil {
		return "", err
	}
	rel, err := filepath.Rel(s.base, clean)
	if err != nil {
		return "", err
	}
	return filepath.ToSlash(rel), nil
}

// Resolve re-bases a stored path under the data dir and re-checks containment.
// Absolute paths are accepted only when they already sit inside the data dir.
func (s *Store) Resolve(stored string) (string, error) {
	stored = strings.TrimSpace(stored)
	if stored == "" {
		return "", fmt.Errorf("%w: empty path", ErrInvalidName)
	}
	p := filepath.FromSlash(stored)
	if !filepath.IsAbs(p) {
		p = filepath.Join(s.base, p)
	}
	return s.within(p)
}

func (s *Store) EnsureSession(sessionID string) error {
	for _, sub := range []string{OriginalDir, ChunksDir, SummariesDir} {
		dir, err := s.sessionPath(sessionID, sub)
		if err != nil {
			return err
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create %s dir: %w", sub, err)
		}
	}
	return nil
}

// ---- originals ----

func (s *Store) OriginalPath(sessionID, filename string) (string, error) {
	return s.sessionPath(sessionID, OriginalDir, filename)
}

// UniqueOriginalName returns filename, or filename with a _2, _3... suffix
// before the extension when an original of that name already exists.
func (s *Store) UniqueOriginalName(sessionID, filename string) (string, error) {
	ext := filepath.Ext(filename)
	stem := strings.TrimSuffix(filename, ext)
	candidate := filename
	for n := 2; ; n++ {
		p, err := s.OriginalPath(sessionID, candidate)
		if err != nil {
			return "", err
		}
		if _, err := os.Stat(p); errors.Is(err, fs.ErrNotExist) {
			return candidate, nil
		} else if err != nil {
			return "", err
		}
		candidate = fmt.Sprintf("%s_%d%s", stem, n, ext)
	}
}

// WriteOriginal stores extracted text and returns its data-dir relative path.
func (s *Store) WriteOriginal(sessionID, filename, text string) (string, error) {
	if err := s.EnsureSession(sessionID); err != nil {
		return "", err
	}
	p, err := s.OriginalPath(sessionID, filename)
	if err != nil {
		return "", err
	}
	if err := writeFileAtomic(p, []byte(text)); err != nil {
		return "", fmt.Errorf("write original: %w", err)
	}
	return s.Rel(p)
}

// ---- chunks ----

func ChunkName(idx int) string { return fmt.Sprintf("chunk_%06d.txt", idx) }

func (s *Store) ChunkPath(sessionID string, idx int) (string, error) {
	if idx < 1 {
		return "", fmt.Errorf("chunk index must be >= 1, got %d", idx)
	}
	return s.sessionPath(sessionID, ChunksDir, ChunkName(idx))
}

// WriteChunk creates a new chunk file. Chunk files are append-only, so an
// existing file for idx is an error.
func (s *Store) WriteChunk(sessionID string, idx int, text string) (string, error) {
	p, err := s.ChunkPath(sessionID, idx)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return "", err
	}
	f, err := os.OpenFile(p, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		if errors.Is(err, fs.ErrExist) {
			return "", fmt.Errorf("%w: %s", ErrChunkExists, ChunkName(idx))
		}
		return "", err
	}
	if _, err := f.WriteString(text); err != nil {
		_ = f.Close()
		_ = os.Remove(p)
		return "", err
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(p)
		return "", err
	}
	return p, nil
}

func (s *Store) ReadChunk(sessionID string, idx int) (string, error) {
	p, err := s.ChunkPath(sessionID, idx)
	if err != nil {
		return "", err
	}
	b, err := os.ReadFile(p)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func (s *Store) RemoveFiles(paths []string) {
	for _, p := range paths {
		if clean, err := s.within(p); err == nil {
			_ = os.Remove(clean)
		}
	}
}

// MaxChunkIndex scans chunk filenames; 0 when the session has none.
func (s *Store) MaxChunkIndex(sessionID string) (int, error) {
	dir, err := s.sessionPath(sessionID, ChunksDir)
	if err != nil {
		return 0, err
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return 0, nil
		}
		return 0, err
	}
	highest := 0
	for _, e := range entries {
		m := chunkNameRe.FindStringSubmatch(e.Name())
		if m == nil {
			continue
		}
		if n, err := strconv.Atoi(m[1]); err == nil && n > highest {
			highest = n
		}
	}
	return highest, nil
}

// ---- summaries ----

func (s *Store) nextStamp(sessionID string) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	ms := s.now().UnixMilli()
	if last := s.lastMs[sessionID]; ms <= last {
		ms = last + 1
	}
	s.lastMs[sessionID] = ms
	return ms
}

func (s *Store) WriteSummary(sessionID string, idx int, content string) (SummaryFile, error) {
	if idx < 1 {
		return SummaryFile{}, fmt.Errorf("chunk index must be >= 1, got %d", idx)
	}
	ms := s.nextStamp(sessionID)
	name := fmt.Sprintf("chunk_%06d_%d.md", idx, ms)
	return s.writeSummaryFile(sessionID, name, SummaryFile{Kind: KindChunk, ChunkIndex: idx, TimestampMs: ms}, content)
}

func (s *Store) WriteChatDigest(sessionID string, content string) (SummaryFile, error) {
	ms := s.nextStamp(sessionID)
	name := fmt.Sprintf("chat_%d.md", ms)
	return s.writeSummaryFile(sessionID, name, SummaryFile{Kind: KindChat, TimestampMs: ms}, content)
}

func (s *Store) writeSummaryFile(sessionID, name string, sf SummaryFile, content string) (SummaryFile, error) {
	p, err := s.sessionPath(sessionID, SummariesDir, name)
	if err != nil {
		return SummaryFile{}, err
	}
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return SummaryFile{}, err
	}
	if err := writeFileAtomic(p, []byte(content)); err != nil {
		return SummaryFile{}, fmt.Errorf("write summary: %w", err)
	}
	sf.Filename = name
	sf.Path = p
	return sf, nil
}

// ListSummaries returns chunk summaries ordered by (chunk index, timestamp),
// followed by chat digests ordered by timestamp.
func (s *Store) ListSummaries(sessionID string) ([]SummaryFile, error) {
	dir, err := s.sessionPath(sessionID, SummariesDir)
	if err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return []SummaryFile{}, nil
		}
		return nil, err
	}
	out := []SummaryFile{}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if m := summaryNameRe.FindStringSubmatch(name); m != nil {
			idx, _ := strconv.Atoi(m[1])
			ms, _ := strconv.ParseInt(m[2], 10, 64)
			out = append(out, SummaryFile{Filename: name, Kind: KindChunk, ChunkIndex: idx, TimestampMs: ms, Path: filepath.Join(dir, name)})
			continue
		}
		if m := chatDigestRe.FindStringSubmatch(name); m != nil {
			ms, _ := strconv.ParseInt(m[1], 10, 64)
			out = append(out, SummaryFile{Filename: name, Kind: KindChat, TimestampMs: ms, Path: filepath.Join(dir, name)})
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.Kind != b.Kind {
			return a.Kind == KindChunk
		}
		if a.ChunkIndex != b.ChunkIndex {
			return a.ChunkIndex < b.ChunkIndex
		}
		return a.TimestampMs < b.TimestampMs
	})
	return out, nil
}

// LatestSummaries maps chunk index to its newest summary file for idx in [from, to].
func (s *Store) LatestSummaries(sessionID string, from, to int) (map[int]SummaryFile, error) {
	all, err := s.ListSummaries(sessionID)
	if err != nil {
		return nil, err
	}
	out := map[int]SummaryFile{}
	for _, sf := range all {
		if sf.Kind != KindChunk || sf.ChunkIndex < from || sf.ChunkIndex > to {
			continue
		}
		if cur, ok := out[sf.ChunkIndex]; !ok || sf.TimestampMs >= cur.TimestampMs {
			out[sf.ChunkIndex] = sf
		}
	}
	return out, nil
}

func (s *Store) ReadSummary(sf SummaryFile) (string, error) {
	clean, err := s.within(sf.Path)
	if err != nil {
		return "", err
	}
	b, err := os.ReadFile(clean)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// ---- cumulative PRD ----

func (s *Store) PRDPath(sessionID string) (string, error) {
	return s.sessionPath(sessionID, SummariesDir, PRDFile)
}

// ReadPRD returns the cumulative document; ok is false when none exists yet.
func (s *Store) ReadPRD(sessionID string) (content string, ok bool, err error) {
	p, err := s.PRDPath(sessionID)
	if err != nil {
		return "", false, err
	}
	b, err := os.ReadFile(p)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", false, nil
		}
		return "", false, err
	}
	return string(b), true, nil
}

// WritePRD overwrites the cumulative document and returns its relative path.
func (s *Store) WritePRD(sessionID, content string) (string, error) {
	if err := s.EnsureSession(sessionID); err != nil {
		return "", err
	}
	p, err := s.PRDPath(sessionID)
	if err != nil {
		return "", err
	}
	if err := writeFileAtomic(p, []byte(content)); err != nil {
		return "", fmt.Errorf("write prd: %w", err)
	}
	return s.Rel(p)
}

func (s *Store) WriteRecordMarker(sessionID string, recordID int64) error {
	p, err := s.sessionPath(sessionID, RecordMarker)
	if err != nil {
		return err
	}
	return writeFileAtomic(p, []byte(strconv.FormatInt(recordID, 10)))
}

// ReadRecordMarker returns 0 when no marker exists.
func (s *Store) ReadRecordMarker(sessionID string) (int64, error) {
	p, err := s.sessionPath(sessionID, RecordMarker)
	if err != nil {
		return 0, err
	}
	b, err := os.ReadFile(p)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return 0, nil
		}
		return 0, err
	}
	id, err := strconv.ParseInt(strings.TrimSpace(string(b)), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("corrupt record marker: %w", err)
	}
	return id, nil
}

func writeFileAtomic(p string, data []byte) error {
	dir := filepath.Dir(p)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(p)+".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return err
	}
	if err := os.Rename(tmpName, p); err != nil {
		_ = os.Remove(tmpName)
		return err
	}
	return nil
}
