package logstore

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"time"

	"github.com/coffersTech/disclosurelog/internal/metrics"
	"github.com/valyala/fastjson"
)

var emptyObject = []byte("{}")

// Store maps append/read/list/delete onto a directory of daily
// newline-delimited JSON files. It keeps no in-memory copy of the data.
type Store struct {
	dir     string
	now     func() time.Time
	metrics *metrics.Metrics

	parsers fastjson.ParserPool
	arenas  fastjson.ArenaPool

	mu       sync.Mutex
	locks    map[string]*sync.Mutex // file name -> append lock
	onAppend func(entry json.RawMessage)
}

// NewStore opens the store rooted at dir, creating the directory if needed.
// A nil m gets a private, unregistered set of collectors.
func NewStore(dir string, m *metrics.Metrics) (*Store, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create log dir %s: %w", dir, err)
	}
	if m == nil {
		m = metrics.New(nil)
	}
	return &Store{
		dir:     dir,
		now:     time.Now,
		metrics: m,
		locks:   make(map[string]*sync.Mutex),
	}, nil
}

// Dir returns the directory holding the log files.
func (s *Store) Dir() string {
	return s.dir
}

// OnAppend registers fn to be called with every stamped entry after it
// has been written. fn runs while the file's append lock is held, so calls
// arrive in file order and fn must not block.
func (s *Store) OnAppend(fn func(entry json.RawMessage)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onAppend = fn
}

// Append stamps body with the current time and appends it as one line to
// today's file. body must be a JSON object; an empty body counts as {}.
// The stamped entry is returned.
func (s *Store) Append(body []byte) (json.RawMessage, error) {
	body = bytes.TrimSpace(body)
	if len(body) == 0 {
		body = emptyObject
	}

	p := s.parsers.Get()
	defer s.parsers.Put(p)

	v, err := p.ParseBytes(body)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNotObject, err)
	}
	obj, err := v.Object()
	if err != nil {
		return nil, ErrNotObject
	}

	now := s.now().UTC()
	a := s.arenas.Get()
	if countKey(obj, TimestampField) > 1 {
		// Set only replaces the first occurrence; drop them all instead.
		for obj.Get(TimestampField) != nil {
			obj.Del(TimestampField)
		}
	}
	obj.Set(TimestampField, a.NewString(FormatTimestamp(now)))
	line := v.MarshalTo(nil)
	s.arenas.Put(a)
	line = append(line, '\n')

	name := FileName(now)
	if err := s.appendLine(name, line); err != nil {
		s.metrics.AppendErrors.Inc()
		return nil, fmt.Errorf("append to %s: %w", name, err)
	}

	s.metrics.EntriesAppended.Inc()
	s.metrics.BytesAppended.Add(float64(len(line)))
	return json.RawMessage(line[:len(line)-1]), nil
}

func countKey(obj *fastjson.Object, key string) int {
	n := 0
	obj.Visit(func(k []byte, _ *fastjson.Value) {
		if string(k) == key {
			n++
		}
	})
	return n
}

// appendLine writes line with a single write on an O_APPEND descriptor
// while holding the file's lock, then hands the entry to the OnAppend
// callback before releasing it.
func (s *Store) appendLine(name string, line []byte) error {
	mu := s.fileLock(name)
	mu.Lock()
	defer mu.Unlock()

	f, err := os.OpenFile(filepath.Join(s.dir, name), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}
	if _, err := f.Write(line); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}

	s.mu.Lock()
	fn := s.onAppend
	s.mu.Unlock()
	if fn != nil {
		fn(json.RawMessage(line[:len(line)-1]))
	}
	return nil
}

func (s *Store) fileLock(name string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()

	mu, ok := s.locks[name]
	if !ok {
		mu = &sync.Mutex{}
		s.locks[name] = mu
	}
	return mu
}

// ReadAll returns every entry, newest file first and in append order
// within a file. Lines that are not valid JSON are skipped.
//
// A file that cannot be read fails the whole call, except a file removed
// between listing and reading, which is skipped.
func (s *Store) ReadAll() ([]json.RawMessage, error) {
	names, err := s.logFiles()
	if err != nil {
		return nil, err
	}

	entries := make([]json.RawMessage, 0)
	for _, name := range names {
		data, err := os.ReadFile(filepath.Join(s.dir, name))
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return nil, fmt.Errorf("read %s: %w", name, err)
		}

		for _, line := range bytes.Split(data, []byte{'\n'}) {
			line = bytes.TrimSpace(line)
			if len(line) == 0 {
				continue
			}
			if err := fastjson.ValidateBytes(line); err != nil {
				s.metrics.CorruptLines.Inc()
				continue
			}
			entries = append(entries, json.RawMessage(line))
		}
	}
	return entries, nil
}

// ListFiles describes every log file, newest first.
func (s *Store) ListFiles() ([]FileInfo, error) {
	names, err := s.logFiles()
	if err != nil {
		return nil, err
	}

	files := make([]FileInfo, 0, len(names))
	for _, name := range names {
		info, err := os.Stat(filepath.Join(s.dir, name))
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return nil, fmt.Errorf("stat %s: %w", name, err)
		}
		files = append(files, FileInfo{
			Name:     name,
			Size:     info.Size(),
			Modified: FormatTimestamp(info.ModTime()),
		})
	}
	return files, nil
}

// DeleteAll removes every log file and returns how many were removed.
// It is not atomic: on failure some files may already be gone and the
// partial count is not reported.
func (s *Store) DeleteAll() (int, error) {
	names, err := s.logFiles()
	if err != nil {
		return 0, err
	}

	for _, name := range names {
		if err := s.remove(name, "clear"); err != nil {
			return 0, fmt.Errorf("remove %s: %w", name, err)
		}
	}
	return len(names), nil
}

// remove unlinks name under its append lock so no append is mid-write.
func (s *Store) remove(name, reason string) error {
	mu := s.fileLock(name)
	mu.Lock()
	defer mu.Unlock()

	if err := os.Remove(filepath.Join(s.dir, name)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	s.metrics.FilesDeleted.WithLabelValues(reason).Inc()
	return nil
}

// Open opens a single log file by the name ListFiles reports.
func (s *Store) Open(name string) (*os.File, error) {
	if !validName(name) {
		return nil, ErrInvalidName
	}
	f, err := os.Open(filepath.Join(s.dir, name))
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", name, err)
	}
	return f, nil
}

// logFiles lists the names of all log files, sorted newest first.
// Names start with the date, so reverse lexical order is reverse
// chronological order.
func (s *Store) logFiles() ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("read log dir %s: %w", s.dir, err)
	}

	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || !isLogFile(entry.Name()) {
			continue
		}
		names = append(names, entry.Name())
	}
	slices.Sort(names)
	slices.Reverse(names)
	return names, nil
}
