package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/juju/errors"
	"github.com/juju/loggo"
)

var logger = loggo.GetLogger("multisave.config")

// Registry limits and defaults.
const (
	MaxJobsCeiling       = 5
	DefaultLanguage      = "en"
	DefaultLogFormat     = "json"
	DefaultListenAddress = "127.0.0.1:8791"
	DefaultMaxParallelKB = 1024
)

// Schedule runs a job selection on a cron expression.
type Schedule struct {
	Cron string
	Jobs string
}

// Settings is the global section of the registry document.
type Settings struct {
	Language           string
	MaxBackupJobs      int
	LogFormat          string
	PriorityExtensions []string
	MaxParallelSizeKB  int64
	EncryptExtensions  []string
	EncryptCommand     string
	ExcludePatterns    []string `json:",omitempty"`
	ListenAddress      string
	Schedules          []Schedule `json:",omitempty"`
}

// JobEntry is one persisted backup job.
type JobEntry struct {
	Name         string
	SourcePath   string
	TargetPath   string
	Type         JobType
	State        string
	TotalFiles   int
	TotalSize    int64
	Progression  int
	LastFileTime int64
}

// Document is the persisted registry.
type Document struct {
	Settings   Settings
	BackupJobs []JobEntry
}

// DefaultSettings returns the settings of a fresh installation.
func DefaultSettings() Settings {
	return Settings{
		Language:          DefaultLanguage,
		MaxBackupJobs:     MaxJobsCeiling,
		LogFormat:         DefaultLogFormat,
		MaxParallelSizeKB: DefaultMaxParallelKB,
		ListenAddress:     DefaultListenAddress,
	}
}

// Normalize fills zero values with defaults and clamps MaxBackupJobs to the ceiling.
func (s *Settings) Normalize() {
	defaults := DefaultSettings()

	if s.Language == "" {
		s.Language = defaults.Language
	}

	if s.MaxBackupJobs <= 0 || s.MaxBackupJobs > MaxJobsCeiling {
		s.MaxBackupJobs = MaxJobsCeiling
	}

	if s.LogFormat == "" {
		s.LogFormat = defaults.LogFormat
	}

	if s.MaxParallelSizeKB <= 0 {
		s.MaxParallelSizeKB = defaults.MaxParallelSizeKB
	}

	if s.ListenAddress == "" {
		s.ListenAddress = defaults.ListenAddress
	}
}

// Validate rejects settings the engine cannot honour.
func (s Settings) Validate() error {
	if !strings.EqualFold(s.LogFormat, DefaultLogFormat) {
		return errors.NotSupportedf("log format %q", s.LogFormat)
	}

	for _, sched := range s.Schedules {
		if strings.TrimSpace(sched.Cron) == "" {
			return errors.NotValidf("schedule for %q without cron expression", sched.Jobs)
		}

		if _, err := ParseJobSelection(sched.Jobs); err != nil {
			return errors.Annotatef(err, "schedule %q", sched.Cron)
		}
	}

	return nil
}

// Store loads and saves the registry document at a fixed path.
type Store struct {
	mu   sync.Mutex
	path string
}

// NewStore creates a store for path.
func NewStore(path string) *Store {
	return &Store{path: path}
}

// Path returns the document path.
func (s *Store) Path() string {
	return s.path
}

// Load reads the document. A missing file yields a default document.
func (s *Store) Load() (*Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.loadLocked()
}

// Save writes doc atomically.
func (s *Store) Save(doc *Document) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.saveLocked(doc)
}

// SaveJobs replaces the job list of the stored document, keeping its settings.
func (s *Store) SaveJobs(jobs []JobEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.loadLocked()
	if err != nil {
		return errors.Trace(err)
	}

	doc.BackupJobs = jobs

	return s.saveLocked(doc)
}

func (s *Store) loadLocked() (*Document, error) {
	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		logger.Infof("registry %s not found, starting empty", s.path)
		return &Document{Settings: DefaultSettings()}, nil
	}

	if err != nil {
		return nil, errors.Annotatef(err, "reading registry %s", s.path)
	}

	doc := &Document{}
	if err := json.Unmarshal(data, doc); err != nil {
		return nil, errors.Annotatef(err, "parsing registry %s", s.path)
	}

	doc.Settings.Normalize()

	return doc, nil
}

func (s *Store) saveLocked(doc *Document) error {
	return WriteFileAtomic(s.path, doc)
}

// WriteFileAtomic marshals v as indented JSON and replaces path through a
// temp file in the same directory.
func WriteFileAtomic(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return errors.Annotatef(err, "encoding %s", path)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return errors.Annotatef(err, "creating %s", dir)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".*.tmp")
	if err != nil {
		return errors.Annotatef(err, "writing %s", path)
	}

	tmpName := tmp.Name()

	if _, err := tmp.Write(append(data, '\n')); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)

		return errors.Annotatef(err, "writing %s", path)
	}

	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return errors.Annotatef(err, "writing %s", path)
	}

	if err := os.Rename(tmpName, path); err != nil {
		_ = os.Remove(tmpName)
		return errors.Annotatef(err, "replacing %s", path)
	}

	return nil
}
