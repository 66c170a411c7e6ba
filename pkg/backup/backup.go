package backup

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	apperrors "audiocast/pkg/errors"
	"audiocast/pkg/utils"
)

const (
	namePrefix = "backup-"
	nameSuffix = ".json"
	nameLayout = "20060102-150405.000"
)

var (
	ErrNotFound       = errors.New("backup not found")
	ErrInvalidName    = errors.New("invalid backup name")
	ErrInvalidArchive = errors.New("invalid backup archive")
	ErrNoSection      = errors.New("backup section missing")
)

func init() {
	apperrors.Register(ErrNotFound, apperrors.ClassAuthorization, apperrors.ErrCodeNotFound)
	apperrors.Register(ErrInvalidName, apperrors.ClassOther, apperrors.ErrCodeInvalidInput)
}

// Archive is one saved backup. Each section holds the JSON encoding of one
// collection.
type Archive struct {
	Version   string                     `json:"version"`
	Timestamp time.Time                  `json:"timestamp"`
	Sections  map[string]json.RawMessage `json:"sections"`
	Metadata  map[string]interface{}     `json:"metadata,omitempty"`
}

func NewArchive() *Archive {
	return &Archive{
		Sections: make(map[string]json.RawMessage),
		Metadata: make(map[string]interface{}),
	}
}

// Put stores v under section.
func (a *Archive) Put(section string, v interface{}) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to encode section %s: %w", section, err)
	}
	a.Sections[section] = raw
	return nil
}

// Get decodes section into v.
func (a *Archive) Get(section string, v interface{}) error {
	raw, ok := a.Sections[section]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNoSection, section)
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("failed to decode section %s: %w", section, err)
	}
	return nil
}

// Storage keeps archives by name.
type Storage interface {
	Save(ctx context.Context, name string, data io.Reader) error
	Load(ctx context.Context, name string) (io.ReadCloser, error)
	List(ctx context.Context, prefix string) ([]string, error)
	Delete(ctx context.Context, name string) error
}

type Service struct {
	storage Storage
	version string
}

func NewService(storage Storage, version string) *Service {
	return &Service{
		storage: storage,
		version: version,
	}
}

// Create stamps the archive and saves it under a name derived from the
// stamp.
func (s *Service) Create(ctx context.Context, archive *Archive) (string, error) {
	archive.Version = s.version
	archive.Timestamp = utils.Now().UTC()

	data, err := json.Marshal(archive)
	if err != nil {
		return "", fmt.Errorf("failed to marshal backup: %w", err)
	}

	name := NameFor(archive.Timestamp)
	if err := s.storage.Save(ctx, name, bytes.NewReader(data)); err != nil {
		return "", fmt.Errorf("failed to save backup: %w", err)
	}
	return name, nil
}

func (s *Service) Load(ctx context.Context, name string) (*Archive, error) {
	if _, ok := TimestampOf(name); !ok {
		return nil, fmt.Errorf("%w: %q", ErrInvalidName, name)
	}

	reader, err := s.storage.Load(ctx, name)
	if err != nil {
		return nil, err
	}
	defer reader.Close()

	var archive Archive
	if err := json.NewDecoder(reader).Decode(&archive); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidArchive, err)
	}
	if archive.Version == "" {
		return nil, fmt.Errorf("%w: missing version", ErrInvalidArchive)
	}
	return &archive, nil
}

// List returns backup names, oldest first.
func (s *Service) List(ctx context.Context) ([]string, error) {
	names, err := s.storage.List(ctx, namePrefix)
	if err != nil {
		return nil, err
	}

	valid := names[:0]
	for _, name := range names {
		if _, ok := TimestampOf(name); ok {
			valid = append(valid, name)
		}
	}
	sort.Strings(valid)
	return valid, nil
}

func (s *Service) Delete(ctx context.Context, name string) error {
	if _, ok := TimestampOf(name); !ok {
		return fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	return s.storage.Delete(ctx, name)
}

// Prune deletes every backup taken before cutoff and reports how many went.
func (s *Service) Prune(ctx context.Context, cutoff time.Time) (int, error) {
	names, err := s.List(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to list backups: %w", err)
	}

	deleted := 0
	var errs []error
	for _, name := range names {
		ts, _ := TimestampOf(name)
		if !ts.Before(cutoff) {
			continue
		}
		if err := s.storage.Delete(ctx, name); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
			continue
		}
		deleted++
	}
	return deleted, errors.Join(errs...)
}

// FindAt returns the newest backup taken at or before target.
func (s *Service) FindAt(ctx context.Context, target time.Time) (string, error) {
	names, err := s.List(ctx)
	if err != nil {
		return "", err
	}
	for i := len(names) - 1; i >= 0; i-- {
		if ts, _ := TimestampOf(names[i]); !ts.After(target) {
			return names[i], nil
		}
	}
	return "", fmt.Errorf("%w: none at or before %s", ErrNotFound, target.Format(time.RFC3339))
}

// Latest returns the newest backup.
func (s *Service) Latest(ctx context.Context) (string, error) {
	names, err := s.List(ctx)
	if err != nil {
		return "", err
	}
	if len(names) == 0 {
		return "", fmt.Errorf("%w: no backups taken yet", ErrNotFound)
	}
	return names[len(names)-1], nil
}

// NameFor is the storage name of a backup taken at ts.
func NameFor(ts time.Time) string {
	return namePrefix + ts.UTC().Format(nameLayout) + nameSuffix
}

// TimestampOf parses the time a backup was taken from its name.
func TimestampOf(name string) (time.Time, bool) {
	if !strings.HasPrefix(name, namePrefix) || !strings.HasSuffix(name, nameSuffix) {
		return time.Time{}, false
	}
	stamp := strings.TrimSuffix(strings.TrimPrefix(name, namePrefix), nameSuffix)
	ts, err := time.Parse(nameLayout, stamp)
	if err != nil {
		return time.Time{}, false
	}
	return ts, true
}
