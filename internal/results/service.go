package results

import (
	"fmt"
	"image"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/zombor/codescan/internal/scanner"
	"github.com/zombor/codescan/internal/scanning"
)

// IDGenerator generates unique IDs for records
type IDGenerator interface {
	Generate() string
}

// TimeSource provides the current time
type TimeSource interface {
	Now() time.Time
}

// uuidGenerator generates random UUIDs
type uuidGenerator struct{}

func (g *uuidGenerator) Generate() string {
	return uuid.NewString()
}

// defaultTimeSource provides the current time
type defaultTimeSource struct{}

func (t *defaultTimeSource) Now() time.Time {
	return time.Now()
}

// Service persists what the scanner delivers. It is the scanner's result
// listener and timeout observer.
type Service struct {
	db          DB
	storage     Storage
	idGenerator IDGenerator
	timeSource  TimeSource
}

var (
	_ scanner.Listener        = (*Service)(nil)
	_ scanner.TimeoutObserver = (*Service)(nil)
)

// NewService creates a new Service with default ID generator and time source
func NewService(db DB, storage Storage) *Service {
	return NewServiceWithDeps(db, storage, &uuidGenerator{}, &defaultTimeSource{})
}

// NewServiceWithDeps creates a new Service with custom dependencies for testing
func NewServiceWithDeps(db DB, storage Storage, idGen IDGenerator, timeSrc TimeSource) *Service {
	return &Service{
		db:          db,
		storage:     storage,
		idGenerator: idGen,
		timeSource:  timeSrc,
	}
}

// OnScanResult saves a delivered result.
func (s *Service) OnScanResult(result scanner.ScanResult) {
	if _, err := s.SaveResult(result); err != nil {
		slog.Error("Failed to save scan result", "text", result.Text, "source", result.Source, "error", err)
	}
}

// SaveResult stores a successful result as a new record
func (s *Service) SaveResult(result scanner.ScanResult) (*Record, error) {
	if !result.Success {
		return nil, fmt.Errorf("refusing to save unsuccessful result from %s", result.Source)
	}

	record := &Record{
		ID:        s.idGenerator.Generate(),
		Text:      result.Text,
		Source:    result.Source,
		LatencyMS: result.LatencyMS,
		ScannedAt: s.timeSource.Now(),
	}
	if err := s.db.SaveRecord(record); err != nil {
		return nil, fmt.Errorf("saving record to database: %w", err)
	}

	slog.Info("Saved scan", "id", record.ID, "text", record.Text, "source", record.Source, "latency_ms", record.LatencyMS)
	return record, nil
}

// OnTimeout saves snapshots of a frame whose race timed out.
func (s *Service) OnTimeout(sessionID string, original, enhanced image.Image) {
	if _, err := s.SaveTimeout(sessionID, original, enhanced); err != nil {
		slog.Warn("Failed to save timeout snapshot", "session", sessionID, "error", err)
	}
}

// SaveTimeout writes the frame images as PNG snapshots and records them
func (s *Service) SaveTimeout(sessionID string, original, enhanced image.Image) (*Timeout, error) {
	if original == nil {
		return nil, fmt.Errorf("no original image for session %s", sessionID)
	}

	timeout := &Timeout{
		SessionID: sessionID,
		CreatedAt: s.timeSource.Now(),
	}

	name, err := s.saveSnapshot(sessionID, "original", original)
	if err != nil {
		return nil, err
	}
	timeout.Original = name

	if enhanced != nil {
		name, err := s.saveSnapshot(sessionID, "enhanced", enhanced)
		if err != nil {
			s.deleteSnapshots(timeout)
			return nil, err
		}
		timeout.Enhanced = name
	}

	if err := s.db.SaveTimeout(timeout); err != nil {
		s.deleteSnapshots(timeout)
		return nil, fmt.Errorf("saving timeout to database: %w", err)
	}
	return timeout, nil
}

func (s *Service) saveSnapshot(sessionID, variant string, img image.Image) (string, error) {
	data, err := scanning.EncodePNG(img)
	if err != nil {
		return "", fmt.Errorf("encoding %s snapshot: %w", variant, err)
	}
	name, err := s.storage.Save(fmt.Sprintf("%s_%s.png", sessionID, variant), data)
	if err != nil {
		return "", fmt.Errorf("saving %s snapshot: %w", variant, err)
	}
	return name, nil
}

func (s *Service) deleteSnapshots(timeout *Timeout) {
	for _, name := range []string{timeout.Original, timeout.Enhanced} {
		if name == "" {
			continue
		}
		if err := s.storage.Delete(name); err != nil {
			slog.Warn("Failed to delete snapshot", "filename", name, "error", err)
		}
	}
}

// GetRecord retrieves a record by ID
func (s *Service) GetRecord(id string) (*Record, error) {
	record, err := s.db.GetRecord(id)
	if err != nil {
		return nil, fmt.Errorf("getting record: %w", err)
	}
	return record, nil
}

// ListRecords returns all records, newest first
func (s *Service) ListRecords() ([]*Record, error) {
	records, err := s.db.ListRecords()
	if err != nil {
		return nil, fmt.Errorf("listing records: %w", err)
	}
	sort.SliceStable(records, func(i, j int) bool {
		return records[i].ScannedAt.After(records[j].ScannedAt)
	})
	return records, nil
}

// DeleteRecord removes a record
func (s *Service) DeleteRecord(id string) error {
	if _, err := s.db.GetRecord(id); err != nil {
		return fmt.Errorf("getting record for deletion: %w", err)
	}
	if err := s.db.DeleteRecord(id); err != nil {
		return fmt.Errorf("deleting record from database: %w", err)
	}
	return nil
}

// ListTimeouts returns all timed out sessions, newest first
func (s *Service) ListTimeouts() ([]*Timeout, error) {
	timeouts, err := s.db.ListTimeouts()
	if err != nil {
		return nil, fmt.Errorf("listing timeouts: %w", err)
	}
	sort.SliceStable(timeouts, func(i, j int) bool {
		return timeouts[i].CreatedAt.After(timeouts[j].CreatedAt)
	})
	return timeouts, nil
}

// GetSnapshot returns a snapshot PNG by file name
func (s *Service) GetSnapshot(name string) ([]byte, error) {
	data, err := s.storage.Get(name)
	if err != nil {
		return nil, fmt.Errorf("getting snapshot: %w", err)
	}
	return data, nil
}
