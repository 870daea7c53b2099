// Package file provides file-based persistence for development and tests.
package file

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/dukex/engageflow/pkg/persistence"
)

// Persistence implements the persistence.Persistence interface using the file system.
// Every entity is one JSON document; a single lock serializes writers so the
// read-modify-write operations (execution reservation, idempotent creates)
// stay atomic inside one process.
type Persistence struct {
	store *store

	workflowRepo  *WorkflowRepository
	triggerRepo   *TriggerRepository
	eventLogRepo  *EventLogRepository
	executionRepo *ExecutionRepository
}

// NewPersistence creates a new instance of Persistence with the specified root directory.
func NewPersistence(root string) *Persistence {
	s := &store{root: strings.Replace(root, "file://", "", 1)}

	return &Persistence{
		store:         s,
		workflowRepo:  &WorkflowRepository{store: s},
		triggerRepo:   &TriggerRepository{store: s},
		eventLogRepo:  &EventLogRepository{store: s},
		executionRepo: &ExecutionRepository{store: s},
	}
}

// Close performs any necessary cleanup. For file-based persistence, there is nothing to clean up.
func (fp *Persistence) Close(_ context.Context) error {
	return nil
}

// HealthCheck checks if the file persistence layer is healthy by verifying the root directory exists.
func (fp *Persistence) HealthCheck(_ context.Context) error {
	_, err := os.Stat(fp.store.root)
	if os.IsNotExist(err) {
		return os.ErrNotExist
	}

	return err
}

func (fp *Persistence) WorkflowRepository() persistence.WorkflowRepository {
	return fp.workflowRepo
}

func (fp *Persistence) TriggerRepository() persistence.TriggerRepository {
	return fp.triggerRepo
}

func (fp *Persistence) EventLogRepository() persistence.EventLogRepository {
	return fp.eventLogRepo
}

func (fp *Persistence) ExecutionRepository() persistence.ExecutionRepository {
	return fp.executionRepo
}

const (
	workflowsDir    = "workflows"
	triggersDir     = "triggers"
	associationsDir = "associations"
	eventsDir       = "events"
	executionsDir   = "executions"
)

var errInvalidID = errors.New("identifier contains invalid characters")

type store struct {
	root string
	mu   sync.RWMutex
}

// fileName maps an identifier to a safe file name. Identifiers made only of
// [A-Za-z0-9_-] are used as they are; anything else is base64url encoded.
func fileName(id string) (string, error) {
	if id == "" {
		return "", errInvalidID
	}

	for _, r := range id {
		isAlnum := (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9')
		if !isAlnum && r != '-' && r != '_' {
			return "~" + base64.RawURLEncoding.EncodeToString([]byte(id)) + ".json", nil
		}
	}

	return id + ".json", nil
}

func (s *store) path(dir, id string) (string, error) {
	name, err := fileName(id)
	if err != nil {
		return "", err
	}

	return filepath.Join(s.root, dir, name), nil
}

func (s *store) exists(dir, id string) (bool, error) {
	filePath, err := s.path(dir, id)
	if err != nil {
		return false, err
	}

	_, err = os.Stat(filePath)
	if err == nil {
		return true, nil
	}

	if os.IsNotExist(err) {
		return false, nil
	}

	return false, err
}

// read decodes the document into target and reports whether it existed.
func (s *store) read(dir, id string, target any) (bool, error) {
	filePath, err := s.path(dir, id)
	if err != nil {
		return false, err
	}

	body, err := os.ReadFile(filePath) // #nosec G304 -- file name is derived from a sanitized id
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}

		return false, fmt.Errorf("failed to read %s/%s: %w", dir, id, err)
	}

	err = json.Unmarshal(body, target)
	if err != nil {
		return false, fmt.Errorf("failed to unmarshal %s/%s: %w", dir, id, err)
	}

	return true, nil
}

func (s *store) write(dir, id string, value any) error {
	err := os.MkdirAll(filepath.Join(s.root, dir), 0750)
	if err != nil {
		return fmt.Errorf("failed to create %s directory: %w", dir, err)
	}

	filePath, err := s.path(dir, id)
	if err != nil {
		return err
	}

	data, err := json.MarshalIndent(value, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal %s/%s: %w", dir, id, err)
	}

	err = os.WriteFile(filePath, data, 0600)
	if err != nil {
		return fmt.Errorf("failed to write %s/%s: %w", dir, id, err)
	}

	return nil
}

func (s *store) remove(dir, id string) error {
	filePath, err := s.path(dir, id)
	if err != nil {
		return err
	}

	err = os.Remove(filePath)
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove %s/%s: %w", dir, id, err)
	}

	return nil
}

// readAll decodes every document of dir. A missing directory is an empty set.
func readAll[T any](s *store, dir string) ([]*T, error) {
	files, err := fs.Glob(os.DirFS(filepath.Join(s.root, dir)), "*.json")
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", dir, err)
	}

	items := make([]*T, 0, len(files))

	for _, name := range files {
		body, err := os.ReadFile(filepath.Join(s.root, dir, name)) // #nosec G304 -- listed from our own directory
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}

			return nil, fmt.Errorf("failed to read %s/%s: %w", dir, name, err)
		}

		var item T

		err = json.Unmarshal(body, &item)
		if err != nil {
			return nil, fmt.Errorf("failed to unmarshal %s/%s: %w", dir, name, err)
		}

		items = append(items, &item)
	}

	return items, nil
}
