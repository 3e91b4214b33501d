package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/HatiCode/bizcast/pkg/models"
)

const fileExt = ".json"

// FileRepository stores one JSON document per artifact under a directory,
// named "{backend}_{business_id}_{metric_name}.json". Writes go through a
// temporary file and a rename, so readers never observe a partial artifact.
type FileRepository struct {
	dir string
}

// NewFileRepository creates dir if needed.
func NewFileRepository(dir string) (*FileRepository, error) {
	if dir == "" {
		return nil, errors.New("storage directory cannot be empty")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create storage directory: %w", err)
	}
	return &FileRepository{dir: dir}, nil
}

// Dir returns the storage directory.
func (r *FileRepository) Dir() string { return r.dir }

func (r *FileRepository) path(key models.Key) string {
	return filepath.Join(r.dir, key.String()+fileExt)
}

func (r *FileRepository) Exists(ctx context.Context, key models.Key) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	_, err := os.Stat(r.path(key))
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, fs.ErrNotExist):
		return false, nil
	default:
		return false, fmt.Errorf("stat artifact %s: %w", key, err)
	}
}

func (r *FileRepository) Save(ctx context.Context, key models.Key, artifact *models.Artifact) error {
	path := r.path(key)
	stored, err := prepare(key, artifact, path)
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	data, err := json.Marshal(stored)
	if err != nil {
		return fmt.Errorf("failed to marshal artifact: %w", err)
	}

	tmp, err := os.CreateTemp(r.dir, ".tmp-"+key.String()+"-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write artifact %s: %w", key, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("write artifact %s: %w", key, err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("commit artifact %s: %w", key, err)
	}

	artifact.StoragePath = path
	return nil
}

func (r *FileRepository) Load(ctx context.Context, key models.Key) (*models.Artifact, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(r.path(key))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, &models.ModelNotFoundError{Key: key}
		}
		return nil, fmt.Errorf("read artifact %s: %w", key, err)
	}

	var a models.Artifact
	if err := json.Unmarshal(data, &a); err != nil {
		return nil, fmt.Errorf("failed to unmarshal artifact %s: %w", key, err)
	}
	return &a, nil
}

// Keys lists artifacts by file name. Files that do not parse as a key are
// ignored.
func (r *FileRepository) Keys(ctx context.Context) ([]models.Key, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(r.dir)
	if err != nil {
		return nil, fmt.Errorf("list storage directory: %w", err)
	}

	var keys []models.Key
	for _, e := range entries {
		name, ok := strings.CutSuffix(e.Name(), fileExt)
		if e.IsDir() || !ok || strings.HasPrefix(name, ".") {
			continue
		}
		k, err := models.ParseKey(name)
		if err != nil {
			continue
		}
		keys = append(keys, k)
	}
	sortKeys(keys)
	return keys, nil
}

func (r *FileRepository) Delete(ctx context.Context, key models.Key) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	err := os.Remove(r.path(key))
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, fs.ErrNotExist):
		return false, nil
	default:
		return false, fmt.Errorf("delete artifact %s: %w", key, err)
	}
}
