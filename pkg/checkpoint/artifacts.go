package checkpoint

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/arobust/arobust/pkg/types"
)

const (
	stagingDir   = ".staging"
	artifactExt  = ".ckpt"
	stagingExt   = ".tmp"
	dirPerm      = 0755
	artifactPerm = 0644
)

// localArtifacts keeps checkpoint payloads as files under one root directory:
//
//	<root>/<role>/<episode>-<step>-<uuid>.ckpt
//	<root>/<role>/.staging/<uuid>.tmp
type localArtifacts struct {
	basePath string
}

func newLocalArtifacts(basePath string) (*localArtifacts, error) {
	if err := os.MkdirAll(basePath, dirPerm); err != nil {
		return nil, fmt.Errorf("failed to create checkpoint directory: %w", err)
	}
	return &localArtifacts{basePath: basePath}, nil
}

// roleDir returns the directory holding a role's artifacts
func (a *localArtifacts) roleDir(role types.Role) string {
	return filepath.Join(a.basePath, string(role))
}

// path resolves a record location, which is relative to the root
func (a *localArtifacts) path(location string) string {
	return filepath.Join(a.basePath, filepath.FromSlash(location))
}

// stage writes data to a fresh staging file and syncs it
func (a *localArtifacts) stage(role types.Role, data []byte) (path, checksum string, err error) {
	dir := filepath.Join(a.roleDir(role), stagingDir)
	if err := os.MkdirAll(dir, dirPerm); err != nil {
		return "", "", fmt.Errorf("failed to create staging directory: %w", err)
	}

	path = filepath.Join(dir, uuid.NewString()+stagingExt)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, artifactPerm)
	if err != nil {
		return "", "", fmt.Errorf("failed to create staging file: %w", err)
	}

	h := sha256.New()
	if _, err := io.MultiWriter(f, h).Write(data); err != nil {
		f.Close()
		os.Remove(path)
		return "", "", fmt.Errorf("failed to write staging file: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(path)
		return "", "", fmt.Errorf("failed to sync staging file: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(path)
		return "", "", fmt.Errorf("failed to close staging file: %w", err)
	}
	return path, hex.EncodeToString(h.Sum(nil)), nil
}

// commit moves a staged file to its final name and syncs the role directory.
// It returns the location relative to the root.
func (a *localArtifacts) commit(staged string, role types.Role, episode, step int64) (string, error) {
	name := fmt.Sprintf("%d-%d-%s%s", episode, step, uuid.NewString(), artifactExt)
	location := string(role) + "/" + name

	if err := os.Rename(staged, a.path(location)); err != nil {
		return "", fmt.Errorf("failed to rename staged artifact: %w", err)
	}
	if err := syncDir(a.roleDir(role)); err != nil {
		os.Remove(a.path(location))
		return "", err
	}
	return location, nil
}

// read returns the artifact bytes after verifying the checksum
func (a *localArtifacts) read(rec *types.CheckpointRecord) ([]byte, error) {
	data, err := os.ReadFile(a.path(rec.Location))
	if err != nil {
		return nil, err
	}
	sum := sha256.Sum256(data)
	if got := hex.EncodeToString(sum[:]); got != rec.Checksum {
		return nil, fmt.Errorf("checksum mismatch for %s: got %s, want %s", rec.Location, got, rec.Checksum)
	}
	return data, nil
}

// remove deletes an artifact; a missing file is not an error
func (a *localArtifacts) remove(location string) error {
	if err := os.Remove(a.path(location)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete checkpoint artifact: %w", err)
	}
	return nil
}

// sweep deletes the role's staging files and every artifact whose location
// keep does not report. It returns the number of files removed.
func (a *localArtifacts) sweep(role types.Role, keep func(location string) bool) (int, error) {
	dir := a.roleDir(role)
	removed := 0

	staging := filepath.Join(dir, stagingDir)
	if entries, err := os.ReadDir(staging); err == nil {
		removed += len(entries)
	}
	if err := os.RemoveAll(staging); err != nil {
		return removed, fmt.Errorf("failed to clear staging directory: %w", err)
	}

	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return removed, nil
	}
	if err != nil {
		return removed, fmt.Errorf("failed to read role directory: %w", err)
	}
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), artifactExt) {
			continue
		}
		location := string(role) + "/" + e.Name()
		if keep(location) {
			continue
		}
		if err := a.remove(location); err != nil {
			return removed, err
		}
		removed++
	}
	return removed, nil
}

func syncDir(dir string) error {
	d, err := os.Open(dir)
	if err != nil {
		return fmt.Errorf("failed to open directory for sync: %w", err)
	}
	defer d.Close()
	if err := d.Sync(); err != nil {
		return fmt.Errorf("failed to sync directory: %w", err)
	}
	return nil
}
