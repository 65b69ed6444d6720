package store

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// AudioDir stores recorded audio files under a single directory, named by
// transcript id.
type AudioDir struct {
	dir string
}

func NewAudioDir(dir string) (*AudioDir, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create recordings directory: %w", err)
	}
	return &AudioDir{dir: dir}, nil
}

// Persist moves a temporary capture file into the recordings directory.
func (a *AudioDir) Persist(tempPath string, id string) (string, error) {
	dest := filepath.Join(a.dir, id+".wav")
	if err := os.Rename(tempPath, dest); err == nil {
		return dest, nil
	}
	// Rename fails across filesystems; fall back to copy and remove.
	if err := copyFile(tempPath, dest); err != nil {
		return "", fmt.Errorf("persist audio: %w", err)
	}
	if err := os.Remove(tempPath); err != nil {
		return "", fmt.Errorf("remove temporary audio: %w", err)
	}
	return dest, nil
}

// Delete removes an audio file. Missing files are not an error.
func (a *AudioDir) Delete(path string) error {
	if path == "" {
		return nil
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("delete audio: %w", err)
	}
	return nil
}

func copyFile(src string, dest string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dest)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		os.Remove(dest)
		return err
	}
	return out.Close()
}
