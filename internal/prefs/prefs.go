// Package prefs persists the local state of a Pinbook install in a YAML
// file: the saved credential, UI preferences and the folder mapping.
package prefs

import (
	"errors"
	"fmt"
	"io/fs"
	"maps"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

// Auth is the credential remembered between runs.
type Auth struct {
	Token    string `yaml:"token,omitempty"`
	Username string `yaml:"username,omitempty"`
}

// UI holds display preferences. Empty fields mean "default".
type UI struct {
	Layout string `yaml:"layout,omitempty" json:"layout"`
	Sort   string `yaml:"sort,omitempty" json:"sort"`
}

// State is the root structure of the state file.
type State struct {
	Auth Auth `yaml:"auth"`
	UI   UI   `yaml:"ui"`
	// Folders maps a bookmark URL to a local folder name. Pinboard has no
	// folders, so this never leaves the machine.
	Folders map[string]string `yaml:"folders,omitempty"`
}

// File is the state file, loaded once and rewritten on every change.
type File struct {
	path string

	mu    sync.RWMutex
	state State
}

// Open loads path. A missing file yields an empty state; it is created on
// the first change.
func Open(path string) (*File, error) {
	f := &File{path: path}
	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return f, nil
	case err != nil:
		return nil, fmt.Errorf("failed to read state file: %w", err)
	}

	if err := yaml.Unmarshal(data, &f.state); err != nil {
		return nil, fmt.Errorf("failed to parse state yaml: %w", err)
	}
	return f, nil
}

func (f *File) Path() string { return f.path }

// State returns a copy of the whole state.
func (f *File) State() State {
	f.mu.RLock()
	defer f.mu.RUnlock()

	s := f.state
	s.Folders = maps.Clone(f.state.Folders)
	return s
}

// Credential returns the saved token, if any.
func (f *File) Credential() (Auth, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	return f.state.Auth, f.state.Auth.Token != ""
}

func (f *File) SetCredential(a Auth) error {
	return f.update(func(s *State) { s.Auth = a })
}

func (f *File) ClearCredential() error {
	return f.update(func(s *State) { s.Auth = Auth{} })
}

func (f *File) UI() UI {
	f.mu.RLock()
	defer f.mu.RUnlock()

	return f.state.UI
}

func (f *File) SetUI(ui UI) error {
	return f.update(func(s *State) { s.UI = ui })
}

// Folder returns the folder rawURL is filed under, or "".
func (f *File) Folder(rawURL string) string {
	f.mu.RLock()
	defer f.mu.RUnlock()

	return f.state.Folders[rawURL]
}

// SetFolder files rawURL under folder. An empty folder removes the entry.
func (f *File) SetFolder(rawURL, folder string) error {
	folder = strings.TrimSpace(folder)
	return f.update(func(s *State) {
		if folder == "" {
			delete(s.Folders, rawURL)
			return
		}
		if s.Folders == nil {
			s.Folders = make(map[string]string)
		}
		s.Folders[rawURL] = folder
	})
}

// update applies fn and persists the result. The in-memory state is only
// changed when the write succeeds.
func (f *File) update(fn func(*State)) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	next := f.state
	next.Folders = maps.Clone(f.state.Folders)
	fn(&next)

	if err := f.write(next); err != nil {
		return err
	}
	f.state = next
	return nil
}

// write replaces the file atomically. The file holds a credential, so it is
// only readable by its owner.
func (f *File) write(s State) error {
	data, err := yaml.Marshal(s)
	if err != nil {
		return fmt.Errorf("failed to encode state: %w", err)
	}

	dir := filepath.Dir(f.path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("failed to create state dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".state-*.yaml")
	if err != nil {
		return fmt.Errorf("failed to create temp state file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("failed to write state: %w", err)
	}
	if err := tmp.Chmod(0o600); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("failed to chmod state: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close state: %w", err)
	}
	if err := os.Rename(tmp.Name(), f.path); err != nil {
		return fmt.Errorf("failed to replace state file: %w", err)
	}
	return nil
}
