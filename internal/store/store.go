// Package store keeps the user and project registries as two JSON documents
// and commits changes to both of them as a single unit.
package store

import (
	"bytes"
	"errors"
	"fmt"
	"sync"

	"activist-bot/internal/models"
)

var (
	// ErrPersistFailed means a document could not be written. Nothing was committed.
	ErrPersistFailed = errors.New("persist failed")
	// ErrMalformed means a document on disk is not valid JSON for its type.
	ErrMalformed = errors.New("malformed document")
)

type Store struct {
	fs       FS
	users    *Document[models.Users]
	projects *Document[models.Projects]

	// mu serializes every transaction; readers share it.
	mu sync.RWMutex
}

type Option func(*Store)

func WithFS(fsys FS) Option {
	return func(s *Store) { s.fs = fsys }
}

// Open prepares both documents, creating empty ones when missing, and
// validates that the existing ones parse.
func Open(usersPath, projectsPath string, opts ...Option) (*Store, error) {
	s := &Store{fs: OSFS{}}
	for _, o := range opts {
		o(s)
	}
	s.users = newDocument(usersPath, s.fs, func() models.Users { return models.Users{} })
	s.projects = newDocument(projectsPath, s.fs, models.EmptyProjects)

	if err := s.users.ensure(); err != nil {
		return nil, fmt.Errorf("users document: %w", err)
	}
	if err := s.projects.ensure(); err != nil {
		return nil, fmt.Errorf("projects document: %w", err)
	}
	if _, err := s.users.Load(); err != nil {
		return nil, err
	}
	if _, err := s.projects.Load(); err != nil {
		return nil, err
	}
	return s, nil
}

// Tx holds staged copies of both registries. Mutate them freely; they are
// written only if the transaction function returns nil.
type Tx struct {
	Users    models.Users
	Projects models.Projects
}

// View runs fn on private copies of both registries.
func (s *Store) View(fn func(users models.Users, projects models.Projects) error) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	users, projects, _, _, err := s.load()
	if err != nil {
		return err
	}
	return fn(users, projects)
}

// Users returns a copy of the user registry.
func (s *Store) Users() (models.Users, error) {
	var out models.Users
	err := s.View(func(u models.Users, _ models.Projects) error {
		out = u
		return nil
	})
	return out, err
}

// Projects returns a copy of the project registry.
func (s *Store) Projects() (models.Projects, error) {
	var out models.Projects
	err := s.View(func(_ models.Users, p models.Projects) error {
		out = p
		return nil
	})
	return out, err
}

// Update runs fn on staged copies of both registries and persists the ones
// that changed. If any write fails, documents already replaced are restored
// and ErrPersistFailed is returned. Errors from fn abort without writing.
func (s *Store) Update(fn func(tx *Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	users, projects, prevUsers, prevProjects, err := s.load()
	if err != nil {
		return err
	}
	tx := &Tx{Users: users, Projects: projects}
	if err := fn(tx); err != nil {
		return err
	}

	nextUsers, err := encode(tx.Users)
	if err != nil {
		return err
	}
	nextProjects, err := encode(tx.Projects)
	if err != nil {
		return err
	}

	var writes []pendingWrite
	if !bytes.Equal(prevProjects, nextProjects) {
		writes = append(writes, pendingWrite{path: s.projects.Path(), next: nextProjects, prev: prevProjects})
	}
	if !bytes.Equal(prevUsers, nextUsers) {
		writes = append(writes, pendingWrite{path: s.users.Path(), next: nextUsers, prev: prevUsers})
	}
	if len(writes) == 0 {
		return nil
	}

	s.users.Invalidate()
	s.projects.Invalidate()
	return s.commit(writes)
}

func (s *Store) load() (models.Users, models.Projects, []byte, []byte, error) {
	rawUsers, err := s.users.canonical()
	if err != nil {
		return nil, nil, nil, nil, err
	}
	rawProjects, err := s.projects.canonical()
	if err != nil {
		return nil, nil, nil, nil, err
	}
	users, err := decode[models.Users](rawUsers, s.users.Path())
	if err != nil {
		return nil, nil, nil, nil, err
	}
	projects, err := decode[models.Projects](rawProjects, s.projects.Path())
	if err != nil {
		return nil, nil, nil, nil, err
	}
	if users == nil {
		users = models.Users{}
	}
	if projects == nil {
		projects = models.EmptyProjects()
	}
	// Re-encode after normalizing so an untouched transaction compares equal.
	if rawUsers, err = encode(users); err != nil {
		return nil, nil, nil, nil, err
	}
	if rawProjects, err = encode(projects); err != nil {
		return nil, nil, nil, nil, err
	}
	return users, projects, rawUsers, rawProjects, nil
}

type pendingWrite struct {
	path string
	next []byte
	prev []byte
	tmp  string
}

func (s *Store) commit(writes []pendingWrite) error {
	for i := range writes {
		tmp := writes[i].path + ".tmp"
		if err := s.fs.WriteFile(tmp, writes[i].next); err != nil {
			for j := 0; j <= i; j++ {
				_ = s.fs.Remove(writes[j].path + ".tmp")
			}
			return fmt.Errorf("%w: write %s: %v", ErrPersistFailed, tmp, err)
		}
		writes[i].tmp = tmp
	}

	for i, w := range writes {
		if err := s.fs.Rename(w.tmp, w.path); err != nil {
			for _, rest := range writes[i:] {
				_ = s.fs.Remove(rest.tmp)
			}
			if rerr := s.restore(writes[:i]); rerr != nil {
				return fmt.Errorf("%w: rename %s: %v; rollback: %v", ErrPersistFailed, w.path, err, rerr)
			}
			return fmt.Errorf("%w: rename %s: %v", ErrPersistFailed, w.path, err)
		}
	}
	return nil
}

// restore puts back the previous bytes of documents that were already replaced.
func (s *Store) restore(done []pendingWrite) error {
	var errs []error
	for _, w := range done {
		tmp := w.path + ".rollback"
		if err := s.fs.WriteFile(tmp, w.prev); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", w.path, err))
			continue
		}
		if err := s.fs.Rename(tmp, w.path); err != nil {
			_ = s.fs.Remove(tmp)
			errs = append(errs, fmt.Errorf("%s: %w", w.path, err))
		}
	}
	return errors.Join(errs...)
}
