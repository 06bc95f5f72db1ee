package engine

import (
	"errors"
	"math/rand"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"activist-bot/internal/models"
	"activist-bot/internal/store"
)

// flakyFS fails renames onto the named document while armed.
type flakyFS struct {
	store.OSFS

	mu       sync.Mutex
	failBase string
}

func (f *flakyFS) arm(base string) {
	f.mu.Lock()
	f.failBase = base
	f.mu.Unlock()
}

func (f *flakyFS) Rename(oldpath, newpath string) error {
	f.mu.Lock()
	fail := f.failBase != "" && filepath.Base(newpath) == f.failBase
	f.mu.Unlock()
	if fail {
		return errors.New("read-only filesystem")
	}
	return f.OSFS.Rename(oldpath, newpath)
}

type fakeMedia struct {
	mu      sync.Mutex
	removed []string
	err     error
}

func (m *fakeMedia) Remove(path string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.removed = append(m.removed, path)
	return m.err
}

type fixture struct {
	eng          *Engine
	st           *store.Store
	fs           *flakyFS
	media        *fakeMedia
	usersPath    string
	projectsPath string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	dir := t.TempDir()
	f := &fixture{
		fs:           &flakyFS{},
		media:        &fakeMedia{},
		usersPath:    filepath.Join(dir, "users.json"),
		projectsPath: filepath.Join(dir, "projects.json"),
	}
	st, err := store.Open(f.usersPath, f.projectsPath, store.WithFS(f.fs))
	require.NoError(t, err)
	f.st = st
	f.eng = New(st, WithMedia(f.media), WithRand(rand.New(rand.NewSource(1))))
	return f
}

func (f *fixture) user(t *testing.T, id string, score int) {
	t.Helper()
	require.NoError(t, f.st.Update(func(tx *store.Tx) error {
		u := models.NewUser()
		u.Score = score
		tx.Users[id] = u
		return nil
	}))
}

func (f *fixture) namedUser(t *testing.T, id, name, surname string, score int) {
	t.Helper()
	f.user(t, id, score)
	_, err := f.eng.SetName(id, name)
	require.NoError(t, err)
	_, err = f.eng.SetSurname(id, surname)
	require.NoError(t, err)
}

func (f *fixture) project(t *testing.T, cat models.Category, name string, maxMembers, prize int) models.ProjectRef {
	t.Helper()
	ref, err := f.eng.CreateProject(cat, name)
	require.NoError(t, err)
	res, err := f.eng.SetMaxMembers(ref, maxMembers)
	require.NoError(t, err)
	require.True(t, res.Success)
	res, err = f.eng.SetPrize(ref, prize)
	require.NoError(t, err)
	require.True(t, res.Success)
	return ref
}

func (f *fixture) snapshot(t *testing.T) ([]byte, []byte) {
	t.Helper()
	u, err := os.ReadFile(f.usersPath)
	require.NoError(t, err)
	p, err := os.ReadFile(f.projectsPath)
	require.NoError(t, err)
	return u, p
}

// assertConsistent checks that membership maps and active lists mirror each other.
func (f *fixture) assertConsistent(t *testing.T) {
	t.Helper()
	err := f.st.View(func(users models.Users, projects models.Projects) error {
		for cat, byID := range projects {
			for id, p := range byID {
				ref := models.ProjectRef{Category: cat, ID: id}
				for member := range p.Members {
					u := users[member]
					if assert.NotNil(t, u, "member %s of %s has no record", member, ref) {
						assert.True(t, u.HasActive(ref.String()), "user %s misses %s", member, ref)
					}
				}
				assert.LessOrEqual(t, len(p.Members), p.Capacity(), "capacity of %s", ref)
			}
		}
		for uid, u := range users {
			for _, raw := range u.ActiveProjects {
				ref, err := models.ParseProjectRef(raw)
				if !assert.NoError(t, err) {
					continue
				}
				p, found := projects.Get(ref)
				if assert.True(t, found, "user %s points at missing %s", uid, raw) {
					assert.True(t, p.IsMember(uid), "project %s misses user %s", raw, uid)
				}
			}
		}
		return nil
	})
	require.NoError(t, err)
}

func (f *fixture) userRecord(t *testing.T, id string) *models.User {
	t.Helper()
	u, err := f.eng.User(id)
	require.NoError(t, err)
	require.NotNil(t, u)
	return u
}
