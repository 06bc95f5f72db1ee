package media

import (
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"activist-bot/internal/models"
)

func TestSaveAndRemove(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "media")
	s, err := New(dir)
	require.NoError(t, err)

	ref := models.ProjectRef{Category: models.CategorySport, ID: "12"}
	path, err := s.Save(ref, "JPG", strings.NewReader("image"))
	require.NoError(t, err)

	assert.Equal(t, dir, filepath.Dir(path))
	assert.Regexp(t, regexp.MustCompile(`^sport_12_[0-9a-f]{8}\.jpg$`), filepath.Base(path))
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "image", string(data))

	other, err := s.Save(ref, ".jpg", strings.NewReader("image"))
	require.NoError(t, err)
	assert.NotEqual(t, path, other)

	require.NoError(t, s.Remove(path))
	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err))

	assert.NoError(t, s.Remove(path))
	assert.NoError(t, s.Remove(""))
}

func TestRemove_RefusesPathsOutsideDir(t *testing.T) {
	root := t.TempDir()
	s, err := New(filepath.Join(root, "media"))
	require.NoError(t, err)

	outside := filepath.Join(root, "users.json")
	require.NoError(t, os.WriteFile(outside, []byte("{}"), 0o644))

	for _, path := range []string{
		outside,
		filepath.Join(root, "media", "..", "users.json"),
		filepath.Join(root, "media"),
	} {
		assert.ErrorIs(t, s.Remove(path), ErrOutsideDir, path)
	}
	_, err = os.Stat(outside)
	assert.NoError(t, err)
}
