package session

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/emmett/voxmsg/internal/audio"
)

func TestTempPreviewStore(t *testing.T) {
	store := &TempPreviewStore{Dir: t.TempDir()}

	path, err := store.Create(audio.NewBlob([]byte("voice"), audio.TypeWebM))
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(path, ".webm"))
	assert.Equal(t, store.Dir, filepath.Dir(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "voice", string(data))

	store.Release(path)
	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err))

	store.Release(path)
	store.Release("")
}
