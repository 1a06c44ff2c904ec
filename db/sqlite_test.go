package db

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"companion-agent/utils"
)

// The pure-Go driver keeps these tests independent of cgo.
func TestSQLiteBackendReadWrite(t *testing.T) {
	b, err := NewSQLiteBackend(utils.DriverSQLite, filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	defer b.Close()

	data, err := b.Read(DocSettings)
	require.NoError(t, err)
	assert.Nil(t, data)

	require.NoError(t, b.Write(DocSettings, []byte(`{"a":1}`)))
	require.NoError(t, b.Write(DocSettings, []byte(`{"a":2}`)))
	data, err = b.Read(DocSettings)
	require.NoError(t, err)
	assert.Equal(t, `{"a":2}`, string(data))
}

func TestOpenSQLiteStore(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(utils.DriverSQLite, dir)
	require.NoError(t, err)

	conv, err := s.CreateConversation("persisted")
	require.NoError(t, err)
	_, err = s.AppendMessage(conv.ID, s.NewMessage(RoleUser, "hello"))
	require.NoError(t, err)
	require.NoError(t, s.Close())

	reopened, err := Open(utils.DriverSQLite, dir)
	require.NoError(t, err)
	defer reopened.Close()
	got, err := reopened.GetConversation(conv.ID)
	require.NoError(t, err)
	assert.Equal(t, "persisted", got.Title)
	require.Len(t, got.Messages, 1)
	assert.Equal(t, "hello", got.Messages[0].Content)
}
