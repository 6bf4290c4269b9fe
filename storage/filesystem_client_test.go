package storage

import (
	"bytes"
	"context"
	"io/ioutil"
	"os"
	"path/filepath"
	"testing"

	"github.com/schmich/upspace/cidutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newFilesystemSpace(t *testing.T) (*FilesystemClient, *Space) {
	client, err := NewFilesystemClient(filepath.Join(t.TempDir(), "store"))
	require.NoError(t, err)

	account, err := client.Login(context.Background(), "bob@example.org")
	require.NoError(t, err)

	space, err := client.CreateSpace(context.Background(), "datasets", account)
	require.NoError(t, err)
	return client, space
}

func TestFilesystemUpload(t *testing.T) {
	client, space := newFilesystemSpace(t)

	loaded, err := client.LoadSpace(space.DID())
	require.NoError(t, err)
	assert.Equal(t, space, loaded)

	payload := []byte{0x01, 0x02, 0x03, 0x04, 0x05, 0x06, 0x07, 0x08, 0x09, 0x0a}
	cid, err := client.UploadFile(context.Background(), space, File{Name: "faiss_index.idx", Data: payload})
	require.NoError(t, err)

	expected, err := cidutil.Sum(payload)
	require.NoError(t, err)
	assert.Equal(t, expected.String(), cid.String())

	reader, err := client.Open(cid)
	require.NoError(t, err)
	defer reader.Close()

	stored, err := ioutil.ReadAll(reader)
	require.NoError(t, err)
	assert.Equal(t, payload, stored)

	uploads, err := client.Uploads(space.DID())
	require.NoError(t, err)
	require.Len(t, uploads, 1)
	assert.Equal(t, Upload{ID: uploads[0].ID, Space: space.DID(), Name: "faiss_index.idx", CID: cid, Size: 10}, uploads[0])
}

func TestFilesystemStreamAndRepeat(t *testing.T) {
	client, space := newFilesystemSpace(t)
	payload := bytes.Repeat([]byte("chunk"), 1000)

	first, err := client.UploadStream(context.Background(), space, "name with spaces.bin", bytes.NewReader(payload), -1)
	require.NoError(t, err)
	second, err := client.UploadStream(context.Background(), space, "name with spaces.bin", bytes.NewReader(payload), int64(len(payload)))
	require.NoError(t, err)
	assert.Equal(t, first, second)

	uploads, err := client.Uploads(space.DID())
	require.NoError(t, err)
	require.Len(t, uploads, 2)
	assert.Equal(t, "name with spaces.bin", uploads[1].Name)
	assert.NotEqual(t, uploads[0].ID, uploads[1].ID)

	entries, err := ioutil.ReadDir(filepath.Join(client.directory, "blobs"))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temporary files are cleaned up")
}

func TestFilesystemRejects(t *testing.T) {
	client, space := newFilesystemSpace(t)

	_, err := client.UploadStream(context.Background(), space, "short", bytes.NewReader([]byte("abc")), 10)
	assert.Error(t, err)

	_, err = client.UploadFile(context.Background(), space, File{Name: "bad\nname"})
	assert.ErrorIs(t, err, ErrInvalidFileName)

	_, err = client.UploadFile(context.Background(), &Space{ID: "did:key:../../escape"}, File{Name: "a"})
	assert.ErrorIs(t, err, ErrUnknownSpace)

	_, err = client.Open("../spaces")
	assert.ErrorIs(t, err, ErrInvalidCID)
}

func TestFilesystemStorageMustBeDirectory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "file")
	require.NoError(t, ioutil.WriteFile(path, []byte("x"), 0600))

	_, err := NewFilesystemClient(path)
	assert.Error(t, err)

	_, err = NewFilesystemClient("")
	assert.Error(t, err)

	_, err = os.Stat(path)
	assert.NoError(t, err)
}
