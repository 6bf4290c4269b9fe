package storage

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"io/ioutil"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/schmich/upspace/cidutil"
	"github.com/schmich/upspace/did"
	log "github.com/sirupsen/logrus"
)

// FilesystemClient keeps spaces and content-addressed blobs under a local
// directory:
//
//	spaces/<key>.json      space record
//	spaces/<key>.uploads   one line per upload: id cid size name
//	blobs/<cid[:2]>/<cid>  immutable payload
type FilesystemClient struct {
	directory string
}

type spaceRecord struct {
	DID     string    `json:"did"`
	Name    string    `json:"name"`
	Account string    `json:"account"`
	Created time.Time `json:"created"`
}

func NewFilesystemClient(directory string) (*FilesystemClient, error) {
	if directory == "" {
		return nil, errors.New("storage directory is required")
	}

	client := &FilesystemClient{directory: directory}
	if err := client.ensureStorageExists(); err != nil {
		return nil, err
	}

	return client, nil
}

func (client *FilesystemClient) ensureStorageExists() error {
	info, err := os.Stat(client.directory)
	if err != nil {
		if !os.IsNotExist(err) {
			return err
		}

		return os.MkdirAll(client.directory, 0700)
	}

	if !info.IsDir() {
		return fmt.Errorf("storage already exists but is not a directory: \"%s\"", client.directory)
	}

	return nil
}

func (client *FilesystemClient) Login(ctx context.Context, email string) (*Account, error) {
	id, err := did.Mailto(email)
	if err != nil {
		return nil, err
	}

	return &Account{DID: id, Email: email, Token: uuid.NewString()}, nil
}

func (client *FilesystemClient) CreateSpace(ctx context.Context, name string, account *Account) (*Space, error) {
	if err := checkSpaceRequest(name, account); err != nil {
		return nil, err
	}

	id, _, err := did.NewKey()
	if err != nil {
		return nil, err
	}

	record := spaceRecord{DID: id, Name: name, Account: account.DID, Created: time.Now().UTC()}
	content, err := json.MarshalIndent(&record, "", "  ")
	if err != nil {
		return nil, err
	}

	if err := os.MkdirAll(filepath.Join(client.directory, "spaces"), 0700); err != nil {
		return nil, err
	}

	path := client.spacePath(id, ".json")
	if err := ioutil.WriteFile(path, content, 0600); err != nil {
		return nil, errors.Wrap(err, "write space")
	}

	log.Debugf("Created space %s at %s.", id, path)
	return &Space{ID: id, Name: name, Account: account.DID}, nil
}

// LoadSpace reads a space record written by CreateSpace.
func (client *FilesystemClient) LoadSpace(id string) (*Space, error) {
	if !validSpaceKey(id) {
		return nil, fmt.Errorf("%w: %s", ErrUnknownSpace, id)
	}

	content, err := ioutil.ReadFile(client.spacePath(id, ".json"))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrUnknownSpace, id)
		}
		return nil, err
	}

	var record spaceRecord
	if err := json.Unmarshal(content, &record); err != nil {
		return nil, errors.Wrapf(err, "read space %s", id)
	}

	return &Space{ID: record.DID, Name: record.Name, Account: record.Account}, nil
}

func (client *FilesystemClient) UploadFile(ctx context.Context, space *Space, file File) (CID, error) {
	return client.UploadStream(ctx, space, file.Name, bytes.NewReader(file.Data), int64(len(file.Data)))
}

func (client *FilesystemClient) UploadStream(ctx context.Context, space *Space, name string, reader io.Reader, size int64) (CID, error) {
	if space == nil {
		return "", ErrNoSpace
	}

	if name == "" || strings.ContainsAny(name, "\r\n") {
		return "", fmt.Errorf("%w: %q", ErrInvalidFileName, name)
	}

	if _, err := client.LoadSpace(space.ID); err != nil {
		return "", err
	}

	blobs := filepath.Join(client.directory, "blobs")
	if err := os.MkdirAll(blobs, 0700); err != nil {
		return "", err
	}

	temp, err := ioutil.TempFile(blobs, ".upload-")
	if err != nil {
		return "", err
	}

	defer os.Remove(temp.Name())

	sum, count, err := cidutil.SumReader(io.TeeReader(reader, temp))
	if closeErr := temp.Close(); err == nil {
		err = closeErr
	}

	if err != nil {
		return "", errors.Wrap(err, "store blob")
	}

	if size >= 0 && count != size {
		return "", fmt.Errorf("short upload: got %d of %d bytes", count, size)
	}

	id := CID(sum.String())
	path := client.blobPath(id)
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return "", err
	}

	if _, err := os.Stat(path); os.IsNotExist(err) {
		if err := os.Rename(temp.Name(), path); err != nil {
			return "", errors.Wrap(err, "store blob")
		}
	} else if err != nil {
		return "", err
	}

	if err := client.appendUpload(space.ID, Upload{ID: uuid.NewString(), Space: space.ID, Name: name, CID: id, Size: count}); err != nil {
		return "", err
	}

	return id, nil
}

func (client *FilesystemClient) appendUpload(space string, upload Upload) error {
	file, err := os.OpenFile(client.spacePath(space, ".uploads"), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0600)
	if err != nil {
		return err
	}

	defer file.Close()

	line := fmt.Sprintf("%s %s %d %s\n", upload.ID, upload.CID, upload.Size, upload.Name)
	if _, err := io.WriteString(file, line); err != nil {
		return errors.Wrap(err, "record upload")
	}

	return file.Close()
}

// Uploads lists the uploads recorded for a space, oldest first.
func (client *FilesystemClient) Uploads(space string) ([]Upload, error) {
	if !validSpaceKey(space) {
		return nil, fmt.Errorf("%w: %s", ErrUnknownSpace, space)
	}

	file, err := os.Open(client.spacePath(space, ".uploads"))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	defer file.Close()

	var uploads []Upload
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		fields := strings.SplitN(scanner.Text(), " ", 4)
		if len(fields) != 4 {
			return nil, fmt.Errorf("corrupt upload record: %q", scanner.Text())
		}

		size, err := strconv.ParseInt(fields[2], 10, 64)
		if err != nil {
			return nil, errors.Wrapf(err, "corrupt upload record: %q", scanner.Text())
		}

		uploads = append(uploads, Upload{ID: fields[0], Space: space, CID: CID(fields[1]), Size: size, Name: fields[3]})
	}

	return uploads, scanner.Err()
}

// Open returns a reader for a stored blob.
func (client *FilesystemClient) Open(id CID) (io.ReadCloser, error) {
	if !cidutil.Valid(string(id)) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidCID, id)
	}

	return os.Open(client.blobPath(id))
}

func validSpaceKey(id string) bool {
	key := strings.TrimPrefix(id, "did:key:")
	return key != "" && key != id && !strings.ContainsAny(key, `/\.`)
}

func (client *FilesystemClient) spacePath(id string, ext string) string {
	key := strings.TrimPrefix(id, "did:key:")
	return filepath.Join(client.directory, "spaces", key+ext)
}

func (client *FilesystemClient) blobPath(id CID) string {
	s := string(id)
	if len(s) < 2 {
		return filepath.Join(client.directory, "blobs", s)
	}
	return filepath.Join(client.directory, "blobs", s[:2], s)
}
