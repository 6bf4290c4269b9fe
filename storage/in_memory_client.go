package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/google/uuid"
	"github.com/schmich/upspace/cidutil"
	"github.com/schmich/upspace/did"
)

// Upload records one accepted upload. Uploading the same bytes twice yields
// two records with the same CID.
type Upload struct {
	ID    string
	Space string
	Name  string
	CID   CID
	Size  int64
}

type InMemoryClient struct {
	mutex   sync.Mutex
	spaces  map[string]*Space
	blobs   map[CID][]byte
	uploads []Upload
}

func NewInMemoryClient() *InMemoryClient {
	return &InMemoryClient{
		spaces: make(map[string]*Space),
		blobs:  make(map[CID][]byte),
	}
}

func (client *InMemoryClient) Login(ctx context.Context, email string) (*Account, error) {
	id, err := did.Mailto(email)
	if err != nil {
		return nil, err
	}

	return &Account{DID: id, Email: email, Token: uuid.NewString()}, nil
}

func (client *InMemoryClient) CreateSpace(ctx context.Context, name string, account *Account) (*Space, error) {
	if err := checkSpaceRequest(name, account); err != nil {
		return nil, err
	}

	id, _, err := did.NewKey()
	if err != nil {
		return nil, err
	}

	space := &Space{ID: id, Name: name, Account: account.DID}

	client.mutex.Lock()
	defer client.mutex.Unlock()
	client.spaces[id] = space
	return space, nil
}

func (client *InMemoryClient) UploadFile(ctx context.Context, space *Space, file File) (CID, error) {
	return client.UploadStream(ctx, space, file.Name, bytes.NewReader(file.Data), int64(len(file.Data)))
}

func (client *InMemoryClient) UploadStream(ctx context.Context, space *Space, name string, reader io.Reader, size int64) (CID, error) {
	if err := client.checkSpace(space); err != nil {
		return "", err
	}

	var buffer bytes.Buffer
	if _, err := io.Copy(&buffer, reader); err != nil {
		return "", err
	}

	sum, err := cidutil.Sum(buffer.Bytes())
	if err != nil {
		return "", err
	}

	id := CID(sum.String())

	client.mutex.Lock()
	defer client.mutex.Unlock()
	client.blobs[id] = buffer.Bytes()
	client.uploads = append(client.uploads, Upload{
		ID:    uuid.NewString(),
		Space: space.ID,
		Name:  name,
		CID:   id,
		Size:  int64(buffer.Len()),
	})

	return id, nil
}

// Spaces returns every space created so far.
func (client *InMemoryClient) Spaces() []Space {
	client.mutex.Lock()
	defer client.mutex.Unlock()

	var spaces []Space
	for _, space := range client.spaces {
		spaces = append(spaces, *space)
	}
	return spaces
}

func (client *InMemoryClient) Uploads() []Upload {
	client.mutex.Lock()
	defer client.mutex.Unlock()
	return append([]Upload(nil), client.uploads...)
}

func (client *InMemoryClient) Blob(id CID) ([]byte, error) {
	client.mutex.Lock()
	defer client.mutex.Unlock()

	if payload, ok := client.blobs[id]; ok {
		return payload, nil
	}

	return nil, fmt.Errorf("payload not found for \"%s\"", id)
}

func (client *InMemoryClient) checkSpace(space *Space) error {
	if space == nil {
		return ErrNoSpace
	}

	client.mutex.Lock()
	defer client.mutex.Unlock()
	if _, ok := client.spaces[space.ID]; !ok {
		return fmt.Errorf("%w: %s", ErrUnknownSpace, space.ID)
	}

	return nil
}
