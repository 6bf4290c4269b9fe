package storage

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"
)

// CID identifies uploaded content. Clients return it as the service reports it.
type CID string

func (c CID) String() string {
	return string(c)
}

type Account struct {
	DID   string
	Email string
	Token string
}

type Space struct {
	ID      string
	Name    string
	Account string
}

func (s *Space) DID() string {
	return s.ID
}

// File is an in-memory upload payload.
type File struct {
	Name string
	Data []byte
}

type Client interface {
	Login(ctx context.Context, email string) (*Account, error)
	CreateSpace(ctx context.Context, name string, account *Account) (*Space, error)
	UploadFile(ctx context.Context, space *Space, file File) (CID, error)
}

// StreamUploader is implemented by clients that can upload without holding
// the whole payload in memory. size is -1 when unknown.
type StreamUploader interface {
	UploadStream(ctx context.Context, space *Space, name string, reader io.Reader, size int64) (CID, error)
}

type Options struct {
	Endpoint     string
	Directory    string
	LoginTimeout time.Duration
	PollInterval time.Duration
}

type opener func(context.Context, Options) (Client, error)

var backends = map[string]opener{
	"http": func(ctx context.Context, opts Options) (Client, error) {
		return NewHTTPClient(ctx, opts)
	},
	"fs": func(ctx context.Context, opts Options) (Client, error) {
		return NewFilesystemClient(opts.Directory)
	},
	"memory": func(context.Context, Options) (Client, error) {
		return NewInMemoryClient(), nil
	},
}

// Open constructs the client registered under backend.
func Open(ctx context.Context, backend string, opts Options) (Client, error) {
	open, ok := backends[backend]
	if !ok {
		return nil, fmt.Errorf("unknown storage backend \"%s\" (want one of %s)", backend, strings.Join(Backends(), ", "))
	}

	return open(ctx, opts)
}

func Backends() []string {
	var names []string
	for name := range backends {
		names = append(names, name)
	}

	sort.Strings(names)
	return names
}
