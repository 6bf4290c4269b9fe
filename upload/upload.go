// Package upload runs the login, create-space, read and upload sequence
// against a storage client and reports the space DID and content CID.
package upload

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"io/ioutil"
	"os"

	"github.com/mattn/go-isatty"
	"github.com/pkg/errors"
	"github.com/schmich/upspace/config"
	"github.com/schmich/upspace/crypt"
	"github.com/schmich/upspace/storage"
	log "github.com/sirupsen/logrus"
)

const stdinPath = "-"

type Result struct {
	SpaceDID string
	CID      storage.CID
}

type Uploader struct {
	Client storage.Client
	Config config.Config
	Stdout io.Writer
	Stdin  *os.File
}

// Run performs one upload with client and cfg, writing the space DID and
// CID to stdout.
func Run(ctx context.Context, client storage.Client, cfg config.Config, stdout io.Writer) (*Result, error) {
	uploader := &Uploader{Client: client, Config: cfg, Stdout: stdout, Stdin: os.Stdin}
	return uploader.Run(ctx)
}

// Run executes each step only after the previous one succeeded. Nothing is
// cached between runs: each run creates a new space and a new upload.
func (u *Uploader) Run(ctx context.Context) (*Result, error) {
	cfg := u.Config

	log.Debugf("Log in as %s.", cfg.AccountEmail)
	account, err := u.Client.Login(ctx, cfg.AccountEmail)
	if err != nil {
		return nil, Fail(AuthError, err)
	}

	log.Debugf("Create space %q.", cfg.SpaceName)
	space, err := u.Client.CreateSpace(ctx, cfg.SpaceName, account)
	if err != nil {
		return nil, Fail(SpaceError, err)
	}

	fmt.Fprintf(u.Stdout, "Current space set to: %s\n", space.DID())

	var cid storage.CID
	if streamer, ok := u.Client.(storage.StreamUploader); ok && cfg.Stream {
		cid, err = u.uploadStream(ctx, streamer, space)
	} else {
		cid, err = u.uploadFile(ctx, space)
	}

	if err != nil {
		return nil, err
	}

	fmt.Fprintf(u.Stdout, "File uploaded successfully. CID: %s\n", cid)
	return &Result{SpaceDID: space.DID(), CID: cid}, nil
}

func (u *Uploader) uploadFile(ctx context.Context, space *storage.Space) (storage.CID, error) {
	data, err := u.read()
	if err != nil {
		return "", err
	}

	log.Debugf("Read %d bytes from %s.", len(data), u.Config.FilePath)

	if u.Config.Encrypt {
		var sealed bytes.Buffer
		if err := encrypt(&sealed, bytes.NewReader(data), u.Config.Password); err != nil {
			return "", Fail(UploadError, err)
		}
		data = sealed.Bytes()
	}

	file := storage.File{Name: u.Config.UploadFileName, Data: data}
	cid, err := u.Client.UploadFile(ctx, space, file)
	if err != nil {
		return "", Fail(UploadError, err)
	}

	return cid, nil
}

func (u *Uploader) uploadStream(ctx context.Context, streamer storage.StreamUploader, space *storage.Space) (storage.CID, error) {
	source, size, err := u.open()
	if err != nil {
		return "", err
	}

	defer source.Close()

	tracked := &trackingReader{reader: source}
	var reader io.Reader = tracked

	var sealed *io.PipeReader
	done := make(chan struct{})
	if u.Config.Encrypt {
		var pw *io.PipeWriter
		sealed, pw = io.Pipe()
		go func() {
			defer close(done)
			pw.CloseWithError(encrypt(pw, tracked, u.Config.Password))
		}()

		reader = sealed
		if size >= 0 {
			size += crypt.HeaderSize
		}
	} else {
		close(done)
	}

	log.Debugf("Stream %s (%d bytes).", u.Config.FilePath, size)
	cid, err := streamer.UploadStream(ctx, space, u.Config.UploadFileName, reader, size)
	if sealed != nil {
		sealed.Close()
	}
	<-done

	if tracked.err != nil {
		return "", Fail(FileReadError, tracked.err)
	}

	if err != nil {
		return "", Fail(UploadError, err)
	}

	return cid, nil
}

func (u *Uploader) read() ([]byte, error) {
	if u.Config.FilePath == stdinPath {
		if err := u.checkStdin(); err != nil {
			return nil, err
		}

		data, err := ioutil.ReadAll(u.Stdin)
		return data, Fail(FileReadError, err)
	}

	data, err := ioutil.ReadFile(u.Config.FilePath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, Fail(FileNotFoundError, err)
		}
		return nil, Fail(FileReadError, err)
	}

	return data, nil
}

func (u *Uploader) open() (io.ReadCloser, int64, error) {
	if u.Config.FilePath == stdinPath {
		if err := u.checkStdin(); err != nil {
			return nil, 0, err
		}
		return ioutil.NopCloser(u.Stdin), -1, nil
	}

	file, err := os.Open(u.Config.FilePath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, 0, Fail(FileNotFoundError, err)
		}
		return nil, 0, Fail(FileReadError, err)
	}

	info, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, 0, Fail(FileReadError, err)
	}

	if info.IsDir() {
		file.Close()
		return nil, 0, Fail(FileReadError, fmt.Errorf("%s is a directory", u.Config.FilePath))
	}

	return file, info.Size(), nil
}

func (u *Uploader) checkStdin() error {
	if u.Stdin == nil {
		return Fail(FileReadError, errors.New("no stdin available"))
	}

	fd := u.Stdin.Fd()
	if isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd) {
		return Fail(FileReadError, errors.New("refusing to read the upload from a terminal"))
	}

	return nil
}

func encrypt(writer io.Writer, reader io.Reader, password string) error {
	encrypter, err := crypt.NewEncrypter(writer, []byte(password))
	if err != nil {
		return err
	}

	if _, err := io.Copy(encrypter, reader); err != nil {
		return errors.Wrap(err, "encrypt")
	}

	return encrypter.Close()
}

// trackingReader remembers the first read error so it can be told apart
// from a failure on the upload side.
type trackingReader struct {
	reader io.Reader
	err    error
}

func (t *trackingReader) Read(buf []byte) (int, error) {
	n, err := t.reader.Read(buf)
	if err != nil && err != io.EOF && t.err == nil {
		t.err = err
	}
	return n, err
}
