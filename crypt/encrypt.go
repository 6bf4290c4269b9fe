// Package crypt encrypts upload payloads with a password.
//
// Layout: 64-byte salt, 16-byte IV, then the AES-OFB ciphertext. The key is
// PBKDF2-SHA256 of the password and salt.
package crypt

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"io"

	"github.com/pkg/errors"
	"golang.org/x/crypto/pbkdf2"
)

const (
	SaltSize   = 64
	HeaderSize = SaltSize + aes.BlockSize
	iterations = 10000
)

var ErrNoPassword = errors.New("encryption password is required")

type nopCloser struct {
	io.Writer
}

func (nopCloser) Close() error {
	return nil
}

type encrypter struct {
	writer   io.Writer
	password []byte
	stream   *cipher.StreamWriter
}

type decrypter struct {
	reader   io.Reader
	password []byte
	stream   *cipher.StreamReader
}

func deriveBlock(password []byte, salt []byte) (cipher.Block, error) {
	key := pbkdf2.Key(password, salt, iterations, aes.BlockSize, sha256.New)
	return aes.NewCipher(key)
}

// NewEncrypter returns a writer that encrypts into writer. The header is
// written on the first Write, or on Close for an empty payload.
func NewEncrypter(writer io.Writer, password []byte) (io.WriteCloser, error) {
	if len(password) == 0 {
		return nil, ErrNoPassword
	}

	return &encrypter{writer: writer, password: password}, nil
}

func (e *encrypter) start() error {
	header := make([]byte, HeaderSize)
	if _, err := io.ReadFull(rand.Reader, header); err != nil {
		return errors.Wrap(err, "generate salt")
	}

	salt, iv := header[:SaltSize], header[SaltSize:]
	block, err := deriveBlock(e.password, salt)
	if err != nil {
		return err
	}

	if _, err := e.writer.Write(header); err != nil {
		return err
	}

	e.stream = &cipher.StreamWriter{
		S: cipher.NewOFB(block, iv),
		W: nopCloser{e.writer},
	}

	return nil
}

func (e *encrypter) Write(buf []byte) (int, error) {
	if e.stream == nil {
		if err := e.start(); err != nil {
			return 0, err
		}
	}
	return e.stream.Write(buf)
}

func (e *encrypter) Close() error {
	if e.stream == nil {
		if err := e.start(); err != nil {
			return err
		}
	}
	return e.stream.Close()
}

func NewDecrypter(reader io.Reader, password []byte) io.Reader {
	return &decrypter{reader: reader, password: password}
}

func (d *decrypter) Read(buf []byte) (int, error) {
	if d.stream == nil {
		header := make([]byte, HeaderSize)
		if _, err := io.ReadFull(d.reader, header); err != nil {
			return 0, errors.Wrap(err, "read header")
		}

		block, err := deriveBlock(d.password, header[:SaltSize])
		if err != nil {
			return 0, err
		}

		d.stream = &cipher.StreamReader{
			S: cipher.NewOFB(block, header[SaltSize:]),
			R: d.reader,
		}
	}
	return d.stream.Read(buf)
}
