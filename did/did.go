// Package did builds and checks the decentralized identifiers used for
// accounts (did:mailto) and spaces (did:key).
package did

import (
	"crypto/ed25519"
	"crypto/rand"
	"fmt"
	"net/mail"
	"strings"

	"github.com/multiformats/go-multibase"
	"github.com/multiformats/go-varint"
	"github.com/pkg/errors"
)

// Multicodec code for an ed25519 public key.
const ed25519PubCode = 0xed

// NewKey generates an ed25519 key pair and returns its did:key identifier.
func NewKey() (string, ed25519.PrivateKey, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return "", nil, errors.Wrap(err, "generate key")
	}

	id, err := FromPublicKey(pub)
	if err != nil {
		return "", nil, err
	}

	return id, priv, nil
}

func FromPublicKey(pub ed25519.PublicKey) (string, error) {
	prefixed := append(varint.ToUvarint(ed25519PubCode), pub...)
	encoded, err := multibase.Encode(multibase.Base58BTC, prefixed)
	if err != nil {
		return "", errors.Wrap(err, "encode key")
	}

	return "did:key:" + encoded, nil
}

// Mailto returns the did:mailto identifier for an email address,
// e.g. did:mailto:example.com:alice.
func Mailto(email string) (string, error) {
	address, err := mail.ParseAddress(email)
	if err != nil {
		return "", errors.Wrapf(err, "invalid email %q", email)
	}

	at := strings.LastIndex(address.Address, "@")
	if at <= 0 || at == len(address.Address)-1 {
		return "", fmt.Errorf("invalid email %q", email)
	}

	local, domain := address.Address[:at], address.Address[at+1:]
	return fmt.Sprintf("did:mailto:%s:%s", strings.ToLower(domain), local), nil
}

// Parse checks that s looks like a DID (did:<method>:<id>) and returns its method.
func Parse(s string) (string, error) {
	parts := strings.SplitN(s, ":", 3)
	if len(parts) != 3 || parts[0] != "did" || parts[1] == "" || parts[2] == "" {
		return "", fmt.Errorf("malformed DID %q", s)
	}

	if parts[1] == "key" {
		if _, _, err := multibase.Decode(parts[2]); err != nil {
			return "", errors.Wrapf(err, "malformed did:key %q", s)
		}
	}

	return parts[1], nil
}
