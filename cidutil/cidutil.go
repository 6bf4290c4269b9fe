package cidutil

import (
	"crypto/sha256"
	"io"

	"github.com/ipfs/go-cid"
	"github.com/multiformats/go-multihash"
)

// Sum returns the CIDv1 (raw + sha2-256) of data.
func Sum(data []byte) (cid.Cid, error) {
	digest, err := multihash.Sum(data, multihash.SHA2_256, -1)
	if err != nil {
		return cid.Undef, err
	}
	return cid.NewCidV1(cid.Raw, digest), nil
}

// SumReader is Sum over a stream. It reports the number of bytes consumed.
func SumReader(reader io.Reader) (cid.Cid, int64, error) {
	hash := sha256.New()
	count, err := io.Copy(hash, reader)
	if err != nil {
		return cid.Undef, count, err
	}

	digest, err := multihash.Encode(hash.Sum(nil), multihash.SHA2_256)
	if err != nil {
		return cid.Undef, count, err
	}
	return cid.NewCidV1(cid.Raw, digest), count, nil
}

// Valid reports whether s decodes as a CID.
func Valid(s string) bool {
	_, err := cid.Decode(s)
	return err == nil
}
