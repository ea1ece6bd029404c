package provlog

import (
	"crypto/ed25519"
	"fmt"

	"github.com/multiformats/go-multicodec"
	mh "github.com/multiformats/go-multihash"
	"github.com/multiformats/go-varint"
)

// Public keys are multiformat byte strings: a multicodec varint naming
// the key type followed by the raw key bytes. Only ed25519 keys are
// built in; richer schemes arrive through an external Engine.

// EncodePublicKey prefixes a raw ed25519 public key with its multicodec.
func EncodePublicKey(pub ed25519.PublicKey) []byte {
	buf := varint.ToUvarint(uint64(multicodec.Ed25519Pub))
	return append(buf, pub...)
}

func decodePublicKey(data []byte) (ed25519.PublicKey, error) {
	code, n, err := varint.FromUvarint(data)
	if err != nil {
		return nil, fmt.Errorf("%w: public key prefix: %v", ErrMalformedEntry, err)
	}
	if code != uint64(multicodec.Ed25519Pub) {
		return nil, fmt.Errorf("%w: unsupported key codec 0x%x", ErrMalformedEntry, code)
	}
	key := data[n:]
	if len(key) != ed25519.PublicKeySize {
		return nil, fmt.Errorf("%w: ed25519 key of %d bytes", ErrMalformedEntry, len(key))
	}
	return ed25519.PublicKey(key), nil
}

// verifySignature checks sig over msg under a multiformat public key.
// A malformed key is an error; a wrong signature is just false.
func verifySignature(pubBytes, msg, sig []byte) (bool, error) {
	pub, err := decodePublicKey(pubBytes)
	if err != nil {
		return false, err
	}
	if len(sig) != ed25519.SignatureSize {
		return false, nil
	}
	return ed25519.Verify(pub, msg, sig), nil
}

// verifyPreimage checks whether hashing candidate with the algorithm
// named in the stored multihash reproduces its digest.
func verifyPreimage(stored, candidate []byte) (bool, error) {
	dec, err := mh.Decode(stored)
	if err != nil {
		return false, fmt.Errorf("%w: stored multihash: %v", ErrMalformedEntry, err)
	}
	sum, err := mh.Sum(candidate, dec.Code, dec.Length)
	if err != nil {
		return false, fmt.Errorf("%w: hashing preimage: %v", ErrScript, err)
	}
	return string(sum) == string(stored), nil
}
