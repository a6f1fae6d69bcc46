// Package cryptox provides the streaming decryptor AcquisitionStage
// uses to turn an encrypted source object into a plaintext target
// object. The AEAD primitive itself is stdlib crypto/cipher/crypto/aes
// — spec.md scopes AES-GCM decryption as an externally-supplied
// collaborator, but a concrete default still has to ship, and stdlib
// is the only sane one for the primitive itself. Key material is
// derived with golang.org/x/crypto/hkdf rather than used raw, so a
// short per-object password/salt pair never becomes the AES key
// directly.
package cryptox

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/sha256"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"

	"github.com/litp/platform/pkg/errs"
)

// nonceSize is the standard GCM nonce length.
const nonceSize = 12

// chunkSize bounds how much plaintext one sealed chunk carries. The
// streaming format is a sequence of (uint32 length-prefixed) sealed
// chunks, each independently authenticated, so decryption never has
// to hold the whole object in memory.
const chunkSize = 64 * 1024

// PasswordSaltFromKey derives the (password, salt) pair AcquisitionStage
// needs for one source object key from a fixed, operator-provisioned
// master secret: password is HMAC-SHA256(masterSecret, objectKey) and
// salt is the object key itself (already unique per file, so it never
// repeats across objects). Matches the acquisition.PasswordSaltProvider
// function shape without importing it, keeping this package's
// dependency graph one-directional.
func PasswordSaltFromKey(masterSecret []byte) func(objectKey string) (password, salt []byte) {
	return func(objectKey string) (password, salt []byte) {
		mac := hmac.New(sha256.New, masterSecret)
		mac.Write([]byte(objectKey))
		return mac.Sum(nil), []byte(objectKey)
	}
}

// DeriveKey turns a (password, salt) pair into a 32-byte AES-256 key
// via HKDF-SHA256. password and salt are both derived deterministically
// from the object key by the caller's passwordSaltProvider (§4.4);
// this function is the pure key-stretching step.
func DeriveKey(password, salt []byte) ([]byte, error) {
	key := make([]byte, 32)
	r := hkdf.New(sha256.New, password, salt, []byte("litp-object-decrypt"))
	if _, err := io.ReadFull(r, key); err != nil {
		return nil, errs.Wrap(errs.PermanentIO, err, "key derivation failed")
	}
	return key, nil
}

// DecryptStream reads the chunked AES-GCM wire format from src and
// writes the recovered plaintext to dst, returning the total number
// of plaintext bytes written. A malformed header, truncated chunk, or
// authentication failure is reported as errs.PermanentIO: ciphertext
// corruption is never retriable.
func DecryptStream(dst io.Writer, src io.Reader, password, salt []byte) (int64, error) {
	key, err := DeriveKey(password, salt)
	if err != nil {
		return 0, err
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return 0, errs.Wrap(errs.PermanentIO, err, "invalid derived key")
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return 0, errs.Wrap(errs.PermanentIO, err, "failed to initialise AEAD")
	}

	var written int64
	lenBuf := make([]byte, 4)
	for {
		if _, err := io.ReadFull(src, lenBuf); err != nil {
			if err == io.EOF {
				return written, nil
			}
			return written, errs.Wrap(errs.PermanentIO, err, "truncated chunk length")
		}
		n := be32(lenBuf)
		if n == 0 || n > chunkSize+nonceSize+gcm.Overhead() {
			return written, errs.New(errs.PermanentIO, "malformed chunk length")
		}

		sealed := make([]byte, n)
		if _, err := io.ReadFull(src, sealed); err != nil {
			return written, errs.Wrap(errs.PermanentIO, err, "truncated chunk body")
		}
		if len(sealed) < nonceSize {
			return written, errs.New(errs.PermanentIO, "chunk shorter than nonce")
		}

		nonce, ciphertext := sealed[:nonceSize], sealed[nonceSize:]
		plain, err := gcm.Open(nil, nonce, ciphertext, nil)
		if err != nil {
			return written, errs.Wrap(errs.PermanentIO, err, "chunk authentication failed")
		}

		if _, err := dst.Write(plain); err != nil {
			return written, errs.Wrap(errs.PermanentIO, err, "failed to write decrypted chunk")
		}
		written += int64(len(plain))
	}
}

// EncryptStream is the DecryptStream counterpart, used only by tests
// to produce fixtures in the wire format AcquisitionStage consumes.
func EncryptStream(dst io.Writer, src io.Reader, password, salt []byte, rand io.Reader) error {
	key, err := DeriveKey(password, salt)
	if err != nil {
		return err
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return fmt.Errorf("invalid derived key: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return fmt.Errorf("failed to initialise AEAD: %w", err)
	}

	buf := make([]byte, chunkSize)
	for {
		n, err := io.ReadFull(src, buf)
		if n > 0 {
			nonce := make([]byte, nonceSize)
			if _, err := io.ReadFull(rand, nonce); err != nil {
				return fmt.Errorf("failed to read nonce randomness: %w", err)
			}
			sealed := gcm.Seal(nonce, nonce, buf[:n], nil)
			if _, werr := dst.Write(be32Bytes(len(sealed))); werr != nil {
				return werr
			}
			if _, werr := dst.Write(sealed); werr != nil {
				return werr
			}
		}
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed reading plaintext: %w", err)
		}
	}
}

func be32(b []byte) int {
	return int(b[0])<<24 | int(b[1])<<16 | int(b[2])<<8 | int(b[3])
}

func be32Bytes(n int) []byte {
	return []byte{byte(n >> 24), byte(n >> 16), byte(n >> 8), byte(n)}
}
