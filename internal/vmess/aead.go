package vmess

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/md5"
	"crypto/sha256"
	"fmt"

	"github.com/google/uuid"

	"github.com/hoshiyomiX/Beacon/internal/errcls"
)

// authIDSuffix is appended to the user's UUID before MD5-hashing to
// derive the command-header auth key, ported verbatim from
// original_source/src/proxy/vmess.rs::aead_decrypt.
var authIDSuffix = []byte("c48619fe-8f02-49e0-b9e9-edf763e17e21")

func authKey(id uuid.UUID) []byte {
	h := md5.New()
	h.Write(id[:])
	h.Write(authIDSuffix)
	return h.Sum(nil)
}

func gcmOpen(key, nonce, ciphertext, aad []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, errcls.Tag(errcls.KindAuthFailed, err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, errcls.Tag(errcls.KindAuthFailed, err)
	}
	plain, err := gcm.Open(nil, nonce, ciphertext, aad)
	if err != nil {
		return nil, errcls.Tag(errcls.KindAuthFailed, fmt.Errorf("vmess aead open: %w", err))
	}
	return plain, nil
}

func gcmSeal(key, nonce, plaintext, aad []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	return gcm.Seal(nil, nonce, plaintext, aad), nil
}

// decryptCommand reads and decrypts the AEAD command header:
//
//	+-------------------+-------------------+-------------------+
//	|     Auth ID       |   Header Length   |       Nonce       |
//	+-------------------+-------------------+-------------------+
//	|     16 Bytes      |     18 Bytes      |      8 Bytes      |
//	+-------------------+-------------------+-------------------+
//
// then the command payload (the decrypted length's worth of ciphertext
// followed by a 16-byte GCM tag), returning its
// decrypted plaintext (the command block parsed by parseCommand).
func decryptCommand(r byteReader, id uuid.UUID) ([]byte, error) {
	key := authKey(id)

	var authID [16]byte
	if err := r.ReadFull(authID[:]); err != nil {
		return nil, errcls.Tag(errcls.KindMalformedFrame, err)
	}
	var lenCipher [18]byte
	if err := r.ReadFull(lenCipher[:]); err != nil {
		return nil, errcls.Tag(errcls.KindMalformedFrame, err)
	}
	var nonce [8]byte
	if err := r.ReadFull(nonce[:]); err != nil {
		return nil, errcls.Tag(errcls.KindMalformedFrame, err)
	}

	lenKey := kdf(key, saltVMessHeaderPayloadLengthAEADKey, authID[:], nonce[:])[:16]
	lenNonce := kdf(key, saltVMessHeaderPayloadLengthAEADIV, authID[:], nonce[:])[:12]

	lenPlain, err := gcmOpen(lenKey, lenNonce, lenCipher[:], authID[:])
	if err != nil {
		return nil, err
	}
	headerLength := (uint16(lenPlain[0]) << 8) | uint16(lenPlain[1])

	cmd := make([]byte, int(headerLength)+16) // +16 GCM tag
	if err := r.ReadFull(cmd); err != nil {
		return nil, errcls.Tag(errcls.KindMalformedFrame, err)
	}

	payloadKey := kdf(key, saltVMessHeaderPayloadAEADKey, authID[:], nonce[:])[:16]
	payloadNonce := kdf(key, saltVMessHeaderPayloadAEADIV, authID[:], nonce[:])[:12]

	return gcmOpen(payloadKey, payloadNonce, cmd, authID[:])
}

// responseHeader builds the two AEAD-encrypted frames the server writes
// back immediately after accepting a command: a 2-byte big-endian length
// (value 4) and a 4-byte options echo, both encrypted under keys derived from the
// client's data-encryption key/IV, per
// https://github.com/v2ray/v2ray-core/blob/master/proxy/vmess/encoding/client.go.
func responseHeader(dataKey, dataIV [16]byte, firstOption byte) (lengthFrame, headerFrame []byte, err error) {
	key := sha256Sum16(dataKey[:])
	iv := sha256Sum16(dataIV[:])

	lengthKey := kdf(key, saltAEADRespHeaderLenKey)[:16]
	lengthNonce := kdf(iv, saltAEADRespHeaderLenIV)[:12]
	lengthFrame, err = gcmSeal(lengthKey, lengthNonce, []byte{0x00, 0x04}, nil)
	if err != nil {
		return nil, nil, err
	}

	payloadKey := kdf(key, saltAEADRespHeaderKey)[:16]
	payloadNonce := kdf(iv, saltAEADRespHeaderIV)[:12]
	headerFrame, err = gcmSeal(payloadKey, payloadNonce, []byte{firstOption, 0x00, 0x00, 0x00}, nil)
	if err != nil {
		return nil, nil, err
	}
	return lengthFrame, headerFrame, nil
}

func sha256Sum16(b []byte) []byte {
	sum := sha256.Sum256(b)
	return sum[:16]
}

// byteReader is the minimal interface decryptCommand needs; satisfied by
// internal/wsstream.Adaptor.
type byteReader interface {
	ReadFull(buf []byte) error
}
