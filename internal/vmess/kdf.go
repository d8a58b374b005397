// Package vmess implements the VMess AEAD command header: auth-id framing,
// the chained-HMAC-SHA256 key derivation function, and AES-128-GCM
// encrypt/decrypt for the command and response headers. Grounded on
// original_source/src/proxy/vmess.rs for wire layout and KDF tag
// sequence; the hash::kdf function body itself (in common/hash.rs) was
// not part of the retrieved source slice, so the chained-HMAC
// construction below reproduces the well-known v2ray-core
// implementation (proxy/vmess/aead/kdf.go) that vmess.rs's doc comment
// links to and that every VMess-AEAD client/server, including this
// corpus's own VLESS/VMess reference files, implements identically.
package vmess

import (
	"crypto/hmac"
	"crypto/sha256"
	"hash"
)

// KDF salts, ported verbatim (as byte strings) from v2ray-core's
// proxy/vmess/aead/kdf.go.
var (
	saltVMessAEADKDF                    = []byte("VMess AEAD KDF")
	saltAEADRespHeaderLenKey            = []byte("AEAD Resp Header Len Key")
	saltAEADRespHeaderLenIV             = []byte("AEAD Resp Header Len IV")
	saltAEADRespHeaderKey               = []byte("AEAD Resp Header Key")
	saltAEADRespHeaderIV                = []byte("AEAD Resp Header IV")
	saltVMessHeaderPayloadAEADKey       = []byte("VMess Header AEAD Key")
	saltVMessHeaderPayloadAEADIV        = []byte("VMess Header AEAD Nonce")
	saltVMessHeaderPayloadLengthAEADKey = []byte("VMess Header AEAD Key_Length")
	saltVMessHeaderPayloadLengthAEADIV  = []byte("VMess Header AEAD Nonce_Length")
)

// hmacCreator builds a chain of nested HMAC-SHA256 constructors, one per
// path element, rooted at "VMess AEAD KDF".
type hmacCreator struct {
	parent *hmacCreator
	value  []byte
}

func (h *hmacCreator) create() func() hash.Hash {
	if h.parent == nil {
		value := h.value
		return func() hash.Hash { return hmac.New(sha256.New, value) }
	}
	parentCreate := h.parent.create()
	value := h.value
	return func() hash.Hash { return hmac.New(parentCreate, value) }
}

// kdf derives a key by HMAC-SHA256-chaining key through path, rooted at
// the VMess AEAD KDF salt.
func kdf(key []byte, path ...[]byte) []byte {
	creator := &hmacCreator{value: saltVMessAEADKDF}
	for _, v := range path {
		creator = &hmacCreator{value: v, parent: creator}
	}
	h := creator.create()()
	h.Write(key)
	return h.Sum(nil)
}
