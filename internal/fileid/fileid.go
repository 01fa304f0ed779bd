// Package fileid derives stable document IDs for books registered from files.
package fileid

import (
	"crypto/sha256"
	"encoding/hex"
	"path/filepath"
)

const prefix = "file-"

// FileDocID returns a stable document ID for a file registered by ownerID.
// The same owner and path always yield the same ID; different owners of the
// same path get different documents. The ID is safe to use as a blob key.
func FileDocID(ownerID, absolutePath string) string {
	normalized := filepath.Clean(absolutePath)
	hash := sha256.Sum256([]byte(ownerID + "\x00" + normalized))
	return prefix + hex.EncodeToString(hash[:16])
}
