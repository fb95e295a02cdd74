package utils

import (
	"crypto/sha256"
	"encoding/hex"
	"io"
	"os"
)

// CalculateFileSHA256 computes the SHA-256 hash of a file's content.
func CalculateFileSHA256(filePath string) (string, error) {
	file, err := os.Open(filePath)
	if err != nil {
		return "", WrapErrorf(ErrFilesystem, "open '%s' for hashing: %v", filePath, err)
	}
	defer file.Close()

	hash := sha256.New()
	if _, err := io.Copy(hash, file); err != nil {
		return "", WrapErrorf(ErrFilesystem, "read '%s' for hashing: %v", filePath, err)
	}
	return hex.EncodeToString(hash.Sum(nil)), nil
}
