package utils

import (
	"crypto/sha256"
	"fmt"
	"io"
	"os"

	"github.com/dustin/go-humanize"
)

// FileHash calculates the SHA-256 hash of a file
func FileHash(filePath string) (string, error) {
	file, err := os.Open(filePath)
	if err != nil {
		return "", err
	}
	defer file.Close()

	hash := sha256.New()
	if _, err := io.Copy(hash, file); err != nil {
		return "", err
	}

	return fmt.Sprintf("%x", hash.Sum(nil)), nil
}

// ShortFileHash returns the first n hex chars of the file's SHA-256 hash,
// for use in storage keys.
func ShortFileHash(filePath string, n int) (string, error) {
	h, err := FileHash(filePath)
	if err != nil {
		return "", err
	}
	if n <= 0 || n > len(h) {
		n = 8
	}
	return h[:n], nil
}

// FileSize returns the size of a regular file in bytes.
func FileSize(filePath string) (int64, error) {
	info, err := os.Stat(filePath)
	if err != nil {
		return 0, err
	}
	if info.IsDir() {
		return 0, fmt.Errorf("%s is a directory", filePath)
	}
	return info.Size(), nil
}

// ReadFileCapped reads a file fully, failing up front when it exceeds maxBytes.
// A maxBytes of 0 disables the cap.
func ReadFileCapped(filePath string, maxBytes int64) ([]byte, int64, error) {
	size, err := FileSize(filePath)
	if err != nil {
		return nil, 0, err
	}
	if maxBytes > 0 && size > maxBytes {
		return nil, size, fmt.Errorf("file size %s exceeds limit %s",
			humanize.Bytes(uint64(size)), humanize.Bytes(uint64(maxBytes)))
	}

	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, size, err
	}
	return data, size, nil
}
