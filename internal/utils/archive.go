package utils

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/exec"
)

// UnpackTarGz extracts a gzip compressed tarball into dstFolder.
func UnpackTarGz(ctx context.Context, tarGzFile string, dstFolder string) error {
	var stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, "tar", "-xzf", tarGzFile, "-C", dstFolder)
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("failed to unpack tar.gz file: %w: %s", err, stderr.String())
	}
	return nil
}

// CompressTarGz packs the contents of srcFolder into tarGzFile.
func CompressTarGz(ctx context.Context, srcFolder, tarGzFile string) error {
	var stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, "tar", "-czf", tarGzFile, "-C", srcFolder, ".")
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("failed to create tar.gz file: %w: %s", err, stderr.String())
	}
	return nil
}

// IsTarGz sniffs the gzip magic of file.
func IsTarGz(file string) bool {
	fileHandle, err := os.Open(file)
	if err != nil {
		return false
	}
	defer fileHandle.Close()

	buffer := make([]byte, 512) // first 512 bytes are enough for MIME detection
	n, err := io.ReadFull(fileHandle, buffer)
	if n == 0 || (err != nil && err != io.ErrUnexpectedEOF) {
		return false
	}

	return http.DetectContentType(buffer[:n]) == "application/x-gzip"
}
