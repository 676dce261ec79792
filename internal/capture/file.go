package capture

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/klauspost/compress/gzip"
)

// ReadFile reads a saved response body, transparently gunzipping files that
// end in ".gz".
func ReadFile(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading capture: %w", err)
	}
	if !strings.HasSuffix(path, ".gz") {
		return data, nil
	}

	zr, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("opening gzip capture %s: %w", path, err)
	}
	defer zr.Close()

	out, err := io.ReadAll(zr)
	if err != nil {
		return nil, fmt.Errorf("decompressing capture %s: %w", path, err)
	}
	return out, nil
}

// WriteFile writes a response body to path, gzip-compressed when the name
// ends in ".gz".
func WriteFile(path string, body []byte) error {
	if !strings.HasSuffix(path, ".gz") {
		return os.WriteFile(path, body, 0o644)
	}

	var buf bytes.Buffer
	zw, err := gzip.NewWriterLevel(&buf, gzip.BestCompression)
	if err != nil {
		return fmt.Errorf("creating gzip writer: %w", err)
	}
	if _, err := zw.Write(body); err != nil {
		return fmt.Errorf("compressing capture: %w", err)
	}
	if err := zw.Close(); err != nil {
		return fmt.Errorf("compressing capture: %w", err)
	}
	return os.WriteFile(path, buf.Bytes(), 0o644)
}

// LoadTransaction reads and decodes a saved transaction response.
func LoadTransaction(path string) (Transaction, error) {
	data, err := ReadFile(path)
	if err != nil {
		return Transaction{}, err
	}
	return DecodeTransaction(data)
}

// LoadSearch reads and decodes a saved search response.
func LoadSearch(path string) ([]Record, error) {
	data, err := ReadFile(path)
	if err != nil {
		return nil, err
	}
	return DecodeSearch(data)
}
