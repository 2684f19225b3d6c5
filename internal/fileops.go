package internal

import (
	"bytes"
	"encoding/gob"
	"fmt"
	"io"
	"os"
)

// Serialize gob-encodes data into a standalone byte slice.
func Serialize(data interface{}) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(data); err != nil {
		return nil, fmt.Errorf("failed to serialize: %w", err)
	}

	return buf.Bytes(), nil
}

// Deserialize decodes a Serialize product back into data.
func Deserialize(raw []byte, data interface{}) error {
	if err := gob.NewDecoder(bytes.NewReader(raw)).Decode(data); err != nil {
		return fmt.Errorf("failed to deserialize: %w", err)
	}

	return nil
}

func WriteAll(file *os.File, buf []byte) (int, error) {
	total := 0
	remaining := len(buf)
	for remaining > 0 {
		n, err := file.Write(buf[total:])
		if err != nil {
			return total, fmt.Errorf("failed to write file: %w", err)
		}

		total += n
		remaining -= n
	}

	return total, nil
}

// WriteReadCloserToFile drains r into a new file at path, closing r.
func WriteReadCloserToFile(r io.ReadCloser, path string) (int64, error) {
	defer r.Close()

	file, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return 0, fmt.Errorf("failed to open file[%s]: %w", path, err)
	}
	defer file.Close()

	n, err := io.Copy(file, r)
	if err != nil {
		return n, fmt.Errorf("failed to write file[%s]: %w", path, err)
	}
	return n, nil
}

// IsDirEmpty reports whether dir exists and contains no entries. A missing
// directory counts as empty.
func IsDirEmpty(dir string) (bool, error) {
	f, err := os.Open(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return true, nil
		}
		return false, err
	}
	defer f.Close()

	_, err = f.Readdirnames(1)
	if err == io.EOF {
		return true, nil
	}
	return false, err
}
