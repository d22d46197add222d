package main

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
)

// lineFile is a truncated, buffered output file.
type lineFile struct {
	file   *os.File
	writer *bufio.Writer
}

func createLineFile(path string) (*lineFile, error) {
	dir := filepath.Dir(path)
	if dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create dir: %w", err)
		}
	}

	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open file: %w", err)
	}
	return &lineFile{file: file, writer: bufio.NewWriter(file)}, nil
}

func (w *lineFile) Write(p []byte) (int, error) {
	return w.writer.Write(p)
}

func (w *lineFile) Close() error {
	if err := w.writer.Flush(); err != nil {
		_ = w.file.Close()
		return fmt.Errorf("flush: %w", err)
	}
	return w.file.Close()
}
