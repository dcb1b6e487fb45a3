// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

package parquet

import (
	"fmt"
	"os"

	"github.com/parquet-go/parquet-go"
	"github.com/parquet-go/parquet-go/compress"
)

// ReadingRow is one reading value of one poll cycle.
type ReadingRow struct {
	Session     string  `parquet:"session,dict"`
	Host        string  `parquet:"host,dict"`
	TimestampMs int64   `parquet:"timestamp_ms"`
	ID          int32   `parquet:"id"`
	Name        string  `parquet:"name,dict"`
	Unit        string  `parquet:"unit,dict"`
	Monitor     string  `parquet:"monitor,dict"`
	Parent      string  `parquet:"parent,dict"`
	Value       float64 `parquet:"value"`
}

func codec(c CompressionType) compress.Codec {
	switch c {
	case CompressionZstd:
		return &parquet.Zstd
	case CompressionGzip:
		return &parquet.Gzip
	case CompressionNone:
		return &parquet.Uncompressed
	default:
		return &parquet.Snappy
	}
}

// sessionWriter buffers the rows of one session file.
type sessionWriter struct {
	path      string
	file      *os.File
	writer    *parquet.GenericWriter[ReadingRow]
	buffer    []ReadingRow
	batchSize int
	rows      int64
}

func openSessionWriter(path string, batchSize int, compression CompressionType) (*sessionWriter, error) {
	file, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("failed to create file: %w", err)
	}
	return &sessionWriter{
		path:      path,
		file:      file,
		writer:    parquet.NewGenericWriter[ReadingRow](file, parquet.Compression(codec(compression))),
		buffer:    make([]ReadingRow, 0, batchSize),
		batchSize: batchSize,
	}, nil
}

func (w *sessionWriter) write(rows []ReadingRow) error {
	w.buffer = append(w.buffer, rows...)
	if len(w.buffer) >= w.batchSize {
		return w.flush()
	}
	return nil
}

func (w *sessionWriter) flush() error {
	if len(w.buffer) == 0 {
		return nil
	}
	n, err := w.writer.Write(w.buffer)
	w.rows += int64(n)
	w.buffer = w.buffer[:0]
	if err != nil {
		return fmt.Errorf("failed to write parquet rows: %w", err)
	}
	return nil
}

// close writes the buffered rows and the file footer.
func (w *sessionWriter) close() error {
	err := w.flush()
	if cerr := w.writer.Close(); cerr != nil && err == nil {
		err = fmt.Errorf("failed to close parquet writer: %w", cerr)
	}
	if cerr := w.file.Close(); cerr != nil && err == nil {
		err = fmt.Errorf("failed to close file: %w", cerr)
	}
	return err
}
