// Package scratch hands realization matrices between the loader and a
// worker through single-use files, avoiding a second in-memory copy of
// large matrices. The file is an optimization for the worker handoff, not a
// correctness requirement; the coordinator falls back to in-memory transfer
// when no scratch directory is configured.
package scratch

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/vmihailenco/msgpack/v5"
)

// Table is the serialized payload for one aggregation task: the realization
// matrix and weight vector for a (location, IMT), aligned by branch
// enumeration order.
type Table struct {
	Location string      `msgpack:"location"`
	IMT      string      `msgpack:"imt"`
	Levels   []float64   `msgpack:"levels"`
	Matrix   [][]float64 `msgpack:"matrix"`
	Weights  []float64   `msgpack:"weights"`
}

// Write serializes a table to a uuid-named file under dir and returns its
// path. Each file belongs to exactly one task and is deleted by Consume.
func Write(dir string, table *Table) (string, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create scratch directory: %w", err)
	}
	blob, err := msgpack.Marshal(table)
	if err != nil {
		return "", fmt.Errorf("failed to encode scratch table: %w", err)
	}
	path := filepath.Join(dir, uuid.New().String()+".thp")
	if err := os.WriteFile(path, blob, 0644); err != nil {
		return "", fmt.Errorf("failed to write scratch table: %w", err)
	}
	return path, nil
}

// Consume reads a table back and removes the file. The file is gone whether
// or not decoding succeeds; a scratch file is never read twice.
func Consume(path string) (*Table, error) {
	blob, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scratch table: %w", err)
	}
	if err := os.Remove(path); err != nil {
		return nil, fmt.Errorf("failed to remove scratch table: %w", err)
	}
	var table Table
	if err := msgpack.Unmarshal(blob, &table); err != nil {
		return nil, fmt.Errorf("failed to decode scratch table: %w", err)
	}
	return &table, nil
}
