package outstore

import (
	"encoding/json"
	"fmt"
	"os"
	"time"
)

// MetaSuffix is appended to the output file path to name its sidecar.
const MetaSuffix = ".meta.json"

// Meta is the sidecar record written next to an output file. The output
// file itself holds only the raw captured bytes.
type Meta struct {
	Command     string    `json:"command"`
	Dir         string    `json:"dir,omitempty"`
	ExitCode    int       `json:"exit_code"`
	Status      string    `json:"status"`
	StartedAt   time.Time `json:"started_at"`
	EndedAt     time.Time `json:"ended_at"`
	Size        int64     `json:"size"`
	Dropped     int64     `json:"dropped,omitempty"`
	Summary     string    `json:"summary"`
	SummaryKind string    `json:"summary_kind"`
	Truncated   bool      `json:"truncated"`
	Warnings    []string  `json:"warnings,omitempty"`
	Chunks      []Chunk   `json:"chunks"`
}

// WriteMeta writes the sidecar for the output file at path.
func WriteMeta(path string, meta *Meta) error {
	data, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal metadata: %w", err)
	}
	if err := os.WriteFile(path+MetaSuffix, append(data, '\n'), 0600); err != nil {
		return fmt.Errorf("write metadata: %w", err)
	}
	return nil
}

// ReadMeta loads the sidecar for the output file at path.
func ReadMeta(path string) (*Meta, error) {
	data, err := os.ReadFile(path + MetaSuffix)
	if err != nil {
		return nil, err
	}
	var meta Meta
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, fmt.Errorf("parse metadata: %w", err)
	}
	return &meta, nil
}
