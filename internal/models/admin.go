package models

import "time"

// ImportResult summarises a catalogue import.
type ImportResult struct {
	Files   int      `json:"files"`
	Created int      `json:"created"`
	Updated int      `json:"updated"`
	Skipped int      `json:"skipped"`
	Errors  []string `json:"errors,omitempty"`
}

// Merge accumulates another result into r.
func (r *ImportResult) Merge(other ImportResult) {
	r.Files += other.Files
	r.Created += other.Created
	r.Updated += other.Updated
	r.Skipped += other.Skipped
	r.Errors = append(r.Errors, other.Errors...)
}

// RecomputeReport summarises a bulk aggregate recomputation.
type RecomputeReport struct {
	Courses   int           `json:"courses"`
	Succeeded int           `json:"succeeded"`
	Failed    []string      `json:"failed,omitempty"`
	Drifted   []string      `json:"drifted,omitempty"`
	Duration  time.Duration `json:"duration_ns"`
}

// ExportResult describes a generated ranking export.
type ExportResult struct {
	ID          string    `json:"id"`
	Format      string    `json:"format"`
	Rows        int       `json:"rows"`
	Token       string    `json:"token"`
	DownloadURL string    `json:"download_url"`
	ExpiresAt   time.Time `json:"expires_at"`
}
