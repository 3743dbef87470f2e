package types

import "time"

// DocumentUpload is a plain-text document submitted for clause extraction.
// Sensitivity is the default label for sections no keyword heuristic decides.
type DocumentUpload struct {
	Filename    string      `json:"filename"`
	Content     string      `json:"content"`
	Sensitivity Sensitivity `json:"sensitivity"`
	Timestamp   time.Time   `json:"timestamp"`
}

type IngestResult struct {
	Success          bool        `json:"success"`
	Message          string      `json:"message"`
	ClausesExtracted int         `json:"clauses_extracted"`
	ProtectedCount   int         `json:"protected_count"`
	Sensitivity      Sensitivity `json:"sensitivity"`
}
