package types

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

type Sensitivity string

const (
	SensitivityPublic    Sensitivity = "public"
	SensitivityProtected Sensitivity = "protected"
)

func (s Sensitivity) Valid() bool {
	switch s {
	case SensitivityPublic, SensitivityProtected:
		return true
	default:
		return false
	}
}

func ParseSensitivity(raw string) (Sensitivity, error) {
	s := Sensitivity(strings.ToLower(strings.TrimSpace(raw)))
	if !s.Valid() {
		return "", fmt.Errorf("invalid sensitivity %q", raw)
	}
	return s, nil
}

type ClauseType string

const (
	ClauseTypeCompensation   ClauseType = "compensation"
	ClauseTypeBenefits       ClauseType = "benefits"
	ClauseTypeConfidential   ClauseType = "confidentiality"
	ClauseTypeTermination    ClauseType = "termination"
	ClauseTypeJobDescription ClauseType = "job_description"
	ClauseTypeWorkConditions ClauseType = "work_conditions"
	ClauseTypeGeneral        ClauseType = "general"
)

func (t ClauseType) Valid() bool {
	switch t {
	case ClauseTypeCompensation, ClauseTypeBenefits, ClauseTypeConfidential, ClauseTypeTermination,
		ClauseTypeJobDescription, ClauseTypeWorkConditions, ClauseTypeGeneral:
		return true
	default:
		return false
	}
}

// Clause is an atomic unit of contract text. The JSON shape matches the
// corpus file written by earlier releases (contract.json).
type Clause struct {
	Text           string      `json:"clause"`
	Sensitivity    Sensitivity `json:"sensitivity"`
	Type           ClauseType  `json:"type"`
	SourceDocument string      `json:"document,omitempty"`
	CreatedAt      time.Time   `json:"timestamp"`
}

func (c Clause) Validate() error {
	if strings.TrimSpace(c.Text) == "" {
		return errors.New("clause text is required")
	}
	if !c.Sensitivity.Valid() {
		return fmt.Errorf("clause sensitivity %q is invalid", c.Sensitivity)
	}
	if !c.Type.Valid() {
		return fmt.Errorf("clause type %q is invalid", c.Type)
	}
	return nil
}

func (c Clause) IsProtected() bool { return c.Sensitivity == SensitivityProtected }

// DocumentSummary aggregates the clauses ingested from one source document.
type DocumentSummary struct {
	Filename       string    `json:"filename"`
	ClausesCount   int       `json:"clauses_count"`
	ProtectedCount int       `json:"protected_count"`
	PublicCount    int       `json:"public_count"`
	LastIngestedAt time.Time `json:"upload_date"`
}
