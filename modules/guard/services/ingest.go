package services

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/jacksonlee411/Confidra/modules/guard/domain/ports"
	"github.com/jacksonlee411/Confidra/modules/guard/domain/types"
	"github.com/jacksonlee411/Confidra/pkg/httperr"
)

const minSectionLen = 20

var numberedSectionRe = regexp.MustCompile(`\n\d+\.\s+`)

// Keyword tables are checked top to bottom; the first hit decides.
var clauseTypeKeywords = []struct {
	typ      types.ClauseType
	keywords []string
}{
	{types.ClauseTypeCompensation, []string{"salary", "compensation", "pay", "bonus", "equity"}},
	{types.ClauseTypeBenefits, []string{"vacation", "pto", "sick", "holiday", "leave"}},
	{types.ClauseTypeConfidential, []string{"confidential", "proprietary", "trade secret", "non-disclosure"}},
	{types.ClauseTypeTermination, []string{"termination", "notice", "severance"}},
	{types.ClauseTypeJobDescription, []string{"duties", "responsibilities", "job", "position"}},
	{types.ClauseTypeWorkConditions, []string{"location", "hours", "work", "office"}},
}

var (
	protectedKeywords = []string{
		"$", "salary", "bonus", "equity", "stock", "rsu",
		"confidential", "proprietary", "trade secret", "personal",
	}
	publicKeywords = []string{"job title", "start date", "location", "hours", "benefits"}
)

// DocumentIngestor turns uploaded text into labelled clauses and feeds them to
// the clause store.
type DocumentIngestor struct {
	store  *ClauseStore
	sink   ports.AuditSink
	now    func() time.Time
	logger zerolog.Logger
}

func NewDocumentIngestor(store *ClauseStore, sink ports.AuditSink, logger zerolog.Logger) *DocumentIngestor {
	return &DocumentIngestor{store: store, sink: sink, now: time.Now, logger: logger}
}

func (d *DocumentIngestor) Ingest(ctx context.Context, upload types.DocumentUpload) (types.IngestResult, error) {
	upload.Filename = strings.TrimSpace(upload.Filename)
	if upload.Filename == "" {
		return types.IngestResult{}, httperr.NewBadRequest("filename is required")
	}
	if strings.TrimSpace(upload.Content) == "" {
		return types.IngestResult{}, httperr.NewBadRequest("content is required")
	}
	if upload.Sensitivity == "" {
		upload.Sensitivity = types.SensitivityPublic
	}
	if !upload.Sensitivity.Valid() {
		return types.IngestResult{}, httperr.BadRequestf("invalid sensitivity %q", upload.Sensitivity)
	}
	if upload.Timestamp.IsZero() {
		upload.Timestamp = d.now()
	}

	clauses := ExtractClauses(upload)
	if len(clauses) == 0 {
		return types.IngestResult{}, httperr.NewBadRequest("no clauses could be extracted")
	}
	if err := d.store.Ingest(ctx, clauses); err != nil {
		d.logger.Error().Err(err).Str("filename", upload.Filename).Msg("clause ingest failed")
		return types.IngestResult{}, err
	}

	protected := 0
	for _, c := range clauses {
		if c.IsProtected() {
			protected++
		}
	}
	result := types.IngestResult{
		Success:          true,
		Message:          fmt.Sprintf("Successfully processed %d clauses from %s", len(clauses), upload.Filename),
		ClausesExtracted: len(clauses),
		ProtectedCount:   protected,
		Sensitivity:      upload.Sensitivity,
	}
	d.recordUpload(ctx, upload, result)
	return result, nil
}

func (d *DocumentIngestor) recordUpload(ctx context.Context, upload types.DocumentUpload, result types.IngestResult) {
	if d.sink == nil {
		return
	}
	event, err := NewAuditEvent(types.EventDocumentUpload, map[string]any{
		"filename":          upload.Filename,
		"sensitivity":       string(upload.Sensitivity),
		"clauses_extracted": result.ClausesExtracted,
		"protected_count":   result.ProtectedCount,
	}, d.now())
	if err != nil {
		d.logger.Warn().Err(err).Msg("audit event id unavailable")
	}
	if err := d.sink.Record(context.WithoutCancel(ctx), event); err != nil {
		d.logger.Warn().Err(err).Str("event_type", string(event.Type)).Msg("audit sink record failed")
	}
}

// ExtractClauses splits a document into sections and labels each one.
func ExtractClauses(upload types.DocumentUpload) []types.Clause {
	sections := splitSections(upload.Content)
	out := make([]types.Clause, 0, len(sections))
	for _, s := range sections {
		lower := strings.ToLower(s)
		out = append(out, types.Clause{
			Text:           s,
			Sensitivity:    classifySensitivity(lower, upload.Sensitivity),
			Type:           classifyClauseType(lower),
			SourceDocument: upload.Filename,
			CreatedAt:      upload.Timestamp.UTC(),
		})
	}
	return out
}

func splitSections(text string) []string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	parts := numberedSectionRe.Split(text, -1)
	if len(parts) <= 1 {
		parts = strings.Split(text, "\n\n")
	}
	var out []string
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if len(p) > minSectionLen {
			out = append(out, p)
		}
	}
	return out
}

func classifyClauseType(lower string) types.ClauseType {
	for _, row := range clauseTypeKeywords {
		if containsAnyKeyword(lower, row.keywords) {
			return row.typ
		}
	}
	return types.ClauseTypeGeneral
}

func classifySensitivity(lower string, fallback types.Sensitivity) types.Sensitivity {
	switch {
	case containsAnyKeyword(lower, protectedKeywords):
		return types.SensitivityProtected
	case containsAnyKeyword(lower, publicKeywords):
		return types.SensitivityPublic
	default:
		return fallback
	}
}

func containsAnyKeyword(lower string, keywords []string) bool {
	for _, k := range keywords {
		if strings.Contains(lower, k) {
			return true
		}
	}
	return false
}
