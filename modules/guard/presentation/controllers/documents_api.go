package controllers

import (
	"context"
	"net/http"

	"github.com/jacksonlee411/Confidra/modules/guard/domain/types"
)

type documentIngestor interface {
	Ingest(ctx context.Context, upload types.DocumentUpload) (types.IngestResult, error)
}

type documentLister interface {
	Documents() []types.DocumentSummary
}

type DocumentsController struct {
	Ingestor documentIngestor
	Clauses  documentLister
}

func (c DocumentsController) HandleDocumentsAPI(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		docs := c.Clauses.Documents()
		if docs == nil {
			docs = make([]types.DocumentSummary, 0)
		}
		writeJSON(w, map[string]any{"documents": docs})

	case http.MethodPost:
		var upload types.DocumentUpload
		if !decodeJSON(w, r, &upload) {
			return
		}
		res, err := c.Ingestor.Ingest(r.Context(), upload)
		if err != nil {
			writeServiceError(w, r, err)
			return
		}
		writeJSON(w, res)

	default:
		writeError(w, r, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
	}
}
