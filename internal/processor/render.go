package processor

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/tsylvester/paynless-framework-sub003/internal/job"
	"github.com/tsylvester/paynless-framework-sub003/internal/models"
	"github.com/tsylvester/paynless-framework-sub003/internal/notify"
	"github.com/tsylvester/paynless-framework-sub003/internal/storage"
	"github.com/tsylvester/paynless-framework-sub003/pkg/log"
)

// RenderProcessor assembles a document from its contribution chain.
type RenderProcessor struct{}

func (RenderProcessor) Process(ctx context.Context, req Request) (Result, error) {
	p, ok := req.Payload.(*job.RenderPayload)
	if !ok {
		return Result{}, &Error{Code: CodeUnexpectedPayload, Err: fmt.Errorf("render processor got %T", req.Payload)}
	}
	if req.Deps.Files == nil {
		return Result{}, errors.New("render processor requires a file manager")
	}

	root := strings.TrimSpace(p.DocumentIdentity)
	if root == "" {
		root = p.SourceContributionID
	}

	rows, chunks, err := req.Deps.Files.DocumentChunks(ctx, root)
	if err != nil {
		return Result{}, &Error{Code: CodeRenderSourceMissing, Err: err}
	}

	var buf bytes.Buffer
	fmt.Fprintf(&buf, "# %s\n\n", p.DocumentKey)
	for _, chunk := range chunks {
		buf.Write(chunk)
	}
	if buf.Len() > 0 && buf.Bytes()[buf.Len()-1] != '\n' {
		buf.WriteByte('\n')
	}

	sources := make([]string, 0, len(rows))
	for _, r := range rows {
		sources = append(sources, r.ID)
	}

	path, err := req.Deps.Files.SaveRendered(ctx, storage.RenderedDocument{
		SessionID:       req.Job.SessionID,
		StageSlug:       req.Job.StageSlug,
		IterationNumber: req.Job.IterationNumber,
		ModelID:         p.ModelID,
		DocumentKey:     p.DocumentKey,
		Content:         buf.Bytes(),
		SourceIDs:       sources,
	})
	if err != nil {
		return Result{}, &Error{Code: CodeRenderSaveFailed, Err: err}
	}

	data := eventData(req, &p.CommonFields)
	data.DocumentKey = p.DocumentKey
	data.ContributionID = root
	emit(ctx, req, notify.TypeRenderCompleted, data)

	log.Info("rendered document", "job_id", req.Job.ID, "document_key", p.DocumentKey, "chunks", len(chunks), "path", path)

	return Result{
		Status: models.JobStatusCompleted,
		Results: map[string]any{
			"path":   path,
			"chunks": len(chunks),
		},
	}, nil
}
