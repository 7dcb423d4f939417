package billing

import (
	"context"
	"fmt"
	"log/slog"
)

// Progress is a discrete step completion inside a batch run.
type Progress struct {
	Completed int    `json:"completed"`
	Total     int    `json:"total"`
	Current   string `json:"current"`
}

// ProgressSink receives one report after every batch item, whatever its
// outcome. Injected so the orchestrator runs headlessly.
type ProgressSink interface {
	Report(p Progress)
}

// LogProgressSink reports batch progress to the structured log.
type LogProgressSink struct {
	Logger *slog.Logger
}

func (s LogProgressSink) Report(p Progress) {
	logger := s.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.Info("batch progress", "completed", p.Completed, "total", p.Total, "current", p.Current)
}

// NoEligibleRowsError is returned when a batch is requested and every
// row failed validation; it carries the skip detail so the operator can
// fix the source sheet.
type NoEligibleRowsError struct {
	Skipped []SkippedRow
}

func (e *NoEligibleRowsError) Error() string {
	return fmt.Sprintf("no eligible rows to generate (%d skipped)", len(e.Skipped))
}

// Orchestrator drives document generation through the render client and
// accumulates artifacts into the session store.
type Orchestrator struct {
	render RenderClient
	logger *slog.Logger
}

func NewOrchestrator(render RenderClient, logger *slog.Logger) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{render: render, logger: logger}
}

// GenerateOne renders a single selected row. A binary document is
// stored into the session's artifact store; a fallback is returned
// without storing. Render errors propagate to the caller.
func (o *Orchestrator) GenerateOne(ctx context.Context, sess *Session, index int, issuer IssuerProfile, copyLabel string) (RenderResult, error) {
	rec, ok := sess.Record(index)
	if !ok {
		return RenderResult{}, ErrRowNotFound
	}
	return o.generate(ctx, sess, rec, issuer, copyLabel)
}

// GenerateBatch renders every eligible row strictly sequentially: item
// i fully completes, including artifact storage and the progress
// report, before item i+1 is submitted. A failed item is recorded and
// the batch continues; it never aborts early.
func (o *Orchestrator) GenerateBatch(ctx context.Context, sess *Session, issuer IssuerProfile, sink ProgressSink) (BatchResult, error) {
	eligible, skipped := Partition(sess.Records())
	if len(eligible) == 0 {
		return BatchResult{}, &NoEligibleRowsError{Skipped: skipped}
	}

	result := BatchResult{Items: make([]ItemResult, 0, len(eligible))}
	total := len(eligible)
	for i, rec := range eligible {
		item := ItemResult{InvoiceNumber: rec.InvoiceNumber}
		res, err := o.generate(ctx, sess, rec, issuer, "")
		switch {
		case err != nil:
			o.logger.Warn("generation failed, continuing batch",
				"invoiceNumber", rec.InvoiceNumber, "error", err)
			item.Status = ItemFailed
			item.Error = err.Error()
			result.Failed++
		case res.Kind == RenderDocument:
			item.Status = ItemGenerated
			item.Filename = ArtifactFilename(rec.InvoiceNumber)
			result.Generated++
		default:
			item.Status = ItemManualPrint
			result.ManualPrint++
		}
		result.Items = append(result.Items, item)
		if sink != nil {
			sink.Report(Progress{Completed: i + 1, Total: total, Current: rec.InvoiceNumber})
		}
	}
	return result, nil
}

// generate is the shared primitive: submit to the render client, branch
// once on the declared result kind, store on success.
func (o *Orchestrator) generate(ctx context.Context, sess *Session, rec InvoiceRecord, issuer IssuerProfile, copyLabel string) (RenderResult, error) {
	res, err := o.render.Render(ctx, RenderRequest{Record: rec, Issuer: issuer, CopyLabel: copyLabel})
	if err != nil {
		return RenderResult{}, fmt.Errorf("render %s: %w", rec.Identifier(), err)
	}
	if res.Kind == RenderDocument {
		sess.PutArtifact(Artifact{
			InvoiceNumber: rec.InvoiceNumber,
			Content:       res.Document,
			Filename:      ArtifactFilename(rec.InvoiceNumber),
		})
	}
	return res, nil
}
