package billing

import (
	"context"
	"log/slog"
)

// RegistrationResult is what the operator gets back from one
// registration attempt: the final status, the full transcript, and the
// authorization fields on success.
type RegistrationResult struct {
	Status         RegistrationStatus `json:"status"`
	Log            []string           `json:"log"`
	CAE            string             `json:"cae,omitempty"`
	CAEExpiry      string             `json:"caeExpiry,omitempty"`
	SequenceNumber int64              `json:"sequenceNumber,omitempty"`
	Err            string             `json:"error,omitempty"`
}

// Transcript markers appended after the relayed authority log. The
// NOT CONFIGURADO outcome must stay distinguishable from ERROR: the
// first is an environment without the integration, the second a failed
// attempt against it.
const (
	markerOK            = "RESULTADO: OK"
	markerNotConfigured = "RESULTADO: NO CONFIGURADO"
	markerError         = "RESULTADO: ERROR"
)

// RegistrationWorkflow submits one record at a time to the authority,
// keeps the transcript, and on success writes the issued CAE back into
// the working set so later generations embed it.
type RegistrationWorkflow struct {
	authority   AuthorityClient
	transcripts *TranscriptRecorder
	logger      *slog.Logger
}

func NewRegistrationWorkflow(authority AuthorityClient, transcripts *TranscriptRecorder, logger *slog.Logger) *RegistrationWorkflow {
	if logger == nil {
		logger = slog.Default()
	}
	if transcripts == nil {
		transcripts = NewTranscriptRecorder()
	}
	return &RegistrationWorkflow{authority: authority, transcripts: transcripts, logger: logger}
}

// Transcripts exposes the recorder for inspection.
func (w *RegistrationWorkflow) Transcripts() *TranscriptRecorder {
	return w.transcripts
}

// Register runs one registration attempt for the row at index. The
// authority's log is relayed verbatim, in order, into the transcript;
// only a SUCCESS mutates the record. Not finding the row is the only
// error condition.
func (w *RegistrationWorkflow) Register(ctx context.Context, sess *Session, index int) (RegistrationResult, error) {
	rec, ok := sess.Record(index)
	if !ok {
		return RegistrationResult{}, ErrRowNotFound
	}
	key := rec.Identifier()

	resp := w.authority.Register(ctx, rec)
	for _, line := range resp.Log {
		w.transcripts.Append(key, line)
		w.logger.Info("[ARCA] " + line)
	}

	result := RegistrationResult{
		Status:         resp.Status,
		Log:            resp.Log,
		CAE:            resp.CAE,
		CAEExpiry:      resp.CAEExpiry,
		SequenceNumber: resp.SequenceNumber,
		Err:            resp.Err,
	}

	var marker string
	switch resp.Status {
	case RegistrationOK:
		marker = markerOK
		sess.UpdateRecord(index, func(r *InvoiceRecord) {
			r.CAE = resp.CAE
			r.CAEExpiry = resp.CAEExpiry
		})
	case RegistrationNotConfigured:
		marker = markerNotConfigured
	default:
		marker = markerError
	}
	w.transcripts.Append(key, marker)
	result.Log = append(result.Log, marker)

	w.logger.Info("registration finished",
		"invoiceNumber", rec.InvoiceNumber, "status", resp.Status)
	return result, nil
}
