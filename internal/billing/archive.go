package billing

import (
	"archive/zip"
	"bytes"
	"errors"
	"fmt"
)

// ErrNoArtifacts is reported, not thrown: requesting an archive before
// any document was generated is operator input, not a server fault.
var ErrNoArtifacts = errors.New("no generated documents to bundle")

// BuildArchive bundles every artifact currently in the session's store
// into one deflate-compressed zip, one entry per document. It covers
// whatever has accumulated so far, not a single batch.
func BuildArchive(sess *Session) ([]byte, error) {
	artifacts := sess.Artifacts()
	if len(artifacts) == 0 {
		return nil, ErrNoArtifacts
	}

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for _, a := range artifacts {
		w, err := zw.Create(a.Filename)
		if err != nil {
			return nil, fmt.Errorf("create archive entry %s: %w", a.Filename, err)
		}
		if _, err := w.Write(a.Content); err != nil {
			return nil, fmt.Errorf("write archive entry %s: %w", a.Filename, err)
		}
	}
	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("finalize archive: %w", err)
	}
	return buf.Bytes(), nil
}
