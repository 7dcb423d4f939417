package billing

import (
	"archive/zip"
	"bytes"
	"errors"
	"io"
	"testing"
)

func TestBuildArchive_Empty(t *testing.T) {
	sess := NewSessionStore().Create(nil)
	if _, err := BuildArchive(sess); !errors.Is(err, ErrNoArtifacts) {
		t.Fatalf("expected ErrNoArtifacts, got %v", err)
	}
}

func TestBuildArchive_KeepsInsertionOrder(t *testing.T) {
	sess := NewSessionStore().Create(nil)
	sess.PutArtifact(Artifact{InvoiceNumber: "C00002-00000102", Content: []byte("second"), Filename: "factura_C00002-00000102.pdf"})
	sess.PutArtifact(Artifact{InvoiceNumber: "C00002-00000101", Content: []byte("first"), Filename: "factura_C00002-00000101.pdf"})
	// Regenerating an existing document must not move its entry.
	sess.PutArtifact(Artifact{InvoiceNumber: "C00002-00000102", Content: []byte("second v2"), Filename: "factura_C00002-00000102.pdf"})

	data, err := BuildArchive(sess)
	if err != nil {
		t.Fatalf("BuildArchive: %v", err)
	}
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		t.Fatalf("zip reader: %v", err)
	}
	if len(zr.File) != 2 {
		t.Fatalf("entries = %d, want 2", len(zr.File))
	}
	if zr.File[0].Name != "factura_C00002-00000102.pdf" || zr.File[1].Name != "factura_C00002-00000101.pdf" {
		t.Fatalf("entry order = [%s %s]", zr.File[0].Name, zr.File[1].Name)
	}

	rc, err := zr.File[0].Open()
	if err != nil {
		t.Fatalf("open entry: %v", err)
	}
	content, err := io.ReadAll(rc)
	rc.Close()
	if err != nil {
		t.Fatalf("read entry: %v", err)
	}
	if string(content) != "second v2" {
		t.Fatalf("entry content = %q, want latest regeneration", content)
	}
}
