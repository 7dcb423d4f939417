package billing

import (
	"bytes"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/xuri/excelize/v2"
)

func newTestService(t *testing.T, render RenderClient, authority AuthorityClient, rateLimit int) *Service {
	t.Helper()
	if render == nil {
		render = &fakeRender{}
	}
	if authority == nil {
		authority = &fakeAuthority{resp: AuthorityResponse{Status: RegistrationOK, Log: []string{"ok"}, CAE: "123"}}
	}
	cfg := Config{
		IssuerLegalName:       "Estudio Demo",
		IssuerVATCode:         "RESP_MONOTR",
		RegistrationRateLimit: rateLimit,
	}
	sessions := NewSessionStore()
	orch := NewOrchestrator(render, nil)
	workflow := NewRegistrationWorkflow(authority, nil, nil)
	return NewService(cfg, sessions, orch, workflow, nil)
}

func workbookUpload(t *testing.T, rows [][]any) (*bytes.Buffer, string) {
	t.Helper()
	f := excelize.NewFile()
	defer f.Close()
	sheet := f.GetSheetName(0)
	for i, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		if err != nil {
			t.Fatalf("cell name: %v", err)
		}
		if err := f.SetSheetRow(sheet, cell, &row); err != nil {
			t.Fatalf("set row: %v", err)
		}
	}
	wb, err := f.WriteToBuffer()
	if err != nil {
		t.Fatalf("serialize workbook: %v", err)
	}

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	fw, err := mw.CreateFormFile("file", "facturas.xlsx")
	if err != nil {
		t.Fatalf("form file: %v", err)
	}
	if _, err := fw.Write(wb.Bytes()); err != nil {
		t.Fatalf("write form file: %v", err)
	}
	mw.Close()
	return &body, mw.FormDataContentType()
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode response %q: %v", rec.Body.String(), err)
	}
	return out
}

func TestParseUpload(t *testing.T) {
	svc := newTestService(t, nil, nil, 0)
	body, contentType := workbookUpload(t, [][]any{
		{"16/02/2026", "33-54445107-9", "Acme S.A.", "", "", "Servicios", "100", "C00002-00000001", "", ""},
		{"17/02/2026", "20-11111111-1", "Sur SRL", "", "", "Servicios", "0", "C00002-00000002", "", ""},
	})

	req := httptest.NewRequest(http.MethodPost, "/parse", body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()
	svc.Routes().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	resp := decodeBody(t, rec)
	if resp["sessionId"] == "" || resp["sessionId"] == nil {
		t.Fatal("missing sessionId")
	}
	if resp["total"].(float64) != 2 || resp["eligible"].(float64) != 1 || resp["skipped"].(float64) != 1 {
		t.Fatalf("breakdown = total %v eligible %v skipped %v", resp["total"], resp["eligible"], resp["skipped"])
	}
}

func TestParseUpload_MissingFile(t *testing.T) {
	svc := newTestService(t, nil, nil, 0)
	req := httptest.NewRequest(http.MethodPost, "/parse", strings.NewReader("not a form"))
	rec := httptest.NewRecorder()
	svc.Routes().ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", rec.Code)
	}
	if resp := decodeBody(t, rec); resp["code"] != "BAD_UPLOAD" {
		t.Fatalf("code = %v", resp["code"])
	}
}

func TestGenerateInvoice_PDFAndFallback(t *testing.T) {
	render := &fakeRender{}
	svc := newTestService(t, render, nil, 0)
	sess := svc.sessions.Create(batchRecords())

	req := httptest.NewRequest(http.MethodPost, "/sessions/"+sess.ID+"/invoices/1/pdf", strings.NewReader(`{"copyLabel":"DUPLICADO"}`))
	rec := httptest.NewRecorder()
	svc.Routes().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/pdf" {
		t.Fatalf("content type = %q", ct)
	}
	if cd := rec.Header().Get("Content-Disposition"); !strings.Contains(cd, "factura_C00002-00000102.pdf") {
		t.Fatalf("disposition = %q", cd)
	}
	if render.requests[0].CopyLabel != "DUPLICADO" {
		t.Fatalf("copy label = %q", render.requests[0].CopyLabel)
	}

	render.respond = func(RenderRequest) (RenderResult, error) {
		return RenderResult{Kind: RenderFallback, Markup: "<html>factura</html>"}, nil
	}
	req = httptest.NewRequest(http.MethodPost, "/sessions/"+sess.ID+"/invoices/1/pdf", nil)
	rec = httptest.NewRecorder()
	svc.Routes().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("fallback status = %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/html") {
		t.Fatalf("fallback content type = %q", ct)
	}
	if rec.Header().Get("X-Pdf-Backend") != "none" {
		t.Fatal("fallback must declare the missing pdf backend")
	}
}

func TestGenerateInvoice_UnknownRow(t *testing.T) {
	svc := newTestService(t, nil, nil, 0)
	sess := svc.sessions.Create(batchRecords())

	req := httptest.NewRequest(http.MethodPost, "/sessions/"+sess.ID+"/invoices/42/pdf", nil)
	rec := httptest.NewRecorder()
	svc.Routes().ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d", rec.Code)
	}
	if resp := decodeBody(t, rec); resp["code"] != "ROW_NOT_FOUND" {
		t.Fatalf("code = %v", resp["code"])
	}
}

func TestGenerateAll(t *testing.T) {
	svc := newTestService(t, nil, nil, 0)
	sess := svc.sessions.Create(batchRecords())

	req := httptest.NewRequest(http.MethodPost, "/sessions/"+sess.ID+"/generate", nil)
	rec := httptest.NewRecorder()
	svc.Routes().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	var result BatchResult
	if err := json.Unmarshal(rec.Body.Bytes(), &result); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if result.Generated != 3 || len(result.Items) != 3 {
		t.Fatalf("result = %+v", result)
	}
}

func TestGenerateAll_NoEligibleRows(t *testing.T) {
	svc := newTestService(t, nil, nil, 0)
	recs := batchRecords()
	for i := range recs {
		recs[i].InvoiceNumber = "EMITIR"
	}
	sess := svc.sessions.Create(recs)

	req := httptest.NewRequest(http.MethodPost, "/sessions/"+sess.ID+"/generate", nil)
	rec := httptest.NewRecorder()
	svc.Routes().ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", rec.Code)
	}
	resp := decodeBody(t, rec)
	if resp["code"] != "NO_ELIGIBLE_ROWS" {
		t.Fatalf("code = %v", resp["code"])
	}
	if detail := resp["skippedDetail"].([]any); len(detail) != 3 {
		t.Fatalf("skippedDetail = %v", detail)
	}
}

func TestDownloadArchive(t *testing.T) {
	svc := newTestService(t, nil, nil, 0)
	sess := svc.sessions.Create(batchRecords())

	req := httptest.NewRequest(http.MethodGet, "/sessions/"+sess.ID+"/archive", nil)
	rec := httptest.NewRecorder()
	svc.Routes().ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("empty store status = %d", rec.Code)
	}
	if resp := decodeBody(t, rec); resp["code"] != "NO_ARTIFACTS" {
		t.Fatalf("code = %v", resp["code"])
	}

	sess.PutArtifact(Artifact{InvoiceNumber: "C00002-00000101", Content: []byte("pdf"), Filename: "factura_C00002-00000101.pdf"})
	rec = httptest.NewRecorder()
	svc.Routes().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/sessions/"+sess.ID+"/archive", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/zip" {
		t.Fatalf("content type = %q", ct)
	}
}

func TestRegisterInvoice(t *testing.T) {
	authority := &fakeAuthority{resp: AuthorityResponse{
		Status:    RegistrationOK,
		Log:       []string{"token ok", "CAE otorgado"},
		CAE:       "75123456789012",
		CAEExpiry: "15/03/2026",
	}}
	svc := newTestService(t, nil, authority, 0)
	sess := svc.sessions.Create(batchRecords())

	req := httptest.NewRequest(http.MethodPost, "/sessions/"+sess.ID+"/invoices/0/cae", nil)
	rec := httptest.NewRecorder()
	svc.Routes().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	resp := decodeBody(t, rec)
	if resp["status"] != "ok" || resp["cae"] != "75123456789012" {
		t.Fatalf("response = %v", resp)
	}
	record, _ := sess.Record(0)
	if record.CAE != "75123456789012" {
		t.Fatalf("record not updated: %+v", record)
	}
}

func TestRegisterInvoice_FailureTravelsAsData(t *testing.T) {
	authority := &fakeAuthority{resp: AuthorityResponse{
		Status: RegistrationError,
		Log:    []string{"WSFE rechazo"},
		Err:    "Resultado: R",
	}}
	svc := newTestService(t, nil, authority, 0)
	sess := svc.sessions.Create(batchRecords())

	req := httptest.NewRequest(http.MethodPost, "/sessions/"+sess.ID+"/invoices/0/cae", nil)
	rec := httptest.NewRecorder()
	svc.Routes().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("failed attempt must still be 200, got %d", rec.Code)
	}
	resp := decodeBody(t, rec)
	if resp["status"] != "error" || resp["error"] != "Resultado: R" {
		t.Fatalf("response = %v", resp)
	}
}

func TestRegisterInvoice_RateLimited(t *testing.T) {
	svc := newTestService(t, nil, nil, 1)
	sess := svc.sessions.Create(batchRecords())

	first := httptest.NewRecorder()
	svc.Routes().ServeHTTP(first, httptest.NewRequest(http.MethodPost, "/sessions/"+sess.ID+"/invoices/0/cae", nil))
	if first.Code != http.StatusOK {
		t.Fatalf("first attempt status = %d", first.Code)
	}

	second := httptest.NewRecorder()
	svc.Routes().ServeHTTP(second, httptest.NewRequest(http.MethodPost, "/sessions/"+sess.ID+"/invoices/1/cae", nil))
	if second.Code != http.StatusTooManyRequests {
		t.Fatalf("second attempt status = %d", second.Code)
	}
	if second.Header().Get("Retry-After") == "" {
		t.Fatal("missing Retry-After header")
	}
}

func TestSessionNotFound(t *testing.T) {
	svc := newTestService(t, nil, nil, 0)
	req := httptest.NewRequest(http.MethodPost, "/sessions/missing/generate", nil)
	rec := httptest.NewRecorder()
	svc.Routes().ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d", rec.Code)
	}
	if resp := decodeBody(t, rec); resp["code"] != "SESSION_NOT_FOUND" {
		t.Fatalf("code = %v", resp["code"])
	}
}

func TestBadRowIndex(t *testing.T) {
	svc := newTestService(t, nil, nil, 0)
	sess := svc.sessions.Create(batchRecords())

	req := httptest.NewRequest(http.MethodPost, "/sessions/"+sess.ID+"/invoices/abc/pdf", nil)
	rec := httptest.NewRecorder()
	svc.Routes().ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", rec.Code)
	}
	if resp := decodeBody(t, rec); resp["code"] != "BAD_INDEX" {
		t.Fatalf("code = %v", resp["code"])
	}
}

func TestIssuerSettings(t *testing.T) {
	svc := newTestService(t, nil, nil, 0)
	req := httptest.NewRequest(http.MethodGet, "/issuer", nil)
	rec := httptest.NewRecorder()
	svc.Routes().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	resp := decodeBody(t, rec)
	issuer := resp["issuer"].(map[string]any)
	if issuer["legalName"] != "Estudio Demo" || issuer["vatCondition"] != "Responsable Monotributo" {
		t.Fatalf("issuer = %v", issuer)
	}
}

func TestDownloadTemplate(t *testing.T) {
	svc := newTestService(t, nil, nil, 0)
	req := httptest.NewRequest(http.MethodGet, "/template", nil)
	rec := httptest.NewRecorder()
	svc.Routes().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	f, err := excelize.OpenReader(bytes.NewReader(rec.Body.Bytes()))
	if err != nil {
		t.Fatalf("template is not a workbook: %v", err)
	}
	defer f.Close()
	rows, err := f.GetRows(f.GetSheetName(0))
	if err != nil {
		t.Fatalf("read template: %v", err)
	}
	if len(rows) == 0 {
		t.Fatal("template has no sample rows")
	}
}

func TestRateLimiter_WindowReset(t *testing.T) {
	rl := NewRateLimiter(2, 50*time.Millisecond)
	if ok, _ := rl.Allow("pv:2"); !ok {
		t.Fatal("first call must pass")
	}
	if ok, _ := rl.Allow("pv:2"); !ok {
		t.Fatal("second call must pass")
	}
	if ok, retryAfter := rl.Allow("pv:2"); ok || retryAfter <= 0 {
		t.Fatal("third call must be limited with a positive retry-after")
	}
	if ok, _ := rl.Allow("pv:3"); !ok {
		t.Fatal("limits are per key")
	}
	time.Sleep(60 * time.Millisecond)
	if ok, _ := rl.Allow("pv:2"); !ok {
		t.Fatal("window must reset")
	}
}
