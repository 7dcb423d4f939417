package arca

import (
	"context"
	"encoding/base64"
	"fmt"
	"html"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"time"
)

// Token is a WSAA authentication result, valid for roughly 12 hours.
type Token struct {
	Token      string `json:"token"`
	Sign       string `json:"sign"`
	Expiration string `json:"expiration"`
}

// buildTRA assembles the access ticket request. Generation time is
// backdated 10 minutes to absorb clock skew against AFIP.
func buildTRA(now time.Time) string {
	now = now.UTC()
	gen := now.Add(-10 * time.Minute).Format("2006-01-02T15:04:05+00:00")
	exp := now.Add(10 * time.Hour).Format("2006-01-02T15:04:05+00:00")
	uid := fmt.Sprintf("%d", now.Unix())
	return `<?xml version="1.0" encoding="UTF-8"?>` +
		`<loginTicketRequest version="1.0">` +
		`<header>` +
		`<uniqueId>` + uid + `</uniqueId>` +
		`<generationTime>` + gen + `</generationTime>` +
		`<expirationTime>` + exp + `</expirationTime>` +
		`</header>` +
		`<service>wsfe</service>` +
		`</loginTicketRequest>`
}

// signTRA signs the ticket with the holder's certificate via openssl,
// producing the base64 CMS/PKCS7 blob WSAA expects.
func signTRA(ctx context.Context, tra, certPath, keyPath string) (string, error) {
	tmp, err := os.MkdirTemp("", "arca-tra-*")
	if err != nil {
		return "", fmt.Errorf("create temp dir: %w", err)
	}
	defer os.RemoveAll(tmp)

	traFile := filepath.Join(tmp, "tra.xml")
	cmsFile := filepath.Join(tmp, "tra.cms")
	if err := os.WriteFile(traFile, []byte(tra), 0o600); err != nil {
		return "", fmt.Errorf("write tra: %w", err)
	}

	cmd := exec.CommandContext(ctx, "openssl", "cms", "-sign",
		"-in", traFile,
		"-signer", certPath,
		"-inkey", keyPath,
		"-nodetach",
		"-outform", "DER",
		"-out", cmsFile,
	)
	if out, err := cmd.CombinedOutput(); err != nil {
		return "", fmt.Errorf("openssl cms sign failed: %w: %s", err, out)
	}

	cms, err := os.ReadFile(cmsFile)
	if err != nil {
		return "", fmt.Errorf("read cms: %w", err)
	}
	return base64.StdEncoding.EncodeToString(cms), nil
}

// requestToken authenticates against WSAA and returns a fresh token.
// Use Client.Token for cached access.
func requestToken(ctx context.Context, httpc *http.Client, endpoint, certPath, keyPath string) (Token, error) {
	cms64, err := signTRA(ctx, buildTRA(time.Now()), certPath, keyPath)
	if err != nil {
		return Token{}, err
	}

	body := `<loginCms xmlns="http://wsaa.view.sua.dvadac.desein.afip.gov">` +
		`<in0>` + cms64 + `</in0>` +
		`</loginCms>`
	raw, err := soapCall(ctx, httpc, endpoint, "", body)
	if err != nil {
		return Token{}, err
	}
	root, err := parseXML(raw)
	if err != nil {
		return Token{}, err
	}
	if err := checkFault(root); err != nil {
		return Token{}, err
	}
	return parseLoginResponse(root, raw)
}

// parseLoginResponse extracts token/sign/expiration. WSAA returns the
// inner ticket HTML-escaped inside <loginCmsReturn>; it must be
// unescaped and parsed as a second document. Some environments skip the
// escaping, so the outer tree is the fallback.
func parseLoginResponse(root *xmlNode, raw string) (Token, error) {
	var token, sign, expiration string
	if inner := root.findText("loginCmsReturn"); inner != "" {
		if innerRoot, err := parseXML(html.UnescapeString(inner)); err == nil {
			token = innerRoot.findText("token")
			sign = innerRoot.findText("sign")
			expiration = innerRoot.findText("expirationTime")
		}
	}
	if token == "" {
		token = root.findText("token")
		sign = root.findText("sign")
		expiration = root.findText("expirationTime")
	}
	if token == "" || sign == "" {
		snippet := raw
		if len(snippet) > 600 {
			snippet = snippet[:600]
		}
		return Token{}, fmt.Errorf("wsaa: token/sign not found in response: %s", snippet)
	}
	return Token{Token: token, Sign: sign, Expiration: expiration}, nil
}
