// Package arca talks to the ARCA/AFIP web services needed to issue
// type-C invoices: WSAA for authentication (token + sign, valid 12h)
// and WSFE for invoicing (CAE + expiration date).
package arca

import (
	"context"
	"crypto/tls"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Service endpoints per environment.
var (
	wsaaEndpoints = map[bool]string{
		true:  "https://wsaahomo.afip.gov.ar/ws/services/LoginCms",
		false: "https://wsaa.afip.gov.ar/ws/services/LoginCms",
	}
	wsfeEndpoints = map[bool]string{
		true:  "https://wswhomo.afip.gov.ar/wsfev1/service.asmx",
		false: "https://servicios1.afip.gov.ar/wsfev1/service.asmx",
	}
)

const (
	// Invoice type 11 = Factura C.
	invoiceTypeC = 11
	// Concept 2 = Services.
	conceptServices = 2
	// Currency PES = Argentine pesos.
	currencyARS = "PES"
)

// newHTTPClient builds the SOAP transport. The staging environment uses
// a self-signed certificate, so verification is skipped there.
func newHTTPClient(homologation bool) *http.Client {
	return &http.Client{
		Timeout: 30 * time.Second,
		Transport: &http.Transport{
			TLSClientConfig: &tls.Config{InsecureSkipVerify: homologation},
		},
	}
}

// soapCall wraps the body in an envelope, POSTs it, and returns the raw
// XML response. HTTP 500 responses still carry a useful faultstring and
// are returned for parsing instead of failing here.
func soapCall(ctx context.Context, httpc *http.Client, endpoint, action, body string) (string, error) {
	envelope := `<?xml version="1.0" encoding="UTF-8"?>` +
		`<soapenv:Envelope ` +
		`xmlns:soapenv="http://schemas.xmlsoap.org/soap/envelope/" ` +
		`xmlns:xsd="http://www.w3.org/2001/XMLSchema" ` +
		`xmlns:xsi="http://www.w3.org/2001/XMLSchema-instance">` +
		`<soapenv:Header/>` +
		`<soapenv:Body>` + body + `</soapenv:Body>` +
		`</soapenv:Envelope>`

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(envelope))
	if err != nil {
		return "", fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "text/xml; charset=utf-8")
	req.Header.Set("SOAPAction", `"`+action+`"`)

	resp, err := httpc.Do(req)
	if err != nil {
		return "", fmt.Errorf("soap call %s: %w", endpoint, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read soap response: %w", err)
	}
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusInternalServerError {
		return "", fmt.Errorf("http %d from %s", resp.StatusCode, endpoint)
	}
	return string(raw), nil
}

// xmlNode is a minimal namespace-agnostic document tree. AFIP mixes
// namespaces freely across services, so lookups match local tag names
// anywhere in the tree.
type xmlNode struct {
	Tag      string
	Text     string
	Children []*xmlNode
}

func parseXML(raw string) (*xmlNode, error) {
	dec := xml.NewDecoder(strings.NewReader(raw))
	root := &xmlNode{}
	stack := []*xmlNode{root}
	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("parse xml: %w", err)
		}
		switch t := tok.(type) {
		case xml.StartElement:
			node := &xmlNode{Tag: t.Name.Local}
			parent := stack[len(stack)-1]
			parent.Children = append(parent.Children, node)
			stack = append(stack, node)
		case xml.EndElement:
			if len(stack) > 1 {
				stack = stack[:len(stack)-1]
			}
		case xml.CharData:
			stack[len(stack)-1].Text += string(t)
		}
	}
	if len(root.Children) == 0 {
		return nil, fmt.Errorf("parse xml: empty document")
	}
	return root, nil
}

// findText returns the trimmed text of the first element with the given
// local tag, depth first, or "".
func (n *xmlNode) findText(localTag string) string {
	if node := n.find(localTag); node != nil {
		return strings.TrimSpace(node.Text)
	}
	return ""
}

func (n *xmlNode) find(localTag string) *xmlNode {
	for _, c := range n.Children {
		if c.Tag == localTag {
			return c
		}
		if found := c.find(localTag); found != nil {
			return found
		}
	}
	return nil
}

// findAll collects every element with the given local tag.
func (n *xmlNode) findAll(localTag string) []*xmlNode {
	var out []*xmlNode
	for _, c := range n.Children {
		if c.Tag == localTag {
			out = append(out, c)
		}
		out = append(out, c.findAll(localTag)...)
	}
	return out
}

// checkFault fails on a SOAP Fault or a global AFIP error.
func checkFault(root *xmlNode) error {
	if fault := root.findText("faultstring"); fault != "" {
		return fmt.Errorf("soap fault: %s", fault)
	}
	errCode := root.findText("ErrCode")
	if errCode != "" && errCode != "0" {
		return fmt.Errorf("afip error %s: %s", errCode, root.findText("ErrMsg"))
	}
	return nil
}

// cleanCUIT strips dashes and whitespace from a CUIT string.
func cleanCUIT(cuit string) string {
	return strings.TrimSpace(strings.ReplaceAll(cuit, "-", ""))
}
