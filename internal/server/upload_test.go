package server

import (
	"bytes"
	"mime/multipart"
	"testing"
)

// newMultipartDump writes a single-file multipart body into buf and
// returns the request content type.
func newMultipartDump(t *testing.T, buf *bytes.Buffer, name string, data []byte) string {
	t.Helper()
	mw := multipart.NewWriter(buf)
	part, err := mw.CreateFormFile("file", name)
	if err != nil {
		t.Fatalf("CreateFormFile: %v", err)
	}
	if _, err := part.Write(data); err != nil {
		t.Fatalf("write part: %v", err)
	}
	if err := mw.Close(); err != nil {
		t.Fatalf("close multipart: %v", err)
	}
	return mw.FormDataContentType()
}
