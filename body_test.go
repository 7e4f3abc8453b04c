package ahttp

import (
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func applyBodyOption(t *testing.T, opt RequestOption) *Body {
	t.Helper()
	var o requestOpts
	if err := opt(&o); err != nil {
		t.Fatalf("applying body option: %v", err)
	}
	return o.body
}

func TestBody_FormEncodingPreservesOrder(t *testing.T) {
	b := applyBodyOption(t, WithForm(
		FormField{Name: "z", Value: "last? no, first"},
		FormField{Name: "a", Value: "second"},
	))

	rc, contentType, err := b.materialize()
	if err != nil {
		t.Fatalf("materializing: %v", err)
	}
	data, _ := io.ReadAll(rc)

	if contentType != "application/x-www-form-urlencoded" {
		t.Errorf("exp form content type, got %q", contentType)
	}
	exp := "z=last%3F+no%2C+first&a=second"
	if got := string(data); got != exp {
		t.Errorf("exp %q, got %q", exp, got)
	}
}

func TestBody_MultipartMaterialize(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data.bin")
	if err := os.WriteFile(path, []byte("file-bytes"), 0o600); err != nil {
		t.Fatalf("writing temp file: %v", err)
	}

	b := applyBodyOption(t, WithMultipart(
		StringPart("n", "v"),
		Part{Kind: PartString, Name: "greeting", Value: "hëllo", Charset: "utf-8"},
		FilePart("f", path),
		BytesPart("raw", []byte{0x00, 0x01}),
	))

	rc, contentType, err := b.materialize()
	if err != nil {
		t.Fatalf("materializing: %v", err)
	}
	data, _ := io.ReadAll(rc)
	payload := string(data)

	if !strings.HasPrefix(contentType, "multipart/form-data; boundary=ahttp-") {
		t.Errorf("exp multipart content type with uuid boundary, got %q", contentType)
	}

	for _, want := range []string{
		`name="n"`,
		"v",
		`name="greeting"`,
		"text/plain; charset=utf-8",
		`name="f"`,
		`filename="data.bin"`,
		"file-bytes",
		`name="raw"`,
		"application/octet-stream",
	} {
		if !strings.Contains(payload, want) {
			t.Errorf("multipart payload missing %q", want)
		}
	}

	// Distinct requests get distinct boundaries.
	_, contentType2, err := b.materialize()
	if err != nil {
		t.Fatalf("second materialize: %v", err)
	}
	if contentType == contentType2 {
		t.Error("exp a fresh boundary per materialization")
	}
}

func TestBody_MultipartValidation(t *testing.T) {
	testCases := []struct {
		name   string
		parts  []Part
		expMsg string
	}{
		{
			name:   "no parts",
			parts:  nil,
			expMsg: "at least one part",
		},
		{
			name:   "unnamed part",
			parts:  []Part{{Kind: PartString, Value: "v"}},
			expMsg: "name must not be empty",
		},
		{
			name:   "file part without path",
			parts:  []Part{{Kind: PartFile, Name: "f"}},
			expMsg: "file path must not be empty",
		},
		{
			name:   "reader part without reader",
			parts:  []Part{{Kind: PartReader, Name: "r"}},
			expMsg: "reader must not be nil",
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			var o requestOpts
			err := WithMultipart(tc.parts...)(&o)
			if err == nil || !strings.Contains(err.Error(), tc.expMsg) {
				t.Errorf("exp error containing %q, got: %v", tc.expMsg, err)
			}
		})
	}
}

func TestBody_RawAndStream(t *testing.T) {
	raw := applyBodyOption(t, WithBodyString("payload", "text/plain"))
	rc, ct, err := raw.materialize()
	if err != nil {
		t.Fatalf("materializing raw: %v", err)
	}
	data, _ := io.ReadAll(rc)
	if string(data) != "payload" || ct != "text/plain" {
		t.Errorf("exp raw payload, got %q (%q)", data, ct)
	}

	stream := applyBodyOption(t, WithBodyReader(strings.NewReader("streamed"), "application/octet-stream"))
	rc, _, err = stream.materialize()
	if err != nil {
		t.Fatalf("materializing stream: %v", err)
	}
	data, _ = io.ReadAll(rc)
	if string(data) != "streamed" {
		t.Errorf("exp streamed payload, got %q", data)
	}

	none := &Body{kind: BodyNone}
	rc, ct, err = none.materialize()
	if err != nil || rc != nil || ct != "" {
		t.Errorf("exp empty materialization for no body, got %v %q %v", rc, ct, err)
	}
}
