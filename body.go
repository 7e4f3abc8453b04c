package ahttp

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/textproto"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// BodyKind identifies which body representation a request carries.
// Exactly one is active per request.
type BodyKind int

const (
	BodyNone BodyKind = iota
	BodyRaw
	BodyForm
	BodyMultipart
	BodyStream
	BodyFile
)

// Body is the resolved request body. Construct one through the body
// request options; the zero value means no body.
type Body struct {
	kind        BodyKind
	contentType string
	raw         []byte
	form        []queryParam
	parts       []Part
	reader      io.Reader
	filePath    string
}

// Kind returns the active body representation.
func (b *Body) Kind() BodyKind { return b.kind }

// PartKind identifies a multipart part's payload source.
type PartKind int

const (
	PartString PartKind = iota
	PartBytes
	PartFile
	PartReader
)

// Part is one part of a multipart body.
type Part struct {
	Kind        PartKind
	Name        string
	Value       string    // PartString
	Data        []byte    // PartBytes
	FilePath    string    // PartFile
	Reader      io.Reader // PartReader
	ContentType string
	Charset     string
	Filename    string
}

// StringPart builds a text part.
func StringPart(name, value string) Part {
	return Part{Kind: PartString, Name: name, Value: value}
}

// BytesPart builds a binary part.
func BytesPart(name string, data []byte) Part {
	return Part{Kind: PartBytes, Name: name, Data: data}
}

// FilePart builds a part streamed from a file on disk. The filename
// defaults to the file's base name.
func FilePart(name, path string) Part {
	return Part{Kind: PartFile, Name: name, FilePath: path, Filename: filepath.Base(path)}
}

// ReaderPart builds a part streamed from r.
func ReaderPart(name string, r io.Reader) Part {
	return Part{Kind: PartReader, Name: name, Reader: r}
}

// WithBody sets a raw request body. contentType may be empty, in which
// case none is inferred and the server sees no Content-Type header.
func WithBody(data []byte, contentType string) RequestOption {
	return func(o *requestOpts) error {
		o.bodyOpts++
		o.body = &Body{kind: BodyRaw, raw: data, contentType: contentType}
		return nil
	}
}

// WithBodyString sets a raw string body.
func WithBodyString(s, contentType string) RequestOption {
	return WithBody([]byte(s), contentType)
}

// WithForm sets a URL-encoded form body. Field order is preserved.
func WithForm(fields ...FormField) RequestOption {
	return func(o *requestOpts) error {
		o.bodyOpts++
		b := &Body{kind: BodyForm, contentType: "application/x-www-form-urlencoded"}
		for _, f := range fields {
			if f.Name == "" {
				return errors.New("form field name must not be empty")
			}
			b.form = append(b.form, queryParam{key: f.Name, value: f.Value})
		}
		o.body = b
		return nil
	}
}

// FormField is one name/value pair of a URL-encoded form body.
type FormField struct {
	Name  string
	Value string
}

// WithMultipart sets a multipart/form-data body built from the given parts.
func WithMultipart(parts ...Part) RequestOption {
	return func(o *requestOpts) error {
		o.bodyOpts++
		if len(parts) == 0 {
			return errors.New("multipart body requires at least one part")
		}
		for _, p := range parts {
			if p.Name == "" {
				return errors.New("multipart part name must not be empty")
			}
			if p.Kind == PartFile && p.FilePath == "" {
				return fmt.Errorf("multipart part %q: file path must not be empty", p.Name)
			}
			if p.Kind == PartReader && p.Reader == nil {
				return fmt.Errorf("multipart part %q: reader must not be nil", p.Name)
			}
		}
		o.body = &Body{kind: BodyMultipart, parts: parts}
		return nil
	}
}

// WithBodyReader streams the request body from r.
func WithBodyReader(r io.Reader, contentType string) RequestOption {
	return func(o *requestOpts) error {
		o.bodyOpts++
		if r == nil {
			return errors.New("body reader must not be nil")
		}
		o.body = &Body{kind: BodyStream, reader: r, contentType: contentType}
		return nil
	}
}

// WithBodyFile streams the request body from the file at path.
func WithBodyFile(path, contentType string) RequestOption {
	return func(o *requestOpts) error {
		o.bodyOpts++
		if path == "" {
			return errors.New("body file path must not be empty")
		}
		o.body = &Body{kind: BodyFile, filePath: path, contentType: contentType}
		return nil
	}
}

// materialize renders the body into a reader plus its Content-Type. Called
// once by the engine when the request goes on the wire. File handles opened
// here are closed by the http machinery via the returned ReadCloser.
func (b *Body) materialize() (io.ReadCloser, string, error) {
	switch b.kind {
	case BodyNone:
		return nil, "", nil

	case BodyRaw:
		return io.NopCloser(bytes.NewReader(b.raw)), b.contentType, nil

	case BodyForm:
		var sb strings.Builder
		for i, f := range b.form {
			if i > 0 {
				sb.WriteByte('&')
			}
			sb.WriteString(url.QueryEscape(f.key))
			sb.WriteByte('=')
			sb.WriteString(url.QueryEscape(f.value))
		}
		return io.NopCloser(strings.NewReader(sb.String())), b.contentType, nil

	case BodyMultipart:
		return b.materializeMultipart()

	case BodyStream:
		if rc, ok := b.reader.(io.ReadCloser); ok {
			return rc, b.contentType, nil
		}
		return io.NopCloser(b.reader), b.contentType, nil

	case BodyFile:
		f, err := os.Open(b.filePath)
		if err != nil {
			return nil, "", fmt.Errorf("opening body file: %w", err)
		}
		return f, b.contentType, nil
	}

	return nil, "", fmt.Errorf("unknown body kind %d", b.kind)
}

// materializeMultipart buffers the encoded multipart payload. The boundary
// is derived from a v4 UUID so it cannot collide with part content in
// practice.
func (b *Body) materializeMultipart() (io.ReadCloser, string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	if err := w.SetBoundary("ahttp-" + uuid.NewString()); err != nil {
		return nil, "", fmt.Errorf("setting multipart boundary: %w", err)
	}

	for _, p := range b.parts {
		pw, err := w.CreatePart(partHeader(p))
		if err != nil {
			return nil, "", fmt.Errorf("creating part %q: %w", p.Name, err)
		}

		switch p.Kind {
		case PartString:
			_, err = io.WriteString(pw, p.Value)
		case PartBytes:
			_, err = pw.Write(p.Data)
		case PartFile:
			var f *os.File
			if f, err = os.Open(p.FilePath); err == nil {
				_, err = io.Copy(pw, f)
				f.Close()
			}
		case PartReader:
			_, err = io.Copy(pw, p.Reader)
		}
		if err != nil {
			return nil, "", fmt.Errorf("writing part %q: %w", p.Name, err)
		}
	}

	if err := w.Close(); err != nil {
		return nil, "", fmt.Errorf("closing multipart writer: %w", err)
	}

	return io.NopCloser(&buf), w.FormDataContentType(), nil
}

func partHeader(p Part) textproto.MIMEHeader {
	h := textproto.MIMEHeader{}

	disposition := fmt.Sprintf("form-data; name=%q", p.Name)
	filename := p.Filename
	if filename == "" && p.Kind == PartFile {
		filename = filepath.Base(p.FilePath)
	}
	if filename != "" {
		disposition += fmt.Sprintf("; filename=%q", filename)
	}
	h.Set("Content-Disposition", disposition)

	contentType := p.ContentType
	if contentType == "" {
		switch p.Kind {
		case PartString:
			contentType = "text/plain"
		default:
			contentType = "application/octet-stream"
		}
	}
	if p.Charset != "" {
		contentType += "; charset=" + p.Charset
	}
	h.Set("Content-Type", contentType)

	return h
}
