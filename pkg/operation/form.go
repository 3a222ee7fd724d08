package operation

import (
	"bytes"
	"fmt"
	"mime/multipart"
	"net/textproto"
	"strings"
)

// Form field names understood by the backend.
const (
	FieldParameters   = "payload.parameters"
	FieldParametersKV = "payload.parameterskv"
	FieldFiles        = "payload.web.files"
)

// File is an attachment sent under FieldFiles.
type File struct {
	Name        string
	ContentType string
	Data        []byte
}

// Form is the multipart body of an invocation. Values are replaced by Set;
// files are replaced as a whole by SetFiles. The form is re-encoded for every
// request, so one Form can back many calls.
type Form struct {
	keys   []string
	values map[string]string
	files  []File
}

// NewForm returns an empty form.
func NewForm() *Form {
	return &Form{values: make(map[string]string)}
}

// Set sets name to value, replacing any previous value.
func (f *Form) Set(name, value string) {
	if _, ok := f.values[name]; !ok {
		f.keys = append(f.keys, name)
	}
	f.values[name] = value
}

// Get returns the value of name.
func (f *Form) Get(name string) (string, bool) {
	v, ok := f.values[name]
	return v, ok
}

// Delete removes name.
func (f *Form) Delete(name string) {
	if _, ok := f.values[name]; !ok {
		return
	}
	delete(f.values, name)
	for i, k := range f.keys {
		if k == name {
			f.keys = append(f.keys[:i], f.keys[i+1:]...)
			break
		}
	}
}

// SetFiles drops the attached files and attaches files.
func (f *Form) SetFiles(files ...File) {
	f.files = append([]File(nil), files...)
}

// Files returns the attached files.
func (f *Form) Files() []File {
	return append([]File(nil), f.files...)
}

var quoteEscaper = strings.NewReplacer("\\", "\\\\", `"`, "\\\"")

// Encode writes the form as multipart/form-data and returns the body and its
// content type.
func (f *Form) Encode() (*bytes.Buffer, string, error) {
	buf := &bytes.Buffer{}
	w := multipart.NewWriter(buf)

	for _, k := range f.keys {
		if err := w.WriteField(k, f.values[k]); err != nil {
			return nil, "", fmt.Errorf("%s - failed to write field %s: %w", logPrefix, k, err)
		}
	}

	for _, file := range f.files {
		h := make(textproto.MIMEHeader)
		h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="%s"; filename="%s"`,
			quoteEscaper.Replace(FieldFiles), quoteEscaper.Replace(file.Name)))
		ct := file.ContentType
		if ct == "" {
			ct = "application/octet-stream"
		}
		h.Set("Content-Type", ct)
		part, err := w.CreatePart(h)
		if err != nil {
			return nil, "", fmt.Errorf("%s - failed to attach %s: %w", logPrefix, file.Name, err)
		}
		if _, err := part.Write(file.Data); err != nil {
			return nil, "", fmt.Errorf("%s - failed to attach %s: %w", logPrefix, file.Name, err)
		}
	}

	if err := w.Close(); err != nil {
		return nil, "", fmt.Errorf("%s - failed to close form: %w", logPrefix, err)
	}
	return buf, w.FormDataContentType(), nil
}
