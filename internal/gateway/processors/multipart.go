package processors

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strings"

	"github.com/quirck3n/refugio-gateway/internal/gateway/errs"
	"github.com/quirck3n/refugio-gateway/internal/gateway/models"
)

// MaxUploadSize bounds every single part accepted for a multipart forward.
const MaxUploadSize = 10 << 20

// IsMultipart reports whether r carries a multipart/form-data body.
func IsMultipart(r *http.Request) bool {
	return strings.HasPrefix(strings.ToLower(r.Header.Get("Content-Type")), "multipart/form-data")
}

// ReadMultipart reads r's form in arrival order. Text fields are kept; the
// part named fileField becomes the file. Other file parts are dropped.
func ReadMultipart(r *http.Request, fileField string) ([]models.FormField, *models.FilePart, error) {
	reader, err := r.MultipartReader()
	if err != nil {
		return nil, nil, bodyError(err, "invalid multipart body")
	}

	var (
		fields []models.FormField
		file   *models.FilePart
	)
	for {
		part, err := reader.NextPart()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, nil, bodyError(err, "invalid multipart body")
		}

		name := part.FormName()
		if part.FileName() == "" {
			value, err := readPart(part)
			if err != nil {
				return nil, nil, err
			}
			fields = append(fields, models.FormField{
				Name:   name,
				Value:  string(value),
				Header: cloneMIMEHeader(part.Header),
			})
			continue
		}

		if name != fileField || file != nil {
			part.Close()
			continue
		}

		content, err := readPart(part)
		if err != nil {
			return nil, nil, err
		}

		contentType := part.Header.Get("Content-Type")
		if contentType == "" {
			contentType = "application/octet-stream"
		}
		file = &models.FilePart{
			FieldName:   name,
			FileName:    part.FileName(),
			ContentType: contentType,
			Content:     content,
		}
	}
	return fields, file, nil
}

// readPart reads one part and closes it. A part longer than MaxUploadSize is
// rejected rather than truncated.
func readPart(part *multipart.Part) ([]byte, error) {
	defer part.Close()

	content, err := io.ReadAll(io.LimitReader(part, MaxUploadSize+1))
	if err != nil {
		return nil, bodyError(err, "failed to read part "+part.FormName())
	}
	if len(content) > MaxUploadSize {
		return nil, errs.New(errs.BadRequest, fmt.Sprintf("part %s exceeds %d bytes", part.FormName(), MaxUploadSize))
	}
	return content, nil
}

func cloneMIMEHeader(h textproto.MIMEHeader) textproto.MIMEHeader {
	out := make(textproto.MIMEHeader, len(h))
	for k, v := range h {
		out[k] = append([]string(nil), v...)
	}
	return out
}

func encodeMultipart(fields []models.FormField, file *models.FilePart) ([]byte, string, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)

	for _, f := range fields {
		if f.Header == nil {
			if err := mw.WriteField(f.Name, f.Value); err != nil {
				return nil, "", err
			}
			continue
		}
		pw, err := mw.CreatePart(f.Header)
		if err != nil {
			return nil, "", err
		}
		if _, err := io.WriteString(pw, f.Value); err != nil {
			return nil, "", err
		}
	}

	if file != nil {
		h := make(textproto.MIMEHeader)
		h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="%s"; filename="%s"`,
			escapeQuotes(file.FieldName), escapeQuotes(file.FileName)))
		h.Set("Content-Type", file.ContentType)
		pw, err := mw.CreatePart(h)
		if err != nil {
			return nil, "", err
		}
		if _, err := pw.Write(file.Content); err != nil {
			return nil, "", err
		}
	}

	if err := mw.Close(); err != nil {
		return nil, "", err
	}
	return buf.Bytes(), mw.FormDataContentType(), nil
}

// bodyError classifies a failure while reading the inbound body. Hitting the
// body size cap is a 413; anything else is a malformed request.
func bodyError(err error, message string) *errs.Error {
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		return errs.Wrap(errs.PayloadTooLarge, fmt.Sprintf("request body exceeds %d bytes", tooLarge.Limit), err)
	}
	return errs.Wrap(errs.BadRequest, message, err)
}

var quoteEscaper = strings.NewReplacer("\\", "\\\\", `"`, "\\\"")

func escapeQuotes(s string) string {
	return quoteEscaper.Replace(s)
}
