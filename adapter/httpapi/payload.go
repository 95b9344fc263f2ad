package httpapi

import (
	"fmt"
	"io"
	"mime"
	"net/http"

	"github.com/drblury/polyflow/internal/runtime/jsoncodec"
)

const multipartMemory = 8 << 20

type payload struct {
	body  any
	files map[string]any
}

// readPayload decodes JSON, urlencoded and multipart bodies. Form values
// with one entry become strings; uploaded files are *multipart.FileHeader.
func readPayload(r *http.Request) (payload, error) {
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	switch mediaType {
	case "multipart/form-data":
		if err := r.ParseMultipartForm(multipartMemory); err != nil {
			return payload{}, fmt.Errorf("invalid multipart body: %w", err)
		}
		p := payload{body: formValues(r.MultipartForm.Value), files: map[string]any{}}
		for key, headers := range r.MultipartForm.File {
			if len(headers) == 1 {
				p.files[key] = headers[0]
			} else {
				p.files[key] = headers
			}
		}
		return p, nil
	case "application/x-www-form-urlencoded":
		if err := r.ParseForm(); err != nil {
			return payload{}, fmt.Errorf("invalid form body: %w", err)
		}
		return payload{body: formValues(r.PostForm)}, nil
	}

	if r.Body == nil {
		return payload{}, nil
	}
	raw, err := io.ReadAll(r.Body)
	if err != nil {
		return payload{}, err
	}
	if len(raw) == 0 {
		return payload{}, nil
	}
	var body any
	if err := jsoncodec.Unmarshal(raw, &body); err != nil {
		return payload{}, fmt.Errorf("invalid JSON body: %w", err)
	}
	return payload{body: body}, nil
}

func formValues(values map[string][]string) map[string]any {
	out := make(map[string]any, len(values))
	for key, vals := range values {
		switch len(vals) {
		case 0:
		case 1:
			out[key] = vals[0]
		default:
			out[key] = append([]string(nil), vals...)
		}
	}
	return out
}
