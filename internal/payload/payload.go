package payload

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"strings"

	"github.com/ledgerbeam/coamgr/internal/imports"
)

// ErrBadPayload marks request bodies that cannot be decoded into an import
// payload at all. Individual malformed multipart parts are skipped instead.
var ErrBadPayload = errors.New("bad payload")

// Payload is the transport-independent result of decoding one request body.
type Payload struct {
	Options  imports.Options
	File     []byte
	Filename string
}

// Decode turns raw request bytes plus a content type into a Payload.
// Multipart bodies split into scalar fields and one file part; JSON bodies
// carry options inline with the file base64-encoded; anything else is treated
// as the file bytes directly.
func Decode(contentType string, body []byte) (*Payload, error) {
	mediaType, params, err := mime.ParseMediaType(contentType)
	if err != nil {
		mediaType = ""
	}

	switch {
	case mediaType == "multipart/form-data":
		boundary := params["boundary"]
		if boundary == "" {
			return nil, fmt.Errorf("%w: multipart body without boundary", ErrBadPayload)
		}
		return decodeMultipart(body, boundary)
	case mediaType == "application/json" || (mediaType == "" && looksLikeJSON(body)):
		return decodeJSON(body)
	default:
		return &Payload{File: body}, nil
	}
}

func decodeMultipart(body []byte, boundary string) (*Payload, error) {
	reader := multipart.NewReader(bytes.NewReader(body), boundary)

	fields := make(map[string]string)
	p := &Payload{}
	for {
		part, err := reader.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			// The reader cannot resync past a malformed or truncated part,
			// so the walk stops here. Everything decoded before the bad part
			// still counts; only content after the corruption is lost.
			break
		}

		name := part.FormName()
		if name == "" {
			continue
		}

		content, err := io.ReadAll(part)
		if err != nil {
			continue
		}

		if filename := part.FileName(); filename != "" {
			if p.File == nil {
				p.File = content
				p.Filename = filename
			}
			continue
		}
		if _, ok := fields[name]; !ok {
			fields[name] = string(content)
		}
	}

	options, err := optionsFromFields(fields)
	if err != nil {
		return nil, err
	}
	p.Options = options
	return p, nil
}

type jsonBody struct {
	Industry           string          `json:"industry"`
	Action             string          `json:"action"`
	Strategy           string          `json:"strategy"`
	SelectedColumns    json.RawMessage `json:"selectedColumns"`
	KeyColumns         json.RawMessage `json:"keyColumns"`
	AllowAddColumns    *bool           `json:"allowAddColumns"`
	DropMissingColumns *bool           `json:"dropMissingColumns"`
	RemoveMissingRows  *bool           `json:"removeMissingRows"`
	FileBase64         string          `json:"fileBase64"`
	File               string          `json:"file"`
}

func decodeJSON(body []byte) (*Payload, error) {
	var req jsonBody
	if err := json.Unmarshal(body, &req); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadPayload, err)
	}

	selected, err := columnsFromJSON(req.SelectedColumns)
	if err != nil {
		return nil, fmt.Errorf("%w: selectedColumns: %v", ErrBadPayload, err)
	}
	keys, err := columnsFromJSON(req.KeyColumns)
	if err != nil {
		return nil, fmt.Errorf("%w: keyColumns: %v", ErrBadPayload, err)
	}

	p := &Payload{Options: imports.Options{
		Industry:           req.Industry,
		Action:             req.Action,
		Strategy:           req.Strategy,
		SelectedColumns:    selected,
		KeyColumns:         keys,
		AllowAddColumns:    req.AllowAddColumns,
		DropMissingColumns: req.DropMissingColumns,
		RemoveMissingRows:  req.RemoveMissingRows,
	}}

	encoded := req.FileBase64
	if encoded == "" {
		encoded = req.File
	}
	if encoded != "" {
		file, err := base64.StdEncoding.DecodeString(encoded)
		if err != nil {
			return nil, fmt.Errorf("%w: file is not valid base64: %v", ErrBadPayload, err)
		}
		p.File = file
	}
	return p, nil
}

func optionsFromFields(fields map[string]string) (imports.Options, error) {
	options := imports.Options{
		Industry: strings.TrimSpace(fields["industry"]),
		Action:   strings.TrimSpace(fields["action"]),
		Strategy: strings.TrimSpace(fields["strategy"]),
	}

	var err error
	if options.SelectedColumns, err = parseColumnList(fields["selectedColumns"]); err != nil {
		return options, fmt.Errorf("%w: selectedColumns: %v", ErrBadPayload, err)
	}
	if options.KeyColumns, err = parseColumnList(fields["keyColumns"]); err != nil {
		return options, fmt.Errorf("%w: keyColumns: %v", ErrBadPayload, err)
	}
	if options.AllowAddColumns, err = parseOptionalBool(fields, "allowAddColumns"); err != nil {
		return options, err
	}
	if options.DropMissingColumns, err = parseOptionalBool(fields, "dropMissingColumns"); err != nil {
		return options, err
	}
	if options.RemoveMissingRows, err = parseOptionalBool(fields, "removeMissingRows"); err != nil {
		return options, err
	}
	return options, nil
}

// parseColumnList accepts a JSON array or a CSV string.
func parseColumnList(raw string) ([]string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	if strings.HasPrefix(raw, "[") {
		var columns []string
		if err := json.Unmarshal([]byte(raw), &columns); err != nil {
			return nil, err
		}
		return columns, nil
	}

	var columns []string
	for _, part := range strings.Split(raw, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			columns = append(columns, trimmed)
		}
	}
	return columns, nil
}

func columnsFromJSON(raw json.RawMessage) ([]string, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	trimmed := bytes.TrimSpace(raw)
	if bytes.HasPrefix(trimmed, []byte("[")) {
		var columns []string
		if err := json.Unmarshal(trimmed, &columns); err != nil {
			return nil, err
		}
		return columns, nil
	}
	var csv string
	if err := json.Unmarshal(trimmed, &csv); err != nil {
		return nil, err
	}
	return parseColumnList(csv)
}

// parseOptionalBool keeps the tri-state: absent fields stay nil so the
// engine's decision gates can tell "not decided" from "decided no".
func parseOptionalBool(fields map[string]string, name string) (*bool, error) {
	raw, ok := fields[name]
	if !ok {
		return nil, nil
	}
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "true", "1", "yes", "y", "on":
		v := true
		return &v, nil
	case "false", "0", "no", "n", "off":
		v := false
		return &v, nil
	case "":
		return nil, nil
	default:
		return nil, fmt.Errorf("%w: %s must be a boolean, got %q", ErrBadPayload, name, raw)
	}
}

func looksLikeJSON(body []byte) bool {
	trimmed := bytes.TrimSpace(body)
	return len(trimmed) > 0 && (trimmed[0] == '{' || trimmed[0] == '[')
}
