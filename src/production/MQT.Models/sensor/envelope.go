package sensor_models

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// ErrMalformedPayload is returned by DecodeRequest for payloads that are not
// a JSON object, a JSON array of objects, or empty.
var ErrMalformedPayload = errors.New("malformed payload")

// Params is the set of named request parameters understood by the operations.
// Absent fields are nil; defaults are applied by the operation that reads them.
type Params struct {
	SensorID    *int     `json:"sensor_id,omitempty"`
	Time        *string  `json:"time,omitempty"`
	Temperature *float64 `json:"temperature,omitempty"`
	Humidity    *float64 `json:"humidity,omitempty"`
	Hours       *int     `json:"hours,omitempty"`
	Limit       *int     `json:"limit,omitempty"`
	Bucket      *string  `json:"bucket,omitempty"`
}

// PayloadKind tells what shape the decoded payload had
type PayloadKind int

const (
	PayloadEmpty PayloadKind = iota
	PayloadObject
	PayloadList
)

// Request is the decoded, read-only request envelope shared by both transports
type Request struct {
	Kind    PayloadKind
	Params  Params
	Entries []Params

	// number of keys present in an object payload, known or not
	fields int
}

// HasData reports whether the payload carried anything at all
func (r Request) HasData() bool {
	switch r.Kind {
	case PayloadObject:
		return r.fields > 0
	case PayloadList:
		return len(r.Entries) > 0
	}
	return false
}

// NewParamsRequest builds an object request from already-typed parameters,
// as the HTTP binding does from path and query values.
func NewParamsRequest(p Params) Request {
	n := 0
	for _, set := range []bool{
		p.SensorID != nil, p.Time != nil, p.Temperature != nil, p.Humidity != nil,
		p.Hours != nil, p.Limit != nil, p.Bucket != nil,
	} {
		if set {
			n++
		}
	}
	if n == 0 {
		return Request{Kind: PayloadEmpty}
	}
	return Request{Kind: PayloadObject, Params: p, fields: n}
}

// DecodeRequest decodes a raw JSON payload. An empty (or whitespace-only, or
// null) payload is an empty request, not an error.
func DecodeRequest(payload []byte) (Request, error) {
	trimmed := bytes.TrimSpace(payload)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return Request{Kind: PayloadEmpty}, nil
	}

	switch trimmed[0] {
	case '{':
		params, fields, err := decodeObject(trimmed)
		if err != nil {
			return Request{}, err
		}
		return Request{Kind: PayloadObject, Params: params, fields: fields}, nil
	case '[':
		var raw []json.RawMessage
		if err := json.Unmarshal(trimmed, &raw); err != nil {
			return Request{}, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
		}
		entries := make([]Params, 0, len(raw))
		for i, item := range raw {
			item = bytes.TrimSpace(item)
			if len(item) == 0 || item[0] != '{' {
				return Request{}, fmt.Errorf("%w: entry %d is not an object", ErrMalformedPayload, i)
			}
			params, _, err := decodeObject(item)
			if err != nil {
				return Request{}, fmt.Errorf("entry %d: %w", i, err)
			}
			entries = append(entries, params)
		}
		return Request{Kind: PayloadList, Entries: entries}, nil
	}

	return Request{}, fmt.Errorf("%w: expected a JSON object or array", ErrMalformedPayload)
}

func decodeObject(data []byte) (Params, int, error) {
	var keys map[string]json.RawMessage
	if err := json.Unmarshal(data, &keys); err != nil {
		return Params{}, 0, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}

	var params Params
	if err := json.Unmarshal(data, &params); err != nil {
		var typeErr *json.UnmarshalTypeError
		if errors.As(err, &typeErr) && typeErr.Field != "" {
			return Params{}, 0, fmt.Errorf("%w: invalid value for %s (%s)", ErrMalformedPayload, typeErr.Field, typeErr.Value)
		}
		return Params{}, 0, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	return params, len(keys), nil
}

// Response is the uniform {status_code, data} envelope
type Response struct {
	StatusCode int         `json:"status_code"`
	Data       interface{} `json:"data"`
}

// ErrorBody is the data payload of every failed response
type ErrorBody struct {
	Error string `json:"error"`
}

// ErrorMessage returns the error text when the response carries one
func (r Response) ErrorMessage() (string, bool) {
	switch body := r.Data.(type) {
	case ErrorBody:
		return body.Error, true
	case *ErrorBody:
		return body.Error, body != nil
	}
	return "", false
}
