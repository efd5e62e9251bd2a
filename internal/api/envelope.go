package api

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Pagination carries the optional paging fields of a list response.
type Pagination struct {
	CurrentPage int `json:"current_page"`
	LastPage    int `json:"last_page"`
	PerPage     int `json:"per_page"`
	Total       int `json:"total"`
}

// empty reports whether no paging field was present.
func (p Pagination) empty() bool {
	return p == Pagination{}
}

// envelope is the server's standard response wrapper:
// {success, message, data, current_page?, last_page?, per_page?, total?}
// with {success:false, message, errors?} on failure.
type envelope struct {
	Success *bool                      `json:"success"`
	Message string                     `json:"message"`
	Data    json.RawMessage            `json:"data"`
	Errors  map[string]json.RawMessage `json:"errors"`
	Pagination
}

// fieldErrors flattens the errors object. Values may be a list of
// messages or a single message.
func (e envelope) fieldErrors() map[string][]string {
	if len(e.Errors) == 0 {
		return nil
	}
	out := make(map[string][]string, len(e.Errors))
	for field, raw := range e.Errors {
		var list []string
		if json.Unmarshal(raw, &list) == nil {
			out[field] = list
			continue
		}
		var single string
		if json.Unmarshal(raw, &single) == nil {
			out[field] = []string{single}
		}
	}
	return out
}

func isNull(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null"))
}

// decodeData unmarshals the envelope's data into out, or the whole body
// when the response is not enveloped.
func decodeData(body []byte, out any) error {
	var env envelope
	if json.Unmarshal(body, &env) == nil && !isNull(env.Data) {
		return json.Unmarshal(env.Data, out)
	}
	return json.Unmarshal(body, out)
}

// listPage is a nested paginated payload: {data: [...], current_page, ...}.
type listPage struct {
	Data  json.RawMessage `json:"data"`
	Items json.RawMessage `json:"items"`
	Pagination
}

// decodeList flattens the list shapes the server is known to send into
// one ordered slice:
//
//	[...]
//	{"data": [...]}
//	{"data": [...], "current_page": 1, ...}
//	{"data": {"data": [...], "current_page": 1, ...}}
func decodeList[T any](body []byte) ([]T, *Pagination, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return []T{}, nil, nil
	}

	if trimmed[0] == '[' {
		var items []T
		if err := json.Unmarshal(trimmed, &items); err != nil {
			return nil, nil, fmt.Errorf("decoding list: %w", err)
		}
		return items, nil, nil
	}

	var env envelope
	if err := json.Unmarshal(trimmed, &env); err != nil {
		return nil, nil, fmt.Errorf("decoding list envelope: %w", err)
	}

	var page *Pagination
	if !env.Pagination.empty() {
		p := env.Pagination
		page = &p
	}

	data := bytes.TrimSpace(env.Data)
	switch {
	case isNull(data):
		return []T{}, page, nil

	case data[0] == '[':
		var items []T
		if err := json.Unmarshal(data, &items); err != nil {
			return nil, nil, fmt.Errorf("decoding list data: %w", err)
		}
		return items, page, nil

	case data[0] == '{':
		var nested listPage
		if err := json.Unmarshal(data, &nested); err != nil {
			return nil, nil, fmt.Errorf("decoding nested page: %w", err)
		}
		if !nested.Pagination.empty() {
			p := nested.Pagination
			page = &p
		}
		inner := nested.Data
		if isNull(inner) {
			inner = nested.Items
		}
		if isNull(inner) {
			return []T{}, page, nil
		}
		var items []T
		if err := json.Unmarshal(inner, &items); err != nil {
			return nil, nil, fmt.Errorf("decoding nested list: %w", err)
		}
		return items, page, nil
	}

	return nil, nil, fmt.Errorf("unrecognised list payload")
}
