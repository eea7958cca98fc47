package handler

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
)

// DefaultMaxJSONSize bounds request bodies read by BindJSON.
const DefaultMaxJSONSize = 1 << 20

// BindJSON decodes a strict JSON body. An empty body leaves v untouched.
func BindJSON() Bind {
	return func(r *http.Request, v any) error {
		if r.Body == nil || r.ContentLength == 0 {
			return nil
		}
		if ct := r.Header.Get("Content-Type"); ct != "" {
			mediaType, _, err := mime.ParseMediaType(ct)
			if err != nil || mediaType != "application/json" {
				return ErrUnsupportedMediaType
			}
		}

		body, err := io.ReadAll(io.LimitReader(r.Body, DefaultMaxJSONSize+1))
		if err != nil {
			return errors.Join(ErrBadRequest, fmt.Errorf("read body: %w", err))
		}
		if len(body) > DefaultMaxJSONSize {
			return ErrRequestEntityTooLarge
		}
		if len(body) == 0 {
			return nil
		}

		dec := json.NewDecoder(bytes.NewReader(body))
		dec.DisallowUnknownFields()
		if err := dec.Decode(v); err != nil {
			return errors.Join(ErrBadRequest, fmt.Errorf("decode json: %w", err))
		}
		return nil
	}
}

// RawBody reads the request body unchanged up to max bytes.
func RawBody(r *http.Request, max int64) ([]byte, error) {
	if r.Body == nil {
		return nil, nil
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, max+1))
	if err != nil {
		return nil, errors.Join(ErrBadRequest, err)
	}
	if int64(len(body)) > max {
		return nil, ErrRequestEntityTooLarge
	}
	return body, nil
}
