package handler_test

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/coachkit/handler"
	"github.com/dmitrymomot/coachkit/pkg/validator"
)

type greetRequest struct {
	Name string `json:"name"`
}

type envelope struct {
	Data  map[string]any `json:"data"`
	Error *struct {
		Code    string              `json:"code"`
		Message string              `json:"message"`
		Details map[string][]string `json:"details"`
	} `json:"error"`
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) envelope {
	t.Helper()
	var env envelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	return env
}

var (
	errMissing = errors.New("thing not found")
	errInvalid = errors.New("invalid thing")
)

func newHandler(fn handler.HandlerFunc[handler.Context, greetRequest]) http.HandlerFunc {
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	return handler.Wrap(fn,
		handler.WithBinders[handler.Context, greetRequest](handler.BindJSON()),
		handler.WithErrorHandler[handler.Context, greetRequest](handler.NewErrorHandler[handler.Context](log,
			handler.ErrorMapping{Target: errMissing, Status: handler.ErrNotFound},
			handler.ErrorMapping{Target: errInvalid, Status: handler.ErrBadRequest},
		)),
	)
}

func TestWrap(t *testing.T) {
	t.Parallel()

	greet := newHandler(func(_ handler.Context, req greetRequest) handler.Response {
		if req.Name == "" {
			return nil
		}
		return handler.JSON(map[string]string{"hello": req.Name})
	})

	t.Run("binds and renders data", func(t *testing.T) {
		t.Parallel()
		req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"name":"ada"}`))
		req.Header.Set("Content-Type", "application/json")
		rec := httptest.NewRecorder()
		greet(rec, req)

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "ada", decode(t, rec).Data["hello"])
	})

	t.Run("unknown fields are rejected", func(t *testing.T) {
		t.Parallel()
		req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"name":"ada","admin":true}`))
		req.Header.Set("Content-Type", "application/json")
		rec := httptest.NewRecorder()
		greet(rec, req)

		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, "bad_request", decode(t, rec).Error.Code)
	})

	t.Run("wrong media type", func(t *testing.T) {
		t.Parallel()
		req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`name=ada`))
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		rec := httptest.NewRecorder()
		greet(rec, req)

		assert.Equal(t, http.StatusUnsupportedMediaType, rec.Code)
	})

	t.Run("nil response is internal", func(t *testing.T) {
		t.Parallel()
		rec := httptest.NewRecorder()
		greet(rec, httptest.NewRequest(http.MethodPost, "/", nil))

		assert.Equal(t, http.StatusInternalServerError, rec.Code)
		env := decode(t, rec)
		assert.Equal(t, "internal_error", env.Error.Code)
		assert.Equal(t, http.StatusText(http.StatusInternalServerError), env.Error.Message)
	})
}

func TestNewErrorHandler(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		err     error
		code    int
		key     string
		details bool
	}{
		{name: "mapped not found", err: errors.Join(errMissing, errors.New("id 7")), code: http.StatusNotFound, key: "not_found"},
		{name: "mapped bad request", err: errInvalid, code: http.StatusBadRequest, key: "bad_request"},
		{name: "http error in chain", err: errors.Join(handler.ErrConflict, errMissing), code: http.StatusConflict, key: "conflict"},
		{
			name:    "validation details",
			err:     errors.Join(errInvalid, validator.Apply(validator.RequiredString("kind", ""))),
			code:    http.StatusBadRequest,
			key:     "bad_request",
			details: true,
		},
		{name: "unmapped", err: errors.New("db down"), code: http.StatusInternalServerError, key: "internal_error"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			h := newHandler(func(handler.Context, greetRequest) handler.Response {
				return failing{err: tt.err}
			})
			rec := httptest.NewRecorder()
			h(rec, httptest.NewRequest(http.MethodGet, "/", nil))

			assert.Equal(t, tt.code, rec.Code)
			env := decode(t, rec)
			require.NotNil(t, env.Error)
			assert.Equal(t, tt.key, env.Error.Code)
			if tt.details {
				assert.Contains(t, env.Error.Details, "kind")
			}
			if tt.code == http.StatusInternalServerError {
				assert.NotContains(t, env.Error.Message, "db down")
			}
		})
	}
}

// failing is a Response whose rendering fails before writing anything.
type failing struct{ err error }

func (f failing) Render(http.ResponseWriter, *http.Request) error { return f.err }

func TestNoContent(t *testing.T) {
	t.Parallel()
	rec := httptest.NewRecorder()
	require.NoError(t, handler.NoContent().Render(rec, httptest.NewRequest(http.MethodGet, "/", nil)))
	assert.Equal(t, http.StatusNoContent, rec.Code)
}
