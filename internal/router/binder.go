package router

import (
	"bytes"
	"errors"
	"io"
	"net/http"
	"reflect"

	"github.com/upb/authz-gateway/internal/registry"
	"github.com/upb/authz-gateway/services"
	"github.com/upb/authz-gateway/utils"
)

// maxBodyBytes caps request bodies read by the binder
const maxBodyBytes = 1 << 20

// positions without a binding receive the raw request, writer and context
const defaultArgs = 3

type binder struct {
	bindings  []registry.Binding
	transport Transport
}

func (b *binder) bind(w http.ResponseWriter, r *http.Request) ([]any, error) {
	size := defaultArgs
	for _, bd := range b.bindings {
		if bd.Index+1 > size {
			size = bd.Index + 1
		}
	}

	args := make([]any, size)
	filled := make([]bool, size)

	var body *lazyBody
	for _, bd := range b.bindings {
		if bd.Source == registry.SourceBody && body == nil {
			body = &lazyBody{r: r, w: w}
		}
		v, err := b.value(r, bd, body)
		if err != nil {
			return nil, err
		}
		args[bd.Index] = v
		filled[bd.Index] = true
	}

	defaults := []any{r, w, r.Context()}
	for i := 0; i < defaultArgs; i++ {
		if !filled[i] {
			args[i] = defaults[i]
		}
	}
	return args, nil
}

func (b *binder) value(r *http.Request, bd registry.Binding, body *lazyBody) (any, error) {
	switch bd.Source {
	case registry.SourceBody:
		return body.value(bd)
	case registry.SourceQuery:
		if bd.Name == "" {
			return r.URL.Query(), nil
		}
		return r.URL.Query().Get(bd.Name), nil
	case registry.SourcePath:
		if bd.Name == "" {
			return b.transport.PathParams(r), nil
		}
		return b.transport.PathParam(r, bd.Name), nil
	case registry.SourceHeader:
		if bd.Name == "" {
			return r.Header.Clone(), nil
		}
		return r.Header.Get(bd.Name), nil
	case registry.SourceCookie:
		if bd.Name == "" {
			cookies := make(map[string]string)
			for _, c := range r.Cookies() {
				cookies[c.Name] = c.Value
			}
			return cookies, nil
		}
		c, err := r.Cookie(bd.Name)
		if errors.Is(err, http.ErrNoCookie) {
			return "", nil
		}
		if err != nil {
			return nil, services.NewValidationError("Malformed cookie", map[string]interface{}{"cookie": bd.Name})
		}
		return c.Value, nil
	default:
		return nil, services.NewInternalError("Unknown parameter source", nil)
	}
}

// lazyBody reads the request body once and serves every body binding
type lazyBody struct {
	r      *http.Request
	w      http.ResponseWriter
	raw    []byte
	read   bool
	fields map[string]any
}

func (l *lazyBody) bytes() ([]byte, error) {
	if l.read {
		return l.raw, nil
	}
	l.read = true
	if l.r.Body == nil {
		return nil, nil
	}
	raw, err := io.ReadAll(http.MaxBytesReader(l.w, l.r.Body, maxBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return nil, services.NewValidationError("Request body too large", nil)
		}
		return nil, services.NewInvalidJSONError(err)
	}
	l.raw = raw
	l.r.Body = io.NopCloser(bytes.NewReader(raw))
	return raw, nil
}

func (l *lazyBody) value(bd registry.Binding) (any, error) {
	raw, err := l.bytes()
	if err != nil {
		return nil, err
	}

	if bd.New != nil {
		if len(bytes.TrimSpace(raw)) == 0 {
			return nil, services.NewInvalidJSONError(io.EOF)
		}
		dst := bd.New()
		if err := utils.Unmarshal(raw, dst); err != nil {
			return nil, services.NewInvalidJSONError(err)
		}
		if isStruct(dst) {
			if err := utils.ValidateStruct(dst); err != nil {
				return nil, err
			}
		}
		return dst, nil
	}

	if l.fields == nil {
		l.fields = make(map[string]any)
		if len(bytes.TrimSpace(raw)) > 0 {
			if err := utils.Unmarshal(raw, &l.fields); err != nil {
				return nil, services.NewInvalidJSONError(err)
			}
		}
	}
	if bd.Name == "" {
		return l.fields, nil
	}
	return l.fields[bd.Name], nil
}

func isStruct(v any) bool {
	rv := reflect.ValueOf(v)
	for rv.Kind() == reflect.Pointer {
		rv = rv.Elem()
	}
	return rv.Kind() == reflect.Struct
}
