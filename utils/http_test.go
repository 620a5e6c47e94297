package utils

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteJSON(t *testing.T) {
	t.Run("successful write", func(t *testing.T) {
		w := httptest.NewRecorder()
		data := map[string]string{"message": "test"}

		err := WriteJSON(w, http.StatusOK, data)
		require.NoError(t, err)

		assert.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "application/json", w.Header().Get("Content-Type"))

		var response map[string]string
		err = json.NewDecoder(w.Body).Decode(&response)
		require.NoError(t, err)
		assert.Equal(t, "test", response["message"])
	})

	t.Run("nil data", func(t *testing.T) {
		w := httptest.NewRecorder()

		err := WriteJSON(w, http.StatusNoContent, nil)
		require.NoError(t, err)

		assert.Equal(t, http.StatusNoContent, w.Code)
		assert.Empty(t, w.Body.String())
	})
}

func TestWriteSuccess(t *testing.T) {
	t.Run("ok with data", func(t *testing.T) {
		w := httptest.NewRecorder()

		require.NoError(t, WriteOK(w, "fetched", map[string]string{"id": "1"}))

		assert.Equal(t, http.StatusOK, w.Code)
		var response map[string]interface{}
		require.NoError(t, json.NewDecoder(w.Body).Decode(&response))
		assert.Equal(t, "fetched", response["message"])
		assert.Equal(t, "1", response["data"].(map[string]interface{})["id"])
	})

	t.Run("created defaults message", func(t *testing.T) {
		w := httptest.NewRecorder()

		require.NoError(t, WriteCreated(w, "", nil))

		assert.Equal(t, http.StatusCreated, w.Code)
		var response map[string]interface{}
		require.NoError(t, json.NewDecoder(w.Body).Decode(&response))
		assert.Equal(t, "Created", response["message"])
		_, hasData := response["data"]
		assert.False(t, hasData)
	})
}

func TestWriteError(t *testing.T) {
	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodGet, "/roles?x=1", nil)

	err := WriteError(w, r, http.StatusForbidden, "FORBIDDEN", "Missing required permission: role:read",
		map[string]interface{}{"required": "role:read"})
	require.NoError(t, err)

	assert.Equal(t, http.StatusForbidden, w.Code)

	var response ErrorResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&response))
	assert.Equal(t, http.StatusForbidden, response.Error.Status)
	assert.Equal(t, "FORBIDDEN", response.Error.Code)
	assert.Equal(t, "/roles", response.Error.Path)
	assert.Equal(t, "role:read", response.Error.Details["required"])

	_, err = time.Parse(time.RFC3339Nano, response.Error.Timestamp)
	assert.NoError(t, err)
}

func TestDecodeJSON(t *testing.T) {
	var dst struct {
		Email string `json:"email"`
	}

	require.NoError(t, DecodeJSON(strings.NewReader(`{"email":"a@x.com"}`), &dst))
	assert.Equal(t, "a@x.com", dst.Email)

	assert.Error(t, DecodeJSON(strings.NewReader(`{"email":`), &dst))
}
