package responses

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	pkgerrors "github.com/keeply/keeply-backend/pkg/errors"
	"github.com/keeply/keeply-backend/pkg/logger"
)

func decodeError(t *testing.T, w *httptest.ResponseRecorder) ErrorBody {
	t.Helper()
	var body errorBody
	require.NoError(t, json.NewDecoder(w.Body).Decode(&body))
	return body.Error
}

func TestWriteSuccessWrapsData(t *testing.T) {
	w := httptest.NewRecorder()
	WriteSuccessStatus(w, http.StatusCreated, map[string]string{"family_id": "f-1"})

	assert.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
	assert.JSONEq(t, `{"data":{"family_id":"f-1"}}`, w.Body.String())
}

func TestWriteErrorExposesClientMessages(t *testing.T) {
	w := httptest.NewRecorder()
	err := pkgerrors.New(pkgerrors.CodeConflict, "user already belongs to a family").
		WithDetails(map[string]any{"current_family_id": "f-9"})
	WriteError(context.Background(), nil, w, fmt.Errorf("join: %w", err))

	assert.Equal(t, http.StatusConflict, w.Code)
	body := decodeError(t, w)
	assert.Equal(t, "CONFLICT", body.Code)
	assert.Equal(t, "user already belongs to a family", body.Message)
	assert.Equal(t, map[string]any{"current_family_id": "f-9"}, body.Details)
}

func TestWriteErrorHidesInternalDetail(t *testing.T) {
	w := httptest.NewRecorder()
	WriteError(context.Background(), nil, w, errors.New("pq: relation families does not exist"))

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	body := decodeError(t, w)
	assert.Equal(t, "INTERNAL_ERROR", body.Code)
	assert.Equal(t, "internal server error", body.Message)
	assert.Nil(t, body.Details)
}

func TestWriteErrorLogsByStatusClass(t *testing.T) {
	var buf bytes.Buffer
	logg := logger.New(logger.Options{ServiceName: "responses-test", Output: &buf})

	WriteError(context.Background(), logg, httptest.NewRecorder(), pkgerrors.New(pkgerrors.CodeForbidden, "owner only"))
	assert.Contains(t, buf.String(), `"request.rejected"`)
	assert.Contains(t, buf.String(), `"level":"warn"`)

	buf.Reset()
	WriteError(context.Background(), logg, httptest.NewRecorder(), pkgerrors.Wrap(pkgerrors.CodeDependency, errors.New("timeout"), "load family"))
	assert.Contains(t, buf.String(), `"request.error"`)
	assert.Contains(t, buf.String(), `"error_code":"DEPENDENCY_ERROR"`)
}
