package response

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func decode(t *testing.T, w *httptest.ResponseRecorder) Response {
	t.Helper()
	var resp Response
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return resp
}

func TestSuccess(t *testing.T) {
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)

	Success(c, map[string]int{"ticks": 3})

	assert.Equal(t, http.StatusOK, w.Code)
	resp := decode(t, w)
	assert.Equal(t, 0, resp.Code)
	assert.Equal(t, map[string]interface{}{"ticks": float64(3)}, resp.Data)
}

func TestInvalidListsFields(t *testing.T) {
	type form struct {
		Email string `validate:"required,email"`
		Title string `validate:"required"`
	}
	err := validator.New().Struct(form{Email: "nope"})
	require.Error(t, err)

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	Invalid(c, err)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	resp := decode(t, w)
	assert.Equal(t, []string{"Email", "Title"}, resp.Fields)
}

func TestInvalidWithoutFieldErrors(t *testing.T) {
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	Invalid(c, errors.New("unexpected EOF"))

	assert.Equal(t, http.StatusBadRequest, w.Code)
	resp := decode(t, w)
	assert.Equal(t, "unexpected EOF", resp.Message)
	assert.Empty(t, resp.Fields)
}

func TestErrorStatuses(t *testing.T) {
	cases := []struct {
		name string
		send func(*gin.Context, string)
		code int
	}{
		{"unauthorized", Unauthorized, http.StatusUnauthorized},
		{"forbidden", Forbidden, http.StatusForbidden},
		{"not found", NotFound, http.StatusNotFound},
		{"conflict", Conflict, http.StatusConflict},
		{"internal", InternalError, http.StatusInternalServerError},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			c, _ := gin.CreateTestContext(w)
			tc.send(c, tc.name)
			assert.Equal(t, tc.code, w.Code)
			resp := decode(t, w)
			assert.Equal(t, tc.code, resp.Code)
			assert.Equal(t, tc.name, resp.Message)
		})
	}
}
