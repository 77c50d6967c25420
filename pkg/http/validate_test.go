package http

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type trainBody struct {
	Tickers []string `json:"tickers" validate:"max=2"`
	Days    int      `json:"prediction_days" default:"7" validate:"gte=1,lte=30"`
	Mode    string   `json:"mode" default:"sync" validate:"oneof=sync async"`
}

func bindBody(t *testing.T, body string, dst interface{}) []ValidationError {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	c := echo.New().NewContext(req, httptest.NewRecorder())
	return ReadAndValidateRequest(c, dst)
}

func TestReadAndValidateRequest_Defaults(t *testing.T) {
	var b trainBody
	require.Nil(t, bindBody(t, `{"tickers":["AAPL"]}`, &b))
	assert.Equal(t, 7, b.Days)
	assert.Equal(t, "sync", b.Mode)
}

func TestReadAndValidateRequest_FieldErrorsUseJSONNames(t *testing.T) {
	var b trainBody
	errs := bindBody(t, `{"tickers":["A","B","C"],"prediction_days":31,"mode":"later"}`, &b)
	require.Len(t, errs, 3)

	byField := map[string]ValidationError{}
	for _, e := range errs {
		byField[e.Field] = e
	}
	assert.Equal(t, "ERR_MAX", byField["tickers"].Code)
	assert.Equal(t, "tickers must have at most 2 items", byField["tickers"].Message)
	assert.Equal(t, "ERR_LTE", byField["prediction_days"].Code)
	assert.Equal(t, "prediction_days must be at most 30", byField["prediction_days"].Message)
	assert.Equal(t, "30", byField["prediction_days"].Params["limit"])
	assert.Equal(t, []string{"sync", "async"}, byField["mode"].Params["options"])
}

func TestReadAndValidateRequest_MalformedBody(t *testing.T) {
	var b trainBody
	errs := bindBody(t, `{not json`, &b)
	require.Len(t, errs, 1)
	assert.Equal(t, "ERR_BAD_REQUEST", errs[0].Code)
}
