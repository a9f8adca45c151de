package httpx

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRespondErrorStatus(t *testing.T) {
	cases := []struct {
		err    error
		status int
		detail bool
	}{
		{fmt.Errorf("%w: year", ErrValidation), http.StatusBadRequest, true},
		{fmt.Errorf("%w: branch", ErrNotFound), http.StatusNotFound, true},
		{fmt.Errorf("%w: view", ErrConflict), http.StatusConflict, true},
		{fmt.Errorf("%w: provider", ErrUpstream), http.StatusBadGateway, true},
		{fmt.Errorf("%w: client gone", ErrCanceled), StatusClientClosedRequest, false},
		{errors.New("db password leaked"), http.StatusInternalServerError, false},
	}
	for _, tc := range cases {
		rec := httptest.NewRecorder()
		RespondError(rec, tc.err)
		require.Equal(t, tc.status, rec.Code)
		require.Equal(t, "application/problem+json", rec.Header().Get("Content-Type"))

		var body ProblemDetail
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		require.Equal(t, tc.status, body.Status)
		if tc.detail {
			require.Equal(t, tc.err.Error(), body.Detail)
		} else {
			require.Empty(t, body.Detail)
		}
	}
}
