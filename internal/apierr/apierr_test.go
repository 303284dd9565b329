package apierr

import (
	"encoding/json"
	"errors"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/xxrust/device-version-manager/internal/storeerr"
)

func TestWrite_MapsStoreerrKindsToStatus(t *testing.T) {
	cases := []struct {
		err        error
		wantStatus int
		wantCode   string
	}{
		{storeerr.NotFound("op", "missing"), 404, "not_found"},
		{storeerr.Conflict("op", "dup"), 409, "conflict"},
		{storeerr.Invalid("op", "bad"), 400, "invalid_request"},
		{storeerr.IO("op", errors.New("disk")), 500, "internal_error"},
		{errors.New("unrelated"), 500, "internal_error"},
	}

	for _, tc := range cases {
		rr := httptest.NewRecorder()
		Write(rr, tc.err)
		require.Equal(t, tc.wantStatus, rr.Code)

		var body struct {
			Error string `json:"error"`
		}
		require.NoError(t, json.NewDecoder(rr.Body).Decode(&body))
		require.Equal(t, tc.wantCode, body.Error)
	}
}

func TestWriteCode_BypassesClassification(t *testing.T) {
	rr := httptest.NewRecorder()
	WriteCode(rr, 422, "unprocessable")
	require.Equal(t, 422, rr.Code)

	var body struct {
		Error string `json:"error"`
	}
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&body))
	require.Equal(t, "unprocessable", body.Error)
}
