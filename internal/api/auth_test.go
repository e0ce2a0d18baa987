package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newAuthServer builds a mock API serving the CSRF endpoint plus the given
// POST handlers, keyed by endpoint path.
func newAuthServer(t *testing.T, handlers map[string]http.HandlerFunc) *httptest.Server {
	t.Helper()

	mux := http.NewServeMux()
	mux.HandleFunc("GET /csrf", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("x-xsrf-token", "test-csrf")
	})

	for path, handler := range handlers {
		pattern := path
		if !strings.Contains(pattern, " ") {
			pattern = "POST " + pattern
		}

		mux.HandleFunc(pattern, handler)
	}

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	return srv
}

func writeJSON(t *testing.T, w http.ResponseWriter, v any) {
	t.Helper()
	w.Header().Set("Content-Type", "application/json")
	require.NoError(t, json.NewEncoder(w).Encode(v))
}

func TestLogin_Success(t *testing.T) {
	var gotLogin loginRequest

	srv := newAuthServer(t, map[string]http.HandlerFunc{
		endpointRandomCode: func(w http.ResponseWriter, r *http.Request) {
			var req randomCodeRequest
			require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
			assert.Equal(t, "u@example.com", req.Account)
			writeJSON(t, w, randomCodeResponse{
				apiResponse: apiResponse{Success: true},
				RandomCode:  "NONCE",
				Timestamp:   1700000000000,
			})
		},
		endpointLogin: func(w http.ResponseWriter, r *http.Request) {
			require.NoError(t, json.NewDecoder(r.Body).Decode(&gotLogin))
			writeJSON(t, w, tokenResponse{apiResponse: apiResponse{Success: true}, Token: "access-1"})
		},
	})

	client := newTestClient(t, srv.URL)
	token, err := client.Login(context.Background(), "u@example.com", "hunter2")
	require.NoError(t, err)
	assert.Equal(t, "access-1", token)
	assert.Equal(t, "access-1", client.Token())

	// The wire sees the nonce-bound digest, never the password.
	assert.Equal(t, passwordDigest("hunter2", "NONCE"), gotLogin.Password)
	assert.Equal(t, "u@example.com", gotLogin.Account)
	assert.Equal(t, int64(1700000000000), gotLogin.Timestamp)
	assert.Equal(t, "Chrome107", gotLogin.Browser)
	assert.Equal(t, "1", gotLogin.Equipment)
	assert.Equal(t, "1", gotLogin.LoginMethod)
	assert.Equal(t, "en", gotLogin.Language)
	assert.Equal(t, 1, gotLogin.CountryCode)
}

func TestLogin_Rejected(t *testing.T) {
	srv := newAuthServer(t, map[string]http.HandlerFunc{
		endpointRandomCode: func(w http.ResponseWriter, _ *http.Request) {
			writeJSON(t, w, randomCodeResponse{
				apiResponse: apiResponse{Success: true},
				RandomCode:  "NONCE",
				Timestamp:   1700000000000,
			})
		},
		endpointLogin: func(w http.ResponseWriter, _ *http.Request) {
			writeJSON(t, w, tokenResponse{apiResponse: apiResponse{
				Success: false, ErrorCode: "E1760", ErrorMsg: "verification required",
			}})
		},
	})

	client := newTestClient(t, srv.URL)
	_, err := client.Login(context.Background(), "u@example.com", "hunter2")
	require.Error(t, err)

	var authErr *AuthError
	require.ErrorAs(t, err, &authErr)
	assert.Equal(t, "E1760", authErr.Code)
	assert.Equal(t, "verification required", authErr.Message)
	assert.Equal(t, "1700000000000", authErr.Timestamp)
	assert.Empty(t, client.Token(), "rejected login must not install a token")
}

func TestLogin_PreLoginFailure(t *testing.T) {
	srv := newAuthServer(t, map[string]http.HandlerFunc{
		endpointRandomCode: func(w http.ResponseWriter, _ *http.Request) {
			writeJSON(t, w, randomCodeResponse{apiResponse: apiResponse{Success: false, ErrorMsg: "unknown account"}})
		},
	})

	client := newTestClient(t, srv.URL)
	_, err := client.Login(context.Background(), "u@example.com", "pw")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrRejected)
	assert.Contains(t, err.Error(), "unknown account")
}

func TestRequestVerificationCode(t *testing.T) {
	var gotSend sendCodeRequest

	srv := newAuthServer(t, map[string]http.HandlerFunc{
		endpointPreAuth: func(w http.ResponseWriter, r *http.Request) {
			var req preAuthRequest
			require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
			assert.Equal(t, "u@example.com", req.Account)
			writeJSON(t, w, tokenResponse{apiResponse: apiResponse{Success: true}, Token: "aa-realkey-cc-1"})
		},
		endpointSendCode: func(w http.ResponseWriter, r *http.Request) {
			require.NoError(t, json.NewDecoder(r.Body).Decode(&gotSend))
			writeJSON(t, w, sendCodeResponse{apiResponse: apiResponse{Success: true}, ValidCodeKey: "vck-9"})
		},
	})

	client := newTestClient(t, srv.URL)
	v, err := client.RequestVerificationCode(context.Background(), "u@example.com", "1700000000000")
	require.NoError(t, err)
	assert.Equal(t, "u@example.com", v.Email)
	assert.Equal(t, "1700000000000", v.Timestamp)
	assert.Equal(t, "vck-9", v.ValidCodeKey)

	// sign = SHA256(email + real key), real key selected by the trailing index.
	assert.Equal(t, sha256Hex("u@example.com"+"realkey"), gotSend.Sign)
	assert.Equal(t, "aa-realkey-cc-1", gotSend.Token)
	assert.Equal(t, "1700000000000", gotSend.Timestamp)
}

func TestRequestVerificationCode_DefaultsTimestamp(t *testing.T) {
	srv := newAuthServer(t, map[string]http.HandlerFunc{
		endpointPreAuth: func(w http.ResponseWriter, _ *http.Request) {
			writeJSON(t, w, tokenResponse{apiResponse: apiResponse{Success: true}, Token: "k0-k1-1"})
		},
		endpointSendCode: func(w http.ResponseWriter, _ *http.Request) {
			writeJSON(t, w, sendCodeResponse{apiResponse: apiResponse{Success: true}, ValidCodeKey: "vck"})
		},
	})

	client := newTestClient(t, srv.URL)
	v, err := client.RequestVerificationCode(context.Background(), "u@example.com", "")
	require.NoError(t, err)
	assert.NotEmpty(t, v.Timestamp)
}

func TestRequestVerificationCode_BadPreAuthToken(t *testing.T) {
	srv := newAuthServer(t, map[string]http.HandlerFunc{
		endpointPreAuth: func(w http.ResponseWriter, _ *http.Request) {
			writeJSON(t, w, tokenResponse{apiResponse: apiResponse{Success: true}, Token: "nodashes"})
		},
	})

	client := newTestClient(t, srv.URL)
	_, err := client.RequestVerificationCode(context.Background(), "u@example.com", "")
	assert.ErrorIs(t, err, ErrBadPreAuthToken)
}

func TestRequestVerificationCode_MissingValidCodeKey(t *testing.T) {
	srv := newAuthServer(t, map[string]http.HandlerFunc{
		endpointPreAuth: func(w http.ResponseWriter, _ *http.Request) {
			writeJSON(t, w, tokenResponse{apiResponse: apiResponse{Success: true}, Token: "k0-k1-1"})
		},
		endpointSendCode: func(w http.ResponseWriter, _ *http.Request) {
			writeJSON(t, w, sendCodeResponse{apiResponse: apiResponse{Success: true}})
		},
	})

	client := newTestClient(t, srv.URL)
	_, err := client.RequestVerificationCode(context.Background(), "u@example.com", "")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrRejected)
	assert.Contains(t, err.Error(), "validCodeKey")
}

func TestLoginWithVerificationCode_Success(t *testing.T) {
	var gotLogin codeLoginRequest

	srv := newAuthServer(t, map[string]http.HandlerFunc{
		endpointCodeLogin: func(w http.ResponseWriter, r *http.Request) {
			require.NoError(t, json.NewDecoder(r.Body).Decode(&gotLogin))
			writeJSON(t, w, tokenResponse{apiResponse: apiResponse{Success: true}, Token: "access-2"})
		},
	})

	client := newTestClient(t, srv.URL)
	token, err := client.LoginWithVerificationCode(context.Background(), "u@example.com", "123456", "vck-9", "1700000000000")
	require.NoError(t, err)
	assert.Equal(t, "access-2", token)
	assert.Equal(t, "access-2", client.Token())

	assert.Equal(t, "123456", gotLogin.ValidCode)
	assert.Equal(t, "vck-9", gotLogin.ValidCodeKey)
	assert.Equal(t, "4", gotLogin.Equipment)
}

func TestLoginWithVerificationCode_Rejected(t *testing.T) {
	srv := newAuthServer(t, map[string]http.HandlerFunc{
		endpointCodeLogin: func(w http.ResponseWriter, _ *http.Request) {
			writeJSON(t, w, tokenResponse{apiResponse: apiResponse{Success: false, ErrorMsg: "bad code"}})
		},
	})

	client := newTestClient(t, srv.URL)
	_, err := client.LoginWithVerificationCode(context.Background(), "u@example.com", "000000", "vck", "ts")
	require.Error(t, err)

	var authErr *AuthError
	require.ErrorAs(t, err, &authErr)
	assert.Equal(t, "bad code", authErr.Message)
	assert.Empty(t, client.Token())
}
