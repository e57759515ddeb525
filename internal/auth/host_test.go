// internal/auth/host_test.go
package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHostTokenRoundTrip(t *testing.T) {
	Init()

	token, err := CreateHostToken("host-42")
	require.NoError(t, err)

	hostID, err := AuthenticateHostToken(token)
	require.NoError(t, err)
	assert.Equal(t, "host-42", hostID)

	_, err = AuthenticateHostToken(token + "tampered")
	assert.Error(t, err)
}

func TestHostIDExtraction(t *testing.T) {
	Init()
	token, err := CreateHostToken("host-42")
	require.NoError(t, err)

	r := httptest.NewRequest("GET", "/game/state", nil)
	r.Header.Set("Authorization", "Bearer "+token)
	hostID, err := HostID(r)
	require.NoError(t, err)
	assert.Equal(t, "host-42", hostID)

	r = httptest.NewRequest("GET", "/game/state", nil)
	r.AddCookie(&http.Cookie{Name: "host_token", Value: token})
	hostID, err = HostID(r)
	require.NoError(t, err)
	assert.Equal(t, "host-42", hostID)

	r = httptest.NewRequest("GET", "/game/ws?token="+token, nil)
	hostID, err = HostID(r)
	require.NoError(t, err)
	assert.Equal(t, "host-42", hostID)

	r = httptest.NewRequest("GET", "/game/state", nil)
	_, err = HostID(r)
	assert.Error(t, err)
}
