package api

import (
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func jwksServer(t *testing.T, kid string, pub *rsa.PublicKey, hits *int32) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(hits, 1)
		json.NewEncoder(w).Encode(map[string]interface{}{
			"keys": []map[string]string{{
				"kid": kid,
				"kty": "RSA",
				"use": "sig",
				"n":   base64.RawURLEncoding.EncodeToString(pub.N.Bytes()),
				"e":   base64.RawURLEncoding.EncodeToString(big.NewInt(int64(pub.E)).Bytes()),
			}},
		})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestJWKSKeySet_Keyfunc(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	var hits int32
	srv := jwksServer(t, "key-1", &key.PublicKey, &hits)
	set := NewJWKSKeySet(srv.URL)

	token := &jwt.Token{Header: map[string]interface{}{"kid": "key-1"}}
	got, err := set.Keyfunc(token)
	require.NoError(t, err)
	pub, ok := got.(*rsa.PublicKey)
	require.True(t, ok)
	assert.Equal(t, 0, pub.N.Cmp(key.PublicKey.N))
	assert.Equal(t, key.PublicKey.E, pub.E)

	_, err = set.Keyfunc(token)
	require.NoError(t, err)
	assert.Equal(t, int32(1), atomic.LoadInt32(&hits), "cached key must not refetch")

	_, err = set.Keyfunc(&jwt.Token{Header: map[string]interface{}{"kid": "unknown"}})
	assert.Error(t, err)
	assert.Equal(t, int32(1), atomic.LoadInt32(&hits), "refresh is rate limited")

	_, err = set.Keyfunc(&jwt.Token{Header: map[string]interface{}{}})
	assert.Error(t, err)
}

func TestParseRSAPublicKey_RejectsBadInput(t *testing.T) {
	_, err := parseRSAPublicKey("!!", "AQAB")
	assert.Error(t, err)
	_, err = parseRSAPublicKey("AQAB", "")
	assert.Error(t, err)

	pub, err := parseRSAPublicKey("AQAB", "AQAB")
	require.NoError(t, err)
	assert.Equal(t, 65537, pub.E)
}
