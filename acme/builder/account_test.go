package builder

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shred/acme4j-go/acme/keys"
	"github.com/shred/acme4j-go/acme/session"
)

// newTestSession builds a real Session against an httptest fake directory.
// meta, when non-empty, becomes the directory's "meta" object; extra
// registers additional resource handlers on the same mux.
func newTestSession(t *testing.T, meta string, extra func(mux *http.ServeMux, serverURL string)) *session.Session {
	t.Helper()
	mux := http.NewServeMux()
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)

	mux.HandleFunc("/directory", func(w http.ResponseWriter, r *http.Request) {
		body := `{
			"newNonce": "` + server.URL + `/new-nonce",
			"newAccount": "` + server.URL + `/new-account"`
		if meta != "" {
			body += `, "meta": ` + meta
		}
		body += `}`
		_, _ = w.Write([]byte(body))
	})
	mux.HandleFunc("/new-nonce", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Replay-Nonce", "aW5pdGlhbC1ub25jZQ")
	})
	if extra != nil {
		extra(mux, server.URL)
	}

	sess, err := session.New(session.Config{ServerURI: server.URL + "/directory"})
	require.NoError(t, err)
	return sess
}

func TestCreateLoginSendsRegistrationPayloadAndBindsLocation(t *testing.T) {
	var gotBody map[string]interface{}
	sess := newTestSession(t, "", func(mux *http.ServeMux, serverURL string) {
		mux.HandleFunc("/new-account", func(w http.ResponseWriter, r *http.Request) {
			var envelope struct {
				Payload string `json:"payload"`
			}
			require.NoError(t, json.NewDecoder(r.Body).Decode(&envelope))
			payload, err := base64.RawURLEncoding.DecodeString(envelope.Payload)
			require.NoError(t, err)
			require.NoError(t, json.Unmarshal(payload, &gotBody))

			w.Header().Set("Replay-Nonce", "cmVwbGF5LW5vbmNl")
			w.Header().Set("Location", serverURL+"/acct/1")
			w.WriteHeader(http.StatusCreated)
			_, _ = w.Write([]byte(`{"status":"valid"}`))
		})
	})

	signer, err := keys.NewSigner("ecdsa-p256")
	require.NoError(t, err)

	lg, err := New().
		AddEmail("foo@example.com").
		AgreeToTermsOfService().
		UseKeyPair(signer).
		CreateLogin(context.Background(), sess)
	require.NoError(t, err)

	assert.Equal(t, []interface{}{"mailto:foo@example.com"}, gotBody["contact"])
	assert.Equal(t, true, gotBody["termsOfServiceAgreed"])
	assert.Contains(t, lg.AccountURL(), "/acct/1")
}

func TestCreateLoginRequiresKeyPair(t *testing.T) {
	sess := newTestSession(t, "", nil)
	_, err := New().AgreeToTermsOfService().CreateLogin(context.Background(), sess)
	assert.Error(t, err)
}

func TestCreateLoginRejectsMissingEABWhenRequired(t *testing.T) {
	sess := newTestSession(t, `{"externalAccountRequired": true}`, nil)
	signer, err := keys.NewSigner("ecdsa-p256")
	require.NoError(t, err)

	_, err = New().UseKeyPair(signer).CreateLogin(context.Background(), sess)
	assert.Error(t, err)
}

func TestWithKeyIdentifierBuildsEABPayload(t *testing.T) {
	var gotBody map[string]interface{}
	sess := newTestSession(t, "", func(mux *http.ServeMux, serverURL string) {
		mux.HandleFunc("/new-account", func(w http.ResponseWriter, r *http.Request) {
			var envelope struct {
				Payload string `json:"payload"`
			}
			require.NoError(t, json.NewDecoder(r.Body).Decode(&envelope))
			payload, err := base64.RawURLEncoding.DecodeString(envelope.Payload)
			require.NoError(t, err)
			require.NoError(t, json.Unmarshal(payload, &gotBody))

			w.Header().Set("Replay-Nonce", "cmVwbGF5LW5vbmNl")
			w.Header().Set("Location", serverURL+"/acct/2")
			w.WriteHeader(http.StatusCreated)
			_, _ = w.Write([]byte(`{"status":"valid"}`))
		})
	})

	signer, err := keys.NewSigner("ecdsa-p256")
	require.NoError(t, err)

	macKey := base64.RawURLEncoding.EncodeToString([]byte("a-shared-hmac-secret-key-value!!"))
	_, err = New().
		UseKeyPair(signer).
		WithKeyIdentifier("kid-123", macKey).
		CreateLogin(context.Background(), sess)
	require.NoError(t, err)

	assert.NotNil(t, gotBody["externalAccountBinding"])
}

func TestWithKeyIdentifierDerivesMacAlgorithmFromKeyLength(t *testing.T) {
	var gotBody map[string]json.RawMessage
	sess := newTestSession(t, "", func(mux *http.ServeMux, serverURL string) {
		mux.HandleFunc("/new-account", func(w http.ResponseWriter, r *http.Request) {
			var envelope struct {
				Payload string `json:"payload"`
			}
			require.NoError(t, json.NewDecoder(r.Body).Decode(&envelope))
			payload, err := base64.RawURLEncoding.DecodeString(envelope.Payload)
			require.NoError(t, err)
			require.NoError(t, json.Unmarshal(payload, &gotBody))

			w.Header().Set("Replay-Nonce", "cmVwbGF5LW5vbmNl")
			w.Header().Set("Location", serverURL+"/acct/3")
			w.WriteHeader(http.StatusCreated)
			_, _ = w.Write([]byte(`{"status":"valid"}`))
		})
	})

	signer, err := keys.NewSigner("ecdsa-p256")
	require.NoError(t, err)

	macKey := base64.RawURLEncoding.EncodeToString(bytes.Repeat([]byte{0x42}, 48))
	_, err = New().
		UseKeyPair(signer).
		WithKeyIdentifier("kid-384", macKey).
		CreateLogin(context.Background(), sess)
	require.NoError(t, err)

	var eab struct {
		Protected string `json:"protected"`
	}
	require.NoError(t, json.Unmarshal(gotBody["externalAccountBinding"], &eab))
	header, err := base64.RawURLEncoding.DecodeString(eab.Protected)
	require.NoError(t, err)
	var protected struct {
		Alg string `json:"alg"`
		Kid string `json:"kid"`
	}
	require.NoError(t, json.Unmarshal(header, &protected))
	assert.Equal(t, "HS384", protected.Alg, "a 48-byte MAC key must default to HS384")
	assert.Equal(t, "kid-384", protected.Kid)
}
