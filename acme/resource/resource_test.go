package resource

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shred/acme4j-go/acme"
	"github.com/shred/acme4j-go/acme/keys"
	"github.com/shred/acme4j-go/acme/login"
	"github.com/shred/acme4j-go/acme/session"
)

// newTestSession builds a real Session (with a real Connection and nonce
// pool) against an httptest fake directory server. extra registers any
// additional resource handlers on the same mux before the server starts.
func newTestSession(t *testing.T, extra func(mux *http.ServeMux, serverURL string)) (*session.Session, string) {
	t.Helper()
	mux := http.NewServeMux()
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)

	mux.HandleFunc("/directory", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{
			"newNonce": "` + server.URL + `/new-nonce",
			"newAccount": "` + server.URL + `/new-account",
			"newOrder": "` + server.URL + `/new-order",
			"revokeCert": "` + server.URL + `/revoke-cert",
			"keyChange": "` + server.URL + `/key-change",
			"renewalInfo": "` + server.URL + `/renewal-info"
		}`))
	})
	mux.HandleFunc("/new-nonce", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Replay-Nonce", "aW5pdGlhbC1ub25jZQ")
	})
	if extra != nil {
		extra(mux, server.URL)
	}

	sess, err := session.New(session.Config{ServerURI: server.URL + "/directory"})
	require.NoError(t, err)
	return sess, server.URL
}

func TestAccountLazyLoadsExactlyOnce(t *testing.T) {
	var calls int
	sess, serverURL := newTestSession(t, func(mux *http.ServeMux, serverURL string) {
		mux.HandleFunc("/acct/1", func(w http.ResponseWriter, r *http.Request) {
			calls++
			w.Header().Set("Replay-Nonce", "cmVwbGF5LW5vbmNl")
			_, _ = w.Write([]byte(`{"status":"valid","contact":["mailto:a@example.com"]}`))
		})
	})

	signer, err := keys.NewSigner("ecdsa-p256")
	require.NoError(t, err)
	lg := login.New(sess, serverURL+"/acct/1", signer)

	acct := BindAccount(lg)
	assert.False(t, acct.isValid())

	status, err := acct.Status(context.Background())
	require.NoError(t, err)
	assert.Equal(t, acme.StatusValid, status)
	assert.Equal(t, 1, calls)

	contacts, err := acct.Contacts(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"mailto:a@example.com"}, contacts)
	assert.Equal(t, 1, calls, "second field read must not trigger a second network call")

	acct.invalidate()
	_, err = acct.Status(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, calls)
}

func TestChangeKeyRejectsIdenticalKeyBeforeNetworkCall(t *testing.T) {
	sess, serverURL := newTestSession(t, nil)
	signer, err := keys.NewSigner("ecdsa-p256")
	require.NoError(t, err)
	lg := login.New(sess, serverURL+"/acct/1", signer)
	acct := BindAccount(lg)

	err = acct.ChangeKey(context.Background(), signer)
	require.Error(t, err)
	var invalidErr *acme.InvalidArgumentError
	assert.ErrorAs(t, err, &invalidErr)
}

func TestWaitUntilValidOrInvalidZeroTimeoutMakesNoNetworkCall(t *testing.T) {
	var calls int
	sess, serverURL := newTestSession(t, func(mux *http.ServeMux, serverURL string) {
		mux.HandleFunc("/authz/1", func(w http.ResponseWriter, r *http.Request) {
			calls++
			w.Header().Set("Replay-Nonce", "cmVwbGF5LW5vbmNl")
			_, _ = w.Write([]byte(`{"status":"pending","identifier":{"type":"dns","value":"example.com"}}`))
		})
	})
	signer, err := keys.NewSigner("ecdsa-p256")
	require.NoError(t, err)
	lg := login.New(sess, serverURL+"/acct/1", signer)

	authz := bindAuthorization(serverURL+"/authz/1", lg)
	err = authz.WaitUntilValidOrInvalid(context.Background(), 0)
	require.Error(t, err, "an unloaded resource can't satisfy the target set without polling")
	var timeoutErr *acme.TimeoutExceededError
	assert.ErrorAs(t, err, &timeoutErr)
	assert.Equal(t, 0, calls, "timeout=0 must not touch the network")

	require.NoError(t, authz.Update(context.Background()))
	require.Equal(t, 1, calls)
	err = authz.WaitUntilValidOrInvalid(context.Background(), 0)
	require.Error(t, err, "cached pending is neither a target nor terminal")
	assert.ErrorAs(t, err, &timeoutErr)
	assert.Equal(t, 1, calls)

	require.NoError(t, authz.setJSON([]byte(`{"status":"valid","identifier":{"type":"dns","value":"example.com"}}`), authz.decode))
	assert.NoError(t, authz.WaitUntilValidOrInvalid(context.Background(), 0), "a cached target status succeeds without polling")
	assert.Equal(t, 1, calls)
}

func TestWaitUntilValidOrInvalidTimesOutWhenStatusNeverChanges(t *testing.T) {
	var calls int
	mux := http.NewServeMux()
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	mux.HandleFunc("/directory", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"newNonce": "` + server.URL + `/new-nonce"}`))
	})
	mux.HandleFunc("/new-nonce", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Replay-Nonce", "aW5pdGlhbC1ub25jZQ")
	})
	mux.HandleFunc("/authz/2", func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.Header().Set("Replay-Nonce", "cmVwbGF5LW5vbmNl")
		w.Header().Set("Retry-After", "1")
		_, _ = w.Write([]byte(`{"status":"pending","identifier":{"type":"dns","value":"example.com"}}`))
	})

	// The fake clock makes every backoff sleep instantaneous: After
	// advances the injected now by the full delay, so a 30s polling budget
	// is consumed without any real waiting.
	clk := &fakeClock{now: time.Now()}
	sess, err := session.New(session.Config{ServerURI: server.URL + "/directory", Clock: clk})
	require.NoError(t, err)

	signer, err := keys.NewSigner("ecdsa-p256")
	require.NoError(t, err)
	lg := login.New(sess, server.URL+"/acct/1", signer)
	authz := bindAuthorization(server.URL+"/authz/2", lg)

	err = authz.WaitUntilValidOrInvalid(context.Background(), 30*time.Second)
	require.Error(t, err)
	var timeoutErr *acme.TimeoutExceededError
	assert.ErrorAs(t, err, &timeoutErr)
	assert.Equal(t, acme.StatusPending, timeoutErr.LastStatus)
	assert.GreaterOrEqual(t, calls, 2, "the poll loop must have refetched at least once before the deadline")
}

func TestRenewalInfoWindowClassification(t *testing.T) {
	sess, serverURL := newTestSession(t, func(mux *http.ServeMux, serverURL string) {
		mux.HandleFunc("/renewal-info/x", func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Replay-Nonce", "cmVwbGF5LW5vbmNl")
			_, _ = w.Write([]byte(`{"suggestedWindow":{"start":"2021-01-03T00:00:00Z","end":"2021-01-07T00:00:00Z"},"explanationURL":"https://example.com/doc"}`))
		})
	})
	signer, err := keys.NewSigner("ecdsa-p256")
	require.NoError(t, err)
	lg := login.New(sess, serverURL+"/acct/1", signer)
	ri := bindRenewalInfo(serverURL+"/renewal-info/x", lg)

	notRequired, err := ri.IsNotRequired(context.Background(), mustParse(t, "2021-01-02T23:59:59Z"))
	require.NoError(t, err)
	assert.True(t, notRequired)

	recommended, err := ri.IsRecommended(context.Background(), mustParse(t, "2021-01-03T00:00:00Z"))
	require.NoError(t, err)
	assert.True(t, recommended)

	overdue, err := ri.IsOverdue(context.Background(), mustParse(t, "2021-01-07T00:00:00Z"))
	require.NoError(t, err)
	assert.True(t, overdue)

	url, err := sess.RenewalInfoURL("cert-id")
	require.NoError(t, err)
	assert.Equal(t, serverURL+"/renewal-info/cert-id", url)
}

func TestRenewalInfoRejectsNonIncreasingWindow(t *testing.T) {
	sess, serverURL := newTestSession(t, func(mux *http.ServeMux, serverURL string) {
		mux.HandleFunc("/renewal-info/bad", func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Replay-Nonce", "cmVwbGF5LW5vbmNl")
			_, _ = w.Write([]byte(`{"suggestedWindow":{"start":"2021-01-07T00:00:00Z","end":"2021-01-03T00:00:00Z"}}`))
		})
	})
	signer, err := keys.NewSigner("ecdsa-p256")
	require.NoError(t, err)
	lg := login.New(sess, serverURL+"/acct/1", signer)
	ri := bindRenewalInfo(serverURL+"/renewal-info/bad", lg)

	err = ri.Update(context.Background())
	require.Error(t, err)
	var invalidErr *acme.InvalidArgumentError
	assert.ErrorAs(t, err, &invalidErr)
}

func mustParse(t *testing.T, s string) time.Time {
	t.Helper()
	tm, err := time.Parse(time.RFC3339, s)
	require.NoError(t, err)
	return tm
}

// fakeClock is a deterministic acme.Clock: Now returns its current
// instant, and After advances it by the full delay and fires immediately,
// so polling tests never sleep for real.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) After(d time.Duration) <-chan time.Time {
	c.mu.Lock()
	c.now = c.now.Add(d)
	now := c.now
	c.mu.Unlock()
	ch := make(chan time.Time, 1)
	ch <- now
	return ch
}

type fixedRng struct{ value int64 }

func (r fixedRng) Int63n(n int64) int64 {
	if r.value >= n {
		return n - 1
	}
	return r.value
}

func TestChangeKeySwapsLoginKeyPairAfterServerAccepts(t *testing.T) {
	var outerKid, innerURL string
	sess, serverURL := newTestSession(t, func(mux *http.ServeMux, serverURL string) {
		mux.HandleFunc("/key-change", func(w http.ResponseWriter, r *http.Request) {
			var envelope struct {
				Protected string `json:"protected"`
				Payload   string `json:"payload"`
			}
			require.NoError(t, json.NewDecoder(r.Body).Decode(&envelope))

			outerHeader, err := base64.RawURLEncoding.DecodeString(envelope.Protected)
			require.NoError(t, err)
			var outer struct {
				Kid string `json:"kid"`
			}
			require.NoError(t, json.Unmarshal(outerHeader, &outer))
			outerKid = outer.Kid

			innerRaw, err := base64.RawURLEncoding.DecodeString(envelope.Payload)
			require.NoError(t, err)
			var inner struct {
				Protected string `json:"protected"`
				Payload   string `json:"payload"`
			}
			require.NoError(t, json.Unmarshal(innerRaw, &inner))
			innerHeader, err := base64.RawURLEncoding.DecodeString(inner.Protected)
			require.NoError(t, err)
			var innerProt struct {
				Jwk json.RawMessage `json:"jwk"`
				URL string          `json:"url"`
			}
			require.NoError(t, json.Unmarshal(innerHeader, &innerProt))
			require.NotEmpty(t, innerProt.Jwk, "inner JWS must embed the new key's JWK")
			innerURL = innerProt.URL

			innerPayload, err := base64.RawURLEncoding.DecodeString(inner.Payload)
			require.NoError(t, err)
			var kc struct {
				Account string          `json:"account"`
				OldKey  json.RawMessage `json:"oldKey"`
			}
			require.NoError(t, json.Unmarshal(innerPayload, &kc))
			require.Equal(t, serverURL+"/acct/1", kc.Account)
			require.NotEmpty(t, kc.OldKey)

			w.Header().Set("Replay-Nonce", "cmVwbGF5LW5vbmNl")
		})
	})

	oldKey, err := keys.NewSigner("ecdsa-p256")
	require.NoError(t, err)
	newKey, err := keys.NewSigner("ecdsa-p256")
	require.NoError(t, err)
	lg := login.New(sess, serverURL+"/acct/1", oldKey)
	acct := BindAccount(lg)

	require.NoError(t, acct.ChangeKey(context.Background(), newKey))
	assert.Equal(t, serverURL+"/acct/1", outerKid)
	assert.Equal(t, serverURL+"/key-change", innerURL)
	assert.Equal(t, newKey, lg.Key(), "the Login must sign with the new key from now on")
}

func TestExecuteFinalizesOrderAndPollsUntilValid(t *testing.T) {
	var sawCSR string
	var orderPolls int
	sess, serverURL := newTestSession(t, func(mux *http.ServeMux, serverURL string) {
		mux.HandleFunc("/order/9", func(w http.ResponseWriter, r *http.Request) {
			orderPolls++
			w.Header().Set("Replay-Nonce", "cmVwbGF5LW5vbmNl")
			w.Header().Set("Retry-After", "1")
			_, _ = w.Write([]byte(`{
				"status":"valid",
				"finalize":"` + serverURL + `/order/9/finalize",
				"certificate":"` + serverURL + `/cert/9"
			}`))
		})
		mux.HandleFunc("/order/9/finalize", func(w http.ResponseWriter, r *http.Request) {
			var envelope struct{ Payload string }
			_ = json.NewDecoder(r.Body).Decode(&envelope)
			raw, err := base64.RawURLEncoding.DecodeString(envelope.Payload)
			require.NoError(t, err)
			var payload struct {
				CSR string `json:"csr"`
			}
			require.NoError(t, json.Unmarshal(raw, &payload))
			sawCSR = payload.CSR

			w.Header().Set("Replay-Nonce", "cmVwbGF5LW5vbmNl")
			w.Header().Set("Retry-After", "1")
			_, _ = w.Write([]byte(`{
				"status":"processing",
				"finalize":"` + serverURL + `/order/9/finalize"
			}`))
		})
	})
	signer, err := keys.NewSigner("ecdsa-p256")
	require.NoError(t, err)
	lg := login.New(sess, serverURL+"/acct/1", signer)
	order := BindOrder(serverURL+"/order/9", lg)

	csr := []byte{0x30, 0x82, 0x01, 0x02}
	require.NoError(t, order.Execute(context.Background(), csr, 10*time.Second))
	assert.Equal(t, "MIIBAg", sawCSR, "csr must be sent base64url without padding")

	status, err := order.Status(context.Background())
	require.NoError(t, err)
	assert.Equal(t, acme.StatusValid, status)

	cert, err := order.GetCertificate(context.Background())
	require.NoError(t, err)
	assert.Equal(t, serverURL+"/cert/9", cert.Location())
	assert.GreaterOrEqual(t, orderPolls, 1)
}

func TestGetRandomProposalIsDeterministicUnderInjectedClockAndRng(t *testing.T) {
	mux := http.NewServeMux()
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	mux.HandleFunc("/directory", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"newNonce": "` + server.URL + `/new-nonce"}`))
	})
	mux.HandleFunc("/new-nonce", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Replay-Nonce", "aW5pdGlhbC1ub25jZQ")
	})
	mux.HandleFunc("/renewal-info/y", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Replay-Nonce", "cmVwbGF5LW5vbmNl")
		_, _ = w.Write([]byte(`{"suggestedWindow":{"start":"2021-01-03T00:00:00Z","end":"2021-01-07T00:00:00Z"}}`))
	})

	sess, err := session.New(session.Config{
		ServerURI: server.URL + "/directory",
		Clock:     &fakeClock{now: mustParse(t, "2021-01-01T00:00:00Z")},
		Rng:       fixedRng{value: int64(12 * time.Hour)},
	})
	require.NoError(t, err)

	signer, err := keys.NewSigner("ecdsa-p256")
	require.NoError(t, err)
	lg := login.New(sess, server.URL+"/acct/1", signer)
	ri := bindRenewalInfo(server.URL+"/renewal-info/y", lg)

	proposal, ok, err := ri.GetRandomProposal(context.Background(), 24*time.Hour)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, mustParse(t, "2021-01-03T12:00:00Z"), proposal)

	_, ok, err = ri.GetRandomProposal(context.Background(), 5*24*time.Hour)
	require.NoError(t, err)
	assert.False(t, ok, "a lead time consuming the whole window yields no proposal")
}
