package acme

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseProblemResolvesRelativeURIs(t *testing.T) {
	body := []byte(`{
		"type": "/errors/custom",
		"title": "Custom failure",
		"instance": "/acct/1/orders/5"
	}`)
	p, err := ParseProblem(body, "https://ca.test/acme/new-order")
	require.NoError(t, err)
	assert.Equal(t, "https://ca.test/errors/custom", p.Type)
	assert.Equal(t, "https://ca.test/acct/1/orders/5", p.Instance)
}

func TestProblemMessageFallbackChain(t *testing.T) {
	withDetail := Problem{Type: "urn:ietf:params:acme:error:malformed", Title: "t", Detail: "d"}
	assert.Equal(t, "d", withDetail.Message())

	withTitle := Problem{Type: "urn:ietf:params:acme:error:malformed", Title: "t"}
	assert.Equal(t, "t", withTitle.Message())

	bare := Problem{Type: "urn:ietf:params:acme:error:rateLimited"}
	assert.Equal(t, "rateLimited", bare.Message())
}

func TestProblemKindRecognizesOnlyACMEErrorURNs(t *testing.T) {
	acmeErr := Problem{Type: "urn:ietf:params:acme:error:badNonce"}
	assert.Equal(t, "badNonce", acmeErr.Kind())

	foreign := Problem{Type: "https://ca.test/errors/custom"}
	assert.Equal(t, "", foreign.Kind())
}

func TestParseProblemCarriesSubproblemsAndIdentifiers(t *testing.T) {
	body := []byte(`{
		"type": "urn:ietf:params:acme:error:compound",
		"detail": "some identifiers failed",
		"subproblems": [
			{
				"type": "urn:ietf:params:acme:error:unsupportedIdentifier",
				"detail": "tel is not supported",
				"identifier": {"type": "dns", "value": "bad.example.org"}
			}
		]
	}`)
	p, err := ParseProblem(body, "https://ca.test/acme/new-order")
	require.NoError(t, err)
	require.Len(t, p.Subproblems, 1)

	sub := p.Subproblems[0]
	assert.Equal(t, "unsupportedIdentifier", sub.Kind())
	require.NotNil(t, sub.Identifier)
	assert.Equal(t, "bad.example.org", sub.Identifier.Value)
}

func TestProblemJSONViewReadsExtensionMembers(t *testing.T) {
	body := []byte(`{"type":"urn:ietf:params:acme:error:rateLimited","x-request-id":"abc-123"}`)
	p, err := ParseProblem(body, "https://ca.test/acme/new-order")
	require.NoError(t, err)

	view, err := p.JSON()
	require.NoError(t, err)
	assert.Equal(t, "abc-123", view.String("x-request-id"))
}
