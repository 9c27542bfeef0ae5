package webhook

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeEnvelope(t *testing.T) {
	env, err := DecodeEnvelope([]byte(`{"id":12345,"type":"payment","action":"payment.updated","data":{"id":"987"}}`))
	require.NoError(t, err)
	assert.Equal(t, KindPayment, env.Kind())
	assert.Equal(t, "987", env.DataID())
	assert.Equal(t, "12345", env.EventID())
}

func TestDecodeEnvelopeNumericDataID(t *testing.T) {
	env, err := DecodeEnvelope([]byte(`{"type":"subscription_preapproval","action":"updated","data":{"id":555}}`))
	require.NoError(t, err)
	assert.Equal(t, KindPreapproval, env.Kind())
	assert.Equal(t, "555", env.DataID())
	assert.Equal(t, "subscription_preapproval:updated:555", env.EventID())
}

func TestDecodeEnvelopeRejectsIncomplete(t *testing.T) {
	for _, body := range []string{
		`not json`,
		`{"type":"payment","data":{}}`,
		`{"data":{"id":"1"}}`,
	} {
		_, err := DecodeEnvelope([]byte(body))
		assert.ErrorIs(t, err, ErrInvalidEnvelope, body)
	}
}

func TestParseKind(t *testing.T) {
	assert.Equal(t, KindAuthorizedPayment, ParseKind("subscription_authorized_payment"))
	assert.Equal(t, KindPayment, ParseKind(" Payment "))
	assert.Equal(t, KindUnknown, ParseKind("merchant_order"))
}
