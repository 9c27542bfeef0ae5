package webhook

import (
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestManifestOmitsEmptyParts(t *testing.T) {
	assert.Equal(t, "id:abc123;request-id:req-1;ts:1700000000;", Manifest("ABC123", "req-1", "1700000000"))
	assert.Equal(t, "id:42;ts:1700000000;", Manifest("42", "", "1700000000"))
	assert.Equal(t, "", Manifest("", "", ""))
}

func TestVerify(t *testing.T) {
	const secret = "s3cret"
	now := time.Unix(1_700_000_000, 0)
	v := NewVerifier(secret, 5*time.Minute)
	v.now = func() time.Time { return now }

	valid := SignatureHeader(secret, "123", "req-1", now.Unix())

	tests := []struct {
		name      string
		header    string
		requestID string
		dataID    string
		want      error
	}{
		{"valid", valid, "req-1", "123", nil},
		{"valid with spaces", " ts=" + strconv.FormatInt(now.Unix(), 10) + " , v1=" + Sign(secret, Manifest("123", "req-1", strconv.FormatInt(now.Unix(), 10))), "req-1", "123", nil},
		{"missing header", "", "req-1", "123", ErrMissingSignature},
		{"missing v1", "ts=1700000000", "req-1", "123", ErrMissingSignature},
		{"tampered data id", valid, "req-1", "124", ErrInvalidSignature},
		{"tampered request id", valid, "req-2", "123", ErrInvalidSignature},
		{"wrong secret", SignatureHeader("other", "123", "req-1", now.Unix()), "req-1", "123", ErrInvalidSignature},
		{"non hex digest", "ts=1700000000,v1=zz", "req-1", "123", ErrInvalidSignature},
		{"too old", SignatureHeader(secret, "123", "req-1", now.Add(-10*time.Minute).Unix()), "req-1", "123", ErrStaleSignature},
		{"milliseconds", SignatureHeader(secret, "123", "req-1", now.UnixMilli()), "req-1", "123", nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := v.Verify(tt.header, tt.requestID, tt.dataID)
			if tt.want == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestVerifyWithoutTolerance(t *testing.T) {
	v := NewVerifier("s3cret", 0)
	old := SignatureHeader("s3cret", "123", "", time.Unix(1, 0).Unix())
	assert.NoError(t, v.Verify(old, "", "123"))
	assert.True(t, v.Enabled())
	assert.False(t, NewVerifier("", 0).Enabled())
}
