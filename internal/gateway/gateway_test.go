package gateway

import (
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testClient() *Client {
	c := NewClient(Config{
		TmnCode:    "CINEMA01",
		HashSecret: "topsecret",
		PayURL:     "https://gw.example.com/pay",
		ReturnURL:  "https://tickets.example.com/v1/payment/return",
		Window:     15 * time.Minute,
	})
	c.SetClock(func() time.Time {
		return time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	})
	return c
}

// paramsFromURL flattens a signed redirect URL back into the parameter
// map the verifier consumes.
func paramsFromURL(t *testing.T, raw string) map[string]string {
	t.Helper()
	u, err := url.Parse(raw)
	require.NoError(t, err)
	params := make(map[string]string)
	for k, vs := range u.Query() {
		params[k] = vs[0]
	}
	return params
}

func TestBuildPaymentURLIsSelfVerifying(t *testing.T) {
	c := testClient()
	raw, err := c.BuildPaymentURL("ORDER-123", 250000, "2 tickets", "203.0.113.9")
	require.NoError(t, err)

	params := paramsFromURL(t, raw)
	assert.Equal(t, "ORDER-123", params[ParamTxnRef])
	assert.Equal(t, "250000", params[ParamAmount])
	assert.Equal(t, "20240601120000", params["vnp_CreateDate"])
	assert.Equal(t, "20240601121500", params["vnp_ExpireDate"])
	assert.True(t, c.VerifyChecksum(params))
}

func TestVerifyChecksumRejectsTampering(t *testing.T) {
	c := testClient()
	raw, err := c.BuildPaymentURL("ORDER-123", 250000, "2 tickets", "203.0.113.9")
	require.NoError(t, err)

	params := paramsFromURL(t, raw)
	params[ParamAmount] = "1"
	assert.False(t, c.VerifyChecksum(params))
}

func TestVerifyChecksumRejectsMissingHash(t *testing.T) {
	c := testClient()
	assert.False(t, c.VerifyChecksum(map[string]string{ParamTxnRef: "x"}))
}

func TestVerifyChecksumRejectsWrongSecret(t *testing.T) {
	c := testClient()
	raw, err := c.BuildPaymentURL("ORDER-123", 250000, "2 tickets", "203.0.113.9")
	require.NoError(t, err)

	other := NewClient(Config{HashSecret: "different", PayURL: "x", ReturnURL: "y"})
	assert.False(t, other.VerifyChecksum(paramsFromURL(t, raw)))
}

func TestCanonicalizeSortsAndSkipsEmpty(t *testing.T) {
	got := Canonicalize(map[string]string{
		"b":     "2",
		"a":     "1 x",
		"empty": "",
	})
	assert.Equal(t, "a=1+x&b=2", got)
}

func TestAmount(t *testing.T) {
	n, err := Amount(map[string]string{ParamAmount: "12345"})
	require.NoError(t, err)
	assert.Equal(t, int64(12345), n)

	_, err = Amount(map[string]string{})
	assert.Error(t, err)
}
