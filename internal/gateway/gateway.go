// Package gateway implements the signed-redirect contract with the
// payment gateway: an ordered, URL-encoded parameter set with an
// HMAC-SHA512 checksum over the canonicalized query string. The same
// scheme signs the outbound redirect URL and validates the inbound IPN
// and browser-return parameter sets; no field is trusted before the
// checksum matches.
package gateway

import (
	"crypto/hmac"
	"crypto/sha512"
	"encoding/hex"
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"
)

// Well-known gateway parameter and code names.
const (
	ParamAmount        = "vnp_Amount"
	ParamTxnRef        = "vnp_TxnRef"
	ParamResponseCode  = "vnp_ResponseCode"
	ParamTransactionNo = "vnp_TransactionNo"
	ParamSecureHash    = "vnp_SecureHash"
	paramSecureHashTyp = "vnp_SecureHashType"

	// CodeSuccess is the gateway's "payment approved" response code.
	CodeSuccess = "00"
)

// Config is the merchant-side gateway configuration.
type Config struct {
	TmnCode    string        // merchant terminal code
	HashSecret string        // shared HMAC secret
	PayURL     string        // gateway payment page
	ReturnURL  string        // browser return endpoint on our side
	Window     time.Duration // how long the payment page stays valid
}

// Client builds signed redirect URLs and validates callback checksums.
type Client struct {
	cfg Config
	now func() time.Time
}

// NewClient returns a gateway client. The clock is only used for the
// create/expire timestamps embedded in redirect URLs.
func NewClient(cfg Config) *Client {
	if cfg.Window <= 0 {
		cfg.Window = 20 * time.Minute
	}
	return &Client{cfg: cfg, now: time.Now}
}

// SetClock replaces the client's time source. Tests only.
func (c *Client) SetClock(now func() time.Time) { c.now = now }

// timestamp layout required by the gateway.
const dateLayout = "20060102150405"

// BuildPaymentURL assembles and signs the redirect URL for a pending
// payment. txnRef must be the order code; amountCents must equal the
// payment row's amount exactly, since the callback is rejected on any
// mismatch.
func (c *Client) BuildPaymentURL(txnRef string, amountCents int64, orderInfo, clientIP string) (string, error) {
	if txnRef == "" {
		return "", fmt.Errorf("gateway: empty txn ref")
	}
	now := c.now()
	params := map[string]string{
		"vnp_Version":   "2.1.0",
		"vnp_Command":   "pay",
		"vnp_TmnCode":   c.cfg.TmnCode,
		"vnp_CurrCode":  "VND",
		"vnp_Locale":    "vn",
		"vnp_OrderType": "250000",
		ParamAmount:     strconv.FormatInt(amountCents, 10),
		ParamTxnRef:     txnRef,
		"vnp_OrderInfo": orderInfo,
		"vnp_IpAddr":    clientIP,
		"vnp_ReturnUrl": c.cfg.ReturnURL,
		"vnp_CreateDate": now.Format(dateLayout),
		"vnp_ExpireDate": now.Add(c.cfg.Window).Format(dateLayout),
	}
	query := Canonicalize(params)
	hash := c.Sign(query)
	return c.cfg.PayURL + "?" + query + "&" + ParamSecureHash + "=" + hash, nil
}

// VerifyChecksum recomputes the HMAC over every supplied parameter
// except the hash fields themselves and compares it in constant time
// against the supplied vnp_SecureHash. All callback handling starts
// here; a false return means nothing in the parameter set may be
// believed.
func (c *Client) VerifyChecksum(params map[string]string) bool {
	supplied, ok := params[ParamSecureHash]
	if !ok || supplied == "" {
		return false
	}
	rest := make(map[string]string, len(params))
	for k, v := range params {
		if k == ParamSecureHash || k == paramSecureHashTyp {
			continue
		}
		rest[k] = v
	}
	expected := c.Sign(Canonicalize(rest))
	return hmac.Equal([]byte(strings.ToLower(supplied)), []byte(expected))
}

// Sign returns the lowercase hex HMAC-SHA512 of data under the shared
// secret.
func (c *Client) Sign(data string) string {
	mac := hmac.New(sha512.New, []byte(c.cfg.HashSecret))
	mac.Write([]byte(data))
	return hex.EncodeToString(mac.Sum(nil))
}

// Canonicalize produces the query string the checksum is computed over:
// parameters sorted by key, keys and values URL-encoded, empty values
// dropped.
func Canonicalize(params map[string]string) string {
	keys := make([]string, 0, len(params))
	for k, v := range params {
		if v == "" {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var b strings.Builder
	for i, k := range keys {
		if i > 0 {
			b.WriteByte('&')
		}
		b.WriteString(url.QueryEscape(k))
		b.WriteByte('=')
		b.WriteString(url.QueryEscape(params[k]))
	}
	return b.String()
}

// Amount parses the amount parameter from a callback set.
func Amount(params map[string]string) (int64, error) {
	return strconv.ParseInt(params[ParamAmount], 10, 64)
}
