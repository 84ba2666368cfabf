package payment

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
)

// SignConfirmation computes the hex HMAC-SHA256 of "orderRef|paymentRef"
// with the shared webhook secret. The gateway sends the same value with
// every payment confirmation.
func SignConfirmation(secret []byte, orderRef, paymentRef string) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write([]byte(orderRef + "|" + paymentRef))
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature recomputes the confirmation signature and compares it in
// constant time. A forged or truncated signature never short-circuits early.
func VerifySignature(secret []byte, orderRef, paymentRef, signature string) bool {
	expected := SignConfirmation(secret, orderRef, paymentRef)
	return hmac.Equal([]byte(expected), []byte(signature))
}
