package provider

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"net/url"
	"strings"
)

// CallbackURL builds {base}/webhook/{provider}/{taskID}. With a secret the URL
// carries a token binding it to that provider and task.
func CallbackURL(baseURL, providerName, taskID, secret string) string {
	u := strings.TrimRight(baseURL, "/") + "/webhook/" + url.PathEscape(providerName) + "/" + url.PathEscape(taskID)
	if secret == "" {
		return u
	}
	return u + "?token=" + CallbackToken(secret, providerName, taskID)
}

func CallbackToken(secret, providerName, taskID string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(providerName + ":" + taskID))
	return hex.EncodeToString(mac.Sum(nil))
}

func VerifyCallbackToken(secret, providerName, taskID, token string) bool {
	expected := CallbackToken(secret, providerName, taskID)
	return hmac.Equal([]byte(expected), []byte(token))
}
