package codec

import (
	"crypto/hmac"
	"crypto/md5"
	"encoding/hex"
	"fmt"
)

// SASLPlain builds the RFC 4616 PLAIN initial response:
// base64("\0" authzid/user "\0" pass).
func SASLPlain(user, pass string) string {
	raw := "\x00" + user + "\x00" + pass
	return Base64Encode([]byte(raw))
}

// SASLXOAuth2 builds the Google/Microsoft XOAUTH2 initial response:
// base64("user=" user "\x01auth=Bearer " token "\x01\x01").
func SASLXOAuth2(user, token string) string {
	raw := fmt.Sprintf("user=%s\x01auth=Bearer %s\x01\x01", user, token)
	return Base64Encode([]byte(raw))
}

// CRAMMD5Response computes the RFC 2195 CRAM-MD5 response to a
// base64-encoded server challenge: "user " + hex(HMAC-MD5(pass, challenge)).
func CRAMMD5Response(challengeB64, user, pass string) string {
	challenge := Base64Decode(challengeB64)
	mac := hmac.New(md5.New, []byte(pass))
	mac.Write(challenge)
	digest := hex.EncodeToString(mac.Sum(nil))
	return Base64Encode([]byte(user + " " + digest))
}

// DigestMD5Response computes the RFC 2831 DIGEST-MD5 response directive
// for qop=auth: A1 = MD5(user:realm:pass) (raw digest) ":" nonce ":"
// cnonce, HA2 = MD5("AUTHENTICATE:" digestURI), and
// response = HEX(MD5(HEX(MD5(A1)) ":" nonce ":" nc ":" cnonce ":" qop ":"
// HEX(HA2))). realm/qop come from the decoded challenge; nc/cnonce are
// caller-supplied connection parameters.
func DigestMD5Response(user, pass, realm, nonce, cnonce, nc, qop, digestURI string) string {
	urp := md5.Sum([]byte(fmt.Sprintf("%s:%s:%s", user, realm, pass)))
	ha1 := md5Hex(string(urp[:]) + ":" + nonce + ":" + cnonce)
	ha2 := md5Hex("AUTHENTICATE:" + digestURI)
	response := md5Hex(fmt.Sprintf("%s:%s:%s:%s:%s:%s", ha1, nonce, nc, cnonce, qop, ha2))

	directive := fmt.Sprintf(
		`username="%s",realm="%s",nonce="%s",cnonce="%s",nc=%s,qop=%s,digest-uri="%s",response=%s`,
		user, realm, nonce, cnonce, nc, qop, digestURI, response,
	)
	return Base64Encode([]byte(directive))
}

func md5Hex(s string) string {
	sum := md5.Sum([]byte(s))
	return hex.EncodeToString(sum[:])
}
