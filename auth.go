package ahttp

import (
	"crypto/md5"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// answerChallenge builds the Authorization header for a WWW-Authenticate
// challenge. Only Basic and Digest (MD5, qop=auth) schemes are answered;
// anything else returns an error and the 401 stands.
func answerChallenge(a *AuthSettings, challenge, method, uri string) (string, error) {
	scheme, params, ok := strings.Cut(challenge, " ")
	if !ok {
		params = ""
	}

	switch {
	case strings.EqualFold(scheme, "Basic"):
		if a.Type != AuthBasic {
			return "", fmt.Errorf("server sent basic challenge but auth type is %q", a.Type)
		}
		creds := base64.StdEncoding.EncodeToString([]byte(a.User + ":" + a.Password))
		return "Basic " + creds, nil

	case strings.EqualFold(scheme, "Digest"):
		if a.Type != AuthDigest {
			return "", fmt.Errorf("server sent digest challenge but auth type is %q", a.Type)
		}
		return answerDigest(a, parseChallengeParams(params), method, uri)

	default:
		return "", fmt.Errorf("unsupported challenge scheme %q", scheme)
	}
}

// answerDigest computes an RFC 2617 MD5 digest response. The realm comes
// from the challenge; resolution already guaranteed one was configured.
func answerDigest(a *AuthSettings, params map[string]string, method, uri string) (string, error) {
	nonce := params["nonce"]
	if nonce == "" {
		return "", errors.New("digest challenge missing nonce")
	}
	realm := params["realm"]
	if realm == "" {
		realm = a.Realm
	}

	ha1 := md5Hex(a.User + ":" + realm + ":" + a.Password)
	ha2 := md5Hex(method + ":" + uri)

	var response string
	fields := []string{
		fmt.Sprintf("username=%q", a.User),
		fmt.Sprintf("realm=%q", realm),
		fmt.Sprintf("nonce=%q", nonce),
		fmt.Sprintf("uri=%q", uri),
	}

	if qop := params["qop"]; strings.Contains(qop, "auth") {
		cnonce := strings.ReplaceAll(uuid.NewString(), "-", "")
		const nc = "00000001"
		response = md5Hex(strings.Join([]string{ha1, nonce, nc, cnonce, "auth", ha2}, ":"))
		fields = append(fields,
			"qop=auth",
			"nc="+nc,
			fmt.Sprintf("cnonce=%q", cnonce),
		)
	} else {
		response = md5Hex(ha1 + ":" + nonce + ":" + ha2)
	}

	fields = append(fields, fmt.Sprintf("response=%q", response))
	if opaque := params["opaque"]; opaque != "" {
		fields = append(fields, fmt.Sprintf("opaque=%q", opaque))
	}

	return "Digest " + strings.Join(fields, ", "), nil
}

// parseChallengeParams splits `k1="v1", k2=v2` challenge parameters.
func parseChallengeParams(s string) map[string]string {
	params := map[string]string{}
	for _, field := range splitChallengeFields(s) {
		k, v, ok := strings.Cut(field, "=")
		if !ok {
			continue
		}
		params[strings.ToLower(strings.TrimSpace(k))] = strings.Trim(strings.TrimSpace(v), `"`)
	}
	return params
}

// splitChallengeFields splits on commas outside quoted strings.
func splitChallengeFields(s string) []string {
	var fields []string
	var sb strings.Builder
	inQuote := false
	for _, r := range s {
		switch {
		case r == '"':
			inQuote = !inQuote
			sb.WriteRune(r)
		case r == ',' && !inQuote:
			fields = append(fields, sb.String())
			sb.Reset()
		default:
			sb.WriteRune(r)
		}
	}
	if sb.Len() > 0 {
		fields = append(fields, sb.String())
	}
	return fields
}

func md5Hex(s string) string {
	sum := md5.Sum([]byte(s))
	return hex.EncodeToString(sum[:])
}
