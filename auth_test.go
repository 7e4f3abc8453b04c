package ahttp

import (
	"encoding/base64"
	"strings"
	"testing"
)

func TestAnswerChallenge_Basic(t *testing.T) {
	a := &AuthSettings{Type: AuthBasic, User: "u", Password: "p"}

	authz, err := answerChallenge(a, `Basic realm="secure"`, "GET", "/")
	if err != nil {
		t.Fatalf("exp nil err, got: %v", err)
	}

	exp := "Basic " + base64.StdEncoding.EncodeToString([]byte("u:p"))
	if authz != exp {
		t.Errorf("exp %q, got %q", exp, authz)
	}
}

func TestAnswerChallenge_SchemeMismatch(t *testing.T) {
	basic := &AuthSettings{Type: AuthBasic, User: "u", Password: "p"}
	if _, err := answerChallenge(basic, `Digest realm="r", nonce="n"`, "GET", "/"); err == nil {
		t.Error("exp error answering digest challenge with basic credentials")
	}

	digest := &AuthSettings{Type: AuthDigest, User: "u", Password: "p", Realm: "r"}
	if _, err := answerChallenge(digest, `Basic realm="r"`, "GET", "/"); err == nil {
		t.Error("exp error answering basic challenge with digest credentials")
	}

	if _, err := answerChallenge(basic, `Bearer`, "GET", "/"); err == nil {
		t.Error("exp error for unsupported scheme")
	}
}

func TestAnswerChallenge_DigestFields(t *testing.T) {
	a := &AuthSettings{Type: AuthDigest, User: "mufasa", Password: "pw", Realm: "conf"}

	authz, err := answerChallenge(a, `Digest realm="testrealm", nonce="abc", qop="auth", opaque="xyz"`, "GET", "/dir/index.html")
	if err != nil {
		t.Fatalf("exp nil err, got: %v", err)
	}

	if !strings.HasPrefix(authz, "Digest ") {
		t.Fatalf("exp digest header, got %q", authz)
	}
	for _, want := range []string{
		`username="mufasa"`,
		`realm="testrealm"`, // challenge realm wins over the configured one
		`nonce="abc"`,
		`uri="/dir/index.html"`,
		"qop=auth",
		"nc=00000001",
		"cnonce=",
		"response=",
		`opaque="xyz"`,
	} {
		if !strings.Contains(authz, want) {
			t.Errorf("digest header missing %q: %s", want, authz)
		}
	}
}

func TestAnswerChallenge_DigestWithoutQop(t *testing.T) {
	a := &AuthSettings{Type: AuthDigest, User: "u", Password: "p", Realm: "r"}

	authz, err := answerChallenge(a, `Digest realm="r", nonce="n"`, "GET", "/")
	if err != nil {
		t.Fatalf("exp nil err, got: %v", err)
	}
	if strings.Contains(authz, "qop=") || strings.Contains(authz, "cnonce=") {
		t.Errorf("exp no qop fields in legacy digest, got %s", authz)
	}

	// The legacy computation is deterministic.
	authz2, err := answerChallenge(a, `Digest realm="r", nonce="n"`, "GET", "/")
	if err != nil {
		t.Fatalf("exp nil err, got: %v", err)
	}
	if authz != authz2 {
		t.Error("exp deterministic digest without qop")
	}
}

func TestAnswerChallenge_DigestMissingNonce(t *testing.T) {
	a := &AuthSettings{Type: AuthDigest, User: "u", Password: "p", Realm: "r"}
	if _, err := answerChallenge(a, `Digest realm="r"`, "GET", "/"); err == nil {
		t.Error("exp error for challenge without nonce")
	}
}

func TestParseChallengeParams(t *testing.T) {
	params := parseChallengeParams(`realm="test, with comma", nonce="abc", qop=auth`)

	if got := params["realm"]; got != "test, with comma" {
		t.Errorf("exp quoted comma preserved, got %q", got)
	}
	if got := params["nonce"]; got != "abc" {
		t.Errorf("exp nonce abc, got %q", got)
	}
	if got := params["qop"]; got != "auth" {
		t.Errorf("exp unquoted value parsed, got %q", got)
	}
}

func TestProxySettings_URL(t *testing.T) {
	p := &ProxySettings{Host: "proxy.local", Port: 3128}
	if got := p.url().String(); got != "http://proxy.local:3128" {
		t.Errorf("exp default http scheme, got %q", got)
	}

	p = &ProxySettings{Protocol: "https", Host: "proxy.local", Port: 443, User: "u", Password: "p"}
	if got := p.url().String(); got != "https://u:p@proxy.local:443" {
		t.Errorf("exp credentialed https proxy url, got %q", got)
	}
}
