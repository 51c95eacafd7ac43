package middleware

import (
	"crypto/sha1"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"net/http"
	"strings"

	auth "github.com/abbot/go-http-auth"
	"golang.org/x/crypto/bcrypt"

	"github.com/wudi/verkehr/internal/config"
	"github.com/wudi/verkehr/internal/errors"
)

type basicAuth struct {
	users        map[string]string // user -> hash
	header       string
	headerField  string
	removeHeader bool
	realm        string
}

func newBasicAuth(cfg *config.BasicAuth) (*basicAuth, error) {
	b := &basicAuth{
		users:        make(map[string]string, len(cfg.Users)),
		header:       cfg.Header,
		headerField:  cfg.HeaderField,
		removeHeader: cfg.RemoveHeader,
		realm:        cfg.Realm,
	}
	if b.header == "" {
		b.header = "Authorization"
	}
	if b.realm == "" {
		b.realm = "verkehr"
	}
	for _, entry := range cfg.Users {
		user, hash, ok := strings.Cut(entry, ":")
		if !ok || user == "" || hash == "" {
			return nil, fmt.Errorf("invalid users entry %q, expected user:hash", entry)
		}
		if !supportedHash(hash) {
			return nil, fmt.Errorf("user %s: unsupported password hash", user)
		}
		b.users[user] = hash
	}
	if len(b.users) == 0 {
		return nil, fmt.Errorf("at least one user is required")
	}
	return b, nil
}

// incoming answers 401 when credentials are absent and the internal
// error outcome when they do not verify.
func (b *basicAuth) incoming(req *http.Request) Outcome {
	value := req.Header.Get(b.header)
	if value == "" {
		resp := ErrorResponse(errors.ErrUnauthorized)
		resp.Header.Set("WWW-Authenticate", fmt.Sprintf("Basic realm=%q", b.realm))
		return Respond(resp)
	}

	user, password, ok := decodeBasic(value)
	if !ok {
		return Respond(ErrorResponse(errors.ErrInternalServer.WithDetails("malformed basic credentials")))
	}
	hash, known := b.users[user]
	if !known || !checkSecret(password, hash) {
		return Respond(ErrorResponse(errors.ErrInternalServer.WithDetails("invalid credentials")))
	}

	if b.removeHeader {
		req.Header.Del(b.header)
	}
	if b.headerField != "" {
		req.Header.Set(b.headerField, user)
	}
	return Continue()
}

func decodeBasic(value string) (user, password string, ok bool) {
	const prefix = "basic "
	if len(value) < len(prefix) || !strings.EqualFold(value[:len(prefix)], prefix) {
		return "", "", false
	}
	raw, err := base64.StdEncoding.DecodeString(strings.TrimSpace(value[len(prefix):]))
	if err != nil {
		return "", "", false
	}
	return strings.Cut(string(raw), ":")
}

func supportedHash(hash string) bool {
	switch {
	case strings.HasPrefix(hash, "{SHA}"),
		strings.HasPrefix(hash, "$apr1$"),
		strings.HasPrefix(hash, "$2y$"),
		strings.HasPrefix(hash, "$2a$"),
		strings.HasPrefix(hash, "$2b$"):
		return true
	}
	return false
}

// checkSecret verifies password against an htpasswd-style hash.
func checkSecret(password, hash string) bool {
	switch {
	case strings.HasPrefix(hash, "{SHA}"):
		sum := sha1.Sum([]byte(password))
		want := base64.StdEncoding.EncodeToString(sum[:])
		return subtle.ConstantTimeCompare([]byte(hash[len("{SHA}"):]), []byte(want)) == 1
	case strings.HasPrefix(hash, "$apr1$"):
		parts := strings.SplitN(hash, "$", 4)
		if len(parts) != 4 {
			return false
		}
		got := auth.MD5Crypt([]byte(password), []byte(parts[2]), []byte("$apr1$"))
		return subtle.ConstantTimeCompare(got, []byte(hash)) == 1
	default:
		return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
	}
}
