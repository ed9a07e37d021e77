// Package identity extracts the optional display identifier a client
// supplies when opening a signaling connection.
//
// The identifier only annotates relayed events (chat sender names,
// peer-joined/peer-left notices). It is never an authorization input; session
// authentication belongs to the external token layer, not this relay.
package identity

import (
	"log/slog"
	"net/http"
	"strings"
	"unicode/utf8"

	"github.com/golang-jwt/jwt/v5"
)

// maxDisplayNameLen bounds what ends up annotated on every relayed chat
// event.
const maxDisplayNameLen = 64

type Extractor struct {
	log    *slog.Logger
	secret []byte
	parser *jwt.Parser
}

// New builds an Extractor. When secret is non-empty, tokens with a bad
// signature are ignored (the connection still proceeds, just unnamed);
// with an empty secret, claims are read without verification since the
// name is informational anyway.
func New(log *slog.Logger, secret string) *Extractor {
	e := &Extractor{
		log:    log,
		parser: jwt.NewParser(jwt.WithValidMethods([]string{"HS256"})),
	}
	if secret != "" {
		e.secret = []byte(secret)
	}
	return e
}

// FromRequest resolves the display identifier for a new connection: an
// explicit ?name= wins, otherwise the name/sub claim of a ?token= JWT.
// Returns "" when nothing usable is present.
func (e *Extractor) FromRequest(r *http.Request) string {
	q := r.URL.Query()
	if name := clean(q.Get("name")); name != "" {
		return name
	}
	tok := q.Get("token")
	if tok == "" {
		return ""
	}
	return e.fromToken(tok)
}

func (e *Extractor) fromToken(tok string) string {
	claims := jwt.MapClaims{}

	if e.secret != nil {
		_, err := e.parser.ParseWithClaims(tok, claims, func(*jwt.Token) (interface{}, error) {
			return e.secret, nil
		})
		if err != nil {
			e.log.Debug("ignoring display token", "err", err)
			return ""
		}
	} else {
		if _, _, err := e.parser.ParseUnverified(tok, claims); err != nil {
			e.log.Debug("ignoring malformed display token", "err", err)
			return ""
		}
	}

	if name, _ := claims["name"].(string); clean(name) != "" {
		return clean(name)
	}
	if sub, _ := claims["sub"].(string); clean(sub) != "" {
		return clean(sub)
	}
	return ""
}

func clean(s string) string {
	s = strings.TrimSpace(s)
	if len(s) > maxDisplayNameLen {
		// Cut on a rune boundary; a split multi-byte rune would put invalid
		// UTF-8 on every annotated event.
		cut := maxDisplayNameLen
		for cut > 0 && !utf8.RuneStart(s[cut]) {
			cut--
		}
		s = s[:cut]
	}
	return s
}
