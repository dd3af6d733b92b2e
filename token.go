package identity

import (
	"crypto/rand"
	"encoding/base32"
	"io"

	goerrors "github.com/goliatone/go-errors"
)

// TokenLength is the fixed length of every issued opaque token.
const TokenLength = 64

// tokenEntropyBytes encode to exactly TokenLength base32 characters.
const tokenEntropyBytes = 40

var tokenEncoding = base32.StdEncoding.WithPadding(base32.NoPadding)

// TokenIssuer produces opaque single-use secrets for password reset and
// email confirmation flows. Issuance is pure generation: uniqueness is
// enforced by the storage unique indexes, not here.
type TokenIssuer interface {
	IssueToken() (string, error)
}

// TokenIssuerFunc adapts a function to the TokenIssuer interface.
type TokenIssuerFunc func() (string, error)

// IssueToken implements TokenIssuer.
func (f TokenIssuerFunc) IssueToken() (string, error) {
	return f()
}

type randomTokenIssuer struct {
	source io.Reader
}

// NewTokenIssuer returns a TokenIssuer backed by the platform CSPRNG.
func NewTokenIssuer() TokenIssuer {
	return &randomTokenIssuer{source: rand.Reader}
}

// NewTokenIssuerFromReader returns a TokenIssuer reading entropy from the
// given source. Meant for tests; production callers want NewTokenIssuer.
func NewTokenIssuerFromReader(source io.Reader) TokenIssuer {
	if source == nil {
		source = rand.Reader
	}
	return &randomTokenIssuer{source: source}
}

func (g *randomTokenIssuer) IssueToken() (string, error) {
	buf := make([]byte, tokenEntropyBytes)
	if _, err := io.ReadFull(g.source, buf); err != nil {
		return "", goerrors.Wrap(err, goerrors.CategoryInternal, "failed to read token entropy")
	}
	return tokenEncoding.EncodeToString(buf), nil
}
