package publish

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jwt"
)

const bodyDigestClaim = "sha256"

var ErrSignatureMismatch = errors.New("message body does not match its signature")

// Signer produces a short lived HS256 token binding a message body to the
// content id it describes, so consumers can check where a message came from.
type Signer struct {
	key    []byte
	issuer string
	ttl    time.Duration
}

func NewSigner(key []byte, issuer string) (*Signer, error) {
	if len(key) == 0 {
		return nil, errors.New("signing key cannot be empty")
	}
	return &Signer{key: key, issuer: issuer, ttl: 24 * time.Hour}, nil
}

func (s *Signer) Sign(contentID string, body []byte) ([]byte, error) {
	sum := sha256.Sum256(body)
	now := time.Now()
	tok := jwt.New()
	if err := tok.Set(jwt.SubjectKey, contentID); err != nil {
		return nil, err
	}
	if s.issuer != "" {
		if err := tok.Set(jwt.IssuerKey, s.issuer); err != nil {
			return nil, err
		}
	}
	if err := tok.Set(jwt.IssuedAtKey, now); err != nil {
		return nil, err
	}
	if err := tok.Set(jwt.ExpirationKey, now.Add(s.ttl)); err != nil {
		return nil, err
	}
	if err := tok.Set(bodyDigestClaim, hex.EncodeToString(sum[:])); err != nil {
		return nil, err
	}
	return jwt.Sign(tok, jwt.WithKey(jwa.HS256, s.key))
}

// Verify checks the token signature and that it was issued for body.
func (s *Signer) Verify(token, body []byte) (jwt.Token, error) {
	tok, err := jwt.Parse(token, jwt.WithKey(jwa.HS256, s.key), jwt.WithValidate(true))
	if err != nil {
		return nil, err
	}
	v, ok := tok.Get(bodyDigestClaim)
	if !ok {
		return nil, fmt.Errorf("%w: no %s claim", ErrSignatureMismatch, bodyDigestClaim)
	}
	sum := sha256.Sum256(body)
	if v != hex.EncodeToString(sum[:]) {
		return nil, ErrSignatureMismatch
	}
	return tok, nil
}
