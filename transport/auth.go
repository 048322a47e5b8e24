package transport

import (
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/pkg/errors"

	"github.com/hanzoai/slotkv/cmn"
)

// Claims is the AUTH token payload exchanged during SEND_AUTH/READ_AUTH
// (spec §4.4/§4.5): the source node's identity and the cluster secret's
// epoch, so a target can reject a stale secret after a rotation.
type Claims struct {
	jwt.RegisteredClaims
	NodeID string `json:"node_id"`
	Epoch  int64  `json:"epoch"`
}

var (
	// ErrInvalidToken mirrors the teacher's authn token-validation sentinel,
	// adapted to the migration control channel's AUTH handshake.
	ErrInvalidToken = errors.New("invalid migration AUTH token")
	ErrTokenExpired = errors.New("migration AUTH token has expired")
)

// IssueToken signs an AUTH token for node nodeID, grounded on the
// teacher's HMAC-signed JWT pattern (authn/utils.go's DecryptToken
// counterpart on the issuing side).
func IssueToken(secret []byte, nodeID string, epoch int64, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		NodeID: nodeID,
		Epoch:  epoch,
	}
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return tok.SignedString(secret)
}

// DecryptToken verifies tokenStr against secret and extracts its claims,
// adapted from the teacher's authn.DecryptToken: reject any signing
// method other than HMAC, then unpack claims into a struct rather than
// handing the caller a raw claims map.
func DecryptToken(tokenStr string, secret []byte) (*Claims, error) {
	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(tokenStr, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return secret, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrTokenExpired
		}
		return nil, errors.Wrap(ErrInvalidToken, err.Error())
	}
	if !parsed.Valid {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// Authenticator holds the shared secret used to issue and verify AUTH
// tokens for the migration control channel (spec §6 "authentication
// helper"). One instance is shared process-wide; cmd/slotkvd builds it
// from the -auth-secret flag (or an ephemeral per-process secret).
type Authenticator struct {
	secret []byte
	epoch  int64
}

func NewAuthenticator(secret []byte, epoch int64) *Authenticator {
	return &Authenticator{secret: secret, epoch: epoch}
}

func (a *Authenticator) Issue(nodeID string) (string, error) {
	return IssueToken(a.secret, nodeID, a.epoch, cmn.GCO.Get().Migration.ClusterOperationTmo.D())
}

func (a *Authenticator) Verify(tokenStr string) (*Claims, error) {
	claims, err := DecryptToken(tokenStr, a.secret)
	if err != nil {
		return nil, err
	}
	if claims.Epoch != a.epoch {
		return nil, errors.Wrap(ErrInvalidToken, "cluster secret epoch mismatch")
	}
	return claims, nil
}
