package middleware

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/quadpoll/internal/crypto"
	"github.com/alanyoungcy/quadpoll/internal/domain"
)

// Identity headers.
const (
	HeaderParticipant = "X-Participant"
	HeaderTimestamp   = "X-Timestamp"
	HeaderSignature   = "X-Signature"
	HeaderNonce       = "X-Nonce"
)

// maxSignedBody bounds the body read for signature verification.
const maxSignedBody = 1 << 20

const maxNonceLen = 64

var errNonceStore = errors.New("nonce store unavailable")

type participantKey struct{}

// Participant returns the caller address established by Identity.
func Participant(ctx context.Context) (common.Address, bool) {
	addr, ok := ctx.Value(participantKey{}).(common.Address)
	return addr, ok
}

// WithParticipant returns ctx carrying addr.
func WithParticipant(ctx context.Context, addr common.Address) context.Context {
	return context.WithValue(ctx, participantKey{}, addr)
}

// IdentityConfig controls participant authentication.
type IdentityConfig struct {
	// RequireSignatures makes every state-changing request prove control of
	// the X-Participant address.
	RequireSignatures bool
	MaxSkew           time.Duration
	// Nonces remembers accepted request nonces for twice MaxSkew. A nonce
	// already held is a replay. Nil disables the check.
	Nonces domain.LockManager
	Now    func() time.Time
}

// Identity returns middleware that reads the X-Participant header into the
// request context. Requests without the header pass through anonymously.
// When signatures are required, non-GET requests must also carry
// X-Timestamp, X-Nonce and an X-Signature over crypto.RequestMessage, and
// each nonce is accepted once.
func Identity(cfg IdentityConfig) func(http.Handler) http.Handler {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw := strings.TrimSpace(r.Header.Get(HeaderParticipant))
			if raw == "" {
				next.ServeHTTP(w, r)
				return
			}
			if !common.IsHexAddress(raw) {
				writeRejection(w, http.StatusBadRequest, "INVALID_ADDRESS", "malformed participant address")
				return
			}
			addr := common.HexToAddress(raw)

			if cfg.RequireSignatures && mutating(r.Method) {
				if err := verifyRequest(r, addr, cfg); err != nil {
					if errors.Is(err, errNonceStore) {
						writeRejection(w, http.StatusServiceUnavailable, "UNAVAILABLE", err.Error())
						return
					}
					writeRejection(w, http.StatusUnauthorized, "UNAUTHORIZED", err.Error())
					return
				}
			}

			next.ServeHTTP(w, r.WithContext(WithParticipant(r.Context(), addr)))
		})
	}
}

func mutating(method string) bool {
	switch method {
	case http.MethodGet, http.MethodHead, http.MethodOptions:
		return false
	}
	return true
}

// verifyRequest checks the timestamp window, the signature and the nonce,
// then restores the body for the handler.
func verifyRequest(r *http.Request, addr common.Address, cfg IdentityConfig) error {
	ts, err := strconv.ParseInt(strings.TrimSpace(r.Header.Get(HeaderTimestamp)), 10, 64)
	if err != nil {
		return errors.New("missing or malformed timestamp")
	}
	skew := cfg.Now().Sub(time.Unix(ts, 0))
	if skew < 0 {
		skew = -skew
	}
	if cfg.MaxSkew > 0 && skew > cfg.MaxSkew {
		return errors.New("timestamp outside allowed window")
	}
	sig := r.Header.Get(HeaderSignature)
	if sig == "" {
		return errors.New("missing signature")
	}
	nonce := strings.TrimSpace(r.Header.Get(HeaderNonce))
	if !validNonce(nonce) {
		return errors.New("missing or malformed nonce")
	}

	var body []byte
	if r.Body != nil {
		body, err = io.ReadAll(io.LimitReader(r.Body, maxSignedBody))
		if err != nil {
			return errors.New("unreadable body")
		}
		r.Body.Close()
	}
	r.Body = io.NopCloser(bytes.NewReader(body))

	if err := crypto.Verify(addr, crypto.RequestMessage(r.Method, r.URL.Path, ts, nonce, body), sig); err != nil {
		return errors.New("signature does not match participant")
	}
	return consumeNonce(r.Context(), cfg, addr, nonce)
}

// consumeNonce claims nonce for addr. The claim is never released; it expires
// once the timestamp window has passed.
func consumeNonce(ctx context.Context, cfg IdentityConfig, addr common.Address, nonce string) error {
	if cfg.Nonces == nil {
		return nil
	}
	ttl := 2 * cfg.MaxSkew
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	key := "nonce:" + strings.ToLower(addr.Hex()) + ":" + nonce
	if _, err := cfg.Nonces.Acquire(ctx, key, ttl); err != nil {
		if errors.Is(err, domain.ErrLockHeld) {
			return errors.New("nonce already used")
		}
		return errNonceStore
	}
	return nil
}

// validNonce accepts 1-64 characters of [A-Za-z0-9_-].
func validNonce(n string) bool {
	if n == "" || len(n) > maxNonceLen {
		return false
	}
	for _, c := range n {
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9', c == '-', c == '_':
		default:
			return false
		}
	}
	return true
}
