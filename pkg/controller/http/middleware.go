package http

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jwt"
	"github.com/m-mizutani/goerr/v2"
	"github.com/secmon-lab/mnemosyne/pkg/domain/types"
	"github.com/secmon-lab/mnemosyne/pkg/utils/errutil"
)

// AgentHeader carries the calling agent's ID when the server runs without a
// signing secret. With a secret configured the header is ignored and the
// identity comes from the verified token's sub claim.
const AgentHeader = "X-Mnemosyne-Agent"

// DefaultOpsAgent is the identity assumed for unauthenticated local requests
// that name no agent.
const DefaultOpsAgent types.AgentID = "operator"

type agentCtxKey struct{}

func withAgent(ctx context.Context, agentID types.AgentID) context.Context {
	return context.WithValue(ctx, agentCtxKey{}, agentID)
}

func agentFrom(ctx context.Context) types.AgentID {
	if agentID, ok := ctx.Value(agentCtxKey{}).(types.AgentID); ok {
		return agentID
	}
	return DefaultOpsAgent
}

// agentAuth resolves the calling agent for /api requests. With a secret it
// requires a bearer JWT signed with HS256 and takes the agent ID from the
// sub claim; without one it trusts the agent header.
func agentAuth(secret []byte) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if len(secret) == 0 {
				agentID := DefaultOpsAgent
				if v := r.Header.Get(AgentHeader); v != "" {
					agentID = types.AgentID(v)
				}
				if err := agentID.Validate(); err != nil {
					errutil.HandleHTTP(r.Context(), w, err, http.StatusBadRequest)
					return
				}
				next.ServeHTTP(w, r.WithContext(withAgent(r.Context(), agentID)))
				return
			}

			agentID, err := verifyBearer(r, secret)
			if err != nil {
				errutil.HandleHTTP(r.Context(), w, err, http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r.WithContext(withAgent(r.Context(), agentID)))
		})
	}
}

// verifyBearer parses and verifies the Authorization header.
// Allow 10 seconds of clock skew to handle time synchronization differences
func verifyBearer(r *http.Request, secret []byte) (types.AgentID, error) {
	header := r.Header.Get("Authorization")
	if header == "" {
		return "", goerr.New("authorization header required")
	}

	raw, ok := strings.CutPrefix(header, "Bearer ")
	if !ok {
		return "", goerr.New("authorization header must be a bearer token")
	}

	token, err := jwt.Parse([]byte(raw),
		jwt.WithKey(jwa.HS256, secret),
		jwt.WithValidate(true),
		jwt.WithAcceptableSkew(10*time.Second),
	)
	if err != nil {
		return "", goerr.Wrap(err, "failed to parse or verify bearer token")
	}

	agentID := types.AgentID(token.Subject())
	if err := agentID.Validate(); err != nil {
		return "", goerr.Wrap(err, "bearer token sub claim is not a valid agent ID")
	}

	return agentID, nil
}
