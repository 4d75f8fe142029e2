package gateway

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/terryso/binance-dashboard/internal/clock"
)

const (
	testAPIKey    = "test-api-key"
	testAPISecret = "test-api-secret"
)

// newTestGateway builds a gateway pointed at the given handler, with the
// background server-time sync suppressed so handlers only see the calls
// the test makes.
func newTestGateway(t *testing.T, handler http.Handler, maxRetries int) *Gateway {
	t.Helper()

	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	clk := clock.System()
	g := New(Config{
		Credentials: Credentials{APIKey: testAPIKey, APISecret: testAPISecret},
		Timeout:     2 * time.Second,
		RecvWindow:  5 * time.Second,
		MaxRetries:  maxRetries,
	}, clk, zap.NewNop())
	g.baseURL = srv.URL
	g.lastTimeSync.Store(clk.Now().UnixMilli())
	return g
}

func TestGateway_SignedRequest(t *testing.T) {
	var gotPath, gotQuery, gotSig, gotKey string

	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotKey = r.Header.Get("X-MBX-APIKEY")
		gotSig = r.URL.Query().Get("signature")
		raw := r.URL.RawQuery
		gotQuery = raw[:len(raw)-len("&signature=")-len(gotSig)]
		w.Write([]byte(`{"totalWalletBalance":"1000.5","availableBalance":"900","totalMarginBalance":"1010","totalUnrealizedProfit":"9.5","totalMaintMargin":"50","assets":[]}`))
	})

	g := newTestGateway(t, handler, 0)
	snap, err := g.Account(context.Background())
	require.NoError(t, err)

	assert.Equal(t, "/fapi/v2/account", gotPath)
	assert.Equal(t, testAPIKey, gotKey)

	// The signature must verify against the query exactly as sent.
	mac := hmac.New(sha256.New, []byte(testAPISecret))
	mac.Write([]byte(gotQuery))
	assert.Equal(t, hex.EncodeToString(mac.Sum(nil)), gotSig)

	assert.True(t, snap.WalletBalance.Equal(decimal.RequireFromString("1000.5")))
	assert.True(t, snap.Equity().Equal(decimal.RequireFromString("1010")))
	assert.False(t, snap.FetchedAt.IsZero())
}

func TestGateway_ErrorMapping(t *testing.T) {
	t.Run("rate limit carries retry hint", func(t *testing.T) {
		handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Retry-After", "7")
			w.WriteHeader(http.StatusTooManyRequests)
			w.Write([]byte(`{"code":-1003,"msg":"Too many requests"}`))
		})

		g := newTestGateway(t, handler, 0)
		_, err := g.Account(context.Background())
		require.Error(t, err)

		hint, ok := RetryAfter(err)
		require.True(t, ok)
		assert.Equal(t, 7*time.Second, hint)
		assert.True(t, Retryable(err))
	})

	t.Run("auth error is not retried", func(t *testing.T) {
		attempts := 0
		handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			attempts++
			w.WriteHeader(http.StatusUnauthorized)
			w.Write([]byte(`{"code":-2015,"msg":"Invalid API-key"}`))
		})

		g := newTestGateway(t, handler, 3)
		_, err := g.Account(context.Background())
		require.Error(t, err)

		var authErr *AuthError
		require.ErrorAs(t, err, &authErr)
		assert.Equal(t, -2015, authErr.Code)
		assert.Equal(t, 1, attempts)
		assert.False(t, Retryable(err))
	})

	t.Run("bad signature code maps to auth even on 400", func(t *testing.T) {
		handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusBadRequest)
			w.Write([]byte(`{"code":-1022,"msg":"Signature for this request is not valid."}`))
		})

		g := newTestGateway(t, handler, 0)
		_, err := g.Account(context.Background())

		var authErr *AuthError
		require.ErrorAs(t, err, &authErr)
		assert.Equal(t, -1022, authErr.Code)
	})

	t.Run("server error retried then succeeds", func(t *testing.T) {
		attempts := 0
		handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			attempts++
			if attempts == 1 {
				w.WriteHeader(http.StatusInternalServerError)
				return
			}
			w.Write([]byte(`{}`))
		})

		g := newTestGateway(t, handler, 2)
		require.NoError(t, g.Ping(context.Background()))
		assert.Equal(t, 2, attempts)
	})

	t.Run("malformed body is a protocol error, not retried", func(t *testing.T) {
		attempts := 0
		handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			attempts++
			w.Write([]byte(`{"totalWalletBalance": not-json`))
		})

		g := newTestGateway(t, handler, 3)
		_, err := g.Account(context.Background())

		var protoErr *ProtocolError
		require.ErrorAs(t, err, &protoErr)
		assert.Equal(t, 1, attempts)
	})

	t.Run("malformed decimal field is a protocol error", func(t *testing.T) {
		handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(`{"totalWalletBalance":"abc","availableBalance":"0","totalMarginBalance":"0","totalUnrealizedProfit":"0","totalMaintMargin":"0","assets":[]}`))
		})

		g := newTestGateway(t, handler, 0)
		_, err := g.Account(context.Background())

		var protoErr *ProtocolError
		require.ErrorAs(t, err, &protoErr)
		assert.Contains(t, err.Error(), "totalWalletBalance")
	})
}

func TestClassifyResponse(t *testing.T) {
	tests := []struct {
		name   string
		status int
		code   int
		want   any
	}{
		{"429", http.StatusTooManyRequests, 0, &RateLimitError{}},
		{"418 auto-ban", http.StatusTeapot, 0, &RateLimitError{}},
		{"-1003 on 400", http.StatusBadRequest, codeTooManyRequests, &RateLimitError{}},
		{"401", http.StatusUnauthorized, 0, &AuthError{}},
		{"403", http.StatusForbidden, 0, &AuthError{}},
		{"timestamp outside recvWindow", http.StatusBadRequest, codeTimestampOutside, &AuthError{}},
		{"missing api key", http.StatusBadRequest, codeMissingAPIKey, &AuthError{}},
		{"503", http.StatusServiceUnavailable, 0, &TransientError{}},
		{"unexpected 400", http.StatusBadRequest, -1102, &ProtocolError{}},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := classifyResponse(tc.status, tc.code, "msg", time.Second)
			switch tc.want.(type) {
			case *RateLimitError:
				var e *RateLimitError
				assert.ErrorAs(t, err, &e)
			case *AuthError:
				var e *AuthError
				assert.ErrorAs(t, err, &e)
			case *TransientError:
				var e *TransientError
				assert.ErrorAs(t, err, &e)
			case *ProtocolError:
				var e *ProtocolError
				assert.ErrorAs(t, err, &e)
			}
		})
	}
}

func TestGateway_PositionRiskPrunesZeroRows(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[
			{"symbol":"BTCUSDT","positionAmt":"0.5","entryPrice":"40000","markPrice":"41000","unRealizedProfit":"500","liquidationPrice":"30000","leverage":"5","marginType":"cross","positionSide":"BOTH","notional":"20500","updateTime":1700000000000},
			{"symbol":"ETHUSDT","positionAmt":"0","entryPrice":"0","markPrice":"2000","unRealizedProfit":"0","liquidationPrice":"0","leverage":"10","marginType":"cross","positionSide":"BOTH","notional":"0","updateTime":1700000000000},
			{"symbol":"SOLUSDT","positionAmt":"-10","entryPrice":"100","markPrice":"95","unRealizedProfit":"50","liquidationPrice":"150","leverage":"3","marginType":"isolated","positionSide":"BOTH","notional":"-950","updateTime":1700000000000}
		]`))
	})

	g := newTestGateway(t, handler, 0)
	positions, err := g.PositionRisk(context.Background())
	require.NoError(t, err)
	require.Len(t, positions, 2)

	btc := positions[0]
	assert.Equal(t, "BTCUSDT", btc.Symbol)
	assert.True(t, btc.IsLong(), "BOTH with positive amount is long")

	sol := positions[1]
	assert.False(t, sol.IsLong(), "BOTH with negative amount is short")
	assert.True(t, sol.Notional.Equal(decimal.RequireFromString("950")), "notional reported unsigned")
	assert.True(t, sol.Size().Equal(decimal.RequireFromString("10")))
}
