package venue

import (
	"testing"

	apperrors "arbmaker/pkg/errors"

	"github.com/shopspring/decimal"
)

func TestRESTClient_ParseError(t *testing.T) {
	c := &RESTClient{}

	cases := []struct {
		name string
		body string
		want error
	}{
		{"auth failure", `{"code":-2015,"msg":"Invalid API-key"}`, apperrors.ErrAuthenticationFailed},
		{"notional too small", `{"code":-2010,"msg":"Filter failure: NOTIONAL"}`, apperrors.ErrNotionalTooSmall},
		{"insufficient funds", `{"code":-2010,"msg":"Account has insufficient balance"}`, apperrors.ErrInsufficientFunds},
		{"rate limit", `{"code":-1003,"msg":"Too many requests"}`, apperrors.ErrRateLimitExceeded},
		{"invalid symbol", `{"code":-1121,"msg":"Invalid symbol"}`, apperrors.ErrInvalidSymbol},
		{"unknown order", `{"code":-2011,"msg":"Unknown order sent"}`, apperrors.ErrUnknownOrder},
		{"invalid param", `{"code":-1013,"msg":"Invalid quantity"}`, apperrors.ErrInvalidOrderParameter},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := c.parseError(400, []byte(tc.body))
			if err != tc.want {
				t.Fatalf("parseError(%q) = %v, want %v", tc.body, err, tc.want)
			}
		})
	}
}

func TestRESTClient_ParseError_ServerError(t *testing.T) {
	c := &RESTClient{}
	err := c.parseError(503, []byte(`{"code":0,"msg":"system busy"}`))
	if err != apperrors.ErrExchangeMaintenance {
		t.Fatalf("expected exchange-maintenance for 5xx, got %v", err)
	}
}

func TestToLevels(t *testing.T) {
	levels, err := toLevels([][2]string{{"100.5", "2.0"}, {"100.25", "1.5"}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(levels) != 2 {
		t.Fatalf("expected 2 levels, got %d", len(levels))
	}
	if !levels[0].Price.Equal(decimal.NewFromFloat(100.5)) || !levels[0].Size.Equal(decimal.NewFromFloat(2.0)) {
		t.Fatalf("unexpected first level: %+v", levels[0])
	}
}

func TestToLevels_InvalidPrice(t *testing.T) {
	if _, err := toLevels([][2]string{{"not-a-number", "1.0"}}); err == nil {
		t.Fatal("expected an error for an invalid price")
	}
}
