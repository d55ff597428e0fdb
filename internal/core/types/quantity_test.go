package types

import (
	"encoding/json"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseQuantity(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"1", "1.0000"},
		{"-2.5", "-2.5000"},
		{" 3.25 ", "3.2500"},
		{"-0.5", "-0.5000"},
		{"1.5e2", "150.0000"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			q, err := ParseQuantity(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, q.String())
		})
	}

	for _, bad := range []string{"", "abc", "0.00019"} {
		_, err := ParseQuantity(bad)
		assert.Error(t, err, bad)
	}
}

func TestQuantity_JSON(t *testing.T) {
	var v struct {
		Qty Quantity `json:"qty"`
	}
	require.NoError(t, json.Unmarshal([]byte(`{"qty":"12.5"}`), &v))
	assert.Equal(t, QuantityFromScaled(125_000), v.Qty)

	require.NoError(t, json.Unmarshal([]byte(`{"qty":-3}`), &v))
	assert.Equal(t, NewQuantity(-3), v.Qty)

	assert.Error(t, json.Unmarshal([]byte(`{"qty":1.23456}`), &v))

	out, err := json.Marshal(v)
	require.NoError(t, err)
	assert.JSONEq(t, `{"qty":-3.0000}`, string(out))
}

func TestQuantity_Pricing(t *testing.T) {
	q := QuantityFromScaled(25_000)
	assert.True(t, q.Decimal().Equal(decimal.RequireFromString("2.5")))
	assert.True(t, q.Mul(MustMoney("4")).Equal(decimal.NewFromInt(10)))
	assert.Equal(t, 2.5, q.Float64())
	assert.Equal(t, NewQuantity(2), NewQuantity(-2).Abs())
}

func TestRoundMoney(t *testing.T) {
	m := MustMoney("1").Div(MustMoney("3"))
	assert.Equal(t, "0.333333", RoundMoney(m).String())
}
