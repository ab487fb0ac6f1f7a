package market

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/verdantgrid/irecdesk/internal/state"
	"github.com/verdantgrid/irecdesk/internal/txflow"
)

func fractionalListing(price int64, totalEnergy, energyPerToken uint64) state.Listing {
	l := state.Listing{
		ListingID:      7,
		Seller:         "0x70997970C51812dc3A010C7d01b50e0d17dc79C8",
		TokenID:        3,
		Price:          big.NewInt(price),
		Active:         true,
		TotalEnergy:    totalEnergy,
		EnergyPerToken: energyPerToken,
	}
	remaining := l.TokenCount()
	l.RemainingTokens = &remaining
	return l
}

func faultCode(t *testing.T, err error) string {
	t.Helper()
	require.Error(t, err)
	return txflow.AsFault(err).Code
}

func TestComputeQuoteWhole(t *testing.T) {
	l := fractionalListing(100, 1000, 50)
	q, err := ComputeQuote(l, false, 0, 250)
	require.NoError(t, err)

	assert.Equal(t, uint64(1), q.Amount)
	assert.Equal(t, big.NewInt(100), q.ItemCost)
	// 2.5% of 100 is exactly 5/2.
	assert.Equal(t, "5/2", q.Fee.RatString())
	assert.Equal(t, "205/2", q.Total.RatString())
	assert.Equal(t, big.NewInt(103), q.Payable, "payable rounds the exact total up")
}

func TestComputeQuoteFractional(t *testing.T) {
	// 1000 kWh at 50 kWh per token is 20 tokens; price 100 gives 5 each.
	l := fractionalListing(100, 1000, 50)
	q, err := ComputeQuote(l, true, 4, 250)
	require.NoError(t, err)

	assert.Equal(t, uint64(20), q.TokenCount)
	assert.Equal(t, big.NewInt(5), q.PricePerToken)
	assert.Equal(t, big.NewInt(20), q.ItemCost)
	assert.Equal(t, "1/2", q.Fee.RatString())
	assert.Equal(t, "41/2", q.Total.RatString())
	assert.Equal(t, big.NewInt(21), q.Payable)
	require.NotNil(t, q.RemainingAtQuote)
	assert.Equal(t, uint64(20), *q.RemainingAtQuote)
}

func TestComputeQuoteTruncatingDivision(t *testing.T) {
	// 103 / 20 truncates to 5; the 3-unit remainder stays with the seller's
	// quoted price and is never billed to fractional buyers.
	l := fractionalListing(103, 1000, 50)
	q, err := ComputeQuote(l, true, 20, 0)
	require.NoError(t, err)

	assert.Equal(t, big.NewInt(5), q.PricePerToken)
	assert.Equal(t, big.NewInt(100), q.ItemCost)
	assert.Equal(t, big.NewInt(100), q.Payable)
}

func TestComputeQuoteFractionalUnavailable(t *testing.T) {
	l := fractionalListing(100, 1000, 50)
	l.EnergyPerToken = 0
	l.RemainingTokens = nil

	_, err := ComputeQuote(l, true, 1, 250)
	assert.Equal(t, txflow.CodeFractionalUnavailable, faultCode(t, err))

	// Whole purchase of the same listing still works.
	q, err := ComputeQuote(l, false, 0, 250)
	require.NoError(t, err)
	assert.Equal(t, big.NewInt(100), q.ItemCost)
}

func TestComputeQuoteBounds(t *testing.T) {
	l := fractionalListing(100, 1000, 50)

	_, err := ComputeQuote(l, true, 0, 250)
	require.Error(t, err)

	_, err = ComputeQuote(l, true, 21, 250)
	assert.Equal(t, txflow.CodeInsufficientRemaining, faultCode(t, err))

	// Partially sold listing caps at what remains, not the original count.
	rem := uint64(3)
	l.RemainingTokens = &rem
	_, err = ComputeQuote(l, true, 4, 250)
	assert.Equal(t, txflow.CodeInsufficientRemaining, faultCode(t, err))
	_, err = ComputeQuote(l, true, 3, 250)
	require.NoError(t, err)

	l.Price = big.NewInt(0)
	_, err = ComputeQuote(l, false, 0, 250)
	require.Error(t, err)
}

func TestValidateFractionalization(t *testing.T) {
	ok := FractionalizationRequest{
		TokenID: 1, TotalEnergy: 1000, EnergyPerToken: 50,
		TokenName: "Solar Farm A", TokenSymbol: "SFA",
	}
	require.NoError(t, ValidateFractionalization(ok, 50))

	cases := []struct {
		name   string
		mutate func(*FractionalizationRequest)
	}{
		{"zero total energy", func(r *FractionalizationRequest) { r.TotalEnergy = 0 }},
		{"zero energy per token", func(r *FractionalizationRequest) { r.EnergyPerToken = 0 }},
		{"below minimum unit", func(r *FractionalizationRequest) { r.EnergyPerToken = 49 }},
		{"uneven division", func(r *FractionalizationRequest) { r.TotalEnergy = 1025 }},
		{"missing name", func(r *FractionalizationRequest) { r.TokenName = "  " }},
		{"missing symbol", func(r *FractionalizationRequest) { r.TokenSymbol = "" }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := ok
			tc.mutate(&req)
			err := ValidateFractionalization(req, 50)
			assert.Equal(t, txflow.CodeInvalidFraction, faultCode(t, err))
		})
	}
}
