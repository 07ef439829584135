package models

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPeriodFallback(t *testing.T) {
	assert.Equal(t, 365*24*time.Hour, PeriodFallback(SubscriptionIntervalYear))
	assert.Equal(t, 30*24*time.Hour, PeriodFallback(SubscriptionIntervalMonth))
	// Unknown intervals fall back to the shorter month period.
	assert.Equal(t, 30*24*time.Hour, PeriodFallback(SubscriptionIntervalUnknown))
	assert.Equal(t, 30*24*time.Hour, PeriodFallback("weekly"))
}

func TestSubscriptionIsTerminal(t *testing.T) {
	cases := map[string]bool{
		SubscriptionStatusNone:       false,
		SubscriptionStatusIncomplete: false,
		SubscriptionStatusTrialing:   false,
		SubscriptionStatusActive:     false,
		SubscriptionStatusPastDue:    false,
		SubscriptionStatusCanceled:   true,
		SubscriptionStatusExpired:    true,
	}
	for status, want := range cases {
		sub := &Subscription{Status: status}
		assert.Equal(t, want, sub.IsTerminal(), "status %s", status)
	}
}

func TestGenerateInvoiceNumber(t *testing.T) {
	issued := time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)
	number, err := GenerateInvoiceNumber(issued)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(number, "KF-20260314-"))

	other, err := GenerateInvoiceNumber(issued)
	require.NoError(t, err)
	assert.NotEqual(t, number, other)
}

func TestInvoiceAmountDisplay(t *testing.T) {
	inv := &Invoice{AmountCents: 999, Currency: "eur"}
	assert.Equal(t, "9.99 EUR", inv.AmountDisplay())

	inv = &Invoice{AmountCents: 12000, Currency: "usd"}
	assert.Equal(t, "120.00 USD", inv.AmountDisplay())
}
