package core

import (
	"strings"
)

// RateConverter converts amounts between currencies using EUR as the pivot:
// every rate expresses how many EUR one unit of the currency is worth, so
// converting FROM -> TO is value * rate(FROM) / rate(TO).
type RateConverter struct {
	rates map[string]float64
}

func NewRateConverter(rates []ExchangeRate) *RateConverter {
	indexed := make(map[string]float64, len(rates)+1)
	indexed["EUR"] = 1.0
	for _, rate := range rates {
		code := strings.ToUpper(strings.TrimSpace(rate.Currency))
		if code == "" || rate.RateToEUR <= 0 {
			continue
		}
		indexed[code] = rate.RateToEUR
	}
	return &RateConverter{rates: indexed}
}

func (c *RateConverter) rate(currency string) (float64, error) {
	code := strings.ToUpper(strings.TrimSpace(currency))
	if c == nil || code == "" {
		return 0, NewUnknownCurrencyError(currency)
	}
	rate, ok := c.rates[code]
	if !ok {
		return 0, NewUnknownCurrencyError(code)
	}
	return rate, nil
}

// Convert translates value from one currency into another. An unlisted
// currency on either side is an UnknownCurrency error.
func (c *RateConverter) Convert(value float64, from, to string) (float64, error) {
	fromRate, err := c.rate(from)
	if err != nil {
		return 0, err
	}
	toRate, err := c.rate(to)
	if err != nil {
		return 0, err
	}
	return value * fromRate / toRate, nil
}

// ToEUR is Convert with the pivot currency as the target.
func (c *RateConverter) ToEUR(value float64, from string) (float64, error) {
	return c.Convert(value, from, "EUR")
}
