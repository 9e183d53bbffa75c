package core

import (
	"context"
	"strconv"
	"strings"
)

// ConfirmFunds answers a funds-confirmation request against the grant behind
// accessToken. The answer is strictly yes or no: a denial never explains
// itself, so an account mismatch, an unknown currency, or an amount above the
// configured ceiling all come back as false rather than as errors. Only
// malformed input and upstream faults surface as errors.
func (s *Service) ConfirmFunds(ctx context.Context, accessToken string, req FundsConfirmationRequest) (confirmed bool, err error) {
	startedAt := s.clock()
	fields := map[string]any{"currency": req.Amount.Currency}
	defer func() {
		fields["confirmed"] = confirmed
		s.observeOperation(ctx, startedAt, "confirm_funds", err, fields)
	}()

	amount, err := parseRequestedAmount(req.Amount)
	if err != nil {
		err = s.mapError(err)
		return false, err
	}
	if strings.TrimSpace(req.Account.IBAN) == "" {
		err = s.mapError(NewInvalidAttributeValueError("account.iban"))
		return false, err
	}

	token, err := s.ResolveToken(ctx, accessToken)
	if err != nil {
		return false, err
	}
	provider, err := s.resolveProvider(token.ProviderCode)
	if err != nil {
		return false, err
	}

	rates, err := provider.GetExchangeRates(ctx)
	if err != nil {
		err = s.mapError(err)
		return false, err
	}
	converter := NewRateConverter(rates)

	if maxAmount := s.config.Funds.MaxAmount; maxAmount > 0 {
		inEUR, convErr := converter.ToEUR(amount, req.Amount.Currency)
		if convErr != nil {
			return false, nil
		}
		if inEUR > maxAmount {
			return false, nil
		}
	}

	accounts, err := provider.GetAccountsOfUser(ctx, token.UserID)
	if err != nil {
		err = s.mapError(err)
		return false, err
	}
	account, ok := matchAccount(accounts, req.Account)
	if !ok {
		return false, nil
	}

	balanceType := s.config.Funds.BalanceType
	if strings.TrimSpace(balanceType) == "" {
		balanceType = DefaultConfig().Funds.BalanceType
	}
	balance, ok := account.Balance(balanceType)
	if !ok {
		return false, nil
	}
	available, parseErr := strconv.ParseFloat(strings.TrimSpace(balance.Amount), 64)
	if parseErr != nil {
		return false, nil
	}

	needed, convErr := converter.Convert(amount, req.Amount.Currency, balance.Currency)
	if convErr != nil {
		return false, nil
	}
	return needed <= available, nil
}

func parseRequestedAmount(amount Amount) (float64, error) {
	if strings.TrimSpace(amount.Currency) == "" {
		return 0, NewInvalidAttributeValueError("amount.currency")
	}
	value, err := strconv.ParseFloat(strings.TrimSpace(amount.Value), 64)
	if err != nil || value < 0 {
		return 0, NewInvalidAttributeValueError("amount.value")
	}
	return value, nil
}

// matchAccount requires both IBAN and currency to match: funds are confirmed
// against one concrete account, never a sibling in another currency.
func matchAccount(accounts []Account, ref AccountReference) (Account, bool) {
	iban := strings.TrimSpace(ref.IBAN)
	currency := strings.ToUpper(strings.TrimSpace(ref.CurrencyCode))
	for _, account := range accounts {
		if strings.TrimSpace(account.IBAN) != iban {
			continue
		}
		if currency != "" && strings.ToUpper(strings.TrimSpace(account.CurrencyCode)) != currency {
			continue
		}
		return account, true
	}
	return Account{}, false
}
