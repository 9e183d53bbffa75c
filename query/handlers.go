package query

import (
	"context"

	"github.com/goliatone/go-psd2-connector/core"
)

type TokenReader interface {
	ResolveToken(ctx context.Context, accessToken string) (core.Token, error)
}

type FundsReader interface {
	ConfirmFunds(ctx context.Context, accessToken string, req core.FundsConfirmationRequest) (bool, error)
}

type ProviderReader interface {
	Registry() core.Registry
}

type ResolveTokenQuery struct {
	reader TokenReader
}

func NewResolveTokenQuery(reader TokenReader) *ResolveTokenQuery {
	return &ResolveTokenQuery{reader: reader}
}

func (q *ResolveTokenQuery) Query(ctx context.Context, msg ResolveTokenMessage) (core.Token, error) {
	if q == nil || q.reader == nil {
		return core.Token{}, queryDependencyError("query: token reader is required")
	}
	return q.reader.ResolveToken(ctx, msg.AccessToken)
}

type ConfirmFundsQuery struct {
	reader FundsReader
}

func NewConfirmFundsQuery(reader FundsReader) *ConfirmFundsQuery {
	return &ConfirmFundsQuery{reader: reader}
}

func (q *ConfirmFundsQuery) Query(ctx context.Context, msg ConfirmFundsMessage) (bool, error) {
	if q == nil || q.reader == nil {
		return false, queryDependencyError("query: funds reader is required")
	}
	return q.reader.ConfirmFunds(ctx, msg.AccessToken, msg.Request)
}

type ListProvidersQuery struct {
	reader ProviderReader
}

func NewListProvidersQuery(reader ProviderReader) *ListProvidersQuery {
	return &ListProvidersQuery{reader: reader}
}

func (q *ListProvidersQuery) Query(_ context.Context, _ ListProvidersMessage) ([]string, error) {
	if q == nil || q.reader == nil {
		return nil, queryDependencyError("query: provider reader is required")
	}
	registry := q.reader.Registry()
	if registry == nil {
		return nil, queryDependencyError("query: provider registry is required")
	}
	return registry.List(), nil
}
