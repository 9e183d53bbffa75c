package query

import (
	gocmd "github.com/goliatone/go-command"

	"github.com/goliatone/go-psd2-connector/core"
)

var (
	_ gocmd.Querier[ResolveTokenMessage, core.Token] = (*ResolveTokenQuery)(nil)
	_ gocmd.Querier[ConfirmFundsMessage, bool]       = (*ConfirmFundsQuery)(nil)
	_ gocmd.Querier[ListProvidersMessage, []string]  = (*ListProvidersQuery)(nil)
)
