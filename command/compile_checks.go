package command

import gocmd "github.com/goliatone/go-command"

var (
	_ gocmd.Commander[StartAuthorizationMessage] = (*StartAuthorizationCommand)(nil)
	_ gocmd.Commander[ConfirmTokenMessage]       = (*ConfirmTokenCommand)(nil)
	_ gocmd.Commander[RejectTokenMessage]        = (*RejectTokenCommand)(nil)
	_ gocmd.Commander[RevokeTokenMessage]        = (*RevokeTokenCommand)(nil)
	_ gocmd.Commander[StartPaymentMessage]       = (*StartPaymentCommand)(nil)
	_ gocmd.Commander[ExpireTokensMessage]       = (*ExpireTokensCommand)(nil)
)
