package connector

import (
	"fmt"

	connectorcommand "github.com/goliatone/go-psd2-connector/command"
	"github.com/goliatone/go-psd2-connector/core"
	connectorquery "github.com/goliatone/go-psd2-connector/query"
)

// CommandQueryService is the surface the facade wires into go-command. The
// connector core service satisfies it.
type CommandQueryService interface {
	connectorcommand.MutatingService
	connectorquery.TokenReader
	connectorquery.FundsReader
	Registry() core.Registry
}

type Commands struct {
	StartAuthorization *connectorcommand.StartAuthorizationCommand
	ConfirmToken       *connectorcommand.ConfirmTokenCommand
	RejectToken        *connectorcommand.RejectTokenCommand
	RevokeToken        *connectorcommand.RevokeTokenCommand
	StartPayment       *connectorcommand.StartPaymentCommand
	ExpireTokens       *connectorcommand.ExpireTokensCommand
}

type Queries struct {
	ResolveToken  *connectorquery.ResolveTokenQuery
	ConfirmFunds  *connectorquery.ConfirmFundsQuery
	ListProviders *connectorquery.ListProvidersQuery
}

// Facade bundles the connector's command and query handlers around one
// service instance for registration with a go-command dispatcher.
type Facade struct {
	service  CommandQueryService
	commands Commands
	queries  Queries
}

func NewFacade(service CommandQueryService) (*Facade, error) {
	if service == nil {
		return nil, fmt.Errorf("connector: command/query service is required")
	}

	facade := &Facade{service: service}
	facade.commands = Commands{
		StartAuthorization: connectorcommand.NewStartAuthorizationCommand(service),
		ConfirmToken:       connectorcommand.NewConfirmTokenCommand(service),
		RejectToken:        connectorcommand.NewRejectTokenCommand(service),
		RevokeToken:        connectorcommand.NewRevokeTokenCommand(service),
		StartPayment:       connectorcommand.NewStartPaymentCommand(service),
		ExpireTokens:       connectorcommand.NewExpireTokensCommand(service),
	}
	facade.queries = Queries{
		ResolveToken:  connectorquery.NewResolveTokenQuery(service),
		ConfirmFunds:  connectorquery.NewConfirmFundsQuery(service),
		ListProviders: connectorquery.NewListProvidersQuery(service),
	}
	return facade, nil
}

func (f *Facade) Commands() Commands {
	if f == nil {
		return Commands{}
	}
	return f.commands
}

func (f *Facade) Queries() Queries {
	if f == nil {
		return Queries{}
	}
	return f.queries
}

func (f *Facade) Service() CommandQueryService {
	if f == nil {
		return nil
	}
	return f.service
}
