package command

import (
	"context"

	gocmd "github.com/goliatone/go-command"

	"github.com/goliatone/go-psd2-connector/core"
)

// MutatingService is the slice of the connector service the commands drive.
type MutatingService interface {
	StartAuthorization(ctx context.Context, req core.StartAuthorizationRequest) error
	ConfirmToken(ctx context.Context, req core.ConfirmTokenRequest) (core.Token, error)
	RejectToken(ctx context.Context, sessionSecret string) (core.Token, error)
	RevokeBySessionSecret(ctx context.Context, sessionSecret string) (core.Token, error)
	RevokeByAccessToken(ctx context.Context, accessToken string) (core.Token, error)
	StartPaymentAuthorization(ctx context.Context, req core.CreatePaymentRequest) error
	RunExpirySweep(ctx context.Context, batchSize int) (int, error)
}

type StartAuthorizationCommand struct {
	service MutatingService
}

func NewStartAuthorizationCommand(service MutatingService) *StartAuthorizationCommand {
	return &StartAuthorizationCommand{service: service}
}

func (c *StartAuthorizationCommand) Execute(ctx context.Context, msg StartAuthorizationMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: authorization service is required")
	}
	return c.service.StartAuthorization(ctx, msg.Request)
}

type ConfirmTokenCommand struct {
	service MutatingService
}

func NewConfirmTokenCommand(service MutatingService) *ConfirmTokenCommand {
	return &ConfirmTokenCommand{service: service}
}

func (c *ConfirmTokenCommand) Execute(ctx context.Context, msg ConfirmTokenMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: token service is required")
	}
	token, err := c.service.ConfirmToken(ctx, msg.Request)
	if err != nil {
		return err
	}
	storeResult(ctx, token)
	return nil
}

type RejectTokenCommand struct {
	service MutatingService
}

func NewRejectTokenCommand(service MutatingService) *RejectTokenCommand {
	return &RejectTokenCommand{service: service}
}

func (c *RejectTokenCommand) Execute(ctx context.Context, msg RejectTokenMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: token service is required")
	}
	token, err := c.service.RejectToken(ctx, msg.SessionSecret)
	if err != nil {
		return err
	}
	storeResult(ctx, token)
	return nil
}

type RevokeTokenCommand struct {
	service MutatingService
}

func NewRevokeTokenCommand(service MutatingService) *RevokeTokenCommand {
	return &RevokeTokenCommand{service: service}
}

func (c *RevokeTokenCommand) Execute(ctx context.Context, msg RevokeTokenMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: token service is required")
	}
	var token core.Token
	var err error
	if msg.AccessToken != "" {
		token, err = c.service.RevokeByAccessToken(ctx, msg.AccessToken)
	} else {
		token, err = c.service.RevokeBySessionSecret(ctx, msg.SessionSecret)
	}
	if err != nil {
		return err
	}
	storeResult(ctx, token)
	return nil
}

type StartPaymentCommand struct {
	service MutatingService
}

func NewStartPaymentCommand(service MutatingService) *StartPaymentCommand {
	return &StartPaymentCommand{service: service}
}

func (c *StartPaymentCommand) Execute(ctx context.Context, msg StartPaymentMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: payment service is required")
	}
	return c.service.StartPaymentAuthorization(ctx, msg.Request)
}

type ExpireTokensCommand struct {
	service MutatingService
}

func NewExpireTokensCommand(service MutatingService) *ExpireTokensCommand {
	return &ExpireTokensCommand{service: service}
}

func (c *ExpireTokensCommand) Execute(ctx context.Context, msg ExpireTokensMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: token service is required")
	}
	batchSize := msg.BatchSize
	if batchSize == 0 {
		batchSize = core.DefaultExpirySweepBatchSize
	}
	expired, err := c.service.RunExpirySweep(ctx, batchSize)
	if err != nil {
		return err
	}
	storeResult(ctx, expired)
	return nil
}

func storeResult[T any](ctx context.Context, value T) {
	collector := gocmd.ResultFromContext[T](ctx)
	if collector == nil {
		return
	}
	collector.Store(value)
}
