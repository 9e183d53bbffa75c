package core

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	goerrors "github.com/goliatone/go-errors"
	glog "github.com/goliatone/go-logger/glog"
	"github.com/google/uuid"
)

// Session callback statuses understood by the hub.
const (
	StatusRedirect = "redirect"
	StatusSuccess  = "success"
)

// Service drives the authorization state machine: it validates TPP requests,
// normalizes consent, persists tokens, and reports session outcomes to the
// hub through the callback dispatcher.
type Service struct {
	config          Config
	logger          Logger
	loggerProvider  LoggerProvider
	metricsRecorder MetricsRecorder
	errorMapper     ErrorMapper
	configProvider  ConfigProvider
	optionsResolver OptionsResolver
	registry        Registry
	tokenStore      TokenStore
	dispatcher      CallbackDispatcher
	signatures      SignatureService
	now             func() time.Time
}

func NewService(cfg Config, opts ...Option) (*Service, error) {
	builder := defaultServiceBuilder(cfg)
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt(&builder)
	}

	provider, logger := glog.Resolve("connector", builder.loggerProvider, builder.logger)
	logger = glog.Ensure(logger)
	if provider != nil {
		if named := provider.GetLogger("connector"); named != nil {
			logger = glog.Ensure(named)
		}
	}

	if builder.metricsRecorder == nil {
		builder.metricsRecorder = NopMetricsRecorder{}
	}
	if builder.errorMapper == nil {
		builder.errorMapper = defaultErrorMapper
	}
	if builder.configProvider == nil {
		builder.configProvider = NewCfgxConfigProvider(nil)
	}
	if builder.optionsResolver == nil {
		builder.optionsResolver = GoOptionsResolver{}
	}
	if builder.registry == nil {
		builder.registry = NewProviderRegistry()
	}
	if builder.now == nil {
		builder.now = func() time.Time { return time.Now().UTC() }
	}

	defaults := DefaultConfig()
	loaded, err := builder.configProvider.Load(context.Background(), defaults)
	if err != nil {
		return nil, mapBuildError(builder.errorMapper, err)
	}
	finalConfig, err := builder.optionsResolver.Resolve(defaults, loaded, builder.runtimeConfig)
	if err != nil {
		return nil, mapBuildError(builder.errorMapper, err)
	}

	if builder.tokenStore == nil && builder.storeFactory != nil {
		store, buildErr := builder.storeFactory.BuildTokenStore(builder.persistenceClient)
		if buildErr != nil {
			return nil, mapBuildError(builder.errorMapper, buildErr)
		}
		builder.tokenStore = store
	}

	return &Service{
		config:          finalConfig,
		logger:          logger,
		loggerProvider:  provider,
		metricsRecorder: builder.metricsRecorder,
		errorMapper:     builder.errorMapper,
		configProvider:  builder.configProvider,
		optionsResolver: builder.optionsResolver,
		registry:        builder.registry,
		tokenStore:      builder.tokenStore,
		dispatcher:      builder.dispatcher,
		signatures:      builder.signatureService,
		now:             builder.now,
	}, nil
}

func Setup(cfg Config, opts ...Option) (*Service, error) {
	return NewService(cfg, opts...)
}

func mapBuildError(mapper ErrorMapper, err error) error {
	if err == nil {
		return nil
	}
	if mapper == nil {
		return err
	}
	mapped := mapper(err)
	if mapped == nil {
		return err
	}
	return mapped
}

func (s *Service) Config() Config {
	if s == nil {
		return Config{}
	}
	return s.config
}

func (s *Service) Registry() Registry {
	if s == nil {
		return nil
	}
	return s.registry
}

// StartAuthorization handles a token-creation request from a TPP. Malformed
// requests and unknown providers surface synchronously; once the session is
// underway, failures are reported to the hub through the fail callback and
// never to the caller, since in a redirect flow the original HTTP call may
// already have returned.
func (s *Service) StartAuthorization(ctx context.Context, req StartAuthorizationRequest) (err error) {
	startedAt := s.clock()
	fields := map[string]any{
		"provider_code":      req.ProviderCode,
		"app_name":           req.TPPAppName,
		"authorization_type": req.AuthorizationType,
	}
	defer func() {
		s.observeOperation(ctx, startedAt, "start_authorization", err, fields)
	}()

	if err = validateStartRequest(req); err != nil {
		err = s.mapError(err)
		return err
	}
	provider, resolveErr := s.resolveProvider(req.ProviderCode)
	if resolveErr != nil {
		err = resolveErr
		return err
	}

	if flowErr := s.runAuthorization(ctx, provider, req); flowErr != nil {
		s.sendFail(ctx, req.SessionSecret, flowErr)
		fields["error_class"] = ErrorClass(flowErr)
	}
	return nil
}

func (s *Service) runAuthorization(ctx context.Context, provider ProviderService, req StartAuthorizationRequest) error {
	if s.tokenStore == nil {
		return s.mapError(fmt.Errorf("core: token store is required"))
	}

	types, err := provider.GetAuthorizationTypes(ctx)
	if err != nil {
		return s.mapError(err)
	}
	authType, ok := matchAuthorizationType(types, req.AuthorizationType)
	if !ok {
		return NewInvalidAuthorizationTypeError(req.AuthorizationType)
	}

	now := s.clock()
	expiresAt, err := computeTokenExpiry(req.ValidUntil, now)
	if err != nil {
		return err
	}
	consent, err := normalizeConsent(req.Access, expiresAt)
	if err != nil {
		return err
	}

	token := Token{
		ID:                uuid.NewString(),
		SessionSecret:     strings.TrimSpace(req.SessionSecret),
		ProviderCode:      strings.TrimSpace(req.ProviderCode),
		TPPAppName:        strings.TrimSpace(req.TPPAppName),
		AuthorizationType: authType.Code,
		Consent:           consent,
		Status:            TokenStatusUnconfirmed,
		TokenExpiresAt:    expiresAt,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	saved, err := s.tokenStore.Create(ctx, token)
	if err != nil {
		return s.mapError(err)
	}

	if authType.Flow != FlowRedirect {
		// Embedded flows finish through the provider decision callback.
		return nil
	}

	userConsentRequired := saved.Consent == nil
	pageURL, err := provider.GetAccountInformationAuthorizationPageURL(ctx, saved.SessionSecret, userConsentRequired)
	if err != nil {
		return s.mapError(err)
	}
	if strings.TrimSpace(pageURL) == "" {
		return s.mapError(fmt.Errorf("core: provider returned an empty authorization page url"))
	}

	s.sendUpdate(ctx, saved.SessionSecret, SessionUpdatePayload{
		Status:      StatusRedirect,
		RedirectURL: pageURL,
	})
	return nil
}

// ConfirmToken records the provider's positive decision: it binds the user,
// fixes the consent for deferred flows, issues the access token, and tells
// the hub the session succeeded.
func (s *Service) ConfirmToken(ctx context.Context, req ConfirmTokenRequest) (token Token, err error) {
	startedAt := s.clock()
	fields := map[string]any{"provider_code": req.ProviderCode}
	defer func() {
		s.observeOperation(ctx, startedAt, "confirm_token", err, fields)
	}()

	if strings.TrimSpace(req.SessionSecret) == "" {
		err = s.mapError(NewInvalidAttributeValueError("session_secret"))
		return Token{}, err
	}
	if strings.TrimSpace(req.UserID) == "" {
		err = s.mapError(NewInvalidAttributeValueError("user_id"))
		return Token{}, err
	}
	if s.tokenStore == nil {
		err = s.mapError(fmt.Errorf("core: token store is required"))
		return Token{}, err
	}

	current, findErr := s.tokenStore.FindBySessionSecret(ctx, strings.TrimSpace(req.SessionSecret))
	if findErr != nil {
		err = s.mapTokenLookupError(findErr)
		return Token{}, err
	}
	if current.Status != TokenStatusUnconfirmed {
		err = s.mapError(NewTokenInactiveError(current.Status))
		return Token{}, err
	}

	now := s.clock()
	current.UserID = strings.TrimSpace(req.UserID)
	if current.Consent == nil {
		current.Consent = consentFromSelection(req.Accounts, current.TokenExpiresAt)
	}
	current.AccessToken = newAccessToken()
	if transitionErr := current.TransitionTo(TokenStatusConfirmed, now); transitionErr != nil {
		err = s.mapError(transitionErr)
		return Token{}, err
	}

	saved, saveErr := s.tokenStore.SaveCAS(ctx, current, TokenStatusUnconfirmed)
	if saveErr != nil {
		err = s.mapStatusWriteError(ctx, current.SessionSecret, saveErr)
		return Token{}, err
	}

	s.sendSuccess(ctx, saved.SessionSecret, SessionSuccessPayload{
		Status:      StatusSuccess,
		AccessToken: saved.AccessToken,
	})
	return saved, nil
}

// RejectToken records the provider's negative decision and reports the
// failed session to the hub.
func (s *Service) RejectToken(ctx context.Context, sessionSecret string) (token Token, err error) {
	startedAt := s.clock()
	defer func() {
		s.observeOperation(ctx, startedAt, "reject_token", err, nil)
	}()

	revoked, revokeErr := s.revoke(ctx, func(ctx context.Context) (Token, error) {
		return s.findBySessionSecret(ctx, sessionSecret)
	})
	if revokeErr != nil {
		err = revokeErr
		return Token{}, err
	}

	s.sendFail(ctx, revoked.SessionSecret, connectorError(
		"authorization was rejected",
		goerrors.CategoryAuth,
		ErrorClassTokenRevoked,
	))
	return revoked, nil
}

// RevokeBySessionSecret revokes an open or confirmed session, TPP-initiated.
func (s *Service) RevokeBySessionSecret(ctx context.Context, sessionSecret string) (token Token, err error) {
	startedAt := s.clock()
	defer func() {
		s.observeOperation(ctx, startedAt, "revoke_token", err, nil)
	}()
	token, err = s.revoke(ctx, func(ctx context.Context) (Token, error) {
		return s.findBySessionSecret(ctx, sessionSecret)
	})
	return token, err
}

// RevokeByAccessToken revokes a confirmed grant identified by its long-lived
// credential.
func (s *Service) RevokeByAccessToken(ctx context.Context, accessToken string) (token Token, err error) {
	startedAt := s.clock()
	defer func() {
		s.observeOperation(ctx, startedAt, "revoke_token", err, nil)
	}()
	token, err = s.revoke(ctx, func(ctx context.Context) (Token, error) {
		return s.findByAccessToken(ctx, accessToken)
	})
	return token, err
}

func (s *Service) revoke(ctx context.Context, find func(context.Context) (Token, error)) (Token, error) {
	if s == nil || s.tokenStore == nil {
		return Token{}, s.mapError(fmt.Errorf("core: token store is required"))
	}
	current, err := find(ctx)
	if err != nil {
		return Token{}, err
	}
	if current.Status.Terminal() {
		return Token{}, s.mapError(NewTokenInactiveError(current.Status))
	}
	updated, err := s.tokenStore.UpdateStatusCAS(ctx, current.ID, current.Status, TokenStatusRevoked)
	if err != nil {
		return Token{}, s.mapStatusWriteError(ctx, current.SessionSecret, err)
	}
	return updated, nil
}

// ResolveToken returns the active grant behind an access token. Expiry is
// evaluated lazily here: a confirmed token past its deadline is swapped to
// EXPIRED before the caller sees it.
func (s *Service) ResolveToken(ctx context.Context, accessToken string) (Token, error) {
	if s == nil || s.tokenStore == nil {
		return Token{}, s.mapError(fmt.Errorf("core: token store is required"))
	}
	token, err := s.findByAccessToken(ctx, accessToken)
	if err != nil {
		return Token{}, err
	}
	if token.Status == TokenStatusConfirmed && token.ExpiredAt(s.clock()) {
		if _, casErr := s.tokenStore.UpdateStatusCAS(ctx, token.ID, TokenStatusConfirmed, TokenStatusExpired); casErr != nil && !errors.Is(casErr, ErrStatusConflict) {
			return Token{}, s.mapError(casErr)
		}
		return Token{}, s.mapError(NewTokenInactiveError(TokenStatusExpired))
	}
	if token.Status != TokenStatusConfirmed {
		return Token{}, s.mapError(NewTokenInactiveError(token.Status))
	}
	return token, nil
}

// StartPaymentAuthorization creates a payment on the provider side and
// redirects the user to its authorization page. Like StartAuthorization,
// failures past validation are routed to the fail callback.
func (s *Service) StartPaymentAuthorization(ctx context.Context, req CreatePaymentRequest) (err error) {
	startedAt := s.clock()
	fields := map[string]any{"provider_code": req.ProviderCode}
	defer func() {
		s.observeOperation(ctx, startedAt, "start_payment_authorization", err, fields)
	}()

	if err = validatePaymentRequest(req); err != nil {
		err = s.mapError(err)
		return err
	}
	provider, resolveErr := s.resolveProvider(req.ProviderCode)
	if resolveErr != nil {
		err = resolveErr
		return err
	}

	if flowErr := s.runPaymentAuthorization(ctx, provider, req); flowErr != nil {
		s.sendFail(ctx, req.SessionSecret, flowErr)
		fields["error_class"] = ErrorClass(flowErr)
	}
	return nil
}

func (s *Service) runPaymentAuthorization(ctx context.Context, provider ProviderService, req CreatePaymentRequest) error {
	paymentID, err := provider.CreatePayment(
		ctx,
		req.CreditorIBAN,
		req.CreditorName,
		req.DebtorIBAN,
		req.Amount,
		req.Description,
		req.ExtraData,
	)
	if err != nil {
		return s.mapError(err)
	}
	pageURL, err := provider.GetPaymentAuthorizationPageURL(ctx, paymentID)
	if err != nil {
		return s.mapError(err)
	}
	if strings.TrimSpace(pageURL) == "" {
		return s.mapError(fmt.Errorf("core: provider returned an empty payment authorization page url"))
	}
	s.sendUpdate(ctx, req.SessionSecret, SessionUpdatePayload{
		Status:      StatusRedirect,
		RedirectURL: pageURL,
	})
	return nil
}

func (s *Service) resolveProvider(code string) (ProviderService, error) {
	if s == nil || s.registry == nil {
		return nil, s.mapError(fmt.Errorf("core: provider registry is required"))
	}
	provider, ok := s.registry.Get(code)
	if !ok {
		return nil, s.mapError(NewProviderNotFoundError(code))
	}
	return provider, nil
}

func (s *Service) findBySessionSecret(ctx context.Context, sessionSecret string) (Token, error) {
	sessionSecret = strings.TrimSpace(sessionSecret)
	if sessionSecret == "" {
		return Token{}, s.mapError(NewInvalidAttributeValueError("session_secret"))
	}
	token, err := s.tokenStore.FindBySessionSecret(ctx, sessionSecret)
	if err != nil {
		return Token{}, s.mapTokenLookupError(err)
	}
	return token, nil
}

func (s *Service) findByAccessToken(ctx context.Context, accessToken string) (Token, error) {
	accessToken = strings.TrimSpace(accessToken)
	if accessToken == "" {
		return Token{}, s.mapError(NewInvalidAttributeValueError("access_token"))
	}
	token, err := s.tokenStore.FindByAccessToken(ctx, accessToken)
	if err != nil {
		return Token{}, s.mapTokenLookupError(err)
	}
	return token, nil
}

func (s *Service) mapTokenLookupError(err error) error {
	if errors.Is(err, ErrTokenNotFound) {
		return s.mapError(NewTokenNotFoundError())
	}
	return s.mapError(err)
}

// mapStatusWriteError turns a CAS conflict into the most specific
// token-state error by re-reading the winning status.
func (s *Service) mapStatusWriteError(ctx context.Context, sessionSecret string, err error) error {
	if !errors.Is(err, ErrStatusConflict) {
		return s.mapError(err)
	}
	if current, findErr := s.tokenStore.FindBySessionSecret(ctx, sessionSecret); findErr == nil {
		return s.mapError(NewTokenInactiveError(current.Status))
	}
	return s.mapError(NewTokenInactiveError(TokenStatusUnconfirmed))
}

func (s *Service) sendUpdate(ctx context.Context, sessionSecret string, payload SessionUpdatePayload) {
	if s == nil || s.dispatcher == nil {
		return
	}
	s.dispatcher.SendUpdateCallback(ctx, sessionSecret, payload)
}

func (s *Service) sendSuccess(ctx context.Context, sessionSecret string, payload SessionSuccessPayload) {
	if s == nil || s.dispatcher == nil {
		return
	}
	s.dispatcher.SendSuccessCallback(ctx, sessionSecret, payload)
}

func (s *Service) sendFail(ctx context.Context, sessionSecret string, cause error) {
	if s == nil || s.dispatcher == nil {
		return
	}
	s.dispatcher.SendFailCallback(ctx, sessionSecret, cause)
}

func (s *Service) mapError(err error) error {
	if err == nil {
		return nil
	}
	mapper := s.errorMapper
	if s == nil || mapper == nil {
		mapper = defaultErrorMapper
	}
	mapped := mapper(err)
	if mapped == nil {
		return err
	}
	return mapped
}

func (s *Service) clock() time.Time {
	if s != nil && s.now != nil {
		return s.now().UTC()
	}
	return time.Now().UTC()
}

func validateStartRequest(req StartAuthorizationRequest) error {
	for _, field := range []struct {
		name  string
		value string
	}{
		{"provider_code", req.ProviderCode},
		{"app_name", req.TPPAppName},
		{"authorization_type", req.AuthorizationType},
		{"redirect_url", req.RedirectURL},
		{"session_secret", req.SessionSecret},
	} {
		if strings.TrimSpace(field.value) == "" {
			return NewInvalidAttributeValueError(field.name)
		}
	}
	if req.Access.Empty() {
		return NewInvalidAttributeValueError("access")
	}
	return nil
}

func validatePaymentRequest(req CreatePaymentRequest) error {
	for _, field := range []struct {
		name  string
		value string
	}{
		{"provider_code", req.ProviderCode},
		{"session_secret", req.SessionSecret},
		{"creditor_iban", req.CreditorIBAN},
		{"debtor_iban", req.DebtorIBAN},
		{"amount", req.Amount.Value},
		{"currency", req.Amount.Currency},
	} {
		if strings.TrimSpace(field.value) == "" {
			return NewInvalidAttributeValueError(field.name)
		}
	}
	return nil
}

func matchAuthorizationType(types []AuthorizationType, requested string) (AuthorizationType, bool) {
	requested = strings.TrimSpace(requested)
	for _, authType := range types {
		if authType.Code == requested {
			return authType, true
		}
	}
	return AuthorizationType{}, false
}

func newAccessToken() string {
	return uuid.NewString()
}
