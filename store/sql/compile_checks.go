package sqlstore

import "github.com/goliatone/go-psd2-connector/core"

var (
	_ core.TokenStore        = (*TokenStore)(nil)
	_ core.TokenStore        = (*CachedTokenStore)(nil)
	_ core.TokenStoreFactory = (*RepositoryFactory)(nil)
)
