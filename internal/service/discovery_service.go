package service

import "fmt"

// DiscoveryService builds responses for the OIDC discovery endpoint.
type DiscoveryService struct{}

// OpenIDConfiguration matches the OIDC discovery document.
type OpenIDConfiguration struct {
	Issuer                           string   `json:"issuer"`
	AuthorizationEndpoint            string   `json:"authorization_endpoint"`
	TokenEndpoint                    string   `json:"token_endpoint"`
	UserinfoEndpoint                 string   `json:"userinfo_endpoint"`
	JWKSURI                          string   `json:"jwks_uri"`
	RevocationEndpoint               string   `json:"revocation_endpoint"`
	IntrospectionEndpoint            string   `json:"introspection_endpoint"`
	ResponseTypesSupported           []string `json:"response_types_supported"`
	GrantTypesSupported              []string `json:"grant_types_supported"`
	SubjectTypesSupported            []string `json:"subject_types_supported"`
	IDTokenSigningAlgValuesSupported []string `json:"id_token_signing_alg_values_supported"`
	ScopesSupported                  []string `json:"scopes_supported"`
	TokenEndpointAuthMethods         []string `json:"token_endpoint_auth_methods_supported"`
	CodeChallengeMethodsSupported    []string `json:"code_challenge_methods_supported"`
	ClaimsSupported                  []string `json:"claims_supported"`
}

// OpenIDConfigurationResponse builds the discovery document from the request
// scheme and host. The document is static apart from the issuer; responses
// are safe to cache.
func (s *DiscoveryService) OpenIDConfigurationResponse(scheme, host string) OpenIDConfiguration {
	issuer := fmt.Sprintf("%s://%s", scheme, host)
	return OpenIDConfiguration{
		Issuer:                           issuer,
		AuthorizationEndpoint:            issuer + "/oauth/authorize",
		TokenEndpoint:                    issuer + "/oauth/token",
		UserinfoEndpoint:                 issuer + "/oauth/userinfo",
		JWKSURI:                          issuer + "/oauth/jwks",
		RevocationEndpoint:               issuer + "/oauth/revoke",
		IntrospectionEndpoint:            issuer + "/oauth/introspect",
		ResponseTypesSupported:           []string{"code"},
		GrantTypesSupported:              []string{"authorization_code", "refresh_token"},
		SubjectTypesSupported:            []string{"public"},
		IDTokenSigningAlgValuesSupported: []string{"RS256"},
		ScopesSupported:                  []string{"openid", "profile", "email"},
		TokenEndpointAuthMethods:         []string{"client_secret_post", "client_secret_basic"},
		CodeChallengeMethodsSupported:    []string{"S256", "plain"},
		ClaimsSupported:                  []string{"sub", "email", "name", "department", "email_verified"},
	}
}
