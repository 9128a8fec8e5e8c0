package idp

// TokenResponse is the provider's token endpoint payload for both password
// and refresh grants.
type TokenResponse struct {
	AccessToken      string `json:"access_token"`
	RefreshToken     string `json:"refresh_token"`
	TokenType        string `json:"token_type"`
	ExpiresIn        int64  `json:"expires_in"`
	RefreshExpiresIn int64  `json:"refresh_expires_in"`
}

// User is the provider's admin API representation of an account.
type User struct {
	ID            string `json:"id"`
	Username      string `json:"username"`
	Email         string `json:"email"`
	FirstName     string `json:"firstName"`
	LastName      string `json:"lastName"`
	Enabled       bool   `json:"enabled"`
	EmailVerified bool   `json:"emailVerified"`
}

// DisplayName joins the name parts the way the provider splits them.
func (u User) DisplayName() string {
	switch {
	case u.FirstName != "" && u.LastName != "":
		return u.FirstName + " " + u.LastName
	case u.FirstName != "":
		return u.FirstName
	case u.LastName != "":
		return u.LastName
	}
	return u.Username
}

// tokenError is the provider's RFC 6749 error envelope.
type tokenError struct {
	Error       string `json:"error"`
	Description string `json:"error_description"`
}

// discoveryDocument is the subset of the OIDC discovery payload we consume.
type discoveryDocument struct {
	Issuer   string `json:"issuer"`
	JWKSURI  string `json:"jwks_uri"`
	TokenURL string `json:"token_endpoint"`
}

// createUserRequest is the admin API body for minting an account.
type createUserRequest struct {
	Username      string           `json:"username"`
	Email         string           `json:"email"`
	FirstName     string           `json:"firstName,omitempty"`
	LastName      string           `json:"lastName,omitempty"`
	Enabled       bool             `json:"enabled"`
	EmailVerified bool             `json:"emailVerified"`
	Credentials   []userCredential `json:"credentials"`
}

type userCredential struct {
	Type      string `json:"type"`
	Value     string `json:"value"`
	Temporary bool   `json:"temporary"`
}
