// Package identity verifies external identity-provider tokens.
//
// The gateway never sees credentials; clients authenticate with the
// provider directly and present the resulting access token. Verify
// exchanges that token for a stable external account id and profile.
package identity
