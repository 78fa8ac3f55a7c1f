// Package google loads and maintains the OAuth2 credentials used for the
// Gmail API.
//
// A CredentialManager reads two files: the OAuth client keys downloaded from
// the Google Cloud console (either the "installed" or the "web" shape) and
// the stored user credentials. When either file is missing, Load returns
// ErrDisabled and the caller disables the mail channel.
//
// Token sources returned by Credentials report every access token rotation
// to a TokenListener. The manager itself is the default listener: it merges
// the rotated fields into the stored credentials file and replaces the file
// atomically, so a refresh token survives refreshes that do not return one.
package google
