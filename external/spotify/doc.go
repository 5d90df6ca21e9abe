// Package spotify implements goSession.ExternalAPI and goSession.CredentialRefresher
// against the Spotify Web API.
//
// [Client] performs the resource calls with the bearer token handed in by the Engine
// and maps HTTP statuses onto the goSession error taxonomy:
//
//   - 401 returns ErrUpstreamCredential.
//   - 403 returns ErrPermissionRequired (Spotify Premium is required for playback control).
//   - 404 on player endpoints, or no active device, returns ErrNoActiveTarget.
//   - Transport failures, 429, 5xx and undecodable payloads return ErrUpstreamUnavailable.
//
// [Refresher] exchanges a refresh token through golang.org/x/oauth2, sending the
// client credentials as form parameters.
package spotify
