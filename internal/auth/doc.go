// Package auth provides bearer-token authentication between a chorus
// client and its backend.
//
// Tokens are HS256 JWTs signed with a shared secret (auth.jwt_secret in
// the config). Each carries sub, iss "chorus", aud "chorus-backend", iat
// and exp. The client attaches one to the websocket handshake as
//
//	Authorization: Bearer <token>
//
// and the fake backend checks it with RequireBearer. Without a configured
// secret no header is sent and no check is made.
//
// Errors:
//
//   - ErrInvalidToken: bad signature, wrong audience or malformed token
//   - ErrExpiredToken: exp has passed
//   - ErrMissingClaim: no subject
//   - ErrNoSecret: NewSigner called with an empty secret
package auth
