// Package idpserver exposes an idp.Provider over HTTP using the GoTrue
// wire format, so gotrue.Client can talk to it unchanged.
//
// Routes:
//
//	POST /auth/v1/otp     {email, create_user, data{username}}
//	POST /auth/v1/verify  {type, email, token}
//	GET  /auth/v1/user    bearer access token from verify
//	GET  /auth/v1/health
//	GET  /metrics
//
// The POST routes require the api key in the apikey header or as a bearer
// token. The user route needs the apikey header and the access token.
package idpserver
