// Package security implements the request gate: API key verification, IP
// policy, and the authentication discovery endpoint. Denials carry generic
// categories to the client; detail stays in the server log.
package security
