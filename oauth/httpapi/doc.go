// Package httpapi exposes the authorization-code endpoints of oauth.Server
// over HTTP using a chi router.
package httpapi
