// Package oauth implements the authorization-code grant for third-party
// integrations: client validation, single-use authorization codes, and opaque
// bearer tokens whose validity is decided only by store lookup.
//
// Codes are removed from the store before any other exchange check, so a code
// is spent by the first attempt whether or not it succeeds. Rejections share
// one error shape and never reveal whether a code or token was missing,
// expired, or presented with the wrong credentials.
package oauth
