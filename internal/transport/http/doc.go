// Package http implements the HTTP handlers of the licensing authority and
// of the checker's status surface. Handlers only deal with HTTP concerns:
// they decode and validate requests, delegate to the issuer or the checker
// and render JSON responses.
//
// Errors are rendered as RFC 7807 problem documents by the shared
// ErrorHandler:
//
//	{
//	    "type": "/problems/validation-error",
//	    "title": "Bad Request",
//	    "status": 400,
//	    "detail": "Request validation failed",
//	    "instance": "/v1/checks"
//	}
package http
