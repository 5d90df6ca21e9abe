// Package httpapi exposes a goSession Engine over JSON/HTTP.
//
// It owns no authentication logic: handlers decode the request, call the Engine and
// translate the result. Errors are mapped through goSession.KindOf, so every Engine
// error reaches the client as a stable kind string with a matching status code:
//
//	invalid_input         400
//	unauthorized          401
//	permission_required   403
//	not_found             404
//	no_active_target      404
//	conflict              409
//	rate_limited          429
//	internal              500
//	dispatch_failed       502
//	upstream_unavailable  502
//
// Errors answered with a 5xx status are logged with the request id and reach the
// client only as the status text.
package httpapi
