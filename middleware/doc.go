// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

/*
Package middleware provides HTTP middleware and helper functions.

# Request Logging

Wrap a handler with request logging and metrics:

	h := middleware.WithLogging(mux)

Logs request start (method, path, remote) and completion (status, bytes,
duration_ms), and counts requests per matched route.

# Sessions

RequireAuth rejects requests without a valid bearer session; OptionalAuth
accepts them anonymously. Both store the user ID for handlers:

	mux.HandleFunc("GET /users/me", middleware.RequireAuth(secret)(h.GetMe))
	userID, ok := middleware.UserIDFromContext(r.Context())

# CORS Middleware

Enable cross-origin requests for frontend access:

	server := http.Server{
		Handler: middleware.CORS(mux),
	}

Allows methods GET, POST, PATCH, PUT, DELETE, OPTIONS with headers
Content-Type, Authorization, Payment-Signature.

# JSON Helpers

	middleware.JSONResponse(w, http.StatusOK, data)
	middleware.ErrorResponse(w, http.StatusBadRequest, "Invalid input")
	err := middleware.ParseJSONBody(r, &req)

# Client IP

GetClientIP honours X-Forwarded-For and X-Real-IP only when trustProxy is
set; otherwise it uses the connection's remote address.
*/
package middleware
