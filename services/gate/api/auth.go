// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package api

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/AleutianAI/AleutianGate/pkg/extensions"
)

// authInfoKey is the context key for storing AuthInfo.
// Using a dedicated key prevents collisions with other context values.
const authInfoKey = "gate_auth_info"

// SetAuthInfo stores the authenticated user info in the Gin context.
//
// Called by AuthMiddleware after successful authentication. The stored
// AuthInfo can be retrieved by handlers via GetAuthInfo. Only valid for
// the current request; overwrites any previously set auth info.
func SetAuthInfo(c *gin.Context, info *extensions.AuthInfo) {
	c.Set(authInfoKey, info)
}

// GetAuthInfo retrieves the authenticated user info from the Gin context.
//
// Returns nil if no AuthInfo is present (AuthMiddleware not applied, or
// the stored value has the wrong type).
func GetAuthInfo(c *gin.Context) *extensions.AuthInfo {
	if info, exists := c.Get(authInfoKey); exists {
		if authInfo, ok := info.(*extensions.AuthInfo); ok {
			return authInfo
		}
	}
	return nil
}

// AuthMiddleware returns middleware that authenticates every request.
//
// Description:
//
//	Extracts the bearer token from the Authorization header, validates
//	it with the provided AuthProvider, and stores the resulting
//	AuthInfo in the context for downstream handlers.
//
//	If the header is missing or malformed, the token passed to Validate
//	is the empty string. The default NopAuthProvider accepts this and
//	returns local-user, so a server without enterprise auth keeps
//	working with no Authorization header at all. Enterprise providers
//	reject invalid tokens with extensions.ErrUnauthorized, which this
//	middleware maps to 401.
//
// Inputs:
//
//	provider - AuthProvider used to validate tokens. Must not be nil.
//
// Thread Safety: Safe for concurrent use.
func AuthMiddleware(provider extensions.AuthProvider) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := extractBearerToken(c)

		authInfo, err := provider.Validate(c.Request.Context(), token)
		if err != nil {
			if errors.Is(err, extensions.ErrUnauthorized) {
				c.AbortWithStatusJSON(http.StatusUnauthorized, ErrorResponse{
					Error: "Unauthorized",
					Code:  "UNAUTHORIZED",
				})
				return
			}
			// Provider failures (network, identity provider outage)
			c.AbortWithStatusJSON(http.StatusUnauthorized, ErrorResponse{
				Error: "Authentication failed",
				Code:  "AUTH_FAILED",
			})
			return
		}

		SetAuthInfo(c, authInfo)
		c.Next()
	}
}

// extractBearerToken extracts the token from the Authorization header.
//
// Expects "Bearer <token>"; the scheme is case-insensitive per RFC
// 7235. Returns the empty string when the header is missing or
// malformed.
func extractBearerToken(c *gin.Context) string {
	authHeader := c.GetHeader("Authorization")
	if authHeader == "" {
		return ""
	}

	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}

	return strings.TrimSpace(parts[1])
}

// identityFor resolves the audit identity for the current request.
//
// Requests that never passed through AuthMiddleware are attributed to
// "anonymous".
func identityFor(c *gin.Context) (string, *extensions.AuthInfo) {
	authInfo := GetAuthInfo(c)
	userID := "anonymous"
	if authInfo != nil {
		userID = authInfo.UserID
	}
	return userID, authInfo
}
