// Copyright (C) 2025 Pollen Hive (dev@pollenhive.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package middleware provides HTTP middleware for the Pollen agent.
//
// The agent is a sovereign, locally-run service: with no API token
// configured every request is authenticated as the local user so the
// CLI works out of the box. Configuring POLLEN_API_TOKEN switches the
// API to bearer-token auth.
package middleware

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

// identityKey is the gin context key for the caller identity.
const identityKey = "pollen_identity"

// LocalIdentity is the identity assigned when no token is configured.
const LocalIdentity = "local-user"

// Identity returns the authenticated caller, empty when unset.
func Identity(c *gin.Context) string {
	id, _ := c.Get(identityKey)
	s, _ := id.(string)
	return s
}

// Auth returns bearer-token middleware. An empty token disables
// authentication and assigns the local identity.
func Auth(token string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if token == "" {
			c.Set(identityKey, LocalIdentity)
			c.Next()
			return
		}

		header := c.GetHeader("Authorization")
		if header == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing authorization header"})
			return
		}
		presented, ok := strings.CutPrefix(header, "Bearer ")
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "authorization header must be a bearer token"})
			return
		}
		if subtle.ConstantTimeCompare([]byte(presented), []byte(token)) != 1 {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}

		c.Set(identityKey, "token-user")
		c.Next()
	}
}
