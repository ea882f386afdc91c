package middleware

import (
	"github.com/gin-gonic/gin"

	"github.com/barrysci/stationtest-backend/internal/identity"
)

// ContextKeyIdentity is the Gin context key for the resolved test identity.
const ContextKeyIdentity = "test_identity"

// ResolveIdentity resolves the caller's persistence identity once per
// request and stores it on the context.
func ResolveIdentity(resolver *identity.Resolver) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Set(ContextKeyIdentity, resolver.Resolve(c.Request.Context(), c.ClientIP()))
		c.Next()
	}
}

// GetIdentity returns the identity set by ResolveIdentity, or "" if the
// middleware was not applied.
func GetIdentity(c *gin.Context) string {
	id, _ := c.Get(ContextKeyIdentity)
	s, _ := id.(string)
	return s
}
