package handlers

import (
	"net/http"

	"casedraft-backend/config"
	"casedraft-backend/models"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// Identity headers set by the upstream auth layer
const (
	HeaderUserID       = "X-User-ID"
	HeaderOrganization = "X-Organization-ID"
	HeaderEntitlements = "X-Tier-Entitlements"
)

const identityKey = "identity"

// RequireIdentity reads the verified identity from the auth headers and
// rejects requests without one
func RequireIdentity() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, err := uuid.Parse(c.GetHeader(HeaderUserID))
		if err != nil || userID == uuid.Nil {
			respondError(c, http.StatusUnauthorized, "UNAUTHENTICATED", "Missing or invalid "+HeaderUserID)
			return
		}
		identity := models.Identity{UserID: userID}

		if raw := c.GetHeader(HeaderOrganization); raw != "" {
			orgID, err := uuid.Parse(raw)
			if err != nil {
				respondError(c, http.StatusUnauthorized, "UNAUTHENTICATED", "Invalid "+HeaderOrganization)
				return
			}
			identity.OrganizationID = &orgID
		}

		if raw := c.GetHeader(HeaderEntitlements); raw != "" {
			entitlements, err := config.ParseAllotments(raw)
			if err != nil {
				respondError(c, http.StatusBadRequest, "INVALID_ENTITLEMENTS", err.Error())
				return
			}
			identity.Entitlements = entitlements
		}

		c.Set(identityKey, identity)
		c.Next()
	}
}

func identityFrom(c *gin.Context) models.Identity {
	if v, ok := c.Get(identityKey); ok {
		if identity, ok := v.(models.Identity); ok {
			return identity
		}
	}
	return models.Identity{}
}

func parseID(c *gin.Context, what string) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		respondError(c, http.StatusBadRequest, "INVALID_ID", "Invalid "+what+" ID format")
		return uuid.Nil, false
	}
	return id, true
}
