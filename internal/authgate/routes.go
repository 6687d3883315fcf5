package authgate

import "github.com/gin-gonic/gin"

// MountAuthRoutes registers the login flow endpoints.
func MountAuthRoutes(router gin.IRouter, flow *LoginFlowController) {
	router.GET("/auth/login", flow.HandleLogin)
	router.GET("/auth/callback", flow.HandleCallback)
	router.POST("/auth/logout", flow.HandleLogout)
}
