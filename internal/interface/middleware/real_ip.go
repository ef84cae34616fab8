package middleware

import (
	"fmt"
	"strings"

	"github.com/gin-gonic/gin"
)

// ConfigureClientIP decides which forwarding headers c.ClientIP() may trust.
// Headers are ignored unless the direct peer is in proxies; platform
// ("cloudflare" or "google") trusts that platform's client IP header.
// gin trusts every proxy by default, so this must run before serving.
func ConfigureClientIP(engine *gin.Engine, proxies []string, platform string) error {
	if len(proxies) == 0 {
		proxies = nil
	}
	if err := engine.SetTrustedProxies(proxies); err != nil {
		return fmt.Errorf("trusted proxies: %w", err)
	}
	switch strings.ToLower(strings.TrimSpace(platform)) {
	case "":
		engine.TrustedPlatform = ""
	case "cloudflare":
		engine.TrustedPlatform = gin.PlatformCloudflare
	case "google":
		engine.TrustedPlatform = gin.PlatformGoogleAppEngine
	default:
		return fmt.Errorf("unknown trusted platform %q", platform)
	}
	return nil
}

// RealIP stores the client IP under "real_ip" for the rate limiter and access
// log.
func RealIP() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Set("real_ip", c.ClientIP())
		c.Next()
	}
}
