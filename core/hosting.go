package core

import (
	"strings"

	"go.uber.org/zap"
)

// Platform identifies a hosting environment with known header quirks.
// Detection runs once at startup; the resulting HeaderPolicy is injected
// into the NetworkRegistry instead of scattering conditionals per request.
type Platform string

const (
	PlatformGeneric   Platform = "generic"
	PlatformSpinupWP  Platform = "spinupwp"
	PlatformFlywheel  Platform = "flywheel"
	PlatformCloudways Platform = "cloudways"
	PlatformRocketNet Platform = "rocketnet"
)

// Environ is the process environment as a map, injected so detection is
// testable.
type Environ map[string]string

// DetectPlatform inspects platform-specific environment markers.
func DetectPlatform(env Environ) Platform {
	switch {
	case env["SPINUPWP_SITE"] != "" && strings.Contains(env["SPINUPWP_LOG_PATH"], "sites/"):
		return PlatformSpinupWP
	case env["CDN_SITE_TOKEN"] != "" && env["CDN_SITE_ID"] != "":
		return PlatformRocketNet
	case strings.HasSuffix(env["SERVER_ADMIN"], "wpdns.site"):
		return PlatformRocketNet
	case strings.Contains(env["DOCUMENT_ROOT"], "cloudwaysapps.com"):
		return PlatformCloudways
	case strings.Contains(env["SERVER_SOFTWARE"], "Flywheel"):
		return PlatformFlywheel
	}
	return PlatformGeneric
}

// PolicyFor maps a platform to its header-resolution policy.
//
// SpinupWP terminates the edge connection itself, so the transport remote
// address is the edge hop and the original client sits in the
// forwarded-for header. Flywheel relays the edge address in X-Proxy-Ip.
// Cloudways strips the discriminating headers entirely but only fronts
// sites through the edge network, so the check is overridden to pass.
func PolicyFor(p Platform) HeaderPolicy {
	switch p {
	case PlatformSpinupWP:
		return HeaderPolicy{EdgeIPHeader: "", ClientIPHeader: ForwardedForHeader}
	case PlatformFlywheel:
		return HeaderPolicy{EdgeIPHeader: "X-Proxy-Ip"}
	case PlatformCloudways:
		return HeaderPolicy{TrustNetwork: true}
	}
	return DefaultHeaderPolicy()
}

// PlatformHooks returns login observers for platforms with their own
// audit trail. Rocket.Net forwards SSO logins and rejected conventional
// attempts to its activity log; other platforms observe nothing.
func PlatformHooks(p Platform, logger *zap.Logger) Hooks {
	if logger == nil {
		logger = zap.NewNop()
	}
	if p != PlatformRocketNet {
		return Hooks{}
	}
	return Hooks{
		OnLoginSuccess: []LoginObserver{func(username string, account *Account) {
			logger.Info("sso login",
				zap.String("action", "logged_in_sso"),
				zap.String("username", username),
				zap.String("email", account.Email),
				zap.String("role", account.Role))
		}},
		OnLoginRequiresSSO: []RequiresSSOObserver{func(username string) {
			logger.Info("sso required for login",
				zap.String("action", "login_not_allowed_sso"),
				zap.String("username", username))
		}},
	}
}
