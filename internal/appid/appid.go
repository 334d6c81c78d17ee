package appid

import (
	"context"
	"strings"

	"github.com/fulmenhq/gofulmen/appidentity"

	appidentityassets "github.com/searchlens/searchlens/internal/assets/appidentity"
)

func init() {
	// Explicit identity overrides (FULMEN_APP_IDENTITY_PATH or a repo-local
	// .fulmen/app.yaml) win; the embedded copy covers standalone binaries.
	_ = appidentity.RegisterEmbeddedIdentityYAML(appidentityassets.YAML)
}

func Get(ctx context.Context) (*appidentity.Identity, error) {
	return appidentity.Get(ctx)
}

// BinaryName returns the identity binary name, or fallback when identity
// cannot be loaded.
func BinaryName(ctx context.Context, fallback string) string {
	identity, err := Get(ctx)
	if err != nil || identity == nil || strings.TrimSpace(identity.BinaryName) == "" {
		return fallback
	}
	return identity.BinaryName
}

// UserAgent builds the User-Agent sent to the cluster.
func UserAgent(ctx context.Context, version string) string {
	name := BinaryName(ctx, "searchlens")
	if strings.TrimSpace(version) == "" {
		return name
	}
	return name + "/" + version
}
