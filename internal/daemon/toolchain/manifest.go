// internal/daemon/toolchain/manifest.go
package toolchain

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"
)

// manifest is the subset of Cargo.toml needed to name the produced binary.
type manifest struct {
	Package struct {
		Name string `toml:"name"`
	} `toml:"package"`
	Bin []struct {
		Name string `toml:"name"`
	} `toml:"bin"`
}

// BinaryName returns the name of the binary a Cargo manifest produces: the
// first [[bin]] target if any, else the package name.
func BinaryName(manifestPath string) (string, error) {
	data, err := os.ReadFile(manifestPath)
	if err != nil {
		return "", fmt.Errorf("failed to read manifest: %w", err)
	}

	var m manifest
	if err := toml.Unmarshal(data, &m); err != nil {
		return "", fmt.Errorf("failed to parse %s: %w", manifestPath, err)
	}

	for _, b := range m.Bin {
		if b.Name != "" {
			return b.Name, nil
		}
	}
	if m.Package.Name != "" {
		return m.Package.Name, nil
	}
	return "", fmt.Errorf("%s declares neither [[bin]] nor [package] name", manifestPath)
}

// ExecutableName adds the platform suffix of target to name.
func ExecutableName(target, name string) string {
	if strings.Contains(target, "windows") && !strings.HasSuffix(name, ".exe") {
		return name + ".exe"
	}
	return name
}

// ResolveArtifactPath returns where cross leaves the release binary name for
// target inside buildRoot.
func ResolveArtifactPath(target, buildRoot, name string) string {
	return filepath.Join(buildRoot, "target", target, "release", name)
}

// Layout adapts ResolveArtifactPath to the resolver interface of the builder.
type Layout struct{}

// ResolveArtifactPath implements the builder's artifact resolver.
func (Layout) ResolveArtifactPath(target, buildRoot, name string) string {
	return ResolveArtifactPath(target, buildRoot, name)
}
