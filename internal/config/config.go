package config

import (
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml"
	"github.com/pkg/errors"
	"github.com/tidwall/jsonc"
	"gopkg.in/yaml.v3"

	"github.com/shinji-kodama/vbox-guest-additions/internal/model"
)

// VersionPlaceholder is substituted with the requested version in
// URLTemplate.
const VersionPlaceholder = "{version}"

// DefaultPackages are the build prerequisites of the Guest Additions
// kernel modules on RPM-based distributions.
var DefaultPackages = []string{
	"bison",
	"elfutils-libelf-devel",
	"flex",
	"gcc",
	"glibc-devel",
	"glibc-headers",
	"kernel-devel",
	"kernel-headers",
	"libxcrypt-devel",
	"libzstd-devel",
	"m4",
	"make",
	"openssl-devel",
	"zlib-devel",
}

// Config is the full set of inputs to one provisioning run.
type Config struct {
	// Version is the Guest Additions release to install, e.g. "7.0.14".
	Version string `json:"version" yaml:"version"`

	// URLTemplate is the download URL with VersionPlaceholder where the
	// version goes.
	URLTemplate string `json:"url_template" yaml:"url_template"`

	// ISODir is the directory the ISO is downloaded into.
	ISODir string `json:"iso_dir" yaml:"iso_dir"`

	// MountDir is the loop mount point.
	MountDir string `json:"mount_dir" yaml:"mount_dir"`

	// ExtractDir receives a copy of the ISO contents.
	ExtractDir string `json:"extract_dir" yaml:"extract_dir"`

	// InstallerName is the vendor installer at the root of the ISO.
	InstallerName string `json:"installer_name" yaml:"installer_name"`

	// Packages must be installed before the installer runs.
	Packages []string `json:"packages" yaml:"packages"`

	// PackageManager is the dnf-compatible binary used for queries and installs.
	PackageManager string `json:"package_manager" yaml:"package_manager"`

	// Downloader is the wget-compatible binary used to fetch the ISO.
	Downloader string `json:"downloader" yaml:"downloader"`

	// PruneKernels removes all but the newest install-only kernel packages
	// after kernel headers had to be installed.
	PruneKernels bool `json:"prune_kernels" yaml:"prune_kernels"`
}

// Default returns a Config with the stock paths and package list.
// Version is left empty; callers must set it.
func Default() *Config {
	pkgs := make([]string, len(DefaultPackages))
	copy(pkgs, DefaultPackages)

	return &Config{
		URLTemplate:    "https://download.virtualbox.org/virtualbox/{version}/VBoxGuestAdditions_{version}.iso",
		ISODir:         "/tmp",
		MountDir:       "/mnt/iso",
		ExtractDir:     "/tmp/VBox_GA",
		InstallerName:  "VBoxLinuxAdditions.run",
		Packages:       pkgs,
		PackageManager: "dnf",
		Downloader:     "wget",
		PruneKernels:   true,
	}
}

// Load returns the defaults overlaid with the file at path. An empty
// path returns the defaults unchanged.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "read config %s", path)
	}

	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, cfg)
	case ".json", ".jsonc":
		// Strip comments and trailing commas before handing off to encoding/json.
		err = json.Unmarshal(jsonc.ToJSON(data), cfg)
	case ".toml":
		err = decodeTOML(data, cfg)
	default:
		return nil, fmt.Errorf("unsupported config format %q (use .yaml, .json, .jsonc or .toml)", ext)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "parse config %s", path)
	}

	return cfg, nil
}

// decodeTOML overlays a TOML document on cfg. The document is routed
// through its JSON form so that TOML keys share the json tags and absent
// keys leave defaults untouched.
func decodeTOML(data []byte, cfg *Config) error {
	tree, err := toml.LoadBytes(data)
	if err != nil {
		return err
	}
	b, err := json.Marshal(tree.ToMap())
	if err != nil {
		return err
	}
	return json.Unmarshal(b, cfg)
}

// Validate checks the configuration before any step runs.
func (c *Config) Validate() error {
	if err := model.ValidateVersion(c.Version); err != nil {
		return err
	}

	if !strings.Contains(c.URLTemplate, VersionPlaceholder) {
		return fmt.Errorf("url_template %q must contain %s", c.URLTemplate, VersionPlaceholder)
	}
	u, err := url.Parse(c.ISOURL())
	if err != nil {
		return errors.Wrap(err, "url_template")
	}
	if u.Scheme != "https" && u.Scheme != "http" {
		return fmt.Errorf("url_template must be an http(s) URL, got scheme %q", u.Scheme)
	}

	for name, dir := range map[string]string{
		"iso_dir":     c.ISODir,
		"mount_dir":   c.MountDir,
		"extract_dir": c.ExtractDir,
	} {
		if !filepath.IsAbs(dir) {
			return fmt.Errorf("%s must be an absolute path, got %q", name, dir)
		}
		if filepath.Clean(dir) == "/" {
			return fmt.Errorf("%s must not be the root directory", name)
		}
	}
	if filepath.Clean(c.MountDir) == filepath.Clean(c.ExtractDir) {
		return fmt.Errorf("mount_dir and extract_dir must differ (both %q)", c.MountDir)
	}

	if c.InstallerName == "" || strings.ContainsRune(c.InstallerName, '/') {
		return fmt.Errorf("installer_name must be a bare file name, got %q", c.InstallerName)
	}
	if c.PackageManager == "" {
		return fmt.Errorf("package_manager must not be empty")
	}
	if c.Downloader == "" {
		return fmt.Errorf("downloader must not be empty")
	}
	for _, p := range c.Packages {
		if p == "" || strings.HasPrefix(p, "-") || strings.ContainsAny(p, " \t\n") {
			return fmt.Errorf("invalid package name %q", p)
		}
	}
	return nil
}

// ISOURL returns the download URL for Version.
func (c *Config) ISOURL() string {
	return strings.ReplaceAll(c.URLTemplate, VersionPlaceholder, c.Version)
}

// ISOPath returns where the ISO is downloaded to.
func (c *Config) ISOPath() string {
	return filepath.Join(c.ISODir, "VBoxGuestAdditions_"+c.Version+".iso")
}

// InstallerPath returns the expected location of the vendor installer
// after the ISO contents have been copied.
func (c *Config) InstallerPath() string {
	return filepath.Join(c.ExtractDir, c.InstallerName)
}
