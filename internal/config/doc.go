// Package config holds every value the provisioning pipeline used to treat
// as a global constant: the download URL template, the fixed paths, the
// required package list and the names of the external tools.
//
// Defaults reproduce the stock behavior. An optional file can override
// any field; the format is chosen by extension:
//   - .yaml / .yml via gopkg.in/yaml.v3
//   - .json / .jsonc via github.com/tidwall/jsonc and encoding/json
//   - .toml via github.com/pelletier/go-toml
//
// Fields absent from the file keep their defaults.
package config
