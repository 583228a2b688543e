// Package cliflag collects the pflag helpers shared by all commands:
// grouped flag sets and flag-name normalization.
package cliflag

import (
	"strings"

	"github.com/spf13/pflag"

	"github.com/kiosk404/mcpweave/pkg/logger"
)

// NamedFlagSets stores named flag sets in the order they were requested.
type NamedFlagSets struct {
	// Order is an ordered list of flag set names.
	Order []string
	// FlagSets stores the flag sets by name.
	FlagSets map[string]*pflag.FlagSet
}

// FlagSet returns the flag set with the given name, creating it on first use.
func (nfs *NamedFlagSets) FlagSet(name string) *pflag.FlagSet {
	if nfs.FlagSets == nil {
		nfs.FlagSets = map[string]*pflag.FlagSet{}
	}
	if _, ok := nfs.FlagSets[name]; !ok {
		nfs.FlagSets[name] = pflag.NewFlagSet(name, pflag.ExitOnError)
		nfs.Order = append(nfs.Order, name)
	}
	return nfs.FlagSets[name]
}

// WordSepNormalizeFunc changes all flags that contain "_" separators.
func WordSepNormalizeFunc(fs *pflag.FlagSet, name string) pflag.NormalizedName {
	if strings.Contains(name, "_") {
		return pflag.NormalizedName(strings.ReplaceAll(name, "_", "-"))
	}
	return pflag.NormalizedName(name)
}

// WarnWordSepNormalizeFunc changes and warns for flags that contain "_"
// separators.
func WarnWordSepNormalizeFunc(fs *pflag.FlagSet, name string) pflag.NormalizedName {
	if strings.Contains(name, "_") {
		normalized := strings.ReplaceAll(name, "_", "-")
		logger.Warn("%s is DEPRECATED and will be removed in a future version. Use %s instead.", name, normalized)
		return pflag.NormalizedName(normalized)
	}
	return pflag.NormalizedName(name)
}
