// Package validation provides input validation for verify-contracts.
package validation

import (
	"errors"
	"regexp"
	"strings"

	"golang.org/x/mod/semver"
)

// Network names become directory names under the deployments root.
var networkNameRegex = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_.-]{0,63}$`)

// ValidateNetworkName validates a network name
func ValidateNetworkName(name string) error {
	if name == "" {
		return errors.New("network name cannot be empty")
	}
	if !networkNameRegex.MatchString(name) {
		return errors.New("invalid network name: must be alphanumeric with '-', '_' or '.'")
	}
	// Prevent path traversal
	if strings.Contains(name, "..") {
		return errors.New("invalid characters in network name")
	}
	return nil
}

// ValidateAddress validates an Ethereum address
func ValidateAddress(addr string) error {
	if len(addr) != 42 {
		return errors.New("invalid address length: must be 42 characters (0x + 40 hex)")
	}
	if !strings.HasPrefix(addr, "0x") {
		return errors.New("invalid address: must start with 0x")
	}
	// Check hex characters
	for _, c := range addr[2:] {
		isDigit := c >= '0' && c <= '9'
		isLowerHex := c >= 'a' && c <= 'f'
		isUpperHex := c >= 'A' && c <= 'F'
		if !isDigit && !isLowerHex && !isUpperHex {
			return errors.New("invalid address: contains non-hex characters")
		}
	}
	return nil
}

// ValidateContractID validates a fully qualified contract name (sourcePath:ContractName)
func ValidateContractID(id string) error {
	i := strings.LastIndex(id, ":")
	if i <= 0 || i == len(id)-1 {
		return errors.New("invalid contract id: must be in format path:ContractName")
	}
	if strings.ContainsAny(id[i+1:], " /\\") {
		return errors.New("invalid contract id: contract name contains invalid characters")
	}
	return nil
}

// NormalizeCompilerVersion normalizes a solc version to the "v0.8.20+commit.a1b2c3d4"
// form. It returns "" when the version is not valid semver.
func NormalizeCompilerVersion(v string) string {
	v = strings.TrimSpace(v)
	if v == "" {
		return ""
	}
	withV := "v" + strings.TrimPrefix(v, "v")
	if !semver.IsValid(withV) {
		return ""
	}
	// Require major.minor.patch; semver accepts shorthand like v0.8
	core := strings.SplitN(strings.SplitN(withV, "+", 2)[0], "-", 2)[0]
	if strings.Count(core, ".") < 2 {
		return ""
	}
	return withV
}
