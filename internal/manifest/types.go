// Package manifest loads hardhat-deploy deployment records into verification requests.
package manifest

import (
	"encoding/json"

	"github.com/pendergraft/verify-contracts/internal/verification/domain"
)

// Manifest is the ordered set of requests read from one network directory.
type Manifest struct {
	Network  string
	Dir      string
	Requests []*domain.Request
	Skipped  []Skip
}

// Skip records a deployment file that could not be turned into a request.
type Skip struct {
	Name   string
	Path   string
	Reason string
}

// Skip reasons
const (
	ReasonNoMetadata = "metadata not available"
	ReasonNoTarget   = "contract path not available in metadata.settings.compilationTarget"
	ReasonBadAddress = "deployment address missing or invalid"
)

// record is the subset of a hardhat-deploy deployment file the loader reads.
type record struct {
	Address   string            `json:"address"`
	Args      []json.RawMessage `json:"args"`
	Libraries map[string]string `json:"libraries"`
	Metadata  json.RawMessage   `json:"metadata"`
}

// metadata is the solc metadata embedded in a deployment record.
type metadata struct {
	Compiler struct {
		Version string `json:"version"`
	} `json:"compiler"`
	Settings struct {
		// Kept raw so the first entry can be read in document order.
		CompilationTarget json.RawMessage `json:"compilationTarget"`
	} `json:"settings"`
}
