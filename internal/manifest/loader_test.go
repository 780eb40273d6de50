package manifest

import (
	"encoding/json"
	"errors"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pendergraft/verify-contracts/internal/verification/domain"
)

const (
	addrMarket = "0x1111111111111111111111111111111111111111"
	addrToken  = "0x2222222222222222222222222222222222222222"
	addrLibA   = "0xaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func writeFile(t *testing.T, dir, name, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0644))
}

// deployment builds a hardhat-deploy record with metadata stored as a string.
func deployment(t *testing.T, address string, meta string, extra map[string]any) string {
	t.Helper()
	rec := map[string]any{"address": address, "metadata": meta}
	for k, v := range extra {
		rec[k] = v
	}
	data, err := json.Marshal(rec)
	require.NoError(t, err)
	return string(data)
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()

	writeFile(t, dir, "Market.json", deployment(t, addrMarket,
		`{"compiler":{"version":"0.8.17+commit.8df45f5f"},"settings":{"compilationTarget":{"contracts/Market.sol":"Market"}}}`,
		map[string]any{
			"args":      []any{"0x01", 42, map[string]any{"k": "v"}},
			"libraries": map[string]string{"LibA": addrLibA},
		}))
	// Metadata as a plain object instead of a string.
	writeFile(t, dir, "Token.json", `{
		"address": "`+addrToken+`",
		"metadata": {"settings": {"compilationTarget": {"contracts/Token.sol": "Token"}}}
	}`)
	writeFile(t, dir, ".chainId", "1")
	writeFile(t, dir, "notes.txt", "ignored")
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "solcInputs"), 0755))
	writeFile(t, filepath.Join(dir, "solcInputs"), "abc.json", `not json`)

	m, err := Load(dir, testLogger())
	require.NoError(t, err)

	require.Len(t, m.Requests, 2)
	assert.Empty(t, m.Skipped)
	assert.Equal(t, filepath.Base(dir), m.Network)

	market := m.Requests[0]
	assert.Equal(t, "Market", market.Name)
	assert.Equal(t, addrMarket, market.Address)
	assert.Equal(t, "contracts/Market.sol:Market", market.ContractID)
	assert.Equal(t, "contracts/Market.sol", market.SourcePath)
	assert.Equal(t, "v0.8.17+commit.8df45f5f", market.CompilerVersion)
	require.Len(t, market.ConstructorArgs, 3)
	assert.JSONEq(t, `"0x01"`, string(market.ConstructorArgs[0]))
	assert.JSONEq(t, `{"k":"v"}`, string(market.ConstructorArgs[2]))
	assert.Equal(t, map[string]string{"LibA": addrLibA}, market.Libraries)
	assert.Equal(t, 1+domain.AttemptSlack, market.MaxAttempts)

	token := m.Requests[1]
	assert.Equal(t, "Token", token.Name)
	assert.Equal(t, "contracts/Token.sol:Token", token.ContractID)
	assert.NotNil(t, token.ConstructorArgs)
	assert.Empty(t, token.ConstructorArgs)
	assert.NotNil(t, token.Libraries)
	assert.Empty(t, token.Libraries)
	assert.Equal(t, domain.AttemptSlack, token.MaxAttempts)
	assert.Empty(t, token.CompilerVersion)
}

func TestLoad_FirstCompilationTargetInDocumentOrder(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "Multi.json", `{
		"address": "`+addrMarket+`",
		"metadata": {"settings": {"compilationTarget": {"contracts/Z.sol": "Z", "contracts/A.sol": "A"}}}
	}`)

	m, err := Load(dir, testLogger())
	require.NoError(t, err)
	require.Len(t, m.Requests, 1)
	assert.Equal(t, "contracts/Z.sol:Z", m.Requests[0].ContractID)
}

func TestLoad_SkipsIncompleteRecords(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "A_NoMetadata.json", `{"address": "`+addrMarket+`"}`)
	writeFile(t, dir, "B_EmptyMetadata.json", `{"address": "`+addrMarket+`", "metadata": ""}`)
	writeFile(t, dir, "C_EmptyTarget.json", deployment(t, addrMarket, `{"settings":{"compilationTarget":{}}}`, nil))
	writeFile(t, dir, "D_NoSettings.json", deployment(t, addrMarket, `{"language":"Solidity"}`, nil))
	writeFile(t, dir, "E_BadAddress.json", deployment(t, "0x1234", `{"settings":{"compilationTarget":{"a.sol":"A"}}}`, nil))
	writeFile(t, dir, "F_Good.json", deployment(t, addrMarket, `{"settings":{"compilationTarget":{"a.sol":"A"}}}`, nil))

	m, err := Load(dir, testLogger())
	require.NoError(t, err)

	require.Len(t, m.Requests, 1)
	assert.Equal(t, "F_Good", m.Requests[0].Name)

	want := []struct{ name, reason string }{
		{"A_NoMetadata", ReasonNoMetadata},
		{"B_EmptyMetadata", ReasonNoMetadata},
		{"C_EmptyTarget", ReasonNoTarget},
		{"D_NoSettings", ReasonNoTarget},
		{"E_BadAddress", ReasonBadAddress},
	}
	require.Len(t, m.Skipped, len(want))
	for i, w := range want {
		assert.Equal(t, w.name, m.Skipped[i].Name)
		assert.Equal(t, w.reason, m.Skipped[i].Reason)
		assert.Equal(t, filepath.Join(dir, w.name+".json"), m.Skipped[i].Path)
	}
}

func TestLoad_MissingDirectory(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope"), testLogger())
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrDirectoryMissing))
	assert.True(t, errors.Is(err, fs.ErrNotExist))
}

func TestLoad_MalformedRecord(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"invalid json", `{"address": `},
		{"metadata string not json", `{"address": "` + addrMarket + `", "metadata": "{oops"}`},
		{"compilation target not object", `{"address": "` + addrMarket + `", "metadata": {"settings": {"compilationTarget": ["a.sol"]}}}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			writeFile(t, dir, "Broken.json", tt.content)

			_, err := Load(dir, testLogger())
			require.Error(t, err)
			assert.Contains(t, err.Error(), "Broken.json")
			assert.False(t, errors.Is(err, ErrDirectoryMissing))
		})
	}
}

func TestLoad_EmptyDirectory(t *testing.T) {
	m, err := Load(t.TempDir(), testLogger())
	require.NoError(t, err)
	assert.Empty(t, m.Requests)
	assert.Empty(t, m.Skipped)
}
