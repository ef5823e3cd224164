package chain

import (
	"bytes"
	"embed"
	"fmt"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

//go:embed abi/*.json
var abiFiles embed.FS

// Parsed contract interfaces. The JSON files pin the on-chain tuple layout
// of courses(id) and users(address).
var (
	TokenABI       = mustLoadABI("abi/token.json")
	PlatformABI    = mustLoadABI("abi/platform.json")
	CertificateABI = mustLoadABI("abi/certificate.json")
)

func mustLoadABI(name string) abi.ABI {
	raw, err := abiFiles.ReadFile(name)
	if err != nil {
		panic(fmt.Sprintf("read %s: %v", name, err))
	}
	parsed, err := abi.JSON(bytes.NewReader(raw))
	if err != nil {
		panic(fmt.Sprintf("parse %s: %v", name, err))
	}
	return parsed
}
