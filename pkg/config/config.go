package config

import (
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/rahuls2764/Skill/pkg/utils"

	"github.com/ethereum/go-ethereum/common"
)

const ConfigFileName = ".skillbridge.json"

// Hardhat localhost deployment used when no addresses are configured.
const (
	DefaultTokenAddress       = "0x5FbDB2315678afecb367f032d93F642f64180aa3"
	DefaultCertificateAddress = "0xe7f1725E7734CE288F8367e1Bb143E90bb3F0512"
	DefaultPlatformAddress    = "0x9fE46736679d2D9a65F0992F2272dE9f3c7fa6e0"
)

// NetworkConfig holds the single chain the application expects.
type NetworkConfig struct {
	Name        string   `json:"name"`
	ChainID     int64    `json:"chain_id,omitempty"`
	RPCURLs     []string `json:"rpc_urls"`
	ExplorerURL string   `json:"explorer_url,omitempty"`
}

// ContractsConfig holds the deployed contract addresses.
type ContractsConfig struct {
	Token       string `json:"token"`
	Platform    string `json:"platform"`
	Certificate string `json:"certificate,omitempty"`
}

// WalletConfig describes where the wallet's keys come from.
type WalletConfig struct {
	PrivateKeyEnv string `json:"private_key_env,omitempty"`
	Keystore      string `json:"keystore,omitempty"`
	PassphraseEnv string `json:"passphrase_env,omitempty"`
	AutoConnect   bool   `json:"auto_connect"`
	AutoApprove   bool   `json:"auto_approve"`
}

// Config holds application-wide settings.
type Config struct {
	Network                    NetworkConfig   `json:"network"`
	Contracts                  ContractsConfig `json:"contracts"`
	Wallet                     WalletConfig    `json:"wallet"`
	BackendURL                 string          `json:"backend_url"`
	TokenSymbol                string          `json:"token_symbol"`
	TokenDecimals              int             `json:"token_decimals"`
	DisplayDecimals            int             `json:"display_decimals"`
	BalanceRefreshSeconds      int             `json:"balance_refresh_seconds"`
	ConfirmationTimeoutSeconds int             `json:"confirmation_timeout_seconds"`
	RetakeFee                  string          `json:"retake_fee"`
	TestRewardPerPoint         string          `json:"test_reward_per_point"`
	LogMode                    string          `json:"log_mode"`
	LogFile                    string          `json:"log_file,omitempty"`
}

// Default returns the configuration for a local Hardhat node.
func Default() Config {
	return Config{
		Network: NetworkConfig{
			Name:    "Hardhat",
			ChainID: 31337,
			RPCURLs: []string{"http://127.0.0.1:8545"},
		},
		Contracts: ContractsConfig{
			Token:       DefaultTokenAddress,
			Platform:    DefaultPlatformAddress,
			Certificate: DefaultCertificateAddress,
		},
		Wallet: WalletConfig{
			PrivateKeyEnv: "SKILLBRIDGE_PRIVATE_KEY",
			PassphraseEnv: "SKILLBRIDGE_KEYSTORE_PASSPHRASE",
			AutoConnect:   true,
		},
		BackendURL:                 "http://localhost:8000",
		TokenSymbol:                "SBT",
		TokenDecimals:              18,
		DisplayDecimals:            2,
		BalanceRefreshSeconds:      30,
		ConfirmationTimeoutSeconds: 90,
		RetakeFee:                  "2",
		TestRewardPerPoint:         "2",
		LogMode:                    "dev",
	}
}

func (c Config) BalanceRefreshInterval() time.Duration {
	return time.Duration(c.BalanceRefreshSeconds) * time.Second
}

func (c Config) ConfirmationTimeout() time.Duration {
	return time.Duration(c.ConfirmationTimeoutSeconds) * time.Second
}

// RetakeFeeAmount returns the retake fee in base token units.
func (c Config) RetakeFeeAmount() (*big.Int, error) {
	return utils.ParseUnits(c.RetakeFee, c.TokenDecimals)
}

// RewardPerPoint returns the test reward per correct answer in base units.
func (c Config) RewardPerPoint() (*big.Int, error) {
	return utils.ParseUnits(c.TestRewardPerPoint, c.TokenDecimals)
}

// Validate checks the fields the core cannot run without.
func (c Config) Validate() []string {
	var problems []string
	if strings.TrimSpace(c.Network.Name) == "" {
		problems = append(problems, "network has no name")
	}
	if len(c.Network.RPCURLs) == 0 {
		problems = append(problems, fmt.Sprintf("network '%s' has no RPC URLs", c.Network.Name))
	}
	check := func(name, addr string, required bool) {
		if addr == "" {
			if required {
				problems = append(problems, fmt.Sprintf("%s contract address is missing", name))
			}
			return
		}
		if !common.IsHexAddress(addr) {
			problems = append(problems, fmt.Sprintf("%s contract address %q is not a valid address", name, addr))
		}
	}
	check("token", c.Contracts.Token, true)
	check("platform", c.Contracts.Platform, true)
	check("certificate", c.Contracts.Certificate, false)
	if _, err := c.RetakeFeeAmount(); err != nil {
		problems = append(problems, fmt.Sprintf("retake_fee: %v", err))
	}
	if _, err := c.RewardPerPoint(); err != nil {
		problems = append(problems, fmt.Sprintf("test_reward_per_point: %v", err))
	}
	return problems
}

func GetConfigPath(customPath string) (string, error) {
	if customPath != "" {
		return customPath, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ConfigFileName), nil
}

func LoadConfigFromFile(path string) (Config, error) {
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return Default(), nil
	}
	if err != nil {
		return Config{}, err
	}
	defer func() { _ = f.Close() }()
	return LoadConfig(f)
}

func LoadConfig(r io.Reader) (Config, error) {
	var raw struct {
		Network                    *NetworkConfig   `json:"network"`
		Contracts                  *ContractsConfig `json:"contracts"`
		Wallet                     *WalletConfig    `json:"wallet"`
		RPCURLs                    []string         `json:"rpc_urls"` // Legacy
		BackendURL                 string           `json:"backend_url"`
		TokenSymbol                string           `json:"token_symbol"`
		TokenDecimals              *int             `json:"token_decimals"`
		DisplayDecimals            *int             `json:"display_decimals"`
		BalanceRefreshSeconds      *int             `json:"balance_refresh_seconds"`
		ConfirmationTimeoutSeconds *int             `json:"confirmation_timeout_seconds"`
		RetakeFee                  string           `json:"retake_fee"`
		TestRewardPerPoint         string           `json:"test_reward_per_point"`
		LogMode                    string           `json:"log_mode"`
		LogFile                    string           `json:"log_file"`
	}
	if err := json.NewDecoder(r).Decode(&raw); err != nil {
		return Config{}, err
	}

	cfg := Default()
	if raw.Network != nil {
		cfg.Network = *raw.Network
	} else if len(raw.RPCURLs) > 0 {
		// Migration for configs that only listed RPC URLs.
		cfg.Network.RPCURLs = raw.RPCURLs
		cfg.Network.ChainID = 0
	}
	if raw.Contracts != nil {
		cfg.Contracts = *raw.Contracts
	}
	if raw.Wallet != nil {
		cfg.Wallet = *raw.Wallet
	}
	if raw.BackendURL != "" {
		cfg.BackendURL = strings.TrimRight(raw.BackendURL, "/")
	}
	if raw.TokenSymbol != "" {
		cfg.TokenSymbol = raw.TokenSymbol
	}
	if raw.TokenDecimals != nil {
		cfg.TokenDecimals = *raw.TokenDecimals
	}
	if raw.DisplayDecimals != nil {
		cfg.DisplayDecimals = *raw.DisplayDecimals
	}
	if raw.BalanceRefreshSeconds != nil && *raw.BalanceRefreshSeconds > 0 {
		cfg.BalanceRefreshSeconds = *raw.BalanceRefreshSeconds
	}
	if raw.ConfirmationTimeoutSeconds != nil && *raw.ConfirmationTimeoutSeconds > 0 {
		cfg.ConfirmationTimeoutSeconds = *raw.ConfirmationTimeoutSeconds
	}
	if raw.RetakeFee != "" {
		cfg.RetakeFee = raw.RetakeFee
	}
	if raw.TestRewardPerPoint != "" {
		cfg.TestRewardPerPoint = raw.TestRewardPerPoint
	}
	if raw.LogMode != "" {
		cfg.LogMode = raw.LogMode
	}
	cfg.LogFile = raw.LogFile
	return cfg, nil
}

func SaveConfig(cfg Config, path string) error {
	if problems := cfg.Validate(); len(problems) > 0 {
		return fmt.Errorf("validation failed: %s", strings.Join(problems, "; "))
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}

	if len(data) == 0 {
		return fmt.Errorf("validation failed: encoded configuration is empty")
	}

	// Create a backup of the existing file
	if _, err := os.Stat(path); err == nil {
		backupPath := fmt.Sprintf("%s.%s.bak", path, time.Now().Format("20060102-150405"))
		input, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("failed to read existing config for backup: %w", err)
		}
		if err := os.WriteFile(backupPath, input, 0600); err != nil {
			return fmt.Errorf("failed to write backup config: %w", err)
		}
	}

	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0600); err != nil {
		return err
	}
	return os.Rename(tmpPath, path)
}

func RestoreLastBackup(configPath string) error {
	matches, err := filepath.Glob(configPath + ".*.bak")
	if err != nil {
		return err
	}
	if len(matches) == 0 {
		return fmt.Errorf("no backup files found")
	}
	sort.Strings(matches)
	lastBackup := matches[len(matches)-1]

	data, err := os.ReadFile(lastBackup)
	if err != nil {
		return err
	}
	return os.WriteFile(configPath, data, 0600)
}
