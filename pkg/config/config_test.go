package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoadConfig_Malformed(t *testing.T) {
	reader := strings.NewReader(`{ "network": {`)
	_, err := LoadConfig(reader)
	if err == nil {
		t.Error("Expected error loading malformed config, got nil")
	}
}

func TestLoadConfigFromFile_Missing(t *testing.T) {
	cfg, err := LoadConfigFromFile(filepath.Join(t.TempDir(), "nope.json"))
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if cfg.Network.ChainID != 31337 {
		t.Errorf("Expected default chain id 31337, got %d", cfg.Network.ChainID)
	}
	if cfg.Contracts.Platform != DefaultPlatformAddress {
		t.Errorf("Expected default platform address, got %s", cfg.Contracts.Platform)
	}
}

func TestSaveConfig(t *testing.T) {
	tmpPath := filepath.Join(t.TempDir(), "config.json")

	cfg := Default()
	cfg.Network.Name = "Sepolia"
	cfg.Network.ChainID = 11155111
	cfg.BalanceRefreshSeconds = 45

	if err := SaveConfig(cfg, tmpPath); err != nil {
		t.Fatalf("SaveConfig failed: %v", err)
	}

	loaded, err := LoadConfigFromFile(tmpPath)
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if loaded.Network.Name != "Sepolia" || loaded.Network.ChainID != 11155111 {
		t.Errorf("Network mismatch: %+v", loaded.Network)
	}
	if loaded.BalanceRefreshInterval() != 45*time.Second {
		t.Errorf("Refresh interval mismatch: %v", loaded.BalanceRefreshInterval())
	}

	// Second save leaves a backup behind which can be restored.
	cfg.Network.Name = "Changed"
	if err := SaveConfig(cfg, tmpPath); err != nil {
		t.Fatalf("SaveConfig failed: %v", err)
	}
	if err := RestoreLastBackup(tmpPath); err != nil {
		t.Fatalf("RestoreLastBackup failed: %v", err)
	}
	restored, err := LoadConfigFromFile(tmpPath)
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if restored.Network.Name != "Sepolia" {
		t.Errorf("Expected restored name Sepolia, got %s", restored.Network.Name)
	}
}

func TestLoadConfig_TableDriven(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name        string
		jsonContent string
		expectError bool
		validate    func(*testing.T, Config)
	}{
		{
			name: "Valid Config",
			jsonContent: `{
				"network": {"name": "Local", "chain_id": 1337, "rpc_urls": ["http://node"]},
				"contracts": {"token": "0x1111111111111111111111111111111111111111", "platform": "0x2222222222222222222222222222222222222222"},
				"retake_fee": "5",
				"confirmation_timeout_seconds": 60
			}`,
			validate: func(t *testing.T, c Config) {
				if c.Network.ChainID != 1337 || c.Network.RPCURLs[0] != "http://node" {
					t.Errorf("Network mismatch: %+v", c.Network)
				}
				fee, err := c.RetakeFeeAmount()
				if err != nil || fee.String() != "5000000000000000000" {
					t.Errorf("Retake fee mismatch: %v %v", fee, err)
				}
				if c.ConfirmationTimeout() != time.Minute {
					t.Errorf("Timeout mismatch: %v", c.ConfirmationTimeout())
				}
				if len(c.Validate()) != 0 {
					t.Errorf("Unexpected validation problems: %v", c.Validate())
				}
			},
		},
		{
			name:        "Legacy Root RPC URLs",
			jsonContent: `{"rpc_urls": ["http://legacy-rpc"]}`,
			validate: func(t *testing.T, c Config) {
				if len(c.Network.RPCURLs) != 1 || c.Network.RPCURLs[0] != "http://legacy-rpc" {
					t.Errorf("RPC URL mismatch")
				}
				if c.Network.ChainID != 0 {
					t.Errorf("Expected chain id to be discovered later, got %d", c.Network.ChainID)
				}
			},
		},
		{
			name:        "Malformed JSON",
			jsonContent: `{ "network": [ unclosed_array`,
			expectError: true,
		},
		{
			name:        "Partial Config (Defaults)",
			jsonContent: `{"backend_url": "http://upload:8000/"}`,
			validate: func(t *testing.T, c Config) {
				if c.BalanceRefreshSeconds != 30 {
					t.Errorf("Expected default refresh 30, got %d", c.BalanceRefreshSeconds)
				}
				if c.BackendURL != "http://upload:8000" {
					t.Errorf("Expected trimmed backend url, got %s", c.BackendURL)
				}
				if c.TokenDecimals != 18 {
					t.Errorf("Expected 18 decimals, got %d", c.TokenDecimals)
				}
			},
		},
		{
			name:        "Invalid Address",
			jsonContent: `{"contracts": {"token": "0x123", "platform": ""}}`,
			validate: func(t *testing.T, c Config) {
				if len(c.Validate()) != 2 {
					t.Errorf("Expected 2 problems, got %v", c.Validate())
				}
			},
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg, err := LoadConfig(strings.NewReader(tt.jsonContent))

			if tt.expectError {
				if err == nil {
					t.Errorf("Expected error, got nil")
				}
				return
			}
			if err != nil {
				t.Errorf("Unexpected error: %v", err)
			}
			if tt.validate != nil {
				tt.validate(t, cfg)
			}
		})
	}
}

func TestSaveConfig_ValidationError(t *testing.T) {
	cfg := Default()
	cfg.Network.RPCURLs = nil
	if err := SaveConfig(cfg, filepath.Join(t.TempDir(), "c.json")); err == nil {
		t.Error("Expected validation error, got nil")
	}
}

func TestSaveConfig_PermissionError(t *testing.T) {
	tmpDir := t.TempDir()
	if err := os.Chmod(tmpDir, 0500); err != nil {
		t.Fatal(err)
	}
	defer func() { _ = os.Chmod(tmpDir, 0700) }()

	err := SaveConfig(Default(), filepath.Join(tmpDir, "config.json"))
	if err == nil && os.Geteuid() != 0 {
		t.Error("Expected permission error, got nil")
	}
}

func TestLoadServerConfig(t *testing.T) {
	envPath := filepath.Join(t.TempDir(), ".env")
	if err := os.WriteFile(envPath, []byte("PINATA_JWT=from-file\nMAX_UPLOAD_MB=64\n"), 0600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("PORT", "9100")
	// Registered for restore, then unset so the env file can supply them.
	t.Setenv("PINATA_JWT", "")
	t.Setenv("MAX_UPLOAD_MB", "")
	_ = os.Unsetenv("PINATA_JWT")
	_ = os.Unsetenv("MAX_UPLOAD_MB")

	cfg := LoadServerConfig(envPath)
	if cfg.Port != 9100 {
		t.Errorf("Expected port 9100, got %d", cfg.Port)
	}
	if cfg.PinataJWT != "from-file" {
		t.Errorf("Expected JWT from env file, got %q", cfg.PinataJWT)
	}
	if cfg.MaxUploadMB != 64 {
		t.Errorf("Expected 64MB, got %d", cfg.MaxUploadMB)
	}
	if cfg.PinataAPIURL != "https://api.pinata.cloud" {
		t.Errorf("Unexpected API URL %s", cfg.PinataAPIURL)
	}
}
