package main

import (
	"context"
	"fmt"
	"io"

	"github.com/rahuls2764/Skill/pkg/chain"
	"github.com/rahuls2764/Skill/pkg/config"
	"github.com/rahuls2764/Skill/pkg/models"

	"github.com/ethereum/go-ethereum/common"
)

// testConfig probes every RPC URL and contract address in cfg. Progress
// is written to out as it goes. A missing chain id is filled from the
// first RPC that answers and saved unless dryRun is set.
func testConfig(ctx context.Context, cfg config.Config, path string, dryRun bool, out io.Writer) models.TestReport {
	report := models.TestReport{
		ConfigPath:     path,
		ValidStructure: true,
		DryRun:         dryRun,
	}
	fmt.Fprintf(out, "Testing configuration at: %s\n", path)

	if problems := cfg.Validate(); len(problems) > 0 {
		report.ValidStructure = false
		report.StructureErrors = problems
		for _, p := range problems {
			fmt.Fprintf(out, "Error: %s\n", p)
		}
		return report
	}

	network := cfg.Network
	result := &models.ChainResult{
		Name:          network.Name,
		ConfigChainID: network.ChainID,
	}
	fmt.Fprintf(out, "Testing network: %s\n", network.Name)

	var observed int64
	for _, url := range network.RPCURLs {
		fmt.Fprintf(out, "  RPC: %s ... ", url)
		res := chain.ProbeRPC(ctx, url)
		if res.Status != "ok" {
			fmt.Fprintf(out, "Failed: %s\n", res.Error)
			result.RPCs = append(result.RPCs, res)
			continue
		}
		fmt.Fprintf(out, "OK (ChainID: %d)", res.ChainID)
		if observed == 0 {
			observed = res.ChainID
			result.ObservedChainID = res.ChainID
		} else if observed != res.ChainID {
			fmt.Fprintf(out, " - WARNING: ChainID mismatch with previous RPC (%d)", observed)
			result.Inconsistent = true
		}

		switch {
		case network.ChainID == 0:
			network.ChainID = res.ChainID
			result.ChainIDUpdated = true
			fmt.Fprintf(out, " - UPDATED CONFIG")
			if dryRun {
				fmt.Fprintf(out, " (DRY RUN)")
			}
		case network.ChainID != res.ChainID:
			res.Error = fmt.Sprintf("Mismatch! Expected %d", network.ChainID)
			fmt.Fprintf(out, " - MISMATCH! Expected %d", network.ChainID)
		default:
			fmt.Fprintf(out, " - Verified")
		}
		fmt.Fprintln(out)
		result.RPCs = append(result.RPCs, res)
	}
	report.Network = result

	if result.Inconsistent {
		fmt.Fprintln(out, "\nWARNING: Inconsistent RPCs detected!")
		fmt.Fprintf(out, "The RPCs of %s return conflicting Chain IDs.\n", network.Name)
	}

	report.Contracts = checkContracts(ctx, cfg)
	for _, c := range report.Contracts {
		switch {
		case c.Error != "":
			fmt.Fprintf(out, "  Contract %s (%s): Failed: %s\n", c.Name, c.Address, c.Error)
		case !c.HasCode:
			fmt.Fprintf(out, "  Contract %s (%s): NO CODE\n", c.Name, c.Address)
		default:
			fmt.Fprintf(out, "  Contract %s (%s): OK\n", c.Name, c.Address)
		}
	}

	if result.ChainIDUpdated {
		report.ConfigUpdated = true
		fmt.Fprintln(out, "\nUpdating configuration with fetched Chain ID...")
		if dryRun {
			fmt.Fprintln(out, "Dry run enabled: Configuration NOT saved.")
			return report
		}
		cfg.Network = network
		if err := config.SaveConfig(cfg, path); err != nil {
			report.SaveError = err.Error()
			fmt.Fprintf(out, "Failed to save config: %v\n", err)
		} else {
			fmt.Fprintln(out, "Configuration saved successfully.")
		}
	}
	return report
}

// checkContracts reports whether code is deployed at each configured
// contract address.
func checkContracts(ctx context.Context, cfg config.Config) []models.ContractResult {
	named := []struct{ name, addr string }{
		{"token", cfg.Contracts.Token},
		{"platform", cfg.Contracts.Platform},
		{"certificate", cfg.Contracts.Certificate},
	}
	client, _, dialErr := chain.Dial(ctx, cfg.Network.RPCURLs)
	if client != nil {
		defer client.Close()
	}

	var results []models.ContractResult
	for _, n := range named {
		if n.addr == "" {
			continue
		}
		res := models.ContractResult{Name: n.name, Address: n.addr}
		if dialErr != nil {
			res.Error = dialErr.Error()
		} else if ok, err := chain.HasCode(ctx, client, common.HexToAddress(n.addr)); err != nil {
			res.Error = err.Error()
		} else {
			res.HasCode = ok
		}
		results = append(results, res)
	}
	return results
}

// reportOK reports whether the test found nothing that blocks a run.
func reportOK(r models.TestReport) bool {
	if !r.ValidStructure || r.Network == nil || r.Network.Inconsistent || r.SaveError != "" {
		return false
	}
	reachable := false
	for _, rpc := range r.Network.RPCs {
		if rpc.Status == "ok" && rpc.Error == "" {
			reachable = true
		}
	}
	if !reachable {
		return false
	}
	for _, c := range r.Contracts {
		if c.Error != "" || !c.HasCode {
			return false
		}
	}
	return true
}
