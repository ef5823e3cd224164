package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"strconv"
	"strings"

	"github.com/rahuls2764/Skill/pkg/errs"
	"github.com/rahuls2764/Skill/pkg/utils"
)

// command is a one-shot workflow run from the command line. Its result is
// printed as JSON.
type command struct {
	name  string
	usage string
	args  int
	run   func(ctx context.Context, a *app, args []string) (interface{}, error)
}

var commands = []command{
	{"balance", "balance", 0, func(ctx context.Context, a *app, _ []string) (interface{}, error) {
		account, _ := a.sessions.Account()
		return a.balances.Refresh(ctx, account)
	}},
	{"user", "user", 0, func(ctx context.Context, a *app, _ []string) (interface{}, error) {
		return a.orch.User(ctx)
	}},
	{"courses", "courses", 0, func(ctx context.Context, a *app, _ []string) (interface{}, error) {
		return a.orch.Courses(ctx)
	}},
	{"test", "test <score>", 1, func(ctx context.Context, a *app, args []string) (interface{}, error) {
		score, err := parseUint(args[0], "score")
		if err != nil {
			return nil, err
		}
		return a.orch.CompleteTest(ctx, score)
	}},
	{"enroll", "enroll <course-id>", 1, func(ctx context.Context, a *app, args []string) (interface{}, error) {
		id, err := parseUint(args[0], "course id")
		if err != nil {
			return nil, err
		}
		return a.orch.Enroll(ctx, id)
	}},
	{"buy", "buy <eth>", 1, func(ctx context.Context, a *app, args []string) (interface{}, error) {
		wei, err := parseAmount(args[0], 18)
		if err != nil {
			return nil, err
		}
		hash, err := a.orch.PurchaseTokens(ctx, wei)
		return map[string]string{"tx_hash": hash}, err
	}},
	{"fund", "fund <tokens>", 1, func(ctx context.Context, a *app, args []string) (interface{}, error) {
		amount, err := parseAmount(args[0], a.cfg.TokenDecimals)
		if err != nil {
			return nil, err
		}
		return a.orch.FundContract(ctx, amount)
	}},
	{"convert", "convert <tokens>", 1, func(ctx context.Context, a *app, args []string) (interface{}, error) {
		amount, err := parseAmount(args[0], a.cfg.TokenDecimals)
		if err != nil {
			return nil, err
		}
		hash, err := a.orch.ConvertTokens(ctx, amount)
		return map[string]string{"tx_hash": hash}, err
	}},
	{"withdraw", "withdraw", 0, func(ctx context.Context, a *app, _ []string) (interface{}, error) {
		hash, err := a.orch.WithdrawEarnings(ctx)
		return map[string]string{"tx_hash": hash}, err
	}},
	{"recheck", "recheck <tx-hash>", 1, func(ctx context.Context, a *app, args []string) (interface{}, error) {
		return a.orch.Recheck(ctx, args[0])
	}},
}

// lookupCommand finds the command named by args[0] and checks its arity.
// ok is false when args does not start with a command name.
func lookupCommand(args []string) (cmd command, rest []string, ok bool, err error) {
	if len(args) == 0 {
		return command{}, nil, false, nil
	}
	for _, c := range commands {
		if c.name != args[0] {
			continue
		}
		rest = args[1:]
		if len(rest) != c.args {
			return c, nil, true, fmt.Errorf("usage: %s", c.usage)
		}
		return c, rest, true, nil
	}
	return command{}, nil, false, nil
}

// runCommand connects the session and runs cmd, writing its result to out.
func runCommand(ctx context.Context, a *app, cmd command, args []string, out io.Writer) error {
	if err := a.connect(ctx); err != nil {
		return err
	}
	result, err := cmd.run(ctx, a, args)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(result)
}

func parseUint(s, what string) (uint64, error) {
	n, err := strconv.ParseUint(strings.TrimSpace(s), 10, 64)
	if err != nil {
		return 0, errs.Newf(errs.InvalidArgument, "%s must be a non-negative integer", what)
	}
	return n, nil
}

func parseAmount(s string, decimals int) (*big.Int, error) {
	v, err := utils.ParseUnits(strings.TrimSpace(s), decimals)
	if err != nil || v.Sign() <= 0 {
		return nil, errs.Newf(errs.InvalidArgument, "amount %q must be a positive number", s)
	}
	return v, nil
}

func commandUsage() string {
	var names []string
	for _, c := range commands {
		names = append(names, c.usage)
	}
	return strings.Join(names, "\n  ")
}
