package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	if len(args) < 1 {
		fmt.Fprintln(stderr, usage())
		return 1
	}
	switch args[0] {
	case "deposit":
		return runDeposit(args[1:], stdout, stderr)
	case "claim":
		return runClaim(args[1:], stdout, stderr)
	case "unstake":
		return runUnstake(args[1:], stdout, stderr)
	case "set-referrer":
		return runSetReferrer(args[1:], stdout, stderr)
	case "preview":
		return runPreview(args[1:], stdout, stderr)
	case "record":
		return runRecord(args[1:], stdout, stderr)
	case "referrer":
		return runReferrer(args[1:], stdout, stderr)
	case "params":
		return runParams(args[1:], stdout, stderr)
	case "set-reward-rate":
		return runSetParam(args[1:], stdout, stderr, "accrual_setRewardRate", "set-reward-rate <caller> <value>")
	case "set-lock-time":
		return runSetParam(args[1:], stdout, stderr, "accrual_setClaimLockTime", "set-lock-time <caller> <seconds>")
	case "balance":
		return runBalance(args[1:], stdout, stderr)
	case "approve":
		return runApprove(args[1:], stdout, stderr)
	default:
		fmt.Fprintf(stderr, "Unknown command %q\n%s\n", args[0], usage())
		return 1
	}
}

func usage() string {
	return strings.TrimSpace(`
Usage: stakeledger-cli <command> [args]

Commands:
  deposit <caller> <asset> <amount>        stake amount of asset
  claim <caller> <asset>                   claim accrued rewards
  unstake <caller> <asset>                 withdraw principal plus rewards
  set-referrer <caller> <referred> <asset> create a write-once referral link
  preview <account> <asset>                preview claimable reward
  record <account> <asset>                 show the stored position
  referrer <account>                       show the referral link
  params                                   show reward rate and lock time
  set-reward-rate <caller> <value>         admin: overwrite reward rate
  set-lock-time <caller> <seconds>         admin: overwrite cycle length
  balance <asset> <address>                show a token balance
  approve <asset> <owner> <amount>         grant the ledger a deposit allowance

Environment: RPC_URL (endpoint), STAKELEDGER_RPC_TOKEN (bearer token)`)
}

func fail(stderr io.Writer, rpcErr *rpcError, err error) int {
	if err != nil {
		fmt.Fprintf(stderr, "RPC call failed: %v\n", err)
		return 1
	}
	if rpcErr != nil {
		fmt.Fprintf(stderr, "Error %d: %s\n", rpcErr.Code, rpcErr.Message)
		if len(rpcErr.Data) > 0 {
			fmt.Fprintf(stderr, "  %s\n", string(rpcErr.Data))
		}
		return 1
	}
	return 0
}

func printResult(stdout io.Writer, result json.RawMessage) {
	var pretty map[string]interface{}
	if err := json.Unmarshal(result, &pretty); err != nil {
		fmt.Fprintln(stdout, string(result))
		return
	}
	encoded, _ := json.MarshalIndent(pretty, "", "  ")
	fmt.Fprintln(stdout, string(encoded))
}

func runDeposit(args []string, stdout, stderr io.Writer) int {
	if len(args) != 3 {
		fmt.Fprintln(stderr, "Usage: stakeledger-cli deposit <caller> <asset> <amount>")
		return 1
	}
	result, rpcErr, err := callRPC("accrual_deposit", []interface{}{
		map[string]string{"caller": args[0], "asset": args[1], "amount": args[2]},
	}, true)
	if code := fail(stderr, rpcErr, err); code != 0 {
		return code
	}
	printResult(stdout, result)
	return 0
}

func runClaim(args []string, stdout, stderr io.Writer) int {
	if len(args) != 2 {
		fmt.Fprintln(stderr, "Usage: stakeledger-cli claim <caller> <asset>")
		return 1
	}
	result, rpcErr, err := callRPC("accrual_claim", []interface{}{
		map[string]string{"caller": args[0], "asset": args[1]},
	}, true)
	if code := fail(stderr, rpcErr, err); code != 0 {
		return code
	}
	printResult(stdout, result)
	return 0
}

func runUnstake(args []string, stdout, stderr io.Writer) int {
	if len(args) != 2 {
		fmt.Fprintln(stderr, "Usage: stakeledger-cli unstake <caller> <asset>")
		return 1
	}
	result, rpcErr, err := callRPC("accrual_unstake", []interface{}{
		map[string]string{"caller": args[0], "asset": args[1]},
	}, true)
	if code := fail(stderr, rpcErr, err); code != 0 {
		return code
	}
	printResult(stdout, result)
	return 0
}

func runSetReferrer(args []string, stdout, stderr io.Writer) int {
	if len(args) != 3 {
		fmt.Fprintln(stderr, "Usage: stakeledger-cli set-referrer <caller> <referred> <asset>")
		return 1
	}
	result, rpcErr, err := callRPC("accrual_setReferrer", []interface{}{
		map[string]string{"caller": args[0], "referred": args[1], "asset": args[2]},
	}, true)
	if code := fail(stderr, rpcErr, err); code != 0 {
		return code
	}
	printResult(stdout, result)
	return 0
}

func runPreview(args []string, stdout, stderr io.Writer) int {
	if len(args) != 2 {
		fmt.Fprintln(stderr, "Usage: stakeledger-cli preview <account> <asset>")
		return 1
	}
	result, rpcErr, err := callRPC("accrual_previewReward", []interface{}{
		map[string]string{"account": args[0], "asset": args[1]},
	}, false)
	if code := fail(stderr, rpcErr, err); code != 0 {
		return code
	}
	printResult(stdout, result)
	return 0
}

func runRecord(args []string, stdout, stderr io.Writer) int {
	if len(args) != 2 {
		fmt.Fprintln(stderr, "Usage: stakeledger-cli record <account> <asset>")
		return 1
	}
	result, rpcErr, err := callRPC("accrual_getRecord", []interface{}{
		map[string]string{"account": args[0], "asset": args[1]},
	}, false)
	if code := fail(stderr, rpcErr, err); code != 0 {
		return code
	}
	printResult(stdout, result)
	return 0
}

func runReferrer(args []string, stdout, stderr io.Writer) int {
	if len(args) != 1 {
		fmt.Fprintln(stderr, "Usage: stakeledger-cli referrer <account>")
		return 1
	}
	result, rpcErr, err := callRPC("accrual_getReferrer", []interface{}{
		map[string]string{"account": args[0]},
	}, false)
	if code := fail(stderr, rpcErr, err); code != 0 {
		return code
	}
	printResult(stdout, result)
	return 0
}

func runParams(args []string, stdout, stderr io.Writer) int {
	if len(args) != 0 {
		fmt.Fprintln(stderr, "Usage: stakeledger-cli params")
		return 1
	}
	result, rpcErr, err := callRPC("accrual_getParams", []interface{}{map[string]string{}}, false)
	if code := fail(stderr, rpcErr, err); code != 0 {
		return code
	}
	printResult(stdout, result)
	return 0
}

func runSetParam(args []string, stdout, stderr io.Writer, method, usageLine string) int {
	if len(args) != 2 {
		fmt.Fprintf(stderr, "Usage: stakeledger-cli %s\n", usageLine)
		return 1
	}
	value, err := strconv.ParseUint(args[1], 10, 64)
	if err != nil {
		fmt.Fprintf(stderr, "Invalid value %q: %v\n", args[1], err)
		return 1
	}
	result, rpcErr, err := callRPC(method, []interface{}{
		map[string]interface{}{"caller": args[0], "value": value},
	}, true)
	if code := fail(stderr, rpcErr, err); code != 0 {
		return code
	}
	printResult(stdout, result)
	return 0
}

func runBalance(args []string, stdout, stderr io.Writer) int {
	if len(args) != 2 {
		fmt.Fprintln(stderr, "Usage: stakeledger-cli balance <asset> <address>")
		return 1
	}
	result, rpcErr, err := callRPC("token_balanceOf", []interface{}{
		map[string]string{"asset": args[0], "address": args[1]},
	}, false)
	if code := fail(stderr, rpcErr, err); code != 0 {
		return code
	}
	printResult(stdout, result)
	return 0
}

func runApprove(args []string, stdout, stderr io.Writer) int {
	if len(args) != 3 {
		fmt.Fprintln(stderr, "Usage: stakeledger-cli approve <asset> <owner> <amount>")
		return 1
	}
	result, rpcErr, err := callRPC("token_approve", []interface{}{
		map[string]string{"asset": args[0], "owner": args[1], "amount": args[2]},
	}, true)
	if code := fail(stderr, rpcErr, err); code != 0 {
		return code
	}
	printResult(stdout, result)
	return 0
}
