package errs

import (
	"context"
	"errors"
	"io"
	"net"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/rpc"
)

// codeUserRejected is the EIP-1193 "user rejected request" code.
const codeUserRejected = 4001

const revertPrefix = "execution reverted"

// Classify maps an arbitrary error onto the taxonomy. Errors that already
// carry a Kind are returned unchanged. Anything unrecognized is reported as
// a NetworkError, since it did not come from contract logic.
func Classify(err error) error {
	if err == nil {
		return nil
	}
	var typed *Error
	if errors.As(err, &typed) {
		return err
	}

	var rpcErr rpc.Error
	if errors.As(err, &rpcErr) && rpcErr.ErrorCode() == codeUserRejected {
		return Wrap(UserRejected, err)
	}

	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "user rejected") || strings.Contains(msg, "user denied") {
		return Wrap(UserRejected, err)
	}

	// A revert reason may itself mention funds, so reverts are decoded
	// before the funds check.
	var dataErr rpc.DataError
	if errors.As(err, &dataErr) {
		if reason := DecodeRevertData(dataErr.ErrorData()); reason != "" {
			return &Error{Kind: ContractReverted, Reason: reason, Err: err}
		}
	}
	if idx := strings.Index(msg, revertPrefix); idx >= 0 {
		reason := strings.TrimSpace(strings.TrimPrefix(err.Error()[idx+len(revertPrefix):], ":"))
		if reason == "" {
			reason = UnknownRevert
		}
		return &Error{Kind: ContractReverted, Reason: reason, Err: err}
	}

	if strings.Contains(msg, "insufficient funds") {
		return &Error{Kind: InsufficientFunds, Reason: err.Error(), Err: err}
	}
	return Wrap(NetworkError, err)
}

// IsTransport reports whether err looks like a connectivity failure rather
// than an application-level answer from the node.
func IsTransport(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	var httpErr rpc.HTTPError
	if errors.As(err, &httpErr) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "connection refused") || strings.Contains(msg, "no such host")
}

// DecodeRevertData extracts the Error(string) reason from JSON-RPC error
// data. It returns "" when the data is absent or not a standard revert.
func DecodeRevertData(data interface{}) string {
	var raw []byte
	switch v := data.(type) {
	case string:
		b, err := hexutil.Decode(v)
		if err != nil {
			return ""
		}
		raw = b
	case []byte:
		raw = v
	default:
		return ""
	}
	reason, err := abi.UnpackRevert(raw)
	if err != nil {
		return ""
	}
	return reason
}
