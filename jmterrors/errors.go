package jmterrors

import (
	"errors"
	"strings"
)

// State tree (S) Errors
var (
	ErrMissingNode         = errors.New("S1|MissingNode: A referenced node cannot be resolved from the node store.")
	ErrInvalidProof        = errors.New("S2|InvalidProof: The proof does not reconstruct the expected root.")
	ErrProofLengthMismatch = errors.New("S3|ProofLengthMismatch: The sibling count exceeds the key depth.")
	ErrStoreWrite          = errors.New("S4|StoreWriteFailure: The node store rejected a change set.")
	ErrCorruptedNode       = errors.New("S5|CorruptedNode: A stored node record cannot be decoded.")
)

// GetErrorName extracts the error name from the error message.
func GetErrorName(err error) string {
	if err == nil {
		return "No Error"
	}
	errStr := err.Error()
	if !strings.Contains(errStr, "|") || !strings.Contains(errStr, ":") {
		return errStr
	}
	parts := strings.SplitN(errStr, "|", 2)
	if len(parts) < 2 {
		return errStr
	}
	// Split on ':' to separate the error name from its description.
	nameParts := strings.SplitN(parts[1], ":", 2)
	return strings.TrimSpace(nameParts[0])
}

// GetErrorCode extracts the error code from the error message.
func GetErrorCode(err error) string {
	if err == nil {
		return ""
	}
	errStr := err.Error()
	if !strings.Contains(errStr, "|") {
		return ""
	}
	parts := strings.SplitN(errStr, "|", 2)
	return strings.TrimSpace(parts[0])
}

// GetErrorCodeWithName returns the error code and name in the format "Code_ErrorName".
func GetErrorCodeWithName(err error) string {
	code := GetErrorCode(err)
	name := GetErrorName(err)
	if code == "" || name == "" {
		return ""
	}
	return code + "_" + name
}

// GetErrorDesc extracts the error description from the error message.
func GetErrorDesc(err error) string {
	if err == nil {
		return ""
	}
	parts := strings.SplitN(err.Error(), ":", 2)
	if len(parts) < 2 {
		return "DESC NOT SET"
	}
	return strings.TrimSpace(parts[1])
}

// Classify returns the sentinel err wraps, or nil when it wraps none of them.
func Classify(err error) error {
	for _, sentinel := range []error{ErrMissingNode, ErrInvalidProof, ErrProofLengthMismatch, ErrStoreWrite, ErrCorruptedNode} {
		if errors.Is(err, sentinel) {
			return sentinel
		}
	}
	return nil
}
