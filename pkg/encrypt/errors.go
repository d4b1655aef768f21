package encrypt

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidArgument = errors.New("invalid argument")
	ErrFilesystem      = errors.New("filesystem error")
	ErrEncrypt         = errors.New("encryption failed")
)

const (
	CodeInvalidTool          = 10
	CodeInvalidLicenseServer = 20
	CodeMissingCredentials   = 30
	CodeInputNotReadable     = 40
	CodeLicenseServerParams  = 80
)

// toolErrors maps lcpencrypt exit codes to their meaning.
var toolErrors = map[int]string{
	10: "Error creating json addedPublication.",
	20: "Error notifying the License Server.",
	30: "Error encrypting the publication.",
	40: "Error encrypting.",
	41: "Error opening output.",
	42: "Error opening packaged web publication.",
	43: "Error writing output file.",
	50: "Error building Web Publication package from PDF.",
	51: "Error reading the epub content.",
	60: "Error opening the epub file.",
	65: "Error on generate new contentID.",
	70: "Error opening input file.",
	80: "Error incorrect parameters for License Server.",
}

// Error carries a numeric code next to one of the sentinel kinds above.
// For ErrEncrypt the code is the exit status of the tool.
type Error struct {
	Kind    error
	Code    int
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s (code %d): %v", e.Message, e.Code, e.Err)
	}
	return fmt.Sprintf("%s (code %d)", e.Message, e.Code)
}

func (e *Error) Unwrap() []error {
	errs := []error{e.Kind}
	if e.Err != nil {
		errs = append(errs, e.Err)
	}
	return errs
}

// ToolMessage returns the documented meaning of a tool exit code.
func ToolMessage(code int) (string, bool) {
	msg, ok := toolErrors[code]
	return msg, ok
}

func invalidArgument(code int, format string, args ...any) *Error {
	return &Error{Kind: ErrInvalidArgument, Code: code, Message: fmt.Sprintf(format, args...)}
}

func toolFailure(code int, lastLine string, err error) *Error {
	msg, ok := toolErrors[code]
	if !ok {
		msg = lastLine
		if msg == "" {
			msg = fmt.Sprintf("encrypt tool exited with status %d", code)
		}
	}
	return &Error{Kind: ErrEncrypt, Code: code, Message: msg, Err: err}
}
