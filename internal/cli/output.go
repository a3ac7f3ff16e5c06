package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"text/tabwriter"

	"gopkg.in/yaml.v3"

	"github.com/kjstillabower/drive-side-service/internal/models"
)

// Exit codes for drivectl.
const (
	ExitSuccess      = 0
	ExitFailure      = 1 // store or remote failure
	ExitCommandError = 2 // bad arguments, unreadable files, bad config
)

// ExitError carries the process exit code for a failed command.
type ExitError struct {
	Code    int
	Message string
	Err     error
}

func (e *ExitError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *ExitError) Unwrap() error {
	return e.Err
}

// NewExitError creates an ExitError with the given code and message.
func NewExitError(code int, message string) *ExitError {
	return &ExitError{Code: code, Message: message}
}

// WrapExitError wraps err with an exit code.
func WrapExitError(code int, message string, err error) *ExitError {
	return &ExitError{Code: code, Message: message, Err: err}
}

// GetExitCode extracts the exit code from an error. Non-ExitErrors map to ExitFailure.
func GetExitCode(err error) int {
	if err == nil {
		return ExitSuccess
	}
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}
	return ExitFailure
}

// writeCountries renders countries in the requested format. Empty input renders as an
// empty list, never null.
func writeCountries(w io.Writer, format string, countries []models.Country) error {
	if countries == nil {
		countries = []models.Country{}
	}
	switch format {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(countries)
	case "text":
		tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
		fmt.Fprintln(tw, "NAME\tSIDE")
		for _, c := range countries {
			fmt.Fprintf(tw, "%s\t%s\n", c.Name, c.DriveSide)
		}
		return tw.Flush()
	default:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(countries); err != nil {
			return err
		}
		return enc.Close()
	}
}

// readCountries parses a YAML (or JSON, which is valid YAML) list of countries.
func readCountries(r io.Reader) ([]models.Country, error) {
	var out []models.Country
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&out); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, nil
		}
		return nil, err
	}
	return out, nil
}
