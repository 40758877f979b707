// Package output holds the small set of global output-mode flags shared by
// every stateenginectl subcommand.
package output

import (
	"encoding/json"
	"io"
)

var (
	// JSONOutput is bound to the root --json flag.
	JSONOutput bool
	// QuietOutput is bound to the root --quiet flag.
	QuietOutput bool
)

// IsJSON reports whether --json was set.
func IsJSON() bool { return JSONOutput }

// IsQuiet reports whether --quiet was set.
func IsQuiet() bool { return QuietOutput }

// PrintJSON marshals v with indentation and writes it to w followed by a
// newline.
func PrintJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
