package common

import (
	"errors"
	"fmt"
	"strings"
)

var errInvalidVerbosity = errors.New("incorrect verbosity passed")

// sprint joins v the way fmt.Sprintln would (space-separated, regardless of
// operand types) but without the trailing newline charmbracelet/log adds
// its own formatting around.
func sprint(v ...interface{}) string {
	return strings.TrimSuffix(fmt.Sprintln(v...), "\n")
}
