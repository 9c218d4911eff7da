package runner

import "fmt"

// Special output names for a shell funsie's per-command stdout, stderr,
// and return code: "__special__/stdout<i>" etc. These are declared funsie
// outputs like any other, added by the builder at construction time so
// they participate in hashing normally.
func StdoutName(i int) string     { return fmt.Sprintf("__special__/stdout%d", i) }
func StderrName(i int) string     { return fmt.Sprintf("__special__/stderr%d", i) }
func ReturncodeName(i int) string { return fmt.Sprintf("__special__/returncode%d", i) }
