// Command cc is the compiler driver: it sequences preprocessing,
// scanning, parsing, code generation, peephole optimisation,
// assembly, and linking, the way lang/ya/main.go sequences
// ylex->yparse->ysem->ygen->ypeep->yasm->yld.
//
// Unlike the teacher, whose phases are five separate binaries talking
// over stdin/stdout, the scan/parse/optimise/generate phases here run
// in-process (spec.md §2 explicitly allows merging phases); only the
// preprocessor, assembler, and linker are external collaborators per
// spec.md §1, shelled out to by name exactly like ya/main.go shells
// out to yasm and yld.
package main

import (
	"fmt"
	"os"

	"github.com/gmofish/ccyg/internal/driver"
)

func main() {
	if err := driver.NewRootCommand().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "cc: %v\n", err)
		os.Exit(1)
	}
}
