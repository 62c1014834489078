// Package driver implements the compiler's command-line front end:
// flag parsing, phase sequencing, temporary-file management, and
// shelling out to the external preprocessor, assembler, and linker.
//
// Grounded on lang/ya/main.go's runPipeline/compile/link shape, with
// the teacher's raw flag package replaced by cobra/pflag per
// SPEC_FULL.md's ambient-stack choice (the rest of the retrieval pack's
// compiler-driver repos all reach for cobra for this kind of tool).
package driver

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/gmofish/ccyg/internal/astopt"
	"github.com/gmofish/ccyg/internal/backend/il"
	"github.com/gmofish/ccyg/internal/backend/tiny"
	"github.com/gmofish/ccyg/internal/codegen"
	"github.com/gmofish/ccyg/internal/manifest"
	"github.com/gmofish/ccyg/internal/parser"
	"github.com/gmofish/ccyg/internal/peephole"
	"github.com/gmofish/ccyg/internal/scanner"
	"github.com/gmofish/ccyg/internal/token"
	"github.com/gmofish/ccyg/internal/types"
)

// options mirrors the flag set of spec.md §6.2/§4.10: -v -c -E -S -X
// -o -m -D, plus the external-tool overrides the teacher resolves via
// the YAPL environment variable (here CC_CPP, CC_AS, CC_LD and
// CC_PEEPHOLE_RULES).
type options struct {
	verbose     bool
	stopAsm     bool // -c: stop after assemble
	stopPreproc bool // -E: stop after preprocess
	stopGen     bool // -S: stop after generate (+ peephole)
	keepTemps   bool // -X
	output      string
	cpu         string
	defines     []string
	peepRules   string
}

// NewRootCommand builds the `cc` cobra command tree.
func NewRootCommand() *cobra.Command {
	opt := &options{}
	root := &cobra.Command{
		Use:   "cc [flags] file...",
		Short: "A retargetable compiler for a small C-like language",
		Long: "cc sequences preprocessing, scanning, parsing, code generation,\n" +
			"peephole optimisation, assembly, and linking for one or more\n" +
			"source, assembly, or object files.",
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(opt, args)
		},
		SilenceUsage: true,
	}

	flags := root.Flags()
	flags.BoolVarP(&opt.verbose, "verbose", "v", false, "verbose trace of phase execution")
	flags.BoolVarP(&opt.stopAsm, "compile-only", "c", false, "stop after assemble (produce .o, do not link)")
	flags.BoolVarP(&opt.stopPreproc, "preprocess-only", "E", false, "stop after preprocessing")
	flags.BoolVarP(&opt.stopGen, "assembly-only", "S", false, "stop after code generation (+ peephole)")
	flags.BoolVarP(&opt.keepTemps, "keep-temps", "X", false, "keep intermediate temporary files")
	flags.StringVarP(&opt.output, "output", "o", "", "output file name (default a.out)")
	flags.StringVarP(&opt.cpu, "cpu", "m", "il64", "target backend manifest (built-in: il64, tiny6809, wut4; or a path to a YAML manifest)")
	flags.StringArrayVarP(&opt.defines, "define", "D", nil, "preprocessor macro definition, passed through to cpp")
	flags.StringVar(&opt.peepRules, "peephole-rules", "", "peephole rule file (tiny backend only); built-in rules used if unset")

	return root
}

func logVerbose(opt *options, format string, args ...any) {
	if opt.verbose {
		fmt.Fprintf(os.Stderr, format+"\n", args...)
	}
}

// run implements the top-level phase sequencing: classify inputs,
// compile .c sources to .o, pass .s/.o straight through, then link —
// exactly the shape of lang/ya/main.go's main().
func run(opt *options, args []string) error {
	var objects []string
	var temps []string
	defer func() {
		if !opt.keepTemps {
			for _, t := range temps {
				os.Remove(t)
			}
		}
	}()

	for _, src := range args {
		switch {
		case strings.HasSuffix(src, ".c"):
			obj, tmp, err := compileOne(opt, src)
			if err != nil {
				return fmt.Errorf("%s: %w", src, err)
			}
			if opt.stopPreproc || opt.stopGen || opt.stopAsm {
				continue
			}
			objects = append(objects, obj)
			if tmp != "" {
				temps = append(temps, tmp)
			}
		case strings.HasSuffix(src, ".s"):
			obj, err := assemble(opt, src)
			if err != nil {
				return fmt.Errorf("%s: %w", src, err)
			}
			if opt.stopAsm {
				continue
			}
			objects = append(objects, obj)
			temps = append(temps, obj)
		case strings.HasSuffix(src, ".o"):
			objects = append(objects, src)
		default:
			return fmt.Errorf("%s: unrecognised file extension", src)
		}
	}

	if opt.stopPreproc || opt.stopGen || opt.stopAsm {
		return nil
	}

	out := opt.output
	if out == "" {
		out = "a.out"
	}
	logVerbose(opt, "Linking -> %s", out)
	return link(opt, objects, out)
}

// compileOne runs preprocess -> scan -> parse -> fold -> generate ->
// (peephole) -> assemble for one .c file, honouring -E/-S/-c to stop
// early. It returns the path to the produced object (or "" when a
// -E/-S/-c stop leaves none for the link step) and a temp file to
// clean up.
func compileOne(opt *options, src string) (objPath, tempPath string, err error) {
	logVerbose(opt, "Preprocessing %s", src)
	pre, err := preprocess(opt, src)
	if err != nil {
		return "", "", fmt.Errorf("preprocess: %w", err)
	}
	if opt.stopPreproc {
		return "", "", nil
	}

	logVerbose(opt, "Scanning and parsing %s", src)
	asmText, err := generate(opt, src, pre)
	if err != nil {
		return "", "", err
	}

	base := strings.TrimSuffix(filepath.Base(src), ".c")
	if opt.stopGen {
		asmFile := base + ".s"
		if err := os.WriteFile(asmFile, []byte(asmText), 0o644); err != nil {
			return "", "", err
		}
		logVerbose(opt, "Wrote %s", asmFile)
		return "", "", nil
	}

	tmpAsm, err := os.CreateTemp("", "cc-*.s")
	if err != nil {
		return "", "", err
	}
	tmpAsmName := tmpAsm.Name()
	if _, err := tmpAsm.WriteString(asmText); err != nil {
		tmpAsm.Close()
		os.Remove(tmpAsmName)
		return "", "", err
	}
	tmpAsm.Close()

	logVerbose(opt, "Assembling %s", tmpAsmName)
	obj, err := assemble(opt, tmpAsmName)
	if err != nil {
		os.Remove(tmpAsmName)
		return "", "", err
	}

	if opt.stopAsm {
		final := base + ".o"
		if opt.output != "" {
			final = opt.output
		}
		if err := os.Rename(obj, final); err != nil {
			return "", "", err
		}
		os.Remove(tmpAsmName)
		return "", "", nil
	}

	return obj, tmpAsmName, nil
}

// generate runs the in-process scan/parse/optimise/codegen pipeline
// over preprocessed source text and returns assembly text.
func generate(opt *options, filename string, src []byte) (string, error) {
	m, err := manifest.Load(opt.cpu)
	if err != nil {
		return "", err
	}
	typeManifest := m.ToTypeManifest()

	sc := scanner.New(bytes.NewReader(src), filename)
	var toks []token.Token
	for {
		t, err := sc.Next()
		if err != nil {
			return "", fmt.Errorf("scan: %w", err)
		}
		toks = append(toks, t)
		if t.Kind == token.EOF {
			break
		}
	}

	p := parser.New(toks, typeManifest)
	result, err := p.Parse()
	if err != nil {
		return "", err
	}

	funcs := make([]codegen.CompiledFunc, 0, len(result.Functions))
	for _, f := range result.Functions {
		f.Root = astopt.Fold(result.Builder, f.Root)
		funcs = append(funcs, codegen.CompiledFunc{Sym: f.Sym, Root: f.Root})
	}

	var buf bytes.Buffer
	be, flush, err := newBackend(&buf, m.Backend, typeManifest)
	if err != nil {
		return "", err
	}

	gen := codegen.New(be, result.Table)
	if err := gen.Generate(funcs); err != nil {
		return "", err
	}
	if err := flush(); err != nil {
		return "", err
	}

	asmText := buf.String()
	if m.Backend == "tiny" {
		asmText, err = runPeephole(opt, asmText)
		if err != nil {
			return "", err
		}
	}
	return asmText, nil
}

// newBackend is the factory the §9 redesign note calls for, replacing
// the reference compiler's file-selected cg6809.c/cggen.c with a
// single interface and a name-keyed switch.
func newBackend(w io.Writer, kind string, m types.Manifest) (codegen.Backend, func() error, error) {
	switch kind {
	case "il":
		b := il.New(w, m)
		return b, b.Flush, nil
	case "tiny":
		b := tiny.New(w, m)
		return b, b.Flush, nil
	default:
		return nil, nil, fmt.Errorf("unknown backend %q", kind)
	}
}

// preprocess shells out to the external C preprocessor, matching
// spec.md §1's framing of cpp as an external collaborator. The binary
// name is resolved the way ya/main.go resolves its phase binaries:
// an environment-variable override first, then PATH.
func preprocess(opt *options, src string) ([]byte, error) {
	cppPath := toolPath("CC_CPP", "cpp")
	args := make([]string, 0, len(opt.defines)+2)
	for _, d := range opt.defines {
		args = append(args, "-D"+d)
	}
	args = append(args, "-E", src)

	cmd := exec.Command(cppPath, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if stderr.Len() > 0 {
			return nil, fmt.Errorf("%s", strings.TrimSpace(stderr.String()))
		}
		return nil, err
	}
	return stdout.Bytes(), nil
}

// assemble shells out to the external assembler, writing the object to
// a fresh temporary .o file in the system temp directory and returning
// that file's path.
func assemble(opt *options, asmPath string) (string, error) {
	asPath := toolPath("CC_AS", "as")
	objFile, err := os.CreateTemp("", "cc-*.o")
	if err != nil {
		return "", err
	}
	objName := objFile.Name()
	objFile.Close()

	cmd := exec.Command(asPath, "-o", objName, asmPath)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		os.Remove(objName)
		if stderr.Len() > 0 {
			return "", fmt.Errorf("%s", strings.TrimSpace(stderr.String()))
		}
		return "", err
	}
	return objName, nil
}

// link shells out to the external linker, matching ya/main.go's
// runLinker.
func link(opt *options, objects []string, out string) error {
	ldPath := toolPath("CC_LD", "ld")
	args := append([]string{"-o", out}, objects...)

	cmd := exec.Command(ldPath, args...)
	var stderr bytes.Buffer
	cmd.Stdout = os.Stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if stderr.Len() > 0 {
			return fmt.Errorf("%s", strings.TrimSpace(stderr.String()))
		}
		return err
	}
	return nil
}

// toolPath resolves an external collaborator binary: an environment
// variable override first (mirroring ya/main.go's YAPL lookup), then
// PATH.
func toolPath(envVar, fallback string) string {
	if p := os.Getenv(envVar); p != "" {
		return p
	}
	return fallback
}

// runPeephole loads the peephole rule file (explicit -peephole-rules,
// or CC_PEEPHOLE_RULES, or the built-in rule set) and applies it to
// generated assembly. Only the tiny backend's output benefits from
// peephole cleanup (the IL backend's SSA temporaries are never reused,
// so its adjacent-instruction patterns don't arise).
func runPeephole(opt *options, asmText string) (string, error) {
	rulesText := defaultPeepholeRules
	path := opt.peepRules
	if path == "" {
		path = os.Getenv("CC_PEEPHOLE_RULES")
	}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return "", fmt.Errorf("peephole rules: %w", err)
		}
		rulesText = string(data)
	}

	rs, err := peephole.Load(rulesText)
	if err != nil {
		return "", fmt.Errorf("peephole rules: %w", err)
	}

	lines := strings.Split(strings.TrimRight(asmText, "\n"), "\n")
	out := rs.Run(lines)
	return strings.Join(out, "\n") + "\n", nil
}

// defaultPeepholeRules are applied when the driver isn't given an
// explicit rules file: a small, conservative starter set in the same
// DSL a site-specific rules file would use, covering the redundant
// patterns the tiny backend's straightforward tree walk tends to
// leave behind: a self-move (`mv r, r`) is deleted, and a load of the
// constant 0 (`ldi r, 0`) becomes a move from r0.
const defaultPeepholeRules = `
mv %0, %0
=

====
ldi %0, 0
=
mv %0, r0
`

