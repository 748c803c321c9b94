// yaradiff cross-checks this module's scan results against libyara
// (via hillu/go-yara's CGo bindings) on the same rules and input, so
// behavioral drift from the reference implementation shows up as a
// diff instead of silently shipping.
package main

import (
	"flag"
	"fmt"
	"os"
	"sort"
	"time"

	goyara "github.com/hillu/go-yara/v4"

	"github.com/sansecio/yaracore/parser"
	"github.com/sansecio/yaracore/scanner"
)

func main() {
	rulesPath := flag.String("rules", "", "path to a YARA rules file")
	scanPath := flag.String("scan", "", "path to the file to scan")
	flag.Parse()

	if *rulesPath == "" || *scanPath == "" {
		fmt.Fprintln(os.Stderr, "usage: yaradiff -rules rules.yar -scan target")
		os.Exit(1)
	}

	data, err := os.ReadFile(*scanPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "read scan target: %v\n", err)
		os.Exit(1)
	}

	wantRules, wantErr := scanWithLibyara(*rulesPath, data)
	if wantErr != nil {
		fmt.Fprintf(os.Stderr, "libyara: %v\n", wantErr)
		os.Exit(1)
	}

	gotRules, gotErr := scanWithYaracore(*rulesPath, data)
	if gotErr != nil {
		fmt.Fprintf(os.Stderr, "yaracore: %v\n", gotErr)
		os.Exit(1)
	}

	sort.Strings(wantRules)
	sort.Strings(gotRules)

	diff := diffSets(wantRules, gotRules)
	if len(diff.onlyWant) == 0 && len(diff.onlyGot) == 0 {
		fmt.Printf("match: %d rules matched identically\n", len(wantRules))
		return
	}

	fmt.Printf("MISMATCH: libyara matched %d rules, yaracore matched %d rules\n", len(wantRules), len(gotRules))
	for _, r := range diff.onlyWant {
		fmt.Printf("  only libyara:  %s\n", r)
	}
	for _, r := range diff.onlyGot {
		fmt.Printf("  only yaracore: %s\n", r)
	}
	os.Exit(1)
}

func scanWithLibyara(rulesPath string, data []byte) ([]string, error) {
	compiler, err := goyara.NewCompiler()
	if err != nil {
		return nil, fmt.Errorf("new compiler: %w", err)
	}

	f, err := os.Open(rulesPath)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	if err := compiler.AddFile(f, ""); err != nil {
		return nil, fmt.Errorf("add rules: %w", err)
	}

	rules, err := compiler.GetRules()
	if err != nil {
		return nil, fmt.Errorf("get rules: %w", err)
	}

	var matches goyara.MatchRules
	if err := rules.ScanMem(data, 0, 30*time.Second, &matches); err != nil {
		return nil, fmt.Errorf("scan: %w", err)
	}

	names := make([]string, len(matches))
	for i, m := range matches {
		names[i] = m.Rule
	}
	return names, nil
}

func scanWithYaracore(rulesPath string, data []byte) ([]string, error) {
	p := parser.New()
	rs, err := p.ParseFile(rulesPath)
	if err != nil {
		return nil, fmt.Errorf("parse: %w", err)
	}

	rules, err := scanner.CompileWithOptions(rs, scanner.CompileOptions{SkipInvalidRegex: true})
	if err != nil {
		return nil, fmt.Errorf("compile: %w", err)
	}

	var matches scanner.MatchRules
	if err := rules.ScanMem(data, 0, 30*time.Second, &matches); err != nil {
		return nil, fmt.Errorf("scan: %w", err)
	}

	names := make([]string, len(matches))
	for i, m := range matches {
		names[i] = m.Rule
	}
	return names, nil
}

type setDiff struct {
	onlyWant []string
	onlyGot  []string
}

func diffSets(want, got []string) setDiff {
	var d setDiff
	wi, gi := 0, 0
	for wi < len(want) && gi < len(got) {
		switch {
		case want[wi] == got[gi]:
			wi++
			gi++
		case want[wi] < got[gi]:
			d.onlyWant = append(d.onlyWant, want[wi])
			wi++
		default:
			d.onlyGot = append(d.onlyGot, got[gi])
			gi++
		}
	}
	d.onlyWant = append(d.onlyWant, want[wi:]...)
	d.onlyGot = append(d.onlyGot, got[gi:]...)
	return d
}
