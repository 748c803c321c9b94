package main

import (
	"flag"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/sansecio/yaracore/parser"
	"github.com/sansecio/yaracore/scanner"
)

func main() {
	timeout := flag.Duration("timeout", 30*time.Second, "per-file scan timeout")
	reportPrivate := flag.Bool("private", false, "include private rule matches")
	flag.Parse()

	if flag.NArg() != 2 {
		fmt.Fprintf(os.Stderr, "usage: yaracore [flags] <rules.yar> <path>\n")
		flag.PrintDefaults()
		os.Exit(1)
	}

	rulesFile := flag.Arg(0)
	scanPath := flag.Arg(1)

	p := parser.New()
	ruleSet, err := p.ParseFile(rulesFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error parsing rules: %v\n", err)
		os.Exit(1)
	}

	rules, err := scanner.Compile(ruleSet)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error compiling rules: %v\n", err)
		os.Exit(1)
	}

	acPatterns, regexStrings := rules.Stats()
	fmt.Fprintf(os.Stderr, "compiled %d rules (%d AC patterns, %d regex-backed strings)\n",
		rules.NumRules(), acPatterns, regexStrings)

	var flags scanner.ScanFlags
	if *reportPrivate {
		flags |= scanner.ScanFlagsReportPrivate
	}

	var scanned, matched int

	err = filepath.WalkDir(scanPath, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			return nil
		}
		if d.IsDir() {
			return nil
		}

		scanned++

		var matches scanner.MatchRules
		if err := rules.ScanFile(path, flags, *timeout, &matches); err != nil {
			fmt.Fprintf(os.Stderr, "error scanning %s: %v\n", path, err)
			return nil
		}

		if len(matches) > 0 {
			matched++
			fmt.Println(path)
			for _, m := range matches {
				fmt.Printf("  %s", m.Rule)
				if m.Namespace != "" {
					fmt.Printf(" [%s]", m.Namespace)
				}
				fmt.Println()
				for _, s := range m.Strings {
					fmt.Printf("    %s @ 0x%x\n", s.Name, s.Offset)
				}
			}
		}

		return nil
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "error walking path: %v\n", err)
		os.Exit(1)
	}

	fmt.Fprintf(os.Stderr, "scanned %d files, %d matched\n", scanned, matched)
}
