// Package main replays a corpus of raw SMS messages through the extraction
// pipeline and compares each parsed record against its golden expectation.
// It is the regression gate for template catalog changes: run it against the
// production corpus before shipping a new or edited template.
//
// The corpus is JSON Lines, one entry per line:
//
//	{"message": "TxId: 123. Your payment of ...", "expected": {"tx_id": "123", "category": "payment_out", "amount": "1100"}}
//
// Entries without an "expected" object only assert that the message parses.
//
// Usage:
//
//	go run ./test/replay -corpus corpus.jsonl [-catalog catalog.yaml] [-json]
package main

import (
	"bufio"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/kigalipay/momoguard/internal/parser"
)

func main() {
	var (
		corpusPath  = flag.String("corpus", "", "path to the JSONL corpus (required)")
		catalogPath = flag.String("catalog", "", "optional template catalog YAML; defaults to the built-in catalog")
		jsonOut     = flag.Bool("json", false, "emit the full result as JSON")
	)
	flag.Parse()

	if *corpusPath == "" {
		fmt.Fprintln(os.Stderr, "missing required -corpus flag")
		flag.Usage()
		os.Exit(2)
	}

	extractor, err := buildExtractor(*catalogPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load catalog: %v\n", err)
		os.Exit(2)
	}

	res, err := replayCorpus(*corpusPath, extractor)
	if err != nil {
		fmt.Fprintf(os.Stderr, "replay: %v\n", err)
		os.Exit(2)
	}

	if *jsonOut {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(res); err != nil {
			fmt.Fprintf(os.Stderr, "encode result: %v\n", err)
			os.Exit(2)
		}
	} else {
		fmt.Println(summarize(res))
		for _, raw := range res.ParseFails {
			fmt.Printf("parse fail: %s\n", truncate(raw, 80))
		}
		for _, d := range res.Divergent {
			fmt.Printf("divergent tx %s field %s: got %q want %q\n", d.TxID, d.Field, d.Got, d.Want)
		}
	}

	if res.HasMismatch() {
		os.Exit(1)
	}
}

func buildExtractor(catalogPath string) (*parser.Extractor, error) {
	if catalogPath == "" {
		return parser.NewExtractor(), nil
	}
	f, err := os.Open(catalogPath)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	defs, err := parser.LoadCatalog(f)
	if err != nil {
		return nil, err
	}
	return parser.NewExtractorWithCatalog(defs), nil
}

func replayCorpus(path string, extractor *parser.Extractor) (*CompareResult, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	res := &CompareResult{}
	receivedAt := time.Now().UTC()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var entry CorpusEntry
		if err := json.Unmarshal(line, &entry); err != nil {
			return nil, fmt.Errorf("line %d: %w", lineNo, err)
		}

		fields, err := extractor.Extract(entry.Message)
		if err != nil {
			res.ParseFails = append(res.ParseFails, entry.Message)
			continue
		}
		rec, err := parser.Normalize(fields, receivedAt)
		if err != nil {
			res.ParseFails = append(res.ParseFails, entry.Message)
			continue
		}

		compareRecord(res, rec, entry.Expected)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}

	return res, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
