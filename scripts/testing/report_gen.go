// Copyright 2026 The Holidesk Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Command report_gen joins `go test -json` output with the annotation
// block above each test (TestPurpose, Scope, Security, Expected, Test
// Case ID) and writes JSON and Markdown reports.
//
//	go test -json ./... > out.json
//	go run ./scripts/testing -input out.json -out-json r.json -out-md r.md
package main

import (
	"bufio"
	"encoding/json"
	"flag"
	"fmt"
	"go/ast"
	"go/parser"
	"go/token"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

const modulePath = "github.com/holidesk/holidesk/"

// Annotation is the metadata parsed from a test's doc comment
type Annotation struct {
	Purpose    string `json:"purpose,omitempty"`
	Scope      string `json:"scope,omitempty"`
	Security   string `json:"security,omitempty"`
	Expected   string `json:"expected,omitempty"`
	TestCaseID string `json:"test_case_id,omitempty"`
	Category   string `json:"category"`
	Type       string `json:"type"`
}

type testEvent struct {
	Action  string  `json:"Action"`
	Package string  `json:"Package"`
	Test    string  `json:"Test"`
	Elapsed float64 `json:"Elapsed"`
	Output  string  `json:"Output"`
}

// Result is the merged outcome of one test
type Result struct {
	Name        string     `json:"name"`
	Package     string     `json:"package"`
	Status      string     `json:"status"`
	Elapsed     float64    `json:"elapsed_seconds"`
	Failure     string     `json:"failure_reason,omitempty"`
	Annotations Annotation `json:"annotations"`
}

// Summary is the top-level report
type Summary struct {
	GeneratedAt time.Time `json:"generated_at"`
	Total       int       `json:"total"`
	Passed      int       `json:"passed"`
	Failed      int       `json:"failed"`
	Skipped     int       `json:"skipped"`
	Results     []Result  `json:"results"`
}

func main() {
	input := flag.String("input", "", "go test -json output file")
	outJSON := flag.String("out-json", "", "JSON report path")
	outMD := flag.String("out-md", "", "Markdown report path")
	title := flag.String("title", "Test Report", "report title")
	category := flag.String("category", "", "only include this category")
	flag.Parse()

	if *input == "" || *outJSON == "" || *outMD == "" {
		fmt.Fprintln(os.Stderr, "usage: report_gen -input <file> -out-json <file> -out-md <file>")
		os.Exit(2)
	}

	annotations, err := scanAnnotations(".")
	if err != nil {
		fail(err)
	}
	results, err := parseEvents(*input, annotations)
	if err != nil {
		fail(err)
	}
	if *category != "" {
		kept := results[:0]
		for _, r := range results {
			if strings.EqualFold(r.Annotations.Category, *category) {
				kept = append(kept, r)
			}
		}
		results = kept
	}

	summary := summarize(results)
	if err := writeJSON(summary, *outJSON); err != nil {
		fail(err)
	}
	if err := writeMarkdown(summary, *outMD, *title); err != nil {
		fail(err)
	}
	if summary.Failed > 0 {
		fmt.Fprintf(os.Stderr, "%d tests failed\n", summary.Failed)
		os.Exit(1)
	}
}

func fail(err error) {
	fmt.Fprintf(os.Stderr, "report_gen: %v\n", err)
	os.Exit(1)
}

func scanAnnotations(root string) (map[string]Annotation, error) {
	out := make(map[string]Annotation)
	fset := token.NewFileSet()

	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if name := d.Name(); strings.HasPrefix(name, "_") || strings.HasPrefix(name, ".") && name != "." {
				return filepath.SkipDir
			}
			return nil
		}
		if !strings.HasSuffix(path, "_test.go") {
			return nil
		}

		file, err := parser.ParseFile(fset, path, nil, parser.ParseComments)
		if err != nil {
			return nil
		}
		pkg := modulePath + filepath.ToSlash(filepath.Dir(path))
		testType := "UT"
		for _, c := range file.Comments {
			if c.Pos() < file.Package && strings.Contains(c.Text(), "go:build integration") {
				testType = "IT"
			}
		}

		for _, decl := range file.Decls {
			fn, ok := decl.(*ast.FuncDecl)
			if !ok || !strings.HasPrefix(fn.Name.Name, "Test") {
				continue
			}
			a := Annotation{Type: testType, Category: categoryOf(pkg)}
			if fn.Doc != nil {
				for _, line := range fn.Doc.List {
					applyAnnotation(&a, strings.TrimSpace(strings.TrimPrefix(line.Text, "//")))
				}
			}
			out[pkg+"."+fn.Name.Name] = a
		}
		return nil
	})
	return out, err
}

func applyAnnotation(a *Annotation, line string) {
	fields := map[string]*string{
		"TestPurpose:":  &a.Purpose,
		"Scope:":        &a.Scope,
		"Security:":     &a.Security,
		"Expected:":     &a.Expected,
		"Test Case ID:": &a.TestCaseID,
	}
	for prefix, dst := range fields {
		if strings.HasPrefix(line, prefix) {
			*dst = strings.TrimSpace(strings.TrimPrefix(line, prefix))
			return
		}
	}
}

func categoryOf(pkg string) string {
	rel := strings.TrimPrefix(pkg, modulePath)
	switch {
	case strings.HasPrefix(rel, "internal/transport/http"):
		return "API"
	case strings.HasPrefix(rel, "internal/store/"):
		return "Storage"
	case strings.HasPrefix(rel, "internal/observability/"):
		return "Observability"
	case strings.HasPrefix(rel, "internal/"):
		return strings.SplitN(strings.TrimPrefix(rel, "internal/"), "/", 2)[0]
	}
	return "Other"
}

func parseEvents(path string, annotations map[string]Annotation) ([]Result, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	states := make(map[string]*Result)
	for key, a := range annotations {
		i := strings.LastIndex(key, ".")
		states[key] = &Result{Name: key[i+1:], Package: key[:i], Status: "not run", Annotations: a}
	}

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		var ev testEvent
		if json.Unmarshal(scanner.Bytes(), &ev) != nil || ev.Test == "" {
			continue
		}
		key := ev.Package + "." + ev.Test
		res, ok := states[key]
		if !ok {
			parent := strings.SplitN(ev.Test, "/", 2)[0]
			a, found := annotations[ev.Package+"."+parent]
			if !found {
				a = Annotation{Type: "UT", Category: categoryOf(ev.Package)}
			}
			res = &Result{Name: ev.Test, Package: ev.Package, Annotations: a}
			states[key] = res
		}

		switch ev.Action {
		case "pass", "fail", "skip":
			res.Status = ev.Action
			res.Elapsed = ev.Elapsed
		case "output":
			if res.Status == "" || res.Status == "fail" {
				res.Failure += ev.Output
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}

	list := make([]Result, 0, len(states))
	for _, r := range states {
		if r.Status != "fail" {
			r.Failure = ""
		}
		list = append(list, *r)
	}
	sort.Slice(list, func(i, j int) bool {
		if list[i].Package != list[j].Package {
			return list[i].Package < list[j].Package
		}
		return list[i].Name < list[j].Name
	})
	return list, nil
}

func summarize(results []Result) Summary {
	s := Summary{GeneratedAt: time.Now().UTC(), Results: results}
	for _, r := range results {
		s.Total++
		switch r.Status {
		case "pass":
			s.Passed++
		case "fail":
			s.Failed++
		case "skip":
			s.Skipped++
		}
	}
	return s
}

func writeJSON(s Summary, path string) error {
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

func writeMarkdown(s Summary, path, title string) error {
	var sb strings.Builder
	fmt.Fprintf(&sb, "# Holidesk %s\n\n", title)
	fmt.Fprintf(&sb, "**Generated:** %s  \n", s.GeneratedAt.Format(time.RFC3339))
	fmt.Fprintf(&sb, "**Total:** %d | **Passed:** %d | **Failed:** %d | **Skipped:** %d\n\n", s.Total, s.Passed, s.Failed, s.Skipped)
	sb.WriteString("| ID | Category | Test | Purpose | Status |\n|---|---|---|---|---|\n")
	for _, r := range s.Results {
		fmt.Fprintf(&sb, "| %s | %s | `%s` | %s | %s |\n",
			r.Annotations.TestCaseID, r.Annotations.Category, r.Name, r.Annotations.Purpose, r.Status)
	}

	var failed []Result
	for _, r := range s.Results {
		if r.Status == "fail" {
			failed = append(failed, r)
		}
	}
	if len(failed) > 0 {
		sb.WriteString("\n## Failures\n")
		for _, r := range failed {
			fmt.Fprintf(&sb, "\n### %s.%s\n\n```\n%s```\n", r.Package, r.Name, r.Failure)
		}
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(sb.String()), 0o644)
}
