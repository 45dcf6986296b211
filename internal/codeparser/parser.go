// Package codeparser implements the Code Parser (§4.8 of SPEC_FULL.md):
// regex/AST-lite extraction of components, imports, and REST/GraphQL calls
// from an archive of front-end TypeScript/TSX sources. This is explicitly
// not a full language parser (§4.8 "Algorithmic notes"); no TypeScript or
// JavaScript parsing library appears anywhere in the retrieved example
// pack, so regexp plus a small archive reader is the grounded choice, not
// a fallback (see DESIGN.md).
package codeparser

import (
	"archive/tar"
	"archive/zip"
	"compress/gzip"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/basegraph-labs/trdforge/internal/session"
)

var sourceExt = map[string]bool{".ts": true, ".tsx": true, ".js": true, ".jsx": true}

var (
	componentRe = regexp.MustCompile(`(?m)^\s*(?:export\s+)?(?:default\s+)?function\s+([A-Z][A-Za-z0-9_]*)\s*\(`)
	constComponentRe = regexp.MustCompile(`(?m)^\s*(?:export\s+)?const\s+([A-Z][A-Za-z0-9_]*)\s*(?::[^=]+)?=\s*\([^)]*\)\s*(?::[^=]*)?=>`)
	hookRe      = regexp.MustCompile(`\b(use[A-Z][A-Za-z0-9_]*)\s*\(`)
	restCallRe  = regexp.MustCompile(`\b(?:fetch|axios\.(get|post|put|patch|delete))\s*\(\s*` + "`" + `([^` + "`" + `]*)` + "`" + `|\b(?:fetch|axios\.(get|post|put|patch|delete))\s*\(\s*['"]([^'"]*)['"]`)
	httpVerbRe  = regexp.MustCompile(`(?i)\b(GET|POST|PUT|PATCH|DELETE)\b`)
	gqlClientImportRe = regexp.MustCompile(`import\s+.*from\s+['"](@apollo/client|graphql-request|urql)['"]`)
	gqlTagImportRe    = regexp.MustCompile(`import\s+\{[^}]*\bgql\b[^}]*\}\s+from`)
	gqlTaggedTemplateRe = regexp.MustCompile(`gql` + "`" + `\s*(query|mutation|subscription)\s+([A-Za-z0-9_]+)`)
	importNamedRe     = regexp.MustCompile(`import\s+\{([^}]+)\}\s+from\s+['"]([^'"]+)['"]`)
	importDefaultRe   = regexp.MustCompile(`import\s+([A-Za-z0-9_$]+)\s+from\s+['"]([^'"]+)['"]`)
	importMixedRe     = regexp.MustCompile(`import\s+([A-Za-z0-9_$]+)\s*,\s*\{([^}]+)\}\s+from\s+['"]([^'"]+)['"]`)
	importNamespaceRe = regexp.MustCompile(`import\s+\*\s+as\s+([A-Za-z0-9_$]+)\s+from\s+['"]([^'"]+)['"]`)
	commentLineRe     = regexp.MustCompile(`^\s*//`)
)

// Parse extracts a CodeModel from the archive at path. A missing or
// malformed archive produces an empty model and no error (§4.8 edge case).
func Parse(path string) *session.CodeModel {
	if path == "" {
		return &session.CodeModel{}
	}

	files, err := readArchive(path)
	if err != nil {
		return &session.CodeModel{}
	}

	model := &session.CodeModel{}
	for name, content := range files {
		if !sourceExt[strings.ToLower(filepath.Ext(name))] {
			continue
		}
		func() {
			defer func() {
				if r := recover(); r != nil {
					model.ParseErrors = append(model.ParseErrors, session.ParseError{
						File: name, Message: fmt.Sprintf("panic: %v", r),
					})
				}
			}()
			parseFile(model, name, content)
		}()
	}
	return model
}

func parseFile(model *session.CodeModel, name, content string) {
	model.Components = append(model.Components, extractComponents(content)...)
	model.Imports = append(model.Imports, extractImports(content)...)
	model.APICalls = append(model.APICalls, extractRESTCalls(name, content)...)
	if isGraphQLClient(content) {
		model.APICalls = append(model.APICalls, extractGraphQLOps(name, content)...)
	}
}

func extractComponents(content string) []session.CodeComponent {
	var out []session.CodeComponent
	seen := map[string]bool{}

	names := append(
		matchNames(componentRe, content),
		matchNames(constComponentRe, content)...,
	)
	for _, name := range names {
		if seen[name] {
			continue
		}
		seen[name] = true
		out = append(out, session.CodeComponent{
			Name:      name,
			HooksUsed: extractHooks(content),
		})
	}
	return out
}

func matchNames(re *regexp.Regexp, content string) []string {
	var names []string
	for _, m := range re.FindAllStringSubmatch(content, -1) {
		names = append(names, m[1])
	}
	return names
}

func extractHooks(content string) []string {
	seen := map[string]bool{}
	var out []string
	for _, m := range hookRe.FindAllStringSubmatch(content, -1) {
		if !seen[m[1]] {
			seen[m[1]] = true
			out = append(out, m[1])
		}
	}
	return out
}

func extractRESTCalls(file, content string) []session.ParsedAPICall {
	var out []session.ParsedAPICall
	for _, line := range strings.Split(content, "\n") {
		if commentLineRe.MatchString(line) {
			continue
		}
		m := restCallRe.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		urlPattern := firstNonEmpty(m[2], m[4])
		method := "GET"
		if verb := httpVerbRe.FindString(strings.ToUpper(line)); verb != "" {
			method = verb
		} else if m[1] != "" {
			method = strings.ToUpper(m[1])
		} else if m[3] != "" {
			method = strings.ToUpper(m[3])
		}
		if urlPattern == "" {
			continue
		}
		out = append(out, session.ParsedAPICall{
			Method:          method,
			EndpointPattern: urlPattern,
			CallSite:        file,
		})
	}
	return out
}

func isGraphQLClient(content string) bool {
	if gqlClientImportRe.MatchString(content) {
		return true
	}
	return gqlTagImportRe.MatchString(content)
}

func extractGraphQLOps(file, content string) []session.ParsedAPICall {
	var out []session.ParsedAPICall
	for _, m := range gqlTaggedTemplateRe.FindAllStringSubmatch(content, -1) {
		out = append(out, session.ParsedAPICall{
			Method:            "POST",
			EndpointPattern:   "/graphql",
			ResponseShapeHint: "unknown",
			CallSite:          file,
			IsGraphQL:         true,
			GraphQLOperation:  fmt.Sprintf("%s %s", m[1], m[2]),
		})
	}
	return out
}

func extractImports(content string) []session.ImportRef {
	var out []session.ImportRef
	for _, m := range importMixedRe.FindAllStringSubmatch(content, -1) {
		out = append(out, session.ImportRef{
			Module:  m[3],
			Default: m[1],
			Named:   splitNames(m[2]),
		})
	}
	for _, m := range importNamespaceRe.FindAllStringSubmatch(content, -1) {
		out = append(out, session.ImportRef{Module: m[2], Namespace: m[1]})
	}
	mixedModules := map[string]bool{}
	for _, imp := range out {
		mixedModules[imp.Module] = true
	}
	for _, m := range importNamedRe.FindAllStringSubmatch(content, -1) {
		if mixedModules[m[2]] {
			continue
		}
		out = append(out, session.ImportRef{Module: m[2], Named: splitNames(m[1])})
	}
	for _, m := range importDefaultRe.FindAllStringSubmatch(content, -1) {
		if mixedModules[m[2]] {
			continue
		}
		out = append(out, session.ImportRef{Module: m[2], Default: m[1]})
	}
	return out
}

func splitNames(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		// `Foo as Bar` -> keep the local alias, Bar.
		if idx := strings.Index(p, " as "); idx >= 0 {
			p = strings.TrimSpace(p[idx+4:])
		}
		out = append(out, p)
	}
	return out
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

// readArchive reads every regular file from a .zip or .tar.gz archive into
// memory, keyed by path within the archive.
func readArchive(path string) (map[string]string, error) {
	switch {
	case strings.HasSuffix(path, ".zip"):
		return readZip(path)
	case strings.HasSuffix(path, ".tar.gz") || strings.HasSuffix(path, ".tgz"):
		return readTarGz(path)
	default:
		return nil, fmt.Errorf("codeparser: unsupported archive format: %s", path)
	}
}

func readZip(path string) (map[string]string, error) {
	r, err := zip.OpenReader(path)
	if err != nil {
		return nil, err
	}
	defer r.Close()

	out := map[string]string{}
	for _, f := range r.File {
		if f.FileInfo().IsDir() {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			continue
		}
		data, err := io.ReadAll(rc)
		rc.Close()
		if err != nil {
			continue
		}
		out[f.Name] = string(data)
	}
	return out, nil
}

func readTarGz(path string) (map[string]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	gz, err := gzip.NewReader(f)
	if err != nil {
		return nil, err
	}
	defer gz.Close()

	out := map[string]string{}
	tr := tar.NewReader(gz)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return out, nil
		}
		if hdr.Typeflag != tar.TypeReg {
			continue
		}
		data, err := io.ReadAll(tr)
		if err != nil {
			continue
		}
		out[hdr.Name] = string(data)
	}
	return out, nil
}
