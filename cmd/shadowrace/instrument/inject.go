package instrument

import (
	"go/ast"
	"go/token"
	"strconv"
)

// injectImports adds the runtime and unsafe imports to the file unless
// they are already present.
func injectImports(file *ast.File) {
	var specs []ast.Spec
	if !hasImport(file, RuntimeImportPath) {
		specs = append(specs, &ast.ImportSpec{
			Name: ast.NewIdent(RuntimeAlias),
			Path: &ast.BasicLit{Kind: token.STRING, Value: strconv.Quote(RuntimeImportPath)},
		})
	}
	if !hasImport(file, "unsafe") {
		specs = append(specs, &ast.ImportSpec{
			Path: &ast.BasicLit{Kind: token.STRING, Value: strconv.Quote("unsafe")},
		})
	}
	if len(specs) == 0 {
		return
	}
	decl := &ast.GenDecl{Tok: token.IMPORT, Specs: specs}
	file.Decls = append([]ast.Decl{decl}, file.Decls...)
	file.Imports = append(file.Imports, importSpecs(specs)...)
}

func hasImport(file *ast.File, path string) bool {
	for _, imp := range file.Imports {
		if p, err := strconv.Unquote(imp.Path.Value); err == nil && p == path {
			return true
		}
	}
	return false
}

func importSpecs(specs []ast.Spec) []*ast.ImportSpec {
	out := make([]*ast.ImportSpec, 0, len(specs))
	for _, s := range specs {
		out = append(out, s.(*ast.ImportSpec))
	}
	return out
}
