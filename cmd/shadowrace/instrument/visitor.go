package instrument

import (
	"go/ast"
	"go/token"
	"strconv"
)

// skipIdents are identifiers that are never instrumentable values.
var skipIdents = map[string]bool{
	"_": true, "true": true, "false": true, "nil": true, "iota": true,
}

// visitor rewrites function bodies, inserting race calls around memory
// accesses.
type visitor struct {
	file    *ast.File
	imports map[string]bool // local package names; pkg.X is not a memory access we can take the address of safely
	stats   Stats
}

func newVisitor(file *ast.File) *visitor {
	v := &visitor{file: file, imports: make(map[string]bool)}
	for _, imp := range file.Imports {
		if imp.Name != nil {
			v.imports[imp.Name.Name] = true
			continue
		}
		if path, err := strconv.Unquote(imp.Path.Value); err == nil {
			v.imports[lastSegment(path)] = true
		}
	}
	return v
}

func lastSegment(path string) string {
	last := path
	for i := len(path) - 1; i >= 0; i-- {
		if path[i] == '/' {
			last = path[i+1:]
			break
		}
	}
	return last
}

// rewriteFile processes every function declaration in the file.
func (v *visitor) rewriteFile() {
	for _, decl := range v.file.Decls {
		if fn, ok := decl.(*ast.FuncDecl); ok && fn.Body != nil {
			v.rewriteBlock(fn.Body)
		}
	}
}

// rewriteBlock replaces the block's statement list with an instrumented
// one.
func (v *visitor) rewriteBlock(b *ast.BlockStmt) {
	if b == nil {
		return
	}
	out := make([]ast.Stmt, 0, len(b.List)*2)
	for _, s := range b.List {
		v.rewriteStmt(s, &out)
	}
	b.List = out
}

// rewriteStmt appends s to out with race calls inserted before (and, for
// short variable declarations, after) it, then recurses into nested
// blocks.
func (v *visitor) rewriteStmt(s ast.Stmt, out *[]ast.Stmt) {
	switch st := s.(type) {
	case *ast.AssignStmt:
		for _, rhs := range st.Rhs {
			v.emitReads(rhs, out)
		}
		if st.Tok == token.DEFINE {
			// New variables do not exist before the statement; record
			// the initializing writes after it.
			*out = append(*out, st)
			for _, lhs := range st.Lhs {
				v.emitWrite(lhs, out)
			}
			return
		}
		for _, lhs := range st.Lhs {
			v.emitWrite(lhs, out)
		}
	case *ast.IncDecStmt:
		v.emitReads(st.X, out)
		v.emitWrite(st.X, out)
	case *ast.ExprStmt:
		v.emitReads(st.X, out)
	case *ast.ReturnStmt:
		for _, r := range st.Results {
			v.emitReads(r, out)
		}
	case *ast.IfStmt:
		if st.Init == nil {
			v.emitReads(st.Cond, out)
		}
		v.rewriteBlock(st.Body)
		if els, ok := st.Else.(*ast.BlockStmt); ok {
			v.rewriteBlock(els)
		} else if elif, ok := st.Else.(*ast.IfStmt); ok {
			var dummy []ast.Stmt
			v.rewriteStmt(elif, &dummy)
			st.Else = elif
		}
	case *ast.ForStmt:
		// Condition and post run per iteration; hoisting their reads
		// before the loop would misattribute them. Only the body is
		// instrumented.
		v.rewriteBlock(st.Body)
	case *ast.RangeStmt:
		v.emitReads(st.X, out)
		v.rewriteBlock(st.Body)
	case *ast.BlockStmt:
		v.rewriteBlock(st)
	case *ast.SwitchStmt:
		for _, cc := range st.Body.List {
			if c, ok := cc.(*ast.CaseClause); ok {
				body := &ast.BlockStmt{List: c.Body}
				v.rewriteBlock(body)
				c.Body = body.List
			}
		}
	case *ast.TypeSwitchStmt:
		for _, cc := range st.Body.List {
			if c, ok := cc.(*ast.CaseClause); ok {
				body := &ast.BlockStmt{List: c.Body}
				v.rewriteBlock(body)
				c.Body = body.List
			}
		}
	case *ast.SelectStmt:
		for _, cc := range st.Body.List {
			if c, ok := cc.(*ast.CommClause); ok {
				body := &ast.BlockStmt{List: c.Body}
				v.rewriteBlock(body)
				c.Body = body.List
			}
		}
	case *ast.GoStmt:
		if fl, ok := st.Call.Fun.(*ast.FuncLit); ok {
			v.rewriteBlock(fl.Body)
		}
	case *ast.DeferStmt:
		if fl, ok := st.Call.Fun.(*ast.FuncLit); ok {
			v.rewriteBlock(fl.Body)
		}
	case *ast.LabeledStmt:
		var inner []ast.Stmt
		v.rewriteStmt(st.Stmt, &inner)
		if len(inner) == 1 {
			st.Stmt = inner[0]
		}
		// A labeled statement that needs preceding calls keeps them
		// outside the label; jumping to the label skips them, which is
		// the conservative direction (missed reads, never bad code).
	}
	*out = append(*out, s)
}

// emitReads inserts race.Read calls for every instrumentable value read
// in e.
func (v *visitor) emitReads(e ast.Expr, out *[]ast.Stmt) {
	switch ex := e.(type) {
	case *ast.Ident:
		if v.readable(ex) {
			*out = append(*out, raceCall("Read", ex))
			v.stats.Reads++
		}
	case *ast.SelectorExpr:
		if id, ok := ex.X.(*ast.Ident); ok && v.imports[id.Name] {
			// Package-qualified name: function, constant or package
			// variable; not instrumentable without type information.
			v.stats.Skipped++
			return
		}
		*out = append(*out, raceCall("Read", ex))
		v.stats.Reads++
	case *ast.StarExpr:
		v.emitReads(ex.X, out)
		*out = append(*out, raceCall("Read", ex))
		v.stats.Reads++
	case *ast.ParenExpr:
		v.emitReads(ex.X, out)
	case *ast.UnaryExpr:
		if ex.Op == token.AND {
			// Taking an address reads nothing.
			return
		}
		v.emitReads(ex.X, out)
	case *ast.BinaryExpr:
		v.emitReads(ex.X, out)
		v.emitReads(ex.Y, out)
	case *ast.CallExpr:
		for _, arg := range ex.Args {
			v.emitReads(arg, out)
		}
	case *ast.CompositeLit:
		for _, elt := range ex.Elts {
			v.emitReads(elt, out)
		}
	case *ast.KeyValueExpr:
		v.emitReads(ex.Value, out)
	case *ast.IndexExpr:
		// Map elements are not addressable; without types, index
		// expressions are skipped rather than guessed.
		v.stats.Skipped++
	case *ast.SliceExpr:
		v.stats.Skipped++
	case *ast.TypeAssertExpr:
		v.emitReads(ex.X, out)
	case *ast.FuncLit:
		v.rewriteBlock(ex.Body)
	}
}

// emitWrite inserts a race.Write call for an instrumentable assignment
// target.
func (v *visitor) emitWrite(e ast.Expr, out *[]ast.Stmt) {
	switch ex := e.(type) {
	case *ast.Ident:
		if v.readable(ex) {
			*out = append(*out, raceCall("Write", ex))
			v.stats.Writes++
		}
	case *ast.SelectorExpr:
		if id, ok := ex.X.(*ast.Ident); ok && v.imports[id.Name] {
			v.stats.Skipped++
			return
		}
		*out = append(*out, raceCall("Write", ex))
		v.stats.Writes++
	case *ast.StarExpr:
		*out = append(*out, raceCall("Write", ex))
		v.stats.Writes++
	case *ast.ParenExpr:
		v.emitWrite(ex.X, out)
	default:
		v.stats.Skipped++
	}
}

// readable reports whether an identifier denotes an instrumentable
// variable.
func (v *visitor) readable(id *ast.Ident) bool {
	return !skipIdents[id.Name] && !v.imports[id.Name]
}

// raceCall builds race.<kind>(uintptr(unsafe.Pointer(&target)),
// int(unsafe.Sizeof(target))).
func raceCall(kind string, target ast.Expr) ast.Stmt {
	return &ast.ExprStmt{X: &ast.CallExpr{
		Fun: &ast.SelectorExpr{X: ast.NewIdent(RuntimeAlias), Sel: ast.NewIdent(kind)},
		Args: []ast.Expr{
			&ast.CallExpr{
				Fun: ast.NewIdent("uintptr"),
				Args: []ast.Expr{&ast.CallExpr{
					Fun:  &ast.SelectorExpr{X: ast.NewIdent("unsafe"), Sel: ast.NewIdent("Pointer")},
					Args: []ast.Expr{&ast.UnaryExpr{Op: token.AND, X: target}},
				}},
			},
			&ast.CallExpr{
				Fun: ast.NewIdent("int"),
				Args: []ast.Expr{&ast.CallExpr{
					Fun:  &ast.SelectorExpr{X: ast.NewIdent("unsafe"), Sel: ast.NewIdent("Sizeof")},
					Args: []ast.Expr{target},
				}},
			},
		},
	}}
}
