package expr

// Walk 先序遍历表达式树，fn 返回 false 时不再进入子节点
func Walk(e Expr, fn func(Expr) bool) {
	if e == nil || !fn(e) {
		return
	}
	switch n := e.(type) {
	case *Binary:
		Walk(n.Left, fn)
		Walk(n.Right, fn)
	case *Unary:
		Walk(n.Operand, fn)
	case *Null:
		Walk(n.Operand, fn)
	case *Call:
		for _, a := range n.Args {
			Walk(a, fn)
		}
	case *Invoke:
		for _, a := range n.Args {
			Walk(a, fn)
		}
	}
}

// Rewrite 自底向上重写表达式树，返回新树，原树不变。
// fn 对每个（子节点已重写的）节点调用，返回替换节点。
func Rewrite(e Expr, fn func(Expr) Expr) Expr {
	if e == nil {
		return nil
	}
	switch n := e.(type) {
	case *Binary:
		e = &Binary{Op: n.Op, Left: Rewrite(n.Left, fn), Right: Rewrite(n.Right, fn)}
	case *Unary:
		e = &Unary{Op: n.Op, Operand: Rewrite(n.Operand, fn)}
	case *Null:
		e = &Null{Operand: Rewrite(n.Operand, fn), Negate: n.Negate}
	case *Call:
		e = &Call{Func: n.Func, Args: rewriteAll(n.Args, fn)}
	case *Invoke:
		e = &Invoke{Name: n.Name, Fn: n.Fn, Args: rewriteAll(n.Args, fn)}
	}
	return fn(e)
}

func rewriteAll(args []Expr, fn func(Expr) Expr) []Expr {
	out := make([]Expr, len(args))
	for i, a := range args {
		out[i] = Rewrite(a, fn)
	}
	return out
}

// ReplaceParam 把 e 中对 from 的属性访问改写为对 to 的访问
func ReplaceParam(e Expr, from, to *Param) Expr {
	return Rewrite(e, func(n Expr) Expr {
		if f, ok := n.(*Field); ok && f.Param == from {
			return &Field{Param: to, Path: f.Path}
		}
		return n
	})
}

// Rebind 返回以 to 为参数的新 lambda，语义不变
func (f *Func) Rebind(to *Param) *Func {
	return &Func{Param: to, Body: ReplaceParam(f.Body, f.Param, to)}
}

// Fields 收集表达式中引用 p 的属性路径（按出现顺序去重）
func Fields(e Expr, p *Param) []string {
	var out []string
	seen := map[string]bool{}
	Walk(e, func(n Expr) bool {
		if f, ok := n.(*Field); ok && (p == nil || f.Param == p) && !seen[f.Path] {
			seen[f.Path] = true
			out = append(out, f.Path)
		}
		return true
	})
	return out
}

// Translatable 表达式是否能翻译为 SQL（不含 Invoke）
func Translatable(e Expr) bool {
	ok := true
	Walk(e, func(n Expr) bool {
		if _, isInvoke := n.(*Invoke); isInvoke {
			ok = false
		}
		return ok
	})
	return ok
}
