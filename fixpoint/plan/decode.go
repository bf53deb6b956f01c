package plan

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/wbrown/janus-fixpoint/fixpoint"
	"github.com/wbrown/janus-fixpoint/fixpoint/collection"
	"github.com/wbrown/janus-fixpoint/fixpoint/edn"
)

// Decode reads a plan written in EDN:
//
//	{:bindings [{:name l0 :arity 2 :recursive true :types [:int :int]
//	             :body (union (get edges 2) (project ... ))}]
//	 :body (get l0)
//	 :finishing {:order [[#0 :desc]] :limit 10 :project [#0]}}
//
// Operators are lists headed by their name; expressions use #N for columns.
func Decode(text string) (*Plan, error) {
	root, err := edn.Parse(text)
	if err != nil {
		return nil, fmt.Errorf("decode plan: %w", err)
	}
	if root.Type != edn.NodeMap {
		return nil, fmt.Errorf("decode plan: expected a map at %s", root.Pos())
	}

	d := &decoder{arities: make(map[string]int)}
	p := &Plan{}

	if bindings, ok := root.Lookup("bindings"); ok {
		// Arities first so bodies may reference later bindings.
		for _, bn := range bindings.Nodes {
			b, err := d.bindingHeader(bn)
			if err != nil {
				return nil, err
			}
			p.Bindings = append(p.Bindings, b)
		}
		for i, bn := range bindings.Nodes {
			body, ok := bn.Lookup("body")
			if !ok {
				return nil, fmt.Errorf("decode plan: binding %s has no :body", p.Bindings[i].Name)
			}
			if p.Bindings[i].Body, err = d.node(body); err != nil {
				return nil, fmt.Errorf("decode plan: binding %s: %w", p.Bindings[i].Name, err)
			}
		}
	}

	body, ok := root.Lookup("body")
	if !ok {
		return nil, fmt.Errorf("decode plan: missing :body")
	}
	if p.Body, err = d.node(body); err != nil {
		return nil, fmt.Errorf("decode plan: body: %w", err)
	}

	if fin, ok := root.Lookup("finishing"); ok {
		if p.Finishing, err = d.finishing(fin); err != nil {
			return nil, fmt.Errorf("decode plan: finishing: %w", err)
		}
	}
	return p, nil
}

type decoder struct {
	arities map[string]int
}

func (d *decoder) bindingHeader(n edn.Node) (*Binding, error) {
	if n.Type != edn.NodeMap {
		return nil, fmt.Errorf("decode plan: binding at %s must be a map", n.Pos())
	}
	nameNode, ok := n.Lookup("name")
	if !ok {
		return nil, fmt.Errorf("decode plan: binding at %s has no :name", n.Pos())
	}
	name, err := nameNode.AsName()
	if err != nil {
		return nil, err
	}
	b := &Binding{Name: name}

	arityNode, ok := n.Lookup("arity")
	if !ok {
		return nil, fmt.Errorf("decode plan: binding %s has no :arity", name)
	}
	arity, err := arityNode.AsInt()
	if err != nil {
		return nil, err
	}
	b.Arity = int(arity)
	d.arities[name] = b.Arity

	if rec, ok := n.Lookup("recursive"); ok {
		b.Recursive = rec.Type == edn.NodeBool && rec.Value == "true"
	}
	if types, ok := n.Lookup("types"); ok {
		for _, tn := range types.Nodes {
			t, err := columnType(tn)
			if err != nil {
				return nil, err
			}
			b.Types = append(b.Types, t)
		}
	}
	return b, nil
}

// columnType reads :int (not null) or :int? (nullable).
func columnType(n edn.Node) (fixpoint.ColumnType, error) {
	name, err := n.AsKeyword()
	if err != nil {
		return fixpoint.ColumnType{}, err
	}
	nullable := strings.HasSuffix(name, "?")
	scalar, err := fixpoint.ParseScalarType(strings.TrimSuffix(name, "?"))
	if err != nil {
		return fixpoint.ColumnType{}, err
	}
	return fixpoint.ColumnType{Scalar: scalar, Nullable: nullable}, nil
}

func (d *decoder) finishing(n edn.Node) (*Finishing, error) {
	f := &Finishing{Limit: NoLimit}
	if order, ok := n.Lookup("order"); ok {
		o, err := orderColumns(order)
		if err != nil {
			return nil, err
		}
		f.Order = o
	}
	if limit, ok := n.Lookup("limit"); ok {
		v, err := limit.AsInt()
		if err != nil {
			return nil, err
		}
		f.Limit = int(v)
	}
	if offset, ok := n.Lookup("offset"); ok {
		v, err := offset.AsInt()
		if err != nil {
			return nil, err
		}
		f.Offset = int(v)
	}
	if project, ok := n.Lookup("project"); ok {
		cols, err := columns(project)
		if err != nil {
			return nil, err
		}
		f.Project = cols
	}
	return f, nil
}

// orderColumns reads [[#1 :desc :nulls-last] [#0]].
func orderColumns(n edn.Node) ([]fixpoint.OrderColumn, error) {
	var out []fixpoint.OrderColumn
	for _, item := range n.Nodes {
		if len(item.Nodes) == 0 {
			return nil, fmt.Errorf("empty order item at %s", item.Pos())
		}
		col, err := item.Nodes[0].AsColumn()
		if err != nil {
			return nil, err
		}
		o := fixpoint.DefaultOrder(col, false)
		for _, opt := range item.Nodes[1:] {
			kw, err := opt.AsKeyword()
			if err != nil {
				return nil, err
			}
			switch kw {
			case "asc":
				o.Desc, o.NullsLast = false, true
			case "desc":
				o.Desc, o.NullsLast = true, false
			case "nulls-first":
				o.NullsLast = false
			case "nulls-last":
				o.NullsLast = true
			default:
				return nil, fmt.Errorf("unknown order option :%s at %s", kw, opt.Pos())
			}
		}
		out = append(out, o)
	}
	return out, nil
}

func columns(n edn.Node) ([]int, error) {
	if n.Type != edn.NodeVector {
		return nil, fmt.Errorf("expected a column vector at %s", n.Pos())
	}
	out := make([]int, 0, len(n.Nodes))
	for _, c := range n.Nodes {
		col, err := c.AsColumn()
		if err != nil {
			return nil, err
		}
		out = append(out, col)
	}
	return out, nil
}

func (d *decoder) nodes(n edn.Node) ([]Node, error) {
	if n.Type != edn.NodeVector {
		return nil, fmt.Errorf("expected a vector of operators at %s", n.Pos())
	}
	out := make([]Node, 0, len(n.Nodes))
	for _, c := range n.Nodes {
		x, err := d.node(c)
		if err != nil {
			return nil, err
		}
		out = append(out, x)
	}
	return out, nil
}

func (d *decoder) node(n edn.Node) (Node, error) {
	if n.Type != edn.NodeList || len(n.Nodes) == 0 {
		return nil, fmt.Errorf("expected an operator list at %s, got %s", n.Pos(), n)
	}
	op, err := n.Nodes[0].AsName()
	if err != nil {
		return nil, err
	}
	args := n.Nodes[1:]
	need := func(min int) error {
		if len(args) < min {
			return fmt.Errorf("%s at %s needs at least %d arguments", op, n.Pos(), min)
		}
		return nil
	}
	// input decodes the first argument as an operator.
	input := func() (Node, error) {
		if err := need(1); err != nil {
			return nil, err
		}
		return d.node(args[0])
	}
	binary := func(build func(a, b Node) Node) (Node, error) {
		if err := need(2); err != nil {
			return nil, err
		}
		a, err := d.node(args[0])
		if err != nil {
			return nil, err
		}
		b, err := d.node(args[1])
		if err != nil {
			return nil, err
		}
		return build(a, b), nil
	}

	switch op {
	case "get":
		if err := need(1); err != nil {
			return nil, err
		}
		name, err := args[0].AsName()
		if err != nil {
			return nil, err
		}
		if len(args) > 1 {
			arity, err := args[1].AsInt()
			if err != nil {
				return nil, err
			}
			return NewGet(name, int(arity)), nil
		}
		arity, ok := d.arities[name]
		if !ok {
			return nil, fmt.Errorf("get %s at %s: arity required for a source", name, n.Pos())
		}
		return NewGet(name, arity), nil

	case "constant":
		if err := need(1); err != nil {
			return nil, err
		}
		arity, err := args[0].AsInt()
		if err != nil {
			return nil, err
		}
		c := &Constant{Width: int(arity)}
		for _, rn := range args[1:] {
			u, err := update(rn)
			if err != nil {
				return nil, err
			}
			c.Rows = append(c.Rows, u)
		}
		return c, nil

	case "project":
		in, err := input()
		if err != nil {
			return nil, err
		}
		if err := need(2); err != nil {
			return nil, err
		}
		cols, err := columns(args[1])
		if err != nil {
			return nil, err
		}
		return NewProject(in, cols...), nil

	case "map", "filter":
		in, err := input()
		if err != nil {
			return nil, err
		}
		if err := need(2); err != nil {
			return nil, err
		}
		exprs, err := expressions(args[1])
		if err != nil {
			return nil, err
		}
		if op == "map" {
			return NewMap(in, exprs...), nil
		}
		return NewFilter(in, exprs...), nil

	case "flatmap":
		in, err := input()
		if err != nil {
			return nil, err
		}
		if err := need(2); err != nil {
			return nil, err
		}
		call := args[1]
		if call.Type != edn.NodeList || len(call.Nodes) == 0 {
			return nil, fmt.Errorf("flatmap at %s needs a function call", n.Pos())
		}
		name, err := call.Nodes[0].AsName()
		if err != nil {
			return nil, err
		}
		var fargs []Expr
		for _, a := range call.Nodes[1:] {
			e, err := expression(a)
			if err != nil {
				return nil, err
			}
			fargs = append(fargs, e)
		}
		return &FlatMap{Input: in, Func: TableFunc{Name: name, Args: fargs}}, nil

	case "join":
		if err := need(1); err != nil {
			return nil, err
		}
		inputs, err := d.nodes(args[0])
		if err != nil {
			return nil, err
		}
		j := &Join{Inputs: inputs}
		for _, a := range args[1:] {
			switch a.Type {
			case edn.NodeVector:
				for _, cls := range a.Nodes {
					cols, err := columns(cls)
					if err != nil {
						return nil, err
					}
					j.Equivalences = append(j.Equivalences, cols)
				}
			case edn.NodeKeyword:
				switch kw, _ := a.AsKeyword(); kw {
				case "delta":
					j.Implementation = ImplDelta
				case "differential":
					j.Implementation = ImplDifferential
				default:
					return nil, fmt.Errorf("unknown join type :%s at %s", kw, a.Pos())
				}
			default:
				return nil, fmt.Errorf("unexpected join argument %s at %s", a, a.Pos())
			}
		}
		return j, nil

	case "reduce":
		in, err := input()
		if err != nil {
			return nil, err
		}
		if err := need(2); err != nil {
			return nil, err
		}
		key, err := columns(args[1])
		if err != nil {
			return nil, err
		}
		r := NewReduce(in, key)
		if len(args) > 2 {
			for _, an := range args[2].Nodes {
				a, err := aggregate(an)
				if err != nil {
					return nil, err
				}
				r.Aggregates = append(r.Aggregates, a)
			}
		}
		if len(args) > 3 {
			size, err := args[3].AsInt()
			if err != nil {
				return nil, err
			}
			r.ExpectedGroupSize = int(size)
		}
		return r, nil

	case "distinct":
		in, err := input()
		if err != nil {
			return nil, err
		}
		dn := NewDistinct(in)
		if len(args) > 1 {
			if dn.Columns, err = columns(args[1]); err != nil {
				return nil, err
			}
		}
		return dn, nil

	case "topk":
		in, err := input()
		if err != nil {
			return nil, err
		}
		t := NewTopK(in, nil, nil, NoLimit, 0)
		if len(args) > 1 {
			if err := topkOptions(t, args[1]); err != nil {
				return nil, err
			}
		}
		return t, nil

	case "negate":
		in, err := input()
		if err != nil {
			return nil, err
		}
		return NewNegate(in), nil

	case "threshold":
		in, err := input()
		if err != nil {
			return nil, err
		}
		return NewThreshold(in), nil

	case "union":
		var inputs []Node
		for _, a := range args {
			x, err := d.node(a)
			if err != nil {
				return nil, err
			}
			inputs = append(inputs, x)
		}
		return NewUnion(inputs...), nil

	case "arrange":
		in, err := input()
		if err != nil {
			return nil, err
		}
		a := NewArrangeBy(in)
		if len(args) > 1 {
			for _, k := range args[1].Nodes {
				cols, err := columns(k)
				if err != nil {
					return nil, err
				}
				a.Keys = append(a.Keys, cols)
			}
		}
		return a, nil

	case "union-distinct":
		return binary(UnionDistinct)
	case "except-all":
		return binary(ExceptAll)
	case "except":
		return binary(Except)
	case "intersect-all":
		return binary(IntersectAll)
	case "intersect":
		return binary(Intersect)

	case "scalar-subquery":
		if err := need(3); err != nil {
			return nil, err
		}
		outer, err := d.node(args[0])
		if err != nil {
			return nil, err
		}
		corr, err := columns(args[1])
		if err != nil {
			return nil, err
		}
		sub, err := d.node(args[2])
		if err != nil {
			return nil, err
		}
		return LowerScalarSubquery(outer, corr, sub)
	}
	return nil, fmt.Errorf("unknown operator %s at %s", op, n.Pos())
}

func topkOptions(t *TopK, n edn.Node) error {
	if n.Type != edn.NodeMap {
		return fmt.Errorf("topk options at %s must be a map", n.Pos())
	}
	var err error
	if g, ok := n.Lookup("group"); ok {
		if t.GroupKey, err = columns(g); err != nil {
			return err
		}
	}
	if o, ok := n.Lookup("order"); ok {
		if t.Order, err = orderColumns(o); err != nil {
			return err
		}
	}
	ints := map[string]*int{"limit": &t.Limit, "offset": &t.Offset, "exp-group-size": &t.ExpectedGroupSize}
	for key, dst := range ints {
		if v, ok := n.Lookup(key); ok {
			i, err := v.AsInt()
			if err != nil {
				return err
			}
			*dst = int(i)
		}
	}
	return nil
}

// aggregate reads (count *), (sum #1) or (count distinct #1).
func aggregate(n edn.Node) (Aggregate, error) {
	if n.Type != edn.NodeList || len(n.Nodes) < 2 {
		return Aggregate{}, fmt.Errorf("expected an aggregate call at %s", n.Pos())
	}
	name, err := n.Nodes[0].AsName()
	if err != nil {
		return Aggregate{}, err
	}
	args := n.Nodes[1:]
	if name == "count" && args[0].Type == edn.NodeSymbol && args[0].Value == "*" {
		return CountStar(), nil
	}
	a := Aggregate{}
	if args[0].Type == edn.NodeSymbol && args[0].Value == "distinct" {
		a.Distinct = true
		args = args[1:]
	}
	if len(args) != 1 {
		return Aggregate{}, fmt.Errorf("aggregate %s at %s takes one argument", name, n.Pos())
	}
	switch name {
	case "count":
		a.Func = AggCount
	case "sum":
		a.Func = AggSum
	case "min":
		a.Func = AggMin
	case "max":
		a.Func = AggMax
	case "avg":
		a.Func = AggAvg
	default:
		return Aggregate{}, fmt.Errorf("unknown aggregate %s at %s", name, n.Pos())
	}
	if a.Expr, err = expression(args[0]); err != nil {
		return Aggregate{}, err
	}
	return a, nil
}

func expressions(n edn.Node) ([]Expr, error) {
	if n.Type != edn.NodeVector {
		return nil, fmt.Errorf("expected an expression vector at %s", n.Pos())
	}
	out := make([]Expr, 0, len(n.Nodes))
	for _, c := range n.Nodes {
		e, err := expression(c)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, nil
}

func expression(n edn.Node) (Expr, error) {
	switch n.Type {
	case edn.NodeColumn:
		col, err := n.AsColumn()
		if err != nil {
			return nil, err
		}
		return Col(col), nil
	case edn.NodeList:
		return call(n)
	}
	v, err := datum(n)
	if err != nil {
		return nil, err
	}
	return Literal{Value: v}, nil
}

func call(n edn.Node) (Expr, error) {
	if len(n.Nodes) == 0 {
		return nil, fmt.Errorf("empty expression at %s", n.Pos())
	}
	fn, err := n.Nodes[0].AsName()
	if err != nil {
		return nil, err
	}
	var args []Expr
	for _, a := range n.Nodes[1:] {
		if fn == "cast" && a.Type == edn.NodeKeyword {
			continue
		}
		e, err := expression(a)
		if err != nil {
			return nil, err
		}
		args = append(args, e)
	}
	arity := func(want int) error {
		if len(args) != want {
			return fmt.Errorf("%s at %s takes %d arguments, got %d", fn, n.Pos(), want, len(args))
		}
		return nil
	}

	switch fn {
	case "not", "neg", "-", "is-null":
		if fn == "-" && len(args) == 2 {
			return Sub(args[0], args[1]), nil
		}
		if err := arity(1); err != nil {
			return nil, err
		}
		switch fn {
		case "not":
			return Unary{Op: OpNot, Input: args[0]}, nil
		case "is-null":
			return Unary{Op: OpIsNull, Input: args[0]}, nil
		}
		return Unary{Op: OpNeg, Input: args[0]}, nil
	case "if":
		if err := arity(3); err != nil {
			return nil, err
		}
		return If{Cond: args[0], Then: args[1], Else: args[2]}, nil
	case "cast":
		if err := arity(1); err != nil {
			return nil, err
		}
		var target fixpoint.ScalarType = fixpoint.TypeAny
		for _, a := range n.Nodes[1:] {
			if a.Type == edn.NodeKeyword {
				kw, _ := a.AsKeyword()
				if target, err = fixpoint.ParseScalarType(kw); err != nil {
					return nil, err
				}
			}
		}
		return Cast{Input: args[0], To: target}, nil
	}

	op, ok := ParseBinaryOp(fn)
	if !ok {
		return nil, fmt.Errorf("unknown function %s at %s", fn, n.Pos())
	}
	if len(args) < 2 {
		return nil, fmt.Errorf("%s at %s takes at least 2 arguments", fn, n.Pos())
	}
	// (and a b c) folds left.
	e := Expr(Binary{Op: op, Left: args[0], Right: args[1]})
	for _, a := range args[2:] {
		e = Binary{Op: op, Left: e, Right: a}
	}
	return e, nil
}

func datum(n edn.Node) (fixpoint.Datum, error) {
	switch n.Type {
	case edn.NodeNil:
		return nil, nil
	case edn.NodeBool:
		return n.Value == "true", nil
	case edn.NodeInt:
		return n.AsInt()
	case edn.NodeFloat:
		return strconv.ParseFloat(n.Value, 64)
	case edn.NodeString:
		return n.Value, nil
	case edn.NodeTagged:
		if n.Value == "error" && n.Nodes[0].Type == edn.NodeString {
			return fixpoint.NewEvalError(n.Nodes[0].Value), nil
		}
		return nil, fmt.Errorf("unknown tag #%s at %s", n.Value, n.Pos())
	}
	return nil, fmt.Errorf("expected a value at %s, got %s %s", n.Pos(), n.Type, n)
}

func row(n edn.Node) (fixpoint.Row, error) {
	if n.Type != edn.NodeVector {
		return nil, fmt.Errorf("expected a row vector at %s", n.Pos())
	}
	r := make(fixpoint.Row, 0, len(n.Nodes))
	for _, c := range n.Nodes {
		v, err := datum(c)
		if err != nil {
			return nil, err
		}
		r = append(r, v)
	}
	return r, nil
}

// update reads [1 2] or {:row [1 2] :diff 3}.
func update(n edn.Node) (collection.Update, error) {
	if n.Type == edn.NodeMap {
		rn, ok := n.Lookup("row")
		if !ok {
			return collection.Update{}, fmt.Errorf("update at %s has no :row", n.Pos())
		}
		r, err := row(rn)
		if err != nil {
			return collection.Update{}, err
		}
		diff := int64(1)
		if dn, ok := n.Lookup("diff"); ok {
			if diff, err = dn.AsInt(); err != nil {
				return collection.Update{}, err
			}
		}
		return collection.Update{Row: r, Diff: diff}, nil
	}
	r, err := row(n)
	if err != nil {
		return collection.Update{}, err
	}
	return collection.Update{Row: r, Diff: 1}, nil
}

// DecodeSources reads named collections: {:edges [[1 2] [2 3]] :nodes [[1]]}.
func DecodeSources(text string) (map[string]*collection.Collection, error) {
	root, err := edn.Parse(text)
	if err != nil {
		return nil, fmt.Errorf("decode sources: %w", err)
	}
	if root.Type != edn.NodeMap {
		return nil, fmt.Errorf("decode sources: expected a map at %s", root.Pos())
	}
	out := make(map[string]*collection.Collection, len(root.Nodes)/2)
	for i := 0; i+1 < len(root.Nodes); i += 2 {
		name, err := root.Nodes[i].AsName()
		if err != nil {
			return nil, fmt.Errorf("decode sources: %w", err)
		}
		var updates []collection.Update
		for _, rn := range root.Nodes[i+1].Nodes {
			u, err := update(rn)
			if err != nil {
				return nil, fmt.Errorf("decode sources: %s: %w", name, err)
			}
			updates = append(updates, u)
		}
		out[name] = collection.FromUpdates(updates)
	}
	return out, nil
}
