package plan

// UnionAll keeps every row of both inputs.
func UnionAll(a, b Node) Node {
	return NewUnion(a, b)
}

// UnionDistinct is SQL UNION.
func UnionDistinct(a, b Node) Node {
	return NewDistinct(NewUnion(a, b))
}

// ExceptAll is SQL EXCEPT ALL: multiplicities subtract, floored at zero.
func ExceptAll(a, b Node) Node {
	return NewThreshold(NewUnion(a, NewNegate(b)))
}

// Except is SQL EXCEPT.
func Except(a, b Node) Node {
	return NewThreshold(NewUnion(NewDistinct(a), NewNegate(NewDistinct(b))))
}

// IntersectAll is SQL INTERSECT ALL: min(a, b) = a - max(a - b, 0).
func IntersectAll(a, b Node) Node {
	return NewThreshold(NewUnion(a, NewNegate(ExceptAll(a, b))))
}

// Intersect is SQL INTERSECT.
func Intersect(a, b Node) Node {
	return NewDistinct(IntersectAll(a, b))
}
