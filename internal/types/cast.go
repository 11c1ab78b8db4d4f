package types

// ImplicitCastCost returns the cost of implicitly converting a value of
// type from to type to. Zero means no conversion is needed, a positive
// cost means an explicit cast must be inserted, and a negative cost means
// the conversion is not allowed without an explicit cast in the source.
func ImplicitCastCost(from, to Type) int {
	switch {
	case from.Equal(to):
		return 0
	case from.IsUnknown() || to.IsUnknown():
		return 0
	case from.tag == to.tag && from.tag != Decimal:
		return 0
	}

	switch {
	case from.IsNumeric() && to.IsNumeric():
		if from.tag == Boolean || to.tag == Boolean {
			return -1
		}
		return numericRank(to) - numericRank(from) + 100
	case from.tag == Varchar:
		// String literals convert to anything the engine can parse them as.
		return 200
	case to.tag == Varchar:
		return 300
	case from.tag == Date && to.tag == Timestamp:
		return 1
	}
	return -1
}

// numericRank orders numeric types from narrowest to widest.
func numericRank(t Type) int {
	switch t.tag {
	case TinyInt, UTinyInt:
		return 1
	case SmallInt, USmallInt:
		return 2
	case Integer, UInteger:
		return 3
	case BigInt, UBigInt:
		return 4
	case HugeInt:
		return 5
	case Decimal:
		return 6
	case Real:
		return 7
	case Double:
		return 8
	}
	return 0
}

// Widest returns the type arithmetic on a and b produces: the wider of
// the two numeric types, with decimals widened to hold both operands.
// The result is unknown unless both are numeric.
func Widest(a, b Type) Type {
	if !a.IsNumeric() || !b.IsNumeric() || a.tag == Boolean || b.tag == Boolean {
		return UnknownType
	}
	if a.tag == Decimal && b.tag == Decimal {
		scale := max(a.scale, b.scale)
		width := max(a.width-a.scale, b.width-b.scale) + scale
		if width > MaxWidth {
			return DoubleType
		}
		return NewDecimal(width, scale)
	}
	if numericRank(b) > numericRank(a) {
		return b
	}
	return a
}
