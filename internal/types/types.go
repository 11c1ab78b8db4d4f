// Package types maps PL/pgSQL type names onto the logical types of the
// host engine and the machine representation used by generated code.
//
// A Type is an immutable value. It is created once when a declared type
// name is resolved and copied freely afterwards.
package types

import (
	"fmt"
	"math"
	"strings"

	"github.com/shopspring/decimal"
)

// Decimal width and scale used when a DECIMAL is declared without them.
const (
	DefaultWidth = 18
	DefaultScale = 3
	MaxWidth     = 38
)

// Tag is the engine-level logical type.
type Tag int

const (
	Unknown Tag = iota
	BigInt
	Bit
	Blob
	Boolean
	Date
	Decimal
	Double
	HugeInt
	Integer
	Interval
	Real
	SmallInt
	Time
	Timestamp
	TinyInt
	UBigInt
	UInteger
	USmallInt
	UTinyInt
	UUID
	Varchar
)

var tagNames = map[Tag]string{
	Unknown:   "UNKNOWN",
	BigInt:    "BIGINT",
	Bit:       "BIT",
	Blob:      "BLOB",
	Boolean:   "BOOLEAN",
	Date:      "DATE",
	Decimal:   "DECIMAL",
	Double:    "DOUBLE",
	HugeInt:   "HUGEINT",
	Integer:   "INTEGER",
	Interval:  "INTERVAL",
	Real:      "REAL",
	SmallInt:  "SMALLINT",
	Time:      "TIME",
	Timestamp: "TIMESTAMP",
	TinyInt:   "TINYINT",
	UBigInt:   "UBIGINT",
	UInteger:  "UINTEGER",
	USmallInt: "USMALLINT",
	UTinyInt:  "UTINYINT",
	UUID:      "UUID",
	Varchar:   "VARCHAR",
}

func (t Tag) String() string {
	if s, ok := tagNames[t]; ok {
		return s
	}
	return fmt.Sprintf("Tag(%d)", int(t))
}

// Type is a resolved scalar type.
type Type struct {
	pg     PostgresTag
	tag    Tag
	width  int
	scale  int
	source string
}

// Common types used by the compiler itself.
var (
	BooleanType = New(Boolean)
	IntegerType = New(Integer)
	BigIntType  = New(BigInt)
	DoubleType  = New(Double)
	VarcharType = New(Varchar)
	UnknownType = New(Unknown)
)

// New returns the canonical type for an engine tag. Decimals get the
// default width and scale.
func New(tag Tag) Type {
	if tag == Decimal {
		return NewDecimal(DefaultWidth, DefaultScale)
	}
	return Type{pg: canonicalPostgres[tag], tag: tag, source: tag.String()}
}

// NewDecimal returns a DECIMAL type with the given width and scale.
func NewDecimal(width, scale int) Type {
	return Type{
		pg:     PgDecimal,
		tag:    Decimal,
		width:  width,
		scale:  scale,
		source: fmt.Sprintf("DECIMAL(%d,%d)", width, scale),
	}
}

// Tag returns the engine logical type tag.
func (t Type) Tag() Tag { return t.tag }

// Postgres returns the source-language tag the type was declared with.
func (t Type) Postgres() PostgresTag { return t.pg }

// IsDecimal reports whether the type carries a width and scale.
func (t Type) IsDecimal() bool { return t.tag == Decimal }

// WidthScale returns the decimal width and scale. Both are zero for
// non-decimal types.
func (t Type) WidthScale() (int, int) { return t.width, t.scale }

// IsUnknown reports whether the type could not be determined.
func (t Type) IsUnknown() bool { return t.tag == Unknown }

// Serialize returns the declaration text the type was created from.
func (t Type) Serialize() string { return t.source }

// EngineName returns the type as written in engine SQL, e.g. DECIMAL(18, 3).
func (t Type) EngineName() string {
	if t.tag == Decimal {
		return fmt.Sprintf("DECIMAL(%d, %d)", t.width, t.scale)
	}
	return t.tag.String()
}

// LogicalType returns the logical type constant used in generated
// registration code.
func (t Type) LogicalType() string {
	if t.tag == Decimal {
		return fmt.Sprintf("LogicalType::DECIMAL(%d, %d)", t.width, t.scale)
	}
	return "LogicalType::" + t.tag.String()
}

func (t Type) String() string { return t.EngineName() }

// Equal compares the logical types, ignoring the declared spelling.
func (t Type) Equal(o Type) bool {
	return t.tag == o.tag && t.width == o.width && t.scale == o.scale
}

// IsNumeric reports whether values of the type are numbers.
func (t Type) IsNumeric() bool { return numericTags[t.tag] }

// IsInteger reports whether values of the type are integral numbers.
func (t Type) IsInteger() bool { return integerTags[t.tag] }

// IsString reports whether values of the type are byte or character strings.
func (t Type) IsString() bool { return t.tag == Varchar || t.tag == Blob }

// IsTemporal reports whether the type is a date or time type.
func (t Type) IsTemporal() bool {
	return t.tag == Date || t.tag == Time || t.tag == Timestamp || t.tag == Interval
}

// DefaultValue returns the literal a local of this type is initialized
// with when its declaration has no default.
func (t Type) DefaultValue() (string, error) {
	switch {
	case t.tag == Decimal:
		return decimal.Zero.StringFixed(int32(t.scale)), nil
	case t.tag == Boolean:
		return "false", nil
	case t.IsNumeric():
		return "0", nil
	case t.IsString():
		return "''", nil
	}
	switch t.tag {
	case Date:
		return "0::DATE", nil
	case Time:
		return "'00:00:00'::TIME", nil
	case Timestamp:
		return "'epoch'::TIMESTAMP", nil
	case Interval:
		return "INTERVAL '0 seconds'", nil
	}
	return "", fmt.Errorf("type %s has no default value", t)
}

var numericTags = map[Tag]bool{
	BigInt: true, Boolean: true, Decimal: true, Double: true, HugeInt: true,
	Integer: true, Real: true, SmallInt: true, TinyInt: true, UBigInt: true,
	UInteger: true, USmallInt: true, UTinyInt: true,
}

var integerTags = map[Tag]bool{
	BigInt: true, HugeInt: true, Integer: true, SmallInt: true, TinyInt: true,
	UBigInt: true, UInteger: true, USmallInt: true, UTinyInt: true,
}

// Representation returns the machine type generated code stores values
// of this type in.
func (t Type) Representation() (string, error) {
	if t.tag == Decimal {
		switch {
		case t.width <= 0:
			return "", fmt.Errorf("decimal width must be positive, got %d", t.width)
		case t.width <= 4:
			return "int16_t", nil
		case t.width <= 9:
			return "int32_t", nil
		case t.width <= 18:
			return "int64_t", nil
		case t.width <= MaxWidth:
			return "hugeint_t", nil
		}
		return "", fmt.Errorf("decimal width %d larger than %d", t.width, MaxWidth)
	}
	if r, ok := representations[t.tag]; ok {
		return r, nil
	}
	return "", fmt.Errorf("%s type is unsupported", t.tag)
}

var representations = map[Tag]string{
	BigInt:    "int64_t",
	Blob:      "string_t",
	Boolean:   "bool",
	Date:      "int32_t",
	Double:    "double",
	HugeInt:   "hugeint_t",
	Integer:   "int32_t",
	Real:      "float",
	SmallInt:  "int16_t",
	Time:      "int64_t",
	Timestamp: "int64_t",
	TinyInt:   "int8_t",
	UBigInt:   "uint64_t",
	UInteger:  "uint32_t",
	USmallInt: "uint16_t",
	UTinyInt:  "uint8_t",
	Varchar:   "string_t",
}

// LiteralType infers the type of a numeric literal. Integers that fit in
// 32 bits are INTEGER, larger ones BIGINT, and literals with a fractional
// part DECIMAL with the literal's own width and scale.
func LiteralType(text string) (Type, bool) {
	text = strings.TrimSpace(text)
	d, err := decimal.NewFromString(text)
	if err != nil {
		return Type{}, false
	}
	if !strings.ContainsAny(text, ".eE") {
		if bi := d.BigInt(); bi.IsInt64() && bi.Int64() >= math.MinInt32 && bi.Int64() <= math.MaxInt32 {
			return IntegerType, true
		}
		return BigIntType, true
	}
	scale := 0
	if exp := d.Exponent(); exp < 0 {
		scale = int(-exp)
	}
	digits := len(strings.TrimLeft(d.Coefficient().String(), "-"))
	width := digits
	if width < scale+1 {
		width = scale + 1
	}
	if width > MaxWidth {
		return DoubleType, true
	}
	return NewDecimal(width, scale), true
}
