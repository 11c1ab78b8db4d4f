package types

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// PostgresTag is a type name accepted in PL/pgSQL declarations.
type PostgresTag int

const (
	PgUnknown PostgresTag = iota
	PgBigInt
	PgBinary
	PgBit
	PgBitString
	PgBlob
	PgBool
	PgBoolean
	PgBPChar
	PgBytea
	PgChar
	PgDate
	PgDateTime
	PgDecimal
	PgDouble
	PgFloat
	PgFloat4
	PgFloat8
	PgHugeInt
	PgInt
	PgInt1
	PgInt2
	PgInt4
	PgInt8
	PgInteger
	PgInterval
	PgLogical
	PgLong
	PgNumeric
	PgReal
	PgShort
	PgSigned
	PgSmallInt
	PgString
	PgText
	PgTime
	PgTimestamp
	PgTinyInt
	PgUBigInt
	PgUInteger
	PgUSmallInt
	PgUTinyInt
	PgUUID
	PgVarBinary
	PgVarchar
)

type pgEntry struct {
	tag    PostgresTag
	engine Tag
}

var postgresNames = map[string]pgEntry{
	"BIGINT":    {PgBigInt, BigInt},
	"BINARY":    {PgBinary, Blob},
	"BIT":       {PgBit, Bit},
	"BITSTRING": {PgBitString, Bit},
	"BLOB":      {PgBlob, Blob},
	"BOOL":      {PgBool, Boolean},
	"BOOLEAN":   {PgBoolean, Boolean},
	"BPCHAR":    {PgBPChar, Varchar},
	"BYTEA":     {PgBytea, Blob},
	"CHAR":      {PgChar, Varchar},
	"DATE":      {PgDate, Date},
	"DATETIME":  {PgDateTime, Timestamp},
	"DECIMAL":   {PgDecimal, Decimal},
	"DOUBLE":    {PgDouble, Double},
	"FLOAT":     {PgFloat, Real},
	"FLOAT4":    {PgFloat4, Real},
	"FLOAT8":    {PgFloat8, Double},
	"HUGEINT":   {PgHugeInt, HugeInt},
	"INT":       {PgInt, Integer},
	"INT1":      {PgInt1, TinyInt},
	"INT2":      {PgInt2, SmallInt},
	"INT4":      {PgInt4, Integer},
	"INT8":      {PgInt8, BigInt},
	"INTEGER":   {PgInteger, Integer},
	"INTERVAL":  {PgInterval, Interval},
	"LOGICAL":   {PgLogical, Boolean},
	"LONG":      {PgLong, BigInt},
	"NUMERIC":   {PgNumeric, Double},
	"REAL":      {PgReal, Real},
	"SHORT":     {PgShort, SmallInt},
	"SIGNED":    {PgSigned, Integer},
	"SMALLINT":  {PgSmallInt, SmallInt},
	"STRING":    {PgString, Varchar},
	"TEXT":      {PgText, Varchar},
	"TIME":      {PgTime, Time},
	"TIMESTAMP": {PgTimestamp, Timestamp},
	"TINYINT":   {PgTinyInt, TinyInt},
	"UBIGINT":   {PgUBigInt, UBigInt},
	"UINTEGER":  {PgUInteger, UBigInt},
	"UNKNOWN":   {PgUnknown, Unknown},
	"USMALLINT": {PgUSmallInt, USmallInt},
	"UTINYINT":  {PgUTinyInt, UTinyInt},
	"UUID":      {PgUUID, UUID},
	"VARBINARY": {PgVarBinary, Blob},
	"VARCHAR":   {PgVarchar, Varchar},
}

// canonicalPostgres is the spelling used when a type is created from an
// engine tag rather than a declaration.
var canonicalPostgres = map[Tag]PostgresTag{
	Unknown:   PgUnknown,
	BigInt:    PgBigInt,
	Bit:       PgBit,
	Blob:      PgBlob,
	Boolean:   PgBoolean,
	Date:      PgDate,
	Decimal:   PgDecimal,
	Double:    PgDouble,
	HugeInt:   PgHugeInt,
	Integer:   PgInteger,
	Interval:  PgInterval,
	Real:      PgReal,
	SmallInt:  PgSmallInt,
	Time:      PgTime,
	Timestamp: PgTimestamp,
	TinyInt:   PgTinyInt,
	UBigInt:   PgUBigInt,
	UInteger:  PgUInteger,
	USmallInt: PgUSmallInt,
	UTinyInt:  PgUTinyInt,
	UUID:      PgUUID,
	Varchar:   PgVarchar,
}

var (
	decimalPattern  = regexp.MustCompile(`(?i)DECIMAL\((\d+),(\d+)\)`)
	typeNamePattern = regexp.MustCompile(`(?i)^(\w+ *(\((\d+, *)?\d+\))?)`)
	modifierPattern = regexp.MustCompile(`\(.*\)$`)
)

// ResolveName returns the declared type name. The parser replaces some
// type names by a "#<offset>" reference into the program text; those are
// read back from program at that offset.
func ResolveName(name, program string) (string, error) {
	if !strings.HasPrefix(name, "#") {
		if strings.TrimSpace(name) == "" {
			return "", fmt.Errorf("type name is empty")
		}
		return name, nil
	}
	offset, err := strconv.Atoi(name[1:])
	if err != nil || offset < 0 || offset >= len(program) {
		return "", fmt.Errorf("invalid type reference %q", name)
	}
	m := typeNamePattern.FindString(program[offset:])
	if m == "" {
		return "", fmt.Errorf("no type name at offset %d", offset)
	}
	return m, nil
}

// FromPostgresName resolves a declared type name. The name may be a
// "#<offset>" reference into program.
func FromPostgresName(name, program string) (Type, error) {
	resolved, err := ResolveName(name, program)
	if err != nil {
		return Type{}, err
	}
	// Names qualified by the system schema, such as pg_catalog."int4".
	resolved = strings.TrimPrefix(strings.ReplaceAll(resolved, `"`, ""), "pg_catalog.")
	compact := strings.ToUpper(strings.Join(strings.Fields(resolved), ""))

	if strings.HasPrefix(compact, "DECIMAL") {
		t := NewDecimal(DefaultWidth, DefaultScale)
		if m := decimalPattern.FindStringSubmatch(compact); m != nil {
			width, _ := strconv.Atoi(m[1])
			scale, _ := strconv.Atoi(m[2])
			if width <= 0 || width > MaxWidth || scale > width {
				return Type{}, fmt.Errorf("invalid decimal %s", resolved)
			}
			t = NewDecimal(width, scale)
		}
		t.source = strings.TrimSpace(resolved)
		return t, nil
	}

	// VARCHAR(20), CHAR(3) and similar carry a length the engine ignores.
	base := modifierPattern.ReplaceAllString(compact, "")
	entry, ok := postgresNames[base]
	if !ok {
		return Type{}, fmt.Errorf("%s is not a valid Postgres type", resolved)
	}
	return Type{pg: entry.tag, tag: entry.engine, source: strings.TrimSpace(resolved)}, nil
}

// MustParse is FromPostgresName for names known to be valid. It panics on
// error.
func MustParse(name string) Type {
	t, err := FromPostgresName(name, "")
	if err != nil {
		panic(err)
	}
	return t
}
