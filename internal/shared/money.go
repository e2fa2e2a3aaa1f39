package shared

import (
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/shopspring/decimal"
)

// Round2 rounds a monetary value to cents, half away from zero.
func Round2(v float64) float64 {
	f, _ := decimal.NewFromFloat(v).Round(2).Float64()
	return f
}

// SumRounded adds values in decimal space and rounds the result to cents.
func SumRounded(values ...float64) float64 {
	total := decimal.Zero
	for _, v := range values {
		total = total.Add(decimal.NewFromFloat(v))
	}
	f, _ := total.Round(2).Float64()
	return f
}

// NumericFromFloat converts a monetary value into a NUMERIC parameter.
func NumericFromFloat(v float64) pgtype.Numeric {
	d := decimal.NewFromFloat(v).Round(2)
	return pgtype.Numeric{Int: d.Coefficient(), Exp: d.Exponent(), Valid: true}
}

// OptionalNumeric converts an optional value, mapping nil to SQL NULL.
func OptionalNumeric(v *float64) pgtype.Numeric {
	if v == nil {
		return pgtype.Numeric{}
	}
	return NumericFromFloat(*v)
}

// FloatFromNumeric converts a scanned NUMERIC into float64. NULL becomes zero.
func FloatFromNumeric(n pgtype.Numeric) float64 {
	if !n.Valid || n.Int == nil {
		return 0
	}
	f, _ := decimal.NewFromBigInt(n.Int, n.Exp).Float64()
	return f
}

// OptionalFloat converts a scanned NUMERIC into an optional value.
func OptionalFloat(n pgtype.Numeric) *float64 {
	if !n.Valid || n.Int == nil {
		return nil
	}
	f := FloatFromNumeric(n)
	return &f
}
