package postgres

import (
	"fmt"
	"math/big"

	"github.com/jackc/pgx/v5/pgtype"
)

// Monetary quantities are NUMERIC(78,0) in the schema: wide enough for any
// uint256 the contract can emit, exact, and scale-free. These helpers move
// values between *big.Int and pgtype.Numeric at exponent zero.

func numericFromBig(v *big.Int) pgtype.Numeric {
	if v == nil {
		return pgtype.Numeric{}
	}
	return pgtype.Numeric{Int: new(big.Int).Set(v), Valid: true}
}

func numericsFromBigs(vs []*big.Int) []pgtype.Numeric {
	out := make([]pgtype.Numeric, len(vs))
	for i, v := range vs {
		out[i] = numericFromBig(v)
	}
	return out
}

func bigFromNumeric(n pgtype.Numeric) (*big.Int, error) {
	if !n.Valid {
		return nil, fmt.Errorf("postgres: null numeric")
	}
	if n.NaN || n.InfinityModifier != pgtype.Finite {
		return nil, fmt.Errorf("postgres: non-finite numeric")
	}
	v := new(big.Int).Set(n.Int)
	// Columns store integers at exponent zero; tolerate a positive exponent
	// anyway by scaling out.
	for e := n.Exp; e > 0; e-- {
		v.Mul(v, big.NewInt(10))
	}
	if n.Exp < 0 {
		return nil, fmt.Errorf("postgres: fractional numeric %s", n.Int)
	}
	return v, nil
}

func bigsFromNumerics(ns []pgtype.Numeric) ([]*big.Int, error) {
	out := make([]*big.Int, len(ns))
	for i, n := range ns {
		v, err := bigFromNumeric(n)
		if err != nil {
			return nil, fmt.Errorf("element %d: %w", i, err)
		}
		out[i] = v
	}
	return out, nil
}
