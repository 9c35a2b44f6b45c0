package fec

import "fmt"

// buildGeneratorMatrix returns the systematic (k+m) x k generator
// matrix for k source units and m parity units: the top k rows are the
// identity (source units pass through unmodified), the bottom m rows
// are a Cauchy matrix row, guaranteeing any k of the k+m rows form an
// invertible k x k submatrix (the erasure-correcting property §4.D
// testable property 4 relies on).
func buildGeneratorMatrix(k, m int) [][]byte {
	g := make([][]byte, k+m)
	for i := 0; i < k; i++ {
		row := make([]byte, k)
		row[i] = 1
		g[i] = row
	}
	for j := 0; j < m; j++ {
		row := make([]byte, k)
		x := byte(128 + j)
		for i := 0; i < k; i++ {
			y := byte(i)
			row[i] = gfInv(gfAdd(x, y))
		}
		g[k+j] = row
	}
	return g
}

// invertMatrix inverts an n x n matrix over GF(256) via Gauss-Jordan
// elimination with an augmented identity, returning an error if the
// submatrix is singular (should not happen for distinct Cauchy rows).
func invertMatrix(m [][]byte) ([][]byte, error) {
	n := len(m)
	aug := make([][]byte, n)
	for i := range aug {
		row := make([]byte, 2*n)
		copy(row, m[i])
		row[n+i] = 1
		aug[i] = row
	}

	for col := 0; col < n; col++ {
		pivotRow := -1
		for r := col; r < n; r++ {
			if aug[r][col] != 0 {
				pivotRow = r
				break
			}
		}
		if pivotRow == -1 {
			return nil, fmt.Errorf("singular matrix at column %d", col)
		}
		aug[col], aug[pivotRow] = aug[pivotRow], aug[col]

		inv := gfInv(aug[col][col])
		for c := 0; c < 2*n; c++ {
			aug[col][c] = gfMul(aug[col][c], inv)
		}

		for r := 0; r < n; r++ {
			if r == col || aug[r][col] == 0 {
				continue
			}
			factor := aug[r][col]
			for c := 0; c < 2*n; c++ {
				aug[r][c] = gfAdd(aug[r][c], gfMul(factor, aug[col][c]))
			}
		}
	}

	inv := make([][]byte, n)
	for i := range inv {
		inv[i] = aug[i][n:]
	}
	return inv, nil
}

// Decode recovers the k source units given a map of received unit
// index -> unit bytes (indices 0..k-1 are source, k..k+m-1 are parity),
// provided at least k distinct indices are present and every present
// unit has the same length. All received units must share unitLen.
func Decode(received map[int][]byte, k, m, unitLen int) ([][]byte, error) {
	if len(received) < k {
		return nil, fmt.Errorf("insufficient units: have %d, need %d", len(received), k)
	}

	g := buildGeneratorMatrix(k, m)

	indices := make([]int, 0, k)
	for idx := range received {
		indices = append(indices, idx)
		if len(indices) == k {
			break
		}
	}

	sub := make([][]byte, k)
	data := make([][]byte, k)
	for row, idx := range indices {
		if idx < 0 || idx >= k+m {
			return nil, fmt.Errorf("unit index %d out of range", idx)
		}
		sub[row] = g[idx]
		d := received[idx]
		if len(d) != unitLen {
			return nil, fmt.Errorf("unit %d length %d != expected %d", idx, len(d), unitLen)
		}
		data[row] = d
	}

	inv, err := invertMatrix(sub)
	if err != nil {
		return nil, fmt.Errorf("invert submatrix: %w", err)
	}

	out := make([][]byte, k)
	for i := range out {
		out[i] = make([]byte, unitLen)
	}

	for byteIdx := 0; byteIdx < unitLen; byteIdx++ {
		for outRow := 0; outRow < k; outRow++ {
			var acc byte
			for col := 0; col < k; col++ {
				acc = gfAdd(acc, gfMul(inv[outRow][col], data[col][byteIdx]))
			}
			out[outRow][byteIdx] = acc
		}
	}

	return out, nil
}

// EncodeParity computes the m parity units for k source units, each of
// length unitLen, using the same generator matrix Decode assumes. Used
// by the diagnostic/verify tooling and tests; the production decode
// path never calls this — parity always arrives from the console.
func EncodeParity(source [][]byte, m int) ([][]byte, error) {
	k := len(source)
	if k == 0 {
		return nil, fmt.Errorf("no source units")
	}
	unitLen := len(source[0])
	for _, s := range source {
		if len(s) != unitLen {
			return nil, fmt.Errorf("source units must share length")
		}
	}

	g := buildGeneratorMatrix(k, m)
	parity := make([][]byte, m)
	for j := range parity {
		parity[j] = make([]byte, unitLen)
	}

	for byteIdx := 0; byteIdx < unitLen; byteIdx++ {
		for j := 0; j < m; j++ {
			var acc byte
			row := g[k+j]
			for i := 0; i < k; i++ {
				acc = gfAdd(acc, gfMul(row[i], source[i][byteIdx]))
			}
			parity[j][byteIdx] = acc
		}
	}

	return parity, nil
}
