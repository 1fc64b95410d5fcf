package postgres

import (
	"database/sql"

	"github.com/lib/pq"
	"github.com/pgvector/pgvector-go"
	"github.com/pkg/errors"

	"github.com/agentrium/recall/store"
)

// embeddingValue converts a vector into the insert parameter matching the
// active column type. Empty vectors write NULL.
func (d *DB) embeddingValue(vec []float32) any {
	if len(vec) == 0 {
		return nil
	}
	if d.vectorOK {
		return pgvector.NewVector(vec)
	}
	arr := make([]float64, len(vec))
	for i, v := range vec {
		arr[i] = float64(v)
	}
	return pq.Array(arr)
}

// embeddingExpr is the select expression for the embedding column. The
// vector type is read back through its text form because the column is
// nullable.
func (d *DB) embeddingExpr() string {
	if d.vectorOK {
		return "embedding::text"
	}
	return "embedding"
}

// embeddingDest returns a scan destination for the embedding column and a
// closure decoding it after the scan.
func (d *DB) embeddingDest() (any, func() ([]float32, error)) {
	if d.vectorOK {
		var text sql.NullString
		return &text, func() ([]float32, error) {
			if !text.Valid || text.String == "" {
				return nil, nil
			}
			var vec pgvector.Vector
			if err := vec.Scan([]byte(text.String)); err != nil {
				return nil, errors.Wrapf(store.ErrMalformedContent, "failed to decode embedding: %v", err)
			}
			return vec.Slice(), nil
		}
	}
	var arr pq.Float64Array
	return &arr, func() ([]float32, error) {
		if len(arr) == 0 {
			return nil, nil
		}
		vec := make([]float32, len(arr))
		for i, v := range arr {
			vec[i] = float32(v)
		}
		return vec, nil
	}
}
