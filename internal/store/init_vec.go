//go:build sqlite_vec && cgo

package store

import (
	vec "github.com/asg017/sqlite-vec-go-bindings/cgo"
)

func init() {
	// Register sqlite-vec with mattn/go-sqlite3 so vec_distance_cosine is
	// available on every new connection.
	vec.Auto()
}
