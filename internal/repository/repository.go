// Package repository provides the postgres-backed implementations of the
// domain repositories.
package repository

import (
	"strconv"

	"github.com/lib/pq"
)

func itoa(n int) string {
	return strconv.Itoa(n)
}

func pqStringArray(values []string) pq.StringArray {
	return pq.StringArray(values)
}
