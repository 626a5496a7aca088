package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
)

// getenv accumulates parse failures so Load can report them all at once.
type getenv struct {
	errs []error
}

func (ge *getenv) Err() error {
	return errors.Join(ge.errs...)
}

func (ge *getenv) String(key, defaultValue string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return defaultValue
}

func (ge *getenv) Int(key string, defaultValue int) int {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return defaultValue
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		ge.errs = append(ge.errs, fmt.Errorf("%s: %w", key, err))
		return defaultValue
	}
	return n
}
