// © 2024 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

// Package envflag defines flags whose defaults can be overridden by
// environment variables.
package envflag

import (
	"flag"
	"fmt"
	"strconv"
	"time"
)

// Type is a constraint that permits only types supported by envflag package.
type Type interface {
	int | int64 | bool | string | time.Duration
}

// Value defines a flag with the given name, default value and usage.
//
// If the environment variable envName is set and can be parsed, it replaces
// value as the default. A value set on the command line still wins.
func Value[T Type](
	fs *flag.FlagSet, getenv func(string) string,
	name, envName string, value T, usage string,
) *T {
	result := value
	if s := getenv(envName); s != "" {
		if parsed, err := parse[T](s); err == nil {
			result = parsed
		}
	}

	usage += " Can be overridden by " + envName + " environment variable."
	fs.Var(&flagValue[T]{value: &result}, name, usage)
	return &result
}

type flagValue[T Type] struct{ value *T }

func (f *flagValue[T]) String() string {
	if f.value == nil {
		return ""
	}
	return fmt.Sprint(*f.value)
}

func (f *flagValue[T]) Set(s string) error {
	v, err := parse[T](s)
	if err != nil {
		return err
	}
	*f.value = v
	return nil
}

// IsBoolFlag makes boolean flags work without an explicit value.
func (f *flagValue[T]) IsBoolFlag() bool {
	var zero T
	_, ok := any(zero).(bool)
	return ok
}

func parse[T Type](s string) (T, error) {
	var (
		zero T
		v    any
		err  error
	)
	switch any(zero).(type) {
	case int:
		v, err = strconv.Atoi(s)
	case int64:
		v, err = strconv.ParseInt(s, 10, 64)
	case bool:
		v, err = strconv.ParseBool(s)
	case string:
		v = s
	case time.Duration:
		v, err = time.ParseDuration(s)
	}
	if err != nil {
		return zero, err
	}
	return v.(T), nil
}
