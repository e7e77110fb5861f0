// Copyright (c) matt-FFFFFF 2025. All rights reserved.
// SPDX-License-Identifier: MIT

package job

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrInvalidPatch is returned when a patch entry cannot be parsed.
var ErrInvalidPatch = errors.New("invalid patch entry")

// Entry is a single key/value update.
type Entry struct {
	Key   string
	Value string
}

// Patch is an ordered set of configuration updates. A later entry for the
// same key replaces the earlier one.
type Patch struct {
	Entries []Entry
}

// NewPatch builds a patch from alternating key/value pairs.
// A trailing key without a value is ignored.
func NewPatch(kv ...string) Patch {
	p := Patch{}
	for i := 0; i+1 < len(kv); i += 2 {
		p.Set(kv[i], kv[i+1])
	}

	return p
}

// ParsePatch parses "key=value" arguments and validates the result.
func ParsePatch(args ...string) (Patch, error) {
	p := Patch{}

	for _, a := range args {
		k, v, ok := strings.Cut(a, "=")
		if !ok {
			return Patch{}, fmt.Errorf("%w: %q, expected key=value", ErrInvalidPatch, a)
		}

		p.Set(strings.TrimSpace(k), strings.TrimSpace(v))
	}

	if err := p.Validate(); err != nil {
		return Patch{}, err
	}

	return p, nil
}

// Characters that would end an entry or open a sub-dictionary.
const (
	keyDelimiters   = " \t\r\n;{}\"/"
	valueDelimiters = "\r\n;{}"
)

// Validate checks that every entry can be written as a single top-level
// "key value;" line. Values of keys that map onto Spec fields must be
// numbers.
func (p Patch) Validate() error {
	for _, e := range p.Entries {
		if err := validateEntry(e); err != nil {
			return err
		}
	}

	return nil
}

func validateEntry(e Entry) error {
	switch {
	case e.Key == "" || strings.ContainsAny(e.Key, keyDelimiters):
		return fmt.Errorf("%w: invalid key %q", ErrInvalidPatch, e.Key)
	case strings.TrimSpace(e.Value) == "":
		return fmt.Errorf("%w: %s has no value", ErrInvalidPatch, e.Key)
	case strings.ContainsAny(e.Value, valueDelimiters):
		return fmt.Errorf("%w: value of %s must not contain line breaks, ';' or braces", ErrInvalidPatch, e.Key)
	}

	switch e.Key {
	case KeyEndTime, KeyWriteInterval, KeyReportInterval:
		if _, err := strconv.ParseFloat(e.Value, 64); err != nil {
			return fmt.Errorf("%w: %s must be a number, got %q", ErrInvalidPatch, e.Key, e.Value)
		}
	}

	return nil
}

// Set adds or replaces key.
func (p *Patch) Set(key, value string) {
	for i := range p.Entries {
		if p.Entries[i].Key == key {
			p.Entries[i].Value = value
			return
		}
	}

	p.Entries = append(p.Entries, Entry{Key: key, Value: value})
}

// Get returns the value for key.
func (p Patch) Get(key string) (string, bool) {
	for _, e := range p.Entries {
		if e.Key == key {
			return e.Value, true
		}
	}

	return "", false
}

// Len returns the number of entries.
func (p Patch) Len() int {
	return len(p.Entries)
}

// String renders the patch as space separated key=value pairs.
func (p Patch) String() string {
	parts := make([]string, 0, len(p.Entries))
	for _, e := range p.Entries {
		parts = append(parts, e.Key+"="+e.Value)
	}

	return strings.Join(parts, " ")
}
