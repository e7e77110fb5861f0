// Copyright (c) matt-FFFFFF 2025. All rights reserved.
// SPDX-License-Identifier: MIT

package dispatch

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/hashicorp/go-multierror"
	"github.com/spf13/afero"
)

// ErrHostFileInvalid is returned when a host file cannot be read, contains a
// malformed line, or lists no hosts.
var ErrHostFileInvalid = errors.New("invalid host file")

// Host is one entry of a host file.
type Host struct {
	Name  string
	Slots int // 0 when the file does not say
}

// String renders the host in OpenMPI host file syntax.
func (h Host) String() string {
	if h.Slots > 0 {
		return fmt.Sprintf("%s slots=%d", h.Name, h.Slots)
	}

	return h.Name
}

// HostList is the parsed content of a host file.
type HostList []Host

// Names returns the host names in file order.
func (l HostList) Names() []string {
	names := make([]string, len(l))
	for i, h := range l {
		names[i] = h.Name
	}

	return names
}

// Slots returns the total slot count. Hosts without an explicit count
// contribute one slot.
func (l HostList) Slots() int {
	n := 0

	for _, h := range l {
		if h.Slots > 0 {
			n += h.Slots
		} else {
			n++
		}
	}

	return n
}

// ReadHostFile parses the host file at path using FsFactory.
func ReadHostFile(path string) (HostList, error) {
	f, err := FsFactory().Open(path)
	if err != nil {
		return nil, errors.Join(ErrHostFileInvalid, err)
	}

	defer f.Close() //nolint:errcheck

	return ParseHostFile(f)
}

// ParseHostFile parses host file content. Each non-blank line names one host,
// optionally followed by "slots=N" (or the legacy "cpu=N"). Text after "#" is
// ignored. Every malformed line is reported.
func ParseHostFile(r io.Reader) (HostList, error) {
	var (
		hosts  HostList
		result *multierror.Error
	)

	sc := bufio.NewScanner(r)
	lineNo := 0

	for sc.Scan() {
		lineNo++

		line := sc.Text()
		if i := strings.IndexByte(line, '#'); i >= 0 {
			line = line[:i]
		}

		fields := strings.Fields(line)
		if len(fields) == 0 {
			continue
		}

		h, err := parseHostLine(fields)
		if err != nil {
			result = multierror.Append(result, fmt.Errorf("line %d: %w", lineNo, err))
			continue
		}

		hosts = append(hosts, h)
	}

	if err := sc.Err(); err != nil {
		result = multierror.Append(result, err)
	}

	if err := result.ErrorOrNil(); err != nil {
		return nil, errors.Join(ErrHostFileInvalid, err)
	}

	if len(hosts) == 0 {
		return nil, fmt.Errorf("%w: no hosts listed", ErrHostFileInvalid)
	}

	return hosts, nil
}

func parseHostLine(fields []string) (Host, error) {
	h := Host{Name: fields[0]}

	if strings.Contains(h.Name, "=") {
		return Host{}, fmt.Errorf("missing host name before %q", h.Name)
	}

	for _, f := range fields[1:] {
		k, v, ok := strings.Cut(f, "=")
		if !ok || (k != "slots" && k != "cpu") {
			return Host{}, fmt.Errorf("unexpected token %q", f)
		}

		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return Host{}, fmt.Errorf("%s must be a positive integer, got %q", k, v)
		}

		h.Slots = n
	}

	return h, nil
}

// WriteHostFile writes hosts to path in OpenMPI syntax.
func WriteHostFile(path string, hosts HostList) error {
	var b strings.Builder
	for _, h := range hosts {
		b.WriteString(h.String())
		b.WriteByte('\n')
	}

	if err := afero.WriteFile(FsFactory(), path, []byte(b.String()), 0o644); err != nil {
		return fmt.Errorf("writing host file: %w", err)
	}

	return nil
}
