// SPDX-License-Identifier: MPL-2.0
/*
 * Copyright (C) 2024 Damian Peckett <damian@pecke.tt>.
 *
 * This Source Code Form is subject to the terms of the Mozilla Public
 * License, v. 2.0. If a copy of the MPL was not distributed with this
 * file, You can obtain one at http://mozilla.org/MPL/2.0/.
 */

package edfplus

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Time-stamped Annotation Lists (TALs) are the escaped text sub-format that
// annotation channels carry instead of samples. Each TAL is a sign-prefixed
// onset in seconds, an optional duration introduced by 0x15, one description
// between 0x14 separators, and a terminating null byte. TALs concatenate
// until the sub-block capacity is reached; the remainder is zero padding.
const (
	annotationLabel = "EDF Annotations"

	// Each annotation channel contributes one 120-byte sub-block per data
	// record, declared in the header as 60 two-byte samples.
	annotationBlockBytes       = 120
	annotationSamplesPerRecord = annotationBlockBytes / 2

	// Descriptions longer than this are silently truncated when encoded.
	maxDescriptionBytes = 40

	talDurationSep byte = 0x15
	talTextSep     byte = 0x14
)

// formatSeconds renders a duration as decimal seconds at 100ns resolution,
// without trailing zeros and without a leading '+'.
func formatSeconds(d time.Duration) string {
	neg := d < 0
	if neg {
		d = -d
	}
	d = d.Round(timeResolution)
	sec := d / time.Second
	frac := (d % time.Second) / timeResolution

	s := strconv.FormatInt(int64(sec), 10)
	if frac != 0 {
		s += "." + strings.TrimRight(fmt.Sprintf("%07d", frac), "0")
	}
	if neg {
		s = "-" + s
	}
	return s
}

// parseSeconds parses decimal seconds (optionally signed, at most 7
// fractional digits are significant) into a duration.
func parseSeconds(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("%w: empty time field", ErrFormat)
	}

	neg := false
	switch s[0] {
	case '-':
		neg = true
		s = s[1:]
	case '+':
		s = s[1:]
	}

	intPart := s
	fracPart := ""
	if i := strings.IndexByte(s, '.'); i >= 0 {
		intPart, fracPart = s[:i], s[i+1:]
	}

	var units int64 // 100ns units
	if intPart != "" {
		sec, err := strconv.ParseInt(intPart, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("%w: invalid time %q", ErrFormat, s)
		}
		units = sec * int64(time.Second/timeResolution)
	} else if fracPart == "" {
		return 0, fmt.Errorf("%w: invalid time %q", ErrFormat, s)
	}

	if fracPart != "" {
		if len(fracPart) > 7 {
			fracPart = fracPart[:7]
		}
		frac, err := strconv.ParseUint(fracPart, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("%w: invalid time %q", ErrFormat, s)
		}
		scale := int64(1)
		for i := len(fracPart); i < 7; i++ {
			scale *= 10
		}
		units += int64(frac) * scale
	}

	d := time.Duration(units) * timeResolution
	if neg {
		d = -d
	}
	return d, nil
}

// encodeTAL encodes a single annotation as one TAL entry.
func encodeTAL(a Annotation) []byte {
	var e []byte
	if a.Onset >= 0 {
		e = append(e, '+')
	}
	e = append(e, formatSeconds(a.Onset)...)
	if a.Duration >= 0 {
		e = append(e, talDurationSep)
		e = append(e, formatSeconds(a.Duration)...)
	}
	e = append(e, talTextSep)
	desc := a.Description
	if len(desc) > maxDescriptionBytes {
		desc = desc[:maxDescriptionBytes]
	}
	e = append(e, desc...)
	e = append(e, talTextSep, 0x00)
	return e
}

// timestampTAL encodes the record-keeping TAL that opens every data record's
// first annotation sub-block: the record onset with an empty description.
func timestampTAL(onset time.Duration) []byte {
	var e []byte
	if onset >= 0 {
		e = append(e, '+')
	}
	e = append(e, formatSeconds(onset)...)
	e = append(e, talTextSep, talTextSep, 0x00)
	return e
}

// encodeAnnotationBlocks packs the record timestamp and the due annotations
// into the given number of fixed-size sub-blocks. Annotations fill the first
// block after the timestamp and overflow into subsequent blocks; if the
// allocated capacity cannot hold every entry the whole record is rejected
// with ErrCapacity so that nothing is silently dropped.
func encodeAnnotationBlocks(recordOnset time.Duration, due []Annotation, blocks int) ([]byte, error) {
	entries := make([][]byte, 0, len(due)+1)
	entries = append(entries, timestampTAL(recordOnset))
	for _, a := range due {
		entries = append(entries, encodeTAL(a))
	}

	out := make([]byte, 0, blocks*annotationBlockBytes)
	used := 0 // bytes used in the current block
	for _, e := range entries {
		if len(e) > annotationBlockBytes {
			return nil, fmt.Errorf("%w: annotation entry of %d bytes exceeds sub-block size",
				ErrCapacity, len(e))
		}
		if used+len(e) > annotationBlockBytes {
			// Pad out the current block and start the next one.
			out = append(out, make([]byte, annotationBlockBytes-used)...)
			used = 0
			if len(out) == blocks*annotationBlockBytes {
				return nil, fmt.Errorf("%w: %d annotations do not fit %d annotation channel(s)",
					ErrCapacity, len(due), blocks)
			}
		}
		out = append(out, e...)
		used += len(e)
	}
	out = append(out, make([]byte, blocks*annotationBlockBytes-len(out))...)
	return out, nil
}

// decodeTALBlock decodes one annotation sub-block into its TAL entries.
// Timestamp TALs are returned as annotations with an empty description and
// no duration; callers decide whether to keep them.
func decodeTALBlock(b []byte) ([]Annotation, error) {
	var anns []Annotation
	for len(b) > 0 {
		if b[0] == 0x00 {
			b = b[1:]
			continue
		}

		entry := b
		if end := bytes.IndexByte(b, 0x00); end >= 0 {
			entry, b = b[:end], b[end+1:]
		} else {
			b = nil
		}

		fields := bytes.Split(entry, []byte{talTextSep})
		if len(fields) < 2 {
			return nil, fmt.Errorf("%w: annotation entry %q has no separator", ErrFormat, entry)
		}

		timing := fields[0]
		duration := time.Duration(-1)
		if i := bytes.IndexByte(timing, talDurationSep); i >= 0 {
			d, err := parseSeconds(string(timing[i+1:]))
			if err != nil {
				return nil, err
			}
			duration = d
			timing = timing[:i]
		}
		onset, err := parseSeconds(string(timing))
		if err != nil {
			return nil, err
		}

		// The final empty field is the closing separator, not a description.
		descs := fields[1:]
		if len(descs) > 1 && len(descs[len(descs)-1]) == 0 {
			descs = descs[:len(descs)-1]
		}
		for _, d := range descs {
			anns = append(anns, Annotation{Onset: onset, Duration: duration, Description: string(d)})
		}
	}
	return anns, nil
}
