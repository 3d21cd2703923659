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
	"fmt"
	"strconv"
	"strings"
	"time"
)

// The header is plain ASCII: a fixed 256-byte main block followed by one
// 256-byte block per channel, stored column-major (all labels, then all
// transducers, and so on). Every field is left-justified and space-padded,
// and numeric fields are decimal text.
const (
	mainHeaderBytes    = 256
	channelHeaderBytes = 256

	// Byte offset of the record count field, the only part of the header
	// rewritten after data records have been appended.
	dataRecordsOffset = 236

	formatMarker = "EDF+C"
)

type channelInfo struct {
	byteOffset       int // offset of the channel's block within a data record
	samplesPerRecord int
	annotation       bool
}

// annotationSignal returns the on-disk channel parameters of one
// "EDF Annotations" channel.
func annotationSignal() SignalParam {
	return SignalParam{
		Label:            annotationLabel,
		PhysicalMin:      -1,
		PhysicalMax:      1,
		DigitalMin:       -32768,
		DigitalMax:       32767,
		SamplesPerRecord: annotationSamplesPerRecord,
	}
}

// putField writes a left-justified, space-padded string field, truncating
// values that do not fit.
func putField(dst []byte, s string) {
	for i := range dst {
		dst[i] = ' '
	}
	copy(dst, s)
}

// putNumField writes a numeric field. Unlike string fields a numeric value
// wider than its slot is a hard error, since truncating it would silently
// corrupt the number.
func putNumField(dst []byte, s string) error {
	if len(s) > len(dst) {
		return fmt.Errorf("%w: numeric value %q overflows %d-byte header field", ErrFormat, s, len(dst))
	}
	putField(dst, s)
	return nil
}

func parseIntField(b []byte) (int64, error) {
	s := strings.TrimSpace(string(b))
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: invalid numeric field %q", ErrFormat, s)
	}
	return n, nil
}

func parseFloatField(b []byte) (float64, error) {
	s := strings.TrimSpace(string(b))
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: invalid numeric field %q", ErrFormat, s)
	}
	return f, nil
}

// encodeHeader encodes the main header and all channel blocks, including the
// annotation channels appended after the signal channels.
func encodeHeader(hdr *Header) ([]byte, error) {
	all := make([]SignalParam, 0, len(hdr.Signals)+hdr.AnnotationChannels)
	all = append(all, hdr.Signals...)
	for i := 0; i < hdr.AnnotationChannels; i++ {
		all = append(all, annotationSignal())
	}
	ns := len(all)
	if ns < 1 || ns > MaxSignals {
		return nil, fmt.Errorf("%w: %d channels", ErrFormat, ns)
	}
	headerBytes := mainHeaderBytes + ns*channelHeaderBytes

	b := make([]byte, headerBytes)
	main := b[:mainHeaderBytes]

	putField(main[0:8], string(hdr.Version))

	patient := strings.Join([]string{
		hdr.PatientCode, hdr.Sex, hdr.Birthdate, hdr.PatientName, hdr.PatientAdditional,
	}, " ")
	putField(main[8:88], patient)

	recording := strings.Join([]string{
		"Startdate", hdr.StartTime.Format("02-Jan-2006"),
		hdr.AdminCode, hdr.Technician, hdr.Equipment, hdr.RecordingAdditional,
	}, " ")
	putField(main[88:168], recording)

	putField(main[168:176], hdr.StartTime.Format("02.01.06"))
	putField(main[176:184], hdr.StartTime.Format("15.04.05"))

	if err := putNumField(main[184:192], strconv.Itoa(headerBytes)); err != nil {
		return nil, err
	}
	putField(main[192:236], formatMarker)
	if err := putNumField(main[236:244], strconv.FormatInt(hdr.DataRecords, 10)); err != nil {
		return nil, err
	}
	if err := putNumField(main[244:252], formatSeconds(hdr.DataRecordDuration)); err != nil {
		return nil, err
	}
	if err := putNumField(main[252:256], strconv.Itoa(ns)); err != nil {
		return nil, err
	}

	// Channel blocks, column-major.
	ch := b[mainHeaderBytes:]
	for i := range ch {
		ch[i] = ' '
	}
	for i, sig := range all {
		putField(ch[i*16:(i+1)*16], sig.Label)
		putField(ch[ns*16+i*80:ns*16+(i+1)*80], sig.Transducer)
		putField(ch[ns*96+i*8:ns*96+(i+1)*8], sig.PhysicalDimension)
		if err := putNumField(ch[ns*104+i*8:ns*104+(i+1)*8], strconv.FormatFloat(sig.PhysicalMin, 'f', -1, 64)); err != nil {
			return nil, err
		}
		if err := putNumField(ch[ns*112+i*8:ns*112+(i+1)*8], strconv.FormatFloat(sig.PhysicalMax, 'f', -1, 64)); err != nil {
			return nil, err
		}
		if err := putNumField(ch[ns*120+i*8:ns*120+(i+1)*8], strconv.Itoa(sig.DigitalMin)); err != nil {
			return nil, err
		}
		if err := putNumField(ch[ns*128+i*8:ns*128+(i+1)*8], strconv.Itoa(sig.DigitalMax)); err != nil {
			return nil, err
		}
		putField(ch[ns*136+i*80:ns*136+(i+1)*80], sig.Prefilter)
		if err := putNumField(ch[ns*216+i*8:ns*216+(i+1)*8], strconv.Itoa(sig.SamplesPerRecord)); err != nil {
			return nil, err
		}
		// ns*224..ns*256 is reserved and stays blank.
	}

	return b, nil
}

// decodeHeader strictly decodes a complete header buffer. It rejects
// anything that is not a finalized EDF+ file: non-numeric content in numeric
// fields, a missing format marker, a header byte count that disagrees with
// the channel count, and a negative record count.
func decodeHeader(b []byte) (*Header, []channelInfo, error) {
	if len(b) < mainHeaderBytes {
		return nil, nil, fmt.Errorf("%w: header shorter than %d bytes", ErrFormat, mainHeaderBytes)
	}
	main := b[:mainHeaderBytes]

	version := strings.TrimSpace(string(main[0:8]))
	if version != string(Version0) {
		return nil, nil, fmt.Errorf("%w: unsupported version %q", ErrFormat, version)
	}

	nsField, err := parseIntField(main[252:256])
	if err != nil {
		return nil, nil, err
	}
	ns := int(nsField)
	if ns < 1 || ns > MaxSignals {
		return nil, nil, fmt.Errorf("%w: invalid channel count %d", ErrFormat, ns)
	}

	headerBytes, err := parseIntField(main[184:192])
	if err != nil {
		return nil, nil, err
	}
	if int(headerBytes) != mainHeaderBytes+ns*channelHeaderBytes {
		return nil, nil, fmt.Errorf("%w: header byte count %d disagrees with %d channels",
			ErrFormat, headerBytes, ns)
	}
	if len(b) != int(headerBytes) {
		return nil, nil, fmt.Errorf("%w: expected %d header bytes, got %d", ErrFormat, headerBytes, len(b))
	}

	if !strings.HasPrefix(string(main[192:236]), formatMarker) {
		return nil, nil, fmt.Errorf("%w: missing %s marker, legacy EDF is not supported",
			ErrFormat, formatMarker)
	}

	hdr := &Header{
		Version:     Version(version),
		HeaderBytes: int(headerBytes),
	}

	// EDF+ packs its subfields into the patient and recording fields,
	// separated by spaces.
	patient := strings.Fields(string(main[8:88]))
	for i, dst := range []*string{&hdr.PatientCode, &hdr.Sex, &hdr.Birthdate, &hdr.PatientName} {
		if i < len(patient) {
			*dst = patient[i]
		}
	}
	if len(patient) > 4 {
		hdr.PatientAdditional = strings.Join(patient[4:], " ")
	}

	recording := strings.Fields(string(main[88:168]))
	if len(recording) < 1 || recording[0] != "Startdate" {
		return nil, nil, fmt.Errorf("%w: recording field does not start with Startdate", ErrFormat)
	}
	for i, dst := range []*string{&hdr.AdminCode, &hdr.Technician, &hdr.Equipment} {
		if i+2 < len(recording) {
			*dst = recording[i+2]
		}
	}
	if len(recording) > 5 {
		hdr.RecordingAdditional = strings.Join(recording[5:], " ")
	}

	if hdr.StartTime, err = parseStartTime(main[168:176], main[176:184]); err != nil {
		return nil, nil, err
	}

	records, err := parseIntField(main[236:244])
	if err != nil {
		return nil, nil, err
	}
	if records < 0 {
		return nil, nil, fmt.Errorf("%w: record count %d, file was never finalized", ErrFormat, records)
	}
	hdr.DataRecords = records

	if hdr.DataRecordDuration, err = parseSeconds(string(main[244:252])); err != nil {
		return nil, nil, err
	}
	if hdr.DataRecordDuration <= 0 {
		return nil, nil, fmt.Errorf("%w: non-positive record duration", ErrFormat)
	}

	// Channel blocks.
	ch := b[mainHeaderBytes:]
	infos := make([]channelInfo, 0, ns)
	byteOffset := 0
	for i := 0; i < ns; i++ {
		sig := SignalParam{
			Label:             strings.TrimSpace(string(ch[i*16 : (i+1)*16])),
			Transducer:        strings.TrimSpace(string(ch[ns*16+i*80 : ns*16+(i+1)*80])),
			PhysicalDimension: strings.TrimSpace(string(ch[ns*96+i*8 : ns*96+(i+1)*8])),
			Prefilter:         strings.TrimSpace(string(ch[ns*136+i*80 : ns*136+(i+1)*80])),
		}
		if sig.PhysicalMin, err = parseFloatField(ch[ns*104+i*8 : ns*104+(i+1)*8]); err != nil {
			return nil, nil, err
		}
		if sig.PhysicalMax, err = parseFloatField(ch[ns*112+i*8 : ns*112+(i+1)*8]); err != nil {
			return nil, nil, err
		}
		dmin, err := parseIntField(ch[ns*120+i*8 : ns*120+(i+1)*8])
		if err != nil {
			return nil, nil, err
		}
		dmax, err := parseIntField(ch[ns*128+i*8 : ns*128+(i+1)*8])
		if err != nil {
			return nil, nil, err
		}
		sig.DigitalMin, sig.DigitalMax = int(dmin), int(dmax)
		spr, err := parseIntField(ch[ns*216+i*8 : ns*216+(i+1)*8])
		if err != nil {
			return nil, nil, err
		}
		sig.SamplesPerRecord = int(spr)
		sig.SamplesInFile = spr * records

		isAnnotation := sig.Label == annotationLabel
		infos = append(infos, channelInfo{
			byteOffset:       byteOffset,
			samplesPerRecord: sig.SamplesPerRecord,
			annotation:       isAnnotation,
		})
		byteOffset += sig.SamplesPerRecord * 2

		if isAnnotation {
			hdr.AnnotationChannels++
		} else {
			if err := sig.Validate(); err != nil {
				return nil, nil, err
			}
			hdr.Signals = append(hdr.Signals, sig)
		}
	}

	return hdr, infos, nil
}

// parseStartTime parses the "dd.mm.yy" and "hh.mm.ss" header fields. Per the
// EDF+ clipping rule, two-digit years above 84 belong to the 20th century.
func parseStartTime(dateField, timeField []byte) (time.Time, error) {
	d := strings.Split(strings.TrimSpace(string(dateField)), ".")
	tm := strings.Split(strings.TrimSpace(string(timeField)), ".")
	if len(d) != 3 || len(tm) != 3 {
		return time.Time{}, fmt.Errorf("%w: malformed start date/time", ErrFormat)
	}

	var parts [6]int64
	for i, s := range []string{d[0], d[1], d[2], tm[0], tm[1], tm[2]} {
		n, err := parseIntField([]byte(s))
		if err != nil {
			return time.Time{}, err
		}
		parts[i] = n
	}

	year := int(parts[2])
	if year > 84 {
		year += 1900
	} else {
		year += 2000
	}

	t := time.Date(year, time.Month(parts[1]), int(parts[0]),
		int(parts[3]), int(parts[4]), int(parts[5]), 0, time.UTC)
	if t.Day() != int(parts[0]) || t.Month() != time.Month(parts[1]) {
		return time.Time{}, fmt.Errorf("%w: invalid start date", ErrFormat)
	}
	return t, nil
}
