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
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"sort"
	"time"

	log "github.com/sirupsen/logrus"
)

// Reader reads finalized EDF+ files. The header is decoded once at open
// time, and since the format carries no annotation index, every record's
// annotation sub-blocks are decoded once at open time as well and cached for
// the lifetime of the reader. Sample reads are random access: the covering
// record and byte offset are computed from the sample index, so no full-file
// scan is needed.
//
// All state after Open is read-only except the per-signal cursors, so a
// single Reader must not be shared between goroutines without external
// synchronization; independent Readers over the same file are safe.
type Reader struct {
	f           *os.File
	hdr         *Header
	channels    []channelInfo
	signalCh    []int // per-signal index into channels
	recordSize  int
	positions   []int64 // per-signal cursor, in samples
	annotations []Annotation
}

// Open opens an EDF+ file for reading and performs the one-time header
// decode and annotation scan.
func Open(path string) (*Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("error opening file: %w", err)
	}

	r, err := newReader(f)
	if err != nil {
		f.Close()
		return nil, err
	}
	return r, nil
}

func newReader(f *os.File) (*Reader, error) {
	main := make([]byte, mainHeaderBytes)
	if _, err := io.ReadFull(f, main); err != nil {
		return nil, fmt.Errorf("%w: error reading header: %v", ErrFormat, err)
	}
	ns, err := parseIntField(main[252:256])
	if err != nil {
		return nil, err
	}
	if ns < 1 || ns > MaxSignals {
		return nil, fmt.Errorf("%w: invalid channel count %d", ErrFormat, ns)
	}

	full := make([]byte, mainHeaderBytes+int(ns)*channelHeaderBytes)
	copy(full, main)
	if _, err := io.ReadFull(f, full[mainHeaderBytes:]); err != nil {
		return nil, fmt.Errorf("%w: error reading channel headers: %v", ErrFormat, err)
	}

	hdr, channels, err := decodeHeader(full)
	if err != nil {
		return nil, err
	}

	r := &Reader{
		f:         f,
		hdr:       hdr,
		channels:  channels,
		positions: make([]int64, len(hdr.Signals)),
	}
	for i, ch := range channels {
		r.recordSize += ch.samplesPerRecord * 2
		if !ch.annotation {
			r.signalCh = append(r.signalCh, i)
		}
	}

	if err := r.scanAnnotations(); err != nil {
		return nil, err
	}

	log.Debugf("opened %s: %d signals, %d data records, %d annotations",
		f.Name(), len(hdr.Signals), hdr.DataRecords, len(r.annotations))
	return r, nil
}

// Close releases the underlying file handle.
func (r *Reader) Close() error {
	return r.f.Close()
}

// Header returns a snapshot of the file header.
func (r *Reader) Header() Header {
	hdr := *r.hdr
	hdr.Signals = append([]SignalParam(nil), r.hdr.Signals...)
	return hdr
}

// Annotations returns every annotation in the file, onset-ascending.
func (r *Reader) Annotations() []Annotation {
	return r.annotations
}

// ReadPhysicalSamples reads count samples from the signal's current cursor
// position and converts them to physical values.
func (r *Reader) ReadPhysicalSamples(signal int, count int) ([]float64, error) {
	digital, err := r.ReadDigitalSamples(signal, count)
	if err != nil {
		return nil, err
	}
	sig := &r.hdr.Signals[signal]
	physical := make([]float64, len(digital))
	for i, d := range digital {
		physical[i] = sig.ToPhysical(d)
	}
	return physical, nil
}

// ReadDigitalSamples reads count raw digital samples from the signal's
// current cursor position and advances the cursor. Requests that extend past
// the end of the recorded samples fail with ErrRange; they are never
// silently clamped.
func (r *Reader) ReadDigitalSamples(signal int, count int) ([]int, error) {
	if signal < 0 || signal >= len(r.hdr.Signals) {
		return nil, fmt.Errorf("%w: signal index %d", ErrRange, signal)
	}
	if count < 0 {
		return nil, fmt.Errorf("%w: negative sample count", ErrRange)
	}
	sig := &r.hdr.Signals[signal]
	pos := r.positions[signal]
	if pos+int64(count) > sig.SamplesInFile {
		return nil, fmt.Errorf("%w: %d samples requested at position %d, only %d in file",
			ErrRange, count, pos, sig.SamplesInFile)
	}

	ch := r.channels[r.signalCh[signal]]
	spr := int64(ch.samplesPerRecord)
	samples := make([]int, 0, count)
	buf := make([]byte, 2*ch.samplesPerRecord)

	for len(samples) < count {
		recordIndex := pos / spr
		sampleInRecord := pos % spr

		n := int64(count-len(samples))
		if remaining := spr - sampleInRecord; n > remaining {
			n = remaining
		}

		fileOffset := int64(r.hdr.HeaderBytes) +
			recordIndex*int64(r.recordSize) +
			int64(ch.byteOffset) +
			sampleInRecord*2
		if _, err := r.f.ReadAt(buf[:n*2], fileOffset); err != nil {
			return nil, fmt.Errorf("error reading sample data: %w", err)
		}

		for i := int64(0); i < n; i++ {
			digital := int(int16(binary.LittleEndian.Uint16(buf[i*2:])))
			if digital < sig.DigitalMin {
				digital = sig.DigitalMin
			} else if digital > sig.DigitalMax {
				digital = sig.DigitalMax
			}
			samples = append(samples, digital)
		}
		pos += n
	}

	r.positions[signal] = pos
	return samples, nil
}

// Seek sets the signal's cursor to the given sample position, clamped to the
// valid range, and returns the resulting position.
func (r *Reader) Seek(signal int, position int64) (int64, error) {
	if signal < 0 || signal >= len(r.hdr.Signals) {
		return 0, fmt.Errorf("%w: signal index %d", ErrRange, signal)
	}
	if position < 0 {
		position = 0
	}
	if max := r.hdr.Signals[signal].SamplesInFile; position > max {
		position = max
	}
	r.positions[signal] = position
	return position, nil
}

// Tell returns the signal's current sample position.
func (r *Reader) Tell(signal int) (int64, error) {
	if signal < 0 || signal >= len(r.hdr.Signals) {
		return 0, fmt.Errorf("%w: signal index %d", ErrRange, signal)
	}
	return r.positions[signal], nil
}

// Rewind resets the signal's cursor to the start of the file.
func (r *Reader) Rewind(signal int) error {
	_, err := r.Seek(signal, 0)
	return err
}

// scanAnnotations decodes the annotation sub-blocks of every data record.
// This is the only full-file pass the reader performs. The timestamp TAL
// that opens each record is used to recover the sub-second start time from
// record zero and is otherwise dropped.
func (r *Reader) scanAnnotations() error {
	block := make([]byte, annotationBlockBytes)
	for record := int64(0); record < r.hdr.DataRecords; record++ {
		recordStart := time.Duration(record) * r.hdr.DataRecordDuration
		first := true
		for _, ch := range r.channels {
			if !ch.annotation {
				continue
			}
			if n := ch.samplesPerRecord * 2; n > len(block) {
				block = make([]byte, n)
			}
			offset := int64(r.hdr.HeaderBytes) + record*int64(r.recordSize) + int64(ch.byteOffset)
			if _, err := r.f.ReadAt(block[:ch.samplesPerRecord*2], offset); err != nil {
				return fmt.Errorf("error reading annotation block: %w", err)
			}
			anns, err := decodeTALBlock(block[:ch.samplesPerRecord*2])
			if err != nil {
				return err
			}
			for _, a := range anns {
				if a.Description == "" && a.Duration < 0 {
					// Record-keeping timestamp TAL.
					if record == 0 && first {
						r.hdr.StartTimeOffset = a.Onset - recordStart
						first = false
					}
					continue
				}
				r.annotations = append(r.annotations, a)
			}
		}
		log.Tracef("scanned annotation blocks of record %d", record)
	}

	sort.SliceStable(r.annotations, func(i, j int) bool {
		return r.annotations[i].Onset < r.annotations[j].Onset
	})
	return nil
}
