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
	"strconv"
	"time"

	log "github.com/sirupsen/logrus"
)

type writerState int

const (
	stateCreated writerState = iota
	stateSignalsDeclared
	stateWriting
	stateFinalized
)

// Writer creates EDF+ files. Records are appended strictly in order; the
// only backward seek is the record count rewrite during Finalize.
//
// The writing workflow is:
//
//  1. Create the writer with Create.
//  2. Set patient/recording metadata and add signals.
//  3. Write one data record at a time with WriteSamples, adding annotations
//     before or interleaved with the records that cover their onset.
//  4. Finalize the file.
//
// A Writer is not safe for concurrent use.
type Writer struct {
	f       *os.File
	path    string
	hdr     Header
	state   writerState
	records int64
	pending []Annotation
}

// Create creates a new EDF+ file at the given path, truncating any existing
// file. The writer starts with anonymized metadata, a start time of
// 1985-01-01 00:00:00 and a data record duration of one second.
func Create(path string) (*Writer, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("error creating file: %w", err)
	}

	return &Writer{
		f:    f,
		path: path,
		hdr: Header{
			Version:             Version0,
			PatientCode:         "X",
			Sex:                 "X",
			Birthdate:           "X",
			PatientName:         "X",
			PatientAdditional:   "X",
			AdminCode:           "X",
			Technician:          "X",
			Equipment:           "X",
			RecordingAdditional: "X",
			StartTime:           time.Date(1985, 1, 1, 0, 0, 0, 0, time.UTC),
			DataRecordDuration:  time.Second,
			DataRecords:         -1,
			AnnotationChannels:  1,
		},
	}, nil
}

// SetPatientInfo sets the patient identification subfields. Use "X" for
// anonymized entries. Only legal before the first record is written.
func (w *Writer) SetPatientInfo(code, sex, birthdate, name string) error {
	if err := w.mutable(); err != nil {
		return err
	}
	w.hdr.PatientCode = code
	w.hdr.Sex = sex
	w.hdr.Birthdate = birthdate
	w.hdr.PatientName = name
	return nil
}

// SetRecordingInfo sets the recording identification subfields. Only legal
// before the first record is written.
func (w *Writer) SetRecordingInfo(adminCode, technician, equipment string) error {
	if err := w.mutable(); err != nil {
		return err
	}
	w.hdr.AdminCode = adminCode
	w.hdr.Technician = technician
	w.hdr.Equipment = equipment
	return nil
}

// SetStartTime sets the start of the recording. The sub-second part is kept
// at 100ns resolution and carried in the timestamp of every data record.
func (w *Writer) SetStartTime(t time.Time) error {
	if err := w.mutable(); err != nil {
		return err
	}
	offset := time.Duration(t.Nanosecond()).Round(timeResolution)
	w.hdr.StartTime = t.Add(-time.Duration(t.Nanosecond()))
	w.hdr.StartTimeOffset = offset
	return nil
}

// SetDataRecordDuration sets the duration covered by each data record.
// Durations must be positive and no longer than one hour.
func (w *Writer) SetDataRecordDuration(d time.Duration) error {
	if err := w.mutable(); err != nil {
		return err
	}
	if d <= 0 || d > time.Hour {
		return fmt.Errorf("%w: record duration %v outside (0s, 1h]", ErrRange, d)
	}
	w.hdr.DataRecordDuration = d.Round(timeResolution)
	return nil
}

// SetAnnotationChannels sets how many annotation channels each record
// carries. This fixes the per-record annotation capacity for the lifetime of
// the file, so allocate for the expected peak load; a record whose
// annotations exceed it fails with ErrCapacity.
func (w *Writer) SetAnnotationChannels(n int) error {
	if err := w.mutable(); err != nil {
		return err
	}
	if n < 1 {
		return fmt.Errorf("%w: at least one annotation channel is required", ErrRange)
	}
	w.hdr.AnnotationChannels = n
	return nil
}

// AddSignal adds a signal definition and returns its index. Signals cannot
// be added once the first record has been written.
func (w *Writer) AddSignal(sig SignalParam) (int, error) {
	if err := w.mutable(); err != nil {
		return 0, err
	}
	if err := sig.Validate(); err != nil {
		return 0, err
	}
	sig.SamplesInFile = 0
	w.hdr.Signals = append(w.hdr.Signals, sig)
	w.state = stateSignalsDeclared
	return len(w.hdr.Signals) - 1, nil
}

// AddAnnotation queues an event marker. The annotation is encoded into the
// data record whose time span contains its onset; annotations whose onset is
// never covered by a written record are discarded at Finalize.
func (w *Writer) AddAnnotation(onset, duration time.Duration, description string) error {
	if w.state == stateFinalized {
		return fmt.Errorf("%w: writer is finalized", ErrState)
	}
	if onset < 0 {
		return fmt.Errorf("%w: annotation onset cannot be negative", ErrRange)
	}
	if description == "" {
		return fmt.Errorf("%w: annotation description cannot be empty", ErrRange)
	}
	if len(description) > MaxAnnotationLen {
		return fmt.Errorf("%w: annotation description longer than %d bytes", ErrRange, MaxAnnotationLen)
	}
	if duration < 0 {
		duration = -1
	} else {
		duration = duration.Round(timeResolution)
	}
	w.pending = append(w.pending, Annotation{
		Onset:       onset.Round(timeResolution),
		Duration:    duration,
		Description: description,
	})
	return nil
}

// WriteSamples appends one data record. It takes exactly one physical sample
// vector per signal, each of the signal's declared per-record length,
// converts them to digital values, drains the pending annotations whose
// onset falls inside the record's time span and appends the assembled record
// in a single write. On error nothing is written.
func (w *Writer) WriteSamples(samples [][]float64) error {
	switch w.state {
	case stateFinalized:
		return fmt.Errorf("%w: writer is finalized", ErrState)
	case stateCreated:
		return fmt.Errorf("%w: no signals declared", ErrState)
	}
	if len(samples) != len(w.hdr.Signals) {
		return fmt.Errorf("%w: expected %d sample vectors, got %d", ErrRange, len(w.hdr.Signals), len(samples))
	}
	for i, sig := range w.hdr.Signals {
		if len(samples[i]) != sig.SamplesPerRecord {
			return fmt.Errorf("%w: signal %d expected %d samples per record, got %d",
				ErrRange, i, sig.SamplesPerRecord, len(samples[i]))
		}
	}

	// Assemble the record before touching the file so a capacity error
	// leaves nothing behind.
	record := make([]byte, 0, w.recordSize())
	for i, sig := range w.hdr.Signals {
		for _, physical := range samples[i] {
			record = binary.LittleEndian.AppendUint16(record, uint16(int16(sig.ToDigital(physical))))
		}
	}

	start := time.Duration(w.records) * w.hdr.DataRecordDuration
	due, rest := w.splitPending(start, start+w.hdr.DataRecordDuration)
	blocks, err := encodeAnnotationBlocks(start+w.hdr.StartTimeOffset, due, w.hdr.AnnotationChannels)
	if err != nil {
		return err
	}
	record = append(record, blocks...)

	if w.state != stateWriting {
		if err := w.writeHeader(); err != nil {
			return err
		}
		w.state = stateWriting
	}

	if _, err := w.f.Write(record); err != nil {
		return fmt.Errorf("error writing data record: %w", err)
	}

	w.pending = rest
	w.records++
	return nil
}

// Finalize rewrites the record count in the header, discards any annotation
// that never fell inside a written record and closes the file. It is the
// only way to produce a readable file; a writer that is dropped without
// finalizing leaves the record count at -1 and readers will reject the file.
func (w *Writer) Finalize() error {
	if w.state == stateFinalized {
		return fmt.Errorf("%w: writer is already finalized", ErrState)
	}
	if len(w.pending) > 0 {
		log.Warnf("discarding %d annotation(s) whose onset was never covered by a written record", len(w.pending))
		w.pending = nil
	}

	w.hdr.DataRecords = w.records
	if w.state != stateWriting {
		// No records were written; emit a header for an empty file.
		if err := w.writeHeader(); err != nil {
			return err
		}
	} else {
		if _, err := w.f.Seek(dataRecordsOffset, io.SeekStart); err != nil {
			return fmt.Errorf("error seeking to record count: %w", err)
		}
		var field [8]byte
		putField(field[:], strconv.FormatInt(w.records, 10))
		if _, err := w.f.Write(field[:]); err != nil {
			return fmt.Errorf("error updating record count: %w", err)
		}
	}
	w.state = stateFinalized

	log.Debugf("finalized %s: %d data records, %d signals", w.path, w.records, len(w.hdr.Signals))
	return w.f.Close()
}

// Close releases the file handle without finalizing. The record count is
// left at -1, so the file is deliberately unreadable; call Finalize instead
// unless the recording is being abandoned.
func (w *Writer) Close() error {
	if w.state == stateFinalized {
		return nil
	}
	w.state = stateFinalized
	return w.f.Close()
}

func (w *Writer) mutable() error {
	switch w.state {
	case stateWriting:
		return fmt.Errorf("%w: records have already been written", ErrState)
	case stateFinalized:
		return fmt.Errorf("%w: writer is finalized", ErrState)
	}
	return nil
}

func (w *Writer) recordSize() int {
	size := 0
	for _, sig := range w.hdr.Signals {
		size += sig.SamplesPerRecord * 2
	}
	return size + w.hdr.AnnotationChannels*annotationBlockBytes
}

// splitPending separates the queued annotations into those whose onset falls
// in [start, end) and the remainder, preserving queue order.
func (w *Writer) splitPending(start, end time.Duration) (due, rest []Annotation) {
	for _, a := range w.pending {
		if a.Onset >= start && a.Onset < end {
			due = append(due, a)
		} else {
			rest = append(rest, a)
		}
	}
	return due, rest
}

func (w *Writer) writeHeader() error {
	b, err := encodeHeader(&w.hdr)
	if err != nil {
		return err
	}
	if _, err := w.f.Seek(0, io.SeekStart); err != nil {
		return fmt.Errorf("error seeking to header: %w", err)
	}
	if _, err := w.f.Write(b); err != nil {
		return fmt.Errorf("error writing header: %w", err)
	}
	return nil
}
