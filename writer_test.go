// SPDX-License-Identifier: MPL-2.0
/*
 * Copyright (C) 2024 Damian Peckett <damian@pecke.tt>.
 *
 * This Source Code Form is subject to the terms of the Mozilla Public
 * License, v. 2.0. If a copy of the MPL was not distributed with this
 * file, You can obtain one at http://mozilla.org/MPL/2.0/.
 */

package edfplus_test

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/OpenPSG/edfplus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testSignal() edfplus.SignalParam {
	return edfplus.SignalParam{
		Label:             "EEG Fpz-Cz",
		Transducer:        "AgAgCl electrode",
		PhysicalDimension: "uV",
		PhysicalMin:       -500,
		PhysicalMax:       500,
		DigitalMin:        -2048,
		DigitalMax:        2047,
		SamplesPerRecord:  256,
	}
}

func TestWriterStateMachine(t *testing.T) {
	w, err := edfplus.Create(filepath.Join(t.TempDir(), "test.edf"))
	require.NoError(t, err)

	require.NoError(t, w.SetPatientInfo("P001", "M", "01-JAN-1990", "Test_Patient"))
	require.NoError(t, w.SetRecordingInfo("ADM1", "TECH1", "PSG-2000"))
	require.NoError(t, w.SetDataRecordDuration(time.Second))

	_, err = w.AddSignal(testSignal())
	require.NoError(t, err)

	require.NoError(t, w.WriteSamples([][]float64{make([]float64, 256)}))

	// Header state is frozen once the first record is out.
	_, err = w.AddSignal(testSignal())
	require.ErrorIs(t, err, edfplus.ErrState)
	require.ErrorIs(t, w.SetPatientInfo("P002", "F", "X", "X"), edfplus.ErrState)
	require.ErrorIs(t, w.SetDataRecordDuration(2*time.Second), edfplus.ErrState)
	require.ErrorIs(t, w.SetAnnotationChannels(2), edfplus.ErrState)

	// Annotations stay legal while writing.
	require.NoError(t, w.AddAnnotation(500*time.Millisecond, -1, "mid-recording event"))

	require.NoError(t, w.Finalize())

	require.ErrorIs(t, w.WriteSamples([][]float64{make([]float64, 256)}), edfplus.ErrState)
	require.ErrorIs(t, w.AddAnnotation(time.Second, -1, "too late"), edfplus.ErrState)
	require.ErrorIs(t, w.Finalize(), edfplus.ErrState)
}

func TestWriterRejectsMismatchedVectors(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.edf")
	w, err := edfplus.Create(path)
	require.NoError(t, err)

	_, err = w.AddSignal(testSignal())
	require.NoError(t, err)

	// Writing before declaring signals is a state error, not a range error.
	empty, err := edfplus.Create(filepath.Join(t.TempDir(), "empty.edf"))
	require.NoError(t, err)
	require.ErrorIs(t, empty.WriteSamples(nil), edfplus.ErrState)
	require.NoError(t, empty.Close())

	// Wrong number of vectors, and wrong vector length.
	require.ErrorIs(t, w.WriteSamples(nil), edfplus.ErrRange)
	require.ErrorIs(t, w.WriteSamples([][]float64{make([]float64, 255)}), edfplus.ErrRange)

	// The failed writes must not have produced any records.
	require.NoError(t, w.Finalize())
	r, err := edfplus.Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, r.Close()) })

	assert.EqualValues(t, 0, r.Header().DataRecords)
	_, err = r.ReadDigitalSamples(0, 1)
	require.ErrorIs(t, err, edfplus.ErrRange)
}

func TestWriterAnnotationCapacity(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.edf")
	w, err := edfplus.Create(path)
	require.NoError(t, err)

	_, err = w.AddSignal(testSignal())
	require.NoError(t, err)

	for i := 0; i < 12; i++ {
		require.NoError(t, w.AddAnnotation(500*time.Millisecond, -1, "annotation with a thirty byte."))
	}

	// A single 120-byte sub-block cannot hold twelve of these; the record
	// write fails outright rather than dropping annotations.
	samples := [][]float64{make([]float64, 256)}
	require.ErrorIs(t, w.WriteSamples(samples), edfplus.ErrCapacity)

	// Nothing was written, so the capacity can still be raised.
	require.NoError(t, w.SetAnnotationChannels(4))
	require.NoError(t, w.WriteSamples(samples))
	require.NoError(t, w.Finalize())

	r, err := edfplus.Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, r.Close()) })

	require.Len(t, r.Annotations(), 12)
}

func TestWriterAnnotationValidation(t *testing.T) {
	w, err := edfplus.Create(filepath.Join(t.TempDir(), "test.edf"))
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, w.Close()) })

	require.ErrorIs(t, w.AddAnnotation(-time.Second, -1, "before the recording"), edfplus.ErrRange)
	require.ErrorIs(t, w.AddAnnotation(time.Second, -1, ""), edfplus.ErrRange)

	long := make([]byte, edfplus.MaxAnnotationLen+1)
	for i := range long {
		long[i] = 'x'
	}
	require.ErrorIs(t, w.AddAnnotation(time.Second, -1, string(long)), edfplus.ErrRange)
}

func TestWriterRejectsInvalidSignals(t *testing.T) {
	w, err := edfplus.Create(filepath.Join(t.TempDir(), "test.edf"))
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, w.Close()) })

	sig := testSignal()
	sig.PhysicalMin, sig.PhysicalMax = 1, 1
	_, err = w.AddSignal(sig)
	require.ErrorIs(t, err, edfplus.ErrFormat)

	sig = testSignal()
	sig.DigitalMin, sig.DigitalMax = -40000, 40000
	_, err = w.AddSignal(sig)
	require.ErrorIs(t, err, edfplus.ErrFormat)
}
