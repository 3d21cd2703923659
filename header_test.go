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
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testHeader() Header {
	return Header{
		Version:             Version0,
		PatientCode:         "P001",
		Sex:                 "F",
		Birthdate:           "15-MAR-1990",
		PatientName:         "Jane_Doe",
		PatientAdditional:   "X",
		AdminCode:           "ADM42",
		Technician:          "TECH7",
		Equipment:           "PSG-2000",
		RecordingAdditional: "X",
		StartTime:           time.Date(2024, 3, 15, 10, 30, 0, 0, time.UTC),
		DataRecordDuration:  time.Second,
		DataRecords:         10,
		AnnotationChannels:  1,
		Signals: []SignalParam{
			{
				Label:             "EEG Fpz-Cz",
				Transducer:        "AgAgCl electrode",
				PhysicalDimension: "uV",
				PhysicalMin:       -500,
				PhysicalMax:       500,
				DigitalMin:        -2048,
				DigitalMax:        2047,
				Prefilter:         "HP:0.1Hz",
				SamplesPerRecord:  256,
			},
		},
	}
}

func TestHeaderRoundTrip(t *testing.T) {
	hdr := testHeader()
	b, err := encodeHeader(&hdr)
	require.NoError(t, err)
	require.Len(t, b, 3*256) // main block + signal + annotation channel

	decoded, channels, err := decodeHeader(b)
	require.NoError(t, err)

	expected := testHeader()
	expected.HeaderBytes = 3 * 256
	expected.Signals[0].SamplesInFile = 256 * 10
	require.Equal(t, expected, *decoded)

	require.Len(t, channels, 2)
	assert.Equal(t, channelInfo{byteOffset: 0, samplesPerRecord: 256}, channels[0])
	assert.Equal(t, channelInfo{byteOffset: 512, samplesPerRecord: annotationSamplesPerRecord, annotation: true}, channels[1])
}

func TestHeaderDecodeStrictness(t *testing.T) {
	hdr := testHeader()
	valid, err := encodeHeader(&hdr)
	require.NoError(t, err)

	corrupt := func(offset int, s string) []byte {
		b := append([]byte(nil), valid...)
		copy(b[offset:], s)
		return b
	}

	for name, b := range map[string][]byte{
		"non-numeric record count":  corrupt(236, "ten     "),
		"wrong format marker":       corrupt(192, "BDF+C"),
		"header byte count":         corrupt(184, "512     "),
		"unsupported version":       corrupt(0, "1       "),
		"unfinalized record count":  corrupt(236, "-1      "),
		"non-numeric digital min":   corrupt(256+2*120, "low     "),
		"truncated channel headers": valid[:300],
	} {
		t.Run(name, func(t *testing.T) {
			_, _, err := decodeHeader(b)
			require.ErrorIs(t, err, ErrFormat)
		})
	}
}

func TestHeaderEncodeNumericOverflow(t *testing.T) {
	hdr := testHeader()
	hdr.Signals[0].SamplesPerRecord = 123456789 // nine digits, eight-byte slot

	_, err := encodeHeader(&hdr)
	require.ErrorIs(t, err, ErrFormat)
}

func TestHeaderEncodeTruncatesStrings(t *testing.T) {
	hdr := testHeader()
	hdr.Signals[0].Label = "EEG with a label well over sixteen bytes"

	b, err := encodeHeader(&hdr)
	require.NoError(t, err)

	decoded, _, err := decodeHeader(b)
	require.NoError(t, err)
	assert.Equal(t, strings.TrimSpace(hdr.Signals[0].Label[:16]), decoded.Signals[0].Label)
}

func TestHeaderDateCenturyPivot(t *testing.T) {
	hdr := testHeader()
	hdr.StartTime = time.Date(1985, 1, 1, 0, 0, 0, 0, time.UTC)

	b, err := encodeHeader(&hdr)
	require.NoError(t, err)
	decoded, _, err := decodeHeader(b)
	require.NoError(t, err)
	assert.Equal(t, 1985, decoded.StartTime.Year())
}
