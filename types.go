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
	"math"
	"time"
)

type Version string

const (
	// Version0 represents the version of the EDF/EDF+ standard.
	Version0 Version = "0"
)

const (
	// MaxSignals is the largest number of signals a single file may declare.
	MaxSignals = 4096

	// MaxAnnotationLen is the longest description accepted by AddAnnotation.
	// Descriptions are additionally truncated to 40 characters when encoded.
	MaxAnnotationLen = 512

	// timeResolution is the resolution of all on-disk timestamps (100ns).
	timeResolution = 100 * time.Nanosecond
)

// Header represents the EDF+ file header.
type Header struct {
	Version             Version       // Version of the EDF/EDF+ standard (usually "0")
	PatientCode         string        // Patient identification code
	Sex                 string        // "M", "F", or "X" if anonymized
	Birthdate           string        // Birth date in DD-MMM-YYYY format or "X"
	PatientName         string        // Patient name or "X"
	PatientAdditional   string        // Free text in the patient field
	AdminCode           string        // Administration code of the recording
	Technician          string        // Technician identification
	Equipment           string        // Equipment identification
	RecordingAdditional string        // Free text in the recording field
	StartTime           time.Time     // Start of the recording, to whole seconds
	StartTimeOffset     time.Duration // Sub-second part of the start time
	HeaderBytes         int           // Number of bytes in the header
	DataRecordDuration  time.Duration // Duration of a single data record
	DataRecords         int64         // Number of data records, -1 until finalized
	AnnotationChannels  int           // Number of "EDF Annotations" channels
	Signals             []SignalParam // Details of each signal
}

// SignalParam represents the characteristics of one signal in the file.
type SignalParam struct {
	Label             string  // Label of the signal (e.g., EEG Fpz-Cz)
	Transducer        string  // Type of transducer used
	PhysicalDimension string  // Physical dimension (e.g., uV, mV)
	PhysicalMin       float64 // Minimum physical value
	PhysicalMax       float64 // Maximum physical value
	DigitalMin        int     // Minimum digital value
	DigitalMax        int     // Maximum digital value
	Prefilter         string  // Pre-filtering information
	SamplesPerRecord  int     // Number of samples in each data record
	SamplesInFile     int64   // Total samples in the file, known after finalize
}

// Validate checks the calibration parameters. Signals that fail validation
// are rejected before any conversion takes place.
func (s *SignalParam) Validate() error {
	if !(s.PhysicalMin < s.PhysicalMax) {
		return fmt.Errorf("%w: physical min %v must be less than physical max %v",
			ErrFormat, s.PhysicalMin, s.PhysicalMax)
	}
	if s.DigitalMin >= s.DigitalMax {
		return fmt.Errorf("%w: digital min %d must be less than digital max %d",
			ErrFormat, s.DigitalMin, s.DigitalMax)
	}
	if s.DigitalMin < math.MinInt16 || s.DigitalMax > math.MaxInt16 {
		return fmt.Errorf("%w: digital range [%d, %d] exceeds 16-bit signed range",
			ErrFormat, s.DigitalMin, s.DigitalMax)
	}
	if s.SamplesPerRecord <= 0 {
		return fmt.Errorf("%w: samples per record must be positive, got %d",
			ErrFormat, s.SamplesPerRecord)
	}
	return nil
}

// bitValue is the physical size of one digital quantization step.
func (s *SignalParam) bitValue() float64 {
	return (s.PhysicalMax - s.PhysicalMin) / float64(s.DigitalMax-s.DigitalMin)
}

func (s *SignalParam) offset() float64 {
	return float64(s.DigitalMax) - s.PhysicalMax/s.bitValue()
}

// ToPhysical converts a stored digital value to its physical value using the
// signal's calibration factors.
func (s *SignalParam) ToPhysical(digital int) float64 {
	return (float64(digital) - s.offset()) * s.bitValue()
}

// ToDigital converts a physical value to the digital value that will be
// stored, rounding half away from zero and clamping to the digital range.
func (s *SignalParam) ToDigital(physical float64) int {
	digital := int(math.Round(physical/s.bitValue() + s.offset()))
	if digital < s.DigitalMin {
		return s.DigitalMin
	}
	if digital > s.DigitalMax {
		return s.DigitalMax
	}
	return digital
}

// Annotation is a timestamped event marker embedded in the file.
type Annotation struct {
	Onset       time.Duration // Time since the start of the recording
	Duration    time.Duration // Negative when the event is instantaneous
	Description string        // UTF-8 text, truncated to 40 characters on disk
}
