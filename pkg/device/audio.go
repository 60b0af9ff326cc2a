// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

package device

import "sync"

// AudioStatus is the snapshot AUDIO_STATUS reports.
type AudioStatus struct {
	SpeakerOn bool
	Volume    uint8
	Playing   bool
}

// Audio is the PC-speaker + AC'97-mixer surface behind the
// BEEP/SPEAKER_*/AUDIO_* syscalls.
type Audio interface {
	Beep(freqHz, durMS uint32)
	SpeakerStart(freqHz uint32)
	SpeakerStop()
	Write(samples []byte) (int, error)
	SetVolume(v uint8) error
	GetVolume() uint8
	Status() AudioStatus
}

// MemAudio is an in-process stand-in for the PC speaker and AC'97
// mixer: it records what was asked of it rather than driving a DAC.
type MemAudio struct {
	mu        sync.Mutex
	speakerOn bool
	volume    uint8
	written   int
	beeps     int
}

// NewMemAudio creates a MemAudio at full volume, speaker off.
func NewMemAudio() *MemAudio {
	return &MemAudio{volume: 100}
}

func (a *MemAudio) Beep(freqHz, durMS uint32) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.beeps++
}

func (a *MemAudio) SpeakerStart(freqHz uint32) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.speakerOn = true
}

func (a *MemAudio) SpeakerStop() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.speakerOn = false
}

func (a *MemAudio) Write(samples []byte) (int, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.written += len(samples)
	return len(samples), nil
}

func (a *MemAudio) SetVolume(v uint8) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if v > 100 {
		v = 100
	}
	a.volume = v
	return nil
}

func (a *MemAudio) GetVolume() uint8 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.volume
}

func (a *MemAudio) Status() AudioStatus {
	a.mu.Lock()
	defer a.mu.Unlock()
	return AudioStatus{SpeakerOn: a.speakerOn, Volume: a.volume, Playing: a.written > 0}
}

// BeepCount reports how many BEEP calls have landed, for tests.
func (a *MemAudio) BeepCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.beeps
}
