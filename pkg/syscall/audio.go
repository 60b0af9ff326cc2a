// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

package syscall

import (
	"github.com/rohos/kernel/pkg/pagedir"
	"github.com/rohos/kernel/pkg/process"
)

func init() {
	Register(BEEP, handleBeep)
	Register(SPEAKER_START, handleSpeakerStart)
	Register(SPEAKER_STOP, handleSpeakerStop)
	Register(AUDIO_WRITE, handleAudioWrite)
	Register(AUDIO_SET_VOLUME, handleAudioSetVolume)
	Register(AUDIO_GET_VOLUME, handleAudioGetVolume)
	Register(AUDIO_STATUS, handleAudioStatus)
}

func handleBeep(k *Kernel, p *process.Process, args Args) (uint32, bool) {
	k.Audio.Beep(args.A0, args.A1)
	return 0, false
}

func handleSpeakerStart(k *Kernel, p *process.Process, args Args) (uint32, bool) {
	k.Audio.SpeakerStart(args.A0)
	return 0, false
}

func handleSpeakerStop(k *Kernel, p *process.Process, args Args) (uint32, bool) {
	k.Audio.SpeakerStop()
	return 0, false
}

func handleAudioWrite(k *Kernel, p *process.Process, args Args) (uint32, bool) {
	buf, err := readUserBuf(k, p, pagedir.VAddr(args.A0), args.A1)
	if err != nil {
		return ErrVal, false
	}
	n, err := k.Audio.Write(buf)
	if err != nil {
		return ErrVal, false
	}
	return uint32(n), false
}

func handleAudioSetVolume(k *Kernel, p *process.Process, args Args) (uint32, bool) {
	if err := k.Audio.SetVolume(uint8(args.A0)); err != nil {
		return ErrVal, false
	}
	return 0, false
}

func handleAudioGetVolume(k *Kernel, p *process.Process, args Args) (uint32, bool) {
	return uint32(k.Audio.GetVolume()), false
}

// audioStatusSize packs speakerOn, volume, playing as single bytes.
const audioStatusSize = 3

func handleAudioStatus(k *Kernel, p *process.Process, args Args) (uint32, bool) {
	st := k.Audio.Status()
	buf := make([]byte, audioStatusSize)
	if st.SpeakerOn {
		buf[0] = 1
	}
	buf[1] = st.Volume
	if st.Playing {
		buf[2] = 1
	}
	if err := writeUserBuf(k, p, pagedir.VAddr(args.A0), buf); err != nil {
		return ErrVal, false
	}
	return 0, false
}
